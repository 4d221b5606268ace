package lobby

import (
	"sort"

	"lobby/internal/utils"
)

// Result is the flattened view of every bucket under one fingerprint.
// PageInfo is nil when nothing was merged for the fingerprint yet.
type Result[T any] struct {
	Items    []T       `json:"items"`
	PageInfo *PageInfo `json:"pageInfo"`
}

// entry is one bucket with decoded items.
type entry[T any] struct {
	start int
	items []T
	info  PageInfo
}

// assemble concatenates entries by ascending start offset. Entries must be
// given in merge order: the last one carries the authoritative page-info.
func assemble[T any](entries []entry[T]) Result[T] {
	res := Result[T]{Items: []T{}}
	if len(entries) == 0 {
		return res
	}
	info := entries[len(entries)-1].info

	sorted := make([]entry[T], len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].start < sorted[j].start })
	for _, e := range sorted {
		res.Items = append(res.Items, e.items...)
	}
	res.PageInfo = &info
	return res
}

type stateBucket[T any] struct {
	fingerprint string
	entry       entry[T]
}

// State is an in-process accumulation of buckets for a single field policy.
// The zero value is an empty state. A State is never mutated in place:
// Merge returns a new State and leaves its input untouched.
type State[T any] struct {
	buckets *utils.OrderedMap[string, stateBucket[T]]
}

// Len returns the number of buckets in the state.
func (s State[T]) Len() int {
	if s.buckets == nil {
		return 0
	}
	return s.buckets.Len()
}

// Merge adds the incoming page at the request's (fingerprint, start) key.
// If a bucket already exists at that key, state is returned unchanged.
func Merge[T any](state State[T], items []T, info PageInfo, req PageRequest) State[T] {
	n := req.Normalize()
	fp := Fingerprint(n)
	key := BucketKey(fp, n.Start)
	if state.buckets != nil {
		if _, exists := state.buckets.Get(key); exists {
			return state
		}
	}

	var next *utils.OrderedMap[string, stateBucket[T]]
	if state.buckets == nil {
		next = utils.NewOrderedMap[string, stateBucket[T]]()
	} else {
		next = state.buckets.Clone()
	}
	copied := make([]T, len(items))
	copy(copied, items)
	next.SetIfAbsent(key, stateBucket[T]{
		fingerprint: fp,
		entry:       entry[T]{start: n.Start, items: copied, info: info},
	})
	return State[T]{buckets: next}
}

// Read flattens every bucket of the request's fingerprint. Start and Limit of
// req are ignored. Read never fails: an unknown fingerprint yields an empty
// item list and nil page-info.
func Read[T any](state State[T], req PageRequest) Result[T] {
	if state.buckets == nil {
		return assemble[T](nil)
	}
	fp := Fingerprint(req)
	var entries []entry[T]
	for _, b := range state.buckets.Values() {
		if b.fingerprint == fp {
			entries = append(entries, b.entry)
		}
	}
	return assemble(entries)
}
