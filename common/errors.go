package common

import "errors"

// ErrNotFound is returned when a requested bucket is not present in a store.
var ErrNotFound = errors.New("lobby: requested bucket not found")

// Additional package-level errors
var (
	ErrInvalidRequest = errors.New("lobby: invalid page request")
	ErrUnknownField   = errors.New("lobby: unknown paginated field")
	ErrStoreNotSet    = errors.New("lobby: bucket store not set")
	ErrFetcherNotSet  = errors.New("lobby: page fetcher not set")
	ErrStoreClosed    = errors.New("lobby: bucket store is closed")
	// ErrUpstreamStatus indicates the community API answered with a non-2xx status.
	ErrUpstreamStatus = errors.New("lobby: upstream returned unexpected status")
)

// KeyPrefix is the namespace every fingerprint starts with.
const KeyPrefix = "page"
