// Package chat turns a channel's message history into the display sequence
// of an inverted chat list: date markers followed by runs of messages.
package chat

import (
	"time"
)

// DefaultWindow is how far after a group's first message a message may be
// and still join that group.
const DefaultWindow = 30 * time.Minute

// Message is one chat message as served by the API.
type Message struct {
	ID        string    `json:"id"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	// SameUser is set while grouping: the previous message of the same
	// group has the same sender.
	SameUser bool `json:"sameUser"`
}

// Group is a run of messages anchored at the timestamp of its first message.
type Group struct {
	Date     time.Time `json:"date"`
	Messages []Message `json:"messages"`
}

// EntryKind tells a date marker from a message in a flattened transcript.
type EntryKind string

const (
	EntryDate    EntryKind = "date"
	EntryMessage EntryKind = "message"
)

// Entry is one row of the flattened transcript.
type Entry struct {
	Kind    EntryKind `json:"kind"`
	Date    time.Time `json:"date"`
	Message *Message  `json:"message,omitempty"`
}

// GroupMessages groups messages given newest-first (server order) into
// oldest-first groups. A message joins the current group when it is at most
// window after the group's anchor; anything else, including a message that
// is older than the anchor, starts a new group. A window <= 0 means
// DefaultWindow. The input slice is not modified.
func GroupMessages(newestFirst []Message, window time.Duration) []Group {
	if window <= 0 {
		window = DefaultWindow
	}
	var groups []Group
	for i := len(newestFirst) - 1; i >= 0; i-- {
		msg := newestFirst[i]
		msg.SameUser = false

		if n := len(groups); n > 0 {
			cur := &groups[n-1]
			diff := msg.CreatedAt.Sub(cur.Date)
			if diff >= 0 && diff <= window {
				prev := cur.Messages[len(cur.Messages)-1]
				msg.SameUser = prev.SenderID == msg.SenderID
				cur.Messages = append(cur.Messages, msg)
				continue
			}
		}
		groups = append(groups, Group{Date: msg.CreatedAt, Messages: []Message{msg}})
	}
	return groups
}

// Flatten turns oldest-first groups into [date, messages...] runs and
// reverses the whole sequence, so the newest message comes first and every
// date marker follows the messages it heads.
func Flatten(groups []Group) []Entry {
	total := 0
	for _, g := range groups {
		total += len(g.Messages) + 1
	}
	out := make([]Entry, 0, total)
	for gi := range groups {
		g := &groups[gi]
		out = append(out, Entry{Kind: EntryDate, Date: g.Date})
		for mi := range g.Messages {
			m := &g.Messages[mi]
			out = append(out, Entry{Kind: EntryMessage, Date: m.CreatedAt, Message: m})
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// Transcript groups newest-first messages and flattens them for display.
func Transcript(newestFirst []Message, window time.Duration) []Entry {
	return Flatten(GroupMessages(newestFirst, window))
}
