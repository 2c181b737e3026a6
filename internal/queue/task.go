package queue

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrInvalidTask     = errors.New("queue: invalid task")
	ErrLockUnavailable = errors.New("queue: lock unavailable")
)

// Task is one inbound message awaiting a reply.
type Task struct {
	Key        string // Lark message_id
	Origin     string // Lark chat_id
	Body       string
	ReceivedAt time.Time
	Resolved   bool
}

func (t Task) validate() error {
	switch {
	case t.Key == "":
		return errors.Join(ErrInvalidTask, errors.New("empty key"))
	case strings.ContainsAny(t.Key, "\r\n"), strings.ContainsAny(t.Origin, "\r\n"):
		return errors.Join(ErrInvalidTask, errors.New("key and origin must be single-line"))
	case strings.TrimSpace(t.Key) != t.Key, strings.TrimSpace(t.Origin) != t.Origin:
		return errors.Join(ErrInvalidTask, errors.New("key and origin must not have surrounding whitespace"))
	}
	return nil
}

// AppendResult reports what AppendIfAbsent did.
type AppendResult int

const (
	Appended AppendResult = iota
	Duplicate
)

func (r AppendResult) String() string {
	if r == Duplicate {
		return "duplicate"
	}
	return "appended"
}

// MarkResult reports what MarkResolved did.
type MarkResult int

const (
	Marked MarkResult = iota
	NotFound
	AlreadyMarked
)

func (r MarkResult) String() string {
	switch r {
	case NotFound:
		return "not_found"
	case AlreadyMarked:
		return "already_marked"
	default:
		return "marked"
	}
}
