package countercache

import (
	"github.com/goliatone/go-cached-counts/counter"
)

// Action is what a lifecycle transition does to a counter.
type Action int

const (
	NoOp Action = iota
	Increment
	Decrement
)

func (a Action) String() string {
	switch a {
	case Increment:
		return "increment"
	case Decrement:
		return "decrement"
	default:
		return "noop"
	}
}

// Transition maps a committed lifecycle event and the row's membership before
// and after it to an action. wasIn is ignored for creates and isIn for
// destroys.
func Transition(kind counter.EventKind, wasIn, isIn bool) Action {
	switch kind {
	case counter.AfterCreate:
		if isIn {
			return Increment
		}
	case counter.AfterUpdate:
		switch {
		case !wasIn && isIn:
			return Increment
		case wasIn && !isIn:
			return Decrement
		}
	case counter.AfterDestroy:
		if wasIn {
			return Decrement
		}
	}
	return NoOp
}

// matches evaluates p on row; a nil predicate matches every row.
func matches(p counter.Predicate, row counter.Row) bool {
	if p == nil {
		return true
	}
	if row == nil {
		return false
	}
	return p(row)
}

// membership returns whether row counted before and after an update.
func membership(p counter.Predicate, row counter.Row, changes counter.Changes) (wasIn, isIn bool) {
	return matches(p, counter.Overlay(row, changes)), matches(p, row)
}
