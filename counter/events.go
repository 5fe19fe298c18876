package counter

import (
	"context"

	"github.com/puzpuzpuz/xsync/v3"
)

// EventKind identifies a row lifecycle notification.
type EventKind int

const (
	// AfterCreate fires once the transaction that inserted the row has committed.
	AfterCreate EventKind = iota
	// AfterUpdate fires once the transaction that updated the row has committed.
	AfterUpdate
	// BeforeDestroy fires inside the transaction, while the row is still readable.
	BeforeDestroy
	// AfterDestroy fires once the transaction that deleted the row has committed.
	AfterDestroy
)

func (k EventKind) String() string {
	switch k {
	case AfterCreate:
		return "after_create"
	case AfterUpdate:
		return "after_update"
	case BeforeDestroy:
		return "before_destroy"
	case AfterDestroy:
		return "after_destroy"
	default:
		return "unknown"
	}
}

// Event describes a single row lifecycle notification.
type Event struct {
	Kind   EventKind
	Entity string

	// Row holds the current values. For AfterDestroy it is the last snapshot
	// taken before the row was removed.
	Row Row

	// Changes is only set for AfterUpdate.
	Changes Changes

	// Memo is shared between the BeforeDestroy and AfterDestroy dispatch of the
	// same row within one transaction. It may be nil when the host does not
	// dispatch BeforeDestroy.
	Memo *Memo
}

// Handler reacts to a lifecycle event. Errors are returned to whoever
// dispatched the event.
type Handler func(ctx context.Context, ev Event) error

// EventSource is the subscription surface the host persistence layer exposes.
// Subscriptions are additive: several handlers for the same entity and kind
// all run, in registration order.
type EventSource interface {
	OnCommit(entity string, kind EventKind, handler Handler)
}

// Memo carries values captured before a row is deleted over to the handler that
// runs after commit.
type Memo struct {
	values *xsync.MapOf[string, any]
}

// NewMemo returns an empty memo.
func NewMemo() *Memo {
	return &Memo{values: xsync.NewMapOf[string, any]()}
}

// Put stores value under name.
func (m *Memo) Put(name string, value any) {
	if m == nil {
		return
	}
	m.values.Store(name, value)
}

// Get loads the value stored under name.
func (m *Memo) Get(name string) (any, bool) {
	if m == nil {
		return nil, false
	}
	return m.values.Load(name)
}
