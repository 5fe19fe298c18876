package testsupport

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/goliatone/go-cached-counts/counter"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("testsupport: row not found")

// DB is an in-memory stand-in for a host persistence layer. It stores rows as
// field maps, runs one transaction at a time and dispatches lifecycle events
// to subscribers after commit, with BeforeDestroy dispatched inside the
// transaction.
type DB struct {
	mu       sync.RWMutex
	tables   map[string]map[string]counter.Fields
	handlers map[subscription][]counter.Handler

	tx      sync.Mutex
	queries atomic.Int64
}

type subscription struct {
	entity string
	kind   counter.EventKind
}

// NewDB returns an empty database.
func NewDB() *DB {
	return &DB{
		tables:   make(map[string]map[string]counter.Fields),
		handlers: make(map[subscription][]counter.Handler),
	}
}

// OnCommit implements counter.EventSource.
func (db *DB) OnCommit(entity string, kind counter.EventKind, handler counter.Handler) {
	db.mu.Lock()
	defer db.mu.Unlock()
	key := subscription{entity: entity, kind: kind}
	db.handlers[key] = append(db.handlers[key], handler)
}

// Begin starts a transaction. Transactions are serialized: Begin blocks until
// the previous one commits or rolls back.
func (db *DB) Begin() *Tx {
	db.tx.Lock()
	return &Tx{db: db, staged: make(map[string]map[string]counter.Fields)}
}

// Create inserts a row in its own transaction and returns its id.
func (db *DB) Create(ctx context.Context, entity string, fields counter.Fields) (string, error) {
	tx := db.Begin()
	id, err := tx.Create(entity, fields)
	if err != nil {
		tx.Rollback()
		return "", err
	}
	return id, tx.Commit(ctx)
}

// Update changes a row in its own transaction.
func (db *DB) Update(ctx context.Context, entity, id string, set counter.Fields) error {
	tx := db.Begin()
	if err := tx.Update(entity, id, set); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit(ctx)
}

// Destroy deletes a row in its own transaction.
func (db *DB) Destroy(ctx context.Context, entity, id string) error {
	tx := db.Begin()
	if err := tx.Destroy(ctx, entity, id); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit(ctx)
}

// Get returns a copy of a committed row.
func (db *DB) Get(entity, id string) (counter.Fields, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	row, ok := db.tables[entity][id]
	if !ok {
		return nil, false
	}
	return row.Clone(), true
}

// Load returns a counter.LoadFunc reading committed rows of entity. Ids are
// matched by their string form.
func (db *DB) Load(entity string) counter.LoadFunc {
	return func(ctx context.Context, id any) (counter.Row, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, ok := db.Get(entity, idString(id))
		if !ok {
			return nil, nil
		}
		return row, nil
	}
}

// Rows returns copies of the committed rows of entity.
func (db *DB) Rows(entity string) []counter.Fields {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([]counter.Fields, 0, len(db.tables[entity]))
	for _, row := range db.tables[entity] {
		out = append(out, row.Clone())
	}
	return out
}

// CountRows counts the committed rows of entity matching match. It does not
// record a query.
func (db *DB) CountRows(entity string, match func(counter.Row) bool) int64 {
	db.mu.RLock()
	defer db.mu.RUnlock()
	var n int64
	for _, row := range db.tables[entity] {
		if match == nil || match(row) {
			n++
		}
	}
	return n
}

// CountWhere returns a count query over entity.
func (db *DB) CountWhere(entity string, match counter.Predicate) counter.Query {
	return func(ctx context.Context) (int64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		db.queries.Add(1)
		return db.CountRows(entity, match), nil
	}
}

// CountOwned returns an association query counting the rows of entity whose
// foreignKey equals the owner id and that match.
func (db *DB) CountOwned(entity, foreignKey string, match counter.Predicate) counter.AssociationQuery {
	return func(ctx context.Context, ownerID any) (int64, error) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		db.queries.Add(1)
		owner := idString(ownerID)
		return db.CountRows(entity, func(row counter.Row) bool {
			return idString(row.Get(foreignKey)) == owner && (match == nil || match(row))
		}), nil
	}
}

// Queries returns how many count queries ran.
func (db *DB) Queries() int64 {
	return db.queries.Load()
}

func (db *DB) dispatch(ctx context.Context, ev counter.Event) error {
	db.mu.RLock()
	handlers := append([]counter.Handler(nil), db.handlers[subscription{entity: ev.Entity, kind: ev.Kind}]...)
	db.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, ev); err != nil {
			return errors.Wrapf(err, "%s %s", ev.Entity, ev.Kind)
		}
	}
	return nil
}

// Tx stages writes until Commit.
type Tx struct {
	db     *DB
	staged map[string]map[string]counter.Fields
	events []counter.Event
	done   bool
}

// table returns the transaction's view of entity, copying it on first use.
func (tx *Tx) table(entity string) map[string]counter.Fields {
	if t, ok := tx.staged[entity]; ok {
		return t
	}
	tx.db.mu.RLock()
	t := make(map[string]counter.Fields, len(tx.db.tables[entity]))
	for id, row := range tx.db.tables[entity] {
		t[id] = row.Clone()
	}
	tx.db.mu.RUnlock()
	tx.staged[entity] = t
	return t
}

// Create stages an insert. A missing "id" field is filled with a new uuid.
func (tx *Tx) Create(entity string, fields counter.Fields) (string, error) {
	row := fields.Clone()
	id := idString(row["id"])
	if row["id"] == nil {
		id = uuid.NewString()
		row["id"] = id
	}

	t := tx.table(entity)
	if _, exists := t[id]; exists {
		return "", errors.Errorf("testsupport: %s %s already exists", entity, id)
	}
	t[id] = row

	tx.events = append(tx.events, counter.Event{Kind: counter.AfterCreate, Entity: entity, Row: row.Clone()})
	return id, nil
}

// Update stages a change. Only fields whose value differs are recorded as
// changes, with their previous value.
func (tx *Tx) Update(entity, id string, set counter.Fields) error {
	t := tx.table(entity)
	row, ok := t[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "%s %s", entity, id)
	}

	changes := counter.Changes{}
	for field, v := range set {
		if prev := row[field]; prev != v {
			changes[field] = prev
			row[field] = v
		}
	}
	if len(changes) == 0 {
		return nil
	}

	tx.events = append(tx.events, counter.Event{Kind: counter.AfterUpdate, Entity: entity, Row: row.Clone(), Changes: changes})
	return nil
}

// Destroy dispatches BeforeDestroy while the row is still readable, then
// stages the delete.
func (tx *Tx) Destroy(ctx context.Context, entity, id string) error {
	t := tx.table(entity)
	row, ok := t[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "%s %s", entity, id)
	}

	memo := counter.NewMemo()
	if err := tx.db.dispatch(ctx, counter.Event{Kind: counter.BeforeDestroy, Entity: entity, Row: row.Clone(), Memo: memo}); err != nil {
		return err
	}

	delete(t, id)
	tx.events = append(tx.events, counter.Event{Kind: counter.AfterDestroy, Entity: entity, Row: row, Memo: memo})
	return nil
}

// Commit applies the staged writes and then dispatches the after-commit
// events in order. The first handler error is returned; the writes stay
// committed.
func (tx *Tx) Commit(ctx context.Context) error {
	if tx.done {
		return errors.New("testsupport: transaction already finished")
	}
	tx.done = true

	tx.db.mu.Lock()
	for entity, t := range tx.staged {
		tx.db.tables[entity] = t
	}
	tx.db.mu.Unlock()
	tx.db.tx.Unlock()

	for _, ev := range tx.events {
		if err := tx.db.dispatch(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Rollback discards the staged writes. No after-commit event is dispatched.
func (tx *Tx) Rollback() {
	if tx.done {
		return
	}
	tx.done = true
	tx.db.tx.Unlock()
}

func idString(id any) string {
	switch v := id.(type) {
	case nil:
		return ""
	case string:
		return v
	case interface{ String() string }:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}
