// Package bunquery builds counter queries and row loaders on top of bun.
//
// A Source runs every query on the connection returned for the counted
// entity type, so heavy counts can be routed to a replica:
//
//	src := bunquery.New(primary, bunquery.WithConnectionFor(func(entity string) bun.IDB {
//		if entity == "User" {
//			return replica
//		}
//		return nil
//	}))
//	confirmed := src.Scope("User", (*User)(nil), func(q *bun.SelectQuery) *bun.SelectQuery {
//		return q.Where("confirmed = ?", true)
//	})
package bunquery

import (
	"context"
	"database/sql"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"go.uber.org/zap"

	"github.com/goliatone/go-cached-counts/counter"
)

// ConnectionFor returns the connection used for an entity type. A nil result
// falls back to the default connection.
type ConnectionFor func(entity string) bun.IDB

// OwnerCriteria narrows an association count to the rows of one owner.
type OwnerCriteria func(q *bun.SelectQuery, ownerID any) *bun.SelectQuery

// Source builds counter queries against a bun database.
type Source struct {
	db            bun.IDB
	connectionFor ConnectionFor
	logger        *zap.Logger
}

// Option customizes a Source.
type Option func(*Source)

// WithConnectionFor overrides the connection per entity type.
func WithConnectionFor(fn ConnectionFor) Option {
	return func(s *Source) {
		s.connectionFor = fn
	}
}

// WithLogger sets the logger used for query diagnostics.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Source) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Source running queries on db by default.
func New(db bun.IDB, opts ...Option) *Source {
	s := &Source{db: db, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Conn returns the connection used for entity.
func (s *Source) Conn(entity string) bun.IDB {
	if s.connectionFor != nil {
		if db := s.connectionFor(entity); db != nil {
			return db
		}
	}
	return s.db
}

// Scope counts the rows of model matching criteria.
func (s *Source) Scope(entity string, model any, criteria ...repository.SelectCriteria) counter.Query {
	return func(ctx context.Context) (int64, error) {
		q := s.Conn(entity).NewSelect().Model(model)
		for _, c := range criteria {
			q = c(q)
		}
		return s.count(ctx, entity, q)
	}
}

// Association counts the rows of model whose foreignKey column holds the
// owner id and that match criteria.
func (s *Source) Association(entity string, model any, foreignKey string, criteria ...repository.SelectCriteria) counter.AssociationQuery {
	return s.AssociationWhere(entity, model, func(q *bun.SelectQuery, ownerID any) *bun.SelectQuery {
		q = q.Where("? = ?", bun.Ident(foreignKey), ownerID)
		for _, c := range criteria {
			q = c(q)
		}
		return q
	})
}

// AssociationWhere counts the rows of model selected by where for one owner.
// It serves associations that are not a plain foreign key, e.g. a join
// through another table.
func (s *Source) AssociationWhere(entity string, model any, where OwnerCriteria) counter.AssociationQuery {
	return func(ctx context.Context, ownerID any) (int64, error) {
		q := where(s.Conn(entity).NewSelect().Model(model), ownerID)
		return s.count(ctx, entity, q)
	}
}

// Load reads one row of table by its idColumn into counter.Fields. A missing
// row yields a nil Row and no error.
func (s *Source) Load(entity, table, idColumn string) counter.LoadFunc {
	return func(ctx context.Context, id any) (counter.Row, error) {
		row := map[string]any{}
		err := s.Conn(entity).NewSelect().
			Table(table).
			Where("? = ?", bun.Ident(idColumn), id).
			Limit(1).
			Scan(ctx, &row)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, errors.Wrapf(err, "bunquery: load %s %v", entity, id)
		}
		return counter.Fields(row), nil
	}
}

func (s *Source) count(ctx context.Context, entity string, q *bun.SelectQuery) (int64, error) {
	n, err := q.Count(ctx)
	if err != nil {
		return 0, errors.Wrapf(err, "bunquery: count %s", entity)
	}
	s.logger.Debug("counted", zap.String("entity", entity), zap.Int("value", n))
	return int64(n), nil
}
