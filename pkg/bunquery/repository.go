package bunquery

import (
	"context"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-cached-counts/counter"
)

// Countable is the part of a go-repository-bun repository counters use.
type Countable interface {
	Count(ctx context.Context, criteria ...repository.SelectCriteria) (int, error)
}

var _ Countable = (repository.Repository[any])(nil)

// RepositoryScope counts the records of repo matching criteria.
func RepositoryScope(repo Countable, criteria ...repository.SelectCriteria) counter.Query {
	return func(ctx context.Context) (int64, error) {
		n, err := repo.Count(ctx, criteria...)
		if err != nil {
			return 0, errors.Wrap(err, "bunquery: repository count")
		}
		return int64(n), nil
	}
}

// RepositoryAssociation counts the records of repo whose foreignKey column
// holds the owner id and that match criteria.
func RepositoryAssociation(repo Countable, foreignKey string, criteria ...repository.SelectCriteria) counter.AssociationQuery {
	return func(ctx context.Context, ownerID any) (int64, error) {
		owned := append([]repository.SelectCriteria{func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.Where("? = ?", bun.Ident(foreignKey), ownerID)
		}}, criteria...)
		return RepositoryScope(repo, owned...)(ctx)
	}
}
