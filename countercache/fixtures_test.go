package countercache_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-cached-counts/counter"
	"github.com/goliatone/go-cached-counts/countercache"
	"github.com/goliatone/go-cached-counts/pkg/testsupport"
)

func isConfirmed(row counter.Row) bool {
	v, _ := row.Get("confirmed").(bool)
	return v
}

func isUnconfirmed(row counter.Row) bool {
	return !isConfirmed(row)
}

// world mirrors a small social graph: universities have departments,
// departments have users, users follow each other through followings.
type world struct {
	db       *testsupport.DB
	backend  counter.Backend
	store    *counter.Store
	registry *countercache.Registry

	confirmed   *countercache.Counter
	unconfirmed *countercache.Counter
	followers   *countercache.Counter
	deptUsers   *countercache.Counter
	univUsers   *countercache.Counter

	university          string
	confirmedUserDept   string
	unconfirmedUserDept string
	confirmedUser       string
	unconfirmedUser     string
	following           string
}

func schemaFor(db *testsupport.DB) (*counter.Schema, error) {
	return counter.NewSchema(
		counter.Entity{
			Name: "User",
			Scopes: map[string]counter.Query{
				"confirmed":   db.CountWhere("User", isConfirmed),
				"unconfirmed": db.CountWhere("User", isUnconfirmed),
			},
			Relations: map[string]counter.Relation{
				"department": {Kind: counter.BelongsTo, Target: "Department", ForeignKey: "department_id"},
				"follower_joins": {
					Kind:       counter.HasMany,
					Target:     "Following",
					ForeignKey: "followee_id",
					Inverse:    "followee",
					Count:      db.CountOwned("Following", "followee_id", nil),
				},
			},
			Load: db.Load("User"),
		},
		counter.Entity{
			Name: "Following",
			Relations: map[string]counter.Relation{
				"followee": {Kind: counter.BelongsTo, Target: "User", ForeignKey: "followee_id"},
				"follower": {Kind: counter.BelongsTo, Target: "User", ForeignKey: "follower_id"},
			},
			Load: db.Load("Following"),
		},
		counter.Entity{
			Name: "Department",
			Relations: map[string]counter.Relation{
				"university": {Kind: counter.BelongsTo, Target: "University", ForeignKey: "university_id"},
				"users":      {Kind: counter.HasMany, Target: "User", ForeignKey: "department_id", Inverse: "department"},
			},
			Load: db.Load("Department"),
		},
		counter.Entity{
			Name: "University",
			Relations: map[string]counter.Relation{
				"departments": {Kind: counter.HasMany, Target: "Department", ForeignKey: "university_id", Inverse: "university"},
				"users":       {Kind: counter.HasMany, Target: "User", Through: "departments"},
			},
			Load: db.Load("University"),
		},
	)
}

// countUniversityUsers counts the confirmed users of every department of a
// university.
func countUniversityUsers(db *testsupport.DB) counter.AssociationQuery {
	return func(ctx context.Context, ownerID any) (int64, error) {
		departments := map[string]bool{}
		for _, d := range db.Rows("Department") {
			if fmt.Sprint(d["university_id"]) == fmt.Sprint(ownerID) {
				departments[fmt.Sprint(d["id"])] = true
			}
		}
		return db.CountRows("User", func(row counter.Row) bool {
			return departments[fmt.Sprint(row.Get("department_id"))] && isConfirmed(row)
		}), nil
	}
}

func newWorld(t *testing.T, opts ...countercache.RegistryOption) *world {
	t.Helper()

	db := testsupport.NewDB()
	schema, err := schemaFor(db)
	require.NoError(t, err)

	backend := counter.NewMemoryBackend(nil)
	store := counter.NewStore(backend)

	registry, err := countercache.New(schema, store, db, opts...)
	require.NoError(t, err)

	w := &world{db: db, backend: backend, store: store, registry: registry}

	w.confirmed, err = registry.CachesCountWhere("User", "confirmed", countercache.WithIf(isConfirmed))
	require.NoError(t, err)

	w.unconfirmed, err = registry.CachesCountWhere("User", "unconfirmed",
		countercache.WithIf(isUnconfirmed),
		countercache.WithAlias("spammer"),
	)
	require.NoError(t, err)

	w.followers, err = registry.CachesCountOf("User", "follower_joins", countercache.WithAlias("followers"))
	require.NoError(t, err)

	w.deptUsers, err = registry.CachesCountOf("Department", "users",
		countercache.WithIf(isConfirmed),
		countercache.WithAssociationQuery(db.CountOwned("User", "department_id", isConfirmed)),
	)
	require.NoError(t, err)

	w.univUsers, err = registry.CachesCountOf("University", "users",
		countercache.WithIf(isConfirmed),
		countercache.WithAssociationQuery(countUniversityUsers(db)),
	)
	require.NoError(t, err)

	return w
}

// seed creates the rows shared by most scenarios.
func (w *world) seed(t *testing.T) {
	t.Helper()

	w.university = w.create(t, "University", counter.Fields{})
	w.confirmedUserDept = w.create(t, "Department", counter.Fields{"university_id": w.university})
	w.unconfirmedUserDept = w.create(t, "Department", counter.Fields{"university_id": w.university})
	w.confirmedUser = w.create(t, "User", counter.Fields{"confirmed": true, "department_id": w.confirmedUserDept})
	w.unconfirmedUser = w.create(t, "User", counter.Fields{"confirmed": false, "department_id": w.unconfirmedUserDept})
	w.following = w.create(t, "Following", counter.Fields{"follower_id": w.unconfirmedUser, "followee_id": w.confirmedUser})
}

func (w *world) create(t *testing.T, entity string, fields counter.Fields) string {
	t.Helper()
	id, err := w.db.Create(context.Background(), entity, fields)
	require.NoError(t, err)
	return id
}

func (w *world) update(t *testing.T, entity, id string, set counter.Fields) {
	t.Helper()
	require.NoError(t, w.db.Update(context.Background(), entity, id, set))
}

func (w *world) destroy(t *testing.T, entity, id string) {
	t.Helper()
	require.NoError(t, w.db.Destroy(context.Background(), entity, id))
}

func count(t *testing.T, c *countercache.Counter) int64 {
	t.Helper()
	v, err := c.Count(context.Background())
	require.NoError(t, err)
	return v
}

func countFor(t *testing.T, c *countercache.Counter, id any) int64 {
	t.Helper()
	v, err := c.CountFor(context.Background(), id)
	require.NoError(t, err)
	return v
}

// change returns by how much read changed across act. read runs once before
// act so the counter is cached when act fires its hooks.
func change(t *testing.T, read func() int64, act func()) int64 {
	t.Helper()
	before := read()
	act()
	return read() - before
}
