package di

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/goliatone/go-cached-counts/counter"
	"github.com/goliatone/go-cached-counts/countercache"
	"github.com/goliatone/go-cached-counts/pkg/testsupport"
)

func isPublished(row counter.Row) bool {
	v, _ := row.Get("published").(bool)
	return v
}

// blog declares the counters of a small blog: published posts overall and
// published posts per author.
type blog struct {
	db        *testsupport.DB
	registry  *countercache.Registry
	published *countercache.Counter
	byAuthor  *countercache.Counter
}

func newBlog(t *testing.T, container *Container, db *testsupport.DB) *blog {
	t.Helper()

	schema, err := counter.NewSchema(
		counter.Entity{
			Name:   "Post",
			Scopes: map[string]counter.Query{"published": db.CountWhere("Post", isPublished)},
			Relations: map[string]counter.Relation{
				"author": {Kind: counter.BelongsTo, Target: "Author", ForeignKey: "author_id"},
			},
		},
		counter.Entity{
			Name: "Author",
			Relations: map[string]counter.Relation{
				"posts": {
					Kind:       counter.HasMany,
					Target:     "Post",
					ForeignKey: "author_id",
					Inverse:    "author",
					Count:      db.CountOwned("Post", "author_id", isPublished),
				},
			},
			Load: db.Load("Author"),
		},
	)
	require.NoError(t, err)

	registry, err := container.NewRegistry(schema, db, countercache.WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)

	b := &blog{db: db, registry: registry}
	b.published, err = registry.CachesCountWhere("Post", "published", countercache.WithIf(isPublished))
	require.NoError(t, err)
	b.byAuthor, err = registry.CachesCountOf("Author", "posts", countercache.WithIf(isPublished))
	require.NoError(t, err)
	return b
}

func (b *blog) assertConsistent(t *testing.T, authors ...string) {
	t.Helper()
	ctx := context.Background()

	got, err := b.published.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, b.db.CountRows("Post", isPublished), got, "published")

	for _, author := range authors {
		got, err := b.byAuthor.CountFor(ctx, author)
		require.NoError(t, err)
		want := b.db.CountRows("Post", func(row counter.Row) bool {
			return row.Get("author_id") == author && isPublished(row)
		})
		assert.Equal(t, want, got, "author %s", author)
	}
}

func TestEndToEndCounterFlow(t *testing.T) {
	backends := map[string]func(t *testing.T) *Container{
		"memory": func(t *testing.T) *Container {
			c, err := NewContainerWithDefaults()
			require.NoError(t, err)
			return c
		},
		"redis": func(t *testing.T) *Container {
			mr := miniredis.RunT(t)
			config := counter.DefaultConfig()
			config.Backend = counter.BackendRedis
			config.Redis.Addr = mr.Addr()
			c, err := NewContainer(config)
			require.NoError(t, err)
			t.Cleanup(func() { c.Close() })
			return c
		},
	}

	for name, newContainer := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			db := testsupport.NewDB()
			b := newBlog(t, newContainer(t), db)

			alice, err := db.Create(ctx, "Author", counter.Fields{"name": "alice"})
			require.NoError(t, err)
			bob, err := db.Create(ctx, "Author", counter.Fields{"name": "bob"})
			require.NoError(t, err)

			// populate both counters before any write
			b.assertConsistent(t, alice, bob)

			draft, err := db.Create(ctx, "Post", counter.Fields{"author_id": alice, "published": false})
			require.NoError(t, err)
			post, err := db.Create(ctx, "Post", counter.Fields{"author_id": alice, "published": true})
			require.NoError(t, err)
			b.assertConsistent(t, alice, bob)

			require.NoError(t, db.Update(ctx, "Post", draft, counter.Fields{"published": true}))
			b.assertConsistent(t, alice, bob)

			require.NoError(t, db.Update(ctx, "Post", post, counter.Fields{"author_id": bob}))
			b.assertConsistent(t, alice, bob)

			require.NoError(t, db.Destroy(ctx, "Post", draft))
			b.assertConsistent(t, alice, bob)

			tx := db.Begin()
			_, err = tx.Create("Post", counter.Fields{"author_id": bob, "published": true})
			require.NoError(t, err)
			require.NoError(t, tx.Update("Post", post, counter.Fields{"published": false}))
			require.NoError(t, tx.Commit(ctx))
			b.assertConsistent(t, alice, bob)
		})
	}
}

func TestProcessesShareRedisCounters(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	config := counter.DefaultConfig()
	config.Backend = counter.BackendRedis
	config.Redis.Addr = mr.Addr()

	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		clientA.Close()
		clientB.Close()
	})

	containerA, err := NewContainer(config, WithRedisClient(clientA))
	require.NoError(t, err)
	containerB, err := NewContainer(config, WithRedisClient(clientB))
	require.NoError(t, err)

	db := testsupport.NewDB()
	a := newBlog(t, containerA, db)

	// the second process reads the same source but sees no events
	other := testsupport.NewDB()
	b := newBlog(t, containerB, other)

	_, err = db.Create(ctx, "Post", counter.Fields{"published": true})
	require.NoError(t, err)

	v, err := a.published.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	v, err = b.published.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v, "value cached by the first process")

	_, err = db.Create(ctx, "Post", counter.Fields{"published": true})
	require.NoError(t, err)

	v, err = b.published.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v, "increment made by the first process")
}

func TestTTLExpiryIntegration(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()

	config := counter.DefaultConfig()
	config.TTL = time.Minute
	config.RaceTTL = time.Second

	container, err := NewContainer(config, WithClock(clock))
	require.NoError(t, err)

	db := testsupport.NewDB()
	b := newBlog(t, container, db)

	_, err = db.Create(ctx, "Post", counter.Fields{"published": true})
	require.NoError(t, err)

	v, err := b.published.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
	queries := db.Queries()

	clock.Advance(30 * time.Second)
	_, err = b.published.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, queries, db.Queries(), "served from cache")

	clock.Advance(time.Minute)
	_, err = b.published.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, queries+1, db.Queries(), "recomputed after expiry")
}

func TestLocalReadsIntegration(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	config := counter.DefaultConfig()
	config.Backend = counter.BackendRedis
	config.Redis.Addr = mr.Addr()
	local := counter.DefaultLocalReadsConfig()
	local.TTL = time.Minute
	config.LocalReads = &local

	container, err := NewContainer(config)
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	db := testsupport.NewDB()
	b := newBlog(t, container, db)

	_, err = db.Create(ctx, "Post", counter.Fields{"published": true})
	require.NoError(t, err)

	v, err := b.published.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	// writes through this process invalidate the local copy
	_, err = db.Create(ctx, "Post", counter.Fields{"published": true})
	require.NoError(t, err)
	v, err = b.published.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)

	// a write made elsewhere is not seen until the local entry expires
	key, err := b.published.Key()
	require.NoError(t, err)
	require.NoError(t, mr.Set(key, "10"))
	v, err = b.published.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), v)
}

func TestErrorPropagation(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)

	config := counter.DefaultConfig()
	config.Backend = counter.BackendRedis
	config.Redis.Addr = mr.Addr()

	container, err := NewContainer(config)
	require.NoError(t, err)
	t.Cleanup(func() { container.Close() })

	db := testsupport.NewDB()
	b := newBlog(t, container, db)

	mr.SetError("READONLY replica")
	_, err = b.published.Count(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "counter store")

	_, err = db.Create(ctx, "Post", counter.Fields{"published": true})
	assert.Error(t, err, "hook failures reach the caller")
}

func TestRegistryDefaultsFromConfig(t *testing.T) {
	config := counter.DefaultConfig()
	config.TTL = 3 * time.Hour
	config.RaceTTL = 3 * time.Second

	var routed []string
	container, err := NewContainer(config, WithQueryContext(func(ctx context.Context, entity string, run counter.Query) (int64, error) {
		routed = append(routed, entity)
		return run(ctx)
	}))
	require.NoError(t, err)

	b := newBlog(t, container, testsupport.NewDB())

	spec := b.published.Spec()
	assert.Equal(t, 3*time.Hour, spec.TTL)
	assert.Equal(t, 3*time.Second, spec.RaceTTL)

	_, err = b.published.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Post"}, routed)
}

func ExampleContainer_NewRegistry() {
	db := testsupport.NewDB()
	schema, _ := counter.NewSchema(counter.Entity{
		Name:   "Post",
		Scopes: map[string]counter.Query{"published": db.CountWhere("Post", isPublished)},
	})

	container, _ := NewContainerWithDefaults()
	registry, _ := container.NewRegistry(schema, db)
	published, _ := registry.CachesCountWhere("Post", "published", countercache.WithIf(isPublished))

	ctx := context.Background()
	n, _ := published.Count(ctx)
	fmt.Println(n)

	db.Create(ctx, "Post", counter.Fields{"published": true})
	n, _ = published.Count(ctx)
	fmt.Println(n)
	// Output:
	// 0
	// 1
}
