// Package counter holds the building blocks shared by cached counters.
//
// # Overview
//
// The package exports the types the host persistence layer and the counter
// machinery agree on, plus the storage side of a counter:
//
//   - Row, Fields and Changes describe a committed row and the pre-commit
//     values of the fields that changed.
//   - Schema, Entity and Relation describe the entity types that can be
//     counted and the relations between them.
//   - EventSource, Event and Memo carry commit-time lifecycle events.
//   - KeyDeriver builds cache keys for scope and association counters.
//   - Store runs counter operations against a Backend.
//
// # Keys
//
// Scope counters live under
//
//	<Entity>:<attribute>_count:<version>
//
// and association counters under
//
//	<Entity>:<ownerID>:<attribute>_count:<version>
//
// Every segment is escaped so that ':' inside an owner id cannot collide
// with another key. Keys longer than MaxKeyLength are truncated and suffixed
// with an xxhash digest of the full key.
//
//	keys := counter.NewDefaultKeyDeriver(counter.WithKeyPrefix("app"))
//	keys.ScopeKey("User", "confirmed", 1) // app:User:confirmed_count:1
//
// # Backends
//
// Values are raw integers with a TTL. NewMemoryBackend keeps them in process,
// NewRedisBackend shares them between processes. Middleware wraps either:
//
//	local, _ := counter.WithLocalReads(counter.DefaultLocalReadsConfig())
//	metrics := counter.NewBackendMetrics("app")
//	backend := counter.Chain(counter.NewRedisBackend(client),
//		local,
//		counter.InstrumentBackendMiddleware(counter.BackendRedis, metrics),
//	)
//	store := counter.NewStore(backend)
//
// Increments and decrements only apply to keys that already exist, so an
// expired counter is recomputed on the next read instead of being
// resurrected with a partial value.
package counter
