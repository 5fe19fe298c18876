// Package countercache keeps cached aggregate counters consistent with the
// rows they count.
//
// # Overview
//
// A counter is declared once, at setup time, on an entity type of a
// counter.Schema. Two kinds exist:
//
//   - Scope counters count the rows of one entity type matching a named scope
//     (CachesCountWhere).
//   - Association counters count, per owner, the related rows of a has-many
//     relation, either direct or through a chain of join entities
//     (CachesCountOf).
//
// Values live in a counter.Store as raw integers with a TTL. Reads are
// read-through: a miss computes the value with the count query and writes it
// back. Row lifecycle events delivered by the host through a
// counter.EventSource increment or decrement the cached value, but only when
// the key is already present, so a partial update never resurrects an expired
// counter.
//
// # Basic Usage
//
//	schema, _ := counter.NewSchema(userEntity, departmentEntity)
//	store := counter.NewStore(counter.NewMemoryBackend(nil))
//	registry, _ := countercache.New(schema, store, db)
//
//	confirmed, _ := registry.CachesCountWhere("User", "confirmed",
//		countercache.WithIf(isConfirmed),
//	)
//	n, err := confirmed.Count(ctx)
//
//	users, _ := registry.CachesCountOf("Department", "users",
//		countercache.WithIf(isConfirmed),
//		countercache.WithAssociationQuery(countConfirmedUsers),
//	)
//	n, err = users.CountFor(ctx, departmentID)
//
// # Cache Misses
//
// On a miss the race fallback (zero by default) is stored with a short TTL
// using set-if-absent before the count query runs. Readers arriving while the
// query is in flight read the interim value instead of running the query
// again. Readers in the same process that miss before the interim value lands
// share one computation.
//
// # Consistency
//
// Hooks run after commit. Eligibility of a destroyed row is captured before
// the row is removed and applied after commit. Drift caused by racing writers
// and expiry is corrected by the next recompute.
package countercache
