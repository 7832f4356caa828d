// Package usage counts quota-gated actions per organization, metric and day.
//
// Every Store implements a reserve-or-reject increment: the counter is
// incremented only if the new value stays within the supplied limit, and
// the check and the write happen as one atomic step in the backing store.
// Concurrent callers therefore never push a counter past its limit.
//
//	key := usage.Key{OrgID: orgID, Metric: "ai_shortlist", Day: usage.DayOf(now, time.UTC)}
//	res, err := store.TryIncrement(ctx, key, 3)
//	if err != nil {
//		// usage.ErrStoreUnavailable: deny the action
//	}
//	if !res.Accepted {
//		// quota exhausted for today, res.Count is the current usage
//	}
//
// Backends:
//
//   - RedisStore: Lua script, keys expire after the retention window
//   - PostgresStore: conditional upsert on usage_counters
//   - SQLiteStore: same upsert for single-node deployments
//   - MemoryStore: mutex-guarded map for tests and development
package usage
