// Package entitlements resolves the daily quota limit for an organization
// and metric.
//
// A per-org override stored under the feature key limits_<metric>_per_day
// wins over the static default table. Metrics missing from the table get
// FallbackLimit. Overrides are cached briefly; plan changes are rare and a
// few seconds of staleness is acceptable.
//
//	resolver := entitlements.NewResolver(source, entitlements.WithCacheTTL(5*time.Second))
//	limit, err := resolver.ResolveLimit(ctx, orgID, "bias_runs") // 2 unless overridden
package entitlements
