// Package middleware provides the HTTP guards in front of tenant routes:
// request IDs, tenant extraction, the access gate and daily quota
// reservation.
//
// # Middleware Ordering
//
// Order matters. Gate and quota guards read the tenant that TenantContext
// places in the context; without it every request is treated as having no
// tenant (gate: unknown and allowed, quota: 403).
//
// REQUIRED ORDERING (outer to inner):
//  1. RequestID - request ID and logger in context
//  2. TenantContext - org ID from {org_id} or X-Org-ID
//  3. GateMiddleware - lazy lock and billing redirect
//  4. QuotaMiddleware.Enforce - per-metric reservation
//
// Example:
//
//	router.Use(middleware.RequestID(logger))
//	router.Use(middleware.TenantContext)
//	router.Handle("/shortlist", httputil.Chain(
//		middleware.GateMiddleware(g, false),
//		quotas.Enforce("ai_shortlist"),
//	)(handler)).Methods(http.MethodPost)
//
// The billing page itself is mounted with GateMiddleware(g, true) so a
// locked tenant can reach it.
//
// Enforcement fails closed: any store error denies with 503.
package middleware
