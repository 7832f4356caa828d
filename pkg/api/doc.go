// Package api exposes the access gate and daily quotas over HTTP.
//
// # Endpoints
//
//	GET  /api/v1/orgs/{org_id}/access?allowed_when_locked=bool  evaluate access (may lock)
//	GET  /api/v1/orgs/{org_id}/status                           status badge, read-only
//	POST /api/v1/orgs/{org_id}/usage/{metric}                   reserve one unit
//	GET  /api/v1/orgs/{org_id}/usage/{metric}                   usage badge, read-only
//	GET  /api/v1/orgs/{org_id}/limits/{metric}                  limit in force
//	POST /api/v1/orgs/{org_id}/activate                         billing activation hook
//	GET  /app/billing                                           reachable while locked
//	GET  <billing path>                                         same page, default /billing
//	POST /app/actions/{metric}                                  gated and quota-limited action
//	GET  /healthz, /readyz, /metrics
//
// /app routes read the tenant from the X-Org-ID header.
//
// # Status Codes
//
// Quota exhaustion is 429 with a quota_exceeded body. Any store failure on
// an enforcing path is 503 and the request is denied. Badge endpoints
// degrade instead of failing. A persisted plan status outside
// pilot/active/locked is 500.
//
// Authentication is expected upstream; the activation hook in particular
// must only be reachable by the billing system.
package api
