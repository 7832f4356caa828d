// Package httputil provides HTTP helpers for JSON responses and request
// parsing.
//
// # Response Helpers
//
//	httputil.WriteSuccess(w, decision)
//	httputil.WriteBadRequest(w, "invalid UUID")
//	httputil.WriteDetailedError(w, http.StatusTooManyRequests, "quota_exceeded",
//		"daily limit reached", map[string]interface{}{"limit": 3})
//
// WriteInternalError never echoes the underlying error to the client; log it
// before calling.
//
// # Request Parsing
//
//	orgID, ok := httputil.ParsePathUUIDOrError(w, r, "org_id")
//	if !ok {
//		return // 400 already written
//	}
//	allowed, err := httputil.ParseQueryBool(r, "allowed_when_locked", false)
package httputil
