// Package contextkeys provides centralized context key definitions
//
// All context keys used across the application are defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/platinummonkey/pilotgate/pkg/contextkeys"
//	ctx = contextkeys.WithOrgID(ctx, orgID.String())
//	orgID := contextkeys.GetOrgID(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// OrgIDKey contains the tenant organization ID as a string (UUID)
	// Set by: middleware.TenantContext (pkg/middleware/tenant.go)
	// Required by: gate and quota middleware
	// Type: string
	OrgIDKey Key = "org_id"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: Logger
	// Type: string
	RequestIDKey Key = "request_id"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.RequestID
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"

	// GateDecisionKey contains *gate.Decision
	// Set by: middleware.GateMiddleware
	// Used by: Handlers that render plan badges
	// Type: *gate.Decision
	GateDecisionKey Key = "gate_decision"
)

// WithOrgID adds the tenant organization ID to the context
func WithOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgIDKey, orgID)
}

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithGateDecision adds the access decision to the context
func WithGateDecision(ctx context.Context, decision interface{}) context.Context {
	return context.WithValue(ctx, GateDecisionKey, decision)
}

// GetOrgID retrieves the tenant organization ID from context
func GetOrgID(ctx context.Context) string {
	if orgID, ok := ctx.Value(OrgIDKey).(string); ok {
		return orgID
	}
	return ""
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}
