// Package orgs owns the organization record and its pilot lifecycle.
//
// # Overview
//
// An organization is in exactly one plan status:
//
//	pilot  - inside (or past, until next access) a time-bounded trial window
//	active - converted; set only by the external billing process
//	locked - pilot window elapsed without conversion
//
// The only transition performed here is pilot -> locked, and only lazily:
// Locker.LockExpiredPilot runs at the start of every access evaluation.
// The write is conditional ("set locked where status = pilot and the window
// has ended") so concurrent requests for the same org produce a single
// state change.
//
// # Status Resolution
//
// ResolveStatus is a pure function of the record and a single now sample:
//
//	status, err := orgs.ResolveStatus(org, clock.Now())
//	if orgs.IsDataIntegrity(err) {
//		// persisted status is not pilot/active/locked: operator attention needed
//	}
//
// # Stores
//
//   - PostgresStore: production store over the organizations table
//   - MemoryStore: in-process store for development and tests
//
// # Related Packages
//
//   - pkg/gate: access decisions built on Locker and ResolveStatus
//   - pkg/entitlements: per-org quota overrides
package orgs
