package orgs

import (
	"time"
)

const day = 24 * time.Hour

// Status is the resolved view of an organization's plan state
type Status struct {
	PlanStatus PlanStatus `json:"plan_status"`
	PilotEnd   *time.Time `json:"pilot_end,omitempty"`
	// DaysRemaining is only set while the organization is a pilot with an end date
	DaysRemaining *int `json:"days_remaining"`
}

// ResolveStatus computes the plan status of org at now. It performs no I/O
// and reads no clock, so equal inputs always give equal output.
func ResolveStatus(org *Organization, now time.Time) (Status, error) {
	if !org.PlanStatus.Valid() {
		return Status{}, &DataIntegrityError{OrgID: org.ID, Status: string(org.PlanStatus)}
	}

	status := Status{
		PlanStatus: org.PlanStatus,
		PilotEnd:   org.PilotEnd,
	}

	if org.PlanStatus == PlanStatusPilot && org.PilotEnd != nil {
		days := daysUntil(*org.PilotEnd, now)
		status.DaysRemaining = &days
	}

	return status, nil
}

// daysUntil returns max(0, ceil(end-now)) in whole days. end.Sub saturates
// at the maximum Duration for far-future ends, so rounding up must not add
// to remaining.
func daysUntil(end, now time.Time) int {
	remaining := end.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := remaining / day
	if remaining%day != 0 {
		days++
	}
	return int(days)
}
