package grant

import "time"

// TrialGrant records a member's one-time trial eligibility. Once Used is
// set it is never cleared again, even if the member leaves and rejoins
// the guild.
type TrialGrant struct {
	UserID    string     `json:"user_id"`
	StartTime *time.Time `json:"start_time,omitempty"` // nil until the trial has been started
	Used      bool       `json:"used"`
}

// RoleConfig is a reusable template for admin-issued grants: a role and
// its default duration. Deleting a config does not affect grants that
// were already issued from it.
type RoleConfig struct {
	RoleID       string    `json:"role_id"`
	RoleName     string    `json:"role_name"`
	DurationDays int       `json:"duration_days"`
	CreatedAt    time.Time `json:"created_at"`
}

// RoleGrant is one time-boxed assignment of a role to a member. EndTime
// is frozen at creation and never recomputed.
type RoleGrant struct {
	ID           int64     `json:"id"`
	UserID       string    `json:"user_id"`
	RoleID       string    `json:"role_id"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	DurationDays int       `json:"duration_days"`
}

// ActiveAt reports whether the grant is still active at the given time.
// The boundary instant itself counts as expired.
func (g *RoleGrant) ActiveAt(now time.Time) bool {
	return now.Before(g.EndTime)
}
