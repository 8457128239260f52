// Package lifecycle implements the grant lifecycle controller: the
// foreground operations that create, query, and end trials and
// time-boxed role grants. Role mutation always happens on the platform
// before the corresponding store write, so a failed platform call
// leaves the store untouched.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alecgard/rolewarden/internal/grant"
	"github.com/alecgard/rolewarden/internal/metrics"
	"github.com/alecgard/rolewarden/internal/platform"
	"github.com/jackc/pgx/v5"
)

// Store is the persistence surface the controller needs. It exists to
// allow testing without a real database.
type Store interface {
	UpsertTrial(ctx context.Context, t grant.TrialGrant) error
	GetTrial(ctx context.Context, userID string) (*grant.TrialGrant, error)
	DeleteTrial(ctx context.Context, userID string) error
	ListUsedTrials(ctx context.Context) ([]*grant.TrialGrant, error)

	PutRoleConfig(ctx context.Context, rc grant.RoleConfig) error
	GetRoleConfig(ctx context.Context, roleID string) (*grant.RoleConfig, error)
	ListRoleConfigs(ctx context.Context) ([]*grant.RoleConfig, error)
	DeleteRoleConfig(ctx context.Context, roleID string) error

	AddRoleGrant(ctx context.Context, userID, roleID string, durationDays int, start time.Time) (*grant.RoleGrant, error)
	ListRoleGrantsByUser(ctx context.Context, userID string) ([]*grant.RoleGrant, error)
	ListActiveRoleGrants(ctx context.Context, now time.Time) ([]*grant.RoleGrant, error)
}

// Controller coordinates the store and the platform client for all
// foreground grant operations.
type Controller struct {
	store         Store
	platform      platform.Client
	trialRoleID   string
	trialDuration time.Duration
	metrics       *metrics.Metrics
	now           func() time.Time // injectable clock for testing
}

// NewController creates a Controller. trialRoleID and trialDuration are
// the process-wide trial settings; they never change after startup.
func NewController(store Store, pc platform.Client, trialRoleID string, trialDuration time.Duration, m *metrics.Metrics) *Controller {
	return &Controller{
		store:         store,
		platform:      pc,
		trialRoleID:   trialRoleID,
		trialDuration: trialDuration,
		metrics:       m,
		now:           time.Now,
	}
}

// TrialState describes where a member's trial stands.
type TrialState int

const (
	// TrialNotApplied means the member has never started a trial.
	TrialNotApplied TrialState = iota
	// TrialActive means the trial is running.
	TrialActive
	// TrialEnded means the trial has expired.
	TrialEnded
)

func (s TrialState) String() string {
	switch s {
	case TrialActive:
		return "active"
	case TrialEnded:
		return "ended"
	default:
		return "not_applied"
	}
}

// TrialStatus is the result of starting or checking a trial.
type TrialStatus struct {
	State     TrialState
	StartTime time.Time
	EndTime   time.Time
	Remaining time.Duration

	// Revoked is true when an expired trial's role was removed during
	// this check.
	Revoked bool
	// RevokeErr is set when an expired trial's role was held but could
	// not be removed.
	RevokeErr error
}

// StartTrial begins the one-time trial for a member: rejects if the
// trial was ever consumed or is currently running, otherwise grants the
// trial role and records the consumption. The store is only written
// after the platform grant succeeds.
func (c *Controller) StartTrial(ctx context.Context, userID string) (*TrialStatus, error) {
	t, err := c.store.GetTrial(ctx, userID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("loading trial record: %w", err)
	}

	now := c.now()
	if t != nil {
		if t.Used {
			return nil, grant.ErrAlreadyUsed
		}
		if t.StartTime != nil {
			if remaining, expired := grant.Remaining(*t.StartTime, c.trialDuration, now); !expired {
				return nil, fmt.Errorf("%w: %v remaining", grant.ErrAlreadyActive, remaining.Round(time.Second))
			}
		}
	}

	if err := c.platform.GrantRole(ctx, userID, c.trialRoleID); err != nil {
		return nil, fmt.Errorf("granting trial role: %w", err)
	}

	if err := c.store.UpsertTrial(ctx, grant.TrialGrant{UserID: userID, StartTime: &now, Used: true}); err != nil {
		// The role is on but the record write failed; the next sweep
		// converges once the trial duration elapses.
		return nil, fmt.Errorf("recording trial start: %w", err)
	}

	c.metrics.TrialsStartedTotal.Inc()
	slog.Info("trial started", "user_id", userID, "ends_at", now.Add(c.trialDuration))

	return &TrialStatus{
		State:     TrialActive,
		StartTime: now,
		EndTime:   now.Add(c.trialDuration),
		Remaining: c.trialDuration,
	}, nil
}

// CheckTrial reports where a member's trial stands. If the trial has
// expired and the member still holds the trial role, the role is
// removed here rather than waiting for the next sweep. The removal is
// idempotent: live membership is checked before any revoke.
func (c *Controller) CheckTrial(ctx context.Context, userID string) (*TrialStatus, error) {
	t, err := c.store.GetTrial(ctx, userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &TrialStatus{State: TrialNotApplied}, nil
		}
		return nil, fmt.Errorf("loading trial record: %w", err)
	}
	if t.StartTime == nil {
		return &TrialStatus{State: TrialNotApplied}, nil
	}

	start := *t.StartTime
	status := &TrialStatus{
		StartTime: start,
		EndTime:   start.Add(c.trialDuration),
	}

	remaining, expired := grant.Remaining(start, c.trialDuration, c.now())
	if !expired {
		status.State = TrialActive
		status.Remaining = remaining
		return status, nil
	}

	status.State = TrialEnded
	status.Revoked, status.RevokeErr = c.revokeTrialRoleIfHeld(ctx, userID)
	return status, nil
}

// revokeTrialRoleIfHeld removes the trial role from the member if they
// still hold it. Returns whether a removal happened and any failure.
func (c *Controller) revokeTrialRoleIfHeld(ctx context.Context, userID string) (bool, error) {
	member, err := c.platform.ResolveMember(ctx, userID)
	if err != nil {
		if errors.Is(err, grant.ErrNotFound) {
			return false, nil // left the guild; nothing to revoke
		}
		return false, err
	}
	if !member.HasRole(c.trialRoleID) {
		return false, nil
	}

	if ownerID, err := c.platform.GuildOwnerID(ctx); err == nil && ownerID == userID {
		return false, grant.ErrOwnerExempt
	}

	if err := c.platform.RevokeRole(ctx, userID, c.trialRoleID); err != nil {
		return false, err
	}
	c.metrics.TrialRevocationsTotal.WithLabelValues("check").Inc()
	slog.Info("expired trial role removed", "user_id", userID, "via", "check")
	return true, nil
}

// TrialReport is one row of the admin bulk check.
type TrialReport struct {
	UserID    string
	StartTime *time.Time
	State     TrialState
	Remaining time.Duration
}

// TrialStatuses lists every consumed trial with its current state. It
// mutates nothing; pure reporting.
func (c *Controller) TrialStatuses(ctx context.Context) ([]TrialReport, error) {
	trials, err := c.store.ListUsedTrials(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	reports := make([]TrialReport, 0, len(trials))
	for _, t := range trials {
		r := TrialReport{UserID: t.UserID, StartTime: t.StartTime}
		if t.StartTime == nil {
			r.State = TrialNotApplied
		} else if remaining, expired := grant.Remaining(*t.StartTime, c.trialDuration, now); expired {
			r.State = TrialEnded
		} else {
			r.State = TrialActive
			r.Remaining = remaining
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// Summary aggregates one synchronous trial convergence pass.
type Summary struct {
	Checked        int `json:"checked"`
	Expired        int `json:"expired"`
	Removed        int `json:"removed"`
	AlreadyRemoved int `json:"already_removed"`
	Failed         int `json:"failed"`
}

// SweepNow performs the trial convergence step synchronously: every
// consumed trial is checked, and expired ones still holding the trial
// role have it removed. The guild owner, whose roles the platform will
// not let the bot revoke, is counted under AlreadyRemoved rather than
// Failed so the report stays truthful about what remains actionable.
func (c *Controller) SweepNow(ctx context.Context) (*Summary, error) {
	if _, err := c.platform.ResolveRole(ctx, c.trialRoleID); err != nil {
		return nil, fmt.Errorf("resolving trial role: %w", err)
	}

	ownerID, err := c.platform.GuildOwnerID(ctx)
	if err != nil {
		slog.Warn("could not determine guild owner", "error", err)
		ownerID = ""
	}

	trials, err := c.store.ListUsedTrials(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	summary := &Summary{}
	for _, t := range trials {
		if t.StartTime == nil {
			continue
		}
		summary.Checked++

		if _, expired := grant.Remaining(*t.StartTime, c.trialDuration, now); !expired {
			continue
		}
		summary.Expired++

		member, err := c.platform.ResolveMember(ctx, t.UserID)
		if err != nil {
			if t.UserID == ownerID {
				summary.AlreadyRemoved++
			} else {
				slog.Warn("sweep: member unresolvable", "user_id", t.UserID, "error", err)
				summary.Failed++
			}
			continue
		}

		if !member.HasRole(c.trialRoleID) {
			summary.AlreadyRemoved++
			continue
		}

		if t.UserID == ownerID {
			slog.Warn("sweep: guild owner holds expired trial role, cannot revoke", "user_id", t.UserID)
			summary.AlreadyRemoved++
			continue
		}

		if err := c.platform.RevokeRole(ctx, t.UserID, c.trialRoleID); err != nil {
			slog.Error("sweep: revoking trial role failed", "user_id", t.UserID, "error", err)
			summary.Failed++
			continue
		}
		c.metrics.TrialRevocationsTotal.WithLabelValues("sweep_now").Inc()
		slog.Info("expired trial role removed", "user_id", t.UserID, "via", "sweep_now")
		summary.Removed++
	}
	return summary, nil
}

// IssueGrant assigns a role to a member for a fixed number of days. An
// explicit duration, when given, must be positive and overrides the
// role's configured default; without either the request is rejected.
// The store record is only created after the platform grant succeeds.
func (c *Controller) IssueGrant(ctx context.Context, userID, roleID string, days *int) (*grant.RoleGrant, error) {
	var durationDays int
	switch {
	case days != nil:
		if *days <= 0 {
			return nil, fmt.Errorf("%w: duration must be a positive number of days", grant.ErrInvalidArgument)
		}
		durationDays = *days
	default:
		rc, err := c.store.GetRoleConfig(ctx, roleID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, grant.ErrNotConfigured
			}
			return nil, fmt.Errorf("loading role config: %w", err)
		}
		durationDays = rc.DurationDays
	}

	if err := c.platform.GrantRole(ctx, userID, roleID); err != nil {
		return nil, fmt.Errorf("granting role: %w", err)
	}

	g, err := c.store.AddRoleGrant(ctx, userID, roleID, durationDays, c.now())
	if err != nil {
		return nil, fmt.Errorf("recording role grant: %w", err)
	}

	c.metrics.GrantsIssuedTotal.Inc()
	slog.Info("role grant issued",
		"user_id", userID, "role_id", roleID, "days", durationDays, "ends_at", g.EndTime)
	return g, nil
}

// PutRoleConfig creates or replaces a role's default grant duration.
func (c *Controller) PutRoleConfig(ctx context.Context, roleID, roleName string, days int) (*grant.RoleConfig, error) {
	if days <= 0 {
		return nil, fmt.Errorf("%w: duration must be a positive number of days", grant.ErrInvalidArgument)
	}
	rc := grant.RoleConfig{
		RoleID:       roleID,
		RoleName:     roleName,
		DurationDays: days,
		CreatedAt:    c.now(),
	}
	if err := c.store.PutRoleConfig(ctx, rc); err != nil {
		return nil, err
	}
	slog.Info("role config saved", "role_id", roleID, "role_name", roleName, "days", days)
	return &rc, nil
}

// ListRoleConfigs returns all configured role templates.
func (c *Controller) ListRoleConfigs(ctx context.Context) ([]*grant.RoleConfig, error) {
	return c.store.ListRoleConfigs(ctx)
}

// DeleteRoleConfig removes a role template. Outstanding grants issued
// from it keep their frozen end times.
func (c *Controller) DeleteRoleConfig(ctx context.Context, roleID string) error {
	if err := c.store.DeleteRoleConfig(ctx, roleID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: no config for role %s", grant.ErrNotFound, roleID)
		}
		return err
	}
	slog.Info("role config deleted", "role_id", roleID)
	return nil
}

// GrantReport is a role grant with its computed live status.
type GrantReport struct {
	Grant     *grant.RoleGrant
	Active    bool
	Remaining time.Duration
}

// MemberGrants lists a member's grant history with per-grant status.
func (c *Controller) MemberGrants(ctx context.Context, userID string) ([]GrantReport, error) {
	grants, err := c.store.ListRoleGrantsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := c.now()
	reports := make([]GrantReport, 0, len(grants))
	for _, g := range grants {
		remaining, expired := grant.RemainingUntil(g.EndTime, now)
		reports = append(reports, GrantReport{Grant: g, Active: !expired, Remaining: remaining})
	}
	return reports, nil
}

// ActiveGrants lists all unexpired role grants, soonest expiry first.
func (c *Controller) ActiveGrants(ctx context.Context) ([]*grant.RoleGrant, error) {
	return c.store.ListActiveRoleGrants(ctx, c.now())
}

// DeleteTrial erases a member's trial record, restoring eligibility.
// This is a deliberate admin override of the one-trial-ever rule; no
// automated path calls it.
func (c *Controller) DeleteTrial(ctx context.Context, userID string) error {
	if err := c.store.DeleteTrial(ctx, userID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: no trial record for user %s", grant.ErrNotFound, userID)
		}
		return err
	}
	slog.Info("trial record deleted by admin", "user_id", userID)
	return nil
}
