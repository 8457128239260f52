// Package reconcile runs the background convergence loop: on a fixed
// period it compares persisted grant state against live guild state and
// removes roles whose grants have expired. It is the only component
// allowed to delete role-grant records.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/alecgard/rolewarden/internal/grant"
	"github.com/alecgard/rolewarden/internal/metrics"
	"github.com/alecgard/rolewarden/internal/platform"
)

// Store is the persistence surface the reconciler needs. It exists to
// allow testing without a real database.
type Store interface {
	ListUsedTrials(ctx context.Context) ([]*grant.TrialGrant, error)
	ListExpiredRoleGrants(ctx context.Context, now time.Time) ([]*grant.RoleGrant, error)
	DeleteRoleGrant(ctx context.Context, id int64) error
}

// Reconciler owns the periodic sweep. Failures are logged, counted, and
// retried on later ticks; nothing is ever raised to a caller.
type Reconciler struct {
	store         Store
	platform      platform.Client
	trialRoleID   string
	trialDuration time.Duration
	interval      time.Duration
	metrics       *metrics.Metrics
	now           func() time.Time // injectable clock for testing

	running atomic.Bool
	done    chan struct{}
}

// New creates a Reconciler that sweeps every interval.
func New(store Store, pc platform.Client, trialRoleID string, trialDuration, interval time.Duration, m *metrics.Metrics) *Reconciler {
	return &Reconciler{
		store:         store,
		platform:      pc,
		trialRoleID:   trialRoleID,
		trialDuration: trialDuration,
		interval:      interval,
		metrics:       m,
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

// Start runs the sweep loop. It blocks until Stop is called or the
// context is cancelled.
func (r *Reconciler) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-ctx.Done():
			return
		case <-r.done:
			return
		}
	}
}

// Stop signals the loop to exit.
func (r *Reconciler) Stop() {
	close(r.done)
}

// RunOnce performs a single sweep. If a previous sweep is still in
// flight the tick is skipped: the store and platform are not designed
// for two sweeps mutating the same records concurrently.
func (r *Reconciler) RunOnce(ctx context.Context) {
	if !r.running.CompareAndSwap(false, true) {
		slog.Warn("previous reconcile run still in progress, skipping tick")
		r.metrics.ReconcileRunsTotal.WithLabelValues("skipped").Inc()
		return
	}
	defer r.running.Store(false)

	start := time.Now()
	r.sweepTrials(ctx)
	r.sweepRoleGrants(ctx)
	r.metrics.ReconcileDuration.Observe(time.Since(start).Seconds())
	r.metrics.ReconcileRunsTotal.WithLabelValues("completed").Inc()
}

// sweepTrials removes the trial role from members whose trial has
// expired. Trial records are never deleted here: consumption is
// permanent, and must survive the member leaving and rejoining.
func (r *Reconciler) sweepTrials(ctx context.Context) {
	if _, err := r.platform.ResolveRole(ctx, r.trialRoleID); err != nil {
		slog.Warn("trial sweep: trial role unresolvable", "role_id", r.trialRoleID, "error", err)
		return
	}

	trials, err := r.store.ListUsedTrials(ctx)
	if err != nil {
		slog.Error("trial sweep: listing trials failed", "error", err)
		return
	}

	ownerID := r.ownerID(ctx)
	now := r.now()
	for _, t := range trials {
		if t.StartTime == nil {
			continue
		}
		if _, expired := grant.Remaining(*t.StartTime, r.trialDuration, now); !expired {
			continue
		}

		member, err := r.platform.ResolveMember(ctx, t.UserID)
		if err != nil {
			if errors.Is(err, grant.ErrNotFound) {
				// Left the guild. The record stays: the trial remains
				// consumed if they ever rejoin.
				slog.Info("trial sweep: member left guild, skipping", "user_id", t.UserID)
			} else {
				slog.Warn("trial sweep: resolving member failed", "user_id", t.UserID, "error", err)
			}
			continue
		}

		if !member.HasRole(r.trialRoleID) {
			continue
		}

		if t.UserID == ownerID {
			slog.Warn("trial sweep: guild owner holds expired trial role, cannot revoke", "user_id", t.UserID)
			continue
		}

		if err := r.platform.RevokeRole(ctx, t.UserID, r.trialRoleID); err != nil {
			slog.Error("trial sweep: revoking trial role failed", "user_id", t.UserID, "error", err)
			continue
		}
		r.metrics.TrialRevocationsTotal.WithLabelValues("sweep").Inc()
		slog.Info("trial sweep: expired trial role removed", "user_id", t.UserID)
	}
}

// sweepRoleGrants converges every expired role grant. A grant record is
// deleted exactly when there is nothing left to revoke: the role was
// removed here, the role or member no longer exists, or the member
// already lost the role some other way. On a failed revoke the record
// is kept so the next tick retries; deleting it there would lose the
// only pointer to an outstanding revocation.
func (r *Reconciler) sweepRoleGrants(ctx context.Context) {
	expired, err := r.store.ListExpiredRoleGrants(ctx, r.now())
	if err != nil {
		slog.Error("grant sweep: listing expired grants failed", "error", err)
		return
	}

	ownerID := r.ownerID(ctx)
	for _, g := range expired {
		r.convergeGrant(ctx, g, ownerID)
	}
}

func (r *Reconciler) convergeGrant(ctx context.Context, g *grant.RoleGrant, ownerID string) {
	log := slog.With("grant_id", g.ID, "user_id", g.UserID, "role_id", g.RoleID)

	if _, err := r.platform.ResolveRole(ctx, g.RoleID); err != nil {
		if errors.Is(err, grant.ErrNotFound) {
			r.deleteGrant(ctx, g, "deleted_role_missing", log, "role no longer exists")
		} else {
			log.Warn("grant sweep: resolving role failed", "error", err)
		}
		return
	}

	member, err := r.platform.ResolveMember(ctx, g.UserID)
	if err != nil {
		if errors.Is(err, grant.ErrNotFound) {
			r.deleteGrant(ctx, g, "deleted_member_left", log, "member left guild")
		} else {
			log.Warn("grant sweep: resolving member failed", "error", err)
		}
		return
	}

	if !member.HasRole(g.RoleID) {
		r.deleteGrant(ctx, g, "deleted_converged", log, "member no longer holds role")
		return
	}

	if g.UserID == ownerID {
		// The platform never lets the bot strip the guild owner;
		// retrying forever cannot succeed.
		log.Warn("grant sweep: guild owner holds expired role, cannot revoke")
		r.deleteGrant(ctx, g, "deleted_converged", log, "owner exempt")
		return
	}

	if err := r.platform.RevokeRole(ctx, g.UserID, g.RoleID); err != nil {
		log.Error("grant sweep: revoking role failed, will retry", "error", err)
		r.metrics.GrantSweepTotal.WithLabelValues("failed").Inc()
		return
	}

	log.Info("grant sweep: expired role removed")
	r.metrics.GrantSweepTotal.WithLabelValues("removed").Inc()
	if err := r.store.DeleteRoleGrant(ctx, g.ID); err != nil {
		// The next tick sees the member without the role and converges.
		log.Error("grant sweep: deleting grant record failed", "error", err)
	}
}

func (r *Reconciler) deleteGrant(ctx context.Context, g *grant.RoleGrant, outcome string, log *slog.Logger, reason string) {
	if err := r.store.DeleteRoleGrant(ctx, g.ID); err != nil {
		log.Error("grant sweep: deleting grant record failed", "reason", reason, "error", err)
		return
	}
	r.metrics.GrantSweepTotal.WithLabelValues(outcome).Inc()
	log.Info("grant sweep: grant record deleted", "reason", reason)
}

func (r *Reconciler) ownerID(ctx context.Context) string {
	ownerID, err := r.platform.GuildOwnerID(ctx)
	if err != nil {
		slog.Warn("could not determine guild owner", "error", err)
		return ""
	}
	return ownerID
}
