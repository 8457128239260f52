// Package bot is the Discord-facing surface: a persistent panel with
// Apply and Check buttons for members, and guild-scoped slash commands
// for admins. All interaction replies are ephemeral; role state only
// changes through the lifecycle controller.
package bot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alecgard/rolewarden/internal/grant"
	"github.com/alecgard/rolewarden/internal/lifecycle"
	"github.com/alecgard/rolewarden/internal/metrics"
	"github.com/alecgard/rolewarden/internal/ratelimit"
	"github.com/bwmarrin/discordgo"
)

// Component custom IDs on the trial panel.
const (
	customIDApply = "trial_apply"
	customIDCheck = "trial_check"
)

// Controller is the lifecycle surface the bot needs.
type Controller interface {
	StartTrial(ctx context.Context, userID string) (*lifecycle.TrialStatus, error)
	CheckTrial(ctx context.Context, userID string) (*lifecycle.TrialStatus, error)
	TrialStatuses(ctx context.Context) ([]lifecycle.TrialReport, error)
	SweepNow(ctx context.Context) (*lifecycle.Summary, error)
	DeleteTrial(ctx context.Context, userID string) error

	PutRoleConfig(ctx context.Context, roleID, roleName string, days int) (*grant.RoleConfig, error)
	ListRoleConfigs(ctx context.Context) ([]*grant.RoleConfig, error)
	DeleteRoleConfig(ctx context.Context, roleID string) error

	IssueGrant(ctx context.Context, userID, roleID string, days *int) (*grant.RoleGrant, error)
	ActiveGrants(ctx context.Context) ([]*grant.RoleGrant, error)
	MemberGrants(ctx context.Context, userID string) ([]lifecycle.GrantReport, error)
}

// Bot wires the gateway session to the lifecycle controller.
type Bot struct {
	session  *discordgo.Session
	ctrl     Controller
	guildID  string
	cooldown *ratelimit.Limiter
	metrics  *metrics.Metrics

	removeHandler func()
}

// New creates a Bot. The session must not be opened yet.
func New(session *discordgo.Session, ctrl Controller, guildID string, cooldown *ratelimit.Limiter, m *metrics.Metrics) *Bot {
	return &Bot{
		session:  session,
		ctrl:     ctrl,
		guildID:  guildID,
		cooldown: cooldown,
		metrics:  m,
	}
}

// Start opens the gateway session and registers the guild's slash
// commands. Bulk overwrite keeps the registered set exactly in sync
// with commandDefinitions, removing stale commands from old versions.
func (b *Bot) Start(ctx context.Context) error {
	b.removeHandler = b.session.AddHandler(b.onInteraction)

	if err := b.session.Open(); err != nil {
		return fmt.Errorf("opening gateway session: %w", err)
	}

	cmds, err := b.session.ApplicationCommandBulkOverwrite(
		b.session.State.User.ID, b.guildID, commandDefinitions())
	if err != nil {
		return fmt.Errorf("registering slash commands: %w", err)
	}

	slog.Info("bot started", "guild_id", b.guildID, "commands", len(cmds))
	return nil
}

// Stop detaches the interaction handler and closes the session.
func (b *Bot) Stop() error {
	if b.removeHandler != nil {
		b.removeHandler()
	}
	return b.session.Close()
}
