package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alecgard/rolewarden/internal/grant"
	"github.com/alecgard/rolewarden/internal/lifecycle"
	"github.com/bwmarrin/discordgo"
)

// interactionTimeout bounds handler work; Discord discards responses
// that arrive later than its own 3 second window anyway.
const interactionTimeout = 3 * time.Second

func (b *Bot) onInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), interactionTimeout)
	defer cancel()

	var resp *discordgo.InteractionResponse
	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		resp = b.handleCommand(ctx, i)
	case discordgo.InteractionMessageComponent:
		resp = b.handleComponent(ctx, i)
	default:
		return
	}
	if resp == nil {
		return
	}

	if err := s.InteractionRespond(i.Interaction, resp); err != nil {
		slog.Error("responding to interaction failed", "error", err)
	}
}

func (b *Bot) handleCommand(ctx context.Context, i *discordgo.InteractionCreate) *discordgo.InteractionResponse {
	data := i.ApplicationCommandData()
	b.metrics.CommandsTotal.WithLabelValues(data.Name).Inc()
	slog.Info("command", "name", data.Name, "user_id", interactionUserID(i))

	switch data.Name {
	case "setup":
		return b.handleSetup(i)
	case "checkall":
		return b.handleCheckAll(ctx)
	case "checkexpired":
		return b.handleCheckExpired(ctx)
	case "addrole":
		return b.handleAddRole(ctx, data)
	case "listroles":
		return b.handleListRoles(ctx)
	case "removerole":
		return b.handleRemoveRole(ctx, data)
	case "givemember":
		return b.handleGiveMember(ctx, data)
	case "checkmember":
		return b.handleCheckMember(ctx, data)
	case "listmembers":
		return b.handleListMembers(ctx)
	case "removeuser":
		return b.handleRemoveUser(ctx, data)
	default:
		return ephemeral("Unknown command.")
	}
}

func (b *Bot) handleComponent(ctx context.Context, i *discordgo.InteractionCreate) *discordgo.InteractionResponse {
	customID := i.MessageComponentData().CustomID
	userID := interactionUserID(i)
	b.metrics.CommandsTotal.WithLabelValues(customID).Inc()

	switch customID {
	case customIDApply:
		if !b.allowInteraction(userID, "apply") {
			return b.cooldownResponse(userID, "apply")
		}
		return b.handleApply(ctx, userID)
	case customIDCheck:
		if !b.allowInteraction(userID, "check") {
			return b.cooldownResponse(userID, "check")
		}
		return b.handleCheck(ctx, userID)
	default:
		return nil
	}
}

func (b *Bot) allowInteraction(userID, action string) bool {
	return b.cooldown.Allow(userID + ":" + action)
}

func (b *Bot) cooldownResponse(userID, action string) *discordgo.InteractionResponse {
	b.metrics.CooldownRejectionsTotal.Inc()
	wait := b.cooldown.RetryAfter(userID + ":" + action).Round(time.Second)
	return ephemeral(fmt.Sprintf("Slow down! Try again in %v.", wait))
}

// ---------------------------------------------------------------------------
// Member-facing interactions
// ---------------------------------------------------------------------------

func (b *Bot) handleApply(ctx context.Context, userID string) *discordgo.InteractionResponse {
	status, err := b.ctrl.StartTrial(ctx, userID)
	if err != nil {
		return ephemeral(startTrialErrorMessage(err))
	}
	return ephemeral(fmt.Sprintf("Trial started! Your trial role expires %s.", discordTimestamp(status.EndTime)))
}

func (b *Bot) handleCheck(ctx context.Context, userID string) *discordgo.InteractionResponse {
	status, err := b.ctrl.CheckTrial(ctx, userID)
	if err != nil {
		return ephemeral("Something went wrong checking your trial. Try again later.")
	}
	return ephemeral(formatTrialStatus(status))
}

func startTrialErrorMessage(err error) string {
	switch {
	case errors.Is(err, grant.ErrAlreadyUsed):
		return "You have already used your trial. It cannot be started again."
	case errors.Is(err, grant.ErrAlreadyActive):
		return "Your trial is already running. Use Check to see how much time is left."
	default:
		return "Something went wrong starting your trial. Try again later."
	}
}

func formatTrialStatus(status *lifecycle.TrialStatus) string {
	switch status.State {
	case lifecycle.TrialNotApplied:
		return "You have not started a trial yet. Press Apply to begin."
	case lifecycle.TrialActive:
		return fmt.Sprintf("Your trial is active and expires %s.", discordTimestamp(status.EndTime))
	default:
		if status.Revoked {
			return "Your trial has expired and the trial role was just removed."
		}
		return fmt.Sprintf("Your trial ended %s.", discordTimestamp(status.EndTime))
	}
}

// ---------------------------------------------------------------------------
// Admin commands
// ---------------------------------------------------------------------------

func (b *Bot) handleSetup(i *discordgo.InteractionCreate) *discordgo.InteractionResponse {
	_, err := b.session.ChannelMessageSendComplex(i.ChannelID, &discordgo.MessageSend{
		Content:    "**Trial access**\nPress Apply to start your one-time trial, or Check to see your trial status.",
		Components: panelComponents(),
	})
	if err != nil {
		slog.Error("posting trial panel failed", "channel_id", i.ChannelID, "error", err)
		return ephemeral("Could not post the panel in this channel.")
	}
	return ephemeral("Trial panel posted.")
}

func panelComponents() []discordgo.MessageComponent {
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Apply",
					Style:    discordgo.PrimaryButton,
					CustomID: customIDApply,
				},
				discordgo.Button{
					Label:    "Check",
					Style:    discordgo.SecondaryButton,
					CustomID: customIDCheck,
				},
			},
		},
	}
}

func (b *Bot) handleCheckAll(ctx context.Context) *discordgo.InteractionResponse {
	reports, err := b.ctrl.TrialStatuses(ctx)
	if err != nil {
		return ephemeral("Listing trials failed.")
	}
	return ephemeral(formatTrialReports(reports))
}

func formatTrialReports(reports []lifecycle.TrialReport) string {
	if len(reports) == 0 {
		return "No trials have been started."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d trial(s):\n", len(reports))
	for _, r := range reports {
		switch r.State {
		case lifecycle.TrialActive:
			fmt.Fprintf(&sb, "- <@%s>: active, expires %s\n",
				r.UserID, discordTimestamp(r.StartTime.Add(r.Remaining)))
		case lifecycle.TrialEnded:
			fmt.Fprintf(&sb, "- <@%s>: ended\n", r.UserID)
		default:
			fmt.Fprintf(&sb, "- <@%s>: not started\n", r.UserID)
		}
	}
	return sb.String()
}

func (b *Bot) handleCheckExpired(ctx context.Context) *discordgo.InteractionResponse {
	summary, err := b.ctrl.SweepNow(ctx)
	if err != nil {
		return ephemeral("Sweep failed: " + err.Error())
	}
	return ephemeral(formatSweepSummary(summary))
}

func formatSweepSummary(s *lifecycle.Summary) string {
	return fmt.Sprintf(
		"Sweep complete: %d checked, %d expired, %d removed, %d already removed, %d failed.",
		s.Checked, s.Expired, s.Removed, s.AlreadyRemoved, s.Failed)
}

func (b *Bot) handleAddRole(ctx context.Context, data discordgo.ApplicationCommandInteractionData) *discordgo.InteractionResponse {
	opts := optionMap(data)
	roleID, roleName := roleOption(data, opts["role"])
	days := int(opts["days"].IntValue())

	rc, err := b.ctrl.PutRoleConfig(ctx, roleID, roleName, days)
	if err != nil {
		return ephemeral("Saving the role failed: " + err.Error())
	}
	return ephemeral(fmt.Sprintf("<@&%s> is now grantable for %d day(s) by default.", rc.RoleID, rc.DurationDays))
}

func (b *Bot) handleListRoles(ctx context.Context) *discordgo.InteractionResponse {
	configs, err := b.ctrl.ListRoleConfigs(ctx)
	if err != nil {
		return ephemeral("Listing roles failed.")
	}
	return ephemeral(formatRoleConfigs(configs))
}

func formatRoleConfigs(configs []*grant.RoleConfig) string {
	if len(configs) == 0 {
		return "No grantable roles are configured. Use /addrole to add one."
	}
	var sb strings.Builder
	sb.WriteString("Grantable roles:\n")
	for _, rc := range configs {
		fmt.Fprintf(&sb, "- <@&%s>: %d day(s) by default\n", rc.RoleID, rc.DurationDays)
	}
	return sb.String()
}

func (b *Bot) handleRemoveRole(ctx context.Context, data discordgo.ApplicationCommandInteractionData) *discordgo.InteractionResponse {
	opts := optionMap(data)
	roleID, _ := roleOption(data, opts["role"])

	if err := b.ctrl.DeleteRoleConfig(ctx, roleID); err != nil {
		if errors.Is(err, grant.ErrNotFound) {
			return ephemeral("That role is not in the grantable set.")
		}
		return ephemeral("Removing the role failed: " + err.Error())
	}
	return ephemeral(fmt.Sprintf("<@&%s> removed from the grantable set. Existing grants keep their end dates.", roleID))
}

func (b *Bot) handleGiveMember(ctx context.Context, data discordgo.ApplicationCommandInteractionData) *discordgo.InteractionResponse {
	opts := optionMap(data)
	userID := opts["member"].UserValue(nil).ID
	roleID, _ := roleOption(data, opts["role"])

	var days *int
	if opt, ok := opts["days"]; ok {
		d := int(opt.IntValue())
		days = &d
	}

	g, err := b.ctrl.IssueGrant(ctx, userID, roleID, days)
	if err != nil {
		return ephemeral(issueGrantErrorMessage(err))
	}
	return ephemeral(fmt.Sprintf("<@%s> now has <@&%s> for %d day(s), until %s.",
		g.UserID, g.RoleID, g.DurationDays, discordTimestamp(g.EndTime)))
}

func issueGrantErrorMessage(err error) string {
	switch {
	case errors.Is(err, grant.ErrNotConfigured):
		return "That role has no configured duration. Use /addrole first or pass days explicitly."
	case errors.Is(err, grant.ErrInvalidArgument):
		return "The duration must be a positive number of days."
	case errors.Is(err, grant.ErrNotFound):
		return "That member or role could not be found."
	case errors.Is(err, grant.ErrPermissionDenied):
		return "I am not allowed to assign that role. Check my role position and permissions."
	default:
		return "Granting the role failed: " + err.Error()
	}
}

func (b *Bot) handleCheckMember(ctx context.Context, data discordgo.ApplicationCommandInteractionData) *discordgo.InteractionResponse {
	opts := optionMap(data)
	userID := opts["member"].UserValue(nil).ID

	reports, err := b.ctrl.MemberGrants(ctx, userID)
	if err != nil {
		return ephemeral("Looking up the member's grants failed.")
	}
	return ephemeral(formatGrantReports(userID, reports))
}

func formatGrantReports(userID string, reports []lifecycle.GrantReport) string {
	if len(reports) == 0 {
		return fmt.Sprintf("<@%s> has no role grants.", userID)
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Grants for <@%s>:\n", userID)
	for _, r := range reports {
		if r.Active {
			fmt.Fprintf(&sb, "- <@&%s>: active, expires %s\n",
				r.Grant.RoleID, discordTimestamp(r.Grant.EndTime))
		} else {
			fmt.Fprintf(&sb, "- <@&%s>: expired %s\n",
				r.Grant.RoleID, discordTimestamp(r.Grant.EndTime))
		}
	}
	return sb.String()
}

func (b *Bot) handleListMembers(ctx context.Context) *discordgo.InteractionResponse {
	grants, err := b.ctrl.ActiveGrants(ctx)
	if err != nil {
		return ephemeral("Listing active grants failed.")
	}
	return ephemeral(formatActiveGrants(grants))
}

func formatActiveGrants(grants []*grant.RoleGrant) string {
	if len(grants) == 0 {
		return "No active role grants."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d active grant(s):\n", len(grants))
	for _, g := range grants {
		fmt.Fprintf(&sb, "- <@%s>: <@&%s> expires %s\n",
			g.UserID, g.RoleID, discordTimestamp(g.EndTime))
	}
	return sb.String()
}

func (b *Bot) handleRemoveUser(ctx context.Context, data discordgo.ApplicationCommandInteractionData) *discordgo.InteractionResponse {
	opts := optionMap(data)
	userID := opts["member"].UserValue(nil).ID

	if err := b.ctrl.DeleteTrial(ctx, userID); err != nil {
		if errors.Is(err, grant.ErrNotFound) {
			return ephemeral(fmt.Sprintf("<@%s> has no trial record.", userID))
		}
		return ephemeral("Erasing the trial record failed: " + err.Error())
	}
	return ephemeral(fmt.Sprintf("Trial record erased. <@%s> can apply again.", userID))
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func ephemeral(content string) *discordgo.InteractionResponse {
	return &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	}
}

// interactionUserID works for both guild and DM interactions.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

func optionMap(data discordgo.ApplicationCommandInteractionData) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(data.Options))
	for _, opt := range data.Options {
		m[opt.Name] = opt
	}
	return m
}

// roleOption returns the role ID and, when the interaction payload
// resolved it, the role name.
func roleOption(data discordgo.ApplicationCommandInteractionData, opt *discordgo.ApplicationCommandInteractionDataOption) (id, name string) {
	id = opt.RoleValue(nil, "").ID
	if data.Resolved != nil {
		if role, ok := data.Resolved.Roles[id]; ok {
			name = role.Name
		}
	}
	return id, name
}

// discordTimestamp renders t as a Discord relative timestamp, which the
// client displays in the viewer's locale ("in 2 hours").
func discordTimestamp(t time.Time) string {
	return fmt.Sprintf("<t:%d:R>", t.Unix())
}
