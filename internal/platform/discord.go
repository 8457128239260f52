package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/alecgard/rolewarden/internal/grant"
	"github.com/bwmarrin/discordgo"
)

// Discord implements Client on top of a discordgo session for a single
// guild. Member and role lookups try the session's state cache first
// and fall back to the REST API.
type Discord struct {
	session *discordgo.Session
	guildID string
}

// NewDiscord creates a Discord client bound to the given guild.
func NewDiscord(session *discordgo.Session, guildID string) *Discord {
	return &Discord{session: session, guildID: guildID}
}

// ResolveMember looks up a guild member, cache first.
func (d *Discord) ResolveMember(ctx context.Context, userID string) (*Member, error) {
	m, err := d.session.State.Member(d.guildID, userID)
	if err != nil {
		m, err = d.session.GuildMember(d.guildID, userID, discordgo.WithContext(ctx))
		if err != nil {
			return nil, mapError(err)
		}
	}
	return toMember(userID, m), nil
}

// ResolveRole looks up a guild role, cache first.
func (d *Discord) ResolveRole(ctx context.Context, roleID string) (*Role, error) {
	r, err := d.session.State.Role(d.guildID, roleID)
	if err == nil {
		return &Role{ID: r.ID, Name: r.Name}, nil
	}

	roles, err := d.session.GuildRoles(d.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, mapError(err)
	}
	for _, r := range roles {
		if r.ID == roleID {
			return &Role{ID: r.ID, Name: r.Name}, nil
		}
	}
	return nil, fmt.Errorf("%w: role %s", grant.ErrNotFound, roleID)
}

// GrantRole assigns the role to the member.
func (d *Discord) GrantRole(ctx context.Context, userID, roleID string) error {
	if err := d.session.GuildMemberRoleAdd(d.guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return mapError(err)
	}
	return nil
}

// RevokeRole removes the role from the member.
func (d *Discord) RevokeRole(ctx context.Context, userID, roleID string) error {
	if err := d.session.GuildMemberRoleRemove(d.guildID, userID, roleID, discordgo.WithContext(ctx)); err != nil {
		return mapError(err)
	}
	return nil
}

// GuildOwnerID returns the guild owner's user id.
func (d *Discord) GuildOwnerID(ctx context.Context) (string, error) {
	g, err := d.session.State.Guild(d.guildID)
	if err != nil {
		g, err = d.session.Guild(d.guildID, discordgo.WithContext(ctx))
		if err != nil {
			return "", mapError(err)
		}
	}
	return g.OwnerID, nil
}

func toMember(userID string, m *discordgo.Member) *Member {
	name := m.Nick
	if name == "" && m.User != nil {
		name = m.User.GlobalName
		if name == "" {
			name = m.User.Username
		}
	}
	return &Member{UserID: userID, DisplayName: name, RoleIDs: m.Roles}
}

// mapError translates discordgo REST errors into the grant error
// taxonomy. Anything unrecognized is treated as transient.
func mapError(err error) error {
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) && rerr.Message != nil {
		switch rerr.Message.Code {
		case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser, discordgo.ErrCodeUnknownRole:
			return fmt.Errorf("%w: %s", grant.ErrNotFound, rerr.Message.Message)
		case discordgo.ErrCodeMissingPermissions, discordgo.ErrCodeMissingAccess:
			return fmt.Errorf("%w: %s", grant.ErrPermissionDenied, rerr.Message.Message)
		}
	}
	return fmt.Errorf("%w: %v", grant.ErrTransient, err)
}
