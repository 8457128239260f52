// Package platform defines the narrow view of the chat platform that
// the grant lifecycle needs: resolving members and roles, and granting
// or revoking a single role. Adapter errors are wrapped into the
// sentinel kinds in internal/grant so callers never see SDK types.
package platform

import "context"

// Member is a user's membership within the guild.
type Member struct {
	UserID      string
	DisplayName string
	RoleIDs     []string
}

// HasRole reports whether the member currently holds the given role.
func (m *Member) HasRole(roleID string) bool {
	for _, id := range m.RoleIDs {
		if id == roleID {
			return true
		}
	}
	return false
}

// Role is a guild role.
type Role struct {
	ID   string
	Name string
}

// Client is the platform surface consumed by the lifecycle controller
// and the reconciler. Errors are grant.ErrNotFound,
// grant.ErrPermissionDenied, or grant.ErrTransient.
type Client interface {
	// ResolveMember looks up a guild member, preferring any local cache
	// before hitting the platform API.
	ResolveMember(ctx context.Context, userID string) (*Member, error)

	// ResolveRole looks up a guild role by id.
	ResolveRole(ctx context.Context, roleID string) (*Role, error)

	// GrantRole assigns the role to the member.
	GrantRole(ctx context.Context, userID, roleID string) error

	// RevokeRole removes the role from the member.
	RevokeRole(ctx context.Context, userID, roleID string) error

	// GuildOwnerID returns the user id of the guild owner, whose roles
	// the platform never lets the bot revoke.
	GuildOwnerID(ctx context.Context) (string, error)
}
