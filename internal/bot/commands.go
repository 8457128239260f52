package bot

import "github.com/bwmarrin/discordgo"

var manageRoles int64 = discordgo.PermissionManageRoles

// commandDefinitions returns the full guild command set. Admin commands
// default to members with Manage Roles; Discord enforces the
// permission, the handlers do not re-check it.
func commandDefinitions() []*discordgo.ApplicationCommand {
	minDays := float64(1)
	return []*discordgo.ApplicationCommand{
		{
			Name:                     "setup",
			Description:              "Post the trial panel with Apply and Check buttons in this channel",
			DefaultMemberPermissions: &manageRoles,
		},
		{
			Name:                     "checkall",
			Description:              "List every trial that has been started and its current state",
			DefaultMemberPermissions: &manageRoles,
		},
		{
			Name:                     "checkexpired",
			Description:              "Sweep expired trials now and remove lingering trial roles",
			DefaultMemberPermissions: &manageRoles,
		},
		{
			Name:                     "addrole",
			Description:              "Configure a role as grantable with a default duration",
			DefaultMemberPermissions: &manageRoles,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "The role to make grantable",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "days",
					Description: "Default grant duration in days",
					Required:    true,
					MinValue:    &minDays,
				},
			},
		},
		{
			Name:                     "listroles",
			Description:              "List the configured grantable roles",
			DefaultMemberPermissions: &manageRoles,
		},
		{
			Name:                     "removerole",
			Description:              "Remove a role from the grantable set",
			DefaultMemberPermissions: &manageRoles,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "The role to remove",
					Required:    true,
				},
			},
		},
		{
			Name:                     "givemember",
			Description:              "Grant a configured role to a member for a fixed duration",
			DefaultMemberPermissions: &manageRoles,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "member",
					Description: "The member to grant the role to",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "The role to grant",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "days",
					Description: "Override the configured duration in days",
					Required:    false,
					MinValue:    &minDays,
				},
			},
		},
		{
			Name:                     "checkmember",
			Description:              "Show a member's grant history",
			DefaultMemberPermissions: &manageRoles,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "member",
					Description: "The member to inspect",
					Required:    true,
				},
			},
		},
		{
			Name:                     "listmembers",
			Description:              "List all active role grants, soonest expiry first",
			DefaultMemberPermissions: &manageRoles,
		},
		{
			Name:                     "removeuser",
			Description:              "Erase a member's trial record so they can apply again",
			DefaultMemberPermissions: &manageRoles,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionUser,
					Name:        "member",
					Description: "The member whose trial record to erase",
					Required:    true,
				},
			},
		},
	}
}
