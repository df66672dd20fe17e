package bot

import (
	"github.com/bwmarrin/discordgo"

	"forumlinkbot/pkg/forumlink"
)

// RoleLookup finds a cached role. *discordgo.State implements it.
type RoleLookup interface {
	Role(guildID, roleID string) (*discordgo.Role, error)
}

// RoleResolver drops role ids that no longer exist in the guild.
type RoleResolver struct {
	lookup RoleLookup
}

// NewRoleResolver creates a resolver over the session state cache.
func NewRoleResolver(lookup RoleLookup) *RoleResolver {
	return &RoleResolver{lookup: lookup}
}

// LiveRoles returns the roles in ids that still resolve, in order.
func (r *RoleResolver) LiveRoles(guild forumlink.ID, ids []forumlink.ID) []forumlink.ID {
	var live []forumlink.ID
	for _, id := range ids {
		if role, err := r.lookup.Role(guild.String(), id.String()); err == nil && role != nil {
			live = append(live, id)
		}
	}
	return live
}
