package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"

	"forumlinkbot/pkg/forumlink"
)

// ChannelMessenger is the part of *discordgo.Session used for delivery.
type ChannelMessenger interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordProvider posts notifications as embeds in Discord channels.
type DiscordProvider struct {
	messenger ChannelMessenger
	logger    *slog.Logger
}

// NewDiscordProvider creates a provider sending through messenger.
func NewDiscordProvider(messenger ChannelMessenger, logger *slog.Logger) *DiscordProvider {
	return &DiscordProvider{
		messenger: messenger,
		logger:    logger,
	}
}

// Send posts n to channelID in a single attempt.
func (d *DiscordProvider) Send(ctx context.Context, channelID forumlink.ID, n *forumlink.Notification) error {
	start := time.Now()
	msg, err := d.messenger.ChannelMessageSendComplex(channelID.String(), MessageSend(n), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("send message to %s: %w", channelID, err)
	}

	d.logger.Info("Discord message sent",
		"channel", channelID,
		"message_id", msg.ID,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// MessageSend converts n to a Discord message with one embed. Only the
// listed roles may be pinged; user and everyone mentions are never parsed.
func MessageSend(n *forumlink.Notification) *discordgo.MessageSend {
	embed := &discordgo.MessageEmbed{
		URL:         n.URL,
		Title:       n.Title,
		Description: n.Description,
		Color:       n.Color,
	}
	if n.Footer != "" {
		embed.Footer = &discordgo.MessageEmbedFooter{Text: n.Footer}
	}
	for _, f := range n.Fields {
		embed.Fields = append(embed.Fields, &discordgo.MessageEmbedField{
			Name:   f.Name,
			Value:  f.Value,
			Inline: f.Inline,
		})
	}

	roles := make([]string, 0, len(n.MentionRoles))
	for _, r := range n.MentionRoles {
		roles = append(roles, r.String())
	}

	return &discordgo.MessageSend{
		Content: n.Content,
		Embeds:  []*discordgo.MessageEmbed{embed},
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Parse: []discordgo.AllowedMentionType{},
			Roles: roles,
		},
	}
}
