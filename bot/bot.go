// Package bot connects the Discord gateway to the dispatcher and the admin commands.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/codeGROOVE-dev/retry"

	"forumlinkbot/dispatch"
	"forumlinkbot/pkg/forumlink"
)

// Dispatcher reacts to forum events.
type Dispatcher interface {
	ThreadCreated(ctx context.Context, ev *forumlink.ThreadCreated) dispatch.Report
	MessagePosted(ctx context.Context, ev *forumlink.MessagePosted) dispatch.Report
}

// Bot owns the gateway session and routes its events.
type Bot struct {
	session    *discordgo.Session
	dispatcher Dispatcher
	commands   *Commands
	logger     *slog.Logger

	// Handlers run outside any request; they use the context passed to Open.
	ctx context.Context
}

// Config holds bot configuration.
type Config struct {
	Session    *discordgo.Session
	Dispatcher Dispatcher
	Commands   *Commands
	Logger     *slog.Logger
}

// New creates a bot and registers its gateway handlers.
func New(cfg *Config) *Bot {
	b := &Bot{
		session:    cfg.Session,
		dispatcher: cfg.Dispatcher,
		commands:   cfg.Commands,
		logger:     cfg.Logger,
		ctx:        context.Background(),
	}
	b.session.Identify.Intents = discordgo.IntentGuilds | discordgo.IntentGuildMessages | discordgo.IntentMessageContent
	b.session.AddHandler(b.onReady)
	b.session.AddHandler(b.onThreadCreate)
	b.session.AddHandler(b.onMessageCreate)
	return b
}

// Open connects to the gateway, retrying transient failures.
func (b *Bot) Open(ctx context.Context) error {
	b.ctx = ctx
	err := retry.Do(
		func() error {
			if err := b.session.Open(); err != nil {
				return fmt.Errorf("open gateway: %w", err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("Retrying gateway connection after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("connect after retries: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (b *Bot) Close() error {
	return b.session.Close()
}

// Connected reports whether the gateway session is ready.
func (b *Bot) Connected() bool {
	return b.session.DataReady
}

func (b *Bot) onReady(_ *discordgo.Session, r *discordgo.Ready) {
	b.logger.Info("Gateway ready", "user", r.User.Username, "guilds", len(r.Guilds))
}

func (b *Bot) onThreadCreate(s *discordgo.Session, e *discordgo.ThreadCreate) {
	if !e.NewlyCreated || e.GuildID == "" {
		return
	}
	parent, err := b.channel(s, e.ParentID)
	if err != nil {
		b.logger.Warn("Failed to look up thread parent", "thread_id", e.ID, "parent_id", e.ParentID, "error", err)
		return
	}
	ev, ok := threadEvent(e.Channel, parent, b.displayName(s, e.GuildID, e.OwnerID))
	if !ok {
		return
	}
	b.dispatcher.ThreadCreated(b.ctx, ev)
}

func (b *Bot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	ch, err := b.channel(s, m.ChannelID)
	if err != nil {
		b.logger.Warn("Failed to look up message channel", "channel", m.ChannelID, "error", err)
		return
	}

	// The command layer and the dispatcher consume the same message independently.
	b.handleCommand(s, m, ch)

	if ev, ok := messageEvent(m.Message, ch); ok {
		b.dispatcher.MessagePosted(b.ctx, ev)
	}
}

func (b *Bot) handleCommand(s *discordgo.Session, m *discordgo.MessageCreate, ch *discordgo.Channel) {
	// Permissions are only resolved for known commands.
	if _, ok := b.commands.lookup(m.Content); !ok {
		return
	}
	req := &Request{
		GuildID:   forumlink.ID(m.GuildID),
		ChannelID: forumlink.ID(m.ChannelID),
		AuthorID:  forumlink.ID(m.Author.ID),
		Content:   m.Content,
	}
	if ch.IsThread() {
		req.InThread = true
		req.ParentID = forumlink.ID(ch.ParentID)
	}
	perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil {
		b.logger.Warn("Failed to resolve author permissions", "author", m.Author.ID, "channel", m.ChannelID, "error", err)
	}
	req.Admin = err == nil && perms&discordgo.PermissionManageServer != 0

	reply, handled := b.commands.Handle(b.ctx, req)
	if !handled || reply == "" {
		return
	}
	_, err = s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Content:         reply,
		Reference:       m.Reference(),
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}, discordgo.WithContext(b.ctx))
	if err != nil {
		b.logger.Warn("Failed to send command reply", "channel", m.ChannelID, "error", err)
	}
}

// channel looks id up in the state cache, then over REST.
func (b *Bot) channel(s *discordgo.Session, id string) (*discordgo.Channel, error) {
	if ch, err := s.State.Channel(id); err == nil {
		return ch, nil
	}
	ch, err := s.Channel(id, discordgo.WithContext(b.ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch channel %s: %w", id, err)
	}
	return ch, nil
}

func (b *Bot) displayName(s *discordgo.Session, guildID, userID string) string {
	if userID == "" {
		return ""
	}
	member, err := s.State.Member(guildID, userID)
	if err != nil {
		member, err = s.GuildMember(guildID, userID, discordgo.WithContext(b.ctx))
		if err != nil {
			b.logger.Debug("Failed to look up thread owner", "guild", guildID, "user", userID, "error", err)
			return ""
		}
	}
	return memberName(member)
}

func memberName(m *discordgo.Member) string {
	if m == nil {
		return ""
	}
	if m.Nick != "" {
		return m.Nick
	}
	if m.User != nil {
		if m.User.GlobalName != "" {
			return m.User.GlobalName
		}
		return m.User.Username
	}
	return ""
}

// threadEvent converts a new thread to an event. Only threads opened in a
// forum channel are reported.
func threadEvent(thread, parent *discordgo.Channel, author string) (*forumlink.ThreadCreated, bool) {
	if thread == nil || parent == nil || parent.Type != discordgo.ChannelTypeGuildForum {
		return nil, false
	}
	return &forumlink.ThreadCreated{
		GuildID:           forumlink.ID(thread.GuildID),
		ForumID:           forumlink.ID(thread.ParentID),
		ThreadID:          forumlink.ID(thread.ID),
		Title:             thread.Name,
		Permalink:         permalink(thread.GuildID, thread.ID, ""),
		AuthorDisplayName: author,
	}, true
}

// messageEvent converts a guild message to an event when it was posted in a thread.
func messageEvent(m *discordgo.Message, ch *discordgo.Channel) (*forumlink.MessagePosted, bool) {
	if m == nil || ch == nil || !ch.IsThread() {
		return nil, false
	}
	ev := &forumlink.MessagePosted{
		GuildID:       forumlink.ID(m.GuildID),
		ThreadID:      forumlink.ID(ch.ID),
		ParentForumID: forumlink.ID(ch.ParentID),
		ThreadName:    ch.Name,
		Content:       m.Content,
		Permalink:     permalink(m.GuildID, m.ChannelID, m.ID),
	}
	if m.Author != nil {
		ev.AuthorID = forumlink.ID(m.Author.ID)
	}
	if m.Member != nil {
		ev.AuthorRoleIDs = forumlink.IDs(m.Member.Roles...)
	}
	return ev, true
}

func permalink(guildID, channelID, messageID string) string {
	if messageID == "" {
		return fmt.Sprintf("https://discord.com/channels/%s/%s", guildID, channelID)
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}
