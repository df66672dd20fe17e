// Package notify renders forum notifications and delivers them through a provider.
package notify

import (
	"context"
	"log/slog"

	"forumlinkbot/pkg/forumlink"
)

// Provider defines the interface for notification delivery implementations.
type Provider interface {
	// Send posts a rendered notification to a channel.
	Send(ctx context.Context, channelID forumlink.ID, n *forumlink.Notification) error
}

// Sender renders notifications and hands them to a provider.
type Sender struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a new sender with the given provider.
func New(provider Provider, logger *slog.Logger) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
	}
}

// NotifyNewThread sends the "thread opened" notice to target.
func (s *Sender) NotifyNewThread(ctx context.Context, target forumlink.ID, ev *forumlink.ThreadCreated) error {
	n := RenderNewThread(ev)

	s.logger.Info("Sending new thread notification",
		"target", target,
		"thread_id", ev.ThreadID,
		"title", ev.Title)

	return s.provider.Send(ctx, target, n)
}

// NotifyReply sends the followed-thread reply notice to target.
func (s *Sender) NotifyReply(ctx context.Context, target forumlink.ID, ev *forumlink.MessagePosted, mentions []forumlink.ID) error {
	n := RenderReply(ev, mentions)

	s.logger.Info("Sending reply notification",
		"target", target,
		"thread_id", ev.ThreadID,
		"author", ev.AuthorID,
		"mentions", len(mentions))

	return s.provider.Send(ctx, target, n)
}
