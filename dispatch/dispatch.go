// Package dispatch turns forum events into notifications for the routed channels.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"forumlinkbot/metrics"
	"forumlinkbot/pkg/forumlink"
	"forumlinkbot/routing"
)

// Routes gives read access to a guild's routing table.
type Routes interface {
	Read(guild forumlink.ID, fn func(t *routing.Table))
}

// Notifier renders and delivers a notification to one channel.
type Notifier interface {
	NotifyNewThread(ctx context.Context, target forumlink.ID, ev *forumlink.ThreadCreated) error
	NotifyReply(ctx context.Context, target forumlink.ID, ev *forumlink.MessagePosted, mentions []forumlink.ID) error
}

// RoleResolver filters role ids down to roles that still exist in the guild.
type RoleResolver interface {
	LiveRoles(guild forumlink.ID, roles []forumlink.ID) []forumlink.ID
}

// Dispatcher reacts to forum events. It keeps no state of its own.
type Dispatcher struct {
	routes   Routes
	notifier Notifier
	roles    RoleResolver
	logger   *slog.Logger
}

// New creates a dispatcher. roles may be nil, in which case every stored
// follow role is mentioned.
func New(routes Routes, notifier Notifier, roles RoleResolver, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		routes:   routes,
		notifier: notifier,
		roles:    roles,
		logger:   logger,
	}
}

// ThreadCreated announces a new thread to every new-thread target of its forum.
func (d *Dispatcher) ThreadCreated(ctx context.Context, ev *forumlink.ThreadCreated) Report {
	rep := newReport(KindNewThread, ev.GuildID)

	var targets []forumlink.ID
	d.routes.Read(ev.GuildID, func(t *routing.Table) {
		targets = t.NewThreadTargets(ev.ForumID)
	})
	if len(targets) == 0 {
		return d.skip(rep, SkipNoTargets, "forum_id", ev.ForumID, "thread_id", ev.ThreadID)
	}

	d.logger.Info("New thread detected",
		"dispatch_id", rep.ID,
		"guild", ev.GuildID,
		"forum_id", ev.ForumID,
		"thread_id", ev.ThreadID,
		"targets", len(targets))

	rep.Outcomes = d.deliver(ctx, rep, targets, func(ctx context.Context, target forumlink.ID) error {
		return d.notifier.NotifyNewThread(ctx, target, ev)
	})
	return d.finish(rep)
}

// MessagePosted announces a reply in a followed thread to the follow targets
// of the thread's parent forum, unless the author holds a follow role.
func (d *Dispatcher) MessagePosted(ctx context.Context, ev *forumlink.MessagePosted) Report {
	rep := newReport(KindReply, ev.GuildID)

	var (
		followed   bool
		suppressed bool
		targets    []forumlink.ID
		roles      []forumlink.ID
	)
	d.routes.Read(ev.GuildID, func(t *routing.Table) {
		if followed = t.IsFollowed(ev.ThreadID); !followed {
			return
		}
		roles = t.FollowRoles()
		if suppressed = routing.ShouldSuppress(ev.AuthorRoleIDs, roles); suppressed {
			return
		}
		targets = t.FollowTargets(ev.ParentForumID)
	})

	switch {
	case !followed:
		return d.skip(rep, SkipNotFollowed, "thread_id", ev.ThreadID)
	case suppressed:
		return d.skip(rep, SkipSuppressed, "thread_id", ev.ThreadID, "author", ev.AuthorID)
	case len(targets) == 0:
		// Followed thread whose forum is no longer routed.
		return d.skip(rep, SkipNoTargets, "thread_id", ev.ThreadID, "forum_id", ev.ParentForumID)
	}

	mentions := roles
	if d.roles != nil {
		mentions = d.roles.LiveRoles(ev.GuildID, roles)
	}

	d.logger.Info("Reply in followed thread",
		"dispatch_id", rep.ID,
		"guild", ev.GuildID,
		"thread_id", ev.ThreadID,
		"author", ev.AuthorID,
		"targets", len(targets),
		"mentions", len(mentions))

	rep.Outcomes = d.deliver(ctx, rep, targets, func(ctx context.Context, target forumlink.ID) error {
		return d.notifier.NotifyReply(ctx, target, ev, mentions)
	})
	return d.finish(rep)
}

// deliver sends to every target concurrently. One target failing does not
// affect the others.
func (d *Dispatcher) deliver(ctx context.Context, rep Report, targets []forumlink.ID, send func(context.Context, forumlink.ID) error) []Outcome {
	outcomes := make([]Outcome, len(targets))
	var wg sync.WaitGroup
	for i, target := range targets {
		outcomes[i].Target = target
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := send(ctx, target); err != nil {
				outcomes[i].Err = fmt.Errorf("deliver to %s: %w", target, err)
				metrics.NotificationsFailed.WithLabelValues(string(rep.Kind)).Inc()
				d.logger.Warn("Notification delivery failed",
					"dispatch_id", rep.ID,
					"guild", rep.Guild,
					"target", target,
					"error", err)
				return
			}
			metrics.NotificationsSent.WithLabelValues(string(rep.Kind)).Inc()
			d.logger.Debug("Notification delivered", "dispatch_id", rep.ID, "target", target)
		}()
	}
	wg.Wait()
	return outcomes
}

func (d *Dispatcher) skip(rep Report, reason SkipReason, args ...any) Report {
	rep.Skip = reason
	metrics.DispatchSkipped.WithLabelValues(string(rep.Kind), string(reason)).Inc()
	d.logger.Debug("Dispatch skipped",
		append([]any{"dispatch_id", rep.ID, "kind", rep.Kind, "guild", rep.Guild, "reason", reason}, args...)...)
	return rep
}

func (d *Dispatcher) finish(rep Report) Report {
	if rep.Failed() > 0 {
		d.logger.Warn("Dispatch completed with failures",
			"dispatch_id", rep.ID,
			"kind", rep.Kind,
			"guild", rep.Guild,
			"delivered", rep.Delivered(),
			"failed", rep.Failed())
		return rep
	}
	d.logger.Info("Dispatch completed",
		"dispatch_id", rep.ID,
		"kind", rep.Kind,
		"guild", rep.Guild,
		"delivered", rep.Delivered())
	return rep
}
