package routing

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"forumlinkbot/pkg/forumlink"
)

// Saver persists the full routing state.
type Saver interface {
	Save(ctx context.Context, state *forumlink.State) error
}

type guildEntry struct {
	mu    sync.Mutex
	table *Table
}

// Registry owns every guild's table. Each guild has its own lock, held for
// the whole of a mutation and the save that follows it.
type Registry struct {
	policy Policy
	saver  Saver
	logger *slog.Logger

	mu     sync.Mutex // Guards guilds
	guilds map[forumlink.ID]*guildEntry

	// Lock order is guild lock, then saveMu. Never take a guild lock while holding saveMu.
	saveMu sync.Mutex
	image  map[forumlink.ID]*forumlink.GuildConfig
}

// NewRegistry builds a registry from a loaded state.
func NewRegistry(state *forumlink.State, policy Policy, saver Saver, logger *slog.Logger) *Registry {
	r := &Registry{
		policy: policy,
		saver:  saver,
		logger: logger,
		guilds: make(map[forumlink.ID]*guildEntry),
		image:  make(map[forumlink.ID]*forumlink.GuildConfig),
	}
	if state == nil {
		return r
	}
	for id, cfg := range state.Guilds {
		t := FromConfig(cfg, policy)
		r.guilds[id] = &guildEntry{table: t}
		r.image[id] = t.Config()
	}
	return r
}

func (r *Registry) entry(guild forumlink.ID) *guildEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.guilds[guild]
	if !ok {
		e = &guildEntry{table: NewTable(r.policy)}
		r.guilds[guild] = e
	}
	return e
}

// Read runs fn with the guild's table while holding the guild lock. fn must
// not retain the table or call back into the registry.
func (r *Registry) Read(guild forumlink.ID, fn func(t *Table)) {
	e := r.entry(guild)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(e.table)
}

func (r *Registry) mutate(ctx context.Context, guild forumlink.ID, op string, fn func(t *Table) error) error {
	e := r.entry(guild)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := fn(e.table); err != nil {
		r.logger.Debug("Routing change rejected", "guild", guild, "op", op, "reason", err.Error())
		return err
	}
	r.logger.Info("Routing table updated", "guild", guild, "op", op)
	r.persist(ctx, guild, e.table.Config())
	return nil
}

// persist writes the whole state. A failed save leaves memory as it is.
func (r *Registry) persist(ctx context.Context, guild forumlink.ID, cfg *forumlink.GuildConfig) {
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	r.image[guild] = cfg
	if r.saver == nil {
		return
	}
	state := &forumlink.State{
		Version: forumlink.CurrentVersion,
		Guilds:  make(map[forumlink.ID]*forumlink.GuildConfig, len(r.image)),
	}
	for id, c := range r.image {
		state.Guilds[id] = c
	}
	if err := r.saver.Save(ctx, state); err != nil {
		r.logger.Error("Failed to persist routing state", "guild", guild, "error", err)
	}
}

// AddPair routes forum to the given targets.
func (r *Registry) AddPair(ctx context.Context, guild, forum, newThreadTarget, followTarget forumlink.ID) error {
	return r.mutate(ctx, guild, "add_pair", func(t *Table) error {
		return t.AddPair(forum, newThreadTarget, followTarget)
	})
}

// RemovePair removes the pair at the 1-based index.
func (r *Registry) RemovePair(ctx context.Context, guild forumlink.ID, index int) (forumlink.RoutingPair, error) {
	var removed forumlink.RoutingPair
	err := r.mutate(ctx, guild, "remove_pair", func(t *Table) error {
		var err error
		removed, err = t.RemovePair(index)
		return err
	})
	return removed, err
}

// Pairs lists the guild's routing pairs.
func (r *Registry) Pairs(guild forumlink.ID) []forumlink.RoutingPair {
	var out []forumlink.RoutingPair
	r.Read(guild, func(t *Table) { out = t.Pairs() })
	return out
}

// SetFollowRoles replaces the guild's follow roles.
func (r *Registry) SetFollowRoles(ctx context.Context, guild forumlink.ID, roles []forumlink.ID) error {
	return r.mutate(ctx, guild, "set_follow_roles", func(t *Table) error {
		return t.SetFollowRoles(roles)
	})
}

// AddFollowRole adds one follow role.
func (r *Registry) AddFollowRole(ctx context.Context, guild, role forumlink.ID) error {
	return r.mutate(ctx, guild, "add_follow_role", func(t *Table) error {
		return t.AddFollowRole(role)
	})
}

// RemoveFollowRole removes one follow role.
func (r *Registry) RemoveFollowRole(ctx context.Context, guild, role forumlink.ID) error {
	return r.mutate(ctx, guild, "remove_follow_role", func(t *Table) error {
		return t.RemoveFollowRole(role)
	})
}

// ClearFollowRoles empties the guild's follow roles.
func (r *Registry) ClearFollowRoles(ctx context.Context, guild forumlink.ID) error {
	return r.mutate(ctx, guild, "clear_follow_roles", func(t *Table) error {
		t.ClearFollowRoles()
		return nil
	})
}

// FollowRoles lists the guild's follow roles.
func (r *Registry) FollowRoles(guild forumlink.ID) []forumlink.ID {
	var out []forumlink.ID
	r.Read(guild, func(t *Table) { out = t.FollowRoles() })
	return out
}

// FollowThread follows thread under parentForum.
func (r *Registry) FollowThread(ctx context.Context, guild, thread, parentForum forumlink.ID) error {
	return r.mutate(ctx, guild, "follow_thread", func(t *Table) error {
		return t.FollowThread(thread, parentForum)
	})
}

// UnfollowThread stops following thread.
func (r *Registry) UnfollowThread(ctx context.Context, guild, thread forumlink.ID) error {
	return r.mutate(ctx, guild, "unfollow_thread", func(t *Table) error {
		return t.UnfollowThread(thread)
	})
}

// IsFollowed reports whether thread is followed in guild.
func (r *Registry) IsFollowed(guild, thread forumlink.ID) bool {
	var ok bool
	r.Read(guild, func(t *Table) { ok = t.IsFollowed(thread) })
	return ok
}

// FollowedThreads lists the guild's followed threads.
func (r *Registry) FollowedThreads(guild forumlink.ID) []forumlink.ID {
	var out []forumlink.ID
	r.Read(guild, func(t *Table) { out = t.FollowedThreads() })
	return out
}

// Snapshot returns a copy of one guild's table in persisted form.
func (r *Registry) Snapshot(guild forumlink.ID) *forumlink.GuildConfig {
	var cfg *forumlink.GuildConfig
	r.Read(guild, func(t *Table) { cfg = t.Config() })
	return cfg
}

// Guilds lists every guild the registry has seen, sorted.
func (r *Registry) Guilds() []forumlink.ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]forumlink.ID, 0, len(r.guilds))
	for id := range r.guilds {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
