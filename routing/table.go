// Package routing holds per-guild routing tables and the lock that serializes
// changes to them.
package routing

import (
	"fmt"

	"forumlinkbot/pkg/forumlink"
)

// Policy selects validation behavior that older releases disagreed on.
type Policy struct {
	RejectDuplicatePairs bool // Refuse a pair identical to an existing one
	RequireFollowRoles   bool // Refuse SetFollowRoles with an empty list
}

// DefaultPolicy rejects exact duplicate pairs and empty role assignments.
func DefaultPolicy() Policy {
	return Policy{RejectDuplicatePairs: true, RequireFollowRoles: true}
}

// Table is one guild's routing pairs, follow roles and followed threads.
// It is not safe for concurrent use; Registry guards each table with a lock.
type Table struct {
	policy  Policy
	pairs   []forumlink.RoutingPair
	roles   []forumlink.ID
	threads []forumlink.ID
}

// NewTable returns an empty table.
func NewTable(policy Policy) *Table {
	return &Table{
		policy:  policy,
		pairs:   []forumlink.RoutingPair{},
		roles:   []forumlink.ID{},
		threads: []forumlink.ID{},
	}
}

// FromConfig builds a table from its persisted form.
func FromConfig(cfg *forumlink.GuildConfig, policy Policy) *Table {
	t := NewTable(policy)
	if cfg == nil {
		return t
	}
	t.pairs = append(t.pairs, cfg.Pairs...)
	t.roles = append(t.roles, cfg.FollowRoles...)
	t.threads = append(t.threads, cfg.FollowThreads...)
	return t
}

// Config returns a deep copy of the table in its persisted form.
func (t *Table) Config() *forumlink.GuildConfig {
	return &forumlink.GuildConfig{
		Pairs:         t.Pairs(),
		FollowRoles:   t.FollowRoles(),
		FollowThreads: t.FollowedThreads(),
	}
}

// AddPair appends a routing pair. An empty follow target falls back to the
// new-thread target, matching the old single-target configuration.
func (t *Table) AddPair(forum, newThreadTarget, followTarget forumlink.ID) error {
	if forum == "" || newThreadTarget == "" {
		return invalid(ErrMissingID, "forum and target channel are required")
	}
	if followTarget == "" {
		followTarget = newThreadTarget
	}
	pair := forumlink.RoutingPair{ForumID: forum, NewThreadTargetID: newThreadTarget, FollowTargetID: followTarget}
	if t.policy.RejectDuplicatePairs {
		for _, p := range t.pairs {
			if p == pair {
				return invalid(ErrPairExists, "pair exists")
			}
		}
	}
	t.pairs = append(t.pairs, pair)
	return nil
}

// RemovePair removes the pair at the 1-based index and returns it.
func (t *Table) RemovePair(index int) (forumlink.RoutingPair, error) {
	if index < 1 || index > len(t.pairs) {
		if len(t.pairs) == 0 {
			return forumlink.RoutingPair{}, invalid(ErrIndexOutOfRange, "index out of range: no pairs configured")
		}
		return forumlink.RoutingPair{}, invalid(ErrIndexOutOfRange, fmt.Sprintf("index out of range: valid is 1-%d", len(t.pairs)))
	}
	removed := t.pairs[index-1]
	t.pairs = append(t.pairs[:index-1:index-1], t.pairs[index:]...)
	return removed, nil
}

// Pairs returns a copy of the routing pairs in insertion order.
func (t *Table) Pairs() []forumlink.RoutingPair {
	return append([]forumlink.RoutingPair{}, t.pairs...)
}

// SetFollowRoles replaces the follow role set. Duplicates in roles collapse.
func (t *Table) SetFollowRoles(roles []forumlink.ID) error {
	next := []forumlink.ID{}
	for _, r := range roles {
		if r != "" && !forumlink.Contains(next, r) {
			next = append(next, r)
		}
	}
	if len(next) == 0 && t.policy.RequireFollowRoles {
		return invalid(ErrNoRoles, "at least one role required")
	}
	t.roles = next
	return nil
}

// AddFollowRole adds a single role to the follow role set.
func (t *Table) AddFollowRole(role forumlink.ID) error {
	if role == "" {
		return invalid(ErrMissingID, "role is required")
	}
	if forumlink.Contains(t.roles, role) {
		return invalid(ErrRoleExists, "role already configured")
	}
	t.roles = append(t.roles, role)
	return nil
}

// RemoveFollowRole drops a single role from the follow role set.
func (t *Table) RemoveFollowRole(role forumlink.ID) error {
	for i, r := range t.roles {
		if r == role {
			t.roles = append(t.roles[:i:i], t.roles[i+1:]...)
			return nil
		}
	}
	return invalid(ErrRoleNotFound, "role not configured")
}

// ClearFollowRoles empties the follow role set.
func (t *Table) ClearFollowRoles() {
	t.roles = []forumlink.ID{}
}

// FollowRoles returns a copy of the follow role set.
func (t *Table) FollowRoles() []forumlink.ID {
	return append([]forumlink.ID{}, t.roles...)
}

// FollowThread starts observing thread. The parent forum must be routed by at
// least one pair now; later removal of that pair does not unfollow the thread.
func (t *Table) FollowThread(thread, parentForum forumlink.ID) error {
	if thread == "" {
		return invalid(ErrMissingID, "thread is required")
	}
	if !t.knowsForum(parentForum) {
		return invalid(ErrUnknownForum, "unknown forum")
	}
	if forumlink.Contains(t.threads, thread) {
		return invalid(ErrAlreadyFollowed, "already followed")
	}
	t.threads = append(t.threads, thread)
	return nil
}

// UnfollowThread stops observing thread.
func (t *Table) UnfollowThread(thread forumlink.ID) error {
	for i, id := range t.threads {
		if id == thread {
			t.threads = append(t.threads[:i:i], t.threads[i+1:]...)
			return nil
		}
	}
	return invalid(ErrNotFollowed, "not followed")
}

// FollowedThreads returns a copy of the followed thread set.
func (t *Table) FollowedThreads() []forumlink.ID {
	return append([]forumlink.ID{}, t.threads...)
}

func (t *Table) knowsForum(forum forumlink.ID) bool {
	if forum == "" {
		return false
	}
	for _, p := range t.pairs {
		if p.ForumID == forum {
			return true
		}
	}
	return false
}
