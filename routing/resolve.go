package routing

import "forumlinkbot/pkg/forumlink"

// NewThreadTargets returns the new-thread target of every pair routing forum,
// in insertion order. Duplicates are kept: a forum may feed one channel twice.
func (t *Table) NewThreadTargets(forum forumlink.ID) []forumlink.ID {
	var out []forumlink.ID
	for _, p := range t.pairs {
		if p.ForumID == forum {
			out = append(out, p.NewThreadTargetID)
		}
	}
	return out
}

// FollowTargets returns the follow target of every pair routing forum.
func (t *Table) FollowTargets(forum forumlink.ID) []forumlink.ID {
	var out []forumlink.ID
	for _, p := range t.pairs {
		if p.ForumID == forum {
			out = append(out, p.FollowTargetID)
		}
	}
	return out
}

// IsFollowed reports whether thread is in the followed set.
func (t *Table) IsFollowed(thread forumlink.ID) bool {
	return forumlink.Contains(t.threads, thread)
}

// ShouldSuppress reports whether a reply by an author holding authorRoles must
// not be announced. It is true exactly when the two role sets intersect.
func ShouldSuppress(authorRoles, followRoles []forumlink.ID) bool {
	if len(followRoles) == 0 {
		return false
	}
	for _, r := range authorRoles {
		if forumlink.Contains(followRoles, r) {
			return true
		}
	}
	return false
}
