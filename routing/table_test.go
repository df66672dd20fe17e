package routing

import (
	"errors"
	"testing"

	"forumlinkbot/pkg/forumlink"
)

func TestAddPair(t *testing.T) {
	tests := []struct {
		name     string
		policy   Policy
		existing []forumlink.RoutingPair
		forum    forumlink.ID
		newT     forumlink.ID
		followT  forumlink.ID
		wantErr  error
		wantLen  int
	}{
		{
			name:    "first pair",
			policy:  DefaultPolicy(),
			forum:   "10",
			newT:    "20",
			followT: "30",
			wantLen: 1,
		},
		{
			name:     "exact duplicate rejected",
			policy:   DefaultPolicy(),
			existing: []forumlink.RoutingPair{{ForumID: "10", NewThreadTargetID: "20", FollowTargetID: "30"}},
			forum:    "10",
			newT:     "20",
			followT:  "30",
			wantErr:  ErrPairExists,
			wantLen:  1,
		},
		{
			name:     "exact duplicate allowed when policy is off",
			policy:   Policy{},
			existing: []forumlink.RoutingPair{{ForumID: "10", NewThreadTargetID: "20", FollowTargetID: "30"}},
			forum:    "10",
			newT:     "20",
			followT:  "30",
			wantLen:  2,
		},
		{
			name:     "same forum different follow target is fan-out",
			policy:   DefaultPolicy(),
			existing: []forumlink.RoutingPair{{ForumID: "10", NewThreadTargetID: "20", FollowTargetID: "30"}},
			forum:    "10",
			newT:     "20",
			followT:  "31",
			wantLen:  2,
		},
		{
			name:    "missing forum",
			policy:  DefaultPolicy(),
			newT:    "20",
			wantErr: ErrMissingID,
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tbl := FromConfig(&forumlink.GuildConfig{Pairs: tt.existing}, tt.policy)
			err := tbl.AddPair(tt.forum, tt.newT, tt.followT)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AddPair() error = %v, want %v", err, tt.wantErr)
			}
			if err != nil && !IsValidation(err) {
				t.Errorf("AddPair() error %v is not a ValidationError", err)
			}
			if got := len(tbl.Pairs()); got != tt.wantLen {
				t.Errorf("len(Pairs()) = %d, want %d", got, tt.wantLen)
			}
		})
	}
}

func TestAddPairSingleTargetFillsBoth(t *testing.T) {
	tbl := NewTable(DefaultPolicy())
	if err := tbl.AddPair("10", "20", ""); err != nil {
		t.Fatalf("AddPair() error = %v", err)
	}
	p := tbl.Pairs()[0]
	if p.NewThreadTargetID != "20" || p.FollowTargetID != "20" {
		t.Errorf("pair = %+v, want both targets 20", p)
	}
}

func TestRemovePair(t *testing.T) {
	tbl := NewTable(DefaultPolicy())
	for _, f := range []forumlink.ID{"1", "2", "3"} {
		if err := tbl.AddPair(f, "20", "30"); err != nil {
			t.Fatalf("AddPair(%s) error = %v", f, err)
		}
	}

	for _, idx := range []int{0, -1, 4} {
		if _, err := tbl.RemovePair(idx); !errors.Is(err, ErrIndexOutOfRange) {
			t.Errorf("RemovePair(%d) error = %v, want ErrIndexOutOfRange", idx, err)
		}
	}

	removed, err := tbl.RemovePair(2)
	if err != nil {
		t.Fatalf("RemovePair(2) error = %v", err)
	}
	if removed.ForumID != "2" {
		t.Errorf("removed forum = %s, want 2", removed.ForumID)
	}
	pairs := tbl.Pairs()
	if len(pairs) != 2 || pairs[0].ForumID != "1" || pairs[1].ForumID != "3" {
		t.Errorf("Pairs() after removal = %+v", pairs)
	}
}

func TestRemovePairEmptyTable(t *testing.T) {
	_, err := NewTable(DefaultPolicy()).RemovePair(1)
	if !errors.Is(err, ErrIndexOutOfRange) {
		t.Fatalf("RemovePair() error = %v, want ErrIndexOutOfRange", err)
	}
}

func TestFollowRoles(t *testing.T) {
	tbl := NewTable(DefaultPolicy())

	if err := tbl.SetFollowRoles(nil); !errors.Is(err, ErrNoRoles) {
		t.Errorf("SetFollowRoles(nil) error = %v, want ErrNoRoles", err)
	}
	if err := tbl.SetFollowRoles(forumlink.IDs("5", "6", "5")); err != nil {
		t.Fatalf("SetFollowRoles() error = %v", err)
	}
	if got := tbl.FollowRoles(); len(got) != 2 {
		t.Errorf("FollowRoles() = %v, want 2 distinct roles", got)
	}
	if err := tbl.AddFollowRole("5"); !errors.Is(err, ErrRoleExists) {
		t.Errorf("AddFollowRole(existing) error = %v, want ErrRoleExists", err)
	}
	if err := tbl.AddFollowRole("7"); err != nil {
		t.Errorf("AddFollowRole(7) error = %v", err)
	}
	if err := tbl.RemoveFollowRole("6"); err != nil {
		t.Errorf("RemoveFollowRole(6) error = %v", err)
	}
	if err := tbl.RemoveFollowRole("6"); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("RemoveFollowRole(6) twice error = %v, want ErrRoleNotFound", err)
	}
	got := tbl.FollowRoles()
	if len(got) != 2 || got[0] != "5" || got[1] != "7" {
		t.Errorf("FollowRoles() = %v, want [5 7]", got)
	}

	tbl.ClearFollowRoles()
	if got := tbl.FollowRoles(); len(got) != 0 || got == nil {
		t.Errorf("FollowRoles() after clear = %#v, want empty non-nil", got)
	}
}

func TestSetFollowRolesEmptyAllowedByPolicy(t *testing.T) {
	tbl := FromConfig(&forumlink.GuildConfig{FollowRoles: forumlink.IDs("5")}, Policy{})
	if err := tbl.SetFollowRoles(nil); err != nil {
		t.Fatalf("SetFollowRoles(nil) error = %v", err)
	}
	if got := tbl.FollowRoles(); len(got) != 0 {
		t.Errorf("FollowRoles() = %v, want empty", got)
	}
}

func TestFollowThread(t *testing.T) {
	tbl := NewTable(DefaultPolicy())
	if err := tbl.FollowThread("99", "10"); !errors.Is(err, ErrUnknownForum) {
		t.Fatalf("FollowThread() before pair error = %v, want ErrUnknownForum", err)
	}
	if err := tbl.AddPair("10", "20", "30"); err != nil {
		t.Fatal(err)
	}
	if err := tbl.FollowThread("99", "10"); err != nil {
		t.Fatalf("FollowThread() error = %v", err)
	}
	if err := tbl.FollowThread("99", "10"); !errors.Is(err, ErrAlreadyFollowed) {
		t.Errorf("FollowThread() twice error = %v, want ErrAlreadyFollowed", err)
	}
	if !tbl.IsFollowed("99") {
		t.Error("IsFollowed(99) = false after follow")
	}

	// Removing the only pair leaves the follow in place.
	if _, err := tbl.RemovePair(1); err != nil {
		t.Fatal(err)
	}
	if !tbl.IsFollowed("99") {
		t.Error("IsFollowed(99) = false after pair removal, want orphaned follow kept")
	}
	if got := tbl.FollowTargets("10"); len(got) != 0 {
		t.Errorf("FollowTargets(10) = %v, want none", got)
	}

	if err := tbl.UnfollowThread("99"); err != nil {
		t.Fatalf("UnfollowThread() error = %v", err)
	}
	if err := tbl.UnfollowThread("99"); !errors.Is(err, ErrNotFollowed) {
		t.Errorf("UnfollowThread() twice error = %v, want ErrNotFollowed", err)
	}
}

func TestMutationsKeepInvariants(t *testing.T) {
	tbl := NewTable(DefaultPolicy())
	added := map[forumlink.ID]bool{}

	steps := []func() error{
		func() error { return tbl.AddPair("10", "20", "") },
		func() error { return tbl.AddPair("11", "21", "31") },
		func() error { added["1"] = true; return tbl.FollowThread("1", "10") },
		func() error { added["2"] = true; return tbl.FollowThread("2", "11") },
		func() error { _, err := tbl.RemovePair(1); return err },
		func() error { delete(added, "2"); return tbl.UnfollowThread("2") },
		func() error { return tbl.FollowThread("3", "10") }, // rejected, forum gone
		func() error { return tbl.SetFollowRoles(forumlink.IDs("5")) },
	}
	for i, step := range steps {
		if err := step(); err != nil && !IsValidation(err) {
			t.Fatalf("step %d: unexpected error %v", i, err)
		}
	}

	for _, p := range tbl.Pairs() {
		if p.NewThreadTargetID == "" || p.FollowTargetID == "" {
			t.Errorf("pair %+v has an empty target", p)
		}
	}
	for _, th := range tbl.FollowedThreads() {
		if !added[th] {
			t.Errorf("followed thread %s was never added or was removed", th)
		}
	}
}

func TestConfigIsACopy(t *testing.T) {
	tbl := NewTable(DefaultPolicy())
	if err := tbl.AddPair("10", "20", "30"); err != nil {
		t.Fatal(err)
	}
	cfg := tbl.Config()
	cfg.Pairs[0].ForumID = "changed"
	if tbl.Pairs()[0].ForumID != "10" {
		t.Error("mutating Config() result changed the table")
	}
}
