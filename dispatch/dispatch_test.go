package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"reflect"
	"sort"
	"sync"
	"testing"

	"forumlinkbot/pkg/forumlink"
	"forumlinkbot/routing"
)

type sent struct {
	kind     Kind
	target   forumlink.ID
	mentions []forumlink.ID
	content  string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sent
	fail map[forumlink.ID]bool
}

func (f *fakeNotifier) record(s sent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[s.target] {
		return errors.New("missing access")
	}
	f.sent = append(f.sent, s)
	return nil
}

func (f *fakeNotifier) NotifyNewThread(_ context.Context, target forumlink.ID, ev *forumlink.ThreadCreated) error {
	return f.record(sent{kind: KindNewThread, target: target, content: ev.Title})
}

func (f *fakeNotifier) NotifyReply(_ context.Context, target forumlink.ID, ev *forumlink.MessagePosted, mentions []forumlink.ID) error {
	return f.record(sent{kind: KindReply, target: target, mentions: mentions, content: ev.Content})
}

func (f *fakeNotifier) targets() []forumlink.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []forumlink.ID
	for _, s := range f.sent {
		out = append(out, s.target)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type liveRoles map[forumlink.ID]bool

func (l liveRoles) LiveRoles(_ forumlink.ID, roles []forumlink.ID) []forumlink.ID {
	var out []forumlink.ID
	for _, r := range roles {
		if l[r] {
			out = append(out, r)
		}
	}
	return out
}

const guild forumlink.ID = "1"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func setup(t *testing.T) (*routing.Registry, *fakeNotifier, *Dispatcher) {
	t.Helper()
	reg := routing.NewRegistry(nil, routing.DefaultPolicy(), nil, testLogger())
	n := &fakeNotifier{fail: map[forumlink.ID]bool{}}
	return reg, n, New(reg, n, nil, testLogger())
}

func reply(roles ...string) *forumlink.MessagePosted {
	return &forumlink.MessagePosted{
		GuildID:       guild,
		ThreadID:      "99",
		ParentForumID: "10",
		AuthorID:      "500",
		AuthorRoleIDs: forumlink.IDs(roles...),
		Content:       "hello there",
		Permalink:     "https://discord.com/channels/1/99/1000",
	}
}

// Walks the follow lifecycle of one thread end to end.
func TestDispatchScenarios(t *testing.T) {
	ctx := context.Background()
	reg, n, d := setup(t)

	if err := reg.AddPair(ctx, guild, "10", "20", "30"); err != nil {
		t.Fatal(err)
	}

	rep := d.ThreadCreated(ctx, &forumlink.ThreadCreated{GuildID: guild, ForumID: "10", ThreadID: "99", Title: "Ride report"})
	if got := n.targets(); !reflect.DeepEqual(got, forumlink.IDs("20")) {
		t.Fatalf("new thread sent to %v, want [20]", got)
	}
	if rep.Delivered() != 1 || rep.Skipped() {
		t.Errorf("new thread report = %+v", rep)
	}

	if err := reg.FollowThread(ctx, guild, "99", "10"); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetFollowRoles(ctx, guild, forumlink.IDs("5")); err != nil {
		t.Fatal(err)
	}

	n.sent = nil
	if rep := d.MessagePosted(ctx, reply("5")); rep.Skip != SkipSuppressed || len(n.sent) != 0 {
		t.Errorf("follow-role author: skip = %q, sent = %v; want suppressed and nothing sent", rep.Skip, n.sent)
	}

	rep = d.MessagePosted(ctx, reply("7"))
	if got := n.targets(); !reflect.DeepEqual(got, forumlink.IDs("30")) {
		t.Fatalf("reply sent to %v, want [30]", got)
	}
	if rep.Delivered() != 1 || !reflect.DeepEqual(n.sent[0].mentions, forumlink.IDs("5")) {
		t.Errorf("reply report = %+v, mentions = %v", rep, n.sent[0].mentions)
	}

	if err := reg.UnfollowThread(ctx, guild, "99"); err != nil {
		t.Fatal(err)
	}
	n.sent = nil
	if rep := d.MessagePosted(ctx, reply("7")); rep.Skip != SkipNotFollowed || len(n.sent) != 0 {
		t.Errorf("after unfollow: skip = %q, sent = %v", rep.Skip, n.sent)
	}
}

func TestOrphanedFollowIsInert(t *testing.T) {
	ctx := context.Background()
	reg, n, d := setup(t)

	if err := reg.AddPair(ctx, guild, "10", "20", "30"); err != nil {
		t.Fatal(err)
	}
	if err := reg.FollowThread(ctx, guild, "99", "10"); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.RemovePair(ctx, guild, 1); err != nil {
		t.Fatal(err)
	}
	if !reg.IsFollowed(guild, "99") {
		t.Fatal("removing the pair unfollowed the thread")
	}

	rep := d.MessagePosted(ctx, reply("7"))
	if rep.Skip != SkipNoTargets || len(n.sent) != 0 {
		t.Errorf("skip = %q, sent = %v; want no_targets and nothing sent", rep.Skip, n.sent)
	}
}

func TestUnfollowedThreadSkipsSuppressionCheck(t *testing.T) {
	ctx := context.Background()
	reg, _, d := setup(t)
	if err := reg.AddPair(ctx, guild, "10", "20", "30"); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetFollowRoles(ctx, guild, forumlink.IDs("5")); err != nil {
		t.Fatal(err)
	}

	// Author holds a follow role, but the thread is not followed.
	if rep := d.MessagePosted(ctx, reply("5")); rep.Skip != SkipNotFollowed {
		t.Errorf("skip = %q, want %q", rep.Skip, SkipNotFollowed)
	}
}

func TestThreadCreatedWithoutPairs(t *testing.T) {
	_, n, d := setup(t)
	rep := d.ThreadCreated(context.Background(), &forumlink.ThreadCreated{GuildID: guild, ForumID: "10", ThreadID: "99"})
	if rep.Skip != SkipNoTargets || len(rep.Outcomes) != 0 || len(n.sent) != 0 {
		t.Errorf("report = %+v, want no_targets", rep)
	}
}

func TestFanOutIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	reg, n, d := setup(t)
	for _, target := range []forumlink.ID{"20", "21", "22", "23"} {
		if err := reg.AddPair(ctx, guild, "10", target, target); err != nil {
			t.Fatal(err)
		}
	}
	n.fail["22"] = true

	rep := d.ThreadCreated(ctx, &forumlink.ThreadCreated{GuildID: guild, ForumID: "10", ThreadID: "99"})

	if got := n.targets(); !reflect.DeepEqual(got, forumlink.IDs("20", "21", "23")) {
		t.Errorf("delivered to %v, want [20 21 23]", got)
	}
	if rep.Delivered() != 3 || rep.Failed() != 1 || !rep.Partial() {
		t.Errorf("report delivered=%d failed=%d partial=%v", rep.Delivered(), rep.Failed(), rep.Partial())
	}
	for i, want := range forumlink.IDs("20", "21", "22", "23") {
		if rep.Outcomes[i].Target != want {
			t.Errorf("Outcomes[%d].Target = %s, want %s", i, rep.Outcomes[i].Target, want)
		}
	}
	if rep.Outcomes[2].Err == nil {
		t.Error("Outcomes[2].Err = nil, want delivery error")
	}
}

func TestDuplicateTargetsSendTwice(t *testing.T) {
	ctx := context.Background()
	reg, n, d := setup(t)
	if err := reg.AddPair(ctx, guild, "10", "20", "30"); err != nil {
		t.Fatal(err)
	}
	if err := reg.AddPair(ctx, guild, "10", "20", "31"); err != nil {
		t.Fatal(err)
	}

	d.ThreadCreated(ctx, &forumlink.ThreadCreated{GuildID: guild, ForumID: "10", ThreadID: "99"})
	if got := n.targets(); !reflect.DeepEqual(got, forumlink.IDs("20", "20")) {
		t.Errorf("delivered to %v, want [20 20]", got)
	}
}

func TestStaleRolesDroppedFromMentions(t *testing.T) {
	ctx := context.Background()
	reg := routing.NewRegistry(nil, routing.DefaultPolicy(), nil, testLogger())
	n := &fakeNotifier{}
	d := New(reg, n, liveRoles{"5": true}, testLogger())

	if err := reg.AddPair(ctx, guild, "10", "20", "30"); err != nil {
		t.Fatal(err)
	}
	if err := reg.FollowThread(ctx, guild, "99", "10"); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetFollowRoles(ctx, guild, forumlink.IDs("5", "6")); err != nil {
		t.Fatal(err)
	}

	d.MessagePosted(ctx, reply("7"))
	if len(n.sent) != 1 || !reflect.DeepEqual(n.sent[0].mentions, forumlink.IDs("5")) {
		t.Fatalf("sent = %+v, want one reply mentioning [5]", n.sent)
	}
	if got := reg.FollowRoles(guild); !reflect.DeepEqual(got, forumlink.IDs("5", "6")) {
		t.Errorf("stored roles = %v, want [5 6] kept", got)
	}
}

func TestReportHelpers(t *testing.T) {
	fail := errors.New("x")
	tests := []struct {
		name      string
		outcomes  []Outcome
		delivered int
		failed    int
		partial   bool
	}{
		{"none", nil, 0, 0, false},
		{"all ok", []Outcome{{Target: "1"}, {Target: "2"}}, 2, 0, false},
		{"all failed", []Outcome{{Target: "1", Err: fail}}, 0, 1, false},
		{"mixed", []Outcome{{Target: "1"}, {Target: "2", Err: fail}}, 1, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Report{Outcomes: tt.outcomes}
			if r.Delivered() != tt.delivered || r.Failed() != tt.failed || r.Partial() != tt.partial {
				t.Errorf("Delivered=%d Failed=%d Partial=%v, want %d %d %v",
					r.Delivered(), r.Failed(), r.Partial(), tt.delivered, tt.failed, tt.partial)
			}
		})
	}
}
