package storage

import (
	"encoding/json"
	"reflect"
	"testing"

	"forumlinkbot/pkg/forumlink"
)

// Documents in every shape the bot has written over time.
var migrationInputs = map[string]string{
	"legacy single target": `{
		"guilds": {
			"111": {
				"forum_pairs": [{"forum_channel_id": 10, "target_channel_id": 20}],
				"follows": {"99": {"target_channel_id": 20, "created_by": 5}},
				"follow_ping_role_ids": [5],
				"follow_ping_role_id": 6
			}
		}
	}`,
	"single role only": `{"guilds": {"111": {"follow_ping_role_id": 7}}}`,
	"half migrated pair": `{
		"guilds": {
			"111": {
				"forum_pairs": [
					{"forum_channel_id": "10", "new_thread_channel_id": "20"},
					{"forum_channel_id": "11", "follow_channel_id": "31"},
					{"forum_channel_id": "12", "new_thread_channel_id": "22", "follow_channel_id": "32", "target_channel_id": "99"}
				]
			}
		}
	}`,
	"current": `{
		"version": 2,
		"guilds": {
			"111": {
				"forum_pairs": [{"forum_channel_id": "10", "new_thread_channel_id": "20", "follow_channel_id": "30"}],
				"follow_roles": ["5"],
				"follow_threads": ["99"]
			}
		}
	}`,
	"missing collections": `{"version": 2, "guilds": {"111": {}}}`,
	"null guild":          `{"guilds": {"111": null}}`,
	"garbage guild":       `{"guilds": {"111": "oops", "222": {"forum_pairs": "nope"}}}`,
	"extra fields":        `{"owner": "x", "guilds": {"111": {"color": 3, "forum_pairs": [{"forum_channel_id": 10, "target_channel_id": 20, "note": "hi"}]}}}`,
	"jsonc": `{
		// hand edited
		"guilds": {
			"111": {
				"forum_pairs": [{"forum_channel_id": "10", "target_channel_id": "20",},],
			},
		},
	}`,
}

func TestDecodeIsIdempotent(t *testing.T) {
	for name, input := range migrationInputs {
		t.Run(name, func(t *testing.T) {
			first, _, err := Decode([]byte(input))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			data, err := Encode(first)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			second, report, err := Decode(data)
			if err != nil {
				t.Fatalf("Decode(Encode()) error = %v", err)
			}
			if !reflect.DeepEqual(first, second) {
				t.Errorf("second migration changed the state\nfirst:  %+v\nsecond: %+v", first, second)
			}
			if len(report.Steps) != 0 {
				t.Errorf("second migration ran steps %v, want none", report.Steps)
			}
		})
	}
}

func TestDecodeSatisfiesInvariants(t *testing.T) {
	for name, input := range migrationInputs {
		t.Run(name, func(t *testing.T) {
			state, _, err := Decode([]byte(input))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if state.Version != forumlink.CurrentVersion {
				t.Errorf("Version = %d, want %d", state.Version, forumlink.CurrentVersion)
			}
			for id, g := range state.Guilds {
				if g.Pairs == nil || g.FollowRoles == nil || g.FollowThreads == nil {
					t.Errorf("guild %s has nil collection: %+v", id, g)
				}
				for _, p := range g.Pairs {
					if p.ForumID == "" || p.NewThreadTargetID == "" || p.FollowTargetID == "" {
						t.Errorf("guild %s pair %+v has an empty field", id, p)
					}
				}
			}
		})
	}
}

func TestDecodeLegacySingleTarget(t *testing.T) {
	state, report, err := Decode([]byte(migrationInputs["legacy single target"]))
	if err != nil {
		t.Fatal(err)
	}
	g := state.Guilds["111"]
	want := []forumlink.RoutingPair{{ForumID: "10", NewThreadTargetID: "20", FollowTargetID: "20"}}
	if !reflect.DeepEqual(g.Pairs, want) {
		t.Errorf("Pairs = %+v, want %+v", g.Pairs, want)
	}
	if !reflect.DeepEqual(g.FollowRoles, forumlink.IDs("5", "6")) {
		t.Errorf("FollowRoles = %v, want [5 6]", g.FollowRoles)
	}
	if !reflect.DeepEqual(g.FollowThreads, forumlink.IDs("99")) {
		t.Errorf("FollowThreads = %v, want [99]", g.FollowThreads)
	}
	if report.FromVersion != 0 || len(report.Steps) == 0 {
		t.Errorf("report = %+v, want steps from version 0", report)
	}
}

func TestDecodeBackfillsTargets(t *testing.T) {
	state, _, err := Decode([]byte(migrationInputs["half migrated pair"]))
	if err != nil {
		t.Fatal(err)
	}
	want := []forumlink.RoutingPair{
		{ForumID: "10", NewThreadTargetID: "20", FollowTargetID: "20"},
		{ForumID: "11", NewThreadTargetID: "31", FollowTargetID: "31"},
		{ForumID: "12", NewThreadTargetID: "22", FollowTargetID: "32"},
	}
	if got := state.Guilds["111"].Pairs; !reflect.DeepEqual(got, want) {
		t.Errorf("Pairs = %+v, want %+v", got, want)
	}
}

func TestDecodeSingleRoleAlreadyPresent(t *testing.T) {
	state, _, err := Decode([]byte(`{"guilds": {"1": {"follow_roles": ["7"], "follow_ping_role_id": "7"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	if got := state.Guilds["1"].FollowRoles; !reflect.DeepEqual(got, forumlink.IDs("7")) {
		t.Errorf("FollowRoles = %v, want [7]", got)
	}
}

func TestDecodeDropsUnresolvablePairs(t *testing.T) {
	input := `{"guilds": {"1": {"forum_pairs": [
		{"target_channel_id": "20"},
		{"forum_channel_id": "10"},
		{"forum_channel_id": {"nested": true}, "target_channel_id": "20"},
		{"forum_channel_id": "11", "target_channel_id": "21"}
	]}}}`
	state, _, err := Decode([]byte(input))
	if err != nil {
		t.Fatal(err)
	}
	want := []forumlink.RoutingPair{{ForumID: "11", NewThreadTargetID: "21", FollowTargetID: "21"}}
	if got := state.Guilds["1"].Pairs; !reflect.DeepEqual(got, want) {
		t.Errorf("Pairs = %+v, want %+v", got, want)
	}
}

func TestDecodeGarbageGuildBecomesEmpty(t *testing.T) {
	state, _, err := Decode([]byte(migrationInputs["garbage guild"]))
	if err != nil {
		t.Fatal(err)
	}
	for _, id := range []forumlink.ID{"111", "222"} {
		g := state.Guilds[id]
		if g == nil || len(g.Pairs) != 0 {
			t.Errorf("guild %s = %+v, want empty", id, g)
		}
	}
}

func TestDecodeRejectsNonJSON(t *testing.T) {
	if _, _, err := Decode([]byte("not json")); err == nil {
		t.Error("Decode() error = nil, want error")
	}
}

func TestEncodeWritesCurrentShapeOnly(t *testing.T) {
	state, _, err := Decode([]byte(migrationInputs["legacy single target"]))
	if err != nil {
		t.Fatal(err)
	}
	data, err := Encode(state)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatal(err)
	}
	guild := doc["guilds"].(map[string]any)["111"].(map[string]any)
	for _, legacy := range []string{"follows", "follow_ping_role_id", "follow_ping_role_ids"} {
		if _, ok := guild[legacy]; ok {
			t.Errorf("encoded guild still has legacy field %q", legacy)
		}
	}
	pair := guild["forum_pairs"].([]any)[0].(map[string]any)
	if _, ok := pair["target_channel_id"]; ok {
		t.Error("encoded pair still has target_channel_id")
	}
	if doc["version"].(float64) != forumlink.CurrentVersion {
		t.Errorf("version = %v", doc["version"])
	}
}
