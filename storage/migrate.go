package storage

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/tidwall/jsonc"

	"forumlinkbot/pkg/forumlink"
)

// rawPair accepts every pair shape ever written: the single-target form
// (target_channel_id) and the split form.
type rawPair struct {
	ForumID         forumlink.ID `json:"forum_channel_id"`
	Target          forumlink.ID `json:"target_channel_id"`
	NewThreadTarget forumlink.ID `json:"new_thread_channel_id"`
	FollowTarget    forumlink.ID `json:"follow_channel_id"`
}

type rawGuild struct {
	Pairs         []rawPair
	FollowRoles   []forumlink.ID
	FollowThreads []forumlink.ID

	LegacyRole    forumlink.ID   // follow_ping_role_id
	LegacyRoles   []forumlink.ID // follow_ping_role_ids
	LegacyFollows []forumlink.ID // keys of the follows map
}

// MigrationReport describes what Decode had to change.
type MigrationReport struct {
	FromVersion int
	Steps       []string
}

type migration struct {
	name string
	// before is the first schema version that no longer needs the step.
	// Zero means the step runs on every load.
	before int
	apply  func(g rawGuild) rawGuild
}

// Steps run in order on every guild. Each is a pure function and applying
// the whole list to its own output changes nothing.
var migrations = []migration{
	{name: "ensure-collections", apply: ensureCollections},
	{name: "reconcile-targets", apply: reconcileTargets},
	{name: "fold-legacy-roles", before: 2, apply: foldLegacyRoles},
	{name: "fold-legacy-follows", before: 2, apply: foldLegacyFollows},
	{name: "dedupe", apply: dedupe},
}

// Decode parses a persisted document of any schema version and migrates it
// to the current one. JSONC comments and trailing commas are tolerated.
func Decode(data []byte) (*forumlink.State, MigrationReport, error) {
	var doc struct {
		Version int                              `json:"version"`
		Guilds  map[forumlink.ID]json.RawMessage `json:"guilds"`
	}
	if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
		return nil, MigrationReport{}, fmt.Errorf("unmarshal state: %w", err)
	}

	guilds := make(map[forumlink.ID]rawGuild, len(doc.Guilds))
	for id, raw := range doc.Guilds {
		guilds[id] = decodeGuild(raw)
	}
	state, report := migrate(doc.Version, guilds)
	return state, report, nil
}

func migrate(version int, guilds map[forumlink.ID]rawGuild) (*forumlink.State, MigrationReport) {
	report := MigrationReport{FromVersion: version}
	changed := map[string]bool{}

	for id, g := range guilds {
		for _, m := range migrations {
			if m.before != 0 && version >= m.before {
				continue
			}
			next := m.apply(g)
			if !sameGuild(g, next) {
				changed[m.name] = true
			}
			g = next
		}
		guilds[id] = g
	}
	for _, m := range migrations {
		if changed[m.name] {
			report.Steps = append(report.Steps, m.name)
		}
	}

	state := forumlink.NewState()
	for id, g := range guilds {
		cfg := forumlink.NewGuildConfig()
		for _, p := range g.Pairs {
			cfg.Pairs = append(cfg.Pairs, forumlink.RoutingPair{
				ForumID:           p.ForumID,
				NewThreadTargetID: p.NewThreadTarget,
				FollowTargetID:    p.FollowTarget,
			})
		}
		cfg.FollowRoles = append(cfg.FollowRoles, g.FollowRoles...)
		cfg.FollowThreads = append(cfg.FollowThreads, g.FollowThreads...)
		state.Guilds[id] = cfg
	}
	return state, report
}

// decodeGuild reads one guild entry field by field so a malformed value only
// costs that value, not the guild or the document.
func decodeGuild(raw json.RawMessage) rawGuild {
	var g rawGuild
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return g
	}

	var pairs []json.RawMessage
	if err := json.Unmarshal(fields["forum_pairs"], &pairs); err == nil && pairs != nil {
		g.Pairs = []rawPair{}
		for _, rp := range pairs {
			var p rawPair
			if err := json.Unmarshal(rp, &p); err == nil {
				g.Pairs = append(g.Pairs, p)
			}
		}
	}
	g.FollowRoles = decodeIDs(fields["follow_roles"])
	g.FollowThreads = decodeIDs(fields["follow_threads"])
	g.LegacyRoles = decodeIDs(fields["follow_ping_role_ids"])
	if v, ok := fields["follow_ping_role_id"]; ok {
		var id forumlink.ID
		if err := json.Unmarshal(v, &id); err == nil {
			g.LegacyRole = id
		}
	}

	var follows map[forumlink.ID]json.RawMessage
	if err := json.Unmarshal(fields["follows"], &follows); err == nil {
		for id := range follows {
			g.LegacyFollows = append(g.LegacyFollows, id)
		}
		sortIDs(g.LegacyFollows)
	}
	return g
}

func decodeIDs(raw json.RawMessage) []forumlink.ID {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	if items == nil {
		return nil
	}
	out := []forumlink.ID{}
	for _, item := range items {
		var id forumlink.ID
		if err := json.Unmarshal(item, &id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func ensureCollections(g rawGuild) rawGuild {
	if g.Pairs == nil {
		g.Pairs = []rawPair{}
	}
	if g.FollowRoles == nil {
		g.FollowRoles = []forumlink.ID{}
	}
	if g.FollowThreads == nil {
		g.FollowThreads = []forumlink.ID{}
	}
	return g
}

func reconcileTargets(g rawGuild) rawGuild {
	pairs := make([]rawPair, 0, len(g.Pairs))
	for _, p := range g.Pairs {
		if p.ForumID == "" {
			continue
		}
		switch {
		case p.NewThreadTarget == "" && p.FollowTarget == "":
			p.NewThreadTarget = p.Target
			p.FollowTarget = p.Target
		case p.NewThreadTarget == "":
			p.NewThreadTarget = p.FollowTarget
		case p.FollowTarget == "":
			p.FollowTarget = p.NewThreadTarget
		}
		p.Target = ""
		if p.NewThreadTarget == "" {
			continue
		}
		pairs = append(pairs, p)
	}
	g.Pairs = pairs
	return g
}

func foldLegacyRoles(g rawGuild) rawGuild {
	roles := append([]forumlink.ID{}, g.FollowRoles...)
	for _, r := range append(append([]forumlink.ID{}, g.LegacyRoles...), g.LegacyRole) {
		if r != "" && !forumlink.Contains(roles, r) {
			roles = append(roles, r)
		}
	}
	g.FollowRoles = roles
	g.LegacyRole = ""
	g.LegacyRoles = nil
	return g
}

func foldLegacyFollows(g rawGuild) rawGuild {
	threads := append([]forumlink.ID{}, g.FollowThreads...)
	threads = append(threads, g.LegacyFollows...)
	g.FollowThreads = threads
	g.LegacyFollows = nil
	return g
}

func dedupe(g rawGuild) rawGuild {
	g.FollowRoles = uniqueIDs(g.FollowRoles)
	g.FollowThreads = uniqueIDs(g.FollowThreads)
	return g
}

func uniqueIDs(ids []forumlink.ID) []forumlink.ID {
	out := make([]forumlink.ID, 0, len(ids))
	for _, id := range ids {
		if id != "" && !forumlink.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func sortIDs(ids []forumlink.ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sameGuild(a, b rawGuild) bool {
	if len(a.Pairs) != len(b.Pairs) ||
		!sameIDs(a.FollowRoles, b.FollowRoles) ||
		!sameIDs(a.FollowThreads, b.FollowThreads) ||
		!sameIDs(a.LegacyRoles, b.LegacyRoles) ||
		!sameIDs(a.LegacyFollows, b.LegacyFollows) ||
		a.LegacyRole != b.LegacyRole {
		return false
	}
	if (a.Pairs == nil) != (b.Pairs == nil) ||
		(a.FollowRoles == nil) != (b.FollowRoles == nil) ||
		(a.FollowThreads == nil) != (b.FollowThreads == nil) {
		return false
	}
	for i := range a.Pairs {
		if a.Pairs[i] != b.Pairs[i] {
			return false
		}
	}
	return true
}

func sameIDs(a, b []forumlink.ID) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
