// Package forumlink contains the core domain types for the forum routing bot.
package forumlink

// CurrentVersion is the schema version written by this build.
const CurrentVersion = 2

// RoutingPair binds a forum to its new-thread and follow-reply destinations.
type RoutingPair struct {
	ForumID           ID `json:"forum_channel_id"`
	NewThreadTargetID ID `json:"new_thread_channel_id"` // Receives "thread opened" notices
	FollowTargetID    ID `json:"follow_channel_id"`     // Receives replies in followed threads
}

// GuildConfig is the persisted form of one guild's routing table.
type GuildConfig struct {
	Pairs         []RoutingPair `json:"forum_pairs"`
	FollowRoles   []ID          `json:"follow_roles"`   // Pinged on replies; authors holding one are not reported
	FollowThreads []ID          `json:"follow_threads"` // Threads observed for replies
}

// State is the whole persisted document.
type State struct {
	Version int                 `json:"version"`
	Guilds  map[ID]*GuildConfig `json:"guilds"`
}

// NewState returns an empty state at the current version.
func NewState() *State {
	return &State{Version: CurrentVersion, Guilds: make(map[ID]*GuildConfig)}
}

// NewGuildConfig returns a guild config with empty, non-nil collections.
func NewGuildConfig() *GuildConfig {
	return &GuildConfig{
		Pairs:         []RoutingPair{},
		FollowRoles:   []ID{},
		FollowThreads: []ID{},
	}
}

// ThreadCreated is raised when a new thread is opened in a forum.
type ThreadCreated struct {
	GuildID           ID
	ForumID           ID
	ThreadID          ID
	Title             string
	Permalink         string
	AuthorDisplayName string // Optional
}

// MessagePosted is raised for every message posted inside a thread.
type MessagePosted struct {
	GuildID       ID
	ThreadID      ID
	ParentForumID ID
	ThreadName    string
	AuthorID      ID
	AuthorRoleIDs []ID
	Content       string
	Permalink     string
}

// Field is a name/value line of a rendered notification.
type Field struct {
	Name   string
	Value  string
	Inline bool
}

// Notification is a rendered, platform-neutral notification payload.
type Notification struct {
	Content      string // Mention preamble, sent outside the embed so pings fire
	Title        string
	Description  string
	URL          string
	Color        int
	Footer       string
	Fields       []Field
	MentionRoles []ID
}
