package bot

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"forumlinkbot/metrics"
	"forumlinkbot/pkg/forumlink"
	"forumlinkbot/routing"
)

var (
	channelMention = regexp.MustCompile(`^<#(\d+)>$`)
	roleMention    = regexp.MustCompile(`^<@&(\d+)>$`)
	rawID          = regexp.MustCompile(`^\d+$`)
)

// Registry is the set of routing operations the admin commands map onto.
type Registry interface {
	AddPair(ctx context.Context, guild, forum, newThreadTarget, followTarget forumlink.ID) error
	RemovePair(ctx context.Context, guild forumlink.ID, index int) (forumlink.RoutingPair, error)
	Pairs(guild forumlink.ID) []forumlink.RoutingPair
	SetFollowRoles(ctx context.Context, guild forumlink.ID, roles []forumlink.ID) error
	AddFollowRole(ctx context.Context, guild, role forumlink.ID) error
	RemoveFollowRole(ctx context.Context, guild, role forumlink.ID) error
	ClearFollowRoles(ctx context.Context, guild forumlink.ID) error
	FollowRoles(guild forumlink.ID) []forumlink.ID
	FollowThread(ctx context.Context, guild, thread, parentForum forumlink.ID) error
	UnfollowThread(ctx context.Context, guild, thread forumlink.ID) error
	IsFollowed(guild, thread forumlink.ID) bool
	FollowedThreads(guild forumlink.ID) []forumlink.ID
}

// Request is a command message with the context the command layer needs.
type Request struct {
	GuildID   forumlink.ID
	ChannelID forumlink.ID
	ParentID  forumlink.ID // Parent forum when ChannelID is a thread
	InThread  bool
	AuthorID  forumlink.ID
	Admin     bool // Author has the Manage Server permission
	Content   string
}

type command struct {
	admin bool
	run   func(ctx context.Context, req *Request, args []string) (string, error)
}

// Commands parses prefixed admin commands and applies them to the registry.
type Commands struct {
	registry Registry
	prefix   string
	logger   *slog.Logger
	table    map[string]command
}

// NewCommands creates the command layer.
func NewCommands(registry Registry, prefix string, logger *slog.Logger) *Commands {
	c := &Commands{
		registry: registry,
		prefix:   prefix,
		logger:   logger,
	}
	c.table = map[string]command{
		"addpair":          {admin: true, run: c.addPair},
		"listpairs":        {run: c.listPairs},
		"removepair":       {admin: true, run: c.removePair},
		"setfollowroles":   {admin: true, run: c.setFollowRoles},
		"addfollowrole":    {admin: true, run: c.addFollowRole},
		"removefollowrole": {admin: true, run: c.removeFollowRole},
		"listfollowroles":  {run: c.listFollowRoles},
		"clearfollowroles": {admin: true, run: c.clearFollowRoles},
		"followhere":       {admin: true, run: c.followHere},
		"unfollowhere":     {admin: true, run: c.unfollowHere},
		"followstatus":     {run: c.followStatus},
		"listfollows":      {run: c.listFollows},
		"fhelp":            {run: c.help},
	}
	return c
}

// Handle runs the command in req and returns the reply text. handled is
// false when the message is not a known command.
func (c *Commands) Handle(ctx context.Context, req *Request) (reply string, handled bool) {
	fields, ok := c.lookup(req.Content)
	if !ok {
		return "", false
	}
	name := strings.ToLower(fields[0])
	cmd := c.table[name]

	if cmd.admin && !req.Admin {
		metrics.CommandsHandled.WithLabelValues(name, "denied").Inc()
		c.logger.Info("Command denied", "command", name, "guild", req.GuildID, "author", req.AuthorID)
		return "You need the Manage Server permission to use this command.", true
	}

	reply, err := cmd.run(ctx, req, fields[1:])
	switch {
	case err == nil:
		metrics.CommandsHandled.WithLabelValues(name, "ok").Inc()
	case routing.IsValidation(err):
		metrics.CommandsHandled.WithLabelValues(name, "rejected").Inc()
		reply = "Cannot do that: " + err.Error() + "."
	default:
		metrics.CommandsHandled.WithLabelValues(name, "error").Inc()
		c.logger.Error("Command failed", "command", name, "guild", req.GuildID, "error", err)
		reply = "Something went wrong, please try again."
	}
	c.logger.Debug("Command handled", "command", name, "guild", req.GuildID, "author", req.AuthorID, "error", err)
	return reply, true
}

// lookup splits content into fields when it starts with a known command.
func (c *Commands) lookup(content string) ([]string, bool) {
	if !strings.HasPrefix(content, c.prefix) {
		return nil, false
	}
	fields := strings.Fields(strings.TrimPrefix(content, c.prefix))
	if len(fields) == 0 {
		return nil, false
	}
	_, ok := c.table[strings.ToLower(fields[0])]
	return fields, ok
}

func (c *Commands) usage(format string) string {
	return "Usage: `" + c.prefix + format + "`"
}

func (c *Commands) addPair(ctx context.Context, req *Request, args []string) (string, error) {
	if len(args) < 2 || len(args) > 3 {
		return c.usage("addpair #forum #new-threads [#follow-replies]"), nil
	}
	ids, ok := parseIDs(args, channelMention)
	if !ok {
		return "Please mention channels as #channel or give their ids.", nil
	}
	var follow forumlink.ID
	if len(ids) == 3 {
		follow = ids[2]
	}
	if err := c.registry.AddPair(ctx, req.GuildID, ids[0], ids[1], follow); err != nil {
		return "", err
	}
	if follow == "" {
		follow = ids[1]
	}
	return "Pair added: " + describePair(forumlink.RoutingPair{ForumID: ids[0], NewThreadTargetID: ids[1], FollowTargetID: follow}), nil
}

func (c *Commands) listPairs(_ context.Context, req *Request, _ []string) (string, error) {
	pairs := c.registry.Pairs(req.GuildID)
	if len(pairs) == 0 {
		return "No forum pairs configured.", nil
	}
	var b strings.Builder
	b.WriteString("**Forum pairs:**")
	for i, p := range pairs {
		fmt.Fprintf(&b, "\n%d. %s", i+1, describePair(p))
	}
	return b.String(), nil
}

func (c *Commands) removePair(ctx context.Context, req *Request, args []string) (string, error) {
	if len(args) != 1 {
		return c.usage("removepair <number>"), nil
	}
	index, err := strconv.Atoi(args[0])
	if err != nil {
		return "The pair number must be a whole number (see " + c.prefix + "listpairs).", nil
	}
	removed, err := c.registry.RemovePair(ctx, req.GuildID, index)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed pair %d: %s", index, describePair(removed)), nil
}

func (c *Commands) setFollowRoles(ctx context.Context, req *Request, args []string) (string, error) {
	roles, ok := parseIDs(args, roleMention)
	if !ok {
		return "Please mention roles as @role or give their ids.", nil
	}
	if err := c.registry.SetFollowRoles(ctx, req.GuildID, roles); err != nil {
		return "", err
	}
	return "Follow roles set: " + mentionList(c.registry.FollowRoles(req.GuildID), "<@&%s>"), nil
}

func (c *Commands) addFollowRole(ctx context.Context, req *Request, args []string) (string, error) {
	role, ok := singleID(args, roleMention)
	if !ok {
		return c.usage("addfollowrole @role"), nil
	}
	if err := c.registry.AddFollowRole(ctx, req.GuildID, role); err != nil {
		return "", err
	}
	return fmt.Sprintf("Added <@&%s> to the follow roles.", role), nil
}

func (c *Commands) removeFollowRole(ctx context.Context, req *Request, args []string) (string, error) {
	role, ok := singleID(args, roleMention)
	if !ok {
		return c.usage("removefollowrole @role"), nil
	}
	if err := c.registry.RemoveFollowRole(ctx, req.GuildID, role); err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed <@&%s> from the follow roles.", role), nil
}

func (c *Commands) listFollowRoles(_ context.Context, req *Request, _ []string) (string, error) {
	roles := c.registry.FollowRoles(req.GuildID)
	if len(roles) == 0 {
		return "No follow roles configured.", nil
	}
	return "**Follow roles:** " + mentionList(roles, "<@&%s>"), nil
}

func (c *Commands) clearFollowRoles(ctx context.Context, req *Request, _ []string) (string, error) {
	if err := c.registry.ClearFollowRoles(ctx, req.GuildID); err != nil {
		return "", err
	}
	return "All follow roles cleared.", nil
}

func (c *Commands) followHere(ctx context.Context, req *Request, _ []string) (string, error) {
	if !req.InThread {
		return "This command must be used inside a forum thread.", nil
	}
	if err := c.registry.FollowThread(ctx, req.GuildID, req.ChannelID, req.ParentID); err != nil {
		return "", err
	}
	var targets []forumlink.ID
	for _, p := range c.registry.Pairs(req.GuildID) {
		if p.ForumID == req.ParentID {
			targets = append(targets, p.FollowTargetID)
		}
	}
	return "Following this thread. New replies are reported to " + mentionList(targets, "<#%s>") + ".", nil
}

func (c *Commands) unfollowHere(ctx context.Context, req *Request, _ []string) (string, error) {
	if !req.InThread {
		return "This command must be used inside a forum thread.", nil
	}
	if err := c.registry.UnfollowThread(ctx, req.GuildID, req.ChannelID); err != nil {
		return "", err
	}
	return "No longer following this thread.", nil
}

func (c *Commands) followStatus(ctx context.Context, req *Request, args []string) (string, error) {
	if !req.InThread {
		return c.listFollows(ctx, req, args)
	}
	if c.registry.IsFollowed(req.GuildID, req.ChannelID) {
		return "This thread is followed.", nil
	}
	return "This thread is not followed.", nil
}

func (c *Commands) listFollows(_ context.Context, req *Request, _ []string) (string, error) {
	threads := c.registry.FollowedThreads(req.GuildID)
	if len(threads) == 0 {
		return "No threads are followed in this server.", nil
	}
	return "**Followed threads:** " + mentionList(threads, "<#%s>"), nil
}

func (c *Commands) help(context.Context, *Request, []string) (string, error) {
	p := c.prefix
	return "**ForumLinkBot help**\n\n" +
		"__Everyone:__\n" +
		"`" + p + "fhelp` shows this help\n" +
		"`" + p + "listpairs` lists forum pairs\n" +
		"`" + p + "listfollowroles` lists the roles pinged on followed replies\n" +
		"`" + p + "listfollows` lists followed threads\n" +
		"`" + p + "followstatus` tells whether the current thread is followed\n\n" +
		"__Admin (Manage Server):__\n" +
		"`" + p + "addpair #forum #new-threads [#follow-replies]` adds a forum pair\n" +
		"`" + p + "removepair <number>` removes a pair (number from " + p + "listpairs)\n" +
		"`" + p + "setfollowroles @role...` replaces the follow roles\n" +
		"`" + p + "addfollowrole @role` / `" + p + "removefollowrole @role` edits the follow roles\n" +
		"`" + p + "clearfollowroles` removes all follow roles\n\n" +
		"__Inside a forum thread (admin):__\n" +
		"`" + p + "followhere` reports new replies in this thread\n" +
		"`" + p + "unfollowhere` stops following this thread", nil
}

// parseID accepts a mention matching mention or a raw numeric id.
func parseID(token string, mention *regexp.Regexp) (forumlink.ID, bool) {
	if m := mention.FindStringSubmatch(token); m != nil {
		return forumlink.ID(m[1]), true
	}
	if rawID.MatchString(token) {
		return forumlink.ID(token), true
	}
	return "", false
}

func parseIDs(tokens []string, mention *regexp.Regexp) ([]forumlink.ID, bool) {
	ids := make([]forumlink.ID, 0, len(tokens))
	for _, tok := range tokens {
		id, ok := parseID(tok, mention)
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}

func singleID(args []string, mention *regexp.Regexp) (forumlink.ID, bool) {
	if len(args) != 1 {
		return "", false
	}
	return parseID(args[0], mention)
}

func describePair(p forumlink.RoutingPair) string {
	return fmt.Sprintf("<#%s> → new threads <#%s>, follow replies <#%s>", p.ForumID, p.NewThreadTargetID, p.FollowTargetID)
}

func mentionList(ids []forumlink.ID, format string) string {
	if len(ids) == 0 {
		return "nothing"
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, fmt.Sprintf(format, id))
	}
	return strings.Join(parts, ", ")
}
