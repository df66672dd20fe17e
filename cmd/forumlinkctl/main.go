// Command forumlinkctl inspects and migrates a forumlinkbot state document
// without running the bot.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"forumlinkbot/pkg/forumlink"
	"forumlinkbot/storage"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	file      string
	redisAddr string
	redisKey  string
	guild     string
	asJSON    bool
	dryRun    bool
}

func run(argv []string, out io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("forumlinkctl", pflag.ContinueOnError)
	flagSet.StringVar(&opts.file, "file", "./data/config.json", "path to the state file")
	flagSet.StringVar(&opts.redisAddr, "redis-addr", "", "read the state from Redis instead of a file")
	flagSet.StringVar(&opts.redisKey, "redis-key", "forumlink:config", "Redis key holding the state")
	flagSet.StringVar(&opts.guild, "guild", "", "only show this guild")
	flagSet.BoolVar(&opts.asJSON, "json", false, "print the migrated state as JSON")
	flagSet.BoolVar(&opts.dryRun, "dry-run", false, "report migration steps without writing")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(out, flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(out, flagSet)
		return nil
	}

	args := flagSet.Args()
	if len(args) != 1 {
		printHelp(out, flagSet)
		return errors.New("expected exactly one command: show or migrate")
	}

	backend := openBackend(opts)
	ctx := context.Background()

	switch args[0] {
	case "show":
		return show(ctx, backend, opts, out)
	case "migrate":
		return migrate(ctx, backend, opts, out)
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func openBackend(opts options) storage.Backend {
	if opts.redisAddr != "" {
		return storage.NewRedisBackend(redis.NewClient(&redis.Options{Addr: opts.redisAddr}), opts.redisKey)
	}
	return storage.NewFileBackend(opts.file)
}

func load(ctx context.Context, backend storage.Backend) (*forumlink.State, storage.MigrationReport, error) {
	data, err := backend.Read(ctx)
	if err != nil {
		return nil, storage.MigrationReport{}, fmt.Errorf("read %s: %w", backend.Name(), err)
	}
	state, report, err := storage.Decode(data)
	if err != nil {
		return nil, storage.MigrationReport{}, fmt.Errorf("decode %s: %w", backend.Name(), err)
	}
	return state, report, nil
}

func show(ctx context.Context, backend storage.Backend, opts options, out io.Writer) error {
	state, report, err := load(ctx, backend)
	if err != nil {
		return err
	}
	if opts.guild != "" {
		g, ok := state.Guilds[forumlink.ID(opts.guild)]
		if !ok {
			return fmt.Errorf("guild %s not found", opts.guild)
		}
		state.Guilds = map[forumlink.ID]*forumlink.GuildConfig{forumlink.ID(opts.guild): g}
	}

	if opts.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	}

	fmt.Fprintf(out, "%s: version %d", backend.Name(), report.FromVersion)
	if len(report.Steps) > 0 {
		fmt.Fprintf(out, " (needs migration: %s)", strings.Join(report.Steps, ", "))
	}
	fmt.Fprintln(out)

	ids := make([]forumlink.ID, 0, len(state.Guilds))
	for id := range state.Guilds {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		g := state.Guilds[id]
		fmt.Fprintf(out, "\nguild %s\n", id)
		for i, p := range g.Pairs {
			fmt.Fprintf(out, "  pair %d: forum %s -> new %s, follow %s\n", i+1, p.ForumID, p.NewThreadTargetID, p.FollowTargetID)
		}
		fmt.Fprintf(out, "  follow roles: %s\n", joinIDs(g.FollowRoles))
		fmt.Fprintf(out, "  followed threads: %s\n", joinIDs(g.FollowThreads))
	}
	return nil
}

func migrate(ctx context.Context, backend storage.Backend, opts options, out io.Writer) error {
	state, report, err := load(ctx, backend)
	if err != nil {
		return err
	}
	if len(report.Steps) == 0 && report.FromVersion == forumlink.CurrentVersion {
		fmt.Fprintf(out, "%s is already at version %d\n", backend.Name(), forumlink.CurrentVersion)
		return nil
	}

	fmt.Fprintf(out, "%s: version %d -> %d\n", backend.Name(), report.FromVersion, forumlink.CurrentVersion)
	for _, step := range report.Steps {
		fmt.Fprintf(out, "  %s\n", step)
	}
	if opts.dryRun {
		fmt.Fprintln(out, "dry run, nothing written")
		return nil
	}

	data, err := storage.Encode(state)
	if err != nil {
		return err
	}
	if err := backend.Write(ctx, data); err != nil {
		return fmt.Errorf("write %s: %w", backend.Name(), err)
	}
	fmt.Fprintf(out, "wrote %d guilds\n", len(state.Guilds))
	return nil
}

func joinIDs(ids []forumlink.ID) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id.String())
	}
	return strings.Join(parts, ", ")
}

func printHelp(out io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(out, `forumlinkctl inspects and migrates a forumlinkbot state document.

Usage:
  forumlinkctl [flags] show
  forumlinkctl [flags] migrate

Commands:
  show      print pairs, follow roles and followed threads per guild
  migrate   rewrite the document in the current schema

Flags:
%s`, flagSet.FlagUsages())
}
