// Package storage handles persistence of the routing state.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"forumlinkbot/metrics"
	"forumlinkbot/pkg/forumlink"
)

// ErrNotExist is returned by a Backend when nothing has been saved yet.
var ErrNotExist = errors.New("storage: object doesn't exist")

// Backend reads and writes the whole serialized state as one unit.
// Write must replace the previous contents atomically.
type Backend interface {
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte) error
	Name() string
}

// IOError reports a failed load or save against a backend.
type IOError struct {
	Op      string
	Backend string
	Err     error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Backend, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}

// Store loads and saves the routing state.
type Store struct {
	backend Backend
	logger  *slog.Logger
	mu      sync.Mutex // Serializes Save
}

// New creates a new store over backend.
func New(backend Backend, logger *slog.Logger) *Store {
	return &Store{
		backend: backend,
		logger:  logger,
	}
}

// Load reads and migrates the persisted state. It never fails: a missing,
// unreadable or malformed document yields an empty state.
func (s *Store) Load(ctx context.Context) *forumlink.State {
	data, err := s.backend.Read(ctx)
	if err != nil {
		if errors.Is(err, ErrNotExist) {
			s.logger.Info("No saved config found, starting empty", "backend", s.backend.Name())
		} else {
			s.logger.Error("Failed to read config, starting empty", "backend", s.backend.Name(), "error", err)
		}
		return forumlink.NewState()
	}

	state, report, err := Decode(data)
	if err != nil {
		s.logger.Error("Failed to parse config, starting empty", "backend", s.backend.Name(), "error", err)
		return forumlink.NewState()
	}
	if len(report.Steps) > 0 {
		s.logger.Info("Config migrated",
			"backend", s.backend.Name(),
			"from_version", report.FromVersion,
			"to_version", forumlink.CurrentVersion,
			"steps", report.Steps)
	}

	s.logger.Info("Config loaded", "backend", s.backend.Name(), "guilds", len(state.Guilds))
	return state
}

// Save overwrites the persisted state with state. Failures are logged and
// returned; nothing is retried.
func (s *Store) Save(ctx context.Context, state *forumlink.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := Encode(state)
	if err != nil {
		metrics.ConfigSaves.WithLabelValues("error").Inc()
		return &IOError{Op: "encode", Backend: s.backend.Name(), Err: err}
	}

	if err := s.backend.Write(ctx, data); err != nil {
		metrics.ConfigSaves.WithLabelValues("error").Inc()
		s.logger.Error("Failed to save config", "backend", s.backend.Name(), "error", err)
		return &IOError{Op: "save", Backend: s.backend.Name(), Err: err}
	}

	metrics.ConfigSaves.WithLabelValues("ok").Inc()
	s.logger.Debug("Config saved", "backend", s.backend.Name(), "bytes", len(data), "guilds", len(state.Guilds))
	return nil
}

// Encode serializes state in the current schema.
func Encode(state *forumlink.State) ([]byte, error) {
	out := forumlink.NewState()
	if state != nil {
		for id, g := range state.Guilds {
			c := forumlink.NewGuildConfig()
			if g != nil {
				c.Pairs = append(c.Pairs, g.Pairs...)
				c.FollowRoles = append(c.FollowRoles, g.FollowRoles...)
				c.FollowThreads = append(c.FollowThreads, g.FollowThreads...)
			}
			out.Guilds[id] = c
		}
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}
