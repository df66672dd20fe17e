// Package config loads the bot configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"

	"forumlinkbot/routing"
)

// Backend kinds selected by Storage.
const (
	BackendFile  = "file"
	BackendGCS   = "gcs"
	BackendRedis = "redis"
)

// AppConfig is the full runtime configuration.
type AppConfig struct {
	AppEnv string `envconfig:"APP_ENV" default:"local"`
	Port   string `envconfig:"PORT" default:"8080"`

	DiscordToken  string `envconfig:"DISCORD_TOKEN"`
	CommandPrefix string `envconfig:"COMMAND_PREFIX" default:"!"`
	MockSend      bool   `envconfig:"MOCK_SEND" default:"false"` // Log notifications instead of posting them

	StateFile             string `envconfig:"STATE_FILE" default:"./data/config.json"`
	StorageBucket         string `envconfig:"STORAGE_BUCKET"`
	StorageObject         string `envconfig:"STORAGE_OBJECT" default:"forumlink/config.json"`
	GoogleCredentialsJSON string `envconfig:"GOOGLE_CREDENTIALS_JSON"`
	RedisAddr             string `envconfig:"REDIS_ADDR"`
	RedisPassword         string `envconfig:"REDIS_PASSWORD"`
	RedisDB               int    `envconfig:"REDIS_DB" default:"0"`
	RedisKey              string `envconfig:"REDIS_KEY" default:"forumlink:config"`

	RejectDuplicatePairs bool `envconfig:"REJECT_DUPLICATE_PAIRS" default:"true"`
	RequireFollowRoles   bool `envconfig:"REQUIRE_FOLLOW_ROLES" default:"true"`

	Server struct {
		ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"10s"`
		WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"10s"`
		IdleTimeout     time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
		ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"15s"`
	} `envconfig:""`
}

// Load reads the configuration from the environment.
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("process env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// Validate checks settings that depend on each other.
func (c AppConfig) Validate() error {
	if c.DiscordToken == "" && !c.MockSend {
		return errors.New("DISCORD_TOKEN is required unless MOCK_SEND is set")
	}
	if c.CommandPrefix == "" {
		return errors.New("COMMAND_PREFIX must not be empty")
	}
	if c.StorageBucket != "" && c.RedisAddr != "" {
		return errors.New("set only one of STORAGE_BUCKET and REDIS_ADDR")
	}
	return nil
}

// Storage names the persistence backend: a bucket selects Cloud Storage,
// a Redis address selects Redis, otherwise the local state file is used.
func (c AppConfig) Storage() string {
	switch {
	case c.StorageBucket != "":
		return BackendGCS
	case c.RedisAddr != "":
		return BackendRedis
	default:
		return BackendFile
	}
}

// Policy returns the routing validation policy.
func (c AppConfig) Policy() routing.Policy {
	return routing.Policy{
		RejectDuplicatePairs: c.RejectDuplicatePairs,
		RequireFollowRoles:   c.RequireFollowRoles,
	}
}

// IsProduction reports whether APP_ENV is "production".
func (c AppConfig) IsProduction() bool {
	return c.AppEnv == "production"
}
