// Package config loads service configuration from the environment.
// Every knob has a default; only DATABASE_URL is genuinely required by
// the server binary and that is enforced at the call site.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full set of deploy-tunable settings. Environment
// variables use the SYNC_ prefix: SYNC_HTTP_ADDR, SYNC_DATABASE_URL,
// and so on.
type Config struct {
	Env                   string
	HTTPAddr              string
	DatabaseURL           string
	SecondaryDatabasePath string
	JWTHS256Secret        string

	DefaultLimit          int
	MaxSyncLimit          int
	ContentTransferBudget int64
	RevisionFrequency     time.Duration
	ConflictTolerance     time.Duration

	PageSize       int
	SettleDelay    time.Duration
	TransitionType string
}

// DevMode reports whether the deployment runs with dev conveniences
// (console logging, debug auth header).
func (c *Config) DevMode() bool {
	return c.Env == "dev"
}

// Load reads configuration from the environment with defaults applied.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("env", "dev")
	v.SetDefault("http_addr", ":8081")
	v.SetDefault("database_url", "")
	v.SetDefault("secondary_database_path", "secondary.db")
	v.SetDefault("jwt_hs256_secret", "dev-secret-change-in-production")

	v.SetDefault("default_limit", 150)
	v.SetDefault("max_sync_limit", 300)
	v.SetDefault("content_transfer_budget", 10_000_000)
	v.SetDefault("revision_frequency", "300s")
	v.SetDefault("conflict_tolerance", "0s")

	v.SetDefault("page_size", 100)
	v.SetDefault("settle_delay", "1s")
	v.SetDefault("transition_type", "primary-to-secondary")

	cfg := &Config{
		Env:                   v.GetString("env"),
		HTTPAddr:              v.GetString("http_addr"),
		DatabaseURL:           v.GetString("database_url"),
		SecondaryDatabasePath: v.GetString("secondary_database_path"),
		JWTHS256Secret:        v.GetString("jwt_hs256_secret"),

		DefaultLimit:          v.GetInt("default_limit"),
		MaxSyncLimit:          v.GetInt("max_sync_limit"),
		ContentTransferBudget: v.GetInt64("content_transfer_budget"),
		RevisionFrequency:     v.GetDuration("revision_frequency"),
		ConflictTolerance:     v.GetDuration("conflict_tolerance"),

		PageSize:       v.GetInt("page_size"),
		SettleDelay:    v.GetDuration("settle_delay"),
		TransitionType: v.GetString("transition_type"),
	}
	return cfg, nil
}
