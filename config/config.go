// Package config loads bot configuration from the two-file dotenv scheme:
// .env.default supplies defaults, .env overrides them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Identity is one of the bot accounts the daemon posts as.
type Identity string

// The enumerated publishing identities.
const (
	IdentityFree    Identity = "free"
	IdentityPaywall Identity = "paywall"
	IdentityBot     Identity = "bot"
)

// Identities lists every identity in a stable order.
var Identities = []Identity{IdentityFree, IdentityPaywall, IdentityBot}

// Config is the resolved bot configuration.
type Config struct {
	// Server is the hostname of the Lemmy instance to publish to.
	Server string
	// Usernames maps each identity to its account name on Server.
	Usernames map[Identity]string
	// AdditionalMods are user@instance identifiers appointed as moderators
	// of every community the CLI creates.
	AdditionalMods []string
	// DefaultCommunity is the community key used when none is given.
	DefaultCommunity string
	// RequestDelay is the minimum gap between outbound API calls per client.
	RequestDelay time.Duration
	// DatabasePath is the sqlite file holding feeds and articles.
	DatabasePath string
	// LogDir, if set, enables the rotating file log streams.
	LogDir string
}

// Load reads .env.default then .env and resolves the configuration.
func Load() (*Config, error) {
	// Overrides first: godotenv never clobbers variables already set.
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.default")
	return FromEnv()
}

// FromEnv resolves the configuration from the current environment.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Server: os.Getenv("LEMMY_SERVER"),
		Usernames: map[Identity]string{
			IdentityFree:    os.Getenv("LEMMY_FREE_BOT"),
			IdentityPaywall: os.Getenv("LEMMY_PAYWALL_BOT"),
			IdentityBot:     os.Getenv("LEMMY_BOT_BOT"),
		},
		DefaultCommunity: os.Getenv("LEMMY_COMMUNITY"),
		DatabasePath:     os.Getenv("DATABASE_PATH"),
		LogDir:           os.Getenv("LOG_DIR"),
		RequestDelay:     5 * time.Second,
	}
	if cfg.Server == "" {
		return nil, fmt.Errorf("LEMMY_SERVER is not set")
	}
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = "rss_feeds.db"
	}
	if mods := os.Getenv("LEMMY_ADDITIONAL_MODS"); mods != "" {
		for _, m := range strings.Split(mods, ",") {
			if m = strings.TrimSpace(m); m != "" {
				cfg.AdditionalMods = append(cfg.AdditionalMods, m)
			}
		}
	}
	if delay := os.Getenv("REQUEST_DELAY"); delay != "" {
		secs, err := strconv.Atoi(delay)
		if err != nil {
			return nil, fmt.Errorf("REQUEST_DELAY must be an integer: %w", err)
		}
		cfg.RequestDelay = time.Duration(secs) * time.Second
	}
	return cfg, nil
}

// ParseIdentity maps a stored identity tag to an Identity.
func ParseIdentity(s string) (Identity, error) {
	switch Identity(s) {
	case IdentityFree, IdentityPaywall, IdentityBot:
		return Identity(s), nil
	}
	return "", fmt.Errorf("unknown bot identity %q", s)
}
