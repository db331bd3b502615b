// Package config loads ecd's runtime configuration: a TOML file under the
// data directory, overridable by environment variables.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is ecd's runtime configuration.
type Config struct {
	// DataDir holds ec_private.pem, ec_public.pem, elections.db, and
	// app.log, unless overridden individually below.
	DataDir string `toml:"DataDir"`

	// ListenAddress is the admin HTTP façade's bind address (spec §6).
	ListenAddress string `toml:"ListenAddress"`

	// RelayURLs are the nostr relays ecd connects to for both
	// subscribing and publishing (spec §6).
	RelayURLs []string `toml:"RelayURLs"`

	// RelaySigningKey is the secp256k1 private key (hex) ecd uses to sign
	// outgoing nostr events; required, with no on-disk default, per
	// spec.md §6 ("Env for the relay signing identity — required").
	RelaySigningKey string `toml:"-"`

	// DatabaseDriver selects "sqlite" (default) or "postgres".
	DatabaseDriver string `toml:"DatabaseDriver"`
	// DatabaseDSN is used verbatim when DatabaseDriver is "postgres"; for
	// sqlite it defaults to DataDir/elections.db.
	DatabaseDSN string `toml:"DatabaseDSN"`

	// StatusSweepInterval is the clock package's cadence (spec §4.5).
	StatusSweepInterval time.Duration `toml:"-"`
	StatusSweepSeconds  int64         `toml:"StatusSweepSeconds"`

	// AllowLegacyEnvelopes enables the election_id-less envelope fallback
	// (spec §9); disabled by default.
	AllowLegacyEnvelopes bool `toml:"AllowLegacyEnvelopes"`

	// CORSAllowedOrigins configures the admin façade's CORS policy.
	CORSAllowedOrigins []string `toml:"CORSAllowedOrigins"`
}

const (
	defaultListenAddress  = ":8090"
	defaultSweepSeconds   = 30
	defaultDatabaseDriver = "sqlite"
	configFileName        = "ec.toml"
)

// EnvRelaySigningKey names the environment variable carrying the nostr
// signing key; crypto.LoadOrCreate owns the analogous EC_PRIVATE_KEY /
// EC_PUBLIC_KEY overrides for the RSA keypair.
const EnvRelaySigningKey = "EC_RELAY_SIGNING_KEY"

// Load reads dir/ec.toml if present, applies defaults for anything unset,
// then applies environment variable overrides. It never generates or
// writes a default file back to disk — crypto.LoadOrCreate owns key
// material persistence, and a missing ec.toml simply means "use defaults".
func Load(dir string) (*Config, error) {
	cfg := &Config{
		DataDir:             dir,
		ListenAddress:       defaultListenAddress,
		DatabaseDriver:      defaultDatabaseDriver,
		StatusSweepSeconds:  defaultSweepSeconds,
		AllowLegacyEnvelopes: false,
	}

	path := filepath.Join(dir, configFileName)
	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if cfg.DatabaseDSN == "" && cfg.DatabaseDriver == defaultDatabaseDriver {
		cfg.DatabaseDSN = filepath.Join(cfg.DataDir, "elections.db")
	}
	if cfg.StatusSweepSeconds <= 0 {
		cfg.StatusSweepSeconds = defaultSweepSeconds
	}
	cfg.StatusSweepInterval = time.Duration(cfg.StatusSweepSeconds) * time.Second

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvRelaySigningKey); v != "" {
		cfg.RelaySigningKey = v
	}
	if v := os.Getenv("EC_LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv("EC_STATUS_SWEEP_SECONDS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			cfg.StatusSweepSeconds = n
		}
	}
}

// LogPath is the structured log file's location, rotated by lumberjack.
func (c *Config) LogPath() string {
	return filepath.Join(c.DataDir, "app.log")
}
