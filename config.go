package nnbridge

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
)

// Environment variables that override the configuration file.
const (
	EnvLogLevel    = "NNBRIDGE_LOG_LEVEL"
	EnvTransport   = "NNBRIDGE_TRANSPORT"
	EnvLibraryPath = "NNBRIDGE_LIBRARY_PATH"
)

// Transport names accepted in Config.Transport.
const (
	TransportInproc  = "inproc"
	TransportNanomsg = "nanomsg"
)

// DefaultMaxSockets is the default per-Context socket limit.
const DefaultMaxSockets = 512

// Config holds Library settings.
type Config struct {
	// Transport selects the transport New opens when none is given:
	// "inproc" or "nanomsg".
	Transport string
	// LibraryPath is an explicit libnanomsg path; empty searches the
	// platform library paths.
	LibraryPath string
	// MaxSocketsPerContext bounds the live Sockets of one Context.
	MaxSocketsPerContext int
	// Linger is applied to every new Socket.
	Linger time.Duration
	// PollInterval is the wait slice of the nanomsg transport and of Receiver.
	PollInterval time.Duration
	// LogLevel is used by NewConsoleLogger callers such as cmd/nnrelay.
	LogLevel string
	// RequireVersion, when set, is a semver constraint New checks Version
	// against. Deployments use it to refuse a binding they were not built
	// for.
	RequireVersion string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Transport:            TransportInproc,
		MaxSocketsPerContext: DefaultMaxSockets,
		Linger:               0,
		PollInterval:         50 * time.Millisecond,
		LogLevel:             "info",
	}
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	switch c.Transport {
	case TransportInproc, TransportNanomsg:
	default:
		return fmt.Errorf("nnbridge: unknown transport %q", c.Transport)
	}
	if c.MaxSocketsPerContext <= 0 {
		return fmt.Errorf("nnbridge: max_sockets_per_context must be positive, got %d", c.MaxSocketsPerContext)
	}
	if c.Linger < 0 {
		return fmt.Errorf("nnbridge: linger must not be negative, got %s", c.Linger)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("nnbridge: poll_interval must be positive, got %s", c.PollInterval)
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		return err
	}
	if c.RequireVersion != "" {
		if _, err := semver.NewConstraint(c.RequireVersion); err != nil {
			return fmt.Errorf("nnbridge: parse require_version: %w", err)
		}
	}
	return nil
}

type fileConfig struct {
	Transport            string `toml:"transport"`
	LibraryPath          string `toml:"library_path"`
	MaxSocketsPerContext int    `toml:"max_sockets_per_context"`
	Linger               string `toml:"linger"`
	PollInterval         string `toml:"poll_interval"`
	LogLevel             string `toml:"log_level"`
	RequireVersion       string `toml:"require_version"`
}

// LoadConfig reads a TOML configuration file on top of DefaultConfig and
// applies environment overrides.
func LoadConfig(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load nnbridge config: %w", err)
	}
	cfg, err := fromFile(raw, meta)
	if err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)
	return cfg, cfg.Validate()
}

// ParseConfig is LoadConfig for in-memory TOML. Environment overrides are not
// applied.
func ParseConfig(data string) (Config, error) {
	var raw fileConfig
	meta, err := toml.Decode(data, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("parse nnbridge config: %w", err)
	}
	cfg, err := fromFile(raw, meta)
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func fromFile(raw fileConfig, meta toml.MetaData) (Config, error) {
	cfg := DefaultConfig()

	if meta.IsDefined("transport") {
		cfg.Transport = strings.ToLower(strings.TrimSpace(raw.Transport))
	}
	if meta.IsDefined("library_path") {
		cfg.LibraryPath = strings.TrimSpace(raw.LibraryPath)
	}
	if meta.IsDefined("max_sockets_per_context") {
		cfg.MaxSocketsPerContext = raw.MaxSocketsPerContext
	}
	if meta.IsDefined("linger") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Linger))
		if err != nil {
			return Config{}, fmt.Errorf("parse linger: %w", err)
		}
		cfg.Linger = d
	}
	if meta.IsDefined("poll_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PollInterval))
		if err != nil {
			return Config{}, fmt.Errorf("parse poll_interval: %w", err)
		}
		cfg.PollInterval = d
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("require_version") {
		cfg.RequireVersion = strings.TrimSpace(raw.RequireVersion)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.LogLevel = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvTransport)); v != "" {
		cfg.Transport = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLibraryPath)); v != "" {
		cfg.LibraryPath = v
	}
}
