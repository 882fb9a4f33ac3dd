// Package config loads expscope configuration from a YAML file and the
// environment. Environment variables win over the file, and a .env file
// in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Scan modes.
const (
	ModeHTTP    = "http"
	ModeBrowser = "browser"
	ModeAuto    = "auto"
)

// Config is the top-level configuration.
type Config struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Scan       ScanConfig       `yaml:"scan"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Signatures SignaturesConfig `yaml:"signatures"`
	Server     ServerConfig     `yaml:"server"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote            string        `yaml:"remote"`
	Stealth           *bool         `yaml:"stealth"`
	ResourceBlocking  []string      `yaml:"resource_blocking"`
	NavigationTimeout time.Duration `yaml:"navigation_timeout"`
	RecycleInterval   time.Duration `yaml:"recycle_interval"`
}

// ScanConfig controls page acquisition and the engine.
type ScanConfig struct {
	Mode        string        `yaml:"mode"` // http | browser | auto
	InitDelay   time.Duration `yaml:"init_delay"`
	WatchWindow time.Duration `yaml:"watch_window"`
	WaitWatcher bool          `yaml:"wait_watcher"`
	MaxInput    int           `yaml:"max_input"`
	UserAgent   string        `yaml:"user_agent"`

	// AllowPrivate lets scans target loopback and private addresses.
	AllowPrivate bool `yaml:"allow_private"`
}

// ArchiveConfig locates the report store. An empty path disables it.
type ArchiveConfig struct {
	Path string `yaml:"path"`
}

// SignaturesConfig names a YAML file of signatures added to the
// built-in tables.
type SignaturesConfig struct {
	Extra string `yaml:"extra"`
}

// ServerConfig controls the HTTP API and the MCP-over-QUIC listener.
// QUIC is off unless MCPQuicAddr is set; without a key pair it uses a
// self-signed certificate.
type ServerConfig struct {
	Addr        string `yaml:"addr"`
	MCPQuicAddr string `yaml:"mcp_quic_addr"`
	TLSCert     string `yaml:"tls_cert"`
	TLSKey      string `yaml:"tls_key"`
}

// Default returns the configuration used without a file.
func Default() *Config {
	var c Config
	c.applyDefaults()
	return &c
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

// Load reads path when non-empty, then .env, then applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: .env: %w", err)
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Browser.Stealth == nil {
		on := true
		c.Browser.Stealth = &on
	}
	if c.Browser.NavigationTimeout <= 0 {
		c.Browser.NavigationTimeout = 30 * time.Second
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Scan.Mode == "" {
		c.Scan.Mode = ModeAuto
	}
	if c.Scan.InitDelay <= 0 {
		c.Scan.InitDelay = time.Second
	}
	if c.Scan.WatchWindow <= 0 {
		c.Scan.WatchWindow = 5 * time.Second
	}
	if c.Scan.MaxInput <= 0 {
		c.Scan.MaxInput = 8 << 20
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
}

// ApplyEnv overrides fields from EXPSCOPE_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = d
		return nil
	}
	boolean := func(key string, dst *bool) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", key, err)
		}
		*dst = b
		return nil
	}

	str("EXPSCOPE_BROWSER_REMOTE", &c.Browser.Remote)
	str("EXPSCOPE_SCAN_MODE", &c.Scan.Mode)
	str("EXPSCOPE_USER_AGENT", &c.Scan.UserAgent)
	str("EXPSCOPE_ARCHIVE_PATH", &c.Archive.Path)
	str("EXPSCOPE_SIGNATURES", &c.Signatures.Extra)
	str("EXPSCOPE_ADDR", &c.Server.Addr)
	str("EXPSCOPE_MCP_QUIC_ADDR", &c.Server.MCPQuicAddr)
	str("EXPSCOPE_TLS_CERT", &c.Server.TLSCert)
	str("EXPSCOPE_TLS_KEY", &c.Server.TLSKey)
	if v, ok := lookup("EXPSCOPE_RESOURCE_BLOCKING"); ok {
		c.Browser.ResourceBlocking = splitList(v)
	}

	if v, ok := lookup("EXPSCOPE_BROWSER_STEALTH"); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: EXPSCOPE_BROWSER_STEALTH: %w", err)
		}
		c.Browser.Stealth = &b
	}
	if err := boolean("EXPSCOPE_WAIT_WATCHER", &c.Scan.WaitWatcher); err != nil {
		return err
	}
	if err := boolean("EXPSCOPE_ALLOW_PRIVATE", &c.Scan.AllowPrivate); err != nil {
		return err
	}
	for key, dst := range map[string]*time.Duration{
		"EXPSCOPE_NAVIGATION_TIMEOUT": &c.Browser.NavigationTimeout,
		"EXPSCOPE_INIT_DELAY":         &c.Scan.InitDelay,
		"EXPSCOPE_WATCH_WINDOW":       &c.Scan.WatchWindow,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}
	if v, ok := lookup("EXPSCOPE_MAX_INPUT"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: EXPSCOPE_MAX_INPUT: %w", err)
		}
		c.Scan.MaxInput = n
	}
	return nil
}

// Validate checks values that have no safe default.
func (c *Config) Validate() error {
	switch c.Scan.Mode {
	case ModeHTTP, ModeBrowser, ModeAuto:
	default:
		return fmt.Errorf("config: scan mode %q: want http, browser or auto", c.Scan.Mode)
	}
	if c.Scan.InitDelay < 0 || c.Scan.WatchWindow <= 0 {
		return fmt.Errorf("config: scan delays must be positive")
	}
	if c.Scan.MaxInput <= 0 {
		return fmt.Errorf("config: max_input must be positive")
	}
	if (c.Server.TLSCert == "") != (c.Server.TLSKey == "") {
		return fmt.Errorf("config: tls_cert and tls_key must be set together")
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
