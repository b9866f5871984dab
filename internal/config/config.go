// Package config provides configuration management for the render service.
// Values come from built-in defaults, then an optional TOML file, then
// HEIMDEX_RENDER_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	// Default values
	DefaultPort            = 8790
	DefaultHost            = "127.0.0.1"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "json"
	DefaultDataDir         = ".heimdex-render"
	DefaultStore           = StoreMemory
	DefaultJobRetention    = time.Hour
	DefaultJanitorInterval = time.Minute
	DefaultStallTimeout    = 2 * time.Minute
	DefaultMaxConcurrent   = 2
	DefaultPollInterval    = 2500 * time.Millisecond

	StoreMemory = "memory"
	StoreSQLite = "sqlite"

	// Environment variable names
	EnvPort            = "HEIMDEX_RENDER_PORT"
	EnvHost            = "HEIMDEX_RENDER_HOST"
	EnvLogLevel        = "HEIMDEX_RENDER_LOG_LEVEL"
	EnvLogFormat       = "HEIMDEX_RENDER_LOG_FORMAT"
	EnvDataDir         = "HEIMDEX_RENDER_DATA_DIR"
	EnvStore           = "HEIMDEX_RENDER_STORE"
	EnvJobRetention    = "HEIMDEX_RENDER_JOB_RETENTION"
	EnvJanitorInterval = "HEIMDEX_RENDER_JANITOR_INTERVAL"
	EnvStallTimeout    = "HEIMDEX_RENDER_STALL_TIMEOUT"
	EnvMaxConcurrent   = "HEIMDEX_RENDER_MAX_CONCURRENT"
	EnvFFmpegPath      = "HEIMDEX_RENDER_FFMPEG"
	EnvAPIToken        = "HEIMDEX_RENDER_API_TOKEN"
	EnvAllowedOrigins  = "HEIMDEX_RENDER_ALLOWED_ORIGINS"
	EnvWebhookURL      = "HEIMDEX_RENDER_WEBHOOK_URL"
	EnvWebhookToken    = "HEIMDEX_RENDER_WEBHOOK_TOKEN"
	EnvPublicBase      = "HEIMDEX_RENDER_PUBLIC_BASE"
	EnvServerURL       = "HEIMDEX_RENDER_SERVER_URL"
	EnvPollInterval    = "HEIMDEX_RENDER_POLL_INTERVAL"

	defaultConfigPath = "~/.config/heimdex-render/config.toml"
)

// Config defines the application configuration interface
type Config interface {
	Port() int
	Host() string
	LogLevel() string
	LogFormat() string
	DataDir() string
	RendersDir() string
	WorkDir() string
	LockPath() string
	Store() string
	JobRetention() time.Duration
	JanitorInterval() time.Duration
	StallTimeout() time.Duration
	MaxConcurrent() int
	FFmpegPath() string
	APIToken() string
	AllowedOrigins() []string
	WebhookURL() string
	WebhookToken() string
	PublicBase() string
	ServerURL() string
	PollInterval() time.Duration
}

// File is the on-disk TOML layout. Durations are Go duration strings.
type File struct {
	Server struct {
		Port           int      `toml:"port"`
		Host           string   `toml:"host"`
		APIToken       string   `toml:"api_token"`
		AllowedOrigins []string `toml:"allowed_origins"`
	} `toml:"server"`
	Logging struct {
		Level  string `toml:"level"`
		Format string `toml:"format"`
	} `toml:"logging"`
	Paths struct {
		DataDir string `toml:"data_dir"`
	} `toml:"paths"`
	Jobs struct {
		Store           string `toml:"store"`
		Retention       string `toml:"retention"`
		JanitorInterval string `toml:"janitor_interval"`
		StallTimeout    string `toml:"stall_timeout"`
		MaxConcurrent   int    `toml:"max_concurrent"`
	} `toml:"jobs"`
	Engine struct {
		FFmpegPath string `toml:"ffmpeg_path"`
	} `toml:"engine"`
	Webhook struct {
		URL        string `toml:"url"`
		Token      string `toml:"token"`
		PublicBase string `toml:"public_base"`
	} `toml:"webhook"`
	Client struct {
		ServerURL    string `toml:"server_url"`
		PollInterval string `toml:"poll_interval"`
	} `toml:"client"`
}

// EnvConfig is the resolved configuration.
type EnvConfig struct {
	port            int
	host            string
	logLevel        string
	logFormat       string
	dataDir         string
	store           string
	jobRetention    time.Duration
	janitorInterval time.Duration
	stallTimeout    time.Duration
	maxConcurrent   int
	ffmpegPath      string
	apiToken        string
	allowedOrigins  []string
	webhookURL      string
	webhookToken    string
	publicBase      string
	serverURL       string
	pollInterval    time.Duration

	path     string
	fromFile bool
}

// New loads the default config file, if present, and the environment.
func New() (*EnvConfig, error) {
	return Load("")
}

// Load resolves configuration. An explicit path must exist; the default
// path is optional.
func Load(path string) (*EnvConfig, error) {
	cfg := &EnvConfig{
		port:            DefaultPort,
		host:            DefaultHost,
		logLevel:        DefaultLogLevel,
		logFormat:       DefaultLogFormat,
		dataDir:         defaultDataDir(),
		store:           DefaultStore,
		jobRetention:    DefaultJobRetention,
		janitorInterval: DefaultJanitorInterval,
		stallTimeout:    DefaultStallTimeout,
		maxConcurrent:   DefaultMaxConcurrent,
		pollInterval:    DefaultPollInterval,
	}

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	resolved, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	cfg.path = resolved

	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		if err := cfg.applyFile(data); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", resolved, err)
		}
		cfg.fromFile = true
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *EnvConfig) applyFile(data []byte) error {
	var f File
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return err
	}

	if f.Server.Port != 0 {
		c.port = f.Server.Port
	}
	setString(&c.host, f.Server.Host)
	setString(&c.apiToken, f.Server.APIToken)
	if len(f.Server.AllowedOrigins) > 0 {
		c.allowedOrigins = f.Server.AllowedOrigins
	}
	setString(&c.logLevel, f.Logging.Level)
	setString(&c.logFormat, f.Logging.Format)
	if f.Paths.DataDir != "" {
		dir, err := ExpandPath(f.Paths.DataDir)
		if err != nil {
			return err
		}
		c.dataDir = dir
	}
	setString(&c.store, f.Jobs.Store)
	if f.Jobs.MaxConcurrent != 0 {
		c.maxConcurrent = f.Jobs.MaxConcurrent
	}
	setString(&c.ffmpegPath, f.Engine.FFmpegPath)
	setString(&c.webhookURL, f.Webhook.URL)
	setString(&c.webhookToken, f.Webhook.Token)
	setString(&c.publicBase, f.Webhook.PublicBase)
	setString(&c.serverURL, f.Client.ServerURL)

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"jobs.retention", f.Jobs.Retention, &c.jobRetention},
		{"jobs.janitor_interval", f.Jobs.JanitorInterval, &c.janitorInterval},
		{"jobs.stall_timeout", f.Jobs.StallTimeout, &c.stallTimeout},
		{"client.poll_interval", f.Client.PollInterval, &c.pollInterval},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.key, err)
		}
		*d.dst = v
	}
	return nil
}

func (c *EnvConfig) applyEnv() error {
	if p := os.Getenv(EnvPort); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvPort, err)
		}
		c.port = port
	}
	if n := os.Getenv(EnvMaxConcurrent); n != "" {
		v, err := strconv.Atoi(n)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvMaxConcurrent, err)
		}
		c.maxConcurrent = v
	}

	setString(&c.host, os.Getenv(EnvHost))
	setString(&c.logLevel, os.Getenv(EnvLogLevel))
	setString(&c.logFormat, os.Getenv(EnvLogFormat))
	if dd := os.Getenv(EnvDataDir); dd != "" {
		dir, err := ExpandPath(dd)
		if err != nil {
			return err
		}
		c.dataDir = dir
	}
	setString(&c.store, os.Getenv(EnvStore))
	setString(&c.ffmpegPath, os.Getenv(EnvFFmpegPath))
	setString(&c.apiToken, os.Getenv(EnvAPIToken))
	if origins := os.Getenv(EnvAllowedOrigins); origins != "" {
		c.allowedOrigins = splitList(origins)
	}
	setString(&c.webhookURL, os.Getenv(EnvWebhookURL))
	setString(&c.webhookToken, os.Getenv(EnvWebhookToken))
	setString(&c.publicBase, os.Getenv(EnvPublicBase))
	setString(&c.serverURL, os.Getenv(EnvServerURL))

	durations := []struct {
		env string
		dst *time.Duration
	}{
		{EnvJobRetention, &c.jobRetention},
		{EnvJanitorInterval, &c.janitorInterval},
		{EnvStallTimeout, &c.stallTimeout},
		{EnvPollInterval, &c.pollInterval},
	}
	for _, d := range durations {
		raw := os.Getenv(d.env)
		if raw == "" {
			continue
		}
		v, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", d.env, err)
		}
		*d.dst = v
	}
	return nil
}

// Validate checks ranges and enumerations.
func (c *EnvConfig) Validate() error {
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 1 and 65535", c.port)
	}
	switch c.store {
	case StoreMemory, StoreSQLite:
	default:
		return fmt.Errorf("invalid job store %q: want %s or %s", c.store, StoreMemory, StoreSQLite)
	}
	switch strings.ToLower(c.logFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q: want json or text", c.logFormat)
	}
	if c.maxConcurrent < 1 {
		return fmt.Errorf("invalid max concurrent renders %d: must be at least 1", c.maxConcurrent)
	}
	for name, d := range map[string]time.Duration{
		"job retention":    c.jobRetention,
		"janitor interval": c.janitorInterval,
		"stall timeout":    c.stallTimeout,
		"poll interval":    c.pollInterval,
	} {
		if d <= 0 {
			return fmt.Errorf("invalid %s %s: must be positive", name, d)
		}
	}
	return nil
}

// Port returns the HTTP server port
func (c *EnvConfig) Port() int {
	return c.port
}

// Host returns the bind address
func (c *EnvConfig) Host() string {
	return c.host
}

// LogLevel returns the log level (debug, info, warn, error)
func (c *EnvConfig) LogLevel() string {
	return c.logLevel
}

func (c *EnvConfig) LogFormat() string {
	return strings.ToLower(c.logFormat)
}

// DataDir returns the data directory path
func (c *EnvConfig) DataDir() string {
	return c.dataDir
}

// RendersDir holds finished artifacts.
func (c *EnvConfig) RendersDir() string {
	return filepath.Join(c.dataDir, "renders")
}

// WorkDir holds per-job bundles.
func (c *EnvConfig) WorkDir() string {
	return filepath.Join(c.dataDir, "work")
}

// LockPath guards against two servers sharing a data dir.
func (c *EnvConfig) LockPath() string {
	return filepath.Join(c.dataDir, "renderd.lock")
}

func (c *EnvConfig) Store() string {
	return c.store
}

func (c *EnvConfig) JobRetention() time.Duration {
	return c.jobRetention
}

func (c *EnvConfig) JanitorInterval() time.Duration {
	return c.janitorInterval
}

func (c *EnvConfig) StallTimeout() time.Duration {
	return c.stallTimeout
}

func (c *EnvConfig) MaxConcurrent() int {
	return c.maxConcurrent
}

// FFmpegPath is empty when ffmpeg should be found on PATH.
func (c *EnvConfig) FFmpegPath() string {
	return c.ffmpegPath
}

func (c *EnvConfig) APIToken() string {
	return c.apiToken
}

func (c *EnvConfig) AllowedOrigins() []string {
	return c.allowedOrigins
}

func (c *EnvConfig) WebhookURL() string {
	return c.webhookURL
}

func (c *EnvConfig) WebhookToken() string {
	return c.webhookToken
}

func (c *EnvConfig) PublicBase() string {
	return c.publicBase
}

// ServerURL is where CLI commands find the server. It defaults to the
// configured bind address.
func (c *EnvConfig) ServerURL() string {
	if c.serverURL != "" {
		return strings.TrimRight(c.serverURL, "/")
	}
	return fmt.Sprintf("http://%s:%d", c.host, c.port)
}

func (c *EnvConfig) PollInterval() time.Duration {
	return c.pollInterval
}

// Path is the config file that was consulted; FromFile reports whether it existed.
func (c *EnvConfig) Path() string {
	return c.path
}

func (c *EnvConfig) FromFile() bool {
	return c.fromFile
}

// ExpandPath resolves a leading ~ and makes the path absolute.
func ExpandPath(p string) (string, error) {
	if p == "" {
		return p, nil
	}
	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p[1:], "/"))
	}
	abs, err := filepath.Abs(filepath.Clean(p))
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", p, err)
	}
	return abs, nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// defaultDataDir returns the default data directory path
func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultDataDir
	}
	return filepath.Join(home, DefaultDataDir)
}

// Version information (set at build time via ldflags)
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)
