// Package config loads and validates the roomsync YAML configuration.
//
// ${VAR} references are expanded from the environment before parsing, so
// the client secret can live in the environment (or a .env file) instead of
// the config file.
package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"

	"github.com/njoerd114/roomsync/internal/retry"
	"github.com/njoerd114/roomsync/internal/schedule"
)

// EnvPath names the environment variable that overrides the config path.
const EnvPath = "ROOMSYNC_CONFIG"

const (
	defaultBaseURL      = "https://graph.microsoft.com"
	defaultAuthorityURL = "https://login.microsoftonline.com"
	defaultTimeout      = 30 * time.Second
	defaultRPS          = 10
	defaultBurst        = 10
	defaultResultLimit  = 20
	defaultBatch        = 10
	maxStorageBatch     = 100
)

func init() {
	// Report field errors by their YAML key.
	validation.ErrorTag = "yaml"
}

// Config holds the full application configuration loaded from YAML.
type Config struct {
	Graph   GraphConfig   `yaml:"graph,omitempty"`
	Storage StorageConfig `yaml:"storage,omitempty"`
	Search  SearchConfig  `yaml:"search,omitempty"`
	Sync    SyncConfig    `yaml:"sync,omitempty"`

	// Telemetry configures optional OpenTelemetry export via OTLP gRPC.
	// Omit the block entirely to disable telemetry.
	Telemetry *TelemetryConfig `yaml:"telemetry,omitempty"`
}

// GraphConfig identifies the app registration and tunes the Graph client.
type GraphConfig struct {
	BaseURL      string `yaml:"base_url,omitempty"`
	AuthorityURL string `yaml:"authority_url,omitempty"`
	TenantID     string `yaml:"tenant_id,omitempty"`
	ClientID     string `yaml:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty"`

	// Timeout bounds a single HTTP call. Defaults to 30s.
	Timeout time.Duration `yaml:"timeout,omitempty"`

	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
	Burst             int     `yaml:"burst,omitempty"`
}

// StorageConfig locates the directory database.
type StorageConfig struct {
	// Path defaults to ~/.local/share/roomsync/rooms.db.
	Path string `yaml:"path,omitempty"`
}

// SearchConfig locates the search index.
type SearchConfig struct {
	// Path defaults to ~/.local/share/roomsync/search.db.
	Path        string `yaml:"path,omitempty"`
	ResultLimit int    `yaml:"result_limit,omitempty"`
}

// SyncConfig controls when and how wide sync runs are.
type SyncConfig struct {
	// Schedule is a six-field cron expression with seconds. Defaults to
	// Sunday midnight.
	Schedule string `yaml:"schedule,omitempty"`

	// RunOnStartup runs a sync as soon as the daemon starts. Defaults to true.
	RunOnStartup *bool `yaml:"run_on_startup,omitempty"`

	BuildingBatchSize int `yaml:"building_batch_size,omitempty"`

	// StorageBatchSize caps items per storage transaction, at most 100.
	StorageBatchSize int `yaml:"storage_batch_size,omitempty"`

	Retry RetryConfig `yaml:"retry,omitempty"`
}

// RetryConfig is the per-building retry policy.
type RetryConfig struct {
	// MaxRetries counts retries beyond the first attempt. Defaults to 2.
	MaxRetries *int          `yaml:"max_retries,omitempty"`
	BaseDelay  time.Duration `yaml:"base_delay,omitempty"`

	// Strategy is "decorrelated_jitter" (default) or "exponential".
	Strategy string `yaml:"strategy,omitempty"`
}

// TelemetryConfig holds optional OpenTelemetry settings.
type TelemetryConfig struct {
	// OTLPEndpoint is the gRPC host:port of the OTLP collector (e.g. "localhost:4317").
	OTLPEndpoint string `yaml:"otlp_endpoint,omitempty"`

	// Insecure disables TLS for the collector connection.
	Insecure bool `yaml:"insecure,omitempty"`

	// ServiceName overrides the OTel service.name attribute. Defaults to "roomsync".
	ServiceName string `yaml:"service_name,omitempty"`

	// Headers are sent as gRPC metadata on every OTLP request, e.g.
	//   Authorization: "Bearer <token>"
	Headers map[string]string `yaml:"headers,omitempty"`
}

// DefaultPath returns the config file path: $ROOMSYNC_CONFIG if set,
// otherwise ~/.config/roomsync/config.yaml.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "roomsync", "config.yaml"), nil
}

// Load reads, expands, and validates the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file %q: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true) // reject unknown keys to catch typos early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %q: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Write saves c to path as YAML, creating the parent directory. Only set
// fields are written, so a config built by the setup wizard stays short and
// picks up defaults on Load. The file is readable by the owner only since it
// may hold the client secret.
func (c *Config) Write(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data = append([]byte("# roomsync configuration\n"), data...)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file %q: %w", path, err)
	}
	return nil
}

// RunOnStartup reports whether the daemon syncs immediately at startup.
func (c *Config) RunOnStartup() bool {
	return c.Sync.RunOnStartup == nil || *c.Sync.RunOnStartup
}

// RetryPolicy returns the configured per-building retry policy.
func (c *Config) RetryPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	if c.Sync.Retry.MaxRetries != nil {
		p.MaxRetries = *c.Sync.Retry.MaxRetries
	}
	if c.Sync.Retry.BaseDelay > 0 {
		p.BaseDelay = c.Sync.Retry.BaseDelay
	}
	// validate has already rejected unknown names.
	p.Strategy, _ = retry.ParseStrategy(c.Sync.Retry.Strategy)
	return p
}

// validate fills defaults and checks every section.
func (c *Config) validate() error {
	if err := c.applyDefaults(); err != nil {
		return err
	}

	if err := c.Graph.validate(); err != nil {
		return fmt.Errorf("graph: %w", err)
	}
	if err := validation.ValidateStruct(&c.Storage,
		validation.Field(&c.Storage.Path, validation.Required),
	); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if err := validation.ValidateStruct(&c.Search,
		validation.Field(&c.Search.Path, validation.Required),
		validation.Field(&c.Search.ResultLimit, validation.Min(1), validation.Max(1000)),
	); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if err := c.Sync.validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if c.Telemetry != nil {
		if err := validation.ValidateStruct(c.Telemetry,
			validation.Field(&c.Telemetry.OTLPEndpoint, validation.Required),
		); err != nil {
			return fmt.Errorf("telemetry: %w", err)
		}
	}
	return nil
}

func (c *Config) applyDefaults() error {
	g := &c.Graph
	if g.BaseURL == "" {
		g.BaseURL = defaultBaseURL
	}
	if g.AuthorityURL == "" {
		g.AuthorityURL = defaultAuthorityURL
	}
	if g.Timeout == 0 {
		g.Timeout = defaultTimeout
	}
	if g.RequestsPerSecond == 0 {
		g.RequestsPerSecond = defaultRPS
	}
	if g.Burst == 0 {
		g.Burst = defaultBurst
	}

	if c.Storage.Path == "" || c.Search.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolving home directory: %w", err)
		}
		dataDir := filepath.Join(home, ".local", "share", "roomsync")
		if c.Storage.Path == "" {
			c.Storage.Path = filepath.Join(dataDir, "rooms.db")
		}
		if c.Search.Path == "" {
			c.Search.Path = filepath.Join(dataDir, "search.db")
		}
	}
	if c.Search.ResultLimit == 0 {
		c.Search.ResultLimit = defaultResultLimit
	}

	s := &c.Sync
	if s.Schedule == "" {
		s.Schedule = schedule.DefaultSchedule
	}
	if s.BuildingBatchSize == 0 {
		s.BuildingBatchSize = defaultBatch
	}
	if s.StorageBatchSize == 0 {
		s.StorageBatchSize = maxStorageBatch
	}
	if s.Retry.MaxRetries == nil {
		n := retry.DefaultMaxRetries
		s.Retry.MaxRetries = &n
	}
	if s.Retry.BaseDelay == 0 {
		s.Retry.BaseDelay = retry.DefaultBaseDelay
	}
	return nil
}

func (g *GraphConfig) validate() error {
	return validation.ValidateStruct(g,
		validation.Field(&g.BaseURL, validation.Required, validation.By(httpURL)),
		validation.Field(&g.AuthorityURL, validation.Required, validation.By(httpURL)),
		validation.Field(&g.TenantID, validation.Required),
		validation.Field(&g.ClientID, validation.Required),
		validation.Field(&g.ClientSecret, validation.Required),
		validation.Field(&g.Timeout, validation.Min(time.Second), validation.Max(5*time.Minute)),
		validation.Field(&g.RequestsPerSecond, validation.Min(0.1)),
		validation.Field(&g.Burst, validation.Min(1)),
	)
}

func (s *SyncConfig) validate() error {
	return validation.ValidateStruct(s,
		validation.Field(&s.Schedule, validation.Required, validation.By(cronExpr)),
		validation.Field(&s.BuildingBatchSize, validation.Min(1), validation.Max(100)),
		validation.Field(&s.StorageBatchSize, validation.Min(1), validation.Max(maxStorageBatch)),
		validation.Field(&s.Retry),
	)
}

// Validate implements validation.Validatable.
func (r RetryConfig) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MaxRetries, validation.Min(0), validation.Max(10)),
		validation.Field(&r.BaseDelay, validation.Min(10*time.Millisecond), validation.Max(time.Minute)),
		validation.Field(&r.Strategy, validation.By(retryStrategy)),
	)
}

func httpURL(value any) error {
	s, _ := value.(string)
	u, err := url.ParseRequestURI(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q must be a valid http or https URL", s)
	}
	return nil
}

func cronExpr(value any) error {
	s, _ := value.(string)
	_, err := schedule.Parse(s)
	return err
}

func retryStrategy(value any) error {
	s, _ := value.(string)
	_, err := retry.ParseStrategy(s)
	return err
}
