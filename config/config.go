package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the research engine and its binaries.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	Engine     EngineConfig     `mapstructure:"engine"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Browser    BrowserConfig    `mapstructure:"browser"`
	Search     SearchConfig     `mapstructure:"search"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Control    ControlConfig    `mapstructure:"control"`
	Trust      TrustConfig      `mapstructure:"trust"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Streams    StreamsConfig    `mapstructure:"streams"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server and auth settings. Requests are
// accepted with a bearer token signed by JWTSecret or, when APIKeyHash is
// set, an X-API-Key header matching the bcrypt hash.
type ServerConfig struct {
	Address          string        `mapstructure:"address"`
	JWTSecret        string        `mapstructure:"jwt_secret"`
	APIKeyHash       string        `mapstructure:"api_key_hash"`
	TokenTTL         time.Duration `mapstructure:"token_ttl"`
	CORSOrigins      []string      `mapstructure:"cors_origins"`
	ProgressInterval time.Duration `mapstructure:"progress_interval"`
	RunHistoryLimit  int           `mapstructure:"run_history_limit"`
}

// Normalize applies defaults for unset server values.
func (s ServerConfig) Normalize() ServerConfig {
	if strings.TrimSpace(s.Address) == "" {
		s.Address = ":8080"
	}
	if s.TokenTTL <= 0 {
		s.TokenTTL = 24 * time.Hour
	}
	if s.ProgressInterval <= 0 {
		s.ProgressInterval = time.Second
	}
	if s.RunHistoryLimit <= 0 {
		s.RunHistoryLimit = 100
	}
	return s
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return fmt.Errorf("server.address is required")
	}
	return nil
}

// EngineConfig controls run orchestration defaults.
type EngineConfig struct {
	DefaultMode       string `mapstructure:"default_mode"`
	MaxConcurrentRuns int    `mapstructure:"max_concurrent_runs"`
}

// Normalize applies defaults for unset engine values.
func (e EngineConfig) Normalize() EngineConfig {
	if strings.TrimSpace(e.DefaultMode) == "" {
		e.DefaultMode = "balanced"
	}
	if e.MaxConcurrentRuns <= 0 {
		e.MaxConcurrentRuns = 4
	}
	return e
}

func (e EngineConfig) Validate() error {
	switch e.DefaultMode {
	case "fast", "balanced", "deep":
		return nil
	default:
		return fmt.Errorf("engine.default_mode must be fast, balanced or deep, got %q", e.DefaultMode)
	}
}

// ClassifierConfig selects the question classifier implementation.
type ClassifierConfig struct {
	Provider string        `mapstructure:"provider"` // keyword or openai
	Model    string        `mapstructure:"model"`
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Normalize applies defaults for unset classifier values.
func (c ClassifierConfig) Normalize() ClassifierConfig {
	c.Provider = strings.ToLower(strings.TrimSpace(c.Provider))
	if c.Provider == "" {
		c.Provider = "keyword"
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = "gpt-4o-mini"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

func (c ClassifierConfig) Validate() error {
	switch c.Provider {
	case "keyword":
		return nil
	case "openai":
		if strings.TrimSpace(c.APIKey) == "" {
			return fmt.Errorf("classifier.api_key is required when provider is openai")
		}
		return nil
	default:
		return fmt.Errorf("classifier.provider must be keyword or openai, got %q", c.Provider)
	}
}

// BrowserConfig drives the reference browser adapter.
type BrowserConfig struct {
	Headless          bool              `mapstructure:"headless"`
	UserAgent         string            `mapstructure:"user_agent"`
	NavigationTimeout time.Duration     `mapstructure:"navigation_timeout"`
	StabilizeDelay    time.Duration     `mapstructure:"stabilize_delay"`
	RequestsPerSecond float64           `mapstructure:"requests_per_second"`
	Burst             int               `mapstructure:"burst"`
	Policy            CrawlPolicyConfig `mapstructure:"crawl_policy"`
}

// Normalize applies defaults for unset browser values.
func (b BrowserConfig) Normalize() BrowserConfig {
	if strings.TrimSpace(b.UserAgent) == "" {
		b.UserAgent = "scour-research/1.0"
	}
	if b.NavigationTimeout <= 0 {
		b.NavigationTimeout = 20 * time.Second
	}
	if b.StabilizeDelay < 0 {
		b.StabilizeDelay = 0
	}
	if b.RequestsPerSecond <= 0 {
		b.RequestsPerSecond = 1.0
	}
	if b.Burst <= 0 {
		b.Burst = 1
	}
	b.Policy = b.Policy.Normalize()
	return b
}

func (b BrowserConfig) Validate() error {
	if b.NavigationTimeout <= 0 {
		return fmt.Errorf("browser.navigation_timeout must be positive")
	}
	if b.RequestsPerSecond <= 0 {
		return fmt.Errorf("browser.requests_per_second must be positive")
	}
	return b.Policy.Validate()
}

// SearchConfig selects the web-search provider used to expand execution
// paths past their seed URLs. The API key is checked when the provider is
// constructed, not here, so configs without one still load.
type SearchConfig struct {
	Provider string        `mapstructure:"provider"` // brave or serper
	APIKey   string        `mapstructure:"api_key"`
	BaseURL  string        `mapstructure:"base_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Normalize applies defaults for unset search values.
func (s SearchConfig) Normalize() SearchConfig {
	s.Provider = strings.ToLower(strings.TrimSpace(s.Provider))
	if s.Provider == "" {
		s.Provider = "brave"
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	return s
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "brave", "serper":
		return nil
	default:
		return fmt.Errorf("search.provider must be brave or serper, got %q", s.Provider)
	}
}

// CacheConfig sizes the four content caches. Zero values fall back to the
// cache package defaults.
type CacheConfig struct {
	PageCapacity       int           `mapstructure:"page_capacity"`
	PageTTL            time.Duration `mapstructure:"page_ttl"`
	ExtractionCapacity int           `mapstructure:"extraction_capacity"`
	ExtractionTTL      time.Duration `mapstructure:"extraction_ttl"`
	DomainCapacity     int           `mapstructure:"domain_capacity"`
	DomainTTL          time.Duration `mapstructure:"domain_ttl"`
	QueryCapacity      int           `mapstructure:"query_capacity"`
	QueryTTL           time.Duration `mapstructure:"query_ttl"`
}

func (c CacheConfig) Validate() error {
	for name, v := range map[string]int{
		"page_capacity":       c.PageCapacity,
		"extraction_capacity": c.ExtractionCapacity,
		"domain_capacity":     c.DomainCapacity,
		"query_capacity":      c.QueryCapacity,
	} {
		if v < 0 {
			return fmt.Errorf("cache.%s cannot be negative", name)
		}
	}
	return nil
}

// ControlConfig bounds the telemetry event log.
type ControlConfig struct {
	EventCapacity int           `mapstructure:"event_capacity"`
	EventMaxAge   time.Duration `mapstructure:"event_max_age"`
}

func (c ControlConfig) Validate() error {
	if c.EventCapacity < 0 {
		return fmt.Errorf("control.event_capacity cannot be negative")
	}
	return nil
}

// TrustConfig tunes the source-intelligence engine. TierOverrides pins a
// trust tier (1 best .. 5 worst) per host, winning over the built-in rules.
type TrustConfig struct {
	TierOverrides map[string]int `mapstructure:"tier_overrides"`
	SweepMaxAge   time.Duration  `mapstructure:"sweep_max_age"`
}

// Normalize standardises override hosts and clamps tiers into range.
func (c TrustConfig) Normalize() TrustConfig {
	cfg := c
	if cfg.SweepMaxAge < 0 {
		cfg.SweepMaxAge = 0
	}
	if cfg.TierOverrides == nil {
		cfg.TierOverrides = map[string]int{}
		return cfg
	}
	overrides := make(map[string]int, len(cfg.TierOverrides))
	for host, tier := range cfg.TierOverrides {
		key := normalizeHost(host)
		if key == "" {
			continue
		}
		if tier < 1 {
			tier = 1
		}
		if tier > 5 {
			tier = 5
		}
		overrides[key] = tier
	}
	cfg.TierOverrides = overrides
	return cfg
}

// Validate ensures trust settings are internally consistent.
func (c TrustConfig) Validate() error {
	for host, tier := range c.TierOverrides {
		if tier < 1 || tier > 5 {
			return fmt.Errorf("trust.tier_overrides[%q] must be between 1 and 5", host)
		}
	}
	return nil
}

// StorageConfig contains storage and persistence settings
type StorageConfig struct {
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	File     FileConfig     `mapstructure:"file"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether a Redis endpoint is configured at all.
func (r RedisConfig) Enabled() bool {
	return strings.TrimSpace(r.Host) != ""
}

func (r RedisConfig) Validate() error {
	if !r.Enabled() {
		return nil
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required when host is set")
	}
	return nil
}

// Addr joins host and port for client construction.
func (r RedisConfig) Addr() string {
	return strings.TrimSpace(r.Host) + ":" + strings.TrimSpace(r.Port)
}

// PostgresConfig contains Postgres connection settings
type PostgresConfig struct {
	URL      string        `mapstructure:"url"`
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	User     string        `mapstructure:"user"`
	Password string        `mapstructure:"password"`
	DBName   string        `mapstructure:"dbname"`
	SSLMode  string        `mapstructure:"sslmode"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// Enabled reports whether the archive store is configured at all.
func (p PostgresConfig) Enabled() bool {
	return strings.TrimSpace(p.URL) != "" || strings.TrimSpace(p.Host) != ""
}

func (p PostgresConfig) Validate() error {
	if strings.TrimSpace(p.URL) != "" {
		return nil
	}
	if strings.TrimSpace(p.Host) == "" {
		return nil // archive disabled
	}
	if strings.TrimSpace(p.Port) == "" {
		return fmt.Errorf("storage.postgres.port required when url is not provided")
	}
	if strings.TrimSpace(p.DBName) == "" {
		return fmt.Errorf("storage.postgres.dbname required when url is not provided")
	}
	return nil
}

// DSN assembles a lib/pq connection string when URL is not given directly.
func (p PostgresConfig) DSN() string {
	if strings.TrimSpace(p.URL) != "" {
		return p.URL
	}
	sslmode := strings.TrimSpace(p.SSLMode)
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.DBName, sslmode)
}

// FileConfig contains file storage settings
type FileConfig struct {
	DataDir string `mapstructure:"data_dir"`
	LogDir  string `mapstructure:"log_dir"`
}

// StreamsConfig controls mirroring telemetry events onto a redis stream.
type StreamsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Stream  string `mapstructure:"stream"`
	MaxLen  int64  `mapstructure:"max_len"`
}

// Normalize applies defaults for unset stream values.
func (s StreamsConfig) Normalize() StreamsConfig {
	if strings.TrimSpace(s.Stream) == "" {
		s.Stream = "scour:events"
	}
	if s.MaxLen <= 0 {
		s.MaxLen = 10000
	}
	return s
}

func (s StreamsConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	if strings.TrimSpace(s.Stream) == "" {
		return fmt.Errorf("streams.stream is required when streams are enabled")
	}
	return nil
}

// SchedulerConfig drives standing objectives and periodic state sweeps.
type SchedulerConfig struct {
	Enabled        bool                `mapstructure:"enabled"`
	SweepEvery     time.Duration       `mapstructure:"sweep_every"`
	ClaimMaxAge    time.Duration       `mapstructure:"claim_max_age"`
	SnapshotMaxAge time.Duration       `mapstructure:"snapshot_max_age"`
	Objectives     []StandingObjective `mapstructure:"objectives"`
}

// StandingObjective is a recurring research query resubmitted on a cron
// schedule while the server runs.
type StandingObjective struct {
	Name               string   `mapstructure:"name"`
	Query              string   `mapstructure:"query"`
	Mode               string   `mapstructure:"mode"`
	Cron               string   `mapstructure:"cron"`
	KnownDomains       []string `mapstructure:"known_domains"`
	RequiredConfidence float64  `mapstructure:"required_confidence"`
}

// Normalize applies defaults for unset scheduler values.
func (s SchedulerConfig) Normalize() SchedulerConfig {
	if s.SweepEvery <= 0 {
		s.SweepEvery = time.Hour
	}
	if s.ClaimMaxAge < 0 {
		s.ClaimMaxAge = 0
	}
	if s.SnapshotMaxAge < 0 {
		s.SnapshotMaxAge = 0
	}
	return s
}

func (s SchedulerConfig) Validate() error {
	if !s.Enabled {
		return nil
	}
	for i, o := range s.Objectives {
		if strings.TrimSpace(o.Name) == "" {
			return fmt.Errorf("scheduler.objectives[%d].name is required", i)
		}
		if strings.TrimSpace(o.Query) == "" {
			return fmt.Errorf("scheduler.objectives[%d].query is required", i)
		}
		if strings.TrimSpace(o.Cron) == "" {
			return fmt.Errorf("scheduler.objectives[%d].cron is required", i)
		}
		if o.RequiredConfidence < 0 || o.RequiredConfidence > 1 {
			return fmt.Errorf("scheduler.objectives[%d].required_confidence must be between 0 and 1", i)
		}
	}
	return nil
}

// LoadConfig loads config from file
func LoadConfig(path string) *Config {
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	viper.SetDefault("general.log_level", "info")
	viper.SetDefault("general.default_timeout", "20m")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("engine.default_mode", "balanced")
	viper.SetDefault("engine.max_concurrent_runs", 4)
	viper.SetDefault("classifier.provider", "keyword")
	viper.SetDefault("browser.headless", true)
	viper.SetDefault("browser.crawl_policy.respect_robots", true)
	viper.SetDefault("search.provider", "brave")
	viper.SetDefault("streams.stream", "scour:events")
	viper.SetDefault("streams.max_len", 10000)
	viper.SetDefault("scheduler.sweep_every", "1h")

	if path == "" {
		viper.AddConfigPath("./app/config") // path to look for the config file in
		viper.AddConfigPath("./config")     // path to look for the config file in
		viper.AddConfigPath(".")            // optionally look for config in the working directory
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)                                // bin/
		viper.AddConfigPath(filepath.Join(exeDir, ".."))           // repo root
		viper.AddConfigPath(filepath.Join(exeDir, "..", "config")) // repo root/config
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("SCOUR")
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	viper.AutomaticEnv() // read in environment variables that match (SCOUR_*)

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		panic(fmt.Errorf("fatal error config file: %w", err))
	}

	// unmarshal config
	var config Config

	if err = viper.Unmarshal(&config); err != nil {
		panic(fmt.Errorf("fatal error config file: %w", err))
	}
	config.Server = config.Server.Normalize()
	config.Engine = config.Engine.Normalize()
	config.Classifier = config.Classifier.Normalize()
	config.Browser = config.Browser.Normalize()
	config.Search = config.Search.Normalize()
	config.Trust = config.Trust.Normalize()
	config.Streams = config.Streams.Normalize()
	config.Scheduler = config.Scheduler.Normalize()

	sections := map[string]interface{ Validate() error }{
		"server":     config.Server,
		"engine":     config.Engine,
		"classifier": config.Classifier,
		"browser":    config.Browser,
		"search":     config.Search,
		"cache":      config.Cache,
		"control":    config.Control,
		"trust":      config.Trust,
		"redis":      config.Storage.Redis,
		"postgres":   config.Storage.Postgres,
		"streams":    config.Streams,
		"scheduler":  config.Scheduler,
	}
	for name, section := range sections {
		if err := section.Validate(); err != nil {
			panic(fmt.Errorf("config %s: %w", name, err))
		}
	}
	return &config
}
