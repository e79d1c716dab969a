/*
File: config.go
Version: 4.0.0
Description: YAML configuration for the URL classification daemon: listeners, logging, engine/model,
             override rule lists, result store and API rate limiting.
             Durations are kept as strings in YAML and parsed into unexported fields with defaults.
*/

package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// --- Configuration Structures ---

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Engine    EngineConfig    `yaml:"engine"`
	Whitelist WhitelistConfig `yaml:"whitelist"`
	Brands    BrandsConfig    `yaml:"brands"`
	Store     StoreConfig     `yaml:"store"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Lists     ListsConfig     `yaml:"lists"`
}

type EngineConfig struct {
	ModelFile       string  `yaml:"model_file"`
	Threshold       float64 `yaml:"threshold"`        // score strictly above this is suspicious
	CacheSize       int     `yaml:"cache_size"`       // per-URL verdict cache, 0 disables
	RefreshInterval string  `yaml:"refresh_interval"` // model file mtime check, empty disables

	parsedRefresh time.Duration
}

type WhitelistConfig struct {
	Domains         StringOrSlice `yaml:"domains"`
	Files           StringOrSlice `yaml:"files"`            // paths or http(s) URLs, see lists.go for formats
	IncludeDefaults bool          `yaml:"include_defaults"` // keep the built-in list next to configured entries
	SuffixMatch     string        `yaml:"suffix_match"`     // "string" (default) or "label"
	TrustedNetworks StringOrSlice `yaml:"trusted_networks"` // CIDRs whitelisting IP-literal hosts
}

// ListsConfig controls how whitelist/brand list files and URLs are fetched.
type ListsConfig struct {
	CacheDir string `yaml:"cache_dir"` // disk cache for downloaded lists, empty disables
	Timeout  string `yaml:"timeout"`

	parsedTimeout time.Duration
}

type BrandsConfig struct {
	Names           StringOrSlice `yaml:"names"`
	Files           StringOrSlice `yaml:"files"`
	Keywords        StringOrSlice `yaml:"keywords"`
	IncludeDefaults bool          `yaml:"include_defaults"`
}

type StoreConfig struct {
	Backend      string `yaml:"backend"` // "memory" (default) or "redis"
	Size         int    `yaml:"size"`
	StateFile    string `yaml:"state_file"`
	SaveInterval string `yaml:"save_interval"`
	MaxPersisted int    `yaml:"max_persisted"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		Prefix   string `yaml:"prefix"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`

	parsedSaveInterval time.Duration
	parsedTTL          time.Duration
}

type RateLimitConfig struct {
	Enabled          bool   `yaml:"enabled"`
	ClientQPS        int    `yaml:"client_qps"`
	ClientBurst      int    `yaml:"client_burst"`
	CleanupInterval  string `yaml:"cleanup_interval"`
	ClientExpiration string `yaml:"client_expiration"`

	parsedCleanupInterval  time.Duration
	parsedClientExpiration time.Duration
}

type LoggingConfig struct {
	Level   string   `yaml:"level"`
	Format  string   `yaml:"format"`
	Outputs []string `yaml:"outputs"`

	File struct {
		Path        string `yaml:"path"`
		Permissions uint32 `yaml:"permissions"`
	} `yaml:"file"`

	Syslog struct {
		Network  string `yaml:"network"`
		Address  string `yaml:"address"`
		Tag      string `yaml:"tag"`
		Facility int    `yaml:"facility"`
	} `yaml:"syslog"`
}

type ListenerConfig struct {
	Address  StringOrSlice `yaml:"address"`
	Port     IntOrSlice    `yaml:"port"`
	Protocol string        `yaml:"protocol"` // "http", "https", "h3"
}

type ServerConfig struct {
	Listeners []ListenerConfig `yaml:"listeners"`

	TLS struct {
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"tls"`

	Timeout     string `yaml:"timeout"`
	MaxBodySize int64  `yaml:"max_body_size"`

	parsedTimeout time.Duration
}

type StringOrSlice []string

func (s *StringOrSlice) UnmarshalYAML(value *yaml.Node) error {
	var single string
	if err := value.Decode(&single); err == nil {
		*s = []string{single}
		return nil
	}
	var slice []string
	if err := value.Decode(&slice); err != nil {
		return err
	}
	*s = slice
	return nil
}

type IntOrSlice []int

func (s *IntOrSlice) UnmarshalYAML(value *yaml.Node) error {
	var single int
	if err := value.Decode(&single); err == nil {
		*s = []int{single}
		return nil
	}
	var slice []int
	if err := value.Decode(&slice); err != nil {
		return err
	}
	*s = slice
	return nil
}

// --- Configuration Loading ---

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, applies environment overrides and fills defaults.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig is what an empty config file yields.
func DefaultConfig() *Config {
	cfg, _ := ParseConfig(nil)
	return cfg
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("URLGUARD_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("URLGUARD_MODEL_FILE"); v != "" {
		cfg.Engine.ModelFile = v
	}
	if v := os.Getenv("URLGUARD_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Engine.Threshold = f
		}
	}
	if v := os.Getenv("URLGUARD_REDIS_ADDR"); v != "" {
		cfg.Store.Redis.Addr = v
	}
	if v := os.Getenv("URLGUARD_REDIS_PASSWORD"); v != "" {
		cfg.Store.Redis.Password = v
	}
}

func (cfg *Config) applyDefaults() error {
	// Server
	if len(cfg.Server.Listeners) == 0 {
		cfg.Server.Listeners = []ListenerConfig{{Address: StringOrSlice{"127.0.0.1"}, Port: IntOrSlice{8053}, Protocol: "http"}}
	}
	for i := range cfg.Server.Listeners {
		l := &cfg.Server.Listeners[i]
		l.Protocol = strings.ToLower(l.Protocol)
		if l.Protocol == "" {
			l.Protocol = "http"
		}
		switch l.Protocol {
		case "http", "https", "h3":
		default:
			return fmt.Errorf("listener %d: unknown protocol %q", i, l.Protocol)
		}
		if (l.Protocol == "https" || l.Protocol == "h3") && (cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "") {
			return fmt.Errorf("listener %d: protocol %s requires server.tls.cert_file and key_file", i, l.Protocol)
		}
	}
	cfg.Server.parsedTimeout = parseDurationOr("server.timeout", cfg.Server.Timeout, DefaultServerTimeout)
	if cfg.Server.MaxBodySize <= 0 {
		cfg.Server.MaxBodySize = DefaultMaxBodySize
	}

	// Logging
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if len(cfg.Logging.Outputs) == 0 {
		cfg.Logging.Outputs = []string{"console"}
	}

	// Engine
	if cfg.Engine.Threshold <= 0 || cfg.Engine.Threshold >= 1 {
		cfg.Engine.Threshold = defaultThreshold
	}
	if cfg.Engine.CacheSize < 0 {
		cfg.Engine.CacheSize = 0
	}
	if cfg.Engine.RefreshInterval != "" {
		cfg.Engine.parsedRefresh = parseDurationOr("engine.refresh_interval", cfg.Engine.RefreshInterval, 0)
	}

	// Whitelist
	switch strings.ToLower(cfg.Whitelist.SuffixMatch) {
	case "":
		cfg.Whitelist.SuffixMatch = SuffixMatchString
	case SuffixMatchString, SuffixMatchLabel:
		cfg.Whitelist.SuffixMatch = strings.ToLower(cfg.Whitelist.SuffixMatch)
	default:
		return fmt.Errorf("whitelist.suffix_match must be %q or %q, got %q",
			SuffixMatchString, SuffixMatchLabel, cfg.Whitelist.SuffixMatch)
	}

	// Store
	cfg.Store.Backend = strings.ToLower(cfg.Store.Backend)
	switch cfg.Store.Backend {
	case "":
		cfg.Store.Backend = "memory"
	case "memory", "redis":
	default:
		return fmt.Errorf("store.backend must be memory or redis, got %q", cfg.Store.Backend)
	}
	if cfg.Store.Size <= 0 {
		cfg.Store.Size = 4096
	}
	if cfg.Store.MaxPersisted <= 0 {
		cfg.Store.MaxPersisted = 2000
	}
	cfg.Store.parsedSaveInterval = parseDurationOr("store.save_interval", cfg.Store.SaveInterval, 5*time.Minute)
	if cfg.Store.Redis.Addr == "" {
		cfg.Store.Redis.Addr = "127.0.0.1:6379"
	}
	if cfg.Store.Redis.Prefix == "" {
		cfg.Store.Redis.Prefix = "urlguard:result:"
	}
	cfg.Store.parsedTTL = parseDurationOr("store.redis.ttl", cfg.Store.Redis.TTL, 24*time.Hour)

	// Lists
	cfg.Lists.parsedTimeout = parseDurationOr("lists.timeout", cfg.Lists.Timeout, 15*time.Second)

	// Rate Limit
	if cfg.RateLimit.ClientQPS <= 0 {
		cfg.RateLimit.ClientQPS = 50
	}
	if cfg.RateLimit.ClientBurst <= 0 {
		cfg.RateLimit.ClientBurst = cfg.RateLimit.ClientQPS * 2
	}
	cfg.RateLimit.parsedCleanupInterval = parseDurationOr("rate_limit.cleanup_interval", cfg.RateLimit.CleanupInterval, time.Minute)
	cfg.RateLimit.parsedClientExpiration = parseDurationOr("rate_limit.client_expiration", cfg.RateLimit.ClientExpiration, 5*time.Minute)

	return nil
}

func parseDurationOr(name, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		LogWarn("[CONFIG] Invalid %s '%s', defaulting to %v", name, value, fallback)
		return fallback
	}
	return d
}

// OverrideOptions assembles the rule lists from inline entries, list sources and defaults.
// CIDR lines found in whitelist sources are added to the trusted networks.
func (cfg *Config) OverrideOptions() (OverrideOptions, error) {
	opts := OverrideOptions{
		SuffixMatch:     cfg.Whitelist.SuffixMatch,
		TrustedNetworks: append([]string(nil), cfg.Whitelist.TrustedNetworks...),
		Keywords:        cfg.Brands.Keywords,
	}
	loader := newListLoader(cfg.Lists)

	whitelist, err := loader.Load(cfg.Whitelist.Files)
	if err != nil {
		return opts, err
	}
	opts.Whitelist = append(whitelist.Names, cfg.Whitelist.Domains...)
	if cfg.Whitelist.IncludeDefaults && len(opts.Whitelist) > 0 {
		opts.Whitelist = append(opts.Whitelist, defaultWhitelist...)
	}
	opts.TrustedNetworks = append(opts.TrustedNetworks, whitelist.Networks...)

	brands, err := loader.Load(cfg.Brands.Files)
	if err != nil {
		return opts, err
	}
	opts.Brands = append(brands.Names, cfg.Brands.Names...)
	if cfg.Brands.IncludeDefaults && len(opts.Brands) > 0 {
		opts.Brands = append(opts.Brands, defaultBrands...)
	}

	return opts, nil
}
