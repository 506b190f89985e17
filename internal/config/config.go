// Package config provides configuration loading and management for the bridge.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// FacadeType identifies one of the supported upstream ecosystems.
type FacadeType string

const (
	// FacadeNPM serves the npmjs.org registry.
	FacadeNPM FacadeType = "npm"
	// FacadePyPI serves the pypi.org registry.
	FacadePyPI FacadeType = "pypi"
	// FacadeMaven serves Maven Central.
	FacadeMaven FacadeType = "maven"
	// FacadeOCI serves an OCI distribution registry.
	FacadeOCI FacadeType = "oci"
	// FacadeMCP serves an MCP server registry.
	FacadeMCP FacadeType = "mcp"
)

// Default listen ports, one per facade.
var defaultPorts = map[FacadeType]int{
	FacadeNPM:   3000,
	FacadePyPI:  3100,
	FacadeMaven: 3300,
	FacadeOCI:   3400,
	FacadeMCP:   3600,
}

// Default upstream endpoints.
var defaultUpstreams = map[FacadeType]string{
	FacadeNPM:   "https://registry.npmjs.org",
	FacadePyPI:  "https://pypi.org",
	FacadeMaven: "https://repo1.maven.org/maven2",
	FacadeOCI:   "https://registry-1.docker.io",
	FacadeMCP:   "https://registry.modelcontextprotocol.io",
}

// groupNaming carries the group/resource nouns one facade exposes.
type groupNaming struct {
	GroupPlural      string
	GroupSingular    string
	GroupID          string
	ResourcePlural   string
	ResourceSingular string
}

var defaultGroups = map[FacadeType]groupNaming{
	FacadeNPM:   {"noderegistries", "noderegistry", "npmjs.org", "packages", "package"},
	FacadePyPI:  {"pythonregistries", "pythonregistry", "pypi.org", "packages", "package"},
	FacadeMaven: {"javaregistries", "javaregistry", "central.maven.org", "packages", "package"},
	FacadeOCI:   {"containerregistries", "containerregistry", "docker.io", "images", "image"},
	FacadeMCP:   {"mcpproviders", "mcpprovider", "mcpregistry.org", "servers", "server"},
}

const (
	// DefaultUpstreamTimeout caps a single upstream call.
	DefaultUpstreamTimeout = 5 * time.Second
	// DefaultFilterDeadline caps a whole two-step filter query.
	DefaultFilterDeadline = 15 * time.Second
	// DefaultMaxMetadataFetches bounds step-two fan-out per query.
	DefaultMaxMetadataFetches = 100
	// DefaultMaxCacheSize bounds the L1 entry count.
	DefaultMaxCacheSize = 1000
	// DefaultFilterCacheSize bounds the filter-result LRU.
	DefaultFilterCacheSize = 2000
	// DefaultFilterCacheAge bounds the age of a cached filter result.
	DefaultFilterCacheAge = 10 * time.Minute
	// DefaultUpstreamConcurrency caps in-flight upstream calls per facade.
	DefaultUpstreamConcurrency = 16
	// DefaultBridgePort is the front router's listen port.
	DefaultBridgePort = 8080
)

// FacadeConfig holds the per-ecosystem settings.
type FacadeConfig struct {
	Type        FacadeType `yaml:"type"`
	Port        int        `yaml:"port,omitempty"`
	UpstreamURL string     `yaml:"upstreamUrl,omitempty"`
	BaseURL     string     `yaml:"baseUrl,omitempty"`
	APIKey      string     `yaml:"apiKey,omitempty"`
	CacheDir    string     `yaml:"cacheDir,omitempty"`
	GroupPlural   string     `yaml:"groupPlural,omitempty"`
	GroupSingular string     `yaml:"groupSingular,omitempty"`
	GroupID       string     `yaml:"groupId,omitempty"`
	// ResourcePlural names the resource collection, e.g. "packages".
	ResourcePlural   string `yaml:"resourcePlural,omitempty"`
	ResourceSingular string `yaml:"resourceSingular,omitempty"`
	// PackagesCountEstimate is reported on registry documents for upstreams
	// whose corpus size cannot be derived cheaply. It is an estimate.
	PackagesCountEstimate int `yaml:"packagesCountEstimate,omitempty"`
}

// Config is the root configuration for the bridge process.
type Config struct {
	Host          string         `yaml:"host,omitempty"`
	Port          int            `yaml:"port,omitempty"`
	APIPathPrefix string         `yaml:"apiPathPrefix,omitempty"`
	CacheDir      string         `yaml:"cacheDir,omitempty"`
	Quiet         bool           `yaml:"quiet,omitempty"`
	Facades       []FacadeConfig `yaml:"facades"`

	UpstreamTimeout     time.Duration `yaml:"upstreamTimeout,omitempty"`
	FilterDeadline      time.Duration `yaml:"filterDeadline,omitempty"`
	MaxMetadataFetches  int           `yaml:"maxMetadataFetches,omitempty"`
	MaxCacheSize        int           `yaml:"maxCacheSize,omitempty"`
	FilterCacheSize     int           `yaml:"filterCacheSize,omitempty"`
	FilterCacheAge      time.Duration `yaml:"filterCacheAge,omitempty"`
	UpstreamConcurrency int           `yaml:"upstreamConcurrency,omitempty"`

	// OTLPEndpoint enables trace export when non-empty.
	OTLPEndpoint string `yaml:"otlpEndpoint,omitempty"`
}

// Load resolves configuration from the optional YAML file at path, then
// overlays the enumerated environment variables. An empty path yields a
// config with all five facades enabled on their default ports.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if len(cfg.Facades) == 0 {
		for _, t := range []FacadeType{FacadeNPM, FacadePyPI, FacadeMaven, FacadeOCI, FacadeMCP} {
			cfg.Facades = append(cfg.Facades, FacadeConfig{Type: t})
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays the enumerated environment variables onto cfg.
func applyEnv(cfg *Config) {
	v := viper.New()
	v.AutomaticEnv()

	if p := v.GetInt("PORT"); p != 0 {
		cfg.Port = p
	}
	if h := v.GetString("HOST"); h != "" {
		cfg.Host = h
	}
	if p := v.GetString("API_PATH_PREFIX"); p != "" {
		cfg.APIPathPrefix = p
	}
	if d := v.GetString("XREGISTRY_CACHE_DIR"); d != "" {
		cfg.CacheDir = d
	}

	for i := range cfg.Facades {
		fc := &cfg.Facades[i]
		svc := strings.ToUpper(string(fc.Type))
		if u := v.GetString("XREGISTRY_" + svc + "_BASEURL"); u != "" {
			fc.BaseURL = u
		}
		if k := v.GetString("XREGISTRY_" + svc + "_API_KEY"); k != "" {
			fc.APIKey = k
		}
		if v.GetBool("XREGISTRY_" + svc + "_QUIET") {
			cfg.Quiet = true
		}
	}
}

// applyDefaults fills every unset field with its documented default.
func applyDefaults(cfg *Config) {
	if cfg.Host == "" {
		cfg.Host = "0.0.0.0"
	}
	if cfg.Port == 0 {
		cfg.Port = DefaultBridgePort
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = "./cache"
	}
	if cfg.UpstreamTimeout == 0 {
		cfg.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if cfg.FilterDeadline == 0 {
		cfg.FilterDeadline = DefaultFilterDeadline
	}
	if cfg.MaxMetadataFetches == 0 {
		cfg.MaxMetadataFetches = DefaultMaxMetadataFetches
	}
	if cfg.MaxCacheSize == 0 {
		cfg.MaxCacheSize = DefaultMaxCacheSize
	}
	if cfg.FilterCacheSize == 0 {
		cfg.FilterCacheSize = DefaultFilterCacheSize
	}
	if cfg.FilterCacheAge == 0 {
		cfg.FilterCacheAge = DefaultFilterCacheAge
	}
	if cfg.UpstreamConcurrency == 0 {
		cfg.UpstreamConcurrency = DefaultUpstreamConcurrency
	}

	for i := range cfg.Facades {
		fc := &cfg.Facades[i]
		if fc.Port == 0 {
			fc.Port = defaultPorts[fc.Type]
		}
		if fc.UpstreamURL == "" {
			fc.UpstreamURL = defaultUpstreams[fc.Type]
		}
		if g, ok := defaultGroups[fc.Type]; ok {
			if fc.GroupPlural == "" {
				fc.GroupPlural = g.GroupPlural
			}
			if fc.GroupSingular == "" {
				fc.GroupSingular = g.GroupSingular
			}
			if fc.GroupID == "" {
				fc.GroupID = g.GroupID
			}
			if fc.ResourcePlural == "" {
				fc.ResourcePlural = g.ResourcePlural
			}
			if fc.ResourceSingular == "" {
				fc.ResourceSingular = g.ResourceSingular
			}
		}
		if fc.CacheDir == "" {
			fc.CacheDir = cfg.CacheDir + "/" + string(fc.Type)
		}
		if fc.PackagesCountEstimate == 0 && fc.Type == FacadeNPM {
			fc.PackagesCountEstimate = 2_000_000
		}
	}
}

// Validate rejects malformed configuration.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	seenType := map[FacadeType]bool{}
	seenDir := map[string]bool{}
	for _, fc := range c.Facades {
		if _, ok := defaultPorts[fc.Type]; !ok {
			return fmt.Errorf("unknown facade type: %q", fc.Type)
		}
		if seenType[fc.Type] {
			return fmt.Errorf("duplicate facade type: %q", fc.Type)
		}
		seenType[fc.Type] = true
		if fc.Port <= 0 || fc.Port > 65535 {
			return fmt.Errorf("facade %s: invalid port %d", fc.Type, fc.Port)
		}
		if seenDir[fc.CacheDir] {
			return fmt.Errorf("facade %s: cache dir %q already in use", fc.Type, fc.CacheDir)
		}
		seenDir[fc.CacheDir] = true
		if !strings.HasPrefix(fc.UpstreamURL, "http://") && !strings.HasPrefix(fc.UpstreamURL, "https://") {
			return fmt.Errorf("facade %s: invalid upstream url %q", fc.Type, fc.UpstreamURL)
		}
	}
	return nil
}
