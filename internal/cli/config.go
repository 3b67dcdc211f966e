package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/tobert/render-trace/internal/sink"
	"github.com/tobert/render-trace/internal/viz"
)

// configExtensions are tried in order when looking for config files.
var configExtensions = []string{".json", ".yaml", ".yml", ".toml"}

// Config holds the runtime configuration of render-trace.
// It can be populated from CLI flags, config files, or both.
type Config struct {
	// Comment field for user documentation (ignored by the application)
	Comment string `json:"comment,omitempty" yaml:"comment,omitempty" toml:"comment,omitempty"`

	// Service name on exported OTLP spans
	ServiceName string `json:"service_name,omitempty" yaml:"service_name,omitempty" toml:"service_name,omitempty"`

	// Number of reports kept in memory
	ReportBufferSize int `json:"report_buffer_size,omitempty" yaml:"report_buffer_size,omitempty" toml:"report_buffer_size,omitempty"`

	// Directory watched for report JSONL files
	WatchDir string `json:"watch_dir,omitempty" yaml:"watch_dir,omitempty" toml:"watch_dir,omitempty"`

	// Web UI configuration
	WebUIHost string `json:"webui_host,omitempty" yaml:"webui_host,omitempty" toml:"webui_host,omitempty"`
	WebUIPort int    `json:"webui_port,omitempty" yaml:"webui_port,omitempty" toml:"webui_port,omitempty"`

	// MCP on stdio; disable to run only the web UI
	NoMCP bool `json:"no_mcp,omitempty" yaml:"no_mcp,omitempty" toml:"no_mcp,omitempty"`

	// OTLP receiver for reports pushed by instrumented applications
	OTLPReceiver bool   `json:"otlp_receiver,omitempty" yaml:"otlp_receiver,omitempty" toml:"otlp_receiver,omitempty"`
	OTLPHost     string `json:"otlp_host,omitempty" yaml:"otlp_host,omitempty" toml:"otlp_host,omitempty"`
	OTLPPort     int    `json:"otlp_port,omitempty" yaml:"otlp_port,omitempty" toml:"otlp_port,omitempty"`

	// OTLP collector that captured reports are forwarded to
	OTLPEndpoint string `json:"otlp_endpoint,omitempty" yaml:"otlp_endpoint,omitempty" toml:"otlp_endpoint,omitempty"`

	// OpenTelemetry Collector config whose file exporters are imported at startup
	OtelConfig string `json:"otel_config,omitempty" yaml:"otel_config,omitempty" toml:"otel_config,omitempty"`

	// Time classes in milliseconds
	SlowMs       float64 `json:"slow_ms,omitempty" yaml:"slow_ms,omitempty" toml:"slow_ms,omitempty"`
	WarnMs       float64 `json:"warn_ms,omitempty" yaml:"warn_ms,omitempty" toml:"warn_ms,omitempty"`
	NegligibleMs float64 `json:"negligible_ms,omitempty" yaml:"negligible_ms,omitempty" toml:"negligible_ms,omitempty"`
	SlowQueryMs  float64 `json:"slow_query_ms,omitempty" yaml:"slow_query_ms,omitempty" toml:"slow_query_ms,omitempty"`

	// Where exported trace files go when no object store is configured
	ExportDir string `json:"export_dir,omitempty" yaml:"export_dir,omitempty" toml:"export_dir,omitempty"`

	ObjectStore ObjectStoreConfig `json:"object_store,omitempty" yaml:"object_store,omitempty" toml:"object_store,omitempty"`

	// Logging configuration
	Verbose bool `json:"verbose,omitempty" yaml:"verbose,omitempty" toml:"verbose,omitempty"`
}

// ObjectStoreConfig points report persistence and exports at an
// S3-compatible bucket.
type ObjectStoreConfig struct {
	Endpoint  string `json:"endpoint,omitempty" yaml:"endpoint,omitempty" toml:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty" yaml:"access_key,omitempty" toml:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty" yaml:"secret_key,omitempty" toml:"secret_key,omitempty"`
	Bucket    string `json:"bucket,omitempty" yaml:"bucket,omitempty" toml:"bucket,omitempty"`
	Prefix    string `json:"prefix,omitempty" yaml:"prefix,omitempty" toml:"prefix,omitempty"`
	Format    string `json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty"`
	Secure    bool   `json:"secure,omitempty" yaml:"secure,omitempty" toml:"secure,omitempty"`
}

// Enabled reports whether an object store is configured.
func (o ObjectStoreConfig) Enabled() bool {
	return o.Endpoint != "" && o.Bucket != ""
}

// DefaultConfig returns a Config with sensible default values:
// - 500 reports in memory
// - web UI on localhost:4390
// - MCP on stdio, OTLP receiver off
func DefaultConfig() *Config {
	return &Config{
		ServiceName:      "render-trace",
		ReportBufferSize: 500,
		WebUIHost:        "127.0.0.1",
		WebUIPort:        4390,
		OTLPHost:         "127.0.0.1",
		OTLPPort:         0, // 0 means ephemeral port assignment
		SlowMs:           viz.DefaultSlowMs,
		WarnMs:           viz.DefaultWarnMs,
		NegligibleMs:     0.5,
		SlowQueryMs:      10,
		ExportDir:        ".",
		ObjectStore:      ObjectStoreConfig{Format: sink.FormatJSON},
		Verbose:          false,
	}
}

// Thresholds returns the time classes for viewers.
func (c *Config) Thresholds() viz.Thresholds {
	return viz.Thresholds{SlowMs: c.SlowMs, WarnMs: c.WarnMs}
}

// SlowQueryThreshold returns SlowQueryMs as a duration.
func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryMs * float64(time.Millisecond))
}

// LoadConfigFromFile loads configuration from a JSON, YAML or TOML file at
// the given path, picking the format from the extension.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &config)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &config)
	case ".toml":
		err = toml.Unmarshal(data, &config)
	default:
		return nil, fmt.Errorf("unsupported config format %q for %s", ext, path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return &config, nil
}

// firstExisting returns base+ext for the first extension that exists.
func firstExisting(base string) (string, bool) {
	for _, ext := range configExtensions {
		if _, err := os.Stat(base + ext); err == nil {
			return base + ext, true
		}
	}
	return "", false
}

// FindProjectConfig searches for a .render-trace.{json,yaml,yml,toml} file.
// It starts in the current directory and walks up looking for the file,
// stopping when it finds a .git directory (project root) or reaches root.
func FindProjectConfig() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}

	for {
		if path, ok := firstExisting(filepath.Join(dir, ".render-trace")); ok {
			return path, nil
		}

		// Stop at the repo root even if no config was found
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", os.ErrNotExist
}

// GlobalConfigPath returns the path to the global config file,
// ~/.config/render-trace/config.{json,yaml,yml,toml}. The JSON path is
// returned when none exists.
func GlobalConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	base := filepath.Join(home, ".config", "render-trace", "config")
	if path, ok := firstExisting(base); ok {
		return path
	}
	return base + ".json"
}

// MergeConfigs merges two configs with the overlay taking precedence.
// Fields in overlay override corresponding fields in base.
// Returns a new Config with the merged values.
func MergeConfigs(base, overlay *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	if overlay == nil {
		return base
	}

	merged := *base

	if overlay.ServiceName != "" {
		merged.ServiceName = overlay.ServiceName
	}
	if overlay.ReportBufferSize > 0 {
		merged.ReportBufferSize = overlay.ReportBufferSize
	}
	if overlay.WatchDir != "" {
		merged.WatchDir = overlay.WatchDir
	}
	if overlay.Verbose {
		merged.Verbose = overlay.Verbose
	}

	// Web UI and MCP
	if overlay.WebUIHost != "" {
		merged.WebUIHost = overlay.WebUIHost
	}
	if overlay.WebUIPort > 0 {
		merged.WebUIPort = overlay.WebUIPort
	}
	if overlay.NoMCP {
		merged.NoMCP = overlay.NoMCP
	}

	// OTLP
	if overlay.OTLPReceiver {
		merged.OTLPReceiver = overlay.OTLPReceiver
	}
	if overlay.OTLPHost != "" {
		merged.OTLPHost = overlay.OTLPHost
	}
	if overlay.OTLPPort != 0 {
		merged.OTLPPort = overlay.OTLPPort
	}
	if overlay.OTLPEndpoint != "" {
		merged.OTLPEndpoint = overlay.OTLPEndpoint
	}
	if overlay.OtelConfig != "" {
		merged.OtelConfig = overlay.OtelConfig
	}

	// Thresholds
	if overlay.SlowMs > 0 {
		merged.SlowMs = overlay.SlowMs
	}
	if overlay.WarnMs > 0 {
		merged.WarnMs = overlay.WarnMs
	}
	if overlay.NegligibleMs > 0 {
		merged.NegligibleMs = overlay.NegligibleMs
	}
	if overlay.SlowQueryMs > 0 {
		merged.SlowQueryMs = overlay.SlowQueryMs
	}

	// Exports and object store
	if overlay.ExportDir != "" {
		merged.ExportDir = overlay.ExportDir
	}
	o := overlay.ObjectStore
	if o.Endpoint != "" {
		merged.ObjectStore.Endpoint = o.Endpoint
	}
	if o.AccessKey != "" {
		merged.ObjectStore.AccessKey = o.AccessKey
	}
	if o.SecretKey != "" {
		merged.ObjectStore.SecretKey = o.SecretKey
	}
	if o.Bucket != "" {
		merged.ObjectStore.Bucket = o.Bucket
	}
	if o.Prefix != "" {
		merged.ObjectStore.Prefix = o.Prefix
	}
	if o.Format != "" {
		merged.ObjectStore.Format = o.Format
	}
	if o.Secure {
		merged.ObjectStore.Secure = o.Secure
	}

	return &merged
}

// LoadEffectiveConfig loads the effective configuration by merging:
// 1. Built-in defaults
// 2. Global config file (if exists)
// 3. Project config file (if exists)
// 4. Explicit config file (if specified via configPath)
// Later sources override earlier ones.
func LoadEffectiveConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	// Global config is optional; errors are ignored
	if globalPath := GlobalConfigPath(); globalPath != "" {
		if globalCfg, err := LoadConfigFromFile(globalPath); err == nil {
			config = MergeConfigs(config, globalCfg)
		}
	}

	if configPath == "" {
		if projectPath, err := FindProjectConfig(); err == nil {
			projectCfg, err := LoadConfigFromFile(projectPath)
			if err != nil {
				return nil, fmt.Errorf("failed to load project config: %w", err)
			}
			config = MergeConfigs(config, projectCfg)
		}
	} else {
		explicitCfg, err := LoadConfigFromFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
		config = MergeConfigs(config, explicitCfg)
	}

	return config, nil
}
