package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models regionline.yml.
type Config struct {
	Server struct {
		Addr           string `yaml:"addr"`
		BasePath       string `yaml:"base_path"`
		WebservicePath string `yaml:"webservice_path"`
		ValidatorPath  string `yaml:"validator_path"`
		Title          string `yaml:"title"`
	} `yaml:"server"`
	Client struct {
		BaseURL             string            `yaml:"base_url"`
		Timeout             string            `yaml:"timeout"`
		PreloadCacheSize    int               `yaml:"preload_cache_size"`
		ConnectivityMessage string            `yaml:"connectivity_message"`
		Headers             map[string]string `yaml:"headers"`
	} `yaml:"client"`
	Todos struct {
		Statuses      []string `yaml:"statuses"`
		DefaultFilter string   `yaml:"default_filter"`
		TitleMaxLen   int      `yaml:"title_max_len"`
	} `yaml:"todos"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with rl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	for name, p := range map[string]string{
		"base_path":       c.Server.BasePath,
		"webservice_path": c.Server.WebservicePath,
		"validator_path":  c.Server.ValidatorPath,
	} {
		if !strings.HasPrefix(p, "/") {
			return fmt.Errorf("config.server.%s must start with '/'", name)
		}
	}
	if c.Server.WebservicePath == c.Server.ValidatorPath {
		return fmt.Errorf("config.server.webservice_path and validator_path must differ")
	}
	if c.Client.BaseURL == "" {
		return fmt.Errorf("config.client.base_url is required")
	}
	if _, err := c.ClientTimeout(); err != nil {
		return err
	}
	if c.Client.PreloadCacheSize <= 0 {
		return fmt.Errorf("config.client.preload_cache_size must be positive")
	}
	if len(c.Todos.Statuses) == 0 {
		return fmt.Errorf("config.todos.statuses is required")
	}
	for _, s := range c.Todos.Statuses {
		if s == "" {
			return fmt.Errorf("config.todos.statuses contains an empty status")
		}
		if s == "all" {
			return fmt.Errorf("config.todos.statuses must not contain 'all'")
		}
		if s != "open" && s != "done" {
			return fmt.Errorf("config.todos.statuses: unsupported status %q (the schema stores open and done)", s)
		}
	}
	if c.Todos.DefaultFilter != "all" && !c.HasStatus(c.Todos.DefaultFilter) {
		return fmt.Errorf("config.todos.default_filter %q is neither 'all' nor a known status", c.Todos.DefaultFilter)
	}
	if c.Todos.TitleMaxLen < 0 {
		return fmt.Errorf("config.todos.title_max_len must not be negative")
	}
	return nil
}

// HasStatus reports whether s is one of the configured todo statuses.
func (c *Config) HasStatus(s string) bool {
	for _, known := range c.Todos.Statuses {
		if known == s {
			return true
		}
	}
	return false
}

// ClientTimeout parses client.timeout. Empty means no timeout.
func (c *Config) ClientTimeout() (time.Duration, error) {
	if c.Client.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Client.Timeout)
	if err != nil {
		return 0, fmt.Errorf("config.client.timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("config.client.timeout must not be negative")
	}
	return d, nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "regionline.yml")
}

// GenerateDefault returns default config YAML for a server listening on addr.
func GenerateDefault(addr string) string {
	return fmt.Sprintf(defaultTemplate, addr, addr)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(DefaultAddr))).Decode(&cfg)
	return &cfg
}

// DefaultAddr is where the reference server listens unless told otherwise.
const DefaultAddr = "127.0.0.1:8080"

// FromYAML parses and validates config from raw YAML bytes. Keys missing
// from data keep their default values.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: %s
  base_path: /v0
  webservice_path: /__jifty/webservices/xml
  validator_path: /__jifty/validator.xml
  title: Todo

client:
  base_url: http://%s
  timeout: 10s
  preload_cache_size: 32
  connectivity_message: "Unable to connect to server.\n\nTry again in a few minutes."

todos:
  statuses: [open, done]
  default_filter: all
  title_max_len: 200
`
