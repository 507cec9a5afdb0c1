package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/stackr/internal/liveness"
	"github.com/loykin/stackr/internal/logger"
	"github.com/loykin/stackr/internal/metrics"
	"github.com/loykin/stackr/internal/process"
	"github.com/loykin/stackr/internal/project"
	"github.com/loykin/stackr/internal/tls"
)

// EnvPrefix is the prefix for environment overrides, e.g. STACKR_BASE_PORT
// or STACKR_SERVER_LISTEN.
const EnvPrefix = "STACKR"

// Config is the top-level TOML structure.
type Config struct {
	Home           string `mapstructure:"home"`
	ServicesDir    string `mapstructure:"services_dir"`
	BinDir         string `mapstructure:"bin_dir"`
	Runtime        string `mapstructure:"runtime"`
	DefaultVersion string `mapstructure:"default_version"`
	BasePort       int    `mapstructure:"base_port"`
	// SerializeIntents runs start/stop intents for one id strictly one
	// after another.
	SerializeIntents bool `mapstructure:"serialize_intents"`

	Env      []string `mapstructure:"env"`
	EnvFiles []string `mapstructure:"env_files"`

	Server   ServerConfig    `mapstructure:"server"`
	Log      logger.Config   `mapstructure:"log"`
	Store    StoreConfig     `mapstructure:"store"`
	Liveness liveness.Config `mapstructure:"liveness"`
	Process  process.Config  `mapstructure:"process"`
	Proxy    ProxyConfig     `mapstructure:"proxy"`
	Hosts    HostsConfig     `mapstructure:"hosts"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	History  HistoryConfig   `mapstructure:"history"`

	Services []project.GlobalService `mapstructure:"services"`
}

type ServerConfig struct {
	Listen   string     `mapstructure:"listen"`
	BasePath string     `mapstructure:"base_path"`
	TLS      tls.Config `mapstructure:"tls"`
}

type StoreConfig struct {
	// DSN selects the backend: a .json path, sqlite path or postgres URL.
	DSN string `mapstructure:"dsn"`
}

type ProxyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type HostsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Listen serves /metrics on its own address; empty shares the API server.
	Listen  string                `mapstructure:"listen"`
	Sampler metrics.SamplerConfig `mapstructure:",squash"`
}

type HistoryConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Sinks   []string `mapstructure:"sinks"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("home", "")
	v.SetDefault("services_dir", "")
	v.SetDefault("bin_dir", "")
	v.SetDefault("runtime", "php")
	v.SetDefault("default_version", "")
	v.SetDefault("base_port", project.DefaultBasePort)
	v.SetDefault("serialize_intents", true)

	v.SetDefault("server.listen", "127.0.0.1:7070")
	v.SetDefault("server.base_path", "/api")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.auto_generate", true)
	v.SetDefault("server.tls.min_version", "1.2")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.show_time", true)
	v.SetDefault("log.output", "")
	v.SetDefault("log.file.dir", "")
	v.SetDefault("log.file.max_size_mb", 10)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.max_age_days", 7)

	v.SetDefault("store.dsn", "")

	v.SetDefault("liveness.interval", liveness.DefaultInterval)
	v.SetDefault("liveness.watch", true)

	v.SetDefault("process.stop_timeout", process.DefaultStopTimeout)
	v.SetDefault("process.ready_timeout", process.DefaultReadyTimeout)
	v.SetDefault("process.ready_interval", process.DefaultReadyInterval)

	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.listen", ":80")

	v.SetDefault("hosts.enabled", false)
	v.SetDefault("hosts.path", "")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "")
	v.SetDefault("metrics.sample_resources", false)
	v.SetDefault("metrics.sample_interval", 5*time.Second)

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.sinks", []string{})
}

// Load reads the TOML file at path (optional) and applies STACKR_*
// environment overrides and defaults. Derived paths are resolved against
// Home.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := c.resolve(); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration used when no file is given.
func Default() (*Config, error) { return Load("") }

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

func (c *Config) resolve() error {
	var err error
	if c.Home == "" {
		c.Home = "~/.stackr"
	}
	if c.Home, err = expandHome(c.Home); err != nil {
		return fmt.Errorf("resolve home: %w", err)
	}
	under := func(p *string, def string) error {
		if *p == "" {
			*p = filepath.Join(c.Home, def)
			return nil
		}
		v, err := expandHome(*p)
		*p = v
		return err
	}
	if err := under(&c.ServicesDir, "services"); err != nil {
		return err
	}
	if err := under(&c.BinDir, "bin"); err != nil {
		return err
	}
	if err := under(&c.Store.DSN, "projects.json"); err != nil {
		return err
	}
	if err := under(&c.Process.Log.Dir, "logs"); err != nil {
		return err
	}
	if c.Server.TLS.Enabled && c.Server.TLS.CertFile == "" {
		if err := under(&c.Server.TLS.Dir, "tls"); err != nil {
			return err
		}
	}
	for i, sink := range c.History.Sinks {
		if c.History.Sinks[i], err = c.resolveSink(sink); err != nil {
			return err
		}
	}
	if c.Process.Log.MaxSizeMB == 0 {
		c.Process.Log = mergeRotation(c.Process.Log, c.Log.File)
	}

	env := make([]string, 0, len(c.EnvFiles)+len(c.Env))
	for _, f := range c.EnvFiles {
		pairs, err := LoadEnvFile(f)
		if err != nil {
			return fmt.Errorf("env file %s: %w", f, err)
		}
		env = append(env, pairs...)
	}
	env = append(env, c.Env...)
	c.Process.Env = append(env, c.Process.Env...)

	if len(c.Services) == 0 {
		c.Services = DefaultServices(c.Home, c.ServicesDir)
	}
	for i := range c.Services {
		if c.Services[i].Runtime == "" {
			c.Services[i].Runtime = c.Runtime
		}
	}
	return nil
}

// resolveSink anchors relative sqlite sink paths under Home. Network DSNs
// pass through unchanged.
func (c *Config) resolveSink(dsn string) (string, error) {
	prefix := ""
	p := strings.TrimSpace(dsn)
	if strings.HasPrefix(strings.ToLower(p), "sqlite://") {
		prefix, p = p[:len("sqlite://")], p[len("sqlite://"):]
	} else if strings.Contains(p, "://") {
		return dsn, nil
	}
	if p == "" || p == ":memory:" {
		return dsn, nil
	}
	p, err := expandHome(p)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(c.Home, p)
	}
	return prefix + p, nil
}

func mergeRotation(dst, src logger.FileConfig) logger.FileConfig {
	dst.MaxSizeMB = src.MaxSizeMB
	dst.MaxBackups = src.MaxBackups
	dst.MaxAgeDays = src.MaxAgeDays
	dst.Compress = src.Compress
	return dst
}

// DefaultServices returns the database daemon and the database admin tool.
func DefaultServices(home, servicesDir string) []project.GlobalService {
	dataDir := filepath.Join(home, "data", "mysql")
	return []project.GlobalService{
		{
			ID:      project.ServiceDatabase,
			Name:    "MariaDB",
			Runtime: "mariadb",
			Command: filepath.Join("bin", "mysqld"),
			Args:    []string{"--datadir=" + dataDir, "--port=3306", "--bind-address=127.0.0.1"},
			Port:    3306,
			DataDir: dataDir,
			SeedDir: "data",
		},
		{
			ID:      project.ServiceDBAdmin,
			Name:    "phpMyAdmin",
			Runtime: "php",
			Command: "php",
			Args:    []string{"-S", "127.0.0.1:8080", "-t", filepath.Join(servicesDir, "phpmyadmin")},
			WorkDir: filepath.Join(servicesDir, "phpmyadmin"),
			Port:    8080,
		},
	}
}

var ErrInvalidConfig = errors.New("invalid config")

// Validate checks values the rest of the program relies on.
func (c *Config) Validate() error {
	if c.BasePort <= 0 || c.BasePort > 65535 {
		return fmt.Errorf("%w: base_port %d out of range", ErrInvalidConfig, c.BasePort)
	}
	if strings.TrimSpace(c.Runtime) == "" {
		return fmt.Errorf("%w: runtime required", ErrInvalidConfig)
	}
	seen := make(map[string]bool, len(c.Services))
	for _, s := range c.Services {
		if s.ID == "" || s.Command == "" {
			return fmt.Errorf("%w: service requires id and command", ErrInvalidConfig)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate service id %s", ErrInvalidConfig, s.ID)
		}
		seen[s.ID] = true
		if s.Port <= 0 || s.Port > 65535 {
			return fmt.Errorf("%w: service %s port %d out of range", ErrInvalidConfig, s.ID, s.Port)
		}
	}
	if c.History.Enabled && len(c.History.Sinks) == 0 {
		return fmt.Errorf("%w: history enabled without sinks", ErrInvalidConfig)
	}
	return nil
}

// LoadEnvFile parses a simple .env file and returns "KEY=VALUE" entries in
// file order.
func LoadEnvFile(path string) ([]string, error) {
	b, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	out := make([]string, 0)
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")
		if i := strings.IndexByte(line, '='); i > 0 {
			k := strings.TrimSpace(line[:i])
			v := strings.Trim(strings.TrimSpace(line[i+1:]), `"'`)
			out = append(out, k+"="+v)
		}
	}
	return out, nil
}
