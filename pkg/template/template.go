package template

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"
)

// Profile selects which optional sections a starter config enables.
type Profile string

const (
	ProfileMinimal       Profile = "minimal"
	ProfileBasic         Profile = "basic"
	ProfileDomains       Profile = "domains"
	ProfileProxy         Profile = "proxy"
	ProfileObservability Profile = "observability"
	ProfileMetrics       Profile = "metrics"
	ProfileFull          Profile = "full"
)

// ConfigTemplate mirrors the keys of stackr.toml.
type ConfigTemplate struct {
	Home             string          `toml:"home,omitempty"`
	Runtime          string          `toml:"runtime"`
	DefaultVersion   string          `toml:"default_version,omitempty"`
	BasePort         int             `toml:"base_port"`
	SerializeIntents bool            `toml:"serialize_intents"`
	Server           ServerSection   `toml:"server"`
	Log              LogSection      `toml:"log"`
	Store            StoreSection    `toml:"store"`
	Liveness         LivenessSection `toml:"liveness"`
	Proxy            *ProxySection   `toml:"proxy,omitempty"`
	Hosts            *HostsSection   `toml:"hosts,omitempty"`
	Metrics          *MetricsSection `toml:"metrics,omitempty"`
	History          *HistorySection `toml:"history,omitempty"`
}

type ServerSection struct {
	Listen   string      `toml:"listen"`
	BasePath string      `toml:"base_path"`
	TLS      *TLSSection `toml:"tls,omitempty"`
}

type TLSSection struct {
	Enabled      bool   `toml:"enabled"`
	AutoGenerate bool   `toml:"auto_generate"`
	MinVersion   string `toml:"min_version"`
}

type LogSection struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Color  bool   `toml:"color"`
}

type StoreSection struct {
	DSN string `toml:"dsn,omitempty"`
}

type LivenessSection struct {
	Interval string `toml:"interval"`
	Watch    bool   `toml:"watch"`
}

type ProxySection struct {
	Enabled bool   `toml:"enabled"`
	Listen  string `toml:"listen"`
}

type HostsSection struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path,omitempty"`
}

type MetricsSection struct {
	Enabled         bool   `toml:"enabled"`
	Listen          string `toml:"listen,omitempty"`
	SampleResources bool   `toml:"sample_resources"`
	SampleInterval  string `toml:"sample_interval"`
}

type HistorySection struct {
	Enabled bool     `toml:"enabled"`
	Sinks   []string `toml:"sinks"`
}

// Generator builds starter configuration files.
type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

// Generate returns the template for profile. An empty home leaves the
// default (~/.stackr) in effect.
func (g *Generator) Generate(profile Profile, home string) (*ConfigTemplate, error) {
	t := g.base(home)
	switch profile {
	case ProfileMinimal, ProfileBasic, "":
	case ProfileDomains, ProfileProxy:
		g.withDomains(t)
	case ProfileObservability, ProfileMetrics:
		g.withObservability(t)
	case ProfileFull:
		g.withDomains(t)
		g.withObservability(t)
		t.Server.TLS = &TLSSection{Enabled: true, AutoGenerate: true, MinVersion: "1.2"}
	default:
		return nil, fmt.Errorf("unknown profile: %s (supported: minimal, domains, observability, full)", profile)
	}
	return t, nil
}

// GenerateTOML renders the template for profile as TOML.
func (g *Generator) GenerateTOML(profile Profile, home string) ([]byte, error) {
	t, err := g.Generate(profile, home)
	if err != nil {
		return nil, err
	}
	data, err := toml.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal template: %w", err)
	}
	header := fmt.Sprintf("# stackr configuration (%s profile)\n\n", displayName(profile))
	return append([]byte(header), data...), nil
}

// GetSupportedProfiles lists the canonical profile names.
func (g *Generator) GetSupportedProfiles() []string {
	return []string{
		string(ProfileMinimal),
		string(ProfileDomains),
		string(ProfileObservability),
		string(ProfileFull),
	}
}

func displayName(p Profile) string {
	if p == "" {
		return string(ProfileMinimal)
	}
	return string(p)
}

func (g *Generator) base(home string) *ConfigTemplate {
	return &ConfigTemplate{
		Home:             home,
		Runtime:          "php",
		BasePort:         8001,
		SerializeIntents: true,
		Server:           ServerSection{Listen: "127.0.0.1:7070", BasePath: "/api"},
		Log:              LogSection{Level: "info", Format: "text"},
		Liveness:         LivenessSection{Interval: "3s", Watch: true},
	}
}

func (g *Generator) withDomains(t *ConfigTemplate) {
	t.Proxy = &ProxySection{Enabled: true, Listen: ":80"}
	t.Hosts = &HostsSection{Enabled: true}
}

// withObservability enables metrics and a sqlite history sink. Relative
// sink paths resolve against home.
func (g *Generator) withObservability(t *ConfigTemplate) {
	t.Metrics = &MetricsSection{Enabled: true, SampleResources: true, SampleInterval: "5s"}
	t.History = &HistorySection{Enabled: true, Sinks: []string{"sqlite://history.db"}}
}
