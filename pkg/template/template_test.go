package template

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/stackr/internal/config"
)

func TestGenerator_Generate(t *testing.T) {
	generator := NewGenerator()

	tests := []struct {
		name     string
		profile  Profile
		validate func(*testing.T, *ConfigTemplate)
	}{
		{
			name:    "minimal",
			profile: ProfileMinimal,
			validate: func(t *testing.T, c *ConfigTemplate) {
				assert.Equal(t, "php", c.Runtime)
				assert.Equal(t, 8001, c.BasePort)
				assert.Nil(t, c.Proxy)
				assert.Nil(t, c.Hosts)
				assert.Nil(t, c.Metrics)
				assert.Nil(t, c.History)
				assert.Nil(t, c.Server.TLS)
			},
		},
		{
			name:    "empty_is_minimal",
			profile: "",
			validate: func(t *testing.T, c *ConfigTemplate) {
				assert.Nil(t, c.Proxy)
			},
		},
		{
			name:    "domains",
			profile: ProfileDomains,
			validate: func(t *testing.T, c *ConfigTemplate) {
				require.NotNil(t, c.Proxy)
				assert.True(t, c.Proxy.Enabled)
				require.NotNil(t, c.Hosts)
				assert.True(t, c.Hosts.Enabled)
				assert.Nil(t, c.Metrics)
			},
		},
		{
			name:    "proxy_alias",
			profile: ProfileProxy,
			validate: func(t *testing.T, c *ConfigTemplate) {
				require.NotNil(t, c.Proxy)
			},
		},
		{
			name:    "observability",
			profile: ProfileObservability,
			validate: func(t *testing.T, c *ConfigTemplate) {
				require.NotNil(t, c.Metrics)
				assert.True(t, c.Metrics.SampleResources)
				require.NotNil(t, c.History)
				assert.Equal(t, []string{"sqlite://history.db"}, c.History.Sinks)
				assert.Nil(t, c.Proxy)
			},
		},
		{
			name:    "full",
			profile: ProfileFull,
			validate: func(t *testing.T, c *ConfigTemplate) {
				assert.NotNil(t, c.Proxy)
				assert.NotNil(t, c.Metrics)
				require.NotNil(t, c.Server.TLS)
				assert.True(t, c.Server.TLS.AutoGenerate)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := generator.Generate(tt.profile, "")
			require.NoError(t, err)
			tt.validate(t, c)
		})
	}
}

func TestGenerator_UnknownProfile(t *testing.T) {
	_, err := NewGenerator().Generate("kitchen-sink", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown profile")

	_, err = NewGenerator().GenerateTOML("kitchen-sink", "")
	require.Error(t, err)
}

func TestGenerator_GenerateTOML(t *testing.T) {
	data, err := NewGenerator().GenerateTOML(ProfileDomains, "/srv/stackr")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "# stackr configuration (domains profile)"))

	var back ConfigTemplate
	require.NoError(t, toml.Unmarshal(data, &back))
	assert.Equal(t, "/srv/stackr", back.Home)
	require.NotNil(t, back.Proxy)
	assert.Equal(t, ":80", back.Proxy.Listen)
}

func TestGeneratedConfigLoads(t *testing.T) {
	for _, profile := range NewGenerator().GetSupportedProfiles() {
		t.Run(profile, func(t *testing.T) {
			home := t.TempDir()
			data, err := NewGenerator().GenerateTOML(Profile(profile), filepath.ToSlash(home))
			require.NoError(t, err)
			path := filepath.Join(home, "stackr.toml")
			require.NoError(t, os.WriteFile(path, data, 0o600))

			c, err := config.Load(path)
			require.NoError(t, err)
			assert.Equal(t, filepath.Clean(home), filepath.Clean(c.Home))
			assert.Equal(t, 8001, c.BasePort)
			assert.Equal(t, 3*time.Second, c.Liveness.Interval)
			if profile == string(ProfileObservability) || profile == string(ProfileFull) {
				assert.True(t, c.Metrics.Enabled)
				assert.Equal(t, 5*time.Second, c.Metrics.Sampler.Interval)
				require.Len(t, c.History.Sinks, 1)
				assert.Equal(t, "sqlite://"+filepath.Join(filepath.Clean(home), "history.db"), c.History.Sinks[0])
			}
		})
	}
}

func TestGetSupportedProfiles(t *testing.T) {
	assert.Equal(t, []string{"minimal", "domains", "observability", "full"}, NewGenerator().GetSupportedProfiles())
}
