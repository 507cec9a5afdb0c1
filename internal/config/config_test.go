package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/stackr/internal/project"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "stackr.toml")
	require.NoError(t, os.WriteFile(p, []byte(data), 0o644))
	return p
}

func TestDefaults(t *testing.T) {
	home := t.TempDir()
	t.Setenv("STACKR_HOME", home)
	c, err := Default()
	require.NoError(t, err)

	assert.Equal(t, home, c.Home)
	assert.Equal(t, filepath.Join(home, "services"), c.ServicesDir)
	assert.Equal(t, filepath.Join(home, "bin"), c.BinDir)
	assert.Equal(t, filepath.Join(home, "projects.json"), c.Store.DSN)
	assert.Equal(t, filepath.Join(home, "logs"), c.Process.Log.Dir)
	assert.Equal(t, 10, c.Process.Log.MaxSizeMB)
	assert.Equal(t, "php", c.Runtime)
	assert.Equal(t, project.DefaultBasePort, c.BasePort)
	assert.True(t, c.SerializeIntents)
	assert.Equal(t, 3*time.Second, c.Liveness.Interval)
	assert.True(t, c.Liveness.Watch)
	assert.Equal(t, 60*time.Second, c.Process.ReadyTimeout)
	assert.Equal(t, "127.0.0.1:7070", c.Server.Listen)
	assert.False(t, c.Proxy.Enabled)

	require.Len(t, c.Services, 2)
	assert.Equal(t, project.ServiceDatabase, c.Services[0].ID)
	assert.Equal(t, 3306, c.Services[0].Port)
	assert.Equal(t, project.ServiceDBAdmin, c.Services[1].ID)
}

func TestLoadFile(t *testing.T) {
	home := t.TempDir()
	dotenv := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(dotenv, []byte("# c\nexport APP_ENV=local\nDB_HOST=\"127.0.0.1\"\n"), 0o644))

	p := writeConfig(t, `
home = "`+filepath.ToSlash(home)+`"
base_port = 9001
runtime = "php"
default_version = "php-8.2.10"
serialize_intents = false
env = ["COMPOSER_HOME=/tmp/composer"]
env_files = ["`+filepath.ToSlash(dotenv)+`"]

[server]
listen = "127.0.0.1:9999"

[store]
dsn = "sqlite:///tmp/stackr.db"

[liveness]
interval = "1s"
watch = false

[process]
stop_timeout = "2s"
extra_paths = ["/opt/composer"]

[proxy]
enabled = true
listen = ":8080"

[hosts]
enabled = true
path = "/tmp/hosts"

[metrics]
enabled = true
sample_resources = true
sample_interval = "10s"

[history]
enabled = true
sinks = ["sqlite:///tmp/history.db"]

[[services]]
id = "svc:database"
name = "MySQL"
runtime = "mysql"
command = "mysqld"
args = ["--port=3307"]
port = 3307
`)
	c, err := Load(p)
	require.NoError(t, err)

	assert.Equal(t, 9001, c.BasePort)
	assert.Equal(t, "php-8.2.10", c.DefaultVersion)
	assert.False(t, c.SerializeIntents)
	assert.Equal(t, "127.0.0.1:9999", c.Server.Listen)
	assert.Equal(t, "sqlite:///tmp/stackr.db", c.Store.DSN)
	assert.Equal(t, time.Second, c.Liveness.Interval)
	assert.False(t, c.Liveness.Watch)
	assert.Equal(t, 2*time.Second, c.Process.StopTimeout)
	assert.Equal(t, []string{"/opt/composer"}, c.Process.ExtraPaths)
	assert.Equal(t, []string{"APP_ENV=local", "DB_HOST=127.0.0.1", "COMPOSER_HOME=/tmp/composer"}, c.Process.Env)
	assert.True(t, c.Proxy.Enabled)
	assert.Equal(t, ":8080", c.Proxy.Listen)
	assert.Equal(t, "/tmp/hosts", c.Hosts.Path)
	assert.True(t, c.Metrics.Sampler.Enabled)
	assert.Equal(t, 10*time.Second, c.Metrics.Sampler.Interval)
	assert.Equal(t, []string{"sqlite:///tmp/history.db"}, c.History.Sinks)

	require.Len(t, c.Services, 1)
	assert.Equal(t, "mysql", c.Services[0].Runtime)
	assert.Equal(t, 3307, c.Services[0].Port)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("STACKR_HOME", t.TempDir())
	t.Setenv("STACKR_BASE_PORT", "8100")
	t.Setenv("STACKR_SERVER_LISTEN", "0.0.0.0:1234")
	p := writeConfig(t, "base_port = 9000\n")
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, 8100, c.BasePort)
	assert.Equal(t, "0.0.0.0:1234", c.Server.Listen)
}

func TestServiceRuntimeDefaultsToTopLevel(t *testing.T) {
	t.Setenv("STACKR_HOME", t.TempDir())
	p := writeConfig(t, `
[[services]]
id = "svc:dbadmin"
command = "php"
port = 8080
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.Equal(t, "php", c.Services[0].Runtime)
}

func TestServerTLSDirDefaultsUnderHome(t *testing.T) {
	home := t.TempDir()
	p := writeConfig(t, `
home = "`+filepath.ToSlash(home)+`"

[server.tls]
enabled = true
`)
	c, err := Load(p)
	require.NoError(t, err)
	assert.True(t, c.Server.TLS.Enabled)
	assert.True(t, c.Server.TLS.AutoGenerate)
	assert.Equal(t, filepath.Join(home, "tls"), c.Server.TLS.Dir)
	assert.Equal(t, "1.2", c.Server.TLS.MinVersion)
}

func TestHistorySinksResolveUnderHome(t *testing.T) {
	home := t.TempDir()
	p := writeConfig(t, `
home = "`+filepath.ToSlash(home)+`"
[history]
enabled = true
sinks = ["sqlite://history.db", "events.db", "postgres://u:p@localhost/db", ":memory:"]
`)
	c, err := Load(p)
	require.NoError(t, err)
	require.Len(t, c.History.Sinks, 4)
	assert.Equal(t, "sqlite://"+filepath.Join(home, "history.db"), c.History.Sinks[0])
	assert.Equal(t, filepath.Join(home, "events.db"), c.History.Sinks[1])
	assert.Equal(t, "postgres://u:p@localhost/db", c.History.Sinks[2])
	assert.Equal(t, ":memory:", c.History.Sinks[3])
}
