package main

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPidFileRoundTrip(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "stackr.pid")
	require.NoError(t, writePidFile(pidFile, os.Getpid()))

	b, err := os.ReadFile(pidFile)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), string(b))

	require.NoError(t, removePidFile(pidFile))
	_, err = os.Stat(pidFile)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, removePidFile(""))
}

func TestChildArgsDropDaemonFlags(t *testing.T) {
	args := []string{"serve", "--daemonize", "--logfile", "/tmp/s.log", "--pidfile=/tmp/old.pid", "--config", "c.toml"}
	assert.Equal(t,
		[]string{"serve", "--config", "c.toml", "--pidfile", "/tmp/s.pid"},
		childArgs(args, "/tmp/s.pid"))
	assert.Equal(t, []string{"serve"}, childArgs([]string{"serve", "--daemonize"}, ""))
}
