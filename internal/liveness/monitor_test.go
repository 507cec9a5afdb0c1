package liveness

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paths struct {
	mu sync.Mutex
	v  []string
}

func (p *paths) get() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.v...)
}

func TestOSChecker(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "f")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	res := OSChecker{}.CheckPaths([]string{dir, file, filepath.Join(dir, "nope")})
	assert.True(t, res[dir])
	assert.False(t, res[file], "a plain file is not a project folder")
	assert.False(t, res[filepath.Join(dir, "nope")])
}

func TestCheckNowFlagsMissing(t *testing.T) {
	root := t.TempDir()
	a := filepath.Join(root, "a")
	b := filepath.Join(root, "b")
	require.NoError(t, os.Mkdir(a, 0o755))
	src := &paths{v: []string{a, b}}

	var flips []string
	m := New(Config{}, src.get, nil, nil)
	m.OnChange(func(p string, ok bool) {
		if !ok {
			flips = append(flips, p)
		}
	})

	assert.False(t, m.Missing(b), "unchecked paths are not missing")
	m.CheckNow()
	assert.False(t, m.Missing(a))
	assert.True(t, m.Missing(b))
	assert.Equal(t, []string{b}, flips)
	assert.Equal(t, map[string]bool{a: true, b: false}, m.Snapshot())

	require.NoError(t, os.Mkdir(b, 0o755))
	require.NoError(t, os.Remove(a))
	m.CheckNow()
	assert.True(t, m.Missing(a))
	assert.False(t, m.Missing(b))

	// paths no longer tracked disappear from the map
	src.mu.Lock()
	src.v = []string{b}
	src.mu.Unlock()
	m.CheckNow()
	assert.Equal(t, map[string]bool{b: true}, m.Snapshot())
	assert.False(t, m.Missing(a))
}

func TestCustomChecker(t *testing.T) {
	var calls int
	c := CheckerFunc(func(ps []string) map[string]bool {
		calls++
		return map[string]bool{"/x": false}
	})
	m := New(Config{}, func() []string { return []string{"/x"} }, c, nil)
	m.CheckNow()
	assert.Equal(t, 1, calls)
	assert.True(t, m.Missing("/x"))
}

func TestRunPollsOnInterval(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "proj")
	require.NoError(t, os.Mkdir(p, 0o755))
	m := New(Config{Interval: 20 * time.Millisecond}, func() []string { return []string{p} }, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	require.Eventually(t, func() bool { _, ok := m.Snapshot()[p]; return ok }, time.Second, 10*time.Millisecond)
	require.NoError(t, os.Remove(p))
	assert.Eventually(t, func() bool { return m.Missing(p) }, 2*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRunWatchReactsBeforeTick(t *testing.T) {
	root := t.TempDir()
	p := filepath.Join(root, "proj")
	require.NoError(t, os.Mkdir(p, 0o755))
	// an interval long enough that only the watcher can notice in time
	m := New(Config{Interval: time.Hour, Watch: true}, func() []string { return []string{p} }, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	require.Eventually(t, func() bool { _, ok := m.Snapshot()[p]; return ok }, time.Second, 10*time.Millisecond)
	require.NoError(t, os.Remove(p))
	assert.Eventually(t, func() bool { return m.Missing(p) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Mkdir(p, 0o755))
	assert.Eventually(t, func() bool { return !m.Missing(p) }, 2*time.Second, 10*time.Millisecond)
}

func TestTriggerForcesCheck(t *testing.T) {
	var mu sync.Mutex
	exists := true
	c := CheckerFunc(func(ps []string) map[string]bool {
		mu.Lock()
		defer mu.Unlock()
		return map[string]bool{"/p": exists}
	})
	m := New(Config{Interval: time.Hour}, func() []string { return []string{"/p"} }, c, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Run(ctx) }()

	require.Eventually(t, func() bool { _, ok := m.Snapshot()["/p"]; return ok }, time.Second, 5*time.Millisecond)
	mu.Lock()
	exists = false
	mu.Unlock()
	m.Trigger()
	assert.Eventually(t, func() bool { return m.Missing("/p") }, time.Second, 5*time.Millisecond)
}
