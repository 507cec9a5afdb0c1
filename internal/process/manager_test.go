//go:build !windows

package process

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/loykin/stackr/internal/launch"
	"github.com/loykin/stackr/internal/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestHelperProcess is not a real test: it is the child process launched by
// the tests below.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("STACKR_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	switch args[0] {
	case "listen":
		ln, err := net.Listen("tcp", "127.0.0.1:"+args[1])
		if err != nil {
			os.Exit(3)
		}
		fmt.Println("listening")
		fmt.Fprintln(os.Stderr, "PATH="+os.Getenv("PATH"))
		for {
			c, err := ln.Accept()
			if err != nil {
				os.Exit(0)
			}
			_ = c.Close()
		}
	case "exit":
		code, _ := strconv.Atoi(args[1])
		os.Exit(code)
	case "sleep":
		time.Sleep(time.Hour)
	}
	os.Exit(0)
}

func helperSpec(t *testing.T, port int, args ...string) launch.Spec {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return launch.Spec{
		Executable: exe,
		Args:       append([]string{"-test.run=TestHelperProcess", "--"}, args...),
		WorkDir:    t.TempDir(),
		Env:        []string{"STACKR_HELPER_PROCESS=1"},
		Port:       port,
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func newTestManager(cfg Config) *Manager {
	if cfg.ReadyInterval == 0 {
		cfg.ReadyInterval = 20 * time.Millisecond
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 2 * time.Second
	}
	return NewManager(cfg, nil)
}

func TestStartWaitsForPortAndStops(t *testing.T) {
	m := newTestManager(Config{})
	port := freePort(t)
	spec := helperSpec(t, port, "listen", strconv.Itoa(port))

	h, err := m.Start(context.Background(), "p1", spec)
	require.NoError(t, err)
	assert.Equal(t, "p1", h.ID)
	assert.Positive(t, h.PID)
	assert.True(t, m.Alive("p1"))

	c, err := net.Dial("tcp", "127.0.0.1:"+strconv.Itoa(port))
	require.NoError(t, err, "port should accept once Start returns")
	_ = c.Close()

	st, ok := m.Status("p1")
	require.True(t, ok)
	assert.True(t, st.Running)
	assert.Equal(t, h.PID, st.PID)
	assert.Equal(t, map[string]int32{"p1": int32(h.PID)}, m.PIDs())

	require.NoError(t, m.Stop(context.Background(), "p1"))
	assert.False(t, m.Alive("p1"))
	_, ok = m.Status("p1")
	assert.False(t, ok)
}

func TestStartRefusesDuplicateID(t *testing.T) {
	m := newTestManager(Config{})
	spec := helperSpec(t, 0, "sleep")
	_, err := m.Start(context.Background(), "p1", spec)
	require.NoError(t, err)
	defer func() { _ = m.Stop(context.Background(), "p1") }()

	_, err = m.Start(context.Background(), "p1", spec)
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Len(t, m.PIDs(), 1)
}

func TestConcurrentStartsOneWinner(t *testing.T) {
	m := newTestManager(Config{})
	spec := helperSpec(t, 0, "sleep")
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := m.Start(context.Background(), "p1", spec); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	defer func() { _ = m.StopAll(context.Background()) }()
	assert.Equal(t, 1, wins)
}

func TestStartRefusesBusyPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	m := newTestManager(Config{})
	_, err = m.Start(context.Background(), "p1", helperSpec(t, port, "listen", strconv.Itoa(port)))
	assert.ErrorIs(t, err, ErrPortInUse)
	assert.False(t, m.Alive("p1"))
}

func TestStartDetectsPrematureExit(t *testing.T) {
	m := newTestManager(Config{})
	port := freePort(t)
	start := time.Now()
	_, err := m.Start(context.Background(), "p1", helperSpec(t, port, "exit", "2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 2")
	assert.Less(t, time.Since(start), 5*time.Second, "must not wait for the ready timeout")
	assert.False(t, m.Alive("p1"))

	// the id is free again
	port = freePort(t)
	_, err = m.Start(context.Background(), "p1", helperSpec(t, port, "listen", strconv.Itoa(port)))
	require.NoError(t, err)
	require.NoError(t, m.Stop(context.Background(), "p1"))
}

func TestStartReadyTimeoutKillsChild(t *testing.T) {
	m := newTestManager(Config{ReadyTimeout: 200 * time.Millisecond})
	port := freePort(t)
	_, err := m.Start(context.Background(), "p1", helperSpec(t, port, "sleep"))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, m.Alive("p1"))
	assert.Empty(t, m.PIDs())
}

func TestStartMissingExecutable(t *testing.T) {
	m := newTestManager(Config{})
	_, err := m.Start(context.Background(), "p1", launch.Spec{Executable: "/nonexistent/php", WorkDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "spawn /nonexistent/php")
	assert.False(t, m.Alive("p1"))
}

func TestStopUnknown(t *testing.T) {
	m := newTestManager(Config{})
	assert.ErrorIs(t, m.Stop(context.Background(), "nope"), ErrNotRunning)
}

func TestOnExitReportsCrash(t *testing.T) {
	m := newTestManager(Config{})
	got := make(chan string, 1)
	m.OnExit(func(id string, err error) {
		got <- fmt.Sprintf("%s:%v", id, err)
	})
	port := freePort(t)
	h, err := m.Start(context.Background(), "p1", helperSpec(t, port, "listen", strconv.Itoa(port)))
	require.NoError(t, err)

	proc, err := os.FindProcess(h.PID)
	require.NoError(t, err)
	require.NoError(t, proc.Kill())

	select {
	case s := <-got:
		assert.True(t, strings.HasPrefix(s, "p1:"), s)
	case <-time.After(3 * time.Second):
		t.Fatal("exit callback not called")
	}
	assert.False(t, m.Alive("p1"))
	assert.ErrorIs(t, m.Stop(context.Background(), "p1"), ErrNotRunning)
}

func TestStopDoesNotReportExit(t *testing.T) {
	m := newTestManager(Config{})
	called := make(chan struct{}, 1)
	m.OnExit(func(string, error) { called <- struct{}{} })
	_, err := m.Start(context.Background(), "p1", helperSpec(t, 0, "sleep"))
	require.NoError(t, err)
	require.NoError(t, m.Stop(context.Background(), "p1"))
	select {
	case <-called:
		t.Fatal("requested stops are not crashes")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestOutputGoesToRotatingFiles(t *testing.T) {
	dir := t.TempDir()
	m := newTestManager(Config{Log: logger.FileConfig{Dir: dir}, ExtraPaths: []string{"/opt/stackr/tools"}})
	port := freePort(t)
	_, err := m.Start(context.Background(), "svc:database", helperSpec(t, port, "listen", strconv.Itoa(port)))
	require.NoError(t, err)
	require.NoError(t, m.Stop(context.Background(), "svc:database"))

	out, err := os.ReadFile(filepath.Join(dir, "svc_database.stdout.log"))
	require.NoError(t, err)
	assert.Contains(t, string(out), "listening")
	errOut, err := os.ReadFile(filepath.Join(dir, "svc_database.stderr.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errOut), "PATH=/opt/stackr/tools"+string(os.PathListSeparator))
}

func TestStopAll(t *testing.T) {
	m := newTestManager(Config{})
	for _, id := range []string{"a", "b", "c"} {
		_, err := m.Start(context.Background(), id, helperSpec(t, 0, "sleep"))
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"a", "b", "c"}, m.IDs())
	require.NoError(t, m.StopAll(context.Background()))
	assert.Empty(t, m.IDs())
}

func TestStopEscalatesToKill(t *testing.T) {
	m := newTestManager(Config{StopTimeout: 100 * time.Millisecond})
	spec := launch.Spec{Executable: "/bin/sh", Args: []string{"-c", "trap '' TERM; sleep 60"}, WorkDir: t.TempDir()}
	_, err := m.Start(context.Background(), "stubborn", spec)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	err = m.Stop(context.Background(), "stubborn")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second)
	assert.False(t, m.Alive("stubborn"))
}

var _ Spawner = (*Manager)(nil)

func TestErrorsAreDistinct(t *testing.T) {
	assert.False(t, errors.Is(ErrAlreadyRunning, ErrPortInUse))
	assert.False(t, errors.Is(ErrNotRunning, ErrAlreadyRunning))
}

func TestStartWithoutLogDirKeepsFDsFlat(t *testing.T) {
	if _, err := os.ReadDir("/proc/self/fd"); err != nil {
		t.Skip("no /proc/self/fd")
	}
	countFDs := func() int {
		entries, err := os.ReadDir("/proc/self/fd")
		require.NoError(t, err)
		return len(entries)
	}

	m := newTestManager(Config{})
	exited := make(chan string, 1)
	m.OnExit(func(id string, _ error) { exited <- id })

	before := countFDs()
	for i := 0; i < 20; i++ {
		id := "p" + strconv.Itoa(i)
		_, err := m.Start(context.Background(), id, helperSpec(t, 0, "exit", "0"))
		require.NoError(t, err)
		select {
		case <-exited:
		case <-time.After(10 * time.Second):
			t.Fatalf("%s did not exit", id)
		}
	}
	assert.LessOrEqual(t, countFDs(), before+3)
}
