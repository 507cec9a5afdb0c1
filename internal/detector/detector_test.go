package detector

import (
	"context"
	"errors"
	"net"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func listen(t *testing.T) (net.Listener, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln, ln.Addr().(*net.TCPAddr).Port
}

func TestPortDetector(t *testing.T) {
	ln, port := listen(t)
	d := PortDetector{Port: port}
	alive, err := d.Alive()
	require.NoError(t, err)
	assert.True(t, alive)
	assert.Contains(t, d.Describe(), "tcp:127.0.0.1:")

	require.NoError(t, ln.Close())
	alive, err = d.Alive()
	require.NoError(t, err)
	assert.False(t, alive)

	_, err = PortDetector{}.Alive()
	assert.Error(t, err)
}

func TestWaitReadyBecomesReady(t *testing.T) {
	ln, port := listen(t)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	opened := make(chan net.Listener, 1)
	go func() {
		time.Sleep(50 * time.Millisecond)
		l, err := net.Listen("tcp", addr)
		if err != nil {
			opened <- nil
			return
		}
		opened <- l
	}()
	defer func() {
		if l := <-opened; l != nil {
			_ = l.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := WaitReady(ctx, PortDetector{Port: port}, 10*time.Millisecond, nil)
	assert.NoError(t, err)
}

func TestWaitReadyTimeout(t *testing.T) {
	ln, port := listen(t)
	require.NoError(t, ln.Close())
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := WaitReady(ctx, PortDetector{Port: port}, 10*time.Millisecond, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWaitReadyPrematureExit(t *testing.T) {
	ln, port := listen(t)
	require.NoError(t, ln.Close())
	exited := make(chan error, 1)
	exited <- errors.New("exit status 255")
	err := WaitReady(context.Background(), PortDetector{Port: port}, 10*time.Millisecond, exited)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exit status 255")
}

func TestPIDDetector(t *testing.T) {
	self := PIDDetector{PID: os.Getpid()}
	alive, err := self.Alive()
	require.NoError(t, err)
	assert.True(t, alive)
	assert.Equal(t, "pid:"+strconv.Itoa(os.Getpid()), self.Describe())

	ct := CreateTime(os.Getpid())
	require.NotZero(t, ct)
	alive, _ = PIDDetector{PID: os.Getpid(), StartUnixMs: ct}.Alive()
	assert.True(t, alive)
	alive, _ = PIDDetector{PID: os.Getpid(), StartUnixMs: ct - 10_000}.Alive()
	assert.False(t, alive, "a different creation time means the pid was reused")

	alive, _ = PIDDetector{PID: 0}.Alive()
	assert.False(t, alive)
}

func TestPIDDetectorExitedChild(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
	cmd := exec.Command("sh", "-c", "exit 0")
	require.NoError(t, cmd.Start())
	pid := cmd.Process.Pid
	require.NoError(t, cmd.Wait())
	alive, _ := PIDDetector{PID: pid}.Alive()
	assert.False(t, alive)
}

func TestOwnerString(t *testing.T) {
	assert.Equal(t, "pid 7", Owner{PID: 7}.String())
	assert.Equal(t, "pid 7 (php)", Owner{PID: 7, Name: "php"}.String())
}

func TestPortOwnerSelf(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("socket ownership lookup is exercised on linux only")
	}
	ln, port := listen(t)
	defer func() { _ = ln.Close() }()
	o, ok := PortOwner(context.Background(), port)
	if !ok {
		t.Skip("socket owner not visible in this environment")
	}
	assert.Equal(t, int32(os.Getpid()), o.PID)
}
