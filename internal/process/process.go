package process

import (
	"io"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/stackr/internal/launch"
)

// proc is one launched child. The wait goroutine started by Manager is the
// only caller of cmd.Wait; everyone else observes done.
type proc struct {
	id   string
	spec launch.Spec
	cmd  *exec.Cmd

	mu        sync.Mutex
	startedAt time.Time
	stoppedAt time.Time
	exitErr   error
	stopping  bool
	outW      io.WriteCloser
	errW      io.WriteCloser

	// done is closed once the process has been reaped.
	done chan struct{}
	// exited receives the wait result once, for readiness waiting.
	exited chan error
}

func newProc(id string, spec launch.Spec) *proc {
	return &proc{
		id:     id,
		spec:   spec,
		done:   make(chan struct{}),
		exited: make(chan error, 1),
	}
}

func (p *proc) setStarted(cmd *exec.Cmd) {
	p.mu.Lock()
	p.cmd = cmd
	p.startedAt = time.Now()
	p.mu.Unlock()
}

func (p *proc) started() *exec.Cmd {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cmd
}

func (p *proc) pid() int {
	c := p.started()
	if c == nil || c.Process == nil {
		return 0
	}
	return c.Process.Pid
}

// pending reports whether a start has claimed the id but not spawned yet.
func (p *proc) pending() bool {
	return p.started() == nil
}

// running reports whether the process was started and not yet reaped.
func (p *proc) running() bool {
	if p.pending() {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

func (p *proc) markStopping() {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()
}

func (p *proc) stopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

// wait reaps the process, records the outcome and releases log writers.
func (p *proc) wait() error {
	err := p.cmd.Wait()
	p.mu.Lock()
	p.stoppedAt = time.Now()
	p.exitErr = err
	p.mu.Unlock()
	p.closeWriters()
	p.exited <- err
	close(p.done)
	return err
}

func (p *proc) closeWriters() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.outW != nil {
		_ = p.outW.Close()
		p.outW = nil
	}
	if p.errW != nil {
		_ = p.errW.Close()
		p.errW = nil
	}
}

func (p *proc) snapshot() Status {
	running, pid := p.running(), p.pid()
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		ID:        p.id,
		Running:   running,
		PID:       pid,
		StartedAt: p.startedAt,
		StoppedAt: p.stoppedAt,
		Spec:      p.spec,
	}
	if p.exitErr != nil {
		st.ExitErr = p.exitErr.Error()
	}
	return st
}
