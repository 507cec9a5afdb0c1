package detector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

// Detector is a strategy that determines if a service is up.
// It must be safe for concurrent use.
type Detector interface {
	// Alive returns true if the service is detected as running.
	Alive() (bool, error)
	// Describe returns a human-readable description of the detection method.
	Describe() string
}

// DefaultHost is probed when PortDetector.Host is empty.
const DefaultHost = "127.0.0.1"

// PortDetector considers a service alive when its TCP port accepts a
// connection.
type PortDetector struct {
	Host    string
	Port    int
	Timeout time.Duration
}

func (d PortDetector) addr() string {
	h := d.Host
	if h == "" {
		h = DefaultHost
	}
	return net.JoinHostPort(h, strconv.Itoa(d.Port))
}

func (d PortDetector) Alive() (bool, error) {
	if d.Port <= 0 {
		return false, fmt.Errorf("invalid port %d", d.Port)
	}
	to := d.Timeout
	if to <= 0 {
		to = 300 * time.Millisecond
	}
	c, err := net.DialTimeout("tcp", d.addr(), to)
	if err != nil {
		return false, nil
	}
	_ = c.Close()
	return true, nil
}

func (d PortDetector) Describe() string { return "tcp:" + d.addr() }

// WaitReady polls d every interval until it reports alive, ctx ends, or
// exited yields a value. The exited channel lets callers abort as soon as the
// process dies instead of waiting out the deadline.
func WaitReady(ctx context.Context, d Detector, interval time.Duration, exited <-chan error) error {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if ok, _ := d.Alive(); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s not ready: %w", d.Describe(), ctx.Err())
		case err := <-exited:
			if err == nil {
				err = errors.New("exited")
			}
			return fmt.Errorf("process exited before %s was ready: %w", d.Describe(), err)
		case <-t.C:
		}
	}
}

// PIDDetector detects a process by pid. When StartUnixMs is set a pid whose
// creation time differs is treated as reused and reported dead.
type PIDDetector struct {
	PID         int
	StartUnixMs int64
}

func (d PIDDetector) Alive() (bool, error) {
	if d.PID <= 0 {
		return false, nil
	}
	ok, err := gopsproc.PidExists(int32(d.PID))
	if err != nil || !ok {
		return false, err
	}
	p, err := gopsproc.NewProcess(int32(d.PID))
	if err != nil {
		return false, nil
	}
	if d.StartUnixMs > 0 {
		if ct, err := p.CreateTime(); err == nil && ct != d.StartUnixMs {
			return false, nil
		}
	}
	if st, err := p.Status(); err == nil {
		for _, s := range st {
			if s == gopsproc.Zombie {
				return false, nil
			}
		}
	}
	return true, nil
}

func (d PIDDetector) Describe() string { return fmt.Sprintf("pid:%d", d.PID) }

// CreateTime returns the creation time of pid in Unix milliseconds, or 0.
func CreateTime(pid int) int64 {
	if pid <= 0 {
		return 0
	}
	p, err := gopsproc.NewProcess(int32(pid))
	if err != nil {
		return 0
	}
	ct, err := p.CreateTime()
	if err != nil {
		return 0
	}
	return ct
}

// Owner describes the process listening on a port.
type Owner struct {
	PID  int32
	Name string
}

func (o Owner) String() string {
	if o.Name == "" {
		return fmt.Sprintf("pid %d", o.PID)
	}
	return fmt.Sprintf("pid %d (%s)", o.PID, o.Name)
}

// PortOwner finds the process listening on port. It is best effort: without
// enough privileges the pid of foreign sockets is not visible and ok is false.
func PortOwner(ctx context.Context, port int) (Owner, bool) {
	conns, err := gopsnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return Owner{}, false
	}
	for _, c := range conns {
		if int(c.Laddr.Port) != port || c.Status != "LISTEN" || c.Pid <= 0 {
			continue
		}
		o := Owner{PID: c.Pid}
		if p, err := gopsproc.NewProcessWithContext(ctx, c.Pid); err == nil {
			o.Name, _ = p.NameWithContext(ctx)
		}
		return o, true
	}
	return Owner{}, false
}
