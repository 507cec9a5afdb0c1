package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/loykin/stackr"
	itls "github.com/loykin/stackr/internal/tls"
	"github.com/loykin/stackr/pkg/client"
)

const servicePrefix = "svc:"

var errDaemonUnreachable = errors.New("daemon not reachable - please start daemon first with 'stackr serve'")

type command struct {
	global *GlobalFlags
	out    io.Writer
}

// clientConfig derives the daemon address from --api-url or the config file.
func (c *command) clientConfig() client.Config {
	cc := client.DefaultConfig()
	cc.Timeout = c.global.APITimeout
	if c.global.APIUrl != "" {
		cc.BaseURL = c.global.APIUrl
		return cc
	}
	cfg, err := stackr.LoadConfig(c.global.ConfigPath)
	if err != nil {
		return cc
	}
	cc.BaseURL = baseURL(cfg.Server.Listen, cfg.Server.BasePath, cfg.Server.TLS.Enabled)
	if cfg.Server.TLS.Enabled {
		t := &client.TLSClientConfig{Enabled: true}
		if cfg.Server.TLS.Dir != "" {
			t.CACert = itls.CACertPath(cfg.Server.TLS.Dir)
		}
		cc.TLS = t
	}
	return cc
}

// baseURL turns a listen address into a URL a local client can dial.
func baseURL(listen, basePath string, secure bool) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		host, port = "127.0.0.1", listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	scheme := "http"
	if secure {
		scheme = "https"
	}
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	return scheme + "://" + net.JoinHostPort(host, port) + strings.TrimRight(basePath, "/")
}

func (c *command) apiClient(ctx context.Context) (*client.Client, error) {
	cl := client.New(c.clientConfig())
	if !cl.IsReachable(ctx) {
		return nil, errDaemonUnreachable
	}
	return cl, nil
}

func serviceID(id string) string {
	if strings.HasPrefix(id, servicePrefix) {
		return id
	}
	return servicePrefix + id
}

func (c *command) AddProject(ctx context.Context, path string, f AddFlags) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	abs, err := absPath(path)
	if err != nil {
		return err
	}
	p, err := cl.AddProject(ctx, client.AddRequest{
		Path:    abs,
		Name:    f.Name,
		Kind:    f.Kind,
		Domain:  f.Domain,
		Version: f.Version,
		Port:    f.Port,
	})
	if err != nil {
		return err
	}
	if c.global.JSON {
		return printJSON(c.out, p)
	}
	_, err = fmt.Fprintf(c.out, "Added %s (%s) as %s on port %d\n", p.Name, p.Kind, p.ID, p.Port)
	return err
}

func (c *command) ListProjects(ctx context.Context) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	list, err := cl.ListProjects(ctx)
	if err != nil {
		return err
	}
	if c.global.JSON {
		return printJSON(c.out, list)
	}
	printProjects(c.out, list)
	return nil
}

func (c *command) ShowProject(ctx context.Context, id string) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	p, err := cl.GetProject(ctx, id)
	if err != nil {
		return err
	}
	if c.global.JSON {
		return printJSON(c.out, p)
	}
	printProjects(c.out, []client.ProjectStatus{p})
	return nil
}

func (c *command) RemoveProject(ctx context.Context, id string) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if err := cl.RemoveProject(ctx, id); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "Removed %s\n", id)
	return err
}

func (c *command) Relocate(ctx context.Context, id, path string) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	abs, err := absPath(path)
	if err != nil {
		return err
	}
	if err := cl.Relocate(ctx, id, abs); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "%s now points at %s\n", id, abs)
	return err
}

func (c *command) SetPort(ctx context.Context, id, port string) error {
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if err := cl.SetPort(ctx, id, n); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "%s port set to %d\n", id, n)
	return err
}

func (c *command) SetVersion(ctx context.Context, id, version string) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if err := cl.SetVersion(ctx, id, version); err != nil {
		return err
	}
	if version == "" {
		version = "global"
	}
	_, err = fmt.Fprintf(c.out, "%s version set to %s\n", id, version)
	return err
}

func (c *command) SetDomain(ctx context.Context, id, domain string) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if err := cl.SetDomain(ctx, id, domain); err != nil {
		return err
	}
	if domain == "" {
		domain = "localhost"
	}
	_, err = fmt.Fprintf(c.out, "%s domain set to %s\n", id, domain)
	return err
}

// Start starts a project, or a service when id carries the svc: prefix.
func (c *command) Start(ctx context.Context, id string) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if strings.HasPrefix(id, servicePrefix) {
		err = cl.StartService(ctx, id)
	} else {
		err = cl.StartProject(ctx, id)
	}
	if err != nil {
		return err
	}
	return c.printStatus(ctx, cl, id)
}

func (c *command) Stop(ctx context.Context, id string) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if strings.HasPrefix(id, servicePrefix) {
		err = cl.StopService(ctx, id)
	} else {
		err = cl.StopProject(ctx, id)
	}
	if err != nil {
		return err
	}
	return c.printStatus(ctx, cl, id)
}

// Status prints one registry entry, or every project and service.
func (c *command) Status(ctx context.Context, id string) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if id != "" {
		return c.printStatus(ctx, cl, id)
	}
	projects, err := cl.ListProjects(ctx)
	if err != nil {
		return err
	}
	services, err := cl.ListServices(ctx)
	if err != nil {
		return err
	}
	if c.global.JSON {
		return printJSON(c.out, map[string]any{"projects": projects, "services": services})
	}
	printServices(c.out, services)
	printProjects(c.out, projects)
	return nil
}

func (c *command) printStatus(ctx context.Context, cl *client.Client, id string) error {
	st, err := cl.Status(ctx, id)
	if err != nil {
		return err
	}
	if c.global.JSON {
		return printJSON(c.out, st)
	}
	printEntry(c.out, st)
	return nil
}

func (c *command) ListServices(ctx context.Context) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	list, err := cl.ListServices(ctx)
	if err != nil {
		return err
	}
	if c.global.JSON {
		return printJSON(c.out, list)
	}
	printServices(c.out, list)
	return nil
}

func (c *command) ListVersions(ctx context.Context, runtime string) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	list, err := cl.ListVersions(ctx, runtime)
	if err != nil {
		return err
	}
	if c.global.JSON {
		return printJSON(c.out, list)
	}
	printVersions(c.out, list)
	return nil
}

func (c *command) UseVersion(ctx context.Context, name string) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	if err := cl.UseVersion(ctx, name); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "Using %s\n", name)
	return err
}

// Events prints transitions until ctx ends or Count events were seen.
func (c *command) Events(ctx context.Context, f EventsFlags) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	ch, err := cl.Events(ctx)
	if err != nil {
		return err
	}
	seen := 0
	for ev := range ch {
		if c.global.JSON {
			if err := printJSON(c.out, ev); err != nil {
				return err
			}
		} else {
			printEvent(c.out, ev)
		}
		seen++
		if f.Count > 0 && seen >= f.Count {
			return nil
		}
	}
	return nil
}

func (c *command) Reconcile(ctx context.Context) error {
	cl, err := c.apiClient(ctx)
	if err != nil {
		return err
	}
	return cl.Reconcile(ctx)
}
