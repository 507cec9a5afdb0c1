package client

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// Client provides HTTP client functionality to communicate with the stackr daemon
type Client struct {
	baseURL string
	client  *http.Client
	stream  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger // Optional logger for client operations
	TLS      *TLSClientConfig
	Insecure bool // Skip TLS verification
}

// TLSClientConfig holds TLS configuration for client
type TLSClientConfig struct {
	Enabled    bool   // Enable TLS
	CACert     string // CA certificate file path
	ClientCert string // Client certificate file
	ClientKey  string // Client private key file
	ServerName string // Server name for verification
	SkipVerify bool   // Skip certificate verification
}

const defaultBaseURL = "http://127.0.0.1:7070/api"

// DefaultConfig returns default client configuration
func DefaultConfig() Config {
	return Config{
		BaseURL: defaultBaseURL,
		Timeout: 30 * time.Second,
	}
}

// New creates a new stackr API client
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = defaultBaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := &http.Transport{}
	if config.TLS != nil && config.TLS.Enabled || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			config.Logger.Error("TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConfig
		}
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
		// event streams stay open; only ctx ends them
		stream: &http.Client{Transport: transport},
	}
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/services", nil)
	if err != nil {
		c.logger.Debug("Failed to create request for reachability check", "error", err)
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	c.logger.Debug("Daemon reachability check", "status", resp.StatusCode)
	return resp.StatusCode == http.StatusOK
}

// ListProjects returns every project with its state.
func (c *Client) ListProjects(ctx context.Context) ([]ProjectStatus, error) {
	var out []ProjectStatus
	return out, c.do(ctx, http.MethodGet, "/projects", nil, &out)
}

// GetProject returns one project with its state.
func (c *Client) GetProject(ctx context.Context, id string) (ProjectStatus, error) {
	var out ProjectStatus
	return out, c.do(ctx, http.MethodGet, "/projects/"+url.PathEscape(id), nil, &out)
}

// AddProject imports a folder as a project.
func (c *Client) AddProject(ctx context.Context, req AddRequest) (Project, error) {
	c.logger.Debug("Adding project", "path", req.Path, "kind", req.Kind)
	var out Project
	return out, c.do(ctx, http.MethodPost, "/projects", req, &out)
}

// RemoveProject forgets a project. Files are left on disk.
func (c *Client) RemoveProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/projects/"+url.PathEscape(id), nil, nil)
}

func (c *Client) StartProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/projects/"+url.PathEscape(id)+"/start", nil, nil)
}

func (c *Client) StopProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/projects/"+url.PathEscape(id)+"/stop", nil, nil)
}

// Relocate points a project at a new folder.
func (c *Client) Relocate(ctx context.Context, id, path string) error {
	return c.do(ctx, http.MethodPut, "/projects/"+url.PathEscape(id)+"/path", map[string]string{"path": path}, nil)
}

func (c *Client) SetPort(ctx context.Context, id string, port int) error {
	return c.do(ctx, http.MethodPut, "/projects/"+url.PathEscape(id)+"/port", map[string]int{"port": port}, nil)
}

func (c *Client) SetVersion(ctx context.Context, id, version string) error {
	return c.do(ctx, http.MethodPut, "/projects/"+url.PathEscape(id)+"/version", map[string]string{"version": version}, nil)
}

func (c *Client) SetDomain(ctx context.Context, id, domain string) error {
	return c.do(ctx, http.MethodPut, "/projects/"+url.PathEscape(id)+"/domain", map[string]string{"domain": domain}, nil)
}

// ListServices returns the global services with their state.
func (c *Client) ListServices(ctx context.Context) ([]ServiceStatus, error) {
	var out []ServiceStatus
	return out, c.do(ctx, http.MethodGet, "/services", nil, &out)
}

func (c *Client) StartService(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(id)+"/start", nil, nil)
}

func (c *Client) StopService(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(id)+"/stop", nil, nil)
}

// Status returns the registry entry of a project or service id.
func (c *Client) Status(ctx context.Context, id string) (StatusEntry, error) {
	var out StatusEntry
	return out, c.do(ctx, http.MethodGet, "/status?id="+url.QueryEscape(id), nil, &out)
}

// ListVersions returns installed runtime versions, optionally filtered.
func (c *Client) ListVersions(ctx context.Context, runtime string) ([]Version, error) {
	var out []Version
	p := "/versions"
	if runtime != "" {
		p += "?runtime=" + url.QueryEscape(runtime)
	}
	return out, c.do(ctx, http.MethodGet, p, nil, &out)
}

// UseVersion makes name the active version of its runtime.
func (c *Client) UseVersion(ctx context.Context, name string) error {
	return c.do(ctx, http.MethodPut, "/versions/active", map[string]string{"name": name}, nil)
}

// Reconcile asks the daemon to re-check running processes.
func (c *Client) Reconcile(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/debug/reconcile", nil, nil)
}

// Events streams status transitions until ctx is cancelled or the
// connection drops. The channel is closed when the stream ends.
func (c *Client) Events(ctx context.Context) (<-chan Event, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, c.handleErrorResponse(resp)
	}
	ch := make(chan Event, 16)
	go func() {
		defer close(ch)
		defer func() { _ = resp.Body.Close() }()
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			line := sc.Text()
			data, ok := strings.CutPrefix(line, "data:")
			if !ok {
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &ev); err != nil {
				c.logger.Debug("Skipping malformed event", "error", err)
				continue
			}
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if config.Insecure {
		tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		return tlsConfig, nil
	}

	if config.TLS != nil {
		if config.TLS.SkipVerify {
			tlsConfig.InsecureSkipVerify = true // #nosec G402 explicit opt-in
		}
		if config.TLS.ServerName != "" {
			tlsConfig.ServerName = config.TLS.ServerName
		}
		if config.TLS.CACert != "" {
			if err := loadCACert(tlsConfig, config.TLS.CACert); err != nil {
				return nil, fmt.Errorf("failed to load CA certificate: %w", err)
			}
		}
		if config.TLS.ClientCert != "" && config.TLS.ClientKey != "" {
			cert, err := tls.LoadX509KeyPair(config.TLS.ClientCert, config.TLS.ClientKey)
			if err != nil {
				return nil, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
	}
	return tlsConfig, nil
}

// loadCACert loads CA certificate from file and adds it to TLS config
func loadCACert(tlsConfig *tls.Config, caCertPath string) error {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return errors.New("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return nil
}

// do performs a request with an optional JSON body and decodes a JSON
// response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("HTTP request failed", "error", err, "path", path)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.handleErrorResponse(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// handleErrorResponse handles HTTP error responses
func (c *Client) handleErrorResponse(resp *http.Response) error {
	var errorResp ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&errorResp); err != nil || errorResp.Error == "" {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}
	c.logger.Debug("API request failed", "error", errorResp.Error, "status", resp.StatusCode)
	return &APIError{StatusCode: resp.StatusCode, Message: errorResp.Error}
}
