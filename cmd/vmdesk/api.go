// ABOUTME: HTTP client for communicating with vmdeskd over its Unix socket.
// ABOUTME: Provides request/response mirrors of the /v1 wire types.

// Package main provides the HTTP client for communicating with vmdeskd.
//
// The apiClient speaks HTTP over a Unix socket. All responses are
// JSON-encoded; errors arrive as status >= 400 with an "error" field.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

const defaultSocketPath = "/run/vmdesk/vmdeskd.sock"

const (
	maxJSONOutputBytes    = 4 << 20 // 4MB maximum JSON response size
	defaultRequestTimeout = 30 * time.Second
)

// apiClient is an HTTP client for communicating with vmdeskd over a Unix socket.
type apiClient struct {
	socketPath string
	httpClient *http.Client
	timeout    time.Duration
}

// apiError represents an error response from the vmdeskd API.
type apiError struct {
	Error string `json:"error"`
}

type topologyView struct {
	Sockets int `json:"sockets"`
	Cores   int `json:"cores"`
	Threads int `json:"threads"`
}

// basicView mirrors the daemon's view of the basic step. The init password
// never crosses the socket; only init_password_set does.
type basicView struct {
	Name              string       `json:"name"`
	OperatingSystemID string       `json:"operating_system_id"`
	MemoryMiB         int64        `json:"memory_mib"`
	CPUs              int          `json:"cpus"`
	Topology          topologyView `json:"topology"`
	OptimizedFor      string       `json:"optimized_for"`
	StartOnCreation   bool         `json:"start_on_creation"`
	TPMEnabled        bool         `json:"tpm_enabled"`
	InitEnabled       bool         `json:"init_enabled"`
	InitHostname      string       `json:"init_hostname,omitempty"`
	InitSSHKeys       string       `json:"init_ssh_keys,omitempty"`
	InitPasswordSet   bool         `json:"init_password_set"`
	ProvisionSource   string       `json:"provision_source"`
	ClusterID         string       `json:"cluster_id"`
	TemplateID        string       `json:"template_id"`
	DataCenterID      string       `json:"data_center_id"`
}

type basicPatchRequest struct {
	Name              *string       `json:"name,omitempty"`
	OperatingSystemID *string       `json:"operating_system_id,omitempty"`
	MemoryMiB         *int64        `json:"memory_mib,omitempty"`
	CPUs              *int          `json:"cpus,omitempty"`
	Topology          *topologyView `json:"topology,omitempty"`
	OptimizedFor      *string       `json:"optimized_for,omitempty"`
	StartOnCreation   *bool         `json:"start_on_creation,omitempty"`
	TPMEnabled        *bool         `json:"tpm_enabled,omitempty"`
	InitEnabled       *bool         `json:"init_enabled,omitempty"`
	InitHostname      *string       `json:"init_hostname,omitempty"`
	InitSSHKeys       *string       `json:"init_ssh_keys,omitempty"`
	InitPassword      *string       `json:"init_password,omitempty"`
	ProvisionSource   *string       `json:"provision_source,omitempty"`
	ClusterID         *string       `json:"cluster_id,omitempty"`
	TemplateID        *string       `json:"template_id,omitempty"`
	DataCenterID      *string       `json:"data_center_id,omitempty"`
}

type nicView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	VNICProfileID string `json:"vnic_profile_id"`
	DeviceType    string `json:"device_type,omitempty"`
	FromTemplate  bool   `json:"from_template"`
}

type nicCreateRequest struct {
	Name          string `json:"name"`
	VNICProfileID string `json:"vnic_profile_id"`
	DeviceType    string `json:"device_type,omitempty"`
}

type nicUpdateRequest struct {
	ID            string  `json:"id"`
	Name          *string `json:"name,omitempty"`
	VNICProfileID *string `json:"vnic_profile_id,omitempty"`
	DeviceType    *string `json:"device_type,omitempty"`
}

type nicChangeRequest struct {
	Create *nicCreateRequest `json:"create,omitempty"`
	Update *nicUpdateRequest `json:"update,omitempty"`
	Remove string            `json:"remove,omitempty"`
}

type diskView struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	DiskID              string    `json:"disk_id,omitempty"`
	StorageDomainID     string    `json:"storage_domain_id"`
	CanUseStorageDomain bool      `json:"can_use_storage_domain"`
	Bootable            bool      `json:"bootable"`
	Type                string    `json:"type"`
	SizeBytes           int64     `json:"size_bytes"`
	FromTemplate        bool      `json:"from_template"`
	UnderConstruction   *diskView `json:"under_construction,omitempty"`
}

type diskCreateRequest struct {
	Name            string `json:"name"`
	StorageDomainID string `json:"storage_domain_id"`
	Bootable        bool   `json:"bootable,omitempty"`
	Type            string `json:"type,omitempty"`
	SizeBytes       int64  `json:"size_bytes"`
}

type diskUpdateRequest struct {
	ID              string  `json:"id"`
	Name            *string `json:"name,omitempty"`
	StorageDomainID *string `json:"storage_domain_id,omitempty"`
	Bootable        *bool   `json:"bootable,omitempty"`
	Type            *string `json:"type,omitempty"`
	SizeBytes       *int64  `json:"size_bytes,omitempty"`
}

type diskChangeRequest struct {
	Create *diskCreateRequest `json:"create,omitempty"`
	Update *diskUpdateRequest `json:"update,omitempty"`
	Remove string             `json:"remove,omitempty"`
}

type stepGateView struct {
	Valid        bool `json:"valid"`
	PreventEnter bool `json:"prevent_enter"`
}

type navigationView struct {
	Basic   stepGateView `json:"basic"`
	Network stepGateView `json:"network"`
	Storage stepGateView `json:"storage"`
}

type sessionResponse struct {
	ID             string         `json:"id"`
	Basic          basicView      `json:"basic"`
	NICs           []nicView      `json:"nics"`
	Disks          []diskView     `json:"disks"`
	NetworkUpdated int            `json:"network_updated"`
	StorageUpdated int            `json:"storage_updated"`
	Nav            navigationView `json:"nav"`
	Dirty          bool           `json:"dirty"`
	CorrelationID  string         `json:"correlation_id,omitempty"`
	OpenedAt       string         `json:"opened_at"`
}

type sessionsResponse struct {
	Sessions []sessionResponse `json:"sessions"`
}

type discardResponse struct {
	ID    string `json:"id"`
	State string `json:"state"`
}

type submitResponse struct {
	Token string `json:"token"`
}

type progressResponse struct {
	Token      string   `json:"token,omitempty"`
	Status     string   `json:"status"`
	InProgress bool     `json:"in_progress"`
	Result     string   `json:"result,omitempty"`
	Messages   []string `json:"messages,omitempty"`
}

type clusterView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	DataCenterID string `json:"data_center_id"`
	Architecture string `json:"architecture,omitempty"`
}

type templateView struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	ClusterID         string       `json:"cluster_id,omitempty"`
	Class             string       `json:"class"`
	OperatingSystemID string       `json:"operating_system_id,omitempty"`
	MemoryBytes       int64        `json:"memory_bytes"`
	CPUs              int          `json:"cpus"`
	Topology          topologyView `json:"topology"`
	NICs              int          `json:"nics"`
	Disks             int          `json:"disks"`
}

type operatingSystemView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type storageDomainView struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Type          string   `json:"type,omitempty"`
	DataCenterIDs []string `json:"data_center_ids"`
}

type catalogResponse struct {
	Clusters         []clusterView         `json:"clusters"`
	Templates        []templateView        `json:"templates"`
	OperatingSystems []operatingSystemView `json:"operating_systems"`
	StorageDomains   []storageDomainView   `json:"storage_domains"`
}

type eventView struct {
	ID        int64  `json:"id"`
	Timestamp string `json:"ts"`
	Kind      string `json:"kind"`
	SessionID string `json:"session_id,omitempty"`
	Token     string `json:"token,omitempty"`
	Message   string `json:"message,omitempty"`
}

type eventsResponse struct {
	Events []eventView `json:"events"`
}

type failureView struct {
	Token     string `json:"token"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

type statusResponse struct {
	Version      string         `json:"version"`
	Backend      string         `json:"backend"`
	OpenSessions int            `json:"open_sessions"`
	Submissions  map[string]int `json:"submissions"`
	Metrics      struct {
		Enabled bool `json:"enabled"`
	} `json:"metrics"`
	RecentEvents   []eventView   `json:"recent_events"`
	RecentFailures []failureView `json:"recent_failures"`
}

// newAPIClient creates a client that dials the vmdeskd Unix socket.
func newAPIClient(socketPath string, timeout time.Duration) *apiClient {
	path := socketPath
	if path == "" {
		path = defaultSocketPath
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", path)
		},
	}
	return &apiClient{
		socketPath: path,
		httpClient: &http.Client{Transport: transport},
		timeout:    timeout,
	}
}

// doJSON sends an HTTP request with a JSON payload and returns the JSON response.
func (c *apiClient) doJSON(ctx context.Context, method, path string, payload any) ([]byte, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	var body io.Reader
	if payload != nil {
		buf := &bytes.Buffer{}
		enc := json.NewEncoder(buf)
		if err := enc.Encode(payload); err != nil {
			return nil, err
		}
		body = buf
	}
	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s %s via %s: %w", method, path, c.socketPath, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxJSONOutputBytes))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, parseAPIError(resp.StatusCode, data)
	}
	return data, nil
}

// parseAPIError converts an HTTP error response into an error, preferring
// the daemon's JSON error message over the bare status code.
func parseAPIError(status int, data []byte) error {
	if len(data) > 0 {
		var apiErr apiError
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error != "" {
			return errors.New(apiErr.Error)
		}
	}
	return fmt.Errorf("request failed with status %d", status)
}

// withTimeout adds the client's timeout to the context if configured.
func (c *apiClient) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c == nil || c.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// prettyPrintJSON formats JSON data with indentation and writes it to the writer.
func prettyPrintJSON(w io.Writer, data []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		_, err = w.Write(data)
		return err
	}
	out.WriteByte('\n')
	_, err := w.Write(out.Bytes())
	return err
}
