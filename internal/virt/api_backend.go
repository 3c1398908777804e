// ABOUTME: This file implements Backend against a virtualization manager's
// REST API. The wizard payload maps onto the manager's vm/nic/disk resources;
// the correlation token travels in both the body and a request header.
package virt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultCommandTimeout = 2 * time.Minute

// APIBackend implements Backend using the manager's REST API.
type APIBackend struct {
	HTTPClient     *http.Client  // optional; defaults to a client with the command timeout
	BaseURL        string        // manager API base URL (e.g. "https://engine.example.com/api")
	Token          string        // bearer token for authentication
	CommandTimeout time.Duration // per-request timeout (defaults to 2 minutes)
}

var _ Backend = (*APIBackend)(nil)

// NewAPIBackend returns an APIBackend for the given base URL and token.
func NewAPIBackend(baseURL, token string) *APIBackend {
	return &APIBackend{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
	}
}

type apiFault struct {
	Fault struct {
		Reason string `json:"reason"`
		Detail string `json:"detail"`
	} `json:"fault"`
}

type vmResource struct {
	ID string `json:"id"`
}

// CreateVM creates the VM resource, attaches NICs and disks, and optionally
// starts it. The manager reports the created VM id synchronously; the
// caller's context bounds the whole exchange.
func (b *APIBackend) CreateVM(ctx context.Context, req CreateRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}

	var vm vmResource
	if err := b.doJSON(ctx, http.MethodPost, "/vms", req, &vm, req.Token); err != nil {
		return "", fmt.Errorf("create vm %s: %w", req.Name, err)
	}
	if vm.ID == "" {
		return "", fmt.Errorf("create vm %s: manager returned no id", req.Name)
	}

	for _, nic := range req.NICs {
		path := fmt.Sprintf("/vms/%s/nics", vm.ID)
		if err := b.doJSON(ctx, http.MethodPost, path, nic, nil, req.Token); err != nil {
			return "", fmt.Errorf("attach nic %s: %w", nic.Name, err)
		}
	}
	for _, disk := range req.Disks {
		path := fmt.Sprintf("/vms/%s/disks", vm.ID)
		if err := b.doJSON(ctx, http.MethodPost, path, disk, nil, req.Token); err != nil {
			return "", fmt.Errorf("attach disk %s: %w", disk.Name, err)
		}
	}

	if req.StartOnCreation {
		path := fmt.Sprintf("/vms/%s/start", vm.ID)
		if err := b.doJSON(ctx, http.MethodPost, path, nil, nil, req.Token); err != nil {
			return "", fmt.Errorf("start vm %s: %w", vm.ID, err)
		}
	}

	return vm.ID, nil
}

// Ping checks the manager health endpoint.
func (b *APIBackend) Ping(ctx context.Context) error {
	return b.doJSON(ctx, http.MethodGet, "/health", nil, nil, "")
}

func (b *APIBackend) client() *http.Client {
	if b.HTTPClient != nil {
		return b.HTTPClient
	}
	return &http.Client{Timeout: b.timeout()}
}

func (b *APIBackend) timeout() time.Duration {
	if b.CommandTimeout > 0 {
		return b.CommandTimeout
	}
	return defaultCommandTimeout
}

func (b *APIBackend) doJSON(ctx context.Context, method, path string, payload, dest any, correlation string) error {
	ctx, cancel := context.WithTimeout(ctx, b.timeout())
	defer cancel()

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, b.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if b.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.Token)
	}
	if correlation != "" {
		req.Header.Set("X-Correlation-ID", correlation)
	}

	resp, err := b.client().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return parseManagerError(resp)
	}
	if dest == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func parseManagerError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var fault apiFault
	if err := json.Unmarshal(data, &fault); err == nil && fault.Fault.Reason != "" {
		if resp.StatusCode == http.StatusNotFound && strings.Contains(strings.ToLower(fault.Fault.Reason), "template") {
			return fmt.Errorf("%s: %w", fault.Fault.Detail, ErrTemplateNotFound)
		}
		if fault.Fault.Detail != "" {
			return fmt.Errorf("manager: %s: %s", fault.Fault.Reason, fault.Fault.Detail)
		}
		return fmt.Errorf("manager: %s", fault.Fault.Reason)
	}
	return fmt.Errorf("manager: unexpected status %d", resp.StatusCode)
}
