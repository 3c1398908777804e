// Package virt provides the backend abstraction for the virtualization
// manager that actually creates VMs.
//
// ABOUTME: This package defines the Backend interface and the create-request
// types, with two implementations: APIBackend (REST against a manager API)
// and FakeBackend (deterministic in-memory, for tests and local development).
//
// ABOUTME: Backends are pluggable and selected at runtime from configuration.
// Every request carries the correlation token minted at submission time so
// results and failure records can be matched back to the originating wizard
// session.
package virt

import (
	"context"
	"errors"

	"github.com/vmdesk/vmdesk/internal/catalog"
)

var (
	// ErrInvalidRequest is returned when a create request is missing
	// required fields (name, cluster).
	ErrInvalidRequest = errors.New("invalid create request")

	// ErrTemplateNotFound is returned when the manager does not know the
	// requested template.
	ErrTemplateNotFound = errors.New("template not found")
)

// NICSpec describes one network interface of the VM being created.
type NICSpec struct {
	Name          string `json:"name"`
	VNICProfileID string `json:"vnic_profile_id"`
	DeviceType    string `json:"device_type"`
}

// DiskSpec describes one disk of the VM being created. Type is the
// allocation policy ("thin" or "pre").
type DiskSpec struct {
	Name            string `json:"name"`
	StorageDomainID string `json:"storage_domain_id"`
	Type            string `json:"type"`
	SizeBytes       int64  `json:"size_bytes"`
	Bootable        bool   `json:"bootable"`
}

// CreateRequest is the full create-VM payload handed to a backend.
//
// SealedInit carries the cloud-init credentials as armored ciphertext; the
// backend forwards it opaquely and plaintext credentials never appear here.
type CreateRequest struct {
	Token             string           `json:"token"`
	Name              string           `json:"name"`
	ClusterID         string           `json:"cluster_id"`
	TemplateID        string           `json:"template_id"`
	OperatingSystemID string           `json:"operating_system_id"`
	MemoryMiB         int64            `json:"memory_mib"`
	CPUs              int              `json:"cpus"`
	Topology          catalog.Topology `json:"topology"`
	OptimizedFor      string           `json:"optimized_for"`
	StartOnCreation   bool             `json:"start_on_creation"`
	TPMEnabled        bool             `json:"tpm_enabled"`
	SealedInit        string           `json:"sealed_init,omitempty"`
	NICs              []NICSpec        `json:"nics"`
	Disks             []DiskSpec       `json:"disks"`
}

// Validate checks the fields every backend needs before dispatch.
func (r CreateRequest) Validate() error {
	if r.Name == "" || r.ClusterID == "" {
		return ErrInvalidRequest
	}
	return nil
}

// Backend creates VMs on a virtualization manager.
//
// CreateVM blocks until the manager accepts or rejects the request and
// returns the new VM id. Callers run it on their own goroutine with a
// deadline; the backend itself never spawns background work.
type Backend interface {
	CreateVM(ctx context.Context, req CreateRequest) (string, error)

	// Ping verifies the manager is reachable with the configured
	// credentials.
	Ping(ctx context.Context) error
}
