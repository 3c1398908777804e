// Package wizard implements the state machine behind multi-step VM creation.
//
// The package owns a single document type, State, and the rules that keep it
// consistent while a user moves through the steps out of order:
//   - Basic: name, cluster, template, OS, sizing, provisioning source
//   - Network: NIC drafts derived from the template or edited by hand
//   - Storage: disk drafts derived from the template or edited by hand
//
// Dependent steps carry a monotonic Updated counter. Zero means "never
// derived from a template"; any positive value means the step has been
// derived or hand-edited at least once and derivation must not touch it
// again. Changing the provisioning source or template resets the counters
// so the next basic-step exit re-derives from the new source.
//
// All mutation is copy-on-write: operations take a State value and return a
// new one. Nothing in this package mutates a State in place across the
// package boundary, so callers can hold old values safely.
package wizard

import "github.com/vmdesk/vmdesk/internal/catalog"

// DiskType selects the allocation policy for a disk draft.
type DiskType string

const (
	// DiskTypeThin allocates lazily (sparse image).
	DiskTypeThin DiskType = "thin"
	// DiskTypePre allocates the full size up front.
	DiskTypePre DiskType = "pre"
)

// ProvisionSource selects where the new VM's disks and NICs come from.
type ProvisionSource string

const (
	ProvisionTemplate ProvisionSource = "template"
	ProvisionISO      ProvisionSource = "iso"
)

// OptimizedFor workload hints. These mirror the template classes in the
// catalog; the basic step carries one and it participates in disk-type
// defaulting.
const (
	OptimizedDesktop         = "desktop"
	OptimizedServer          = "server"
	OptimizedHighPerformance = "high_performance"
)

// EmptyVNICProfileID is the sentinel profile assigned to a derived NIC whose
// template NIC carries no profile ("no network" in the manager UI).
const EmptyVNICProfileID = "empty"

const bytesPerMiB = 1 << 20

// SubmissionStatus tracks one correlation token through its lifecycle.
//
//	NONE → PENDING → (SUCCESS | ERROR)
//
// Terminal states are never re-entered for the same token. A new attempt
// requires a full reset, which rotates the session identity so stale
// clients cannot be confused with fresh ones.
type SubmissionStatus string

const (
	// SubmissionNone means no token has been minted for this state yet.
	SubmissionNone SubmissionStatus = "NONE"
	// SubmissionPending means a token is stamped and the request is in flight.
	SubmissionPending SubmissionStatus = "PENDING"
	// SubmissionSuccess means the backend reported a created VM.
	SubmissionSuccess SubmissionStatus = "SUCCESS"
	// SubmissionError means the backend reported a failure.
	SubmissionError SubmissionStatus = "ERROR"
)

// Basic holds the first wizard step: identity, placement, sizing, and the
// provisioning source the dependent steps derive from.
type Basic struct {
	Name              string
	OperatingSystemID string
	MemoryMiB         int64
	CPUs              int
	StartOnCreation   bool
	InitEnabled       bool
	InitHostname      string
	InitSSHKeys       string
	InitPassword      string
	OptimizedFor      string
	Topology          catalog.Topology
	TPMEnabled        bool
	ProvisionSource   ProvisionSource
	ClusterID         string
	TemplateID        string
	DataCenterID      string
}

// NIC is one network-interface draft on the network step.
type NIC struct {
	ID            string
	Name          string
	VNICProfileID string
	DeviceType    string
	FromTemplate  bool
}

// Disk is one disk draft on the storage step.
//
// A derived disk whose inherited storage domain is not usable from the
// session's data center carries an UnderConstruction shadow copy with the
// domain reset; the user must resolve the shadow before the storage step
// validates. Edits to such a disk apply to the shadow, and choosing a
// domain promotes the shadow over the original.
type Disk struct {
	ID                  string
	Name                string
	DiskID              string
	StorageDomainID     string
	CanUseStorageDomain bool
	Bootable            bool
	Type                DiskType
	SizeBytes           int64
	FromTemplate        bool
	UnderConstruction   *Disk
}

// NetworkStep is the NIC list plus its freshness counter.
type NetworkStep struct {
	NICs    []NIC
	Updated int
}

// StorageStep is the disk list plus its freshness counter.
type StorageStep struct {
	Disks   []Disk
	Updated int
}

// StepGate controls navigation for one step.
type StepGate struct {
	Valid        bool
	PreventEnter bool
}

// Navigation holds the per-step gates.
type Navigation struct {
	Basic   StepGate
	Network StepGate
	Storage StepGate
}

// State is the canonical wizard document for one session.
//
// Fields:
//   - Basic/Network/Storage: the step contents
//   - Nav: per-step validity and entry gates
//   - Dirty: true once any field has been touched since the last reset
//   - CorrelationID: token of the in-flight or completed submission
//     (empty until submit; immutable once set)
//   - BasicDefaults: snapshot of the defaults computed when the wizard
//     opened, kept for reset and comparison
type State struct {
	Basic         Basic
	Network       NetworkStep
	Storage       StorageStep
	Nav           Navigation
	Dirty         bool
	CorrelationID string
	BasicDefaults Basic
}

// Clone returns a deep copy. Slices and shadow pointers are duplicated so
// the copy shares no mutable memory with the original.
func (s State) Clone() State {
	out := s
	out.Network.NICs = cloneNICs(s.Network.NICs)
	out.Storage.Disks = cloneDisks(s.Storage.Disks)
	return out
}

func cloneNICs(in []NIC) []NIC {
	if in == nil {
		return nil
	}
	out := make([]NIC, len(in))
	copy(out, in)
	return out
}

func cloneDisks(in []Disk) []Disk {
	if in == nil {
		return nil
	}
	out := make([]Disk, len(in))
	for i, d := range in {
		out[i] = d
		if d.UnderConstruction != nil {
			shadow := *d.UnderConstruction
			out[i].UnderConstruction = &shadow
		}
	}
	return out
}

// Submitted reports whether a correlation token has been stamped.
func (s State) Submitted() bool {
	return s.CorrelationID != ""
}

// Status reports the submission lifecycle position given the results
// recorded so far. results maps correlation tokens to their outcome.
func (s State) Status(results map[string]bool) SubmissionStatus {
	if s.CorrelationID == "" {
		return SubmissionNone
	}
	outcome, ok := results[s.CorrelationID]
	if !ok {
		return SubmissionPending
	}
	if outcome {
		return SubmissionSuccess
	}
	return SubmissionError
}

func hasUnderConstruction(disks []Disk) bool {
	for _, d := range disks {
		if d.UnderConstruction != nil {
			return true
		}
	}
	return false
}

func basicValid(b Basic) bool {
	if b.Name == "" || b.OperatingSystemID == "" {
		return false
	}
	if b.MemoryMiB <= 0 || b.CPUs <= 0 {
		return false
	}
	return b.ClusterID != ""
}

// navigationFor recomputes every gate from the document contents. Basic
// validity gates entry to the dependent steps; storage validity tracks the
// absence of under-construction disks.
func navigationFor(s State) Navigation {
	bv := basicValid(s.Basic)
	return Navigation{
		Basic:   StepGate{Valid: bv},
		Network: StepGate{Valid: true, PreventEnter: !bv},
		Storage: StepGate{Valid: !hasUnderConstruction(s.Storage.Disks), PreventEnter: !bv},
	}
}
