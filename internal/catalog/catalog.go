// Package catalog provides read-only snapshots of the virtualization
// inventory the creation wizard selects from.
//
// A Snapshot holds the clusters, templates, operating systems, and storage
// domains visible to the daemon, keyed by id and filterable by data center.
// Snapshots are immutable after Load; callers never mutate them.
package catalog

import "sort"

// BlankTemplateID is the id of the built-in empty template. Every snapshot
// contains a blank template; its values seed the wizard's basic defaults.
const BlankTemplateID = "00000000-0000-0000-0000-000000000000"

// Template classes. A template's class records what the source VM was
// optimized for and participates in disk-type defaulting.
const (
	ClassDesktop         = "desktop"
	ClassServer          = "server"
	ClassHighPerformance = "high_performance"
)

// Topology describes a virtual CPU layout.
type Topology struct {
	Sockets int `yaml:"sockets" json:"sockets"`
	Cores   int `yaml:"cores" json:"cores"`
	Threads int `yaml:"threads" json:"threads"`
}

// Cluster is a scheduling domain inside one data center.
type Cluster struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	DataCenterID string `yaml:"data_center_id"`
	Architecture string `yaml:"architecture"`
}

// TemplateNIC is a network interface carried by a template.
type TemplateNIC struct {
	ID            string `yaml:"id"`
	Name          string `yaml:"name"`
	DeviceType    string `yaml:"device_type"`
	VNICProfileID string `yaml:"vnic_profile_id"`
}

// TemplateDisk is a disk image carried by a template.
type TemplateDisk struct {
	ID              string `yaml:"id"`
	Name            string `yaml:"name"`
	StorageDomainID string `yaml:"storage_domain_id"`
	Bootable        bool   `yaml:"bootable"`
	Sparse          bool   `yaml:"sparse"`
	SizeBytes       int64  `yaml:"size_bytes"`
}

// Template is a VM source image plus the defaults derived from it.
type Template struct {
	ID                string         `yaml:"id"`
	Name              string         `yaml:"name"`
	ClusterID         string         `yaml:"cluster_id"`
	Class             string         `yaml:"class"`
	OperatingSystemID string         `yaml:"operating_system_id"`
	MemoryBytes       int64          `yaml:"memory_bytes"`
	CPUs              int            `yaml:"cpus"`
	Topology          Topology       `yaml:"topology"`
	InitEnabled       bool           `yaml:"init_enabled"`
	NICs              []TemplateNIC  `yaml:"nics"`
	Disks             []TemplateDisk `yaml:"disks"`
}

// OperatingSystem describes one installable guest OS.
type OperatingSystem struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// StorageDomain is a storage backend attached to one or more data centers.
// A domain is usable from a wizard session only when its data-center list
// contains the session's data center.
type StorageDomain struct {
	ID            string   `yaml:"id"`
	Name          string   `yaml:"name"`
	Type          string   `yaml:"type"`
	DataCenterIDs []string `yaml:"data_center_ids"`
}

// Snapshot is an immutable view of the inventory at load time.
type Snapshot struct {
	clusters  map[string]Cluster
	templates map[string]Template
	oses      map[string]OperatingSystem
	domains   map[string]StorageDomain

	clusterOrder  []string
	templateOrder []string
	osOrder       []string
	domainOrder   []string
}

// Cluster returns the cluster with the given id, if present.
func (s *Snapshot) Cluster(id string) (Cluster, bool) {
	c, ok := s.clusters[id]
	return c, ok
}

// Template returns the template with the given id, if present.
func (s *Snapshot) Template(id string) (Template, bool) {
	t, ok := s.templates[id]
	return t, ok
}

// OperatingSystem returns the operating system with the given id, if present.
func (s *Snapshot) OperatingSystem(id string) (OperatingSystem, bool) {
	o, ok := s.oses[id]
	return o, ok
}

// StorageDomain returns the storage domain with the given id, if present.
func (s *Snapshot) StorageDomain(id string) (StorageDomain, bool) {
	d, ok := s.domains[id]
	return d, ok
}

// BlankTemplate returns the built-in empty template.
func (s *Snapshot) BlankTemplate() Template {
	return s.templates[BlankTemplateID]
}

// Clusters returns all clusters in load order.
func (s *Snapshot) Clusters() []Cluster {
	out := make([]Cluster, 0, len(s.clusterOrder))
	for _, id := range s.clusterOrder {
		out = append(out, s.clusters[id])
	}
	return out
}

// Templates returns all templates in load order, blank template included.
func (s *Snapshot) Templates() []Template {
	out := make([]Template, 0, len(s.templateOrder))
	for _, id := range s.templateOrder {
		out = append(out, s.templates[id])
	}
	return out
}

// OperatingSystems returns all operating systems in load order.
func (s *Snapshot) OperatingSystems() []OperatingSystem {
	out := make([]OperatingSystem, 0, len(s.osOrder))
	for _, id := range s.osOrder {
		out = append(out, s.oses[id])
	}
	return out
}

// StorageDomains returns all storage domains in load order.
func (s *Snapshot) StorageDomains() []StorageDomain {
	out := make([]StorageDomain, 0, len(s.domainOrder))
	for _, id := range s.domainOrder {
		out = append(out, s.domains[id])
	}
	return out
}

// TemplatesForCluster returns the templates bound to the given cluster plus
// the blank template, sorted by name with the blank template first.
func (s *Snapshot) TemplatesForCluster(clusterID string) []Template {
	out := []Template{s.BlankTemplate()}
	for _, id := range s.templateOrder {
		t := s.templates[id]
		if t.ID == BlankTemplateID {
			continue
		}
		if t.ClusterID == clusterID {
			out = append(out, t)
		}
	}
	sort.SliceStable(out[1:], func(i, j int) bool {
		return out[i+1].Name < out[j+1].Name
	})
	return out
}

// StorageDomainsForDataCenter returns the storage domains attached to the
// given data center, in load order.
func (s *Snapshot) StorageDomainsForDataCenter(dataCenterID string) []StorageDomain {
	var out []StorageDomain
	for _, id := range s.domainOrder {
		d := s.domains[id]
		for _, dc := range d.DataCenterIDs {
			if dc == dataCenterID {
				out = append(out, d)
				break
			}
		}
	}
	return out
}
