package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Inventory file names expected inside the catalog directory. Each file is
// optional; a missing file yields an empty section.
const (
	clustersFile  = "clusters.yaml"
	templatesFile = "templates.yaml"
	osesFile      = "operating_systems.yaml"
	domainsFile   = "storage_domains.yaml"
)

type clustersSpec struct {
	Clusters []Cluster `yaml:"clusters"`
}

type templatesSpec struct {
	Templates []Template `yaml:"templates"`
}

type osesSpec struct {
	OperatingSystems []OperatingSystem `yaml:"operating_systems"`
}

type domainsSpec struct {
	StorageDomains []StorageDomain `yaml:"storage_domains"`
}

// Load reads the inventory YAML files from dir and returns a validated
// snapshot. A missing or empty directory yields the built-in minimal
// snapshot (blank template only) so the daemon can start without inventory.
func Load(dir string) (*Snapshot, error) {
	snap := emptySnapshot()
	if dir == "" {
		ensureBuiltins(snap)
		return snap, nil
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		ensureBuiltins(snap)
		return snap, nil
	}

	var clusters clustersSpec
	if err := readYAML(filepath.Join(dir, clustersFile), &clusters); err != nil {
		return nil, err
	}
	var templates templatesSpec
	if err := readYAML(filepath.Join(dir, templatesFile), &templates); err != nil {
		return nil, err
	}
	var oses osesSpec
	if err := readYAML(filepath.Join(dir, osesFile), &oses); err != nil {
		return nil, err
	}
	var domains domainsSpec
	if err := readYAML(filepath.Join(dir, domainsFile), &domains); err != nil {
		return nil, err
	}

	for _, c := range clusters.Clusters {
		if c.ID == "" {
			return nil, fmt.Errorf("cluster %q missing id", c.Name)
		}
		if _, exists := snap.clusters[c.ID]; exists {
			return nil, fmt.Errorf("duplicate cluster id %q", c.ID)
		}
		snap.clusters[c.ID] = c
		snap.clusterOrder = append(snap.clusterOrder, c.ID)
	}
	for _, o := range oses.OperatingSystems {
		if o.ID == "" {
			return nil, fmt.Errorf("operating system %q missing id", o.Name)
		}
		if _, exists := snap.oses[o.ID]; exists {
			return nil, fmt.Errorf("duplicate operating system id %q", o.ID)
		}
		snap.oses[o.ID] = o
		snap.osOrder = append(snap.osOrder, o.ID)
	}
	for _, d := range domains.StorageDomains {
		if d.ID == "" {
			return nil, fmt.Errorf("storage domain %q missing id", d.Name)
		}
		if _, exists := snap.domains[d.ID]; exists {
			return nil, fmt.Errorf("duplicate storage domain id %q", d.ID)
		}
		snap.domains[d.ID] = d
		snap.domainOrder = append(snap.domainOrder, d.ID)
	}
	for _, t := range templates.Templates {
		if t.ID == "" {
			return nil, fmt.Errorf("template %q missing id", t.Name)
		}
		if _, exists := snap.templates[t.ID]; exists {
			return nil, fmt.Errorf("duplicate template id %q", t.ID)
		}
		if t.ID != BlankTemplateID {
			if _, ok := snap.clusters[t.ClusterID]; !ok {
				return nil, fmt.Errorf("template %q references unknown cluster %q", t.ID, t.ClusterID)
			}
		}
		// Template disks may reference domains outside the catalog or outside
		// the session's data center; the wizard resolves those at derive time.
		snap.templates[t.ID] = t
		snap.templateOrder = append(snap.templateOrder, t.ID)
	}

	ensureBuiltins(snap)
	return snap, nil
}

func readYAML(path string, dest any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		clusters:  make(map[string]Cluster),
		templates: make(map[string]Template),
		oses:      make(map[string]OperatingSystem),
		domains:   make(map[string]StorageDomain),
	}
}

// ensureBuiltins injects the blank template and its fallback operating
// system when the inventory does not define them.
func ensureBuiltins(snap *Snapshot) {
	if _, ok := snap.oses["other"]; !ok {
		snap.oses["other"] = OperatingSystem{ID: "other", Name: "Other OS"}
		snap.osOrder = append(snap.osOrder, "other")
	}
	if _, ok := snap.templates[BlankTemplateID]; !ok {
		snap.templates[BlankTemplateID] = Template{
			ID:                BlankTemplateID,
			Name:              "Blank",
			Class:             ClassServer,
			OperatingSystemID: "other",
			MemoryBytes:       1 << 30,
			CPUs:              1,
			Topology:          Topology{Sockets: 1, Cores: 1, Threads: 1},
		}
		snap.templateOrder = append([]string{BlankTemplateID}, snap.templateOrder...)
	}
}

// NewSnapshot builds a snapshot directly from slices. Tests and the fake
// backend use it to assemble inventory without touching the filesystem.
func NewSnapshot(clusters []Cluster, templates []Template, oses []OperatingSystem, domains []StorageDomain) *Snapshot {
	snap := emptySnapshot()
	for _, c := range clusters {
		snap.clusters[c.ID] = c
		snap.clusterOrder = append(snap.clusterOrder, c.ID)
	}
	for _, t := range templates {
		snap.templates[t.ID] = t
		snap.templateOrder = append(snap.templateOrder, t.ID)
	}
	for _, o := range oses {
		snap.oses[o.ID] = o
		snap.osOrder = append(snap.osOrder, o.ID)
	}
	for _, d := range domains {
		snap.domains[d.ID] = d
		snap.domainOrder = append(snap.domainOrder, d.ID)
	}
	ensureBuiltins(snap)
	return snap
}
