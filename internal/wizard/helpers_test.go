package wizard

import (
	"github.com/vmdesk/vmdesk/internal/catalog"
)

// testSnapshot builds the inventory used across the package tests: one
// cluster in dc1, one server template with two NICs and one sparse disk
// whose domain lives in another data center, and one usable domain.
func testSnapshot() *catalog.Snapshot {
	return catalog.NewSnapshot(
		[]catalog.Cluster{
			{ID: "c1", Name: "production", DataCenterID: "dc1"},
		},
		[]catalog.Template{
			{
				ID:                "t1",
				Name:              "rhel9-base",
				ClusterID:         "c1",
				Class:             catalog.ClassServer,
				OperatingSystemID: "rhel9",
				MemoryBytes:       2 << 30,
				CPUs:              2,
				Topology:          catalog.Topology{Sockets: 1, Cores: 2, Threads: 1},
				NICs: []catalog.TemplateNIC{
					{ID: "n1", Name: "nic1", DeviceType: "virtio", VNICProfileID: "p1"},
					{ID: "n2", Name: "nic2", DeviceType: "virtio", VNICProfileID: "p2"},
				},
				Disks: []catalog.TemplateDisk{
					{ID: "d1", Name: "root", StorageDomainID: "sd1", Bootable: true, Sparse: true, SizeBytes: 10 << 30},
				},
			},
			{
				ID:                "t2",
				Name:              "fedora-workstation",
				ClusterID:         "c1",
				Class:             catalog.ClassDesktop,
				OperatingSystemID: "fedora40",
				MemoryBytes:       4 << 30,
				CPUs:              4,
				NICs: []catalog.TemplateNIC{
					{ID: "n9", Name: "nic1", DeviceType: "virtio", VNICProfileID: "p9"},
				},
				Disks: []catalog.TemplateDisk{
					{ID: "d9", Name: "root", StorageDomainID: "sd-ok", Bootable: true, Sparse: false, SizeBytes: 30 << 30},
				},
			},
		},
		[]catalog.OperatingSystem{
			{ID: "rhel9", Name: "Red Hat Enterprise Linux 9"},
			{ID: "fedora40", Name: "Fedora 40"},
		},
		[]catalog.StorageDomain{
			{ID: "sd-ok", Name: "near", DataCenterIDs: []string{"dc1"}},
			{ID: "sd1", Name: "far", DataCenterIDs: []string{"dc2"}},
		},
	)
}

// readyState returns an initialized state with a valid basic step pointing
// at template t1.
func readyState() State {
	st := Initialize(testSnapshot())
	name := "web-01"
	tplID := "t1"
	osID := "rhel9"
	return st.UpdateBasic(BasicPatch{
		Name:              &name,
		TemplateID:        &tplID,
		OperatingSystemID: &osID,
	})
}

func strPtr(s string) *string { return &s }
