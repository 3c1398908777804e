package wizard

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vmdesk/vmdesk/internal/catalog"
)

func TestDeriveDiskType(t *testing.T) {
	tests := []struct {
		name         string
		class        string
		optimizedFor string
		sparse       bool
		want         DiskType
	}{
		{"desktop class sparse", catalog.ClassDesktop, OptimizedServer, true, DiskTypeThin},
		{"desktop class preallocated", catalog.ClassDesktop, OptimizedServer, false, DiskTypeThin},
		{"desktop optimized sparse", catalog.ClassServer, OptimizedDesktop, true, DiskTypeThin},
		{"desktop optimized preallocated", catalog.ClassServer, OptimizedDesktop, false, DiskTypeThin},
		{"server sparse", catalog.ClassServer, OptimizedServer, true, DiskTypeThin},
		{"server preallocated", catalog.ClassServer, OptimizedServer, false, DiskTypePre},
		{"high performance sparse", catalog.ClassServer, OptimizedHighPerformance, true, DiskTypeThin},
		{"high performance preallocated", catalog.ClassServer, OptimizedHighPerformance, false, DiskTypePre},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := deriveDiskType(tc.class, tc.optimizedFor, tc.sparse)
			require.Equal(t, tc.want, got)
		})
	}
}

func TestDeriveNetworkDefaultsNoTemplate(t *testing.T) {
	require.Empty(t, DeriveNetworkDefaults(nil))
}

func TestDeriveNetworkDefaults(t *testing.T) {
	tpl := &catalog.Template{
		ID: "t1",
		NICs: []catalog.TemplateNIC{
			{ID: "n1", Name: "nic1", DeviceType: "virtio", VNICProfileID: "p1"},
			{ID: "n2", Name: "nic2", DeviceType: "e1000"},
		},
	}

	nics := DeriveNetworkDefaults(tpl)
	require.Len(t, nics, 2)

	require.Equal(t, "nic1", nics[0].Name)
	require.Equal(t, "p1", nics[0].VNICProfileID)
	require.Equal(t, "virtio", nics[0].DeviceType)
	require.True(t, nics[0].FromTemplate)

	// A template NIC without a profile falls back to the sentinel.
	require.Equal(t, EmptyVNICProfileID, nics[1].VNICProfileID)
	require.True(t, nics[1].FromTemplate)
}

func TestDeriveStorageDefaultsNoTemplate(t *testing.T) {
	require.Empty(t, DeriveStorageDefaults(nil, OptimizedServer, nil))
}

func TestDeriveStorageDefaultsDomainAvailability(t *testing.T) {
	tpl := &catalog.Template{
		ID:    "t1",
		Class: catalog.ClassServer,
		Disks: []catalog.TemplateDisk{
			{ID: "d1", Name: "root", StorageDomainID: "sd-ok", Bootable: true, Sparse: false, SizeBytes: 8 << 30},
			{ID: "d2", Name: "data", StorageDomainID: "sd-far", Sparse: true, SizeBytes: 20 << 30},
		},
	}
	available := []catalog.StorageDomain{{ID: "sd-ok", Name: "near"}}

	disks := DeriveStorageDefaults(tpl, OptimizedServer, available)
	require.Len(t, disks, 2)

	root := disks[0]
	require.True(t, root.CanUseStorageDomain)
	require.Nil(t, root.UnderConstruction)
	require.Equal(t, DiskTypePre, root.Type)
	require.True(t, root.Bootable)
	require.True(t, root.FromTemplate)

	data := disks[1]
	require.False(t, data.CanUseStorageDomain)
	require.Equal(t, DiskTypeThin, data.Type)
	// The draft keeps the inherited domain for display; the shadow clears it
	// so the user is forced to pick one that exists here.
	require.Equal(t, "sd-far", data.StorageDomainID)
	require.NotNil(t, data.UnderConstruction)
	require.Empty(t, data.UnderConstruction.StorageDomainID)
	require.Equal(t, "data", data.UnderConstruction.Name)
}
