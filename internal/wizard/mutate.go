package wizard

import "github.com/vmdesk/vmdesk/internal/catalog"

// BasicPatch is a partial update to the basic step. Nil fields are left
// untouched by the merge.
type BasicPatch struct {
	Name              *string
	OperatingSystemID *string
	MemoryMiB         *int64
	CPUs              *int
	StartOnCreation   *bool
	InitEnabled       *bool
	InitHostname      *string
	InitSSHKeys       *string
	InitPassword      *string
	OptimizedFor      *string
	Topology          *catalog.Topology
	TPMEnabled        *bool
	ProvisionSource   *ProvisionSource
	ClusterID         *string
	TemplateID        *string
	DataCenterID      *string
}

// UpdateBasic merges the patch into the basic step and marks the wizard
// dirty. When the merge changes the provisioning source or the template,
// both dependent-step counters reset to zero: the old derivations no longer
// describe the new source, and the next basic-step exit re-derives.
func (s State) UpdateBasic(patch BasicPatch) State {
	out := s.Clone()

	sourceChanged := false
	if patch.ProvisionSource != nil && *patch.ProvisionSource != out.Basic.ProvisionSource {
		sourceChanged = true
	}
	if patch.TemplateID != nil && *patch.TemplateID != out.Basic.TemplateID {
		sourceChanged = true
	}

	b := &out.Basic
	if patch.Name != nil {
		b.Name = *patch.Name
	}
	if patch.OperatingSystemID != nil {
		b.OperatingSystemID = *patch.OperatingSystemID
	}
	if patch.MemoryMiB != nil {
		b.MemoryMiB = *patch.MemoryMiB
	}
	if patch.CPUs != nil {
		b.CPUs = *patch.CPUs
	}
	if patch.StartOnCreation != nil {
		b.StartOnCreation = *patch.StartOnCreation
	}
	if patch.InitEnabled != nil {
		b.InitEnabled = *patch.InitEnabled
	}
	if patch.InitHostname != nil {
		b.InitHostname = *patch.InitHostname
	}
	if patch.InitSSHKeys != nil {
		b.InitSSHKeys = *patch.InitSSHKeys
	}
	if patch.InitPassword != nil {
		b.InitPassword = *patch.InitPassword
	}
	if patch.OptimizedFor != nil {
		b.OptimizedFor = *patch.OptimizedFor
	}
	if patch.Topology != nil {
		b.Topology = *patch.Topology
	}
	if patch.TPMEnabled != nil {
		b.TPMEnabled = *patch.TPMEnabled
	}
	if patch.ProvisionSource != nil {
		b.ProvisionSource = *patch.ProvisionSource
	}
	if patch.ClusterID != nil {
		b.ClusterID = *patch.ClusterID
	}
	if patch.TemplateID != nil {
		b.TemplateID = *patch.TemplateID
	}
	if patch.DataCenterID != nil {
		b.DataCenterID = *patch.DataCenterID
	}

	out.Dirty = true
	if sourceChanged {
		out.Network.Updated = 0
		out.Storage.Updated = 0
	}
	out.Nav = navigationFor(out)
	return out
}

// NICPatch is a partial update to one NIC draft, addressed by id.
type NICPatch struct {
	ID            string
	Name          *string
	VNICProfileID *string
	DeviceType    *string
}

// NICChange is one edit to the NIC list. Any combination of the three
// members may be set; a change with none set is a no-op that leaves the
// counter untouched.
type NICChange struct {
	Create *NIC
	Update *NICPatch
	Remove string
}

func (c NICChange) empty() bool {
	return c.Create == nil && c.Update == nil && c.Remove == ""
}

// ApplyNICChange edits the NIC list. Removes filter by id; updates merge by
// id and silently skip unknown ids (deliberate: stale edits from a slow
// client must not fail the session); creates append. Every non-empty change
// bumps the network counter and marks the wizard dirty.
func (s State) ApplyNICChange(change NICChange) State {
	if change.empty() {
		return s
	}
	out := s.Clone()

	if change.Remove != "" {
		kept := out.Network.NICs[:0]
		for _, nic := range out.Network.NICs {
			if nic.ID != change.Remove {
				kept = append(kept, nic)
			}
		}
		out.Network.NICs = kept
	}
	if change.Update != nil {
		for i := range out.Network.NICs {
			if out.Network.NICs[i].ID != change.Update.ID {
				continue
			}
			nic := &out.Network.NICs[i]
			if change.Update.Name != nil {
				nic.Name = *change.Update.Name
			}
			if change.Update.VNICProfileID != nil {
				nic.VNICProfileID = *change.Update.VNICProfileID
			}
			if change.Update.DeviceType != nil {
				nic.DeviceType = *change.Update.DeviceType
			}
			break
		}
	}
	if change.Create != nil {
		out.Network.NICs = append(out.Network.NICs, *change.Create)
	}

	out.Network.Updated++
	out.Dirty = true
	return out
}

// DiskPatch is a partial update to one disk draft, addressed by id.
type DiskPatch struct {
	ID              string
	Name            *string
	StorageDomainID *string
	Bootable        *bool
	Type            *DiskType
	SizeBytes       *int64
}

// DiskChange is one edit to the disk list; same shape and no-op rules as
// NICChange.
type DiskChange struct {
	Create *Disk
	Update *DiskPatch
	Remove string
}

func (c DiskChange) empty() bool {
	return c.Create == nil && c.Update == nil && c.Remove == ""
}

// ApplyDiskChange edits the disk list with the same id semantics as
// ApplyNICChange. Updates against a disk carrying an under-construction
// shadow edit the shadow instead of the original; once the shadow names a
// storage domain it is promoted over the original and the disk becomes
// submittable. Storage validity is recomputed after every change so the
// shadow invariant stays visible to navigation.
func (s State) ApplyDiskChange(change DiskChange) State {
	if change.empty() {
		return s
	}
	out := s.Clone()

	if change.Remove != "" {
		kept := out.Storage.Disks[:0]
		for _, disk := range out.Storage.Disks {
			if disk.ID != change.Remove {
				kept = append(kept, disk)
			}
		}
		out.Storage.Disks = kept
	}
	if change.Update != nil {
		for i := range out.Storage.Disks {
			if out.Storage.Disks[i].ID != change.Update.ID {
				continue
			}
			disk := &out.Storage.Disks[i]
			if disk.UnderConstruction != nil {
				applyDiskPatch(disk.UnderConstruction, *change.Update)
				if disk.UnderConstruction.StorageDomainID != "" {
					resolved := *disk.UnderConstruction
					resolved.CanUseStorageDomain = true
					resolved.UnderConstruction = nil
					*disk = resolved
				}
			} else {
				applyDiskPatch(disk, *change.Update)
			}
			break
		}
	}
	if change.Create != nil {
		created := *change.Create
		if created.UnderConstruction != nil {
			shadow := *created.UnderConstruction
			created.UnderConstruction = &shadow
		}
		out.Storage.Disks = append(out.Storage.Disks, created)
	}

	out.Storage.Updated++
	out.Dirty = true
	out.Nav.Storage.Valid = !hasUnderConstruction(out.Storage.Disks)
	return out
}

func applyDiskPatch(disk *Disk, patch DiskPatch) {
	if patch.Name != nil {
		disk.Name = *patch.Name
	}
	if patch.StorageDomainID != nil {
		disk.StorageDomainID = *patch.StorageDomainID
	}
	if patch.Bootable != nil {
		disk.Bootable = *patch.Bootable
	}
	if patch.Type != nil {
		disk.Type = *patch.Type
	}
	if patch.SizeBytes != nil {
		disk.SizeBytes = *patch.SizeBytes
	}
}

// CommitBasic is the step-exit hook for the basic step. Dependent steps
// whose counter is still zero get their draft lists replaced by fresh
// derivations from the currently selected template and their counter set to
// one; steps already derived or hand-edited are left exactly as they are.
// Storage validity is recomputed afterwards.
//
// Calling it again without an intervening source change is a no-op: the
// counters are already non-zero.
func (s State) CommitBasic(snap *catalog.Snapshot) State {
	out := s.Clone()

	var tpl *catalog.Template
	if out.Basic.ProvisionSource == ProvisionTemplate && out.Basic.TemplateID != "" {
		if t, ok := snap.Template(out.Basic.TemplateID); ok {
			tpl = &t
		}
	}

	if out.Network.Updated == 0 {
		out.Network.NICs = DeriveNetworkDefaults(tpl)
		out.Network.Updated = 1
	}
	if out.Storage.Updated == 0 {
		available := snap.StorageDomainsForDataCenter(out.Basic.DataCenterID)
		out.Storage.Disks = DeriveStorageDefaults(tpl, out.Basic.OptimizedFor, available)
		out.Storage.Updated = 1
	}

	out.Nav.Storage.Valid = !hasUnderConstruction(out.Storage.Disks)
	return out
}
