package wizard

import "github.com/vmdesk/vmdesk/internal/catalog"

// DeriveNetworkDefaults computes the NIC drafts a template implies. A nil
// template yields no NICs. Each template NIC carries its name, device type,
// and profile over; a NIC without a profile gets the empty-profile sentinel
// so the draft always references something selectable.
func DeriveNetworkDefaults(tpl *catalog.Template) []NIC {
	if tpl == nil {
		return nil
	}
	nics := make([]NIC, 0, len(tpl.NICs))
	for _, src := range tpl.NICs {
		profile := src.VNICProfileID
		if profile == "" {
			profile = EmptyVNICProfileID
		}
		nics = append(nics, NIC{
			ID:            src.ID,
			Name:          src.Name,
			VNICProfileID: profile,
			DeviceType:    src.DeviceType,
			FromTemplate:  true,
		})
	}
	return nics
}

// DeriveStorageDefaults computes the disk drafts a template implies. A nil
// template yields no disks.
//
// Disk type defaulting: a desktop-class template or a desktop-optimized
// wizard always gets thin disks; otherwise the source disk's sparseness
// decides (sparse → thin, preallocated → pre).
//
// Each derived disk is checked against the storage domains available in the
// session's data center. A disk whose inherited domain is not in that list
// cannot be submitted as is: it keeps the inherited domain for display but
// carries an under-construction shadow with the domain cleared, forcing a
// manual pick before the storage step validates.
func DeriveStorageDefaults(tpl *catalog.Template, optimizedFor string, available []catalog.StorageDomain) []Disk {
	if tpl == nil {
		return nil
	}
	usable := make(map[string]bool, len(available))
	for _, d := range available {
		usable[d.ID] = true
	}
	disks := make([]Disk, 0, len(tpl.Disks))
	for _, src := range tpl.Disks {
		disk := Disk{
			ID:                  src.ID,
			Name:                src.Name,
			DiskID:              src.ID,
			StorageDomainID:     src.StorageDomainID,
			CanUseStorageDomain: usable[src.StorageDomainID],
			Bootable:            src.Bootable,
			Type:                deriveDiskType(tpl.Class, optimizedFor, src.Sparse),
			SizeBytes:           src.SizeBytes,
			FromTemplate:        true,
		}
		if !disk.CanUseStorageDomain {
			shadow := disk
			shadow.StorageDomainID = ""
			disk.UnderConstruction = &shadow
		}
		disks = append(disks, disk)
	}
	return disks
}

func deriveDiskType(templateClass, optimizedFor string, sparse bool) DiskType {
	if templateClass == catalog.ClassDesktop || optimizedFor == OptimizedDesktop {
		return DiskTypeThin
	}
	if sparse {
		return DiskTypeThin
	}
	return DiskTypePre
}
