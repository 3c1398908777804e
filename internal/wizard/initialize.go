package wizard

import "github.com/vmdesk/vmdesk/internal/catalog"

// Initialize builds a fresh State from the inventory snapshot.
//
// The blank template supplies the baseline defaults (operating system,
// memory converted bytes→MiB, cpu count, topology, init flag). When exactly
// one cluster exists it is pre-selected along with its data center, since
// the user has no real choice to make. The computed basic values are also
// recorded as BasicDefaults for later reset and comparison.
//
// A fresh state has no correlation token, both step counters at zero, and
// is not yet marked dirty.
func Initialize(snap *catalog.Snapshot) State {
	blank := snap.BlankTemplate()
	basic := Basic{
		OperatingSystemID: blank.OperatingSystemID,
		MemoryMiB:         blank.MemoryBytes / bytesPerMiB,
		CPUs:              blank.CPUs,
		InitEnabled:       blank.InitEnabled,
		OptimizedFor:      OptimizedServer,
		Topology:          blank.Topology,
		ProvisionSource:   ProvisionTemplate,
	}

	clusters := snap.Clusters()
	if len(clusters) == 1 {
		basic.ClusterID = clusters[0].ID
		basic.DataCenterID = clusters[0].DataCenterID
	}

	st := State{
		Basic:         basic,
		BasicDefaults: basic,
	}
	st.Nav = navigationFor(st)
	return st
}
