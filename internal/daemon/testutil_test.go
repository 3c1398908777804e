package daemon

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"

	"github.com/vmdesk/vmdesk/internal/catalog"
	"github.com/vmdesk/vmdesk/internal/db"
	"github.com/vmdesk/vmdesk/internal/virt"
	"github.com/vmdesk/vmdesk/internal/wizard"
)

func newTestStore(t *testing.T) *db.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vmdesk.db")
	store, err := db.Open(path)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// testInventory is one cluster in dc1, a server template whose disk lives in
// an unreachable domain (forcing an under-construction draft), a desktop
// template whose disk is usable, and one usable domain.
func testInventory() *catalog.Snapshot {
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
					{ID: "d1", Name: "root", StorageDomainID: "sd-far", Bootable: true, Sparse: true, SizeBytes: 10 << 30},
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
			{ID: "sd-far", Name: "far", DataCenterIDs: []string{"dc2"}},
		},
	)
}

func discardLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

// newTestManager wires a manager and dispatcher over the given backend.
func newTestManager(t *testing.T, store *db.Store, backend virt.Backend) *SessionManager {
	t.Helper()
	dispatcher := NewDispatcher(store, backend, discardLogger())
	return NewSessionManager(store, testInventory(), discardLogger()).WithDispatcher(dispatcher)
}

func newTestAPI(t *testing.T, store *db.Store, backend virt.Backend) (*ControlAPI, *SessionManager) {
	t.Helper()
	manager := newTestManager(t, store, backend)
	api := NewControlAPI(store, manager, testInventory(), discardLogger()).WithBackendKind("fake")
	return api, manager
}

// updateName sets the VM name, which is the one field a fresh session is
// missing before it validates.
func updateName(t *testing.T, manager *SessionManager, id, name string) {
	t.Helper()
	if _, err := manager.UpdateBasic(id, wizard.BasicPatch{Name: &name}); err != nil {
		t.Fatalf("update basic: %v", err)
	}
}

// gateBackend blocks CreateVM until released so tests can observe the
// pending window.
type gateBackend struct {
	release chan struct{}
	once    sync.Once

	mu   sync.Mutex
	reqs []virt.CreateRequest
	err  error
	vmID string
}

func newGateBackend() *gateBackend {
	return &gateBackend{release: make(chan struct{}), vmID: "vm-0001"}
}

func (b *gateBackend) Release() {
	b.once.Do(func() { close(b.release) })
}

func (b *gateBackend) FailWith(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.err = err
}

func (b *gateBackend) Requests() []virt.CreateRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]virt.CreateRequest, len(b.reqs))
	copy(out, b.reqs)
	return out
}

func (b *gateBackend) CreateVM(ctx context.Context, req virt.CreateRequest) (string, error) {
	b.mu.Lock()
	b.reqs = append(b.reqs, req)
	failure := b.err
	vmID := b.vmID
	b.mu.Unlock()

	select {
	case <-b.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	if failure != nil {
		return "", failure
	}
	return vmID, nil
}

func (b *gateBackend) Ping(context.Context) error { return nil }
