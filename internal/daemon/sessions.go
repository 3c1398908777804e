package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vmdesk/vmdesk/internal/catalog"
	"github.com/vmdesk/vmdesk/internal/db"
	"github.com/vmdesk/vmdesk/internal/secrets"
	"github.com/vmdesk/vmdesk/internal/virt"
	"github.com/vmdesk/vmdesk/internal/wizard"
)

// Audit event kinds recorded by the session manager and dispatcher.
const (
	EventDaemonStarted        = "daemon.started"
	EventSessionOpened        = "session.opened"
	EventSessionReset         = "session.reset"
	EventSessionDiscarded     = "session.discarded"
	EventSubmissionDispatched = "submission.dispatched"
	EventSubmissionCompleted  = "submission.completed"
)

var (
	// ErrNotFound is returned for unknown session ids.
	ErrNotFound = errors.New("session not found")
	// ErrSessionClosed is returned when a held session was discarded or
	// rotated away by a concurrent reset.
	ErrSessionClosed = errors.New("session closed")
	// ErrAlreadySubmitted is returned for mutations and repeat submits on a
	// session whose correlation token is already stamped.
	ErrAlreadySubmitted = errors.New("session already submitted")
	// ErrNotSubmittable is returned by Submit while any step gate is invalid.
	ErrNotSubmittable = errors.New("session is not submittable")
)

// session is one live wizard document plus its token source. The entry
// mutex serializes every state transition; closed marks discarded entries
// and the tombstones Reset leaves behind under rotated ids.
type session struct {
	mu       sync.Mutex
	id       string
	state    wizard.State
	tokens   *wizard.TokenSource
	openedAt time.Time
	closed   bool
}

// SessionView is a read-only copy of one session for API projection.
type SessionView struct {
	ID       string
	State    wizard.State
	OpenedAt time.Time
}

// SessionManager owns the live wizard sessions.
//
// Sessions are purely in-memory; only submission attempts and their outcomes
// reach the store. Every operation that touches a session's State goes
// through the entry lock, so the copy-on-write document is never observed
// mid-mutation.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*session

	store      *db.Store
	snapshot   *catalog.Snapshot
	dispatcher *Dispatcher
	sealer     *secrets.Sealer
	metrics    *Metrics
	logger     *log.Logger
	now        func() time.Time
	newID      func() string
}

// NewSessionManager builds a session manager with defaults.
func NewSessionManager(store *db.Store, snapshot *catalog.Snapshot, logger *log.Logger) *SessionManager {
	if logger == nil {
		logger = log.Default()
	}
	return &SessionManager{
		sessions: make(map[string]*session),
		store:    store,
		snapshot: snapshot,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// WithDispatcher wires the submission dispatcher.
func (m *SessionManager) WithDispatcher(dispatcher *Dispatcher) *SessionManager {
	if m == nil {
		return m
	}
	m.dispatcher = dispatcher
	return m
}

// WithSealer wires the credential sealer used at submit time.
func (m *SessionManager) WithSealer(sealer *secrets.Sealer) *SessionManager {
	if m == nil {
		return m
	}
	m.sealer = sealer
	return m
}

// WithMetrics wires optional Prometheus metrics.
func (m *SessionManager) WithMetrics(metrics *Metrics) *SessionManager {
	if m == nil {
		return m
	}
	m.metrics = metrics
	return m
}

// Open creates a fresh session seeded from the catalog snapshot.
func (m *SessionManager) Open(ctx context.Context) (SessionView, error) {
	if m == nil || m.snapshot == nil {
		return SessionView{}, errors.New("session manager not configured")
	}
	id := m.newID()
	entry := &session{
		id:       id,
		state:    wizard.Initialize(m.snapshot),
		tokens:   wizard.NewTokenSource(id),
		openedAt: m.now().UTC(),
	}

	m.mu.Lock()
	m.sessions[id] = entry
	count := m.openCountLocked()
	m.mu.Unlock()

	m.metrics.SetOpenSessions(count)
	m.recordEvent(ctx, EventSessionOpened, id, "", "")
	m.logger.Printf("vmdeskd: session %s opened", id)
	return SessionView{ID: id, State: entry.state, OpenedAt: entry.openedAt}, nil
}

// Get returns a copy of one session.
func (m *SessionManager) Get(id string) (SessionView, error) {
	entry, err := m.lookup(id)
	if err != nil {
		return SessionView{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return SessionView{}, ErrSessionClosed
	}
	return SessionView{ID: entry.id, State: entry.state.Clone(), OpenedAt: entry.openedAt}, nil
}

// List returns copies of all open sessions, oldest first.
func (m *SessionManager) List() []SessionView {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	entries := make([]*session, 0, len(m.sessions))
	for _, entry := range m.sessions {
		entries = append(entries, entry)
	}
	m.mu.Unlock()

	views := make([]SessionView, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if !entry.closed {
			views = append(views, SessionView{ID: entry.id, State: entry.state.Clone(), OpenedAt: entry.openedAt})
		}
		entry.mu.Unlock()
	}
	sort.Slice(views, func(i, j int) bool {
		if views[i].OpenedAt.Equal(views[j].OpenedAt) {
			return views[i].ID < views[j].ID
		}
		return views[i].OpenedAt.Before(views[j].OpenedAt)
	})
	return views
}

// Count reports the number of open sessions.
func (m *SessionManager) Count() int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.openCountLocked()
}

// openCountLocked counts live entries, skipping reset tombstones. Callers
// hold m.mu.
func (m *SessionManager) openCountLocked() int {
	count := 0
	for _, entry := range m.sessions {
		entry.mu.Lock()
		if !entry.closed {
			count++
		}
		entry.mu.Unlock()
	}
	return count
}

// UpdateBasic merges a partial update into the basic step.
func (m *SessionManager) UpdateBasic(id string, patch wizard.BasicPatch) (wizard.State, error) {
	state, err := m.mutate(id, "basic", func(st wizard.State) wizard.State {
		return st.UpdateBasic(patch)
	})
	if err != nil {
		return wizard.State{}, err
	}
	return state, nil
}

// ApplyNICChange edits the network step's draft list.
func (m *SessionManager) ApplyNICChange(id string, change wizard.NICChange) (wizard.State, error) {
	return m.mutate(id, "nic", func(st wizard.State) wizard.State {
		return st.ApplyNICChange(change)
	})
}

// ApplyDiskChange edits the storage step's draft list.
func (m *SessionManager) ApplyDiskChange(id string, change wizard.DiskChange) (wizard.State, error) {
	return m.mutate(id, "disk", func(st wizard.State) wizard.State {
		return st.ApplyDiskChange(change)
	})
}

// CommitBasic runs the basic-step exit hook, deriving dependent steps whose
// freshness counter is still zero.
func (m *SessionManager) CommitBasic(id string) (wizard.State, error) {
	entry, err := m.lookup(id)
	if err != nil {
		return wizard.State{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return wizard.State{}, ErrSessionClosed
	}
	if entry.state.Submitted() {
		return wizard.State{}, ErrAlreadySubmitted
	}
	before := entry.state
	entry.state = entry.state.CommitBasic(m.snapshot)
	if before.Network.Updated == 0 && entry.state.Network.Updated > 0 {
		m.metrics.IncDerivation("network")
	}
	if before.Storage.Updated == 0 && entry.state.Storage.Updated > 0 {
		m.metrics.IncDerivation("storage")
	}
	return entry.state.Clone(), nil
}

// Submit mints a correlation token, stamps it onto the document, records the
// pending submission row, and only then hands the request to the dispatcher.
// The ordering is load-bearing: a result can never arrive for a token that
// is not already stamped and stored.
func (m *SessionManager) Submit(ctx context.Context, id string) (string, error) {
	if m == nil || m.store == nil || m.dispatcher == nil {
		return "", errors.New("session manager not configured")
	}
	entry, err := m.lookup(id)
	if err != nil {
		return "", err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return "", ErrSessionClosed
	}
	if entry.state.Submitted() {
		return "", ErrAlreadySubmitted
	}
	nav := entry.state.Nav
	if !nav.Basic.Valid || !nav.Network.Valid || !nav.Storage.Valid {
		return "", fmt.Errorf("%w: check step validity", ErrNotSubmittable)
	}

	token := entry.tokens.Next()
	stamped := entry.state.WithCorrelation(token)
	req, err := buildCreateRequest(token, stamped, m.sealer)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode submission payload: %w", err)
	}
	sub := db.Submission{
		Token:      token,
		SessionID:  entry.id,
		VMName:     stamped.Basic.Name,
		ClusterID:  stamped.Basic.ClusterID,
		TemplateID: stamped.Basic.TemplateID,
		Payload:    string(payload),
		CreatedAt:  m.now().UTC(),
	}
	if err := m.store.CreateSubmission(ctx, sub); err != nil {
		return "", fmt.Errorf("record submission: %w", err)
	}
	entry.state = stamped

	m.recordEvent(ctx, EventSubmissionDispatched, entry.id, token, stamped.Basic.Name)
	m.logger.Printf("vmdeskd: session %s submitted as %s (vm %q)", entry.id, token, stamped.Basic.Name)
	m.dispatcher.Dispatch(entry.id, req)
	return token, nil
}

// Progress projects the read-side view of the session's submission attempt.
func (m *SessionManager) Progress(ctx context.Context, id string) (ProgressView, error) {
	if m == nil || m.store == nil {
		return ProgressView{}, errors.New("session manager not configured")
	}
	entry, err := m.lookup(id)
	if err != nil {
		return ProgressView{}, err
	}
	entry.mu.Lock()
	if entry.closed {
		entry.mu.Unlock()
		return ProgressView{}, ErrSessionClosed
	}
	token := entry.state.CorrelationID
	entry.mu.Unlock()

	if token == "" {
		return ProgressView{Status: wizard.SubmissionNone}, nil
	}
	results, err := m.store.Results(ctx)
	if err != nil {
		return ProgressView{}, fmt.Errorf("load results: %w", err)
	}
	rows, err := m.store.FailuresFor(ctx, token)
	if err != nil {
		return ProgressView{}, fmt.Errorf("load failures: %w", err)
	}
	failures := make([]wizard.Failure, 0, len(rows))
	for _, row := range rows {
		failures = append(failures, wizard.Failure{Token: row.Token, Message: row.Message})
	}
	view := ProgressView{
		Token:    token,
		Progress: wizard.ResolveProgress(token, results, failures),
	}
	if view.Progress.InProgress {
		view.Status = wizard.SubmissionPending
	} else if view.Progress.Result == wizard.ResultSuccess {
		view.Status = wizard.SubmissionSuccess
	} else {
		view.Status = wizard.SubmissionError
	}
	return view, nil
}

// ProgressView pairs the resolve projection with its token and lifecycle
// position.
type ProgressView struct {
	Token    string
	Status   wizard.SubmissionStatus
	Progress wizard.Progress
}

// Reset replaces the session with a freshly initialized document under a new
// id. The old id stays behind as a closed tombstone so stale clients get
// ErrSessionClosed rather than a confusing not-found, and must re-open from
// the returned view.
func (m *SessionManager) Reset(ctx context.Context, id string) (SessionView, error) {
	if m == nil || m.snapshot == nil {
		return SessionView{}, errors.New("session manager not configured")
	}
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return SessionView{}, ErrNotFound
	}
	entry.mu.Lock()
	if entry.closed {
		entry.mu.Unlock()
		m.mu.Unlock()
		return SessionView{}, ErrSessionClosed
	}
	entry.closed = true
	entry.mu.Unlock()

	newID := m.newID()
	fresh := &session{
		id:       newID,
		state:    wizard.Initialize(m.snapshot),
		tokens:   wizard.NewTokenSource(newID),
		openedAt: m.now().UTC(),
	}
	m.sessions[newID] = fresh
	m.mu.Unlock()

	m.recordEvent(ctx, EventSessionReset, newID, "", "rotated from "+id)
	m.logger.Printf("vmdeskd: session %s reset, rotated to %s", id, newID)
	return SessionView{ID: newID, State: fresh.state, OpenedAt: fresh.openedAt}, nil
}

// Discard closes and forgets the session.
func (m *SessionManager) Discard(ctx context.Context, id string) error {
	if m == nil {
		return errors.New("session manager not configured")
	}
	m.mu.Lock()
	entry, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	entry.mu.Lock()
	entry.closed = true
	entry.mu.Unlock()
	delete(m.sessions, id)
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetOpenSessions(count)
	m.recordEvent(ctx, EventSessionDiscarded, id, "", "")
	m.logger.Printf("vmdeskd: session %s discarded", id)
	return nil
}

func (m *SessionManager) lookup(id string) (*session, error) {
	if m == nil {
		return nil, errors.New("session manager not configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (m *SessionManager) mutate(id, kind string, apply func(wizard.State) wizard.State) (wizard.State, error) {
	entry, err := m.lookup(id)
	if err != nil {
		return wizard.State{}, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.closed {
		return wizard.State{}, ErrSessionClosed
	}
	if entry.state.Submitted() {
		return wizard.State{}, ErrAlreadySubmitted
	}
	entry.state = apply(entry.state)
	m.metrics.IncMutation(kind)
	return entry.state.Clone(), nil
}

// recordEvent writes an audit event, logging instead of failing when the
// store rejects it; audit writes never block wizard operations.
func (m *SessionManager) recordEvent(ctx context.Context, kind, sessionID, token, message string) {
	if m.store == nil {
		return
	}
	if err := m.store.RecordEvent(ctx, kind, sessionID, token, message); err != nil {
		m.logger.Printf("vmdeskd: record event %s: %v", kind, err)
	}
}

// buildCreateRequest flattens the wizard document into a backend create
// request. Init credentials are sealed before they enter the payload;
// plaintext passwords are refused outright when sealing is not configured.
func buildCreateRequest(token string, st wizard.State, sealer *secrets.Sealer) (virt.CreateRequest, error) {
	sealedInit, err := sealInit(st.Basic, sealer)
	if err != nil {
		return virt.CreateRequest{}, err
	}
	req := virt.CreateRequest{
		Token:             token,
		Name:              st.Basic.Name,
		ClusterID:         st.Basic.ClusterID,
		TemplateID:        st.Basic.TemplateID,
		OperatingSystemID: st.Basic.OperatingSystemID,
		MemoryMiB:         st.Basic.MemoryMiB,
		CPUs:              st.Basic.CPUs,
		Topology:          st.Basic.Topology,
		OptimizedFor:      st.Basic.OptimizedFor,
		StartOnCreation:   st.Basic.StartOnCreation,
		TPMEnabled:        st.Basic.TPMEnabled,
		SealedInit:        sealedInit,
	}
	for _, nic := range st.Network.NICs {
		req.NICs = append(req.NICs, virt.NICSpec{
			Name:          nic.Name,
			VNICProfileID: nic.VNICProfileID,
			DeviceType:    nic.DeviceType,
		})
	}
	for _, disk := range st.Storage.Disks {
		req.Disks = append(req.Disks, virt.DiskSpec{
			Name:            disk.Name,
			StorageDomainID: disk.StorageDomainID,
			Type:            string(disk.Type),
			SizeBytes:       disk.SizeBytes,
			Bootable:        disk.Bootable,
		})
	}
	return req, nil
}

// initPayload is the cloud-init fragment sealed into the create request.
type initPayload struct {
	Hostname string `json:"hostname,omitempty"`
	SSHKeys  string `json:"ssh_keys,omitempty"`
	Password string `json:"password,omitempty"`
}

func sealInit(b wizard.Basic, sealer *secrets.Sealer) (string, error) {
	if !b.InitEnabled {
		return "", nil
	}
	payload := initPayload{
		Hostname: b.InitHostname,
		SSHKeys:  b.InitSSHKeys,
		Password: b.InitPassword,
	}
	if payload == (initPayload{}) {
		return "", nil
	}
	if payload.Password != "" && !sealer.Enabled() {
		return "", fmt.Errorf("%w: refusing to persist a plaintext password, configure secrets_passphrase_file", ErrNotSubmittable)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode init payload: %w", err)
	}
	return sealer.Seal(string(data))
}
