package daemon

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vmdesk/vmdesk/internal/buildinfo"
	"github.com/vmdesk/vmdesk/internal/catalog"
	"github.com/vmdesk/vmdesk/internal/db"
	"github.com/vmdesk/vmdesk/internal/wizard"
)

const (
	maxJSONBytes       = 1 << 20 // Maximum size for JSON request bodies (1MB)
	defaultEventsLimit = 200     // Default events returned per query
	maxEventsLimit     = 1000    // Maximum events allowed per query
	statusTailLimit    = 10      // Recent events and failures shown in status
)

// ControlAPI handles local control plane HTTP requests over the Unix socket.
//
// It provides the v1 API for driving wizard sessions. The API is served over
// a Unix socket and is used by the vmdesk CLI for local control.
//
// Endpoints:
//   - POST   /v1/sessions                     - Open a new wizard session
//   - GET    /v1/sessions                     - List open sessions
//   - GET    /v1/sessions/{id}                - Get session document
//   - DELETE /v1/sessions/{id}                - Discard a session
//   - POST   /v1/sessions/{id}/basic          - Update the basic step
//   - POST   /v1/sessions/{id}/basic/commit   - Leave the basic step (derive)
//   - POST   /v1/sessions/{id}/nics           - Edit the NIC list
//   - POST   /v1/sessions/{id}/disks          - Edit the disk list
//   - POST   /v1/sessions/{id}/submit         - Submit for creation
//   - GET    /v1/sessions/{id}/progress       - Submission progress view
//   - POST   /v1/sessions/{id}/reset          - Reinitialize, rotating the id
//   - GET    /v1/sessions/{id}/events         - Session audit events
//   - GET    /v1/sessions/{id}/submissions    - Recorded create attempts
//   - GET    /v1/submissions/{token}          - One attempt with failures
//   - GET    /v1/catalog                      - Inventory snapshot
//   - GET    /v1/status                       - Daemon status summary
type ControlAPI struct {
	store          *db.Store
	manager        *SessionManager
	snapshot       *catalog.Snapshot
	backendKind    string
	metrics        *Metrics
	metricsEnabled bool
	logger         *log.Logger
	now            func() time.Time
}

// NewControlAPI creates a new control API instance. The logger defaults to
// log.Default when nil.
func NewControlAPI(store *db.Store, manager *SessionManager, snapshot *catalog.Snapshot, logger *log.Logger) *ControlAPI {
	if logger == nil {
		logger = log.Default()
	}
	return &ControlAPI{
		store:    store,
		manager:  manager,
		snapshot: snapshot,
		logger:   logger,
		now:      time.Now,
	}
}

// WithBackendKind records the backend kind reported by /v1/status.
func (api *ControlAPI) WithBackendKind(kind string) *ControlAPI {
	if api == nil {
		return api
	}
	api.backendKind = kind
	return api
}

// WithMetrics attaches a metrics collector for API request counts.
func (api *ControlAPI) WithMetrics(metrics *Metrics) *ControlAPI {
	if api == nil {
		return api
	}
	api.metrics = metrics
	return api
}

// WithMetricsEnabled records whether the metrics listener is serving.
func (api *ControlAPI) WithMetricsEnabled(enabled bool) *ControlAPI {
	if api == nil {
		return api
	}
	api.metricsEnabled = enabled
	return api
}

func (api *ControlAPI) Register(mux *http.ServeMux) {
	if mux == nil {
		return
	}
	mux.HandleFunc("/v1/sessions", api.instrument("/v1/sessions", api.handleSessions))
	mux.HandleFunc("/v1/sessions/", api.instrument("/v1/sessions/{id}", api.handleSessionByID))
	mux.HandleFunc("/v1/submissions/", api.instrument("/v1/submissions/{token}", api.handleSubmissionByToken))
	mux.HandleFunc("/v1/catalog", api.instrument("/v1/catalog", api.handleCatalog))
	mux.HandleFunc("/v1/status", api.instrument("/v1/status", api.handleStatus))
}

// statusRecorder captures the status code a handler wrote so the request
// counter can label it.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (api *ControlAPI) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		api.metrics.IncAPIRequest(route, strconv.Itoa(rec.status))
	}
}

func (api *ControlAPI) handleSessions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		api.handleSessionOpen(w, r)
	case http.MethodGet:
		api.handleSessionList(w, r)
	default:
		writeMethodNotAllowed(w, []string{http.MethodGet, http.MethodPost})
	}
}

func (api *ControlAPI) handleSessionByID(w http.ResponseWriter, r *http.Request) {
	tail := strings.TrimPrefix(r.URL.Path, "/v1/sessions/")
	parts := strings.Split(strings.Trim(tail, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	id := parts[0]

	switch len(parts) {
	case 1:
		switch r.Method {
		case http.MethodGet:
			api.handleSessionGet(w, r, id)
		case http.MethodDelete:
			api.handleSessionDiscard(w, r, id)
		default:
			writeMethodNotAllowed(w, []string{http.MethodGet, http.MethodDelete})
		}
		return
	case 2:
		switch parts[1] {
		case "basic":
			if r.Method != http.MethodPost {
				writeMethodNotAllowed(w, []string{http.MethodPost})
				return
			}
			api.handleSessionBasic(w, r, id)
			return
		case "nics":
			if r.Method != http.MethodPost {
				writeMethodNotAllowed(w, []string{http.MethodPost})
				return
			}
			api.handleSessionNICs(w, r, id)
			return
		case "disks":
			if r.Method != http.MethodPost {
				writeMethodNotAllowed(w, []string{http.MethodPost})
				return
			}
			api.handleSessionDisks(w, r, id)
			return
		case "submit":
			if r.Method != http.MethodPost {
				writeMethodNotAllowed(w, []string{http.MethodPost})
				return
			}
			api.handleSessionSubmit(w, r, id)
			return
		case "progress":
			if r.Method != http.MethodGet {
				writeMethodNotAllowed(w, []string{http.MethodGet})
				return
			}
			api.handleSessionProgress(w, r, id)
			return
		case "reset":
			if r.Method != http.MethodPost {
				writeMethodNotAllowed(w, []string{http.MethodPost})
				return
			}
			api.handleSessionReset(w, r, id)
			return
		case "events":
			if r.Method != http.MethodGet {
				writeMethodNotAllowed(w, []string{http.MethodGet})
				return
			}
			api.handleSessionEvents(w, r, id)
			return
		case "submissions":
			if r.Method != http.MethodGet {
				writeMethodNotAllowed(w, []string{http.MethodGet})
				return
			}
			api.handleSessionSubmissions(w, r, id)
			return
		}
	case 3:
		if parts[1] == "basic" && parts[2] == "commit" {
			if r.Method != http.MethodPost {
				writeMethodNotAllowed(w, []string{http.MethodPost})
				return
			}
			api.handleSessionCommitBasic(w, r, id)
			return
		}
	}

	writeError(w, http.StatusNotFound, "session not found")
}

func (api *ControlAPI) handleSessionOpen(w http.ResponseWriter, r *http.Request) {
	view, err := api.manager.Open(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open session", err)
		return
	}
	writeJSON(w, http.StatusCreated, sessionToV1(view))
}

func (api *ControlAPI) handleSessionList(w http.ResponseWriter, _ *http.Request) {
	views := api.manager.List()
	sessions := make([]V1Session, 0, len(views))
	for _, view := range views {
		sessions = append(sessions, sessionToV1(view))
	}
	writeJSON(w, http.StatusOK, V1SessionsResponse{Sessions: sessions})
}

func (api *ControlAPI) handleSessionGet(w http.ResponseWriter, _ *http.Request, id string) {
	view, err := api.manager.Get(id)
	if err != nil {
		api.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToV1(view))
}

func (api *ControlAPI) handleSessionDiscard(w http.ResponseWriter, r *http.Request, id string) {
	if err := api.manager.Discard(r.Context(), id); err != nil {
		api.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "state": "discarded"})
}

func (api *ControlAPI) handleSessionBasic(w http.ResponseWriter, r *http.Request, id string) {
	var req V1BasicPatch
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ProvisionSource != nil {
		src := wizard.ProvisionSource(*req.ProvisionSource)
		if src != wizard.ProvisionTemplate && src != wizard.ProvisionISO {
			writeError(w, http.StatusBadRequest, "unknown provision_source "+strconv.Quote(*req.ProvisionSource))
			return
		}
	}
	state, err := api.manager.UpdateBasic(id, basicPatchFromV1(req))
	if err != nil {
		api.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateToV1(id, state))
}

func (api *ControlAPI) handleSessionCommitBasic(w http.ResponseWriter, _ *http.Request, id string) {
	state, err := api.manager.CommitBasic(id)
	if err != nil {
		api.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateToV1(id, state))
}

func (api *ControlAPI) handleSessionNICs(w http.ResponseWriter, r *http.Request, id string) {
	var req V1NICChange
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Create == nil && req.Update == nil && req.Remove == "" {
		writeError(w, http.StatusBadRequest, "nic change is empty")
		return
	}
	change := wizard.NICChange{Remove: strings.TrimSpace(req.Remove)}
	if req.Create != nil {
		name := strings.TrimSpace(req.Create.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "nic name is required")
			return
		}
		change.Create = &wizard.NIC{
			ID:            uuid.NewString(),
			Name:          name,
			VNICProfileID: req.Create.VNICProfileID,
			DeviceType:    req.Create.DeviceType,
		}
	}
	if req.Update != nil {
		if strings.TrimSpace(req.Update.ID) == "" {
			writeError(w, http.StatusBadRequest, "nic update id is required")
			return
		}
		change.Update = &wizard.NICPatch{
			ID:            req.Update.ID,
			Name:          req.Update.Name,
			VNICProfileID: req.Update.VNICProfileID,
			DeviceType:    req.Update.DeviceType,
		}
	}
	state, err := api.manager.ApplyNICChange(id, change)
	if err != nil {
		api.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateToV1(id, state))
}

func (api *ControlAPI) handleSessionDisks(w http.ResponseWriter, r *http.Request, id string) {
	var req V1DiskChange
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Create == nil && req.Update == nil && req.Remove == "" {
		writeError(w, http.StatusBadRequest, "disk change is empty")
		return
	}
	change := wizard.DiskChange{Remove: strings.TrimSpace(req.Remove)}
	if req.Create != nil {
		name := strings.TrimSpace(req.Create.Name)
		if name == "" {
			writeError(w, http.StatusBadRequest, "disk name is required")
			return
		}
		if req.Create.SizeBytes <= 0 {
			writeError(w, http.StatusBadRequest, "disk size_bytes must be positive")
			return
		}
		diskType, err := diskTypeFromV1(req.Create.Type)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		change.Create = &wizard.Disk{
			ID:                  uuid.NewString(),
			Name:                name,
			StorageDomainID:     req.Create.StorageDomainID,
			CanUseStorageDomain: true,
			Bootable:            req.Create.Bootable,
			Type:                diskType,
			SizeBytes:           req.Create.SizeBytes,
		}
	}
	if req.Update != nil {
		if strings.TrimSpace(req.Update.ID) == "" {
			writeError(w, http.StatusBadRequest, "disk update id is required")
			return
		}
		patch := &wizard.DiskPatch{
			ID:              req.Update.ID,
			Name:            req.Update.Name,
			StorageDomainID: req.Update.StorageDomainID,
			Bootable:        req.Update.Bootable,
			SizeBytes:       req.Update.SizeBytes,
		}
		if req.Update.Type != nil {
			diskType, err := diskTypeFromV1(*req.Update.Type)
			if err != nil {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			patch.Type = &diskType
		}
		change.Update = patch
	}
	state, err := api.manager.ApplyDiskChange(id, change)
	if err != nil {
		api.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stateToV1(id, state))
}

func (api *ControlAPI) handleSessionSubmit(w http.ResponseWriter, r *http.Request, id string) {
	token, err := api.manager.Submit(r.Context(), id)
	if err != nil {
		api.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, V1SubmitResponse{Token: token})
}

func (api *ControlAPI) handleSessionProgress(w http.ResponseWriter, r *http.Request, id string) {
	view, err := api.manager.Progress(r.Context(), id)
	if err != nil {
		api.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, V1Progress{
		Token:      view.Token,
		Status:     string(view.Status),
		InProgress: view.Progress.InProgress,
		Result:     string(view.Progress.Result),
		Messages:   view.Progress.Messages,
	})
}

func (api *ControlAPI) handleSessionReset(w http.ResponseWriter, r *http.Request, id string) {
	view, err := api.manager.Reset(r.Context(), id)
	if err != nil {
		api.writeSessionError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionToV1(view))
}

func (api *ControlAPI) handleSessionEvents(w http.ResponseWriter, r *http.Request, id string) {
	afterID, err := parseQueryInt64(r.URL.Query().Get("after_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid after_id")
		return
	}
	limit, err := parseQueryInt(r.URL.Query().Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return
	}
	if limit <= 0 {
		limit = defaultEventsLimit
	}
	if limit > maxEventsLimit {
		limit = maxEventsLimit
	}
	events, err := api.store.ListEventsBySession(r.Context(), id, afterID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events", err)
		return
	}
	out := make([]V1Event, 0, len(events))
	for _, event := range events {
		out = append(out, eventToV1(event))
	}
	writeJSON(w, http.StatusOK, V1EventsResponse{Events: out})
}

func (api *ControlAPI) handleSessionSubmissions(w http.ResponseWriter, r *http.Request, id string) {
	subs, err := api.store.ListSubmissionsBySession(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list submissions", err)
		return
	}
	out := make([]V1Submission, 0, len(subs))
	for _, sub := range subs {
		out = append(out, submissionToV1(sub))
	}
	writeJSON(w, http.StatusOK, V1SubmissionsResponse{Submissions: out})
}

func (api *ControlAPI) handleSubmissionByToken(w http.ResponseWriter, r *http.Request) {
	token := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/submissions/"), "/")
	if token == "" || strings.Contains(token, "/") {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	sub, err := api.store.GetSubmission(r.Context(), token)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "submission not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load submission", err)
		return
	}
	failures, err := api.store.FailuresFor(r.Context(), token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load failures", err)
		return
	}
	events, err := api.store.ListEventsByToken(r.Context(), token, defaultEventsLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load events", err)
		return
	}
	detail := V1SubmissionDetail{Submission: submissionToV1(sub)}
	for _, failure := range failures {
		detail.Failures = append(detail.Failures, failureToV1(failure))
	}
	for _, event := range events {
		detail.Events = append(detail.Events, eventToV1(event))
	}
	writeJSON(w, http.StatusOK, detail)
}

func (api *ControlAPI) handleCatalog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	if api.snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, "catalog unavailable")
		return
	}
	writeJSON(w, http.StatusOK, catalogToV1(api.snapshot))
}

func (api *ControlAPI) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w, []string{http.MethodGet})
		return
	}
	counts, err := api.store.CountSubmissionsByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to count submissions", err)
		return
	}
	submissions := make(map[string]int, len(counts))
	for status, count := range counts {
		submissions[string(status)] = count
	}
	events, err := api.store.ListEventsTail(r.Context(), statusTailLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list events", err)
		return
	}
	failures, err := api.store.AllFailures(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list failures", err)
		return
	}
	if len(failures) > statusTailLimit {
		failures = failures[len(failures)-statusTailLimit:]
	}

	resp := V1StatusResponse{
		Version:        buildinfo.Version,
		Backend:        api.backendKind,
		OpenSessions:   api.manager.Count(),
		Submissions:    submissions,
		Metrics:        V1StatusMetrics{Enabled: api.metricsEnabled},
		RecentEvents:   make([]V1Event, 0, len(events)),
		RecentFailures: make([]V1Failure, 0, len(failures)),
	}
	for _, event := range events {
		resp.RecentEvents = append(resp.RecentEvents, eventToV1(event))
	}
	for _, failure := range failures {
		resp.RecentFailures = append(resp.RecentFailures, failureToV1(failure))
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeSessionError maps session manager sentinels onto HTTP statuses.
func (api *ControlAPI) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, ErrSessionClosed):
		writeError(w, http.StatusGone, "session closed")
	case errors.Is(err, ErrAlreadySubmitted):
		writeError(w, http.StatusConflict, "session already submitted")
	case errors.Is(err, ErrNotSubmittable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		api.logger.Printf("vmdeskd: session operation failed: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error", err)
	}
}

func sessionToV1(view SessionView) V1Session {
	out := stateToV1(view.ID, view.State)
	out.OpenedAt = view.OpenedAt.UTC().Format(time.RFC3339)
	return out
}

func stateToV1(id string, state wizard.State) V1Session {
	out := V1Session{
		ID:             id,
		Basic:          basicToV1(state.Basic),
		NICs:           make([]V1NIC, 0, len(state.Network.NICs)),
		Disks:          make([]V1Disk, 0, len(state.Storage.Disks)),
		NetworkUpdated: state.Network.Updated,
		StorageUpdated: state.Storage.Updated,
		Nav: V1Navigation{
			Basic:   V1StepGate(state.Nav.Basic),
			Network: V1StepGate(state.Nav.Network),
			Storage: V1StepGate(state.Nav.Storage),
		},
		Dirty:         state.Dirty,
		CorrelationID: state.CorrelationID,
	}
	for _, nic := range state.Network.NICs {
		out.NICs = append(out.NICs, V1NIC{
			ID:            nic.ID,
			Name:          nic.Name,
			VNICProfileID: nic.VNICProfileID,
			DeviceType:    nic.DeviceType,
			FromTemplate:  nic.FromTemplate,
		})
	}
	for _, disk := range state.Storage.Disks {
		out.Disks = append(out.Disks, diskToV1(disk))
	}
	return out
}

func basicToV1(b wizard.Basic) V1Basic {
	return V1Basic{
		Name:              b.Name,
		OperatingSystemID: b.OperatingSystemID,
		MemoryMiB:         b.MemoryMiB,
		CPUs:              b.CPUs,
		Topology:          V1Topology(b.Topology),
		OptimizedFor:      b.OptimizedFor,
		StartOnCreation:   b.StartOnCreation,
		TPMEnabled:        b.TPMEnabled,
		InitEnabled:       b.InitEnabled,
		InitHostname:      b.InitHostname,
		InitSSHKeys:       b.InitSSHKeys,
		InitPasswordSet:   b.InitPassword != "",
		ProvisionSource:   string(b.ProvisionSource),
		ClusterID:         b.ClusterID,
		TemplateID:        b.TemplateID,
		DataCenterID:      b.DataCenterID,
	}
}

func diskToV1(disk wizard.Disk) V1Disk {
	out := V1Disk{
		ID:                  disk.ID,
		Name:                disk.Name,
		DiskID:              disk.DiskID,
		StorageDomainID:     disk.StorageDomainID,
		CanUseStorageDomain: disk.CanUseStorageDomain,
		Bootable:            disk.Bootable,
		Type:                string(disk.Type),
		SizeBytes:           disk.SizeBytes,
		FromTemplate:        disk.FromTemplate,
	}
	if disk.UnderConstruction != nil {
		shadow := diskToV1(*disk.UnderConstruction)
		out.UnderConstruction = &shadow
	}
	return out
}

func basicPatchFromV1(req V1BasicPatch) wizard.BasicPatch {
	patch := wizard.BasicPatch{
		Name:              req.Name,
		OperatingSystemID: req.OperatingSystemID,
		MemoryMiB:         req.MemoryMiB,
		CPUs:              req.CPUs,
		OptimizedFor:      req.OptimizedFor,
		StartOnCreation:   req.StartOnCreation,
		TPMEnabled:        req.TPMEnabled,
		InitEnabled:       req.InitEnabled,
		InitHostname:      req.InitHostname,
		InitSSHKeys:       req.InitSSHKeys,
		InitPassword:      req.InitPassword,
		ClusterID:         req.ClusterID,
		TemplateID:        req.TemplateID,
		DataCenterID:      req.DataCenterID,
	}
	if req.Topology != nil {
		topology := catalog.Topology(*req.Topology)
		patch.Topology = &topology
	}
	if req.ProvisionSource != nil {
		source := wizard.ProvisionSource(*req.ProvisionSource)
		patch.ProvisionSource = &source
	}
	return patch
}

func diskTypeFromV1(value string) (wizard.DiskType, error) {
	switch wizard.DiskType(value) {
	case "":
		return wizard.DiskTypeThin, nil
	case wizard.DiskTypeThin:
		return wizard.DiskTypeThin, nil
	case wizard.DiskTypePre:
		return wizard.DiskTypePre, nil
	default:
		return "", errors.New("unknown disk type " + strconv.Quote(value))
	}
}

func catalogToV1(snap *catalog.Snapshot) V1CatalogResponse {
	clusters := snap.Clusters()
	templates := snap.Templates()
	oses := snap.OperatingSystems()
	domains := snap.StorageDomains()

	resp := V1CatalogResponse{
		Clusters:         make([]V1Cluster, 0, len(clusters)),
		Templates:        make([]V1Template, 0, len(templates)),
		OperatingSystems: make([]V1OperatingSystem, 0, len(oses)),
		StorageDomains:   make([]V1StorageDomain, 0, len(domains)),
	}
	for _, c := range clusters {
		resp.Clusters = append(resp.Clusters, V1Cluster{
			ID:           c.ID,
			Name:         c.Name,
			DataCenterID: c.DataCenterID,
			Architecture: c.Architecture,
		})
	}
	for _, t := range templates {
		resp.Templates = append(resp.Templates, V1Template{
			ID:                t.ID,
			Name:              t.Name,
			ClusterID:         t.ClusterID,
			Class:             t.Class,
			OperatingSystemID: t.OperatingSystemID,
			MemoryBytes:       t.MemoryBytes,
			CPUs:              t.CPUs,
			Topology:          V1Topology(t.Topology),
			NICs:              len(t.NICs),
			Disks:             len(t.Disks),
		})
	}
	for _, os := range oses {
		resp.OperatingSystems = append(resp.OperatingSystems, V1OperatingSystem{
			ID:          os.ID,
			Name:        os.Name,
			Description: os.Description,
		})
	}
	for _, d := range domains {
		resp.StorageDomains = append(resp.StorageDomains, V1StorageDomain{
			ID:            d.ID,
			Name:          d.Name,
			Type:          d.Type,
			DataCenterIDs: d.DataCenterIDs,
		})
	}
	return resp
}

func eventToV1(event db.Event) V1Event {
	return V1Event{
		ID:        event.ID,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
		Kind:      event.Kind,
		SessionID: event.SessionID,
		Token:     event.Token,
		Message:   event.Message,
	}
}

func failureToV1(failure db.Failure) V1Failure {
	return V1Failure{
		Token:     failure.Token,
		Message:   failure.Message,
		CreatedAt: failure.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func submissionToV1(sub db.Submission) V1Submission {
	out := V1Submission{
		Token:      sub.Token,
		SessionID:  sub.SessionID,
		VMName:     sub.VMName,
		Status:     string(sub.Status),
		VMID:       sub.VMID,
		ClusterID:  sub.ClusterID,
		TemplateID: sub.TemplateID,
		CreatedAt:  sub.CreatedAt.UTC().Format(time.RFC3339),
	}
	if !sub.CompletedAt.IsZero() {
		out.CompletedAt = sub.CompletedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("unexpected trailing data")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string, err ...error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	payload := map[string]string{"error": msg}
	if len(err) > 0 {
		payload["details"] = err[0].Error()
	}
	data, _ := json.Marshal(payload)
	w.Write(data)
}

func writeMethodNotAllowed(w http.ResponseWriter, methods []string) {
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func parseQueryInt(value string) (int, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

func parseQueryInt64(value string) (int64, error) {
	if strings.TrimSpace(value) == "" {
		return 0, nil
	}
	return strconv.ParseInt(value, 10, 64)
}
