package daemon

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/vmdesk/vmdesk/internal/virt"
)

func doJSON(t *testing.T, handler http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == nil {
		reader = bytes.NewReader(nil)
	} else {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(method, path, reader)
	handler.ServeHTTP(rec, r)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func openSession(t *testing.T, mux *http.ServeMux) V1Session {
	t.Helper()
	rec := doJSON(t, mux, http.MethodPost, "/v1/sessions", nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("open session: expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeBody[V1Session](t, rec)
}

func TestSessionLifecycleOverAPI(t *testing.T) {
	store := newTestStore(t)
	api, manager := newTestAPI(t, store, virt.NewFakeBackend())
	mux := http.NewServeMux()
	api.Register(mux)

	created := openSession(t, mux)
	if created.Basic.ClusterID != "c1" || created.Nav.Basic.Valid {
		t.Fatalf("unexpected fresh session: %+v", created)
	}

	rec := doJSON(t, mux, http.MethodPost, "/v1/sessions/"+created.ID+"/basic", V1BasicPatch{
		Name:       strPtr("web-01"),
		TemplateID: strPtr("t1"),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update basic: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	updated := decodeBody[V1Session](t, rec)
	if updated.Basic.Name != "web-01" || !updated.Nav.Basic.Valid || !updated.Dirty {
		t.Fatalf("basic update not applied: %+v", updated)
	}

	rec = doJSON(t, mux, http.MethodPost, "/v1/sessions/"+created.ID+"/basic/commit", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("commit basic: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	committed := decodeBody[V1Session](t, rec)
	if len(committed.NICs) != 2 || committed.NetworkUpdated != 1 {
		t.Fatalf("expected derived NICs, got %+v", committed)
	}
	if len(committed.Disks) != 1 || committed.Disks[0].UnderConstruction == nil {
		t.Fatalf("expected under-construction disk, got %+v", committed.Disks)
	}
	if committed.Nav.Storage.Valid {
		t.Fatalf("storage must be invalid while under construction")
	}

	rec = doJSON(t, mux, http.MethodPost, "/v1/sessions/"+created.ID+"/disks", V1DiskChange{
		Update: &V1DiskUpdate{ID: committed.Disks[0].ID, StorageDomainID: strPtr("sd-ok")},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update disk: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	fixed := decodeBody[V1Session](t, rec)
	if fixed.Disks[0].UnderConstruction != nil || !fixed.Nav.Storage.Valid {
		t.Fatalf("disk shadow not resolved: %+v", fixed.Disks)
	}

	rec = doJSON(t, mux, http.MethodPost, "/v1/sessions/"+created.ID+"/nics", V1NICChange{
		Create: &V1NICCreate{Name: "nic3", VNICProfileID: "p1"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("create nic: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	withNIC := decodeBody[V1Session](t, rec)
	if len(withNIC.NICs) != 3 || withNIC.NICs[2].ID == "" {
		t.Fatalf("created NIC missing or without id: %+v", withNIC.NICs)
	}

	rec = doJSON(t, mux, http.MethodPost, "/v1/sessions/"+created.ID+"/submit", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	submitted := decodeBody[V1SubmitResponse](t, rec)
	if submitted.Token != created.ID+"-1" {
		t.Fatalf("token = %q, want %q", submitted.Token, created.ID+"-1")
	}
	manager.dispatcher.Wait()

	rec = doJSON(t, mux, http.MethodGet, "/v1/sessions/"+created.ID+"/progress", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("progress: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	progress := decodeBody[V1Progress](t, rec)
	if progress.Status != "SUCCESS" || progress.InProgress || progress.Result != "success" {
		t.Fatalf("progress = %+v, want success", progress)
	}

	rec = doJSON(t, mux, http.MethodPost, "/v1/sessions/"+created.ID+"/reset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rotated := decodeBody[V1Session](t, rec)
	if rotated.ID == created.ID || rotated.Dirty || rotated.CorrelationID != "" {
		t.Fatalf("reset did not rotate cleanly: %+v", rotated)
	}

	rec = doJSON(t, mux, http.MethodGet, "/v1/sessions/"+created.ID, nil)
	if rec.Code != http.StatusGone {
		t.Fatalf("old id: expected 410, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodDelete, "/v1/sessions/"+rotated.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("discard: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = doJSON(t, mux, http.MethodGet, "/v1/sessions/"+rotated.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("discarded id: expected 404, got %d", rec.Code)
	}
}

func TestSessionListEndpoint(t *testing.T) {
	store := newTestStore(t)
	api, _ := newTestAPI(t, store, virt.NewFakeBackend())
	mux := http.NewServeMux()
	api.Register(mux)

	first := openSession(t, mux)
	second := openSession(t, mux)

	rec := doJSON(t, mux, http.MethodGet, "/v1/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", rec.Code)
	}
	list := decodeBody[V1SessionsResponse](t, rec)
	if len(list.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(list.Sessions))
	}
	seen := map[string]bool{}
	for _, s := range list.Sessions {
		seen[s.ID] = true
	}
	if !seen[first.ID] || !seen[second.ID] {
		t.Fatalf("list is missing sessions: %+v", seen)
	}
}

func TestSessionBasicRejectsUnknownFields(t *testing.T) {
	store := newTestStore(t)
	api, _ := newTestAPI(t, store, virt.NewFakeBackend())
	mux := http.NewServeMux()
	api.Register(mux)

	created := openSession(t, mux)
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/v1/sessions/"+created.ID+"/basic",
		strings.NewReader(`{"bogus": true}`))
	mux.ServeHTTP(rec, r)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestSessionBasicRejectsUnknownProvisionSource(t *testing.T) {
	store := newTestStore(t)
	api, _ := newTestAPI(t, store, virt.NewFakeBackend())
	mux := http.NewServeMux()
	api.Register(mux)

	created := openSession(t, mux)
	rec := doJSON(t, mux, http.MethodPost, "/v1/sessions/"+created.ID+"/basic", V1BasicPatch{
		ProvisionSource: strPtr("floppy"),
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[V1ErrorResponse](t, rec)
	if !strings.Contains(resp.Error, "provision_source") {
		t.Fatalf("error = %q, want provision_source mention", resp.Error)
	}
}

func TestListChangeValidation(t *testing.T) {
	store := newTestStore(t)
	api, _ := newTestAPI(t, store, virt.NewFakeBackend())
	mux := http.NewServeMux()
	api.Register(mux)
	created := openSession(t, mux)

	cases := []struct {
		name string
		path string
		body any
	}{
		{"empty nic change", "/nics", V1NICChange{}},
		{"nic create without name", "/nics", V1NICChange{Create: &V1NICCreate{VNICProfileID: "p1"}}},
		{"nic update without id", "/nics", V1NICChange{Update: &V1NICUpdate{Name: strPtr("x")}}},
		{"empty disk change", "/disks", V1DiskChange{}},
		{"disk create without size", "/disks", V1DiskChange{Create: &V1DiskCreate{Name: "data"}}},
		{"disk create with unknown type", "/disks", V1DiskChange{Create: &V1DiskCreate{Name: "data", SizeBytes: 1 << 30, Type: "fat"}}},
		{"disk update without id", "/disks", V1DiskChange{Update: &V1DiskUpdate{Name: strPtr("x")}}},
	}
	for _, tc := range cases {
		rec := doJSON(t, mux, http.MethodPost, "/v1/sessions/"+created.ID+tc.path, tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d: %s", tc.name, rec.Code, rec.Body.String())
		}
	}
}

func TestSubmitConflictsMapToHTTPStatuses(t *testing.T) {
	store := newTestStore(t)
	api, manager := newTestAPI(t, store, virt.NewFakeBackend())
	mux := http.NewServeMux()
	api.Register(mux)

	created := openSession(t, mux)

	// Invalid steps: 409.
	rec := doJSON(t, mux, http.MethodPost, "/v1/sessions/"+created.ID+"/submit", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("unsubmittable: expected 409, got %d: %s", rec.Code, rec.Body.String())
	}

	updateName(t, manager, created.ID, "web-01")
	rec = doJSON(t, mux, http.MethodPost, "/v1/sessions/"+created.ID+"/submit", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	manager.dispatcher.Wait()

	// Mutations and repeat submits after the stamp: 409.
	rec = doJSON(t, mux, http.MethodPost, "/v1/sessions/"+created.ID+"/basic", V1BasicPatch{Name: strPtr("late")})
	if rec.Code != http.StatusConflict {
		t.Fatalf("mutation after submit: expected 409, got %d", rec.Code)
	}
	rec = doJSON(t, mux, http.MethodPost, "/v1/sessions/"+created.ID+"/submit", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second submit: expected 409, got %d", rec.Code)
	}

	// Unknown id: 404.
	rec = doJSON(t, mux, http.MethodPost, "/v1/sessions/nope/submit", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown id: expected 404, got %d", rec.Code)
	}
}

func TestSessionMethodNotAllowed(t *testing.T) {
	store := newTestStore(t)
	api, _ := newTestAPI(t, store, virt.NewFakeBackend())
	mux := http.NewServeMux()
	api.Register(mux)

	created := openSession(t, mux)
	rec := doJSON(t, mux, http.MethodPut, "/v1/sessions/"+created.ID, nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
	if allow := rec.Header().Get("Allow"); !strings.Contains(allow, http.MethodGet) {
		t.Fatalf("Allow header = %q, want GET listed", allow)
	}

	rec = doJSON(t, mux, http.MethodGet, "/v1/sessions/"+created.ID+"/submit", nil)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET submit: expected 405, got %d", rec.Code)
	}
}

func TestSessionUnknownSubrouteIs404(t *testing.T) {
	store := newTestStore(t)
	api, _ := newTestAPI(t, store, virt.NewFakeBackend())
	mux := http.NewServeMux()
	api.Register(mux)

	created := openSession(t, mux)
	rec := doJSON(t, mux, http.MethodPost, "/v1/sessions/"+created.ID+"/warp", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
