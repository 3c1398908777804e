package daemon

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vmdesk/vmdesk/internal/db"
	"github.com/vmdesk/vmdesk/internal/virt"
)

func pendingSubmission(t *testing.T, store *db.Store, token, name string) {
	t.Helper()
	err := store.CreateSubmission(context.Background(), db.Submission{
		Token:     token,
		SessionID: "s1",
		VMName:    name,
	})
	if err != nil {
		t.Fatalf("create submission: %v", err)
	}
}

func TestDispatcherRecordsSuccess(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	backend := virt.NewFakeBackend()
	dispatcher := NewDispatcher(store, backend, discardLogger())

	pendingSubmission(t, store, "s1-1", "web-01")
	dispatcher.Dispatch("s1", virt.CreateRequest{Token: "s1-1", Name: "web-01", ClusterID: "c1"})
	dispatcher.Wait()

	sub, err := store.GetSubmission(ctx, "s1-1")
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if sub.Status != db.SubmissionSuccess || sub.VMID == "" {
		t.Fatalf("submission = %+v, want success with vm id", sub)
	}
	if sub.CompletedAt.IsZero() {
		t.Fatalf("expected completion timestamp")
	}

	events, err := store.ListEventsByToken(ctx, "s1-1", 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventSubmissionCompleted {
		t.Fatalf("expected one %s event, got %+v", EventSubmissionCompleted, events)
	}
}

func TestDispatcherRecordsFailureWithMessage(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	backend := virt.NewFakeBackend()
	backend.FailName("web-01", "no space left on storage domain")
	dispatcher := NewDispatcher(store, backend, discardLogger())

	pendingSubmission(t, store, "s1-1", "web-01")
	dispatcher.Dispatch("s1", virt.CreateRequest{Token: "s1-1", Name: "web-01", ClusterID: "c1"})
	dispatcher.Wait()

	sub, err := store.GetSubmission(ctx, "s1-1")
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if sub.Status != db.SubmissionError || sub.VMID != "" {
		t.Fatalf("submission = %+v, want error without vm id", sub)
	}
	failures, err := store.FailuresFor(ctx, "s1-1")
	if err != nil {
		t.Fatalf("failures: %v", err)
	}
	if len(failures) != 1 || !strings.Contains(failures[0].Message, "no space left") {
		t.Fatalf("failures = %+v, want the backend message", failures)
	}
}

func TestDispatcherAppliesDeadline(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	backend := newGateBackend() // never released: CreateVM blocks until ctx expires
	dispatcher := NewDispatcher(store, backend, discardLogger()).WithTimeout(20 * time.Millisecond)

	pendingSubmission(t, store, "s1-1", "web-01")
	dispatcher.Dispatch("s1", virt.CreateRequest{Token: "s1-1", Name: "web-01", ClusterID: "c1"})
	dispatcher.Wait()

	sub, err := store.GetSubmission(ctx, "s1-1")
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if sub.Status != db.SubmissionError {
		t.Fatalf("submission status = %s, want error", sub.Status)
	}
	failures, err := store.FailuresFor(ctx, "s1-1")
	if err != nil {
		t.Fatalf("failures: %v", err)
	}
	if len(failures) != 1 || !errorsIsDeadline(failures[0].Message) {
		t.Fatalf("failures = %+v, want a deadline error", failures)
	}
}

func errorsIsDeadline(msg string) bool {
	return strings.Contains(msg, context.DeadlineExceeded.Error())
}

func TestDispatcherKeepsTerminalOutcome(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	backend := virt.NewFakeBackend()
	dispatcher := NewDispatcher(store, backend, discardLogger())

	pendingSubmission(t, store, "s1-1", "web-01")
	if err := store.CompleteSubmission(ctx, "s1-1", db.SubmissionError, ""); err != nil {
		t.Fatalf("complete submission: %v", err)
	}

	// A late success for an already-finalized token must not flip it.
	dispatcher.Dispatch("s1", virt.CreateRequest{Token: "s1-1", Name: "web-01", ClusterID: "c1"})
	dispatcher.Wait()

	sub, err := store.GetSubmission(ctx, "s1-1")
	if err != nil {
		t.Fatalf("get submission: %v", err)
	}
	if sub.Status != db.SubmissionError {
		t.Fatalf("terminal status was overwritten: %+v", sub)
	}
}
