package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSubmission(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		store := openTestStore(t)
		sub := Submission{
			Token:      "sess-1-1",
			SessionID:  "sess-1",
			VMName:     "web-01",
			ClusterID:  "cluster-a",
			TemplateID: "tmpl-centos",
			Payload:    `{"name":"web-01"}`,
			CreatedAt:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		}
		err := store.CreateSubmission(ctx, sub)
		require.NoError(t, err)

		got, err := store.GetSubmission(ctx, "sess-1-1")
		require.NoError(t, err)
		assert.Equal(t, "sess-1-1", got.Token)
		assert.Equal(t, "sess-1", got.SessionID)
		assert.Equal(t, "web-01", got.VMName)
		assert.Equal(t, SubmissionPending, got.Status)
		assert.Equal(t, "cluster-a", got.ClusterID)
		assert.Equal(t, "tmpl-centos", got.TemplateID)
		assert.Equal(t, `{"name":"web-01"}`, got.Payload)
		assert.True(t, got.CompletedAt.IsZero())
	})

	t.Run("nil store", func(t *testing.T) {
		err := (*Store)(nil).CreateSubmission(ctx, Submission{Token: "x", SessionID: "s", VMName: "v"})
		assert.EqualError(t, err, "db store is nil")
	})

	t.Run("missing token", func(t *testing.T) {
		store := openTestStore(t)
		err := store.CreateSubmission(ctx, Submission{SessionID: "s", VMName: "v"})
		assert.EqualError(t, err, "submission token is required")
	})

	t.Run("missing session id", func(t *testing.T) {
		store := openTestStore(t)
		err := store.CreateSubmission(ctx, Submission{Token: "x", VMName: "v"})
		assert.EqualError(t, err, "submission session_id is required")
	})

	t.Run("missing vm name", func(t *testing.T) {
		store := openTestStore(t)
		err := store.CreateSubmission(ctx, Submission{Token: "x", SessionID: "s"})
		assert.EqualError(t, err, "submission vm_name is required")
	})

	t.Run("duplicate token", func(t *testing.T) {
		store := openTestStore(t)
		sub := Submission{Token: "sess-1-1", SessionID: "sess-1", VMName: "web-01"}
		require.NoError(t, store.CreateSubmission(ctx, sub))
		err := store.CreateSubmission(ctx, sub)
		assert.Error(t, err)
	})
}

func TestGetSubmission(t *testing.T) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		store := openTestStore(t)
		_, err := store.GetSubmission(ctx, "missing")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})
}

func TestListSubmissionsBySession(t *testing.T) {
	ctx := context.Background()

	t.Run("returns attempts oldest first", func(t *testing.T) {
		store := openTestStore(t)
		base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
		for i, token := range []string{"sess-1-1", "sess-1-2", "sess-1-3"} {
			require.NoError(t, store.CreateSubmission(ctx, Submission{
				Token:     token,
				SessionID: "sess-1",
				VMName:    "web-01",
				CreatedAt: base.Add(time.Duration(i) * time.Second),
			}))
		}
		require.NoError(t, store.CreateSubmission(ctx, Submission{
			Token:     "sess-2-1",
			SessionID: "sess-2",
			VMName:    "db-01",
			CreatedAt: base,
		}))

		subs, err := store.ListSubmissionsBySession(ctx, "sess-1")
		require.NoError(t, err)
		require.Len(t, subs, 3)
		assert.Equal(t, "sess-1-1", subs[0].Token)
		assert.Equal(t, "sess-1-2", subs[1].Token)
		assert.Equal(t, "sess-1-3", subs[2].Token)
	})

	t.Run("empty session id", func(t *testing.T) {
		store := openTestStore(t)
		_, err := store.ListSubmissionsBySession(ctx, "")
		assert.EqualError(t, err, "session id is required")
	})
}

func TestCompleteSubmission(t *testing.T) {
	ctx := context.Background()

	t.Run("success records vm id and completion time", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "sess-1-1", SessionID: "sess-1", VMName: "web-01"}))

		err := store.CompleteSubmission(ctx, "sess-1-1", SubmissionSuccess, "vm-0001")
		require.NoError(t, err)

		got, err := store.GetSubmission(ctx, "sess-1-1")
		require.NoError(t, err)
		assert.Equal(t, SubmissionSuccess, got.Status)
		assert.Equal(t, "vm-0001", got.VMID)
		assert.False(t, got.CompletedAt.IsZero())
	})

	t.Run("error leaves vm id empty", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "sess-1-1", SessionID: "sess-1", VMName: "web-01"}))

		err := store.CompleteSubmission(ctx, "sess-1-1", SubmissionError, "")
		require.NoError(t, err)

		got, err := store.GetSubmission(ctx, "sess-1-1")
		require.NoError(t, err)
		assert.Equal(t, SubmissionError, got.Status)
		assert.Empty(t, got.VMID)
	})

	t.Run("terminal rows are immutable", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "sess-1-1", SessionID: "sess-1", VMName: "web-01"}))
		require.NoError(t, store.CompleteSubmission(ctx, "sess-1-1", SubmissionError, ""))

		err := store.CompleteSubmission(ctx, "sess-1-1", SubmissionSuccess, "vm-0001")
		assert.ErrorIs(t, err, ErrSubmissionFinal)

		got, err := store.GetSubmission(ctx, "sess-1-1")
		require.NoError(t, err)
		assert.Equal(t, SubmissionError, got.Status)
	})

	t.Run("unknown token", func(t *testing.T) {
		store := openTestStore(t)
		err := store.CompleteSubmission(ctx, "missing", SubmissionSuccess, "vm-0001")
		assert.ErrorIs(t, err, sql.ErrNoRows)
	})

	t.Run("rejects non-terminal status", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "sess-1-1", SessionID: "sess-1", VMName: "web-01"}))
		err := store.CompleteSubmission(ctx, "sess-1-1", SubmissionPending, "")
		assert.EqualError(t, err, `status "pending" is not terminal`)
	})
}

func TestResults(t *testing.T) {
	ctx := context.Background()

	t.Run("pending attempts are absent", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "sess-1-1", SessionID: "sess-1", VMName: "a"}))
		require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "sess-1-2", SessionID: "sess-1", VMName: "a"}))
		require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "sess-2-1", SessionID: "sess-2", VMName: "b"}))
		require.NoError(t, store.CompleteSubmission(ctx, "sess-1-1", SubmissionError, ""))
		require.NoError(t, store.CompleteSubmission(ctx, "sess-2-1", SubmissionSuccess, "vm-0007"))

		results, err := store.Results(ctx)
		require.NoError(t, err)
		assert.Equal(t, map[string]bool{
			"sess-1-1": false,
			"sess-2-1": true,
		}, results)
		_, ok := results["sess-1-2"]
		assert.False(t, ok, "pending token must stay absent")
	})

	t.Run("empty store", func(t *testing.T) {
		store := openTestStore(t)
		results, err := store.Results(ctx)
		require.NoError(t, err)
		assert.Empty(t, results)
	})
}

func TestCountSubmissionsByStatus(t *testing.T) {
	ctx := context.Background()

	store := openTestStore(t)
	require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "s-1-1", SessionID: "s-1", VMName: "a"}))
	require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "s-1-2", SessionID: "s-1", VMName: "a"}))
	require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "s-2-1", SessionID: "s-2", VMName: "b"}))
	require.NoError(t, store.CompleteSubmission(ctx, "s-1-1", SubmissionError, ""))

	counts, err := store.CountSubmissionsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[SubmissionStatus]int{
		SubmissionPending: 2,
		SubmissionError:   1,
	}, counts)
}

func TestFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("insert and list for token", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "sess-1-1", SessionID: "sess-1", VMName: "a"}))
		require.NoError(t, store.InsertFailure(ctx, "sess-1-1", "name already in use"))
		require.NoError(t, store.InsertFailure(ctx, "sess-1-1", "cluster rejected request"))

		failures, err := store.FailuresFor(ctx, "sess-1-1")
		require.NoError(t, err)
		require.Len(t, failures, 2)
		assert.Equal(t, "name already in use", failures[0].Message)
		assert.Equal(t, "cluster rejected request", failures[1].Message)
		assert.Equal(t, "sess-1-1", failures[0].Token)
		assert.False(t, failures[0].CreatedAt.IsZero())
	})

	t.Run("foreign key requires submission row", func(t *testing.T) {
		store := openTestStore(t)
		err := store.InsertFailure(ctx, "orphan-token", "boom")
		assert.Error(t, err)
	})

	t.Run("missing message", func(t *testing.T) {
		store := openTestStore(t)
		err := store.InsertFailure(ctx, "sess-1-1", "  ")
		assert.EqualError(t, err, "failure message is required")
	})

	t.Run("all failures ordered by insertion", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "s-1-1", SessionID: "s-1", VMName: "a"}))
		require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "s-2-1", SessionID: "s-2", VMName: "b"}))
		require.NoError(t, store.InsertFailure(ctx, "s-1-1", "first"))
		require.NoError(t, store.InsertFailure(ctx, "s-2-1", "second"))

		failures, err := store.AllFailures(ctx)
		require.NoError(t, err)
		require.Len(t, failures, 2)
		assert.Equal(t, "first", failures[0].Message)
		assert.Equal(t, "second", failures[1].Message)
	})

	t.Run("deleting submission cascades to failures", func(t *testing.T) {
		store := openTestStore(t)
		require.NoError(t, store.CreateSubmission(ctx, Submission{Token: "s-1-1", SessionID: "s-1", VMName: "a"}))
		require.NoError(t, store.InsertFailure(ctx, "s-1-1", "boom"))

		_, err := store.DB.ExecContext(ctx, `DELETE FROM submissions WHERE token = ?`, "s-1-1")
		require.NoError(t, err)

		failures, err := store.FailuresFor(ctx, "s-1-1")
		require.NoError(t, err)
		assert.Empty(t, failures)
	})
}
