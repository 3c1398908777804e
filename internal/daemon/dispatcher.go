package daemon

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/vmdesk/vmdesk/internal/db"
	"github.com/vmdesk/vmdesk/internal/virt"
)

const (
	defaultDispatchTimeout = 2 * time.Minute
	persistTimeout         = 10 * time.Second
)

// Dispatcher carries submission requests to the backend and records the
// outcome. Each dispatch runs on its own goroutine so a slow backend call
// never holds a session lock.
type Dispatcher struct {
	store   *db.Store
	backend virt.Backend
	metrics *Metrics
	logger  *log.Logger
	timeout time.Duration

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher with the default backend deadline.
func NewDispatcher(store *db.Store, backend virt.Backend, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Dispatcher{
		store:   store,
		backend: backend,
		logger:  logger,
		timeout: defaultDispatchTimeout,
	}
}

// WithTimeout overrides the per-dispatch backend deadline.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if d == nil {
		return d
	}
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// WithMetrics wires optional Prometheus metrics.
func (d *Dispatcher) WithMetrics(metrics *Metrics) *Dispatcher {
	if d == nil {
		return d
	}
	d.metrics = metrics
	return d
}

// Dispatch hands one create request to the backend asynchronously. The
// caller must have recorded the pending submission row before calling; the
// dispatcher only ever finalizes rows, it never creates them.
func (d *Dispatcher) Dispatch(sessionID string, req virt.CreateRequest) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(sessionID, req)
	}()
}

// Wait blocks until every in-flight dispatch has recorded its outcome.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

func (d *Dispatcher) run(sessionID string, req virt.CreateRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	start := time.Now()
	vmID, err := d.backend.CreateVM(ctx, req)
	d.metrics.ObserveDispatch(time.Since(start))

	// The dispatch context may already be expired; outcome writes get a
	// fresh deadline so a slow backend cannot lose the result.
	persistCtx, persistCancel := context.WithTimeout(context.Background(), persistTimeout)
	defer persistCancel()

	if err != nil {
		d.recordError(persistCtx, sessionID, req.Token, err)
		return
	}
	d.recordSuccess(persistCtx, sessionID, req.Token, vmID)
}

// recordError writes the failure record before flipping the submission row,
// so a progress read racing the flip sees either "in progress" or the final
// state with its messages, never a bare error.
func (d *Dispatcher) recordError(ctx context.Context, sessionID, token string, cause error) {
	if err := d.store.InsertFailure(ctx, token, cause.Error()); err != nil {
		d.logger.Printf("vmdeskd: record failure for %s: %v", token, err)
	}
	if err := d.store.CompleteSubmission(ctx, token, db.SubmissionError, ""); err != nil && !errors.Is(err, db.ErrSubmissionFinal) {
		d.logger.Printf("vmdeskd: finalize %s: %v", token, err)
	}
	d.recordEvent(ctx, sessionID, token, "error: "+cause.Error())
	d.metrics.IncSubmission("error")
	d.logger.Printf("vmdeskd: submission %s failed: %v", token, cause)
}

func (d *Dispatcher) recordSuccess(ctx context.Context, sessionID, token, vmID string) {
	if err := d.store.CompleteSubmission(ctx, token, db.SubmissionSuccess, vmID); err != nil && !errors.Is(err, db.ErrSubmissionFinal) {
		d.logger.Printf("vmdeskd: finalize %s: %v", token, err)
	}
	d.recordEvent(ctx, sessionID, token, "created vm "+vmID)
	d.metrics.IncSubmission("success")
	d.logger.Printf("vmdeskd: submission %s created vm %s", token, vmID)
}

func (d *Dispatcher) recordEvent(ctx context.Context, sessionID, token, message string) {
	if d.store == nil {
		return
	}
	if err := d.store.RecordEvent(ctx, EventSubmissionCompleted, sessionID, token, message); err != nil {
		d.logger.Printf("vmdeskd: record event %s: %v", EventSubmissionCompleted, err)
	}
}
