// Package pipeline drives a book job through its generation steps. There is
// no background worker: each inbound advance request performs exactly one
// state-machine transition, and all intermediate state (including in-flight
// provider job handles) lives in the durable manifest so any process can pick
// up where the last one stopped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fablepress/fable/internal/assembler"
	"github.com/fablepress/fable/internal/home"
	"github.com/fablepress/fable/internal/manifest"
	"github.com/fablepress/fable/internal/providers"
	"github.com/fablepress/fable/internal/storage"
)

// Sentinel errors surfaced to the transport layer.
var (
	// ErrConflict is returned when a second advance call arrives for a job
	// whose step is still executing in this process. The caller should retry
	// after the in-flight call returns; queuing is deliberately not offered.
	ErrConflict = errors.New("job step already in progress")

	// ErrForbidden is returned when the requesting principal is neither the
	// job's owner nor privileged.
	ErrForbidden = errors.New("not the job owner")

	// ErrMissingInputs is returned when an image step runs before the photo
	// and mask have been uploaded. The job is not failed; the client can
	// upload and advance again.
	ErrMissingInputs = errors.New("photo and mask not yet uploaded")

	// ErrJobFailed is returned when advancing a job already in the terminal
	// failed state.
	ErrJobFailed = errors.New("job has failed; recreate it to retry")
)

// Config assembles an Executor.
type Config struct {
	Store    *manifest.Store
	Gateway  *providers.Gateway
	Home     *home.Dir
	Storage  *storage.Client
	Document *assembler.Assembler

	// WatchdogMaxAge declares a pending provider job abandoned when it is
	// older than this.
	WatchdogMaxAge time.Duration
	// MaxSubmitAttempts bounds how many times one step resubmits its
	// provider job before the job fails.
	MaxSubmitAttempts int
	Logger            *slog.Logger
}

// Executor is the step orchestrator.
type Executor struct {
	store    *manifest.Store
	home     *home.Dir
	storage  *storage.Client
	document *assembler.Assembler

	gwMu    sync.RWMutex
	gateway *providers.Gateway

	watchdogMaxAge    time.Duration
	maxSubmitAttempts int
	logger            *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates an Executor.
func New(cfg Config) (*Executor, error) {
	if cfg.Store == nil || cfg.Gateway == nil || cfg.Home == nil || cfg.Document == nil {
		return nil, fmt.Errorf("executor requires store, gateway, home and assembler")
	}
	if cfg.WatchdogMaxAge == 0 {
		cfg.WatchdogMaxAge = 8 * time.Minute
	}
	if cfg.MaxSubmitAttempts == 0 {
		cfg.MaxSubmitAttempts = 3
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:             cfg.Store,
		gateway:           cfg.Gateway,
		home:              cfg.Home,
		storage:           cfg.Storage,
		document:          cfg.Document,
		watchdogMaxAge:    cfg.WatchdogMaxAge,
		maxSubmitAttempts: cfg.MaxSubmitAttempts,
		logger:            logger,
	}, nil
}

// SetGateway swaps the provider gateway. The server calls this after a config
// reload so later steps pick up the new credentials and models; a step already
// executing keeps the gateway it started with.
func (e *Executor) SetGateway(gw *providers.Gateway) {
	e.gwMu.Lock()
	e.gateway = gw
	e.gwMu.Unlock()
}

// gw returns the current gateway. Each step reads it once at its start.
func (e *Executor) gw() *providers.Gateway {
	e.gwMu.RLock()
	defer e.gwMu.RUnlock()
	return e.gateway
}

// lockFor returns the per-job mutex, creating it on first use. Locks are
// never removed; the table stays small because ids are reused across the
// whole life of a job.
func (e *Executor) lockFor(bookID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.locks == nil {
		e.locks = make(map[string]*sync.Mutex)
	}
	l, ok := e.locks[bookID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[bookID] = l
	}
	return l
}

// Advance performs exactly one state-machine transition for the job and
// returns the resulting progress. Concurrent calls for the same job are
// rejected with ErrConflict rather than queued. This in-process lock covers
// one instance only; across instances the manifest's pending record is the
// exclusion signal (a second instance seeing a fresh pending polls instead
// of resubmitting).
func (e *Executor) Advance(ctx context.Context, ownerID, bookID string) (*Progress, error) {
	lock := e.lockFor(bookID)
	if !lock.TryLock() {
		return nil, ErrConflict
	}
	defer lock.Unlock()

	m, err := e.load(ctx, ownerID, bookID)
	if err != nil {
		return nil, err
	}

	switch m.Status {
	case manifest.StatusDone:
		return ProgressFrom(m), nil
	case manifest.StatusFailed:
		return ProgressFrom(m), ErrJobFailed
	}

	stepErr := e.executeStep(ctx, m)

	switch {
	case stepErr == nil:
		// Step completed; cursor already advanced.

	case providers.IsBusy(stepErr):
		// Transient: leave status untouched so the client's next poll
		// retries the same step.
		e.logger.Warn("step deferred, provider busy",
			"book_id", m.ID, "step", m.Step.String(), "error", stepErr)
		m.Touch()

	case errors.Is(stepErr, ErrMissingInputs):
		// Precondition failure: reject the request without mutating state.
		return nil, stepErr

	default:
		// Unrecoverable: the job halts until recreated.
		e.logger.Error("step failed",
			"book_id", m.ID, "step", m.Step.String(), "error", stepErr)
		m.Fail(stepErr.Error())
	}

	if err := e.store.Save(ctx, m); err != nil {
		// The request fails; the job's last durable state remains valid.
		return nil, err
	}
	return ProgressFrom(m), nil
}

// Status returns the read-only projection of a job. It never advances the
// state machine, so it is safe to poll at any rate.
func (e *Executor) Status(ctx context.Context, ownerID, bookID string) (*Progress, error) {
	m, err := e.load(ctx, ownerID, bookID)
	if err != nil {
		return nil, err
	}
	return ProgressFrom(m), nil
}

// load fetches the manifest and enforces ownership. An empty ownerID is the
// privileged (admin/internal) principal.
func (e *Executor) load(ctx context.Context, ownerID, bookID string) (*manifest.Manifest, error) {
	m, err := e.store.Load(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && m.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return m, nil
}

// executeStep dispatches the single unit of work named by the manifest's
// cursor.
func (e *Executor) executeStep(ctx context.Context, m *manifest.Manifest) error {
	switch m.Step.Phase {
	case manifest.PhaseCreated, manifest.PhaseStory:
		return e.stepStory(ctx, m)
	case manifest.PhaseCover:
		return e.stepImage(ctx, m, manifest.Step{Phase: manifest.PhaseCover})
	case manifest.PhasePage:
		return e.stepImage(ctx, m, m.Step)
	case manifest.PhasePDF:
		return e.stepDocument(ctx, m)
	case manifest.PhaseDone:
		return nil
	}
	return fmt.Errorf("manifest %s has unknown step %q", m.ID, m.Step.String())
}
