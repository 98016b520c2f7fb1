// Package providers wraps the external text and image generation services
// behind uniform interfaces with uniform success/failure semantics.
package providers

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"github.com/fablepress/fable/internal/manifest"
)

// ErrBusy classifies "high demand" / temporarily-unavailable provider
// failures. The step executor retries these on a later poll instead of
// failing the job.
var ErrBusy = errors.New("provider temporarily unavailable")

// IsBusy reports whether an error is the retryable unavailable class.
func IsBusy(err error) bool {
	return errors.Is(err, ErrBusy)
}

// GenerationError is a non-retryable provider failure: malformed output,
// rejected input, or an exhausted provider. It fails the current step.
type GenerationError struct {
	Provider string
	Op       string
	Msg      string
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Provider, e.Op, e.Msg)
}

// StoryRequest holds the story parameters for text generation.
type StoryRequest struct {
	Child     manifest.ChildProfile
	Theme     string
	PageCount int
}

// StoryClient turns story parameters into paginated narrative text.
type StoryClient interface {
	// GenerateStory returns pages renumbered 1..N, each body a single
	// normalized paragraph bounded by the age-based word cap.
	GenerateStory(ctx context.Context, req StoryRequest) ([]manifest.StoryPage, error)

	// Name returns the client identifier.
	Name() string
}

// ImageRequest describes one illustration to generate from the reference
// photo. URLs point at durable storage so any backend instance can fetch
// them.
type ImageRequest struct {
	Prompt   string
	PhotoURL string
	MaskURL  string
}

// JobState is the lifecycle state of an asynchronous image job.
type JobState string

const (
	JobQueued    JobState = "queued"
	JobRunning   JobState = "running"
	JobSucceeded JobState = "succeeded"
	JobFailed    JobState = "failed"
)

// Terminal reports whether the state will not change on further polling.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// JobStatus is a point-in-time view of an asynchronous image job. Output is
// set only on success, already normalized from whatever shape the backend
// returned.
type JobStatus struct {
	Handle string
	State  JobState
	Output *ImagePayload
	Error  string
}

// AsyncImageBackend is the primary image backend: submission returns a job
// handle immediately, polling never blocks past one round trip.
type AsyncImageBackend interface {
	// Submit creates a remote job and returns its handle. It retries
	// transient submission failures internally with linear backoff and
	// returns ErrBusy-classified errors for high-demand conditions.
	Submit(ctx context.Context, req ImageRequest) (string, error)

	// Poll checks the job's current state without blocking.
	Poll(ctx context.Context, handle string) (*JobStatus, error)

	// Wait polls on a fixed interval until the job reaches a terminal
	// state or the timeout elapses. Only for callers that can afford to
	// block for minutes.
	Wait(ctx context.Context, handle string, timeout time.Duration) (*JobStatus, error)

	// Name returns the backend identifier.
	Name() string
}

// SyncImageBackend is the fallback: one blocking call from reference image
// (+ optional mask) and prompt to a finished raster.
type SyncImageBackend interface {
	Edit(ctx context.Context, req ImageRequest) (image.Image, error)
	Name() string
}

// Gateway bundles the configured provider clients. Primary may be nil, in
// which case image steps use the synchronous fallback.
type Gateway struct {
	Story    StoryClient
	Primary  AsyncImageBackend
	Fallback SyncImageBackend
}

// HasPrimary reports whether the asynchronous backend is configured.
func (g *Gateway) HasPrimary() bool {
	return g != nil && g.Primary != nil
}
