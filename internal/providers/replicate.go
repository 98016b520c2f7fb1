package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
)

const (
	ReplicateName    = "replicate"
	ReplicateBaseURL = "https://api.replicate.com/v1"
)

// ReplicateConfig holds configuration for the Replicate client.
type ReplicateConfig struct {
	APIToken string
	BaseURL  string
	// Model is the model reference predictions are created against,
	// e.g. "black-forest-labs/flux-kontext-pro".
	Model   string
	Timeout time.Duration
	// Submission retry policy: a fixed small number of attempts with
	// linearly increasing backoff.
	MaxSubmitAttempts int
	SubmitRetryDelay  time.Duration
	// PollInterval is the fixed interval used by Wait.
	PollInterval time.Duration
}

// ReplicateClient implements AsyncImageBackend against the Replicate
// predictions API: submission creates a remote prediction and returns its
// id; polling reads the prediction without blocking.
type ReplicateClient struct {
	apiToken          string
	baseURL           string
	model             string
	client            *http.Client
	maxSubmitAttempts int
	submitRetryDelay  time.Duration
	pollInterval      time.Duration
}

// NewReplicateClient creates a new Replicate client.
func NewReplicateClient(cfg ReplicateConfig) *ReplicateClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = ReplicateBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxSubmitAttempts == 0 {
		cfg.MaxSubmitAttempts = 3
	}
	if cfg.SubmitRetryDelay == 0 {
		cfg.SubmitRetryDelay = 2 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Second
	}

	return &ReplicateClient{
		apiToken: cfg.APIToken,
		baseURL:  strings.TrimSuffix(cfg.BaseURL, "/"),
		model:    cfg.Model,
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		maxSubmitAttempts: cfg.MaxSubmitAttempts,
		submitRetryDelay:  cfg.SubmitRetryDelay,
		pollInterval:      cfg.PollInterval,
	}
}

// Name returns the backend identifier.
func (c *ReplicateClient) Name() string {
	return ReplicateName
}

// Replicate API types.

type replicatePredictionRequest struct {
	Input replicateInput `json:"input"`
}

type replicateInput struct {
	Prompt     string `json:"prompt"`
	InputImage string `json:"input_image,omitempty"`
	Mask       string `json:"mask,omitempty"`
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Submit creates a prediction and returns its id without waiting for it to
// run. Transient failures are retried with linearly increasing backoff;
// rate-limit and capacity errors surface as ErrBusy so the executor can
// retry the step on a later poll.
func (c *ReplicateClient) Submit(ctx context.Context, req ImageRequest) (string, error) {
	body := replicatePredictionRequest{
		Input: replicateInput{
			Prompt:     req.Prompt,
			InputImage: req.PhotoURL,
			Mask:       req.MaskURL,
		},
	}
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal prediction request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predictions", c.baseURL, c.model)

	var lastErr error
	for attempt := 0; attempt < c.maxSubmitAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if attempt > 0 {
			// Linear backoff: delay, 2*delay, 3*delay...
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * c.submitRetryDelay):
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(bodyBytes))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiToken)

		resp, err := c.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("prediction submit failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
			var pred replicatePrediction
			if err := json.Unmarshal(respBody, &pred); err != nil {
				return "", &GenerationError{Provider: ReplicateName, Op: "submit",
					Msg: fmt.Sprintf("unparseable prediction response: %v", err)}
			}
			if pred.ID == "" {
				return "", &GenerationError{Provider: ReplicateName, Op: "submit", Msg: "prediction response missing id"}
			}
			return pred.ID, nil

		case isBusyStatus(resp.StatusCode):
			lastErr = fmt.Errorf("%w: status %d: %s", ErrBusy, resp.StatusCode, truncate(string(respBody), 200))
			continue

		default:
			return "", &GenerationError{Provider: ReplicateName, Op: "submit",
				Msg: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200))}
		}
	}

	return "", fmt.Errorf("submit failed after %d attempts: %w", c.maxSubmitAttempts, lastErr)
}

// Poll reads the prediction's current state in one round trip.
func (c *ReplicateClient) Poll(ctx context.Context, handle string) (*JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/predictions/"+handle, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: poll failed: %v", ErrBusy, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if isBusyStatus(resp.StatusCode) {
		return nil, fmt.Errorf("%w: poll status %d", ErrBusy, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &GenerationError{Provider: ReplicateName, Op: "poll",
			Msg: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200))}
	}

	var pred replicatePrediction
	if err := json.Unmarshal(respBody, &pred); err != nil {
		return nil, &GenerationError{Provider: ReplicateName, Op: "poll",
			Msg: fmt.Sprintf("unparseable prediction: %v", err)}
	}

	status := &JobStatus{Handle: pred.ID, Error: pred.Error}
	switch pred.Status {
	case "starting":
		status.State = JobQueued
	case "processing":
		status.State = JobRunning
	case "succeeded":
		status.State = JobSucceeded
		payload, err := NormalizeOutput(ReplicateName, pred.Output)
		if err != nil {
			return nil, err
		}
		status.Output = payload
	case "failed", "canceled":
		status.State = JobFailed
		if status.Error == "" {
			status.Error = "prediction " + pred.Status
		}
	default:
		return nil, &GenerationError{Provider: ReplicateName, Op: "poll",
			Msg: fmt.Sprintf("unknown prediction status %q", pred.Status)}
	}

	return status, nil
}

// Wait polls on the fixed interval until a terminal state or timeout.
func (c *ReplicateClient) Wait(ctx context.Context, handle string, timeout time.Duration) (*JobStatus, error) {
	attempts := uint(timeout / c.pollInterval)
	if attempts == 0 {
		attempts = 1
	}

	var status *JobStatus
	err := retry.Do(
		func() error {
			var pollErr error
			status, pollErr = c.Poll(ctx, handle)
			if pollErr != nil {
				return retry.Unrecoverable(pollErr)
			}
			if !status.State.Terminal() {
				return fmt.Errorf("prediction %s still %s", handle, status.State)
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(c.pollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		if status != nil && !status.State.Terminal() {
			return nil, fmt.Errorf("timed out waiting for prediction %s", handle)
		}
		return nil, err
	}
	return status, nil
}

// isBusyStatus reports whether an HTTP status maps to the retryable
// high-demand class.
func isBusyStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Verify interface.
var _ AsyncImageBackend = (*ReplicateClient)(nil)
