package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const OpenAIImageName = "openai-image"

// OpenAIImageConfig holds configuration for the synchronous fallback image
// backend.
type OpenAIImageConfig struct {
	APIKey     string
	Model      string
	Size       string
	Timeout    time.Duration
	BaseURL    string       // Optional (tests)
	HTTPClient *http.Client // Optional (tests)
}

// OpenAIImageClient implements SyncImageBackend with the OpenAI image edit
// endpoint: one blocking call from reference photo + mask + prompt to a
// finished raster. Used only when the primary asynchronous backend is not
// configured.
type OpenAIImageClient struct {
	model  string
	size   string
	client openai.Client
	fetch  *http.Client
}

// NewOpenAIImageClient creates a new fallback image client.
func NewOpenAIImageClient(cfg OpenAIImageConfig) *OpenAIImageClient {
	if cfg.Model == "" {
		cfg.Model = "gpt-image-1"
	}
	if cfg.Size == "" {
		cfg.Size = "1024x1024"
	}
	if cfg.Timeout == 0 {
		// The edit call blocks for the whole generation.
		cfg.Timeout = 3 * time.Minute
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIImageClient{
		model:  cfg.Model,
		size:   cfg.Size,
		client: openai.NewClient(opts...),
		fetch:  httpClient,
	}
}

// Name returns the backend identifier.
func (c *OpenAIImageClient) Name() string {
	return OpenAIImageName
}

// Edit generates one illustration synchronously.
func (c *OpenAIImageClient) Edit(ctx context.Context, req ImageRequest) (image.Image, error) {
	photo, err := c.download(ctx, req.PhotoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reference photo: %w", err)
	}

	params := openai.ImageEditParams{
		Image: openai.ImageEditParamsImageUnion{
			OfFile: openai.File(bytes.NewReader(photo), "photo.png", "image/png"),
		},
		Prompt: req.Prompt,
		Model:  openai.ImageModel(c.model),
		Size:   openai.ImageEditParamsSize(c.size),
	}

	if req.MaskURL != "" {
		mask, err := c.download(ctx, req.MaskURL)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch paint mask: %w", err)
		}
		params.Mask = openai.File(bytes.NewReader(mask), "mask.png", "image/png")
	}

	resp, err := c.client.Images.Edit(ctx, params)
	if err != nil {
		if isOpenAIBusy(err) {
			return nil, fmt.Errorf("%w: %v", ErrBusy, err)
		}
		return nil, fmt.Errorf("image edit failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, &GenerationError{Provider: OpenAIImageName, Op: "edit", Msg: "response contains no images"}
	}

	item := resp.Data[0]
	var payload *ImagePayload
	switch {
	case item.B64JSON != "":
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return nil, &GenerationError{Provider: OpenAIImageName, Op: "edit",
				Msg: fmt.Sprintf("bad base64 payload: %v", err)}
		}
		payload = &ImagePayload{Kind: PayloadInline, Data: data}
	case item.URL != "":
		payload = &ImagePayload{Kind: PayloadURL, URL: item.URL}
	default:
		return nil, &GenerationError{Provider: OpenAIImageName, Op: "edit", Msg: "image has neither data nor url"}
	}

	return FetchImage(ctx, payload)
}

// download fetches an input by URL, or reads it from disk when the location
// is a local path (durable storage not configured).
func (c *OpenAIImageClient) download(ctx context.Context, url string) ([]byte, error) {
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return os.ReadFile(url)
	}
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.fetch.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d fetching %s", resp.StatusCode, url)
	}
	return io.ReadAll(resp.Body)
}

// Verify interface.
var _ SyncImageBackend = (*OpenAIImageClient)(nil)
