package providers

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"
)

// PayloadKind tags the decoded form of a backend's image output.
type PayloadKind int

const (
	// PayloadURL means the image must be fetched from a URL.
	PayloadURL PayloadKind = iota
	// PayloadInline means the image bytes are already present.
	PayloadInline
)

// ImagePayload is one backend output decoded to a known shape. The raw
// provider output is sniffed exactly once, at the gateway boundary; the
// rest of the pipeline only ever sees this type.
type ImagePayload struct {
	Kind PayloadKind
	URL  string
	Data []byte
}

// NormalizeOutput decodes the recognized backend output shapes into a single
// ImagePayload:
//
//   - a URL string
//   - an inline base64 payload (with or without a data-URI prefix)
//   - an array of either, where the first element wins
//   - an object, or array of objects, carrying a "url" field
//
// Anything else is a hard GenerationError; unrecognized shapes are rejected
// explicitly rather than falling through.
func NormalizeOutput(provider string, raw json.RawMessage) (*ImagePayload, error) {
	if len(raw) == 0 {
		return nil, &GenerationError{Provider: provider, Op: "normalize output", Msg: "empty output"}
	}

	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, &GenerationError{Provider: provider, Op: "normalize output", Msg: fmt.Sprintf("undecodable output: %v", err)}
	}
	return normalizeValue(provider, value)
}

func normalizeValue(provider string, value any) (*ImagePayload, error) {
	switch v := value.(type) {
	case string:
		return normalizeString(provider, v)

	case []any:
		if len(v) == 0 {
			return nil, &GenerationError{Provider: provider, Op: "normalize output", Msg: "empty output array"}
		}
		return normalizeValue(provider, v[0])

	case map[string]any:
		url, ok := v["url"].(string)
		if !ok || url == "" {
			return nil, &GenerationError{Provider: provider, Op: "normalize output", Msg: "object output missing url field"}
		}
		return &ImagePayload{Kind: PayloadURL, URL: url}, nil

	default:
		return nil, &GenerationError{Provider: provider, Op: "normalize output",
			Msg: fmt.Sprintf("unrecognized output shape %T", value)}
	}
}

func normalizeString(provider, s string) (*ImagePayload, error) {
	s = strings.TrimSpace(s)
	switch {
	case s == "":
		return nil, &GenerationError{Provider: provider, Op: "normalize output", Msg: "empty output string"}

	case strings.HasPrefix(s, "http://"), strings.HasPrefix(s, "https://"):
		return &ImagePayload{Kind: PayloadURL, URL: s}, nil

	case strings.HasPrefix(s, "data:"):
		_, b64, found := strings.Cut(s, ",")
		if !found {
			return nil, &GenerationError{Provider: provider, Op: "normalize output", Msg: "malformed data URI"}
		}
		data, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, &GenerationError{Provider: provider, Op: "normalize output", Msg: fmt.Sprintf("bad data URI payload: %v", err)}
		}
		return &ImagePayload{Kind: PayloadInline, Data: data}, nil

	default:
		data, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, &GenerationError{Provider: provider, Op: "normalize output", Msg: "string output is neither URL nor base64"}
		}
		return &ImagePayload{Kind: PayloadInline, Data: data}, nil
	}
}

// fetchClient is used to download URL payloads.
var fetchClient = &http.Client{Timeout: 60 * time.Second}

// FetchImage resolves a payload into a decoded raster image.
func FetchImage(ctx context.Context, payload *ImagePayload) (image.Image, error) {
	data := payload.Data
	if payload.Kind == PayloadURL {
		req, err := http.NewRequestWithContext(ctx, "GET", payload.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create image fetch request: %w", err)
		}
		resp, err := fetchClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("image fetch failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("image fetch returned status %d", resp.StatusCode)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read image body: %w", err)
		}
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}
