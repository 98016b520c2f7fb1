package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/fablepress/fable/internal/manifest"
)

const OpenAIStoryName = "openai"

// Age-based word caps for one page body.
const (
	youngWordCap    = 55
	standardWordCap = 75
	youngAgeCutoff  = 7
)

// storySchema is the structured-output contract for story generation. The
// same schema is sent to the model and used to validate what comes back.
const storySchema = `{
	"type": "object",
	"properties": {
		"pages": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"title": {"type": "string"},
					"body": {"type": "string"}
				},
				"required": ["title", "body"],
				"additionalProperties": false
			}
		}
	},
	"required": ["pages"],
	"additionalProperties": false
}`

var compiledStorySchema = jsonschema.MustCompileString("story.json", storySchema)

// OpenAIStoryConfig holds configuration for the story client.
type OpenAIStoryConfig struct {
	APIKey string
	// Models is the fallback list: each candidate is tried in order until
	// one succeeds or fails with a non-availability error.
	Models      []string
	Temperature float64
	Timeout     time.Duration
	BaseURL     string       // Optional (tests)
	HTTPClient  *http.Client // Optional (tests)
}

// OpenAIStoryClient implements StoryClient using the official OpenAI SDK.
type OpenAIStoryClient struct {
	models      []string
	temperature float64
	client      openai.Client
}

// NewOpenAIStoryClient creates a new story client.
func NewOpenAIStoryClient(cfg OpenAIStoryConfig) *OpenAIStoryClient {
	if len(cfg.Models) == 0 {
		cfg.Models = []string{"gpt-4o", "gpt-4o-mini"}
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.8
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 90 * time.Second
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithHTTPClient(httpClient),
		option.WithMaxRetries(0), // retry policy is ours, not the SDK's
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIStoryClient{
		models:      cfg.Models,
		temperature: cfg.Temperature,
		client:      openai.NewClient(opts...),
	}
}

// Name returns the client identifier.
func (c *OpenAIStoryClient) Name() string {
	return OpenAIStoryName
}

type storyOutput struct {
	Pages []struct {
		Title string `json:"title"`
		Body  string `json:"body"`
	} `json:"pages"`
}

// GenerateStory calls the language model with the configured model fallback
// list and returns normalized pages renumbered 1..N.
func (c *OpenAIStoryClient) GenerateStory(ctx context.Context, req StoryRequest) ([]manifest.StoryPage, error) {
	if req.PageCount < 1 {
		return nil, &GenerationError{Provider: OpenAIStoryName, Op: "story", Msg: "page count must be at least 1"}
	}

	var schemaAny any
	if err := json.Unmarshal([]byte(storySchema), &schemaAny); err != nil {
		return nil, fmt.Errorf("failed to decode story schema: %w", err)
	}

	params := openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(storySystemPrompt(req)),
			openai.UserMessage(storyUserPrompt(req)),
		},
		Temperature: openai.Float(c.temperature),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "storybook_pages",
					Schema: schemaAny,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	var lastErr error
	for _, model := range c.models {
		params.Model = model

		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			if isModelUnavailable(err) {
				// Model-access failures move on to the next candidate;
				// everything else aborts immediately.
				lastErr = err
				continue
			}
			if isOpenAIBusy(err) {
				return nil, fmt.Errorf("%w: %v", ErrBusy, err)
			}
			return nil, fmt.Errorf("story generation failed: %w", err)
		}

		if len(resp.Choices) == 0 {
			return nil, &GenerationError{Provider: OpenAIStoryName, Op: "story", Msg: "no choices in response"}
		}
		return c.parseStory(resp.Choices[0].Message.Content, req)
	}

	return nil, &GenerationError{Provider: OpenAIStoryName, Op: "story",
		Msg: fmt.Sprintf("no usable model among %v: %v", c.models, lastErr)}
}

// parseStory validates and normalizes the model output.
func (c *OpenAIStoryClient) parseStory(content string, req StoryRequest) ([]manifest.StoryPage, error) {
	var decoded any
	if err := json.Unmarshal([]byte(content), &decoded); err != nil {
		return nil, &GenerationError{Provider: OpenAIStoryName, Op: "story",
			Msg: fmt.Sprintf("output is not valid JSON: %v", err)}
	}
	if err := compiledStorySchema.Validate(decoded); err != nil {
		return nil, &GenerationError{Provider: OpenAIStoryName, Op: "story",
			Msg: fmt.Sprintf("output does not match story schema: %v", err)}
	}

	var out storyOutput
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, &GenerationError{Provider: OpenAIStoryName, Op: "story",
			Msg: fmt.Sprintf("failed to decode story output: %v", err)}
	}
	if len(out.Pages) == 0 {
		return nil, &GenerationError{Provider: OpenAIStoryName, Op: "story", Msg: "model returned no pages"}
	}

	wordCap := WordCapForAge(req.Child.Age)
	pages := make([]manifest.StoryPage, 0, len(out.Pages))
	for i, p := range out.Pages {
		body := ClampWords(NormalizeParagraph(p.Body), wordCap)
		if body == "" {
			return nil, &GenerationError{Provider: OpenAIStoryName, Op: "story",
				Msg: fmt.Sprintf("page %d has empty body", i+1)}
		}
		pages = append(pages, manifest.StoryPage{
			Page:  i + 1, // renumber 1..N regardless of what the model claimed
			Title: strings.TrimSpace(p.Title),
			Body:  body,
		})
	}
	return pages, nil
}

// WordCapForAge returns the per-page body word limit for a child's age.
func WordCapForAge(age int) int {
	if age <= youngAgeCutoff {
		return youngWordCap
	}
	return standardWordCap
}

// NormalizeParagraph collapses all whitespace runs into single spaces so a
// body is a single paragraph.
func NormalizeParagraph(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ClampWords truncates a normalized paragraph to at most max words.
func ClampWords(s string, max int) string {
	words := strings.Fields(s)
	if len(words) <= max {
		return s
	}
	return strings.Join(words[:max], " ")
}

// isModelUnavailable reports whether an error means this model candidate is
// not accessible (unknown model, no access), so the next candidate should
// be tried.
func isModelUnavailable(err error) bool {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		if apierr.StatusCode == http.StatusNotFound || apierr.StatusCode == http.StatusForbidden {
			return true
		}
		msg := strings.ToLower(apierr.Error())
		return strings.Contains(msg, "model") && strings.Contains(msg, "does not exist")
	}
	return false
}

// isOpenAIBusy reports whether an error is the retryable high-demand class.
func isOpenAIBusy(err error) bool {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return apierr.StatusCode == http.StatusTooManyRequests || apierr.StatusCode >= 500
	}
	return false
}

// Verify interface.
var _ StoryClient = (*OpenAIStoryClient)(nil)
