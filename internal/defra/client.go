// Package defra provides the DefraDB HTTP/GraphQL client and container
// lifecycle management used by the remote manifest store.
package defra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"
)

// Sentinel errors for the defra package.
var (
	// ErrUnhealthy is returned when the DefraDB health check fails.
	ErrUnhealthy = errors.New("defra health check failed")

	// ErrUnauthorized is returned when the acting identity may not read or
	// write the requested document.
	ErrUnauthorized = errors.New("defra identity not authorized")
)

// idPattern matches identifiers that are safe to interpolate into queries.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID checks that a string is safe to use as a document identifier.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty ID")
	}
	if len(id) > 500 {
		return fmt.Errorf("ID too long: %d characters", len(id))
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid ID format: contains unsafe characters")
	}
	return nil
}

// Client is a DefraDB HTTP/GraphQL client.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a new DefraDB client.
func NewClient(url string) *Client {
	return &Client{
		url: strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GQLRequest represents a GraphQL request.
type GQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// GQLResponse represents a GraphQL response.
type GQLResponse struct {
	Data   map[string]any `json:"data,omitempty"`
	Errors []GQLError     `json:"errors,omitempty"`
}

// GQLError represents a GraphQL error.
type GQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// Error returns the first error message or empty string.
func (r *GQLResponse) Error() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

type identityKey struct{}

// WithIdentity attaches a requesting principal's identity token to the
// context. Reads issued with this context act as that principal. An empty
// token is stored too, overriding any identity already on the context, so a
// caller can drop back to the server's privileged identity.
func WithIdentity(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, identityKey{}, token)
}

// IdentityFrom returns the identity token attached to the context, if any.
func IdentityFrom(ctx context.Context) string {
	token, _ := ctx.Value(identityKey{}).(string)
	return token
}

// HealthCheck checks if DefraDB is healthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.url+"/health-check", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, resp.StatusCode)
	}
	return nil
}

// Execute sends a GraphQL request and returns the response.
// If the context carries an identity token, it is sent as the acting
// principal; otherwise the server's own identity applies.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any) (*GQLResponse, error) {
	reqBody := GQLRequest{
		Query:     query,
		Variables: variables,
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/api/v0/graphql", bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token := IdentityFrom(ctx); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: status %d", ErrUnauthorized, resp.StatusCode)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("defra server error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if len(respBody) == 0 {
		return nil, fmt.Errorf("defra returned empty response (status %d)", resp.StatusCode)
	}

	var gqlResp GQLResponse
	if err := json.Unmarshal(respBody, &gqlResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w (body: %s)", err, string(respBody))
	}

	return &gqlResp, nil
}

// AddSchema adds a GraphQL schema to DefraDB. Re-adding an existing schema
// is treated as success so startup stays idempotent.
func (c *Client) AddSchema(ctx context.Context, schema string) error {
	req, err := http.NewRequestWithContext(ctx, "POST", c.url+"/api/v0/schema", strings.NewReader(schema))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		if strings.Contains(string(body), "already exists") {
			return nil
		}
		return fmt.Errorf("schema error (status %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// Create creates a document in a collection and returns its document ID.
func (c *Client) Create(ctx context.Context, collection string, input map[string]any) (string, error) {
	mutation := fmt.Sprintf(`mutation CreateDoc($input: [%sMutationInputArg!]) {
		create_%s(input: $input) { _docID }
	}`, collection, collection)

	resp, err := c.Execute(ctx, mutation, map[string]any{"input": []any{input}})
	if err != nil {
		return "", err
	}
	if msg := resp.Error(); msg != "" {
		return "", fmt.Errorf("create %s failed: %s", collection, msg)
	}

	docs, ok := resp.Data["create_"+collection].([]any)
	if !ok || len(docs) == 0 {
		return "", fmt.Errorf("create %s returned no documents", collection)
	}
	doc, ok := docs[0].(map[string]any)
	if !ok {
		return "", fmt.Errorf("create %s returned malformed document", collection)
	}
	docID, _ := doc["_docID"].(string)
	return docID, nil
}

// UpdateByFilter updates documents in a collection matching a field filter.
func (c *Client) UpdateByFilter(ctx context.Context, collection, field, value string, input map[string]any) error {
	if err := ValidateID(value); err != nil {
		return err
	}

	mutation := fmt.Sprintf(`mutation UpdateDoc($input: %sMutationInputArg!) {
		update_%s(filter: {%s: {_eq: %q}}, input: $input) { _docID }
	}`, collection, collection, field, value)

	resp, err := c.Execute(ctx, mutation, map[string]any{"input": input})
	if err != nil {
		return err
	}
	if msg := resp.Error(); msg != "" {
		return fmt.Errorf("update %s failed: %s", collection, msg)
	}
	return nil
}

// QueryByField queries documents in a collection where field equals value,
// returning the requested fields for each match.
func (c *Client) QueryByField(ctx context.Context, collection, field, value string, fields []string) ([]map[string]any, error) {
	if err := ValidateID(value); err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`query { %s(filter: {%s: {_eq: %q}}) { %s } }`,
		collection, field, value, strings.Join(fields, " "))

	resp, err := c.Execute(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("query %s failed: %s", collection, msg)
	}

	raw, ok := resp.Data[collection].([]any)
	if !ok {
		return nil, nil
	}
	docs := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if doc, ok := r.(map[string]any); ok {
			docs = append(docs, doc)
		}
	}
	return docs, nil
}
