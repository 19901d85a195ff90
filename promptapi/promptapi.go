// Package promptapi is a thin HTTP client for the managed prompt-template
// API that owns template bodies and runs them.
package promptapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Client provides functions for interacting with the template API.  The API
// is authoritative for template IDs and bodies; the gallery only mirrors
// metadata.
type Client struct {
	Client  *http.Client
	BaseURL string
	APIKey  string
}

// New creates a new Client rooted at baseURL.
func New(client *http.Client, baseURL, apiKey string) *Client {
	return &Client{
		Client:  client,
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
	}
}

// UpstreamError is returned for any non-success response from the template
// API.  The message is passed through from the API verbatim.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream prompt API error (status %d): %s", e.StatusCode, e.Message)
}

// Template is the upstream view of a stored template.
type Template struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Template    string `json:"template"`
}

// RunResult is the payload produced by running a template.  At most one of
// Text and Image is populated; both may be empty when the model produced
// nothing extractable.
type RunResult struct {
	Text  string    `json:"text"`
	Image *RunImage `json:"image"`
}

// RunImage is an inline image result.
type RunImage struct {
	Data        string `json:"data"`
	ContentType string `json:"contentType"`
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, target any) error {
	tracer := otel.Tracer("promptgallery/promptapi")
	var span trace.Span
	ctx, span = tracer.Start(ctx, "promptapi.do")
	defer span.End()

	span.SetAttributes(attribute.String("method", method), attribute.String("path", path))

	u := c.BaseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("while marshaling request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("while making request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.Client.Do(req)
	if err != nil {
		err := fmt.Errorf("while calling %q: %w", u, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("while reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		uerr := &UpstreamError{StatusCode: resp.StatusCode, Message: upstreamMessage(respBody)}
		span.RecordError(uerr)
		span.SetStatus(codes.Error, uerr.Error())
		return uerr
	}

	if target != nil {
		if err := json.Unmarshal(respBody, target); err != nil {
			return fmt.Errorf("while unmarshaling response body: %w", err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// upstreamMessage pulls the human-readable message out of an API error
// response, falling back to the raw body.
func upstreamMessage(body []byte) string {
	wrapper := struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}{}
	if err := json.Unmarshal(body, &wrapper); err == nil && wrapper.Error.Message != "" {
		return wrapper.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// Create stores a new template upstream and returns the API-assigned ID.
func (c *Client) Create(ctx context.Context, displayName, template string) (string, error) {
	req := struct {
		DisplayName string `json:"displayName"`
		Template    string `json:"template"`
	}{DisplayName: displayName, Template: template}

	resp := struct {
		ID string `json:"id"`
	}{}
	if err := c.do(ctx, http.MethodPost, "/v1/templates", nil, &req, &resp); err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", &UpstreamError{StatusCode: http.StatusOK, Message: "create response carried no template ID"}
	}

	return resp.ID, nil
}

// Patch applies a partial update to the named template.  Only the fields
// listed in mask are touched; values supplies the new field values keyed by
// the same names.
func (c *Client) Patch(ctx context.Context, id string, mask []string, values map[string]string) error {
	if len(mask) == 0 {
		return nil
	}

	query := url.Values{}
	query.Set("updateMask", strings.Join(mask, ","))

	return c.do(ctx, http.MethodPatch, "/v1/templates/"+url.PathEscape(id), query, values, nil)
}

// Delete removes the named template upstream.
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/v1/templates/"+url.PathEscape(id), nil, nil, nil)
}

// Get fetches the current upstream state of the named template.
func (c *Client) Get(ctx context.Context, id string) (*Template, error) {
	tmpl := &Template{}
	if err := c.do(ctx, http.MethodGet, "/v1/templates/"+url.PathEscape(id), nil, nil, tmpl); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// Run executes the named template with the given input variables.
func (c *Client) Run(ctx context.Context, id string, variables map[string]any) (*RunResult, error) {
	req := struct {
		Variables map[string]any `json:"variables"`
	}{Variables: variables}

	result := &RunResult{}
	if err := c.do(ctx, http.MethodPost, "/v1/templates/"+url.PathEscape(id)+":run", nil, &req, result); err != nil {
		return nil, err
	}
	return result, nil
}
