package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/time/rate"
)

// KindHTTP is the registry key for HTTPService.
const KindHTTP = "http"

// DefaultExtractURL is the endpoint a new HTTP service posts to.
const DefaultExtractURL = "http://localhost:5000/extract"

// maxResponseBytes bounds how much of a service response is read.
const maxResponseBytes = 10 << 20

// HTTPService extracts element values by posting the cell text, as a url form
// field, to a remote element-extraction endpoint together with the xpath and
// attribute properties. The endpoint answers with
//
//	{"elements": [{"value": "..."}, ...]}
//
// either as a JSON object or as a JSON string containing that object.
type HTTPService struct {
	Properties
	client  *http.Client
	limiter *rate.Limiter
}

// NewHTTPService creates an HTTP service pointing at DefaultExtractURL.
func NewHTTPService(deps Deps) *HTTPService {
	s := &HTTPService{
		client:  deps.httpClient(),
		limiter: deps.limiter(),
	}
	s.Declare([]string{"url", "xpath", "attribute", ColumnProperty}, map[string]string{
		"url":   DefaultExtractURL,
		"xpath": "//title",
	})
	return s
}

func (s *HTTPService) Kind() string { return KindHTTP }

func (s *HTTPService) Documentation() string {
	return "Posts xpath, attribute and url form fields to an element extraction endpoint"
}

// IsConfigured reports whether the endpoint URL is absolute.
func (s *HTTPService) IsConfigured() bool {
	u, err := url.Parse(s.Property("url"))
	return err == nil && u.Scheme != "" && u.Host != ""
}

// Extract posts text to the endpoint and returns the element values.
func (s *HTTPService) Extract(ctx context.Context, text string) ([]string, error) {
	if !s.IsConfigured() {
		return nil, fmt.Errorf("%w: invalid url %q", ErrNotConfigured, s.Property("url"))
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	form := url.Values{}
	form.Set("xpath", s.Property("xpath"))
	form.Set("attribute", s.Property("attribute"))
	form.Set("url", text)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Property("url"), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("extraction request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("extraction request returned status %d instead of %d", resp.StatusCode, http.StatusOK)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return parseElements(body)
}

type elementsResponse struct {
	Elements *[]struct {
		Value string `json:"value"`
	} `json:"elements"`
}

// parseElements decodes an elements response. A response without an
// elements field is an empty result.
func parseElements(body []byte) ([]string, error) {
	body = bytes.TrimSpace(body)
	if len(body) > 0 && body[0] == '"' {
		var inner string
		if err := json.Unmarshal(body, &inner); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
		body = []byte(inner)
	}

	var resp elementsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if resp.Elements == nil {
		return []string{}, nil
	}

	values := make([]string, len(*resp.Elements))
	for i, el := range *resp.Elements {
		values[i] = el.Value
	}
	return values, nil
}
