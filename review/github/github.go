//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

// Package github implements the review.Fetcher and review.Publisher
// collaborators against the GitHub REST API. Host failures are mapped to
// pipeline.StageError kinds so the orchestrator can tell a rate limit from
// a credential problem without knowing anything about HTTP.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"

	"trpc.group/trpc-go/trpc-reviewpipe-go/pipeline"
	"trpc.group/trpc-go/trpc-reviewpipe-go/review"
)

// Client talks to the GitHub REST API. It implements review.Fetcher and
// review.Publisher; one Client is safe for concurrent use.
type Client struct {
	baseURL         string
	token           string
	httpClient      *http.Client
	perPage         int
	contentWorkers  int
	maxContentBytes int
	userAgent       string
}

var (
	_ review.Fetcher   = (*Client)(nil)
	_ review.Publisher = (*Client)(nil)
)

// New creates a GitHub API client. Without WithToken the token comes from
// the GITHUB_TOKEN environment variable; without any token requests run
// unauthenticated, which works for public repositories under a much
// stricter rate limit.
func New(opts ...Option) *Client {
	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.Token == "" {
		o.Token = os.Getenv(defaultTokenEnvVar)
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: defaultTimeout}
	}
	if o.PerPage <= 0 {
		o.PerPage = defaultPerPage
	}
	return &Client{
		baseURL:         strings.TrimSuffix(o.BaseURL, "/"),
		token:           o.Token,
		httpClient:      o.HTTPClient,
		perPage:         o.PerPage,
		contentWorkers:  o.ContentWorkers,
		maxContentBytes: o.MaxContentBytes,
		userAgent:       o.UserAgent,
	}
}

// APIError is one non-2xx GitHub API response. It is always wrapped in a
// pipeline.StageError; unwrap with errors.As to inspect the status code.
type APIError struct {
	StatusCode int
	Endpoint   string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("github: %s returned status %d", e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("github: %s returned status %d: %s", e.Endpoint, e.StatusCode, e.Message)
}

// get performs a GET request and decodes the JSON response into out.
func (c *Client) get(ctx context.Context, endpoint string, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, out)
}

// do performs one API call. body is JSON-encoded when non-nil; out is
// JSON-decoded when non-nil. Every failure comes back as a
// *pipeline.StageError with the kind of the underlying problem.
func (c *Client) do(ctx context.Context, method, endpoint string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return pipeline.NewStageError("", pipeline.KindInternal,
				fmt.Errorf("github: encode request body: %w", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return pipeline.NewStageError("", pipeline.KindInternal,
			fmt.Errorf("github: build request: %w", err))
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return statusError(endpoint, resp, data)
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return pipeline.NewStageError("", pipeline.KindInternal,
				fmt.Errorf("github: decode %s response: %w", endpoint, err))
		}
	}
	return nil
}

// transportError classifies a failure that produced no HTTP response.
func transportError(err error) *pipeline.StageError {
	if errors.Is(err, context.DeadlineExceeded) {
		return pipeline.NewStageError("", pipeline.KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return pipeline.NewStageError("", pipeline.KindTimeout, err)
	}
	return pipeline.NewStageError("", pipeline.KindNetwork, err)
}

// statusError classifies a non-2xx response. A 403 counts as rate limiting
// only when the rate-limit headers say the budget is exhausted; otherwise
// it is a credential problem, same as a 401.
func statusError(endpoint string, resp *http.Response, body []byte) *pipeline.StageError {
	var kind pipeline.ErrorKind
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = pipeline.KindAuthFailed
	case resp.StatusCode == http.StatusForbidden:
		if resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != "" {
			kind = pipeline.KindRateLimited
		} else {
			kind = pipeline.KindAuthFailed
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		kind = pipeline.KindRateLimited
	case resp.StatusCode >= 500:
		kind = pipeline.KindNetwork
	default:
		kind = pipeline.KindInternal
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Endpoint: endpoint}
	var msg struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &msg); err == nil {
		apiErr.Message = msg.Message
	}
	return pipeline.NewStageError("", kind, apiErr)
}

// splitRepo validates ref and splits its repo slug into owner and name.
func splitRepo(ref review.Context) (owner, name string, err error) {
	if err := ref.Validate(); err != nil {
		return "", "", err
	}
	owner, name, _ = strings.Cut(ref.Repo, "/")
	return owner, name, nil
}

// escapePath escapes a repository file path for use in a URL, keeping the
// segment separators.
func escapePath(p string) string {
	parts := strings.Split(p, "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return strings.Join(parts, "/")
}
