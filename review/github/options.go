//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

package github

import (
	"net/http"
	"time"
)

const (
	// defaultBaseURL is the GitHub REST API endpoint.
	defaultBaseURL = "https://api.github.com"
	// defaultTokenEnvVar is the environment variable holding the API token.
	defaultTokenEnvVar = "GITHUB_TOKEN"
	// defaultTimeout bounds one API call when no client is injected.
	defaultTimeout = 30 * time.Second
	// defaultPerPage is the page size for the changed-file listing.
	defaultPerPage = 100
	// defaultMaxContentBytes caps one fetched file's decoded content.
	defaultMaxContentBytes = 1 << 20
	// defaultUserAgent identifies the client; the API rejects requests
	// without one.
	defaultUserAgent = "trpc-reviewpipe-go"
)

// options contains configuration options for creating a Client.
type options struct {
	// Token authenticates API calls. Empty falls back to the GITHUB_TOKEN
	// environment variable; requests without any token run against the
	// unauthenticated rate limit.
	Token string
	// BaseURL is the API endpoint. Default is https://api.github.com;
	// override for GitHub Enterprise or tests.
	BaseURL string
	// HTTPClient makes the requests. Default has a 30s timeout.
	HTTPClient *http.Client
	// PerPage is the page size for the changed-file listing.
	PerPage int
	// ContentWorkers bounds the parallel file-content fetches per pull
	// request. Zero disables content fetching; analyses then see patches
	// only.
	ContentWorkers int
	// MaxContentBytes skips file contents larger than this after decoding.
	MaxContentBytes int
	// UserAgent is sent with every request.
	UserAgent string
}

var defaultOptions = options{
	BaseURL:         defaultBaseURL,
	PerPage:         defaultPerPage,
	MaxContentBytes: defaultMaxContentBytes,
	UserAgent:       defaultUserAgent,
}

// Option configures the Client.
type Option func(*options)

// WithToken sets the API token instead of reading GITHUB_TOKEN.
func WithToken(token string) Option {
	return func(o *options) {
		o.Token = token
	}
}

// WithBaseURL sets the API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.BaseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.HTTPClient = c
	}
}

// WithPerPage sets the page size for the changed-file listing.
func WithPerPage(n int) Option {
	return func(o *options) {
		o.PerPage = n
	}
}

// WithContentWorkers enables head-revision file-content fetching with n
// parallel workers.
func WithContentWorkers(n int) Option {
	return func(o *options) {
		o.ContentWorkers = n
	}
}

// WithMaxContentBytes sets the per-file decoded content cap.
func WithMaxContentBytes(n int) Option {
	return func(o *options) {
		o.MaxContentBytes = n
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(o *options) {
		o.UserAgent = ua
	}
}
