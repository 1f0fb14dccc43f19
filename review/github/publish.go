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
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"trpc.group/trpc-go/trpc-reviewpipe-go/log"
	"trpc.group/trpc-go/trpc-reviewpipe-go/review"
)

// reviewRequest is the body of POST /repos/{owner}/{repo}/pulls/{number}/reviews.
type reviewRequest struct {
	Body  string `json:"body"`
	Event string `json:"event"`
}

// reviewResponse is the created review.
type reviewResponse struct {
	ID      int64  `json:"id"`
	HTMLURL string `json:"html_url"`
}

// commentRequest is the body of POST /repos/{owner}/{repo}/issues/{number}/comments.
type commentRequest struct {
	Body string `json:"body"`
}

// commentResponse is the created issue comment.
type commentResponse struct {
	ID      int64  `json:"id"`
	HTMLURL string `json:"html_url"`
}

// Publish posts the report to the pull request as a non-approving review.
// When the review endpoint rejects the request outright (404 or 422, e.g.
// reviews are not allowed on the author's own pull request) it falls back
// to a plain issue comment; credential and rate-limit failures are
// returned as-is since the fallback would hit the same wall.
func (c *Client) Publish(ctx context.Context, ref review.Context, report string) (*review.ReviewRef, error) {
	owner, name, err := splitRepo(ref)
	if err != nil {
		return nil, err
	}
	body := formatReport(report)

	log.Infof("github: posting review to PR #%d in %s", ref.PRNumber, ref.Repo)
	var rr reviewResponse
	endpoint := fmt.Sprintf("/repos/%s/%s/pulls/%d/reviews", owner, name, ref.PRNumber)
	err = c.do(ctx, http.MethodPost, endpoint, reviewRequest{Body: body, Event: "COMMENT"}, &rr)
	if err == nil {
		log.Infof("github: posted review to PR #%d: %s", ref.PRNumber, rr.HTMLURL)
		return &review.ReviewRef{URL: rr.HTMLURL, CommentID: rr.ID}, nil
	}
	if !reviewRejected(err) {
		return nil, err
	}

	log.Warnf("github: review API rejected PR #%d, falling back to issue comment: %v",
		ref.PRNumber, err)
	var cr commentResponse
	endpoint = fmt.Sprintf("/repos/%s/%s/issues/%d/comments", owner, name, ref.PRNumber)
	if err := c.do(ctx, http.MethodPost, endpoint, commentRequest{Body: body}, &cr); err != nil {
		return nil, err
	}
	log.Infof("github: posted comment to PR #%d: %s", ref.PRNumber, cr.HTMLURL)
	return &review.ReviewRef{URL: cr.HTMLURL, CommentID: cr.ID}, nil
}

// reviewRejected reports whether the review endpoint refused this request
// for reasons an issue comment does not share.
func reviewRejected(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusNotFound ||
		apiErr.StatusCode == http.StatusUnprocessableEntity
}

// formatReport prepends a heading when the synthesized report lacks one,
// so the posted comment renders with a title.
func formatReport(report string) string {
	if strings.HasPrefix(strings.TrimSpace(report), "#") {
		return report
	}
	return "## Code Review Report\n\n" + report
}
