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
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"trpc.group/trpc-go/trpc-reviewpipe-go/log"
	"trpc.group/trpc-go/trpc-reviewpipe-go/review"
)

// prResponse is the wire shape of GET /repos/{owner}/{repo}/pulls/{number}.
type prResponse struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	State  string `json:"state"`
	User   struct {
		Login string `json:"login"`
	} `json:"user"`
	Base struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"base"`
	Head struct {
		Ref string `json:"ref"`
		SHA string `json:"sha"`
	} `json:"head"`
	Commits   int       `json:"commits"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// fileResponse is one entry of GET /repos/{owner}/{repo}/pulls/{number}/files.
type fileResponse struct {
	Filename         string `json:"filename"`
	Status           string `json:"status"`
	Additions        int    `json:"additions"`
	Deletions        int    `json:"deletions"`
	Changes          int    `json:"changes"`
	Patch            string `json:"patch"`
	PreviousFilename string `json:"previous_filename"`
}

// contentResponse is the wire shape of GET /repos/{owner}/{repo}/contents/{path}.
type contentResponse struct {
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
	Size     int    `json:"size"`
}

// Fetch retrieves the pull request's metadata and changed files and
// computes the aggregate statistics. With content workers configured it
// also loads the head-revision content of every non-removed file; a file
// whose content cannot be loaded keeps an empty Content and the fetch
// still succeeds.
func (c *Client) Fetch(ctx context.Context, ref review.Context) (*review.PullRequest, error) {
	owner, name, err := splitRepo(ref)
	if err != nil {
		return nil, err
	}

	log.Infof("github: fetching PR #%d from %s", ref.PRNumber, ref.Repo)
	meta, err := c.pullRequest(ctx, owner, name, ref.PRNumber)
	if err != nil {
		return nil, err
	}
	files, err := c.changedFiles(ctx, owner, name, ref.PRNumber)
	if err != nil {
		return nil, err
	}

	if c.contentWorkers > 0 {
		headSHA := ref.HeadSHA
		if headSHA == "" {
			headSHA = meta.HeadSHA
		}
		c.loadContents(ctx, owner, name, headSHA, files)
	}

	log.Infof("github: fetched %d files from PR #%d", len(files), ref.PRNumber)
	return &review.PullRequest{
		Metadata: meta,
		Files:    files,
		Stats:    review.NewStats(files),
	}, nil
}

// pullRequest loads the pull-request metadata.
func (c *Client) pullRequest(ctx context.Context, owner, name string, number int) (review.Metadata, error) {
	var pr prResponse
	endpoint := fmt.Sprintf("/repos/%s/%s/pulls/%d", owner, name, number)
	if err := c.get(ctx, endpoint, &pr); err != nil {
		return review.Metadata{}, err
	}
	return review.Metadata{
		Number:     pr.Number,
		Title:      pr.Title,
		Body:       pr.Body,
		State:      pr.State,
		Author:     pr.User.Login,
		BaseBranch: pr.Base.Ref,
		HeadBranch: pr.Head.Ref,
		HeadSHA:    pr.Head.SHA,
		Commits:    pr.Commits,
		CreatedAt:  pr.CreatedAt,
		UpdatedAt:  pr.UpdatedAt,
	}, nil
}

// changedFiles pages through the pull request's changed-file listing.
func (c *Client) changedFiles(ctx context.Context, owner, name string, number int) ([]review.ChangedFile, error) {
	var files []review.ChangedFile
	for page := 1; ; page++ {
		var batch []fileResponse
		endpoint := fmt.Sprintf("/repos/%s/%s/pulls/%d/files?per_page=%d&page=%d",
			owner, name, number, c.perPage, page)
		if err := c.get(ctx, endpoint, &batch); err != nil {
			return nil, err
		}
		for _, f := range batch {
			files = append(files, review.ChangedFile{
				Filename:         f.Filename,
				Status:           f.Status,
				Additions:        f.Additions,
				Deletions:        f.Deletions,
				Changes:          f.Changes,
				Patch:            f.Patch,
				Language:         review.DetectLanguage(f.Filename),
				PreviousFilename: f.PreviousFilename,
			})
		}
		if len(batch) < c.perPage {
			return files, nil
		}
	}
}

// loadContents fetches head-revision file contents with a bounded worker
// pool. Content failures are warnings, never fetch failures: an analysis
// over patches alone is still useful.
func (c *Client) loadContents(ctx context.Context, owner, name, ref string, files []review.ChangedFile) {
	pool, err := ants.NewPool(c.contentWorkers)
	if err != nil {
		log.Warnf("github: create content worker pool: %v", err)
		return
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range files {
		if files[i].Status == "removed" {
			continue
		}
		wg.Add(1)
		idx := i
		if err := pool.Submit(func() {
			defer wg.Done()
			content, err := c.fileContent(ctx, owner, name, files[idx].Filename, ref)
			if err != nil {
				log.Warnf("github: could not fetch content for %s: %v", files[idx].Filename, err)
				return
			}
			files[idx].Content = content
		}); err != nil {
			wg.Done()
			log.Warnf("github: submit content fetch for %s: %v", files[i].Filename, err)
		}
	}
	wg.Wait()
}

// fileContent loads one file's content at the given revision.
func (c *Client) fileContent(ctx context.Context, owner, name, path, ref string) (string, error) {
	endpoint := fmt.Sprintf("/repos/%s/%s/contents/%s", owner, name, escapePath(path))
	if ref != "" {
		endpoint += "?ref=" + url.QueryEscape(ref)
	}
	var body contentResponse
	if err := c.get(ctx, endpoint, &body); err != nil {
		return "", err
	}
	// The contents API omits the payload past 1MB; treat it like any file
	// over the configured cap.
	if body.Content == "" || (c.maxContentBytes > 0 && body.Size > c.maxContentBytes) {
		return "", fmt.Errorf("content of %d bytes exceeds limit", body.Size)
	}
	if body.Encoding != "base64" {
		return body.Content, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(body.Content, "\n", ""))
	if err != nil {
		return "", fmt.Errorf("decode base64 content: %w", err)
	}
	return string(decoded), nil
}
