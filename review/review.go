//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

// Package review provides the stage collaborators of the pull-request
// review pipeline: fetching change data from a code host, routing analyzers
// over the changed files, parsing analyzer output, synthesizing the final
// report, and publishing it back to the host.
package review

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Session state keys written and read by the review stages. Values are
// JSON-encoded. The two error keys follow the orchestrator's
// "<stage>_error" convention for the standard stage names.
const (
	// StateKeyGitHubContext seeds a run: repository, PR number, head SHA.
	StateKeyGitHubContext = "github_context"
	// StateKeyPRData holds the full fetched PullRequest.
	StateKeyPRData = "github_pr_data"
	// StateKeyPRFiles holds the changed-file list.
	StateKeyPRFiles = "github_pr_files"
	// StateKeyPRMetadata holds the pull-request metadata.
	StateKeyPRMetadata = "github_pr_metadata"
	// StateKeyPRStats holds the aggregate change statistics.
	StateKeyPRStats = "github_pr_stats"
	// StateKeyExecutionPlan holds the routing decision of the planning stage.
	StateKeyExecutionPlan = "execution_plan"
	// StateKeyAnalysisProgress tracks planned and completed analyses.
	StateKeyAnalysisProgress = "analysis_progress"
	// StateKeyFinalReport holds the synthesized markdown report.
	StateKeyFinalReport = "final_report"
	// StateKeyReviewURL holds the URL of the published review.
	StateKeyReviewURL = "github_review_url"
	// StateKeyCommentID holds the id of the published review comment.
	StateKeyCommentID = "github_comment_id"
	// StateKeyFetchError is where a failed optional fetch stage records its
	// error.
	StateKeyFetchError = "github_fetch_error"
	// StateKeyPublishError is where the failed optional publish stage
	// records its error.
	StateKeyPublishError = "github_publish_error"
)

// AnalysisStateKey returns the state key an analyzer's result is stored
// under, e.g. "security_analysis" for the security analyzer.
func AnalysisStateKey(analyzer string) string {
	return analyzer + "_analysis"
}

// Context identifies the pull request a run reviews. It is seeded into
// session state under StateKeyGitHubContext before the pipeline starts.
type Context struct {
	// Repo is the "owner/name" repository slug.
	Repo string `json:"repo"`
	// PRNumber is the pull-request number within the repository.
	PRNumber int `json:"pr_number"`
	// HeadSHA pins the revision under review. Optional; publishing uses it
	// when commenting on specific lines.
	HeadSHA string `json:"head_sha,omitempty"`
}

// Validate reports whether the context identifies a reviewable pull request.
func (c Context) Validate() error {
	owner, name, ok := strings.Cut(c.Repo, "/")
	if !ok || owner == "" || name == "" {
		return fmt.Errorf("review: repo %q is not an owner/name slug", c.Repo)
	}
	if c.PRNumber <= 0 {
		return errors.New("review: pr_number must be positive")
	}
	return nil
}

// Metadata describes a pull request.
type Metadata struct {
	Number     int       `json:"number"`
	Title      string    `json:"title"`
	Body       string    `json:"body,omitempty"`
	State      string    `json:"state,omitempty"`
	Author     string    `json:"author,omitempty"`
	BaseBranch string    `json:"base_branch,omitempty"`
	HeadBranch string    `json:"head_branch,omitempty"`
	HeadSHA    string    `json:"head_sha,omitempty"`
	Commits    int       `json:"commits,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitempty"`
}

// ChangedFile is one file touched by a pull request.
type ChangedFile struct {
	Filename string `json:"filename"`
	// Status is one of added, modified, removed, renamed.
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Changes   int    `json:"changes"`
	Patch     string `json:"patch,omitempty"`
	// Language is detected from the filename extension.
	Language         string `json:"language,omitempty"`
	PreviousFilename string `json:"previous_filename,omitempty"`
	// Content is the file content at the head revision, when fetched.
	Content string `json:"content,omitempty"`
}

// Stats aggregates a pull request's changes.
type Stats struct {
	TotalFiles     int            `json:"total_files"`
	TotalAdditions int            `json:"total_additions"`
	TotalDeletions int            `json:"total_deletions"`
	TotalChanges   int            `json:"total_changes"`
	FilesByStatus  map[string]int `json:"files_by_status,omitempty"`
	Languages      map[string]int `json:"languages,omitempty"`
}

// NewStats computes aggregate statistics over a changed-file list.
func NewStats(files []ChangedFile) Stats {
	stats := Stats{
		TotalFiles:    len(files),
		FilesByStatus: make(map[string]int),
		Languages:     make(map[string]int),
	}
	for _, f := range files {
		stats.TotalAdditions += f.Additions
		stats.TotalDeletions += f.Deletions
		stats.FilesByStatus[f.Status]++
		lang := f.Language
		if lang == "" {
			lang = DetectLanguage(f.Filename)
		}
		stats.Languages[lang]++
	}
	stats.TotalChanges = stats.TotalAdditions + stats.TotalDeletions
	return stats
}

// PullRequest bundles everything the fetch stage retrieves.
type PullRequest struct {
	Metadata Metadata      `json:"metadata"`
	Files    []ChangedFile `json:"files"`
	Stats    Stats         `json:"stats"`
}

// ReviewRef locates a published review.
type ReviewRef struct {
	URL       string `json:"review_url"`
	CommentID int64  `json:"comment_id,omitempty"`
}

// ExecutionPlan is the planning stage's routing decision.
type ExecutionPlan struct {
	// Selected lists the analyzers to run, in registration order.
	Selected []string `json:"selected_analyzers"`
	// Mode is how the selected analyzers execute. Always "parallel".
	Mode string `json:"execution_mode"`
	// Reasons explains the decision per analyzer, selected or not.
	Reasons map[string]string `json:"reasons,omitempty"`
}

// Progress tracks which analyses a run planned and which produced results.
type Progress struct {
	Planned   []string `json:"planned"`
	Completed []string `json:"completed,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
}

var languageByExtension = map[string]string{
	".py":    "python",
	".js":    "javascript",
	".ts":    "typescript",
	".jsx":   "javascript",
	".tsx":   "typescript",
	".java":  "java",
	".c":     "c",
	".cpp":   "cpp",
	".h":     "c",
	".hpp":   "cpp",
	".cs":    "csharp",
	".go":    "go",
	".rs":    "rust",
	".rb":    "ruby",
	".php":   "php",
	".swift": "swift",
	".kt":    "kotlin",
	".scala": "scala",
	".sh":    "bash",
	".yaml":  "yaml",
	".yml":   "yaml",
	".json":  "json",
	".xml":   "xml",
	".html":  "html",
	".css":   "css",
	".sql":   "sql",
	".md":    "markdown",
	".txt":   "text",
}

// DetectLanguage maps a filename extension to a language identifier,
// or "unknown".
func DetectLanguage(filename string) string {
	if lang, ok := languageByExtension[strings.ToLower(filepath.Ext(filename))]; ok {
		return lang
	}
	return "unknown"
}
