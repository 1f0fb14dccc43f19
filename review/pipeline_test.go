//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

package review

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-reviewpipe-go/pipeline"
	"trpc.group/trpc-go/trpc-reviewpipe-go/session"
	"trpc.group/trpc-go/trpc-reviewpipe-go/storage/inmemory"
)

var errAuth = errors.New("401 bad credentials")

// runDefaultPlan executes a review plan end to end against an in-memory
// session seeded with a github_context.
func runDefaultPlan(t *testing.T, plan *pipeline.Plan) (*pipeline.Result, *session.Session) {
	t.Helper()
	svc := session.NewManager(inmemory.New())
	t.Cleanup(func() { _ = svc.Close() })

	key := session.Key{AppName: "review", UserID: "dev", SessionID: "pr-42"}
	_, err := svc.CreateSession(context.Background(), key, session.StateMap{
		StateKeyGitHubContext: []byte(`{"repo":"acme/widgets","pr_number":42,"head_sha":"abc123"}`),
	})
	require.NoError(t, err)

	result, err := pipeline.New(svc).Run(context.Background(), key, plan)
	require.NoError(t, err)

	sess, err := svc.GetSession(context.Background(), key)
	require.NoError(t, err)
	return result, sess
}

func reviewTestFiles() []ChangedFile {
	return []ChangedFile{
		{Filename: "auth/login.go", Status: "modified", Additions: 10, Deletions: 2, Changes: 12},
		{Filename: "docs/auth.md", Status: "added", Additions: 30, Changes: 30},
	}
}

func TestDefaultPlanEndToEnd(t *testing.T) {
	files := reviewTestFiles()
	fetcher := &fakeFetcher{pr: &PullRequest{
		Metadata: Metadata{Number: 42, Title: "Fix login", Author: "octocat"},
		Files:    files,
		Stats:    NewStats(files),
	}}
	security := &fakeAnalyzer{
		name: "security",
		analysis: &Analysis{
			Analyzer: "security",
			Summary:  "One credential issue found.",
			Findings: []Finding{{Severity: "high", File: "auth/login.go", Line: 42, Title: "Token logged"}},
		},
	}
	pythonOnly := &fakeAnalyzer{name: "code_quality", patterns: []string{"**/*.py"}}
	publisher := &fakePublisher{ref: &ReviewRef{
		URL:       "https://github.com/acme/widgets/pull/42#issuecomment-7",
		CommentID: 7,
	}}

	plan, err := DefaultPlan(fetcher, publisher, security, pythonOnly)
	require.NoError(t, err)

	result, sess := runDefaultPlan(t, plan)
	require.Equal(t, pipeline.StatusCompleted, result.Status)
	require.Equal(t, 5, result.GroupsRun)
	require.Empty(t, result.Warnings)
	require.Equal(t, 1, security.calls)
	require.Zero(t, pythonOnly.calls)

	var report string
	require.NoError(t, json.Unmarshal(sess.State[StateKeyFinalReport], &report))
	require.Contains(t, report, "# Code Review Report")
	require.Contains(t, report, "## PR #42: Fix login")
	require.Contains(t, report, "## Security Analysis")
	require.Contains(t, report, "- **high** `auth/login.go:42` Token logged")
	require.Contains(t, report, "## Skipped Analyses")
	require.Contains(t, report, "- code_quality")
	require.Equal(t, report, publisher.report)

	require.JSONEq(t, `"https://github.com/acme/widgets/pull/42#issuecomment-7"`,
		string(sess.State[StateKeyReviewURL]))
	require.JSONEq(t, `7`, string(sess.State[StateKeyCommentID]))

	var progress Progress
	require.NoError(t, json.Unmarshal(sess.State[StateKeyAnalysisProgress], &progress))
	require.Equal(t, []string{"security"}, progress.Planned)
	require.Equal(t, []string{"security"}, progress.Completed)
	require.Equal(t, []string{"code_quality"}, progress.Skipped)

	require.Len(t, sess.Events, 6)
	authors := make([]string, 0, len(sess.Events))
	for _, e := range sess.Events {
		authors = append(authors, e.Author)
	}
	require.Equal(t, []string{"fetch", "planning", "analysis", "synthesis", "publish", PlanName}, authors)
}

func TestDefaultPlanPublishFailure(t *testing.T) {
	files := reviewTestFiles()
	fetcher := &fakeFetcher{pr: &PullRequest{
		Metadata: Metadata{Number: 42, Title: "Fix login"},
		Files:    files,
		Stats:    NewStats(files),
	}}
	security := &fakeAnalyzer{name: "security", analysis: &Analysis{Analyzer: "security"}}
	publisher := &fakePublisher{
		err: pipeline.NewStageError(StagePublish, pipeline.KindAuthFailed, errAuth),
	}

	plan, err := DefaultPlan(fetcher, publisher, security)
	require.NoError(t, err)

	result, sess := runDefaultPlan(t, plan)
	require.Equal(t, pipeline.StatusCompletedWithWarnings, result.Status)
	require.Equal(t, 5, result.GroupsRun)
	require.NotEmpty(t, result.Warnings)

	var publishErr string
	require.NoError(t, json.Unmarshal(sess.State[StateKeyPublishError], &publishErr))
	require.Contains(t, publishErr, "401 bad credentials")
	require.Contains(t, sess.State, StateKeyFinalReport)
	require.NotContains(t, sess.State, StateKeyReviewURL)
}

func TestDefaultPlanAnalyzerFailure(t *testing.T) {
	files := reviewTestFiles()
	fetcher := &fakeFetcher{pr: &PullRequest{
		Metadata: Metadata{Number: 42, Title: "Fix login"},
		Files:    files,
		Stats:    NewStats(files),
	}}
	broken := &fakeAnalyzer{name: "security", err: errAuth}

	plan, err := DefaultPlan(fetcher, nil, broken)
	require.NoError(t, err)

	result, sess := runDefaultPlan(t, plan)
	require.Equal(t, pipeline.StatusCompletedWithWarnings, result.Status)

	require.Contains(t, sess.State, "security_error")
	require.NotContains(t, sess.State, AnalysisStateKey("security"))

	var report string
	require.NoError(t, json.Unmarshal(sess.State[StateKeyFinalReport], &report))
	require.Contains(t, report, "## Skipped Analyses")
	require.Contains(t, report, "- security")
}

func TestDefaultPlanNilPublisherOmitsPublish(t *testing.T) {
	files := reviewTestFiles()
	fetcher := &fakeFetcher{pr: &PullRequest{
		Metadata: Metadata{Number: 42},
		Files:    files,
		Stats:    NewStats(files),
	}}

	plan, err := DefaultPlan(fetcher, nil, &fakeAnalyzer{name: "security", analysis: &Analysis{Analyzer: "security"}})
	require.NoError(t, err)

	result, sess := runDefaultPlan(t, plan)
	require.Equal(t, pipeline.StatusCompleted, result.Status)
	require.Equal(t, 4, result.GroupsRun)
	require.NotContains(t, sess.State, StateKeyReviewURL)
	require.NotContains(t, sess.State, StateKeyCommentID)
}

func TestDefaultPlanRequiresFetcher(t *testing.T) {
	_, err := DefaultPlan(nil, nil)
	require.ErrorContains(t, err, "fetcher is required")
}
