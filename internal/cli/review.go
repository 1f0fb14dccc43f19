//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"trpc.group/trpc-go/trpc-reviewpipe-go/pipeline"
	"trpc.group/trpc-go/trpc-reviewpipe-go/review"
	"trpc.group/trpc-go/trpc-reviewpipe-go/review/github"
	"trpc.group/trpc-go/trpc-reviewpipe-go/session"
)

var (
	reviewRepo      string
	reviewPR        int
	reviewPublish   bool
	reviewSessionID string
	reviewToken     string
	reviewAPI       string
	reviewWorkers   int
	reviewTimeout   time.Duration
	analyzerSpecs   []string
)

// NewReviewCmd creates the review command.
func NewReviewCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "review --repo owner/name --pr N",
		Short: "Run the review pipeline against a pull request",
		Long: `Run the review pipeline against a pull request.

The run creates a session (or resumes one with --session), fetches the
pull request, routes the configured analyzers over the changed files, runs
the selected analyses in parallel, synthesizes a markdown report and, with
--publish, posts it back to the pull request as a review comment.

Analyzers are external commands declared with --analyzer. Each receives
the fetched pull request as JSON on stdin and must print markdown, with
structured findings in a fenced yaml block. The spec form is

    name[:glob[,glob...]]=command [args...]

where the globs restrict the analyzer to runs touching matching files
(doublestar syntax; no globs means it always runs) and the command line is
split on whitespace. Without any --analyzer the report summarizes the
change itself.

Examples:
  reviewpipe review --repo octocat/hello-world --pr 42
  reviewpipe review --repo octocat/hello-world --pr 42 --publish \
    --analyzer 'security:**/*.go=secscan --format md' \
    --analyzer 'code_quality=lintwrap'`,
		RunE: runReview,
	}

	cmd.Flags().StringVar(&reviewRepo, "repo", "", `repository as "owner/name" (required)`)
	cmd.Flags().IntVar(&reviewPR, "pr", 0, "pull request number (required)")
	cmd.Flags().BoolVar(&reviewPublish, "publish", false, "publish the report to the pull request")
	cmd.Flags().StringVar(&reviewSessionID, "session", "", "resume an existing session id")
	cmd.Flags().StringVar(&reviewToken, "github-token", "", "GitHub API token (default $GITHUB_TOKEN)")
	cmd.Flags().StringVar(&reviewAPI, "github-api", "", "GitHub API base URL (for GitHub Enterprise)")
	cmd.Flags().IntVar(&reviewWorkers, "content-workers", 4, "parallel file-content fetches; 0 skips contents")
	cmd.Flags().DurationVar(&reviewTimeout, "timeout", 10*time.Minute, "overall run timeout; 0 means none")
	cmd.Flags().StringArrayVar(&analyzerSpecs, "analyzer", nil, "analyzer spec name[:glob[,glob...]]=command (repeatable)")
	_ = cmd.MarkFlagRequired("repo")
	_ = cmd.MarkFlagRequired("pr")

	return cmd
}

func runReview(cmd *cobra.Command, args []string) error {
	ref := review.Context{Repo: reviewRepo, PRNumber: reviewPR}
	if err := ref.Validate(); err != nil {
		return err
	}
	analyzers, err := parseAnalyzerSpecs(analyzerSpecs)
	if err != nil {
		return err
	}

	svc, err := newService()
	if err != nil {
		return err
	}
	defer svc.Close()

	clientOpts := []github.Option{
		github.WithToken(reviewToken),
		github.WithContentWorkers(reviewWorkers),
	}
	if reviewAPI != "" {
		clientOpts = append(clientOpts, github.WithBaseURL(reviewAPI))
	}
	client := github.New(clientOpts...)
	var publisher review.Publisher
	if reviewPublish {
		publisher = client
	}
	plan, err := review.DefaultPlan(client, publisher, analyzers...)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if reviewTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, reviewTimeout)
		defer cancel()
	}

	key, err := prepareSession(ctx, svc, ref)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Reviewing %s #%d (session %s)\n", ref.Repo, ref.PRNumber, key.SessionID)

	result, err := pipeline.New(svc).Run(ctx, key, plan)
	if err != nil {
		return err
	}
	printResult(out, result)
	if result.Status == pipeline.StatusFailed {
		return fmt.Errorf("review run failed: %v", result.Err)
	}
	if result.Status == pipeline.StatusCancelled {
		return fmt.Errorf("review run cancelled after %d groups", result.GroupsRun)
	}
	return nil
}

// prepareSession creates the run's session, or resumes the one named by
// --session, and seeds the review context into its state.
func prepareSession(ctx context.Context, svc session.Service, ref review.Context) (session.Key, error) {
	seed, err := json.Marshal(ref)
	if err != nil {
		return session.Key{}, fmt.Errorf("encode review context: %w", err)
	}

	key := session.Key{AppName: appName, UserID: userID, SessionID: reviewSessionID}
	if key.SessionID == "" {
		sess, err := svc.CreateSession(ctx, key, session.StateMap{
			review.StateKeyGitHubContext: seed,
		})
		if err != nil {
			return session.Key{}, fmt.Errorf("create session: %w", err)
		}
		key.SessionID = sess.ID
		return key, nil
	}
	if err := svc.UpdateSessionState(ctx, key, session.StateMap{
		review.StateKeyGitHubContext: seed,
	}); err != nil {
		return session.Key{}, fmt.Errorf("resume session %s: %w", key.SessionID, err)
	}
	return key, nil
}

// printResult renders the terminal status, the report and the publish
// outcome of one finished run.
func printResult(out io.Writer, result *pipeline.Result) {
	fmt.Fprintf(out, "Status: %s (%d groups)\n", result.Status, result.GroupsRun)
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "Warning: %s\n", w)
	}
	if report, ok := stateString(result.State, review.StateKeyFinalReport); ok {
		fmt.Fprintf(out, "\n%s\n", report)
	}
	if url, ok := stateString(result.State, review.StateKeyReviewURL); ok {
		fmt.Fprintf(out, "Published: %s\n", url)
	}
}

// stateString decodes a JSON string state value.
func stateString(state session.StateMap, key string) (string, bool) {
	data, ok := state[key]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return "", false
	}
	return s, true
}
