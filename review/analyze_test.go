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
)

func samplePRState(t *testing.T) pipeline.State {
	t.Helper()
	pr := PullRequest{
		Metadata: Metadata{Number: 42, Title: "Fix login"},
		Files:    []ChangedFile{{Filename: "auth/login.go", Status: "modified"}},
	}
	return pipeline.State{StateKeyPRData: mustJSON(t, pr)}
}

func TestAnalysisStageRunsWhenSelected(t *testing.T) {
	analyzer := &fakeAnalyzer{
		name:     "security",
		analysis: &Analysis{Analyzer: "security", Summary: "one token issue"},
	}
	stage := NewAnalysisStage(analyzer)
	require.Equal(t, "security", stage.Name())
	require.Equal(t, []string{AnalysisStateKey("security")}, stage.Outputs())

	in := samplePRState(t)
	in[StateKeyExecutionPlan] = mustJSON(t, ExecutionPlan{Selected: []string{"security"}})

	delta, err := stage.Run(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, 1, analyzer.calls)

	var got Analysis
	require.NoError(t, json.Unmarshal(delta[AnalysisStateKey("security")], &got))
	require.Equal(t, "one token issue", got.Summary)
}

func TestAnalysisStageSkipsUnselected(t *testing.T) {
	analyzer := &fakeAnalyzer{name: "security"}
	in := samplePRState(t)
	in[StateKeyExecutionPlan] = mustJSON(t, ExecutionPlan{Selected: []string{"code_quality"}})

	delta, err := NewAnalysisStage(analyzer).Run(context.Background(), in)
	require.NoError(t, err)
	require.Empty(t, delta)
	require.Zero(t, analyzer.calls)
}

func TestAnalysisStageRunsWithoutPlan(t *testing.T) {
	analyzer := &fakeAnalyzer{
		name:     "security",
		analysis: &Analysis{Analyzer: "security"},
	}
	delta, err := NewAnalysisStage(analyzer).Run(context.Background(), samplePRState(t))
	require.NoError(t, err)
	require.Equal(t, 1, analyzer.calls)
	require.Contains(t, delta, AnalysisStateKey("security"))
}

func TestAnalysisStageMissingPRData(t *testing.T) {
	analyzer := &fakeAnalyzer{name: "security"}
	_, err := NewAnalysisStage(analyzer).Run(context.Background(), pipeline.State{})
	require.ErrorContains(t, err, "no pull-request data")
	require.Zero(t, analyzer.calls)
}

func TestAnalysisStageKeepsErrorClassification(t *testing.T) {
	analyzer := &fakeAnalyzer{
		name: "security",
		err:  pipeline.NewStageError("", pipeline.KindRateLimited, errors.New("quota exhausted")),
	}
	_, err := NewAnalysisStage(analyzer).Run(context.Background(), samplePRState(t))

	var stageErr *pipeline.StageError
	require.ErrorAs(t, err, &stageErr)
	require.Equal(t, pipeline.KindRateLimited, stageErr.Kind)
}

func TestMarkdownAnalyzerParsesOutput(t *testing.T) {
	analyzer := NewMarkdownAnalyzer("security", []string{"**/*.go"},
		func(_ context.Context, pr *PullRequest) (string, error) {
			require.Equal(t, 42, pr.Metadata.Number)
			return sampleAnalyzerOutput, nil
		})
	require.Equal(t, "security", analyzer.Name())
	require.Equal(t, []string{"**/*.go"}, analyzer.FilePatterns())

	analysis, err := analyzer.Analyze(context.Background(), &PullRequest{
		Metadata: Metadata{Number: 42},
	})
	require.NoError(t, err)
	require.Equal(t, "security", analysis.Analyzer)
	require.Len(t, analysis.Findings, 2)
	require.Empty(t, analysis.Warning)
}

func TestMarkdownAnalyzerBackendError(t *testing.T) {
	backendErr := errors.New("model unavailable")
	analyzer := NewMarkdownAnalyzer("security", nil,
		func(context.Context, *PullRequest) (string, error) {
			return "", backendErr
		})
	_, err := analyzer.Analyze(context.Background(), &PullRequest{})
	require.ErrorIs(t, err, backendErr)
}
