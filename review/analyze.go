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
	"fmt"

	"trpc.group/trpc-go/trpc-reviewpipe-go/pipeline"
)

// Analyzer produces one analysis of a pull request. Implementations are
// opaque to the pipeline; this package only routes them and stores their
// results.
type Analyzer interface {
	// Name identifies the analyzer; its result is stored under
	// AnalysisStateKey(Name()).
	Name() string
	// FilePatterns returns the glob patterns (doublestar syntax) of files
	// this analyzer cares about. Empty means every change is relevant.
	FilePatterns() []string
	// Analyze reviews the pull request.
	Analyze(ctx context.Context, pr *PullRequest) (*Analysis, error)
}

// Finding is one structured issue reported by an analyzer.
type Finding struct {
	// Severity is one of critical, high, medium, low.
	Severity   string `json:"severity"`
	File       string `json:"file,omitempty"`
	Line       int    `json:"line,omitempty"`
	Title      string `json:"title"`
	Detail     string `json:"detail,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Analysis is one analyzer's result.
type Analysis struct {
	Analyzer   string         `json:"analyzer"`
	Summary    string         `json:"summary,omitempty"`
	Confidence float64        `json:"confidence,omitempty"`
	Severity   map[string]int `json:"severity,omitempty"`
	Findings   []Finding      `json:"findings,omitempty"`
	// Report is the markdown body of the analysis.
	Report string `json:"report,omitempty"`
	// Warning notes degraded parsing of the analyzer's raw output.
	Warning string `json:"parse_warning,omitempty"`
}

// NewAnalysisStage wraps an analyzer as a pipeline stage named after it.
// The stage consults the execution plan: an analyzer the planning stage did
// not select succeeds with an empty update, so its analysis key stays
// absent and the synthesis stage lists it as skipped. A plan-less run
// (no execution_plan in state) runs every analyzer.
func NewAnalysisStage(a Analyzer) pipeline.Stage {
	name := a.Name()
	inputs := []string{StateKeyExecutionPlan, StateKeyPRData}
	outputs := []string{AnalysisStateKey(name)}
	return pipeline.NewStage(name, inputs, outputs,
		func(ctx context.Context, in pipeline.State) (pipeline.StateDelta, error) {
			if data, ok := in[StateKeyExecutionPlan]; ok {
				var plan ExecutionPlan
				if err := json.Unmarshal(data, &plan); err != nil {
					return nil, fmt.Errorf("decode execution plan: %w", err)
				}
				if !selected(plan, name) {
					return nil, nil
				}
			}
			data, ok := in[StateKeyPRData]
			if !ok {
				return nil, fmt.Errorf("analyzer %s: no pull-request data in state", name)
			}
			var pr PullRequest
			if err := json.Unmarshal(data, &pr); err != nil {
				return nil, fmt.Errorf("decode pull-request data: %w", err)
			}

			analysis, err := a.Analyze(ctx, &pr)
			if err != nil {
				return nil, err
			}
			encoded, err := json.Marshal(analysis)
			if err != nil {
				return nil, fmt.Errorf("encode %s analysis: %w", name, err)
			}
			return pipeline.StateDelta{AnalysisStateKey(name): encoded}, nil
		})
}

func selected(plan ExecutionPlan, analyzer string) bool {
	for _, name := range plan.Selected {
		if name == analyzer {
			return true
		}
	}
	return false
}

// ReportFunc produces the raw markdown output of one analysis run.
type ReportFunc func(ctx context.Context, pr *PullRequest) (string, error)

// MarkdownAnalyzer adapts a backend that emits markdown with a fenced yaml
// findings block to the Analyzer interface.
type MarkdownAnalyzer struct {
	name     string
	patterns []string
	fn       ReportFunc
}

// NewMarkdownAnalyzer builds an analyzer from a markdown-producing backend.
func NewMarkdownAnalyzer(name string, patterns []string, fn ReportFunc) *MarkdownAnalyzer {
	return &MarkdownAnalyzer{name: name, patterns: patterns, fn: fn}
}

// Name implements Analyzer.
func (m *MarkdownAnalyzer) Name() string { return m.name }

// FilePatterns implements Analyzer.
func (m *MarkdownAnalyzer) FilePatterns() []string { return m.patterns }

// Analyze runs the backend and parses its output.
func (m *MarkdownAnalyzer) Analyze(ctx context.Context, pr *PullRequest) (*Analysis, error) {
	output, err := m.fn(ctx, pr)
	if err != nil {
		return nil, err
	}
	return ParseAnalysis(m.name, output), nil
}
