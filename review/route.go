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

	"github.com/bmatcuk/doublestar/v4"

	"trpc.group/trpc-go/trpc-reviewpipe-go/pipeline"
)

// StagePlanning is the name of the analyzer-routing stage.
const StagePlanning = "analysis_planning"

// NewPlanStage builds the routing stage. It matches the changed files
// against every analyzer's declared glob patterns and writes the resulting
// execution plan, so the analysis stages downstream know which of them
// should run. Selection is deterministic: registration order, glob
// matching, no heuristics.
func NewPlanStage(analyzers ...Analyzer) pipeline.Stage {
	inputs := []string{StateKeyPRFiles}
	outputs := []string{StateKeyExecutionPlan, StateKeyAnalysisProgress}
	return pipeline.NewStage(StagePlanning, inputs, outputs,
		func(_ context.Context, in pipeline.State) (pipeline.StateDelta, error) {
			var files []ChangedFile
			if data, ok := in[StateKeyPRFiles]; ok {
				if err := json.Unmarshal(data, &files); err != nil {
					return nil, fmt.Errorf("decode changed files: %w", err)
				}
			}

			plan := ExecutionPlan{
				Mode:    "parallel",
				Reasons: make(map[string]string, len(analyzers)),
			}
			for _, a := range analyzers {
				matched, reason, err := matchAnalyzer(a, files)
				if err != nil {
					return nil, err
				}
				plan.Reasons[a.Name()] = reason
				if matched {
					plan.Selected = append(plan.Selected, a.Name())
				}
			}

			planData, err := json.Marshal(plan)
			if err != nil {
				return nil, fmt.Errorf("encode execution plan: %w", err)
			}
			progressData, err := json.Marshal(Progress{Planned: plan.Selected})
			if err != nil {
				return nil, fmt.Errorf("encode analysis progress: %w", err)
			}
			return pipeline.StateDelta{
				StateKeyExecutionPlan:    planData,
				StateKeyAnalysisProgress: progressData,
			}, nil
		})
}

// matchAnalyzer decides whether any changed file falls under the analyzer's
// patterns. Pattern-less analyzers match every change set, including an
// empty one.
func matchAnalyzer(a Analyzer, files []ChangedFile) (bool, string, error) {
	patterns := a.FilePatterns()
	if len(patterns) == 0 {
		return true, "matches all changes", nil
	}
	for _, pattern := range patterns {
		count := 0
		for _, f := range files {
			ok, err := doublestar.PathMatch(pattern, f.Filename)
			if err != nil {
				return false, "", fmt.Errorf("analyzer %s: invalid pattern %q: %w", a.Name(), pattern, err)
			}
			if ok {
				count++
			}
		}
		if count > 0 {
			return true, fmt.Sprintf("%d files match %s", count, pattern), nil
		}
	}
	return false, "no changed files match", nil
}
