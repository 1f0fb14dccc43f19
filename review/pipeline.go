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
	"errors"

	"trpc.group/trpc-go/trpc-reviewpipe-go/pipeline"
)

// PlanName names the standard review plan.
const PlanName = "pr_review"

// DefaultPlan assembles the standard review plan: fetch the pull request,
// route the analyzers, run the selected analyses concurrently, synthesize
// the report, and optionally publish it. Fetch, planning and synthesis are
// required; analysis and publish stages are optional so one failing
// analyzer or an unreachable code host never discards the rest of the run.
// A nil publisher omits the publish group (report stays in session state).
func DefaultPlan(f Fetcher, p Publisher, analyzers ...Analyzer) (*pipeline.Plan, error) {
	if f == nil {
		return nil, errors.New("review: fetcher is required")
	}

	groups := []pipeline.Group{
		{Name: "fetch", Steps: []pipeline.Step{{Stage: NewFetchStage(f)}}},
		{Name: "planning", Steps: []pipeline.Step{{Stage: NewPlanStage(analyzers...)}}},
	}

	names := make([]string, 0, len(analyzers))
	if len(analyzers) > 0 {
		steps := make([]pipeline.Step, 0, len(analyzers))
		for _, a := range analyzers {
			names = append(names, a.Name())
			steps = append(steps, pipeline.Step{Stage: NewAnalysisStage(a), Optional: true})
		}
		groups = append(groups, pipeline.Group{Name: "analysis", Steps: steps})
	}

	groups = append(groups, pipeline.Group{
		Name:  "synthesis",
		Steps: []pipeline.Step{{Stage: NewSynthesisStage(names...)}},
	})
	if p != nil {
		groups = append(groups, pipeline.Group{
			Name:  "publish",
			Steps: []pipeline.Step{{Stage: NewPublishStage(p), Optional: true}},
		})
	}
	return pipeline.NewPlan(PlanName, groups...)
}
