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
	"sort"
	"strings"

	"trpc.group/trpc-go/trpc-reviewpipe-go/pipeline"
)

// StageSynthesis is the name of the report synthesis stage.
const StageSynthesis = "report_synthesis"

// NewSynthesisStage builds the stage that assembles the final markdown
// report from the PR metadata, the change statistics, and whatever analysis
// results are present in state. Analyzers that left no result are listed as
// skipped. The stage is plain data plumbing; it generates no analysis text
// of its own.
func NewSynthesisStage(analyzers ...string) pipeline.Stage {
	inputs := []string{
		StateKeyPRMetadata,
		StateKeyPRStats,
		StateKeyExecutionPlan,
		StateKeyAnalysisProgress,
	}
	for _, name := range analyzers {
		inputs = append(inputs, AnalysisStateKey(name))
	}
	outputs := []string{StateKeyFinalReport, StateKeyAnalysisProgress}
	return pipeline.NewStage(StageSynthesis, inputs, outputs,
		func(_ context.Context, in pipeline.State) (pipeline.StateDelta, error) {
			var meta Metadata
			if data, ok := in[StateKeyPRMetadata]; ok {
				if err := json.Unmarshal(data, &meta); err != nil {
					return nil, fmt.Errorf("decode %s: %w", StateKeyPRMetadata, err)
				}
			}
			var stats Stats
			if data, ok := in[StateKeyPRStats]; ok {
				if err := json.Unmarshal(data, &stats); err != nil {
					return nil, fmt.Errorf("decode %s: %w", StateKeyPRStats, err)
				}
			}

			var analyses []*Analysis
			var completed, skipped []string
			for _, name := range analyzers {
				data, ok := in[AnalysisStateKey(name)]
				if !ok {
					skipped = append(skipped, name)
					continue
				}
				var analysis Analysis
				if err := json.Unmarshal(data, &analysis); err != nil {
					return nil, fmt.Errorf("decode %s analysis: %w", name, err)
				}
				analyses = append(analyses, &analysis)
				completed = append(completed, name)
			}

			report := renderReport(meta, stats, analyses, skipped)
			reportData, err := json.Marshal(report)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", StateKeyFinalReport, err)
			}

			progress := Progress{Completed: completed, Skipped: skipped}
			if data, ok := in[StateKeyAnalysisProgress]; ok {
				var prior Progress
				if err := json.Unmarshal(data, &prior); err == nil {
					progress.Planned = prior.Planned
				}
			}
			progressData, err := json.Marshal(progress)
			if err != nil {
				return nil, fmt.Errorf("encode %s: %w", StateKeyAnalysisProgress, err)
			}

			return pipeline.StateDelta{
				StateKeyFinalReport:      reportData,
				StateKeyAnalysisProgress: progressData,
			}, nil
		})
}

func renderReport(meta Metadata, stats Stats, analyses []*Analysis, skipped []string) string {
	var b strings.Builder
	b.WriteString("# Code Review Report\n")

	if meta.Number > 0 {
		fmt.Fprintf(&b, "\n## PR #%d: %s\n\n", meta.Number, meta.Title)
		if meta.Author != "" {
			fmt.Fprintf(&b, "- Author: %s\n", meta.Author)
		}
		if meta.BaseBranch != "" || meta.HeadBranch != "" {
			fmt.Fprintf(&b, "- Branches: %s <- %s\n", meta.BaseBranch, meta.HeadBranch)
		}
		fmt.Fprintf(&b, "- Changes: %d files, +%d/-%d\n",
			stats.TotalFiles, stats.TotalAdditions, stats.TotalDeletions)
		if len(stats.Languages) > 0 {
			fmt.Fprintf(&b, "- Languages: %s\n", formatCounts(stats.Languages))
		}
	}

	if total, severity := countFindings(analyses); total > 0 {
		fmt.Fprintf(&b, "\nTotal findings: %d (%s)\n", total, formatCounts(severity))
	}

	for _, analysis := range analyses {
		fmt.Fprintf(&b, "\n## %s\n", analysisTitle(analysis.Analyzer))
		if analysis.Summary != "" {
			fmt.Fprintf(&b, "\n%s\n", analysis.Summary)
		}
		for _, f := range analysis.Findings {
			b.WriteString("\n" + renderFinding(f))
		}
		if analysis.Report != "" {
			fmt.Fprintf(&b, "\n%s\n", analysis.Report)
		}
	}

	if len(skipped) > 0 {
		b.WriteString("\n## Skipped Analyses\n\n")
		for _, name := range skipped {
			fmt.Fprintf(&b, "- %s\n", name)
		}
	}
	return b.String()
}

func renderFinding(f Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "- **%s**", f.Severity)
	if f.File != "" {
		if f.Line > 0 {
			fmt.Fprintf(&b, " `%s:%d`", f.File, f.Line)
		} else {
			fmt.Fprintf(&b, " `%s`", f.File)
		}
	}
	fmt.Fprintf(&b, " %s\n", f.Title)
	if f.Detail != "" {
		fmt.Fprintf(&b, "  %s\n", f.Detail)
	}
	if f.Suggestion != "" {
		fmt.Fprintf(&b, "  Suggestion: %s\n", f.Suggestion)
	}
	return b.String()
}

func countFindings(analyses []*Analysis) (int, map[string]int) {
	total := 0
	severity := make(map[string]int)
	for _, a := range analyses {
		total += len(a.Findings)
		for _, f := range a.Findings {
			severity[f.Severity]++
		}
	}
	return total, severity
}

// formatCounts renders a count map as "k1: 2, k2: 1" with sorted keys so
// report output is stable.
func formatCounts(counts map[string]int) string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %d", k, counts[k]))
	}
	return strings.Join(parts, ", ")
}

// analysisTitle turns an analyzer name like "code_quality" into
// "Code Quality Analysis".
func analysisTitle(name string) string {
	words := strings.Split(name, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ") + " Analysis"
}
