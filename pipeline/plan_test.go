//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func noopStage(name string, outputs ...string) Stage {
	return NewStage(name, nil, outputs, func(ctx context.Context, in State) (StateDelta, error) {
		return nil, nil
	})
}

func TestNewPlanValid(t *testing.T) {
	plan, err := NewPlan("pr_review",
		Group{Name: "fetch", Steps: []Step{{Stage: noopStage("fetch_data", "pr_data")}}},
		Group{Name: "analyze", Steps: []Step{
			{Stage: noopStage("security", "security_analysis")},
			{Stage: noopStage("quality", "quality_analysis"), Optional: true},
		}},
	)
	require.NoError(t, err)
	require.Equal(t, "pr_review", plan.Name())

	groups := plan.Groups()
	require.Len(t, groups, 2)
	require.Equal(t, "fetch", groups[0].Name)
	require.Equal(t, "analyze", groups[1].Name)
	require.Len(t, groups[1].Steps, 2)

	// The returned slice is a copy.
	groups[0].Name = "mutated"
	require.Equal(t, "fetch", plan.Groups()[0].Name)
}

func TestNewPlanAllowsSequentialOverwrite(t *testing.T) {
	// The same output key in different groups is an ordinary overwrite.
	_, err := NewPlan("report",
		Group{Name: "draft", Steps: []Step{{Stage: noopStage("draft_report", "report")}}},
		Group{Name: "final", Steps: []Step{{Stage: noopStage("final_report", "report")}}},
	)
	require.NoError(t, err)
}

func TestNewPlanValidation(t *testing.T) {
	_, err := NewPlan("", Group{Name: "g", Steps: []Step{{Stage: noopStage("a")}}})
	require.ErrorContains(t, err, "plan needs a name")

	tests := []struct {
		name    string
		groups  []Group
		wantErr string
	}{
		{
			name:    "no groups",
			groups:  nil,
			wantErr: "at least one group",
		},
		{
			name:    "unnamed group",
			groups:  []Group{{Steps: []Step{{Stage: noopStage("a")}}}},
			wantErr: "has no name",
		},
		{
			name: "duplicate group name",
			groups: []Group{
				{Name: "g", Steps: []Step{{Stage: noopStage("a")}}},
				{Name: "g", Steps: []Step{{Stage: noopStage("b")}}},
			},
			wantErr: "duplicate group name g",
		},
		{
			name:    "group without steps",
			groups:  []Group{{Name: "g"}},
			wantErr: "has no steps",
		},
		{
			name:    "nil stage",
			groups:  []Group{{Name: "g", Steps: []Step{{}}}},
			wantErr: "nil stage",
		},
		{
			name:    "unnamed stage",
			groups:  []Group{{Name: "g", Steps: []Step{{Stage: noopStage("")}}}},
			wantErr: "stage with no name",
		},
		{
			name: "duplicate stage name across groups",
			groups: []Group{
				{Name: "g1", Steps: []Step{{Stage: noopStage("dup")}}},
				{Name: "g2", Steps: []Step{{Stage: noopStage("dup")}}},
			},
			wantErr: "duplicate stage name dup",
		},
		{
			name:    "empty output key",
			groups:  []Group{{Name: "g", Steps: []Step{{Stage: noopStage("a", "")}}}},
			wantErr: "empty output key",
		},
		{
			name:    "reserved output key",
			groups:  []Group{{Name: "g", Steps: []Step{{Stage: noopStage("a", StateKeyContractViolations)}}}},
			wantErr: "reserved output key",
		},
		{
			name:    "app-scoped output key",
			groups:  []Group{{Name: "g", Steps: []Step{{Stage: noopStage("a", "app:config")}}}},
			wantErr: "scoped output key",
		},
		{
			name:    "user-scoped output key",
			groups:  []Group{{Name: "g", Steps: []Step{{Stage: noopStage("a", "user:lang")}}}},
			wantErr: "scoped output key",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPlan("p", tt.groups...)
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestNewPlanRejectsConcurrentOutputCollision(t *testing.T) {
	_, err := NewPlan("p", Group{Name: "analyze", Steps: []Step{
		{Stage: noopStage("security", "findings")},
		{Stage: noopStage("quality", "findings")},
	}})
	require.Error(t, err)

	var violation *ContractViolation
	require.ErrorAs(t, err, &violation)
	require.Equal(t, "quality", violation.Stage)
	require.Equal(t, "findings", violation.Key)
	require.Contains(t, violation.Reason, "security")
}
