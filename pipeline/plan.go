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
	"errors"
	"fmt"
	"strings"
	"time"

	"trpc.group/trpc-go/trpc-reviewpipe-go/session"
)

// StateKeyContractViolations is the session state key under which the
// orchestrator records dropped writes. Stages may not declare it.
const StateKeyContractViolations = "contract_violations"

// Step is one stage inside a group, with its failure policy and an
// optional per-stage timeout.
type Step struct {
	Stage Stage
	// Optional marks a stage whose failure is recorded without halting the
	// plan. Required stages (the default) halt the plan on failure.
	Optional bool
	// Timeout bounds one stage run. Zero means no per-stage timeout.
	Timeout time.Duration
}

// Group is one unit of plan execution: a single step, or several steps
// launched together with a join barrier before the next group.
type Group struct {
	// Name identifies the group in events and logs.
	Name  string
	Steps []Step
	// Timeout bounds the whole group including the join. Zero means no
	// group timeout.
	Timeout time.Duration
}

// Plan is a static, validated sequence of stage groups. Build one with
// NewPlan once and reuse it across runs; a Plan is immutable after
// construction.
type Plan struct {
	name   string
	groups []Group
}

// NewPlan validates the groups and builds a named plan. Validation enforces
// the declared-key contract statically: stage names must be unique across
// the plan, concurrent stages of one group must declare disjoint outputs,
// and no stage may declare an output in the app:, user:, or reserved
// namespaces.
func NewPlan(name string, groups ...Group) (*Plan, error) {
	if name == "" {
		return nil, errors.New("pipeline: plan needs a name")
	}
	if len(groups) == 0 {
		return nil, errors.New("pipeline: plan needs at least one group")
	}
	stageNames := make(map[string]struct{})
	groupNames := make(map[string]struct{})
	for gi, group := range groups {
		if group.Name == "" {
			return nil, fmt.Errorf("pipeline: group %d has no name", gi)
		}
		if _, ok := groupNames[group.Name]; ok {
			return nil, fmt.Errorf("pipeline: duplicate group name %s", group.Name)
		}
		groupNames[group.Name] = struct{}{}
		if len(group.Steps) == 0 {
			return nil, fmt.Errorf("pipeline: group %s has no steps", group.Name)
		}

		outputs := make(map[string]string) // key -> declaring stage
		for _, step := range group.Steps {
			if step.Stage == nil {
				return nil, fmt.Errorf("pipeline: group %s has a nil stage", group.Name)
			}
			stageName := step.Stage.Name()
			if stageName == "" {
				return nil, fmt.Errorf("pipeline: group %s has a stage with no name", group.Name)
			}
			if _, ok := stageNames[stageName]; ok {
				return nil, fmt.Errorf("pipeline: duplicate stage name %s", stageName)
			}
			stageNames[stageName] = struct{}{}

			for _, key := range step.Stage.Outputs() {
				if err := checkOutputKey(stageName, key); err != nil {
					return nil, err
				}
				if earlier, ok := outputs[key]; ok && len(group.Steps) > 1 {
					return nil, &ContractViolation{
						Stage:  stageName,
						Key:    key,
						Reason: fmt.Sprintf("output also declared by concurrent stage %s", earlier),
					}
				}
				outputs[key] = stageName
			}
		}
	}
	copied := make([]Group, len(groups))
	copy(copied, groups)
	return &Plan{name: name, groups: copied}, nil
}

// Name returns the plan's name. Run-level events carry it as their author.
func (p *Plan) Name() string {
	return p.name
}

// Groups returns the plan's groups in execution order.
func (p *Plan) Groups() []Group {
	groups := make([]Group, len(p.groups))
	copy(groups, p.groups)
	return groups
}

func checkOutputKey(stage, key string) error {
	if key == "" {
		return fmt.Errorf("pipeline: stage %s declares an empty output key", stage)
	}
	if key == StateKeyContractViolations {
		return fmt.Errorf("pipeline: stage %s declares reserved output key %s", stage, key)
	}
	if strings.HasPrefix(key, session.StateAppPrefix) || strings.HasPrefix(key, session.StateUserPrefix) {
		return fmt.Errorf("pipeline: stage %s declares scoped output key %s; app and user state are read-only to stages", stage, key)
	}
	return nil
}
