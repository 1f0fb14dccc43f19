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
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-reviewpipe-go/event"
	"trpc.group/trpc-go/trpc-reviewpipe-go/log"
	"trpc.group/trpc-go/trpc-reviewpipe-go/session"
)

// Status is the terminal status of one pipeline run.
type Status string

// Terminal run statuses.
const (
	// StatusCompleted means every group ran and every stage succeeded.
	StatusCompleted Status = "completed"
	// StatusCompletedWithWarnings means the run finished but optional
	// stages failed or contract violations were recorded.
	StatusCompletedWithWarnings Status = "completed_with_warnings"
	// StatusFailed means a required stage failed and the plan halted.
	// State committed by earlier groups remains intact.
	StatusFailed Status = "failed"
	// StatusCancelled means the run stopped at a group boundary.
	StatusCancelled Status = "cancelled"
)

// Result reports the terminal outcome of one pipeline run.
type Result struct {
	// InvocationID groups the events this run appended.
	InvocationID string
	// Status is the terminal run status.
	Status Status
	// GroupsRun counts the groups that committed, including a failed one.
	GroupsRun int
	// Warnings lists optional-stage failures and contract violations.
	Warnings []string
	// Err is the required-stage failure that halted a failed run.
	Err *StageError
	// State is the session state after the run.
	State session.StateMap
}

// Orchestrator executes validated plans against sessions. Stage failures
// surface through the Result; Run returns a non-nil error only when the
// run itself could not proceed (bad arguments, session load or persistence
// failures).
type Orchestrator struct {
	service session.Service
}

// New creates an orchestrator on top of a session service.
func New(service session.Service) *Orchestrator {
	return &Orchestrator{service: service}
}

// Run executes the plan against the keyed session, group by group. After
// every group it persists the merged state and appends one event recording
// the group's outcome, so progress is observable and survives a halt.
// Cancellation is honored at group boundaries: in-flight stages are not
// interrupted mid-call, but their results are discarded.
func (o *Orchestrator) Run(ctx context.Context, key session.Key, plan *Plan) (*Result, error) {
	if plan == nil {
		return nil, errors.New("pipeline: plan is nil")
	}
	if err := key.CheckSessionKey(); err != nil {
		return nil, err
	}
	sess, err := o.service.GetSession(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load session: %w", err)
	}

	result := &Result{
		InvocationID: uuid.New().String(),
		Status:       StatusCompleted,
	}
	working := State(sess.State.Clone())
	if working == nil {
		working = make(State)
	}
	log.Infof("pipeline run %s started: plan=%s session=%s groups=%d",
		result.InvocationID, plan.name, key.SessionID, len(plan.groups))

	for _, group := range plan.groups {
		if ctx.Err() != nil {
			return o.cancelRun(ctx, key, plan.name, group.Name, working, result)
		}
		out := o.runGroup(ctx, group, working)
		if out.cancelled {
			return o.cancelRun(ctx, key, plan.name, group.Name, working, result)
		}

		result.GroupsRun++
		recordViolations(group.Name, out, working)
		result.Warnings = append(result.Warnings, out.warnings...)
		for k, v := range out.delta {
			working[k] = v
		}
		if err := o.commitGroup(ctx, key, result.InvocationID, group.Name, out); err != nil {
			return nil, err
		}

		if out.err != nil {
			log.Errorf("pipeline run %s failed at group %s: %v",
				result.InvocationID, group.Name, out.err)
			result.Status = StatusFailed
			result.Err = out.err
			result.State = session.StateMap(working).Clone()
			return result, nil
		}
	}

	status := event.StatusSuccess
	if len(result.Warnings) > 0 {
		result.Status = StatusCompletedWithWarnings
		status = event.StatusWarning
	}
	completion := event.New(result.InvocationID, plan.name,
		event.WithObject(event.ObjectCompletion),
		event.WithStatus(status),
		event.WithContent(fmt.Sprintf("pipeline run finished: %s", result.Status)))
	if err := o.service.AppendEvent(ctx, key, completion); err != nil {
		return nil, fmt.Errorf("pipeline: record completion: %w", err)
	}

	result.State = session.StateMap(working).Clone()
	log.Infof("pipeline run %s finished: status=%s groups=%d warnings=%d",
		result.InvocationID, result.Status, result.GroupsRun, len(result.Warnings))
	return result, nil
}

// groupOutcome is the joined result of one group run.
type groupOutcome struct {
	delta      StateDelta
	outcomes   []event.StageOutcome
	violations []*ContractViolation
	warnings   []string
	err        *StageError
	cancelled  bool
}

// stageResult carries one stage's return values across the join barrier.
type stageResult struct {
	delta StateDelta
	err   error
}

// runGroup launches the group's stages against the same pre-group state
// snapshot and joins them. Stages left unfinished when the group timeout
// expires count as timed out; a cancellation observed before the join
// completes discards all results.
func (o *Orchestrator) runGroup(ctx context.Context, group Group, working State) *groupOutcome {
	groupCtx := ctx
	groupCancel := func() {}
	if group.Timeout > 0 {
		groupCtx, groupCancel = context.WithTimeout(ctx, group.Timeout)
	}
	defer groupCancel()

	// Buffered channels keep abandoned stages from leaking after a timeout.
	results := make([]chan stageResult, len(group.Steps))
	for i, step := range group.Steps {
		results[i] = make(chan stageResult, 1)
		go o.runStage(groupCtx, step, snapshotInputs(working, step.Stage.Inputs()), results[i])
	}

	collected := make([]*stageResult, len(group.Steps))
	timedOut := false
	for i := range group.Steps {
		if !timedOut {
			select {
			case r := <-results[i]:
				collected[i] = &r
				continue
			case <-groupCtx.Done():
				if ctx.Err() != nil {
					return &groupOutcome{cancelled: true}
				}
				timedOut = true
			}
		}
		// Group timeout: collect stages that already finished, leave the
		// rest nil so the merge treats them as timed out.
		select {
		case r := <-results[i]:
			collected[i] = &r
		default:
		}
	}
	if ctx.Err() != nil {
		return &groupOutcome{cancelled: true}
	}
	return mergeGroup(group, collected)
}

// runStage runs one stage with its per-stage timeout and panic isolation.
func (o *Orchestrator) runStage(ctx context.Context, step Step, inputs State, result chan<- stageResult) {
	name := step.Stage.Name()
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("panic in stage %s: %v\n%s", name, r, string(debug.Stack()))
			result <- stageResult{err: NewStageError(name, KindInternal, fmt.Errorf("panic: %v", r))}
		}
	}()

	stageCtx := ctx
	cancel := func() {}
	if step.Timeout > 0 {
		stageCtx, cancel = context.WithTimeout(ctx, step.Timeout)
	}
	defer cancel()

	delta, err := step.Stage.Run(stageCtx, inputs)
	// A stage may ignore its context and return success after its
	// per-stage deadline expired. The timeout still counts.
	if err == nil && stageCtx.Err() != nil && ctx.Err() == nil {
		result <- stageResult{err: NewStageError(name, KindTimeout, stageCtx.Err())}
		return
	}
	result <- stageResult{delta: delta, err: err}
}

// mergeGroup folds the joined stage results into one group outcome in plan
// order. Writes outside a stage's declared outputs are dropped and recorded
// as contract violations; optional-stage failures land in the state under
// the stage's error key.
func mergeGroup(group Group, collected []*stageResult) *groupOutcome {
	out := &groupOutcome{delta: make(StateDelta)}
	for i, step := range group.Steps {
		name := step.Stage.Name()

		var stageErr *StageError
		r := collected[i]
		switch {
		case r == nil:
			stageErr = NewStageError(name, KindTimeout, context.DeadlineExceeded)
		case r.err != nil:
			stageErr = asStageError(name, r.err)
		}
		if stageErr != nil {
			out.outcomes = append(out.outcomes, event.StageOutcome{
				Stage:     name,
				Status:    event.StatusError,
				ErrorKind: string(stageErr.Kind),
				Error:     stageErr.Err.Error(),
			})
			if step.Optional {
				out.delta[name+"_error"] = jsonString(stageErr.Error())
				out.warnings = append(out.warnings, stageErr.Error())
				log.Warnf("optional stage %s failed: %v", name, stageErr)
			} else if out.err == nil {
				out.err = stageErr
			}
			continue
		}

		declared := make(map[string]struct{}, len(step.Stage.Outputs()))
		for _, k := range step.Stage.Outputs() {
			declared[k] = struct{}{}
		}
		for k, v := range r.delta {
			if _, ok := declared[k]; !ok {
				out.violations = append(out.violations, &ContractViolation{
					Stage:  name,
					Key:    k,
					Reason: "write outside declared outputs",
				})
				continue
			}
			out.delta[k] = v
		}
		out.outcomes = append(out.outcomes, event.StageOutcome{
			Stage:  name,
			Status: event.StatusSuccess,
		})
	}
	return out
}

// violationRecord is the JSON shape stored under StateKeyContractViolations.
type violationRecord struct {
	Group  string `json:"group"`
	Stage  string `json:"stage"`
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// recordViolations appends the group's contract violations to the conflict
// log kept in session state.
func recordViolations(groupName string, out *groupOutcome, working State) {
	if len(out.violations) == 0 {
		return
	}
	var records []violationRecord
	if data, ok := working[StateKeyContractViolations]; ok {
		// A decode failure starts a fresh log rather than losing the run.
		_ = json.Unmarshal(data, &records)
	}
	for _, v := range out.violations {
		log.Warnf("group %s: %v", groupName, v)
		out.warnings = append(out.warnings, v.Error())
		records = append(records, violationRecord{
			Group:  groupName,
			Stage:  v.Stage,
			Key:    v.Key,
			Reason: v.Reason,
		})
	}
	data, err := json.Marshal(records)
	if err != nil {
		return
	}
	out.delta[StateKeyContractViolations] = data
}

// commitGroup persists the group's merged writes and appends the event
// describing its outcome.
func (o *Orchestrator) commitGroup(
	ctx context.Context,
	key session.Key,
	invocationID, groupName string,
	out *groupOutcome,
) error {
	_, err := o.service.UpdateState(ctx, key, func(state session.StateMap) error {
		for k, v := range out.delta {
			state[k] = v
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("pipeline: persist group %s: %w", groupName, err)
	}

	status := event.StatusSuccess
	switch {
	case out.err != nil:
		status = event.StatusError
	case len(out.warnings) > 0:
		status = event.StatusWarning
	}
	evt := event.New(invocationID, groupName,
		event.WithObject(event.ObjectStageGroup),
		event.WithStatus(status),
		event.WithStages(out.outcomes...),
		event.WithStateDelta(out.delta),
		event.WithContent(fmt.Sprintf("stage group %s: %s", groupName, status)))
	if err := o.service.AppendEvent(ctx, key, evt); err != nil {
		return fmt.Errorf("pipeline: record group %s: %w", groupName, err)
	}
	return nil
}

// cancelRun records a cancellation observed at the given group boundary.
// State already committed by earlier groups is left as-is.
func (o *Orchestrator) cancelRun(
	ctx context.Context,
	key session.Key,
	planName, groupName string,
	working State,
	result *Result,
) (*Result, error) {
	evt := event.New(result.InvocationID, planName,
		event.WithObject(event.ObjectCancellation),
		event.WithStatus(event.StatusCancelled),
		event.WithContent(fmt.Sprintf("run cancelled at group %s", groupName)))
	if err := o.service.AppendEvent(context.WithoutCancel(ctx), key, evt); err != nil {
		return nil, fmt.Errorf("pipeline: record cancellation: %w", err)
	}

	log.Infof("pipeline run %s cancelled at group %s after %d groups",
		result.InvocationID, groupName, result.GroupsRun)
	result.Status = StatusCancelled
	result.State = session.StateMap(working).Clone()
	return result, nil
}

// snapshotInputs copies the stage's declared input keys out of the working
// state. Keys absent from the state are absent from the snapshot.
func snapshotInputs(working State, inputs []string) State {
	snapshot := make(State, len(inputs))
	for _, k := range inputs {
		if v, ok := working[k]; ok {
			value := make([]byte, len(v))
			copy(value, v)
			snapshot[k] = value
		}
	}
	return snapshot
}

func jsonString(s string) []byte {
	data, _ := json.Marshal(s)
	return data
}
