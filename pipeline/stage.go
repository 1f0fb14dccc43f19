//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

// Package pipeline runs a validated plan of stage groups against one
// session. Stages declare the state keys they read and write; the
// orchestrator enforces that contract, persists state after every group,
// and appends an event per group so a run can be audited from its session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
)

// State is the read view handed to a stage: only its declared input keys,
// deep-copied from the working state. Values hold serialized JSON.
type State map[string][]byte

// StateDelta is the set of state keys a stage writes back. Keys outside the
// stage's declared output set are dropped and reported.
type StateDelta map[string][]byte

// Stage is a unit of pipeline work with a declared input/output key
// contract over session state.
type Stage interface {
	// Name identifies the stage in events, errors, and state error keys.
	Name() string
	// Inputs lists the state keys the stage reads.
	Inputs() []string
	// Outputs lists the state keys the stage may write.
	Outputs() []string
	// Run executes the stage against its input snapshot and returns the
	// keys it writes. A nil delta with a nil error is a valid empty result.
	Run(ctx context.Context, state State) (StateDelta, error)
}

// funcStage adapts a plain function to the Stage interface.
type funcStage struct {
	name    string
	inputs  []string
	outputs []string
	fn      func(ctx context.Context, state State) (StateDelta, error)
}

// NewStage builds a Stage from a function and its declared key contract.
func NewStage(
	name string,
	inputs, outputs []string,
	fn func(ctx context.Context, state State) (StateDelta, error),
) Stage {
	return &funcStage{name: name, inputs: inputs, outputs: outputs, fn: fn}
}

func (s *funcStage) Name() string      { return s.name }
func (s *funcStage) Inputs() []string  { return s.inputs }
func (s *funcStage) Outputs() []string { return s.outputs }
func (s *funcStage) Run(ctx context.Context, state State) (StateDelta, error) {
	return s.fn(ctx, state)
}

// ErrorKind classifies a stage failure.
type ErrorKind string

// Stage failure kinds.
const (
	KindRateLimited ErrorKind = "rate_limited"
	KindAuthFailed  ErrorKind = "auth_failed"
	KindNetwork     ErrorKind = "network"
	KindTimeout     ErrorKind = "timeout"
	KindInternal    ErrorKind = "internal"
)

// StageError is a classified stage failure. A required stage's StageError
// halts the plan; an optional stage's StageError is recorded in state and
// the plan continues.
type StageError struct {
	Stage string
	Kind  ErrorKind
	Err   error
}

// NewStageError creates a stage error with the given kind.
func NewStageError(stage string, kind ErrorKind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed (%s): %v", e.Stage, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error { return e.Err }

// asStageError normalizes any stage failure into a StageError attributed to
// the named stage. Errors already classified keep their kind; context
// deadline errors become timeouts; everything else is internal.
func asStageError(stage string, err error) *StageError {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		if stageErr.Stage == "" {
			stageErr.Stage = stage
		}
		return stageErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewStageError(stage, KindTimeout, err)
	}
	return NewStageError(stage, KindInternal, err)
}

// ContractViolation reports a stage writing outside its declared output
// keys, or two stages of one concurrent group writing the same key. The
// offending write is dropped, the violation is recorded in session state,
// and the run continues.
type ContractViolation struct {
	Stage  string `json:"stage"`  // stage whose write was dropped
	Key    string `json:"key"`    // conflicting state key
	Reason string `json:"reason"` // what the stage did wrong
}

// Error implements the error interface.
func (e *ContractViolation) Error() string {
	return fmt.Sprintf("contract violation by stage %s on key %s: %s", e.Stage, e.Key, e.Reason)
}

// Clone returns a deep copy of the state view.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	copied := make(State, len(s))
	for k, v := range s {
		value := make([]byte, len(v))
		copy(value, v)
		copied[k] = value
	}
	return copied
}
