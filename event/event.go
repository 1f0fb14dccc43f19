//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

// Package event defines the immutable records appended to a session:
// user messages and pipeline stage-group outcomes.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Object values identify what an event records.
const (
	// ObjectMessage is a plain message appended by a caller.
	ObjectMessage = "session.message"
	// ObjectStageGroup records the outcome of one pipeline stage group.
	ObjectStageGroup = "pipeline.stage_group"
	// ObjectCompletion records the terminal outcome of a pipeline run.
	ObjectCompletion = "pipeline.completion"
	// ObjectCancellation records a pipeline run stopped at a group boundary.
	ObjectCancellation = "pipeline.cancellation"
)

// Status values carried by stage outcomes and pipeline events.
const (
	// StatusSuccess marks a stage or group that produced its outputs.
	StatusSuccess = "success"
	// StatusWarning marks a group where only optional stages failed.
	StatusWarning = "warning"
	// StatusError marks a failed stage or a group with a failed required stage.
	StatusError = "error"
	// StatusCancelled marks a run stopped at a group boundary.
	StatusCancelled = "cancelled"
)

// StageOutcome describes one stage's result inside a stage-group event.
type StageOutcome struct {
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	ErrorKind string `json:"errorKind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Event is an immutable, ordered record of one occurrence within a session.
// Events are never updated once appended; deleting a session deletes its
// events.
type Event struct {
	// ID uniquely identifies the event within its session.
	ID string `json:"id"`
	// InvocationID groups all events appended by one pipeline run.
	InvocationID string `json:"invocationId"`
	// Author names the producer: a group name, a plan name, or "user".
	Author string `json:"author"`
	// Object identifies the event kind, e.g. ObjectStageGroup.
	Object string `json:"object,omitempty"`
	// Content carries free-form message text for ObjectMessage events.
	Content string `json:"content,omitempty"`
	// Status carries the group or terminal pipeline status.
	Status string `json:"status,omitempty"`
	// Stages carries the per-stage outcomes of a stage-group event.
	Stages []StageOutcome `json:"stages,omitempty"`
	// StateDelta is applied to session state when the event is appended.
	// The state write lands before the event record, under the session lock.
	StateDelta map[string][]byte `json:"stateDelta,omitempty"`
	// Timestamp is assigned strictly increasing per session on append.
	Timestamp time.Time `json:"timestamp"`
}

// Option configures an Event at construction time.
type Option func(*Event)

// WithObject sets the event kind.
func WithObject(object string) Option {
	return func(e *Event) {
		e.Object = object
	}
}

// WithContent sets the message content.
func WithContent(content string) Option {
	return func(e *Event) {
		e.Content = content
	}
}

// WithStatus sets the group or terminal status.
func WithStatus(status string) Option {
	return func(e *Event) {
		e.Status = status
	}
}

// WithStages sets the per-stage outcomes.
func WithStages(stages ...StageOutcome) Option {
	return func(e *Event) {
		e.Stages = stages
	}
}

// WithStateDelta sets the state changes to apply on append.
func WithStateDelta(delta map[string][]byte) Option {
	return func(e *Event) {
		e.StateDelta = delta
	}
}

// New creates an event with a generated ID and the current timestamp.
func New(invocationID, author string, opts ...Option) *Event {
	e := &Event{
		ID:           uuid.New().String(),
		InvocationID: invocationID,
		Author:       author,
		Timestamp:    time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	if e.Stages != nil {
		clone.Stages = make([]StageOutcome, len(e.Stages))
		copy(clone.Stages, e.Stages)
	}
	if e.StateDelta != nil {
		clone.StateDelta = make(map[string][]byte, len(e.StateDelta))
		for k, v := range e.StateDelta {
			b := make([]byte, len(v))
			copy(b, v)
			clone.StateDelta[k] = b
		}
	}
	return &clone
}
