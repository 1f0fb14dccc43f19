//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewEvent(t *testing.T) {
	const (
		invocationID = "invocation-123"
		author       = "tester"
	)

	evt := New(invocationID, author)
	require.NotNil(t, evt)
	require.Equal(t, invocationID, evt.InvocationID)
	require.Equal(t, author, evt.Author)
	require.NotEmpty(t, evt.ID)
	require.WithinDuration(t, time.Now(), evt.Timestamp, 2*time.Second)
}

func TestNewEvent_WithOptions(t *testing.T) {
	sd := map[string][]byte{"k": []byte("v")}
	evt := New("inv-1", "review",
		WithObject(ObjectStageGroup),
		WithStatus("completed"),
		WithContent("group done"),
		WithStages(StageOutcome{Stage: "github_fetch", Status: "success"}),
		WithStateDelta(sd),
	)

	require.Equal(t, ObjectStageGroup, evt.Object)
	require.Equal(t, "completed", evt.Status)
	require.Equal(t, "group done", evt.Content)
	require.Len(t, evt.Stages, 1)
	require.Equal(t, "github_fetch", evt.Stages[0].Stage)
	require.Equal(t, "v", string(evt.StateDelta["k"]))
}

func TestEvent_Clone(t *testing.T) {
	evt := New("inv-2", "review",
		WithStages(
			StageOutcome{Stage: "security", Status: "success"},
			StageOutcome{Stage: "code_quality", Status: "error", ErrorKind: "timeout"},
		),
		WithStateDelta(map[string][]byte{"k": []byte("v")}),
	)

	clone := evt.Clone()
	require.NotNil(t, clone)
	require.NotSame(t, evt, clone)
	require.Equal(t, evt.InvocationID, clone.InvocationID)
	require.Equal(t, evt.Author, clone.Author)
	require.Equal(t, evt.Stages, clone.Stages)

	// Mutate the source and ensure the clone is unaffected.
	evt.StateDelta["k"][0] = 'X'
	evt.Stages[0].Status = "error"
	require.Equal(t, "v", string(clone.StateDelta["k"]))
	require.Equal(t, "success", clone.Stages[0].Status)
}

func TestEvent_CloneNil(t *testing.T) {
	var evt *Event
	require.Nil(t, evt.Clone())
}
