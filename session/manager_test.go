//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-reviewpipe-go/event"
	"trpc.group/trpc-go/trpc-reviewpipe-go/storage"
	"trpc.group/trpc-go/trpc-reviewpipe-go/storage/inmemory"
)

func newTestManager(t *testing.T, opts ...ManagerOption) *Manager {
	t.Helper()
	m := NewManager(inmemory.New(), opts...)
	t.Cleanup(func() { m.Close() })
	return m
}

func TestCreateAndGetSession(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	key := Key{AppName: "reviewapp", UserID: "alice", SessionID: "s1"}
	created, err := m.CreateSession(ctx, key, StateMap{"github_context": []byte(`{"pr":42}`)})
	require.NoError(t, err)
	require.Equal(t, "s1", created.ID)
	require.True(t, created.CreatedAt.Equal(created.UpdatedAt))

	got, err := m.GetSession(ctx, key)
	require.NoError(t, err)
	require.Equal(t, created.State, got.State)
	require.True(t, got.CreatedAt.Equal(got.UpdatedAt))
	require.JSONEq(t, `{"pr":42}`, string(got.State["github_context"]))
}

func TestCreateSessionGeneratesID(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	sess, err := m.CreateSession(ctx, Key{AppName: "reviewapp", UserID: "alice"}, nil)
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	_, err = m.GetSession(ctx, Key{AppName: "reviewapp", UserID: "alice", SessionID: sess.ID})
	require.NoError(t, err)
}

func TestCreateSessionRejectsScopedKeys(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.CreateSession(ctx, Key{AppName: "reviewapp", UserID: "alice"},
		StateMap{"app:mode": []byte(`"strict"`)})
	require.Error(t, err)

	_, err = m.CreateSession(ctx, Key{AppName: "reviewapp", UserID: "alice"},
		StateMap{"user:lang": []byte(`"go"`)})
	require.Error(t, err)
}

func TestGetSessionNotFound(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.GetSession(ctx, Key{AppName: "reviewapp", UserID: "alice", SessionID: "missing"})
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestKeyValidation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.CreateSession(ctx, Key{UserID: "alice"}, nil)
	require.ErrorIs(t, err, ErrAppNameRequired)
	_, err = m.GetSession(ctx, Key{AppName: "reviewapp", UserID: "alice"})
	require.ErrorIs(t, err, ErrSessionIDRequired)
	_, err = m.ListSessions(ctx, UserKey{AppName: "reviewapp"})
	require.ErrorIs(t, err, ErrUserIDRequired)
}

func TestListSessionsOrderedByCreation(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	for _, id := range []string{"s1", "s2", "s3"} {
		_, err := m.CreateSession(ctx, Key{AppName: "reviewapp", UserID: "alice", SessionID: id}, nil)
		require.NoError(t, err)
	}

	sessions, err := m.ListSessions(ctx, UserKey{AppName: "reviewapp", UserID: "alice"})
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	require.Equal(t, "s1", sessions[0].ID)
	require.Equal(t, "s2", sessions[1].ID)
	require.Equal(t, "s3", sessions[2].ID)
	for _, sess := range sessions {
		require.Empty(t, sess.Events)
	}
}

func TestUpdateStateAppliesMutatorsInOrder(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	key := Key{AppName: "reviewapp", UserID: "alice", SessionID: "s1"}
	_, err := m.CreateSession(ctx, key, StateMap{"counter": []byte(`0`)})
	require.NoError(t, err)

	const workers = 8
	const increments = 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < increments; j++ {
				_, err := m.UpdateState(ctx, key, func(state StateMap) error {
					var n int
					if err := json.Unmarshal(state["counter"], &n); err != nil {
						return err
					}
					value, err := json.Marshal(n + 1)
					if err != nil {
						return err
					}
					state["counter"] = value
					return nil
				})
				if err != nil {
					t.Error(err)
					return
				}
			}
		}()
	}
	wg.Wait()

	got, err := m.GetSession(ctx, key)
	require.NoError(t, err)
	var n int
	require.NoError(t, json.Unmarshal(got.State["counter"], &n))
	require.Equal(t, workers*increments, n)
}

func TestUpdateStateTimestamps(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	key := Key{AppName: "reviewapp", UserID: "alice", SessionID: "s1"}
	created, err := m.CreateSession(ctx, key, nil)
	require.NoError(t, err)

	updated, err := m.UpdateState(ctx, key, func(state StateMap) error {
		state["k"] = []byte(`"v"`)
		return nil
	})
	require.NoError(t, err)
	require.True(t, updated.UpdatedAt.After(created.UpdatedAt))
	require.True(t, updated.CreatedAt.Equal(created.CreatedAt))
}

func TestUpdateStateRejectsScopedKeys(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	key := Key{AppName: "reviewapp", UserID: "alice", SessionID: "s1"}
	_, err := m.CreateSession(ctx, key, nil)
	require.NoError(t, err)

	_, err = m.UpdateState(ctx, key, func(state StateMap) error {
		state["app:mode"] = []byte(`"strict"`)
		return nil
	})
	require.Error(t, err)

	err = m.UpdateSessionState(ctx, key, StateMap{"user:lang": []byte(`"go"`)})
	require.Error(t, err)
}

func TestUpdateStateNotFound(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	_, err := m.UpdateState(ctx, Key{AppName: "reviewapp", UserID: "alice", SessionID: "missing"},
		func(state StateMap) error { return nil })
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAppendEventAppliesStateDelta(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	key := Key{AppName: "reviewapp", UserID: "alice", SessionID: "s1"}
	_, err := m.CreateSession(ctx, key, nil)
	require.NoError(t, err)

	e := event.New("inv-1", "github_fetch",
		event.WithObject(event.ObjectStageGroup),
		event.WithStateDelta(map[string][]byte{
			"github_pr_data": []byte(`{"title":"fix"}`),
			"app:mode":       []byte(`"strict"`),
			"user:lang":      []byte(`"go"`),
		}))
	require.NoError(t, m.AppendEvent(ctx, key, e))

	got, err := m.GetSession(ctx, key)
	require.NoError(t, err)
	require.JSONEq(t, `{"title":"fix"}`, string(got.State["github_pr_data"]))
	// Scoped keys are routed to their stores and surface in the merged view.
	require.Equal(t, `"strict"`, string(got.State["app:mode"]))
	require.Equal(t, `"go"`, string(got.State["user:lang"]))
	require.Len(t, got.Events, 1)
	require.Equal(t, "inv-1", got.Events[0].InvocationID)

	appStates, err := m.ListAppStates(ctx, "reviewapp")
	require.NoError(t, err)
	require.Equal(t, `"strict"`, string(appStates["mode"]))
}

func TestAppendEventMissingSession(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	e := event.New("inv-1", "github_fetch")
	err := m.AppendEvent(ctx, Key{AppName: "reviewapp", UserID: "alice", SessionID: "missing"}, e)
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestAppendEventOrdering(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	key := Key{AppName: "reviewapp", UserID: "alice", SessionID: "s1"}
	_, err := m.CreateSession(ctx, key, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		e := event.New("inv-1", "planner", event.WithContent("step"))
		require.NoError(t, m.AppendEvent(ctx, key, e))
	}

	got, err := m.GetSession(ctx, key)
	require.NoError(t, err)
	require.Len(t, got.Events, 5)
	for i := 1; i < len(got.Events); i++ {
		require.True(t, got.Events[i].Timestamp.After(got.Events[i-1].Timestamp),
			"event %d must be after event %d", i, i-1)
	}
	// The session update time tracks the newest event.
	require.True(t, got.UpdatedAt.Equal(got.Events[len(got.Events)-1].Timestamp))
}

func TestGetSessionEventFiltering(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	key := Key{AppName: "reviewapp", UserID: "alice", SessionID: "s1"}
	_, err := m.CreateSession(ctx, key, nil)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		require.NoError(t, m.AppendEvent(ctx, key, event.New("inv-1", "planner")))
	}

	got, err := m.GetSession(ctx, key, WithEventNum(2))
	require.NoError(t, err)
	require.Len(t, got.Events, 2)

	full, err := m.GetSession(ctx, key)
	require.NoError(t, err)
	cutoff := full.Events[2].Timestamp
	got, err = m.GetSession(ctx, key, WithEventTime(cutoff))
	require.NoError(t, err)
	require.Len(t, got.Events, 2)
	require.True(t, got.Events[0].Timestamp.Equal(cutoff))
}

func TestSessionEventLimitOption(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, WithSessionEventLimit(3))

	key := Key{AppName: "reviewapp", UserID: "alice", SessionID: "s1"}
	_, err := m.CreateSession(ctx, key, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		require.NoError(t, m.AppendEvent(ctx, key, event.New("inv-1", "planner")))
	}

	got, err := m.GetSession(ctx, key)
	require.NoError(t, err)
	require.Len(t, got.Events, 3)

	// An explicit option overrides the configured limit.
	got, err = m.GetSession(ctx, key, WithEventNum(5))
	require.NoError(t, err)
	require.Len(t, got.Events, 5)
}

func TestScopedStateViewAndOps(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	require.NoError(t, m.UpdateAppState(ctx, "reviewapp", StateMap{"app:mode": []byte(`"strict"`)}))
	userKey := UserKey{AppName: "reviewapp", UserID: "alice"}
	require.NoError(t, m.UpdateUserState(ctx, userKey, StateMap{"lang": []byte(`"go"`)}))

	key := Key{AppName: "reviewapp", UserID: "alice", SessionID: "s1"}
	sess, err := m.CreateSession(ctx, key, nil)
	require.NoError(t, err)
	require.Equal(t, `"strict"`, string(sess.State["app:mode"]))
	require.Equal(t, `"go"`, string(sess.State["user:lang"]))

	// Scope validation mirrors the write routing.
	require.Error(t, m.UpdateAppState(ctx, "reviewapp", StateMap{"user:lang": []byte(`"go"`)}))
	require.Error(t, m.UpdateUserState(ctx, userKey, StateMap{"app:mode": []byte(`"x"`)}))

	states, err := m.ListUserStates(ctx, userKey)
	require.NoError(t, err)
	require.Equal(t, `"go"`, string(states["lang"]))

	require.NoError(t, m.DeleteUserState(ctx, userKey, "lang"))
	states, err = m.ListUserStates(ctx, userKey)
	require.NoError(t, err)
	require.Empty(t, states)

	require.NoError(t, m.DeleteAppState(ctx, "reviewapp", "mode"))
	appStates, err := m.ListAppStates(ctx, "reviewapp")
	require.NoError(t, err)
	require.Empty(t, appStates)
}

func TestDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	keep := Key{AppName: "reviewapp", UserID: "alice", SessionID: "keep"}
	drop := Key{AppName: "reviewapp", UserID: "alice", SessionID: "drop"}
	for _, key := range []Key{keep, drop} {
		_, err := m.CreateSession(ctx, key, nil)
		require.NoError(t, err)
		require.NoError(t, m.AppendEvent(ctx, key, event.New("inv-1", "planner")))
	}

	require.NoError(t, m.DeleteSession(ctx, drop))
	_, err := m.GetSession(ctx, drop)
	require.ErrorIs(t, err, storage.ErrNotFound)

	got, err := m.GetSession(ctx, keep)
	require.NoError(t, err)
	require.Len(t, got.Events, 1)

	// Deleting again is a no-op.
	require.NoError(t, m.DeleteSession(ctx, drop))
}
