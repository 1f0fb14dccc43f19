//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"trpc.group/trpc-go/trpc-reviewpipe-go/storage"
)

func TestAppStateCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	_, err := s.GetAppState(ctx, "reviewapp")
	require.ErrorIs(t, err, storage.ErrNotFound)

	now := time.Now().UTC()
	err = s.PutAppState(ctx, &storage.AppState{
		AppName:    "reviewapp",
		State:      []byte(`{"mode":"strict"}`),
		UpdateTime: now,
	})
	require.NoError(t, err)

	got, err := s.GetAppState(ctx, "reviewapp")
	require.NoError(t, err)
	require.Equal(t, `{"mode":"strict"}`, string(got.State))
	require.True(t, got.UpdateTime.Equal(now))

	// Upsert replaces the state.
	later := now.Add(time.Second)
	err = s.PutAppState(ctx, &storage.AppState{
		AppName:    "reviewapp",
		State:      []byte(`{"mode":"lenient"}`),
		UpdateTime: later,
	})
	require.NoError(t, err)
	got, err = s.GetAppState(ctx, "reviewapp")
	require.NoError(t, err)
	require.Equal(t, `{"mode":"lenient"}`, string(got.State))
	require.True(t, got.UpdateTime.Equal(later))

	require.NoError(t, s.PutAppState(ctx, &storage.AppState{AppName: "another", UpdateTime: now}))
	states, err := s.ListAppStates(ctx)
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.Equal(t, "another", states[0].AppName)
	require.Equal(t, "reviewapp", states[1].AppName)

	require.NoError(t, s.DeleteAppState(ctx, "reviewapp"))
	_, err = s.GetAppState(ctx, "reviewapp")
	require.ErrorIs(t, err, storage.ErrNotFound)
	// Deleting again is a no-op.
	require.NoError(t, s.DeleteAppState(ctx, "reviewapp"))
}

func TestUserStateCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	_, err := s.GetUserState(ctx, "reviewapp", "user1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	now := time.Now().UTC()
	require.NoError(t, s.PutUserState(ctx, &storage.UserState{
		AppName:    "reviewapp",
		UserID:     "user2",
		State:      []byte(`{"lang":"go"}`),
		UpdateTime: now,
	}))
	require.NoError(t, s.PutUserState(ctx, &storage.UserState{
		AppName:    "reviewapp",
		UserID:     "user1",
		State:      []byte(`{"lang":"py"}`),
		UpdateTime: now,
	}))

	got, err := s.GetUserState(ctx, "reviewapp", "user1")
	require.NoError(t, err)
	require.Equal(t, `{"lang":"py"}`, string(got.State))

	states, err := s.ListUserStates(ctx, "reviewapp")
	require.NoError(t, err)
	require.Len(t, states, 2)
	require.Equal(t, "user1", states[0].UserID)
	require.Equal(t, "user2", states[1].UserID)

	require.NoError(t, s.DeleteUserState(ctx, "reviewapp", "user1"))
	_, err = s.GetUserState(ctx, "reviewapp", "user1")
	require.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSessionCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	_, err := s.GetSession(ctx, "reviewapp", "user1", "s1")
	require.ErrorIs(t, err, storage.ErrNotFound)

	base := time.Now().UTC()
	for i, id := range []string{"s1", "s2", "s3"} {
		created := base.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.PutSession(ctx, &storage.Session{
			AppName:    "reviewapp",
			UserID:     "user1",
			ID:         id,
			State:      []byte(`{}`),
			CreateTime: created,
			UpdateTime: created,
		}))
	}

	got, err := s.GetSession(ctx, "reviewapp", "user1", "s2")
	require.NoError(t, err)
	require.Equal(t, "s2", got.ID)
	require.True(t, got.CreateTime.Equal(got.UpdateTime))

	sessions, err := s.ListSessions(ctx, "reviewapp", "user1")
	require.NoError(t, err)
	require.Len(t, sessions, 3)
	require.Equal(t, "s1", sessions[0].ID)
	require.Equal(t, "s2", sessions[1].ID)
	require.Equal(t, "s3", sessions[2].ID)

	// Other scopes are empty, not errors.
	sessions, err = s.ListSessions(ctx, "reviewapp", "user2")
	require.NoError(t, err)
	require.Empty(t, sessions)

	require.NoError(t, s.DeleteSession(ctx, "reviewapp", "user1", "s2"))
	_, err = s.GetSession(ctx, "reviewapp", "user1", "s2")
	require.ErrorIs(t, err, storage.ErrNotFound)
	// Deleting again is a no-op.
	require.NoError(t, s.DeleteSession(ctx, "reviewapp", "user1", "s2"))
}

func TestPutSessionKeepsCreateTime(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	created := time.Now().UTC()
	require.NoError(t, s.PutSession(ctx, &storage.Session{
		AppName:    "reviewapp",
		UserID:     "user1",
		ID:         "s1",
		State:      []byte(`{"a":1}`),
		CreateTime: created,
		UpdateTime: created,
	}))

	updated := created.Add(time.Minute)
	require.NoError(t, s.PutSession(ctx, &storage.Session{
		AppName:    "reviewapp",
		UserID:     "user1",
		ID:         "s1",
		State:      []byte(`{"a":2}`),
		CreateTime: updated, // must be ignored on update
		UpdateTime: updated,
	}))

	got, err := s.GetSession(ctx, "reviewapp", "user1", "s1")
	require.NoError(t, err)
	require.Equal(t, `{"a":2}`, string(got.State))
	require.True(t, got.CreateTime.Equal(created))
	require.True(t, got.UpdateTime.Equal(updated))
}

func TestAppendAndListEvents(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	now := time.Now().UTC()
	err := s.AppendEvent(ctx, &storage.Event{
		AppName: "reviewapp", UserID: "user1", SessionID: "missing", ID: "e1", Timestamp: now,
	})
	require.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.PutSession(ctx, &storage.Session{
		AppName: "reviewapp", UserID: "user1", ID: "s1",
		State: []byte(`{}`), CreateTime: now, UpdateTime: now,
	}))

	for i, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, s.AppendEvent(ctx, &storage.Event{
			AppName:      "reviewapp",
			UserID:       "user1",
			SessionID:    "s1",
			ID:           id,
			InvocationID: "inv-1",
			Timestamp:    now.Add(time.Duration(i) * time.Millisecond),
			EventData:    []byte(`{"seq":"` + id + `"}`),
		}))
	}

	// Duplicate ids are rejected.
	err = s.AppendEvent(ctx, &storage.Event{
		AppName: "reviewapp", UserID: "user1", SessionID: "s1", ID: "e2", Timestamp: now,
	})
	require.Error(t, err)
	var storeErr *storage.Error
	require.ErrorAs(t, err, &storeErr)

	events, err := s.ListEvents(ctx, "reviewapp", "user1", "s1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	require.Equal(t, "e1", events[0].ID)
	require.Equal(t, "e2", events[1].ID)
	require.Equal(t, "e3", events[2].ID)
}

func TestDeleteSessionCascadesEvents(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	now := time.Now().UTC()
	for _, id := range []string{"s1", "s2"} {
		require.NoError(t, s.PutSession(ctx, &storage.Session{
			AppName: "reviewapp", UserID: "user1", ID: id,
			State: []byte(`{}`), CreateTime: now, UpdateTime: now,
		}))
		require.NoError(t, s.AppendEvent(ctx, &storage.Event{
			AppName: "reviewapp", UserID: "user1", SessionID: id, ID: id + "-e1", Timestamp: now,
		}))
	}

	require.NoError(t, s.DeleteSession(ctx, "reviewapp", "user1", "s1"))

	events, err := s.ListEvents(ctx, "reviewapp", "user1", "s1")
	require.NoError(t, err)
	require.Empty(t, events)

	// The sibling session keeps its events.
	events, err = s.ListEvents(ctx, "reviewapp", "user1", "s2")
	require.NoError(t, err)
	require.Len(t, events, 1)
}

func TestRecordsAreIsolatedCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	defer s.Close()

	now := time.Now().UTC()
	in := &storage.Session{
		AppName: "reviewapp", UserID: "user1", ID: "s1",
		State: []byte(`{"a":1}`), CreateTime: now, UpdateTime: now,
	}
	require.NoError(t, s.PutSession(ctx, in))

	// Mutating the caller's record after Put must not change the store.
	in.State[2] = 'X'
	got, err := s.GetSession(ctx, "reviewapp", "user1", "s1")
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(got.State))

	// Mutating a returned record must not change the store either.
	got.State[2] = 'X'
	again, err := s.GetSession(ctx, "reviewapp", "user1", "s1")
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, string(again.State))
}
