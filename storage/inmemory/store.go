//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

// Package inmemory implements the storage contract with process-local
// maps. It backs tests and local development; nothing survives a restart.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"trpc.group/trpc-go/trpc-reviewpipe-go/storage"
)

const backendName = "inmemory"

// sessionEntry holds one session record plus its append-ordered events.
type sessionEntry struct {
	record   *storage.Session
	events   []*storage.Event
	eventIDs map[string]struct{}
}

// Store implements storage.Store with nested in-process maps. A single
// RWMutex guards every operation, which makes each write atomic with
// respect to concurrent readers.
type Store struct {
	mu         sync.RWMutex
	appStates  map[string]*storage.AppState
	userStates map[string]map[string]*storage.UserState
	sessions   map[string]map[string]map[string]*sessionEntry
}

var _ storage.Store = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		appStates:  make(map[string]*storage.AppState),
		userStates: make(map[string]map[string]*storage.UserState),
		sessions:   make(map[string]map[string]map[string]*sessionEntry),
	}
}

// GetAppState returns the app state record, or storage.ErrNotFound.
func (s *Store) GetAppState(ctx context.Context, appName string) (*storage.AppState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.appStates[appName]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return state.Clone(), nil
}

// PutAppState upserts the app state record.
func (s *Store) PutAppState(ctx context.Context, state *storage.AppState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appStates[state.AppName] = state.Clone()
	return nil
}

// DeleteAppState removes the app state record. Missing records are a no-op.
func (s *Store) DeleteAppState(ctx context.Context, appName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.appStates, appName)
	return nil
}

// ListAppStates returns all app state records ordered by app name.
func (s *Store) ListAppStates(ctx context.Context) ([]*storage.AppState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make([]*storage.AppState, 0, len(s.appStates))
	for _, state := range s.appStates {
		states = append(states, state.Clone())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].AppName < states[j].AppName
	})
	return states, nil
}

// GetUserState returns the user state record, or storage.ErrNotFound.
func (s *Store) GetUserState(ctx context.Context, appName, userID string) (*storage.UserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.userStates[appName][userID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return state.Clone(), nil
}

// PutUserState upserts the user state record.
func (s *Store) PutUserState(ctx context.Context, state *storage.UserState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	users, ok := s.userStates[state.AppName]
	if !ok {
		users = make(map[string]*storage.UserState)
		s.userStates[state.AppName] = users
	}
	users[state.UserID] = state.Clone()
	return nil
}

// DeleteUserState removes the user state record. Missing records are a no-op.
func (s *Store) DeleteUserState(ctx context.Context, appName, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.userStates[appName], userID)
	return nil
}

// ListUserStates returns the app's user state records ordered by user id.
func (s *Store) ListUserStates(ctx context.Context, appName string) ([]*storage.UserState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := s.userStates[appName]
	states := make([]*storage.UserState, 0, len(users))
	for _, state := range users {
		states = append(states, state.Clone())
	}
	sort.Slice(states, func(i, j int) bool {
		return states[i].UserID < states[j].UserID
	})
	return states, nil
}

// GetSession returns the session record, or storage.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, appName, userID, sessionID string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[appName][userID][sessionID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return entry.record.Clone(), nil
}

// PutSession upserts the session record, keeping existing events and
// create time intact on update.
func (s *Store) PutSession(ctx context.Context, sess *storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[sess.AppName][sess.UserID][sess.ID]
	if !ok {
		users, ok := s.sessions[sess.AppName]
		if !ok {
			users = make(map[string]map[string]*sessionEntry)
			s.sessions[sess.AppName] = users
		}
		ids, ok := users[sess.UserID]
		if !ok {
			ids = make(map[string]*sessionEntry)
			users[sess.UserID] = ids
		}
		ids[sess.ID] = &sessionEntry{
			record:   sess.Clone(),
			eventIDs: make(map[string]struct{}),
		}
		return nil
	}
	updated := sess.Clone()
	updated.CreateTime = entry.record.CreateTime
	entry.record = updated
	return nil
}

// DeleteSession removes the session and all of its events in one locked
// operation. Missing sessions are a no-op.
func (s *Store) DeleteSession(ctx context.Context, appName, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions[appName][userID], sessionID)
	return nil
}

// ListSessions returns the user's sessions ordered by create time
// ascending, ties broken by session id.
func (s *Store) ListSessions(ctx context.Context, appName, userID string) ([]*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.sessions[appName][userID]
	sessions := make([]*storage.Session, 0, len(entries))
	for _, entry := range entries {
		sessions = append(sessions, entry.record.Clone())
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreateTime.Equal(sessions[j].CreateTime) {
			return sessions[i].CreateTime.Before(sessions[j].CreateTime)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

// AppendEvent inserts the event in append order. It returns
// storage.ErrNotFound when the owning session does not exist and an error
// on duplicate event ids.
func (s *Store) AppendEvent(ctx context.Context, evt *storage.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[evt.AppName][evt.UserID][evt.SessionID]
	if !ok {
		return storage.ErrNotFound
	}
	if _, exists := entry.eventIDs[evt.ID]; exists {
		return storage.NewError(backendName, "append event", errors.New("duplicate event id "+evt.ID))
	}
	entry.eventIDs[evt.ID] = struct{}{}
	entry.events = append(entry.events, evt.Clone())
	return nil
}

// ListEvents returns the session's events in append order, which equals
// timestamp ascending because timestamps are strictly increasing within a
// session.
func (s *Store) ListEvents(ctx context.Context, appName, userID, sessionID string) ([]*storage.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.sessions[appName][userID][sessionID]
	if !ok {
		return nil, nil
	}
	events := make([]*storage.Event, 0, len(entry.events))
	for _, evt := range entry.events {
		events = append(events, evt.Clone())
	}
	return events, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
