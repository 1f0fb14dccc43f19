//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

// Package storage defines the persistence contract for the four record
// kinds the review engine durably stores: app state, user state, sessions
// and events. Stores hold opaque blobs and carry no business logic; all
// encoding and timestamp policy lives in the session manager layered on
// top. Two backends ship with the module: an in-process map store
// (storage/inmemory) and a relational store (storage/database) covering
// embedded single-file and client/server deployments behind this contract.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound reports that a referenced record does not exist. It is
// distinguishable with errors.Is from any backend failure and is never
// silently defaulted.
var ErrNotFound = errors.New("storage: record not found")

// Error wraps a backend-specific failure with the backend name and the
// failing operation.
type Error struct {
	Backend string
	Op      string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("storage %s: %s failed: %v", e.Backend, e.Op, e.Err)
}

// Unwrap returns the underlying backend error.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a backend error with operation context.
func NewError(backend, op string, err error) *Error {
	return &Error{Backend: backend, Op: op, Err: err}
}

// AppState is the singleton configuration record for one application.
type AppState struct {
	AppName    string
	State      []byte
	UpdateTime time.Time
}

// Clone returns a deep copy of the record.
func (a *AppState) Clone() *AppState {
	if a == nil {
		return nil
	}
	clone := *a
	clone.State = cloneBytes(a.State)
	return &clone
}

// UserState is the per-(app, user) configuration record.
type UserState struct {
	AppName    string
	UserID     string
	State      []byte
	UpdateTime time.Time
}

// Clone returns a deep copy of the record.
func (u *UserState) Clone() *UserState {
	if u == nil {
		return nil
	}
	clone := *u
	clone.State = cloneBytes(u.State)
	return &clone
}

// Session is one persisted pipeline run. State holds the JSON-encoded
// shared state blob; the store never inspects it.
type Session struct {
	AppName    string
	UserID     string
	ID         string
	State      []byte
	CreateTime time.Time
	UpdateTime time.Time
}

// Clone returns a deep copy of the record.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.State = cloneBytes(s.State)
	return &clone
}

// Event is one append-only record within a session. EventData holds the
// JSON-encoded event payload.
type Event struct {
	AppName      string
	UserID       string
	SessionID    string
	ID           string
	InvocationID string
	Timestamp    time.Time
	EventData    []byte
}

// Clone returns a deep copy of the record.
func (e *Event) Clone() *Event {
	if e == nil {
		return nil
	}
	clone := *e
	clone.EventData = cloneBytes(e.EventData)
	return &clone
}

// Store is the persistence contract. Gets return ErrNotFound for missing
// records. Puts are atomic upserts: a concurrent reader observes either
// the previous record or the new one, never a torn write. Deletes are
// idempotent; deleting a session cascades to its events. Lists return
// records in the documented stable orders: sessions by create time
// ascending, events by timestamp ascending (append order), app states by
// app name, user states by user id.
type Store interface {
	GetAppState(ctx context.Context, appName string) (*AppState, error)
	PutAppState(ctx context.Context, state *AppState) error
	DeleteAppState(ctx context.Context, appName string) error
	ListAppStates(ctx context.Context) ([]*AppState, error)

	GetUserState(ctx context.Context, appName, userID string) (*UserState, error)
	PutUserState(ctx context.Context, state *UserState) error
	DeleteUserState(ctx context.Context, appName, userID string) error
	ListUserStates(ctx context.Context, appName string) ([]*UserState, error)

	GetSession(ctx context.Context, appName, userID, sessionID string) (*Session, error)
	PutSession(ctx context.Context, sess *Session) error
	DeleteSession(ctx context.Context, appName, userID, sessionID string) error
	ListSessions(ctx context.Context, appName, userID string) ([]*Session, error)

	// AppendEvent inserts, never overwrites. It returns ErrNotFound when
	// the owning session does not exist and an Error on duplicate ids.
	AppendEvent(ctx context.Context, evt *Event) error
	ListEvents(ctx context.Context, appName, userID, sessionID string) ([]*Event, error)

	Close() error
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	clone := make([]byte, len(b))
	copy(clone, b)
	return clone
}
