//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

// Package session provides the session data model and the Service contract
// that owns session lifecycle, shared pipeline state, and event history.
package session

import (
	"context"
	"errors"
	"time"

	"trpc.group/trpc-go/trpc-reviewpipe-go/event"
)

// StateMap is a map of state key-value pairs. Values hold serialized JSON.
type StateMap map[string][]byte

// Clone returns a deep copy of the state map.
func (m StateMap) Clone() StateMap {
	if m == nil {
		return nil
	}
	copied := make(StateMap, len(m))
	for k, v := range m {
		value := make([]byte, len(v))
		copy(value, v)
		copied[k] = value
	}
	return copied
}

// State key prefixes route writes to the owning scope. Keys with the app or
// user prefix live in AppState/UserState and appear in the merged session
// view; keys with the temp prefix stay on the session itself.
const (
	// StateAppPrefix is the prefix for app-scoped state keys.
	StateAppPrefix = "app:"
	// StateUserPrefix is the prefix for user-scoped state keys.
	StateUserPrefix = "user:"
	// StateTempPrefix is the prefix for session-scoped ephemeral state keys.
	StateTempPrefix = "temp:"
)

var (
	// ErrAppNameRequired is the error for app name required.
	ErrAppNameRequired = errors.New("appName is required")
	// ErrUserIDRequired is the error for user id required.
	ErrUserIDRequired = errors.New("userID is required")
	// ErrSessionIDRequired is the error for session id required.
	ErrSessionIDRequired = errors.New("sessionID is required")
)

// Session is one persisted end-to-end pipeline run, scoped to an app and
// user. State carries the shared pipeline state blob; the merged view also
// exposes app-scoped keys under "app:" and user-scoped keys under "user:".
type Session struct {
	ID        string        `json:"id"`      // ID is the session id.
	AppName   string        `json:"appName"` // AppName is the app name.
	UserID    string        `json:"userID"`  // UserID is the user id.
	State     StateMap      `json:"state"`   // State is the merged session state.
	Events    []event.Event `json:"events"`  // Events is the session event history.
	UpdatedAt time.Time     `json:"updatedAt"`
	CreatedAt time.Time     `json:"createdAt"`
}

// Clone returns a copy of the session.
func (sess *Session) Clone() *Session {
	if sess == nil {
		return nil
	}
	copied := &Session{
		ID:        sess.ID,
		AppName:   sess.AppName,
		UserID:    sess.UserID,
		State:     sess.State.Clone(),
		UpdatedAt: sess.UpdatedAt,
		CreatedAt: sess.CreatedAt,
	}
	if sess.Events != nil {
		copied.Events = make([]event.Event, len(sess.Events))
		copy(copied.Events, sess.Events)
	}
	return copied
}

// Options is the options for getting a session.
type Options struct {
	EventNum  int       // EventNum is the number of recent events.
	EventTime time.Time // EventTime filters out events before this time.
}

// Option is the option for a session.
type Option func(*Options)

// WithEventNum is the option for the number of recent events.
func WithEventNum(num int) Option {
	return func(o *Options) {
		o.EventNum = num
	}
}

// WithEventTime is the option for the time of the recent events.
func WithEventTime(t time.Time) Option {
	return func(o *Options) {
		o.EventTime = t
	}
}

// Service is the interface that all session services must implement.
//
// Lookups for sessions that do not exist fail with an error satisfying
// errors.Is(err, storage.ErrNotFound); callers never receive a nil session
// with a nil error.
type Service interface {
	// CreateSession creates a new session. An empty key.SessionID asks the
	// service to generate one. The returned session carries the merged
	// app/user state view.
	CreateSession(ctx context.Context, key Key, state StateMap, options ...Option) (*Session, error)

	// GetSession gets a session with its event history. Event filtering
	// options bound how much history is loaded.
	GetSession(ctx context.Context, key Key, options ...Option) (*Session, error)

	// ListSessions lists the sessions of a user ordered by creation time.
	// Listed sessions omit event history.
	ListSessions(ctx context.Context, userKey UserKey, options ...Option) ([]*Session, error)

	// DeleteSession deletes a session and all of its events. Deleting a
	// session that does not exist is not an error.
	DeleteSession(ctx context.Context, key Key, options ...Option) error

	// UpdateState loads the session state, applies mutator to it, and
	// persists the result. Concurrent updates to the same session id are
	// serialized; updates to different sessions proceed independently.
	// Mutated keys must not carry the app: or user: prefix.
	UpdateState(ctx context.Context, key Key, mutator func(StateMap) error) (*Session, error)

	// UpdateSessionState merges the given keys into the session state
	// without appending an event. Keys with app: or user: prefixes are not
	// allowed (use UpdateAppState/UpdateUserState instead).
	UpdateSessionState(ctx context.Context, key Key, state StateMap) error

	// AppendEvent appends an event to a session. The event's StateDelta is
	// applied to the session state before the event is persisted. Fails
	// with a not-found error if the session does not exist.
	AppendEvent(ctx context.Context, key Key, e *event.Event, options ...Option) error

	// UpdateAppState merges the given keys into the app-scoped state.
	UpdateAppState(ctx context.Context, appName string, state StateMap) error

	// ListAppStates gets the app-scoped state keys.
	ListAppStates(ctx context.Context, appName string) (StateMap, error)

	// DeleteAppState deletes one key from the app-scoped state.
	DeleteAppState(ctx context.Context, appName string, key string) error

	// UpdateUserState merges the given keys into the user-scoped state.
	UpdateUserState(ctx context.Context, userKey UserKey, state StateMap) error

	// ListUserStates gets the user-scoped state keys.
	ListUserStates(ctx context.Context, userKey UserKey) (StateMap, error)

	// DeleteUserState deletes one key from the user-scoped state.
	DeleteUserState(ctx context.Context, userKey UserKey, key string) error

	// Close closes the service.
	Close() error
}

// Key is the key for a session.
type Key struct {
	AppName   string // app name
	UserID    string // user id
	SessionID string // session id
}

// CheckSessionKey checks if a session key is valid.
func (s *Key) CheckSessionKey() error {
	return checkSessionKey(s.AppName, s.UserID, s.SessionID)
}

// CheckUserKey checks if a user key is valid.
func (s *Key) CheckUserKey() error {
	return checkUserKey(s.AppName, s.UserID)
}

// UserKey is the key for a user.
type UserKey struct {
	AppName string // app name
	UserID  string // user id
}

// CheckUserKey checks if a user key is valid.
func (s *UserKey) CheckUserKey() error {
	return checkUserKey(s.AppName, s.UserID)
}

func checkSessionKey(appName, userID, sessionID string) error {
	if appName == "" {
		return ErrAppNameRequired
	}
	if userID == "" {
		return ErrUserIDRequired
	}
	if sessionID == "" {
		return ErrSessionIDRequired
	}
	return nil
}

func checkUserKey(appName, userID string) error {
	if appName == "" {
		return ErrAppNameRequired
	}
	if userID == "" {
		return ErrUserIDRequired
	}
	return nil
}
