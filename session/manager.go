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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"trpc.group/trpc-go/trpc-reviewpipe-go/event"
	"trpc.group/trpc-go/trpc-reviewpipe-go/internal/keylock"
	"trpc.group/trpc-go/trpc-reviewpipe-go/storage"
)

// managerOptions is the configuration for the manager.
type managerOptions struct {
	lockStripes int
	eventLimit  int
}

// ManagerOption is the option for the manager.
type ManagerOption func(*managerOptions)

// WithLockStripes sets the number of session lock stripes.
func WithLockStripes(n int) ManagerOption {
	return func(o *managerOptions) {
		o.lockStripes = n
	}
}

// WithSessionEventLimit caps the number of events loaded by GetSession when
// the caller does not pass an explicit event filter. Zero means unlimited.
func WithSessionEventLimit(limit int) ManagerOption {
	return func(o *managerOptions) {
		o.eventLimit = limit
	}
}

// Manager implements Service on top of a storage.Store. It owns id
// generation, timestamp discipline, per-session write serialization, and
// the merged app/user state view; the store persists records verbatim.
//
// Session locks and scoped-state locks come from separate stripe sets:
// AppendEvent takes a state lock while holding a session lock, so the two
// must never share a stripe.
type Manager struct {
	store      storage.Store
	locks      *keylock.KeyLock
	stateLocks *keylock.KeyLock
	opts       managerOptions
}

var _ Service = (*Manager)(nil)

// NewManager creates a session manager backed by the given store.
func NewManager(store storage.Store, opts ...ManagerOption) *Manager {
	var o managerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		store:      store,
		locks:      keylock.New(o.lockStripes),
		stateLocks: keylock.New(o.lockStripes),
		opts:       o,
	}
}

// CreateSession creates a new session. An empty key.SessionID asks the
// manager to generate one. Initial state keys must not carry the app: or
// user: prefix; those scopes are written through UpdateAppState and
// UpdateUserState.
func (m *Manager) CreateSession(
	ctx context.Context,
	key Key,
	state StateMap,
	options ...Option,
) (*Session, error) {
	if err := key.CheckUserKey(); err != nil {
		return nil, err
	}
	if err := checkSessionStateKeys(state); err != nil {
		return nil, err
	}
	if key.SessionID == "" {
		key.SessionID = uuid.New().String()
	}

	data, err := marshalState(state)
	if err != nil {
		return nil, fmt.Errorf("session service: encode state: %w", err)
	}
	now := time.Now().UTC()
	record := &storage.Session{
		AppName:    key.AppName,
		UserID:     key.UserID,
		ID:         key.SessionID,
		State:      data,
		CreateTime: now,
		UpdateTime: now,
	}

	unlock := m.locks.Lock(sessionLockKey(key))
	defer unlock()
	if err := m.store.PutSession(ctx, record); err != nil {
		return nil, fmt.Errorf("session service: create session: %w", err)
	}
	return m.buildSession(ctx, record, nil)
}

// GetSession gets a session with its event history.
func (m *Manager) GetSession(ctx context.Context, key Key, options ...Option) (*Session, error) {
	if err := key.CheckSessionKey(); err != nil {
		return nil, err
	}
	record, err := m.store.GetSession(ctx, key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session service: get session: %w", err)
	}

	events, err := m.loadEvents(ctx, key, applyOptions(options...))
	if err != nil {
		return nil, err
	}
	return m.buildSession(ctx, record, events)
}

// ListSessions lists the sessions of a user ordered by creation time.
// Listed sessions omit event history.
func (m *Manager) ListSessions(ctx context.Context, userKey UserKey, options ...Option) ([]*Session, error) {
	if err := userKey.CheckUserKey(); err != nil {
		return nil, err
	}
	records, err := m.store.ListSessions(ctx, userKey.AppName, userKey.UserID)
	if err != nil {
		return nil, fmt.Errorf("session service: list sessions: %w", err)
	}

	appState, err := m.scopedState(ctx, scopeApp, userKey.AppName, "")
	if err != nil {
		return nil, err
	}
	userState, err := m.scopedState(ctx, scopeUser, userKey.AppName, userKey.UserID)
	if err != nil {
		return nil, err
	}

	sessions := make([]*Session, 0, len(records))
	for _, record := range records {
		sess, err := newSessionFromRecord(record)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, mergeState(appState, userState, sess))
	}
	return sessions, nil
}

// DeleteSession deletes a session and all of its events. Deleting a session
// that does not exist is not an error.
func (m *Manager) DeleteSession(ctx context.Context, key Key, options ...Option) error {
	if err := key.CheckSessionKey(); err != nil {
		return err
	}
	unlock := m.locks.Lock(sessionLockKey(key))
	defer unlock()
	if err := m.store.DeleteSession(ctx, key.AppName, key.UserID, key.SessionID); err != nil {
		return fmt.Errorf("session service: delete session: %w", err)
	}
	return nil
}

// UpdateState loads the session state, applies mutator, and persists the
// result with a bumped update time. The whole read-modify-write runs under
// the session lock, so concurrent updates to the same session never
// interleave.
func (m *Manager) UpdateState(ctx context.Context, key Key, mutator func(StateMap) error) (*Session, error) {
	if err := key.CheckSessionKey(); err != nil {
		return nil, err
	}
	if mutator == nil {
		return nil, errors.New("session service: mutator is nil")
	}

	unlock := m.locks.Lock(sessionLockKey(key))
	defer unlock()

	record, err := m.store.GetSession(ctx, key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session service: update state: %w", err)
	}
	state, err := unmarshalState(record.State)
	if err != nil {
		return nil, fmt.Errorf("session service: decode state: %w", err)
	}
	if err := mutator(state); err != nil {
		return nil, fmt.Errorf("session service: apply mutator: %w", err)
	}
	if err := checkSessionStateKeys(state); err != nil {
		return nil, err
	}

	data, err := marshalState(state)
	if err != nil {
		return nil, fmt.Errorf("session service: encode state: %w", err)
	}
	record.State = data
	record.UpdateTime = nextTime(record.UpdateTime)
	if err := m.store.PutSession(ctx, record); err != nil {
		return nil, fmt.Errorf("session service: update state: %w", err)
	}
	return m.buildSession(ctx, record, nil)
}

// UpdateSessionState merges the given keys into the session state without
// appending an event.
func (m *Manager) UpdateSessionState(ctx context.Context, key Key, state StateMap) error {
	if err := checkSessionStateKeys(state); err != nil {
		return err
	}
	_, err := m.UpdateState(ctx, key, func(current StateMap) error {
		for k, v := range state {
			current[k] = cloneValue(v)
		}
		return nil
	})
	return err
}

// AppendEvent appends an event to a session. The event's StateDelta is
// applied to session state first (keys with app: and user: prefixes are
// routed to their scoped stores), the updated state is persisted, and the
// event is written last. The manager assigns the event timestamp under the
// session lock, so event order within a session is strict.
func (m *Manager) AppendEvent(ctx context.Context, key Key, e *event.Event, options ...Option) error {
	if err := key.CheckSessionKey(); err != nil {
		return err
	}
	if e == nil {
		return errors.New("session service: event is nil")
	}

	unlock := m.locks.Lock(sessionLockKey(key))
	defer unlock()

	record, err := m.store.GetSession(ctx, key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return fmt.Errorf("session service: append event: %w", err)
	}
	state, err := unmarshalState(record.State)
	if err != nil {
		return fmt.Errorf("session service: decode state: %w", err)
	}

	appDelta, userDelta := routeStateDelta(state, e.StateDelta)
	if len(appDelta) > 0 {
		if err := m.UpdateAppState(ctx, key.AppName, appDelta); err != nil {
			return err
		}
	}
	if len(userDelta) > 0 {
		if err := m.UpdateUserState(ctx, UserKey{AppName: key.AppName, UserID: key.UserID}, userDelta); err != nil {
			return err
		}
	}

	e.Timestamp = nextTime(record.UpdateTime)

	data, err := marshalState(state)
	if err != nil {
		return fmt.Errorf("session service: encode state: %w", err)
	}
	record.State = data
	record.UpdateTime = e.Timestamp
	if err := m.store.PutSession(ctx, record); err != nil {
		return fmt.Errorf("session service: append event: %w", err)
	}

	eventData, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("session service: encode event: %w", err)
	}
	stored := &storage.Event{
		AppName:      key.AppName,
		UserID:       key.UserID,
		SessionID:    key.SessionID,
		ID:           e.ID,
		InvocationID: e.InvocationID,
		Timestamp:    e.Timestamp,
		EventData:    eventData,
	}
	if err := m.store.AppendEvent(ctx, stored); err != nil {
		return fmt.Errorf("session service: append event: %w", err)
	}
	return nil
}

// UpdateAppState merges the given keys into the app-scoped state. The state
// record is created lazily on first write.
func (m *Manager) UpdateAppState(ctx context.Context, appName string, state StateMap) error {
	if appName == "" {
		return ErrAppNameRequired
	}
	for k := range state {
		if strings.HasPrefix(k, StateUserPrefix) || strings.HasPrefix(k, StateTempPrefix) {
			return fmt.Errorf("session service: update app state: key %s is not allowed", k)
		}
	}

	unlock := m.stateLocks.Lock(appLockKey(appName))
	defer unlock()

	current, prev, err := m.loadAppState(ctx, appName)
	if err != nil {
		return err
	}
	for k, v := range state {
		current[strings.TrimPrefix(k, StateAppPrefix)] = cloneValue(v)
	}
	data, err := marshalState(current)
	if err != nil {
		return fmt.Errorf("session service: encode app state: %w", err)
	}
	record := &storage.AppState{AppName: appName, State: data, UpdateTime: nextTime(prev)}
	if err := m.store.PutAppState(ctx, record); err != nil {
		return fmt.Errorf("session service: update app state: %w", err)
	}
	return nil
}

// ListAppStates gets the app-scoped state keys.
func (m *Manager) ListAppStates(ctx context.Context, appName string) (StateMap, error) {
	if appName == "" {
		return nil, ErrAppNameRequired
	}
	return m.scopedState(ctx, scopeApp, appName, "")
}

// DeleteAppState deletes one key from the app-scoped state.
func (m *Manager) DeleteAppState(ctx context.Context, appName string, key string) error {
	if appName == "" {
		return ErrAppNameRequired
	}

	unlock := m.stateLocks.Lock(appLockKey(appName))
	defer unlock()

	current, prev, err := m.loadAppState(ctx, appName)
	if err != nil {
		return err
	}
	if prev.IsZero() {
		return nil
	}
	delete(current, strings.TrimPrefix(key, StateAppPrefix))
	data, err := marshalState(current)
	if err != nil {
		return fmt.Errorf("session service: encode app state: %w", err)
	}
	record := &storage.AppState{AppName: appName, State: data, UpdateTime: nextTime(prev)}
	if err := m.store.PutAppState(ctx, record); err != nil {
		return fmt.Errorf("session service: delete app state: %w", err)
	}
	return nil
}

// UpdateUserState merges the given keys into the user-scoped state. The
// state record is created lazily on first write.
func (m *Manager) UpdateUserState(ctx context.Context, userKey UserKey, state StateMap) error {
	if err := userKey.CheckUserKey(); err != nil {
		return err
	}
	for k := range state {
		if strings.HasPrefix(k, StateAppPrefix) || strings.HasPrefix(k, StateTempPrefix) {
			return fmt.Errorf("session service: update user state: key %s is not allowed", k)
		}
	}

	unlock := m.stateLocks.Lock(userLockKey(userKey))
	defer unlock()

	current, prev, err := m.loadUserState(ctx, userKey)
	if err != nil {
		return err
	}
	for k, v := range state {
		current[strings.TrimPrefix(k, StateUserPrefix)] = cloneValue(v)
	}
	data, err := marshalState(current)
	if err != nil {
		return fmt.Errorf("session service: encode user state: %w", err)
	}
	record := &storage.UserState{
		AppName:    userKey.AppName,
		UserID:     userKey.UserID,
		State:      data,
		UpdateTime: nextTime(prev),
	}
	if err := m.store.PutUserState(ctx, record); err != nil {
		return fmt.Errorf("session service: update user state: %w", err)
	}
	return nil
}

// ListUserStates gets the user-scoped state keys.
func (m *Manager) ListUserStates(ctx context.Context, userKey UserKey) (StateMap, error) {
	if err := userKey.CheckUserKey(); err != nil {
		return nil, err
	}
	return m.scopedState(ctx, scopeUser, userKey.AppName, userKey.UserID)
}

// DeleteUserState deletes one key from the user-scoped state.
func (m *Manager) DeleteUserState(ctx context.Context, userKey UserKey, key string) error {
	if err := userKey.CheckUserKey(); err != nil {
		return err
	}

	unlock := m.stateLocks.Lock(userLockKey(userKey))
	defer unlock()

	current, prev, err := m.loadUserState(ctx, userKey)
	if err != nil {
		return err
	}
	if prev.IsZero() {
		return nil
	}
	delete(current, strings.TrimPrefix(key, StateUserPrefix))
	data, err := marshalState(current)
	if err != nil {
		return fmt.Errorf("session service: encode user state: %w", err)
	}
	record := &storage.UserState{
		AppName:    userKey.AppName,
		UserID:     userKey.UserID,
		State:      data,
		UpdateTime: nextTime(prev),
	}
	if err := m.store.PutUserState(ctx, record); err != nil {
		return fmt.Errorf("session service: delete user state: %w", err)
	}
	return nil
}

// Close closes the underlying store.
func (m *Manager) Close() error {
	return m.store.Close()
}

type stateScope int

const (
	scopeApp stateScope = iota
	scopeUser
)

// scopedState reads an app or user state map; missing records read as empty.
func (m *Manager) scopedState(ctx context.Context, scope stateScope, appName, userID string) (StateMap, error) {
	var (
		data []byte
		err  error
	)
	switch scope {
	case scopeApp:
		var record *storage.AppState
		record, err = m.store.GetAppState(ctx, appName)
		if err == nil {
			data = record.State
		}
	case scopeUser:
		var record *storage.UserState
		record, err = m.store.GetUserState(ctx, appName, userID)
		if err == nil {
			data = record.State
		}
	}
	if errors.Is(err, storage.ErrNotFound) {
		return make(StateMap), nil
	}
	if err != nil {
		return nil, fmt.Errorf("session service: load scoped state: %w", err)
	}
	state, err := unmarshalState(data)
	if err != nil {
		return nil, fmt.Errorf("session service: decode scoped state: %w", err)
	}
	return state, nil
}

func (m *Manager) loadAppState(ctx context.Context, appName string) (StateMap, time.Time, error) {
	record, err := m.store.GetAppState(ctx, appName)
	if errors.Is(err, storage.ErrNotFound) {
		return make(StateMap), time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("session service: load app state: %w", err)
	}
	state, err := unmarshalState(record.State)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("session service: decode app state: %w", err)
	}
	return state, record.UpdateTime, nil
}

func (m *Manager) loadUserState(ctx context.Context, userKey UserKey) (StateMap, time.Time, error) {
	record, err := m.store.GetUserState(ctx, userKey.AppName, userKey.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return make(StateMap), time.Time{}, nil
	}
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("session service: load user state: %w", err)
	}
	state, err := unmarshalState(record.State)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("session service: decode user state: %w", err)
	}
	return state, record.UpdateTime, nil
}

// loadEvents loads and decodes a session's events with filtering applied.
func (m *Manager) loadEvents(ctx context.Context, key Key, opt *Options) ([]event.Event, error) {
	records, err := m.store.ListEvents(ctx, key.AppName, key.UserID, key.SessionID)
	if err != nil {
		return nil, fmt.Errorf("session service: list events: %w", err)
	}
	events := make([]event.Event, 0, len(records))
	for _, record := range records {
		var e event.Event
		if err := json.Unmarshal(record.EventData, &e); err != nil {
			return nil, fmt.Errorf("session service: decode event %s: %w", record.ID, err)
		}
		events = append(events, e)
	}

	if !opt.EventTime.IsZero() {
		start := len(events)
		for i, e := range events {
			if !e.Timestamp.Before(opt.EventTime) {
				start = i
				break
			}
		}
		events = events[start:]
	}
	limit := opt.EventNum
	if limit == 0 {
		limit = m.opts.eventLimit
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

// buildSession converts a stored record into the merged session view.
func (m *Manager) buildSession(ctx context.Context, record *storage.Session, events []event.Event) (*Session, error) {
	sess, err := newSessionFromRecord(record)
	if err != nil {
		return nil, err
	}
	sess.Events = events

	appState, err := m.scopedState(ctx, scopeApp, record.AppName, "")
	if err != nil {
		return nil, err
	}
	userState, err := m.scopedState(ctx, scopeUser, record.AppName, record.UserID)
	if err != nil {
		return nil, err
	}
	return mergeState(appState, userState, sess), nil
}

func newSessionFromRecord(record *storage.Session) (*Session, error) {
	state, err := unmarshalState(record.State)
	if err != nil {
		return nil, fmt.Errorf("session service: decode state: %w", err)
	}
	return &Session{
		ID:        record.ID,
		AppName:   record.AppName,
		UserID:    record.UserID,
		State:     state,
		CreatedAt: record.CreateTime,
		UpdatedAt: record.UpdateTime,
	}, nil
}

// mergeState overlays app-scoped and user-scoped keys onto the session
// state under their prefixes.
func mergeState(appState, userState StateMap, sess *Session) *Session {
	for k, v := range appState {
		sess.State[StateAppPrefix+k] = v
	}
	for k, v := range userState {
		sess.State[StateUserPrefix+k] = v
	}
	return sess
}

// routeStateDelta applies a state delta to the session state in place and
// returns the keys that belong to the app and user scopes instead.
func routeStateDelta(state StateMap, delta map[string][]byte) (appDelta, userDelta StateMap) {
	for k, v := range delta {
		switch {
		case strings.HasPrefix(k, StateAppPrefix):
			if appDelta == nil {
				appDelta = make(StateMap)
			}
			appDelta[k] = cloneValue(v)
		case strings.HasPrefix(k, StateUserPrefix):
			if userDelta == nil {
				userDelta = make(StateMap)
			}
			userDelta[k] = cloneValue(v)
		default:
			state[k] = cloneValue(v)
		}
	}
	return appDelta, userDelta
}

// checkSessionStateKeys rejects keys that belong to the app or user scope.
func checkSessionStateKeys(state StateMap) error {
	for k := range state {
		if strings.HasPrefix(k, StateAppPrefix) {
			return fmt.Errorf("session service: key %s is not allowed, use UpdateAppState instead", k)
		}
		if strings.HasPrefix(k, StateUserPrefix) {
			return fmt.Errorf("session service: key %s is not allowed, use UpdateUserState instead", k)
		}
	}
	return nil
}

// nextTime returns the current time, bumped past prev when the clock has
// not advanced, keeping per-record times strictly increasing.
func nextTime(prev time.Time) time.Time {
	now := time.Now().UTC()
	if !now.After(prev) {
		return prev.Add(time.Microsecond)
	}
	return now
}

func applyOptions(opts ...Option) *Options {
	opt := &Options{}
	for _, o := range opts {
		o(opt)
	}
	return opt
}

func marshalState(state StateMap) ([]byte, error) {
	if state == nil {
		state = make(StateMap)
	}
	return json.Marshal(state)
}

func unmarshalState(data []byte) (StateMap, error) {
	state := make(StateMap)
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return state, nil
}

func cloneValue(v []byte) []byte {
	copied := make([]byte, len(v))
	copy(copied, v)
	return copied
}

func sessionLockKey(key Key) string {
	return key.AppName + ":" + key.UserID + ":" + key.SessionID
}

func appLockKey(appName string) string {
	return "appstate:" + appName
}

func userLockKey(userKey UserKey) string {
	return "userstate:" + userKey.AppName + ":" + userKey.UserID
}
