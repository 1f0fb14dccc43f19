//
// Tencent is pleased to support the open source community by making trpc-reviewpipe-go available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-reviewpipe-go is licensed under the Apache License Version 2.0.
//
//

package database

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"trpc.group/trpc-go/trpc-reviewpipe-go/storage"
)

// Store implements storage.Store on a relational database.
type Store struct {
	db      *gorm.DB
	backend string
}

var _ storage.Store = (*Store)(nil)

// GetAppState returns the app state record, or storage.ErrNotFound.
func (s *Store) GetAppState(ctx context.Context, appName string) (*storage.AppState, error) {
	var m appStateModel
	err := s.db.WithContext(ctx).
		Where("app_name = ?", appName).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.NewError(s.backend, "get app state", err)
	}
	return m.record(), nil
}

// PutAppState upserts the app state record.
func (s *Store) PutAppState(ctx context.Context, state *storage.AppState) error {
	m := appStateModel{
		AppName:    state.AppName,
		State:      state.State,
		UpdateTime: state.UpdateTime,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "app_name"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "update_time"}),
		}).
		Create(&m).Error
	if err != nil {
		return storage.NewError(s.backend, "put app state", err)
	}
	return nil
}

// DeleteAppState removes the app state record. Missing records are a no-op.
func (s *Store) DeleteAppState(ctx context.Context, appName string) error {
	err := s.db.WithContext(ctx).
		Where("app_name = ?", appName).
		Delete(&appStateModel{}).Error
	if err != nil {
		return storage.NewError(s.backend, "delete app state", err)
	}
	return nil
}

// ListAppStates returns all app state records ordered by app name.
func (s *Store) ListAppStates(ctx context.Context) ([]*storage.AppState, error) {
	var models []appStateModel
	err := s.db.WithContext(ctx).
		Order("app_name ASC").
		Find(&models).Error
	if err != nil {
		return nil, storage.NewError(s.backend, "list app states", err)
	}
	states := make([]*storage.AppState, 0, len(models))
	for i := range models {
		states = append(states, models[i].record())
	}
	return states, nil
}

// GetUserState returns the user state record, or storage.ErrNotFound.
func (s *Store) GetUserState(ctx context.Context, appName, userID string) (*storage.UserState, error) {
	var m userStateModel
	err := s.db.WithContext(ctx).
		Where("app_name = ? AND user_id = ?", appName, userID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.NewError(s.backend, "get user state", err)
	}
	return m.record(), nil
}

// PutUserState upserts the user state record.
func (s *Store) PutUserState(ctx context.Context, state *storage.UserState) error {
	m := userStateModel{
		AppName:    state.AppName,
		UserID:     state.UserID,
		State:      state.State,
		UpdateTime: state.UpdateTime,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "app_name"}, {Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "update_time"}),
		}).
		Create(&m).Error
	if err != nil {
		return storage.NewError(s.backend, "put user state", err)
	}
	return nil
}

// DeleteUserState removes the user state record. Missing records are a no-op.
func (s *Store) DeleteUserState(ctx context.Context, appName, userID string) error {
	err := s.db.WithContext(ctx).
		Where("app_name = ? AND user_id = ?", appName, userID).
		Delete(&userStateModel{}).Error
	if err != nil {
		return storage.NewError(s.backend, "delete user state", err)
	}
	return nil
}

// ListUserStates returns the app's user state records ordered by user id.
func (s *Store) ListUserStates(ctx context.Context, appName string) ([]*storage.UserState, error) {
	var models []userStateModel
	err := s.db.WithContext(ctx).
		Where("app_name = ?", appName).
		Order("user_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, storage.NewError(s.backend, "list user states", err)
	}
	states := make([]*storage.UserState, 0, len(models))
	for i := range models {
		states = append(states, models[i].record())
	}
	return states, nil
}

// GetSession returns the session record, or storage.ErrNotFound.
func (s *Store) GetSession(ctx context.Context, appName, userID, sessionID string) (*storage.Session, error) {
	var m sessionModel
	err := s.db.WithContext(ctx).
		Where("app_name = ? AND user_id = ? AND id = ?", appName, userID, sessionID).
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, storage.NewError(s.backend, "get session", err)
	}
	return m.record(), nil
}

// PutSession upserts the session record, keeping create_time immutable.
func (s *Store) PutSession(ctx context.Context, sess *storage.Session) error {
	m := sessionModel{
		AppName:    sess.AppName,
		UserID:     sess.UserID,
		ID:         sess.ID,
		State:      sess.State,
		CreateTime: sess.CreateTime,
		UpdateTime: sess.UpdateTime,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "app_name"}, {Name: "user_id"}, {Name: "id"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "update_time"}),
		}).
		Create(&m).Error
	if err != nil {
		return storage.NewError(s.backend, "put session", err)
	}
	return nil
}

// DeleteSession removes the session and all of its events in one
// transaction. Missing sessions are a no-op.
func (s *Store) DeleteSession(ctx context.Context, appName, userID, sessionID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.
			Where("app_name = ? AND user_id = ? AND session_id = ?", appName, userID, sessionID).
			Delete(&eventModel{}).Error; err != nil {
			return err
		}
		return tx.
			Where("app_name = ? AND user_id = ? AND id = ?", appName, userID, sessionID).
			Delete(&sessionModel{}).Error
	})
	if err != nil {
		return storage.NewError(s.backend, "delete session", err)
	}
	return nil
}

// ListSessions returns the user's sessions ordered by create time ascending.
func (s *Store) ListSessions(ctx context.Context, appName, userID string) ([]*storage.Session, error) {
	var models []sessionModel
	err := s.db.WithContext(ctx).
		Where("app_name = ? AND user_id = ?", appName, userID).
		Order("create_time ASC").
		Find(&models).Error
	if err != nil {
		return nil, storage.NewError(s.backend, "list sessions", err)
	}
	sessions := make([]*storage.Session, 0, len(models))
	for i := range models {
		sessions = append(sessions, models[i].record())
	}
	return sessions, nil
}

// AppendEvent inserts the event after verifying the owning session exists.
// The existence check and the insert share one transaction so a concurrent
// session delete cannot orphan the event.
func (s *Store) AppendEvent(ctx context.Context, evt *storage.Event) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner sessionModel
		err := tx.Select("id").
			Where("app_name = ? AND user_id = ? AND id = ?", evt.AppName, evt.UserID, evt.SessionID).
			First(&owner).Error
		if err != nil {
			return err
		}
		m := eventModel{
			AppName:      evt.AppName,
			UserID:       evt.UserID,
			SessionID:    evt.SessionID,
			ID:           evt.ID,
			InvocationID: evt.InvocationID,
			Timestamp:    evt.Timestamp,
			EventData:    evt.EventData,
		}
		return tx.Create(&m).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return storage.ErrNotFound
		}
		return storage.NewError(s.backend, "append event", err)
	}
	return nil
}

// ListEvents returns the session's events ordered by timestamp ascending,
// which equals append order because timestamps are strictly increasing
// within a session.
func (s *Store) ListEvents(ctx context.Context, appName, userID, sessionID string) ([]*storage.Event, error) {
	var models []eventModel
	err := s.db.WithContext(ctx).
		Where("app_name = ? AND user_id = ? AND session_id = ?", appName, userID, sessionID).
		Order("timestamp ASC").
		Find(&models).Error
	if err != nil {
		return nil, storage.NewError(s.backend, "list events", err)
	}
	events := make([]*storage.Event, 0, len(models))
	for i := range models {
		events = append(events, models[i].record())
	}
	return events, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return storage.NewError(s.backend, "close", err)
	}
	return sqlDB.Close()
}
