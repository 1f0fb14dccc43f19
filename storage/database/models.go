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
	"time"

	"trpc.group/trpc-go/trpc-reviewpipe-go/storage"
)

// appStateModel maps the app_states relation: one configuration record
// per application name.
type appStateModel struct {
	AppName    string    `gorm:"column:app_name;type:varchar(128);primaryKey"`
	State      []byte    `gorm:"column:state"` // JSON encoded state map
	UpdateTime time.Time `gorm:"column:update_time;precision:6;not null"`
}

// TableName specifies the table name for appStateModel.
func (appStateModel) TableName() string {
	return "app_states"
}

func (m *appStateModel) record() *storage.AppState {
	return &storage.AppState{
		AppName:    m.AppName,
		State:      m.State,
		UpdateTime: m.UpdateTime,
	}
}

// userStateModel maps the user_states relation: one configuration record
// per (application, user) pair.
type userStateModel struct {
	AppName    string    `gorm:"column:app_name;type:varchar(128);primaryKey"`
	UserID     string    `gorm:"column:user_id;type:varchar(128);primaryKey"`
	State      []byte    `gorm:"column:state"` // JSON encoded state map
	UpdateTime time.Time `gorm:"column:update_time;precision:6;not null"`
}

// TableName specifies the table name for userStateModel.
func (userStateModel) TableName() string {
	return "user_states"
}

func (m *userStateModel) record() *storage.UserState {
	return &storage.UserState{
		AppName:    m.AppName,
		UserID:     m.UserID,
		State:      m.State,
		UpdateTime: m.UpdateTime,
	}
}

// sessionModel maps the sessions relation. The Events association carries
// the ON DELETE CASCADE constraint; deletion additionally cascades in an
// explicit transaction so backends without enforced foreign keys behave
// identically.
type sessionModel struct {
	AppName    string       `gorm:"column:app_name;type:varchar(128);primaryKey"`
	UserID     string       `gorm:"column:user_id;type:varchar(128);primaryKey"`
	ID         string       `gorm:"column:id;type:varchar(128);primaryKey"`
	State      []byte       `gorm:"column:state"` // JSON encoded state map
	CreateTime time.Time    `gorm:"column:create_time;precision:6;not null"`
	UpdateTime time.Time    `gorm:"column:update_time;precision:6;not null"`
	Events     []eventModel `gorm:"foreignKey:AppName,UserID,SessionID;references:AppName,UserID,ID;constraint:OnDelete:CASCADE"`
}

// TableName specifies the table name for sessionModel.
func (sessionModel) TableName() string {
	return "sessions"
}

func (m *sessionModel) record() *storage.Session {
	return &storage.Session{
		AppName:    m.AppName,
		UserID:     m.UserID,
		ID:         m.ID,
		State:      m.State,
		CreateTime: m.CreateTime,
		UpdateTime: m.UpdateTime,
	}
}

// eventModel maps the events relation. Rows are insert-only.
type eventModel struct {
	AppName      string    `gorm:"column:app_name;type:varchar(128);primaryKey;index:idx_events_lookup,priority:1"`
	UserID       string    `gorm:"column:user_id;type:varchar(128);primaryKey;index:idx_events_lookup,priority:2"`
	SessionID    string    `gorm:"column:session_id;type:varchar(128);primaryKey;index:idx_events_lookup,priority:3"`
	ID           string    `gorm:"column:id;type:varchar(128);primaryKey"`
	InvocationID string    `gorm:"column:invocation_id;type:varchar(128);index:idx_events_invocation"`
	Timestamp    time.Time `gorm:"column:timestamp;precision:6;not null;index:idx_events_lookup,priority:4"`
	EventData    []byte    `gorm:"column:event_data"` // JSON encoded event
}

// TableName specifies the table name for eventModel.
func (eventModel) TableName() string {
	return "events"
}

func (m *eventModel) record() *storage.Event {
	return &storage.Event{
		AppName:      m.AppName,
		UserID:       m.UserID,
		SessionID:    m.SessionID,
		ID:           m.ID,
		InvocationID: m.InvocationID,
		Timestamp:    m.Timestamp,
		EventData:    m.EventData,
	}
}
