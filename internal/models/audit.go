package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// AuditLog records one admin-mutating action with redacted before and
// after snapshots. Rows are append-only.
type AuditLog struct {
	ID         uuid.UUID      `db:"id" json:"id"`
	ActorID    *uuid.UUID     `db:"actor_id" json:"actorId,omitempty"`
	ActorEmail *string        `db:"actor_email" json:"actorEmail,omitempty"`
	Action     string         `db:"action" json:"action"`
	Entity     string         `db:"entity" json:"entity"`
	EntityID   *string        `db:"entity_id" json:"entityId,omitempty"`
	Before     types.JSONText `db:"before_state" json:"before,omitempty"`
	After      types.JSONText `db:"after_state" json:"after,omitempty"`
	IPAddress  *string        `db:"ip_address" json:"ipAddress,omitempty"`
	UserAgent  *string        `db:"user_agent" json:"userAgent,omitempty"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}

// Notification is a user-facing event row. Writes are best-effort: a
// failed notification never rolls back the financial transition that
// produced it.
type Notification struct {
	ID        uuid.UUID      `db:"id" json:"id"`
	UserID    uuid.UUID      `db:"user_id" json:"userId"`
	Type      string         `db:"type" json:"type"`
	Title     string         `db:"title" json:"title"`
	Message   string         `db:"message" json:"message"`
	Data      types.JSONText `db:"data" json:"data,omitempty"`
	IsRead    bool           `db:"is_read" json:"isRead"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
}

// SystemConfig is a key/value row for operational state such as
// per-chain scan cursors.
type SystemConfig struct {
	Key       string         `db:"key" json:"key"`
	Value     types.JSONText `db:"value" json:"value"`
	UpdatedAt time.Time      `db:"updated_at" json:"updatedAt"`
}
