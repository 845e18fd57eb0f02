// Package audit appends the admin-action log. Every admin-mutating
// operation records an entry with redacted before/after snapshots; the
// log is append-only and queried by the admin API.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/openvault/staked/internal/clock"
	"github.com/openvault/staked/internal/models"
	"github.com/openvault/staked/internal/store"
)

// Entry is one action to record. Before and After are arbitrary
// snapshots; the recorder sanitizes them before persistence.
type Entry struct {
	ActorID    *uuid.UUID
	ActorEmail string
	Action     string
	Entity     string
	EntityID   string
	Before     interface{}
	After      interface{}
	IPAddress  string
	UserAgent  string
}

type Recorder struct {
	store *store.Store
	clock clock.Clock
	log   logrus.FieldLogger
}

func NewRecorder(st *store.Store, clk clock.Clock, log logrus.FieldLogger) *Recorder {
	return &Recorder{store: st, clock: clk, log: log.WithField("component", "audit")}
}

// Record writes one audit row. When the context carries a transaction
// the row co-commits with the action it documents; the admin review
// paths rely on that so an audited transition cannot commit unaudited.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	before, err := Sanitize(e.Before)
	if err != nil {
		return err
	}
	after, err := Sanitize(e.After)
	if err != nil {
		return err
	}

	var actorEmail, entityID, ip, ua *string
	if e.ActorEmail != "" {
		actorEmail = &e.ActorEmail
	}
	if e.EntityID != "" {
		entityID = &e.EntityID
	}
	if e.IPAddress != "" {
		ip = &e.IPAddress
	}
	if e.UserAgent != "" {
		ua = &e.UserAgent
	}

	_, err = r.store.Querier(ctx).ExecContext(ctx, `
		INSERT INTO audit_logs (id, actor_id, actor_email, action, entity, entity_id, before_state, after_state, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		uuid.New(), e.ActorID, actorEmail, e.Action, e.Entity, entityID,
		nullable(before), nullable(after), ip, ua, r.clock.Now())
	if err != nil {
		return fmt.Errorf("audit: record %s: %w", e.Action, err)
	}
	return nil
}

// BestEffort records outside any transaction and only logs failures.
// Used for non-financial actions like logins. The write runs on a
// detached context so neither a request cancellation nor an ambient
// transaction can take the audit row down with it.
func (r *Recorder) BestEffort(ctx context.Context, e Entry) {
	detached, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Record(detached, e); err != nil {
		r.log.WithError(err).WithField("action", e.Action).Warn("audit write failed")
	}
}

// List pages the audit log, newest first, optionally filtered by
// action or entity.
func (r *Recorder) List(ctx context.Context, action, entity string, limit, offset int) ([]models.AuditLog, int64, error) {
	where, args := "TRUE", []interface{}{}
	if action != "" {
		args = append(args, action)
		where += fmt.Sprintf(" AND action = $%d", len(args))
	}
	if entity != "" {
		args = append(args, entity)
		where += fmt.Sprintf(" AND entity = $%d", len(args))
	}

	var total int64
	if err := r.store.Querier(ctx).GetContext(ctx, &total,
		`SELECT count(*) FROM audit_logs WHERE `+where, args...); err != nil {
		return nil, 0, fmt.Errorf("audit: count: %w", err)
	}

	args = append(args, limit, offset)
	rows := []models.AuditLog{}
	err := r.store.Querier(ctx).SelectContext(ctx, &rows, fmt.Sprintf(`
		SELECT id, actor_id, actor_email, action, entity, entity_id, before_state, after_state, ip_address, user_agent, created_at
		FROM audit_logs WHERE %s
		ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, fmt.Errorf("audit: list: %w", err)
	}
	return rows, total, nil
}

func nullable(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return b
}
