package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// ErrMetadataNotFound is returned by GetMetadata when no user_meta row exists.
var ErrMetadataNotFound = errors.New("account metadata not found")

// DefaultAuditLimit caps audit history reads when the caller gives no limit.
// MaxAuditLimit is the most any single read returns.
const (
	DefaultAuditLimit = 25
	MaxAuditLimit     = 200
)

// AuditAction tags an audit event.
type AuditAction string

const (
	ActionCreateUser      AuditAction = "CREATE_USER"
	ActionDeleteUser      AuditAction = "DELETE_USER"
	ActionSetPassword     AuditAction = "SET_PASSWORD"
	ActionSetExpiration   AuditAction = "SET_EXPIRATION"
	ActionClearExpiration AuditAction = "CLEAR_EXPIRATION"
)

// AccountMeta is the provenance record of an account. Created fields never change once written.
type AccountMeta struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
	UpdatedAt time.Time `json:"updated_at"`
	UpdatedBy string    `json:"updated_by"`
	Note      string    `json:"note,omitempty"`
}

// AuditEvent is one immutable row of audit_log. OccurredAt is assigned by the database.
type AuditEvent struct {
	ID             int64          `json:"id"`
	OccurredAt     time.Time      `json:"occurred_at"`
	Actor          string         `json:"actor"`
	Action         AuditAction    `json:"action"`
	TargetUsername string         `json:"target_username,omitempty"`
	Detail         map[string]any `json:"detail"`
}

// MetaStore persists user_meta.
type MetaStore interface {
	RecordCreation(ctx context.Context, username, actor, note string) error
	Touch(ctx context.Context, username, actor string) error
	GetMetadata(ctx context.Context, username string) (*AccountMeta, error)
}

// AuditStore is append-only: there is no update or delete.
type AuditStore interface {
	Append(ctx context.Context, ev AuditEvent) error
	ListByTarget(ctx context.Context, username string, limit int) ([]AuditEvent, error)
}

type PgMetaRepository struct {
	db DBTX
}

func NewPgMetaRepository(db DBTX) *PgMetaRepository {
	return &PgMetaRepository{db: db}
}

// RecordCreation inserts the provenance row, or on conflict only refreshes the
// updated_* columns. An empty note keeps whatever note is stored.
func (r *PgMetaRepository) RecordCreation(ctx context.Context, username, actor, note string) error {
	const q = `
INSERT INTO user_meta (username, created_at, created_by, updated_at, updated_by, note)
VALUES ($1, now(), $2, now(), $2, NULLIF($3, ''))
ON CONFLICT (username) DO UPDATE
SET updated_at = now(),
    updated_by = EXCLUDED.updated_by,
    note = COALESCE(EXCLUDED.note, user_meta.note)
`
	if _, err := r.db.Exec(ctx, q, username, actor, note); err != nil {
		return fmt.Errorf("record creation: %w", err)
	}
	return nil
}

// Touch refreshes updated_* for an existing row; a missing row is left missing.
func (r *PgMetaRepository) Touch(ctx context.Context, username, actor string) error {
	const q = `UPDATE user_meta SET updated_at = now(), updated_by = $2 WHERE username = $1`
	if _, err := r.db.Exec(ctx, q, username, actor); err != nil {
		return fmt.Errorf("touch metadata: %w", err)
	}
	return nil
}

func (r *PgMetaRepository) GetMetadata(ctx context.Context, username string) (*AccountMeta, error) {
	const q = `SELECT username, created_at, created_by, updated_at, updated_by, note FROM user_meta WHERE username = $1`
	var (
		m    AccountMeta
		note *string
	)
	err := r.db.QueryRow(ctx, q, username).Scan(&m.Username, &m.CreatedAt, &m.CreatedBy, &m.UpdatedAt, &m.UpdatedBy, &note)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrMetadataNotFound
		}
		return nil, fmt.Errorf("get metadata: %w", err)
	}
	if note != nil {
		m.Note = *note
	}
	return &m, nil
}

type PgAuditRepository struct {
	db DBTX
}

func NewPgAuditRepository(db DBTX) *PgAuditRepository {
	return &PgAuditRepository{db: db}
}

// Append inserts ev; ID and OccurredAt on ev are ignored.
func (r *PgAuditRepository) Append(ctx context.Context, ev AuditEvent) error {
	detail := ev.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode audit detail: %w", err)
	}
	const q = `
INSERT INTO audit_log (actor, action, target_username, detail)
VALUES ($1, $2, NULLIF($3, ''), $4::jsonb)
`
	if _, err := r.db.Exec(ctx, q, ev.Actor, string(ev.Action), ev.TargetUsername, payload); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// ListByTarget returns at most limit events for username, newest first.
func (r *PgAuditRepository) ListByTarget(ctx context.Context, username string, limit int) ([]AuditEvent, error) {
	limit = clampAuditLimit(limit, DefaultAuditLimit)
	const q = `
SELECT id, occurred_at, actor, action, target_username, detail
FROM audit_log
WHERE target_username = $1
ORDER BY occurred_at DESC, id DESC
LIMIT $2
`
	rows, err := r.db.Query(ctx, q, username, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()
	items := []AuditEvent{}
	for rows.Next() {
		var (
			ev     AuditEvent
			action string
			target *string
			raw    []byte
		)
		if err := rows.Scan(&ev.ID, &ev.OccurredAt, &ev.Actor, &action, &target, &raw); err != nil {
			return nil, fmt.Errorf("list audit events: %w", err)
		}
		ev.Action = AuditAction(action)
		if target != nil {
			ev.TargetUsername = *target
		}
		ev.Detail = map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &ev.Detail); err != nil {
				return nil, fmt.Errorf("decode audit detail %d: %w", ev.ID, err)
			}
		}
		items = append(items, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return items, nil
}

func clampAuditLimit(limit, fallback int) int {
	switch {
	case limit <= 0:
		return fallback
	case limit > MaxAuditLimit:
		return MaxAuditLimit
	}
	return limit
}
