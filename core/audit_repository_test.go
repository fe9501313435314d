package core

import (
	"context"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

// jsonArg matches a JSON payload argument by decoded value.
type jsonArg map[string]any

func (j jsonArg) Match(v any) bool {
	raw, ok := v.([]byte)
	if !ok {
		return false
	}
	var got map[string]any
	if err := json.Unmarshal(raw, &got); err != nil {
		return false
	}
	return reflect.DeepEqual(map[string]any(j), got)
}

func TestRecordCreationKeepsCreatedColumnsOnConflict(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgMetaRepository(mock)
	ctx := context.Background()

	const upsert = `INSERT INTO user_meta .* ON CONFLICT \(username\) DO UPDATE\s+SET updated_at = now\(\),\s+updated_by = EXCLUDED.updated_by,\s+note = COALESCE\(EXCLUDED.note, user_meta.note\)`
	mock.ExpectExec(upsert).WithArgs("bob", "admin1", "").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(upsert).WithArgs("bob", "admin2", "x").WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.RecordCreation(ctx, "bob", "admin1", ""))
	require.NoError(t, repo.RecordCreation(ctx, "bob", "admin2", "x"))
}

func TestTouchUpdatesOnlyUpdatedColumns(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgMetaRepository(mock)

	mock.ExpectExec(`UPDATE user_meta SET updated_at = now\(\), updated_by = \$2 WHERE username = \$1`).
		WithArgs("ghost", "admin").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.Touch(context.Background(), "ghost", "admin"))
}

func TestGetMetadata(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgMetaRepository(mock)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	updated := created.Add(time.Hour)

	mock.ExpectQuery(`SELECT username, created_at, created_by, updated_at, updated_by, note FROM user_meta`).
		WithArgs("bob").
		WillReturnRows(pgxmock.NewRows([]string{"username", "created_at", "created_by", "updated_at", "updated_by", "note"}).
			AddRow("bob", created, "admin1", updated, "admin2", strPtr("x")))

	m, err := repo.GetMetadata(context.Background(), "bob")
	require.NoError(t, err)
	require.Equal(t, "admin1", m.CreatedBy)
	require.Equal(t, "admin2", m.UpdatedBy)
	require.Equal(t, "x", m.Note)
	require.True(t, m.UpdatedAt.After(m.CreatedAt))
}

func TestGetMetadataMissing(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgMetaRepository(mock)

	mock.ExpectQuery(`FROM user_meta`).WithArgs("ghost").WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetMetadata(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrMetadataNotFound)
}

func TestAppendEncodesDetail(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAuditRepository(mock)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO audit_log \(actor, action, target_username, detail\)`).
		WithArgs("admin", "CREATE_USER", "alice", jsonArg{"expiration_set": true}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO audit_log`).
		WithArgs("admin", "DELETE_USER", "alice", jsonArg{}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Append(ctx, AuditEvent{
		Actor:          "admin",
		Action:         ActionCreateUser,
		TargetUsername: "alice",
		Detail:         map[string]any{"expiration_set": true},
	}))
	require.NoError(t, repo.Append(ctx, AuditEvent{Actor: "admin", Action: ActionDeleteUser, TargetUsername: "alice"}))
}

func TestListByTargetNewestFirst(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAuditRepository(mock)
	t0 := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`ORDER BY occurred_at DESC, id DESC\s+LIMIT \$2`).
		WithArgs("alice", DefaultAuditLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "occurred_at", "actor", "action", "target_username", "detail"}).
			AddRow(int64(2), t0.Add(time.Minute), "admin", "DELETE_USER", strPtr("alice"), []byte(`{"existed":true}`)).
			AddRow(int64(1), t0, "admin", "CREATE_USER", strPtr("alice"), []byte(nil)))

	events, err := repo.ListByTarget(context.Background(), "alice", 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, ActionDeleteUser, events[0].Action)
	require.Equal(t, true, events[0].Detail["existed"])
	require.Equal(t, ActionCreateUser, events[1].Action)
	require.NotNil(t, events[1].Detail)
	require.Equal(t, "alice", events[1].TargetUsername)
}

func TestListByTargetClampsLimit(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAuditRepository(mock)

	mock.ExpectQuery(`LIMIT \$2`).
		WithArgs("alice", MaxAuditLimit).
		WillReturnRows(pgxmock.NewRows([]string{"id", "occurred_at", "actor", "action", "target_username", "detail"}))

	events, err := repo.ListByTarget(context.Background(), "alice", 1_000_000)
	require.NoError(t, err)
	require.NotNil(t, events)
	require.Empty(t, events)
}
