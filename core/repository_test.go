package core

import (
	"context"
	"errors"
	"testing"

	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func newMockPool(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
		mock.Close()
	})
	return mock
}

func strPtr(s string) *string { return &s }

func TestUpsertAttributeUsesConflictUpdate(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAttributeRepository(mock)
	ctx := context.Background()

	mock.ExpectExec(`INSERT INTO radcheck .* ON CONFLICT \(username, attribute\) DO UPDATE SET op = EXCLUDED.op, value = EXCLUDED.value`).
		WithArgs("alice", AttrPassword, OpAssign, "FIRST").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO radcheck`).
		WithArgs("alice", AttrPassword, OpAssign, "SECOND").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.UpsertAttribute(ctx, "alice", AttrPassword, "FIRST", ""))
	require.NoError(t, repo.UpsertAttribute(ctx, "alice", AttrPassword, "SECOND", OpAssign))
}

func TestUpsertAttributeWrapsStoreError(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAttributeRepository(mock)

	boom := errors.New("connection reset")
	mock.ExpectExec(`INSERT INTO radcheck`).
		WithArgs("alice", AttrExpiration, OpAssign, "Jan 05 2026 00:00:00").
		WillReturnError(boom)

	err := repo.UpsertAttribute(context.Background(), "alice", AttrExpiration, "Jan 05 2026 00:00:00", OpAssign)
	require.ErrorIs(t, err, boom)
}

func TestDeleteAttributeNeverSetIsNoop(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAttributeRepository(mock)

	mock.ExpectExec(`DELETE FROM radcheck WHERE username=\$1 AND attribute=\$2`).
		WithArgs("alice", AttrExpiration).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	n, err := repo.DeleteAttribute(context.Background(), "alice", AttrExpiration)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestDeleteAccountRemovesCheckAndReplyRows(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAttributeRepository(mock)

	mock.ExpectExec(`DELETE FROM radcheck WHERE username=\$1`).
		WithArgs("alice").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM radreply WHERE username=\$1`).
		WithArgs("alice").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	n, err := repo.DeleteAccount(context.Background(), "alice")
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
}

func TestAccountExists(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAttributeRepository(mock)

	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM radcheck WHERE username=\$1\)`).
		WithArgs("alice").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	ok, err := repo.AccountExists(context.Background(), "alice")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestGetAccountDetailsMissingAccount(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAttributeRepository(mock)

	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("ghost", AttrPassword, AttrExpiration).
		WillReturnRows(pgxmock.NewRows([]string{"exists", "password", "expiration"}).
			AddRow(false, (*string)(nil), (*string)(nil)))

	_, err := repo.GetAccountDetails(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestGetAccountDetailsUnsetAttributesAreEmpty(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAttributeRepository(mock)

	// An account whose only row is some other attribute still exists.
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("carol", AttrPassword, AttrExpiration).
		WillReturnRows(pgxmock.NewRows([]string{"exists", "password", "expiration"}).
			AddRow(true, strPtr("S3CRET"), (*string)(nil)))

	d, err := repo.GetAccountDetails(context.Background(), "carol")
	require.NoError(t, err)
	require.Equal(t, &AccountDetails{Username: "carol", Password: "S3CRET"}, d)
}

func TestListAccountsSortedByUsername(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAttributeRepository(mock)

	mock.ExpectQuery(`ORDER BY u.username COLLATE "C"`).
		WithArgs(AttrPassword, AttrExpiration).
		WillReturnRows(pgxmock.NewRows([]string{"username", "has_password", "expiration"}).
			AddRow("Zed", true, (*string)(nil)).
			AddRow("alice", true, strPtr("Jan 05 2026 00:00:00")))

	items, err := repo.ListAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "Zed", items[0].Username)
	require.Nil(t, items[0].Expiration)
	require.Equal(t, "Jan 05 2026 00:00:00", *items[1].Expiration)
}

func TestListAccountsEmptyIsNotNil(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAttributeRepository(mock)

	mock.ExpectQuery(`FROM \(SELECT DISTINCT username FROM radcheck\) u`).
		WithArgs(AttrPassword, AttrExpiration).
		WillReturnRows(pgxmock.NewRows([]string{"username", "has_password", "expiration"}))

	items, err := repo.ListAccounts(context.Background())
	require.NoError(t, err)
	require.NotNil(t, items)
	require.Empty(t, items)
}

func TestLockAccountUsesAdvisoryLock(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAttributeRepository(mock)

	mock.ExpectExec(`SELECT pg_advisory_xact_lock\(hashtextextended\(\$1, 0\)\)`).
		WithArgs("alice").
		WillReturnResult(pgxmock.NewResult("SELECT", 1))

	require.NoError(t, repo.LockAccount(context.Background(), "alice"))
}

func TestCountAccounts(t *testing.T) {
	mock := newMockPool(t)
	repo := NewPgAttributeRepository(mock)

	mock.ExpectQuery(`SELECT COUNT\(DISTINCT username\) FROM radcheck`).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	n, err := repo.CountAccounts(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, n)
}
