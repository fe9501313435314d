package core

import (
	"context"
	"fmt"
)

// FreeRADIUS check attributes managed by the portal.
const (
	AttrPassword   = "Cleartext-Password"
	AttrExpiration = "Expiration"

	// OpAssign is the radcheck operator used unless a caller asks for another one.
	OpAssign = ":="
)

// AccountSummary is one row of the account listing.
type AccountSummary struct {
	Username    string  `json:"username" yaml:"username"`
	HasPassword bool    `json:"has_password" yaml:"has_password"`
	Expiration  *string `json:"expiration" yaml:"expiration,omitempty"`
}

// AccountDetails holds the authoritative attribute values of an existing account.
// Unset attributes are empty strings.
type AccountDetails struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	Expiration string `json:"expiration"`
}

// AttributeStore defines persistence operations on radcheck.
// An account exists iff at least one radcheck row references its username.
type AttributeStore interface {
	AccountExists(ctx context.Context, username string) (bool, error)
	LockAccount(ctx context.Context, username string) error
	UpsertAttribute(ctx context.Context, username, attribute, value, op string) error
	DeleteAttribute(ctx context.Context, username, attribute string) (int64, error)
	DeleteAccount(ctx context.Context, username string) (int64, error)
	ListAccounts(ctx context.Context) ([]AccountSummary, error)
	GetAccountDetails(ctx context.Context, username string) (*AccountDetails, error)
	CountAccounts(ctx context.Context) (int, error)
}

// PgAttributeRepository implements AttributeStore on the FreeRADIUS radcheck/radreply tables.
//
// When several rows share a (username, attribute) pair the lowest id is the
// authoritative one. The unique index added by the migrations prevents new
// duplicates; reads keep the lowest-id rule so an unmigrated schema still reads correctly.
type PgAttributeRepository struct {
	db DBTX
}

func NewPgAttributeRepository(db DBTX) *PgAttributeRepository {
	return &PgAttributeRepository{db: db}
}

func (r *PgAttributeRepository) AccountExists(ctx context.Context, username string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM radcheck WHERE username=$1)`
	var exists bool
	if err := r.db.QueryRow(ctx, q, username).Scan(&exists); err != nil {
		return false, fmt.Errorf("account exists: %w", err)
	}
	return exists, nil
}

// LockAccount takes a transaction-scoped advisory lock on username.
// It only serialises anything when called inside a transaction.
func (r *PgAttributeRepository) LockAccount(ctx context.Context, username string) error {
	const q = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
	if _, err := r.db.Exec(ctx, q, username); err != nil {
		return fmt.Errorf("lock account: %w", err)
	}
	return nil
}

// UpsertAttribute writes value and op for the pair in one statement, keeping the row id.
func (r *PgAttributeRepository) UpsertAttribute(ctx context.Context, username, attribute, value, op string) error {
	if op == "" {
		op = OpAssign
	}
	const q = `
INSERT INTO radcheck (username, attribute, op, value)
VALUES ($1, $2, $3, $4)
ON CONFLICT (username, attribute) DO UPDATE SET op = EXCLUDED.op, value = EXCLUDED.value
`
	if _, err := r.db.Exec(ctx, q, username, attribute, op, value); err != nil {
		return fmt.Errorf("upsert %s: %w", attribute, err)
	}
	return nil
}

// DeleteAttribute removes every row of the pair. Missing rows are not an error.
func (r *PgAttributeRepository) DeleteAttribute(ctx context.Context, username, attribute string) (int64, error) {
	const q = `DELETE FROM radcheck WHERE username=$1 AND attribute=$2`
	tag, err := r.db.Exec(ctx, q, username, attribute)
	if err != nil {
		return 0, fmt.Errorf("delete %s: %w", attribute, err)
	}
	return tag.RowsAffected(), nil
}

// DeleteAccount removes all check and reply attributes of username and
// returns the number of radcheck rows removed.
func (r *PgAttributeRepository) DeleteAccount(ctx context.Context, username string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM radcheck WHERE username=$1`, username)
	if err != nil {
		return 0, fmt.Errorf("delete radcheck: %w", err)
	}
	if _, err := r.db.Exec(ctx, `DELETE FROM radreply WHERE username=$1`, username); err != nil {
		return 0, fmt.Errorf("delete radreply: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListAccounts returns one entry per distinct username in byte order.
func (r *PgAttributeRepository) ListAccounts(ctx context.Context) ([]AccountSummary, error) {
	const q = `
SELECT u.username,
       EXISTS (SELECT 1 FROM radcheck p WHERE p.username = u.username AND p.attribute = $1) AS has_password,
       (SELECT e.value FROM radcheck e WHERE e.username = u.username AND e.attribute = $2 ORDER BY e.id ASC LIMIT 1) AS expiration
FROM (SELECT DISTINCT username FROM radcheck) u
ORDER BY u.username COLLATE "C"
`
	rows, err := r.db.Query(ctx, q, AttrPassword, AttrExpiration)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()
	items := make([]AccountSummary, 0)
	for rows.Next() {
		var a AccountSummary
		if err := rows.Scan(&a.Username, &a.HasPassword, &a.Expiration); err != nil {
			return nil, fmt.Errorf("list accounts: %w", err)
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	return items, nil
}

// GetAccountDetails returns ErrAccountNotFound when username has no radcheck rows.
func (r *PgAttributeRepository) GetAccountDetails(ctx context.Context, username string) (*AccountDetails, error) {
	const q = `
SELECT EXISTS (SELECT 1 FROM radcheck WHERE username = $1),
       (SELECT value FROM radcheck WHERE username = $1 AND attribute = $2 ORDER BY id ASC LIMIT 1),
       (SELECT value FROM radcheck WHERE username = $1 AND attribute = $3 ORDER BY id ASC LIMIT 1)
`
	var (
		exists     bool
		password   *string
		expiration *string
	)
	if err := r.db.QueryRow(ctx, q, username, AttrPassword, AttrExpiration).Scan(&exists, &password, &expiration); err != nil {
		return nil, fmt.Errorf("account details: %w", err)
	}
	if !exists {
		return nil, ErrAccountNotFound
	}
	d := &AccountDetails{Username: username}
	if password != nil {
		d.Password = *password
	}
	if expiration != nil {
		d.Expiration = *expiration
	}
	return d, nil
}

func (r *PgAttributeRepository) CountAccounts(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(DISTINCT username) FROM radcheck`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count accounts: %w", err)
	}
	return n, nil
}
