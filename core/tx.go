package core

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of pgx used by the repositories.
// *pgxpool.Pool, *pgx.Conn and pgx.Tx all satisfy it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is a DBTX that can also open transactions.
type PgxPool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// WithTx begins a transaction, runs fn with it, and commits on success.
// It rolls back when fn returns an error or panics; panics are rethrown.
func WithTx(ctx context.Context, db PgxPool, fn func(ctx context.Context, tx DBTX) error) (err error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		err = tx.Commit(ctx)
	}()

	return fn(ctx, tx)
}

// Stores groups the repositories used by one unit of work.
type Stores struct {
	Attributes AttributeStore
	Meta       MetaStore
	Audit      AuditStore
}

// UnitOfWork hands out repositories, either bound to the pool or to a single transaction.
type UnitOfWork interface {
	Stores() Stores
	Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// PgUnitOfWork implements UnitOfWork on top of pgx.
type PgUnitOfWork struct {
	db PgxPool
}

func NewPgUnitOfWork(db PgxPool) *PgUnitOfWork {
	return &PgUnitOfWork{db: db}
}

func (u *PgUnitOfWork) Stores() Stores {
	return newPgStores(u.db)
}

// Do runs fn inside one transaction; every write made through s commits or rolls back together.
func (u *PgUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	return WithTx(ctx, u.db, func(ctx context.Context, tx DBTX) error {
		return fn(ctx, newPgStores(tx))
	})
}

func newPgStores(db DBTX) Stores {
	return Stores{
		Attributes: NewPgAttributeRepository(db),
		Meta:       NewPgMetaRepository(db),
		Audit:      NewPgAuditRepository(db),
	}
}
