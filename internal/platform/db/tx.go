package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type contextKey string

const (
	DBTxKey   contextKey = "db_tx"
	DBConnKey contextKey = "db_conn"
)

// ErrNoConnection is returned by WithTx when the context carries neither a
// connection nor a pool to begin a transaction on.
var ErrNoConnection = errors.New("no database connection in context")

// TxFromContext returns the transaction stored in ctx, or nil.
func TxFromContext(ctx context.Context) pgx.Tx {
	tx, _ := ctx.Value(DBTxKey).(pgx.Tx)
	return tx
}

// ConnFromContext returns the pinned pool connection stored in ctx, or nil.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// ContextWithTx returns a copy of ctx carrying tx. Repositories pick it up
// through their conn(ctx) helper.
func ContextWithTx(ctx context.Context, tx pgx.Tx) context.Context {
	return context.WithValue(ctx, DBTxKey, tx)
}

// ContextWithConn returns a copy of ctx carrying a pinned connection.
func ContextWithConn(ctx context.Context, conn *pgxpool.Conn) context.Context {
	return context.WithValue(ctx, DBConnKey, conn)
}

// Transactor runs fn inside a single database transaction. The transaction
// travels in the context handed to fn.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type beginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PoolTransactor is the pgx implementation of Transactor.
type PoolTransactor struct {
	pool *pgxpool.Pool
}

func NewTransactor(pool *pgxpool.Pool) *PoolTransactor {
	return &PoolTransactor{pool: pool}
}

// InTx begins a transaction on the connection pinned in ctx (if any) or on the
// pool. Calls nested inside an outer InTx join the outer transaction.
func (t *PoolTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFromContext(ctx) != nil {
		return fn(ctx)
	}
	var b beginner
	if conn := ConnFromContext(ctx); conn != nil {
		b = conn
	} else if t.pool != nil {
		b = t.pool
	}
	return WithTx(ctx, b, fn)
}

// WithTx begins a transaction on b, runs fn with the transaction in context and
// commits when fn returns nil. Any error or panic rolls back.
func WithTx(ctx context.Context, b beginner, fn func(ctx context.Context) error) (err error) {
	if b == nil {
		return ErrNoConnection
	}
	tx, err := b.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback(ctx)
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(ContextWithTx(ctx, tx)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
