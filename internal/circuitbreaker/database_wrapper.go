package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// DatabaseWrapper guards sqlx operations with a circuit breaker.
// sql.ErrNoRows is passed through without counting as a failure.
type DatabaseWrapper struct {
	db     *sqlx.DB
	cb     *Breaker
	logger *zap.Logger
}

// NewDatabaseWrapper creates a database wrapper with circuit breaker
func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DatabaseWrapper{
		db:     db,
		cb:     New("database", DatabaseConfig(), logger),
		logger: logger,
	}
}

// DB returns the underlying handle
func (dw *DatabaseWrapper) DB() *sqlx.DB { return dw.db }

// Rebind converts ? placeholders to the driver's bindvar type
func (dw *DatabaseWrapper) Rebind(query string) string { return dw.db.Rebind(query) }

// State returns the breaker state
func (dw *DatabaseWrapper) State() State { return dw.cb.State() }

func (dw *DatabaseWrapper) guard(ctx context.Context, fn func() error) error {
	var passthrough error
	err := dw.cb.Execute(ctx, func() error {
		err := fn()
		if errors.Is(err, sql.ErrNoRows) {
			passthrough = err
			return nil
		}
		return err
	})
	observeRequest(dw.cb.Name(), dw.cb.State(), err)
	if err != nil {
		return err
	}
	return passthrough
}

// PingContext wraps database ping with circuit breaker
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.guard(ctx, func() error { return dw.db.PingContext(ctx) })
}

// ExecContext wraps exec with circuit breaker
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := dw.guard(ctx, func() error {
		var err error
		res, err = dw.db.ExecContext(ctx, dw.db.Rebind(query), args...)
		return err
	})
	return res, err
}

// GetContext scans a single row into dest
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.guard(ctx, func() error {
		return dw.db.GetContext(ctx, dest, dw.db.Rebind(query), args...)
	})
}

// SelectContext scans all rows into dest
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.guard(ctx, func() error {
		return dw.db.SelectContext(ctx, dest, dw.db.Rebind(query), args...)
	})
}

// WithTx runs fn in a transaction, committing on success and rolling back otherwise
func (dw *DatabaseWrapper) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return dw.guard(ctx, func() error {
		tx, err := dw.db.BeginTxx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		if err := fn(tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				dw.logger.Warn("Rollback failed", zap.Error(rbErr))
			}
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}
