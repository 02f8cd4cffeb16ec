package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	dErrors "contactlink/pkg/domain-errors"
	txcontext "contactlink/pkg/platform/tx"
)

const defaultTxTimeout = 5 * time.Second

// TxRunner opens one database transaction per call and carries it to stores
// through the context.
type TxRunner struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTxRunner builds a runner. A zero timeout falls back to five seconds and
// only applies when the caller's context has no deadline.
func NewTxRunner(db *sqlx.DB, timeout time.Duration) *TxRunner {
	return &TxRunner{db: db, timeout: timeout}
}

func (t *TxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	timeout := t.timeout
	if timeout == 0 {
		timeout = defaultTxTimeout
	}
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		if ctx.Err() != nil {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
		}
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(txcontext.WithTx(ctx, tx)); err != nil {
		if ctx.Err() != nil && !dErrors.HasCode(err, dErrors.CodeTimeout) {
			return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: deadline exceeded")
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	return nil
}
