package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Outbox is the storage side of the relay.
type Outbox interface {
	ClaimUnpublished(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Publisher delivers a batch of events, all or nothing.
type Publisher interface {
	Publish(ctx context.Context, batch []Event) error
}

// TxRunner scopes one relay pass to a single transaction so claimed rows stay
// locked until they are marked published.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Relay moves events from the outbox to the publisher. Delivery is at least
// once: a crash between publish and commit re-sends the batch.
type Relay struct {
	outbox    Outbox
	tx        TxRunner
	publisher Publisher
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	now       func() time.Time
}

type RelayOption func(*Relay)

func WithInterval(d time.Duration) RelayOption {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithBatchSize(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func NewRelay(outbox Outbox, tx TxRunner, publisher Publisher, opts ...RelayOption) *Relay {
	r := &Relay{
		outbox:    outbox,
		tx:        tx,
		publisher: publisher,
		logger:    slog.Default(),
		interval:  2 * time.Second,
		batchSize: 100,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run polls until ctx is cancelled. A failed pass is logged and retried on
// the next tick.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("outbox relay started", "interval", r.interval, "batch_size", r.batchSize)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
		}

		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					r.logger.Error("outbox relay pass failed", "error", err)
				}
				break
			}
			// drain a backlog without waiting for the next tick
			if n < r.batchSize {
				break
			}
		}
	}
}

// RelayOnce publishes one batch and reports how many events it sent.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var sent int
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		batch, err := r.outbox.ClaimUnpublished(ctx, r.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		if err := r.publisher.Publish(ctx, batch); err != nil {
			return err
		}

		ids := make([]uuid.UUID, len(batch))
		for i, e := range batch {
			ids[i] = e.ID
		}
		if err := r.outbox.MarkPublished(ctx, ids, r.now()); err != nil {
			return err
		}
		sent = len(batch)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if sent > 0 {
		r.logger.Debug("relayed contact events", "count", sent)
	}
	return sent, nil
}
