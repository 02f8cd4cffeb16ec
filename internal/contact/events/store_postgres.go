package events

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	txcontext "contactlink/pkg/platform/tx"
)

const eventsTable = "contact_events"

var eventColumns = []string{
	"id", "event_type", "primary_contact_id", "payload", "created_at", "published_at",
}

// PostgresStore implements the outbox on the contact_events table.
type PostgresStore struct {
	db *sqlx.DB
}

func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) sqlx.ExtContext {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append writes an event to the outbox, joining the caller's transaction when
// ctx carries one.
func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(eventsTable)
	ib.Cols("id", "event_type", "primary_contact_id", "payload", "created_at")
	ib.Values(event.ID, string(event.Type), event.PrimaryContactID, string(event.Payload), event.CreatedAt)

	query, args := ib.Build()
	if _, err := s.execer(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert contact event: %w", err)
	}
	return nil
}

// ClaimUnpublished locks up to limit unpublished events, oldest first. Rows
// already claimed by another relay are skipped.
func (s *PostgresStore) ClaimUnpublished(ctx context.Context, limit int) ([]Event, error) {
	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(eventColumns...).From(eventsTable)
	sb.Where(sb.IsNull("published_at"))
	sb.OrderBy("created_at", "id").Asc()
	sb.Limit(limit)

	query, args := sb.Build()
	query += " FOR UPDATE SKIP LOCKED"

	claimed := []Event{}
	if err := sqlx.SelectContext(ctx, s.execer(ctx), &claimed, query, args...); err != nil {
		return nil, fmt.Errorf("claim contact events: %w", err)
	}
	return claimed, nil
}

func (s *PostgresStore) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	values := make([]string, len(ids))
	for i, id := range ids {
		values[i] = id.String()
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(eventsTable)
	ub.Set(ub.Assign("published_at", at))
	ub.Where("id = ANY(" + ub.Var(pq.Array(values)) + "::uuid[])")

	query, args := ub.Build()
	if _, err := s.execer(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark contact events published: %w", err)
	}
	return nil
}

// CountUnpublished reports the outbox backlog.
func (s *PostgresStore) CountUnpublished(ctx context.Context) (int, error) {
	var n int
	query := `SELECT count(*) FROM contact_events WHERE published_at IS NULL`
	if err := sqlx.GetContext(ctx, s.execer(ctx), &n, query); err != nil {
		return 0, fmt.Errorf("count contact events: %w", err)
	}
	return n, nil
}
