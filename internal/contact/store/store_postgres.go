package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"contactlink/internal/contact/models"
	"contactlink/pkg/platform/sentinel"
	txcontext "contactlink/pkg/platform/tx"
)

const contactsTable = "contacts"

var contactColumns = []string{
	"id", "email", "phone_number", "linked_id", "link_precedence",
	"created_at", "updated_at", "deleted_at",
}

var tracer = otel.Tracer("contactlink/contact/store")

// PostgresStore persists contacts in PostgreSQL. It is pure I/O; election and
// merge rules live in the service. Reads take FOR UPDATE row locks, so calls
// are expected to run inside a transaction carried by ctx.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgres constructs a PostgreSQL-backed contact store.
func NewPostgres(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) execer(ctx context.Context) sqlx.ExtContext {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// LockIdentifiers takes transaction-scoped advisory locks on each identifier,
// in sorted order so concurrent callers never wait on each other in a cycle.
func (s *PostgresStore) LockIdentifiers(ctx context.Context, email, phoneNumber *string) error {
	ctx, span := tracer.Start(ctx, "contact.PostgresStore.LockIdentifiers")
	defer span.End()

	tx, ok := txcontext.From(ctx)
	if !ok {
		return fmt.Errorf("lock identifiers: no transaction in context")
	}
	for _, key := range identifierKeys(email, phoneNumber) {
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
			return fmt.Errorf("lock identifier: %w", err)
		}
	}
	return nil
}

// FindMatches locks and returns live contacts sharing the email or the phone.
func (s *PostgresStore) FindMatches(ctx context.Context, email, phoneNumber *string) ([]models.Contact, error) {
	ctx, span := tracer.Start(ctx, "contact.PostgresStore.FindMatches")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns...).From(contactsTable)

	var predicates []string
	if email != nil {
		predicates = append(predicates, sb.Equal("email", *email))
	}
	if phoneNumber != nil {
		predicates = append(predicates, sb.Equal("phone_number", *phoneNumber))
	}
	if len(predicates) == 0 {
		return []models.Contact{}, nil
	}

	sb.Where(sb.IsNull("deleted_at"), sb.Or(predicates...))
	sb.OrderBy("created_at", "id").Asc()
	sb.ForUpdate()

	query, args := sb.Build()
	matches := []models.Contact{}
	if err := sqlx.SelectContext(ctx, s.execer(ctx), &matches, query, args...); err != nil {
		return nil, fmt.Errorf("find matching contacts: %w", err)
	}
	return matches, nil
}

// FindGroup locks and returns every live contact that is one of primaryIDs or
// links to one of them, oldest first.
func (s *PostgresStore) FindGroup(ctx context.Context, primaryIDs []int64) ([]models.Contact, error) {
	ctx, span := tracer.Start(ctx, "contact.PostgresStore.FindGroup")
	defer span.End()

	if len(primaryIDs) == 0 {
		return []models.Contact{}, nil
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(contactColumns...).From(contactsTable)
	ids := pq.Array(primaryIDs)
	sb.Where(
		sb.IsNull("deleted_at"),
		sb.Or(
			"id = ANY("+sb.Var(ids)+")",
			"linked_id = ANY("+sb.Var(ids)+")",
		),
	)
	sb.OrderBy("created_at", "id").Asc()
	sb.ForUpdate()

	query, args := sb.Build()
	group := []models.Contact{}
	if err := sqlx.SelectContext(ctx, s.execer(ctx), &group, query, args...); err != nil {
		return nil, fmt.Errorf("find contact group: %w", err)
	}
	return group, nil
}

func (s *PostgresStore) Insert(ctx context.Context, contact models.NewContact) (*models.Contact, error) {
	ctx, span := tracer.Start(ctx, "contact.PostgresStore.Insert")
	defer span.End()

	ib := sqlbuilder.PostgreSQL.NewInsertBuilder()
	ib.InsertInto(contactsTable)
	ib.Cols("email", "phone_number", "linked_id", "link_precedence")
	ib.Values(contact.Email, contact.PhoneNumber, contact.LinkedID, string(contact.LinkPrecedence))

	query, args := ib.Build()
	query += " RETURNING " + strings.Join(contactColumns, ", ")

	var created models.Contact
	if err := sqlx.GetContext(ctx, s.execer(ctx), &created, query, args...); err != nil {
		return nil, fmt.Errorf("insert contact: %w", classify(err))
	}
	return &created, nil
}

func (s *PostgresStore) Demote(ctx context.Context, canonicalID int64, ids []int64) error {
	ctx, span := tracer.Start(ctx, "contact.PostgresStore.Demote")
	defer span.End()

	if len(ids) == 0 {
		return nil
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(contactsTable)
	ub.Set(
		ub.Assign("link_precedence", string(models.LinkPrecedenceSecondary)),
		ub.Assign("linked_id", canonicalID),
	)
	ub.Where("id = ANY(" + ub.Var(pq.Array(ids)) + ")")

	query, args := ub.Build()
	if _, err := s.execer(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("demote primaries: %w", classify(err))
	}
	return nil
}

func (s *PostgresStore) Repoint(ctx context.Context, canonicalID int64, fromIDs []int64) error {
	ctx, span := tracer.Start(ctx, "contact.PostgresStore.Repoint")
	defer span.End()

	if len(fromIDs) == 0 {
		return nil
	}

	ub := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	ub.Update(contactsTable)
	ub.Set(ub.Assign("linked_id", canonicalID))
	ub.Where("linked_id = ANY(" + ub.Var(pq.Array(fromIDs)) + ")")

	query, args := ub.Build()
	if _, err := s.execer(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("repoint secondaries: %w", classify(err))
	}
	return nil
}

func identifierKeys(email, phoneNumber *string) []string {
	keys := make([]string, 0, 2)
	if email != nil {
		keys = append(keys, "email:"+*email)
	}
	if phoneNumber != nil {
		keys = append(keys, "phone:"+*phoneNumber)
	}
	sort.Strings(keys)
	return keys
}

// classify maps integrity constraint violations (SQLSTATE class 23) onto
// sentinel.ErrInvalidState and leaves every other error untouched.
func classify(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return fmt.Errorf("%w: %s (%s)", sentinel.ErrInvalidState, pqErr.Constraint, pqErr.Message)
	}
	return err
}
