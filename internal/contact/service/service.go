package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"contactlink/internal/contact/events"
	"contactlink/internal/contact/metrics"
	"contactlink/internal/contact/models"
	dErrors "contactlink/pkg/domain-errors"
	"contactlink/pkg/platform/sentinel"
)

// Store is the contact table as seen from inside a transaction. Reads lock the
// rows they return until the transaction ends.
type Store interface {
	// LockIdentifiers serializes transactions that carry the same email or
	// phone, including values no row holds yet.
	LockIdentifiers(ctx context.Context, email, phoneNumber *string) error
	FindMatches(ctx context.Context, email, phoneNumber *string) ([]models.Contact, error)
	// FindGroup returns every contact that is one of primaryIDs or links to
	// one of them, ordered by (createdAt, id).
	FindGroup(ctx context.Context, primaryIDs []int64) ([]models.Contact, error)
	Insert(ctx context.Context, contact models.NewContact) (*models.Contact, error)
	// Demote turns the given primaries into secondaries of canonicalID.
	Demote(ctx context.Context, canonicalID int64, ids []int64) error
	// Repoint moves every contact linked to one of fromIDs onto canonicalID.
	Repoint(ctx context.Context, canonicalID int64, fromIDs []int64) error
}

// TxRunner provides the transactional boundary for an identify call. Every
// store call made with the ctx passed to fn joins the same transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// EventRecorder appends lifecycle events to the outbox inside the caller's
// transaction.
type EventRecorder interface {
	Append(ctx context.Context, event events.Event) error
}

// Service consolidates contact fragments into canonical identities.
type Service struct {
	store   Store
	tx      TxRunner
	events  EventRecorder
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

type Option func(s *Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithEventRecorder enables outbox events for every lifecycle change.
func WithEventRecorder(recorder EventRecorder) Option {
	return func(s *Service) {
		s.events = recorder
	}
}

// WithClock overrides the clock used for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New constructs a Service.
func New(store Store, tx TxRunner, opts ...Option) *Service {
	s := &Service{
		store:  store,
		tx:     tx,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer("contactlink/contact"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type identifyResult struct {
	view    *models.ContactView
	outcome string
	demoted []int64
}

// Identify resolves the request against known contacts, merges groups the
// request links together, records new evidence and returns the consolidated
// view. The whole operation is one transaction.
func (s *Service) Identify(ctx context.Context, req *models.IdentifyRequest) (*models.ContactView, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "contact.Service.Identify")
	defer span.End()

	if req == nil {
		req = &models.IdentifyRequest{}
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	defer func() {
		s.metrics.ObserveIdentify(time.Since(start))
	}()

	var result *identifyResult
	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		result, err = s.identify(ctx, req.Email, req.PhoneNumber)
		return err
	})
	if err != nil {
		span.RecordError(err)
		s.metrics.IncrementOutcome(metrics.OutcomeFailed)
		return nil, s.translateError(ctx, err)
	}

	span.SetAttributes(
		attribute.Int64("contact.primary_id", result.view.PrimaryContactID),
		attribute.String("contact.outcome", result.outcome),
	)
	s.metrics.IncrementOutcome(result.outcome)
	s.metrics.AddDemoted(len(result.demoted))
	if len(result.demoted) > 0 {
		s.logger.InfoContext(ctx, "merged contact groups",
			"primary_contact_id", result.view.PrimaryContactID,
			"demoted_contact_ids", result.demoted,
		)
	}

	return result.view, nil
}

func (s *Service) identify(ctx context.Context, email, phoneNumber *string) (*identifyResult, error) {
	if err := s.store.LockIdentifiers(ctx, email, phoneNumber); err != nil {
		return nil, err
	}

	matches, err := s.store.FindMatches(ctx, email, phoneNumber)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return s.createPrimary(ctx, email, phoneNumber)
	}

	primaryIDs := referencedPrimaryIDs(matches)
	group, err := s.store.FindGroup(ctx, primaryIDs)
	if err != nil {
		return nil, err
	}
	if len(group) == 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "unable to resolve related contacts")
	}

	plan := planMerge(group)
	canonicalID := plan.canonical.ID
	result := &identifyResult{outcome: metrics.OutcomeMatched}

	if len(plan.demote) > 0 {
		if err := s.store.Demote(ctx, canonicalID, plan.demote); err != nil {
			return nil, err
		}
		if err := s.store.Repoint(ctx, canonicalID, plan.demote); err != nil {
			return nil, err
		}
		if err := s.record(ctx, func(now time.Time) (events.Event, error) {
			return events.NewMerged(canonicalID, plan.demote, now)
		}); err != nil {
			return nil, err
		}
		result.outcome = metrics.OutcomeMerged
		result.demoted = plan.demote
	}

	groupIDs := []int64{canonicalID}
	if plan.degraded {
		// the referenced primaries are gone; keep their dependents in view
		groupIDs = append(groupIDs, primaryIDs...)
		s.logger.WarnContext(ctx, "contact group has no primary, using oldest member as canonical",
			"canonical_contact_id", canonicalID,
			"referenced_primary_ids", primaryIDs,
		)
	}

	group, err = s.store.FindGroup(ctx, groupIDs)
	if err != nil {
		return nil, err
	}
	if !plan.degraded {
		if err := verifyFlatLinks(canonicalID, group); err != nil {
			return nil, err
		}
	}

	if hasNewEvidence(group, email, phoneNumber) {
		if plan.degraded {
			s.logger.WarnContext(ctx, "linking new contact to a secondary stand-in, group links are no longer flat",
				"canonical_contact_id", canonicalID,
			)
		}
		inserted, err := s.store.Insert(ctx, models.NewSecondary(email, phoneNumber, canonicalID))
		if err != nil {
			return nil, err
		}
		if err := s.record(ctx, func(now time.Time) (events.Event, error) {
			return events.NewLinked(*inserted, canonicalID, now)
		}); err != nil {
			return nil, err
		}
		if result.outcome == metrics.OutcomeMatched {
			result.outcome = metrics.OutcomeLinked
		}

		group, err = s.store.FindGroup(ctx, groupIDs)
		if err != nil {
			return nil, err
		}
	}

	result.view = models.BuildView(canonicalID, group)
	return result, nil
}

func (s *Service) createPrimary(ctx context.Context, email, phoneNumber *string) (*identifyResult, error) {
	created, err := s.store.Insert(ctx, models.NewPrimary(email, phoneNumber))
	if err != nil {
		return nil, err
	}
	if err := s.record(ctx, func(now time.Time) (events.Event, error) {
		return events.NewCreated(*created, now)
	}); err != nil {
		return nil, err
	}
	return &identifyResult{
		view:    models.BuildView(created.ID, []models.Contact{*created}),
		outcome: metrics.OutcomeCreated,
	}, nil
}

func (s *Service) record(ctx context.Context, build func(now time.Time) (events.Event, error)) error {
	if s.events == nil {
		return nil
	}
	event, err := build(s.now())
	if err != nil {
		return fmt.Errorf("build contact event: %w", err)
	}
	return s.events.Append(ctx, event)
}

// translateError keeps coded errors and turns everything else into an
// internal error. Detail is logged here and never reaches the caller.
func (s *Service) translateError(ctx context.Context, err error) error {
	var de *dErrors.Error
	if !errors.As(err, &de) {
		switch {
		case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
			err = dErrors.Wrap(err, dErrors.CodeTimeout, "identify aborted")
		case errors.Is(err, sentinel.ErrInvalidState):
			err = dErrors.Wrap(err, dErrors.CodeInvariantViolation, "contact links are inconsistent")
		default:
			err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to identify contact")
		}
	}

	if !dErrors.IsClientError(dErrors.CodeOf(err)) {
		s.logger.ErrorContext(ctx, "identify failed",
			"code", string(dErrors.CodeOf(err)),
			"error", err.Error(),
		)
	}
	return err
}
