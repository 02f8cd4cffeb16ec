package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"contactlink/internal/contact/models"
	dErrors "contactlink/pkg/domain-errors"
	"contactlink/pkg/platform/sentinel"
)

// InMemoryStore keeps contacts in a map. Transactions are serialized with a
// single lock and rolled back by restoring a snapshot, which stands in for the
// row and identifier locks of the Postgres store.
type InMemoryStore struct {
	txMu     sync.Mutex
	mu       sync.RWMutex
	contacts map[int64]models.Contact
	nextID   int64
	clock    func() time.Time
}

type MemoryOption func(*InMemoryStore)

// WithMemoryClock sets the clock used for createdAt/updatedAt.
func WithMemoryClock(clock func() time.Time) MemoryOption {
	return func(s *InMemoryStore) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewInMemoryStore(opts ...MemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		contacts: make(map[int64]models.Contact),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunInTx runs fn with exclusive access to the store and discards its writes
// when fn fails.
func (s *InMemoryStore) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}

	s.mu.RLock()
	snapshot := maps.Clone(s.contacts)
	s.mu.RUnlock()

	if err := fn(ctx); err != nil {
		s.mu.Lock()
		s.contacts = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

// LockIdentifiers is a no-op: RunInTx already serializes every transaction.
func (s *InMemoryStore) LockIdentifiers(ctx context.Context, _, _ *string) error {
	return ctx.Err()
}

func (s *InMemoryStore) FindMatches(_ context.Context, email, phoneNumber *string) ([]models.Contact, error) {
	if email == nil && phoneNumber == nil {
		return []models.Contact{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	matches := make([]models.Contact, 0)
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		if equalPtr(email, c.Email) || equalPtr(phoneNumber, c.PhoneNumber) {
			matches = append(matches, c)
		}
	}
	return models.SortByAge(matches), nil
}

func (s *InMemoryStore) FindGroup(_ context.Context, primaryIDs []int64) ([]models.Contact, error) {
	if len(primaryIDs) == 0 {
		return []models.Contact{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	group := make([]models.Contact, 0)
	for _, c := range s.contacts {
		if c.DeletedAt != nil {
			continue
		}
		if slices.Contains(primaryIDs, c.ID) || (c.LinkedID != nil && slices.Contains(primaryIDs, *c.LinkedID)) {
			group = append(group, c)
		}
	}
	return models.SortByAge(group), nil
}

// Insert enforces the same row constraints as the contacts table.
func (s *InMemoryStore) Insert(_ context.Context, contact models.NewContact) (*models.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkRow(contact); err != nil {
		return nil, err
	}

	s.nextID++
	now := s.clock()
	created := models.Contact{
		ID:             s.nextID,
		Email:          contact.Email,
		PhoneNumber:    contact.PhoneNumber,
		LinkedID:       contact.LinkedID,
		LinkPrecedence: contact.LinkPrecedence,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	s.contacts[created.ID] = created
	return &created, nil
}

func (s *InMemoryStore) Demote(_ context.Context, canonicalID int64, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	for _, id := range ids {
		c, ok := s.contacts[id]
		if !ok {
			continue
		}
		linked := canonicalID
		c.LinkPrecedence = models.LinkPrecedenceSecondary
		c.LinkedID = &linked
		c.UpdatedAt = now
		s.contacts[id] = c
	}
	return nil
}

func (s *InMemoryStore) Repoint(_ context.Context, canonicalID int64, fromIDs []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock()
	for id, c := range s.contacts {
		if c.LinkedID == nil || !slices.Contains(fromIDs, *c.LinkedID) {
			continue
		}
		linked := canonicalID
		c.LinkedID = &linked
		c.UpdatedAt = now
		s.contacts[id] = c
	}
	return nil
}

// Seed stores rows verbatim, ids and timestamps included. Used to set up
// groups that the identify flow would not produce by itself.
func (s *InMemoryStore) Seed(contacts ...models.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range contacts {
		s.contacts[c.ID] = c
		if c.ID > s.nextID {
			s.nextID = c.ID
		}
	}
}

// All returns every stored row, deleted ones included, ordered by id.
func (s *InMemoryStore) All() []models.Contact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := slices.Collect(maps.Values(s.contacts))
	slices.SortFunc(all, func(a, b models.Contact) int {
		return int(a.ID - b.ID)
	})
	return all
}

func (s *InMemoryStore) checkRow(c models.NewContact) error {
	switch {
	case c.Email == nil && c.PhoneNumber == nil:
		return fmt.Errorf("%w: contact has neither email nor phone", sentinel.ErrInvalidState)
	case !c.LinkPrecedence.IsValid():
		return fmt.Errorf("%w: unknown link precedence %q", sentinel.ErrInvalidState, c.LinkPrecedence)
	case (c.LinkPrecedence == models.LinkPrecedencePrimary) != (c.LinkedID == nil):
		return fmt.Errorf("%w: %s contact has inconsistent linked id", sentinel.ErrInvalidState, c.LinkPrecedence)
	}
	if c.LinkedID != nil {
		if _, ok := s.contacts[*c.LinkedID]; !ok {
			return fmt.Errorf("%w: linked contact %d does not exist", sentinel.ErrInvalidState, *c.LinkedID)
		}
	}
	return nil
}

func equalPtr(want, got *string) bool {
	return want != nil && got != nil && *want == *got
}
