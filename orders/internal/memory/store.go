// Package memory holds in-process adapters for the order ports. They back the
// unit tests and the api binary when no DATABASE_URL is configured.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"order-outbox/orders/internal/app"
	"order-outbox/orders/internal/domain"
	"order-outbox/orders/internal/outbox"
)

type orderRow struct {
	customerID domain.CustomerID
	items      []domain.OrderItem
	version    int
}

type stagedOrder struct {
	row      orderRow
	expected int
	insert   bool
}

// Tx buffers writes until the owning Store commits them.
type Tx struct {
	orders map[domain.OrderID]stagedOrder
	outbox []outbox.Record
}

// Failures injects errors into specific steps. Zero value injects nothing.
type Failures struct {
	Save   error
	Append error
	Commit error
}

// Store is an in-memory order repository, outbox and transactor. Commits are
// all-or-nothing: either every staged order and outbox record becomes visible
// or none does.
type Store struct {
	mu        sync.Mutex
	orders    map[domain.OrderID]orderRow
	outbox    []outbox.Record
	processed map[uuid.UUID]string
	fail      Failures
	now       func() time.Time

	findCalls   int
	saveCalls   int
	appendCalls int
	commits     int
	beforeSave  func()
}

func NewStore() *Store {
	return &Store{
		orders:    map[domain.OrderID]orderRow{},
		processed: map[uuid.UUID]string{},
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

func (s *Store) SetFailures(f Failures) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = f
}

// BeforeSave registers a hook that runs at the start of every Save, outside
// the store lock. Tests use it to interleave a competing writer.
func (s *Store) BeforeSave(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.beforeSave = fn
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx app.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &Tx{orders: map[domain.OrderID]stagedOrder{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *Store) commit(tx *Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fail.Commit != nil {
		return s.fail.Commit
	}
	for id, staged := range tx.orders {
		current, exists := s.orders[id]
		if staged.insert && exists {
			return fmt.Errorf("order %s: %w", id, app.ErrDuplicateOrder)
		}
		if !staged.insert && (!exists || current.version != staged.expected) {
			return fmt.Errorf("order %s: %w", id, app.ErrConcurrentUpdate)
		}
	}
	for id, staged := range tx.orders {
		s.orders[id] = staged.row
	}
	s.outbox = append(s.outbox, tx.outbox...)
	s.commits++
	return nil
}

func asTx(tx app.Tx) (*Tx, error) {
	t, ok := tx.(*Tx)
	if !ok || t == nil {
		return nil, errors.New("memory: foreign transaction handle")
	}
	return t, nil
}

func (s *Store) FindByID(ctx context.Context, id domain.OrderID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	row, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, app.ErrOrderNotFound)
	}
	return domain.RestoreOrder(id, row.customerID, row.items, row.version), nil
}

func (s *Store) Save(ctx context.Context, tx app.Tx, order *domain.Order) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	hook := s.beforeSave
	s.mu.Unlock()
	if hook != nil {
		hook()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.fail.Save != nil {
		return s.fail.Save
	}

	current, exists := s.orders[order.ID()]
	row := orderRow{customerID: order.CustomerID(), items: order.Items(), version: order.Version() + 1}
	if order.Version() == 0 {
		if exists {
			return fmt.Errorf("order %s: %w", order.ID(), app.ErrDuplicateOrder)
		}
		t.orders[order.ID()] = stagedOrder{row: row, expected: 0, insert: true}
		return nil
	}
	if !exists || current.version != order.Version() {
		return fmt.Errorf("order %s: %w", order.ID(), app.ErrConcurrentUpdate)
	}
	t.orders[order.ID()] = stagedOrder{row: row, expected: order.Version()}
	return nil
}

func (s *Store) AppendEvents(ctx context.Context, tx app.Tx, evts []domain.Event) error {
	t, err := asTx(tx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.appendCalls++
	failure := s.fail.Append
	s.mu.Unlock()
	if failure != nil {
		return failure
	}
	records, err := outbox.FromEvents(evts)
	if err != nil {
		return err
	}
	t.outbox = append(t.outbox, records...)
	return nil
}

func (s *Store) ClaimPending(ctx context.Context, limit int, lease time.Duration) ([]outbox.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	idx := make([]int, 0, len(s.outbox))
	for i, rec := range s.outbox {
		if rec.Claimable(now) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return s.outbox[idx[a]].OccurredAt.Before(s.outbox[idx[b]].OccurredAt)
	})
	if limit > 0 && len(idx) > limit {
		idx = idx[:limit]
	}

	until := now.Add(lease)
	claimed := make([]outbox.Record, 0, len(idx))
	for _, i := range idx {
		s.outbox[i].ClaimedUntil = &until
		claimed = append(claimed, s.outbox[i])
	}
	return claimed, nil
}

func (s *Store) MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID != id {
			continue
		}
		if s.outbox[i].PublishedAt == nil {
			published := at.UTC()
			s.outbox[i].PublishedAt = &published
			s.outbox[i].ClaimedUntil = nil
		}
		return nil
	}
	return fmt.Errorf("outbox record %s not found", id)
}

func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID, reason string, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID != id {
			continue
		}
		if s.outbox[i].PublishedAt != nil {
			return nil
		}
		retry := retryAt.UTC()
		s.outbox[i].Attempts++
		s.outbox[i].LastError = reason
		s.outbox[i].ClaimedUntil = &retry
		return nil
	}
	return fmt.Errorf("outbox record %s not found", id)
}

// ProcessOnce runs fn unless eventID was already recorded. fn's error leaves
// the id unrecorded so a redelivery retries it.
func (s *Store) ProcessOnce(ctx context.Context, eventID uuid.UUID, eventType string, fn func(ctx context.Context) error) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.processed[eventID]; seen {
		return false, nil
	}
	if err := fn(ctx); err != nil {
		return false, err
	}
	s.processed[eventID] = eventType
	return true, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

// Records returns a snapshot of the outbox in insertion order.
func (s *Store) Records() []outbox.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]outbox.Record, len(s.outbox))
	copy(out, s.outbox)
	return out
}

func (s *Store) Pending() []outbox.Record {
	var out []outbox.Record
	for _, rec := range s.Records() {
		if rec.Status() == outbox.StatusPending {
			out = append(out, rec)
		}
	}
	return out
}

// Seed stores an order directly, bypassing the outbox.
func (s *Store) Seed(order *domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	version := order.Version()
	if version == 0 {
		version = 1
	}
	s.orders[order.ID()] = orderRow{customerID: order.CustomerID(), items: order.Items(), version: version}
}

type Calls struct {
	Find    int
	Save    int
	Append  int
	Commits int
}

func (s *Store) Calls() Calls {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Calls{Find: s.findCalls, Save: s.saveCalls, Append: s.appendCalls, Commits: s.commits}
}
