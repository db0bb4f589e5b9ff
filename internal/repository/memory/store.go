// Package memory is an in-process Store used by unit tests and local runs without Postgres.
// Transactions are serialized; the conditional decrement is still checked per line so the
// committed state never goes negative.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/sakashimaa/go-pet-project/stock/internal/domain"
	"github.com/sakashimaa/go-pet-project/stock/internal/repository"
	outboxDomain "github.com/sakashimaa/go-pet-project/stock/pkg/outbox/domain"
)

const (
	OpBegin       = "begin"
	OpGetQuantity = "get_quantity"
	OpDecrement   = "decrement"
	OpCommit      = "commit"
)

type Store struct {
	sem chan struct{}

	mu           sync.Mutex
	stock        map[int64]int64
	reservations map[string]domain.Reservation
	outbox       []*outboxDomain.OutboxEvent
	nextID       int64
	faults       map[string]error
	now          func() time.Time
}

func NewStore() *Store {
	return &Store{
		sem:          make(chan struct{}, 1),
		stock:        make(map[int64]int64),
		reservations: make(map[string]domain.Reservation),
		faults:       make(map[string]error),
		now:          time.Now,
	}
}

// Seed sets the quantity on hand for each product.
func (s *Store) Seed(stock map[int64]int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, q := range stock {
		s.stock[id] = q
	}
}

// FailOnce makes the next call of op return err.
func (s *Store) FailOnce(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.faults[op] = err
}

func (s *Store) Quantity(productID int64) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.stock[productID]
	return q, ok
}

// Outbox returns a copy of every committed outbox event in enqueue order.
func (s *Store) Outbox() []*outboxDomain.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*outboxDomain.OutboxEvent, len(s.outbox))
	copy(out, s.outbox)
	return out
}

func (s *Store) fault(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err, ok := s.faults[op]
	if !ok {
		return nil
	}
	delete(s.faults, op)
	return err
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx repository.Tx) error) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()

	if err := s.fault(OpBegin); err != nil {
		return err
	}

	tx := &memTx{
		store:        s,
		stock:        make(map[int64]int64),
		reservations: make(map[string]domain.Reservation),
	}

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.fault(OpCommit); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id, q := range tx.stock {
		s.stock[id] = q
	}
	for id, r := range tx.reservations {
		s.reservations[id] = r
	}
	for _, e := range tx.outbox {
		s.nextID++
		e.Id = s.nextID
		e.CreatedAt = s.now()
		s.outbox = append(s.outbox, e)
	}

	return nil
}

func (s *Store) GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q, ok := s.Quantity(productID)
	if !ok {
		return nil, repository.ErrProductNotFound
	}

	return &domain.StockRecord{ProductID: productID, Quantity: q, UpdatedAt: s.now()}, nil
}

func (s *Store) Restock(ctx context.Context, productID, quantity int64) (*domain.StockRecord, error) {
	var res *domain.StockRecord
	err := s.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		t := tx.(*memTx)

		current, err := t.GetQuantity(ctx, productID)
		if err != nil {
			return err
		}

		t.stock[productID] = current + quantity
		res = &domain.StockRecord{ProductID: productID, Quantity: current + quantity, UpdatedAt: s.now()}
		return nil
	})

	return res, err
}

func (s *Store) GetReservation(ctx context.Context, orderID string) (*domain.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reservations[orderID]
	if !ok {
		return nil, repository.ErrReservationNotFound
	}

	return &r, nil
}

// memTx buffers writes until the enclosing InTx commits.
type memTx struct {
	store        *Store
	stock        map[int64]int64
	reservations map[string]domain.Reservation
	outbox       []*outboxDomain.OutboxEvent
}

func (t *memTx) quantity(productID int64) (int64, bool) {
	if q, ok := t.stock[productID]; ok {
		return q, true
	}

	return t.store.Quantity(productID)
}

func (t *memTx) ClaimOrder(ctx context.Context, event *domain.OrderEvent) (*domain.Reservation, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	if existing, err := t.store.GetReservation(ctx, event.OrderID); err == nil {
		return existing, false, nil
	}

	now := t.store.now()
	r := domain.Reservation{
		OrderID:   event.OrderID,
		ClientID:  event.ClientID,
		Status:    domain.ReservationPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	t.reservations[event.OrderID] = r

	return &r, true, nil
}

func (t *memTx) GetQuantity(ctx context.Context, productID int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := t.store.fault(OpGetQuantity); err != nil {
		return 0, err
	}

	q, ok := t.quantity(productID)
	if !ok {
		return 0, repository.ErrProductNotFound
	}

	return q, nil
}

func (t *memTx) DecrementAll(ctx context.Context, lines []domain.LineItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := t.store.fault(OpDecrement); err != nil {
		return err
	}

	next := make(map[int64]int64, len(lines))
	for _, line := range lines {
		current, ok := next[line.ProductID]
		if !ok {
			current, ok = t.quantity(line.ProductID)
		}
		if !ok || current < line.Quantity {
			return repository.ErrInsufficientStock
		}

		next[line.ProductID] = current - line.Quantity
	}

	for id, q := range next {
		t.stock[id] = q
	}

	return nil
}

func (t *memTx) CompleteOrder(ctx context.Context, orderID string, status domain.ReservationStatus, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r, ok := t.reservations[orderID]
	if !ok {
		return repository.ErrReservationNotFound
	}

	r.Status = status
	r.Reason = reason
	r.UpdatedAt = t.store.now()
	t.reservations[orderID] = r

	return nil
}

func (t *memTx) Enqueue(ctx context.Context, event *outboxDomain.OutboxEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t.outbox = append(t.outbox, event)
	return nil
}
