package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/go-pet-project/stock/internal/domain"
	"github.com/sakashimaa/go-pet-project/stock/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/go-pet-project/stock/pkg/outbox/domain"
	"github.com/sakashimaa/go-pet-project/stock/pkg/outbox/worker"
	"go.uber.org/zap"
)

// Store is the transactional boundary of the reservation flow.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error)
	Restock(ctx context.Context, productID, quantity int64) (*domain.StockRecord, error)
	GetReservation(ctx context.Context, orderID string) (*domain.Reservation, error)
}

// Tx is the set of operations available inside one order transaction.
type Tx interface {
	// ClaimOrder records the order as in progress. claimed is false when the order was already
	// processed, in which case the stored reservation is returned.
	ClaimOrder(ctx context.Context, event *domain.OrderEvent) (res *domain.Reservation, claimed bool, err error)
	GetQuantity(ctx context.Context, productID int64) (int64, error)
	// DecrementAll applies every line or none of them. A line that cannot be satisfied yields
	// ErrInsufficientStock and leaves stock untouched.
	DecrementAll(ctx context.Context, lines []domain.LineItem) error
	CompleteOrder(ctx context.Context, orderID string, status domain.ReservationStatus, reason string) error
	Enqueue(ctx context.Context, event *outboxDomain.OutboxEvent) error
}

type pgStore struct {
	pool            *pgxpool.Pool
	stockRepo       StockRepository
	reservationRepo ReservationRepository
	outboxRepo      worker.OutboxRepository
	logger          *zap.Logger
}

func NewPgStore(
	pool *pgxpool.Pool,
	stockRepo StockRepository,
	reservationRepo ReservationRepository,
	outboxRepo worker.OutboxRepository,
	logger *zap.Logger,
) Store {
	return &pgStore{
		pool:            pool,
		stockRepo:       stockRepo,
		reservationRepo: reservationRepo,
		outboxRepo:      outboxRepo,
		logger:          logger,
	}
}

func (s *pgStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, store: s})
	})
}

func (s *pgStore) withTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		mylogger.Warn(
			ctx,
			s.logger,
			"Failed to begin transaction",
			zap.Error(err),
		)

		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		err := tx.Rollback(cleanupCtx)

		if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(
				cleanupCtx,
				s.logger,
				"Error rolling back transaction",
				zap.Error(err),
				zap.String("method_name", "withTx"),
			)
		}
	}()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		mylogger.Error(ctx, s.logger, "Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit: %w", err)
	}

	return nil
}

func (s *pgStore) GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	return s.stockRepo.GetByID(ctx, productID)
}

func (s *pgStore) Restock(ctx context.Context, productID, quantity int64) (*domain.StockRecord, error) {
	var res *domain.StockRecord
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		var err error
		res, err = s.stockRepo.IncreaseStock(ctx, tx, productID, quantity)
		return err
	})
	if err != nil {
		return nil, err
	}

	return res, nil
}

func (s *pgStore) GetReservation(ctx context.Context, orderID string) (*domain.Reservation, error) {
	return s.reservationRepo.GetByOrderID(ctx, orderID)
}

type pgTx struct {
	tx    pgx.Tx
	store *pgStore
}

func (t *pgTx) ClaimOrder(ctx context.Context, event *domain.OrderEvent) (*domain.Reservation, bool, error) {
	return t.store.reservationRepo.Claim(ctx, t.tx, event.OrderID, event.ClientID)
}

func (t *pgTx) GetQuantity(ctx context.Context, productID int64) (int64, error) {
	return t.store.stockRepo.GetQuantity(ctx, t.tx, productID)
}

func (t *pgTx) DecrementAll(ctx context.Context, lines []domain.LineItem) error {
	sorted := make([]domain.LineItem, len(lines))
	copy(sorted, lines)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProductID < sorted[j].ProductID })

	savepoint, err := t.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to create savepoint: %w", err)
	}
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if err := savepoint.Rollback(cleanupCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			mylogger.Warn(cleanupCtx, t.store.logger, "Failed to roll back savepoint", zap.Error(err))
		}
	}()

	for _, line := range sorted {
		if err := t.store.stockRepo.DecreaseStock(ctx, savepoint, line.ProductID, line.Quantity); err != nil {
			if errors.Is(err, ErrInsufficientStock) {
				mylogger.Warn(
					ctx,
					t.store.logger,
					"Conditional decrement rejected",
					zap.Int64("product_id", line.ProductID),
					zap.Int64("quantity", line.Quantity),
				)

				return fmt.Errorf("product %d: %w", line.ProductID, ErrInsufficientStock)
			}

			return err
		}
	}

	if err := savepoint.Commit(ctx); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}

	return nil
}

func (t *pgTx) CompleteOrder(ctx context.Context, orderID string, status domain.ReservationStatus, reason string) error {
	return t.store.reservationRepo.Complete(ctx, t.tx, orderID, status, reason)
}

func (t *pgTx) Enqueue(ctx context.Context, event *outboxDomain.OutboxEvent) error {
	if len(event.Headers) == 0 {
		event.Headers = json.RawMessage("{}")
	}

	return t.store.outboxRepo.SaveOutboxEvent(ctx, t.tx, event)
}
