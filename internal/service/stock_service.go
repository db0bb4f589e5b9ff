package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sakashimaa/go-pet-project/stock/internal/domain"
	"github.com/sakashimaa/go-pet-project/stock/internal/repository"
	"github.com/sakashimaa/go-pet-project/stock/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var ErrInvalidQuantity = errors.New("quantity must be positive")

type StockService interface {
	Reserve(ctx context.Context, event *domain.OrderEvent) (domain.OutcomeEvent, error)
	GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error)
	Restock(ctx context.Context, productID, quantity int64) (*domain.StockRecord, error)
	GetReservation(ctx context.Context, orderID string) (*domain.Reservation, error)
}

// Recorder receives reservation counters. *metrics.Metrics satisfies it.
type Recorder interface {
	ObserveReservation(outcome string)
	ObserveDuplicate()
}

type nopRecorder struct{}

func (nopRecorder) ObserveReservation(string) {}
func (nopRecorder) ObserveDuplicate()         {}

type Config struct {
	StockTopic string
	TxTimeout  time.Duration
}

type stockService struct {
	store      repository.Store
	logger     *zap.Logger
	recorder   Recorder
	tracer     trace.Tracer
	stockTopic string
	txTimeout  time.Duration
}

func NewStockService(
	store repository.Store,
	logger *zap.Logger,
	recorder Recorder,
	cfg Config,
) StockService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if cfg.TxTimeout <= 0 {
		cfg.TxTimeout = 5 * time.Second
	}

	return &stockService{
		store:      store,
		logger:     logger,
		recorder:   recorder,
		tracer:     otel.Tracer("stock-service"),
		stockTopic: cfg.StockTopic,
		txTimeout:  cfg.TxTimeout,
	}
}

func (s *stockService) GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	res, err := s.store.GetStock(ctx, productID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			mylogger.Warn(ctx, s.logger, "product not found", zap.Int64("product_id", productID))
			return nil, err
		}

		mylogger.Error(ctx, s.logger, "error getting stock", zap.Error(err))
		return nil, fmt.Errorf("error getting stock by id: %w", err)
	}

	return res, nil
}

func (s *stockService) Restock(ctx context.Context, productID, quantity int64) (*domain.StockRecord, error) {
	if quantity <= 0 {
		return nil, ErrInvalidQuantity
	}

	res, err := s.store.Restock(ctx, productID, quantity)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			return nil, err
		}

		mylogger.Error(
			ctx,
			s.logger,
			"error restocking product",
			zap.Int64("product_id", productID),
			zap.Int64("quantity", quantity),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error restocking product: %w", err)
	}

	mylogger.Info(
		ctx,
		s.logger,
		"Product restocked",
		zap.Int64("product_id", productID),
		zap.Int64("quantity", res.Quantity),
	)

	return res, nil
}

func (s *stockService) GetReservation(ctx context.Context, orderID string) (*domain.Reservation, error) {
	res, err := s.store.GetReservation(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrReservationNotFound) {
			return nil, err
		}

		mylogger.Error(ctx, s.logger, "error getting reservation", zap.String("order_id", orderID), zap.Error(err))
		return nil, fmt.Errorf("error getting reservation: %w", err)
	}

	return res, nil
}
