package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/go-pet-project/stock/internal/domain"
	"github.com/sakashimaa/go-pet-project/stock/pkg/db"
	"github.com/sakashimaa/go-pet-project/stock/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type StockRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.StockRecord, error)
	GetQuantity(ctx context.Context, tx pgx.Tx, id int64) (int64, error)
	DecreaseStock(ctx context.Context, tx pgx.Tx, id, quantity int64) error
	IncreaseStock(ctx context.Context, tx pgx.Tx, id, quantity int64) (*domain.StockRecord, error)
}

type stockRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewStockRepository(pool *pgxpool.Pool, logger *zap.Logger) StockRepository {
	return &stockRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("contract/stock_repo"),
	}
}

func (r *stockRepo) GetByID(ctx context.Context, id int64) (*domain.StockRecord, error) {
	ctx, span := r.tracer.Start(ctx, "StockRepository.GetByID")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
	)

	query := `
		SELECT id, stock_quantity, updated_at
		FROM products
		WHERE id = $1 AND deleted_at IS NULL;
	`

	var res domain.StockRecord
	if err := r.pool.QueryRow(ctx, query, id).Scan(&res.ProductID, &res.Quantity, &res.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error get stock by id",
			zap.Int64("id", id),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error getting stock: %w", err)
	}

	return &res, nil
}

func (r *stockRepo) GetQuantity(ctx context.Context, tx pgx.Tx, id int64) (int64, error) {
	ctx, span := r.tracer.Start(ctx, "StockRepository.GetQuantity")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
	)

	query := `
		SELECT stock_quantity
		FROM products
		WHERE id = $1 AND deleted_at IS NULL;
	`

	var quantity int64
	if err := tx.QueryRow(ctx, query, id).Scan(&quantity); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrProductNotFound
		}

		span.RecordError(err)
		return 0, fmt.Errorf("error reading stock for product %d: %w", id, err)
	}

	return quantity, nil
}

func (r *stockRepo) DecreaseStock(ctx context.Context, tx pgx.Tx, id, quantity int64) error {
	ctx, span := r.tracer.Start(ctx, "StockRepository.DecreaseStock")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
		attribute.Int64("quantity", quantity),
	)

	query := `
		UPDATE products
		SET stock_quantity = stock_quantity - $2, updated_at = NOW()
		WHERE id = $1
			AND stock_quantity >= $2
			AND deleted_at IS NULL;
	`

	commandTag, err := tx.Exec(ctx, query, id, quantity)
	if err != nil {
		if db.IsCheckViolation(err) {
			return ErrInsufficientStock
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error decreasing stock",
			zap.Int64("id", id),
			zap.Int64("quantity", quantity),
			zap.Error(err),
		)

		return fmt.Errorf("error decreasing stock for product %d: %w", id, err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrInsufficientStock
	}

	return nil
}

func (r *stockRepo) IncreaseStock(ctx context.Context, tx pgx.Tx, id, quantity int64) (*domain.StockRecord, error) {
	ctx, span := r.tracer.Start(ctx, "StockRepository.IncreaseStock")
	defer span.End()

	span.SetAttributes(
		attribute.Int64("id", id),
		attribute.Int64("quantity", quantity),
	)

	query := `
		UPDATE products
		SET stock_quantity = stock_quantity + $1, updated_at = NOW()
		WHERE id = $2 AND deleted_at IS NULL
		RETURNING id, stock_quantity, updated_at
	`

	var res domain.StockRecord
	if err := tx.QueryRow(ctx, query, quantity, id).Scan(&res.ProductID, &res.Quantity, &res.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			mylogger.Warn(ctx, r.logger, "Product not found", zap.Int64("product_id", id))
			return nil, ErrProductNotFound
		}

		span.RecordError(err)
		mylogger.Warn(ctx, r.logger, "Failed to update stock_quantity", zap.Error(err))

		return nil, fmt.Errorf("error increasing stock for product %d: %w", id, err)
	}

	return &res, nil
}
