package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sakashimaa/go-pet-project/stock/internal/domain"
	"github.com/sakashimaa/go-pet-project/stock/pkg/mylogger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type ReservationRepository interface {
	Claim(ctx context.Context, tx pgx.Tx, orderID, clientID string) (*domain.Reservation, bool, error)
	GetByOrderID(ctx context.Context, orderID string) (*domain.Reservation, error)
	Complete(ctx context.Context, tx pgx.Tx, orderID string, status domain.ReservationStatus, reason string) error
}

type reservationRepo struct {
	pool   *pgxpool.Pool
	tracer trace.Tracer
	logger *zap.Logger
}

func NewReservationRepository(pool *pgxpool.Pool, logger *zap.Logger) ReservationRepository {
	return &reservationRepo{
		pool:   pool,
		logger: logger,
		tracer: otel.Tracer("contract/reservation_repo"),
	}
}

// Claim inserts a pending row for the order. A concurrent claim for the same order blocks on the
// unique key until the first transaction finishes. When the order was already processed the stored
// row is returned with claimed=false.
func (r *reservationRepo) Claim(ctx context.Context, tx pgx.Tx, orderID, clientID string) (*domain.Reservation, bool, error) {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.Claim")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID),
	)

	query := `
		INSERT INTO stock_reservations (order_id, client_id, status)
		VALUES ($1, $2, $3)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING order_id, client_id, status, reason, created_at, updated_at
	`

	res, err := scanReservation(tx.QueryRow(ctx, query, orderID, clientID, domain.ReservationPending))
	if err == nil {
		return res, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		span.RecordError(err)
		return nil, false, fmt.Errorf("error claiming order %s: %w", orderID, err)
	}

	existingQuery := `
		SELECT order_id, client_id, status, reason, created_at, updated_at
		FROM stock_reservations
		WHERE order_id = $1
	`

	res, err = scanReservation(tx.QueryRow(ctx, existingQuery, orderID))
	if err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("error reading claimed order %s: %w", orderID, err)
	}

	span.SetAttributes(attribute.String("reservation.status", string(res.Status)))
	return res, false, nil
}

func (r *reservationRepo) GetByOrderID(ctx context.Context, orderID string) (*domain.Reservation, error) {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.GetByOrderID")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID),
	)

	query := `
		SELECT order_id, client_id, status, reason, created_at, updated_at
		FROM stock_reservations
		WHERE order_id = $1
	`

	res, err := scanReservation(r.pool.QueryRow(ctx, query, orderID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}

		span.RecordError(err)

		mylogger.Error(
			ctx,
			r.logger,
			"Error get reservation by order id",
			zap.String("order_id", orderID),
			zap.Error(err),
		)

		return nil, fmt.Errorf("error getting reservation: %w", err)
	}

	return res, nil
}

func (r *reservationRepo) Complete(ctx context.Context, tx pgx.Tx, orderID string, status domain.ReservationStatus, reason string) error {
	ctx, span := r.tracer.Start(ctx, "ReservationRepository.Complete")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", orderID),
		attribute.String("status", string(status)),
	)

	query := `
		UPDATE stock_reservations
		SET status = $1, reason = $2, updated_at = NOW()
		WHERE order_id = $3
	`

	commandTag, err := tx.Exec(ctx, query, status, reason, orderID)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("error completing reservation %s: %w", orderID, err)
	}

	if commandTag.RowsAffected() == 0 {
		return ErrReservationNotFound
	}

	return nil
}

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var res domain.Reservation
	if err := row.Scan(
		&res.OrderID,
		&res.ClientID,
		&res.Status,
		&res.Reason,
		&res.CreatedAt,
		&res.UpdatedAt,
	); err != nil {
		return nil, err
	}

	return &res, nil
}
