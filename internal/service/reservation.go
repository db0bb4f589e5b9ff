package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/sakashimaa/go-pet-project/stock/internal/domain"
	"github.com/sakashimaa/go-pet-project/stock/internal/repository"
	"github.com/sakashimaa/go-pet-project/stock/pkg/db"
	"github.com/sakashimaa/go-pet-project/stock/pkg/mylogger"
	outboxDomain "github.com/sakashimaa/go-pet-project/stock/pkg/outbox/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const aggregateReservation = "StockReservation"

// ErrReservationInProgress is returned when a claimed order is seen without a recorded outcome.
// It is transient: the message is redelivered.
var ErrReservationInProgress = errors.New("reservation in progress")

// Reserve decides an order atomically. Business outcomes are returned as the OutcomeEvent with a nil
// error; a non-nil error is always transient and the message must be redelivered.
func (s *stockService) Reserve(ctx context.Context, event *domain.OrderEvent) (domain.OutcomeEvent, error) {
	ctx, span := s.tracer.Start(ctx, "StockService.Reserve")
	defer span.End()

	span.SetAttributes(
		attribute.String("order_id", event.OrderID),
		attribute.Int("items", len(event.Items)),
	)

	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	var (
		outcome   domain.OutcomeEvent
		duplicate bool
	)

	err := s.store.InTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res, claimed, err := tx.ClaimOrder(ctx, event)
		if err != nil {
			return err
		}

		if !claimed {
			prior, ok := res.Outcome()
			if !ok {
				return ErrReservationInProgress
			}

			duplicate = true
			outcome = prior
			return s.enqueue(ctx, tx, prior)
		}

		plan, reason, err := s.evaluate(ctx, tx, event.Items)
		if err != nil {
			return err
		}

		kind := domain.OutcomeFailed
		if reason == "" {
			err := tx.DecrementAll(ctx, plan)
			switch {
			case errors.Is(err, repository.ErrInsufficientStock):
				reason = fmt.Sprintf("stock changed before commit: %v", err)
			case err != nil:
				return err
			default:
				kind = domain.OutcomeValidated
			}
		}

		if err := tx.CompleteOrder(ctx, event.OrderID, domain.ReservationStatus(kind), reason); err != nil {
			return err
		}

		outcome = domain.OutcomeEvent{
			Kind:     kind,
			OrderID:  event.OrderID,
			ClientID: event.ClientID,
		}

		if reason != "" {
			mylogger.Warn(
				ctx,
				s.logger,
				"Order cannot be reserved",
				zap.String("order_id", event.OrderID),
				zap.String("reason", reason),
			)
		}

		return s.enqueue(ctx, tx, outcome)
	})
	if err != nil {
		span.RecordError(err)
		mylogger.Warn(
			ctx,
			s.logger,
			"Reservation aborted, order will be redelivered",
			zap.String("order_id", event.OrderID),
			zap.Bool("serialization_conflict", db.IsRetryable(err)),
			zap.Error(err),
		)

		return domain.OutcomeEvent{}, fmt.Errorf("reserve order %s: %w", event.OrderID, err)
	}

	span.SetAttributes(
		attribute.String("outcome", string(outcome.Kind)),
		attribute.Bool("duplicate", duplicate),
	)

	if duplicate {
		s.recorder.ObserveDuplicate()
		mylogger.Info(
			ctx,
			s.logger,
			"Order already processed, republishing outcome",
			zap.String("order_id", event.OrderID),
			zap.String("outcome", string(outcome.Kind)),
		)

		return outcome, nil
	}

	s.recorder.ObserveReservation(string(outcome.Kind))
	mylogger.Info(
		ctx,
		s.logger,
		"Order processed",
		zap.String("order_id", event.OrderID),
		zap.String("outcome", string(outcome.Kind)),
	)

	return outcome, nil
}

// evaluate reads stock for each line in input order and stops at the first line that cannot be
// satisfied. Demand for a product listed more than once is summed. The returned plan holds one line
// per product sorted by product id; a non-empty reason means the order is infeasible.
func (s *stockService) evaluate(ctx context.Context, tx repository.Tx, items []domain.LineItem) ([]domain.LineItem, string, error) {
	demand := make(map[int64]int64, len(items))
	available := make(map[int64]int64, len(items))

	for _, item := range items {
		onHand, seen := available[item.ProductID]
		if !seen {
			q, err := tx.GetQuantity(ctx, item.ProductID)
			if errors.Is(err, repository.ErrProductNotFound) {
				return nil, fmt.Sprintf("product %d not found", item.ProductID), nil
			}
			if err != nil {
				return nil, "", err
			}

			onHand = q
			available[item.ProductID] = q
		}

		demand[item.ProductID] += item.Quantity
		if total := demand[item.ProductID]; total <= 0 || total > onHand {
			return nil, fmt.Sprintf(
				"insufficient stock for product %d: requested %d, available %d",
				item.ProductID,
				demand[item.ProductID],
				onHand,
			), nil
		}
	}

	plan := make([]domain.LineItem, 0, len(demand))
	for id, q := range demand {
		plan = append(plan, domain.LineItem{ProductID: id, Quantity: q})
	}
	sort.Slice(plan, func(i, j int) bool { return plan[i].ProductID < plan[j].ProductID })

	return plan, "", nil
}

func (s *stockService) enqueue(ctx context.Context, tx repository.Tx, outcome domain.OutcomeEvent) error {
	payload, err := outcome.Payload()
	if err != nil {
		return err
	}

	headers, err := json.Marshal(map[string]string{
		"message_id": uuid.NewString(),
		"order_id":   outcome.OrderID,
	})
	if err != nil {
		return fmt.Errorf("marshal outbox headers: %w", err)
	}

	outboxEvent := &outboxDomain.OutboxEvent{
		Topic:         s.stockTopic,
		AggregateType: aggregateReservation,
		AggregateID:   outcome.OrderID,
		EventType:     string(outcome.Kind),
		Payload:       payload,
		Headers:       headers,
	}

	if err := tx.Enqueue(ctx, outboxEvent); err != nil {
		mylogger.Error(
			ctx,
			s.logger,
			"Error saving outbox event",
			zap.String("order_id", outcome.OrderID),
			zap.Error(err),
		)

		return fmt.Errorf("failed to save outbox event: %w", err)
	}

	return nil
}
