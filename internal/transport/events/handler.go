package events

import (
	"context"
	"errors"

	"github.com/sakashimaa/go-pet-project/stock/internal/domain"
	"github.com/sakashimaa/go-pet-project/stock/internal/service"
	"github.com/sakashimaa/go-pet-project/stock/pkg/mylogger"
	"go.uber.org/zap"
)

type RejectRecorder interface {
	ObserveRejected()
}

// OrderHandler turns raw order messages into reservations. It returns an error only when the
// message has to be redelivered.
type OrderHandler struct {
	service  service.StockService
	logger   *zap.Logger
	rejected RejectRecorder
}

func NewOrderHandler(service service.StockService, logger *zap.Logger, rejected RejectRecorder) *OrderHandler {
	return &OrderHandler{
		service:  service,
		logger:   logger,
		rejected: rejected,
	}
}

func (h *OrderHandler) Handle(ctx context.Context, payload []byte) error {
	event, err := domain.DecodeOrderEvent(payload)
	if err != nil {
		if errors.Is(err, domain.ErrUnsupportedEvent) {
			mylogger.Warn(ctx, h.logger, "Ignored event type", zap.Error(err))
			return nil
		}

		if h.rejected != nil {
			h.rejected.ObserveRejected()
		}

		fields := []zap.Field{zap.Error(err), zap.Int("size", len(payload))}
		var validationErr *domain.ValidationError
		if errors.As(err, &validationErr) {
			fields = append(fields, zap.Any("fields", validationErr.Fields))
		}

		mylogger.Error(ctx, h.logger, "Rejected malformed order event", fields...)
		return nil
	}

	mylogger.Debug(
		ctx,
		h.logger,
		"Processing order event",
		zap.String("order_id", event.OrderID),
		zap.Int("items", len(event.Items)),
	)

	if _, err := h.service.Reserve(ctx, event); err != nil {
		return err
	}

	return nil
}
