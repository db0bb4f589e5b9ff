package events

import (
	"context"
	"errors"
	"testing"

	"github.com/sakashimaa/go-pet-project/stock/internal/domain"
	"github.com/sakashimaa/go-pet-project/stock/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeService struct {
	service.StockService
	calls []*domain.OrderEvent
	err   error
}

func (f *fakeService) Reserve(_ context.Context, event *domain.OrderEvent) (domain.OutcomeEvent, error) {
	f.calls = append(f.calls, event)
	if f.err != nil {
		return domain.OutcomeEvent{}, f.err
	}

	return domain.OutcomeEvent{Kind: domain.OutcomeValidated, OrderID: event.OrderID, ClientID: event.ClientID}, nil
}

type rejectCounter struct {
	count int
}

func (r *rejectCounter) ObserveRejected() {
	r.count++
}

const validOrder = `{"event":"order_created","data":{"orderId":"o-1","clientId":"c-1","products":[{"productId":1,"quantity":2}]}}`

func TestOrderHandler_Reserves(t *testing.T) {
	svc := &fakeService{}
	rejected := &rejectCounter{}
	h := NewOrderHandler(svc, zap.NewNop(), rejected)

	require.NoError(t, h.Handle(context.Background(), []byte(validOrder)))
	require.Len(t, svc.calls, 1)
	require.Equal(t, "o-1", svc.calls[0].OrderID)
	require.Equal(t, []domain.LineItem{{ProductID: 1, Quantity: 2}}, svc.calls[0].Items)
	require.Zero(t, rejected.count)
}

func TestOrderHandler_MalformedIsAcknowledged(t *testing.T) {
	svc := &fakeService{}
	rejected := &rejectCounter{}
	h := NewOrderHandler(svc, zap.NewNop(), rejected)

	payloads := []string{
		`not json`,
		`{"event":"order_created","data":{"orderId":"o-1","clientId":"c-1","products":[]}}`,
		`{"event":"order_created","data":{"orderId":"o-1","clientId":"c-1","products":[{"productId":1,"quantity":-1}]}}`,
	}

	for _, p := range payloads {
		require.NoError(t, h.Handle(context.Background(), []byte(p)))
	}

	require.Empty(t, svc.calls)
	require.Equal(t, len(payloads), rejected.count)
}

func TestOrderHandler_UnsupportedIsIgnored(t *testing.T) {
	svc := &fakeService{}
	rejected := &rejectCounter{}
	h := NewOrderHandler(svc, zap.NewNop(), rejected)

	require.NoError(t, h.Handle(context.Background(), []byte(`{"event":"order_shipped","data":{}}`)))
	require.Empty(t, svc.calls)
	require.Zero(t, rejected.count)
}

func TestOrderHandler_TransientErrorIsReturned(t *testing.T) {
	boom := errors.New("database unavailable")
	svc := &fakeService{err: boom}
	h := NewOrderHandler(svc, zap.NewNop(), nil)

	err := h.Handle(context.Background(), []byte(validOrder))
	require.ErrorIs(t, err, boom)
	require.Len(t, svc.calls, 1)
}
