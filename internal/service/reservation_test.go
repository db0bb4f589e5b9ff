package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sakashimaa/go-pet-project/stock/internal/domain"
	"github.com/sakashimaa/go-pet-project/stock/internal/repository"
	"github.com/sakashimaa/go-pet-project/stock/internal/repository/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	productA int64 = 1
	productB int64 = 2
)

type countingRecorder struct {
	mu         sync.Mutex
	outcomes   map[string]int
	duplicates int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{outcomes: make(map[string]int)}
}

func (r *countingRecorder) ObserveReservation(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes[outcome]++
}

func (r *countingRecorder) ObserveDuplicate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.duplicates++
}

func newTestService(t *testing.T, stock map[int64]int64) (StockService, *memory.Store, *countingRecorder) {
	t.Helper()

	store := memory.NewStore()
	store.Seed(stock)
	recorder := newCountingRecorder()

	svc := NewStockService(store, zap.NewNop(), recorder, Config{
		StockTopic: "stock_events",
		TxTimeout:  time.Second,
	})

	return svc, store, recorder
}

func order(id string, items ...domain.LineItem) *domain.OrderEvent {
	return &domain.OrderEvent{OrderID: id, ClientID: "client-" + id, Items: items}
}

func line(productID, quantity int64) domain.LineItem {
	return domain.LineItem{ProductID: productID, Quantity: quantity}
}

func requireQuantity(t *testing.T, store *memory.Store, productID, expected int64) {
	t.Helper()

	q, ok := store.Quantity(productID)
	require.True(t, ok)
	require.Equal(t, expected, q)
}

func publishedKinds(t *testing.T, store *memory.Store) []string {
	t.Helper()

	var kinds []string
	for _, e := range store.Outbox() {
		var envelope struct {
			Event string `json:"event"`
			Data  struct {
				OrderID  string `json:"orderId"`
				ClientID string `json:"clientId"`
			} `json:"data"`
		}
		require.NoError(t, json.Unmarshal(e.Payload, &envelope))
		require.Equal(t, e.EventType, envelope.Event)
		require.Equal(t, e.AggregateID, envelope.Data.OrderID)
		require.Equal(t, "stock_events", e.Topic)

		kinds = append(kinds, envelope.Event)
	}

	return kinds
}

func TestReserve_Validated(t *testing.T) {
	svc, store, recorder := newTestService(t, map[int64]int64{productA: 10})

	outcome, err := svc.Reserve(context.Background(), order("o-1", line(productA, 4)))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeEvent{Kind: domain.OutcomeValidated, OrderID: "o-1", ClientID: "client-o-1"}, outcome)

	requireQuantity(t, store, productA, 6)
	require.Equal(t, []string{"stock_validated"}, publishedKinds(t, store))
	require.Equal(t, 1, recorder.outcomes["stock_validated"])

	res, err := svc.GetReservation(context.Background(), "o-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReservationValidated, res.Status)
	require.Empty(t, res.Reason)
}

func TestReserve_InfeasibleLeavesStockUnchanged(t *testing.T) {
	svc, store, _ := newTestService(t, map[int64]int64{productA: 5, productB: 0})

	outcome, err := svc.Reserve(context.Background(), order("o-1", line(productA, 3), line(productB, 1)))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFailed, outcome.Kind)

	requireQuantity(t, store, productA, 5)
	requireQuantity(t, store, productB, 0)
	require.Equal(t, []string{"stock_failed"}, publishedKinds(t, store))

	res, err := svc.GetReservation(context.Background(), "o-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReservationFailed, res.Status)
	require.Contains(t, res.Reason, fmt.Sprintf("product %d", productB))
}

func TestReserve_UnknownProduct(t *testing.T) {
	svc, store, _ := newTestService(t, map[int64]int64{productA: 5})

	outcome, err := svc.Reserve(context.Background(), order("o-1", line(productA, 1), line(99, 1)))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFailed, outcome.Kind)

	requireQuantity(t, store, productA, 5)
	require.Equal(t, []string{"stock_failed"}, publishedKinds(t, store))

	res, err := svc.GetReservation(context.Background(), "o-1")
	require.NoError(t, err)
	require.Equal(t, "product 99 not found", res.Reason)
}

func TestReserve_RepeatedProductIsAggregated(t *testing.T) {
	svc, store, _ := newTestService(t, map[int64]int64{productA: 5})

	outcome, err := svc.Reserve(context.Background(), order("o-1", line(productA, 3), line(productA, 3)))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFailed, outcome.Kind)
	requireQuantity(t, store, productA, 5)

	outcome, err = svc.Reserve(context.Background(), order("o-2", line(productA, 2), line(productA, 3)))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeValidated, outcome.Kind)
	requireQuantity(t, store, productA, 0)
}

func TestReserve_ExactQuantityDrainsStock(t *testing.T) {
	svc, store, _ := newTestService(t, map[int64]int64{productA: 4, productB: 1})

	outcome, err := svc.Reserve(context.Background(), order("o-1", line(productB, 1), line(productA, 4)))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeValidated, outcome.Kind)

	requireQuantity(t, store, productA, 0)
	requireQuantity(t, store, productB, 0)

	outcome, err = svc.Reserve(context.Background(), order("o-2", line(productA, 1)))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFailed, outcome.Kind)
}

func TestReserve_DuplicateIsIdempotent(t *testing.T) {
	svc, store, recorder := newTestService(t, map[int64]int64{productA: 10})
	event := order("o-1", line(productA, 4))

	first, err := svc.Reserve(context.Background(), event)
	require.NoError(t, err)

	second, err := svc.Reserve(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, first, second)

	requireQuantity(t, store, productA, 6)
	require.Equal(t, []string{"stock_validated", "stock_validated"}, publishedKinds(t, store))
	require.Equal(t, 1, recorder.outcomes["stock_validated"])
	require.Equal(t, 1, recorder.duplicates)
}

func TestReserve_DuplicateOfFailedOrderKeepsOutcome(t *testing.T) {
	svc, store, _ := newTestService(t, map[int64]int64{productA: 1})
	event := order("o-1", line(productA, 2))

	first, err := svc.Reserve(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFailed, first.Kind)

	store.Seed(map[int64]int64{productA: 100})

	second, err := svc.Reserve(context.Background(), event)
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFailed, second.Kind)
	requireQuantity(t, store, productA, 100)
}

func TestReserve_SequentialOrdersNeverGoNegative(t *testing.T) {
	svc, store, _ := newTestService(t, map[int64]int64{productA: 10})

	outcome, err := svc.Reserve(context.Background(), order("o-1", line(productA, 4)))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeValidated, outcome.Kind)

	outcome, err = svc.Reserve(context.Background(), order("o-2", line(productA, 7)))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFailed, outcome.Kind)

	requireQuantity(t, store, productA, 6)
}

func TestReserve_ConcurrentOrdersRespectStock(t *testing.T) {
	svc, store, recorder := newTestService(t, map[int64]int64{productA: 10})

	const orders = 25
	var wg sync.WaitGroup
	errs := make(chan error, orders)

	for i := 0; i < orders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := svc.Reserve(context.Background(), order(fmt.Sprintf("o-%d", i), line(productA, 1)))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	requireQuantity(t, store, productA, 0)
	require.Equal(t, 10, recorder.outcomes["stock_validated"])
	require.Equal(t, orders-10, recorder.outcomes["stock_failed"])
	require.Len(t, store.Outbox(), orders)
}

func TestReserve_ConcurrentDuplicatesCommitOnce(t *testing.T) {
	svc, store, recorder := newTestService(t, map[int64]int64{productA: 10})
	event := order("o-1", line(productA, 3))

	const deliveries = 8
	var wg sync.WaitGroup
	outcomes := make(chan domain.OutcomeEvent, deliveries)

	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := svc.Reserve(context.Background(), event)
			if err == nil {
				outcomes <- outcome
			}
		}()
	}
	wg.Wait()
	close(outcomes)

	for outcome := range outcomes {
		require.Equal(t, domain.OutcomeValidated, outcome.Kind)
	}

	requireQuantity(t, store, productA, 7)
	require.Equal(t, 1, recorder.outcomes["stock_validated"])
	require.Equal(t, deliveries-1, recorder.duplicates)
}

func TestReserve_TransientFailureRollsBack(t *testing.T) {
	tests := []struct {
		name string
		op   string
	}{
		{"begin", memory.OpBegin},
		{"read", memory.OpGetQuantity},
		{"decrement", memory.OpDecrement},
		{"commit", memory.OpCommit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store, recorder := newTestService(t, map[int64]int64{productA: 10})
			event := order("o-1", line(productA, 4))
			boom := errors.New("connection reset")

			store.FailOnce(tt.op, boom)

			_, err := svc.Reserve(context.Background(), event)
			require.ErrorIs(t, err, boom)
			requireQuantity(t, store, productA, 10)
			require.Empty(t, store.Outbox())
			require.Empty(t, recorder.outcomes)

			_, err = svc.GetReservation(context.Background(), "o-1")
			require.ErrorIs(t, err, repository.ErrReservationNotFound)

			outcome, err := svc.Reserve(context.Background(), event)
			require.NoError(t, err)
			require.Equal(t, domain.OutcomeValidated, outcome.Kind)
			requireQuantity(t, store, productA, 6)
			require.Len(t, store.Outbox(), 1)
		})
	}
}

func TestReserve_CommitConflictFails(t *testing.T) {
	svc, store, recorder := newTestService(t, map[int64]int64{productA: 10, productB: 3})

	store.FailOnce(memory.OpDecrement, repository.ErrInsufficientStock)

	outcome, err := svc.Reserve(context.Background(), order("o-1", line(productA, 4), line(productB, 1)))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFailed, outcome.Kind)

	requireQuantity(t, store, productA, 10)
	requireQuantity(t, store, productB, 3)
	require.Equal(t, []string{"stock_failed"}, publishedKinds(t, store))
	require.Equal(t, 1, recorder.outcomes["stock_failed"])

	res, err := svc.GetReservation(context.Background(), "o-1")
	require.NoError(t, err)
	require.Equal(t, domain.ReservationFailed, res.Status)
	require.Contains(t, res.Reason, "stock changed before commit")

	again, err := svc.Reserve(context.Background(), order("o-1", line(productA, 4), line(productB, 1)))
	require.NoError(t, err)
	require.Equal(t, domain.OutcomeFailed, again.Kind)
	requireQuantity(t, store, productA, 10)
}

func TestReserve_CancelledContextIsTransient(t *testing.T) {
	svc, store, _ := newTestService(t, map[int64]int64{productA: 10})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Reserve(ctx, order("o-1", line(productA, 4)))
	require.ErrorIs(t, err, context.Canceled)
	requireQuantity(t, store, productA, 10)
	require.Empty(t, store.Outbox())
}

func TestRestock(t *testing.T) {
	svc, store, _ := newTestService(t, map[int64]int64{productA: 1})

	res, err := svc.Restock(context.Background(), productA, 9)
	require.NoError(t, err)
	require.Equal(t, int64(10), res.Quantity)
	requireQuantity(t, store, productA, 10)

	_, err = svc.Restock(context.Background(), productA, 0)
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.Restock(context.Background(), 99, 1)
	require.ErrorIs(t, err, repository.ErrProductNotFound)
}

func TestGetStock(t *testing.T) {
	svc, _, _ := newTestService(t, map[int64]int64{productA: 3})

	res, err := svc.GetStock(context.Background(), productA)
	require.NoError(t, err)
	require.Equal(t, productA, res.ProductID)
	require.Equal(t, int64(3), res.Quantity)

	_, err = svc.GetStock(context.Background(), 99)
	require.ErrorIs(t, err, repository.ErrProductNotFound)
}
