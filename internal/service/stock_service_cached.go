package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sakashimaa/go-pet-project/stock/internal/domain"
	"github.com/sakashimaa/go-pet-project/stock/pkg/mylogger"
	"go.uber.org/zap"
)

type CacheConfig struct {
	TTL time.Duration
	// second delete of an invalidated key, evicting fills by reads that started before the write
	InvalidateDelay time.Duration
}

type cachedStockService struct {
	next            StockService
	redisClient     redis.UniversalClient
	cacheTTL        time.Duration
	invalidateDelay time.Duration
	logger          *zap.Logger
}

func NewCachedStockService(next StockService, redisClient redis.UniversalClient, cfg CacheConfig, logger *zap.Logger) StockService {
	if cfg.TTL <= 0 {
		cfg.TTL = time.Minute
	}
	if cfg.InvalidateDelay <= 0 {
		cfg.InvalidateDelay = 500 * time.Millisecond
	}

	return &cachedStockService{
		next:            next,
		redisClient:     redisClient,
		cacheTTL:        cfg.TTL,
		invalidateDelay: cfg.InvalidateDelay,
		logger:          logger,
	}
}

func stockKey(id int64) string {
	return fmt.Sprintf("stock:%d", id)
}

func (s *cachedStockService) Reserve(ctx context.Context, event *domain.OrderEvent) (domain.OutcomeEvent, error) {
	outcome, err := s.next.Reserve(ctx, event)
	if err != nil {
		return outcome, err
	}

	if outcome.Kind == domain.OutcomeValidated {
		keys := make([]string, 0, len(event.Items))
		for _, item := range event.Items {
			keys = append(keys, stockKey(item.ProductID))
		}
		s.invalidate(ctx, keys...)
	}

	return outcome, nil
}

func (s *cachedStockService) GetStock(ctx context.Context, productID int64) (*domain.StockRecord, error) {
	key := stockKey(productID)

	val, err := s.redisClient.Get(ctx, key).Bytes()
	if err == nil {
		var record domain.StockRecord
		if err := json.Unmarshal(val, &record); err == nil {
			return &record, nil
		}
	}

	record, err := s.next.GetStock(ctx, productID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(record); err == nil {
		if err := s.redisClient.Set(ctx, key, data, s.cacheTTL).Err(); err != nil {
			mylogger.Warn(ctx, s.logger, "Failed to cache stock", zap.String("key", key), zap.Error(err))
		}
	}

	return record, nil
}

func (s *cachedStockService) Restock(ctx context.Context, productID, quantity int64) (*domain.StockRecord, error) {
	res, err := s.next.Restock(ctx, productID, quantity)
	if err != nil {
		return nil, err
	}

	s.invalidate(ctx, stockKey(productID))
	return res, nil
}

func (s *cachedStockService) GetReservation(ctx context.Context, orderID string) (*domain.Reservation, error) {
	return s.next.GetReservation(ctx, orderID)
}

func (s *cachedStockService) invalidate(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}

	s.del(ctx, keys)

	detached := context.WithoutCancel(ctx)
	time.AfterFunc(s.invalidateDelay, func() {
		ctx, cancel := context.WithTimeout(detached, time.Second)
		defer cancel()

		s.del(ctx, keys)
	})
}

func (s *cachedStockService) del(ctx context.Context, keys []string) {
	if err := s.redisClient.Del(ctx, keys...).Err(); err != nil {
		mylogger.Warn(ctx, s.logger, "Failed to invalidate stock cache", zap.Strings("keys", keys), zap.Error(err))
	}
}
