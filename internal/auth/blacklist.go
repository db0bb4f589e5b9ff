package auth

import (
	"context"
	"sync"
	"time"

	"github.com/sakashimaa/go-pet-project/stock/pkg/mylogger"
	"go.uber.org/zap"
)

// Blacklist holds revoked access tokens until they expire.
type Blacklist struct {
	mu     sync.RWMutex
	tokens map[string]time.Time
	now    func() time.Time
	logger *zap.Logger
}

func NewBlacklist(logger *zap.Logger) *Blacklist {
	return &Blacklist{
		tokens: make(map[string]time.Time),
		now:    time.Now,
		logger: logger,
	}
}

func (b *Blacklist) Revoke(token string, expiresAt time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.tokens[token] = expiresAt
}

// IsRevoked reports whether token was revoked. An expired entry counts until the next sweep.
func (b *Blacklist) IsRevoked(token string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	_, ok := b.tokens[token]
	return ok
}

// Sweep drops entries whose expiry has passed and returns how many were removed.
func (b *Blacklist) Sweep() int {
	now := b.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for token, exp := range b.tokens {
		if !exp.After(now) {
			delete(b.tokens, token)
			removed++
		}
	}

	return removed
}

func (b *Blacklist) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.tokens)
}

// Start sweeps every interval until ctx is cancelled.
func (b *Blacklist) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			mylogger.Info(ctx, b.logger, "Blacklist sweeper stopping")
			return
		case <-ticker.C:
			if removed := b.Sweep(); removed > 0 {
				mylogger.Debug(
					ctx,
					b.logger,
					"Swept expired tokens",
					zap.Int("removed", removed),
					zap.Int("remaining", b.Count()),
				)
			}
		}
	}
}
