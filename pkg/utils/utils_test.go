package utils

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestEnvOrDefault(t *testing.T) {
	t.Setenv("STOCK_TEST_ENV", "  value ")
	require.Equal(t, "value", EnvOrDefault("STOCK_TEST_ENV", "fallback"))

	t.Setenv("STOCK_TEST_ENV", "   ")
	require.Equal(t, "fallback", EnvOrDefault("STOCK_TEST_ENV", "fallback"))

	require.Equal(t, "fallback", EnvOrDefault("STOCK_TEST_ENV_UNSET", "fallback"))
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	cb := NewBreaker(BreakerConfig{Name: "test", MaxFailures: 2}, zap.NewNop())
	boom := errors.New("boom")

	for i := 0; i < 2; i++ {
		_, err := ExecuteWithBreaker(cb, func() (int, error) { return 0, boom })
		require.ErrorIs(t, err, boom)
	}
	require.Equal(t, gobreaker.StateOpen, cb.State())

	called := false
	_, err := ExecuteWithBreaker(cb, func() (int, error) {
		called = true
		return 1, nil
	})
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.False(t, called)
}

func TestExecuteWithBreakerReturnsValue(t *testing.T) {
	cb := NewBreaker(BreakerConfig{Name: "test"}, zap.NewNop())

	v, err := ExecuteWithBreaker(cb, func() (string, error) { return "ok", nil })
	require.NoError(t, err)
	require.Equal(t, "ok", v)
}

func TestSampler(t *testing.T) {
	require.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	require.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	require.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}

func TestFormatValidationError(t *testing.T) {
	type input struct {
		Quantity int64 `json:"quantity" validate:"gt=0"`
	}

	err := NewValidator().Struct(input{Quantity: 0})
	require.Error(t, err)

	fields := FormatValidationError(err)
	require.Contains(t, fields, "quantity")
}
