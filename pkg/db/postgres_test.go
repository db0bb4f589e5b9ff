package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	check := fmt.Errorf("decrease: %w", &pgconn.PgError{Code: "23514"})
	serialization := fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})
	deadlock := &pgconn.PgError{Code: "40P01"}
	unique := &pgconn.PgError{Code: "23505"}
	plain := errors.New("connection refused")

	require.True(t, IsCheckViolation(check))
	require.False(t, IsCheckViolation(unique))
	require.False(t, IsCheckViolation(plain))

	require.True(t, IsRetryable(serialization))
	require.True(t, IsRetryable(deadlock))
	require.False(t, IsRetryable(check))
	require.False(t, IsRetryable(plain))
}
