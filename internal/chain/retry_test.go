package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/openbook-dex/openbook-v2-simulation/internal/logging"
)

func TestBackoff(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second}

	require.Equal(t, 100*time.Millisecond, policy.Backoff(0))
	require.Equal(t, 200*time.Millisecond, policy.Backoff(1))
	require.Equal(t, 800*time.Millisecond, policy.Backoff(3))
	require.Equal(t, time.Second, policy.Backoff(4))
	require.Equal(t, time.Second, policy.Backoff(64))
	require.Equal(t, 100*time.Millisecond, policy.Backoff(-1))
	require.Zero(t, RetryPolicy{}.Backoff(3))
}

func TestWithRetryRetriesTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0

	got, err := withRetry(context.Background(), policy, logging.Discard(), "getBalance", func(context.Context) (uint64, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("dial tcp: connection refused")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, uint64(42), got)
	require.Equal(t, 3, calls)
}

func TestWithRetryGivesUp(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}
	calls := 0

	_, err := withRetry(context.Background(), policy, logging.Discard(), "getBalance", func(context.Context) (uint64, error) {
		calls++
		return 0, errors.New("connection refused")
	})
	require.ErrorIs(t, err, ErrTransient)
	require.Equal(t, 3, calls)
}

func TestWithRetryStopsOnDefinitiveError(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Millisecond}
	boom := errors.New("account not found")
	calls := 0

	_, err := withRetry(context.Background(), policy, logging.Discard(), "getAccountInfo", func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	require.Equal(t, 1, calls)
}

func TestWithRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	_, err := withRetry(ctx, policy, logging.Discard(), "getBalance", func(context.Context) (int, error) {
		cancel()
		return 0, errors.New("connection refused")
	})
	require.ErrorIs(t, err, context.Canceled)
}
