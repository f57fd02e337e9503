package chain

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"

	"github.com/openbook-dex/openbook-v2-simulation/internal/logging"
)

type countingFetcher struct {
	calls atomic.Int32
	fail  atomic.Bool
}

func (f *countingFetcher) fetch(context.Context) (solana.Hash, error) {
	n := f.calls.Add(1)
	if f.fail.Load() {
		return solana.Hash{}, errors.New("connection refused")
	}
	return solana.Hash{byte(n)}, nil
}

func TestBlockhashCacheReusesFreshValue(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := newBlockhashCache(fetcher.fetch, time.Minute, logging.Discard())

	first, err := cache.Get(context.Background())
	require.NoError(t, err)
	second, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, int32(1), fetcher.calls.Load())

	refreshed, err := cache.Refresh(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first, refreshed)
}

func TestBlockhashCacheRefetchesStaleValue(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := newBlockhashCache(fetcher.fetch, 0, logging.Discard())

	_, err := cache.Get(context.Background())
	require.NoError(t, err)
	_, err = cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, int32(2), fetcher.calls.Load())
}

func TestBlockhashCacheKeepsLastValueOnFailure(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := newBlockhashCache(fetcher.fetch, time.Minute, logging.Discard())

	first, err := cache.Get(context.Background())
	require.NoError(t, err)

	fetcher.fail.Store(true)
	_, err = cache.Refresh(context.Background())
	require.Error(t, err)

	got, err := cache.Get(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, got)
}

func TestBlockhashCacheRunStopsWithContext(t *testing.T) {
	fetcher := &countingFetcher{}
	cache := newBlockhashCache(fetcher.fetch, time.Minute, logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		cache.Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return fetcher.calls.Load() > 0 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("blockhash loop did not stop")
	}
}
