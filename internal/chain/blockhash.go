package chain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

const blockhashRefreshInterval = 300 * time.Millisecond

type blockhashFetcher func(ctx context.Context) (solana.Hash, error)

// BlockhashCache shares one recent blockhash between every concurrent
// sender. A background loop keeps it fresh while the run is in progress.
type BlockhashCache struct {
	fetch  blockhashFetcher
	logger *slog.Logger

	mu      sync.RWMutex
	current solana.Hash
	fetched time.Time
	maxAge  time.Duration
}

func newBlockhashCache(fetch blockhashFetcher, maxAge time.Duration, logger *slog.Logger) *BlockhashCache {
	return &BlockhashCache{fetch: fetch, maxAge: maxAge, logger: logger}
}

// Get returns the cached blockhash, fetching a new one when the cache is
// empty or older than maxAge.
func (c *BlockhashCache) Get(ctx context.Context) (solana.Hash, error) {
	c.mu.RLock()
	current, fetched := c.current, c.fetched
	c.mu.RUnlock()

	if current != (solana.Hash{}) && time.Since(fetched) < c.maxAge {
		return current, nil
	}
	return c.Refresh(ctx)
}

func (c *BlockhashCache) Refresh(ctx context.Context) (solana.Hash, error) {
	hash, err := c.fetch(ctx)
	if err != nil {
		return solana.Hash{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if hash != c.current {
		c.logger.Debug("blockhash updated", "blockhash", hash)
	}
	c.current = hash
	c.fetched = time.Now()
	return hash, nil
}

// Run refreshes the cache until ctx is done. Refresh failures are logged and
// left to the next tick; Get falls back to a direct fetch once the cached
// value ages out.
func (c *BlockhashCache) Run(ctx context.Context) {
	ticker := time.NewTicker(blockhashRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
				c.logger.Warn("blockhash refresh failed", "err", err)
			}
		}
	}
}
