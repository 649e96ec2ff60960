package uopool

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Tickers owns the background goroutines a running pool needs: periodic
// reputation decay and periodic on-new-block eviction. Stop cancels both
// and waits for them to exit.
type Tickers struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// StartTickers launches the reputation-decay and block-poll loops against
// handle, returning a Tickers the caller must Stop on shutdown.
func StartTickers(handle *Pool, reputationInterval, blockPollInterval time.Duration) *Tickers {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		repTicker := time.NewTicker(reputationInterval)
		defer repTicker.Stop()
		blockTicker := time.NewTicker(blockPollInterval)
		defer blockTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-repTicker.C:
				if err := handle.TickReputation(); err != nil {
					log.Warn("reputation tick failed", "err", err)
				}
			case <-blockTicker.C:
				if err := handle.OnNewBlock(ctx); err != nil {
					log.Warn("on-new-block eviction failed", "err", err)
				}
			}
		}
	}()

	return &Tickers{cancel: cancel, done: done}
}

// Stop cancels both background loops and waits for them to exit.
func (t *Tickers) Stop() {
	t.cancel()
	<-t.done
}
