// Package pool polls an on-chain AMM pool for its current best quote and
// feeds the result into the aggregator as the Pool source.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	appconfig "optionflow/config"
	"optionflow/internal/channel/quotes"
	"optionflow/logger"
	"optionflow/models"
)

// QuoteService derives a quote from live pool state. Implementations talk to
// an RPC node or indexer; failures are absorbed by the reader.
type QuoteService interface {
	BestQuote(ctx context.Context, filter models.QuoteFilter) (*models.SignedQuote, error)
}

// Reader runs one polling worker per subscription.
type Reader struct {
	config  *appconfig.Config
	svc     QuoteService
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log
	limiter *rate.Limiter
}

func NewReader(cfg *appconfig.Config, svc QuoteService) *Reader {
	rl := cfg.Sources.Pool.RateLimit
	return &Reader{
		config:  cfg,
		svc:     svc,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
		limiter: rate.NewLimiter(rate.Limit(rl.RequestsPerSecond), rl.BurstSize),
	}
}

func (r *Reader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("pool reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("pool_reader").WithFields(logger.Fields{"operation": "Start"})

	if !r.config.Sources.Pool.Enabled {
		log.Warn("pool source is disabled")
		return fmt.Errorf("pool source is disabled")
	}

	log.WithFields(logger.Fields{
		"interval": r.config.Sources.Pool.IntervalMs,
	}).Info("pool reader started successfully")
	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("pool_reader").Info("stopping pool reader")
	r.wg.Wait()
	r.log.WithComponent("pool_reader").Info("pool reader stopped")
}

// Subscribe starts a polling worker for the instrument and delivers updates
// through out until the returned function is called or the reader stops.
func (r *Reader) Subscribe(filter models.QuoteFilter, out *quotes.Channels) (func(), error) {
	r.mu.RLock()
	if !r.running {
		r.mu.RUnlock()
		return nil, fmt.Errorf("pool reader not running")
	}
	ctx := r.ctx
	r.mu.RUnlock()

	subCtx, cancel := context.WithCancel(ctx)
	r.wg.Add(1)
	go r.poll(subCtx, filter, out)
	return cancel, nil
}

func (r *Reader) poll(ctx context.Context, filter models.QuoteFilter, out *quotes.Channels) {
	defer r.wg.Done()

	log := r.log.WithComponent("pool_reader").WithFields(logger.Fields{
		"pool":   filter.PoolKey.ID(),
		"worker": "quote_poller",
	})
	log.Info("starting pool quote worker")

	interval := time.Duration(r.config.Sources.Pool.IntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case <-ticker.C:
			r.fetch(ctx, filter, out, log)
		}
	}
}

func (r *Reader) fetch(ctx context.Context, filter models.QuoteFilter, out *quotes.Channels, log *logger.Entry) {
	if err := r.limiter.Wait(ctx); err != nil {
		return
	}

	start := time.Now()
	signed, err := r.svc.BestQuote(ctx, filter)
	logger.LogPerformanceEntry(log, "pool_reader", "quote_request", time.Since(start), logger.Fields{
		"pool": filter.PoolKey.ID(),
	})

	update := models.QuoteUpdate{
		Origin:    models.OriginPool,
		PoolKey:   filter.PoolKey,
		Timestamp: time.Now(),
	}
	if err != nil {
		// A failing source is excluded from the aggregate, never fatal.
		log.WithError(err).Warn("failed to fetch pool quote")
	} else if signed != nil {
		update.Quote = &models.SourcedQuote{
			SignedQuote:  *signed,
			Origin:       models.OriginPool,
			FillableSize: signed.Size,
		}
	}

	if out.Send(ctx, update) {
		logger.IncrementPoolRead(1)
	} else if ctx.Err() == nil {
		log.Warn("quote update channel full, dropping message")
	}
}
