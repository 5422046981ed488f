// Package vault polls a managed vault strategy for its current quote and
// feeds the result into the aggregator as the Vault source.
package vault

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"golang.org/x/time/rate"

	appconfig "optionflow/config"
	"optionflow/internal/channel/quotes"
	"optionflow/logger"
	"optionflow/models"
)

// QuoteService derives a quote from vault strategy state. The returned
// fillable size may be smaller than the quoted size when the vault's
// utilization is high; nil means the full size is fillable.
type QuoteService interface {
	BestQuote(ctx context.Context, filter models.QuoteFilter) (*models.SignedQuote, *big.Int, error)
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
	rl := cfg.Sources.Vault.RateLimit
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
		return fmt.Errorf("vault reader already running")
	}
	r.running = true
	r.ctx = ctx
	r.mu.Unlock()

	log := r.log.WithComponent("vault_reader").WithFields(logger.Fields{"operation": "Start"})

	if !r.config.Sources.Vault.Enabled {
		log.Warn("vault source is disabled")
		return fmt.Errorf("vault source is disabled")
	}

	log.WithFields(logger.Fields{
		"interval": r.config.Sources.Vault.IntervalMs,
	}).Info("vault reader started successfully")
	return nil
}

func (r *Reader) Stop() {
	r.mu.Lock()
	r.running = false
	r.mu.Unlock()

	r.log.WithComponent("vault_reader").Info("stopping vault reader")
	r.wg.Wait()
	r.log.WithComponent("vault_reader").Info("vault reader stopped")
}

// Subscribe starts a polling worker for the instrument and delivers updates
// through out until the returned function is called or the reader stops.
func (r *Reader) Subscribe(filter models.QuoteFilter, out *quotes.Channels) (func(), error) {
	r.mu.RLock()
	if !r.running {
		r.mu.RUnlock()
		return nil, fmt.Errorf("vault reader not running")
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

	log := r.log.WithComponent("vault_reader").WithFields(logger.Fields{
		"pool":   filter.PoolKey.ID(),
		"worker": "quote_poller",
	})
	log.Info("starting vault quote worker")

	interval := time.Duration(r.config.Sources.Vault.IntervalMs) * time.Millisecond
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
	signed, fillable, err := r.svc.BestQuote(ctx, filter)
	logger.LogPerformanceEntry(log, "vault_reader", "quote_request", time.Since(start), logger.Fields{
		"pool": filter.PoolKey.ID(),
	})

	update := models.QuoteUpdate{
		Origin:    models.OriginVault,
		PoolKey:   filter.PoolKey,
		Timestamp: time.Now(),
	}
	if err != nil {
		// A failing source is excluded from the aggregate, never fatal.
		log.WithError(err).Warn("failed to fetch vault quote")
	} else if signed != nil {
		if fillable == nil {
			fillable = signed.Size
		}
		update.Quote = &models.SourcedQuote{
			SignedQuote:  *signed,
			Origin:       models.OriginVault,
			FillableSize: fillable,
		}
	}

	if out.Send(ctx, update) {
		logger.IncrementVaultRead(1)
	} else if ctx.Err() == nil {
		log.Warn("quote update channel full, dropping message")
	}
}
