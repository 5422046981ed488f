// Package processor merges the per-source quote feeds into a single
// current-best signal per instrument, with epoch-based cancellation.
package processor

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	appconfig "optionflow/config"
	"optionflow/internal/channel/quotes"
	"optionflow/logger"
	"optionflow/models"
	"optionflow/pricing"
)

// Source is one of the three quote transports. Subscribe registers a feed
// for the filter's instrument delivering into out, and returns a best-effort
// teardown.
type Source interface {
	Subscribe(filter models.QuoteFilter, out *quotes.Channels) (func(), error)
}

// Sources holds the three liquidity transports. Any of them may be nil when
// the source is disabled.
type Sources struct {
	RFQ   Source
	Pool  Source
	Vault Source
}

// StreamRequest describes one instrument subscription.
type StreamRequest struct {
	Filter      models.QuoteFilter
	Size        *big.Int
	MinimumSize *big.Int
}

// QuoteCallback receives the new best quote for an instrument. It is invoked
// with nil when stream processing failed internally; errors never propagate
// into the transport's event loop.
type QuoteCallback func(*models.SourcedQuote)

// ListCallback receives the full sorted list of per-instrument best quotes.
type ListCallback func([]*models.SourcedQuote)

// ProviderCallback receives the latest quotes of every source across all
// subscribed instruments, keyed by source, without cross-source ranking.
type ProviderCallback func(map[models.QuoteOrigin][]*models.SourcedQuote)

// streamSub is one active subscription. Its epoch only increases; every
// delivery captured the epoch at subscribe time and is dropped silently once
// it no longer matches. Cancelling one subscription never touches another's
// epoch.
type streamSub struct {
	id      string
	poolKey models.PoolKey
	epoch   atomic.Uint64
	cancel  func()
}

// Aggregator owns the streaming subscriptions.
type Aggregator struct {
	config  *appconfig.Config
	sources Sources
	ctx     context.Context
	wg      *sync.WaitGroup
	mu      sync.RWMutex
	running bool
	log     *logger.Log

	subsMu sync.Mutex
	subs   map[string]*streamSub
}

func NewAggregator(cfg *appconfig.Config, sources Sources) *Aggregator {
	return &Aggregator{
		config:  cfg,
		sources: sources,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
		subs:    make(map[string]*streamSub),
	}
}

func (a *Aggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("aggregator already running")
	}
	a.running = true
	a.ctx = ctx
	a.mu.Unlock()

	a.log.WithComponent("aggregator").Info("aggregator started successfully")
	return nil
}

func (a *Aggregator) Stop() {
	a.mu.Lock()
	a.running = false
	a.mu.Unlock()

	a.log.WithComponent("aggregator").Info("stopping aggregator")
	a.CancelAllStreams()
	a.wg.Wait()
	a.log.WithComponent("aggregator").Info("aggregator stopped")
}

// StreamQuotes subscribes to all three sources for one instrument and
// invokes cb whenever the just-updated source produced the new best quote.
// An update that fails to surpass the cached best of the other sources
// produces no callback. The returned function cancels the subscription.
func (a *Aggregator) StreamQuotes(req StreamRequest, cb QuoteCallback) (func(), error) {
	ctx, chans, err := a.establish(req.Filter)
	if err != nil {
		return nil, err
	}

	sub := a.register(req.Filter.PoolKey, chans)
	epoch := sub.epoch.Load()

	log := a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"pool": req.Filter.PoolKey.ID(),
	})

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		state := make(map[models.QuoteOrigin]*models.SourcedQuote)
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-chans.Updates:
				state[update.Origin] = update.Quote

				best, err := pricing.Best(stateQuotes(state), req.Size, &pricing.Options{
					MinimumSize:    req.MinimumSize,
					IgnoreWarnings: true,
				})
				if err != nil {
					log.WithError(err).Error("failed to rank stream quotes")
					a.deliver(sub, epoch, func() { cb(nil) })
					continue
				}
				// Only the source that just produced the winner triggers a
				// callback; an unchanged winner from another source does not.
				if update.Quote == nil || best != update.Quote {
					continue
				}
				a.deliver(sub, epoch, func() { cb(best) })
			}
		}
	}()

	return func() { a.cancelSub(sub.id) }, nil
}

// StreamMultiQuotes runs one stream per instrument and, on every winning
// update, delivers the re-sorted list of all instruments' current best
// quotes. The call returns once every constituent subscription is
// established.
func (a *Aggregator) StreamMultiQuotes(reqs []StreamRequest, cb ListCallback) (func(), error) {
	var mu sync.Mutex
	latest := make(map[string]*models.SourcedQuote)
	sizes := make(map[string]*big.Int)

	cancels := make([]func(), 0, len(reqs))
	teardown := func() {
		for _, c := range cancels {
			c()
		}
	}

	for _, req := range reqs {
		req := req
		id := req.Filter.PoolKey.ID()
		sizes[id] = req.Size

		// The inner callback already runs under the constituent stream's
		// epoch guard, so the list is handed over directly.
		cancel, err := a.StreamQuotes(req, func(q *models.SourcedQuote) {
			if q == nil {
				return
			}
			mu.Lock()
			latest[id] = q
			ranked := make([]*models.SourcedQuote, 0, len(latest))
			for _, cur := range latest {
				ranked = append(ranked, cur)
			}
			sort.SliceStable(ranked, func(i, j int) bool {
				size := sizes[ranked[i].PoolKey.ID()]
				winner, err := pricing.Better(ranked[i], ranked[j], size, &pricing.Options{IgnoreWarnings: true})
				if err != nil {
					return false
				}
				return winner == ranked[i]
			})
			mu.Unlock()

			cb(ranked)
		})
		if err != nil {
			teardown()
			return nil, err
		}
		cancels = append(cancels, cancel)
	}

	return teardown, nil
}

// StreamQuotesByProvider maintains instrument -> source -> latest quote and,
// on every update from any source of any instrument, delivers the flattened
// source -> quotes-across-instruments map. No cross-source comparison happens
// at this layer.
func (a *Aggregator) StreamQuotesByProvider(reqs []StreamRequest, cb ProviderCallback) (func(), error) {
	a.mu.RLock()
	if !a.running {
		a.mu.RUnlock()
		return nil, fmt.Errorf("aggregator not running")
	}
	parent := a.ctx
	a.mu.RUnlock()

	chans := quotes.NewChannels(a.config.Channels.UpdateBuffer)

	unsubs := make([]func(), 0, 3*len(reqs))
	established := 0
	for _, req := range reqs {
		subs, n := a.subscribeSources(req.Filter, chans)
		unsubs = append(unsubs, subs...)
		established += n
	}
	if established == 0 {
		return nil, fmt.Errorf("no quote sources available")
	}

	ctx, cancelLoop := context.WithCancel(parent)

	sub := &streamSub{
		id: uuid.New().String(),
		cancel: func() {
			for _, unsub := range unsubs {
				unsub()
			}
			cancelLoop()
		},
	}
	a.subsMu.Lock()
	a.subs[sub.id] = sub
	a.subsMu.Unlock()
	epoch := sub.epoch.Load()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()

		nested := make(map[string]map[models.QuoteOrigin]*models.SourcedQuote)
		for {
			select {
			case <-ctx.Done():
				return
			case update := <-chans.Updates:
				id := update.PoolKey.ID()
				if nested[id] == nil {
					nested[id] = make(map[models.QuoteOrigin]*models.SourcedQuote)
				}
				nested[id][update.Origin] = update.Quote

				flat := make(map[models.QuoteOrigin][]*models.SourcedQuote)
				for _, byOrigin := range nested {
					for origin, q := range byOrigin {
						if q != nil {
							flat[origin] = append(flat[origin], q)
						}
					}
				}
				a.deliver(sub, epoch, func() { cb(flat) })
			}
		}
	}()

	return func() { a.cancelSub(sub.id) }, nil
}

// CancelStreams cancels every subscription for the given instrument. Only
// the matched subscriptions' epochs advance; streams of other instruments
// keep delivering. The epoch increment is the authoritative guarantee
// against stale deliveries; transport unsubscription is best-effort and
// decoupled from it.
func (a *Aggregator) CancelStreams(poolKey models.PoolKey) {
	a.subsMu.Lock()
	matched := make([]*streamSub, 0)
	for id, sub := range a.subs {
		if sub.poolKey.Equal(poolKey) {
			matched = append(matched, sub)
			delete(a.subs, id)
		}
	}
	a.subsMu.Unlock()

	for _, sub := range matched {
		sub.epoch.Add(1)
		sub.cancel()
	}

	a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"pool":      poolKey.ID(),
		"cancelled": len(matched),
	}).Info("streams cancelled")
}

// CancelAllStreams cancels every active subscription.
func (a *Aggregator) CancelAllStreams() {
	a.subsMu.Lock()
	all := make([]*streamSub, 0, len(a.subs))
	for id, sub := range a.subs {
		all = append(all, sub)
		delete(a.subs, id)
	}
	a.subsMu.Unlock()

	for _, sub := range all {
		sub.epoch.Add(1)
		sub.cancel()
	}

	a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"cancelled": len(all),
	}).Info("all streams cancelled")
}

// establish subscribes the three sources for one instrument and prepares the
// consumer context. It fails only when no source at all could be subscribed.
func (a *Aggregator) establish(filter models.QuoteFilter) (context.Context, *subscriptionChannels, error) {
	a.mu.RLock()
	if !a.running {
		a.mu.RUnlock()
		return nil, nil, fmt.Errorf("aggregator not running")
	}
	parent := a.ctx
	a.mu.RUnlock()

	chans := quotes.NewChannels(a.config.Channels.UpdateBuffer)

	unsubs, established := a.subscribeSources(filter, chans)
	if established == 0 {
		return nil, nil, fmt.Errorf("no quote sources available")
	}

	ctx, cancelLoop := context.WithCancel(parent)
	return ctx, &subscriptionChannels{
		Channels: chans,
		unsubs:   unsubs,
		stop:     cancelLoop,
	}, nil
}

type subscriptionChannels struct {
	*quotes.Channels
	unsubs []func()
	stop   func()
}

func (a *Aggregator) register(poolKey models.PoolKey, chans *subscriptionChannels) *streamSub {
	sub := &streamSub{
		id:      uuid.New().String(),
		poolKey: poolKey,
		cancel: func() {
			for _, unsub := range chans.unsubs {
				unsub()
			}
			chans.stop()
		},
	}
	a.subsMu.Lock()
	a.subs[sub.id] = sub
	a.subsMu.Unlock()

	return sub
}

func (a *Aggregator) cancelSub(id string) {
	a.subsMu.Lock()
	sub, ok := a.subs[id]
	if ok {
		delete(a.subs, id)
	}
	a.subsMu.Unlock()

	if ok {
		sub.epoch.Add(1)
		sub.cancel()
	}
}

// subscribeSources attaches the update channel to every configured source. A
// source that fails to subscribe is logged and excluded; it never fails the
// aggregate.
func (a *Aggregator) subscribeSources(filter models.QuoteFilter, out *quotes.Channels) ([]func(), int) {
	log := a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"pool": filter.PoolKey.ID(),
	})

	type namedSource struct {
		origin models.QuoteOrigin
		src    Source
	}
	all := []namedSource{
		{models.OriginRFQ, a.sources.RFQ},
		{models.OriginPool, a.sources.Pool},
		{models.OriginVault, a.sources.Vault},
	}

	unsubs := make([]func(), 0, len(all))
	established := 0
	for _, ns := range all {
		if ns.src == nil {
			continue
		}
		unsub, err := ns.src.Subscribe(filter, out)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"source": ns.origin.String(),
			}).Warn("failed to subscribe source")
			continue
		}
		unsubs = append(unsubs, unsub)
		established++
	}
	return unsubs, established
}

// deliver runs the callback only when the subscription's epoch still matches
// the value captured at subscribe time. Panics inside the callback are
// logged, never rethrown into the transport's event loop.
func (a *Aggregator) deliver(sub *streamSub, epoch uint64, fn func()) {
	if sub.epoch.Load() != epoch {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			a.log.WithComponent("aggregator").WithFields(logger.Fields{
				"panic": fmt.Sprint(rec),
			}).Error("stream callback panicked")
		}
	}()
	fn()
}

func stateQuotes(state map[models.QuoteOrigin]*models.SourcedQuote) []*models.SourcedQuote {
	out := make([]*models.SourcedQuote, 0, len(state))
	for _, q := range state {
		out = append(out, q)
	}
	return out
}
