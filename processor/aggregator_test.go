package processor

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	appconfig "optionflow/config"
	"optionflow/internal/channel/quotes"
	"optionflow/models"
	"optionflow/wad"
)

var testKey = models.PoolKey{
	Base:          common.HexToAddress("0x0000000000000000000000000000000000000b01"),
	Quote:         common.HexToAddress("0x0000000000000000000000000000000000000b02"),
	OracleAdapter: common.HexToAddress("0x0000000000000000000000000000000000000b03"),
	Strike:        wad.FromInt(2700),
	Maturity:      1900000000,
	IsCallPool:    true,
}

type fakeSource struct {
	mu     sync.Mutex
	outs   map[string]*quotes.Channels
	unsubs int
	subErr error
}

func (f *fakeSource) Subscribe(filter models.QuoteFilter, out *quotes.Channels) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subErr != nil {
		return nil, f.subErr
	}
	if f.outs == nil {
		f.outs = make(map[string]*quotes.Channels)
	}
	f.outs[filter.PoolKey.ID()] = out
	return func() {
		f.mu.Lock()
		f.unsubs++
		f.mu.Unlock()
	}, nil
}

func (f *fakeSource) push(t *testing.T, upd models.QuoteUpdate) {
	t.Helper()
	f.mu.Lock()
	out := f.outs[upd.PoolKey.ID()]
	f.mu.Unlock()
	if out == nil {
		t.Fatalf("source not subscribed for %s", upd.PoolKey.ID())
	}
	if !out.Send(context.Background(), upd) {
		t.Fatalf("failed to push update")
	}
}

func (f *fakeSource) unsubCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.unsubs
}

func testConfig() *appconfig.Config {
	return &appconfig.Config{
		Channels: appconfig.ChannelsConfig{UpdateBuffer: 16},
	}
}

func testRequest() StreamRequest {
	return StreamRequest{
		Filter: models.QuoteFilter{
			PoolKey: testKey,
			Side:    models.SideSell,
			ChainID: big.NewInt(42161),
			Size:    wad.FromInt(1),
		},
		Size: wad.FromInt(1),
	}
}

func quoteAt(key models.PoolKey, origin models.QuoteOrigin, price *big.Int) *models.SourcedQuote {
	return &models.SourcedQuote{
		SignedQuote: models.SignedQuote{
			RawQuote: models.RawQuote{
				PoolKey:  key,
				Provider: common.HexToAddress("0xaa"),
				Price:    price,
				Size:     wad.FromInt(10),
				IsBuy:    false,
				Deadline: time.Now().Unix() + 3600,
			},
			ChainID: big.NewInt(42161),
		},
		Origin:    origin,
		CreatedAt: time.Now().Unix(),
	}
}

func quoteFrom(origin models.QuoteOrigin, price *big.Int) *models.SourcedQuote {
	return quoteAt(testKey, origin, price)
}

func updateAt(key models.PoolKey, origin models.QuoteOrigin, q *models.SourcedQuote) models.QuoteUpdate {
	return models.QuoteUpdate{
		Origin:    origin,
		PoolKey:   key,
		Quote:     q,
		Timestamp: time.Now(),
	}
}

func update(origin models.QuoteOrigin, q *models.SourcedQuote) models.QuoteUpdate {
	return updateAt(testKey, origin, q)
}

func waitQuote(t *testing.T, ch <-chan *models.SourcedQuote) *models.SourcedQuote {
	t.Helper()
	select {
	case q := <-ch:
		return q
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for callback")
		return nil
	}
}

func expectSilence(t *testing.T, ch <-chan *models.SourcedQuote) {
	t.Helper()
	select {
	case q := <-ch:
		t.Fatalf("unexpected callback with %+v", q)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStreamQuotesEmitsOnlyNewWinner(t *testing.T) {
	pool := &fakeSource{}
	rfq := &fakeSource{}

	agg := NewAggregator(testConfig(), Sources{RFQ: rfq, Pool: pool})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	results := make(chan *models.SourcedQuote, 8)
	cancelStream, err := agg.StreamQuotes(testRequest(), func(q *models.SourcedQuote) {
		results <- q
	})
	if err != nil {
		t.Fatalf("StreamQuotes failed: %v", err)
	}
	defer cancelStream()

	// First quote wins by default.
	first := quoteFrom(models.OriginPool, wad.FromInt(2))
	pool.push(t, update(models.OriginPool, first))
	if got := waitQuote(t, results); got != first {
		t.Fatalf("expected first quote to be delivered")
	}

	// A worse sell quote from another source must not trigger a callback.
	worse := quoteFrom(models.OriginRFQ, wad.FromInt(1))
	rfq.push(t, update(models.OriginRFQ, worse))
	expectSilence(t, results)

	// A better quote from the same source replaces the winner.
	better := quoteFrom(models.OriginRFQ, wad.FromInt(3))
	rfq.push(t, update(models.OriginRFQ, better))
	if got := waitQuote(t, results); got != better {
		t.Fatalf("expected better quote to be delivered")
	}
}

func TestStreamQuotesSourceWithdrawal(t *testing.T) {
	pool := &fakeSource{}
	rfq := &fakeSource{}

	agg := NewAggregator(testConfig(), Sources{RFQ: rfq, Pool: pool})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	results := make(chan *models.SourcedQuote, 8)
	cancelStream, err := agg.StreamQuotes(testRequest(), func(q *models.SourcedQuote) {
		results <- q
	})
	if err != nil {
		t.Fatalf("StreamQuotes failed: %v", err)
	}
	defer cancelStream()

	best := quoteFrom(models.OriginRFQ, wad.FromInt(3))
	rfq.push(t, update(models.OriginRFQ, best))
	waitQuote(t, results)

	// The winning source withdrawing (nil quote) is not a new winner; the
	// stale state is simply dropped without a callback.
	rfq.push(t, update(models.OriginRFQ, nil))
	expectSilence(t, results)

	// The surviving source's next quote becomes the winner.
	next := quoteFrom(models.OriginPool, wad.FromInt(1))
	pool.push(t, update(models.OriginPool, next))
	if got := waitQuote(t, results); got != next {
		t.Fatalf("expected surviving source to win after withdrawal")
	}
}

func TestStreamQuotesPartialSourceFailure(t *testing.T) {
	pool := &fakeSource{}
	rfq := &fakeSource{subErr: context.DeadlineExceeded}

	agg := NewAggregator(testConfig(), Sources{RFQ: rfq, Pool: pool})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	results := make(chan *models.SourcedQuote, 8)
	cancelStream, err := agg.StreamQuotes(testRequest(), func(q *models.SourcedQuote) {
		results <- q
	})
	if err != nil {
		t.Fatalf("one failing source must not fail the stream: %v", err)
	}
	defer cancelStream()

	q := quoteFrom(models.OriginPool, wad.FromInt(1))
	pool.push(t, update(models.OriginPool, q))
	if got := waitQuote(t, results); got != q {
		t.Fatalf("expected quote from the surviving source")
	}
}

func TestStreamQuotesAllSourcesFail(t *testing.T) {
	rfq := &fakeSource{subErr: context.DeadlineExceeded}

	agg := NewAggregator(testConfig(), Sources{RFQ: rfq})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	if _, err := agg.StreamQuotes(testRequest(), func(*models.SourcedQuote) {}); err == nil {
		t.Fatalf("expected error when no source subscribes")
	}
}

func TestCancelAllStreamsStopsDelivery(t *testing.T) {
	pool := &fakeSource{}

	agg := NewAggregator(testConfig(), Sources{Pool: pool})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	results := make(chan *models.SourcedQuote, 8)
	if _, err := agg.StreamQuotes(testRequest(), func(q *models.SourcedQuote) {
		results <- q
	}); err != nil {
		t.Fatalf("StreamQuotes failed: %v", err)
	}

	pool.push(t, update(models.OriginPool, quoteFrom(models.OriginPool, wad.FromInt(1))))
	waitQuote(t, results)

	agg.CancelAllStreams()
	if pool.unsubCount() != 1 {
		t.Errorf("expected transport unsubscription, got %d", pool.unsubCount())
	}

	// Updates pushed after cancellation must never reach the callback.
	pool.push(t, update(models.OriginPool, quoteFrom(models.OriginPool, wad.FromInt(2))))
	expectSilence(t, results)
}

func TestStaleEpochDeliverySuppressed(t *testing.T) {
	agg := NewAggregator(testConfig(), Sources{Pool: &fakeSource{}})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	if _, err := agg.StreamQuotes(testRequest(), func(*models.SourcedQuote) {}); err != nil {
		t.Fatalf("StreamQuotes failed: %v", err)
	}

	agg.subsMu.Lock()
	var sub *streamSub
	for _, s := range agg.subs {
		sub = s
	}
	agg.subsMu.Unlock()
	if sub == nil {
		t.Fatalf("expected a registered subscription")
	}

	delivered := 0
	epoch := sub.epoch.Load()
	agg.deliver(sub, epoch, func() { delivered++ })
	if delivered != 1 {
		t.Fatalf("current-epoch delivery suppressed")
	}

	// An in-flight delivery that resolved before cancellation but is applied
	// after it must be dropped.
	agg.CancelAllStreams()
	agg.deliver(sub, epoch, func() { delivered++ })
	if delivered != 1 {
		t.Fatalf("stale-epoch delivery was not suppressed")
	}
}

func TestCancelStreamsByInstrument(t *testing.T) {
	pool := &fakeSource{}

	agg := NewAggregator(testConfig(), Sources{Pool: pool})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	if _, err := agg.StreamQuotes(testRequest(), func(*models.SourcedQuote) {}); err != nil {
		t.Fatalf("StreamQuotes failed: %v", err)
	}

	otherKey := testKey
	otherKey.Maturity++
	agg.CancelStreams(otherKey)
	if pool.unsubCount() != 0 {
		t.Errorf("cancelling another instrument must not touch this stream")
	}

	agg.CancelStreams(testKey)
	if pool.unsubCount() != 1 {
		t.Errorf("expected exactly this stream to be torn down, got %d", pool.unsubCount())
	}
}

func TestCancelStreamsLeavesOtherStreamsLive(t *testing.T) {
	pool := &fakeSource{}

	agg := NewAggregator(testConfig(), Sources{Pool: pool})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	resultsA := make(chan *models.SourcedQuote, 8)
	if _, err := agg.StreamQuotes(testRequest(), func(q *models.SourcedQuote) {
		resultsA <- q
	}); err != nil {
		t.Fatalf("StreamQuotes failed: %v", err)
	}

	otherKey := testKey
	otherKey.Maturity++
	reqB := testRequest()
	reqB.Filter.PoolKey = otherKey
	resultsB := make(chan *models.SourcedQuote, 8)
	if _, err := agg.StreamQuotes(reqB, func(q *models.SourcedQuote) {
		resultsB <- q
	}); err != nil {
		t.Fatalf("StreamQuotes failed: %v", err)
	}

	agg.CancelStreams(testKey)
	if pool.unsubCount() != 1 {
		t.Errorf("expected only the cancelled instrument's unsubscription, got %d", pool.unsubCount())
	}

	// The other instrument's stream keeps delivering.
	qB := quoteAt(otherKey, models.OriginPool, wad.FromInt(2))
	pool.push(t, updateAt(otherKey, models.OriginPool, qB))
	if got := waitQuote(t, resultsB); got != qB {
		t.Fatalf("surviving stream stopped delivering after an unrelated cancellation")
	}

	// The cancelled instrument's stream stays silent.
	pool.push(t, update(models.OriginPool, quoteFrom(models.OriginPool, wad.FromInt(2))))
	expectSilence(t, resultsA)
}

func TestCallbackPanicDoesNotKillStream(t *testing.T) {
	pool := &fakeSource{}

	agg := NewAggregator(testConfig(), Sources{Pool: pool})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	results := make(chan *models.SourcedQuote, 8)
	calls := 0
	cancelStream, err := agg.StreamQuotes(testRequest(), func(q *models.SourcedQuote) {
		calls++
		if calls == 1 {
			panic("consumer bug")
		}
		results <- q
	})
	if err != nil {
		t.Fatalf("StreamQuotes failed: %v", err)
	}
	defer cancelStream()

	pool.push(t, update(models.OriginPool, quoteFrom(models.OriginPool, wad.FromInt(1))))

	second := quoteFrom(models.OriginPool, wad.FromInt(2))
	pool.push(t, update(models.OriginPool, second))
	if got := waitQuote(t, results); got != second {
		t.Fatalf("stream did not survive the callback panic")
	}
}

func TestStreamMultiQuotesDeliversSortedList(t *testing.T) {
	pool := &fakeSource{}

	agg := NewAggregator(testConfig(), Sources{Pool: pool})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	lists := make(chan []*models.SourcedQuote, 8)
	cancelStream, err := agg.StreamMultiQuotes([]StreamRequest{testRequest()}, func(qs []*models.SourcedQuote) {
		lists <- qs
	})
	if err != nil {
		t.Fatalf("StreamMultiQuotes failed: %v", err)
	}
	defer cancelStream()

	q := quoteFrom(models.OriginPool, wad.FromInt(2))
	pool.push(t, update(models.OriginPool, q))

	select {
	case got := <-lists:
		if len(got) != 1 || got[0] != q {
			t.Fatalf("unexpected list %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for list callback")
	}
}

func TestStreamQuotesByProviderNoRanking(t *testing.T) {
	pool := &fakeSource{}
	rfq := &fakeSource{}

	agg := NewAggregator(testConfig(), Sources{RFQ: rfq, Pool: pool})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := agg.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer agg.Stop()

	type snapshot map[models.QuoteOrigin][]*models.SourcedQuote
	snaps := make(chan snapshot, 8)
	cancelStream, err := agg.StreamQuotesByProvider([]StreamRequest{testRequest()}, func(m map[models.QuoteOrigin][]*models.SourcedQuote) {
		snaps <- m
	})
	if err != nil {
		t.Fatalf("StreamQuotesByProvider failed: %v", err)
	}
	defer cancelStream()

	poolQuote := quoteFrom(models.OriginPool, wad.FromInt(1))
	pool.push(t, update(models.OriginPool, poolQuote))
	<-snaps

	// A worse quote from another source still appears: no ranking here.
	rfqQuote := quoteFrom(models.OriginRFQ, wad.FromInt(1))
	rfq.push(t, update(models.OriginRFQ, rfqQuote))

	select {
	case got := <-snaps:
		if len(got[models.OriginRFQ]) != 1 || got[models.OriginRFQ][0] != rfqQuote {
			t.Fatalf("rfq quote missing from snapshot: %+v", got)
		}
		if len(got[models.OriginPool]) != 1 {
			t.Fatalf("pool quote missing from snapshot: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for provider snapshot")
	}
}
