package rfq

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	appconfig "optionflow/config"
	"optionflow/internal/channel/quotes"
	"optionflow/models"
)

var testKey = models.PoolKey{
	Base:          common.HexToAddress("0x0000000000000000000000000000000000000b01"),
	Quote:         common.HexToAddress("0x0000000000000000000000000000000000000b02"),
	OracleAdapter: common.HexToAddress("0x0000000000000000000000000000000000000b03"),
	Strike:        big.NewInt(2700),
	Maturity:      1900000000,
	IsCallPool:    true,
}

func testFilter() models.QuoteFilter {
	return models.QuoteFilter{
		PoolKey: testKey,
		Side:    models.SideSell,
		ChainID: big.NewInt(42161),
	}
}

func relayQuote() *models.SignedQuote {
	return &models.SignedQuote{
		RawQuote: models.RawQuote{
			PoolKey:  testKey,
			Provider: common.HexToAddress("0xaa"),
			Price:    big.NewInt(1),
			Size:     big.NewInt(1),
			IsBuy:    false,
		},
		ChainID: big.NewInt(42161),
	}
}

func TestMatches(t *testing.T) {
	r := NewReader(&appconfig.Config{})

	if !r.matches(testFilter(), relayQuote()) {
		t.Fatalf("expected quote to match its own filter")
	}

	otherKey := relayQuote()
	otherKey.PoolKey.Maturity++
	if r.matches(testFilter(), otherKey) {
		t.Errorf("different instrument must not match")
	}

	wrongSide := relayQuote()
	wrongSide.IsBuy = true
	if r.matches(testFilter(), wrongSide) {
		t.Errorf("buy quote must not match a sell filter")
	}

	wrongChain := relayQuote()
	wrongChain.ChainID = big.NewInt(1)
	if r.matches(testFilter(), wrongChain) {
		t.Errorf("different chain must not match")
	}
}

func TestMatchesTakerScoping(t *testing.T) {
	r := NewReader(&appconfig.Config{})
	taker := common.HexToAddress("0xcc")

	// An open quote matches any taker.
	open := relayQuote()
	filter := testFilter()
	filter.Taker = taker
	if !r.matches(filter, open) {
		t.Errorf("open quote must match a taker-scoped filter")
	}

	// A taker-scoped quote only matches that taker.
	scoped := relayQuote()
	scoped.Taker = common.HexToAddress("0xdd")
	if r.matches(filter, scoped) {
		t.Errorf("quote scoped to another taker must not match")
	}
	scoped.Taker = taker
	if !r.matches(filter, scoped) {
		t.Errorf("quote scoped to the filter's taker must match")
	}
}

func TestFilterMessage(t *testing.T) {
	r := NewReader(&appconfig.Config{})

	filter := testFilter()
	filter.Size = big.NewInt(5)
	msg := r.filterMessage(filter)

	if msg.Type != models.TypeFilter || msg.Channel != models.ChannelQuotes {
		t.Errorf("unexpected envelope: %s/%s", msg.Type, msg.Channel)
	}
	if msg.PoolKey == nil || msg.PoolKey.Maturity != testKey.Maturity {
		t.Errorf("pool key not carried into the filter message")
	}
	if msg.Side != models.SideSell {
		t.Errorf("side = %s", msg.Side)
	}
	if msg.ChainID != "42161" {
		t.Errorf("chainId = %s", msg.ChainID)
	}
	if msg.Size != "5" {
		t.Errorf("size = %s", msg.Size)
	}
	// Optional zero-address fields stay off the wire.
	if msg.Taker != "" || msg.PoolAddress != "" {
		t.Errorf("zero addresses must be omitted: %+v", msg)
	}
}

func TestSubscribeWhileDisconnected(t *testing.T) {
	r := NewReader(&appconfig.Config{})

	out := quotes.NewChannels(1)
	unsub, err := r.Subscribe(testFilter(), out)
	if err != nil {
		t.Fatalf("Subscribe must tolerate a missing connection: %v", err)
	}

	r.subsMu.RLock()
	n := len(r.subs)
	r.subsMu.RUnlock()
	if n != 1 {
		t.Fatalf("expected 1 registered subscription, got %d", n)
	}

	unsub()
	r.subsMu.RLock()
	n = len(r.subs)
	r.subsMu.RUnlock()
	if n != 0 {
		t.Fatalf("expected subscription to be removed, got %d", n)
	}
}
