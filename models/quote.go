package models

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// QuoteOrigin identifies the liquidity source a quote was ingested from.
// The origin is assigned once at ingestion and never mutated afterwards.
type QuoteOrigin int

const (
	OriginRFQ QuoteOrigin = iota
	OriginPool
	OriginVault
)

func (o QuoteOrigin) String() string {
	switch o {
	case OriginRFQ:
		return "rfq"
	case OriginPool:
		return "pool"
	case OriginVault:
		return "vault"
	default:
		return "unknown"
	}
}

// Side is the trade direction of a quote request.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

func (s Side) IsBuy() bool { return s == SideBuy }

// PoolKey identifies an option instrument. Strike is WAD fixed-point,
// maturity is unix seconds. Immutable once constructed.
type PoolKey struct {
	Base          common.Address
	Quote         common.Address
	OracleAdapter common.Address
	Strike        *big.Int
	Maturity      int64
	IsCallPool    bool
}

func (k PoolKey) Equal(other PoolKey) bool {
	if k.Base != other.Base || k.Quote != other.Quote || k.OracleAdapter != other.OracleAdapter {
		return false
	}
	if k.Maturity != other.Maturity || k.IsCallPool != other.IsCallPool {
		return false
	}
	if k.Strike == nil || other.Strike == nil {
		return k.Strike == other.Strike
	}
	return k.Strike.Cmp(other.Strike) == 0
}

// ID returns a stable map key for the instrument.
func (k PoolKey) ID() string {
	strike := "0"
	if k.Strike != nil {
		strike = k.Strike.String()
	}
	kind := "put"
	if k.IsCallPool {
		kind = "call"
	}
	return fmt.Sprintf("%s-%s-%s-%s-%d-%s", k.Base.Hex(), k.Quote.Hex(), k.OracleAdapter.Hex(), strike, k.Maturity, kind)
}

// RawQuote is an unsigned price offer. Price and Size are WAD fixed-point,
// Deadline and Salt are unix values. A zero Taker address means the quote is
// open to any counterparty.
type RawQuote struct {
	PoolKey  PoolKey
	Provider common.Address
	Taker    common.Address
	Price    *big.Int
	Size     *big.Int
	IsBuy    bool
	Deadline int64
	Salt     int64
}

// Signature holds the secp256k1 signature components an on-chain verifier
// expects.
type Signature struct {
	R [32]byte
	S [32]byte
	V uint8
}

// SignatureFromBytes splits a 65-byte r||s||v signature. The recovery byte is
// normalised to the 27/28 convention used on chain.
func SignatureFromBytes(sig []byte) (Signature, error) {
	if len(sig) != 65 {
		return Signature{}, fmt.Errorf("signature must be 65 bytes, got %d", len(sig))
	}
	var out Signature
	copy(out.R[:], sig[:32])
	copy(out.S[:], sig[32:64])
	out.V = sig[64]
	if out.V < 27 {
		out.V += 27
	}
	return out, nil
}

// SignedQuote is a RawQuote together with the chain it was signed for and the
// signature that makes it executable.
type SignedQuote struct {
	RawQuote
	ChainID   *big.Int
	Signature Signature
}

// SourcedQuote tags a SignedQuote with its liquidity source. CreatedAt is the
// relay submission time and only meaningful for RFQ quotes; FillableSize, when
// set, bounds how much of the quote remains fillable on chain.
type SourcedQuote struct {
	SignedQuote
	Origin       QuoteOrigin
	CreatedAt    int64
	FillableSize *big.Int
}

// EffectiveSize is the size the comparator ranks on: the remaining fillable
// size when known, the quoted size otherwise.
func (q *SourcedQuote) EffectiveSize() *big.Int {
	if q.FillableSize != nil {
		return q.FillableSize
	}
	return q.Size
}

// Expired reports whether an RFQ quote's deadline has elapsed. Pool and vault
// quotes are derived from live state and cannot expire independently.
func (q *SourcedQuote) Expired(now int64) bool {
	return q.Origin == OriginRFQ && q.Deadline <= now
}

// FillableQuote is a winning quote converted for execution. Price and Premium
// are denormalized into the collateral asset's native decimals. It is created
// once at selection time and never serialized back into a RawQuote.
type FillableQuote struct {
	Pool           common.Address
	Quote          SignedQuote
	Size           *big.Int
	Price          *big.Int
	Premium        *big.Int
	TakerFee       *big.Int
	ApprovalTarget common.Address
	ApprovalAmount *big.Int
	To             common.Address
	Calldata       []byte
	CreatedAt      int64
}

// QuoteFilter selects the instrument and direction a subscription covers.
// Size and Taker are optional refinements.
type QuoteFilter struct {
	PoolKey     PoolKey
	PoolAddress common.Address
	Side        Side
	ChainID     *big.Int
	Size        *big.Int
	Taker       common.Address
}

// QuoteUpdate is the message source readers push into the aggregator's
// channel. Quote is nil when the source currently has no fillable liquidity
// or failed to produce one; the aggregator treats both the same way.
type QuoteUpdate struct {
	Origin    QuoteOrigin
	PoolKey   PoolKey
	Quote     *SourcedQuote
	Timestamp time.Time
}
