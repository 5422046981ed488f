// Package pricing ranks quotes from heterogeneous liquidity sources with a
// total, deterministic ordering.
package pricing

import (
	"errors"
	"math/big"
	"time"

	"optionflow/logger"
	"optionflow/models"
)

var (
	// ErrInvalidConfiguration is returned when the minimum size exceeds the
	// requested size. Message surfaced verbatim to callers.
	ErrInvalidConfiguration = errors.New("Minimum size cannot be greater than size")
	// ErrIncompatibleDirection is returned when comparing a buy quote with a
	// sell quote. Message surfaced verbatim to callers.
	ErrIncompatibleDirection = errors.New("Cannot compare quotes with opposite direction")
)

// Options tune a comparison. MinimumSize defaults to the requested size.
// Now overrides the clock for deterministic tests.
type Options struct {
	MinimumSize    *big.Int
	IgnoreWarnings bool
	Now            func() int64
}

func (o *Options) minSize(size *big.Int) *big.Int {
	if o != nil && o.MinimumSize != nil {
		return o.MinimumSize
	}
	return size
}

func (o *Options) now() int64 {
	if o != nil && o.Now != nil {
		return o.Now()
	}
	return time.Now().Unix()
}

func (o *Options) ignoreWarnings() bool {
	return o != nil && o.IgnoreWarnings
}

// Better ranks two quotes of the same trade direction for a target fill size
// and returns the winner, or nil when neither quote survives the expiry and
// minimum-size filters. Ranking stages, in strict order: expiry filter,
// minimum-size filter, price priority, origin priority, RFQ FIFO tie-break,
// fallback to a. The fallback makes exact ties intentionally non-commutative;
// callers must not rely on symmetry there.
func Better(a, b *models.SourcedQuote, size *big.Int, opts *Options) (*models.SourcedQuote, error) {
	minSize := opts.minSize(size)
	if minSize.Cmp(size) > 0 {
		return nil, ErrInvalidConfiguration
	}

	if a == nil {
		return b, nil
	}
	if b == nil {
		return a, nil
	}

	if a.IsBuy != b.IsBuy {
		return nil, ErrIncompatibleDirection
	}

	if !a.PoolKey.Equal(b.PoolKey) && !opts.ignoreWarnings() {
		logger.GetLogger().WithComponent("comparator").WithFields(logger.Fields{
			"pool_a": a.PoolKey.ID(),
			"pool_b": b.PoolKey.ID(),
		}).Warn("comparing quotes for different instruments")
	}

	now := opts.now()
	aExpired := a.Expired(now)
	bExpired := b.Expired(now)

	switch {
	case aExpired && bExpired:
		return nil, nil
	case aExpired:
		if b.EffectiveSize().Cmp(minSize) >= 0 {
			return b, nil
		}
		return nil, nil
	case bExpired:
		if a.EffectiveSize().Cmp(minSize) >= 0 {
			return a, nil
		}
		return nil, nil
	}

	aBelow := a.EffectiveSize().Cmp(minSize) < 0
	bBelow := b.EffectiveSize().Cmp(minSize) < 0
	switch {
	case aBelow && bBelow:
		return nil, nil
	case aBelow:
		return b, nil
	case bBelow:
		return a, nil
	}

	// Buyers want the lower price, sellers the higher one.
	if cmp := a.Price.Cmp(b.Price); cmp != 0 {
		if a.IsBuy == (cmp < 0) {
			return a, nil
		}
		return b, nil
	}

	// On a price tie, pool and vault liquidity is considered more reliably
	// fillable than an off-chain RFQ order.
	aRFQ := a.Origin == models.OriginRFQ
	bRFQ := b.Origin == models.OriginRFQ
	switch {
	case aRFQ && !bRFQ:
		return b, nil
	case bRFQ && !aRFQ:
		return a, nil
	}

	if aRFQ && bRFQ && a.CreatedAt != b.CreatedAt {
		if a.CreatedAt < b.CreatedAt {
			return a, nil
		}
		return b, nil
	}

	return a, nil
}

// Best reduces a candidate set to the single winning quote. Nil entries,
// expired RFQ quotes and quotes below the minimum size are dropped before the
// remainder is reduced with Better, left to right.
func Best(quotes []*models.SourcedQuote, size *big.Int, opts *Options) (*models.SourcedQuote, error) {
	minSize := opts.minSize(size)
	if minSize.Cmp(size) > 0 {
		return nil, ErrInvalidConfiguration
	}

	live := make([]*models.SourcedQuote, 0, len(quotes))
	for _, q := range quotes {
		if q == nil {
			continue
		}
		live = append(live, q)
	}
	if len(live) == 0 {
		return nil, nil
	}

	if !opts.ignoreWarnings() {
		for _, q := range live[1:] {
			if !q.PoolKey.Equal(live[0].PoolKey) {
				logger.GetLogger().WithComponent("comparator").WithFields(logger.Fields{
					"pool_a": live[0].PoolKey.ID(),
					"pool_b": q.PoolKey.ID(),
				}).Warn("best-quote candidates span different instruments")
				break
			}
		}
	}

	now := opts.now()
	filtered := live[:0]
	for _, q := range live {
		if q.Expired(now) {
			continue
		}
		if q.EffectiveSize().Cmp(minSize) < 0 {
			continue
		}
		filtered = append(filtered, q)
	}

	var winner *models.SourcedQuote
	for _, q := range filtered {
		next, err := Better(winner, q, size, opts)
		if err != nil {
			return nil, err
		}
		winner = next
	}
	return winner, nil
}
