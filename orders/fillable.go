package orders

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"optionflow/internal/cache"
	"optionflow/logger"
	"optionflow/models"
	"optionflow/pricing"
	"optionflow/wad"
)

// PoolMetadata is the resolved on-chain identity of an option pool.
type PoolMetadata struct {
	Address            common.Address
	Key                models.PoolKey
	CollateralDecimals uint8
	ApprovalTarget     common.Address
}

// PoolService resolves pool metadata. Implementations talk to an indexer or
// RPC node; this package only consumes the result.
type PoolService interface {
	Metadata(ctx context.Context, pool common.Address) (*PoolMetadata, error)
}

// FeeService computes the on-chain taker fee for a fill. The returned fee is
// denominated in the pool's collateral asset.
type FeeService interface {
	TakerFee(ctx context.Context, pool common.Address, size, premium *big.Int, isBuy, isPremiumNormalized bool, taker common.Address) (*big.Int, error)
}

// CachedPoolService memoizes metadata lookups in a TTL-bounded store.
// Pool metadata is immutable on chain, so a generous TTL is safe.
type CachedPoolService struct {
	inner PoolService
	store *cache.Store[*PoolMetadata]
}

func NewCachedPoolService(inner PoolService, ttl time.Duration) *CachedPoolService {
	return &CachedPoolService{
		inner: inner,
		store: cache.New[*PoolMetadata](ttl),
	}
}

func (s *CachedPoolService) Metadata(ctx context.Context, pool common.Address) (*PoolMetadata, error) {
	key := pool.Hex()
	if meta, ok := s.store.Get(key); ok {
		return meta, nil
	}
	meta, err := s.inner.Metadata(ctx, pool)
	if err != nil {
		return nil, err
	}
	s.store.Set(key, meta)
	return meta, nil
}

// Builder converts winning raw quotes into executable descriptors.
type Builder struct {
	fees      FeeService
	pools     PoolService
	validator *Validator
	log       *logger.Log
}

func NewBuilder(fees FeeService, pools PoolService, validator *Validator) *Builder {
	return &Builder{
		fees:      fees,
		pools:     pools,
		validator: validator,
		log:       logger.GetLogger(),
	}
}

// ToFillable clamps the requested size to what the quote can still fill,
// computes premium and taker fee, denormalizes prices into the collateral
// asset's native decimals and encodes the execution calldata. Upstream fee
// and metadata failures propagate unchanged.
func (b *Builder) ToFillable(ctx context.Context, pool common.Address, size *big.Int, quote *models.SourcedQuote, createdAt int64, referrer common.Address) (*models.FillableQuote, error) {
	meta, err := b.pools.Metadata(ctx, pool)
	if err != nil {
		return nil, err
	}

	fill := wad.Min(size, quote.EffectiveSize())
	normalizedPremium := wad.Mul(fill, quote.Price)

	fee, err := b.fees.TakerFee(ctx, pool, fill, normalizedPremium, true, true, quote.Taker)
	if err != nil {
		return nil, err
	}

	// A call pool quotes in the collateral asset directly; a put pool quotes
	// per contract and settles in quote-asset collateral scaled by strike.
	price := new(big.Int).Set(quote.Price)
	premium := normalizedPremium
	collateralSize := new(big.Int).Set(fill)
	if !meta.Key.IsCallPool {
		price = wad.Mul(price, meta.Key.Strike)
		premium = wad.Mul(premium, meta.Key.Strike)
		collateralSize = wad.Mul(collateralSize, meta.Key.Strike)
	}
	price = wad.ToDecimals(price, meta.CollateralDecimals)
	premium = wad.ToDecimals(premium, meta.CollateralDecimals)
	collateralSize = wad.ToDecimals(collateralSize, meta.CollateralDecimals)

	var approval *big.Int
	if quote.IsBuy {
		// The provider buys: the taker escrows collateral minus the premium
		// received, plus the fee.
		approval = new(big.Int).Sub(collateralSize, premium)
		approval.Add(approval, fee)
	} else {
		approval = new(big.Int).Add(premium, fee)
	}

	calldata, err := EncodeFillQuoteOB(&quote.SignedQuote, fill, referrer)
	if err != nil {
		return nil, err
	}

	return &models.FillableQuote{
		Pool:           pool,
		Quote:          quote.SignedQuote,
		Size:           fill,
		Price:          price,
		Premium:        premium,
		TakerFee:       fee,
		ApprovalTarget: meta.ApprovalTarget,
		ApprovalAmount: approval,
		To:             pool,
		Calldata:       calldata,
		CreatedAt:      createdAt,
	}, nil
}

// BestQuote sorts candidates with the comparator, ranking each on its
// remaining fillable size, then validates them in order and returns the
// first valid candidate. Invalid candidates are logged and skipped; nil is
// returned when none validate.
func (b *Builder) BestQuote(ctx context.Context, candidates []*models.SourcedQuote, size *big.Int, minimumSize *big.Int, taker common.Address) (*models.SourcedQuote, error) {
	opts := &pricing.Options{MinimumSize: minimumSize, IgnoreWarnings: true}
	if minimumSize != nil && minimumSize.Cmp(size) > 0 {
		return nil, pricing.ErrInvalidConfiguration
	}

	log := b.log.WithComponent("orderbook")

	ordered := make([]*models.SourcedQuote, 0, len(candidates))
	for _, q := range candidates {
		if q != nil {
			ordered = append(ordered, q)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		winner, err := pricing.Better(ordered[i], ordered[j], size, opts)
		if err != nil {
			log.WithError(err).Warn("failed to compare candidate quotes")
			return false
		}
		return winner == ordered[i]
	})

	for _, q := range ordered {
		ok, err := b.validator.IsValid(ctx, q, size, taker)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"provider": q.Provider.Hex(),
				"origin":   q.Origin.String(),
			}).Warn("quote validation errored, skipping candidate")
			continue
		}
		if !ok {
			log.WithFields(logger.Fields{
				"provider": q.Provider.Hex(),
				"origin":   q.Origin.String(),
			}).Debug("skipping invalid candidate")
			continue
		}
		return q, nil
	}
	return nil, nil
}
