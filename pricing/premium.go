package pricing

import (
	"math/big"

	"optionflow/wad"
)

// PremiumLimit applies a slippage tolerance to a WAD premium and returns the
// worst acceptable premium: higher when buying, lower when selling.
// maxSlippage is WAD fixed-point, so 0.01 (1%) is 10^16.
func PremiumLimit(premium, maxSlippage *big.Int, isBuy bool) *big.Int {
	offset := wad.Mul(premium, maxSlippage)
	if isBuy {
		return new(big.Int).Add(premium, offset)
	}
	return new(big.Int).Sub(premium, offset)
}
