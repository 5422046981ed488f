// Package orders converts winning quotes into executable descriptors and
// applies fillability policy over external services.
package orders

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"optionflow/logger"
	"optionflow/models"
)

// ValidationResult is the outcome of a balance/allowance/size check.
type ValidationResult struct {
	Valid  bool
	Reason string
}

// ValidationService performs the actual fillability checks. This package
// never computes validity itself.
type ValidationService interface {
	ValidateQuote(ctx context.Context, quote *models.SourcedQuote, size *big.Int, taker common.Address) (ValidationResult, error)
}

// Validator is a thin policy wrapper over a ValidationService. With
// ThrowOnInvalid set, a negative result becomes an error carrying the
// service's message.
type Validator struct {
	svc            ValidationService
	throwOnInvalid bool
	log            *logger.Log
}

func NewValidator(svc ValidationService, throwOnInvalid bool) *Validator {
	return &Validator{
		svc:            svc,
		throwOnInvalid: throwOnInvalid,
		log:            logger.GetLogger(),
	}
}

// IsValid delegates the fillability check. Service errors propagate
// unchanged.
func (v *Validator) IsValid(ctx context.Context, quote *models.SourcedQuote, size *big.Int, taker common.Address) (bool, error) {
	res, err := v.svc.ValidateQuote(ctx, quote, size, taker)
	if err != nil {
		return false, err
	}
	if !res.Valid && v.throwOnInvalid {
		return false, fmt.Errorf("quote is not valid: %s", res.Reason)
	}
	if !res.Valid {
		v.log.WithComponent("quote_validator").WithFields(logger.Fields{
			"provider": quote.Provider.Hex(),
			"origin":   quote.Origin.String(),
			"reason":   res.Reason,
		}).Debug("quote failed validation")
	}
	return res.Valid, nil
}
