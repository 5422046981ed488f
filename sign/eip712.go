// Package sign builds the EIP-712 typed-data structure for off-chain quotes
// and computes the canonical digest the on-chain verifier reproduces.
package sign

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"optionflow/models"
)

const (
	// DomainName and DomainVersion scope a signature to the Premia quote
	// type. Changing either breaks on-chain signature recovery.
	DomainName    = "Premia"
	DomainVersion = "1"

	primaryType = "FillQuoteOB"
)

// TypedData constructs the typed-data document for a quote. Field order is
// fixed and must match the on-chain struct exactly.
func TypedData(q *models.RawQuote, pool common.Address, chainID *big.Int) apitypes.TypedData {
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			primaryType: []apitypes.Type{
				{Name: "provider", Type: "address"},
				{Name: "taker", Type: "address"},
				{Name: "price", Type: "uint256"},
				{Name: "size", Type: "uint256"},
				{Name: "isBuy", Type: "bool"},
				{Name: "deadline", Type: "uint256"},
				{Name: "salt", Type: "uint256"},
			},
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              DomainName,
			Version:           DomainVersion,
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: pool.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"provider": q.Provider.Hex(),
			"taker":    q.Taker.Hex(),
			"price":    q.Price.String(),
			"size":     q.Size.String(),
			"isBuy":    q.IsBuy,
			"deadline": new(big.Int).SetInt64(q.Deadline).String(),
			"salt":     new(big.Int).SetInt64(q.Salt).String(),
		},
	}
}

// Hash computes keccak256("\x19\x01" || domainSeparator || structHash) for a
// quote. Pure and deterministic; any deviation in field order, type width or
// encoding breaks signature recovery on chain.
func Hash(q *models.RawQuote, pool common.Address, chainID *big.Int) (common.Hash, error) {
	td := TypedData(q, pool, chainID)
	return digest(td)
}

func digest(td apitypes.TypedData) (common.Hash, error) {
	domainSeparator, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash domain: %w", err)
	}
	structHash, err := td.HashStruct(td.PrimaryType, td.Message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash message: %w", err)
	}
	return crypto.Keccak256Hash([]byte{0x19, 0x01}, domainSeparator, structHash), nil
}
