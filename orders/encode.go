package orders

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"optionflow/models"
)

const fillQuoteOBSignature = "fillQuoteOB((address,address,uint256,uint256,bool,uint256,uint256),uint256,(bytes32,bytes32,uint8),address)"

var (
	fillQuoteOBSelector []byte
	fillQuoteOBArgs     abi.Arguments
)

func init() {
	fillQuoteOBSelector = crypto.Keccak256([]byte(fillQuoteOBSignature))[:4]

	quoteType, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "provider", Type: "address"},
		{Name: "taker", Type: "address"},
		{Name: "price", Type: "uint256"},
		{Name: "size", Type: "uint256"},
		{Name: "isBuy", Type: "bool"},
		{Name: "deadline", Type: "uint256"},
		{Name: "salt", Type: "uint256"},
	})
	if err != nil {
		panic(fmt.Sprintf("invalid quote tuple type: %v", err))
	}
	signatureType, err := abi.NewType("tuple", "", []abi.ArgumentMarshaling{
		{Name: "r", Type: "bytes32"},
		{Name: "s", Type: "bytes32"},
		{Name: "v", Type: "uint8"},
	})
	if err != nil {
		panic(fmt.Sprintf("invalid signature tuple type: %v", err))
	}
	uint256Type, err := abi.NewType("uint256", "", nil)
	if err != nil {
		panic(fmt.Sprintf("invalid uint256 type: %v", err))
	}
	addressType, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(fmt.Sprintf("invalid address type: %v", err))
	}

	fillQuoteOBArgs = abi.Arguments{
		{Name: "quoteOB", Type: quoteType},
		{Name: "size", Type: uint256Type},
		{Name: "signature", Type: signatureType},
		{Name: "referrer", Type: addressType},
	}
}

type quoteOBValue struct {
	Provider common.Address
	Taker    common.Address
	Price    *big.Int
	Size     *big.Int
	IsBuy    bool
	Deadline *big.Int
	Salt     *big.Int
}

type signatureValue struct {
	R [32]byte
	S [32]byte
	V uint8
}

// EncodeFillQuoteOB ABI-encodes the fillQuoteOB call for a signed quote,
// the clamped fill size and an optional referrer (zero address when absent).
func EncodeFillQuoteOB(quote *models.SignedQuote, size *big.Int, referrer common.Address) ([]byte, error) {
	packed, err := fillQuoteOBArgs.Pack(
		quoteOBValue{
			Provider: quote.Provider,
			Taker:    quote.Taker,
			Price:    quote.Price,
			Size:     quote.Size,
			IsBuy:    quote.IsBuy,
			Deadline: new(big.Int).SetInt64(quote.Deadline),
			Salt:     new(big.Int).SetInt64(quote.Salt),
		},
		size,
		signatureValue{
			R: quote.Signature.R,
			S: quote.Signature.S,
			V: quote.Signature.V,
		},
		referrer,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to encode fillQuoteOB call: %w", err)
	}
	return append(append([]byte{}, fillQuoteOBSelector...), packed...), nil
}
