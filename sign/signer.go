package sign

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"optionflow/logger"
	"optionflow/models"
)

// TypedDataSigner produces a 65-byte r||s||v signature over a typed-data
// document. Wallet and provider bootstrap live behind this seam.
type TypedDataSigner interface {
	SignTypedData(td apitypes.TypedData) ([]byte, error)
	Address() common.Address
}

// LocalSigner signs typed data with an in-memory secp256k1 key.
type LocalSigner struct {
	key *ecdsa.PrivateKey
}

// NewLocalSigner parses a hex-encoded private key, with or without the 0x
// prefix.
func NewLocalSigner(privateKeyHex string) (*LocalSigner, error) {
	if len(privateKeyHex) > 2 && privateKeyHex[:2] == "0x" {
		privateKeyHex = privateKeyHex[2:]
	}
	key, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &LocalSigner{key: key}, nil
}

func (s *LocalSigner) SignTypedData(td apitypes.TypedData) ([]byte, error) {
	hash, err := digest(td)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(hash.Bytes(), s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

func (s *LocalSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// Signer turns raw quotes into bindingly executable signed quotes for a
// single chain.
type Signer struct {
	chainID *big.Int
	inner   TypedDataSigner
	log     *logger.Log
}

func NewSigner(chainID *big.Int, inner TypedDataSigner) *Signer {
	return &Signer{
		chainID: chainID,
		inner:   inner,
		log:     logger.GetLogger(),
	}
}

// Sign assigns a time-derived salt when the quote carries none, signs the
// typed-data document for the given pool and returns the signed quote.
func (s *Signer) Sign(pool common.Address, q models.RawQuote) (*models.SignedQuote, error) {
	if q.Salt == 0 {
		q.Salt = time.Now().UnixMilli()
	}

	td := TypedData(&q, pool, s.chainID)
	raw, err := s.inner.SignTypedData(td)
	if err != nil {
		return nil, fmt.Errorf("failed to sign quote: %w", err)
	}
	sig, err := models.SignatureFromBytes(raw)
	if err != nil {
		return nil, err
	}

	s.log.WithComponent("quote_signer").WithFields(logger.Fields{
		"pool":     pool.Hex(),
		"provider": q.Provider.Hex(),
		"is_buy":   q.IsBuy,
		"deadline": q.Deadline,
	}).Debug("quote signed")

	return &models.SignedQuote{
		RawQuote:  q,
		ChainID:   new(big.Int).Set(s.chainID),
		Signature: sig,
	}, nil
}
