package models

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Relay channel names.
const (
	ChannelQuotes = "QUOTES"
	ChannelRFQ    = "RFQ"
)

// Relay message types.
const (
	TypeFilter      = "FILTER"
	TypeUnsubscribe = "UNSUBSCRIBE"
	TypeRFQ         = "RFQ"
	TypePostQuote   = "POST_QUOTE"
	TypeDeleteQuote = "DELETE_QUOTE"
	TypeInfo        = "INFO"
	TypeError       = "ERROR"
)

// RelayMessage is the envelope for every frame exchanged with the RFQ relay.
type RelayMessage struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Body    json.RawMessage `json:"body,omitempty"`
	Message string          `json:"message,omitempty"`
}

// PoolKeyJSON is the serialized form of a PoolKey. Strike is a fixed-point
// string.
type PoolKeyJSON struct {
	Base          string `json:"base"`
	Quote         string `json:"quote"`
	OracleAdapter string `json:"oracleAdapter"`
	Strike        string `json:"strike"`
	Maturity      int64  `json:"maturity"`
	IsCallPool    bool   `json:"isCallPool"`
}

// QuoteJSON is the serialized form of a SignedQuote. All numeric fields are
// fixed-point strings.
type QuoteJSON struct {
	PoolKey   PoolKeyJSON    `json:"poolKey"`
	Provider  string         `json:"provider"`
	Taker     string         `json:"taker"`
	Price     string         `json:"price"`
	Size      string         `json:"size"`
	IsBuy     bool           `json:"isBuy"`
	Deadline  int64          `json:"deadline"`
	Salt      int64          `json:"salt"`
	ChainID   string         `json:"chainId"`
	Signature *SignatureJSON `json:"signature,omitempty"`
	Ts        int64          `json:"ts,omitempty"`
}

type SignatureJSON struct {
	R string `json:"r"`
	S string `json:"s"`
	V uint8  `json:"v"`
}

// FilterMessage subscribes the sender to a relay channel for one instrument
// and side.
type FilterMessage struct {
	Type        string       `json:"type"`
	Channel     string       `json:"channel"`
	PoolAddress string       `json:"poolAddress,omitempty"`
	PoolKey     *PoolKeyJSON `json:"poolKey,omitempty"`
	Side        Side         `json:"side"`
	ChainID     string       `json:"chainId"`
	Size        string       `json:"size,omitempty"`
	Taker       string       `json:"taker,omitempty"`
}

// UnsubscribeMessage tears down a channel subscription.
type UnsubscribeMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// RFQMessage solicits counterparty quotes for an instrument.
type RFQMessage struct {
	Type    string      `json:"type"`
	PoolKey PoolKeyJSON `json:"poolKey"`
	Side    Side        `json:"side"`
	ChainID string      `json:"chainId"`
	Size    string      `json:"size"`
	Taker   string      `json:"taker"`
}

// PostQuoteMessage publishes a signed quote to the relay.
type PostQuoteMessage struct {
	Type string    `json:"type"`
	Body QuoteJSON `json:"body"`
}

// DeleteQuoteMessage withdraws a previously published quote.
type DeleteQuoteMessage struct {
	Type string    `json:"type"`
	Body QuoteJSON `json:"body"`
}

// ToJSON converts a PoolKey into its wire form.
func (k PoolKey) ToJSON() PoolKeyJSON {
	strike := "0"
	if k.Strike != nil {
		strike = k.Strike.String()
	}
	return PoolKeyJSON{
		Base:          k.Base.Hex(),
		Quote:         k.Quote.Hex(),
		OracleAdapter: k.OracleAdapter.Hex(),
		Strike:        strike,
		Maturity:      k.Maturity,
		IsCallPool:    k.IsCallPool,
	}
}

// ToPoolKey parses the wire form back into a PoolKey.
func (j PoolKeyJSON) ToPoolKey() (PoolKey, error) {
	strike, ok := new(big.Int).SetString(j.Strike, 10)
	if !ok {
		return PoolKey{}, fmt.Errorf("invalid strike %q", j.Strike)
	}
	return PoolKey{
		Base:          common.HexToAddress(j.Base),
		Quote:         common.HexToAddress(j.Quote),
		OracleAdapter: common.HexToAddress(j.OracleAdapter),
		Strike:        strike,
		Maturity:      j.Maturity,
		IsCallPool:    j.IsCallPool,
	}, nil
}

// ToJSON converts a SignedQuote into its wire form.
func (q *SignedQuote) ToJSON() QuoteJSON {
	out := QuoteJSON{
		PoolKey:  q.PoolKey.ToJSON(),
		Provider: q.Provider.Hex(),
		Taker:    q.Taker.Hex(),
		Price:    q.Price.String(),
		Size:     q.Size.String(),
		IsBuy:    q.IsBuy,
		Deadline: q.Deadline,
		Salt:     q.Salt,
	}
	if q.ChainID != nil {
		out.ChainID = q.ChainID.String()
	}
	var zero Signature
	if q.Signature != zero {
		out.Signature = &SignatureJSON{
			R: "0x" + hex.EncodeToString(q.Signature.R[:]),
			S: "0x" + hex.EncodeToString(q.Signature.S[:]),
			V: q.Signature.V,
		}
	}
	return out
}

// ToSignedQuote parses the wire form back into a SignedQuote.
func (j QuoteJSON) ToSignedQuote() (*SignedQuote, error) {
	key, err := j.PoolKey.ToPoolKey()
	if err != nil {
		return nil, err
	}
	price, ok := new(big.Int).SetString(j.Price, 10)
	if !ok {
		return nil, fmt.Errorf("invalid price %q", j.Price)
	}
	size, ok := new(big.Int).SetString(j.Size, 10)
	if !ok {
		return nil, fmt.Errorf("invalid size %q", j.Size)
	}
	out := &SignedQuote{
		RawQuote: RawQuote{
			PoolKey:  key,
			Provider: common.HexToAddress(j.Provider),
			Taker:    common.HexToAddress(j.Taker),
			Price:    price,
			Size:     size,
			IsBuy:    j.IsBuy,
			Deadline: j.Deadline,
			Salt:     j.Salt,
		},
	}
	if j.ChainID != "" {
		chainID, ok := new(big.Int).SetString(j.ChainID, 10)
		if !ok {
			return nil, fmt.Errorf("invalid chainId %q", j.ChainID)
		}
		out.ChainID = chainID
	}
	if j.Signature != nil {
		r, err := decodeHex32(j.Signature.R)
		if err != nil {
			return nil, fmt.Errorf("invalid signature r: %w", err)
		}
		s, err := decodeHex32(j.Signature.S)
		if err != nil {
			return nil, fmt.Errorf("invalid signature s: %w", err)
		}
		out.Signature = Signature{R: r, S: s, V: j.Signature.V}
	}
	return out, nil
}

func decodeHex32(s string) ([32]byte, error) {
	var out [32]byte
	if len(s) >= 2 && s[:2] == "0x" {
		s = s[2:]
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}
