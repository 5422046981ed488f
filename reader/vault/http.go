package vault

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"

	appconfig "optionflow/config"
	"optionflow/models"
)

// HTTPQuoteService fetches vault quotes from a quote endpoint speaking the
// relay's JSON shapes plus a fillableSize field.
type HTTPQuoteService struct {
	url    string
	client *http.Client
}

func NewHTTPQuoteService(cfg *appconfig.Config) *HTTPQuoteService {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Reader.ConnectionPool.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.Reader.ConnectionPool.MaxIdleConns,
		MaxConnsPerHost:     cfg.Reader.ConnectionPool.MaxConnsPerHost,
		IdleConnTimeout:     cfg.Reader.ConnectionPool.IdleConnTimeout,
	}
	return &HTTPQuoteService{
		url: cfg.Sources.Vault.URL,
		client: &http.Client{
			Transport: transport,
			Timeout:   cfg.Reader.Timeout,
		},
	}
}

type quoteRequest struct {
	PoolKey models.PoolKeyJSON `json:"poolKey"`
	Side    models.Side        `json:"side"`
	ChainID string             `json:"chainId"`
	Size    string             `json:"size,omitempty"`
	Taker   string             `json:"taker,omitempty"`
}

type vaultQuoteResponse struct {
	models.QuoteJSON
	FillableSize string `json:"fillableSize,omitempty"`
}

func (s *HTTPQuoteService) BestQuote(ctx context.Context, filter models.QuoteFilter) (*models.SignedQuote, *big.Int, error) {
	req := quoteRequest{
		PoolKey: filter.PoolKey.ToJSON(),
		Side:    filter.Side,
	}
	if filter.ChainID != nil {
		req.ChainID = filter.ChainID.String()
	}
	if filter.Size != nil {
		req.Size = filter.Size.String()
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal quote request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch vault quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("quote endpoint returned status %d", resp.StatusCode)
	}

	var wire vaultQuoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, nil, fmt.Errorf("failed to decode vault quote: %w", err)
	}
	signed, err := wire.ToSignedQuote()
	if err != nil {
		return nil, nil, err
	}

	var fillable *big.Int
	if wire.FillableSize != "" {
		fillable, _ = new(big.Int).SetString(wire.FillableSize, 10)
		if fillable == nil {
			return nil, nil, fmt.Errorf("invalid fillableSize %q", wire.FillableSize)
		}
	}
	return signed, fillable, nil
}

var _ QuoteService = (*HTTPQuoteService)(nil)
