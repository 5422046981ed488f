package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	appconfig "optionflow/config"
	"optionflow/models"
)

// HTTPQuoteService fetches pool quotes from a quote endpoint speaking the
// relay's JSON shapes.
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
		url: cfg.Sources.Pool.URL,
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

func (s *HTTPQuoteService) BestQuote(ctx context.Context, filter models.QuoteFilter) (*models.SignedQuote, error) {
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
		return nil, fmt.Errorf("failed to marshal quote request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pool quote: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote endpoint returned status %d", resp.StatusCode)
	}

	var wire models.QuoteJSON
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("failed to decode pool quote: %w", err)
	}
	return wire.ToSignedQuote()
}

var _ QuoteService = (*HTTPQuoteService)(nil)
