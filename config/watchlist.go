package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// InstrumentConfig identifies one option pool to stream together with the
// trade parameters used when ranking its quotes. Strike, size and
// minimum_size are 18-decimal fixed point strings; maturity is a unix
// timestamp in seconds.
type InstrumentConfig struct {
	Base          string `yaml:"base"`
	Quote         string `yaml:"quote"`
	OracleAdapter string `yaml:"oracle_adapter"`
	Strike        string `yaml:"strike"`
	Maturity      int64  `yaml:"maturity"`
	IsCallPool    bool   `yaml:"is_call_pool"`
	Side          string `yaml:"side"`
	Size          string `yaml:"size"`
	MinimumSize   string `yaml:"minimum_size"`
}

// Watchlist represents the full set of instruments to stream.
type Watchlist struct {
	Instruments []InstrumentConfig `yaml:"instruments"`
}

// LoadWatchlist loads the instrument watchlist from the given path.
func LoadWatchlist(path string) (*Watchlist, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read watchlist file: %w", err)
	}
	var cfg Watchlist
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse watchlist file: %w", err)
	}
	for i, inst := range cfg.Instruments {
		if inst.Base == "" || inst.Quote == "" {
			return nil, fmt.Errorf("instrument %d: base and quote are required", i)
		}
		if inst.Maturity <= 0 {
			return nil, fmt.Errorf("instrument %d: maturity must be greater than 0", i)
		}
		if inst.Side != "buy" && inst.Side != "sell" {
			return nil, fmt.Errorf("instrument %d: side must be buy or sell", i)
		}
	}
	return &cfg, nil
}
