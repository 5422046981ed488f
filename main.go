package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"

	"optionflow/config"
	"optionflow/logger"
	"optionflow/models"
	"optionflow/processor"
	"optionflow/reader/pool"
	"optionflow/reader/rfq"
	"optionflow/reader/vault"
	"optionflow/wad"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	watchlistPath := flag.String("watchlist", "config/watchlist.yml", "Path to instrument watchlist file")

	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolveConfigPath(*configPath))
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Optionflow.Name,
		"version":     cfg.Optionflow.Version,
		"environment": config.AppEnvironment(),
		"chain_id":    cfg.Chain.ID,
	}).Info("starting optionflow")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if strings.ToLower(cfg.Logging.Level) == "report" {
		logger.InitCloudWatch(os.Getenv("AWS_REGION"), "", cfg.Logging.DashboardName)
		logger.StartReport(ctx, log, 30*time.Second)
	}

	watchlist, err := config.LoadWatchlist(*watchlistPath)
	if err != nil {
		log.WithError(err).Error("failed to load instrument watchlist")
		os.Exit(1)
	}
	if len(watchlist.Instruments) == 0 && config.IsProductionLike(config.AppEnvironment()) {
		log.Error("instrument watchlist is empty")
		os.Exit(1)
	}

	chainID := big.NewInt(cfg.Chain.ID)

	rfqReader := rfq.NewReader(cfg)
	poolReader := pool.NewReader(cfg, pool.NewHTTPQuoteService(cfg))
	vaultReader := vault.NewReader(cfg, vault.NewHTTPQuoteService(cfg))

	sources := processor.Sources{}
	if cfg.Sources.RFQ.Enabled {
		if err := rfqReader.Start(ctx); err != nil {
			log.WithError(err).Warn("rfq reader failed to start")
		} else {
			sources.RFQ = rfqReader
		}
	}
	if cfg.Sources.Pool.Enabled {
		if err := poolReader.Start(ctx); err != nil {
			log.WithError(err).Warn("pool reader failed to start")
		} else {
			sources.Pool = poolReader
		}
	}
	if cfg.Sources.Vault.Enabled {
		if err := vaultReader.Start(ctx); err != nil {
			log.WithError(err).Warn("vault reader failed to start")
		} else {
			sources.Vault = vaultReader
		}
	}

	aggregator := processor.NewAggregator(cfg, sources)
	if err := aggregator.Start(ctx); err != nil {
		log.WithError(err).Error("failed to start aggregator")
		os.Exit(1)
	}

	cancels := make([]func(), 0, len(watchlist.Instruments))
	for _, inst := range watchlist.Instruments {
		req, err := streamRequest(inst, chainID)
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{
				"base":  inst.Base,
				"quote": inst.Quote,
			}).Error("invalid watchlist instrument")
			os.Exit(1)
		}

		poolID := req.Filter.PoolKey.ID()
		cancelStream, err := aggregator.StreamQuotes(req, func(q *models.SourcedQuote) {
			if q == nil {
				log.WithComponent("main").WithFields(logger.Fields{"pool": poolID}).Warn("stream delivered no quote")
				return
			}
			log.WithComponent("main").WithFields(logger.Fields{
				"pool":     poolID,
				"origin":   q.Origin.String(),
				"provider": q.Provider.Hex(),
				"price":    q.Price.String(),
				"size":     q.EffectiveSize().String(),
			}).Info("new best quote")
		})
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"pool": poolID}).Warn("failed to start quote stream")
			continue
		}
		cancels = append(cancels, cancelStream)
	}

	time.Sleep(2 * time.Second)
	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")

	log.Info("starting graceful shutdown")
	cancel()

	for _, cancelStream := range cancels {
		cancelStream()
	}

	log.Info("stopping aggregator")
	aggregator.Stop()

	if sources.RFQ != nil {
		log.Info("stopping rfq reader")
		rfqReader.Stop()
	}
	if sources.Pool != nil {
		log.Info("stopping pool reader")
		poolReader.Stop()
	}
	if sources.Vault != nil {
		log.Info("stopping vault reader")
		vaultReader.Stop()
	}

	log.Info("optionflow stopped")
}

// streamRequest converts a watchlist entry into an aggregator subscription.
func streamRequest(inst config.InstrumentConfig, chainID *big.Int) (processor.StreamRequest, error) {
	strike, err := wad.ParseDecimal(inst.Strike)
	if err != nil {
		return processor.StreamRequest{}, fmt.Errorf("invalid strike: %w", err)
	}
	size, err := wad.ParseDecimal(inst.Size)
	if err != nil {
		return processor.StreamRequest{}, fmt.Errorf("invalid size: %w", err)
	}
	var minSize *big.Int
	if inst.MinimumSize != "" {
		minSize, err = wad.ParseDecimal(inst.MinimumSize)
		if err != nil {
			return processor.StreamRequest{}, fmt.Errorf("invalid minimum_size: %w", err)
		}
	}

	return processor.StreamRequest{
		Filter: models.QuoteFilter{
			PoolKey: models.PoolKey{
				Base:          common.HexToAddress(inst.Base),
				Quote:         common.HexToAddress(inst.Quote),
				OracleAdapter: common.HexToAddress(inst.OracleAdapter),
				Strike:        strike,
				Maturity:      inst.Maturity,
				IsCallPool:    inst.IsCallPool,
			},
			Side:    models.Side(inst.Side),
			ChainID: chainID,
			Size:    size,
		},
		Size:        size,
		MinimumSize: minSize,
	}, nil
}
