// ====================================
// File: cmd/arb/main.go
// ====================================
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-arb/internal/arbitrage"
	"github.com/rovshanmuradov/solana-arb/internal/bot"
	"github.com/rovshanmuradov/solana-arb/internal/config"
	"github.com/rovshanmuradov/solana-arb/internal/executor"
	"github.com/rovshanmuradov/solana-arb/internal/journal"
	"github.com/rovshanmuradov/solana-arb/internal/logger"
	"github.com/rovshanmuradov/solana-arb/internal/oracle"
	"github.com/rovshanmuradov/solana-arb/internal/pools"
	"github.com/rovshanmuradov/solana-arb/internal/solbc"
	"github.com/rovshanmuradov/solana-arb/internal/wallet"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	// Недопустимая стартовая конфигурация — единственный фатальный класс ошибок.
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(&logger.Config{
		LogFile:     cfg.LogFile,
		MaxSize:     100,
		MaxAge:      7,
		MaxBackups:  3,
		Compress:    true,
		Development: cfg.DebugLogging,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.Error("Engine stopped with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
	_ = log.Sync()
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := solbc.NewClient(cfg.RPCList[0], cfg.Retries, cfg.RPCTimeout(), log.Logger)

	wallets, err := wallet.LoadWallets(cfg.WalletsFile)
	if err != nil {
		return fmt.Errorf("load wallets: %w", err)
	}
	name, signer := wallet.Primary(wallets)
	log.Info("💼 Wallet loaded",
		zap.String("name", name),
		zap.String("address", signer.Address().String()))

	prices := oracle.NewReferencePrices(priceSources(cfg), 0, 0, log.Logger)

	registry := pools.NewRegistry()
	candidates := make([]pools.Candidate, 0, len(cfg.WatchedPools))
	for _, addr := range cfg.WatchedPools {
		candidates = append(candidates, pools.Candidate{
			Address: solana.MustPublicKeyFromBase58(addr),
		})
	}
	venues := make([]pools.Venue, 0, len(cfg.Venues))
	for _, venue := range cfg.Venues {
		venues = append(venues, pools.Venue{
			Program: solana.MustPublicKeyFromBase58(venue.ProgramID),
			FeeBps:  venue.FeeBps,
		})
	}
	provider := pools.NewProvider(client, prices, registry, candidates, venues, cfg.MinTVLUSD, cfg.RefreshWorkers, log.Logger)

	jupiter := oracle.NewJupiterClient(cfg.JupiterURL, cfg.RPCTimeout(), log.Logger)
	quotes := oracle.NewOracle(jupiter, registry, cfg.Execution.SlippageBps, cfg.Staleness(), log.Logger)

	scanner := arbitrage.NewScanner(cfg.MaxHops, cfg.Execution.NetworkFeeLamports, log.Logger)
	guard := arbitrage.NewGuard(cfg.Cooldown(), cfg.MaxSameTokenRepeats, log.Logger)
	risk := arbitrage.NewFilter(cfg.Risk, log.Logger)

	trades, err := journal.New(cfg.JournalFile, 5*time.Second, log.Logger)
	if err != nil {
		return fmt.Errorf("open trade journal: %w", err)
	}

	relay := executor.NewJitoRelay(cfg.Execution.JitoURL, cfg.RPCTimeout(), log.Logger)
	sink := executor.MultiSink{risk, trades}
	exec := executor.NewExecutor(client, quotes, jupiter, signer, relay, sink, guard, cfg.Execution, log.Logger)

	orchestrator := bot.NewOrchestrator(cfg, log, provider, registry, scanner, guard, risk, exec)

	shutdown := bot.NewShutdownHandler(log.Logger, 30*time.Second)
	shutdown.Add("trade-journal", trades)
	shutdown.AddFunc("logger", log.Sync)

	runErr := orchestrator.Run(ctx)

	orchestrator.Shutdown()
	shutdown.Shutdown(context.Background())
	return runErr
}

// priceSources строит источники референсных цен из конфигурации.
func priceSources(cfg *config.Config) []oracle.PriceSource {
	sources := make([]oracle.PriceSource, 0, len(cfg.PriceSources))
	for i, raw := range cfg.PriceSources {
		name := fmt.Sprintf("source-%d", i+1)
		if parsed, err := url.Parse(raw); err == nil && parsed.Host != "" {
			name = parsed.Host
		}
		sources = append(sources, oracle.NewHTTPPriceSource(name, raw, cfg.RPCTimeout()))
	}
	return sources
}
