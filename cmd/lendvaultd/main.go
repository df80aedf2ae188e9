package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"lendvault/config"
	"lendvault/crypto"
	"lendvault/gateway"
	"lendvault/native/bank"
	"lendvault/native/collateral"
	"lendvault/native/lending"
	"lendvault/native/oracle"
	"lendvault/observability/logging"
	"lendvault/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to lendvaultd config (TOML)")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("LENDVAULT_ENV"))
	cfg := config.Default()
	if cfgPath != "" {
		loaded, err := config.Load(cfgPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		cfg = loaded
	}
	if env == "" {
		env = cfg.Environment
	}
	logger := logging.Setup("lendvaultd", env)

	var db storage.Database
	if cfg.DataDir == "" {
		logger.Warn("no data directory configured, using in-memory storage")
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			log.Fatalf("open database at %s: %v", cfg.DataDir, err)
		}
		db = ldb
	}
	defer db.Close()

	poolAddr := treasuryAddress(cfg.PoolAddress, 0x01)
	collateralAddr := treasuryAddress(cfg.CollateralAddress, 0x02)

	prices := oracle.NewAggregator(cfg.Oracle.Priority, cfg.Oracle.MaxQuoteAge())
	manual := oracle.NewManualOracle()
	for symbol, rate := range cfg.Oracle.StaticQuotes {
		if err := manual.SetDecimal(symbol, rate, cfg.Lending.PriceDecimals, time.Now()); err != nil {
			log.Fatalf("static quote %s: %v", symbol, err)
		}
	}
	prices.Register("manual", manual)
	if endpoint := strings.TrimSpace(cfg.Oracle.Endpoint); endpoint != "" {
		prices.Register("http", oracle.NewHTTPFeed(nil, endpoint, cfg.Lending.PriceDecimals))
	}

	ledger := bank.NewLedger(db)
	pauses := cfg.Pauses()

	engine := lending.NewEngine(cfg.Lending)
	engine.SetState(lending.NewLedgerStore(db))
	if err := engine.SetPriceSource(prices); err != nil {
		log.Fatalf("configure valuation: %v", err)
	}
	engine.SetVault(bank.NewPoolVault(ledger, poolAddr))
	engine.SetPauses(pauses)

	col := collateral.NewModule(db)
	col.SetPricer(engine.Valuator())
	col.SetVault(bank.NewPoolVault(ledger, collateralAddr))
	col.SetRiskView(engine)
	col.SetCache(engine)
	col.SetPauses(pauses)

	engine.SetCollateral(col)

	server := gateway.NewServer(engine, col, logger)
	httpServer := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("lendvaultd listening", "address", cfg.ListenAddress)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "err", err)
	}
}

// treasuryAddress decodes the configured bech32 address or derives a fixed
// development address when none is configured.
func treasuryAddress(configured string, suffix byte) crypto.Address {
	if trimmed := strings.TrimSpace(configured); trimmed != "" {
		addr, err := crypto.DecodeAddress(trimmed)
		if err != nil {
			log.Fatalf("invalid treasury address %q: %v", trimmed, err)
		}
		return addr
	}
	raw := make([]byte, 20)
	raw[len(raw)-1] = suffix
	return crypto.NewAddress(crypto.TreasuryPrefix, raw)
}
