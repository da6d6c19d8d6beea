package orderflow

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"marginflow/config"
	"marginflow/native/bank"
	"marginflow/native/flashloan"
	"marginflow/native/gateway"
	"marginflow/native/orders"
	"marginflow/native/router"
	"marginflow/native/trigger"
	"marginflow/native/view"
	"marginflow/observability/logging"
	"marginflow/settlement"
	orderstore "marginflow/storage/orders"
)

// Main runs the watcher daemon using the provided command line flags.
func Main() error {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/orderflow/config.yaml", "path to orderflowd config")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup("orderflowd", cfg.Environment, logging.Options{
		FilePath:   cfg.Log.FilePath,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		Level:      parseLevel(cfg.Log.Level),
	})

	ledger := bank.NewLedger()
	gateways := gateway.NewRegistry()
	providers := flashloan.NewRegistry()
	views := view.NewRouter()

	engine, err := router.NewEngine(common.HexToAddress(cfg.RouterAddress), ledger, gateways, providers,
		router.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}
	triggers, err := trigger.NewEngine(views, ledger)
	if err != nil {
		return fmt.Errorf("build trigger engine: %w", err)
	}

	store, err := orderstore.NewStore(cfg.DatabasePath, nil)
	if err != nil {
		return fmt.Errorf("open order store: %w", err)
	}
	defer func() { _ = store.Close() }()

	domain := settlement.Domain{
		Name:              cfg.Settlement.DomainName,
		Version:           cfg.Settlement.DomainVersion,
		ChainID:           new(big.Int).SetUint64(cfg.Settlement.ChainID),
		VerifyingContract: common.HexToAddress(cfg.Settlement.VerifyingContract),
	}
	manager, err := orders.NewManager(store, triggers, engine, domain, common.HexToAddress(cfg.Trampoline),
		orders.WithValidity(cfg.Validity.Duration),
		orders.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build order manager: %w", err)
	}

	server, err := New(Config{Service: manager, AuthToken: cfg.AuthToken, Logger: logger})
	if err != nil {
		return fmt.Errorf("build server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	stopCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		logger.Info("orderflowd listening", "addr", cfg.ListenAddress)
		errs <- httpServer.ListenAndServe()
	}()

	select {
	case <-stopCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		return nil
	case err := <-errs:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	}
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
