package main

import (
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/quantfabric/tradesrv/internal/config"
	"github.com/quantfabric/tradesrv/internal/database"
	"github.com/quantfabric/tradesrv/internal/dispatch"
	"github.com/quantfabric/tradesrv/internal/fees"
	"github.com/quantfabric/tradesrv/internal/flowctrl"
	"github.com/quantfabric/tradesrv/internal/gateway"
	"github.com/quantfabric/tradesrv/internal/order"
	"github.com/quantfabric/tradesrv/internal/tdsrv"
	"github.com/quantfabric/tradesrv/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	if err != nil {
		log.Fatalf("create logger: %v", err)
	}
	defer zapLogger.Sync()

	db, err := database.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		zapLogger.Fatal("open database", zap.Error(err))
	}
	exec := database.NewAsyncExecutor(db, cfg.Database.QueueDepth, zapLogger)
	repo := database.NewRepository(db, exec)

	schedule, err := buildFeeSchedule(cfg.Fees)
	if err != nil {
		zapLogger.Fatal("build fee schedule", zap.Error(err))
	}
	targets, err := buildTargetStates(cfg.FlowCtrl)
	if err != nil {
		zapLogger.Fatal("parse flow ctrl targets", zap.Error(err))
	}

	srv, err := tdsrv.New(tdsrv.Options{
		Ledger:  order.NewLedger(zapLogger),
		Repo:    repo,
		Gateway: gateway.NewPaper(zapLogger),
		Fees:    schedule,
		Targets: targets,
		Dispatch: dispatch.Config{
			Workers:      cfg.Dispatch.Workers,
			QueueDepth:   cfg.Dispatch.QueueDepth,
			TickInterval: cfg.Dispatch.TickInterval,
		},
		ResyncInterval:  cfg.Resync.Interval,
		ResyncOlderThan: cfg.Resync.OlderThan,
	}, zapLogger)
	if err != nil {
		zapLogger.Fatal("create trading server", zap.Error(err))
	}
	if err := srv.Start(); err != nil {
		zapLogger.Fatal("start trading server", zap.Error(err))
	}
	zapLogger.Info("trading server started",
		zap.Int("workers", cfg.Dispatch.Workers),
		zap.String("db", cfg.Database.Driver))

	if cfg.Metrics.Addr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.Metrics.Addr, mux); err != nil {
				zapLogger.Error("metrics server", zap.Error(err))
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLogger.Info("shutting down")
	srv.Stop()
	exec.Close()
	zapLogger.Info("shutdown complete")
}

func buildFeeSchedule(cfg config.FeesConfig) (*fees.Schedule, error) {
	defRate, err := decimal.NewFromString(cfg.DefaultRate)
	if err != nil {
		return nil, err
	}
	var rates []fees.Rate
	for _, rc := range cfg.Rates {
		rate, err := decimal.NewFromString(rc.FeeRate)
		if err != nil {
			return nil, err
		}
		rates = append(rates, fees.Rate{
			MarketCode: parseMarketCode(rc.MarketCode),
			SymbolType: parseSymbolType(rc.SymbolType),
			SymbolCode: rc.SymbolCode,
			FeeRate:    rate,
		})
	}
	return fees.NewSchedule(defRate, rates), nil
}

func buildTargetStates(cfg config.FlowCtrlConfig) (flowctrl.TargetStates, error) {
	if len(cfg.Targets) == 0 {
		return nil, nil
	}
	states := make(flowctrl.TargetStates, len(cfg.Targets))
	for name, enabled := range cfg.Targets {
		target, err := flowctrl.ParseTarget(name)
		if err != nil {
			return nil, err
		}
		states[target] = enabled
	}
	return states, nil
}

func parseMarketCode(s string) order.MarketCode {
	for m := order.MarketOkx; m <= order.MarketSZSE; m++ {
		if m.String() == s {
			return m
		}
	}
	return 0
}

func parseSymbolType(s string) order.SymbolType {
	for t := order.SymbolTypeSpot; t <= order.SymbolTypeCNStock; t++ {
		if t.String() == s {
			return t
		}
	}
	return 0
}
