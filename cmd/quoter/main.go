// quoter 单标的做市进程。paper 模式内置模拟场所做 dry-run，
// live 模式接真实交易所 REST + 回报推送流。
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"market-quoter-go/config"
	"market-quoter-go/engine"
	"market-quoter-go/gateway"
	"market-quoter-go/inventory"
	"market-quoter-go/logger"
	"market-quoter-go/metrics"
	"market-quoter-go/order"
	"market-quoter-go/risk"
	"market-quoter-go/state"
	"market-quoter-go/strategy"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置文件")
	paperMid := flag.Float64("paperMid", 100, "paper 模式初始中间价")
	paperBase := flag.Float64("paperBase", 10, "paper 模式初始 base 资金")
	paperQuote := flag.Float64("paperQuote", 100000, "paper 模式初始 quote 资金")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	logg, err := logger.New(cfg.Log)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logg.Sync()

	monitor := metrics.New("quoter")
	addr := cfg.MetricsAddr
	if *metricsAddr != "" {
		addr = *metricsAddr
	}
	if addr != "" {
		go serveMetrics(addr, monitor, logg)
	}

	var store *state.Store
	if cfg.StatePath != "" {
		if dir := filepath.Dir(cfg.StatePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				logg.Fatal("create state dir", zap.Error(err))
			}
		}
		store, err = state.Open(cfg.StatePath)
		if err != nil {
			logg.Fatal("open state store", zap.Error(err))
		}
		defer store.Close()
	}

	gen, err := strategy.NewGenerator(cfg.StrategyParams())
	if err != nil {
		logg.Fatal("strategy params", zap.Error(err))
	}
	gate := risk.NewGate(cfg.GateConfig())
	breaker := risk.NewBreaker(cfg.Risk.MinSpreadPct, cfg.Risk.MaxSpreadPct)
	tracker := inventory.NewTracker(cfg.Instrument.Symbol)
	inst := cfg.InstrumentSpec()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		market gateway.MarketData
		venue  order.Exchange
		fills  <-chan gateway.FillEvent
	)
	switch cfg.Gateway.Mode {
	case "", "paper":
		half := *paperMid * 0.0005
		paper := gateway.NewPaperVenue(inst, *paperBase, *paperQuote, gateway.Book{
			Bids: []gateway.PriceLevel{{Price: *paperMid - half, Quantity: 10}},
			Asks: []gateway.PriceLevel{{Price: *paperMid + half, Quantity: 10}},
		}, logg)
		paper.Drive(ctx, time.Second, 0.05)
		market, venue, fills = paper, paper, paper.Fills()
		logg.Info("paper venue ready",
			zap.Float64("mid", *paperMid),
			zap.Float64("base", *paperBase),
			zap.Float64("quote", *paperQuote))
	case "live":
		rest := &gateway.RESTClient{
			BaseURL:    cfg.Gateway.RestURL,
			APIKey:     cfg.Gateway.APIKey,
			Secret:     cfg.Gateway.APISecret,
			HTTPClient: gateway.NewDefaultHTTPClient(),
			Limiter:    newLimiter(cfg),
		}
		stream := gateway.NewFillStream(cfg.Gateway.WsURL, logg)
		go func() {
			if err := stream.Run(ctx); err != nil && ctx.Err() == nil {
				logg.Error("fill stream terminated", zap.Error(err))
			}
		}()
		market, venue, fills = rest, rest, stream.Events()
	}

	executor := order.NewExecutor(inst.Symbol, venue, newLimiter(cfg), logg)
	loop, err := engine.New(
		engine.Config{
			Instrument:   inst,
			TickInterval: cfg.TickInterval(),
			Depth:        5,
		},
		engine.Components{
			Market:    market,
			Executor:  executor,
			Generator: gen,
			Refresh:   cfg.RefreshPolicy(),
			Gate:      gate,
			Breaker:   breaker,
			Inventory: tracker,
			Skew:      cfg.SkewSpec(),
			Fills:     fills,
			Store:     store,
			Monitor:   monitor,
			Logger:    logg,
		},
	)
	if err != nil {
		logg.Fatal("build engine", zap.Error(err))
	}
	if err := loop.Start(ctx); err != nil {
		logg.Fatal("start engine", zap.Error(err))
	}

	watcher, err := config.NewWatcher(*cfgPath, cfg, 2*time.Second, func(next config.AppConfig) {
		if err := gen.SetParams(next.StrategyParams()); err != nil {
			logg.Error("apply strategy params", zap.Error(err))
			return
		}
		gate.SetConfig(next.GateConfig())
		loop.SetRefreshPolicy(next.RefreshPolicy())
		loop.SetSkew(next.SkewSpec())
		logg.Info("runtime parameters applied")
	}, logg)
	if err != nil {
		logg.Warn("config hot reload disabled", zap.Error(err))
	} else {
		defer watcher.Close()
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logg.Info("shutting down", zap.String("signal", sig.String()))
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	if err := loop.Stop(stopCtx); err != nil {
		logg.Error("shutdown incomplete", zap.Error(err))
		os.Exit(1)
	}
}

func newLimiter(cfg config.AppConfig) *gateway.TokenBucketLimiter {
	rate := cfg.Gateway.RequestsPerSecond
	if rate <= 0 {
		rate = 5
	}
	burst := cfg.Gateway.Burst
	if burst <= 0 {
		burst = 10
	}
	return gateway.NewTokenBucketLimiter(rate, burst)
}

func serveMetrics(addr string, m *metrics.Monitor, logg *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	logg.Info("metrics listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		logg.Warn("metrics server stopped", zap.Error(err))
	}
}
