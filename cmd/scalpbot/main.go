// Command scalpbot runs the tick-to-order scalping pipeline:
//
//	[WS feed] -> [ring] -> [candle builder] -> [fan-out] -> [strategy] -> [signals]
//	                                                           |
//	                              [position manager] <---------+
//	                                     |
//	                              [order manager] -> [broker gateway]
//
// Orders route to a paper broker by default; --live (or PAPER_TRADING=false)
// routes them to DhanHQ.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"scalpbotv1/config"
	"scalpbotv1/internal/bus"
	"scalpbotv1/internal/candle"
	"scalpbotv1/internal/execution"
	"scalpbotv1/internal/feed"
	"scalpbotv1/internal/indicator"
	"scalpbotv1/internal/logger"
	"scalpbotv1/internal/markethours"
	"scalpbotv1/internal/metrics"
	"scalpbotv1/internal/model"
	"scalpbotv1/internal/notification"
	"scalpbotv1/internal/position"
	"scalpbotv1/internal/ringbuf"
	"scalpbotv1/internal/risk"
	redisstore "scalpbotv1/internal/store/redis"
	"scalpbotv1/internal/strategy"
	"scalpbotv1/pkg/dhanhq"
)

func main() {
	liveFlag := flag.Bool("live", false, "route orders to the real broker (overrides PAPER_TRADING)")
	mockFeed := flag.Bool("mock-feed", false, "use the built-in random-walk tick source instead of the WS feed")
	testConn := flag.Bool("test-connection", false, "log in, fetch fund limits, and exit")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	slogger := logger.Init("scalpbot", slog.LevelInfo)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("[scalpbot] config: %v", err)
	}
	live := *liveFlag || !cfg.PaperTrading

	if *testConn {
		os.Exit(testConnection(cfg))
	}

	if live {
		if err := cfg.ValidateLive(); err != nil {
			log.Fatalf("[scalpbot] %v", err)
		}
	}

	slogger.Info("starting",
		slog.Bool("live", live),
		slog.String("instrument", cfg.IndexExchange+":"+cfg.IndexToken),
		slog.Int64("qty", cfg.Quantity),
		slog.Int("timeframe_sec", cfg.CandleTimeframeSec),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.New()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Alerting ----
	notifier := buildNotifier(cfg)

	// ---- Redis (live transport + checkpoints; optional) ----
	var writer *redisstore.Writer
	writer, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[scalpbot] WARNING: redis init failed: %v (continuing without redis)", err)
		writer = nil
	} else {
		health.CheckRedis(ctx, writer.Client())
		log.Println("[scalpbot] redis writer ready")
	}
	if writer != nil {
		health.StartLivenessChecker(ctx, writer.Client(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, 10*time.Second)
	}

	// ---- Risk ledger ----
	tradingDay := markethours.TradingDay(time.Now())
	ledger := risk.NewLedger(tradingDay, cfg.MaxDailyLoss)
	ledger.OnHalt = func(pnl int64) {
		prom.RiskHalted.Set(1)
		health.SetRiskHalted(true)
		notifier.Send(ctx, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   "Daily loss limit hit",
			Message: fmt.Sprintf("realized P&L %s, trading halted for %s", rupees(pnl), tradingDay),
		})
	}

	// ---- Strategy ----
	strat := strategy.NewDualMomentum(strategy.DualMomentumConfig{
		Qty:           cfg.Quantity,
		EMAPeriod:     cfg.EMAPeriod,
		RSIPeriod:     cfg.RSIPeriod,
		RSIOverbought: cfg.RSIOverbought,
		RSIOversold:   cfg.RSIOversold,
		MACDFast:      cfg.MACDFast,
		MACDSlow:      cfg.MACDSlow,
		MACDSignal:    cfg.MACDSignal,
		ATRPeriod:     cfg.ATRPeriod,
		SkipMinutes:   cfg.SkipMinutesAfter,
	})
	strat.OnSuppressed = func(reason string) {
		prom.SignalsSuppressed.WithLabelValues(reason).Inc()
	}

	// ---- Warm restart from checkpoint ----
	if writer != nil {
		restoreCheckpoint(ctx, writer, ledger, strat.Indicators(), tradingDay)
		if ledger.Halted() {
			prom.RiskHalted.Set(1)
			health.SetRiskHalted(true)
		}
	}

	// ---- Broker gateway ----
	var gateway execution.BrokerGateway
	var paper *execution.PaperBroker
	if live {
		client := dhanhq.New(dhanhq.Config{
			ClientID:    cfg.ClientID,
			AccessToken: cfg.AccessToken,
			PIN:         cfg.PIN,
			TOTPSecret:  cfg.TOTPSecret,
		})
		if err := client.GenerateSession(ctx); err != nil {
			log.Fatalf("[scalpbot] broker login: %v", err)
		}
		liveGW := dhanhq.NewGateway(client, dhanhq.GatewayConfig{})
		liveGW.OnCriticalAlert = func(msg string) {
			notifier.Send(ctx, notification.Alert{
				Level:   notification.AlertCritical,
				Title:   "Order polling abandoned",
				Message: msg,
			})
		}
		gateway = liveGW
		log.Println("[scalpbot] LIVE trading, orders route to DhanHQ")
	} else {
		paper = execution.NewPaperBroker(cfg.SlippagePaise)
		gateway = paper
		log.Println("[scalpbot] paper trading, orders route to the built-in simulator")
	}

	// ---- Order manager ----
	orders := execution.NewManager(execution.ManagerConfig{
		MaxOrdersPerSecond: cfg.MaxOrdersPerSecond,
		RetryLimit:         cfg.OrderRetryLimit,
	}, gateway)
	orders.OnOrderPlaced = prom.OrdersPlaced.Inc
	orders.OnOrderRetried = prom.OrdersRetried.Inc
	orders.OnOrderFilled = prom.OrdersFilled.Inc
	orders.OnOrderFailed = prom.OrdersFailed.Inc

	// ---- Position manager ----
	posmgr := position.NewManager(position.Config{
		StopLossPaise:   cfg.StopLossPaise,
		TargetPaise:     cfg.TargetPaise,
		SlippagePaise:   cfg.SlippagePaise,
		TrailActivation: cfg.TrailActivation,
		TrailDistance:   cfg.TrailDistance,
		TrailBeatsStop:  cfg.TrailBeatsStop,
	}, orders, ledger)
	posmgr.OnTrade = func(tr position.Trade) {
		prom.TradesTotal.WithLabelValues(string(tr.Reason)).Inc()
		prom.RealizedPnL.Set(float64(ledger.RealizedPnL()))
		prom.PositionQty.Set(0)
		if writer != nil {
			writer.PublishTrade(ctx, tr)
		}
		notifier.Send(ctx, notification.Alert{
			Level: notification.AlertInfo,
			Title: "Trade closed",
			Message: fmt.Sprintf("%s %d @ %s -> %s (%s) P&L %s, day %s",
				tr.Direction, tr.Qty, rupees(tr.EntryPrice), rupees(tr.ExitPrice),
				tr.Reason, rupees(tr.PnL), rupees(ledger.RealizedPnL())),
		})
	}
	posmgr.OnCriticalAlert = func(msg string) {
		notifier.Send(ctx, notification.Alert{
			Level:   notification.AlertCritical,
			Title:   "Exit order failing",
			Message: msg,
		})
	}
	strat.Halted = ledger.Halted
	strat.Flat = posmgr.Flat

	engine := strategy.NewEngine(64)
	engine.Register(strat)
	engine.OnSignal = func(sig model.Signal) {
		prom.SignalsTotal.WithLabelValues(string(sig.Direction)).Inc()
	}

	// ---- Pipeline plumbing ----
	ring := ringbuf.New(8192)
	tickCh := make(chan model.Tick, 10000)
	builderTickCh := make(chan model.Tick, 10000)
	candleCh := make(chan model.Candle, 5000)

	builder := candle.New(cfg.CandleTimeframeSec)
	builder.OnDroppedTick = prom.DroppedTicks.Inc
	builder.OnGapCandle = prom.GapCandlesTotal.Inc

	fanout := bus.New(5000)
	fanout.OnDrop = func(idx int) {
		prom.FanoutDrops.WithLabelValues(fmt.Sprintf("%d", idx)).Inc()
	}
	strategyCandleCh := fanout.Subscribe()
	var redisCandleCh <-chan model.Candle
	if writer != nil {
		redisCandleCh = fanout.Subscribe()
	}

	var lastPrice atomic.Int64
	lastPrice.Store(0)

	g, gctx := errgroup.WithContext(ctx)

	// Tick feed
	if *mockFeed {
		mock := feed.NewMock(feed.MockConfig{
			Token:      cfg.IndexToken,
			Exchange:   cfg.IndexExchange,
			StartPrice: 4_500_000,
		})
		health.SetWSConnected(true)
		g.Go(func() error { return mock.Start(gctx, ring) })
		log.Println("[scalpbot] mock feed started (random walk)")
	} else {
		ws, err := feed.NewWS(feed.WSConfig{URL: cfg.FeedWSURL})
		if err != nil {
			log.Fatalf("[scalpbot] feed: %v", err)
		}
		ws.OnReconnect = func() {
			prom.WSReconnects.Inc()
			health.SetWSConnected(true)
		}
		health.SetWSConnected(true)
		g.Go(func() error {
			err := ws.Start(gctx, ring)
			health.SetWSConnected(false)
			return err
		})
		log.Printf("[scalpbot] WS feed: %s", cfg.FeedWSURL)
	}
	g.Go(func() error { feed.Pump(gctx, ring, tickCh); return nil })

	// Tick loop: book-keeping, exit monitoring, candle ingestion.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case t, ok := <-tickCh:
				if !ok {
					return nil
				}
				prom.TicksTotal.Inc()
				health.SetLastTickTime(t.TickTS)
				lastPrice.Store(t.Price)
				if paper != nil {
					paper.UpdatePrice(t.Price)
				}
				posmgr.OnTick(gctx, t)
				select {
				case builderTickCh <- t:
				case <-gctx.Done():
					return nil
				}
			}
		}
	})

	g.Go(func() error { builder.Run(gctx, builderTickCh, candleCh); return nil })
	g.Go(func() error { fanout.Run(gctx, countCandles(gctx, candleCh, prom)); return nil })
	g.Go(func() error { engine.Run(gctx, strategyCandleCh); return nil })
	g.Go(func() error { orders.Run(gctx); return nil })

	// Signal loop: entries.
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case sig, ok := <-engine.Signals():
				if !ok {
					return nil
				}
				if writer != nil {
					writer.PublishSignal(gctx, sig)
				}
				start := time.Now()
				posmgr.HandleSignal(gctx, sig)
				if !posmgr.Flat() {
					prom.TradeLatency.Observe(time.Since(start).Seconds())
					pos := posmgr.Position()
					prom.PositionQty.Set(float64(pos.Qty * pos.Direction.SideSign()))
				}
			}
		}
	})

	if writer != nil {
		g.Go(func() error { writer.Run(gctx, redisCandleCh); return nil })
		g.Go(func() error {
			writer.RunCheckpoints(gctx, 30*time.Second, func() redisstore.Checkpoint {
				return buildCheckpoint(ledger, strat.Indicators(), posmgr)
			})
			return nil
		})
	}

	// Slow status loop: gauges, day rollover, heartbeat.
	g.Go(func() error {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		beats := 0
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				now := time.Now()
				if markethours.IsMarketOpen(now) {
					prom.MarketState.Set(1)
				} else {
					prom.MarketState.Set(0)
				}
				ledger.Roll(markethours.TradingDay(now))
				prom.RealizedPnL.Set(float64(ledger.RealizedPnL()))
				health.SetPositionState(string(posmgr.State()))
				health.SetRiskHalted(ledger.Halted())

				beats++
				if beats%12 == 0 { // once a minute
					trades, wins, pnl := ledger.Stats()
					log.Printf("[scalpbot] heartbeat: trades=%d wins=%d pnl=%s state=%s halted=%v",
						trades, wins, rupees(pnl), posmgr.State(), ledger.Halted())
				}
			}
		}
	})

	// Ringbuf overflow is a cumulative count on the ring itself.
	g.Go(func() error {
		var seen uint64
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := ring.Overflow(); n > seen {
					prom.RingBufOverflow.Add(float64(n - seen))
					seen = n
				}
			}
		}
	})

	log.Println("[scalpbot] pipeline ready")
	log.Printf("[scalpbot] %s", markethours.StatusString(time.Now()))

	// ---- Wait for shutdown ----
	select {
	case <-sigCh:
		slogger.Info("shutdown signal received")
	case <-gctx.Done():
		slogger.Info("pipeline stopped")
	}

	// Flatten before tearing the pipeline down so the exit order still has
	// a live order manager under it.
	if cfg.FlattenOnExit && !posmgr.Flat() {
		flattenCtx, flattenCancel := context.WithTimeout(context.Background(), 30*time.Second)
		log.Printf("[scalpbot] flattening open position at %s", rupees(lastPrice.Load()))
		posmgr.ForceFlatten(flattenCtx, lastPrice.Load())
		flattenCancel()
	}

	cancel()
	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Printf("[scalpbot] pipeline error: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	if writer != nil {
		writer.Close()
	}

	trades, wins, pnl := ledger.Stats()
	slogger.Info("session summary",
		slog.String("trading_day", ledger.TradingDay()),
		slog.Int("trades", trades),
		slog.Int("wins", wins),
		slog.String("realized_pnl", rupees(pnl)),
		slog.Bool("halted", ledger.Halted()),
	)
	log.Println("[scalpbot] shutdown complete.")
}

// countCandles forwards candles while counting them, keeping the fan-out
// input a plain channel.
func countCandles(ctx context.Context, in <-chan model.Candle, prom *metrics.Metrics) <-chan model.Candle {
	out := make(chan model.Candle, cap(in))
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-in:
				if !ok {
					return
				}
				prom.CandlesTotal.Inc()
				select {
				case out <- c:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}

func buildNotifier(cfg *config.Config) notification.Notifier {
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
		log.Println("[scalpbot] telegram alerts enabled")
	}
	if cfg.AlertWebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.AlertWebhookURL))
		log.Println("[scalpbot] webhook alerts enabled")
	}
	return notification.NewMulti(backends...)
}

// restoreCheckpoint rehydrates indicator and ledger state from the last
// checkpoint when it belongs to today's session.
func restoreCheckpoint(ctx context.Context, writer *redisstore.Writer, ledger *risk.Ledger,
	inds []indicator.Snapshottable, tradingDay string) {

	cp, err := writer.LoadCheckpoint(ctx)
	if err != nil {
		log.Printf("[scalpbot] checkpoint load failed: %v (cold start)", err)
		return
	}
	if cp == nil {
		log.Println("[scalpbot] no checkpoint found (cold start)")
		return
	}
	if cp.TradingDay != tradingDay {
		log.Printf("[scalpbot] checkpoint is from %s, ignoring (today %s)", cp.TradingDay, tradingDay)
		return
	}

	ledger.Restore(cp.Ledger, tradingDay)
	if cp.Position != nil {
		// The process does not re-adopt broker positions; an operator has
		// to reconcile this one by hand.
		log.Printf("[scalpbot] CRITICAL: checkpoint records an open %s %s position qty=%d entry=%d from %s; reconcile with the broker before trading",
			cp.Position.Direction, cp.Position.Token, cp.Position.Qty, cp.Position.EntryPrice,
			cp.SavedAt.Format(time.RFC3339))
	}
	if len(cp.Indicators) != len(inds) {
		log.Printf("[scalpbot] checkpoint has %d indicator snapshots, expected %d; indicators start cold",
			len(cp.Indicators), len(inds))
		return
	}
	for i, snap := range cp.Indicators {
		if err := inds[i].Restore(snap); err != nil {
			log.Printf("[scalpbot] indicator restore failed: %v; indicators start cold", err)
			return
		}
	}
	log.Printf("[scalpbot] warm restart from checkpoint saved %s", cp.SavedAt.Format(time.RFC3339))
}

func buildCheckpoint(ledger *risk.Ledger, inds []indicator.Snapshottable, posmgr *position.Manager) redisstore.Checkpoint {
	snaps := make([]indicator.Snapshot, 0, len(inds))
	for _, ind := range inds {
		snaps = append(snaps, ind.Snapshot())
	}
	cp := redisstore.Checkpoint{
		TradingDay: ledger.TradingDay(),
		Indicators: snaps,
		Ledger:     ledger.Snapshot(),
		Version:    1,
	}
	if !posmgr.Flat() {
		pos := posmgr.Position()
		cp.Position = &pos
	}
	return cp
}

// testConnection logs in and probes fund limits, exiting non-zero on failure.
func testConnection(cfg *config.Config) int {
	if err := cfg.ValidateLive(); err != nil {
		log.Printf("[scalpbot] %v", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client := dhanhq.New(dhanhq.Config{
		ClientID:    cfg.ClientID,
		AccessToken: cfg.AccessToken,
		PIN:         cfg.PIN,
		TOTPSecret:  cfg.TOTPSecret,
	})
	if err := client.GenerateSession(ctx); err != nil {
		log.Printf("[scalpbot] login failed: %v", err)
		return 1
	}
	balance, err := client.FundLimits(ctx)
	if err != nil {
		log.Printf("[scalpbot] fund limits failed: %v", err)
		return 1
	}
	log.Printf("[scalpbot] connection OK, available balance ₹%.2f", balance)
	return 0
}

func rupees(paise int64) string {
	return fmt.Sprintf("₹%.2f", float64(paise)/100)
}
