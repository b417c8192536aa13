package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"robotrader/internal/config"
	"robotrader/internal/funds"
	"robotrader/internal/intraday"
	"robotrader/internal/logger"
	"robotrader/internal/market"
	"robotrader/internal/orders"
	"robotrader/internal/scheduler"
	"robotrader/internal/store"
	"robotrader/internal/trading"
	"robotrader/internal/universe"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Notifier matches the async notification surface the engine publishes to.
type Notifier interface {
	Notify(title, message string)
}

// Engine orchestrates the full trading loop: universe sync, data refresh,
// decisions, order execution and reconciliation.
type Engine struct {
	cfg *config.Config

	src market.Source
	svc orders.Service

	session     market.Session
	manager     *trading.Manager
	ledger      *funds.Ledger
	registry    *intraday.Registry
	refresher   *intraday.Refresher
	bootstrap   *intraday.Bootstrapper
	coordinator *orders.Coordinator
	watchlist   *universe.Watchlist
	journal     *store.Store
	notifier    Notifier
	decider     Decider

	liquidatedOn string

	nowFn func() time.Time
}

// Option overrides a default engine dependency.
type Option func(*Engine)

// WithDecider replaces the default rule-based decision layer.
func WithDecider(d Decider) Option {
	return func(e *Engine) { e.decider = d }
}

// WithNotifier attaches a notification sink.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithJournal attaches the trade journal.
func WithJournal(j *store.Store) Option {
	return func(e *Engine) { e.journal = j }
}

// WithWatchlist attaches the hot-reloading universe file.
func WithWatchlist(w *universe.Watchlist) Option {
	return func(e *Engine) { e.watchlist = w }
}

// New builds an engine over a market data source and an order service (in
// production both are the brokerage client).
func New(cfg *config.Config, src market.Source, svc orders.Service, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine: nil config")
	}
	if src == nil || svc == nil {
		return nil, errors.New("engine: market source and order service are required")
	}

	session := market.DefaultSession
	manager := trading.NewManager(
		time.Duration(cfg.Trading.BuyCooldownMinutes)*time.Minute,
		cfg.Trading.DailyReentryLimit,
	)
	ledger := funds.NewLedger(
		decimal.NewFromFloat(cfg.Trading.InitialCapital),
		cfg.Trading.PerStockPositionRatio,
		cfg.Trading.MaxTotalInvestmentRatio,
	)
	registry := intraday.NewRegistry(cfg.Data.MaxTrackedStocks)
	bootstrap := intraday.NewBootstrapper(src, session)
	reconciler := intraday.NewReconciler(src, session, cfg.Data.ReconcileLookback)
	refresher := intraday.NewRefresher(src, registry, session, reconciler, bootstrap,
		cfg.Data.RecentWindowMinutes, cfg.Data.CallsPerStock,
		cfg.Data.APICallCeilingPerSecond, cfg.Data.TargetRefreshSeconds)

	e := &Engine{
		cfg:       cfg,
		src:       src,
		svc:       svc,
		session:   session,
		manager:   manager,
		ledger:    ledger,
		registry:  registry,
		refresher: refresher,
		bootstrap: bootstrap,
		decider:   RuleDecider{},
		nowFn:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.coordinator = orders.NewCoordinator(svc, manager, ledger, e.journalOrNil(), notifierOrNil(e.notifier),
		time.Duration(cfg.Trading.OrderTimeoutSeconds)*time.Second)
	return e, nil
}

func (e *Engine) journalOrNil() orders.Journal {
	if e.journal == nil {
		return nil
	}
	return e.journal
}

func notifierOrNil(n Notifier) orders.Notifier {
	if n == nil {
		return nil
	}
	return n
}

// Manager exposes the state machine for the status API.
func (e *Engine) Manager() *trading.Manager { return e.manager }

// Ledger exposes the capital ledger for the status API.
func (e *Engine) Ledger() *funds.Ledger { return e.ledger }

// Registry exposes the intraday data registry for the status API.
func (e *Engine) Registry() *intraday.Registry { return e.registry }

// Coordinator exposes the order coordinator for the status API.
func (e *Engine) Coordinator() *orders.Coordinator { return e.coordinator }

// Run blocks until ctx is cancelled or a loop fails fatally.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.rehydrate(); err != nil {
		return fmt.Errorf("engine: rehydrate: %w", err)
	}

	if e.watchlist != nil {
		e.syncUniverse(ctx, e.watchlist.Snapshot())
		e.watchlist.OnChange(func(snap universe.Snapshot) {
			e.syncUniverse(ctx, snap)
		})
	}

	group, gctx := errgroup.WithContext(ctx)

	refreshSched := scheduler.NewIntervalScheduler(gctx, "refresh",
		time.Duration(e.cfg.Data.RefreshIntervalSeconds)*time.Second)
	refreshSched.RunImmediately = true
	group.Go(func() error {
		refreshSched.Start(func() { e.refreshCycle(gctx) })
		return nil
	})

	pollSched := scheduler.NewIntervalScheduler(gctx, "orders",
		time.Duration(e.cfg.Trading.OrderPollSeconds)*time.Second)
	group.Go(func() error {
		pollSched.Start(func() {
			_ = e.coordinator.Poll(gctx)
			e.coordinator.CheckTimeouts(gctx)
		})
		return nil
	})

	decideSched := scheduler.NewIntervalScheduler(gctx, "decide",
		time.Duration(e.cfg.Trading.DecisionIntervalSeconds)*time.Second)
	group.Go(func() error {
		decideSched.Start(func() { e.decideAll(gctx) })
		return nil
	})

	if e.cfg.Trading.EODLiquidation {
		eodSched := scheduler.NewIntervalScheduler(gctx, "eod", time.Minute)
		group.Go(func() error {
			eodSched.Start(func() { e.eodSweep(gctx) })
			return nil
		})
	}

	logger.InfoBlock(fmt.Sprintf(
		"engine started\ncapital=%s\nmax_stocks=%d\nrefresh=%ds\norder_timeout=%ds",
		e.ledger.Snapshot().Total,
		e.cfg.Data.MaxTrackedStocks,
		e.cfg.Data.RefreshIntervalSeconds,
		e.cfg.Trading.OrderTimeoutSeconds,
	))
	return group.Wait()
}

// rehydrate rebuilds open positions from the journal after a restart. Each
// restored position routes through a reserve-confirm pair so the ledger's
// conservation identity holds without a special restore path.
func (e *Engine) rehydrate() error {
	if e.journal == nil {
		return nil
	}
	open, err := e.journal.OpenTrades()
	if err != nil {
		return err
	}
	for _, t := range open {
		meta := store.DecodeMetadata(t)
		if err := e.manager.Restore(t.Code, t.Name, t.Quantity, t.BuyPrice, meta); err != nil {
			logger.Warnf("engine: restore %s: %v", t.Code, err)
			continue
		}
		if _, err := e.registry.Add(t.Code); err != nil {
			logger.Warnf("engine: track restored %s: %v", t.Code, err)
		}
		amount := decimal.NewFromInt(t.Quantity).Mul(decimal.NewFromFloat(t.BuyPrice))
		id := "rehydrate-" + uuid.NewString()
		if err := e.ledger.Reserve(id, amount); err != nil {
			return fmt.Errorf("restore %s: %w", t.Code, err)
		}
		if err := e.ledger.Confirm(id, amount); err != nil {
			return fmt.Errorf("restore %s: %w", t.Code, err)
		}
	}
	if len(open) > 0 {
		logger.Infof("engine: rehydrated %d open positions", len(open))
	}
	return nil
}

// syncUniverse reconciles the tracked set against a watchlist generation.
// Stocks holding positions or in-flight orders are never dropped on removal.
func (e *Engine) syncUniverse(ctx context.Context, snap universe.Snapshot) {
	logger.Infof("engine: syncing universe v%d (%d stocks)", snap.Version, len(snap.Entries))

	wanted := make(map[string]bool, len(snap.Entries))
	for _, entry := range snap.Entries {
		wanted[entry.Code] = true
		if err := e.manager.Select(entry.Code, entry.Name, entry.Reason); err != nil {
			logger.Warnf("engine: select %s: %v", entry.Code, err)
			continue
		}
		rec, err := e.registry.Add(entry.Code)
		if err != nil {
			logger.Warnf("engine: track %s: %v", entry.Code, err)
			continue
		}
		if !rec.Bootstrapped() {
			if err := e.bootstrap.Bootstrap(ctx, rec); err != nil {
				logger.Errorf("engine: %v", err)
				e.manager.MarkFailed(entry.Code, "bootstrap failed")
			}
		}
	}

	for _, code := range e.registry.Codes() {
		if wanted[code] {
			continue
		}
		view, ok := e.manager.Get(code)
		if ok && (view.State != trading.StateSelected && view.State != trading.StateFailed) {
			continue
		}
		e.registry.Remove(code)
		logger.Infof("engine: %s dropped from universe", code)
	}
}

// refreshCycle runs one data refresh pass and raises an alert when more than
// half the tracked stocks failed to refresh.
func (e *Engine) refreshCycle(ctx context.Context) {
	report := e.refresher.RefreshAll(ctx)
	if report.Total > 0 && report.Failed*2 > report.Total {
		logger.Errorf("engine: refresh quality degraded, %d/%d stocks failed", report.Failed, report.Total)
		if e.notifier != nil {
			e.notifier.Notify("Data Quality Degraded",
				fmt.Sprintf("%d of %d stocks failed to refresh", report.Failed, report.Total))
		}
	}
}

// decideAll runs one decision pass over every eligible stock.
func (e *Engine) decideAll(ctx context.Context) {
	if !e.session.IsOpen(e.nowFn()) {
		return
	}

	for _, v := range append(e.manager.ByState(trading.StateSelected), e.manager.ByState(trading.StateCompleted)...) {
		rec, ok := e.registry.Get(v.Code)
		if !ok {
			continue
		}
		bars, err := rec.Combined(e.cfg.Data.MinBars)
		if err != nil {
			logger.Debugf("engine: %s skipped: %v", v.Code, err)
			continue
		}
		if buy, reason := e.decider.EvaluateBuy(v, bars, rec.Snapshot()); buy {
			if err := e.ExecuteBuy(ctx, v.Code, reason); err != nil {
				logger.Warnf("engine: buy %s: %v", v.Code, err)
			}
		}
	}

	for _, v := range append(e.manager.ByState(trading.StatePositioned), e.manager.ByState(trading.StateSellCandidate)...) {
		rec, ok := e.registry.Get(v.Code)
		if !ok {
			continue
		}
		snap := rec.Snapshot()
		e.manager.UpdateCurrentPrice(v.Code, snap.Price)

		bars, err := rec.Combined(0)
		if err != nil {
			continue
		}
		if sell, reason := e.decider.EvaluateSell(v, bars, snap); sell {
			if err := e.manager.MarkSellCandidate(v.Code, reason); err != nil {
				logger.Warnf("engine: mark sell %s: %v", v.Code, err)
				continue
			}
			if err := e.ExecuteSell(ctx, v.Code, false); err != nil {
				logger.Warnf("engine: sell %s: %v", v.Code, err)
			}
		}
	}
}

// ExecuteBuy sizes, reserves and submits a buy for the stock. Every failure
// path unwinds both the reservation and the state transition.
func (e *Engine) ExecuteBuy(ctx context.Context, code, reason string) error {
	rec, ok := e.registry.Get(code)
	if !ok {
		return intraday.ErrUnknownCode
	}
	price := rec.Snapshot().Price
	if price <= 0 {
		return fmt.Errorf("engine: no quote for %s", code)
	}

	budget := e.ledger.MaxBuyAmount()
	qty := budget.Div(decimal.NewFromFloat(price)).IntPart()
	if qty <= 0 {
		return fmt.Errorf("engine: budget %s buys zero shares of %s at %.0f", budget, code, price)
	}
	amount := decimal.NewFromInt(qty).Mul(decimal.NewFromFloat(price))

	clientID := uuid.NewString()
	if err := e.ledger.Reserve(clientID, amount); err != nil {
		return err
	}
	if err := e.manager.BeginBuy(code, clientID); err != nil {
		if cerr := e.ledger.Cancel(clientID); cerr != nil {
			logger.Errorf("engine: unwinding reservation %s: %v", clientID, cerr)
		}
		return err
	}

	brokerID, err := e.svc.PlaceBuy(ctx, code, qty, price)
	if err != nil {
		if aerr := e.manager.AbortBuy(code, "submission failed"); aerr != nil {
			logger.Errorf("engine: unwinding buy state for %s: %v", code, aerr)
		}
		if cerr := e.ledger.Cancel(clientID); cerr != nil {
			logger.Errorf("engine: unwinding reservation %s: %v", clientID, cerr)
		}
		return fmt.Errorf("engine: place buy %s: %w", code, err)
	}

	e.manager.UpdateOrderID(code, brokerID)
	e.coordinator.Track(orders.Order{
		BrokerID: brokerID,
		ClientID: clientID,
		Code:     code,
		Side:     orders.SideBuy,
		Quantity: qty,
		Price:    price,
	})
	logger.Infof("engine: buy submitted for %s (%d @ %.0f): %s", code, qty, price, reason)
	return nil
}

// ExecuteSell submits a sell for the full open position. Sells carry no
// funds reservation; proceeds settle through the fill path.
func (e *Engine) ExecuteSell(ctx context.Context, code string, atMarket bool) error {
	view, ok := e.manager.Get(code)
	if !ok {
		return trading.ErrUnknownStock
	}
	if view.Position == nil {
		return trading.ErrNoPosition
	}
	qty := view.Position.Quantity
	price := view.Position.CurrentPrice
	if price <= 0 {
		price = view.Position.AvgPrice
	}

	clientID := uuid.NewString()
	if err := e.manager.BeginSell(code, clientID); err != nil {
		return err
	}

	brokerID, err := e.svc.PlaceSell(ctx, code, qty, price, atMarket)
	if err != nil {
		if aerr := e.manager.AbortSell(code, "submission failed"); aerr != nil {
			logger.Errorf("engine: unwinding sell state for %s: %v", code, aerr)
		}
		return fmt.Errorf("engine: place sell %s: %w", code, err)
	}

	e.manager.UpdateOrderID(code, brokerID)
	e.coordinator.Track(orders.Order{
		BrokerID: brokerID,
		ClientID: clientID,
		Code:     code,
		Side:     orders.SideSell,
		Quantity: qty,
		Price:    price,
	})
	logger.Infof("engine: sell submitted for %s (%d @ %.0f, market=%v)", code, qty, price, atMarket)
	return nil
}

// eodSweep liquidates every open position shortly before the close. Runs at
// most once per session day.
func (e *Engine) eodSweep(ctx context.Context) {
	now := e.nowFn()
	closeAt := e.session.CloseAt(now)
	if now.Before(closeAt.Add(-10*time.Minute)) || now.After(closeAt) {
		return
	}
	day := now.Format("2006-01-02")
	if e.liquidatedOn == day {
		return
	}
	e.liquidatedOn = day

	if n := e.coordinator.CancelPendingBuys(ctx); n > 0 {
		logger.Warnf("engine: swept %d unfilled buy orders before the close", n)
	}

	views := append(e.manager.ByState(trading.StatePositioned), e.manager.ByState(trading.StateSellCandidate)...)
	if len(views) == 0 {
		return
	}
	logger.Infof("engine: end-of-day sweep, liquidating %d positions", len(views))
	for _, v := range views {
		if v.State == trading.StatePositioned {
			if err := e.manager.MarkSellCandidate(v.Code, "end of day liquidation"); err != nil {
				logger.Warnf("engine: eod mark %s: %v", v.Code, err)
				continue
			}
		}
		if err := e.ExecuteSell(ctx, v.Code, true); err != nil {
			logger.Warnf("engine: eod sell %s: %v", v.Code, err)
		}
	}
	if e.notifier != nil {
		e.notifier.Notify("End of Day", fmt.Sprintf("liquidation sweep submitted for %d positions", len(views)))
	}
}

// Close releases engine resources.
func (e *Engine) Close() {
	if e.journal != nil {
		if err := e.journal.Close(); err != nil {
			logger.Warnf("engine: closing journal: %v", err)
		}
	}
}
