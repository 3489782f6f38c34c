package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/dafu-zhu/trading-system-sub000/internal/domain"
	"github.com/dafu-zhu/trading-system-sub000/internal/event"
	"github.com/dafu-zhu/trading-system-sub000/internal/risk"
	"github.com/dafu-zhu/trading-system-sub000/internal/scheduler"
	"github.com/dafu-zhu/trading-system-sub000/internal/sim"
	"github.com/dafu-zhu/trading-system-sub000/internal/strategy"
	"github.com/dafu-zhu/trading-system-sub000/pkg/quant"
)

// AuditSink persists audit records before processing continues.
type AuditSink interface {
	SaveEvent(ctx context.Context, ev event.Event) error
}

// Config holds the execution parameters for one sequencer.
type Config struct {
	Symbols              []string
	InitialCashMicros    int64
	TwapSlices           int
	EscalationTriggerBps int64
	Risk                 risk.RiskConfig
	Stops                risk.StopLossConfig
	Sim                  sim.Config
}

// RunStats summarizes one session or replay.
type RunStats struct {
	Bars              int
	Fills             int
	Rejections        int
	Exits             int
	StartEquityMicros int64
	FinalEquityMicros int64
	ReturnBps         int64
}

// Sequencer is the core single-threaded event processor. Every bar runs one
// synchronous tick: risk exits first, then queued plan slices, then strategy
// signals. Nothing else mutates the portfolio, so the hotpath needs no locks
// and identical input always produces identical output.
type Sequencer struct {
	cfg    Config
	inbox  chan *event.BarEvent
	logger *slog.Logger

	portfolio *domain.Portfolio
	validator *risk.Validator
	riskMgr   *risk.Manager
	matcher   *sim.Engine
	monitor   *scheduler.Monitor
	queue     *scheduler.Queue
	escalator *scheduler.Escalator
	strategy  strategy.Strategy
	sink      AuditSink
	ids       *domain.IDGen
	broker    domain.BrokerAdapter // optional external venue route

	markets map[string]*domain.MarketState
	prices  map[string]quant.PriceMicros
	carry   []carriedOrder // partially filled orders retried next tick

	// Active execution plan
	slices        []scheduler.OrderSlice
	sliceCursor   int
	planRemaining map[string]quant.QtySats
	planPrices    map[string]quant.PriceMicros
	windowStart   quant.TimeStamp
	windowEnd     quant.TimeStamp

	nextSeq uint64
	stats   RunStats

	// Boundary: used to notify UI or other systems of state changes
	onStateUpdate func(*domain.MarketState)

	mu sync.RWMutex // Used only for external reads (e.g. UI)
}

// NewSequencer creates a sequencer with all execution state owned inside.
func NewSequencer(cfg Config, inboxSize int, strat strategy.Strategy, sink AuditSink, onUpdate func(*domain.MarketState)) *Sequencer {
	if cfg.TwapSlices <= 0 {
		cfg.TwapSlices = 10
	}
	return &Sequencer{
		cfg:           cfg,
		inbox:         make(chan *event.BarEvent, inboxSize),
		logger:        slog.Default(),
		portfolio:     domain.NewPortfolio(cfg.InitialCashMicros),
		validator:     risk.NewValidator(cfg.Risk),
		riskMgr:       risk.NewManager(cfg.Stops, slog.Default()),
		matcher:       sim.NewEngine(cfg.Sim),
		monitor:       scheduler.NewMonitor(),
		queue:         scheduler.NewQueue(cfg.Risk.MaxOrdersPerMinute),
		escalator:     scheduler.NewEscalator(cfg.EscalationTriggerBps, slog.Default()),
		strategy:      strat,
		sink:          sink,
		ids:           &domain.IDGen{},
		markets:       make(map[string]*domain.MarketState),
		prices:        make(map[string]quant.PriceMicros),
		planRemaining: make(map[string]quant.QtySats),
		planPrices:    make(map[string]quant.PriceMicros),
		onStateUpdate: onUpdate,
	}
}

// ResumeSeq advances the event counter past seq. Called before the hotpath
// starts when appending to an existing audit trail, where reused sequence
// numbers would collide with stored records.
func (s *Sequencer) ResumeSeq(seq uint64) {
	if seq > atomic.LoadUint64(&s.nextSeq) {
		atomic.StoreUint64(&s.nextSeq, seq)
	}
}

// StartSession opens an execution window and re-arms per-session state. The
// circuit breaker latch survives across sessions.
func (s *Sequencer) StartSession(windowStart, windowEnd quant.TimeStamp) {
	s.windowStart = windowStart
	s.windowEnd = windowEnd
	s.slices = nil
	s.sliceCursor = 0
	s.planRemaining = make(map[string]quant.QtySats)
	s.planPrices = make(map[string]quant.PriceMicros)
	s.escalator.ResetSession()
	s.monitor.Reset()

	equity := s.portfolio.EquityMicros(s.prices)
	s.riskMgr.StartSession(equity)
	s.stats = RunStats{StartEquityMicros: equity}

	s.logger.Info("Session started",
		slog.Int64("window_start", int64(windowStart)),
		slog.Int64("window_end", int64(windowEnd)),
		slog.Int64("equity", equity))
}

// ExecutePlan diffs current holdings against target and schedules the
// rebalance as TWAP slices across the session window.
func (s *Sequencer) ExecutePlan(target map[string]quant.QtySats) error {
	if s.windowEnd <= s.windowStart {
		return fmt.Errorf("no open execution window")
	}

	planner := scheduler.NewPlanner()
	plan := planner.CreatePlan(s.portfolio.Quantities(), target, s.prices)

	for _, trade := range plan {
		slices, err := scheduler.SplitTrade(trade, s.cfg.TwapSlices, s.windowStart, s.windowEnd)
		if err != nil {
			return fmt.Errorf("slicing %s: %w", trade.Symbol, err)
		}
		s.slices = append(s.slices, slices...)
		s.planRemaining[trade.Symbol] += trade.Side.Signed(trade.QtySats)
		s.planPrices[trade.Symbol] = trade.PriceMicros
		s.monitor.SetPlanned(trade.Symbol, trade.QtySats)
	}

	// Release order is scheduled time; ties keep plan priority order.
	sort.SliceStable(s.slices, func(i, j int) bool {
		return s.slices[i].ScheduledAt < s.slices[j].ScheduledAt
	})

	s.logger.Info("Execution plan created",
		slog.Int("legs", len(plan)),
		slog.Int("slices", len(s.slices)))
	return nil
}

// Inbox returns the event channel. External workers send events here.
func (s *Sequencer) Inbox() chan<- *event.BarEvent {
	return s.inbox
}

// FeedBar wraps a bar in a pooled event and queues it.
func (s *Sequencer) FeedBar(bar domain.Bar) {
	ev := event.AcquireBarEvent()
	ev.Seq = quant.NextSeq(&s.nextSeq)
	ev.Ts = bar.TsUnixM
	ev.Bar = bar
	s.inbox <- ev
}

// Run starts the main event loop. This MUST be run in a single goroutine.
func (s *Sequencer) Run(ctx context.Context) {
	s.logger.Info("Sequencer started (Single-Thread Hotpath)")

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState("panic_dump.json")
			// Halt after dump; restarting with corrupted state is worse.
			panic(fmt.Sprintf("HALTED: %v", r))
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sequencer stopping...")
			return
		case ev := <-s.inbox:
			s.ProcessBar(ev.Bar)
			event.ReleaseBarEvent(ev)
		}
	}
}

// ProcessBar runs one synchronous tick. Order within the tick is fixed:
// market state, carried partials, risk exits, plan slices, escalation,
// strategy signals.
func (s *Sequencer) ProcessBar(bar domain.Bar) {
	s.stats.Bars++

	// 1. Market state
	state, ok := s.markets[bar.Symbol]
	if !ok {
		state = &domain.MarketState{Symbol: bar.Symbol}
		s.markets[bar.Symbol] = state
	}
	state.PriceMicros = bar.CloseMicros
	state.TotalQtySats = bar.VolumeSats
	state.LastUpdateUnixM = bar.TsUnixM
	s.prices[bar.Symbol] = bar.CloseMicros
	s.matcher.SetBar(bar)

	// 2. Retry carried partial fills against the fresh bar.
	s.retryCarried(bar)

	// 3. Risk pass runs before any new order flow. Exits bypass the
	// validator: getting flat is never blocked by limits.
	exits := s.riskMgr.CheckStops(s.prices, s.portfolio.EquityMicros(s.prices), s.portfolio.Quantities())
	for _, exit := range exits {
		s.executeExit(exit, bar.TsUnixM)
	}

	// 4. A tripped breaker halts all new order flow.
	if s.riskMgr.CircuitBreakerTripped() {
		s.notify(state)
		return
	}

	// 5. Release due plan slices into the rate-limited queue.
	for s.sliceCursor < len(s.slices) && s.slices[s.sliceCursor].ScheduledAt <= bar.TsUnixM {
		slice := s.slices[s.sliceCursor]
		notional, _ := quant.NotionalMicros(slice.PriceMicros, slice.QtySats)
		s.queue.Enqueue(slice, notional)
		s.sliceCursor++
	}

	// 6. Near window end, replace a symbol's remaining passive slices with
	// one market order for the full remainder, queued at top priority.
	if s.windowEnd > s.windowStart {
		for _, req := range s.escalator.CheckAndEscalate(bar.TsUnixM, s.windowStart, s.windowEnd, s.planRemaining) {
			dropped := s.queue.DropSymbol(req.Symbol)
			s.audit(&event.OrderAuditEvent{
				BaseEvent: event.BaseEvent{Seq: quant.NextSeq(&s.nextSeq), Ts: bar.TsUnixM},
				EventType: event.AuditEscalated,
				Symbol:    req.Symbol,
				Side:      string(req.Side),
				OrderType: string(req.Type),
				QtySats:   req.QtySats,
				Message:   fmt.Sprintf("dropped %d pending slices", dropped),
			})
			s.queue.Enqueue(scheduler.OrderSlice{
				Symbol:      req.Symbol,
				Side:        req.Side,
				QtySats:     req.QtySats,
				PriceMicros: s.planPrices[req.Symbol],
				ScheduledAt: bar.TsUnixM,
			}, math.MaxInt64)
		}
	}

	// 7. Submit what the rate window allows, biggest notional first.
	s.queue.ProcessBatch(bar.TsUnixM, func(slice scheduler.OrderSlice) error {
		s.submitOrder(orderIntent{
			symbol:   slice.Symbol,
			side:     slice.Side,
			typ:      domain.TypeMarket,
			qty:      slice.QtySats,
			expected: slice.PriceMicros,
			fromPlan: true,
		}, bar.TsUnixM)
		return nil
	})

	// 8. Strategy signals.
	if s.strategy != nil {
		for _, sig := range s.strategy.OnBar(bar) {
			side, ok := sig.OrderSide()
			if !ok {
				continue
			}
			s.submitOrder(orderIntent{
				symbol:   sig.Symbol,
				side:     side,
				typ:      domain.TypeMarket,
				qty:      sig.QtySats,
				expected: sig.PriceMicros,
			}, bar.TsUnixM)
		}
	}

	s.notify(state)
}

// carriedOrder is a partially filled order waiting for the next bar.
type carriedOrder struct {
	order    *domain.Order
	expected quant.PriceMicros
	fromPlan bool
}

type orderIntent struct {
	symbol   string
	side     domain.Side
	typ      domain.OrderType
	price    quant.PriceMicros
	qty      quant.QtySats
	expected quant.PriceMicros
	fromPlan bool
}

// submitOrder runs the full pre-trade path: validate, ack, match, book.
// Rejections are audited and counted, never fatal.
func (s *Sequencer) submitOrder(in orderIntent, now quant.TimeStamp) {
	if rej := s.validator.Validate(in.symbol, in.side, in.qty, s.markPrice(in), s.portfolio.CashMicros,
		s.portfolio.Quantities(), s.prices, now); rej != nil {
		s.stats.Rejections++
		s.audit(&event.OrderAuditEvent{
			BaseEvent:   event.BaseEvent{Seq: quant.NextSeq(&s.nextSeq), Ts: now},
			EventType:   event.AuditRejected,
			Symbol:      in.symbol,
			Side:        string(in.side),
			OrderType:   string(in.typ),
			QtySats:     in.qty,
			PriceMicros: in.price,
			Status:      string(rej.Code),
			Message:     rej.Message,
		})
		s.logger.Warn("Order rejected pre-trade",
			slog.String("symbol", in.symbol),
			slog.String("code", string(rej.Code)),
			slog.String("reason", rej.Message))
		return
	}

	o := domain.NewOrder(s.ids.Next(), in.symbol, in.side, in.typ, in.price, in.qty, now)
	if err := o.Transition(domain.StateAcked); err != nil {
		panic(fmt.Sprintf("ORDER_ACK_FAILED: %v", err))
	}
	s.validator.RecordOrder(in.symbol, now)
	s.audit(&event.OrderAuditEvent{
		BaseEvent:   event.BaseEvent{Seq: quant.NextSeq(&s.nextSeq), Ts: now},
		EventType:   event.AuditSubmitted,
		OrderID:     o.ID,
		Symbol:      o.Symbol,
		Side:        string(o.Side),
		OrderType:   string(o.Type),
		QtySats:     o.QtySats,
		PriceMicros: o.PriceMicros,
		Status:      string(o.State),
	})

	if s.broker != nil {
		s.submitViaBroker(o, in.expected, in.fromPlan, now)
		return
	}
	s.matchAndBook(o, in.expected, in.fromPlan)
}

// SetBroker routes new orders through an external venue adapter instead of
// the internal fill model. Call before Run; the route is fixed for the
// session. Risk exits always use the internal model so flattening cannot
// depend on venue availability.
func (s *Sequencer) SetBroker(b domain.BrokerAdapter) {
	s.broker = b
}

// submitViaBroker hands the order to the venue adapter and books whatever
// filled synchronously. An adapter error is logged, not fatal; the order
// simply did not happen.
func (s *Sequencer) submitViaBroker(o *domain.Order, expected quant.PriceMicros, fromPlan bool, now quant.TimeStamp) {
	res, err := s.broker.SubmitOrder(context.Background(), domain.OrderRequest{
		Symbol:      o.Symbol,
		Side:        o.Side,
		Type:        o.Type,
		QtySats:     o.RemainingSats,
		PriceMicros: o.PriceMicros,
	})
	if err != nil {
		s.logger.Warn("Venue submit failed",
			slog.Uint64("order", o.ID),
			slog.String("symbol", o.Symbol),
			slog.Any("error", err))
		return
	}
	if res.FilledSats <= 0 {
		return // acked but resting; venue fills arrive out of band
	}

	filled, err := o.Fill(res.FilledSats)
	if err != nil {
		s.logger.Error("Venue fill rejected by order state machine",
			slog.Uint64("order", o.ID),
			slog.Any("error", err))
		return
	}
	s.bookFill(o, domain.Fill{
		OrderID:     o.ID,
		Symbol:      o.Symbol,
		Side:        o.Side,
		PriceMicros: res.AvgFillMicros,
		QtySats:     filled,
		TsUnixM:     now,
	}, expected, fromPlan)
}

// matchAndBook runs one match attempt and applies the outcome.
func (s *Sequencer) matchAndBook(o *domain.Order, expected quant.PriceMicros, fromPlan bool) {
	res := s.matcher.Match(o)
	switch res.Status {
	case sim.StatusRejected:
		s.logger.Warn("Match rejected", slog.Uint64("order", o.ID), slog.String("reason", res.Reason))
		return

	case sim.StatusPartiallyFilled:
		s.carry = append(s.carry, carriedOrder{order: o, expected: expected, fromPlan: fromPlan})
		fallthrough

	case sim.StatusFilled:
		s.bookFill(o, res.Fill, expected, fromPlan)
	}
}

// bookFill applies one fill to portfolio, monitor, stops, audit, and plan
// accounting, in that order.
func (s *Sequencer) bookFill(o *domain.Order, fill domain.Fill, expected quant.PriceMicros, fromPlan bool) {
	prev := s.portfolio.Quantities()[fill.Symbol]
	s.portfolio.ApplyFill(fill)
	curr := s.portfolio.Quantities()[fill.Symbol]

	s.monitor.TrackFill(fill, expected)
	s.stats.Fills++

	if fromPlan {
		s.planRemaining[fill.Symbol] -= fill.Side.Signed(fill.QtySats)
	}

	// Stop management: arm on open, drop on flat.
	switch {
	case prev == 0 && curr != 0:
		s.riskMgr.AddPositionStop(fill.Symbol, fill.PriceMicros, curr)
	case prev != 0 && curr == 0:
		s.riskMgr.RemoveStop(fill.Symbol)
	}

	eventType := event.AuditPartial
	if o.State == domain.StateFilled {
		eventType = event.AuditFilled
	}
	s.audit(&event.OrderAuditEvent{
		BaseEvent:     event.BaseEvent{Seq: quant.NextSeq(&s.nextSeq), Ts: fill.TsUnixM},
		EventType:     eventType,
		OrderID:       o.ID,
		Symbol:        o.Symbol,
		Side:          string(o.Side),
		OrderType:     string(o.Type),
		QtySats:       o.QtySats,
		PriceMicros:   o.PriceMicros,
		Status:        string(o.State),
		FilledSats:    o.FilledSats,
		AvgFillMicros: fill.PriceMicros,
	})

	if s.strategy != nil {
		s.strategy.OnOrderUpdate(*o)
	}
}

// retryCarried re-matches partially filled orders before any new flow, so
// earlier orders keep time priority across bars.
func (s *Sequencer) retryCarried(bar domain.Bar) {
	if len(s.carry) == 0 {
		return
	}
	pending := s.carry
	s.carry = nil
	for _, c := range pending {
		if c.order.Symbol != bar.Symbol {
			s.carry = append(s.carry, c)
			continue
		}
		s.matchAndBook(c.order, c.expected, c.fromPlan)
	}
}

// executeExit flattens a position on risk instruction. No validator: risk
// exits must never be refused.
func (s *Sequencer) executeExit(exit risk.ExitSignal, now quant.TimeStamp) {
	s.stats.Exits++
	o := domain.NewOrder(s.ids.Next(), exit.Symbol, exit.Side, domain.TypeMarket, 0, exit.QtySats, now)
	if err := o.Transition(domain.StateAcked); err != nil {
		panic(fmt.Sprintf("EXIT_ACK_FAILED: %v", err))
	}
	s.audit(&event.OrderAuditEvent{
		BaseEvent: event.BaseEvent{Seq: quant.NextSeq(&s.nextSeq), Ts: now},
		EventType: event.AuditSubmitted,
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Side:      string(o.Side),
		OrderType: string(o.Type),
		QtySats:   o.QtySats,
		Status:    string(o.State),
		Message:   exit.Reason,
	})

	s.logger.Warn("Risk exit",
		slog.String("symbol", exit.Symbol),
		slog.String("reason", exit.Reason),
		slog.Int64("qty", int64(exit.QtySats)))

	s.matchAndBook(o, 0, false)
}

// markPrice chooses the price the validator marks an order at: the limit
// price when present, otherwise the current market.
func (s *Sequencer) markPrice(in orderIntent) quant.PriceMicros {
	if in.price > 0 {
		return in.price
	}
	if p, ok := s.prices[in.symbol]; ok {
		return p
	}
	return in.expected
}

// audit persists one record. Persistence failure halts the process: an
// unauditable trading system must not keep trading.
func (s *Sequencer) audit(ev *event.OrderAuditEvent) {
	if s.sink == nil {
		return
	}
	if err := s.sink.SaveEvent(context.Background(), ev); err != nil {
		panic(fmt.Sprintf("PERSISTENCE_FAILURE: %v", err))
	}
}

func (s *Sequencer) notify(state *domain.MarketState) {
	if s.onStateUpdate != nil {
		s.onStateUpdate(state)
	}
}

// Stats returns the session statistics with final equity marked at current
// prices.
func (s *Sequencer) Stats() RunStats {
	stats := s.stats
	stats.FinalEquityMicros = s.portfolio.EquityMicros(s.prices)
	if stats.StartEquityMicros > 0 {
		stats.ReturnBps = quant.RatioBps(stats.FinalEquityMicros-stats.StartEquityMicros, stats.StartEquityMicros)
	}
	return stats
}

// Seq returns the last issued event sequence number.
func (s *Sequencer) Seq() uint64 {
	return atomic.LoadUint64(&s.nextSeq)
}

// Portfolio exposes read access for reporting.
func (s *Sequencer) Portfolio() *domain.Portfolio {
	return s.portfolio
}

// Monitor exposes the execution quality monitor.
func (s *Sequencer) Monitor() *scheduler.Monitor {
	return s.monitor
}

// RiskManager exposes the risk manager for operator actions.
func (s *Sequencer) RiskManager() *risk.Manager {
	return s.riskMgr
}

// GetMarketState returns a snapshot of the market state (external read).
func (s *Sequencer) GetMarketState(symbol string) (domain.MarketState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.markets[symbol]
	if !ok {
		return domain.MarketState{}, false
	}
	return *state, true // Return copy
}

// DumpState writes the entire internal state to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	s.logger.Info("Dumping internal state...", slog.String("file", filename))

	data := struct {
		NextSeq   uint64                         `json:"next_seq"`
		Cash      int64                          `json:"cash"`
		Positions map[string]quant.QtySats       `json:"positions"`
		Markets   map[string]*domain.MarketState `json:"markets"`
	}{
		NextSeq:   s.nextSeq,
		Cash:      s.portfolio.CashMicros,
		Positions: s.portfolio.Quantities(),
		Markets:   s.markets,
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	err = os.WriteFile(filename, b, 0644)
	if err != nil {
		s.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}
