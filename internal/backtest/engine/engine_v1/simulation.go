package engine

import (
	"context"
	"math"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/cost"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/datasource"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/ledger"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/timeline"
	"github.com/rxtech-lab/argo-backtest/internal/backtest/engine/engine_v1/trend"
	"github.com/rxtech-lab/argo-backtest/internal/decision"
	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/internal/utils"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"go.uber.org/zap"
)

// Hooks observe a running simulation. A hook error aborts the run.
type Hooks struct {
	// OnTrade is called after every fill, margin calls included.
	OnTrade func(trade types.TradeOutcome) error
	// OnCycle is called after the results entry of a cycle is appended.
	OnCycle func(current int, total int) error
}

// Simulation replays aligned instrument series through a decision source
// and a simulated margin account. A Simulation runs once.
type Simulation struct {
	id     string
	config BacktestEngineV1Config
	grid   *datasource.Grid
	source decision.Source
	name   string
	log    *logger.Logger
	hooks  Hooks

	costs     *cost.Model
	inflation cost.Inflation
	ledger    *ledger.Ledger
	detectors []*trend.Detector
	history   [][]types.Quote
	timeline  *timeline.Timeline

	sinceDeposit int
	stats        types.RunStats
	started      atomic.Bool
}

// instrumentCycle is the working state of one instrument within a cycle.
type instrumentCycle struct {
	index    int
	symbol   string
	quote    types.Quote
	tradable bool
	trend    types.Trend
	snapshot types.InstrumentSnapshot
}

// NewSimulation validates config and series and prepares a run. The series
// are copied; the caller keeps ownership of its slices.
func NewSimulation(config BacktestEngineV1Config, series []types.InstrumentSeries, source decision.Source, log *logger.Logger) (*Simulation, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	config = config.WithDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if source == nil {
		return nil, errors.New(errors.ErrCodeNoDecisionSource, "a decision source is required")
	}

	grid, err := datasource.Align(selectSeries(series, config), config.GapPolicy)
	if err != nil {
		return nil, err
	}

	book, err := ledger.New(ledger.Config{
		InitialDeposit:    config.InitialDeposit,
		MarginReq:         config.MarginReq,
		MarginRec:         config.MarginRec,
		QuantityPrecision: config.QuantityPrecision,
	}, grid.Symbols, log.Named("ledger"))
	if err != nil {
		return nil, err
	}

	s := &Simulation{
		id:        uuid.New().String(),
		config:    config,
		grid:      grid,
		source:    source,
		name:      decision.NameOf(source),
		log:       log.Named("simulation"),
		costs:     cost.NewModel(config.CommissionFee(), config.Spread, config.MarginFee, config.CyclesPerYear),
		inflation: cost.NewInflation(config.Inflation, config.CyclesPerYear),
		ledger:    book,
		detectors: make([]*trend.Detector, len(grid.Symbols)),
		history:   make([][]types.Quote, len(grid.Symbols)),
		timeline:  timeline.New(len(grid.Cycles)),
	}

	for i := range grid.Symbols {
		s.detectors[i] = trend.NewDetector(config.TrendChangePeriod, config.TrendChangePercent)
	}

	s.stats = types.RunStats{
		ID:             s.id,
		Name:           s.name,
		InitialDeposit: config.InitialDeposit,
		GapsFilled:     grid.GapsFilled,
		CyclesDropped:  grid.CyclesDropped,
	}

	return s, nil
}

// selectSeries copies the requested instruments and drops records outside the configured window.
func selectSeries(series []types.InstrumentSeries, config BacktestEngineV1Config) []types.InstrumentSeries {
	wanted := make(map[string]bool, len(config.Symbols))
	for _, symbol := range config.Symbols {
		wanted[symbol] = true
	}

	out := make([]types.InstrumentSeries, 0, len(series))

	for _, s := range series {
		if len(wanted) > 0 && !wanted[s.Symbol] {
			continue
		}

		quotes := make([]types.Quote, 0, len(s.Quotes))

		for _, q := range s.Quotes {
			if config.StartTime.IsSome() && q.Time.Before(config.StartTime.Unwrap()) {
				continue
			}

			if config.EndTime.IsSome() && q.Time.After(config.EndTime.Unwrap()) {
				continue
			}

			quotes = append(quotes, q)
		}

		out = append(out, types.InstrumentSeries{Symbol: s.Symbol, Quotes: quotes})
	}

	return out
}

// ID returns the unique identifier of the run.
func (s *Simulation) ID() string {
	return s.id
}

// Name returns the decision source name of the run.
func (s *Simulation) Name() string {
	return s.name
}

// Symbols returns the simulated instruments in series order.
func (s *Simulation) Symbols() []string {
	return append([]string(nil), s.grid.Symbols...)
}

// Cycles returns the number of cycles the run will replay.
func (s *Simulation) Cycles() int {
	return len(s.grid.Cycles)
}

// Timeline returns the results timeline. It can be read while the run is in progress.
func (s *Simulation) Timeline() *timeline.Timeline {
	return s.timeline
}

// SetHooks installs observers. It must be called before the run starts.
func (s *Simulation) SetHooks(hooks Hooks) {
	s.hooks = hooks
}

// Stats returns the run diagnostics. Only meaningful once the run returned.
func (s *Simulation) Stats() types.RunStats {
	return s.stats
}

// Run replays every cycle. It returns the timeline even when the run is
// cancelled or fails; the entries appended so far stay readable.
func (s *Simulation) Run(ctx context.Context) (*timeline.Timeline, error) {
	if !s.started.CompareAndSwap(false, true) {
		return s.timeline, errors.New(errors.ErrCodeSimulationStarted, "simulation has already been started")
	}

	defer s.timeline.Close()

	if s.config.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, s.config.Timeout)
		defer cancel()
	}

	s.stats.StartedAt = time.Now()
	total := len(s.grid.Cycles)

	s.log.Info("Simulation started",
		zap.String("id", s.id),
		zap.String("source", s.name),
		zap.Strings("symbols", s.grid.Symbols),
		zap.Int("cycles", total),
	)

	for index, cycle := range s.grid.Cycles {
		if err := ctx.Err(); err != nil {
			s.stats.Cancelled = true
			s.finish()

			s.log.Warn("Simulation cancelled",
				zap.String("id", s.id),
				zap.Int("cycle", index),
				zap.Error(err),
			)

			return s.timeline, errors.Wrap(errors.ErrCodeSimulationCancelled, "simulation cancelled", err)
		}

		if err := s.step(ctx, index, cycle); err != nil {
			s.finish()

			return s.timeline, err
		}

		if s.hooks.OnCycle != nil {
			if err := s.hooks.OnCycle(index+1, total); err != nil {
				s.finish()

				return s.timeline, errors.Wrap(errors.ErrCodeCallbackFailed, "cycle callback failed", err)
			}
		}
	}

	s.finish()

	s.log.Info("Simulation finished",
		zap.String("id", s.id),
		zap.Int("cycles", s.stats.Cycles),
		zap.Int("trades", s.stats.Trades),
		zap.Int("warnings", s.stats.Warnings),
		zap.Float64("final_value", s.stats.FinalValue),
	)

	return s.timeline, nil
}

// Start runs the simulation on its own goroutine.
func (s *Simulation) Start(ctx context.Context) *Task {
	task := newTask(s)

	go func() {
		defer close(task.done)

		task.timeline, task.err = s.Run(ctx)
	}()

	return task
}

func (s *Simulation) finish() {
	state := s.ledger.State()

	s.stats.Cycles = s.timeline.Len()
	s.stats.Trades = state.TotalTrades
	s.stats.Deposits = state.Deposits
	s.stats.FinalValue = state.Equity
	s.stats.TotalExpenses = state.Expenses.Total()
}

// step settles one cycle completely before returning.
func (s *Simulation) step(ctx context.Context, index int, cycle datasource.Cycle) error {
	instruments := make([]*instrumentCycle, len(s.grid.Symbols))

	for i, symbol := range s.grid.Symbols {
		instruments[i] = s.mark(i, symbol, cycle.Slots[i])
	}

	for _, ic := range instruments {
		if ic.tradable {
			s.decide(ctx, index, cycle.Time, ic)
		}
	}

	s.deposit(index)
	s.chargeInterest()

	if err := s.marginCall(cycle.Time, instruments); err != nil {
		return err
	}

	for _, ic := range instruments {
		if !ic.tradable {
			continue
		}

		if err := s.trade(cycle.Time, ic, len(instruments)); err != nil {
			return err
		}
	}

	return s.snapshot(index, cycle.Time, instruments)
}

// mark values the instrument at the cycle's close and decides whether it can trade.
func (s *Simulation) mark(index int, symbol string, slot datasource.Slot) *instrumentCycle {
	ic := &instrumentCycle{
		index:  index,
		symbol: symbol,
		quote:  slot.Quote,
		trend:  s.detectors[index].Trend(),
		snapshot: types.InstrumentSnapshot{
			Symbol:  symbol,
			Carried: slot.Carried,
			Skipped: true,
		},
	}

	if !slot.Present {
		return ic
	}

	q := slot.Quote
	ic.snapshot.Open = q.Open
	ic.snapshot.High = q.High
	ic.snapshot.Low = q.Low
	ic.snapshot.Close = q.Close

	if !q.IsTradable() {
		s.stats.InvalidQuotes++
		s.stats.Warnings++

		s.log.Warn("Skipping instrument with invalid price",
			zap.String("symbol", symbol),
			zap.Time("time", q.Time),
			zap.Float64("close", q.Close),
		)

		return ic
	}

	// the price is validated above
	_ = s.ledger.Mark(symbol, q.Close)

	if slot.Carried {
		return ic
	}

	ic.tradable = true
	ic.snapshot.Skipped = false

	return ic
}

// decide asks the decision source for a signal and feeds it to the trend detector.
func (s *Simulation) decide(ctx context.Context, cycle int, at time.Time, ic *instrumentCycle) {
	history := s.history[ic.index]

	lo := len(history) - s.config.WindowSize
	if lo < 0 {
		lo = 0
	}

	window := decision.Window{
		Symbol:  ic.symbol,
		Cycle:   cycle,
		History: history[lo:len(history):len(history)],
		Current: ic.quote,
	}

	signal, err := s.source.Decide(ctx, window)
	if err == nil {
		err = signal.Validate()
	}

	if err != nil {
		s.stats.DecisionFailures++
		s.stats.Warnings++

		s.log.Warn("Decision failed, holding",
			zap.String("symbol", ic.symbol),
			zap.Int("cycle", cycle),
			zap.Error(err),
		)

		signal = types.HoldSignal("decision failed")
	}

	result := s.detectors[ic.index].Update(cycle, at, signal.Direction, window.Prices())
	ic.trend = result.Trend

	if result.Changed {
		s.log.Debug("Trend changed",
			zap.String("symbol", ic.symbol),
			zap.Int("cycle", cycle),
			zap.String("from", string(result.Previous)),
			zap.String("to", string(result.Trend)),
			zap.String("path", string(result.Path)),
			zap.Float64("move", result.Move),
		)
	}

	s.history[ic.index] = appendHistory(history, ic.quote, s.config.WindowSize)
}

// appendHistory appends q and trims the backing array once it holds twice the window.
func appendHistory(history []types.Quote, q types.Quote, size int) []types.Quote {
	history = append(history, q)
	if len(history) > 2*size {
		history = append([]types.Quote(nil), history[len(history)-size:]...)
	}

	return history
}

// deposit adds the periodic deposit every deposit_interval cycles, scaled by inflation.
func (s *Simulation) deposit(cycle int) {
	if s.config.DepositInterval == 0 || s.config.PeriodicDeposit == 0 {
		return
	}

	s.sinceDeposit++
	if s.sinceDeposit < s.config.DepositInterval {
		return
	}

	s.sinceDeposit = 0
	amount := s.inflation.Adjust(s.config.PeriodicDeposit, cycle)
	s.ledger.Deposit(amount)

	s.log.Debug("Deposit",
		zap.Int("cycle", cycle),
		zap.Float64("amount", amount),
	)
}

// chargeInterest charges one cycle of interest on the financed balance.
func (s *Simulation) chargeInterest() {
	charge := s.costs.Cost(cost.Request{MarginBalance: s.ledger.MarginBalance(), ElapsedCycles: 1})
	s.ledger.ChargeMarginInterest(charge.MarginInterest)
}

// fillCosts prices a fill of quantity at price.
func (s *Simulation) fillCosts(quantity float64, price float64, opening bool) types.CostBreakdown {
	return s.costs.Cost(cost.Request{Quantity: quantity, Price: price, IsOpening: opening})
}

// marginCall reduces positions, largest exposure first, until margin_req is
// met. Instruments sitting out the cycle keep their positions; a deficit
// they would have covered is left for a later cycle.
func (s *Simulation) marginCall(at time.Time, instruments []*instrumentCycle) error {
	if s.ledger.MarginDeficit() == 0 {
		return nil
	}

	type exposure struct {
		ic    *instrumentCycle
		value float64
	}

	var candidates []exposure

	for _, ic := range instruments {
		if !ic.tradable {
			continue
		}

		pos, ok := s.ledger.Position(ic.symbol)
		if !ok || pos.Quantity == 0 {
			continue
		}

		candidates = append(candidates, exposure{ic: ic, value: math.Abs(pos.MarketValue)})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].value > candidates[j].value })

	for _, c := range candidates {
		if s.ledger.MarginDeficit() == 0 {
			break
		}

		price := c.ic.quote.Close

		quantity := s.ledger.MarginCallQuantity(c.ic.symbol, price, s.costs)
		if quantity == 0 {
			continue
		}

		signed := quantity
		if s.ledger.Quantity(c.ic.symbol) > 0 {
			signed = -quantity
		}

		outcome, err := s.ledger.ApplyTrade(at, c.ic.symbol, signed, price, s.fillCosts(quantity, price, false))
		if err != nil {
			return err
		}

		outcome.MarginCall = true
		c.ic.snapshot.MarginCallPrice = price
		s.stats.MarginCalls++

		s.log.Warn("Margin call",
			zap.String("symbol", c.ic.symbol),
			zap.Time("time", at),
			zap.Float64("quantity", quantity),
			zap.Float64("price", price),
		)

		if err := s.record(outcome); err != nil {
			return err
		}
	}

	if deficit := s.ledger.MarginDeficit(); deficit > 0 {
		s.stats.Warnings++

		s.log.Warn("Margin deficit carried to next cycle",
			zap.Time("time", at),
			zap.Float64("deficit", deficit),
		)
	}

	return nil
}

// target returns the desired position sign for a confirmed trend.
func (s *Simulation) target(t types.Trend) int {
	switch t {
	case types.TrendUp:
		return 1
	case types.TrendDown:
		if s.config.Sizing == SizingLongFlat {
			return 0
		}

		return -1
	default:
		return 0
	}
}

// trade moves the position of one instrument towards its target: an
// opposing position is closed, then as much as margin and the instrument's
// share of buying power allow is opened.
func (s *Simulation) trade(at time.Time, ic *instrumentCycle, instruments int) error {
	price := ic.quote.Close
	held := s.ledger.Quantity(ic.symbol)
	target := s.target(ic.trend)

	if held != 0 && sign(held) != target && ic.trend != types.TrendFlat {
		outcome, err := s.ledger.ApplyTrade(at, ic.symbol, -held, price, s.fillCosts(held, price, false))
		if err != nil {
			return err
		}

		if held > 0 {
			ic.snapshot.CloseLongPrice = price
		} else {
			ic.snapshot.CloseShortPrice = price
		}

		if err := s.record(outcome); err != nil {
			return err
		}
	}

	if target == 0 {
		return nil
	}

	side := types.SideBuy
	if target < 0 {
		side = types.SideSell
	}

	ratio := s.config.SizingRatio()
	pos, _ := s.ledger.Position(ic.symbol)
	budget := s.ledger.Equity()/ratio/float64(instruments) - math.Abs(pos.Quantity)*price

	// what the instrument's share buys with costs, before margin is considered
	capacity := utils.CalculateMaxQuantity(budget, price, s.config.QuantityPrecision, func(quantity float64) float64 {
		return s.fillCosts(quantity, price, true).TradeCosts()
	})
	if capacity == 0 {
		return nil
	}

	quantity := s.ledger.MaxOpen(ic.symbol, side, price, ratio, budget, s.costs)

	if quantity < capacity {
		s.stats.MarginRejections++

		s.log.Debug("Trade clamped by margin",
			zap.String("symbol", ic.symbol),
			zap.Float64("budget", budget),
			zap.Float64("capacity", capacity),
			zap.Float64("quantity", quantity),
		)
	}

	if quantity == 0 {
		return nil
	}

	signed := quantity
	if target < 0 {
		signed = -quantity
	}

	outcome, err := s.ledger.ApplyTrade(at, ic.symbol, signed, price, s.fillCosts(quantity, price, true))
	if err != nil {
		if errors.HasAnyCode(err, errors.ErrCodeMarginRejected, errors.ErrCodeInsufficientCash) {
			s.stats.MarginRejections++

			return nil
		}

		return err
	}

	if target > 0 {
		ic.snapshot.OpenLongPrice = price
	} else {
		ic.snapshot.OpenShortPrice = price
	}

	return s.record(outcome)
}

func (s *Simulation) record(outcome types.TradeOutcome) error {
	if s.hooks.OnTrade == nil {
		return nil
	}

	if err := s.hooks.OnTrade(outcome); err != nil {
		return errors.Wrap(errors.ErrCodeCallbackFailed, "trade callback failed", err)
	}

	return nil
}

// snapshot appends the results entry of the cycle.
func (s *Simulation) snapshot(cycle int, at time.Time, instruments []*instrumentCycle) error {
	state := s.ledger.State()

	entry := types.ResultsEntry{
		Cycle:             cycle,
		Time:              at,
		TotalValue:        state.Equity,
		Cash:              state.Cash,
		Borrowed:          state.Borrowed,
		Deposits:          state.Deposits,
		MarginUsed:        state.MarginUsed,
		MarginAvailable:   state.MarginAvailable,
		CommissionExpense: state.Expenses.Commission,
		SpreadExpense:     state.Expenses.Spread,
		MarginExpense:     state.Expenses.MarginFees,
		TotalExpenses:     state.Expenses.Total(),
		RealizedPnL:       state.RealizedPnL,
		TotalTrades:       state.TotalTrades,
		Instruments:       make([]types.InstrumentSnapshot, 0, len(instruments)),
	}

	for _, ic := range instruments {
		snap := ic.snapshot
		snap.Trend = ic.trend

		if pos, ok := s.ledger.Position(ic.symbol); ok {
			snap.Quantity = pos.Quantity
			snap.AverageCost = pos.AverageCost
			snap.MarketValue = pos.MarketValue
			snap.UnrealizedPnL = pos.UnrealizedPnL
			snap.RealizedPnL = pos.RealizedPnL
			snap.MarginUsed = pos.MarginUsed
			snap.Commission = pos.Commission
			snap.Spread = pos.Spread
			snap.Trades = pos.Trades
		}

		entry.Instruments = append(entry.Instruments, snap)
	}

	if err := s.ledger.CheckInvariants(); err != nil {
		s.stats.Warnings++

		s.log.Warn("Account below margin requirement after cycle",
			zap.Int("cycle", cycle),
			zap.Error(err),
		)
	}

	return s.timeline.Append(entry)
}

func sign(x float64) int {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	default:
		return 0
	}
}
