// Package ledger keeps positions, cash and margin of a simulated account.
//
// The account balance is cash minus borrowed money: a positive balance is
// cash, a negative one is a debit financed by the broker. Long purchases are
// paid from cash first and borrowed beyond it. Short sales leave the balance
// untouched; their profit or loss is settled when they are closed.
//
// Every position requires margin_req times its market value as collateral,
// and equity must cover the total. Trades that open exposure are checked
// against that limit before anything is mutated.
package ledger

import (
	"math"
	"time"

	"github.com/rxtech-lab/argo-backtest/internal/logger"
	"github.com/rxtech-lab/argo-backtest/internal/types"
	"github.com/rxtech-lab/argo-backtest/internal/utils"
	"github.com/rxtech-lab/argo-backtest/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Config holds the account parameters of a ledger.
type Config struct {
	InitialDeposit float64
	// MarginReq is the enforced collateral ratio in (0, 1].
	MarginReq float64
	// MarginRec is the collateral ratio used for sizing. It is not enforced.
	MarginRec float64
	// QuantityPrecision is the number of decimals of a tradable quantity.
	QuantityPrecision int
}

// TradeCoster prices a single fill.
type TradeCoster interface {
	Trade(quantity float64, price float64) types.CostBreakdown
}

type position struct {
	quantity    decimal.Decimal
	averageCost decimal.Decimal
	lastPrice   decimal.Decimal
	realizedPnL decimal.Decimal
	commission  decimal.Decimal
	spread      decimal.Decimal
	trades      int
}

// PositionView is a read-only copy of an instrument context.
type PositionView struct {
	Symbol        string
	Quantity      float64
	AverageCost   float64
	LastPrice     float64
	MarketValue   float64
	UnrealizedPnL float64
	RealizedPnL   float64
	MarginUsed    float64
	Commission    float64
	Spread        float64
	Trades        int
}

type Ledger struct {
	config    Config
	marginReq decimal.Decimal

	balance    decimal.Decimal
	deposits   decimal.Decimal
	realized   decimal.Decimal
	commission decimal.Decimal
	spread     decimal.Decimal
	marginFees decimal.Decimal
	trades     int

	positions map[string]*position
	symbols   []string
	log       *logger.Logger
}

// New creates a ledger holding the initial deposit and a flat position per symbol.
func New(config Config, symbols []string, log *logger.Logger) (*Ledger, error) {
	if config.MarginReq <= 0 || config.MarginReq > 1 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "margin_req must be in (0, 1], got %v", config.MarginReq)
	}

	if config.MarginRec <= 0 {
		config.MarginRec = config.MarginReq
	}

	if config.InitialDeposit < 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "initial deposit must not be negative, got %v", config.InitialDeposit)
	}

	if len(symbols) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyInstruments, "ledger needs at least one instrument")
	}

	if log == nil {
		log = logger.NewNopLogger()
	}

	l := &Ledger{
		config:    config,
		marginReq: decimal.NewFromFloat(config.MarginReq),
		balance:   decimal.NewFromFloat(config.InitialDeposit),
		positions: make(map[string]*position, len(symbols)),
		log:       log,
	}

	for _, symbol := range symbols {
		if _, ok := l.positions[symbol]; ok {
			return nil, errors.Newf(errors.ErrCodeDuplicateInstrument, "duplicate instrument %s", symbol)
		}

		l.positions[symbol] = &position{}
		l.symbols = append(l.symbols, symbol)
	}

	return l, nil
}

// Symbols returns the instruments in their configured order.
func (l *Ledger) Symbols() []string {
	return append([]string(nil), l.symbols...)
}

// Mark sets the valuation price of an instrument.
func (l *Ledger) Mark(symbol string, price float64) error {
	pos, ok := l.positions[symbol]
	if !ok {
		return errors.Newf(errors.ErrCodePositionNotFound, "unknown instrument %s", symbol)
	}

	if !validPrice(price) {
		return errors.Newf(errors.ErrCodeInvalidTradeAmount, "invalid mark price %v for %s", price, symbol)
	}

	pos.lastPrice = decimal.NewFromFloat(price)

	return nil
}

// Deposit adds cash. A debit balance is repaid first.
func (l *Ledger) Deposit(amount float64) {
	if amount <= 0 {
		return
	}

	d := decimal.NewFromFloat(amount)
	l.balance = l.balance.Add(d)
	l.deposits = l.deposits.Add(d)
}

// ChargeMarginInterest debits interest. It is financed when cash runs out.
func (l *Ledger) ChargeMarginInterest(amount float64) {
	if amount <= 0 {
		return
	}

	d := decimal.NewFromFloat(amount)
	l.balance = l.balance.Sub(d)
	l.marginFees = l.marginFees.Add(d)
}

// Cash returns the positive part of the balance.
func (l *Ledger) Cash() float64 {
	return decimal.Max(l.balance, decimal.Zero).InexactFloat64()
}

// Borrowed returns the debit part of the balance.
func (l *Ledger) Borrowed() float64 {
	return decimal.Max(l.balance.Neg(), decimal.Zero).InexactFloat64()
}

// Equity returns the liquidation value of the account at the last marks.
func (l *Ledger) Equity() float64 {
	return l.equity().InexactFloat64()
}

// Exposure returns the gross market value of all positions.
func (l *Ledger) Exposure() float64 {
	return l.exposure().InexactFloat64()
}

// MarginUsed returns the collateral required by open positions.
func (l *Ledger) MarginUsed() float64 {
	return l.marginReq.Mul(l.exposure()).InexactFloat64()
}

// MarginAvailable returns equity not committed as collateral. Negative during a margin deficit.
func (l *Ledger) MarginAvailable() float64 {
	return l.equity().Sub(l.marginReq.Mul(l.exposure())).InexactFloat64()
}

// MarginDeficit returns how far required collateral exceeds equity, or zero.
func (l *Ledger) MarginDeficit() float64 {
	return math.Max(-l.MarginAvailable(), 0)
}

// MarginBalance returns the amount financed by the broker: borrowed cash plus
// the market value of short positions.
func (l *Ledger) MarginBalance() float64 {
	total := decimal.Max(l.balance.Neg(), decimal.Zero)

	for _, symbol := range l.symbols {
		pos := l.positions[symbol]
		if pos.quantity.IsNegative() {
			total = total.Add(pos.quantity.Abs().Mul(pos.lastPrice))
		}
	}

	return total.InexactFloat64()
}

// Quantity returns the signed position of symbol.
func (l *Ledger) Quantity(symbol string) float64 {
	pos, ok := l.positions[symbol]
	if !ok {
		return 0
	}

	return pos.quantity.InexactFloat64()
}

// Trades returns the number of fills applied so far.
func (l *Ledger) Trades() int {
	return l.trades
}

// Position returns a copy of the instrument context.
func (l *Ledger) Position(symbol string) (PositionView, bool) {
	pos, ok := l.positions[symbol]
	if !ok {
		return PositionView{}, false
	}

	return PositionView{
		Symbol:        symbol,
		Quantity:      pos.quantity.InexactFloat64(),
		AverageCost:   pos.averageCost.InexactFloat64(),
		LastPrice:     pos.lastPrice.InexactFloat64(),
		MarketValue:   pos.marketValue().InexactFloat64(),
		UnrealizedPnL: pos.unrealized().InexactFloat64(),
		RealizedPnL:   pos.realizedPnL.InexactFloat64(),
		MarginUsed:    l.marginReq.Mul(pos.exposure()).InexactFloat64(),
		Commission:    pos.commission.InexactFloat64(),
		Spread:        pos.spread.InexactFloat64(),
		Trades:        pos.trades,
	}, true
}

// State returns the aggregate account state.
func (l *Ledger) State() types.AccountState {
	unrealized := decimal.Zero
	for _, symbol := range l.symbols {
		unrealized = unrealized.Add(l.positions[symbol].unrealized())
	}

	return types.AccountState{
		Cash:            l.Cash(),
		Borrowed:        l.Borrowed(),
		Equity:          l.Equity(),
		Exposure:        l.Exposure(),
		MarginUsed:      l.MarginUsed(),
		MarginAvailable: l.MarginAvailable(),
		Deposits:        l.deposits.InexactFloat64(),
		RealizedPnL:     l.realized.InexactFloat64(),
		UnrealizedPnL:   unrealized.InexactFloat64(),
		Expenses: types.Expenses{
			Commission: l.commission.InexactFloat64(),
			Spread:     l.spread.InexactFloat64(),
			MarginFees: l.marginFees.InexactFloat64(),
		},
		TotalTrades: l.trades,
	}
}

// CheckInvariants verifies that open positions are covered by equity.
func (l *Ledger) CheckInvariants() error {
	if l.exposure().IsZero() {
		return nil
	}

	if l.marginReq.Mul(l.exposure()).GreaterThan(l.equity()) {
		return errors.Newf(errors.ErrCodeMarginRejected,
			"margin used %v exceeds equity %v", l.MarginUsed(), l.Equity())
	}

	return nil
}

// MaxOpen returns the largest quantity that can be added to symbol in the
// direction of side at price. ratio is the sizing collateral ratio; the
// enforced margin_req always applies as well. budget caps the added notional.
// It returns zero when side would reduce an existing position.
func (l *Ledger) MaxOpen(symbol string, side types.Side, price float64, ratio float64, budget float64, costs TradeCoster) float64 {
	pos, ok := l.positions[symbol]
	if !ok || !validPrice(price) || budget <= 0 {
		return 0
	}

	sign := sideSign(side)
	if pos.quantity.Sign() == -sign {
		return 0
	}

	effective := math.Max(ratio, l.config.MarginReq)
	p := decimal.NewFromFloat(price)
	headroom := l.equityAt(symbol, p).Div(decimal.NewFromFloat(effective)).Sub(l.exposureAt(symbol, p)).InexactFloat64()

	upper := math.Min(headroom, budget) / price
	if upper <= 0 {
		return 0
	}

	sizing := decimal.NewFromFloat(effective)

	return utils.MaxQuantity(upper, l.config.QuantityPrecision, func(quantity float64) bool {
		if quantity*price > budget {
			return false
		}

		c := costs.Trade(quantity, price)

		return l.checkOpen(symbol, p, decimal.NewFromFloat(quantity), decimal.NewFromFloat(c.TradeCosts()), sizing) == nil
	})
}

// MarginCallQuantity returns the smallest quantity of symbol to close at
// price so that the account meets margin_req again, or the whole position
// when closing it is not enough.
func (l *Ledger) MarginCallQuantity(symbol string, price float64, costs TradeCoster) float64 {
	pos, ok := l.positions[symbol]
	if !ok || pos.quantity.IsZero() || !validPrice(price) {
		return 0
	}

	held := pos.quantity.Abs().InexactFloat64()
	p := decimal.NewFromFloat(price)

	covered := func(quantity float64) bool {
		c := costs.Trade(quantity, price)
		reduced := decimal.NewFromFloat(quantity).Mul(p)
		exposure := l.exposureAt(symbol, p).Sub(reduced)
		equity := l.equityAt(symbol, p).Sub(decimal.NewFromFloat(c.TradeCosts()))

		return l.marginReq.Mul(exposure).LessThanOrEqual(equity)
	}

	if covered(0) {
		return 0
	}

	short := utils.MaxQuantity(held, l.config.QuantityPrecision, func(quantity float64) bool {
		return !covered(quantity)
	})

	return math.Min(short+math.Pow10(-l.config.QuantityPrecision), held)
}

// ApplyTrade fills signedQuantity of symbol at price and charges costs.
// Opening exposure fails with ErrCodeMarginRejected when margin_req would be
// violated and with ErrCodeInsufficientCash when costs exceed available cash.
// Nothing is mutated on failure.
func (l *Ledger) ApplyTrade(at time.Time, symbol string, signedQuantity float64, price float64, costs types.CostBreakdown) (types.TradeOutcome, error) {
	pos, ok := l.positions[symbol]
	if !ok {
		return types.TradeOutcome{}, errors.Newf(errors.ErrCodePositionNotFound, "unknown instrument %s", symbol)
	}

	if signedQuantity == 0 || math.IsNaN(signedQuantity) || math.IsInf(signedQuantity, 0) {
		return types.TradeOutcome{}, errors.Newf(errors.ErrCodeInvalidTradeAmount, "invalid quantity %v for %s", signedQuantity, symbol)
	}

	if !validPrice(price) {
		return types.TradeOutcome{}, errors.Newf(errors.ErrCodeInvalidTradeAmount, "invalid price %v for %s", price, symbol)
	}

	q := decimal.NewFromFloat(signedQuantity)
	p := decimal.NewFromFloat(price)
	tradeCosts := decimal.NewFromFloat(costs.TradeCosts())
	current := pos.quantity

	closing, opening := split(current, q)

	if !opening.IsZero() {
		if err := l.checkOpen(symbol, p, opening.Abs(), tradeCosts, l.marginReq, closing); err != nil {
			return types.TradeOutcome{}, err
		}
	}

	cashDelta := decimal.Zero
	realized := decimal.Zero

	if !closing.IsZero() {
		units := closing.Abs()
		if current.IsPositive() {
			realized = p.Sub(pos.averageCost).Mul(units)
			cashDelta = cashDelta.Add(p.Mul(units))
		} else {
			realized = pos.averageCost.Sub(p).Mul(units)
			cashDelta = cashDelta.Add(realized)
		}
	}

	if opening.IsPositive() {
		cashDelta = cashDelta.Sub(p.Mul(opening))
	}

	next := current.Add(q)

	switch {
	case next.IsZero():
		pos.averageCost = decimal.Zero
	case !opening.IsZero() && !closing.IsZero():
		pos.averageCost = p
	case !opening.IsZero():
		held := current.Abs()
		added := opening.Abs()
		pos.averageCost = pos.averageCost.Mul(held).Add(p.Mul(added)).Div(held.Add(added))
	}

	pos.quantity = next
	pos.lastPrice = p
	pos.realizedPnL = pos.realizedPnL.Add(realized)
	pos.commission = pos.commission.Add(decimal.NewFromFloat(costs.Commission))
	pos.spread = pos.spread.Add(decimal.NewFromFloat(costs.SpreadCost))
	pos.trades++

	l.balance = l.balance.Add(cashDelta).Sub(tradeCosts)
	l.realized = l.realized.Add(realized)
	l.commission = l.commission.Add(decimal.NewFromFloat(costs.Commission))
	l.spread = l.spread.Add(decimal.NewFromFloat(costs.SpreadCost))
	l.trades++

	side := types.SideBuy
	if q.IsNegative() {
		side = types.SideSell
	}

	outcome := types.TradeOutcome{
		Symbol:            symbol,
		Time:              at,
		Side:              side,
		Quantity:          q.Abs().InexactFloat64(),
		RequestedQuantity: q.Abs().InexactFloat64(),
		Price:             price,
		Costs:             types.CostBreakdown{Commission: costs.Commission, SpreadCost: costs.SpreadCost},
		RealizedPnL:       realized.InexactFloat64(),
		PositionAfter:     next.InexactFloat64(),
		Opening:           !opening.IsZero(),
	}

	l.log.Debug("Applied trade",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("quantity", outcome.Quantity),
		zap.Float64("price", price),
		zap.Float64("position", outcome.PositionAfter),
		zap.Float64("cash", l.Cash()),
		zap.Float64("borrowed", l.Borrowed()),
	)

	return outcome, nil
}

// checkOpen verifies that adding units to the position of symbol at price,
// after an optional closing part, keeps exposure within equity/ratio and
// that costs can be paid from cash.
func (l *Ledger) checkOpen(symbol string, price decimal.Decimal, units decimal.Decimal, tradeCosts decimal.Decimal, ratio decimal.Decimal, closing ...decimal.Decimal) error {
	pos := l.positions[symbol]

	exposure := l.exposureAt(symbol, price)
	cash := l.balance

	for _, c := range closing {
		if c.IsZero() {
			continue
		}

		exposure = exposure.Sub(c.Abs().Mul(price))

		if pos.quantity.IsPositive() {
			cash = cash.Add(c.Abs().Mul(price))
		} else {
			cash = cash.Add(pos.averageCost.Sub(price).Mul(c.Abs()))
		}
	}

	exposure = exposure.Add(units.Mul(price))
	equity := l.equityAt(symbol, price).Sub(tradeCosts)

	if ratio.Mul(exposure).GreaterThan(equity) || l.marginReq.Mul(exposure).GreaterThan(equity) {
		return errors.Newf(errors.ErrCodeMarginRejected,
			"opening %s %s at %s needs margin %s but equity is %s",
			units.String(), symbol, price.String(), l.marginReq.Mul(exposure).StringFixed(2), equity.StringFixed(2))
	}

	if tradeCosts.GreaterThan(decimal.Max(cash, decimal.Zero)) {
		return errors.Newf(errors.ErrCodeInsufficientCash,
			"costs %s exceed available cash %s", tradeCosts.StringFixed(2), decimal.Max(cash, decimal.Zero).StringFixed(2))
	}

	return nil
}

func (l *Ledger) equity() decimal.Decimal {
	total := l.balance
	for _, symbol := range l.symbols {
		total = total.Add(l.positions[symbol].marketValue())
	}

	return total
}

func (l *Ledger) exposure() decimal.Decimal {
	total := decimal.Zero
	for _, symbol := range l.symbols {
		total = total.Add(l.positions[symbol].exposure())
	}

	return total
}

// equityAt returns equity with symbol marked at price.
func (l *Ledger) equityAt(symbol string, price decimal.Decimal) decimal.Decimal {
	pos := l.positions[symbol]

	return l.equity().Sub(pos.marketValue()).Add(pos.marketValueAt(price))
}

// exposureAt returns exposure with symbol marked at price.
func (l *Ledger) exposureAt(symbol string, price decimal.Decimal) decimal.Decimal {
	pos := l.positions[symbol]

	return l.exposure().Sub(pos.exposure()).Add(pos.quantity.Abs().Mul(price))
}

// marketValue is the position's contribution to equity: the long value, or
// the unrealized profit of a short.
func (p *position) marketValue() decimal.Decimal {
	return p.marketValueAt(p.lastPrice)
}

func (p *position) marketValueAt(price decimal.Decimal) decimal.Decimal {
	if p.quantity.IsNegative() {
		return p.averageCost.Sub(price).Mul(p.quantity.Abs())
	}

	return p.quantity.Mul(price)
}

func (p *position) exposure() decimal.Decimal {
	return p.quantity.Abs().Mul(p.lastPrice)
}

func (p *position) unrealized() decimal.Decimal {
	if p.quantity.IsZero() {
		return decimal.Zero
	}

	if p.quantity.IsNegative() {
		return p.averageCost.Sub(p.lastPrice).Mul(p.quantity.Abs())
	}

	return p.lastPrice.Sub(p.averageCost).Mul(p.quantity)
}

// split divides a signed order into the part closing the current position
// and the part opening new exposure.
func split(current decimal.Decimal, order decimal.Decimal) (closing decimal.Decimal, opening decimal.Decimal) {
	if current.IsZero() || current.Sign() == order.Sign() {
		return decimal.Zero, order
	}

	if order.Abs().LessThanOrEqual(current.Abs()) {
		return order, decimal.Zero
	}

	return current.Neg(), order.Add(current)
}

func sideSign(side types.Side) int {
	if side == types.SideSell {
		return -1
	}

	return 1
}

func validPrice(price float64) bool {
	return price > 0 && !math.IsNaN(price) && !math.IsInf(price, 0)
}
