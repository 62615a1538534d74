package commission_fee

// CommissionFee computes the broker commission of a single fill.
type CommissionFee interface {
	// Calculate returns the commission for trading quantity units at price.
	// A zero quantity is not a trade and always costs nothing.
	Calculate(quantity float64, price float64) float64
	// PerUnit returns the marginal commission of one more unit at price,
	// ignoring fixed fees and minimums. Used for sizing estimates.
	PerUnit(price float64) float64
}

type Broker string

const (
	BrokerCustom            Broker = "custom"
	BrokerInteractiveBroker Broker = "interactive_broker"
	BrokerZero              Broker = "zero_commission"
)

var AllBrokers = []any{
	BrokerCustom,
	BrokerInteractiveBroker,
	BrokerZero,
}

// Schedule is the fee schedule of the custom broker.
type Schedule struct {
	// Flat is charged once per trade.
	Flat float64
	// Percent is charged on the traded notional, in percent.
	Percent float64
	// PerShare is charged per unit traded.
	PerShare float64
}

func GetCommissionFeeHandler(broker Broker, schedule Schedule) CommissionFee {
	switch broker {
	case BrokerInteractiveBroker:
		return NewInteractiveBrokerCommissionFee()
	case BrokerZero:
		return NewZeroCommissionFee()
	case BrokerCustom:
		return NewCustomCommissionFee(schedule)
	default:
		return NewCustomCommissionFee(schedule)
	}
}
