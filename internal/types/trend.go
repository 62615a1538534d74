package types

// Trend is a confirmed directional bias for an instrument.
type Trend string

const (
	TrendFlat Trend = "flat"
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
)

// Opposes reports whether other is the reverse of t. Flat opposes nothing.
func (t Trend) Opposes(other Trend) bool {
	return (t == TrendUp && other == TrendDown) || (t == TrendDown && other == TrendUp)
}
