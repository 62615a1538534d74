package indicator

// EMA returns the exponential moving average of values. The first period
// values seed it with their simple average; every later value is blended in
// with alpha = 2/(period+1), matching pandas ewm(span=period, adjust=False).
func EMA(values []float64, period int) (float64, error) {
	series, err := EMASeries(values, period)
	if err != nil {
		return 0, err
	}

	return series[len(series)-1], nil
}

// EMASeries returns the moving average ending at every index from period-1 on.
func EMASeries(values []float64, period int) ([]float64, error) {
	if err := checkPeriod(IndicatorTypeEMA, period); err != nil {
		return nil, err
	}

	if err := checkLength(IndicatorTypeEMA, values, period); err != nil {
		return nil, err
	}

	alpha := 2.0 / float64(period+1)
	ema := mean(values[:period])

	out := make([]float64, 0, len(values)-period+1)
	out = append(out, ema)

	for _, v := range values[period:] {
		ema = v*alpha + ema*(1-alpha)
		out = append(out, ema)
	}

	return out, nil
}
