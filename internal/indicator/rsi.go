package indicator

// RSI returns the relative strength index of values using Wilder's
// smoothing. It needs period+1 values.
func RSI(values []float64, period int) (float64, error) {
	series, err := RSISeries(values, period)
	if err != nil {
		return 0, err
	}

	return series[len(series)-1], nil
}

// RSISeries returns the index ending at every value from index period on.
func RSISeries(values []float64, period int) ([]float64, error) {
	if err := checkPeriod(IndicatorTypeRSI, period); err != nil {
		return nil, err
	}

	if err := checkLength(IndicatorTypeRSI, values, period+1); err != nil {
		return nil, err
	}

	gains := make([]float64, len(values)-1)
	losses := make([]float64, len(values)-1)

	for i := 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gains[i-1] = change
		} else {
			losses[i-1] = -change
		}
	}

	avgGain := mean(gains[:period])
	avgLoss := mean(losses[:period])

	out := make([]float64, 0, len(gains)-period+1)
	out = append(out, strength(avgGain, avgLoss))

	p := float64(period)
	for i := period; i < len(gains); i++ {
		avgGain = (avgGain*(p-1) + gains[i]) / p
		avgLoss = (avgLoss*(p-1) + losses[i]) / p
		out = append(out, strength(avgGain, avgLoss))
	}

	return out, nil
}

func strength(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}

		return 100
	}

	rs := avgGain / avgLoss

	return 100 - (100 / (1 + rs))
}
