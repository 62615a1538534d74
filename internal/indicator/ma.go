package indicator

// SMA returns the simple moving average of the last period values.
func SMA(values []float64, period int) (float64, error) {
	if err := checkPeriod(IndicatorTypeSMA, period); err != nil {
		return 0, err
	}

	if err := checkLength(IndicatorTypeSMA, values, period); err != nil {
		return 0, err
	}

	return mean(values[len(values)-period:]), nil
}

// SMASeries returns the moving average ending at every index from period-1 on.
func SMASeries(values []float64, period int) ([]float64, error) {
	if err := checkPeriod(IndicatorTypeSMA, period); err != nil {
		return nil, err
	}

	if err := checkLength(IndicatorTypeSMA, values, period); err != nil {
		return nil, err
	}

	out := make([]float64, 0, len(values)-period+1)
	sum := 0.0

	for i, v := range values {
		sum += v
		if i >= period {
			sum -= values[i-period]
		}

		if i >= period-1 {
			out = append(out, sum/float64(period))
		}
	}

	return out, nil
}

func mean(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}

	return sum / float64(len(values))
}
