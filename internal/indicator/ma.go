package indicator

// SMA returns the simple moving average of the trailing period values.
func SMA(values []float64, period int) (float64, error) {
	if err := requireLen("SMA", len(values), period); err != nil {
		return 0, err
	}
	return mean(values[len(values)-period:]), nil
}

// EMA returns the exponential moving average of the trailing values, seeded
// with the SMA of the first period values.
func EMA(values []float64, period int) (float64, error) {
	if err := requireLen("EMA", len(values), period); err != nil {
		return 0, err
	}
	alpha := 2.0 / (float64(period) + 1.0)
	ema := mean(values[:period])
	for _, v := range values[period:] {
		ema = alpha*v + (1-alpha)*ema
	}
	return ema, nil
}

// Momentum returns the difference between the last value and the value
// period bars earlier.
func Momentum(values []float64, period int) (float64, error) {
	if err := requireLen("momentum", len(values), period+1); err != nil {
		return 0, err
	}
	return values[len(values)-1] - values[len(values)-1-period], nil
}
