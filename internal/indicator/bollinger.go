package indicator

// Bands holds a Bollinger Band snapshot for the most recent value.
type Bands struct {
	Middle float64
	Upper  float64
	Lower  float64
}

// Bollinger computes Bollinger Bands over the trailing period values:
// middle = SMA, upper/lower = middle ± multiplier × population stddev.
func Bollinger(values []float64, period int, multiplier float64) (Bands, error) {
	if err := requireLen("Bollinger", len(values), period); err != nil {
		return Bands{}, err
	}
	window := values[len(values)-period:]
	m := mean(window)
	sd := stdDev(window)
	return Bands{
		Middle: m,
		Upper:  m + multiplier*sd,
		Lower:  m - multiplier*sd,
	}, nil
}
