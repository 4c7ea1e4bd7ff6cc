package fees

import (
	"github.com/cinar/indicator/v2/trend"
)

// SmoothRates applies an exponential moving average to a recent
// history of annualized funding rates. Used by
// liquifunding.Store.SmoothedRates to give a trader-facing estimator
// query a stable view of the rate rather than reacting to every
// single-block jump; the settlement path always uses the exact
// per-window rate from ComputeFundingRates instead, so smoothing never
// affects money movement.
func SmoothRates(values []float64, period int) float64 {
	if len(values) == 0 || period <= 0 {
		return 0
	}

	ema := trend.NewEmaWithPeriod[float64](period)
	input := make(chan float64, len(values))
	for _, v := range values {
		input <- v
	}
	close(input)

	var latest float64
	for v := range ema.Compute(input) {
		latest = v
	}
	return latest
}
