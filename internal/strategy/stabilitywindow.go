package strategy

import "math/big"

// StabilityWindow tracks whether the pool price has stayed within Threshold
// for RequiredIntervals consecutive observations. No code path consults it:
// `reset` is not gated on it, whatever a config's WaitForStability says.
type StabilityWindow struct {
	Threshold         float64
	RequiredIntervals int

	lastPrice   *big.Int
	stableCount int
}

// NewStabilityWindow builds a StabilityWindow for the given threshold/count.
func NewStabilityWindow(threshold float64, requiredIntervals int) *StabilityWindow {
	return &StabilityWindow{Threshold: threshold, RequiredIntervals: requiredIntervals}
}

// CheckStability records one observed sqrt-price sample and reports whether
// the window has now seen RequiredIntervals consecutive stable samples. A
// move exceeding Threshold resets the count to zero (this sample becomes the
// new baseline, not a stable one).
func (sw *StabilityWindow) CheckStability(currentPrice *big.Int) bool {
	if sw.lastPrice == nil {
		sw.lastPrice = new(big.Int).Set(currentPrice)
		sw.stableCount = 0
		return sw.stableCount >= sw.RequiredIntervals
	}

	if priceChangeFraction(sw.lastPrice, currentPrice) <= sw.Threshold {
		sw.stableCount++
	} else {
		sw.stableCount = 0
	}
	sw.lastPrice = new(big.Int).Set(currentPrice)

	return sw.stableCount >= sw.RequiredIntervals
}

// Reset clears the window's state, discarding any accumulated stable streak.
func (sw *StabilityWindow) Reset() {
	sw.lastPrice = nil
	sw.stableCount = 0
}

// Progress reports the current streak as a fraction of RequiredIntervals,
// clamped to 1.0.
func (sw *StabilityWindow) Progress() float64 {
	if sw.RequiredIntervals == 0 {
		return 0
	}
	progress := float64(sw.stableCount) / float64(sw.RequiredIntervals)
	if progress > 1 {
		return 1
	}
	return progress
}

// priceChangeFraction computes |b-a|/a as a float64, the fractional move
// between two sqrt-price-Q96 samples. Precision beyond float64 is not needed
// here: this feeds a 0.5%-scale threshold comparison, not settlement math.
func priceChangeFraction(a, b *big.Int) float64 {
	if a.Sign() == 0 {
		return 0
	}
	diff := new(big.Int).Sub(b, a)
	diff.Abs(diff)
	af, _ := new(big.Float).SetInt(a).Float64()
	df, _ := new(big.Float).SetInt(diff).Float64()
	if af == 0 {
		return 0
	}
	return df / af
}
