package calculate

import "github.com/Alias1177/CoinDash/internal/market"

// calculateStochastic returns %K of the last candle and %D, the average %K of
// the last dPeriod candles.
func calculateStochastic(candles []market.Candle, kPeriod, dPeriod int) (float64, float64, bool) {
	if kPeriod <= 0 || dPeriod <= 0 || len(candles) < kPeriod+dPeriod-1 {
		return 0, 0, false
	}

	var k, kSum float64
	for i := 0; i < dPeriod; i++ {
		end := len(candles) - dPeriod + i
		k = stochasticK(candles[end-kPeriod+1 : end+1])
		kSum += k
	}

	return k, kSum / float64(dPeriod), true
}

// stochasticK is the position of the last close inside the high-low range.
func stochasticK(candles []market.Candle) float64 {
	highest, lowest := candles[0].High, candles[0].Low
	for _, c := range candles[1:] {
		if c.High > highest {
			highest = c.High
		}
		if c.Low < lowest {
			lowest = c.Low
		}
	}

	// If no range, default to middle
	if highest-lowest <= 0 {
		return 50.0
	}
	return (candles[len(candles)-1].Close - lowest) / (highest - lowest) * 100
}
