package calculate

import (
	"math"

	"github.com/Alias1177/CoinDash/internal/market"
)

// calculateATR calculates the Average True Range over the last period candles.
func calculateATR(candles []market.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period+1 {
		return 0, false
	}

	var sum float64
	for i := len(candles) - period; i < len(candles); i++ {
		// True Range is the greatest of:
		// 1. Current High - Current Low
		// 2. Abs(Current High - Previous Close)
		// 3. Abs(Current Low - Previous Close)
		highLow := candles[i].High - candles[i].Low
		highPrevClose := math.Abs(candles[i].High - candles[i-1].Close)
		lowPrevClose := math.Abs(candles[i].Low - candles[i-1].Close)

		sum += math.Max(highLow, math.Max(highPrevClose, lowPrevClose))
	}
	return sum / float64(period), true
}

// averageVolume averages the volume of the last period candles. It is
// absent when any of them carries no volume.
func averageVolume(candles []market.Candle, period int) (float64, bool) {
	if period <= 0 || len(candles) < period {
		return 0, false
	}

	var total float64
	for _, c := range candles[len(candles)-period:] {
		if c.Volume == nil {
			return 0, false
		}
		total += *c.Volume
	}
	return total / float64(period), true
}
