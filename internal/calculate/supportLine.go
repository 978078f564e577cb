package calculate

import (
	"math"
	"sort"

	"github.com/Alias1177/CoinDash/internal/market"
)

// levelTolerance clusters swing points within this fraction of the price.
const levelTolerance = 0.005

// maxLevels caps how many support and resistance levels are reported.
const maxLevels = 3

// identifySupportResistance finds swing lows and highs (extremes of a
// five-candle neighbourhood), clusters them and returns the nearest levels
// below and above the last close, nearest first.
func identifySupportResistance(candles []market.Candle) ([]float64, []float64) {
	if len(candles) < 20 {
		return nil, nil
	}

	currentPrice := candles[len(candles)-1].Close
	step := currentPrice * levelTolerance
	if step <= 0 {
		return nil, nil
	}

	// Price points map tracks touch frequency per clustered level.
	pricePoints := make(map[float64]int)
	for i := 2; i < len(candles)-2; i++ {
		if candles[i].Low < candles[i-1].Low &&
			candles[i].Low < candles[i-2].Low &&
			candles[i].Low < candles[i+1].Low &&
			candles[i].Low < candles[i+2].Low {
			pricePoints[math.Round(candles[i].Low/step)*step]++
		}

		if candles[i].High > candles[i-1].High &&
			candles[i].High > candles[i-2].High &&
			candles[i].High > candles[i+1].High &&
			candles[i].High > candles[i+2].High {
			pricePoints[math.Round(candles[i].High/step)*step]++
		}
	}

	type priceLevel struct {
		price    float64
		strength int
	}
	var levels []priceLevel
	for price, strength := range pricePoints {
		levels = append(levels, priceLevel{price: price, strength: strength})
	}
	sort.Slice(levels, func(i, j int) bool {
		if levels[i].strength != levels[j].strength {
			return levels[i].strength > levels[j].strength
		}
		return levels[i].price < levels[j].price
	})

	var support, resistance []float64
	for _, level := range levels {
		if level.price < currentPrice && len(support) < maxLevels {
			support = append(support, level.price)
		} else if level.price > currentPrice && len(resistance) < maxLevels {
			resistance = append(resistance, level.price)
		}
	}

	// Nearest first.
	sort.Sort(sort.Reverse(sort.Float64Slice(support)))
	sort.Float64s(resistance)

	return support, resistance
}
