package calculate

import (
	"math"

	"github.com/Alias1177/CoinDash/internal/market"
)

// IndicatorConfig holds the periods of the technical indicators block.
type IndicatorConfig struct {
	RSIPeriod int
	EMAPeriod int
	SMAPeriod int
	BBPeriod  int
	BBStdDev  float64
	StochK    int
	StochD    int
	ATRPeriod int
	// VolumePeriod is the number of recent candles AvgVolume averages.
	VolumePeriod int
}

// DefaultIndicatorConfig returns the usual periods.
func DefaultIndicatorConfig() IndicatorConfig {
	return IndicatorConfig{
		RSIPeriod:    14,
		EMAPeriod:    9,
		SMAPeriod:    20,
		BBPeriod:     20,
		BBStdDev:     2,
		StochK:       14,
		StochD:       3,
		ATRPeriod:    14,
		VolumePeriod: 10,
	}
}

// Indicators is the technical block shown next to the window KPIs. A nil
// field means the series was too short for that indicator.
type Indicators struct {
	RSI        *float64
	EMA        *float64
	SMA        *float64
	BBUpper    *float64
	BBMiddle   *float64
	BBLower    *float64
	Volatility *float64
	OBV        *float64
	StochK     *float64
	StochD     *float64
	ATR        *float64
	AvgVolume  *float64
	// Support and Resistance are swing levels, nearest first.
	Support    []float64
	Resistance []float64
}

// CalculateIndicators calculates the technical indicators of series.
func CalculateIndicators(series *market.Series, config IndicatorConfig) Indicators {
	closes := series.Closes()
	var ind Indicators

	if v, ok := calculateRSI(closes, config.RSIPeriod); ok {
		ind.RSI = &v
	}
	if v, ok := calculateEMA(closes, config.EMAPeriod); ok {
		ind.EMA = &v
	}
	if len(closes) >= config.SMAPeriod && config.SMAPeriod > 0 {
		v := calculateAverage(closes[len(closes)-config.SMAPeriod:])
		ind.SMA = &v
	}
	if upper, middle, lower, ok := calculateBollingerBands(closes, config.BBPeriod, config.BBStdDev); ok {
		ind.BBUpper, ind.BBMiddle, ind.BBLower = &upper, &middle, &lower
	}
	if v, ok := Volatility(series); ok {
		ind.Volatility = &v
	}
	if v, ok := calculateOBV(series.Candles); ok {
		ind.OBV = &v
	}
	if k, d, ok := calculateStochastic(series.Candles, config.StochK, config.StochD); ok {
		ind.StochK, ind.StochD = &k, &d
	}
	if v, ok := calculateATR(series.Candles, config.ATRPeriod); ok {
		ind.ATR = &v
	}
	if v, ok := averageVolume(series.Candles, config.VolumePeriod); ok {
		ind.AvgVolume = &v
	}
	ind.Support, ind.Resistance = identifySupportResistance(series.Candles)
	return ind
}

// Volatility is the standard deviation of the close-to-close percent changes.
func Volatility(series *market.Series) (float64, bool) {
	returns := DailyReturns(series)
	if len(returns) < 2 {
		return 0, false
	}
	values := make([]float64, len(returns))
	for i, r := range returns {
		values[i] = r.Pct
	}
	return stdDev(values, calculateAverage(values)), true
}

// calculateAverage calculates simple average
func calculateAverage(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	var sum float64
	for _, value := range values {
		sum += value
	}

	return sum / float64(len(values))
}

func stdDev(values []float64, mean float64) float64 {
	var variance float64
	for _, v := range values {
		variance += math.Pow(v-mean, 2)
	}
	return math.Sqrt(variance / float64(len(values)))
}

// calculateEMA seeds with the SMA of the first period closes, then smooths.
func calculateEMA(prices []float64, period int) (float64, bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}

	sma := calculateAverage(prices[:period])

	// Multiplier for weighting the EMA
	multiplier := 2.0 / float64(period+1)

	ema := sma
	for i := period; i < len(prices); i++ {
		ema = (prices[i]-ema)*multiplier + ema
	}

	return ema, true
}

// calculateRSI uses Wilder smoothing after the first period changes.
func calculateRSI(closes []float64, period int) (float64, bool) {
	if period <= 0 || len(closes) < period+1 {
		return 0, false
	}

	var gains, losses float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			gains += change
		} else {
			losses -= change
		}
	}

	avgGain := gains / float64(period)
	avgLoss := losses / float64(period)

	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
	}

	if avgLoss == 0 {
		return 100.0, true
	}

	rs := avgGain / avgLoss
	return 100.0 - (100.0 / (1.0 + rs)), true
}

// calculateBollingerBands calculates Bollinger Bands over the last period closes.
func calculateBollingerBands(closes []float64, period int, width float64) (upper, middle, lower float64, ok bool) {
	if period <= 0 || len(closes) < period {
		return 0, 0, 0, false
	}

	window := closes[len(closes)-period:]
	middle = calculateAverage(window)
	sd := stdDev(window, middle)

	return middle + sd*width, middle, middle - sd*width, true
}

// calculateOBV needs volume on every candle; a gap makes it absent.
func calculateOBV(candles []market.Candle) (float64, bool) {
	if len(candles) < 2 {
		return 0, false
	}
	for _, c := range candles {
		if c.Volume == nil {
			return 0, false
		}
	}

	obv := *candles[0].Volume
	for i := 1; i < len(candles); i++ {
		if candles[i].Close > candles[i-1].Close {
			obv += *candles[i].Volume
		} else if candles[i].Close < candles[i-1].Close {
			obv -= *candles[i].Volume
		}
	}

	return obv, true
}
