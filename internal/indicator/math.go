package indicator

import "math"

// SMA is the mean of the last window values.
func SMA(values []float64, window int) Value {
	if window <= 0 || len(values) < window {
		return Value{}
	}
	return Some(mean(values[len(values)-window:]))
}

// EMA returns the exponential moving average series seeded with the SMA of
// the first period values. The result starts at index period-1 of values.
func EMA(values []float64, period int) []float64 {
	if period <= 0 || len(values) < period {
		return nil
	}
	alpha := 2.0 / float64(period+1)
	out := make([]float64, 0, len(values)-period+1)
	prev := mean(values[:period])
	out = append(out, prev)
	for _, v := range values[period:] {
		prev = alpha*v + (1-alpha)*prev
		out = append(out, prev)
	}
	return out
}

// RSI averages the gains and losses of the last period close deltas.
func RSI(closes []float64, period int) Value {
	if period <= 0 || len(closes) < period+1 {
		return Value{}
	}
	var gain, loss float64
	start := len(closes) - period
	for i := start; i < len(closes); i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)
	switch {
	case avgLoss == 0 && avgGain == 0:
		return Some(50)
	case avgLoss == 0:
		return Some(100)
	}
	rs := avgGain / avgLoss
	return Some(100 - 100/(1+rs))
}

type MACDResult struct {
	MACD      Value
	Signal    Value
	Histogram Value
}

func MACD(closes []float64, fast, slow, signal int) MACDResult {
	var result MACDResult
	if fast <= 0 || slow <= fast || signal <= 0 {
		return result
	}
	fastEMA := EMA(closes, fast)
	slowEMA := EMA(closes, slow)
	if slowEMA == nil {
		return result
	}
	// fastEMA[i] and slowEMA[i] refer to closes[i+fast-1] and closes[i+slow-1].
	offset := slow - fast
	line := make([]float64, len(slowEMA))
	for i := range slowEMA {
		line[i] = fastEMA[i+offset] - slowEMA[i]
	}
	result.MACD = Some(line[len(line)-1])

	signalEMA := EMA(line, signal)
	if signalEMA == nil {
		return result
	}
	sig := signalEMA[len(signalEMA)-1]
	result.Signal = Some(sig)
	result.Histogram = Some(result.MACD.Float - sig)
	return result
}

type BollingerResult struct {
	Upper    Value
	Mid      Value
	Lower    Value
	Position Value
}

// Bollinger bands use the sample standard deviation of the window.
func Bollinger(closes []float64, window int, k float64) BollingerResult {
	var result BollingerResult
	if window < 2 || len(closes) < window {
		return result
	}
	tail := closes[len(closes)-window:]
	mid := mean(tail)
	sd := sampleStdDev(tail)
	upper := mid + k*sd
	lower := mid - k*sd
	result.Mid = Some(mid)
	result.Upper = Some(upper)
	result.Lower = Some(lower)
	if upper != lower {
		result.Position = Some((closes[len(closes)-1] - lower) / (upper - lower))
	}
	return result
}

// Volatility is the coefficient of variation of the last window closes.
func Volatility(closes []float64, window int) Value {
	if window < 2 || len(closes) < window {
		return Value{}
	}
	tail := closes[len(closes)-window:]
	m := mean(tail)
	if m == 0 {
		return Value{}
	}
	return Some(sampleStdDev(tail) / m)
}

func Momentum(closes []float64, period int) Value {
	if period <= 0 || len(closes) < period+1 {
		return Value{}
	}
	base := closes[len(closes)-1-period]
	if base == 0 {
		return Value{}
	}
	return Some(closes[len(closes)-1]/base - 1)
}

// VolumeRatio compares the latest volume with the mean of the last window
// volumes, the latest included.
func VolumeRatio(volumes []float64, window int) Value {
	if window <= 0 || len(volumes) < window {
		return Value{}
	}
	m := mean(volumes[len(volumes)-window:])
	if m == 0 {
		return Value{}
	}
	return Some(volumes[len(volumes)-1] / m)
}

func Min(values []float64, window int) Value {
	if window <= 0 || len(values) < window {
		return Value{}
	}
	out := math.Inf(1)
	for _, v := range values[len(values)-window:] {
		out = math.Min(out, v)
	}
	return Some(out)
}

func Max(values []float64, window int) Value {
	if window <= 0 || len(values) < window {
		return Value{}
	}
	out := math.Inf(-1)
	for _, v := range values[len(values)-window:] {
		out = math.Max(out, v)
	}
	return Some(out)
}

// PopulationStdDev is exported for confidence aggregation in the signal package.
func PopulationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleStdDev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}
