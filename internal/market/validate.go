package market

import "fmt"

// CheckResult is the outcome of one named check against a batch.
type CheckResult struct {
	Name  string
	Fatal bool
	Pass  bool
	Detail string
}

// BatchReport is the full set of check results for one validated batch.
type BatchReport struct {
	Results []CheckResult
}

// Fatal returns true if any fatal check failed; a batch with a fatal failure
// must be rejected rather than written.
func (r BatchReport) Fatal() bool {
	for _, c := range r.Results {
		if c.Fatal && !c.Pass {
			return true
		}
	}
	return false
}

// FirstFatal returns the first failing fatal check, if any.
func (r BatchReport) FirstFatal() (CheckResult, bool) {
	for _, c := range r.Results {
		if c.Fatal && !c.Pass {
			return c, true
		}
	}
	return CheckResult{}, false
}

// Validator applies pure, stateless structural/semantic checks to a batch
// before it is handed to the Storage Driver. Fatal checks reject the whole
// batch; non-fatal checks are recorded but the batch still gets written.
type Validator struct {
	// MaxReturnFraction is the non-fatal threshold for price-return-exceeds
	// checks (default 0.10, i.e. 10%).
	MaxReturnFraction float64
}

// NewValidator returns a Validator configured with spec defaults.
func NewValidator() *Validator {
	return &Validator{MaxReturnFraction: 0.10}
}

// ValidateCandles runs the fatal OHLC-inequality and duplicate-key checks,
// plus the non-fatal time-continuity and price-return checks, on a batch of
// candles that all share one (symbol, timeframe).
func (v *Validator) ValidateCandles(candles []Candle) BatchReport {
	report := BatchReport{}

	ohlcOK := true
	nullOK := true
	for _, c := range candles {
		if c.Symbol == "" || c.Timeframe == "" || c.Time.IsZero() {
			nullOK = false
		}
		lo := min(c.Open, c.Close)
		hi := max(c.Open, c.Close)
		if !(c.Low <= lo && lo <= hi && hi <= c.High) {
			ohlcOK = false
		}
		if c.Low < 0 || c.High < 0 || c.Open < 0 || c.Close < 0 || c.Volume < 0 {
			ohlcOK = false
		}
	}
	report.Results = append(report.Results,
		CheckResult{Name: "null_in_required_field", Fatal: true, Pass: nullOK},
		CheckResult{Name: "valid_ohlc", Fatal: true, Pass: ohlcOK},
		CheckResult{Name: "duplicate_key_in_batch", Fatal: true, Pass: !hasDuplicateCandleKeys(candles)},
	)

	gapOK, gapDetail := candleTimeContinuity(candles)
	report.Results = append(report.Results, CheckResult{Name: "time_continuity", Fatal: false, Pass: gapOK, Detail: gapDetail})

	returnOK, returnDetail := candlePriceReturn(candles, v.maxReturn())
	report.Results = append(report.Results, CheckResult{Name: "price_return", Fatal: false, Pass: returnOK, Detail: returnDetail})

	return report
}

// ValidateOpenInterest runs the fatal non-positive-OI and duplicate-key checks.
func (v *Validator) ValidateOpenInterest(rows []OpenInterest) BatchReport {
	report := BatchReport{}
	positiveOK := true
	nullOK := true
	seen := make(map[string]struct{}, len(rows))
	dupOK := true
	for _, r := range rows {
		if r.Symbol == "" || r.Period == "" || r.Time.IsZero() {
			nullOK = false
		}
		if r.OpenInterest < 0 {
			positiveOK = false
		}
		key := fmt.Sprintf("%d|%s|%s", r.Time.UnixMilli(), r.Symbol, r.Period)
		if _, ok := seen[key]; ok {
			dupOK = false
		}
		seen[key] = struct{}{}
	}
	report.Results = append(report.Results,
		CheckResult{Name: "null_in_required_field", Fatal: true, Pass: nullOK},
		CheckResult{Name: "non_positive_oi", Fatal: true, Pass: positiveOK},
		CheckResult{Name: "duplicate_key_in_batch", Fatal: true, Pass: dupOK},
	)
	return report
}

func (v *Validator) maxReturn() float64 {
	if v.MaxReturnFraction <= 0 {
		return 0.10
	}
	return v.MaxReturnFraction
}

func hasDuplicateCandleKeys(candles []Candle) bool {
	seen := make(map[string]struct{}, len(candles))
	for _, c := range candles {
		key := fmt.Sprintf("%d|%s|%s", c.Time.UnixMilli(), c.Symbol, c.Timeframe)
		if _, ok := seen[key]; ok {
			return true
		}
		seen[key] = struct{}{}
	}
	return false
}

// candleTimeContinuity checks for gaps between consecutive candles assuming
// the slice is already sorted ascending by time; any spacing other than the
// spacing between the first two candles is reported as a gap, but never
// fails the batch.
func candleTimeContinuity(candles []Candle) (bool, string) {
	if len(candles) < 2 {
		return true, ""
	}
	modal := candles[1].Time.Sub(candles[0].Time)
	for i := 1; i < len(candles); i++ {
		gap := candles[i].Time.Sub(candles[i-1].Time)
		if gap != modal {
			return false, fmt.Sprintf("gap at index %d: %s vs modal %s", i, gap, modal)
		}
	}
	return true, ""
}

// candlePriceReturn flags consecutive closes moving by more than maxFraction.
func candlePriceReturn(candles []Candle, maxFraction float64) (bool, string) {
	for i := 1; i < len(candles); i++ {
		prev := candles[i-1].Close
		if prev == 0 {
			continue
		}
		ret := (candles[i].Close - prev) / prev
		if ret < 0 {
			ret = -ret
		}
		if ret > maxFraction {
			return false, fmt.Sprintf("return at index %d exceeds %.2f%%: %.4f", i, maxFraction*100, ret)
		}
	}
	return true, ""
}
