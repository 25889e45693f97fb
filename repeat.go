package speedtest

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RepeatConfig configures repeat mode. Transfers are repeated until
// Count transfers have completed or Window has elapsed, whichever comes
// first. A zero field is not a limit, but at least one must be set.
type RepeatConfig struct {
	Count  int
	Window time.Duration
}

func (rc RepeatConfig) validate() error {
	if rc.Count < 0 || rc.Window < 0 || (rc.Count == 0 && rc.Window == 0) {
		return fmt.Errorf("%w: repeat needs a count or a window", ErrInvalidArgument)
	}
	return nil
}

func (rc RepeatConfig) done(reps int, elapsed time.Duration) bool {
	return (rc.Count > 0 && reps >= rc.Count) || (rc.Window > 0 && elapsed >= rc.Window)
}

// percent combines the progress of the current repetition with the
// fraction of repetitions and of the window already consumed.
func (rc RepeatConfig) percent(rep int, current float64, elapsed time.Duration) float64 {
	var pct float64
	if rc.Count > 0 {
		pct = (float64(rep-1) + current/100) * 100 / float64(rc.Count)
	}
	if rc.Window > 0 {
		pct = max(pct, float64(elapsed)*100/float64(rc.Window))
	}
	return min(pct, 100)
}

// aggregate is the cumulative moving average of the repetitions rates.
type aggregate struct {
	count int64
	reps  int64
	sum   decimal.Decimal // of bytes per second
}

func (a *aggregate) add(m measurement) {
	a.count += m.Count
	if m.Elapsed > 0 {
		a.sum = a.sum.Add(m.rate().BytesPerSecond)
		a.reps++
	}
}

// average returns the average including current, if not nil.
func (a *aggregate) average(current *RateEstimate, start, end time.Duration) RateEstimate {
	sum, n := a.sum, a.reps
	if current != nil {
		sum = sum.Add(current.BytesPerSecond)
		n++
	}
	if n == 0 {
		return newRateEstimateFromBytes(decimal.Zero, start, end)
	}
	return newRateEstimateFromBytes(sum.Div(decimal.NewFromInt(n)), start, end)
}

// runRepeat returns a function running transfers back to back, emitting
// progress computed over the whole repetition and a single final report
// carrying the aggregated rate.
func (e *Engine) runRepeat(rc RepeatConfig) func(context.Context, *task) {
	return func(ctx context.Context, t *task) {
		var agg aggregate
		if rc.Window > 0 {
			t.until = t.begin.Add(rc.Window)
		}
		rep := 1
		for ; ; rep++ {
			m, err := e.transfer(ctx, t, func(p progress) {
				elapsed := time.Since(t.begin)
				pct := rc.percent(rep, p.Percent, elapsed)
				if pct >= 100 {
					return // reserved to the final report
				}
				report := t.newReport(p, pct)
				report.Rate = agg.average(&p.Rate, p.Rate.WindowStart, p.Rate.WindowEnd)
				report.Transferred = agg.count + p.Sample.Count
				report.Total = -1
				report.Repetition = rep
				t.emit(report)
			})
			if err != nil {
				t.finish(ctx, agg.count+m.Count, agg.average(nil, 0, 0), err)
				return
			}
			agg.add(m)
			t.logger.Debug().Int("repetition", rep).Int64("bytes", m.Count).Msg("repetition done")
			if rc.done(rep, time.Since(t.begin)) {
				break
			}
		}
		elapsed := time.Since(t.begin)
		estimate := agg.average(nil, 0, elapsed)
		report := t.newReport(progress{
			Sample: Sample{Elapsed: elapsed, Count: agg.count},
			Rate:   estimate,
			Total:  -1,
		}, 100)
		report.Repetition = rep
		t.emit(report)
		t.finish(ctx, agg.count, estimate, nil)
	}
}
