package track

import (
	"fmt"
	"time"

	"github.com/mibworks/tasktrack/internal/task"
)

// Sample is one progress observation used as estimator input.
type Sample struct {
	TaskID   string
	At       time.Time
	Progress float64
}

// Estimate derives remaining time from a task's sample history. The first
// non-zero, non-complete sample fixes the baseline; the overall rate since
// then projects the rest. It returns false when fewer than two usable
// samples exist or the rate is not positive, in which case callers render
// a "calculating" placeholder.
func Estimate(samples []Sample) (time.Duration, bool) {
	var base *Sample
	var last *Sample
	for i := range samples {
		s := &samples[i]
		if base == nil {
			if s.Progress > 0 && s.Progress < 100 {
				base = s
			}
			continue
		}
		last = s
	}
	if base == nil || last == nil {
		return 0, false
	}
	elapsed := last.At.Sub(base.At)
	progressed := last.Progress - base.Progress
	if elapsed <= 0 || progressed <= 0 {
		return 0, false
	}
	rate := progressed / elapsed.Seconds() // percent per second
	if rate <= 0 {
		return 0, false
	}
	remaining := (100 - last.Progress) / rate
	return time.Duration(remaining * float64(time.Second)), true
}

// ETAFor resolves a task's displayed ETA. A backend-supplied value always
// wins; the sample-based estimate is the degraded-mode fallback.
func ETAFor(rec task.Record, samples []Sample) (time.Duration, bool) {
	if rec.ETASeconds != nil {
		return time.Duration(*rec.ETASeconds * float64(time.Second)), true
	}
	if rec.Status != task.StatusRunning {
		return 0, false
	}
	return Estimate(samples)
}

// FormatETA renders a duration using its two largest non-zero units, the
// way the dashboard shows remaining time: "1h 2m", "2m 5s", "45s".
func FormatETA(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d.Round(time.Second) / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
