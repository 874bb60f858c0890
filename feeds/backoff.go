package feeds

import (
	"sort"
	"time"

	log "github.com/sirupsen/logrus"
)

// Polling cadence bounds.
const (
	// MinBackoff is the floor between polls and the burst-detection gap.
	MinBackoff = 5 * time.Minute
	// ShortBackoff separates "active" feeds from "inactive" ones.
	ShortBackoff = 2 * time.Hour
	// LongBackoff caps any computed delay and is the default for feeds
	// with no history.
	LongBackoff = 24 * time.Hour
	// MaxBackoff is the silence threshold beyond which a feed is "slow".
	MaxBackoff = 4 * 24 * time.Hour
)

// NextCheck computes the next polling instant for a feed from its observed
// publication timestamps. Pure function: no I/O, no locks.
func NextCheck(now time.Time, timestamps []time.Time) time.Time {
	if len(timestamps) == 0 {
		return now.Add(LongBackoff)
	}

	mostRecent := timestamps[0]
	for _, ts := range timestamps[1:] {
		if ts.After(mostRecent) {
			mostRecent = ts
		}
	}
	since := now.Sub(mostRecent)
	period := medianUpdatePeriod(timestamps)

	logger := log.WithFields(log.Fields{
		"most_recent":   mostRecent,
		"since":         since,
		"median_period": period,
	})

	switch {
	case since > MaxBackoff:
		// Slow feed: poll once a day, at the clock time the feed last
		// published (plus a margin), snapped onto today's date.
		next := mostRecent.Add(ShortBackoff)
		next = time.Date(now.Year(), now.Month(), now.Day(),
			next.Hour(), next.Minute(), next.Second(), next.Nanosecond(), time.UTC)
		if next.Before(now) {
			next = next.Add(24 * time.Hour)
		}
		logger.WithField("next_check", next).Debug("Slow strategy")
		return next

	case since < ShortBackoff:
		delay := clampDuration(period, MinBackoff, LongBackoff)
		logger.WithField("delay", delay).Debug("Active strategy")
		return now.Add(delay)

	default:
		delay := clampDuration(period, ShortBackoff, LongBackoff)
		logger.WithField("delay", delay).Debug("Inactive strategy")
		return now.Add(delay)
	}
}

// medianUpdatePeriod estimates how often a feed publishes. Timestamps are
// grouped into bursts: a burst closes once the gap from its first member
// reaches MinBackoff, and that gap is the burst length. The median burst
// length is the estimate; a history with no closed bursts answers
// ShortBackoff.
func medianUpdatePeriod(timestamps []time.Time) time.Duration {
	sorted := make([]time.Time, len(timestamps))
	copy(sorted, timestamps)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Before(sorted[j]) })

	var burstTimes []time.Duration
	var burstBegin time.Time
	for _, ts := range sorted {
		if burstBegin.IsZero() {
			burstBegin = ts
			continue
		}
		if diff := ts.Sub(burstBegin); diff >= MinBackoff {
			burstTimes = append(burstTimes, diff)
			burstBegin = ts
		}
	}

	if len(burstTimes) == 0 {
		return ShortBackoff
	}

	sort.Slice(burstTimes, func(i, j int) bool { return burstTimes[i] < burstTimes[j] })
	mid := len(burstTimes) / 2
	if len(burstTimes)%2 == 0 {
		return (burstTimes[mid-1] + burstTimes[mid]) / 2
	}
	return burstTimes[mid]
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
