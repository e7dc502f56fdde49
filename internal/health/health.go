// Package health maintains per-source operational state and derives status
// classifications from it.
package health

import (
	"time"

	"github.com/visawatch/policywatch/internal/pipeline"
)

// Frequency aliases accepted in Source.CheckFrequency; anything else is
// parsed as a Go duration string.
const (
	FrequencyDaily  = "daily"
	FrequencyWeekly = "weekly"
)

// Policy holds the classification thresholds. Both are configuration knobs
// rather than constants.
type Policy struct {
	ErrorThreshold  int
	StaleMultiplier int
}

// DefaultPolicy mirrors the config defaults.
func DefaultPolicy() Policy {
	return Policy{ErrorThreshold: 3, StaleMultiplier: 2}
}

// Interval converts a check frequency into a duration. Unparseable values
// fall back to daily so a misconfigured source keeps getting checked.
func Interval(frequency string) time.Duration {
	switch frequency {
	case FrequencyDaily, "":
		return 24 * time.Hour
	case FrequencyWeekly:
		return 7 * 24 * time.Hour
	}
	d, err := time.ParseDuration(frequency)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// Classify derives the status for a source. It is a pure function of the
// health fields, the check frequency, and the current time, so it can never
// drift from the persisted state.
func Classify(h pipeline.SourceHealth, frequency string, now time.Time, p Policy) pipeline.HealthStatus {
	if h.LastCheckedAt == nil {
		return pipeline.StatusNeverChecked
	}
	if h.ConsecutiveFailures >= p.ErrorThreshold {
		return pipeline.StatusError
	}
	overdue := time.Duration(p.StaleMultiplier) * Interval(frequency)
	if now.Sub(*h.LastCheckedAt) >= overdue {
		return pipeline.StatusStale
	}
	return pipeline.StatusHealthy
}

// Success returns the health state after a successful fetch attempt.
func Success(h pipeline.SourceHealth, frequency string, changed bool, now time.Time) pipeline.SourceHealth {
	checked := now
	h.LastCheckedAt = &checked
	h.ConsecutiveFailures = 0
	h.LastError = nil
	if changed {
		changedAt := now
		h.LastChangeAt = &changedAt
	}
	h.NextCheckAt = now.Add(Interval(frequency))
	return h
}

// Failure returns the health state after a failed fetch attempt. An attempt
// still counts as a check, so LastCheckedAt advances.
func Failure(h pipeline.SourceHealth, frequency string, err error, now time.Time) pipeline.SourceHealth {
	checked := now
	h.LastCheckedAt = &checked
	h.ConsecutiveFailures++
	msg := err.Error()
	h.LastError = &msg
	h.NextCheckAt = now.Add(Interval(frequency))
	return h
}
