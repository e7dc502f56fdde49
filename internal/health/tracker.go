package health

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/visawatch/policywatch/internal/pipeline"
)

// Tracker records fetch outcomes back onto source records.
type Tracker struct {
	sources pipeline.SourceStore
	clock   pipeline.Clock
	policy  Policy
	logger  *zap.Logger
}

// NewTracker constructs a Tracker.
func NewTracker(sources pipeline.SourceStore, clock pipeline.Clock, policy Policy, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{
		sources: sources,
		clock:   clock,
		policy:  policy,
		logger:  logger,
	}
}

// Policy exposes the classification thresholds in use.
func (t *Tracker) Policy() Policy {
	return t.policy
}

// RecordSuccess resets the failure counter and advances the check timestamps.
func (t *Tracker) RecordSuccess(ctx context.Context, source pipeline.Source, changed bool) (pipeline.SourceHealth, error) {
	updated := Success(source.Health, source.CheckFrequency, changed, t.clock.Now())
	if err := t.sources.UpdateHealth(ctx, source.ID, updated); err != nil {
		return source.Health, fmt.Errorf("update health for source %s: %w", source.ID, err)
	}
	return updated, nil
}

// RecordFailure increments the failure counter and stores the error message.
func (t *Tracker) RecordFailure(ctx context.Context, source pipeline.Source, fetchErr error) (pipeline.SourceHealth, error) {
	updated := Failure(source.Health, source.CheckFrequency, fetchErr, t.clock.Now())
	if err := t.sources.UpdateHealth(ctx, source.ID, updated); err != nil {
		return source.Health, fmt.Errorf("update health for source %s: %w", source.ID, err)
	}
	if updated.ConsecutiveFailures >= t.policy.ErrorThreshold {
		t.logger.Warn("source crossed error threshold",
			zap.String("source_id", source.ID),
			zap.Int("consecutive_failures", updated.ConsecutiveFailures),
			zap.String("last_error", *updated.LastError),
		)
	}
	return updated, nil
}
