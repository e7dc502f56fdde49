// Package scheduler runs the periodic fetch batches and manual triggers.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/visawatch/policywatch/internal/locker"
	"github.com/visawatch/policywatch/internal/metrics"
	"github.com/visawatch/policywatch/internal/pipeline"
)

// ChangeDetector compares a fetch result with stored history.
type ChangeDetector interface {
	Detect(ctx context.Context, source pipeline.Source, result pipeline.FetchResult) (pipeline.ChangeOutcome, error)
}

// HealthRecorder updates per-source health after each attempt.
type HealthRecorder interface {
	RecordSuccess(ctx context.Context, source pipeline.Source, changed bool) (pipeline.SourceHealth, error)
	RecordFailure(ctx context.Context, source pipeline.Source, fetchErr error) (pipeline.SourceHealth, error)
}

// Notifier fans a detected change out to subscribers.
type Notifier interface {
	Dispatch(ctx context.Context, change pipeline.PolicyChange, version pipeline.PolicyVersion, source pipeline.Source) pipeline.DispatchResult
}

// Config controls the batch loop.
type Config struct {
	PollInterval time.Duration
	Concurrency  int
}

// Scheduler owns the batch loop and the manual trigger path. Per-source
// mutual exclusion is enforced with keyed try-locks so a manual trigger
// and a batch worker never process the same source concurrently.
type Scheduler struct {
	sources  pipeline.SourceStore
	reports  pipeline.ReportStore
	fetcher  pipeline.Fetcher
	detector ChangeDetector
	health   HealthRecorder
	notifier Notifier
	locks    *locker.Keyed
	clock    pipeline.Clock
	ids      pipeline.IDGenerator
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Scheduler.
func New(
	sources pipeline.SourceStore,
	reports pipeline.ReportStore,
	fetcher pipeline.Fetcher,
	detector ChangeDetector,
	health HealthRecorder,
	notifier Notifier,
	clock pipeline.Clock,
	ids pipeline.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	metrics.Init()
	return &Scheduler{
		sources:  sources,
		reports:  reports,
		fetcher:  fetcher,
		detector: detector,
		health:   health,
		notifier: notifier,
		locks:    locker.New(),
		clock:    clock,
		ids:      ids,
		cfg:      cfg,
		logger:   logger,
	}
}

// Run blocks, executing a batch every poll interval until the context
// finishes. The first batch runs immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	s.RunBatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunBatch(ctx)
		}
	}
}

// RunBatch processes every due source once through a bounded worker
// pool and persists a job report. One source's failure never aborts the
// batch.
func (s *Scheduler) RunBatch(ctx context.Context) pipeline.FetchJobReport {
	now := s.clock.Now()
	report := pipeline.FetchJobReport{StartedAt: now}
	if id, err := s.ids.NewID(); err == nil {
		report.ID = id
	} else {
		s.logger.Error("report id generation failed", zap.Error(err))
		return report
	}

	due, err := s.sources.ListDueSources(ctx, now)
	if err != nil {
		s.logger.Error("list due sources failed", zap.Error(err))
		metrics.ObserveBatchRun("failed")
		return report
	}
	if err := s.reports.CreateReport(ctx, report); err != nil {
		s.logger.Error("create report failed", zap.String("report_id", report.ID), zap.Error(err))
	}

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		slot = make(chan struct{}, s.cfg.Concurrency)
	)
	for _, source := range due {
		select {
		case <-ctx.Done():
			s.logger.Warn("batch interrupted", zap.String("report_id", report.ID))
			wg.Wait()
			return s.finalize(ctx, report, "canceled")
		case slot <- struct{}{}:
		}

		wg.Add(1)
		go func(src pipeline.Source) {
			defer wg.Done()
			defer func() { <-slot }()

			result := s.processSource(ctx, src)

			mu.Lock()
			defer mu.Unlock()
			if result.skipped {
				return
			}
			report.Processed++
			if result.trigger.Success {
				report.Succeeded++
			} else {
				report.Failed++
				report.Errors = append(report.Errors,
					fmt.Sprintf("%s: %s", src.ID, result.trigger.Error))
			}
			if result.trigger.ChangeDetected {
				report.ChangesDetected++
			}
			report.AlertsSent += result.alertsSent
		}(source)
	}
	wg.Wait()
	return s.finalize(ctx, report, "completed")
}

func (s *Scheduler) finalize(ctx context.Context, report pipeline.FetchJobReport, status string) pipeline.FetchJobReport {
	completed := s.clock.Now()
	report.CompletedAt = &completed
	if err := s.reports.FinalizeReport(ctx, report); err != nil {
		s.logger.Error("finalize report failed", zap.String("report_id", report.ID), zap.Error(err))
	}
	metrics.ObserveBatchRun(status)
	s.logger.Info("batch finished",
		zap.String("report_id", report.ID),
		zap.String("status", status),
		zap.Int("processed", report.Processed),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("failed", report.Failed),
		zap.Int("changes", report.ChangesDetected),
	)
	return report
}

type sourceResult struct {
	trigger    pipeline.TriggerResult
	alertsSent int
	skipped    bool
}

// processSource runs the fetch pipeline for one source under its lock.
// A source already in flight is skipped; it counts neither as succeeded
// nor failed.
func (s *Scheduler) processSource(ctx context.Context, source pipeline.Source) sourceResult {
	if !s.locks.TryAcquire(source.ID) {
		s.logger.Debug("source busy, skipping", zap.String("source_id", source.ID))
		return sourceResult{skipped: true}
	}
	defer s.locks.Release(source.ID)

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	trigger, alerts := s.runPipeline(ctx, source)
	return sourceResult{trigger: trigger, alertsSent: alerts}
}

// TriggerSource runs the pipeline for one source on demand. It returns
// ErrSourceBusy when the source is already being processed.
func (s *Scheduler) TriggerSource(ctx context.Context, sourceID string) (pipeline.TriggerResult, error) {
	source, err := s.sources.GetSource(ctx, sourceID)
	if err != nil {
		return pipeline.TriggerResult{}, err
	}
	if !s.locks.TryAcquire(source.ID) {
		return pipeline.TriggerResult{}, pipeline.ErrSourceBusy
	}
	defer s.locks.Release(source.ID)

	trigger, _ := s.runPipeline(ctx, source)
	return trigger, nil
}

func (s *Scheduler) runPipeline(ctx context.Context, source pipeline.Source) (pipeline.TriggerResult, int) {
	trigger := pipeline.TriggerResult{
		SourceID:  source.ID,
		FetchedAt: s.clock.Now(),
	}

	fetched, err := s.fetcher.Fetch(ctx, source)
	if err != nil {
		return s.failSource(ctx, source, trigger, err), 0
	}
	metrics.ObserveFetch(source.ID, "success", fetched.Duration)

	outcome, err := s.detector.Detect(ctx, source, fetched)
	if err != nil {
		return s.failSource(ctx, source, trigger, err), 0
	}

	changed := outcome.Kind != pipeline.OutcomeNoChange
	if _, err := s.health.RecordSuccess(ctx, source, changed); err != nil {
		s.logger.Error("record success failed",
			zap.String("source_id", source.ID),
			zap.Error(err),
		)
	}

	trigger.Success = true
	alerts := 0
	if changed {
		metrics.ObserveChange(source.ID, string(outcome.Kind))
		trigger.ChangeDetected = true
		trigger.VersionID = outcome.NewVersion.ID
		trigger.ChangeID = outcome.Change.ID
		if s.notifier != nil {
			dispatched := s.notifier.Dispatch(ctx, *outcome.Change, *outcome.NewVersion, source)
			metrics.ObserveNotifications(dispatched.Sent, dispatched.Failed)
			alerts = dispatched.Sent
		}
	}
	return trigger, alerts
}

func (s *Scheduler) failSource(ctx context.Context, source pipeline.Source, trigger pipeline.TriggerResult, cause error) pipeline.TriggerResult {
	metrics.ObserveFetch(source.ID, "failure", 0)
	trigger.Success = false
	trigger.Error = cause.Error()
	s.logger.Warn("source processing failed",
		zap.String("source_id", source.ID),
		zap.String("url", source.URL),
		zap.Error(cause),
	)
	if _, err := s.health.RecordFailure(ctx, source, cause); err != nil {
		s.logger.Error("record failure failed",
			zap.String("source_id", source.ID),
			zap.Error(err),
		)
	}
	return trigger
}
