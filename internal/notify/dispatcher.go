// Package notify fans detected changes out to route subscribers.
package notify

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/visawatch/policywatch/internal/pipeline"
)

// Config controls the dispatcher.
type Config struct {
	// Topic names the change-event topic. Empty disables publishing.
	Topic string
}

// Dispatcher matches changes against route subscriptions and hands
// notifications to the email sender. Publisher and Summarizer are
// optional collaborators.
type Dispatcher struct {
	subscriptions pipeline.SubscriptionStore
	sender        pipeline.EmailSender
	summarizer    pipeline.Summarizer
	publisher     pipeline.Publisher
	cfg           Config
	logger        *zap.Logger
}

// New builds a dispatcher. Pass nil for summarizer or publisher to
// disable those steps.
func New(
	subscriptions pipeline.SubscriptionStore,
	sender pipeline.EmailSender,
	summarizer pipeline.Summarizer,
	publisher pipeline.Publisher,
	cfg Config,
	logger *zap.Logger,
) *Dispatcher {
	return &Dispatcher{
		subscriptions: subscriptions,
		sender:        sender,
		summarizer:    summarizer,
		publisher:     publisher,
		cfg:           cfg,
		logger:        logger,
	}
}

// ChangeEvent is the payload published for each detected change.
type ChangeEvent struct {
	SourceID    string `json:"source_id"`
	ChangeID    string `json:"change_id"`
	ContentHash string `json:"content_hash"`
	IsNew       bool   `json:"is_new"`
}

// Dispatch notifies every active subscriber whose route matches the
// source. A failed recipient is counted and skipped; it never blocks the
// rest of the fan-out.
func (d *Dispatcher) Dispatch(ctx context.Context, change pipeline.PolicyChange, version pipeline.PolicyVersion, source pipeline.Source) pipeline.DispatchResult {
	var result pipeline.DispatchResult

	d.summarize(ctx, &change)
	d.publish(ctx, change, version)

	subs, err := d.subscriptions.ListActiveSubscriptions(ctx)
	if err != nil {
		d.logger.Error("list subscriptions failed",
			zap.String("source_id", source.ID),
			zap.Error(err),
		)
		return result
	}

	subject := d.subject(change, source)
	body := d.body(change, source)
	for _, sub := range subs {
		if sub.Destination != source.Country || sub.VisaType != source.VisaType {
			continue
		}
		result.Matched++
		if err := d.sender.Send(ctx, sub.Email, subject, body); err != nil {
			result.Failed++
			d.logger.Warn("notification send failed",
				zap.String("source_id", source.ID),
				zap.String("change_id", change.ID),
				zap.String("subscription_id", sub.ID),
				zap.Error(err),
			)
			continue
		}
		result.Sent++
	}
	return result
}

// summarize fills Change.Summary when a summarizer is configured. A
// summarizer error leaves the summary empty.
func (d *Dispatcher) summarize(ctx context.Context, change *pipeline.PolicyChange) {
	if d.summarizer == nil || change.Summary != "" {
		return
	}
	summary, err := d.summarizer.Summarize(ctx, change.Diff)
	if err != nil {
		d.logger.Warn("summarize failed",
			zap.String("change_id", change.ID),
			zap.Error(err),
		)
		return
	}
	change.Summary = summary
}

func (d *Dispatcher) publish(ctx context.Context, change pipeline.PolicyChange, version pipeline.PolicyVersion) {
	if d.publisher == nil || d.cfg.Topic == "" {
		return
	}
	event := ChangeEvent{
		SourceID:    change.SourceID,
		ChangeID:    change.ID,
		ContentHash: version.ContentHash,
		IsNew:       change.IsNew,
	}
	if _, err := d.publisher.Publish(ctx, d.cfg.Topic, event); err != nil {
		d.logger.Warn("change event publish failed",
			zap.String("change_id", change.ID),
			zap.String("topic", d.cfg.Topic),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) subject(change pipeline.PolicyChange, source pipeline.Source) string {
	if change.IsNew {
		return fmt.Sprintf("Now monitoring: %s (%s %s)", source.Name, source.Country, source.VisaType)
	}
	return fmt.Sprintf("Policy update: %s (%s %s)", source.Name, source.Country, source.VisaType)
}

func (d *Dispatcher) body(change pipeline.PolicyChange, source pipeline.Source) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source: %s\nURL: %s\nDetected: %s\n",
		source.Name, source.URL, change.DetectedAt.Format("2006-01-02 15:04 MST"))
	if change.Summary != "" {
		fmt.Fprintf(&b, "\nSummary:\n%s\n", change.Summary)
	}
	fmt.Fprintf(&b, "\nDiff:\n%s", change.Diff)
	return b.String()
}
