// Package fetcher retrieves source documents and reduces them to normalized
// plain text, classifying failures into the pipeline error taxonomy.
package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/visawatch/policywatch/internal/extract"
	"github.com/visawatch/policywatch/internal/pipeline"
)

// RawResponse is the transport-level result produced by a RawFetcher.
type RawResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// RawFetcher retrieves the bytes behind a URL.
type RawFetcher interface {
	Fetch(ctx context.Context, url string) (RawResponse, error)
}

// Config controls the document fetcher.
type Config struct {
	HeadlessEnabled bool
	ThinBodyMinSize int
}

// Document implements pipeline.Fetcher. It probes with a plain HTTP fetch
// and, for HTML sources that render client-side, optionally promotes to a
// headless browser fetch before extraction.
type Document struct {
	probe    RawFetcher
	headless RawFetcher
	detector *ThinContentDetector
	cfg      Config
	logger   *zap.Logger
}

// NewDocument constructs a Document fetcher. headless may be nil when the
// rendering fallback is disabled.
func NewDocument(probe, headless RawFetcher, cfg Config, logger *zap.Logger) *Document {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Document{
		probe:    probe,
		headless: headless,
		detector: NewThinContentDetector(cfg.ThinBodyMinSize),
		cfg:      cfg,
		logger:   logger,
	}
}

// Fetch retrieves and normalizes one source document.
func (d *Document) Fetch(ctx context.Context, source pipeline.Source) (pipeline.FetchResult, error) {
	resp, err := d.probe.Fetch(ctx, source.URL)
	if err != nil {
		return pipeline.FetchResult{}, classifyTransportError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pipeline.FetchResult{}, pipeline.NewHTTPError(resp.StatusCode,
			fmt.Sprintf("%s returned %s", source.URL, http.StatusText(resp.StatusCode)))
	}

	switch source.FetchType {
	case pipeline.FetchTypePDF:
		return d.finishPDF(source, resp)
	case pipeline.FetchTypeHTML, "":
		return d.finishHTML(ctx, source, resp)
	default:
		return pipeline.FetchResult{}, pipeline.NewFetchError(pipeline.FetchErrParse,
			fmt.Sprintf("unsupported fetch type %q", source.FetchType), nil)
	}
}

func (d *Document) finishPDF(source pipeline.Source, resp RawResponse) (pipeline.FetchResult, error) {
	text, err := extract.PDF(resp.Body)
	if err != nil {
		return pipeline.FetchResult{}, pipeline.NewFetchError(pipeline.FetchErrParse,
			fmt.Sprintf("extract pdf for %s", source.URL), err)
	}
	return d.finish(resp, text, false)
}

func (d *Document) finishHTML(ctx context.Context, source pipeline.Source, resp RawResponse) (pipeline.FetchResult, error) {
	text, err := extract.HTML(resp.Body)
	if err != nil {
		return pipeline.FetchResult{}, pipeline.NewFetchError(pipeline.FetchErrParse,
			fmt.Sprintf("extract html for %s", source.URL), err)
	}

	usedHeadless := false
	if d.shouldPromote(resp, text) {
		rendered, rerr := d.headless.Fetch(ctx, source.URL)
		if rerr != nil {
			// The probe result stands; rendering is an enhancement.
			d.logger.Warn("headless promotion failed",
				zap.String("source_id", source.ID),
				zap.String("url", source.URL),
				zap.Error(rerr),
			)
		} else {
			renderedText, terr := extract.HTML(rendered.Body)
			if terr == nil && len(renderedText) > len(text) {
				resp = rendered
				text = renderedText
				usedHeadless = true
			}
		}
	}

	return d.finish(resp, text, usedHeadless)
}

func (d *Document) finish(resp RawResponse, text string, usedHeadless bool) (pipeline.FetchResult, error) {
	if text == "" {
		return pipeline.FetchResult{}, pipeline.NewFetchError(pipeline.FetchErrEmpty,
			"document contains no extractable text", nil)
	}
	return pipeline.FetchResult{
		NormalizedText: text,
		RawBody:        resp.Body,
		RawSize:        len(resp.Body),
		UsedHeadless:   usedHeadless,
		Duration:       resp.Duration,
	}, nil
}

func (d *Document) shouldPromote(resp RawResponse, text string) bool {
	if !d.cfg.HeadlessEnabled || d.headless == nil {
		return false
	}
	return d.detector.ShouldPromote(resp, text)
}

// classifyTransportError maps raw fetch failures onto the error taxonomy.
// Anything that is not already typed is a network-level failure.
func classifyTransportError(err error) error {
	if fe, ok := pipeline.AsFetchError(err); ok {
		return fe
	}
	if se, ok := err.(*StatusError); ok {
		return pipeline.NewHTTPError(se.StatusCode, se.Error())
	}
	return pipeline.NewFetchError(pipeline.FetchErrNetwork, err.Error(), err)
}

// StatusError is returned by raw fetchers when the server answered with a
// non-success status.
type StatusError struct {
	StatusCode int
	URL        string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	return fmt.Sprintf("%s returned status %d", e.URL, e.StatusCode)
}
