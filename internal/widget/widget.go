// Package widget implements the profiler overlay: it correlates request ids
// with profile payloads, lists one summary row per request and shows the
// selected request's timing tree in a detail panel.
package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"mini-profiler/internal/metrics"
	"mini-profiler/internal/page"
	"mini-profiler/internal/profile"
	"mini-profiler/internal/redirect"
	"mini-profiler/internal/render"
	"mini-profiler/internal/results"
)

// DefaultPrefix namespaces element ids and store keys.
const DefaultPrefix = "mp"

// Options are the page bootstrap settings.
type Options struct {
	// BaseURL is the profiler root; results are fetched from BaseURL+"results".
	BaseURL string
	// RequestID is the id of the page's own request.
	RequestID string
	// PageURL is scanned for ids carried through redirects.
	PageURL string
	Prefix  string

	FetchTimeout time.Duration
	// Source overrides the HTTP results client built from BaseURL.
	Source Source
}

// Widget ties the components together for one page session.
type Widget struct {
	loop    *page.Loop
	doc     page.Document
	logger  *slog.Logger
	metrics *metrics.Metrics

	prefix     string
	store      *profile.Store
	summary    *SummaryList
	panel      *DetailPanel
	fetcher    *Fetcher
	background *BackgroundObserver
}

// New creates a widget that drives doc from loop.
func New(loop *page.Loop, doc page.Document, logger *slog.Logger, m *metrics.Metrics) *Widget {
	if logger == nil {
		logger = slog.Default()
	}
	return &Widget{loop: loop, doc: doc, logger: logger, metrics: m}
}

// Init creates the hidden containers, binds row clicks and starts the initial
// fetch for the redirect chain plus the page's own request. The loop must be
// running. ctx bounds the widget's network calls.
func (w *Widget) Init(ctx context.Context, opts Options) error {
	if w.store != nil {
		return errors.New("widget already initialized")
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	source := opts.Source
	if source == nil {
		if opts.BaseURL == "" {
			return errors.New("base url is required")
		}
		client, err := results.NewClient(opts.BaseURL, opts.FetchTimeout)
		if err != nil {
			return err
		}
		source = client
	}
	renderer, err := render.New(prefix)
	if err != nil {
		return err
	}

	w.prefix = prefix
	w.store = profile.NewStore(prefix)
	w.summary = NewSummaryList(w.doc, prefix)
	w.panel = NewDetailPanel(w.doc, w.store, renderer, prefix, w.logger, w.metrics)
	w.fetcher = NewFetcher(ctx, w.loop, source, w.store, renderer, w.summary, w.logger, w.metrics)
	w.background = NewBackgroundObserver(w.fetcher)

	var setupErr error
	if err := w.loop.Do(ctx, func() { setupErr = w.mount() }); err != nil {
		return err
	}
	if setupErr != nil {
		return setupErr
	}

	ids := redirect.ExtractIDs(opts.PageURL)
	if opts.RequestID != "" {
		ids = append(ids, opts.RequestID)
	}
	w.logger.Debug("profiler widget initialized", "ids", ids)
	w.fetcher.FetchAndDisplay(ids, Normal, nil)
	return nil
}

func (w *Widget) mount() error {
	markup := fmt.Sprintf(`<div id="%s" style="display: none;"></div><div id="%s" style="display: none;"></div>`,
		w.summary.ID(), w.panel.ID())
	if err := w.doc.AppendToBody(markup); err != nil {
		return fmt.Errorf("create containers: %w", err)
	}
	_, err := w.doc.Delegate(w.summary.ID(), "click", "a", func(e *page.Event, el page.Element) {
		e.PreventDefault()
		e.StopPropagation()
		w.panel.Open(el.ID)
	})
	if err != nil {
		return fmt.Errorf("bind summary rows: %w", err)
	}
	return nil
}

// Prefix returns the id namespace in use.
func (w *Widget) Prefix() string { return w.prefix }

// Store returns the session's profile store.
func (w *Widget) Store() *profile.Store { return w.store }

// Summary returns the summary list. Use it from the loop only.
func (w *Widget) Summary() *SummaryList { return w.summary }

// Panel returns the detail panel. Use it from the loop only.
func (w *Widget) Panel() *DetailPanel { return w.panel }

// Fetcher returns the profile fetcher.
func (w *Widget) Fetcher() *Fetcher { return w.fetcher }

// Background returns the observer for background request completions.
func (w *Widget) Background() *BackgroundObserver { return w.background }
