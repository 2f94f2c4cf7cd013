package widget

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"mini-profiler/internal/metrics"
	"mini-profiler/internal/page"
	"mini-profiler/internal/profile"
	"mini-profiler/internal/render"
	"mini-profiler/internal/results"
)

// Category is the visual category of a summary row.
type Category string

const (
	Normal   Category = "normal"
	Redirect Category = "redirect"
	Ajax     Category = "ajax"
)

// Source resolves a batch of request ids to profile payloads.
type Source interface {
	Fetch(ctx context.Context, ids []string) (results.Response, error)
}

// Fetcher resolves ids through a Source and merges the results into the
// store and the summary list.
type Fetcher struct {
	ctx      context.Context
	loop     *page.Loop
	source   Source
	store    *profile.Store
	renderer render.Renderer
	summary  *SummaryList
	logger   *slog.Logger
	metrics  *metrics.Metrics

	inflight sync.WaitGroup
}

// NewFetcher wires a fetcher. ctx bounds every network call it makes.
func NewFetcher(ctx context.Context, loop *page.Loop, source Source, store *profile.Store, renderer render.Renderer, summary *SummaryList, logger *slog.Logger, m *metrics.Metrics) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		ctx:      ctx,
		loop:     loop,
		source:   source,
		store:    store,
		renderer: renderer,
		summary:  summary,
		logger:   logger,
		metrics:  m,
	}
}

// FetchAndDisplay requests all ids in one batch and returns immediately.
// When the response arrives, a single loop task stores every record of the
// batch, then appends one row per payload in response order, then calls
// onComplete. onComplete also runs when the response is ok=false or empty.
// It is not called when the request itself fails.
func (f *Fetcher) FetchAndDisplay(ids []string, category Category, onComplete func()) {
	if len(ids) == 0 {
		f.loop.Post(func() { f.display(results.Response{}, category, onComplete) })
		return
	}

	batch := append([]string(nil), ids...)
	f.inflight.Add(1)
	go func() {
		defer f.inflight.Done()

		resp, err := f.source.Fetch(f.ctx, batch)
		if err != nil {
			f.logger.Warn("profile fetch failed", "ids", batch, "category", category, "err", err)
			f.metrics.RecordFetch(string(category), metrics.OutcomeFailed)
			return
		}
		if !f.loop.Post(func() { f.display(resp, category, onComplete) }) {
			f.logger.Debug("event loop stopped, dropping fetch result", "ids", batch)
		}
	}()
}

// Wait blocks until every in-flight fetch has either failed or posted its
// result to the loop.
func (f *Fetcher) Wait() {
	f.inflight.Wait()
}

type pendingRow struct {
	rec      *profile.Record
	category Category
}

func (f *Fetcher) display(resp results.Response, category Category, onComplete func()) {
	if !resp.OK || len(resp.Requests) == 0 {
		f.metrics.RecordFetch(string(category), metrics.OutcomeEmpty)
	} else {
		rows := f.storeBatch(resp.Requests, category)
		f.renderBatch(rows)
		f.metrics.RecordFetch(string(category), metrics.OutcomeRendered)
	}
	if onComplete != nil {
		onComplete()
	}
}

// storeBatch stores the whole batch before anything is rendered.
func (f *Fetcher) storeBatch(payloads []json.RawMessage, category Category) []pendingRow {
	rows := make([]pendingRow, 0, len(payloads))
	seen := make(map[string]bool, len(payloads))
	for i, raw := range payloads {
		rec, err := profile.DecodeRecord(raw)
		if err != nil {
			f.logger.Warn("skipping profile payload", "index", i, "err", err)
			f.metrics.RecordSkipped("invalid")
			continue
		}
		if seen[rec.ID] {
			f.logger.Debug("duplicate id in batch", "id", rec.ID)
			f.metrics.RecordSkipped("duplicate")
			continue
		}
		seen[rec.ID] = true

		if f.store.Put(rec) {
			f.metrics.RecordStored()
		} else if stored, ok := f.store.Get(rec.ID); ok {
			rec = stored
		}

		cat := category
		if rec.IsRedirect {
			cat = Redirect
		}
		rows = append(rows, pendingRow{rec: rec, category: cat})
	}
	return rows
}

func (f *Fetcher) renderBatch(rows []pendingRow) {
	for _, r := range rows {
		rowID := f.store.Key(r.rec.ID)
		markup, err := f.renderer.Render(render.Request, render.Row{
			Type:      string(r.category),
			RequestID: r.rec.ID,
			RowID:     rowID,
			TotalTime: r.rec.TotalTime,
		})
		if err != nil {
			f.logger.Error("render summary row", "id", r.rec.ID, "err", err)
			continue
		}
		if err := f.summary.AppendRow(markup, rowID); err != nil {
			f.logger.Error("append summary row", "id", r.rec.ID, "err", err)
			continue
		}
		f.metrics.RecordRow(string(r.category))
	}
	f.logger.Debug("rendered profile batch", "count", len(rows))
}
