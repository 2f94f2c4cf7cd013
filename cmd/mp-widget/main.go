package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mini-profiler/internal/config"
	"mini-profiler/internal/console"
	"mini-profiler/internal/metrics"
	"mini-profiler/internal/page"
	"mini-profiler/internal/redirect"
	"mini-profiler/internal/results"
	"mini-profiler/internal/widget"
)

const (
	maxRedirects = 10

	followAttempts = 5
	followBackoff  = time.Second
)

type urlList []string

func (l *urlList) String() string { return strings.Join(*l, ",") }

func (l *urlList) Set(value string) error {
	*l = append(*l, value)
	return nil
}

type options struct {
	pageURL   string
	requestID string
	ajax      urlList
	open      string
	recent    int
	follow    time.Duration
	noBanner  bool
}

func main() {
	opts := parseFlags()

	cfg, err := config.LoadWidget()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(2)
	}

	logger := newLogger(cfg.LogLevel)
	out := console.New(os.Stdout)
	if !opts.noBanner {
		out.Banner()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, opts, out, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options
	flag.StringVar(&opts.pageURL, "url", "", "Page URL to load; redirects are followed and their ids collected")
	flag.StringVar(&opts.requestID, "request-id", "", "Id of the page's own request (default: taken from the response header)")
	flag.Var(&opts.ajax, "ajax", "URL to request in the background after load (repeatable)")
	flag.StringVar(&opts.open, "open", "", "Request id whose detail panel to open")
	flag.IntVar(&opts.recent, "recent", 0, "Also show the N most recent results stored on the relay")
	flag.DurationVar(&opts.follow, "follow", 0, "Keep following the relay stream for this long (0 disables)")
	flag.BoolVar(&opts.noBanner, "no-banner", false, "Do not print the banner")
	flag.Parse()
	return opts
}

func run(ctx context.Context, cfg config.WidgetConfig, opts options, out *console.Printer, logger *slog.Logger) error {
	client, err := results.NewClient(cfg.BaseURL, cfg.FetchTimeout)
	if err != nil {
		return err
	}

	loop := page.NewLoop(logger)
	loopCtx, cancelLoop := context.WithCancel(ctx)
	defer func() {
		cancelLoop()
		<-loop.Done()
	}()
	go func() { _ = loop.Run(loopCtx) }()

	doc := page.NewMemDocument()
	w := widget.New(loop, doc, logger, metrics.New())

	pageURL, requestID := opts.pageURL, opts.requestID
	if pageURL != "" {
		final, id, err := loadPage(ctx, pageURL)
		if err != nil {
			return fmt.Errorf("load page: %w", err)
		}
		pageURL = final
		if requestID == "" {
			requestID = id
		}
	}

	if err := w.Init(ctx, widget.Options{
		RequestID:    requestID,
		PageURL:      pageURL,
		Prefix:       cfg.HTMLIDPrefix,
		FetchTimeout: cfg.FetchTimeout,
		Source:       client,
	}); err != nil {
		return err
	}

	if opts.recent > 0 {
		ids, err := client.RecentIDs(ctx, opts.recent)
		if err != nil {
			logger.Warn("failed to list recent results", "err", err)
		} else {
			w.Fetcher().FetchAndDisplay(ids, widget.Normal, nil)
		}
	}

	background := &http.Client{
		Transport: w.Background().Transport(nil),
		Timeout:   cfg.FetchTimeout,
	}
	for _, u := range opts.ajax {
		if err := get(ctx, background, u); err != nil {
			logger.Warn("background request failed", "url", u, "err", err)
		}
	}

	w.Fetcher().Wait()
	printed, err := printRows(ctx, loop, w, doc, out, 0)
	if err != nil {
		return err
	}

	if opts.follow > 0 {
		followCtx, cancel := context.WithTimeout(ctx, opts.follow)
		err := followStream(followCtx, w, client.StreamURL(), logger, func([]string) {
			w.Fetcher().Wait()
			n, err := printRows(followCtx, loop, w, doc, out, printed)
			if err == nil {
				printed = n
			}
		})
		cancel()
		if err != nil {
			return err
		}
		w.Fetcher().Wait()
		if _, err := printRows(ctx, loop, w, doc, out, printed); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	if opts.open != "" {
		return openDetail(ctx, loop, w, out, opts.open)
	}
	return nil
}

// followStream follows the relay stream until ctx is done, reconnecting after
// the relay drops it. It gives up after followAttempts consecutive failures.
func followStream(ctx context.Context, w *widget.Widget, streamURL string, logger *slog.Logger, onAnnounce func([]string)) error {
	var lastErr error
	for attempt := 1; attempt <= followAttempts; attempt++ {
		err := w.Background().Follow(ctx, streamURL, func(ids []string) {
			attempt = 0
			onAnnounce(ids)
		})
		if ctx.Err() != nil {
			return nil
		}
		lastErr = err
		logger.Info("relay stream ended, reconnecting", "attempt", attempt, "err", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(followBackoff):
		}
	}
	if lastErr == nil {
		return errors.New("relay stream keeps closing")
	}
	return fmt.Errorf("relay stream unavailable: %w", lastErr)
}

// loadPage requests rawURL and follows redirects by hand so the final URL,
// which carries the accumulated redirect ids, is known. The returned id is
// the last one named in the final response's header.
func loadPage(ctx context.Context, rawURL string) (string, string, error) {
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}

	current := rawURL
	for i := 0; i <= maxRedirects; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, current, nil)
		if err != nil {
			return "", "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", "", err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 300 && resp.StatusCode < 400 {
			loc, err := resp.Location()
			if err != nil {
				return "", "", fmt.Errorf("redirect without location: %w", err)
			}
			current = loc.String()
			continue
		}

		var id string
		if ids := redirect.SplitIDs(resp.Header.Get(redirect.Header)); len(ids) > 0 {
			id = ids[len(ids)-1]
		}
		return current, id, nil
	}
	return "", "", fmt.Errorf("stopped after %d redirects", maxRedirects)
}

func get(ctx context.Context, client *http.Client, rawURL string) error {
	if _, err := url.Parse(rawURL); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}

// printRows prints the summary rows after the first skip and returns the
// total row count.
func printRows(ctx context.Context, loop *page.Loop, w *widget.Widget, doc *page.MemDocument, out *console.Printer, skip int) (int, error) {
	var rows []console.Row
	var total int
	err := loop.Do(ctx, func() {
		ids := w.Summary().Rows()
		total = len(ids)
		for _, rowID := range ids[min(skip, len(ids)):] {
			rec, ok := w.Store().GetByKey(rowID)
			if !ok {
				continue
			}
			rows = append(rows, console.Row{RowID: rowID, Category: rowCategory(doc, w.Prefix(), rowID), Record: rec})
		}
	})
	if err != nil {
		return skip, err
	}
	if skip == 0 || len(rows) > 0 {
		out.Rows(rows)
	}
	return total, nil
}

func rowCategory(doc *page.MemDocument, prefix, rowID string) string {
	for _, c := range []widget.Category{widget.Redirect, widget.Ajax, widget.Normal} {
		if doc.HasClass(rowID, prefix+"-"+string(c)) {
			return string(c)
		}
	}
	return ""
}

func openDetail(ctx context.Context, loop *page.Loop, w *widget.Widget, out *console.Printer, id string) error {
	var opened bool
	rowID := w.Store().Key(id)
	if err := loop.Do(ctx, func() { opened = w.Panel().Open(rowID) }); err != nil {
		return err
	}
	if !opened {
		return fmt.Errorf("no profile for request %q", id)
	}
	rec, _ := w.Store().GetByKey(rowID)
	fmt.Println()
	out.Detail(rec)
	return nil
}

func newLogger(level string) *slog.Logger {
	lvl := new(slog.LevelVar)
	switch level {
	case "debug":
		lvl.Set(slog.LevelDebug)
	case "info":
		lvl.Set(slog.LevelInfo)
	case "warn", "warning":
		lvl.Set(slog.LevelWarn)
	case "error":
		lvl.Set(slog.LevelError)
	default:
		lvl.Set(slog.LevelWarn)
	}

	// Stdout belongs to the rendered rows.
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(h)
}
