// Package console prints widget state to a terminal.
package console

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/dustin/go-humanize"
	"github.com/fatih/color"

	"mini-profiler/internal/profile"
)

// Row is one summary row as the terminal shows it.
type Row struct {
	RowID    string
	Category string
	Record   *profile.Record
}

// Printer writes colored output to w.
type Printer struct {
	w   io.Writer
	now func() time.Time

	title    *color.Color
	muted    *color.Color
	slow     *color.Color
	category map[string]*color.Color
}

// New creates a Printer.
func New(w io.Writer) *Printer {
	return &Printer{
		w:     w,
		now:   time.Now,
		title: color.New(color.FgCyan, color.Bold),
		muted: color.New(color.FgHiBlack),
		slow:  color.New(color.FgRed),
		category: map[string]*color.Color{
			"normal":   color.New(color.FgGreen),
			"redirect": color.New(color.FgYellow),
			"ajax":     color.New(color.FgCyan),
		},
	}
}

// Banner prints the tool name.
func (p *Printer) Banner() {
	fmt.Fprint(p.w, figure.NewFigure("mini-profiler", "", true).String())
	_, _ = p.muted.Fprintln(p.w, strings.Repeat("═", 48))
}

// Rows prints the summary list in display order.
func (p *Printer) Rows(rows []Row) {
	if len(rows) == 0 {
		_, _ = p.muted.Fprintln(p.w, "no profiled requests")
		return
	}
	for i, r := range rows {
		c := p.category[r.Category]
		if c == nil {
			c = p.muted
		}
		_, _ = c.Fprintf(p.w, "%2d  %-8s", i+1, r.Category)
		fmt.Fprintf(p.w, " %9s ms  %s", r.Record.TotalTime, r.Record.ID)
		if r.Record.RequestURL != "" {
			fmt.Fprintf(p.w, "  %s", r.Record.RequestURL)
		}
		_, _ = p.muted.Fprintf(p.w, "  %s\n", p.age(r.Record.Timestamp))
	}
}

// Detail prints a record's timing tree and its service calls.
func (p *Printer) Detail(rec *profile.Record) {
	_, _ = p.title.Fprintf(p.w, "%s  %s ms\n", rec.ID, rec.TotalTime)
	if rec.TimestampFormatted != "" {
		_, _ = p.muted.Fprintln(p.w, rec.TimestampFormatted)
	}
	p.node(rec.Tree, 0, rec.Tree.Duration)

	if rec.Services == nil {
		return
	}
	_, _ = p.title.Fprintf(p.w, "services  %d ms\n", rec.Services.TotalTime)
	names := make([]string, 0, len(rec.Services.RPCStats))
	for name := range rec.Services.RPCStats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		st := rec.Services.RPCStats[name]
		fmt.Fprintf(p.w, "  %-32s %6s calls %8s ms\n", name, humanize.Comma(st.TotalCalls), humanize.Comma(st.TotalTime))
	}
	for _, call := range rec.Services.RPCCalls {
		fmt.Fprintf(p.w, "  @%-6d %-32s %6d ms\n", call.StartOffset, call.ServiceCallName, call.TotalTime)
		for _, frame := range call.CallStack {
			_, _ = p.muted.Fprintf(p.w, "          %s\n", frame)
		}
	}
}

func (p *Printer) node(n profile.Node, depth int, total int64) {
	line := fmt.Sprintf("%s%-*s %9s ms", strings.Repeat("  ", depth), 40-2*depth, n.Name, msString(n.Duration))
	if depth > 0 && total > 0 && n.Duration*2 > total {
		_, _ = p.slow.Fprintln(p.w, line)
	} else {
		fmt.Fprintln(p.w, line)
	}
	for _, c := range n.Children {
		p.node(c, depth+1, total)
	}
}

func (p *Printer) age(tsMs int64) string {
	if tsMs <= 0 {
		return ""
	}
	return humanize.RelTime(time.UnixMilli(tsMs), p.now(), "ago", "from now")
}

func msString(ns int64) string {
	return fmt.Sprintf("%.2f", profile.TotalMs(ns))
}
