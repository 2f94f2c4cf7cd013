package widget

import (
	"log/slog"

	"mini-profiler/internal/metrics"
	"mini-profiler/internal/page"
	"mini-profiler/internal/profile"
	"mini-profiler/internal/render"
)

// PanelState is the visibility state of the detail panel.
type PanelState int

const (
	Hidden PanelState = iota
	Visible
)

func (s PanelState) String() string {
	if s == Visible {
		return "visible"
	}
	return "hidden"
}

// Toggle classes. A toggle showing "expand" has its child block hidden.
const (
	classExpand   = "expand"
	classCollapse = "collapse"
)

// DetailPanel is the single reusable container showing one request's full
// profile. Listeners belong to the rendered content and are replaced with it.
// Methods run on the event loop.
type DetailPanel struct {
	doc      page.Document
	store    *profile.Store
	renderer render.Renderer
	prefix   string
	id       string
	logger   *slog.Logger
	metrics  *metrics.Metrics

	state   PanelState
	current string
}

// NewDetailPanel manages the existing container "<prefix>-req".
func NewDetailPanel(doc page.Document, store *profile.Store, renderer render.Renderer, prefix string, logger *slog.Logger, m *metrics.Metrics) *DetailPanel {
	if logger == nil {
		logger = slog.Default()
	}
	return &DetailPanel{
		doc:      doc,
		store:    store,
		renderer: renderer,
		prefix:   prefix,
		id:       prefix + "-req",
		logger:   logger,
		metrics:  m,
	}
}

// ID returns the container's element id.
func (p *DetailPanel) ID() string { return p.id }

// State returns the panel state and, when visible, the request id shown.
func (p *DetailPanel) State() (PanelState, string) {
	return p.state, p.current
}

// Open shows the record behind rowID. Unknown rows are ignored and reported
// as false.
func (p *DetailPanel) Open(rowID string) bool {
	rec, ok := p.store.GetByKey(rowID)
	if !ok {
		p.logger.Debug("no profile stored for row", "id", rowID)
		p.metrics.RecordPanelOpen(false)
		return false
	}
	markup, err := p.renderer.Render(render.Result, rec)
	if err != nil {
		p.logger.Error("render profile detail", "id", rec.ID, "err", err)
		return false
	}

	p.doc.Undelegate(p.id)
	if err := p.doc.SetHTML(p.id, markup); err != nil {
		p.logger.Error("replace panel content", "id", rec.ID, "err", err)
		return false
	}
	if err := p.doc.SlideDown(p.id); err != nil {
		p.logger.Error("show panel", "err", err)
	}
	if err := p.bind(); err != nil {
		p.logger.Error("bind panel listeners", "id", rec.ID, "err", err)
	}

	p.state = Visible
	p.current = rec.ID
	p.metrics.RecordPanelOpen(true)
	return true
}

// Close hides the panel. Its content stays until the next Open.
func (p *DetailPanel) Close() {
	if err := p.doc.SlideUp(p.id); err != nil {
		p.logger.Error("hide panel", "err", err)
	}
	p.state = Hidden
	p.current = ""
}

func (p *DetailPanel) bind() error {
	if _, err := p.doc.Delegate(p.id, "click", "#"+p.prefix+"-req-close", p.onClose); err != nil {
		return err
	}
	for _, sel := range []string{"#" + p.prefix + "-req-profile a", "#" + p.prefix + "-req-as a"} {
		if _, err := p.doc.Delegate(p.id, "click", sel, p.onToggle); err != nil {
			return err
		}
	}
	return nil
}

func (p *DetailPanel) onClose(e *page.Event, _ page.Element) {
	e.PreventDefault()
	e.StopPropagation()
	p.Close()
}

func (p *DetailPanel) onToggle(e *page.Event, el page.Element) {
	e.PreventDefault()
	e.StopPropagation()
	if el.ID == "" {
		return
	}
	p.metrics.RecordToggle()

	block := el.ID + "-d"
	var err error
	if p.doc.HasClass(el.ID, classExpand) {
		if err = p.doc.SlideDown(block); err == nil {
			err = p.doc.SwapClass(el.ID, classExpand, classCollapse)
		}
	} else {
		if err = p.doc.SlideUp(block); err == nil {
			err = p.doc.SwapClass(el.ID, classCollapse, classExpand)
		}
	}
	if err != nil {
		p.logger.Debug("toggle without detail block", "id", el.ID, "err", err)
	}
}
