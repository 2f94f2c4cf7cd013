package widget

import "mini-profiler/internal/page"

// SummaryList owns the container holding one row per displayed request.
// Rows are only ever appended. Methods run on the event loop.
type SummaryList struct {
	doc   page.Document
	id    string
	rows  []string
	shown bool
}

// NewSummaryList manages the existing container id.
func NewSummaryList(doc page.Document, id string) *SummaryList {
	return &SummaryList{doc: doc, id: id}
}

// ID returns the container's element id.
func (s *SummaryList) ID() string { return s.id }

// AppendRow adds a rendered row and reveals the container.
func (s *SummaryList) AppendRow(markup, rowID string) error {
	if err := s.Show(); err != nil {
		return err
	}
	if err := s.doc.Append(s.id, markup); err != nil {
		return err
	}
	s.rows = append(s.rows, rowID)
	return nil
}

// Show reveals the container the first time it is called.
func (s *SummaryList) Show() error {
	if s.shown {
		return nil
	}
	if err := s.doc.Show(s.id); err != nil {
		return err
	}
	s.shown = true
	return nil
}

// Rows returns the row ids in insertion order.
func (s *SummaryList) Rows() []string {
	return append([]string(nil), s.rows...)
}
