package widget

import (
	"net/http"

	"mini-profiler/internal/redirect"
)

// BackgroundObserver turns completed background requests that carry the
// request id header into "ajax" fetches.
type BackgroundObserver struct {
	fetcher *Fetcher
}

// NewBackgroundObserver feeds announced ids to fetcher.
func NewBackgroundObserver(fetcher *Fetcher) *BackgroundObserver {
	return &BackgroundObserver{fetcher: fetcher}
}

// HandleCompletion inspects the headers of a completed request. It returns
// without waiting for the fetch.
func (b *BackgroundObserver) HandleCompletion(h http.Header) {
	ids := redirect.SplitIDs(h.Get(redirect.Header))
	if len(ids) == 0 {
		return
	}
	b.fetcher.FetchAndDisplay(ids, Ajax, nil)
}

// Transport wraps base so that every completed response is reported to the
// observer. Responses and errors reach the caller unchanged.
func (b *BackgroundObserver) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &observedTransport{base: base, observer: b}
}

type observedTransport struct {
	base     http.RoundTripper
	observer *BackgroundObserver
}

func (t *observedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err == nil && resp != nil {
		t.observer.HandleCompletion(resp.Header)
	}
	return resp, err
}
