package widget

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"mini-profiler/internal/redirect"
)

type announcement struct {
	IDs []string `json:"ids"`
}

// Follow subscribes to the relay's announcement stream at streamURL and
// handles every announcement as a completed background request carrying the
// announced ids. It returns when ctx is done or the relay closes the stream.
// onAnnounce, if set, is called after each announcement has been handed off.
func (b *BackgroundObserver) Follow(ctx context.Context, streamURL string, onAnnounce func(ids []string)) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, streamURL, nil)
	if err != nil {
		return fmt.Errorf("dial stream: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var a announcement
		if err := conn.ReadJSON(&a); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read stream: %w", err)
		}
		if len(a.IDs) == 0 {
			continue
		}
		h := http.Header{}
		h.Set(redirect.Header, strings.Join(a.IDs, ","))
		b.HandleCompletion(h)
		if onAnnounce != nil {
			onAnnounce(a.IDs)
		}
	}
}
