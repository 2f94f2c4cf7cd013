package widget

import (
	"encoding/json"
	"strings"
	"testing"

	"mini-profiler/internal/profile"
	"mini-profiler/internal/results"
)

func deepPayload(id string) json.RawMessage {
	return encodePayload(profile.Payload{
		ID:        id,
		Timestamp: 1000,
		Profile: json.RawMessage(`{"name":"Request ` + id + `","duration":5000000,"children":[
			{"name":"Step 1","duration":3000000,"depth":1,"children":[{"name":"Step 1.1","duration":1000000,"depth":2}]},
			{"name":"Step 2","duration":1000000,"depth":1}]}`),
		Appstats: json.RawMessage(`{"totalTime":3,"rpcStats":{"datastore_v3.Get":{"totalCalls":1,"totalTime":3}},
			"rpcCalls":[{"serviceCallName":"datastore_v3.Get","totalTime":3,"startOffset":1,"request":"key","response":"entity","callStack":["handler.go:12"]}]}`),
	})
}

func newPanelHarness(t *testing.T) *harness {
	t.Helper()
	src := &fakeSource{fn: func(ids []string) (results.Response, error) {
		resp := results.Response{OK: true}
		for _, id := range ids {
			resp.Requests = append(resp.Requests, deepPayload(id))
		}
		return resp, nil
	}}
	h := newHarness(t, Options{RequestID: "r1", PageURL: "/page?_mprid_=r2", Source: src})
	h.settle()
	return h
}

func TestDetailPanel_OpenFromRowClick(t *testing.T) {
	h := newPanelHarness(t)

	ev := h.click("mp-row-r1")
	if !ev.DefaultPrevented() {
		t.Error("row click should prevent navigation")
	}
	h.do(func() {
		state, id := h.w.Panel().State()
		if state != Visible || id != "r1" {
			t.Errorf("state = %v %q, want visible r1", state, id)
		}
		if !h.doc.Visible("mp-req") {
			t.Error("panel should be visible")
		}
		if !strings.Contains(h.doc.Text("mp-req"), "Request r1") {
			t.Error("panel should show r1")
		}
		if n := h.doc.Listeners("mp-req"); n != 3 {
			t.Errorf("listeners = %d, want 3", n)
		}
	})
}

func TestDetailPanel_ReopenReplacesListeners(t *testing.T) {
	h := newPanelHarness(t)

	h.click("mp-row-r1")
	h.click("mp-row-r2")
	h.click("mp-row-r1")

	h.do(func() {
		if n := h.doc.Listeners("mp-req"); n != 3 {
			t.Errorf("listeners after reopen = %d, want 3", n)
		}
		_, id := h.w.Panel().State()
		if id != "r1" {
			t.Errorf("current = %q, want r1 (last open wins)", id)
		}
		if strings.Contains(h.doc.Text("mp-req"), "Request r2") {
			t.Error("stale content left in panel")
		}
	})

	// One toggle click must flip the class exactly once despite the reopens.
	h.click("mp-p-0")
	h.do(func() {
		if !h.doc.HasClass("mp-p-0", "collapse") {
			t.Error("toggle ran an even number of times")
		}
	})
}

func TestDetailPanel_Close(t *testing.T) {
	h := newPanelHarness(t)
	h.click("mp-row-r1")

	ev := h.click("mp-req-close")
	if !ev.PropagationStopped() {
		t.Error("close click should stop propagation")
	}
	h.do(func() {
		state, _ := h.w.Panel().State()
		if state != Hidden {
			t.Errorf("state = %v, want hidden", state)
		}
		if h.doc.Visible("mp-req") {
			t.Error("panel should be hidden")
		}
		if !h.doc.Exists("mp-req-profile") {
			t.Error("content should stay in place after close")
		}
	})

	h.click("mp-row-r2")
	h.do(func() {
		state, id := h.w.Panel().State()
		if state != Visible || id != "r2" {
			t.Errorf("state = %v %q, want visible r2", state, id)
		}
	})
}

func TestDetailPanel_RequestIDsMatchingControlNames(t *testing.T) {
	src := &fakeSource{fn: func(ids []string) (results.Response, error) {
		resp := results.Response{OK: true}
		for _, id := range ids {
			resp.Requests = append(resp.Requests, deepPayload(id))
		}
		return resp, nil
	}}
	h := newHarness(t, Options{RequestID: "close", PageURL: "/page?_mprid_=profile", Source: src})
	h.settle()

	h.click("mp-row-close")
	h.do(func() {
		state, id := h.w.Panel().State()
		if state != Visible || id != "close" {
			t.Errorf("state = %v %q, want visible close", state, id)
		}
		if !strings.Contains(h.doc.Text("mp-req"), "Request close") {
			t.Error("panel should show the request named close")
		}
	})

	h.click("mp-req-close")
	h.do(func() {
		if state, _ := h.w.Panel().State(); state != Hidden {
			t.Errorf("state = %v, want hidden after the close control", state)
		}
	})

	h.click("mp-row-profile")
	h.click("mp-p-0")
	h.do(func() {
		if _, id := h.w.Panel().State(); id != "profile" {
			t.Errorf("current = %q, want profile", id)
		}
		if !h.doc.HasClass("mp-p-0", "collapse") {
			t.Error("tree toggle should still reach the panel")
		}
	})
}

func TestDetailPanel_DoubleToggleIsIdempotent(t *testing.T) {
	h := newPanelHarness(t)
	h.click("mp-row-r1")

	for _, toggle := range []string{"mp-p-0", "mp-p-0-0", "mp-as-0"} {
		block := toggle + "-d"
		h.do(func() {
			if !h.doc.HasClass(toggle, "expand") {
				t.Errorf("%s should start with expand", toggle)
			}
		})

		ev := h.click(toggle)
		if !ev.PropagationStopped() || !ev.DefaultPrevented() {
			t.Errorf("%s: toggle should stop propagation and prevent default", toggle)
		}
		h.do(func() {
			if !h.doc.HasClass(toggle, "collapse") || h.doc.HasClass(toggle, "expand") {
				t.Errorf("%s should be collapse after one click", toggle)
			}
			if last := lastAnimation(h.doc.Animations()); last != "down:"+block {
				t.Errorf("last animation = %q, want down:%s", last, block)
			}
		})

		h.click(toggle)
		h.do(func() {
			if !h.doc.HasClass(toggle, "expand") || h.doc.HasClass(toggle, "collapse") {
				t.Errorf("%s should be back to expand", toggle)
			}
			if last := lastAnimation(h.doc.Animations()); last != "up:"+block {
				t.Errorf("last animation = %q, want up:%s", last, block)
			}
		})
	}
}

func lastAnimation(log []string) string {
	if len(log) == 0 {
		return ""
	}
	return log[len(log)-1]
}

func TestDetailPanel_ToggleNeverCloses(t *testing.T) {
	h := newPanelHarness(t)
	h.click("mp-row-r1")

	for i := 0; i < 3; i++ {
		h.click("mp-p-0")
		h.click("mp-as-0")
	}
	h.do(func() {
		state, id := h.w.Panel().State()
		if state != Visible || id != "r1" {
			t.Errorf("state = %v %q, want visible r1", state, id)
		}
		for _, a := range h.doc.Animations() {
			if a == "up:mp-req" {
				t.Error("toggle click reached the close handler")
			}
		}
	})
}

func TestDetailPanel_UnknownRowIgnored(t *testing.T) {
	h := newPanelHarness(t)

	h.do(func() {
		if h.w.Panel().Open("mp-row-nope") {
			t.Error("Open should report false for unknown row")
		}
		state, _ := h.w.Panel().State()
		if state != Hidden {
			t.Errorf("state = %v, want hidden", state)
		}
		if h.doc.Listeners("mp-req") != 0 {
			t.Error("no listeners expected before any open")
		}
	})
}

func TestPanelState_String(t *testing.T) {
	if Hidden.String() != "hidden" || Visible.String() != "visible" {
		t.Errorf("got %s/%s", Hidden, Visible)
	}
}
