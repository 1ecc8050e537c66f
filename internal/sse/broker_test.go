package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

// drain collects the messages queued for s.
func drain(s *Subscription) []string {
	var out []string
	for {
		select {
		case msg, ok := <-s.C:
			if !ok {
				return out
			}
			out = append(out, string(msg))
		case <-time.After(100 * time.Millisecond):
			return out
		}
	}
}

func countTypes(msgs []string) map[string]int {
	counts := map[string]int{}
	for _, m := range msgs {
		for _, line := range strings.Split(m, "\n") {
			if typ, ok := strings.CutPrefix(line, "event: "); ok {
				counts[typ]++
			}
		}
	}
	return counts
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	s := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}
	b.Unsubscribe(s)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
	if _, ok := <-s.C; ok {
		t.Error("channel should be closed after unsubscribe")
	}
}

func TestFileEventDelivery(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	s := b.Subscribe("")
	defer b.Unsubscribe(s)

	b.PublishFileEvent(FileEvent{Kind: "file.added", Talk: "abc", Path: "a.pdf"})

	msgs := drain(s)
	if len(msgs) == 0 {
		t.Fatal("no message delivered")
	}
	first := msgs[0]
	if !strings.HasPrefix(first, "id: 1\nevent: file.added\n") {
		t.Errorf("unexpected framing: %q", first)
	}
	if !strings.Contains(first, `"talk":"abc"`) || !strings.Contains(first, `"path":"a.pdf"`) {
		t.Errorf("missing data in %q", first)
	}
	if strings.Contains(first, "file.added\"") {
		t.Errorf("kind leaked into payload: %q", first)
	}
}

func TestSummaryThrottle(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	s := b.Subscribe("")
	defer b.Unsubscribe(s)

	// First change triggers talks.updated, the following ones do not.
	b.PublishFileEvent(FileEvent{Kind: "file.added", Talk: "abc", Path: "a.pdf"})
	b.PublishFileEvent(FileEvent{Kind: "file.changed", Talk: "abc", Path: "a.pdf"})
	b.PublishScheduleEvent(ScheduleEvent{Version: "37c3: 1.0", Talks: 3})

	counts := countTypes(drain(s))
	if counts["file.added"] != 1 || counts["file.changed"] != 1 || counts[TypeScheduleUpdated] != 1 {
		t.Errorf("change events = %v", counts)
	}
	if counts[TypeTalksUpdated] != 1 {
		t.Errorf("talks.updated events = %d, want 1 (throttled)", counts[TypeTalksUpdated])
	}
}

func TestTalkFilter(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	abc := b.Subscribe("abc")
	defer b.Unsubscribe(abc)
	all := b.Subscribe("")
	defer b.Unsubscribe(all)

	b.PublishFileEvent(FileEvent{Kind: "file.added", Talk: "xyz", Path: "other.pdf"})
	b.PublishFileEvent(FileEvent{Kind: "file.removed", Talk: "abc", Path: "mine.pdf"})
	b.PublishScheduleEvent(ScheduleEvent{Version: "v", Talks: 1})

	got := countTypes(drain(abc))
	if got["file.added"] != 0 || got["file.removed"] != 1 || got[TypeScheduleUpdated] != 1 {
		t.Errorf("filtered subscriber saw %v", got)
	}
	got = countTypes(drain(all))
	if got["file.added"] != 1 || got["file.removed"] != 1 {
		t.Errorf("unfiltered subscriber saw %v", got)
	}
}

// flushRecorder guards the recorder body, which the handler writes while the
// test reads it.
type flushRecorder struct {
	mu sync.Mutex
	*httptest.ResponseRecorder
}

func (r *flushRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ResponseRecorder.Write(p)
}

func (r *flushRecorder) body() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Body.String()
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/events?talk=abc", nil)
	req = req.WithContext(ctx)
	w := &flushRecorder{ResponseRecorder: httptest.NewRecorder()}

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("handler did not subscribe")
		}
		time.Sleep(10 * time.Millisecond)
	}

	b.PublishFileEvent(FileEvent{Kind: "file.removed", Talk: "abc", Path: "x.pdf"})
	b.PublishFileEvent(FileEvent{Kind: "file.added", Talk: "other", Path: "y.pdf"})
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.body()
	if !strings.Contains(body, "event: file.removed") {
		t.Errorf("handler output missing event: %q", body)
	}
	if strings.Contains(body, "y.pdf") {
		t.Errorf("handler ignored talk filter: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}

	deadline = time.Now().Add(time.Second)
	for b.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("client not cleaned up after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Hour)
	defer b.Close()
	s := b.Subscribe("")
	defer b.Unsubscribe(s)

	// Buffer holds 64 messages; publishing past it must not block.
	for i := 0; i < 100; i++ {
		b.PublishFileEvent(FileEvent{Kind: "file.changed", Talk: "abc", Path: "a.pdf"})
	}
	if n := b.ClientCount(); n != 1 {
		t.Errorf("clients = %d", n)
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	s := b.Subscribe("")
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-s.C:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}

	// Safe no-ops after close.
	b.PublishFileEvent(FileEvent{Kind: "file.removed", Talk: "abc", Path: "x.pdf"})
	if late := b.Subscribe("abc"); late == nil {
		t.Fatal("subscribe after close returned nil")
	} else if _, ok := <-late.C; ok {
		t.Error("late subscription should be closed")
	}
}
