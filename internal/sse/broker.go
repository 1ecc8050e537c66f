// Package sse implements a Server-Sent Events broker for live talk updates.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// Event types sent on the stream besides the file change kinds.
const (
	TypeScheduleUpdated = "schedule.updated"
	TypeTalksUpdated    = "talks.updated"
)

// keepAlive is the interval of comment lines sent to idle streams so
// proxies do not drop them.
var keepAlive = 25 * time.Second

// FileEvent is a change to a file below a talk directory. Path is relative
// to the talk directory.
type FileEvent struct {
	Kind string `json:"-"`
	Talk string `json:"talk"`
	Path string `json:"path"`
}

// ScheduleEvent is an installed schedule refresh.
type ScheduleEvent struct {
	Version string `json:"version"`
	Talks   int    `json:"talks"`
}

// Subscription is one connected client. C is closed when the client is
// unsubscribed or the broker stops.
type Subscription struct {
	C    <-chan []byte
	ch   chan []byte
	talk string
}

// Broker fans file and schedule changes out to SSE clients.
//
// A single internal event loop owns the client set, the event sequence and
// the summary throttle. Public methods talk to it through channels.
type Broker struct {
	summaryMin time.Duration

	subscribeCh   chan *Subscription
	unsubscribeCh chan *Subscription
	changeCh      chan any
	countReqCh    chan chan int

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

// NewBroker creates a broker that emits at most one talks.updated summary
// per throttle interval.
func NewBroker(throttle time.Duration) *Broker {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}

	b := &Broker{
		summaryMin:    throttle,
		subscribeCh:   make(chan *Subscription),
		unsubscribeCh: make(chan *Subscription),
		changeCh:      make(chan any, 256),
		countReqCh:    make(chan chan int),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[*Subscription]struct{})
	var (
		seq         uint64
		lastSummary time.Time
	)

	// broadcast sends to every client, or only to clients following talk
	// when talk is set.
	broadcast := func(typ, talk string, data any) {
		payload, err := json.Marshal(data)
		if err != nil {
			return
		}
		seq++
		raw := []byte(fmt.Sprintf("id: %d\nevent: %s\ndata: %s\n\n", seq, typ, payload))

		for c := range clients {
			if talk != "" && c.talk != "" && c.talk != talk {
				continue
			}
			select {
			case c.ch <- raw:
			default:
				// Slow client; drop rather than block the loop.
			}
		}
	}

	for {
		select {
		case <-b.stopCh:
			for c := range clients {
				close(c.ch)
			}
			return

		case c := <-b.subscribeCh:
			clients[c] = struct{}{}

		case c := <-b.unsubscribeCh:
			if _, ok := clients[c]; ok {
				delete(clients, c)
				close(c.ch)
			}

		case change := <-b.changeCh:
			switch c := change.(type) {
			case FileEvent:
				broadcast(c.Kind, c.Talk, c)
			case ScheduleEvent:
				broadcast(TypeScheduleUpdated, "", c)
			}

			if now := time.Now(); now.Sub(lastSummary) >= b.summaryMin {
				lastSummary = now
				broadcast(TypeTalksUpdated, "", struct{}{})
			}

		case resp := <-b.countReqCh:
			resp <- len(clients)
		}
	}
}

// Close stops the event loop and closes every subscription.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client. A non-empty talk limits file events to that
// talk; schedule and summary events are always delivered.
func (b *Broker) Subscribe(talk string) *Subscription {
	ch := make(chan []byte, 64)
	s := &Subscription{C: ch, ch: ch, talk: talk}
	if b.closed.Load() {
		close(ch)
		return s
	}

	select {
	case b.subscribeCh <- s:
	case <-b.stopped:
		close(ch)
	}
	return s
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(s *Subscription) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- s:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- resp:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// PublishFileEvent publishes a file change and a throttled talks.updated event.
func (b *Broker) PublishFileEvent(ev FileEvent) {
	b.publishChange(ev)
}

// PublishScheduleEvent publishes an installed refresh and a throttled
// talks.updated event.
func (b *Broker) PublishScheduleEvent(ev ScheduleEvent) {
	b.publishChange(ev)
}

func (b *Broker) publishChange(ev any) {
	if b.closed.Load() {
		return
	}
	select {
	case b.changeCh <- ev:
	case <-b.stopped:
	}
}

// ServeHTTP is the SSE endpoint handler (GET /events[?talk=<id>]).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := b.Subscribe(r.URL.Query().Get("talk"))
	defer b.Unsubscribe(sub)

	ping := time.NewTicker(keepAlive)
	defer ping.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}
