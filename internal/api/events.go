package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/kdimtricp/drivewatch/internal/controller"
	"github.com/kdimtricp/drivewatch/internal/logging"
)

const subscriberBuffer = 16

type Event struct {
	Type string
	Data any
}

type alertPayload struct {
	Message string `json:"message"`
}

// Broadcaster fans controller notifications out to every open event
// stream. Slow subscribers miss events rather than block the controller.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan Event]struct{})}
}

// Hooks wires the broadcaster to a controller.
func (b *Broadcaster) Hooks() controller.Hooks {
	return controller.Hooks{
		OnChange: func(s controller.Snapshot) {
			b.Publish(Event{Type: "state", Data: s})
		},
		OnAlert: func(msg string) {
			b.Publish(Event{Type: "alert", Data: alertPayload{Message: msg}})
		},
	}
}

func (b *Broadcaster) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			logging.Debug("[API] Dropped %s event for a slow subscriber", ev.Type)
		}
	}
}

func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, subscriberBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, ch)
		b.mu.Unlock()
	}
}

// EventsHandler streams state snapshots and alerts as server-sent events,
// starting with the current state.
func (app *App) EventsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, unsubscribe := app.Events.Subscribe()
	defer unsubscribe()

	writeEvent(w, Event{Type: "state", Data: app.Controller.Snapshot()})
	flusher.Flush()

	clientGone := r.Context().Done()

	for {
		select {
		case ev := <-updates:
			writeEvent(w, ev)
			flusher.Flush()

		case <-clientGone:
			return
		}
	}
}

func writeEvent(w http.ResponseWriter, ev Event) {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		logging.Warn("[API] Error marshaling %s event: %v", ev.Type, err)
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
}
