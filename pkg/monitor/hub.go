// Package monitor streams call activity to websocket watchers.
//
// The Hub is a bridge.Observer: every call start, state change, transcript
// line and call end is broadcast as a JSON Event to each connected client.
// A client that falls behind is dropped rather than slowing the calls.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-callbridge/pkg/bridge"
	"github.com/teslashibe/go-callbridge/pkg/callstate"
)

// Hub maintains the set of active clients and broadcasts events to them.
type Hub struct {
	logger *slog.Logger

	// Registered clients
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// snapshot lists live calls for newly connected clients.
	snapshot func() []bridge.CallInfo

	mu sync.RWMutex
}

// New creates a Hub. snapshot may be nil.
func New(logger *slog.Logger, snapshot func() []bridge.CallInfo) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:     logger.With("component", "monitor"),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		snapshot:   snapshot,
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled, closing
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("watcher connected", "clients", count)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("watcher disconnected", "clients", count)

		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					// Too slow; drop it.
					close(client.send)
					delete(h.clients, client)
					h.logger.Warn("dropped slow watcher")
				}
			}
			h.mu.Unlock()
		}
	}
}

// Publish broadcasts ev to every client. It never blocks; when the
// broadcast queue is full the event is dropped.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode event", "error", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.logger.Warn("broadcast queue full, dropping event", "type", ev.Type)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) snapshotEvent() []byte {
	ev := Event{Type: TypeSnapshot, Time: time.Now().UTC(), Calls: []bridge.CallInfo{}}
	if h.snapshot != nil {
		ev.Calls = h.snapshot()
	}
	data, _ := json.Marshal(ev)
	return data
}

// CallStarted implements bridge.Observer.
func (h *Hub) CallStarted(info bridge.CallInfo) {
	h.Publish(Event{Type: TypeCallStarted, Call: &info})
}

// CallEnded implements bridge.Observer.
func (h *Hub) CallEnded(info bridge.CallInfo, err error, elapsed time.Duration) {
	ev := Event{Type: TypeCallEnded, Call: &info, DurationMS: elapsed.Milliseconds()}
	if err != nil {
		ev.Error = err.Error()
	}
	h.Publish(ev)
}

// Transition implements bridge.Observer.
func (h *Hub) Transition(info bridge.CallInfo, step callstate.Step, _ time.Duration) {
	h.Publish(Event{
		Type:    TypeState,
		Call:    &info,
		From:    step.From.String(),
		To:      step.To.String(),
		Signal:  step.Signal.String(),
		BargeIn: step.BargeIn,
	})
}

// Transcript implements bridge.Observer.
func (h *Hub) Transcript(info bridge.CallInfo, role, content string) {
	h.Publish(Event{Type: TypeTranscript, Call: &info, Role: role, Content: content})
}

// AudioRelayed implements bridge.Observer. Audio volume is left to metrics.
func (h *Hub) AudioRelayed(bridge.Direction, int) {}
