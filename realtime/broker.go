// Package realtime fans flow events out to live consumers over Server-Sent
// Events. Slow consumers never block the pipeline: a subscriber whose buffer
// is full misses messages, and one that stops reading is dropped entirely.
package realtime

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
)

const (
	subscriberBuffer  = 32
	heartbeatInterval = 30 * time.Second
)

type subscriber struct {
	ch     chan []byte
	assets map[string]bool // empty means all assets
}

func (s *subscriber) wants(asset string) bool {
	return len(s.assets) == 0 || s.assets[asset]
}

type message struct {
	asset string
	data  []byte
}

// Broker handles Server-Sent Events (SSE) clients and broadcasting
type Broker struct {
	clients    map[*subscriber]bool
	register   chan *subscriber
	unregister chan *subscriber
	broadcast  chan message
	done       chan bool
	mu         sync.RWMutex
}

// NewBroker creates a new SSE broker
func NewBroker() *Broker {
	return &Broker{
		clients:    make(map[*subscriber]bool),
		register:   make(chan *subscriber),
		unregister: make(chan *subscriber),
		broadcast:  make(chan message, 1000),
		done:       make(chan bool),
	}
}

// Run starts the broker loop
func (b *Broker) Run() {
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-b.done:
			return

		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()
			log.Printf("SSE Client connected. Total: %d", len(b.clients))

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client.ch)
				log.Printf("SSE Client disconnected. Total: %d", len(b.clients))
			}
			b.mu.Unlock()

		case msg := <-b.broadcast:
			b.mu.RLock()
			for client := range b.clients {
				if !client.wants(msg.asset) {
					continue
				}
				select {
				case client.ch <- msg.data:
				default:
					// Skip if client buffer is full to prevent blocking
				}
			}
			b.mu.RUnlock()

		case <-heartbeat.C:
			// Liveness probe; subscribers that cannot take even this are
			// dead and get dropped by their handler on the next write
			b.mu.RLock()
			for client := range b.clients {
				select {
				case client.ch <- nil:
				default:
				}
			}
			b.mu.RUnlock()
		}
	}
}

// Stop terminates the broker loop
func (b *Broker) Stop() {
	close(b.done)
}

// ServeHTTP handles the SSE endpoint. An optional ?assets=BTC,ETH query
// restricts the stream to those assets.
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	assets := make(map[string]bool)
	if raw := r.URL.Query().Get("assets"); raw != "" {
		for _, a := range strings.Split(raw, ",") {
			if a = strings.TrimSpace(a); a != "" {
				assets[a] = true
			}
		}
	}

	client := &subscriber{ch: make(chan []byte, subscriberBuffer), assets: assets}
	b.register <- client

	notify := r.Context().Done()

	for {
		select {
		case <-notify:
			b.unregister <- client
			return
		case msg, ok := <-client.ch:
			if !ok {
				return
			}
			if msg == nil {
				// Heartbeat comment keeps intermediaries from closing the stream
				fmt.Fprint(w, ": ping\n\n")
			} else {
				fmt.Fprintf(w, "data: %s\n\n", msg)
			}
			w.(http.Flusher).Flush()
		}
	}
}

// Broadcast sends a flow event to all subscribers watching its asset
func (b *Broker) Broadcast(asset string, payload interface{}) {
	data := map[string]interface{}{
		"event":   "flow",
		"asset":   asset,
		"payload": payload,
	}

	jsonBytes, err := json.Marshal(data)
	if err != nil {
		log.Printf("Error marshalling broadcast message: %v", err)
		return
	}

	select {
	case b.broadcast <- message{asset: asset, data: jsonBytes}:
	default:
		// Drop if broadcast buffer full
	}
}
