package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Reconnection and keep-alive tuning for the tape subscription
const (
	tapeInitialBackoff = 5 * time.Second
	tapeMaxBackoff     = 60 * time.Second
	tapePingInterval   = 25 * time.Second
	tapeReadTimeout    = 90 * time.Second
	tapeWriteTimeout   = 10 * time.Second
)

// TapeAdapter subscribes to the venue's public trade tape over WebSocket:
// one trades channel per monitored asset plus the mid-price channel. Every
// decoded trade yields two RawActivityEvents, one per counterparty.
type TapeAdapter struct {
	url    string
	assets []string
	out    chan<- RawActivityEvent
	onMids func(mids map[string]float64) // price-update channel sink, may be nil

	conn     *websocket.Conn
	connMu   sync.Mutex
	writeMu  sync.Mutex
	backoff  time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	seen     *SeenSet
}

// Wire messages

type tapeRequest struct {
	Method       string            `json:"method"`
	Subscription map[string]string `json:"subscription,omitempty"`
}

type tapeMessage struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

type tapeTrade struct {
	Coin  string    `json:"coin"`
	Side  string    `json:"side"`
	Px    string    `json:"px"`
	Sz    string    `json:"sz"`
	Time  int64     `json:"time"` // unix millis
	Tid   int64     `json:"tid"`
	Users [2]string `json:"users"` // [buyer, seller]
}

type tapeMids struct {
	Mids map[string]string `json:"mids"`
}

// NewTapeAdapter creates a trade-tape adapter
func NewTapeAdapter(url string, assets []string, out chan<- RawActivityEvent, onMids func(map[string]float64)) *TapeAdapter {
	return &TapeAdapter{
		url:      url,
		assets:   assets,
		out:      out,
		onMids:   onMids,
		backoff:  tapeInitialBackoff,
		stopChan: make(chan struct{}),
		seen:     NewSeenSet(8192),
	}
}

// Name implements Adapter
func (a *TapeAdapter) Name() string { return "trade_tape" }

// Stop implements Adapter
func (a *TapeAdapter) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
		a.closeConn()
	})
}

// Run connects, subscribes and reads until ctx is cancelled, reconnecting
// with exponential backoff on any failure.
func (a *TapeAdapter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		default:
		}

		if err := a.connect(ctx); err != nil {
			log.Printf("⚠️  Tape connection failed: %v", err)
			if !a.waitBackoff(ctx) {
				return
			}
			continue
		}

		log.Printf("✅ Tape connected, %d asset channels subscribed", len(a.assets))
		a.backoff = tapeInitialBackoff

		pingCtx, cancelPing := context.WithCancel(ctx)
		go a.pingLoop(pingCtx)

		if err := a.readLoop(ctx); err != nil {
			log.Printf("⚠️  Tape read error: %v", err)
		}
		cancelPing()
		a.closeConn()

		if !a.waitBackoff(ctx) {
			return
		}
	}
}

// connect dials the endpoint and sends one subscription per asset channel
// plus the price-update channel.
func (a *TapeAdapter) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", a.url, err)
	}

	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()

	for _, asset := range a.assets {
		sub := tapeRequest{
			Method:       "subscribe",
			Subscription: map[string]string{"type": "trades", "coin": asset},
		}
		if err := a.writeJSON(sub); err != nil {
			return fmt.Errorf("failed to subscribe trades %s: %w", asset, err)
		}
	}

	mids := tapeRequest{
		Method:       "subscribe",
		Subscription: map[string]string{"type": "allMids"},
	}
	if err := a.writeJSON(mids); err != nil {
		return fmt.Errorf("failed to subscribe allMids: %w", err)
	}
	return nil
}

// pingLoop keeps the connection alive. Runs until its context is cancelled.
func (a *TapeAdapter) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(tapePingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.writeJSON(tapeRequest{Method: "ping"}); err != nil {
				log.Printf("⚠️  Tape ping failed: %v", err)
				a.closeConn() // read loop unblocks and triggers reconnect
				return
			}
		}
	}
}

func (a *TapeAdapter) readLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.stopChan:
			return nil
		default:
		}

		a.connMu.Lock()
		conn := a.conn
		a.connMu.Unlock()
		if conn == nil {
			return fmt.Errorf("connection is nil")
		}

		conn.SetReadDeadline(time.Now().Add(tapeReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		a.handleMessage(ctx, data)
	}
}

// handleMessage decodes one frame. Malformed payloads are dropped, never fatal.
func (a *TapeAdapter) handleMessage(ctx context.Context, data []byte) {
	var msg tapeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("⚠️  Tape: dropping malformed frame: %v", err)
		return
	}

	switch msg.Channel {
	case "trades":
		var trades []tapeTrade
		if err := json.Unmarshal(msg.Data, &trades); err != nil {
			log.Printf("⚠️  Tape: dropping malformed trades payload: %v", err)
			return
		}
		for _, t := range trades {
			a.emitTrade(ctx, t)
		}

	case "allMids":
		if a.onMids == nil {
			return
		}
		var payload tapeMids
		if err := json.Unmarshal(msg.Data, &payload); err != nil {
			return
		}
		mids := make(map[string]float64, len(payload.Mids))
		for coin, raw := range payload.Mids {
			if px, err := strconv.ParseFloat(raw, 64); err == nil {
				mids[coin] = px
			}
		}
		a.onMids(mids)

	case "pong", "subscriptionResponse":
		// keep-alive / ack, nothing to do
	}
}

// emitTrade turns one tape trade into two counterparty events
func (a *TapeAdapter) emitTrade(ctx context.Context, t tapeTrade) {
	sourceID := strconv.FormatInt(t.Tid, 10)
	if !a.seen.Observe(sourceID) {
		return // duplicate delivery after reconnect
	}

	px, err := strconv.ParseFloat(t.Px, 64)
	if err != nil {
		log.Printf("⚠️  Tape: dropping trade %s with bad price %q", sourceID, t.Px)
		return
	}
	sz, err := strconv.ParseFloat(t.Sz, 64)
	if err != nil {
		log.Printf("⚠️  Tape: dropping trade %s with bad size %q", sourceID, t.Sz)
		return
	}

	ts := time.UnixMilli(t.Time).UTC()
	buyer, seller := t.Users[0], t.Users[1]

	a.emit(ctx, RawActivityEvent{
		Source:    a.Name(),
		Kind:      KindFill,
		Asset:     t.Coin,
		Address:   buyer,
		Quantity:  sz,
		Price:     px,
		Timestamp: ts,
		SourceID:  sourceID,
	})
	a.emit(ctx, RawActivityEvent{
		Source:    a.Name(),
		Kind:      KindFill,
		Asset:     t.Coin,
		Address:   seller,
		Quantity:  -sz,
		Price:     px,
		Timestamp: ts,
		SourceID:  sourceID,
	})
}

// emit blocks until the tracker accepts the event; fills must not be dropped
// or reordered, so there is no best-effort path here.
func (a *TapeAdapter) emit(ctx context.Context, ev RawActivityEvent) {
	select {
	case a.out <- ev:
	case <-ctx.Done():
	case <-a.stopChan:
	}
}

func (a *TapeAdapter) writeJSON(v interface{}) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.connMu.Lock()
	conn := a.conn
	a.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	conn.SetWriteDeadline(time.Now().Add(tapeWriteTimeout))
	return conn.WriteJSON(v)
}

func (a *TapeAdapter) closeConn() {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

// waitBackoff sleeps for the current backoff and doubles it up to the cap.
// Returns false when the adapter should exit instead of retrying.
func (a *TapeAdapter) waitBackoff(ctx context.Context) bool {
	log.Printf("🔄 Tape reconnecting in %v...", a.backoff)
	select {
	case <-ctx.Done():
		return false
	case <-a.stopChan:
		return false
	case <-time.After(a.backoff):
	}
	a.backoff *= 2
	if a.backoff > tapeMaxBackoff {
		a.backoff = tapeMaxBackoff
	}
	return true
}
