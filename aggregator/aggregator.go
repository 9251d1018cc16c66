// Package aggregator coalesces bursts of flow updates. Venues report large
// orders as many partial fills in quick succession; the debouncer merges
// same-direction updates for one (entity, asset) arriving within the window
// into a single update, and holds the window open while fills keep arriving.
package aggregator

import (
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"smartflow/tracker"
)

type pendingEntry struct {
	update *tracker.Update
	timer  *time.Timer
}

// Aggregator debounces tracker updates into a flush channel
type Aggregator struct {
	window time.Duration
	out    chan *tracker.Update

	mu      sync.Mutex
	pending map[string]*pendingEntry
	stopped bool
}

// New creates an aggregator with the given debounce window
func New(window time.Duration) *Aggregator {
	return &Aggregator{
		window:  window,
		out:     make(chan *tracker.Update, 256),
		pending: make(map[string]*pendingEntry),
	}
}

// Updates is the flush channel; each receive is one debounced update
func (a *Aggregator) Updates() <-chan *tracker.Update {
	return a.out
}

// Offer feeds one update into the debouncer. Opposite-direction activity in
// the same window is kept apart: each direction debounces under its own key,
// so a buy burst and a sell burst never cancel into silence.
func (a *Aggregator) Offer(u *tracker.Update) {
	key := debounceKey(u)

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}

	if entry, ok := a.pending[key]; ok {
		merge(entry.update, u)
		entry.timer.Reset(a.window)
		return
	}

	entry := &pendingEntry{update: u}
	entry.timer = time.AfterFunc(a.window, func() { a.flush(key) })
	a.pending[key] = entry
}

// Stop flushes everything still pending and closes the flush channel
func (a *Aggregator) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	a.stopped = true

	for key, entry := range a.pending {
		entry.timer.Stop()
		a.out <- entry.update
		delete(a.pending, key)
	}
	close(a.out)
	log.Println("🛑 Aggregator stopped")
}

func (a *Aggregator) flush(key string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.stopped {
		return
	}
	entry, ok := a.pending[key]
	if !ok {
		return
	}
	delete(a.pending, key)
	a.out <- entry.update
}

func debounceKey(u *tracker.Update) string {
	dir := "buy"
	if u.Event.DeltaSize < 0 {
		dir = "sell"
	}
	if u.Event.Action == tracker.ActionDeposit {
		dir = "deposit"
	}
	return u.Event.Asset + "|" + dir + "|" + strconv.FormatInt(u.Event.EntityID, 10)
}

// merge folds a later update into the pending one. Deltas accumulate, the
// fill price becomes size-weighted, and the end-state fields (action, new
// size, side, position snapshot) come from the newest update — the merged
// event describes the net transition from the first old state to the last
// new state.
func merge(into, next *tracker.Update) {
	prevDelta := math.Abs(into.Event.DeltaSize)
	nextDelta := math.Abs(next.Event.DeltaSize)
	if prevDelta+nextDelta > 0 {
		into.Event.FillPrice = (prevDelta*into.Event.FillPrice + nextDelta*next.Event.FillPrice) /
			(prevDelta + nextDelta)
	}

	into.Event.DeltaSize += next.Event.DeltaSize
	into.Event.DeltaUsd += next.Event.DeltaUsd
	into.Event.Action = next.Event.Action
	into.Event.NewSize = next.Event.NewSize
	into.Event.NewUsd = next.Event.NewUsd
	into.Event.NewSide = next.Event.NewSide
	into.Event.AvgEntryPrice = next.Event.AvgEntryPrice
	into.Position = next.Position

	// Net action across the window: an open merged into later adds is still
	// one open of the combined size
	if into.Event.OldSize == 0 && into.Event.NewSize != 0 {
		if into.Event.NewSize > 0 {
			into.Event.Action = tracker.ActionOpenLong
		} else {
			into.Event.Action = tracker.ActionOpenShort
		}
	}
}
