// Package sink is the terminal stage of the pipeline: it persists each
// debounced flow update atomically and fans it out to live consumers.
// Persistence is the idempotency point — an update whose event already exists
// is a duplicate delivery and produces no fan-out.
package sink

import (
	"context"
	"fmt"
	"log"
	"time"

	"gorm.io/gorm"

	"smartflow/aggregator"
	"smartflow/database"
	"smartflow/tracker"
)

const (
	commitAttempts = 3
	commitBackoff  = 1 * time.Second
)

// Broadcaster pushes an event to live stream subscribers
type Broadcaster interface {
	Broadcast(asset string, payload interface{})
}

// Notifier delivers an event to registered webhooks
type Notifier interface {
	Notify(ev *database.FlowEvent)
}

// Sink persists updates and fans them out
type Sink struct {
	repo     *database.Repository
	broker   Broadcaster
	notifier Notifier
	dedup    *aggregator.Deduper
}

// New creates a sink; broker, notifier and dedup may each be nil
func New(repo *database.Repository, broker Broadcaster, notifier Notifier, dedup *aggregator.Deduper) *Sink {
	return &Sink{repo: repo, broker: broker, notifier: notifier, dedup: dedup}
}

// Run consumes the aggregator flush channel until it closes
func (s *Sink) Run(ctx context.Context, updates <-chan *tracker.Update) {
	for u := range updates {
		if err := s.Commit(ctx, u); err != nil {
			log.Printf("🛑 Flow event lost after %d attempts: %s %s %s: %v",
				commitAttempts, u.Event.EntityAddress, u.Event.Action, u.Event.Asset, err)
		}
	}
}

// Commit writes one update inside a transaction, then fans it out. The event
// insert and the position snapshot always land together or not at all.
func (s *Sink) Commit(ctx context.Context, u *tracker.Update) error {
	var inserted bool
	var err error
	for attempt := 1; attempt <= commitAttempts; attempt++ {
		inserted, err = s.persist(u)
		if err == nil {
			break
		}
		log.Printf("⚠️  Commit attempt %d/%d failed: %v", attempt, commitAttempts, err)
		if attempt < commitAttempts {
			select {
			case <-time.After(commitBackoff * time.Duration(attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	if err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	if !inserted {
		// Duplicate delivery of an already-persisted event
		return nil
	}

	if s.broker != nil {
		s.broker.Broadcast(u.Event.Asset, u.Event)
	}
	if s.notifier != nil {
		if s.dedup == nil || s.dedup.ShouldNotify(ctx, &u.Event) {
			s.notifier.Notify(&u.Event)
		}
	}
	return nil
}

func (s *Sink) persist(u *tracker.Update) (bool, error) {
	var inserted bool
	err := s.repo.Transaction(func(tx *gorm.DB) error {
		var err error
		inserted, err = s.repo.Flows.Insert(tx, &u.Event)
		if err != nil {
			return err
		}
		if !inserted || u.Position == nil {
			return nil
		}
		if u.Position.Size == 0 {
			return s.repo.Positions.Delete(tx, u.Position.EntityID, u.Position.Asset)
		}
		return s.repo.Positions.Upsert(tx, u.Position)
	})
	return inserted, err
}
