// Package stream contains the source adapters that normalize venue and chain
// activity into RawActivityEvents. Each adapter owns one long-lived
// subscription, reconnects on failure, and delivers at-least-once: duplicates
// are possible and are tolerated downstream via the SourceID idempotency key.
package stream

import (
	"context"
	"sort"
	"time"
)

// Kind distinguishes the two shapes of raw activity
type Kind string

const (
	KindFill     Kind = "fill"     // trade tape fill attributed to one counterparty
	KindTransfer Kind = "transfer" // on-chain token transfer
)

// RawActivityEvent is the common normalized form of one inbound message leg.
// Transient: created per message, consumed once by the tracker.
type RawActivityEvent struct {
	Source    string    // trade_tape, evm:<chain>, solana
	Kind      Kind      //
	Network   string    // chain name, empty for tape fills
	Asset     string    // coin or token symbol
	Address   string    // counterparty the fill is attributed to
	From      string    // transfer sender
	To        string    // transfer receiver
	Quantity  float64   // signed for fills (+buy / -sell), positive for transfers
	Price     float64   // fill price, 0 when the source carries none
	Timestamp time.Time //
	SourceID  string    // trade id or transaction hash
}

// Adapter is one long-lived stream source. Run blocks until ctx is cancelled
// or Stop is called, reconnecting internally on failure.
type Adapter interface {
	Name() string
	Run(ctx context.Context)
	Stop()
}

// AddressSubscriber is implemented by adapters whose subscription is keyed by
// watched address; the registry supervisor calls Resubscribe when membership
// changes.
type AddressSubscriber interface {
	Resubscribe(addresses []string)
}

// matchTransfers reconciles per-owner balance deltas for one (tx, asset) into
// discrete transfer events. Multi-leg transactions (more senders or receivers
// than a two-party transfer) are matched greedily, largest legs first, so
// equal-and-opposite deltas pair up.
func matchTransfers(source, network, txHash, asset string, deltas map[string]float64, ts time.Time) []RawActivityEvent {
	type leg struct {
		owner  string
		amount float64
	}
	var senders, receivers []leg
	for owner, delta := range deltas {
		// Dust left by rounding the two sides of a leg
		if delta > 1e-9 {
			receivers = append(receivers, leg{owner, delta})
		} else if delta < -1e-9 {
			senders = append(senders, leg{owner, -delta})
		}
	}
	sort.Slice(senders, func(i, j int) bool { return senders[i].amount > senders[j].amount })
	sort.Slice(receivers, func(i, j int) bool { return receivers[i].amount > receivers[j].amount })

	var events []RawActivityEvent
	si := 0
	for _, recv := range receivers {
		remaining := recv.amount
		for remaining > 1e-9 && si < len(senders) {
			matched := remaining
			if senders[si].amount < matched {
				matched = senders[si].amount
			}
			events = append(events, RawActivityEvent{
				Source:    source,
				Kind:      KindTransfer,
				Network:   network,
				Asset:     asset,
				From:      senders[si].owner,
				To:        recv.owner,
				Quantity:  matched,
				Timestamp: ts,
				SourceID:  txHash,
			})
			senders[si].amount -= matched
			remaining -= matched
			if senders[si].amount <= 1e-9 {
				si++
			}
		}
	}
	return events
}
