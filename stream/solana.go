package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	solInitialBackoff = 5 * time.Second
	solMaxBackoff     = 60 * time.Second
	solCatchupLimit   = 20
	// Inter-call delay for catch-up scans so the adapter self-throttles
	// instead of leaning on downstream backpressure
	solCatchupDelay = 300 * time.Millisecond
)

// SolanaAdapter watches tracked addresses on Solana: one logsSubscribe per
// watched address over WebSocket and, per notification, a getTransaction
// fetch whose pre/post token balances are diffed to reconstruct transfers.
// On (re)connect it runs a throttled catch-up scan over recent signatures.
type SolanaAdapter struct {
	wsURL  string
	rpcURL string
	tokens map[string]Token // keyed by mint address
	out    chan<- RawActivityEvent
	client *http.Client

	conn     *websocket.Conn
	connMu   sync.Mutex
	writeMu  sync.Mutex
	backoff  time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	seen     *SeenSet

	addrMu    sync.RWMutex
	addresses []string
	nextID    uint64
}

type solTokenBalance struct {
	AccountIndex  int    `json:"accountIndex"`
	Mint          string `json:"mint"`
	Owner         string `json:"owner"`
	UITokenAmount struct {
		UIAmount *float64 `json:"uiAmount"`
	} `json:"uiTokenAmount"`
}

type solTransaction struct {
	BlockTime *int64 `json:"blockTime"`
	Meta      struct {
		Err               interface{}       `json:"err"`
		PreTokenBalances  []solTokenBalance `json:"preTokenBalances"`
		PostTokenBalances []solTokenBalance `json:"postTokenBalances"`
	} `json:"meta"`
}

type solLogValue struct {
	Signature string      `json:"signature"`
	Err       interface{} `json:"err"`
}

type solSignatureInfo struct {
	Signature string      `json:"signature"`
	Err       interface{} `json:"err"`
}

// NewSolanaAdapter creates a Solana transfer adapter
func NewSolanaAdapter(wsURL, rpcURL string, tokens []Token, out chan<- RawActivityEvent) *SolanaAdapter {
	tokenMap := make(map[string]Token, len(tokens))
	for _, t := range tokens {
		tokenMap[t.Address] = t
	}
	return &SolanaAdapter{
		wsURL:    wsURL,
		rpcURL:   rpcURL,
		tokens:   tokenMap,
		out:      out,
		client:   &http.Client{Timeout: 15 * time.Second},
		backoff:  solInitialBackoff,
		stopChan: make(chan struct{}),
		seen:     NewSeenSet(8192),
	}
}

// Name implements Adapter
func (a *SolanaAdapter) Name() string { return "solana" }

// Stop implements Adapter
func (a *SolanaAdapter) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
		a.closeConn()
	})
}

// Resubscribe replaces the watched address set. The current connection is
// dropped so the next session subscribes with the new membership.
func (a *SolanaAdapter) Resubscribe(addresses []string) {
	a.addrMu.Lock()
	a.addresses = append([]string(nil), addresses...)
	a.addrMu.Unlock()

	log.Printf("🔄 Solana: resubscribing with %d watched addresses", len(addresses))
	a.closeConn()
}

// Run connects and processes log notifications until ctx is cancelled
func (a *SolanaAdapter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		default:
		}

		if err := a.session(ctx); err != nil {
			log.Printf("⚠️  Solana session ended: %v", err)
		}
		a.closeConn()

		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case <-time.After(a.backoff):
		}
		a.backoff *= 2
		if a.backoff > solMaxBackoff {
			a.backoff = solMaxBackoff
		}
	}
}

func (a *SolanaAdapter) session(ctx context.Context) error {
	a.addrMu.RLock()
	addresses := append([]string(nil), a.addresses...)
	a.addrMu.RUnlock()

	if len(addresses) == 0 {
		// Nothing to watch yet; wait for the registry to call Resubscribe
		select {
		case <-ctx.Done():
		case <-a.stopChan:
		case <-time.After(10 * time.Second):
		}
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", a.wsURL, err)
	}
	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()

	for _, addr := range addresses {
		req := rpcRequest{
			JSONRPC: "2.0",
			ID:      atomic.AddUint64(&a.nextID, 1),
			Method:  "logsSubscribe",
			Params: []interface{}{
				map[string]interface{}{"mentions": []string{addr}},
				map[string]interface{}{"commitment": "finalized"},
			},
		}
		if err := a.writeJSON(req); err != nil {
			return fmt.Errorf("logsSubscribe %s failed: %w", addr, err)
		}
	}

	log.Printf("✅ Solana connected, %d address subscriptions", len(addresses))
	a.backoff = solInitialBackoff

	// Throttled catch-up over activity missed while disconnected
	go a.catchUp(ctx, addresses)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.stopChan:
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(2 * time.Minute))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		a.handleFrame(ctx, data)
	}
}

func (a *SolanaAdapter) handleFrame(ctx context.Context, data []byte) {
	var msg rpcMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Printf("⚠️  Solana: dropping malformed frame: %v", err)
		return
	}
	if msg.Method != "logsNotification" {
		return // subscription ack or unrelated notification
	}

	var params rpcSubscriptionParams
	if err := json.Unmarshal(msg.Params, &params); err != nil {
		return
	}
	var wrapper struct {
		Value solLogValue `json:"value"`
	}
	if err := json.Unmarshal(params.Result, &wrapper); err != nil {
		return
	}
	if wrapper.Value.Err != nil || wrapper.Value.Signature == "" {
		return // failed transactions move no balances
	}
	a.processSignature(ctx, wrapper.Value.Signature)
}

// catchUp scans recent signatures for each watched address with explicit
// inter-call delays; rate-limit responses back the scan off further.
func (a *SolanaAdapter) catchUp(ctx context.Context, addresses []string) {
	for _, addr := range addresses {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		case <-time.After(solCatchupDelay):
		}

		result, err := a.rpcPost(ctx, "getSignaturesForAddress",
			[]interface{}{addr, map[string]interface{}{"limit": solCatchupLimit}})
		if err != nil {
			log.Printf("⚠️  Solana catch-up for %s failed: %v", addr, err)
			continue
		}

		var sigs []solSignatureInfo
		if err := json.Unmarshal(result, &sigs); err != nil {
			continue
		}
		// Oldest first so replayed events keep arrival order per key
		for i := len(sigs) - 1; i >= 0; i-- {
			if sigs[i].Err != nil {
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-a.stopChan:
				return
			case <-time.After(solCatchupDelay):
			}
			a.processSignature(ctx, sigs[i].Signature)
		}
	}
}

// processSignature fetches one transaction and diffs its pre/post token
// balances per (owner, mint) to reconstruct the transfers it performed.
func (a *SolanaAdapter) processSignature(ctx context.Context, signature string) {
	if !a.seen.Observe(signature) {
		return // duplicate notification or catch-up overlap
	}

	result, err := a.rpcPost(ctx, "getTransaction", []interface{}{
		signature,
		map[string]interface{}{"encoding": "json", "maxSupportedTransactionVersion": 0},
	})
	if err != nil {
		log.Printf("⚠️  Solana: getTransaction %s failed: %v", signature, err)
		return
	}

	var tx solTransaction
	if err := json.Unmarshal(result, &tx); err != nil {
		log.Printf("⚠️  Solana: malformed transaction %s: %v", signature, err)
		return
	}
	if tx.Meta.Err != nil {
		return
	}

	ts := time.Now().UTC()
	if tx.BlockTime != nil {
		ts = time.Unix(*tx.BlockTime, 0).UTC()
	}

	// Owner deltas per mint: post minus pre
	deltas := make(map[string]map[string]float64)
	apply := func(balances []solTokenBalance, sign float64) {
		for _, b := range balances {
			if b.Owner == "" || b.UITokenAmount.UIAmount == nil {
				continue
			}
			if _, watched := a.tokens[b.Mint]; !watched {
				continue
			}
			if deltas[b.Mint] == nil {
				deltas[b.Mint] = make(map[string]float64)
			}
			deltas[b.Mint][b.Owner] += sign * *b.UITokenAmount.UIAmount
		}
	}
	apply(tx.Meta.PreTokenBalances, -1)
	apply(tx.Meta.PostTokenBalances, +1)

	for mint, owners := range deltas {
		token := a.tokens[mint]
		for _, ev := range matchTransfers(a.Name(), "solana", signature, token.Symbol, owners, ts) {
			select {
			case a.out <- ev:
			case <-ctx.Done():
				return
			case <-a.stopChan:
				return
			}
		}
	}
}

// rpcPost performs one HTTP JSON-RPC call with bounded retries; HTTP 429 is
// honored with exponential backoff rather than a fixed retry.
func (a *SolanaAdapter) rpcPost(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: atomic.AddUint64(&a.nextID, 1), Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	delay := time.Second
	var lastErr error
	for attempt := 0; attempt < 4; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-a.stopChan:
				return nil, fmt.Errorf("adapter stopped")
			case <-time.After(delay):
			}
			delay *= 2
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.rpcURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := a.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
				if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
					delay = time.Duration(secs) * time.Second
				}
			}
			resp.Body.Close()
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = fmt.Errorf("unexpected status %d", resp.StatusCode)
			continue
		}

		var msg rpcMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			lastErr = fmt.Errorf("malformed response: %w", err)
			continue
		}
		if msg.Error != nil {
			return nil, msg.Error
		}
		return msg.Result, nil
	}
	return nil, lastErr
}

func (a *SolanaAdapter) writeJSON(v interface{}) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	a.connMu.Lock()
	conn := a.conn
	a.connMu.Unlock()
	if conn == nil {
		return fmt.Errorf("connection is nil")
	}
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteJSON(v)
}

func (a *SolanaAdapter) closeConn() {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}
