package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ERC-20 Transfer(address,address,uint256) topic signature
const transferTopic = "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"

const (
	evmInitialBackoff = 5 * time.Second
	evmMaxBackoff     = 60 * time.Second
	evmCallTimeout    = 15 * time.Second
	// Upper bound on the blocks one eth_getLogs call spans when catching up
	// after coalesced heads or a reconnect
	evmCatchupMaxBlocks = 64
)

// Token describes one monitored token contract/mint
type Token struct {
	Symbol   string
	Address  string
	Decimals int
}

// EVMAdapter watches one EVM chain: it subscribes to new block headers over a
// JSON-RPC WebSocket and, per header, fetches the block's log entries matching
// the watched token contracts and the transfer topic signature. Matched logs
// are reconciled into transfer events per (tx, asset) so multi-leg transfers
// pair up by equal-and-opposite owner deltas.
type EVMAdapter struct {
	chain  string
	url    string
	tokens map[string]Token // keyed by lowercase contract address
	out    chan<- RawActivityEvent

	conn     *websocket.Conn
	connMu   sync.Mutex
	writeMu  sync.Mutex
	backoff  time.Duration
	stopChan chan struct{}
	stopOnce sync.Once
	seen     *SeenSet

	pendingMu sync.Mutex
	pending   map[uint64]chan rpcMessage
	nextID    uint64

	// Highest block whose logs were fetched; only the session loop touches it
	lastBlock uint64
}

// JSON-RPC wire types

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type rpcMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcSubscriptionParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

type evmHead struct {
	Number    string `json:"number"`
	Timestamp string `json:"timestamp"`
}

type evmLog struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
	TxHash  string   `json:"transactionHash"`
	Removed bool     `json:"removed"`
}

// NewEVMAdapter creates an EVM transfer adapter for one chain
func NewEVMAdapter(chain, url string, tokens []Token, out chan<- RawActivityEvent) *EVMAdapter {
	tokenMap := make(map[string]Token, len(tokens))
	for _, t := range tokens {
		tokenMap[strings.ToLower(t.Address)] = t
	}
	return &EVMAdapter{
		chain:    chain,
		url:      url,
		tokens:   tokenMap,
		out:      out,
		backoff:  evmInitialBackoff,
		stopChan: make(chan struct{}),
		seen:     NewSeenSet(8192),
		pending:  make(map[uint64]chan rpcMessage),
	}
}

// Name implements Adapter
func (a *EVMAdapter) Name() string { return "evm:" + a.chain }

// Stop implements Adapter
func (a *EVMAdapter) Stop() {
	a.stopOnce.Do(func() {
		close(a.stopChan)
		a.closeConn()
	})
}

// Run connects and processes block headers until ctx is cancelled
func (a *EVMAdapter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopChan:
			return
		default:
		}

		if err := a.session(ctx); err != nil {
			log.Printf("⚠️  %s session ended: %v", a.Name(), err)
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
		if a.backoff > evmMaxBackoff {
			a.backoff = evmMaxBackoff
		}
	}
}

// session runs one connection lifetime: dial, subscribe, consume heads
func (a *EVMAdapter) session(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, a.url, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", a.url, err)
	}
	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()

	headsCh := make(chan evmHead, 16)
	readErr := make(chan error, 1)
	go a.readLoop(conn, headsCh, readErr)

	if _, err := a.call(ctx, "eth_subscribe", []interface{}{"newHeads"}); err != nil {
		return fmt.Errorf("newHeads subscription failed: %w", err)
	}

	log.Printf("✅ %s connected, watching %d token contracts", a.Name(), len(a.tokens))
	a.backoff = evmInitialBackoff

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.stopChan:
			return nil
		case err := <-readErr:
			return err
		case head := <-headsCh:
			a.processHead(ctx, head)
		}
	}
}

// readLoop splits inbound frames into RPC responses (correlated by id) and
// subscription notifications (new heads).
func (a *EVMAdapter) readLoop(conn *websocket.Conn, headsCh chan<- evmHead, readErr chan<- error) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			readErr <- err
			return
		}

		var msg rpcMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("⚠️  %s: dropping malformed frame: %v", a.Name(), err)
			continue
		}

		if msg.ID != nil {
			a.pendingMu.Lock()
			ch, ok := a.pending[*msg.ID]
			delete(a.pending, *msg.ID)
			a.pendingMu.Unlock()
			if ok {
				ch <- msg
			}
			continue
		}

		if msg.Method == "eth_subscription" {
			var params rpcSubscriptionParams
			if err := json.Unmarshal(msg.Params, &params); err != nil {
				continue
			}
			var head evmHead
			if err := json.Unmarshal(params.Result, &head); err != nil || head.Number == "" {
				continue
			}
			select {
			case headsCh <- head:
			default:
				// Head backlog; the dropped block is still fetched later,
				// since processHead queries from lastBlock+1 up to each head
			}
		}
	}
}

// processHead fetches and reconciles the transfer logs up to one head. The
// range starts just past the last fetched block, so heads coalesced while a
// previous fetch was in flight do not leave unfetched blocks behind.
func (a *EVMAdapter) processHead(ctx context.Context, head evmHead) {
	headNum, ok := parseHexUint(head.Number)
	if !ok {
		log.Printf("⚠️  %s: head with unparsable number %q", a.Name(), head.Number)
		return
	}
	from, to := logRange(a.lastBlock, headNum)

	contracts := make([]string, 0, len(a.tokens))
	for addr := range a.tokens {
		contracts = append(contracts, addr)
	}

	filter := map[string]interface{}{
		"fromBlock": hexUint(from),
		"toBlock":   hexUint(to),
		"address":   contracts,
		"topics":    []interface{}{transferTopic},
	}
	result, err := a.call(ctx, "eth_getLogs", []interface{}{filter})
	if err != nil {
		log.Printf("⚠️  %s: eth_getLogs for blocks %d-%d failed: %v", a.Name(), from, to, err)
		return
	}
	var logs []evmLog
	if err := json.Unmarshal(result, &logs); err != nil {
		// Not advancing lastBlock: the range is refetched with the next head
		log.Printf("⚠️  %s: malformed log response: %v", a.Name(), err)
		return
	}
	a.lastBlock = to

	ts := time.Now().UTC()
	if secs, ok := parseHexUint(head.Timestamp); ok {
		ts = time.Unix(int64(secs), 0).UTC()
	}

	// Net owner deltas per (tx, asset); multi-leg transfers cancel out here
	type txAsset struct{ tx, asset string }
	deltas := make(map[txAsset]map[string]float64)

	for _, entry := range logs {
		if entry.Removed || len(entry.Topics) < 3 {
			continue
		}
		token, ok := a.tokens[strings.ToLower(entry.Address)]
		if !ok {
			continue
		}
		amount, ok := parseHexAmount(entry.Data, token.Decimals)
		if !ok || amount == 0 {
			continue
		}
		from := topicToAddress(entry.Topics[1])
		to := topicToAddress(entry.Topics[2])

		key := txAsset{entry.TxHash, token.Symbol}
		if deltas[key] == nil {
			deltas[key] = make(map[string]float64)
		}
		deltas[key][from] -= amount
		deltas[key][to] += amount
	}

	for key, owners := range deltas {
		if !a.seen.Observe(key.tx + ":" + key.asset) {
			continue
		}
		for _, ev := range matchTransfers(a.Name(), a.chain, key.tx, key.asset, owners, ts) {
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

// call performs one correlated JSON-RPC request over the WebSocket
func (a *EVMAdapter) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	a.pendingMu.Lock()
	a.nextID++
	id := a.nextID
	ch := make(chan rpcMessage, 1)
	a.pending[id] = ch
	a.pendingMu.Unlock()

	defer func() {
		a.pendingMu.Lock()
		delete(a.pending, id)
		a.pendingMu.Unlock()
	}()

	req := rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := a.writeJSON(req); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-a.stopChan:
		return nil, fmt.Errorf("adapter stopped")
	case <-time.After(evmCallTimeout):
		return nil, fmt.Errorf("%s call timed out", method)
	case msg := <-ch:
		if msg.Error != nil {
			return nil, msg.Error
		}
		return msg.Result, nil
	}
}

func (a *EVMAdapter) writeJSON(v interface{}) error {
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

func (a *EVMAdapter) closeConn() {
	a.connMu.Lock()
	defer a.connMu.Unlock()
	if a.conn != nil {
		a.conn.Close()
		a.conn = nil
	}
}

// logRange returns the inclusive block range to query for a new head. It
// reaches back to cover blocks whose heads were coalesced or dropped while a
// previous fetch was in flight, capped so a long gap does not become one
// oversized query. A head at or below the last fetched block (reorg or
// duplicate) is refetched alone; the seen-set absorbs the replays.
func logRange(lastFetched, head uint64) (from, to uint64) {
	from = head
	if lastFetched > 0 && lastFetched < head {
		from = lastFetched + 1
		if head-from+1 > evmCatchupMaxBlocks {
			from = head - evmCatchupMaxBlocks + 1
		}
	}
	return from, head
}

// hexUint renders a block number in the 0x-prefixed hex form eth_getLogs expects
func hexUint(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// topicToAddress extracts the 20-byte address from a 32-byte log topic
func topicToAddress(topic string) string {
	topic = strings.TrimPrefix(topic, "0x")
	if len(topic) < 40 {
		return "0x" + topic
	}
	return "0x" + strings.ToLower(topic[len(topic)-40:])
}

// parseHexAmount converts a hex-encoded uint256 into a float token amount
func parseHexAmount(data string, decimals int) (float64, bool) {
	data = strings.TrimPrefix(data, "0x")
	if data == "" {
		return 0, false
	}
	raw, ok := new(big.Int).SetString(data, 16)
	if !ok {
		return 0, false
	}
	scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
	value, _ := new(big.Float).Quo(new(big.Float).SetInt(raw), scale).Float64()
	return value, true
}

// parseHexUint parses a 0x-prefixed hex number
func parseHexUint(s string) (uint64, bool) {
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, false
	}
	v, ok := new(big.Int).SetString(s, 16)
	if !ok || !v.IsUint64() {
		return 0, false
	}
	return v.Uint64(), true
}
