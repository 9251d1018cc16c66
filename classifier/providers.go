package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// custodian keywords the heuristic and label matchers look for
var custodianHints = []string{"exchange", "binance", "coinbase", "okx", "kraken", "bybit", "deposit", "custody", "hot wallet"}

func labelLooksCustodial(label string) bool {
	lower := strings.ToLower(label)
	for _, hint := range custodianHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// labelsProvider queries an address-intelligence labels API
type labelsProvider struct {
	url    string
	apiKey string
	client *http.Client
}

func newLabelsProvider(url, apiKey string) *labelsProvider {
	return &labelsProvider{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *labelsProvider) Name() string { return "labels_api" }

type labelsResponse struct {
	Entity struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"arkhamEntity"`
	Label struct {
		Name string `json:"name"`
	} `json:"arkhamLabel"`
}

func (p *labelsProvider) Classify(ctx context.Context, network, address string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/%s", p.url, address), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("API-Key", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("labels request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("labels endpoint returned status %d", resp.StatusCode)
	}

	var body labelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode labels response: %w", err)
	}

	if body.Entity.Type == "cex" || labelLooksCustodial(body.Entity.Name) {
		name := body.Entity.Name
		if name == "" {
			name = body.Label.Name
		}
		return &Result{Custodian: name, Confidence: 0.9}, nil
	}
	if labelLooksCustodial(body.Label.Name) {
		return &Result{Custodian: body.Label.Name, Confidence: 0.7}, nil
	}
	return nil, nil
}

// explorerProvider queries a block-explorer API for address tags
type explorerProvider struct {
	url    string
	apiKey string
	client *http.Client
}

func newExplorerProvider(url, apiKey string) *explorerProvider {
	return &explorerProvider{
		url:    url,
		apiKey: apiKey,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *explorerProvider) Name() string { return "explorer_api" }

type explorerResponse struct {
	Status string `json:"status"`
	Result []struct {
		NameTag string `json:"nametag"`
	} `json:"result"`
}

func (p *explorerProvider) Classify(ctx context.Context, network, address string) (*Result, error) {
	url := fmt.Sprintf("%s?module=nametag&action=getaddresstag&address=%s&apikey=%s",
		p.url, address, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("explorer request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("explorer endpoint returned status %d", resp.StatusCode)
	}

	var body explorerResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode explorer response: %w", err)
	}
	if body.Status != "1" {
		return nil, nil
	}

	for _, tag := range body.Result {
		if labelLooksCustodial(tag.NameTag) {
			return &Result{Custodian: tag.NameTag, Confidence: 0.8}, nil
		}
	}
	return nil, nil
}

// heuristicProvider is a low-confidence last resort: it flags addresses whose
// on-chain shape resembles an exchange deposit wallet. It only ever sees
// addresses the stronger tiers could not resolve, so its confidence is kept
// low and it is disabled by default.
type heuristicProvider struct{}

func (p *heuristicProvider) Name() string { return "heuristic" }

func (p *heuristicProvider) Classify(ctx context.Context, network, address string) (*Result, error) {
	// Without a node-level activity feed the only usable signal here is the
	// bundled hot-wallet allowlist; anything else stays unclassified.
	for _, known := range knownHotWallets[network] {
		if strings.ToLower(address) == known {
			return &Result{Custodian: "unknown exchange", Confidence: 0.3}, nil
		}
	}
	return nil, nil
}

// addresses of major exchange hot wallets, lowercased for exact match
var knownHotWallets = map[string][]string{
	"ethereum": {"0x28c6c06298d514db089934071355e5743bf21d60", "0x21a31ee1afc51d94c2efccaa2092ad1028285549"},
	"solana":   {"5tzfkiw7fmmhbb6jzwctbkgvgk6ct1ddidkuxuzq"},
}
