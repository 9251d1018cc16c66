package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"smartflow/cache"
	"smartflow/database"
	"smartflow/helpers"
)

// WebhookManager handles webhook notifications for flow events
type WebhookManager struct {
	repo   *database.Repository
	redis  *cache.RedisClient
	client *http.Client
}

// WebhookPayload represents the JSON payload sent to webhooks
type WebhookPayload struct {
	FlowEventID   int64     `json:"FlowEventID"`
	OccurredAt    time.Time `json:"OccurredAt"`
	EntityAddress string    `json:"EntityAddress"`
	Asset         string    `json:"Asset"`
	Action        string    `json:"Action"`
	DeltaSize     float64   `json:"DeltaSize"`
	DeltaUsd      float64   `json:"DeltaUsd"`
	NewSize       float64   `json:"NewSize"`
	NewUsd        float64   `json:"NewUsd"`
	NewSide       string    `json:"NewSide"`
	FillPrice     float64   `json:"FillPrice"`
	Source        string    `json:"Source"`
	Message       string    `json:"Message"`
}

// NewWebhookManager creates a new webhook manager
func NewWebhookManager(repo *database.Repository, redis *cache.RedisClient) *WebhookManager {
	return &WebhookManager{
		repo:  repo,
		redis: redis,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Notify processes a flow event and delivers it to matching webhooks
func (wm *WebhookManager) Notify(ev *database.FlowEvent) {
	webhooks, err := wm.getActiveWebhooks()
	if err != nil {
		log.Printf("⚠️  Failed to load webhooks: %v", err)
		return
	}

	if len(webhooks) == 0 {
		return
	}

	payload := wm.CreatePayload(ev)
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		log.Printf("⚠️  Failed to marshal webhook payload: %v", err)
		return
	}

	for _, hook := range webhooks {
		if wm.shouldSend(hook, ev) {
			go wm.deliverWebhook(hook, ev.ID, payloadBytes)
		}
	}
}

func (wm *WebhookManager) getActiveWebhooks() ([]database.FlowWebhook, error) {
	// Try cache first
	cacheKey := "active_webhooks"
	if wm.redis != nil {
		var cached []database.FlowWebhook
		if err := wm.redis.Get(context.Background(), cacheKey, &cached); err == nil {
			return cached, nil
		}
	}

	webhooks, err := wm.repo.GetActiveWebhooks()
	if err != nil {
		return nil, err
	}

	// Update cache (expire 1 hour)
	if wm.redis != nil {
		_ = wm.redis.Set(context.Background(), cacheKey, webhooks, 1*time.Hour)
	}

	return webhooks, err
}

// CreatePayload generates the webhook payload from a flow event
func (wm *WebhookManager) CreatePayload(ev *database.FlowEvent) WebhookPayload {
	// Example: "🐋 SMART FLOW! 0x1234…abcd open_long BTC | Size: 120.5 @ 65,000 | Value: $7.83M"
	message := fmt.Sprintf("🐋 SMART FLOW! %s %s %s | Size: %.4f @ %s | Value: %s",
		helpers.ShortenAddress(ev.EntityAddress),
		ev.Action,
		ev.Asset,
		ev.DeltaSize,
		helpers.FormatUSD(ev.FillPrice),
		helpers.FormatUSDCompact(ev.DeltaUsd),
	)

	return WebhookPayload{
		FlowEventID:   ev.ID,
		OccurredAt:    ev.OccurredAt,
		EntityAddress: ev.EntityAddress,
		Asset:         ev.Asset,
		Action:        ev.Action,
		DeltaSize:     ev.DeltaSize,
		DeltaUsd:      ev.DeltaUsd,
		NewSize:       ev.NewSize,
		NewUsd:        ev.NewUsd,
		NewSide:       ev.NewSide,
		FillPrice:     ev.FillPrice,
		Source:        ev.Source,
		Message:       message,
	}
}

func (wm *WebhookManager) shouldSend(hook database.FlowWebhook, ev *database.FlowEvent) bool {
	// Check action filter
	if hook.Actions != "" && hook.Actions != "null" {
		// Lenient check: matches if the action is present in the string (JSON or CSV)
		if !strings.Contains(hook.Actions, ev.Action) {
			return false
		}
	}

	// Check asset filter
	if hook.Assets != "" && hook.Assets != "null" {
		if !strings.Contains(hook.Assets, ev.Asset) {
			return false
		}
	}

	// Check value threshold against the absolute flow size
	if hook.MinDeltaUsd != nil {
		delta := ev.DeltaUsd
		if delta < 0 {
			delta = -delta
		}
		if delta < *hook.MinDeltaUsd {
			return false
		}
	}

	return true
}

func (wm *WebhookManager) deliverWebhook(hook database.FlowWebhook, eventID int64, payload []byte) {
	maxRetries := hook.RetryCount
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var resp *http.Response
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		req, _ := http.NewRequest(hook.Method, hook.URL, bytes.NewBuffer(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "SmartFlow-Alert/1.0")

		log.Printf("🔹 Sending webhook to %s (Attempt %d/%d)", hook.URL, attempt, maxRetries)

		// Auth headers
		if hook.AuthType == "BEARER" {
			req.Header.Set("Authorization", "Bearer "+hook.AuthValue)
		} else if hook.AuthHeader != "" {
			req.Header.Set(hook.AuthHeader, hook.AuthValue)
		}

		resp, err = wm.client.Do(req)
		if err == nil && resp.StatusCode >= 200 && resp.StatusCode < 300 {
			wm.logDelivery(hook.ID, eventID, "SUCCESS", resp.StatusCode, "", attempt)
			if resp.Body != nil {
				resp.Body.Close()
			}
			return
		}

		// Wait before retry
		if attempt < maxRetries {
			time.Sleep(time.Duration(hook.RetryDelaySeconds) * time.Second)
		}
	}

	status := "FAILED"
	errMsg := ""
	statusCode := 0
	if err != nil {
		errMsg = err.Error()
	} else if resp != nil {
		statusCode = resp.StatusCode
		resp.Body.Close()
	}

	wm.logDelivery(hook.ID, eventID, status, statusCode, errMsg, maxRetries)
}

func (wm *WebhookManager) logDelivery(webhookID int, eventID int64, status string, code int, err string, attempt int) {
	logEntry := &database.FlowWebhookLog{
		WebhookID:    webhookID,
		FlowEventID:  &eventID,
		TriggeredAt:  time.Now(),
		Status:       status,
		RetryAttempt: attempt,
	}

	if code != 0 {
		logEntry.HTTPStatusCode = &code
	}
	if err != "" {
		logEntry.ErrorMessage = err
	}

	if dbErr := wm.repo.SaveWebhookLog(logEntry); dbErr != nil {
		log.Printf("⚠️  Failed to save webhook log: %v", dbErr)
	}
}

// RefreshCache reloads webhook configurations
func (wm *WebhookManager) RefreshCache() {
	if wm.redis != nil {
		_ = wm.redis.Delete(context.Background(), "active_webhooks")
		log.Println("🔄 Webhook cache invalidated")
	}
}
