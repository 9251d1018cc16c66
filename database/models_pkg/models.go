package models

import "time"

// TrackedEntity represents a curated address whose activity is monitored.
// Entities are bulk-loaded by rank on startup and replaced wholesale on each
// registry refresh; rows are never partially mutated by the pipeline.
//
// Key Fields:
//   - Address: venue/chain address, stored lowercase
//   - Rank: position in the leaderboard for the configured metric
//   - Pnl30d / Roi30d / Volume30d: trailing performance metrics used for ranking
type TrackedEntity struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Address   string    `gorm:"size:64;uniqueIndex;not null" json:"address"`
	Label     string    `gorm:"size:100" json:"label,omitempty"`
	Rank      int       `gorm:"index;not null" json:"rank"`
	Pnl30d    float64   `gorm:"type:decimal(20,2)" json:"pnl_30d"`
	Roi30d    float64   `gorm:"type:decimal(10,4)" json:"roi_30d"`
	Volume30d float64   `gorm:"type:decimal(20,2)" json:"volume_30d"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for TrackedEntity
func (TrackedEntity) TableName() string {
	return "tracked_entities"
}

// Position is the point-in-time snapshot of a tracked entity's exposure in
// one asset. One row per (entity, asset); size and sign jointly determine the
// side. AvgEntryPrice is meaningful only while Size != 0.
type Position struct {
	EntityID      int64     `gorm:"primaryKey" json:"entity_id"`
	Asset         string    `gorm:"size:24;primaryKey" json:"asset"`
	Size          float64   `gorm:"type:decimal(28,10);not null" json:"size"` // signed, >0 long, <0 short
	AvgEntryPrice float64   `gorm:"type:decimal(28,12);not null" json:"avg_entry_price"`
	RealizedPnl   float64   `gorm:"type:decimal(20,2);not null" json:"realized_pnl"`
	UpdatedAt     time.Time `gorm:"not null" json:"updated_at"`
}

// TableName specifies the table name for Position
func (Position) TableName() string {
	return "positions"
}

// FlowEvent is the canonical, deduplicated record of a meaningful position or
// deposit change. Immutable once persisted; the unit of downstream notification.
//
// Action is one of: open_long, open_short, close_long, close_short,
// flip_long_to_short, flip_short_to_long, add_long, reduce_long, add_short,
// reduce_short, deposit.
type FlowEvent struct {
	ID            int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	OccurredAt    time.Time `gorm:"index;not null" json:"occurred_at"`
	EntityID      int64     `gorm:"index;not null;uniqueIndex:idx_flow_events_idem" json:"entity_id"`
	EntityAddress string    `gorm:"size:64;not null" json:"entity_address"`
	Asset         string    `gorm:"size:24;index;not null;uniqueIndex:idx_flow_events_idem" json:"asset"`
	Action        string    `gorm:"size:24;not null;uniqueIndex:idx_flow_events_idem" json:"action"`
	DeltaSize     float64   `gorm:"type:decimal(28,10);not null" json:"delta_size"`
	DeltaUsd      float64   `gorm:"type:decimal(20,2);not null" json:"delta_usd"`
	OldSize       float64   `gorm:"type:decimal(28,10);not null" json:"old_size"`
	OldUsd        float64   `gorm:"type:decimal(20,2);not null" json:"old_usd"`
	NewSize       float64   `gorm:"type:decimal(28,10);not null" json:"new_size"`
	NewUsd        float64   `gorm:"type:decimal(20,2);not null" json:"new_usd"`
	NewSide       string    `gorm:"size:8;not null" json:"new_side"` // long, short, flat
	FillPrice     float64   `gorm:"type:decimal(28,12)" json:"fill_price"`
	AvgEntryPrice float64   `gorm:"type:decimal(28,12)" json:"avg_entry_price"`
	SourceID      string    `gorm:"size:128;not null;uniqueIndex:idx_flow_events_idem" json:"source_id"`
	Source        string    `gorm:"size:24;not null" json:"source"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for FlowEvent
func (FlowEvent) TableName() string {
	return "flow_events"
}

// AddressClassification is a persisted positive classification: the address
// is a known custodial deposit address. Positive results live until manually
// revised.
type AddressClassification struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Network    string    `gorm:"size:24;not null;uniqueIndex:idx_classification_addr" json:"network"`
	Address    string    `gorm:"size:64;not null;uniqueIndex:idx_classification_addr" json:"address"` // stored lowercase
	Custodian  string    `gorm:"size:100;not null" json:"custodian"`
	Confidence float64   `gorm:"type:decimal(4,2);not null" json:"confidence"`
	Source     string    `gorm:"size:24;not null" json:"source"` // labels_api, explorer_api, heuristic, manual
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// TableName specifies the table name for AddressClassification
func (AddressClassification) TableName() string {
	return "address_classifications"
}

// NegativeClassification records that a lookup previously resolved to "no
// match", bounding repeated external calls. Rows are ignored after ExpiresAt.
type NegativeClassification struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Network   string    `gorm:"size:24;not null;uniqueIndex:idx_negative_addr" json:"network"`
	Address   string    `gorm:"size:64;not null;uniqueIndex:idx_negative_addr" json:"address"`
	ExpiresAt time.Time `gorm:"index;not null" json:"expires_at"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// TableName specifies the table name for NegativeClassification
func (NegativeClassification) TableName() string {
	return "negative_classifications"
}

// FlowWebhook holds webhook registration for flow event notifications
type FlowWebhook struct {
	ID                int      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name              string   `gorm:"size:100;not null" json:"name"`
	URL               string   `gorm:"not null" json:"url"`
	Method            string   `gorm:"size:10;default:POST" json:"method"`
	AuthType          string   `gorm:"size:20" json:"auth_type"`
	AuthHeader        string   `gorm:"size:100" json:"auth_header"`
	AuthValue         string   `json:"auth_value"`
	Actions           string   `json:"actions"` // Stored as JSON array
	Assets            string   `json:"assets"`  // Stored as JSON array
	MinDeltaUsd       *float64 `gorm:"type:decimal(20,2)" json:"min_delta_usd,omitempty"`
	IsActive          bool     `gorm:"default:true" json:"is_active"`
	RetryCount        int      `gorm:"default:3" json:"retry_count"`
	RetryDelaySeconds int      `gorm:"default:5" json:"retry_delay_seconds"`
}

// TableName specifies the table name for FlowWebhook
func (FlowWebhook) TableName() string {
	return "flow_webhooks"
}

// FlowWebhookLog records one webhook delivery attempt outcome
type FlowWebhookLog struct {
	ID             int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	WebhookID      int       `gorm:"index;not null" json:"webhook_id"`
	FlowEventID    *int64    `gorm:"index" json:"flow_event_id,omitempty"`
	TriggeredAt    time.Time `gorm:"not null" json:"triggered_at"`
	Status         string    `gorm:"size:20;not null" json:"status"` // SUCCESS, FAILED
	HTTPStatusCode *int      `json:"http_status_code,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	RetryAttempt   int       `json:"retry_attempt"`
}

// TableName specifies the table name for FlowWebhookLog
func (FlowWebhookLog) TableName() string {
	return "flow_webhook_logs"
}
