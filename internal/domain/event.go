package domain

import "time"

// Event severities and categories as they appear on the bus.
const (
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"

	CategoryInfo     = "INFO"
	CategorySystem   = "SYSTEM"
	CategorySignal   = "SIGNAL"
	CategoryOrder    = "ORDER"
	CategoryRisk     = "RISK"
	CategoryIncident = "INCIDENT"
)

// LiveEvent is one structured, append-only entry on the event bus.
// Details must already be sanitized by the publisher; consumers treat the
// record as read-only.
type LiveEvent struct {
	Timestamp     time.Time      `json:"timestamp"`
	Severity      string         `json:"severity"`
	Category      string         `json:"category"`
	Message       string         `json:"message"`
	Symbol        string         `json:"symbol,omitempty"`
	Action        string         `json:"action"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
}
