package alert

import (
	"fmt"
	"hash/fnv"
	"time"

	"github.com/google/uuid"
)

// Severity grades an alert for routing and display
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid checks if severity is a known grade
func (s Severity) Valid() bool {
	return s == SeverityInfo || s == SeverityWarning || s == SeverityCritical
}

// String returns string representation
func (s Severity) String() string {
	return string(s)
}

// Alert is a deduplicated human-facing notification. Identity is the dedup
// key; repeats within the suppression window update the record instead of
// producing a new one.
type Alert struct {
	DedupKey   string    `json:"dedup_key"`
	EventType  string    `json:"event_type"`
	PositionID uuid.UUID `json:"position_id,omitzero"`
	ActionType string    `json:"action_type,omitempty"`

	Severity Severity `json:"severity"`
	Message  string   `json:"message"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	// Count is how many times this alert fired inside the current window.
	Count int `json:"count"`

	// Escalated is set once the strike threshold promotes the severity.
	Escalated bool `json:"escalated"`
}

// DedupKey derives the identity of an alert from what happened, to whom,
// and what was proposed about it.
func DedupKey(eventType string, positionID uuid.UUID, actionType string) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s", eventType, positionID, actionType)
	return fmt.Sprintf("%016x", h.Sum64())
}
