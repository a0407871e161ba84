// Package audit captures the append-only trail of certificate lifecycle
// actions. Certificates are durable records of fact, so every issuance,
// revocation and deletion is recorded with the operator who caused it.
package audit

import "time"

// EventCategory classifies audit events by their primary purpose. Categories
// drive retention and routing: compliance events reach the Kafka sink when
// one is configured.
type EventCategory string

const (
	// CategoryCompliance covers events with institutional significance:
	// issuance, revocation, deletion, cascades.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers events useful for debugging and visibility:
	// deliveries, bulk batch summaries.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	// Subject identifies what was acted on: a folio for certificate events,
	// an entity ID otherwise.
	Subject   string
	Action    Action
	Operator  string
	Reason    string
	RequestID string
}

// Action names an auditable occurrence.
type Action string

const (
	ActionCertificateIssued   Action = "certificate_issued"
	ActionCertificateRevoked  Action = "certificate_revoked"
	ActionCertificateDeleted  Action = "certificate_deleted"
	ActionCertificateSent     Action = "certificate_sent"
	ActionBulkIssuanceDone    Action = "bulk_issuance_completed"
	ActionEnrollmentDeleted   Action = "enrollment_deleted"
	ActionProductTombstoned   Action = "product_tombstoned"
)

// Category derives the event category from its action.
func (a Action) Category() EventCategory {
	switch a {
	case ActionCertificateSent, ActionBulkIssuanceDone:
		return CategoryOperations
	default:
		return CategoryCompliance
	}
}
