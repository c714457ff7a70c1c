package audit

import (
	"context"
	"time"

	id "trustmint/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so stores and
// sinks can route them to different topics or retention policies.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: identity
	// outcomes, trust changes and asset issuance.
	CategoryCompliance EventCategory = "compliance"

	// CategoryOperations covers events useful for operational visibility.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	UserID    id.UserID
	// Subject is the entity acted upon: a document id, a check reference or an
	// asset id.
	Subject   string
	Action    string
	Decision  string
	Reason    string
	RequestID string
	// Reference correlates the event with the external system: the provider
	// check reference for verification events, the ledger tx hash for issuance.
	Reference string
}

type AuditEvent string

const (
	// Verification events
	EventVerificationSubmitted AuditEvent = "verification_submitted"
	EventVerificationCompleted AuditEvent = "verification_completed"
	EventTrustLevelRaised      AuditEvent = "trust_level_raised"

	// Issuance events
	EventAssetIssued      AuditEvent = "asset_issued"
	EventAssetIssueFailed AuditEvent = "asset_issue_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventVerificationCompleted: CategoryCompliance,
	EventTrustLevelRaised:      CategoryCompliance,
	EventAssetIssued:           CategoryCompliance,

	EventVerificationSubmitted: CategoryOperations,
	EventAssetIssueFailed:      CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
}
