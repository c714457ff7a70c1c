package models

import (
	"time"

	id "trustmint/pkg/domain"
	dErrors "trustmint/pkg/domain-errors"
)

type DocumentType string

const (
	DocumentIdentityCard  DocumentType = "identity_card"
	DocumentPassport      DocumentType = "passport"
	DocumentUtilityBill   DocumentType = "utility_bill"
	DocumentBankStatement DocumentType = "bank_statement"
	DocumentSelfie        DocumentType = "selfie"
)

func (t DocumentType) IsValid() bool {
	switch t {
	case DocumentIdentityCard, DocumentPassport, DocumentUtilityBill, DocumentBankStatement, DocumentSelfie:
		return true
	}
	return false
}

// ParseDocumentType validates a document type at a trust boundary.
func ParseDocumentType(s string) (DocumentType, error) {
	t := DocumentType(s)
	if !t.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "unsupported document type "+s)
	}
	return t, nil
}

// DocumentStatus follows submitted -> verified | rejected. Both outcomes are
// terminal.
type DocumentStatus string

const (
	DocumentSubmitted DocumentStatus = "submitted"
	DocumentVerified  DocumentStatus = "verified"
	DocumentRejected  DocumentStatus = "rejected"
)

func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentVerified || s == DocumentRejected
}

// Document is one identity document submitted for verification. Documents
// are never deleted.
type Document struct {
	ID           id.DocumentID
	UserID       id.UserID
	Type         DocumentType
	Status       DocumentStatus
	FileURL      string
	ApplicantRef string
	CheckRef     string
	VerifiedAt   *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type TrustStatus string

const (
	TrustUnverified TrustStatus = "unverified"
	TrustInProgress TrustStatus = "in_progress"
	TrustVerified   TrustStatus = "verified"
)

// User carries the profile and trust fields the pipeline reads and writes.
type User struct {
	ID          id.UserID
	FirstName   string
	LastName    string
	TrustLevel  int
	TrustStatus TrustStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CheckResult is the provider outcome collapsed to pass or fail.
type CheckResult string

const (
	CheckPassed CheckResult = "pass"
	CheckFailed CheckResult = "fail"
)

// DocumentStatus maps the check outcome onto the document state machine.
func (r CheckResult) DocumentStatus() DocumentStatus {
	if r == CheckPassed {
		return DocumentVerified
	}
	return DocumentRejected
}

// Callback is a normalized provider webhook.
type Callback struct {
	CheckReference string
	// Result is empty for events that carry no outcome yet, and for outcomes
	// outside the known vocabulary; RawResult keeps the latter.
	Result    CheckResult
	RawResult string
	Event     string
}

// AckOutcome tells the caller what an accepted callback did.
type AckOutcome string

const (
	AckApplied          AckOutcome = "applied"
	AckDuplicate        AckOutcome = "duplicate"
	AckUnknownReference AckOutcome = "unknown_reference"
	AckPending          AckOutcome = "pending"
)

// Ack acknowledges a callback. Every outcome is acknowledged to the provider.
type Ack struct {
	Outcome        AckOutcome `json:"outcome"`
	CheckReference string     `json:"check_reference"`
	DocumentID     string     `json:"document_id,omitempty"`
	TrustLevel     *int       `json:"trust_level,omitempty"`
}

// Submission is returned once a document has been handed to the provider.
type Submission struct {
	CheckReference string `json:"check_reference"`
	ApplicantRef   string `json:"applicant_reference"`
}
