// Package certificate implements the issuance and verification engine: the
// rules for when a certificate may be created, how duplicates are prevented,
// how bulk issuance degrades under partial failure, and how certificates are
// revoked or deleted. Public verification lives in internal/verification.
package certificate

import (
	"time"

	"constancia/internal/catalog"
	id "constancia/pkg/domain"
)

// Status is the certificate lifecycle state.
//
// Transitions:
//
//	PENDING_DOCUMENT → READY    (renderer succeeded)
//	PENDING_DOCUMENT → FAILED   (renderer failed; retryable)
//	FAILED           → READY    (retry succeeded)
//	READY            → REVOKED  (administrative action)
type Status string

const (
	StatusPendingDocument Status = "PENDING_DOCUMENT"
	StatusReady           Status = "READY"
	StatusFailed          Status = "FAILED"
	StatusRevoked         Status = "REVOKED"
)

// CanRetryDocument reports whether the document may be re-rendered without
// touching uniqueness.
func (s Status) CanRetryDocument() bool {
	return s == StatusPendingDocument || s == StatusFailed
}

// TargetKind distinguishes the two issuance targets.
type TargetKind string

const (
	TargetParticipant TargetKind = "participant"
	TargetTeacher     TargetKind = "teacher"
)

// Certificate is immutable once issued except for status transitions and
// deletion; reissuing means deleting and recreating.
type Certificate struct {
	ID               id.CertificateID
	Folio            id.Folio
	Status           Status
	WithCompetencies bool

	// Exactly one issuance target: EnrollmentID for participants, or
	// TeacherID for teachers. ProductID is always populated.
	EnrollmentID *id.EnrollmentID
	TeacherID    *id.TeacherID
	ProductID    id.ProductID

	DocumentPath string
	IssuedAt     time.Time
	RevokedAt    *time.Time
}

// Kind reports which target the certificate was issued against.
func (c *Certificate) Kind() TargetKind {
	if c.TeacherID != nil {
		return TargetTeacher
	}
	return TargetParticipant
}

// ResolvedTarget is the output of the identity resolver: a validated
// issuance target plus the entities needed for rendering and delivery.
type ResolvedTarget struct {
	Kind             TargetKind
	EnrollmentID     id.EnrollmentID // zero unless Kind == TargetParticipant
	ParticipantID    id.ParticipantID
	TeacherID        id.TeacherID // zero unless Kind == TargetTeacher
	ProductID        id.ProductID
	WithCompetencies bool

	RecipientName string
	Product       *catalog.Product
}

// TargetID is the external identifier used in bulk reports.
func (t *ResolvedTarget) TargetID() string {
	if t.Kind == TargetTeacher {
		return t.TeacherID.String()
	}
	return t.EnrollmentID.String()
}

// DocumentData is everything the external renderer needs, keyed by folio.
type DocumentData struct {
	Folio         id.Folio
	RecipientName string
	ProductName   string
	ProductKind   catalog.ProductKind
	Hours         int
	IssuedAt      time.Time
	Competencies  []string
}
