// Package domain holds the typed identifiers shared across features.
// IDs are distinct types over uuid.UUID so an enrollment ID can never be
// passed where a certificate ID is expected.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

type (
	// ProductID identifies an educational product (course, pill or injection).
	ProductID uuid.UUID
	// ParticipantID identifies a registered participant.
	ParticipantID uuid.UUID
	// TeacherID identifies a teacher.
	TeacherID uuid.UUID
	// EnrollmentID identifies a participant's enrollment in a product.
	EnrollmentID uuid.UUID
	// CertificateID identifies an issued certificate. Internal only; the
	// public handle for a certificate is its Folio.
	CertificateID uuid.UUID
)

// Folio is the public, unguessable handle of a certificate. It is never
// derived from internal IDs.
type Folio string

func (f Folio) String() string { return string(f) }
func (f Folio) IsZero() bool   { return f == "" }

func parse(kind, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("%s is required", kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s: %w", kind, err)
	}
	if u == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%s must not be the nil UUID", kind)
	}
	return u, nil
}

func ParseProductID(s string) (ProductID, error) {
	u, err := parse("product id", s)
	return ProductID(u), err
}

func ParseParticipantID(s string) (ParticipantID, error) {
	u, err := parse("participant id", s)
	return ParticipantID(u), err
}

func ParseTeacherID(s string) (TeacherID, error) {
	u, err := parse("teacher id", s)
	return TeacherID(u), err
}

func ParseEnrollmentID(s string) (EnrollmentID, error) {
	u, err := parse("enrollment id", s)
	return EnrollmentID(u), err
}

func ParseCertificateID(s string) (CertificateID, error) {
	u, err := parse("certificate id", s)
	return CertificateID(u), err
}

func (id ProductID) String() string     { return uuid.UUID(id).String() }
func (id ParticipantID) String() string { return uuid.UUID(id).String() }
func (id TeacherID) String() string     { return uuid.UUID(id).String() }
func (id EnrollmentID) String() string  { return uuid.UUID(id).String() }
func (id CertificateID) String() string { return uuid.UUID(id).String() }

func (id ProductID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id ParticipantID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id TeacherID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id EnrollmentID) IsNil() bool  { return uuid.UUID(id) == uuid.Nil }
func (id CertificateID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// NewCertificateID mints a random certificate ID.
func NewCertificateID() CertificateID { return CertificateID(uuid.New()) }
