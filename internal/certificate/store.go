package certificate

import (
	"context"
	"errors"
	"time"

	id "constancia/pkg/domain"
)

// ErrFolioCollision reports that an insert failed on the folio unique index
// rather than a target slot. The issuer regenerates the folio and retries;
// it must never translate this into an issuance conflict.
var ErrFolioCollision = errors.New("folio collision")

// Store is the persistence boundary for certificates. The store enforces the
// uniqueness invariant as a hard constraint: one normal and one
// with-competencies slot per enrollment, a single slot per (teacher, product)
// pair. Create returns sentinel.ErrConflict when a slot is taken and
// ErrFolioCollision when only the folio clashed.
type Store interface {
	Create(ctx context.Context, cert *Certificate) error
	GetByID(ctx context.Context, certID id.CertificateID) (*Certificate, error)
	GetByFolio(ctx context.Context, folio id.Folio) (*Certificate, error)

	// FindBySlot returns the certificate occupying the given target slot,
	// or sentinel.ErrNotFound when the slot is free.
	FindBySlot(ctx context.Context, target *ResolvedTarget) (*Certificate, error)

	ListByEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) ([]*Certificate, error)
	ListByProduct(ctx context.Context, productID id.ProductID) ([]*Certificate, error)

	// SetDocumentReady attaches the rendered document and moves the
	// certificate to READY.
	SetDocumentReady(ctx context.Context, certID id.CertificateID, documentPath string) error
	// MarkFailed records a failed render; the certificate stays retryable.
	MarkFailed(ctx context.Context, certID id.CertificateID) error
	// Revoke moves READY to REVOKED; sentinel.ErrInvalidState otherwise.
	Revoke(ctx context.Context, certID id.CertificateID, revokedAt time.Time) error

	Delete(ctx context.Context, certID id.CertificateID) error

	// Cascade queries used by catalog enrollment deletion.
	CountByEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) (int, error)
	DeleteByEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) (int, error)
	CountByProduct(ctx context.Context, productID id.ProductID) (int, error)
}
