package certificate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"constancia/internal/audit"
	"constancia/internal/catalog"
	id "constancia/pkg/domain"
	dErrors "constancia/pkg/domain-errors"
)

// =============================================================================
// Issuer Test Suite
// =============================================================================
// Justification for unit tests: the issuer owns the read-check-then-write
// issuance sequence, the folio retry loop, and the render failure state
// machine. All of it runs against the memory store, which enforces the same
// slot constraints as the postgres unique indexes.

type IssuerSuite struct {
	suite.Suite
	certs    *MemoryStore
	catalog  *catalog.Service
	renderer *stubRenderer
	auditLog *audit.MemoryStore
	issuer   *Issuer
}

func TestIssuerSuite(t *testing.T) {
	suite.Run(t, new(IssuerSuite))
}

func (s *IssuerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.certs = NewMemoryStore()
	s.catalog = catalog.NewService(catalog.NewMemoryStore(), s.certs, nil, logger, nil)
	s.renderer = &stubRenderer{}
	s.auditLog = audit.NewMemoryStore()
	s.issuer = NewIssuer(IssuerConfig{
		Store:    s.certs,
		Catalog:  s.catalog,
		Renderer: s.renderer,
		Audit:    audit.NewPublisher(s.auditLog),
		Logger:   logger,
	})
}

// stubRenderer returns a deterministic path per folio, or the configured
// error.
type stubRenderer struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (r *stubRenderer) Render(_ context.Context, data DocumentData) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return "", r.err
	}
	return fmt.Sprintf("/var/lib/constancia/documents/%s.pdf", data.Folio), nil
}

func (r *stubRenderer) setErr(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// =============================================================================
// Fixtures
// =============================================================================

func (s *IssuerSuite) createProduct(kind catalog.ProductKind, competencies []string) *catalog.Product {
	product, err := s.catalog.CreateProduct(context.Background(), catalog.CreateProductInput{
		Name:         "Intro to Incident Response",
		Kind:         kind,
		Modality:     catalog.ModalityOnline,
		Hours:        20,
		Competencies: competencies,
	})
	s.Require().NoError(err)
	return product
}

func (s *IssuerSuite) createEnrollment(product *catalog.Product) *catalog.Enrollment {
	ctx := context.Background()
	participant, err := s.catalog.CreateParticipant(ctx, catalog.ParticipantInput{
		FullName:      "Laura Mendoza",
		PersonalEmail: "laura@example.com",
	})
	s.Require().NoError(err)
	enrollment, err := s.catalog.Enroll(ctx, participant.ID, product.ID)
	s.Require().NoError(err)
	return enrollment
}

func (s *IssuerSuite) createAssignedTeacher(product *catalog.Product) *catalog.Teacher {
	ctx := context.Background()
	teacher, err := s.catalog.CreateTeacher(ctx, catalog.TeacherInput{
		FullName:           "Dr. Rafael Ortiz",
		InstitutionalEmail: "rortiz@institution.edu",
	})
	s.Require().NoError(err)
	s.Require().NoError(s.catalog.AssignTeachers(ctx, product.ID, []id.TeacherID{teacher.ID}))
	return teacher
}

// =============================================================================
// Participant Issuance
// =============================================================================

func (s *IssuerSuite) TestIssueForEnrollment() {
	ctx := context.Background()

	s.Run("issues a ready certificate", func() {
		product := s.createProduct(catalog.KindCourse, []string{"triage"})
		enrollment := s.createEnrollment(product)

		cert, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, false)
		s.Require().NoError(err)
		s.Equal(StatusReady, cert.Status)
		s.False(cert.Folio.IsZero())
		s.Contains(cert.DocumentPath, cert.Folio.String())
		s.Equal(TargetParticipant, cert.Kind())
	})

	s.Run("normal and competencies slots are independent", func() {
		product := s.createProduct(catalog.KindCourse, []string{"triage", "containment"})
		enrollment := s.createEnrollment(product)

		normal, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, false)
		s.Require().NoError(err)
		withComp, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, true)
		s.Require().NoError(err)
		s.NotEqual(normal.Folio, withComp.Folio)
	})

	s.Run("second issuance on occupied slot conflicts with existing certificate", func() {
		product := s.createProduct(catalog.KindCourse, nil)
		enrollment := s.createEnrollment(product)

		first, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, false)
		s.Require().NoError(err)

		existing, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, false)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyIssued))
		s.Require().NotNil(existing)
		s.Equal(first.Folio, existing.Folio)
	})

	s.Run("competencies on a non-course product is rejected before any write", func() {
		product := s.createProduct(catalog.KindPill, nil)
		enrollment := s.createEnrollment(product)

		_, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, true)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTarget))

		certs, err := s.certs.ListByEnrollment(ctx, enrollment.ID)
		s.NoError(err)
		s.Empty(certs)
	})

	s.Run("unknown enrollment is not found", func() {
		_, err := s.issuer.IssueForEnrollment(ctx, id.EnrollmentID(uuid.New()), false)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("tombstoned product blocks new issuance", func() {
		product := s.createProduct(catalog.KindCourse, nil)
		enrollment := s.createEnrollment(product)
		s.Require().NoError(s.catalog.RemoveProduct(ctx, product.ID))

		_, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, false)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTarget))
	})
}

// =============================================================================
// Teacher Issuance
// =============================================================================

func (s *IssuerSuite) TestIssueForTeacher() {
	ctx := context.Background()

	s.Run("issues a single certificate per teacher and product", func() {
		product := s.createProduct(catalog.KindCourse, nil)
		teacher := s.createAssignedTeacher(product)

		cert, err := s.issuer.IssueForTeacher(ctx, teacher.ID, product.ID)
		s.Require().NoError(err)
		s.Equal(TargetTeacher, cert.Kind())

		existing, err := s.issuer.IssueForTeacher(ctx, teacher.ID, product.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeAlreadyIssued))
		s.Equal(cert.Folio, existing.Folio)
	})

	s.Run("teacher not assigned to product is an invalid target", func() {
		product := s.createProduct(catalog.KindCourse, nil)
		teacher, err := s.catalog.CreateTeacher(ctx, catalog.TeacherInput{
			FullName:           "Unassigned Teacher",
			InstitutionalEmail: "ghost@institution.edu",
		})
		s.Require().NoError(err)

		_, err = s.issuer.IssueForTeacher(ctx, teacher.ID, product.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidTarget))
	})
}

// =============================================================================
// Concurrency
// =============================================================================

func (s *IssuerSuite) TestConcurrentIssuanceSameSlot() {
	ctx := context.Background()
	product := s.createProduct(catalog.KindCourse, nil)
	teacher := s.createAssignedTeacher(product)

	const attempts = 16
	folios := make([]id.Folio, attempts)
	created := make([]bool, attempts)

	var wg sync.WaitGroup
	for n := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			cert, err := s.issuer.IssueForTeacher(ctx, teacher.ID, product.ID)
			if err == nil {
				created[n] = true
			} else if !dErrors.HasCode(err, dErrors.CodeAlreadyIssued) {
				return
			}
			if cert != nil {
				folios[n] = cert.Folio
			}
		}()
	}
	wg.Wait()

	wins := 0
	for _, ok := range created {
		if ok {
			wins++
		}
	}
	s.Equal(1, wins, "exactly one concurrent attempt must create")
	for n := 1; n < attempts; n++ {
		s.Equal(folios[0], folios[n], "every attempt must resolve to the same folio")
	}
}

// =============================================================================
// Render Failure and Retry
// =============================================================================

func (s *IssuerSuite) TestDocumentLifecycle() {
	ctx := context.Background()

	s.Run("render failure leaves certificate failed and retryable", func() {
		product := s.createProduct(catalog.KindCourse, nil)
		enrollment := s.createEnrollment(product)
		s.renderer.setErr(errors.New("renderer unavailable"))

		cert, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, false)
		s.Require().NoError(err, "issuance must survive a render failure")
		s.Equal(StatusFailed, cert.Status)

		s.renderer.setErr(nil)
		retried, err := s.issuer.RetryDocument(ctx, cert.ID)
		s.Require().NoError(err)
		s.Equal(StatusReady, retried.Status)
		s.Equal(cert.Folio, retried.Folio, "retry must not touch the folio")
	})

	s.Run("retry on a ready certificate is rejected", func() {
		product := s.createProduct(catalog.KindCourse, nil)
		enrollment := s.createEnrollment(product)

		cert, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, false)
		s.Require().NoError(err)
		s.Require().Equal(StatusReady, cert.Status)

		_, err = s.issuer.RetryDocument(ctx, cert.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})
}

// =============================================================================
// Revocation and Deletion
// =============================================================================

func (s *IssuerSuite) TestRevoke() {
	ctx := context.Background()
	product := s.createProduct(catalog.KindCourse, nil)
	enrollment := s.createEnrollment(product)

	cert, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, false)
	s.Require().NoError(err)

	revoked, err := s.issuer.Revoke(ctx, cert.ID, "issued to wrong cohort")
	s.Require().NoError(err)
	s.Equal(StatusRevoked, revoked.Status)
	s.NotNil(revoked.RevokedAt)

	_, err = s.issuer.Revoke(ctx, cert.ID, "twice")
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	s.Len(s.auditLog.ByAction(audit.ActionCertificateRevoked), 1)
}

func (s *IssuerSuite) TestDelete() {
	ctx := context.Background()
	product := s.createProduct(catalog.KindCourse, nil)
	enrollment := s.createEnrollment(product)

	cert, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, false)
	s.Require().NoError(err)

	s.Run("deletion frees the slot for reissuance", func() {
		s.Require().NoError(s.issuer.Delete(ctx, cert.ID, "typo in recipient name"))

		replacement, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, false)
		s.Require().NoError(err)
		s.NotEqual(cert.Folio, replacement.Folio)
	})

	s.Run("deleting a missing certificate is not found", func() {
		err := s.issuer.Delete(ctx, cert.ID, "already gone")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
