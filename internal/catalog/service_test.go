package catalog

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"constancia/internal/audit"
	id "constancia/pkg/domain"
	dErrors "constancia/pkg/domain-errors"
)

// =============================================================================
// Catalog Service Test Suite
// =============================================================================
// Justification for unit tests: tombstone semantics and the enrollment
// deletion cascade are the two destructive rules in the catalog; both have
// confirmation and visibility behavior that plain CRUD tests would miss.

type CatalogSuite struct {
	suite.Suite
	certs    *cascadeRecorder
	auditLog *audit.MemoryStore
	service  *Service
}

func TestCatalogSuite(t *testing.T) {
	suite.Run(t, new(CatalogSuite))
}

func (s *CatalogSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.certs = &cascadeRecorder{counts: map[id.EnrollmentID]int{}}
	s.auditLog = audit.NewMemoryStore()
	s.service = NewService(NewMemoryStore(), s.certs, audit.NewPublisher(s.auditLog), logger, nil)
}

// cascadeRecorder stands in for the certificate store's cascade queries.
type cascadeRecorder struct {
	mu      sync.Mutex
	counts  map[id.EnrollmentID]int
	deleted []id.EnrollmentID
}

func (c *cascadeRecorder) CountByEnrollment(_ context.Context, enrollmentID id.EnrollmentID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[enrollmentID], nil
}

func (c *cascadeRecorder) DeleteByEnrollment(_ context.Context, enrollmentID id.EnrollmentID) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.counts[enrollmentID]
	delete(c.counts, enrollmentID)
	c.deleted = append(c.deleted, enrollmentID)
	return n, nil
}

func (c *cascadeRecorder) CountByProduct(_ context.Context, _ id.ProductID) (int, error) {
	return 0, nil
}

func (c *cascadeRecorder) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts = map[id.EnrollmentID]int{}
	c.deleted = nil
}

func (s *CatalogSuite) createCourse() *Product {
	product, err := s.service.CreateProduct(context.Background(), CreateProductInput{
		Name:         "Forensics 101",
		Kind:         KindCourse,
		Modality:     ModalityInPerson,
		Hours:        16,
		Competencies: []string{"imaging", "chain of custody"},
	})
	s.Require().NoError(err)
	return product
}

func (s *CatalogSuite) enroll(product *Product) *Enrollment {
	ctx := context.Background()
	participant, err := s.service.CreateParticipant(ctx, ParticipantInput{
		FullName:      "Sofía Lara",
		PersonalEmail: "sofia@example.com",
	})
	s.Require().NoError(err)
	enrollment, err := s.service.Enroll(ctx, participant.ID, product.ID)
	s.Require().NoError(err)
	return enrollment
}

// =============================================================================
// Product Rules
// =============================================================================

func (s *CatalogSuite) TestProductValidation() {
	ctx := context.Background()

	s.Run("competencies only valid for courses", func() {
		_, err := s.service.CreateProduct(ctx, CreateProductInput{
			Name:         "Quick Pill",
			Kind:         KindPill,
			Modality:     ModalityOnline,
			Hours:        1,
			Competencies: []string{"nope"},
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown kind rejected", func() {
		_, err := s.service.CreateProduct(ctx, CreateProductInput{
			Name: "Mystery", Kind: ProductKind("SEMINAR"), Modality: ModalityOnline,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *CatalogSuite) TestTombstone() {
	ctx := context.Background()

	s.Run("removed product disappears from listings but stays readable", func() {
		product := s.createCourse()
		s.Require().NoError(s.service.RemoveProduct(ctx, product.ID))

		listed, err := s.service.ListProducts(ctx)
		s.Require().NoError(err)
		for _, p := range listed {
			s.NotEqual(product.ID, p.ID)
		}

		got, err := s.service.GetProduct(ctx, product.ID)
		s.Require().NoError(err)
		s.True(got.Tombstoned())
	})

	s.Run("tombstoned product rejects new enrollments and updates", func() {
		product := s.createCourse()
		participant, err := s.service.CreateParticipant(ctx, ParticipantInput{
			FullName:      "Late Joiner",
			PersonalEmail: "late@example.com",
		})
		s.Require().NoError(err)
		s.Require().NoError(s.service.RemoveProduct(ctx, product.ID))

		_, err = s.service.Enroll(ctx, participant.ID, product.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))

		_, err = s.service.UpdateProduct(ctx, product.ID, UpdateProductInput{Name: "Renamed"})
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("tombstoning emits an audit event", func() {
		product := s.createCourse()
		s.Require().NoError(s.service.RemoveProduct(ctx, product.ID))
		s.NotEmpty(s.auditLog.ByAction(audit.ActionProductTombstoned))
	})
}

// =============================================================================
// Enrollment Rules
// =============================================================================

func (s *CatalogSuite) TestEnroll() {
	ctx := context.Background()
	product := s.createCourse()
	enrollment := s.enroll(product)

	s.Run("duplicate pair is a conflict", func() {
		_, err := s.service.Enroll(ctx, enrollment.ParticipantID, product.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeConflict))
	})

	s.Run("same participant may enroll in another product", func() {
		other := s.createCourse()
		_, err := s.service.Enroll(ctx, enrollment.ParticipantID, other.ID)
		s.NoError(err)
	})
}

func (s *CatalogSuite) TestDeleteEnrollmentCascade() {
	ctx := context.Background()

	s.Run("no certificates, no confirmation needed", func() {
		enrollment := s.enroll(s.createCourse())
		s.NoError(s.service.DeleteEnrollment(ctx, enrollment.ID, false))
	})

	s.Run("certificates present require explicit confirmation", func() {
		s.certs.reset()
		auditBefore := len(s.auditLog.ByAction(audit.ActionEnrollmentDeleted))
		enrollment := s.enroll(s.createCourse())
		s.certs.counts[enrollment.ID] = 2

		err := s.service.DeleteEnrollment(ctx, enrollment.ID, false)
		s.Require().True(dErrors.HasCode(err, dErrors.CodeConflict))
		s.Contains(err.Error(), "2 certificate(s)")
		s.Empty(s.certs.deleted, "nothing may be destroyed before confirmation")

		s.Require().NoError(s.service.DeleteEnrollment(ctx, enrollment.ID, true))
		s.Equal([]id.EnrollmentID{enrollment.ID}, s.certs.deleted)

		_, err = s.service.GetEnrollment(ctx, enrollment.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))

		events := s.auditLog.ByAction(audit.ActionEnrollmentDeleted)
		s.Require().Len(events, auditBefore+1)
		s.Contains(events[len(events)-1].Reason, "2 certificate(s)")
	})
}
