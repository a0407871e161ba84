package verification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/suite"

	"constancia/internal/audit"
	"constancia/internal/catalog"
	"constancia/internal/certificate"
	id "constancia/pkg/domain"
	dErrors "constancia/pkg/domain-errors"
)

// =============================================================================
// Verification Service Test Suite
// =============================================================================
// Justification for unit tests: the public view is a trust boundary. What it
// omits (ids, paths) matters as much as what it contains, and the
// status-dependent document gate cannot be tested from the issuance side.

type VerificationSuite struct {
	suite.Suite
	certs    *certificate.MemoryStore
	catalog  *catalog.Service
	issuer   *certificate.Issuer
	renderer *pathRenderer
	service  *Service
}

func TestVerificationSuite(t *testing.T) {
	suite.Run(t, new(VerificationSuite))
}

func (s *VerificationSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.certs = certificate.NewMemoryStore()
	s.catalog = catalog.NewService(catalog.NewMemoryStore(), s.certs, nil, logger, nil)
	s.renderer = &pathRenderer{}
	s.issuer = certificate.NewIssuer(certificate.IssuerConfig{
		Store:    s.certs,
		Catalog:  s.catalog,
		Renderer: s.renderer,
		Audit:    audit.Nop{},
		Logger:   logger,
	})
	s.service = NewService(s.certs, s.catalog, nil, 0, nil, logger)
}

type pathRenderer struct {
	err error
}

func (r *pathRenderer) Render(_ context.Context, data certificate.DocumentData) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	return fmt.Sprintf("/var/lib/constancia/documents/%s.pdf", data.Folio), nil
}

func (s *VerificationSuite) issueCertificate() *certificate.Certificate {
	ctx := context.Background()
	product, err := s.catalog.CreateProduct(ctx, catalog.CreateProductInput{
		Name:     "Data Protection Basics",
		Kind:     catalog.KindCourse,
		Modality: catalog.ModalityOnline,
		Hours:    12,
	})
	s.Require().NoError(err)
	participant, err := s.catalog.CreateParticipant(ctx, catalog.ParticipantInput{
		FullName:      "Elena Ríos",
		PersonalEmail: "elena@example.com",
	})
	s.Require().NoError(err)
	enrollment, err := s.catalog.Enroll(ctx, participant.ID, product.ID)
	s.Require().NoError(err)

	cert, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, false)
	s.Require().NoError(err)
	return cert
}

// =============================================================================
// VerifyByFolio
// =============================================================================

func (s *VerificationSuite) TestVerifyByFolio() {
	ctx := context.Background()

	s.Run("unknown folio is not found", func() {
		_, err := s.service.VerifyByFolio(ctx, id.Folio("CERT-ZZZZ-ZZZZ-ZZZZ-ZZZZ"))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("known folio returns the public view", func() {
		cert := s.issueCertificate()

		view, err := s.service.VerifyByFolio(ctx, cert.Folio)
		s.Require().NoError(err)
		s.Equal(cert.Folio.String(), view.Folio)
		s.Equal("Elena Ríos", view.RecipientName)
		s.Equal("Data Protection Basics", view.ProductName)
		s.Equal("COURSE", view.ProductKind)
		s.Equal(12, view.Hours)
		s.False(view.Revoked)
	})

	s.Run("view exposes no internal identifiers or paths", func() {
		cert := s.issueCertificate()

		view, err := s.service.VerifyByFolio(ctx, cert.Folio)
		s.Require().NoError(err)

		raw, err := json.Marshal(view)
		s.Require().NoError(err)
		var fields map[string]any
		s.Require().NoError(json.Unmarshal(raw, &fields))
		for key := range fields {
			s.NotContains(key, "Id")
			s.NotContains(key, "id")
			s.NotContains(key, "Path")
		}
		s.NotContains(string(raw), cert.ID.String())
		s.NotContains(string(raw), cert.DocumentPath)
	})

	s.Run("revoked certificate stays verifiable, flagged", func() {
		cert := s.issueCertificate()
		_, err := s.issuer.Revoke(ctx, cert.ID, "administrative review")
		s.Require().NoError(err)

		view, err := s.service.VerifyByFolio(ctx, cert.Folio)
		s.Require().NoError(err)
		s.True(view.Revoked)
	})

	s.Run("tombstoned product keeps its certificates verifiable", func() {
		cert := s.issueCertificate()
		s.Require().NoError(s.catalog.RemoveProduct(ctx, cert.ProductID))

		view, err := s.service.VerifyByFolio(ctx, cert.Folio)
		s.Require().NoError(err)
		s.Equal("Data Protection Basics", view.ProductName)
	})
}

// =============================================================================
// FetchDocument
// =============================================================================

func (s *VerificationSuite) TestFetchDocument() {
	ctx := context.Background()

	s.Run("ready certificate serves its document path", func() {
		cert := s.issueCertificate()

		path, err := s.service.FetchDocument(ctx, cert.Folio)
		s.Require().NoError(err)
		s.Equal(cert.DocumentPath, path)
	})

	s.Run("failed document is not ready", func() {
		s.renderer.err = errors.New("renderer down")
		cert := s.issueCertificate()
		s.renderer.err = nil

		_, err := s.service.FetchDocument(ctx, cert.Folio)
		s.True(dErrors.HasCode(err, dErrors.CodeDocumentNotReady))
	})

	s.Run("unknown folio is not found", func() {
		_, err := s.service.FetchDocument(ctx, id.Folio("CERT-NOPE-NOPE-NOPE-NOPE"))
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
