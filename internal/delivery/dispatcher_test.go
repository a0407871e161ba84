package delivery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"constancia/internal/audit"
	"constancia/internal/catalog"
	"constancia/internal/certificate"
	id "constancia/pkg/domain"
	dErrors "constancia/pkg/domain-errors"
)

// =============================================================================
// Dispatcher Test Suite
// =============================================================================
// Justification for unit tests: address-kind selection and the no-fallback
// rule are pure dispatch policy; exercising them through a real mail API is
// neither possible nor useful in CI.

type DispatcherSuite struct {
	suite.Suite
	certs      *certificate.MemoryStore
	catalog    *catalog.Service
	issuer     *certificate.Issuer
	mailer     *recordingMailer
	auditLog   *audit.MemoryStore
	dispatcher *Dispatcher
}

func TestDispatcherSuite(t *testing.T) {
	suite.Run(t, new(DispatcherSuite))
}

func (s *DispatcherSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.certs = certificate.NewMemoryStore()
	s.catalog = catalog.NewService(catalog.NewMemoryStore(), s.certs, nil, logger, nil)
	s.issuer = certificate.NewIssuer(certificate.IssuerConfig{
		Store:   s.certs,
		Catalog: s.catalog,
		Renderer: renderFunc(func(_ context.Context, data certificate.DocumentData) (string, error) {
			return fmt.Sprintf("/var/lib/constancia/documents/%s.pdf", data.Folio), nil
		}),
		Audit:  audit.Nop{},
		Logger: logger,
	})
	s.mailer = &recordingMailer{}
	s.auditLog = audit.NewMemoryStore()
	s.dispatcher = NewDispatcher(s.certs, s.catalog, s.mailer, nil, audit.NewPublisher(s.auditLog), logger)
}

type renderFunc func(ctx context.Context, data certificate.DocumentData) (string, error)

func (f renderFunc) Render(ctx context.Context, data certificate.DocumentData) (string, error) {
	return f(ctx, data)
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *recordingMailer) reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = nil
	m.err = nil
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

// =============================================================================
// Fixtures
// =============================================================================

func (s *DispatcherSuite) issueParticipantCert(personalEmail, institutionalEmail string) *certificate.Certificate {
	ctx := context.Background()
	product, err := s.catalog.CreateProduct(ctx, catalog.CreateProductInput{
		Name:     "Privacy Workshop",
		Kind:     catalog.KindCourse,
		Modality: catalog.ModalityOnline,
		Hours:    8,
	})
	s.Require().NoError(err)
	participant, err := s.catalog.CreateParticipant(ctx, catalog.ParticipantInput{
		FullName:           "Noa Castillo",
		PersonalEmail:      personalEmail,
		InstitutionalEmail: institutionalEmail,
	})
	s.Require().NoError(err)
	enrollment, err := s.catalog.Enroll(ctx, participant.ID, product.ID)
	s.Require().NoError(err)

	cert, err := s.issuer.IssueForEnrollment(ctx, enrollment.ID, false)
	s.Require().NoError(err)
	return cert
}

// =============================================================================
// Send
// =============================================================================

func (s *DispatcherSuite) TestSend() {
	ctx := context.Background()

	s.Run("delivers to the requested address kind with the document attached", func() {
		cert := s.issueParticipantCert("noa@example.com", "noa@institution.edu")

		s.Require().NoError(s.dispatcher.Send(ctx, cert.ID, certificate.EmailInstitutional))
		s.Require().Len(s.mailer.sent, 1)
		msg := s.mailer.sent[0]
		s.Equal("noa@institution.edu", msg.To)
		s.Equal(cert.DocumentPath, msg.AttachmentPath)
		s.Contains(msg.HTMLBody, cert.Folio.String())
		s.Contains(msg.Subject, "Privacy Workshop")

		s.Len(s.auditLog.ByAction(audit.ActionCertificateSent), 1)
	})

	s.Run("missing address kind fails without falling back", func() {
		s.mailer.reset()
		cert := s.issueParticipantCert("noa2@example.com", "")

		err := s.dispatcher.Send(ctx, cert.ID, certificate.EmailInstitutional)
		s.True(dErrors.HasCode(err, dErrors.CodeNoAddress))
		s.Empty(s.mailer.sent, "must not silently deliver to the personal address")
	})

	s.Run("unknown email kind is rejected", func() {
		cert := s.issueParticipantCert("noa3@example.com", "")
		err := s.dispatcher.Send(ctx, cert.ID, "carrier-pigeon")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("certificate without a ready document cannot be delivered", func() {
		cert := s.issueParticipantCert("noa4@example.com", "")
		s.Require().NoError(s.certs.MarkFailed(ctx, cert.ID))

		err := s.dispatcher.Send(ctx, cert.ID, certificate.EmailPersonal)
		s.True(dErrors.HasCode(err, dErrors.CodeDocumentNotReady))
	})

	s.Run("transport failure surfaces as delivery failure, no retry", func() {
		s.mailer.reset()
		cert := s.issueParticipantCert("noa5@example.com", "")
		s.mailer.err = errors.New("relay timeout")

		err := s.dispatcher.Send(ctx, cert.ID, certificate.EmailPersonal)
		s.True(dErrors.HasCode(err, dErrors.CodeDeliveryFailed))
		s.Empty(s.mailer.sent)
	})

	s.Run("missing certificate is not found", func() {
		err := s.dispatcher.Send(ctx, id.NewCertificateID(), certificate.EmailPersonal)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
