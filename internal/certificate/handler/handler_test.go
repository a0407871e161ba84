package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"constancia/internal/audit"
	"constancia/internal/catalog"
	"constancia/internal/certificate"
	"constancia/internal/validation"
	id "constancia/pkg/domain"
)

// =============================================================================
// Certificate Handler Test Suite
// =============================================================================
// Justification for handler tests: status codes, the JSON error envelope,
// and request validation live here, not in the services underneath.

type HandlerSuite struct {
	suite.Suite
	router  *chi.Mux
	catalog *catalog.Service
	certs   *certificate.MemoryStore
	sender  *stubSender
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.certs = certificate.NewMemoryStore()
	s.catalog = catalog.NewService(catalog.NewMemoryStore(), s.certs, nil, logger, nil)
	issuer := certificate.NewIssuer(certificate.IssuerConfig{
		Store:   s.certs,
		Catalog: s.catalog,
		Renderer: renderFunc(func(_ context.Context, data certificate.DocumentData) (string, error) {
			return fmt.Sprintf("/var/lib/constancia/documents/%s.pdf", data.Folio), nil
		}),
		Audit:  audit.Nop{},
		Logger: logger,
	})
	s.sender = &stubSender{}
	bulk := certificate.NewBulk(issuer, s.catalog, s.sender, 2)
	h := New(issuer, bulk, s.sender, validation.New(nil), logger)

	s.router = chi.NewRouter()
	h.Register(s.router)
}

type renderFunc func(ctx context.Context, data certificate.DocumentData) (string, error)

func (f renderFunc) Render(ctx context.Context, data certificate.DocumentData) (string, error) {
	return f(ctx, data)
}

type stubSender struct {
	sent []id.CertificateID
	err  error
}

func (m *stubSender) Send(_ context.Context, certID id.CertificateID, _ string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, certID)
	return nil
}

func (s *HandlerSuite) do(method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func (s *HandlerSuite) fixtures() (productID id.ProductID, enrollmentID id.EnrollmentID) {
	ctx := context.Background()
	product, err := s.catalog.CreateProduct(ctx, catalog.CreateProductInput{
		Name:     "Applied Cryptography",
		Kind:     catalog.KindCourse,
		Modality: catalog.ModalityHybrid,
		Hours:    30,
	})
	s.Require().NoError(err)
	participant, err := s.catalog.CreateParticipant(ctx, catalog.ParticipantInput{
		FullName:      "Iván Soto",
		PersonalEmail: "ivan@example.com",
	})
	s.Require().NoError(err)
	enrollment, err := s.catalog.Enroll(ctx, participant.ID, product.ID)
	s.Require().NoError(err)
	return product.ID, enrollment.ID
}

// =============================================================================
// Issuance Endpoints
// =============================================================================

func (s *HandlerSuite) TestIssueParticipant() {
	_, enrollmentID := s.fixtures()

	s.Run("valid request creates a certificate", func() {
		rec := s.do(http.MethodPost, "/certificates/participant",
			map[string]any{"enrollmentId": enrollmentID.String()})
		s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

		var resp map[string]any
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.Equal("READY", resp["status"])
		s.NotEmpty(resp["folio"])
		s.Equal("participant", resp["kind"])
	})

	s.Run("duplicate issuance is a conflict", func() {
		rec := s.do(http.MethodPost, "/certificates/participant",
			map[string]any{"enrollmentId": enrollmentID.String()})
		s.Equal(http.StatusConflict, rec.Code)

		var resp map[string]string
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.Equal("already_issued", resp["code"])
	})

	s.Run("missing enrollment id fails validation", func() {
		rec := s.do(http.MethodPost, "/certificates/participant", map[string]any{})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("unknown field is rejected", func() {
		rec := s.do(http.MethodPost, "/certificates/participant",
			map[string]any{"enrollmentId": enrollmentID.String(), "surprise": true})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("unknown enrollment is 404", func() {
		rec := s.do(http.MethodPost, "/certificates/participant",
			map[string]any{"enrollmentId": "0b1c8f3e-58a4-4edb-9fd5-2f2f1cbb7a10"})
		s.Equal(http.StatusNotFound, rec.Code)
	})
}

func (s *HandlerSuite) TestIssueTeacher() {
	productID, _ := s.fixtures()
	ctx := context.Background()
	teacher, err := s.catalog.CreateTeacher(ctx, catalog.TeacherInput{
		FullName:           "Dr. Pilar Nava",
		InstitutionalEmail: "pnava@institution.edu",
	})
	s.Require().NoError(err)
	s.Require().NoError(s.catalog.AssignTeachers(ctx, productID, []id.TeacherID{teacher.ID}))

	rec := s.do(http.MethodPost, "/certificates/teacher",
		map[string]any{"teacherId": teacher.ID.String(), "productId": productID.String()})
	s.Require().Equal(http.StatusCreated, rec.Code, rec.Body.String())

	var resp map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("teacher", resp["kind"])
}

// =============================================================================
// Lifecycle Endpoints
// =============================================================================

func (s *HandlerSuite) TestLifecycleEndpoints() {
	_, enrollmentID := s.fixtures()
	rec := s.do(http.MethodPost, "/certificates/participant",
		map[string]any{"enrollmentId": enrollmentID.String()})
	s.Require().Equal(http.StatusCreated, rec.Code)
	var created map[string]any
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &created))
	certID := created["id"].(string)

	s.Run("get returns the certificate", func() {
		rec := s.do(http.MethodGet, "/certificates/"+certID, nil)
		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("send delivers by the chosen email kind", func() {
		rec := s.do(http.MethodPost, "/certificates/"+certID+"/send",
			map[string]any{"emailType": "personal"})
		s.Equal(http.StatusOK, rec.Code, rec.Body.String())
		s.Len(s.sender.sent, 1)
	})

	s.Run("send rejects an unknown email kind", func() {
		rec := s.do(http.MethodPost, "/certificates/"+certID+"/send",
			map[string]any{"emailType": "fax"})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("revoke requires a reason", func() {
		rec := s.do(http.MethodPost, "/certificates/"+certID+"/revoke", map[string]any{})
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("revoke then delete", func() {
		rec := s.do(http.MethodPost, "/certificates/"+certID+"/revoke",
			map[string]any{"reason": "wrong cohort"})
		s.Equal(http.StatusOK, rec.Code, rec.Body.String())

		rec = s.do(http.MethodDelete, "/certificates/"+certID, nil)
		s.Equal(http.StatusNoContent, rec.Code)

		rec = s.do(http.MethodGet, "/certificates/"+certID, nil)
		s.Equal(http.StatusNotFound, rec.Code)
	})

	s.Run("malformed certificate id is a bad request", func() {
		rec := s.do(http.MethodGet, "/certificates/not-a-uuid", nil)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

// =============================================================================
// Bulk Endpoints
// =============================================================================

func (s *HandlerSuite) TestBulkEndpoints() {
	productID, enrollmentID := s.fixtures()

	s.Run("bulk issue returns the aggregated report", func() {
		rec := s.do(http.MethodPost, "/products/"+productID.String()+"/bulk-issue", nil)
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

		var report certificate.BulkReport
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &report))
		s.Len(report.Success, 1)
		s.Empty(report.Errors)
	})

	s.Run("bulk competencies requires an explicit selection", func() {
		rec := s.do(http.MethodPost, "/products/"+productID.String()+"/bulk-issue-competencies",
			map[string]any{"enrollmentIds": []string{}})
		s.Equal(http.StatusBadRequest, rec.Code)

		rec = s.do(http.MethodPost, "/products/"+productID.String()+"/bulk-issue-competencies",
			map[string]any{"enrollmentIds": []string{enrollmentID.String()}})
		s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

		var report certificate.BulkReport
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &report))
		s.Len(report.Success, 1)
	})
}
