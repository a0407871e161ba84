// Package handler exposes the administrative certificate endpoints: single
// and bulk issuance, document retry, revocation, deletion, and resend.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"constancia/internal/certificate"
	"constancia/internal/transport/http/shared"
	"constancia/internal/validation"
	id "constancia/pkg/domain"
	dErrors "constancia/pkg/domain-errors"
)

// Handler handles certificate endpoints. All routes require an
// authenticated operator; registration happens under the admin router.
type Handler struct {
	issuer     *certificate.Issuer
	bulk       *certificate.Bulk
	dispatcher certificate.Sender
	rules      *validation.Rules
	logger     *slog.Logger
}

func New(issuer *certificate.Issuer, bulk *certificate.Bulk, dispatcher certificate.Sender, rules *validation.Rules, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{issuer: issuer, bulk: bulk, dispatcher: dispatcher, rules: rules, logger: logger}
}

// Register mounts the certificate routes on an authenticated router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/certificates/participant", h.handleIssueParticipant)
	r.Post("/certificates/teacher", h.handleIssueTeacher)
	r.Get("/certificates/{certificateID}", h.handleGet)
	r.Post("/certificates/{certificateID}/retry-document", h.handleRetryDocument)
	r.Post("/certificates/{certificateID}/revoke", h.handleRevoke)
	r.Post("/certificates/{certificateID}/send", h.handleSend)
	r.Delete("/certificates/{certificateID}", h.handleDelete)

	r.Post("/products/{productID}/bulk-issue", h.handleBulkIssue)
	r.Post("/products/{productID}/bulk-issue-competencies", h.handleBulkCompetencies)
	r.Get("/products/{productID}/certificates", h.handleListByProduct)
	r.Get("/enrollments/{enrollmentID}/certificates", h.handleListByEnrollment)
}

type issueParticipantRequest struct {
	EnrollmentID     string `json:"enrollmentId" validate:"required,uuid4"`
	WithCompetencies bool   `json:"withCompetencies"`
}

func (h *Handler) handleIssueParticipant(w http.ResponseWriter, r *http.Request) {
	var req issueParticipantRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.rules.Check(req); err != nil {
		shared.WriteError(w, err)
		return
	}
	enrollmentID, err := id.ParseEnrollmentID(req.EnrollmentID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed enrollment id"))
		return
	}

	cert, err := h.issuer.IssueForEnrollment(r.Context(), enrollmentID, req.WithCompetencies)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toCertificateResponse(cert))
}

type issueTeacherRequest struct {
	TeacherID string `json:"teacherId" validate:"required,uuid4"`
	ProductID string `json:"productId" validate:"required,uuid4"`
}

func (h *Handler) handleIssueTeacher(w http.ResponseWriter, r *http.Request) {
	var req issueTeacherRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.rules.Check(req); err != nil {
		shared.WriteError(w, err)
		return
	}
	teacherID, err := id.ParseTeacherID(req.TeacherID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed teacher id"))
		return
	}
	productID, err := id.ParseProductID(req.ProductID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed product id"))
		return
	}

	cert, err := h.issuer.IssueForTeacher(r.Context(), teacherID, productID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toCertificateResponse(cert))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	cert, err := h.issuer.Get(r.Context(), certID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toCertificateResponse(cert))
}

func (h *Handler) handleRetryDocument(w http.ResponseWriter, r *http.Request) {
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	cert, err := h.issuer.RetryDocument(r.Context(), certID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toCertificateResponse(cert))
}

type revokeRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	var req revokeRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.rules.Check(req); err != nil {
		shared.WriteError(w, err)
		return
	}
	cert, err := h.issuer.Revoke(r.Context(), certID, req.Reason)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toCertificateResponse(cert))
}

type sendRequest struct {
	EmailType string `json:"emailType" validate:"required,oneof=institutional personal"`
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request) {
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.rules.Check(req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.dispatcher.Send(r.Context(), certID, req.EmailType); err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, map[string]string{"message": "certificate sent"})
}

type deleteRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	certID, ok := h.certificateID(w, r)
	if !ok {
		return
	}
	// Reason is optional; a missing body is fine.
	var req deleteRequest
	_ = shared.DecodeJSON(r, &req)

	if err := h.issuer.Delete(r.Context(), certID, req.Reason); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBulkIssue(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	report, err := h.bulk.IssueAndSendForProduct(r.Context(), productID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

type bulkCompetenciesRequest struct {
	EnrollmentIDs []string `json:"enrollmentIds" validate:"required,min=1,dive,uuid4"`
}

func (h *Handler) handleBulkCompetencies(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	var req bulkCompetenciesRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.rules.Check(req); err != nil {
		shared.WriteError(w, err)
		return
	}
	enrollmentIDs := make([]id.EnrollmentID, 0, len(req.EnrollmentIDs))
	for _, raw := range req.EnrollmentIDs {
		enrollmentID, err := id.ParseEnrollmentID(raw)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed enrollment id"))
			return
		}
		enrollmentIDs = append(enrollmentIDs, enrollmentID)
	}

	report, err := h.bulk.IssueWithCompetencies(r.Context(), productID, enrollmentIDs)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, report)
}

func (h *Handler) handleListByProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	certs, err := h.issuer.ListByProduct(r.Context(), productID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toCertificateResponses(certs))
}

func (h *Handler) handleListByEnrollment(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "enrollmentID")
	enrollmentID, err := id.ParseEnrollmentID(raw)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed enrollment id"))
		return
	}
	certs, err := h.issuer.ListByEnrollment(r.Context(), enrollmentID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toCertificateResponses(certs))
}

func (h *Handler) certificateID(w http.ResponseWriter, r *http.Request) (id.CertificateID, bool) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "certificateID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed certificate id"))
		return id.CertificateID{}, false
	}
	return certID, true
}

func (h *Handler) productID(w http.ResponseWriter, r *http.Request) (id.ProductID, bool) {
	productID, err := id.ParseProductID(chi.URLParam(r, "productID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed product id"))
		return id.ProductID{}, false
	}
	return productID, true
}

type certificateResponse struct {
	ID               string     `json:"id"`
	Folio            string     `json:"folio"`
	Status           string     `json:"status"`
	Kind             string     `json:"kind"`
	WithCompetencies bool       `json:"withCompetencies"`
	EnrollmentID     *string    `json:"enrollmentId,omitempty"`
	TeacherID        *string    `json:"teacherId,omitempty"`
	ProductID        string     `json:"productId"`
	IssuedAt         time.Time  `json:"issuedAt"`
	RevokedAt        *time.Time `json:"revokedAt,omitempty"`
}

func toCertificateResponse(cert *certificate.Certificate) certificateResponse {
	resp := certificateResponse{
		ID:               cert.ID.String(),
		Folio:            cert.Folio.String(),
		Status:           string(cert.Status),
		Kind:             string(cert.Kind()),
		WithCompetencies: cert.WithCompetencies,
		ProductID:        cert.ProductID.String(),
		IssuedAt:         cert.IssuedAt,
		RevokedAt:        cert.RevokedAt,
	}
	if cert.EnrollmentID != nil {
		v := cert.EnrollmentID.String()
		resp.EnrollmentID = &v
	}
	if cert.TeacherID != nil {
		v := cert.TeacherID.String()
		resp.TeacherID = &v
	}
	return resp
}

func toCertificateResponses(certs []*certificate.Certificate) []certificateResponse {
	out := make([]certificateResponse, 0, len(certs))
	for _, cert := range certs {
		out = append(out, toCertificateResponse(cert))
	}
	return out
}
