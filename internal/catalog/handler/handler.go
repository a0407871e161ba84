// Package handler exposes the catalog CRUD endpoints: products, teachers,
// participants, and enrollments.
package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"constancia/internal/catalog"
	"constancia/internal/transport/http/shared"
	"constancia/internal/validation"
	id "constancia/pkg/domain"
	dErrors "constancia/pkg/domain-errors"
)

type Handler struct {
	catalog *catalog.Service
	rules   *validation.Rules
	logger  *slog.Logger
}

func New(cat *catalog.Service, rules *validation.Rules, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{catalog: cat, rules: rules, logger: logger}
}

// Register mounts the catalog routes on an authenticated router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/products", h.handleCreateProduct)
	r.Get("/products", h.handleListProducts)
	r.Get("/products/{productID}", h.handleGetProduct)
	r.Put("/products/{productID}", h.handleUpdateProduct)
	r.Delete("/products/{productID}", h.handleRemoveProduct)
	r.Put("/products/{productID}/teachers", h.handleAssignTeachers)
	r.Get("/products/{productID}/enrollments", h.handleListEnrollments)

	r.Post("/teachers", h.handleCreateTeacher)
	r.Get("/teachers", h.handleListTeachers)
	r.Get("/teachers/{teacherID}", h.handleGetTeacher)
	r.Put("/teachers/{teacherID}", h.handleUpdateTeacher)
	r.Delete("/teachers/{teacherID}", h.handleDeleteTeacher)

	r.Post("/participants", h.handleCreateParticipant)
	r.Get("/participants", h.handleListParticipants)
	r.Get("/participants/{participantID}", h.handleGetParticipant)
	r.Put("/participants/{participantID}", h.handleUpdateParticipant)
	r.Delete("/participants/{participantID}", h.handleDeleteParticipant)

	r.Post("/enrollments", h.handleEnroll)
	r.Delete("/enrollments/{enrollmentID}", h.handleDeleteEnrollment)
}

// =============================================================================
// Products
// =============================================================================

type productRequest struct {
	Name         string     `json:"name" validate:"required,max=200"`
	Kind         string     `json:"kind" validate:"omitempty,oneof=COURSE PILL INJECTION"`
	Modality     string     `json:"modality" validate:"omitempty,oneof=ONLINE IN_PERSON HYBRID"`
	Hours        int        `json:"hours" validate:"gte=0,lte=2000"`
	StartsOn     *time.Time `json:"startsOn"`
	EndsOn       *time.Time `json:"endsOn"`
	Competencies []string   `json:"competencies" validate:"omitempty,dive,required,max=300"`
}

func (h *Handler) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.rules.Check(req); err != nil {
		shared.WriteError(w, err)
		return
	}
	product, err := h.catalog.CreateProduct(r.Context(), catalog.CreateProductInput{
		Name:         req.Name,
		Kind:         catalog.ProductKind(req.Kind),
		Modality:     catalog.Modality(req.Modality),
		Hours:        req.Hours,
		StartsOn:     req.StartsOn,
		EndsOn:       req.EndsOn,
		Competencies: req.Competencies,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toProductResponse(product))
}

func (h *Handler) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.catalog.ListProducts(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]productResponse, 0, len(products))
	for _, p := range products {
		out = append(out, toProductResponse(p))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	product, err := h.catalog.GetProduct(r.Context(), productID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	var req productRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	product, err := h.catalog.UpdateProduct(r.Context(), productID, catalog.UpdateProductInput{
		Name:         req.Name,
		Modality:     catalog.Modality(req.Modality),
		Hours:        req.Hours,
		StartsOn:     req.StartsOn,
		EndsOn:       req.EndsOn,
		Competencies: req.Competencies,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toProductResponse(product))
}

func (h *Handler) handleRemoveProduct(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	if err := h.catalog.RemoveProduct(r.Context(), productID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type assignTeachersRequest struct {
	TeacherIDs []string `json:"teacherIds" validate:"required,dive,uuid4"`
}

func (h *Handler) handleAssignTeachers(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	var req assignTeachersRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.rules.Check(req); err != nil {
		shared.WriteError(w, err)
		return
	}
	teacherIDs := make([]id.TeacherID, 0, len(req.TeacherIDs))
	for _, raw := range req.TeacherIDs {
		teacherID, err := id.ParseTeacherID(raw)
		if err != nil {
			shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed teacher id"))
			return
		}
		teacherIDs = append(teacherIDs, teacherID)
	}
	if err := h.catalog.AssignTeachers(r.Context(), productID, teacherIDs); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Teachers
// =============================================================================

type teacherRequest struct {
	FullName           string `json:"fullName" validate:"required,max=200"`
	InstitutionalEmail string `json:"institutionalEmail" validate:"required,email,inst_email"`
	PersonalEmail      string `json:"personalEmail" validate:"omitempty,email"`
	Phone              string `json:"phone" validate:"omitempty,inst_phone"`
}

func (h *Handler) handleCreateTeacher(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeTeacher(w, r)
	if !ok {
		return
	}
	teacher, err := h.catalog.CreateTeacher(r.Context(), catalog.TeacherInput(req))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toTeacherResponse(teacher))
}

func (h *Handler) handleListTeachers(w http.ResponseWriter, r *http.Request) {
	teachers, err := h.catalog.ListTeachers(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]teacherResponse, 0, len(teachers))
	for _, t := range teachers {
		out = append(out, toTeacherResponse(t))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetTeacher(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := h.teacherID(w, r)
	if !ok {
		return
	}
	teacher, err := h.catalog.GetTeacher(r.Context(), teacherID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toTeacherResponse(teacher))
}

func (h *Handler) handleUpdateTeacher(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := h.teacherID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeTeacher(w, r)
	if !ok {
		return
	}
	teacher, err := h.catalog.UpdateTeacher(r.Context(), teacherID, catalog.TeacherInput(req))
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toTeacherResponse(teacher))
}

func (h *Handler) handleDeleteTeacher(w http.ResponseWriter, r *http.Request) {
	teacherID, ok := h.teacherID(w, r)
	if !ok {
		return
	}
	if err := h.catalog.DeleteTeacher(r.Context(), teacherID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeTeacher(w http.ResponseWriter, r *http.Request) (teacherRequest, bool) {
	var req teacherRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return req, false
	}
	if err := h.rules.Check(req); err != nil {
		shared.WriteError(w, err)
		return req, false
	}
	return req, true
}

// =============================================================================
// Participants
// =============================================================================

type participantRequest struct {
	FullName           string `json:"fullName" validate:"required,max=200"`
	PersonalEmail      string `json:"personalEmail" validate:"required,email"`
	InstitutionalEmail string `json:"institutionalEmail" validate:"omitempty,email,inst_email"`
	Phone              string `json:"phone" validate:"omitempty,inst_phone"`
}

func (h *Handler) handleCreateParticipant(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeParticipant(w, r)
	if !ok {
		return
	}
	participant, err := h.catalog.CreateParticipant(r.Context(), catalog.ParticipantInput{
		FullName:           req.FullName,
		PersonalEmail:      req.PersonalEmail,
		InstitutionalEmail: req.InstitutionalEmail,
		Phone:              req.Phone,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toParticipantResponse(participant))
}

func (h *Handler) handleListParticipants(w http.ResponseWriter, r *http.Request) {
	participants, err := h.catalog.ListParticipants(r.Context())
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]participantResponse, 0, len(participants))
	for _, p := range participants {
		out = append(out, toParticipantResponse(p))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetParticipant(w http.ResponseWriter, r *http.Request) {
	participantID, ok := h.participantID(w, r)
	if !ok {
		return
	}
	participant, err := h.catalog.GetParticipant(r.Context(), participantID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toParticipantResponse(participant))
}

func (h *Handler) handleUpdateParticipant(w http.ResponseWriter, r *http.Request) {
	participantID, ok := h.participantID(w, r)
	if !ok {
		return
	}
	req, ok := h.decodeParticipant(w, r)
	if !ok {
		return
	}
	participant, err := h.catalog.UpdateParticipant(r.Context(), participantID, catalog.ParticipantInput{
		FullName:           req.FullName,
		PersonalEmail:      req.PersonalEmail,
		InstitutionalEmail: req.InstitutionalEmail,
		Phone:              req.Phone,
	})
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusOK, toParticipantResponse(participant))
}

func (h *Handler) handleDeleteParticipant(w http.ResponseWriter, r *http.Request) {
	participantID, ok := h.participantID(w, r)
	if !ok {
		return
	}
	if err := h.catalog.DeleteParticipant(r.Context(), participantID); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) decodeParticipant(w http.ResponseWriter, r *http.Request) (participantRequest, bool) {
	var req participantRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return req, false
	}
	if err := h.rules.Check(req); err != nil {
		shared.WriteError(w, err)
		return req, false
	}
	return req, true
}

// =============================================================================
// Enrollments
// =============================================================================

type enrollRequest struct {
	ParticipantID string `json:"participantId" validate:"required,uuid4"`
	ProductID     string `json:"productId" validate:"required,uuid4"`
}

func (h *Handler) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var req enrollRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.WriteError(w, err)
		return
	}
	if err := h.rules.Check(req); err != nil {
		shared.WriteError(w, err)
		return
	}
	participantID, err := id.ParseParticipantID(req.ParticipantID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed participant id"))
		return
	}
	productID, err := id.ParseProductID(req.ProductID)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed product id"))
		return
	}
	enrollment, err := h.catalog.Enroll(r.Context(), participantID, productID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	shared.WriteJSON(w, http.StatusCreated, toEnrollmentResponse(enrollment))
}

func (h *Handler) handleListEnrollments(w http.ResponseWriter, r *http.Request) {
	productID, ok := h.productID(w, r)
	if !ok {
		return
	}
	enrollments, err := h.catalog.ListEnrollmentsByProduct(r.Context(), productID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	out := make([]enrollmentResponse, 0, len(enrollments))
	for _, e := range enrollments {
		out = append(out, toEnrollmentResponse(e))
	}
	shared.WriteJSON(w, http.StatusOK, out)
}

// handleDeleteEnrollment deletes an enrollment and cascades into its
// certificates. The cascade is irreversible, so it only proceeds when the
// operator explicitly confirms with ?confirmCascade=true.
func (h *Handler) handleDeleteEnrollment(w http.ResponseWriter, r *http.Request) {
	enrollmentID, err := id.ParseEnrollmentID(chi.URLParam(r, "enrollmentID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed enrollment id"))
		return
	}
	confirm := r.URL.Query().Get("confirmCascade") == "true"
	if err := h.catalog.DeleteEnrollment(r.Context(), enrollmentID, confirm); err != nil {
		shared.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// Responses
// =============================================================================

type productResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	Kind         string     `json:"kind"`
	Modality     string     `json:"modality"`
	Hours        int        `json:"hours"`
	StartsOn     *time.Time `json:"startsOn,omitempty"`
	EndsOn       *time.Time `json:"endsOn,omitempty"`
	Competencies []string   `json:"competencies,omitempty"`
	TeacherIDs   []string   `json:"teacherIds"`
	Removed      bool       `json:"removed"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

func toProductResponse(p *catalog.Product) productResponse {
	teacherIDs := make([]string, 0, len(p.TeacherIDs))
	for _, teacherID := range p.TeacherIDs {
		teacherIDs = append(teacherIDs, teacherID.String())
	}
	return productResponse{
		ID:           p.ID.String(),
		Name:         p.Name,
		Kind:         string(p.Kind),
		Modality:     string(p.Modality),
		Hours:        p.Hours,
		StartsOn:     p.StartsOn,
		EndsOn:       p.EndsOn,
		Competencies: p.Competencies,
		TeacherIDs:   teacherIDs,
		Removed:      p.Tombstoned(),
		CreatedAt:    p.CreatedAt,
		UpdatedAt:    p.UpdatedAt,
	}
}

type teacherResponse struct {
	ID                 string    `json:"id"`
	FullName           string    `json:"fullName"`
	InstitutionalEmail string    `json:"institutionalEmail"`
	PersonalEmail      string    `json:"personalEmail,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func toTeacherResponse(t *catalog.Teacher) teacherResponse {
	return teacherResponse{
		ID:                 t.ID.String(),
		FullName:           t.FullName,
		InstitutionalEmail: t.InstitutionalEmail,
		PersonalEmail:      t.PersonalEmail,
		Phone:              t.Phone,
		CreatedAt:          t.CreatedAt,
		UpdatedAt:          t.UpdatedAt,
	}
}

type participantResponse struct {
	ID                 string    `json:"id"`
	FullName           string    `json:"fullName"`
	PersonalEmail      string    `json:"personalEmail"`
	InstitutionalEmail string    `json:"institutionalEmail,omitempty"`
	Phone              string    `json:"phone,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

func toParticipantResponse(p *catalog.Participant) participantResponse {
	return participantResponse{
		ID:                 p.ID.String(),
		FullName:           p.FullName,
		PersonalEmail:      p.PersonalEmail,
		InstitutionalEmail: p.InstitutionalEmail,
		Phone:              p.Phone,
		CreatedAt:          p.CreatedAt,
		UpdatedAt:          p.UpdatedAt,
	}
}

type enrollmentResponse struct {
	ID            string    `json:"id"`
	ParticipantID string    `json:"participantId"`
	ProductID     string    `json:"productId"`
	CreatedAt     time.Time `json:"createdAt"`
}

func toEnrollmentResponse(e *catalog.Enrollment) enrollmentResponse {
	return enrollmentResponse{
		ID:            e.ID.String(),
		ParticipantID: e.ParticipantID.String(),
		ProductID:     e.ProductID.String(),
		CreatedAt:     e.CreatedAt,
	}
}

func (h *Handler) productID(w http.ResponseWriter, r *http.Request) (id.ProductID, bool) {
	productID, err := id.ParseProductID(chi.URLParam(r, "productID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed product id"))
		return id.ProductID{}, false
	}
	return productID, true
}

func (h *Handler) teacherID(w http.ResponseWriter, r *http.Request) (id.TeacherID, bool) {
	teacherID, err := id.ParseTeacherID(chi.URLParam(r, "teacherID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed teacher id"))
		return id.TeacherID{}, false
	}
	return teacherID, true
}

func (h *Handler) participantID(w http.ResponseWriter, r *http.Request) (id.ParticipantID, bool) {
	participantID, err := id.ParseParticipantID(chi.URLParam(r, "participantID"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed participant id"))
		return id.ParticipantID{}, false
	}
	return participantID, true
}
