package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"constancia/internal/audit"
	id "constancia/pkg/domain"
	dErrors "constancia/pkg/domain-errors"
	"constancia/pkg/platform/sentinel"
	txcontext "constancia/pkg/platform/tx"
	"constancia/pkg/requestcontext"
)

// CertificateCascade is the slice of the certificate store the catalog needs
// for enrollment deletion. Kept as a local interface so catalog never imports
// the certificate feature.
type CertificateCascade interface {
	CountByEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) (int, error)
	DeleteByEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) (int, error)
	CountByProduct(ctx context.Context, productID id.ProductID) (int, error)
}

// Service owns catalog CRUD plus the two destructive rules with real
// semantics: product tombstoning and enrollment deletion cascading into
// certificates.
type Service struct {
	store  Store
	certs  CertificateCascade
	auditp audit.Emitter
	logger *slog.Logger
	db     *sql.DB // nil with memory stores; cascade then runs without a tx
}

func NewService(store Store, certs CertificateCascade, auditp audit.Emitter, logger *slog.Logger, db *sql.DB) *Service {
	if auditp == nil {
		auditp = audit.Nop{}
	}
	return &Service{store: store, certs: certs, auditp: auditp, logger: logger, db: db}
}

// CreateProductInput carries the fields an administrator supplies.
type CreateProductInput struct {
	Name         string
	Kind         ProductKind
	Modality     Modality
	Hours        int
	StartsOn     *time.Time
	EndsOn       *time.Time
	Competencies []string
}

func (s *Service) CreateProduct(ctx context.Context, in CreateProductInput) (*Product, error) {
	if in.Name == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "product name is required")
	}
	if !in.Kind.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown product kind")
	}
	if !in.Modality.Valid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown modality")
	}
	if in.Hours <= 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "hours must be positive")
	}
	if len(in.Competencies) > 0 && in.Kind != KindCourse {
		return nil, dErrors.New(dErrors.CodeValidation, "competencies are only valid for courses")
	}

	now := requestcontext.Now(ctx)
	p := &Product{
		ID:           id.ProductID(uuid.New()),
		Name:         in.Name,
		Kind:         in.Kind,
		Modality:     in.Modality,
		Hours:        in.Hours,
		StartsOn:     in.StartsOn,
		EndsOn:       in.EndsOn,
		Competencies: append([]string(nil), in.Competencies...),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateProduct(ctx, p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create product")
	}
	return p, nil
}

func (s *Service) GetProduct(ctx context.Context, productID id.ProductID) (*Product, error) {
	p, err := s.store.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "product not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load product")
	}
	return p, nil
}

// ListProducts returns active products only; tombstoned ones disappear from
// listings without invalidating their certificates.
func (s *Service) ListProducts(ctx context.Context) ([]*Product, error) {
	return s.store.ListProducts(ctx, false)
}

type UpdateProductInput struct {
	Name         string
	Modality     Modality
	Hours        int
	StartsOn     *time.Time
	EndsOn       *time.Time
	Competencies []string
}

func (s *Service) UpdateProduct(ctx context.Context, productID id.ProductID, in UpdateProductInput) (*Product, error) {
	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Tombstoned() {
		return nil, dErrors.New(dErrors.CodeConflict, "product has been removed")
	}
	if in.Name != "" {
		p.Name = in.Name
	}
	if in.Modality != "" {
		if !in.Modality.Valid() {
			return nil, dErrors.New(dErrors.CodeValidation, "unknown modality")
		}
		p.Modality = in.Modality
	}
	if in.Hours > 0 {
		p.Hours = in.Hours
	}
	if in.StartsOn != nil {
		p.StartsOn = in.StartsOn
	}
	if in.EndsOn != nil {
		p.EndsOn = in.EndsOn
	}
	if in.Competencies != nil {
		if p.Kind != KindCourse {
			return nil, dErrors.New(dErrors.CodeValidation, "competencies are only valid for courses")
		}
		p.Competencies = append([]string(nil), in.Competencies...)
	}
	p.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.UpdateProduct(ctx, p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update product")
	}
	return p, nil
}

// RemoveProduct tombstones a product. The row is never hard-deleted while
// certificates reference it; existing certificates remain verifiable.
func (s *Service) RemoveProduct(ctx context.Context, productID id.ProductID) error {
	if _, err := s.GetProduct(ctx, productID); err != nil {
		return err
	}
	now := requestcontext.Now(ctx)
	if err := s.store.TombstoneProduct(ctx, productID, now); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "product not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove product")
	}
	_ = s.auditp.Emit(ctx, audit.Event{
		Action:    audit.ActionProductTombstoned,
		Subject:   productID.String(),
		Operator:  requestcontext.OperatorID(ctx),
		RequestID: requestcontext.RequestID(ctx),
	})
	return nil
}

// AssignTeachers replaces the set of teachers assigned to a product.
func (s *Service) AssignTeachers(ctx context.Context, productID id.ProductID, teacherIDs []id.TeacherID) error {
	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return err
	}
	if p.Tombstoned() {
		return dErrors.New(dErrors.CodeConflict, "product has been removed")
	}
	for _, teacherID := range teacherIDs {
		if _, err := s.GetTeacher(ctx, teacherID); err != nil {
			return err
		}
	}
	if err := s.store.SetProductTeachers(ctx, productID, teacherIDs); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to assign teachers")
	}
	return nil
}

type TeacherInput struct {
	FullName           string
	InstitutionalEmail string
	PersonalEmail      string
	Phone              string
}

func (s *Service) CreateTeacher(ctx context.Context, in TeacherInput) (*Teacher, error) {
	if in.FullName == "" || in.InstitutionalEmail == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "teacher name and institutional email are required")
	}
	now := requestcontext.Now(ctx)
	t := &Teacher{
		ID:                 id.TeacherID(uuid.New()),
		FullName:           in.FullName,
		InstitutionalEmail: in.InstitutionalEmail,
		PersonalEmail:      in.PersonalEmail,
		Phone:              in.Phone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.CreateTeacher(ctx, t); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create teacher")
	}
	return t, nil
}

func (s *Service) GetTeacher(ctx context.Context, teacherID id.TeacherID) (*Teacher, error) {
	t, err := s.store.GetTeacher(ctx, teacherID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "teacher not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load teacher")
	}
	return t, nil
}

func (s *Service) ListTeachers(ctx context.Context) ([]*Teacher, error) {
	return s.store.ListTeachers(ctx)
}

func (s *Service) UpdateTeacher(ctx context.Context, teacherID id.TeacherID, in TeacherInput) (*Teacher, error) {
	t, err := s.GetTeacher(ctx, teacherID)
	if err != nil {
		return nil, err
	}
	if in.FullName != "" {
		t.FullName = in.FullName
	}
	if in.InstitutionalEmail != "" {
		t.InstitutionalEmail = in.InstitutionalEmail
	}
	t.PersonalEmail = in.PersonalEmail
	t.Phone = in.Phone
	t.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.UpdateTeacher(ctx, t); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update teacher")
	}
	return t, nil
}

func (s *Service) DeleteTeacher(ctx context.Context, teacherID id.TeacherID) error {
	if err := s.store.DeleteTeacher(ctx, teacherID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "teacher not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete teacher")
	}
	return nil
}

type ParticipantInput struct {
	FullName           string
	PersonalEmail      string
	InstitutionalEmail string
	Phone              string
}

func (s *Service) CreateParticipant(ctx context.Context, in ParticipantInput) (*Participant, error) {
	if in.FullName == "" || in.PersonalEmail == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "participant name and personal email are required")
	}
	now := requestcontext.Now(ctx)
	p := &Participant{
		ID:                 id.ParticipantID(uuid.New()),
		FullName:           in.FullName,
		PersonalEmail:      in.PersonalEmail,
		InstitutionalEmail: in.InstitutionalEmail,
		Phone:              in.Phone,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.CreateParticipant(ctx, p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to create participant")
	}
	return p, nil
}

func (s *Service) GetParticipant(ctx context.Context, participantID id.ParticipantID) (*Participant, error) {
	p, err := s.store.GetParticipant(ctx, participantID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "participant not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load participant")
	}
	return p, nil
}

func (s *Service) ListParticipants(ctx context.Context) ([]*Participant, error) {
	return s.store.ListParticipants(ctx)
}

func (s *Service) UpdateParticipant(ctx context.Context, participantID id.ParticipantID, in ParticipantInput) (*Participant, error) {
	p, err := s.GetParticipant(ctx, participantID)
	if err != nil {
		return nil, err
	}
	if in.FullName != "" {
		p.FullName = in.FullName
	}
	if in.PersonalEmail != "" {
		p.PersonalEmail = in.PersonalEmail
	}
	p.InstitutionalEmail = in.InstitutionalEmail
	p.Phone = in.Phone
	p.UpdatedAt = requestcontext.Now(ctx)
	if err := s.store.UpdateParticipant(ctx, p); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to update participant")
	}
	return p, nil
}

func (s *Service) DeleteParticipant(ctx context.Context, participantID id.ParticipantID) error {
	if err := s.store.DeleteParticipant(ctx, participantID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "participant not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete participant")
	}
	return nil
}

// Enroll registers a participant in a product. The (participant, product)
// pair is unique; a second enrollment is a conflict.
func (s *Service) Enroll(ctx context.Context, participantID id.ParticipantID, productID id.ProductID) (*Enrollment, error) {
	if _, err := s.GetParticipant(ctx, participantID); err != nil {
		return nil, err
	}
	p, err := s.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Tombstoned() {
		return nil, dErrors.New(dErrors.CodeConflict, "product has been removed")
	}

	e := &Enrollment{
		ID:            id.EnrollmentID(uuid.New()),
		ParticipantID: participantID,
		ProductID:     productID,
		CreatedAt:     requestcontext.Now(ctx),
	}
	if err := s.store.CreateEnrollment(ctx, e); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "participant is already enrolled in this product")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to enroll participant")
	}
	return e, nil
}

func (s *Service) GetEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) (*Enrollment, error) {
	e, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "enrollment not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load enrollment")
	}
	return e, nil
}

func (s *Service) ListEnrollmentsByProduct(ctx context.Context, productID id.ProductID) ([]*Enrollment, error) {
	return s.store.ListEnrollmentsByProduct(ctx, productID)
}

// DeleteEnrollment removes an enrollment. When certificates exist the caller
// must pass confirmCascade=true: deletion is irreversible and certificates
// are otherwise durable records, so the operator has to acknowledge what is
// being destroyed. The conflict message names the count so the UI can show it.
func (s *Service) DeleteEnrollment(ctx context.Context, enrollmentID id.EnrollmentID, confirmCascade bool) error {
	if _, err := s.GetEnrollment(ctx, enrollmentID); err != nil {
		return err
	}

	count, err := s.certs.CountByEnrollment(ctx, enrollmentID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to count certificates")
	}
	if count > 0 && !confirmCascade {
		return dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("enrollment has %d certificate(s); deletion requires explicit confirmation", count))
	}

	run := func(ctx context.Context) error {
		if count > 0 {
			if _, err := s.certs.DeleteByEnrollment(ctx, enrollmentID); err != nil {
				return fmt.Errorf("cascade certificates: %w", err)
			}
		}
		if err := s.store.DeleteEnrollment(ctx, enrollmentID); err != nil {
			return fmt.Errorf("delete enrollment: %w", err)
		}
		return nil
	}

	if err := s.inTx(ctx, run); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete enrollment")
	}

	_ = s.auditp.Emit(ctx, audit.Event{
		Action:    audit.ActionEnrollmentDeleted,
		Subject:   enrollmentID.String(),
		Operator:  requestcontext.OperatorID(ctx),
		Reason:    fmt.Sprintf("cascaded %d certificate(s)", count),
		RequestID: requestcontext.RequestID(ctx),
	})
	return nil
}

// inTx runs fn inside a SQL transaction when a database is wired, carrying
// the tx through context so both stores join it. Memory stores run fn as-is.
func (s *Service) inTx(ctx context.Context, fn func(context.Context) error) error {
	if s.db == nil {
		return fn(ctx)
	}
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(txcontext.WithTx(ctx, sqlTx)); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			s.logger.ErrorContext(ctx, "rollback failed", "error", rbErr)
		}
		return err
	}
	return sqlTx.Commit()
}
