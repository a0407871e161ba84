package certificate

import (
	"context"
	"errors"
	"fmt"

	"constancia/internal/catalog"
	id "constancia/pkg/domain"
	dErrors "constancia/pkg/domain-errors"
	"constancia/pkg/platform/sentinel"
)

// Catalog is the slice of the catalog surface the resolver needs. Satisfied
// by *catalog.Service.
type Catalog interface {
	GetEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) (*catalog.Enrollment, error)
	GetParticipant(ctx context.Context, participantID id.ParticipantID) (*catalog.Participant, error)
	GetTeacher(ctx context.Context, teacherID id.TeacherID) (*catalog.Teacher, error)
	GetProduct(ctx context.Context, productID id.ProductID) (*catalog.Product, error)
}

// Resolver validates an issuance request against the catalog and produces the
// ResolvedTarget the issuer works from. Every rejection carries a coded
// error so bulk issuance can report it verbatim.
type Resolver struct {
	catalog Catalog
}

func NewResolver(c Catalog) *Resolver {
	return &Resolver{catalog: c}
}

// ResolveEnrollment resolves a participant-side issuance target. A
// with-competencies certificate additionally requires the product to carry
// at least one competency.
func (r *Resolver) ResolveEnrollment(ctx context.Context, enrollmentID id.EnrollmentID, withCompetencies bool) (*ResolvedTarget, error) {
	enrollment, err := r.catalog.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, translateCatalogErr(err, "enrollment")
	}
	participant, err := r.catalog.GetParticipant(ctx, enrollment.ParticipantID)
	if err != nil {
		return nil, translateCatalogErr(err, "participant")
	}
	product, err := r.resolveProduct(ctx, enrollment.ProductID)
	if err != nil {
		return nil, err
	}
	if withCompetencies && product.Kind != catalog.KindCourse {
		return nil, dErrors.New(dErrors.CodeInvalidTarget,
			fmt.Sprintf("competencies certificate requires a COURSE product, got %s", product.Kind))
	}
	return &ResolvedTarget{
		Kind:             TargetParticipant,
		EnrollmentID:     enrollment.ID,
		ParticipantID:    participant.ID,
		ProductID:        product.ID,
		WithCompetencies: withCompetencies,
		RecipientName:    participant.FullName,
		Product:          product,
	}, nil
}

// ResolveTeacher resolves a teacher-side issuance target. The teacher must
// be assigned to the product.
func (r *Resolver) ResolveTeacher(ctx context.Context, teacherID id.TeacherID, productID id.ProductID) (*ResolvedTarget, error) {
	teacher, err := r.catalog.GetTeacher(ctx, teacherID)
	if err != nil {
		return nil, translateCatalogErr(err, "teacher")
	}
	product, err := r.resolveProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.HasTeacher(teacher.ID) {
		return nil, dErrors.New(dErrors.CodeInvalidTarget,
			fmt.Sprintf("teacher %s is not assigned to product %s", teacher.ID, product.ID))
	}
	return &ResolvedTarget{
		Kind:          TargetTeacher,
		TeacherID:     teacher.ID,
		ProductID:     product.ID,
		RecipientName: teacher.FullName,
		Product:       product,
	}, nil
}

func (r *Resolver) resolveProduct(ctx context.Context, productID id.ProductID) (*catalog.Product, error) {
	product, err := r.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, translateCatalogErr(err, "product")
	}
	if product.Tombstoned() {
		return nil, dErrors.New(dErrors.CodeInvalidTarget, "product has been removed")
	}
	return product, nil
}

func translateCatalogErr(err error, entity string) error {
	if errors.Is(err, sentinel.ErrNotFound) || dErrors.HasCode(err, dErrors.CodeNotFound) {
		return dErrors.New(dErrors.CodeNotFound, entity+" not found")
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "resolve "+entity)
}
