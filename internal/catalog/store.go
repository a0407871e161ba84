package catalog

import (
	"context"
	"time"

	id "constancia/pkg/domain"
)

// Store is the persistence boundary for catalog entities. Implementations
// return sentinel errors (pkg/platform/sentinel) for infrastructure facts;
// the service translates them into domain errors.
type Store interface {
	CreateProduct(ctx context.Context, p *Product) error
	GetProduct(ctx context.Context, productID id.ProductID) (*Product, error)
	ListProducts(ctx context.Context, includeRemoved bool) ([]*Product, error)
	UpdateProduct(ctx context.Context, p *Product) error
	// TombstoneProduct marks the product removed without deleting the row.
	TombstoneProduct(ctx context.Context, productID id.ProductID, removedAt time.Time) error
	SetProductTeachers(ctx context.Context, productID id.ProductID, teacherIDs []id.TeacherID) error

	CreateTeacher(ctx context.Context, t *Teacher) error
	GetTeacher(ctx context.Context, teacherID id.TeacherID) (*Teacher, error)
	ListTeachers(ctx context.Context) ([]*Teacher, error)
	UpdateTeacher(ctx context.Context, t *Teacher) error
	DeleteTeacher(ctx context.Context, teacherID id.TeacherID) error

	CreateParticipant(ctx context.Context, p *Participant) error
	GetParticipant(ctx context.Context, participantID id.ParticipantID) (*Participant, error)
	ListParticipants(ctx context.Context) ([]*Participant, error)
	UpdateParticipant(ctx context.Context, p *Participant) error
	DeleteParticipant(ctx context.Context, participantID id.ParticipantID) error

	CreateEnrollment(ctx context.Context, e *Enrollment) error
	GetEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) (*Enrollment, error)
	ListEnrollmentsByProduct(ctx context.Context, productID id.ProductID) ([]*Enrollment, error)
	DeleteEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) error
}
