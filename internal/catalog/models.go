// Package catalog manages the institution's educational products, teachers,
// participants and enrollments. Certificates are issued against these records
// but live in their own feature package.
package catalog

import (
	"time"

	id "constancia/pkg/domain"
)

// ProductKind classifies an educational product.
type ProductKind string

const (
	KindCourse    ProductKind = "COURSE"
	KindPill      ProductKind = "PILL"
	KindInjection ProductKind = "INJECTION"
)

// Valid reports whether the kind is one of the known values.
func (k ProductKind) Valid() bool {
	switch k {
	case KindCourse, KindPill, KindInjection:
		return true
	}
	return false
}

// Modality describes how a product is delivered.
type Modality string

const (
	ModalityOnline   Modality = "ONLINE"
	ModalityInPerson Modality = "IN_PERSON"
	ModalityHybrid   Modality = "HYBRID"
)

func (m Modality) Valid() bool {
	switch m {
	case ModalityOnline, ModalityInPerson, ModalityHybrid:
		return true
	}
	return false
}

// Product is a course, pill or injection offering. Competencies are ordered
// labels and only meaningful when Kind is COURSE.
type Product struct {
	ID           id.ProductID
	Name         string
	Kind         ProductKind
	Modality     Modality
	Hours        int
	StartsOn     *time.Time
	EndsOn       *time.Time
	Competencies []string
	TeacherIDs   []id.TeacherID
	RemovedAt    *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Tombstoned reports whether the product was soft-removed. Tombstoned
// products stay valid for certificate history but reject new issuance and
// disappear from active listings.
func (p *Product) Tombstoned() bool { return p.RemovedAt != nil }

// HasTeacher reports whether the teacher is assigned to this product.
func (p *Product) HasTeacher(teacherID id.TeacherID) bool {
	for _, t := range p.TeacherIDs {
		if t == teacherID {
			return true
		}
	}
	return false
}

// Teacher is an instructor. Institutional email is mandatory: teacher
// deliveries default to it.
type Teacher struct {
	ID                 id.TeacherID
	FullName           string
	InstitutionalEmail string
	PersonalEmail      string
	Phone              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Participant is a person who enrolls in products.
type Participant struct {
	ID                 id.ParticipantID
	FullName           string
	PersonalEmail      string
	InstitutionalEmail string
	Phone              string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Enrollment links one participant to one product. At most one enrollment
// exists per (participant, product) pair.
type Enrollment struct {
	ID            id.EnrollmentID
	ParticipantID id.ParticipantID
	ProductID     id.ProductID
	CreatedAt     time.Time
}
