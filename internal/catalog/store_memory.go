package catalog

import (
	"context"
	"sort"
	"sync"
	"time"

	id "constancia/pkg/domain"
	"constancia/pkg/platform/sentinel"
)

// MemoryStore is the in-memory Store used by unit tests and local runs.
// It mirrors the storage constraints (enrollment uniqueness) under a mutex.
type MemoryStore struct {
	mu           sync.RWMutex
	products     map[id.ProductID]*Product
	teachers     map[id.TeacherID]*Teacher
	participants map[id.ParticipantID]*Participant
	enrollments  map[id.EnrollmentID]*Enrollment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:     make(map[id.ProductID]*Product),
		teachers:     make(map[id.TeacherID]*Teacher),
		participants: make(map[id.ParticipantID]*Participant),
		enrollments:  make(map[id.EnrollmentID]*Enrollment),
	}
}

func (s *MemoryStore) CreateProduct(_ context.Context, p *Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.products[p.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetProduct(_ context.Context, productID id.ProductID) (*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[productID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListProducts(_ context.Context, includeRemoved bool) ([]*Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Product
	for _, p := range s.products {
		if !includeRemoved && p.Tombstoned() {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateProduct(_ context.Context, p *Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *p
	s.products[p.ID] = &cp
	return nil
}

func (s *MemoryStore) TombstoneProduct(_ context.Context, productID id.ProductID, removedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.RemovedAt = &removedAt
	return nil
}

func (s *MemoryStore) SetProductTeachers(_ context.Context, productID id.ProductID, teacherIDs []id.TeacherID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return sentinel.ErrNotFound
	}
	p.TeacherIDs = append([]id.TeacherID(nil), teacherIDs...)
	return nil
}

func (s *MemoryStore) CreateTeacher(_ context.Context, t *Teacher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.teachers[t.ID]; exists {
		return sentinel.ErrConflict
	}
	ct := *t
	s.teachers[t.ID] = &ct
	return nil
}

func (s *MemoryStore) GetTeacher(_ context.Context, teacherID id.TeacherID) (*Teacher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teachers[teacherID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	ct := *t
	return &ct, nil
}

func (s *MemoryStore) ListTeachers(_ context.Context) ([]*Teacher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Teacher
	for _, t := range s.teachers {
		ct := *t
		out = append(out, &ct)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateTeacher(_ context.Context, t *Teacher) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teachers[t.ID]; !ok {
		return sentinel.ErrNotFound
	}
	ct := *t
	s.teachers[t.ID] = &ct
	return nil
}

func (s *MemoryStore) DeleteTeacher(_ context.Context, teacherID id.TeacherID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.teachers[teacherID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.teachers, teacherID)
	return nil
}

func (s *MemoryStore) CreateParticipant(_ context.Context, p *Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.participants[p.ID]; exists {
		return sentinel.ErrConflict
	}
	cp := *p
	s.participants[p.ID] = &cp
	return nil
}

func (s *MemoryStore) GetParticipant(_ context.Context, participantID id.ParticipantID) (*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.participants[participantID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) ListParticipants(_ context.Context) ([]*Participant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Participant
	for _, p := range s.participants {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateParticipant(_ context.Context, p *Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[p.ID]; !ok {
		return sentinel.ErrNotFound
	}
	cp := *p
	s.participants[p.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteParticipant(_ context.Context, participantID id.ParticipantID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.participants[participantID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.participants, participantID)
	return nil
}

func (s *MemoryStore) CreateEnrollment(_ context.Context, e *Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.enrollments {
		if existing.ParticipantID == e.ParticipantID && existing.ProductID == e.ProductID {
			return sentinel.ErrConflict
		}
	}
	ce := *e
	s.enrollments[e.ID] = &ce
	return nil
}

func (s *MemoryStore) GetEnrollment(_ context.Context, enrollmentID id.EnrollmentID) (*Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.enrollments[enrollmentID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	ce := *e
	return &ce, nil
}

func (s *MemoryStore) ListEnrollmentsByProduct(_ context.Context, productID id.ProductID) ([]*Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Enrollment
	for _, e := range s.enrollments {
		if e.ProductID == productID {
			ce := *e
			out = append(out, &ce)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteEnrollment(_ context.Context, enrollmentID id.EnrollmentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.enrollments[enrollmentID]; !ok {
		return sentinel.ErrNotFound
	}
	delete(s.enrollments, enrollmentID)
	return nil
}
