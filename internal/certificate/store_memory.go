package certificate

import (
	"context"
	"sort"
	"sync"
	"time"

	id "constancia/pkg/domain"
	"constancia/pkg/platform/sentinel"
)

// MemoryStore is the in-memory Store used by unit tests and local runs. It
// mirrors the database constraints under a single mutex, which also makes it
// a faithful stand-in for the race the unique indexes exist to stop.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[id.CertificateID]*Certificate
	byFolio map[id.Folio]id.CertificateID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[id.CertificateID]*Certificate),
		byFolio: make(map[id.Folio]id.CertificateID),
	}
}

func (s *MemoryStore) Create(_ context.Context, cert *Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byFolio[cert.Folio]; taken {
		return ErrFolioCollision
	}
	for _, existing := range s.byID {
		if slotEqual(existing, cert) {
			return sentinel.ErrConflict
		}
	}

	cp := *cert
	s.byID[cert.ID] = &cp
	s.byFolio[cert.Folio] = cert.ID
	return nil
}

func slotEqual(a, b *Certificate) bool {
	if a.EnrollmentID != nil && b.EnrollmentID != nil {
		return *a.EnrollmentID == *b.EnrollmentID && a.WithCompetencies == b.WithCompetencies
	}
	if a.TeacherID != nil && b.TeacherID != nil {
		return *a.TeacherID == *b.TeacherID && a.ProductID == b.ProductID
	}
	return false
}

func (s *MemoryStore) GetByID(_ context.Context, certID id.CertificateID) (*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.byID[certID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *cert
	return &cp, nil
}

func (s *MemoryStore) GetByFolio(_ context.Context, folio id.Folio) (*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	certID, ok := s.byFolio[folio]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *s.byID[certID]
	return &cp, nil
}

func (s *MemoryStore) FindBySlot(_ context.Context, target *ResolvedTarget) (*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cert := range s.byID {
		if slotMatches(cert, target) {
			cp := *cert
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func slotMatches(cert *Certificate, target *ResolvedTarget) bool {
	switch target.Kind {
	case TargetParticipant:
		return cert.EnrollmentID != nil &&
			*cert.EnrollmentID == target.EnrollmentID &&
			cert.WithCompetencies == target.WithCompetencies
	case TargetTeacher:
		return cert.TeacherID != nil &&
			*cert.TeacherID == target.TeacherID &&
			cert.ProductID == target.ProductID
	}
	return false
}

func (s *MemoryStore) ListByEnrollment(_ context.Context, enrollmentID id.EnrollmentID) ([]*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Certificate
	for _, cert := range s.byID {
		if cert.EnrollmentID != nil && *cert.EnrollmentID == enrollmentID {
			cp := *cert
			out = append(out, &cp)
		}
	}
	sortByIssued(out)
	return out, nil
}

func (s *MemoryStore) ListByProduct(_ context.Context, productID id.ProductID) ([]*Certificate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Certificate
	for _, cert := range s.byID {
		if cert.ProductID == productID {
			cp := *cert
			out = append(out, &cp)
		}
	}
	sortByIssued(out)
	return out, nil
}

func sortByIssued(certs []*Certificate) {
	sort.Slice(certs, func(i, j int) bool { return certs[i].IssuedAt.Before(certs[j].IssuedAt) })
}

func (s *MemoryStore) SetDocumentReady(_ context.Context, certID id.CertificateID, documentPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.byID[certID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cert.DocumentPath = documentPath
	cert.Status = StatusReady
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, certID id.CertificateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.byID[certID]
	if !ok {
		return sentinel.ErrNotFound
	}
	cert.Status = StatusFailed
	return nil
}

func (s *MemoryStore) Revoke(_ context.Context, certID id.CertificateID, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.byID[certID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if cert.Status != StatusReady {
		return sentinel.ErrInvalidState
	}
	cert.Status = StatusRevoked
	cert.RevokedAt = &revokedAt
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, certID id.CertificateID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cert, ok := s.byID[certID]
	if !ok {
		return sentinel.ErrNotFound
	}
	delete(s.byFolio, cert.Folio)
	delete(s.byID, certID)
	return nil
}

func (s *MemoryStore) CountByEnrollment(_ context.Context, enrollmentID id.EnrollmentID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, cert := range s.byID {
		if cert.EnrollmentID != nil && *cert.EnrollmentID == enrollmentID {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) DeleteByEnrollment(_ context.Context, enrollmentID id.EnrollmentID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for certID, cert := range s.byID {
		if cert.EnrollmentID != nil && *cert.EnrollmentID == enrollmentID {
			delete(s.byFolio, cert.Folio)
			delete(s.byID, certID)
			deleted++
		}
	}
	return deleted, nil
}

func (s *MemoryStore) CountByProduct(_ context.Context, productID id.ProductID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, cert := range s.byID {
		if cert.ProductID == productID {
			count++
		}
	}
	return count, nil
}
