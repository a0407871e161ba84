// Package verification serves the public, unauthenticated side of the
// system: folio lookup and document download. Responses never leak internal
// identifiers or storage paths.
package verification

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"constancia/internal/catalog"
	"constancia/internal/certificate"
	"constancia/internal/platform/metrics"
	platformredis "constancia/internal/platform/redis"
	id "constancia/pkg/domain"
	dErrors "constancia/pkg/domain-errors"
	"constancia/pkg/platform/sentinel"
)

// PublicCertificateView is everything a verifier is allowed to see. No
// database ids, no file paths.
type PublicCertificateView struct {
	Folio            string    `json:"folio"`
	IssuedAt         time.Time `json:"issuedAt"`
	RecipientName    string    `json:"recipientName"`
	ProductName      string    `json:"productName"`
	ProductKind      string    `json:"productKind"`
	Hours            int       `json:"hours,omitempty"`
	WithCompetencies bool      `json:"withCompetencies"`
	Revoked          bool      `json:"revoked"`
}

// Catalog is the read slice verification needs to name the recipient and
// product. Tombstoned products stay readable here: removal hides a product
// from listings, it does not invalidate issued certificates.
type Catalog interface {
	GetEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) (*catalog.Enrollment, error)
	GetParticipant(ctx context.Context, participantID id.ParticipantID) (*catalog.Participant, error)
	GetTeacher(ctx context.Context, teacherID id.TeacherID) (*catalog.Teacher, error)
	GetProduct(ctx context.Context, productID id.ProductID) (*catalog.Product, error)
}

// Service resolves folios to public views, caching them in Redis when a
// client is wired. The cache is strictly an optimization: any Redis failure
// falls through to the store.
type Service struct {
	certs   certificate.Store
	catalog Catalog
	cache   *platformredis.Client
	viewTTL time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewService(certs certificate.Store, cat Catalog, cache *platformredis.Client, viewTTL time.Duration, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if viewTTL <= 0 {
		viewTTL = 5 * time.Minute
	}
	return &Service{certs: certs, catalog: cat, cache: cache, viewTTL: viewTTL, metrics: m, logger: logger}
}

// VerifyByFolio looks up a certificate by exact, case-sensitive folio match.
// Unknown folios are a plain not-found; no partial matching, ever.
func (s *Service) VerifyByFolio(ctx context.Context, folio id.Folio) (*PublicCertificateView, error) {
	if cached := s.cacheGet(ctx, folio); cached != nil {
		s.countLookup("hit")
		return cached, nil
	}

	cert, err := s.certs.GetByFolio(ctx, folio)
	if errors.Is(err, sentinel.ErrNotFound) {
		s.countLookup("miss")
		return nil, dErrors.New(dErrors.CodeNotFound, "no certificate matches this folio")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "look up folio")
	}

	view, err := s.buildView(ctx, cert)
	if err != nil {
		return nil, err
	}
	s.countLookup("hit")
	s.cacheSet(ctx, folio, view)
	return view, nil
}

// FetchDocument returns the filesystem path of the rendered PDF. Only READY
// certificates have a servable document; revoked ones keep their view but
// lose the download.
func (s *Service) FetchDocument(ctx context.Context, folio id.Folio) (string, error) {
	cert, err := s.certs.GetByFolio(ctx, folio)
	if errors.Is(err, sentinel.ErrNotFound) {
		return "", dErrors.New(dErrors.CodeNotFound, "no certificate matches this folio")
	}
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "look up folio")
	}
	if cert.Status != certificate.StatusReady {
		return "", dErrors.New(dErrors.CodeDocumentNotReady, "certificate document is not available")
	}
	return cert.DocumentPath, nil
}

// Invalidate drops the cached view for a folio. Implements
// certificate.ViewInvalidator; called on revocation and deletion.
func (s *Service) Invalidate(ctx context.Context, folio id.Folio) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, viewKey(folio)).Err(); err != nil {
		s.logger.Warn("drop cached verification view",
			slog.String("folio", folio.String()), slog.Any("error", err))
	}
}

func (s *Service) buildView(ctx context.Context, cert *certificate.Certificate) (*PublicCertificateView, error) {
	recipientName, err := s.recipientName(ctx, cert)
	if err != nil {
		return nil, err
	}
	product, err := s.catalog.GetProduct(ctx, cert.ProductID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve product for view")
	}
	return &PublicCertificateView{
		Folio:            cert.Folio.String(),
		IssuedAt:         cert.IssuedAt,
		RecipientName:    recipientName,
		ProductName:      product.Name,
		ProductKind:      string(product.Kind),
		Hours:            product.Hours,
		WithCompetencies: cert.WithCompetencies,
		Revoked:          cert.Status == certificate.StatusRevoked,
	}, nil
}

func (s *Service) recipientName(ctx context.Context, cert *certificate.Certificate) (string, error) {
	if cert.TeacherID != nil {
		teacher, err := s.catalog.GetTeacher(ctx, *cert.TeacherID)
		if err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeInternal, "resolve teacher for view")
		}
		return teacher.FullName, nil
	}
	enrollment, err := s.catalog.GetEnrollment(ctx, *cert.EnrollmentID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "resolve enrollment for view")
	}
	participant, err := s.catalog.GetParticipant(ctx, enrollment.ParticipantID)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "resolve participant for view")
	}
	return participant.FullName, nil
}

func viewKey(folio id.Folio) string {
	return "verify:view:" + folio.String()
}

func (s *Service) cacheGet(ctx context.Context, folio id.Folio) *PublicCertificateView {
	if s.cache == nil {
		return nil
	}
	raw, err := s.cache.Get(ctx, viewKey(folio)).Bytes()
	if err != nil {
		return nil
	}
	var view PublicCertificateView
	if err := json.Unmarshal(raw, &view); err != nil {
		return nil
	}
	return &view
}

func (s *Service) cacheSet(ctx context.Context, folio id.Folio, view *PublicCertificateView) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, viewKey(folio), raw, s.viewTTL).Err(); err != nil {
		s.logger.Warn("cache verification view",
			slog.String("folio", folio.String()), slog.Any("error", err))
	}
}

func (s *Service) countLookup(result string) {
	if s.metrics != nil {
		s.metrics.VerificationLookups.WithLabelValues(result).Inc()
	}
}
