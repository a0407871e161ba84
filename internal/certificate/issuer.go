package certificate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"constancia/internal/audit"
	"constancia/internal/platform/metrics"
	id "constancia/pkg/domain"
	dErrors "constancia/pkg/domain-errors"
	"constancia/pkg/platform/sentinel"
	"constancia/pkg/requestcontext"
)

// folioAttempts bounds regeneration after a folio unique-index collision.
// At 80 bits of entropy a single collision is already extraordinary.
const folioAttempts = 5

// DocumentRenderer produces the certificate document and returns where it
// was stored. Implemented by internal/renderer.
type DocumentRenderer interface {
	Render(ctx context.Context, data DocumentData) (path string, err error)
}

// ViewInvalidator drops a cached public verification view. Implemented by
// internal/verification. May be nil when no cache is wired.
type ViewInvalidator interface {
	Invalidate(ctx context.Context, folio id.Folio)
}

// Issuer orchestrates certificate issuance: resolve the target, check the
// slot, persist under a fresh folio, then render the document. Rendering is
// best-effort; a failed render leaves the certificate FAILED and retryable,
// never rolls back issuance.
type Issuer struct {
	store         Store
	resolver      *Resolver
	guard         *Guard
	folios        *FolioGenerator
	renderer      DocumentRenderer
	views         ViewInvalidator
	metrics       *metrics.Metrics
	audit         audit.Emitter
	logger        *slog.Logger
	tracer        trace.Tracer
	renderTimeout time.Duration
}

// IssuerConfig carries the issuer's collaborators. Views may be nil.
type IssuerConfig struct {
	Store         Store
	Catalog       Catalog
	Renderer      DocumentRenderer
	Views         ViewInvalidator
	Metrics       *metrics.Metrics
	Audit         audit.Emitter
	Logger        *slog.Logger
	FolioPrefix   string
	RenderTimeout time.Duration
}

func NewIssuer(cfg IssuerConfig) *Issuer {
	if cfg.Audit == nil {
		cfg.Audit = audit.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = 30 * time.Second
	}
	return &Issuer{
		store:         cfg.Store,
		resolver:      NewResolver(cfg.Catalog),
		guard:         NewGuard(cfg.Store),
		folios:        NewFolioGenerator(cfg.FolioPrefix),
		renderer:      cfg.Renderer,
		views:         cfg.Views,
		metrics:       cfg.Metrics,
		audit:         cfg.Audit,
		logger:        cfg.Logger,
		tracer:        otel.Tracer("constancia/certificate"),
		renderTimeout: cfg.RenderTimeout,
	}
}

// IssueForEnrollment issues a certificate to the participant behind an
// enrollment. When the slot is already occupied it returns the existing
// certificate together with a CodeAlreadyIssued error.
func (i *Issuer) IssueForEnrollment(ctx context.Context, enrollmentID id.EnrollmentID, withCompetencies bool) (*Certificate, error) {
	target, err := i.resolver.ResolveEnrollment(ctx, enrollmentID, withCompetencies)
	if err != nil {
		return nil, err
	}
	return i.issue(ctx, target)
}

// IssueForTeacher issues the teaching certificate for a (teacher, product)
// pair. Same conflict contract as IssueForEnrollment.
func (i *Issuer) IssueForTeacher(ctx context.Context, teacherID id.TeacherID, productID id.ProductID) (*Certificate, error) {
	target, err := i.resolver.ResolveTeacher(ctx, teacherID, productID)
	if err != nil {
		return nil, err
	}
	return i.issue(ctx, target)
}

func (i *Issuer) issue(ctx context.Context, target *ResolvedTarget) (*Certificate, error) {
	ctx, span := i.tracer.Start(ctx, "certificate.issue",
		trace.WithAttributes(
			attribute.String("target.kind", string(target.Kind)),
			attribute.String("target.id", target.TargetID()),
		))
	defer span.End()

	existing, err := i.guard.CheckAvailable(ctx, target)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		i.countConflict()
		return existing, AlreadyIssuedError(existing)
	}

	cert, err := i.persist(ctx, target)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("certificate.folio", cert.Folio.String()))

	if i.metrics != nil {
		i.metrics.CertificatesIssued.WithLabelValues(string(target.Kind)).Inc()
	}
	i.emit(ctx, audit.ActionCertificateIssued, cert.Folio.String(), "")

	i.render(ctx, cert, i.documentData(cert, target))
	return cert, nil
}

// persist inserts the certificate, regenerating the folio on a folio
// collision. A slot conflict here means another request won the race; the
// winner's certificate is returned with the conflict error.
func (i *Issuer) persist(ctx context.Context, target *ResolvedTarget) (*Certificate, error) {
	cert := &Certificate{
		ID:               id.NewCertificateID(),
		Status:           StatusPendingDocument,
		WithCompetencies: target.WithCompetencies,
		ProductID:        target.ProductID,
		IssuedAt:         requestcontext.Now(ctx),
	}
	switch target.Kind {
	case TargetParticipant:
		eid := target.EnrollmentID
		cert.EnrollmentID = &eid
	case TargetTeacher:
		tid := target.TeacherID
		cert.TeacherID = &tid
	}

	for attempt := 0; attempt < folioAttempts; attempt++ {
		folio, err := i.folios.New()
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "generate folio")
		}
		cert.Folio = folio
		err = i.store.Create(ctx, cert)
		switch {
		case err == nil:
			return cert, nil
		case errors.Is(err, ErrFolioCollision):
			i.logger.Warn("folio collision, regenerating",
				slog.String("folio", cert.Folio.String()), slog.Int("attempt", attempt+1))
			continue
		case errors.Is(err, sentinel.ErrConflict):
			i.countConflict()
			winner, findErr := i.store.FindBySlot(ctx, target)
			if findErr != nil {
				return nil, dErrors.New(dErrors.CodeAlreadyIssued, "certificate already issued for this target")
			}
			return winner, AlreadyIssuedError(winner)
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "persist certificate")
		}
	}
	return nil, dErrors.New(dErrors.CodeInternal,
		fmt.Sprintf("folio generation exhausted after %d attempts", folioAttempts))
}

// render produces the document synchronously. On failure the certificate is
// marked FAILED and left for RetryDocument; the error is logged, not
// returned.
func (i *Issuer) render(ctx context.Context, cert *Certificate, data DocumentData) {
	ctx, span := i.tracer.Start(ctx, "certificate.render",
		trace.WithAttributes(attribute.String("certificate.folio", cert.Folio.String())))
	defer span.End()

	renderCtx, cancel := context.WithTimeout(ctx, i.renderTimeout)
	defer cancel()

	start := time.Now()
	path, err := i.renderer.Render(renderCtx, data)
	if i.metrics != nil {
		i.metrics.ObserveRender(time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		i.logger.Error("document render failed",
			slog.String("folio", cert.Folio.String()), slog.Any("error", err))
		if markErr := i.store.MarkFailed(ctx, cert.ID); markErr != nil {
			i.logger.Error("mark certificate failed",
				slog.String("folio", cert.Folio.String()), slog.Any("error", markErr))
		}
		cert.Status = StatusFailed
		return
	}
	if err := i.store.SetDocumentReady(ctx, cert.ID, path); err != nil {
		i.logger.Error("attach document",
			slog.String("folio", cert.Folio.String()), slog.Any("error", err))
		cert.Status = StatusFailed
		return
	}
	cert.Status = StatusReady
	cert.DocumentPath = path
}

func (i *Issuer) documentData(cert *Certificate, target *ResolvedTarget) DocumentData {
	data := DocumentData{
		Folio:         cert.Folio,
		RecipientName: target.RecipientName,
		ProductName:   target.Product.Name,
		ProductKind:   target.Product.Kind,
		Hours:         target.Product.Hours,
		IssuedAt:      cert.IssuedAt,
	}
	if cert.WithCompetencies {
		data.Competencies = target.Product.Competencies
	}
	return data
}

// RetryDocument re-renders the document for a PENDING_DOCUMENT or FAILED
// certificate. Uniqueness is untouched: the certificate and its folio
// already exist.
func (i *Issuer) RetryDocument(ctx context.Context, certID id.CertificateID) (*Certificate, error) {
	cert, err := i.Get(ctx, certID)
	if err != nil {
		return nil, err
	}
	if !cert.Status.CanRetryDocument() {
		return nil, dErrors.New(dErrors.CodeConflict,
			fmt.Sprintf("certificate is %s, document cannot be re-rendered", cert.Status))
	}
	target, err := i.resolveExisting(ctx, cert)
	if err != nil {
		return nil, err
	}
	i.render(ctx, cert, i.documentData(cert, target))
	if cert.Status != StatusReady {
		return cert, dErrors.New(dErrors.CodeDocumentFailed, "document render failed")
	}
	return cert, nil
}

// resolveExisting rebuilds the target for a certificate that already
// exists. Tombstoned products are allowed here: removal blocks new
// issuance, not re-rendering what was already issued.
func (i *Issuer) resolveExisting(ctx context.Context, cert *Certificate) (*ResolvedTarget, error) {
	if cert.TeacherID != nil {
		teacher, err := i.resolver.catalog.GetTeacher(ctx, *cert.TeacherID)
		if err != nil {
			return nil, translateCatalogErr(err, "teacher")
		}
		product, err := i.resolver.catalog.GetProduct(ctx, cert.ProductID)
		if err != nil {
			return nil, translateCatalogErr(err, "product")
		}
		return &ResolvedTarget{
			Kind:          TargetTeacher,
			TeacherID:     teacher.ID,
			ProductID:     product.ID,
			RecipientName: teacher.FullName,
			Product:       product,
		}, nil
	}
	enrollment, err := i.resolver.catalog.GetEnrollment(ctx, *cert.EnrollmentID)
	if err != nil {
		return nil, translateCatalogErr(err, "enrollment")
	}
	participant, err := i.resolver.catalog.GetParticipant(ctx, enrollment.ParticipantID)
	if err != nil {
		return nil, translateCatalogErr(err, "participant")
	}
	product, err := i.resolver.catalog.GetProduct(ctx, cert.ProductID)
	if err != nil {
		return nil, translateCatalogErr(err, "product")
	}
	return &ResolvedTarget{
		Kind:             TargetParticipant,
		EnrollmentID:     enrollment.ID,
		ParticipantID:    participant.ID,
		ProductID:        product.ID,
		WithCompetencies: cert.WithCompetencies,
		RecipientName:    participant.FullName,
		Product:          product,
	}, nil
}

// Revoke moves a READY certificate to REVOKED. The certificate remains
// publicly verifiable, flagged as revoked.
func (i *Issuer) Revoke(ctx context.Context, certID id.CertificateID, reason string) (*Certificate, error) {
	cert, err := i.Get(ctx, certID)
	if err != nil {
		return nil, err
	}
	revokedAt := requestcontext.Now(ctx)
	if err := i.store.Revoke(ctx, certID, revokedAt); err != nil {
		switch {
		case errors.Is(err, sentinel.ErrNotFound):
			return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
		case errors.Is(err, sentinel.ErrInvalidState):
			return nil, dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("only READY certificates can be revoked, certificate is %s", cert.Status))
		default:
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "revoke certificate")
		}
	}
	cert.Status = StatusRevoked
	cert.RevokedAt = &revokedAt

	i.emit(ctx, audit.ActionCertificateRevoked, cert.Folio.String(), reason)
	i.invalidate(ctx, cert.Folio)
	return cert, nil
}

// Delete removes a certificate outright, freeing its slot for reissuance.
func (i *Issuer) Delete(ctx context.Context, certID id.CertificateID, reason string) error {
	cert, err := i.Get(ctx, certID)
	if err != nil {
		return err
	}
	if err := i.store.Delete(ctx, certID); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "certificate not found")
		}
		return dErrors.Wrap(err, dErrors.CodeInternal, "delete certificate")
	}
	i.emit(ctx, audit.ActionCertificateDeleted, cert.Folio.String(), reason)
	i.invalidate(ctx, cert.Folio)
	return nil
}

func (i *Issuer) Get(ctx context.Context, certID id.CertificateID) (*Certificate, error) {
	cert, err := i.store.GetByID(ctx, certID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "get certificate")
	}
	return cert, nil
}

func (i *Issuer) ListByEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) ([]*Certificate, error) {
	certs, err := i.store.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list certificates")
	}
	return certs, nil
}

func (i *Issuer) ListByProduct(ctx context.Context, productID id.ProductID) ([]*Certificate, error) {
	certs, err := i.store.ListByProduct(ctx, productID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list certificates")
	}
	return certs, nil
}

func (i *Issuer) countConflict() {
	if i.metrics != nil {
		i.metrics.IssuanceConflicts.Inc()
	}
}

func (i *Issuer) invalidate(ctx context.Context, folio id.Folio) {
	if i.views != nil {
		i.views.Invalidate(ctx, folio)
	}
}

func (i *Issuer) emit(ctx context.Context, action audit.Action, subject, reason string) {
	err := i.audit.Emit(ctx, audit.Event{
		Action:    action,
		Subject:   subject,
		Operator:  requestcontext.OperatorID(ctx),
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		i.logger.Warn("audit emit failed", slog.String("action", string(action)), slog.Any("error", err))
	}
}
