package delivery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"constancia/internal/audit"
	"constancia/internal/catalog"
	"constancia/internal/certificate"
	"constancia/internal/platform/metrics"
	id "constancia/pkg/domain"
	dErrors "constancia/pkg/domain-errors"
	"constancia/pkg/platform/sentinel"
	"constancia/pkg/requestcontext"
)

// Catalog is the read slice needed to resolve recipient addresses.
type Catalog interface {
	GetEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) (*catalog.Enrollment, error)
	GetParticipant(ctx context.Context, participantID id.ParticipantID) (*catalog.Participant, error)
	GetTeacher(ctx context.Context, teacherID id.TeacherID) (*catalog.Teacher, error)
	GetProduct(ctx context.Context, productID id.ProductID) (*catalog.Product, error)
}

// Dispatcher resolves a certificate's recipient address and hands the
// document to the mailer. It performs no retries; delivery failure is
// reported per call and retrying is the caller's decision. Implements
// certificate.Sender.
type Dispatcher struct {
	certs   certificate.Store
	catalog Catalog
	mailer  Mailer
	metrics *metrics.Metrics
	audit   audit.Emitter
	logger  *slog.Logger
}

func NewDispatcher(certs certificate.Store, cat Catalog, mailer Mailer, m *metrics.Metrics, auditp audit.Emitter, logger *slog.Logger) *Dispatcher {
	if auditp == nil {
		auditp = audit.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{certs: certs, catalog: cat, mailer: mailer, metrics: m, audit: auditp, logger: logger}
}

type recipient struct {
	name          string
	institutional string
	personal      string
}

// Send emails the certificate's document to the recipient's address of the
// requested kind. A missing address of that kind fails with CodeNoAddress;
// there is no silent fallback to the other kind, the caller chose
// deliberately.
func (d *Dispatcher) Send(ctx context.Context, certID id.CertificateID, emailKind string) error {
	if emailKind != certificate.EmailInstitutional && emailKind != certificate.EmailPersonal {
		return dErrors.New(dErrors.CodeValidation,
			fmt.Sprintf("email kind must be %q or %q", certificate.EmailInstitutional, certificate.EmailPersonal))
	}

	cert, err := d.certs.GetByID(ctx, certID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "certificate not found")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "get certificate")
	}
	if cert.Status != certificate.StatusReady {
		return dErrors.New(dErrors.CodeDocumentNotReady,
			fmt.Sprintf("certificate is %s, nothing to deliver", cert.Status))
	}

	rcpt, err := d.resolveRecipient(ctx, cert)
	if err != nil {
		return err
	}
	address := rcpt.personal
	if emailKind == certificate.EmailInstitutional {
		address = rcpt.institutional
	}
	if address == "" {
		d.countOutcome("no_address")
		return dErrors.New(dErrors.CodeNoAddress,
			fmt.Sprintf("recipient has no %s email address", emailKind))
	}

	product, err := d.catalog.GetProduct(ctx, cert.ProductID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "resolve product for delivery")
	}

	msg := Message{
		To:             address,
		ToName:         rcpt.name,
		Subject:        fmt.Sprintf("Tu constancia de %s", product.Name),
		HTMLBody:       deliveryBody(rcpt.name, product.Name, cert.Folio),
		AttachmentPath: cert.DocumentPath,
	}
	if err := d.mailer.Send(ctx, msg); err != nil {
		d.countOutcome("failed")
		d.logger.Error("certificate delivery failed",
			slog.String("folio", cert.Folio.String()), slog.Any("error", err))
		return dErrors.Wrap(err, dErrors.CodeDeliveryFailed, "deliver certificate")
	}

	d.countOutcome("sent")
	d.emitSent(ctx, cert, emailKind)
	return nil
}

func (d *Dispatcher) resolveRecipient(ctx context.Context, cert *certificate.Certificate) (*recipient, error) {
	if cert.TeacherID != nil {
		teacher, err := d.catalog.GetTeacher(ctx, *cert.TeacherID)
		if err != nil {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve teacher for delivery")
		}
		return &recipient{
			name:          teacher.FullName,
			institutional: teacher.InstitutionalEmail,
			personal:      teacher.PersonalEmail,
		}, nil
	}
	enrollment, err := d.catalog.GetEnrollment(ctx, *cert.EnrollmentID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve enrollment for delivery")
	}
	participant, err := d.catalog.GetParticipant(ctx, enrollment.ParticipantID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "resolve participant for delivery")
	}
	return &recipient{
		name:          participant.FullName,
		institutional: participant.InstitutionalEmail,
		personal:      participant.PersonalEmail,
	}, nil
}

func deliveryBody(name, productName string, folio id.Folio) string {
	return fmt.Sprintf(
		`<p>Hola %s,</p>
<p>Adjuntamos tu constancia de <strong>%s</strong>.</p>
<p>Puedes verificar su autenticidad con el folio <code>%s</code>.</p>`,
		name, productName, folio)
}

func (d *Dispatcher) countOutcome(outcome string) {
	if d.metrics != nil {
		d.metrics.DeliveryOutcomes.WithLabelValues(outcome).Inc()
	}
}

func (d *Dispatcher) emitSent(ctx context.Context, cert *certificate.Certificate, emailKind string) {
	err := d.audit.Emit(ctx, audit.Event{
		Action:    audit.ActionCertificateSent,
		Subject:   cert.Folio.String(),
		Operator:  requestcontext.OperatorID(ctx),
		Reason:    emailKind,
		RequestID: requestcontext.RequestID(ctx),
	})
	if err != nil {
		d.logger.Warn("audit emit failed", slog.Any("error", err))
	}
}
