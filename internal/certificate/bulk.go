package certificate

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"constancia/internal/audit"
	"constancia/internal/catalog"
	id "constancia/pkg/domain"
	dErrors "constancia/pkg/domain-errors"
)

// Email address kinds a delivery can be addressed to.
const (
	EmailInstitutional = "institutional"
	EmailPersonal      = "personal"
)

// Sender delivers an issued certificate's document by email. Implemented by
// internal/delivery; nil disables the send half of bulk issuance.
type Sender interface {
	Send(ctx context.Context, certID id.CertificateID, emailKind string) error
}

// BulkSuccess is one target that ended with a delivered certificate. Resent
// marks targets that already held a certificate and got the existing
// document again instead of a new issuance.
type BulkSuccess struct {
	TargetID   string    `json:"targetId"`
	TargetName string    `json:"targetName"`
	Folio      id.Folio  `json:"folio"`
	Resent     bool      `json:"resent"`
}

// BulkError is one target that failed. The batch continues past it.
type BulkError struct {
	TargetID   string `json:"targetId"`
	TargetName string `json:"targetName"`
	Message    string `json:"message"`
}

// BulkReport aggregates a whole batch. Partial success is the normal case.
type BulkReport struct {
	Success []BulkSuccess `json:"success"`
	Errors  []BulkError   `json:"errors"`
}

// Bulk runs batch issuance over the targets of one product with a bounded
// worker pool. Per-target failures are collected, never propagated: a single
// bad target must not abort the batch. Concurrent batches over the same
// product are safe; the store's unique indexes make the loser of any race
// see a resend instead of a duplicate.
type Bulk struct {
	issuer  *Issuer
	catalog BulkCatalog
	sender  Sender
	workers int
}

// BulkCatalog extends the resolver's catalog slice with the product-wide
// enrollment listing the coordinator iterates.
type BulkCatalog interface {
	Catalog
	ListEnrollmentsByProduct(ctx context.Context, productID id.ProductID) ([]*catalog.Enrollment, error)
}

func NewBulk(issuer *Issuer, catalog BulkCatalog, sender Sender, workers int) *Bulk {
	if workers <= 0 {
		workers = 4
	}
	return &Bulk{issuer: issuer, catalog: catalog, sender: sender, workers: workers}
}

// IssueAndSendForProduct issues and delivers a normal certificate for every
// enrollment of the product and for every assigned teacher. Targets already
// holding a certificate get the existing document resent.
func (b *Bulk) IssueAndSendForProduct(ctx context.Context, productID id.ProductID) (*BulkReport, error) {
	ctx, span := b.issuer.tracer.Start(ctx, "certificate.bulk_issue",
		trace.WithAttributes(attribute.String("product.id", productID.String())))
	defer span.End()

	product, err := b.issuer.resolver.resolveProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	enrollments, err := b.catalog.ListEnrollmentsByProduct(ctx, productID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list enrollments")
	}

	tasks := make([]bulkTask, 0, len(enrollments)+len(product.TeacherIDs))
	for _, e := range enrollments {
		tasks = append(tasks, bulkTask{enrollmentID: e.ID, emailKind: EmailPersonal})
	}
	for _, teacherID := range product.TeacherIDs {
		tasks = append(tasks, bulkTask{teacherID: teacherID, productID: productID, emailKind: EmailInstitutional})
	}

	report := b.run(ctx, tasks)
	span.SetAttributes(
		attribute.Int("bulk.success", len(report.Success)),
		attribute.Int("bulk.errors", len(report.Errors)),
	)
	b.emitDone(ctx, productID, report)
	return report, nil
}

// IssueWithCompetencies runs the competencies variant over an explicitly
// selected subset of the product's enrollments. Same isolation and resend
// rules as the product-wide batch.
func (b *Bulk) IssueWithCompetencies(ctx context.Context, productID id.ProductID, enrollmentIDs []id.EnrollmentID) (*BulkReport, error) {
	ctx, span := b.issuer.tracer.Start(ctx, "certificate.bulk_issue_competencies",
		trace.WithAttributes(attribute.String("product.id", productID.String())))
	defer span.End()

	if _, err := b.issuer.resolver.resolveProduct(ctx, productID); err != nil {
		return nil, err
	}
	tasks := make([]bulkTask, 0, len(enrollmentIDs))
	for _, enrollmentID := range enrollmentIDs {
		tasks = append(tasks, bulkTask{
			enrollmentID:     enrollmentID,
			withCompetencies: true,
			emailKind:        EmailPersonal,
		})
	}

	report := b.run(ctx, tasks)
	b.emitDone(ctx, productID, report)
	return report, nil
}

type bulkTask struct {
	enrollmentID     id.EnrollmentID
	teacherID        id.TeacherID
	productID        id.ProductID
	withCompetencies bool
	emailKind        string
}

func (t bulkTask) targetID() string {
	if !t.teacherID.IsNil() {
		return t.teacherID.String()
	}
	return t.enrollmentID.String()
}

// run drives the worker pool. Workers never return an error to the group;
// every outcome lands in the shared report under its mutex. Cancelling the
// context stops scheduling new targets, already-started ones finish.
func (b *Bulk) run(ctx context.Context, tasks []bulkTask) *BulkReport {
	report := &BulkReport{Success: []BulkSuccess{}, Errors: []BulkError{}}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(b.workers)
	for _, task := range tasks {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			success, bulkErr := b.process(ctx, task)
			mu.Lock()
			defer mu.Unlock()
			if bulkErr != nil {
				report.Errors = append(report.Errors, *bulkErr)
				b.countTarget("failed")
				return nil
			}
			report.Success = append(report.Success, *success)
			if success.Resent {
				b.countTarget("resent")
			} else {
				b.countTarget("issued")
			}
			return nil
		})
	}
	_ = g.Wait() // workers never fail the group
	return report
}

// process handles one target end to end: issue (or recover the existing
// certificate), then send. Any error becomes a report entry.
func (b *Bulk) process(ctx context.Context, task bulkTask) (*BulkSuccess, *BulkError) {
	target, err := b.resolve(ctx, task)
	if err != nil {
		return nil, &BulkError{TargetID: task.targetID(), Message: err.Error()}
	}

	resent := false
	cert, err := b.issuer.issue(ctx, target)
	switch {
	case err == nil:
	case dErrors.HasCode(err, dErrors.CodeAlreadyIssued) && cert != nil:
		// Recoverable: the slot is taken, resend the existing document.
		resent = true
	default:
		return nil, &BulkError{
			TargetID:   target.TargetID(),
			TargetName: target.RecipientName,
			Message:    err.Error(),
		}
	}

	if cert.Status != StatusReady {
		return nil, &BulkError{
			TargetID:   target.TargetID(),
			TargetName: target.RecipientName,
			Message:    fmt.Sprintf("document generation failed for folio %s", cert.Folio),
		}
	}

	if b.sender != nil {
		if err := b.sender.Send(ctx, cert.ID, task.emailKind); err != nil {
			return nil, &BulkError{
				TargetID:   target.TargetID(),
				TargetName: target.RecipientName,
				Message:    err.Error(),
			}
		}
	}
	return &BulkSuccess{
		TargetID:   target.TargetID(),
		TargetName: target.RecipientName,
		Folio:      cert.Folio,
		Resent:     resent,
	}, nil
}

func (b *Bulk) resolve(ctx context.Context, task bulkTask) (*ResolvedTarget, error) {
	if !task.teacherID.IsNil() {
		return b.issuer.resolver.ResolveTeacher(ctx, task.teacherID, task.productID)
	}
	return b.issuer.resolver.ResolveEnrollment(ctx, task.enrollmentID, task.withCompetencies)
}

func (b *Bulk) countTarget(outcome string) {
	if b.issuer.metrics != nil {
		b.issuer.metrics.BulkTargets.WithLabelValues(outcome).Inc()
	}
}

func (b *Bulk) emitDone(ctx context.Context, productID id.ProductID, report *BulkReport) {
	b.issuer.emit(ctx, audit.ActionBulkIssuanceDone, productID.String(),
		fmt.Sprintf("%d succeeded, %d failed", len(report.Success), len(report.Errors)))
	b.issuer.logger.Info("bulk issuance finished",
		slog.String("product_id", productID.String()),
		slog.Int("success", len(report.Success)),
		slog.Int("errors", len(report.Errors)))
}
