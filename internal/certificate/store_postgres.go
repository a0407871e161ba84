package certificate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "constancia/pkg/domain"
	"constancia/pkg/platform/sentinel"
	txcontext "constancia/pkg/platform/tx"
)

// PostgresStore persists certificates in PostgreSQL. The uniqueness
// invariant lives in the partial unique indexes, so concurrent issuance for
// the same slot always resolves to exactly one row.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// translateInsertErr tells a slot conflict apart from a folio collision by
// the violated constraint. Only the folio key maps to ErrFolioCollision; the
// issuer retries those with a fresh folio.
func translateInsertErr(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != "23505" {
		return fmt.Errorf("create certificate: %w", err)
	}
	if strings.Contains(pqErr.Constraint, "folio") {
		return ErrFolioCollision
	}
	return sentinel.ErrConflict
}

func (s *PostgresStore) Create(ctx context.Context, cert *Certificate) error {
	var enrollmentID, teacherID any
	if cert.EnrollmentID != nil {
		enrollmentID = uuid.UUID(*cert.EnrollmentID)
	}
	if cert.TeacherID != nil {
		teacherID = uuid.UUID(*cert.TeacherID)
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO certificates (id, folio, status, with_competencies, enrollment_id, teacher_id, product_id, document_path, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.UUID(cert.ID), cert.Folio.String(), string(cert.Status), cert.WithCompetencies,
		enrollmentID, teacherID, uuid.UUID(cert.ProductID), cert.DocumentPath, cert.IssuedAt)
	if err != nil {
		return translateInsertErr(err)
	}
	return nil
}

const certificateColumns = `id, folio, status, with_competencies, enrollment_id, teacher_id, product_id, document_path, issued_at, revoked_at`

func (s *PostgresStore) GetByID(ctx context.Context, certID id.CertificateID) (*Certificate, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+certificateColumns+` FROM certificates WHERE id = $1
	`, uuid.UUID(certID))
	return scanCertificate(row)
}

func (s *PostgresStore) GetByFolio(ctx context.Context, folio id.Folio) (*Certificate, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT `+certificateColumns+` FROM certificates WHERE folio = $1
	`, folio.String())
	return scanCertificate(row)
}

func (s *PostgresStore) FindBySlot(ctx context.Context, target *ResolvedTarget) (*Certificate, error) {
	var row *sql.Row
	switch target.Kind {
	case TargetTeacher:
		row = s.execer(ctx).QueryRowContext(ctx, `
			SELECT `+certificateColumns+` FROM certificates
			WHERE teacher_id = $1 AND product_id = $2
		`, uuid.UUID(target.TeacherID), uuid.UUID(target.ProductID))
	default:
		row = s.execer(ctx).QueryRowContext(ctx, `
			SELECT `+certificateColumns+` FROM certificates
			WHERE enrollment_id = $1 AND with_competencies = $2
		`, uuid.UUID(target.EnrollmentID), target.WithCompetencies)
	}
	return scanCertificate(row)
}

func (s *PostgresStore) ListByEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) ([]*Certificate, error) {
	return s.list(ctx, `
		SELECT `+certificateColumns+` FROM certificates
		WHERE enrollment_id = $1 ORDER BY issued_at
	`, uuid.UUID(enrollmentID))
}

func (s *PostgresStore) ListByProduct(ctx context.Context, productID id.ProductID) ([]*Certificate, error) {
	return s.list(ctx, `
		SELECT `+certificateColumns+` FROM certificates
		WHERE product_id = $1 ORDER BY issued_at
	`, uuid.UUID(productID))
}

func (s *PostgresStore) list(ctx context.Context, query string, args ...any) ([]*Certificate, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var out []*Certificate
	for rows.Next() {
		cert, err := scanCertificate(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetDocumentReady(ctx context.Context, certID id.CertificateID, documentPath string) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE certificates SET status = $1, document_path = $2 WHERE id = $3
	`, string(StatusReady), documentPath, uuid.UUID(certID))
	if err != nil {
		return fmt.Errorf("set document ready: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, certID id.CertificateID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE certificates SET status = $1 WHERE id = $2
	`, string(StatusFailed), uuid.UUID(certID))
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) Revoke(ctx context.Context, certID id.CertificateID, revokedAt time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE certificates SET status = $1, revoked_at = $2
		WHERE id = $3 AND status = $4
	`, string(StatusRevoked), revokedAt, uuid.UUID(certID), string(StatusReady))
	if err != nil {
		return fmt.Errorf("revoke certificate: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		// Either the row is missing or it is not READY.
		if _, err := s.GetByID(ctx, certID); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, certID id.CertificateID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		DELETE FROM certificates WHERE id = $1
	`, uuid.UUID(certID))
	if err != nil {
		return fmt.Errorf("delete certificate: %w", err)
	}
	return requireAffected(res)
}

func (s *PostgresStore) CountByEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM certificates WHERE enrollment_id = $1`, uuid.UUID(enrollmentID))
}

func (s *PostgresStore) DeleteByEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) (int, error) {
	res, err := s.execer(ctx).ExecContext(ctx, `
		DELETE FROM certificates WHERE enrollment_id = $1
	`, uuid.UUID(enrollmentID))
	if err != nil {
		return 0, fmt.Errorf("delete certificates by enrollment: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

func (s *PostgresStore) CountByProduct(ctx context.Context, productID id.ProductID) (int, error) {
	return s.count(ctx, `SELECT COUNT(*) FROM certificates WHERE product_id = $1`, uuid.UUID(productID))
}

func (s *PostgresStore) count(ctx context.Context, query string, arg any) (int, error) {
	var n int
	if err := s.execer(ctx).QueryRowContext(ctx, query, arg).Scan(&n); err != nil {
		return 0, fmt.Errorf("count certificates: %w", err)
	}
	return n, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCertificate(row rowScanner) (*Certificate, error) {
	var (
		cert         Certificate
		certID       uuid.UUID
		folio        string
		status       string
		enrollmentID uuid.NullUUID
		teacherID    uuid.NullUUID
		productID    uuid.UUID
		documentPath sql.NullString
		revokedAt    sql.NullTime
	)
	err := row.Scan(&certID, &folio, &status, &cert.WithCompetencies,
		&enrollmentID, &teacherID, &productID, &documentPath, &cert.IssuedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan certificate: %w", err)
	}
	cert.ID = id.CertificateID(certID)
	cert.Folio = id.Folio(folio)
	cert.Status = Status(status)
	if enrollmentID.Valid {
		eid := id.EnrollmentID(enrollmentID.UUID)
		cert.EnrollmentID = &eid
	}
	if teacherID.Valid {
		tid := id.TeacherID(teacherID.UUID)
		cert.TeacherID = &tid
	}
	cert.ProductID = id.ProductID(productID)
	cert.DocumentPath = documentPath.String
	if revokedAt.Valid {
		t := revokedAt.Time
		cert.RevokedAt = &t
	}
	return &cert, nil
}
