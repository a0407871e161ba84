package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	id "constancia/pkg/domain"
	"constancia/pkg/platform/sentinel"
	txcontext "constancia/pkg/platform/tx"
)

// PostgresStore persists catalog entities in PostgreSQL.
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

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func (s *PostgresStore) CreateProduct(ctx context.Context, p *Product) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO products (id, name, kind, modality, hours, starts_on, ends_on, competencies, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, uuid.UUID(p.ID), p.Name, string(p.Kind), string(p.Modality), p.Hours, p.StartsOn, p.EndsOn,
		pq.Array(p.Competencies), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create product: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProduct(ctx context.Context, productID id.ProductID) (*Product, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, name, kind, modality, hours, starts_on, ends_on, competencies, removed_at, created_at, updated_at
		FROM products WHERE id = $1
	`, uuid.UUID(productID))
	p, err := scanProduct(row)
	if err != nil {
		return nil, err
	}
	teacherIDs, err := s.productTeachers(ctx, productID)
	if err != nil {
		return nil, err
	}
	p.TeacherIDs = teacherIDs
	return p, nil
}

func (s *PostgresStore) ListProducts(ctx context.Context, includeRemoved bool) ([]*Product, error) {
	query := `
		SELECT id, name, kind, modality, hours, starts_on, ends_on, competencies, removed_at, created_at, updated_at
		FROM products`
	if !includeRemoved {
		query += ` WHERE removed_at IS NULL`
	}
	query += ` ORDER BY created_at`

	rows, err := s.execer(ctx).QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []*Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	for _, p := range out {
		teacherIDs, err := s.productTeachers(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.TeacherIDs = teacherIDs
	}
	return out, nil
}

func (s *PostgresStore) UpdateProduct(ctx context.Context, p *Product) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE products
		SET name = $2, kind = $3, modality = $4, hours = $5, starts_on = $6, ends_on = $7,
		    competencies = $8, updated_at = $9
		WHERE id = $1
	`, uuid.UUID(p.ID), p.Name, string(p.Kind), string(p.Modality), p.Hours, p.StartsOn, p.EndsOn,
		pq.Array(p.Competencies), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) TombstoneProduct(ctx context.Context, productID id.ProductID, removedAt time.Time) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE products SET removed_at = $2, updated_at = $2 WHERE id = $1 AND removed_at IS NULL
	`, uuid.UUID(productID), removedAt)
	if err != nil {
		return fmt.Errorf("tombstone product: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) SetProductTeachers(ctx context.Context, productID id.ProductID, teacherIDs []id.TeacherID) error {
	execer := s.execer(ctx)
	if _, err := execer.ExecContext(ctx, `DELETE FROM product_teachers WHERE product_id = $1`, uuid.UUID(productID)); err != nil {
		return fmt.Errorf("clear product teachers: %w", err)
	}
	for _, teacherID := range teacherIDs {
		if _, err := execer.ExecContext(ctx, `
			INSERT INTO product_teachers (product_id, teacher_id) VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`, uuid.UUID(productID), uuid.UUID(teacherID)); err != nil {
			return fmt.Errorf("assign teacher: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) productTeachers(ctx context.Context, productID id.ProductID) ([]id.TeacherID, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT teacher_id FROM product_teachers WHERE product_id = $1
	`, uuid.UUID(productID))
	if err != nil {
		return nil, fmt.Errorf("product teachers: %w", err)
	}
	defer rows.Close()

	var out []id.TeacherID
	for rows.Next() {
		var raw uuid.UUID
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("product teachers: %w", err)
		}
		out = append(out, id.TeacherID(raw))
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateTeacher(ctx context.Context, t *Teacher) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO teachers (id, full_name, institutional_email, personal_email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.UUID(t.ID), t.FullName, t.InstitutionalEmail, nullable(t.PersonalEmail), nullable(t.Phone), t.CreatedAt, t.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create teacher: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTeacher(ctx context.Context, teacherID id.TeacherID) (*Teacher, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, full_name, institutional_email, personal_email, phone, created_at, updated_at
		FROM teachers WHERE id = $1
	`, uuid.UUID(teacherID))
	return scanTeacher(row)
}

func (s *PostgresStore) ListTeachers(ctx context.Context) ([]*Teacher, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, full_name, institutional_email, personal_email, phone, created_at, updated_at
		FROM teachers ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list teachers: %w", err)
	}
	defer rows.Close()

	var out []*Teacher
	for rows.Next() {
		t, err := scanTeacher(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateTeacher(ctx context.Context, t *Teacher) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE teachers
		SET full_name = $2, institutional_email = $3, personal_email = $4, phone = $5, updated_at = $6
		WHERE id = $1
	`, uuid.UUID(t.ID), t.FullName, t.InstitutionalEmail, nullable(t.PersonalEmail), nullable(t.Phone), t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update teacher: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) DeleteTeacher(ctx context.Context, teacherID id.TeacherID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM teachers WHERE id = $1`, uuid.UUID(teacherID))
	if err != nil {
		return fmt.Errorf("delete teacher: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) CreateParticipant(ctx context.Context, p *Participant) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO participants (id, full_name, personal_email, institutional_email, phone, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.UUID(p.ID), p.FullName, p.PersonalEmail, nullable(p.InstitutionalEmail), nullable(p.Phone), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetParticipant(ctx context.Context, participantID id.ParticipantID) (*Participant, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, full_name, personal_email, institutional_email, phone, created_at, updated_at
		FROM participants WHERE id = $1
	`, uuid.UUID(participantID))
	return scanParticipant(row)
}

func (s *PostgresStore) ListParticipants(ctx context.Context) ([]*Participant, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, full_name, personal_email, institutional_email, phone, created_at, updated_at
		FROM participants ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	var out []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateParticipant(ctx context.Context, p *Participant) error {
	res, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE participants
		SET full_name = $2, personal_email = $3, institutional_email = $4, phone = $5, updated_at = $6
		WHERE id = $1
	`, uuid.UUID(p.ID), p.FullName, p.PersonalEmail, nullable(p.InstitutionalEmail), nullable(p.Phone), p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) DeleteParticipant(ctx context.Context, participantID id.ParticipantID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM participants WHERE id = $1`, uuid.UUID(participantID))
	if err != nil {
		return fmt.Errorf("delete participant: %w", err)
	}
	return requireRow(res)
}

func (s *PostgresStore) CreateEnrollment(ctx context.Context, e *Enrollment) error {
	_, err := s.execer(ctx).ExecContext(ctx, `
		INSERT INTO enrollments (id, participant_id, product_id, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.UUID(e.ID), uuid.UUID(e.ParticipantID), uuid.UUID(e.ProductID), e.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) (*Enrollment, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT id, participant_id, product_id, created_at FROM enrollments WHERE id = $1
	`, uuid.UUID(enrollmentID))

	var e Enrollment
	var rawID, rawParticipant, rawProduct uuid.UUID
	err := row.Scan(&rawID, &rawParticipant, &rawProduct, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("get enrollment: %w", err)
	}
	e.ID = id.EnrollmentID(rawID)
	e.ParticipantID = id.ParticipantID(rawParticipant)
	e.ProductID = id.ProductID(rawProduct)
	return &e, nil
}

func (s *PostgresStore) ListEnrollmentsByProduct(ctx context.Context, productID id.ProductID) ([]*Enrollment, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, participant_id, product_id, created_at
		FROM enrollments WHERE product_id = $1 ORDER BY created_at
	`, uuid.UUID(productID))
	if err != nil {
		return nil, fmt.Errorf("list enrollments: %w", err)
	}
	defer rows.Close()

	var out []*Enrollment
	for rows.Next() {
		var e Enrollment
		var rawID, rawParticipant, rawProduct uuid.UUID
		if err := rows.Scan(&rawID, &rawParticipant, &rawProduct, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("list enrollments: %w", err)
		}
		e.ID = id.EnrollmentID(rawID)
		e.ParticipantID = id.ParticipantID(rawParticipant)
		e.ProductID = id.ProductID(rawProduct)
		out = append(out, &e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteEnrollment(ctx context.Context, enrollmentID id.EnrollmentID) error {
	res, err := s.execer(ctx).ExecContext(ctx, `DELETE FROM enrollments WHERE id = $1`, uuid.UUID(enrollmentID))
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return requireRow(res)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*Product, error) {
	var p Product
	var rawID uuid.UUID
	var kind, modality string
	var competencies pq.StringArray
	err := row.Scan(&rawID, &p.Name, &kind, &modality, &p.Hours, &p.StartsOn, &p.EndsOn,
		&competencies, &p.RemovedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan product: %w", err)
	}
	p.ID = id.ProductID(rawID)
	p.Kind = ProductKind(kind)
	p.Modality = Modality(modality)
	p.Competencies = []string(competencies)
	return &p, nil
}

func scanTeacher(row rowScanner) (*Teacher, error) {
	var t Teacher
	var rawID uuid.UUID
	var personalEmail, phone sql.NullString
	err := row.Scan(&rawID, &t.FullName, &t.InstitutionalEmail, &personalEmail, &phone, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan teacher: %w", err)
	}
	t.ID = id.TeacherID(rawID)
	t.PersonalEmail = personalEmail.String
	t.Phone = phone.String
	return &t, nil
}

func scanParticipant(row rowScanner) (*Participant, error) {
	var p Participant
	var rawID uuid.UUID
	var institutionalEmail, phone sql.NullString
	err := row.Scan(&rawID, &p.FullName, &p.PersonalEmail, &institutionalEmail, &phone, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan participant: %w", err)
	}
	p.ID = id.ParticipantID(rawID)
	p.InstitutionalEmail = institutionalEmail.String
	p.Phone = phone.String
	return &p, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
