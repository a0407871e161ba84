package certificate

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "constancia/pkg/domain"
	"constancia/pkg/platform/sentinel"
)

func participantCert(enrollmentID id.EnrollmentID, productID id.ProductID, folio string, withCompetencies bool) *Certificate {
	return &Certificate{
		ID:               id.NewCertificateID(),
		Folio:            id.Folio(folio),
		Status:           StatusPendingDocument,
		WithCompetencies: withCompetencies,
		EnrollmentID:     &enrollmentID,
		ProductID:        productID,
		IssuedAt:         time.Now(),
	}
}

func TestMemoryStoreCreateDistinguishesConflicts(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	enrollmentID := id.EnrollmentID(uuid.New())
	productID := id.ProductID(uuid.New())

	require.NoError(t, store.Create(ctx, participantCert(enrollmentID, productID, "CERT-AAAA", false)))

	t.Run("occupied slot is a conflict", func(t *testing.T) {
		err := store.Create(ctx, participantCert(enrollmentID, productID, "CERT-BBBB", false))
		assert.ErrorIs(t, err, sentinel.ErrConflict)
	})

	t.Run("reused folio on a free slot is a folio collision", func(t *testing.T) {
		err := store.Create(ctx, participantCert(id.EnrollmentID(uuid.New()), productID, "CERT-AAAA", false))
		assert.ErrorIs(t, err, ErrFolioCollision)
	})

	t.Run("competencies slot is independent", func(t *testing.T) {
		err := store.Create(ctx, participantCert(enrollmentID, productID, "CERT-CCCC", true))
		assert.NoError(t, err)
	})

	t.Run("teacher slot ignores competencies flag", func(t *testing.T) {
		teacherID := id.TeacherID(uuid.New())
		first := &Certificate{
			ID: id.NewCertificateID(), Folio: "CERT-DDDD", Status: StatusPendingDocument,
			TeacherID: &teacherID, ProductID: productID, IssuedAt: time.Now(),
		}
		require.NoError(t, store.Create(ctx, first))

		second := &Certificate{
			ID: id.NewCertificateID(), Folio: "CERT-EEEE", Status: StatusPendingDocument,
			TeacherID: &teacherID, ProductID: productID, IssuedAt: time.Now(),
		}
		assert.ErrorIs(t, store.Create(ctx, second), sentinel.ErrConflict)
	})
}

func TestMemoryStoreCascade(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	enrollmentID := id.EnrollmentID(uuid.New())
	productID := id.ProductID(uuid.New())

	require.NoError(t, store.Create(ctx, participantCert(enrollmentID, productID, "CERT-FFFF", false)))
	require.NoError(t, store.Create(ctx, participantCert(enrollmentID, productID, "CERT-GGGG", true)))

	count, err := store.CountByEnrollment(ctx, enrollmentID)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	deleted, err := store.DeleteByEnrollment(ctx, enrollmentID)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	_, err = store.GetByFolio(ctx, "CERT-FFFF")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
}
