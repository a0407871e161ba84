package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnrollmentID(t *testing.T) {
	t.Run("empty string rejected", func(t *testing.T) {
		_, err := ParseEnrollmentID("")
		require.Error(t, err)
	})

	t.Run("non-uuid rejected", func(t *testing.T) {
		_, err := ParseEnrollmentID("not-a-uuid")
		require.Error(t, err)
	})

	t.Run("nil uuid rejected", func(t *testing.T) {
		_, err := ParseEnrollmentID(uuid.Nil.String())
		require.Error(t, err)
	})

	t.Run("valid uuid round-trips", func(t *testing.T) {
		raw := uuid.New()
		id, err := ParseEnrollmentID(raw.String())
		require.NoError(t, err)
		assert.Equal(t, raw.String(), id.String())
		assert.False(t, id.IsNil())
	})
}

func TestFolio(t *testing.T) {
	assert.True(t, Folio("").IsZero())
	assert.False(t, Folio("CERT-ABC123").IsZero())
	assert.Equal(t, "CERT-ABC123", Folio("CERT-ABC123").String())
}

func FuzzParseCertificateID(f *testing.F) {
	f.Add("")
	f.Add("not-a-uuid")
	f.Add(uuid.Nil.String())
	f.Add(uuid.NewString())
	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseCertificateID(input)
		if err == nil && id.IsNil() {
			t.Fatalf("parse accepted %q but returned nil id", input)
		}
	})
}
