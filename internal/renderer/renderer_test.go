package renderer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"constancia/internal/certificate"
	id "constancia/pkg/domain"
)

// The PDF half needs a Chrome binary and is covered by the integration
// suite; these tests pin the template contract the browser receives.

func TestBuildHTML(t *testing.T) {
	r, err := NewPDF(t.TempDir(), nil)
	require.NoError(t, err)

	data := certificate.DocumentData{
		Folio:         id.Folio("CERT-4R7M-Q2XW-9JKD-T3VZ"),
		RecipientName: "María <script>Fernández</script>",
		ProductName:   "Gestión de Incidentes",
		ProductKind:   "COURSE",
		Hours:         40,
		IssuedAt:      time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC),
	}

	t.Run("includes folio, recipient and product", func(t *testing.T) {
		html, err := r.buildHTML(data)
		require.NoError(t, err)
		assert.Contains(t, html, "CERT-4R7M-Q2XW-9JKD-T3VZ")
		assert.Contains(t, html, "Gestión de Incidentes")
		assert.Contains(t, html, "40 horas")
		assert.Contains(t, html, "March 14, 2026")
	})

	t.Run("escapes recipient-supplied markup", func(t *testing.T) {
		html, err := r.buildHTML(data)
		require.NoError(t, err)
		assert.NotContains(t, html, "<script>")
	})

	t.Run("competencies section only present when provided", func(t *testing.T) {
		plain, err := r.buildHTML(data)
		require.NoError(t, err)
		assert.NotContains(t, plain, "Competencias")

		data.Competencies = []string{"triage", "containment"}
		enriched, err := r.buildHTML(data)
		require.NoError(t, err)
		assert.Contains(t, enriched, "Competencias acreditadas")
		assert.Contains(t, enriched, "containment")
	})
}
