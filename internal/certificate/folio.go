package certificate

import (
	"crypto/rand"
	"fmt"
	"strings"

	id "constancia/pkg/domain"
)

// folioAlphabet is a 32-character URL-safe alphabet (Crockford base32:
// no I, L, O, U) so folios survive being read over the phone.
const folioAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// folioTokenLength at 16 characters of a 32-symbol alphabet gives 80 bits of
// entropy: collision probability stays below 1e-9 well past any plausible
// institutional issuance volume, and folios cannot be enumerated from the
// public verification endpoint.
const folioTokenLength = 16

// FolioGenerator mints public certificate identifiers. Uniqueness is still
// enforced by the store's unique index; the issuer retries on the rare
// persisted collision.
type FolioGenerator struct {
	prefix string
}

func NewFolioGenerator(prefix string) *FolioGenerator {
	if prefix == "" {
		prefix = "CERT"
	}
	return &FolioGenerator{prefix: prefix}
}

// New produces a folio like CERT-4R7M-Q2XW-9JKD-T3VZ.
func (g *FolioGenerator) New() (id.Folio, error) {
	raw := make([]byte, folioTokenLength)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	var b strings.Builder
	b.Grow(len(g.prefix) + 1 + folioTokenLength + 3)
	b.WriteString(g.prefix)
	for i, by := range raw {
		if i%4 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(folioAlphabet[int(by)%len(folioAlphabet)])
	}
	return id.Folio(b.String()), nil
}
