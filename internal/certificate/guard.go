package certificate

import (
	"context"
	"errors"
	"fmt"

	dErrors "constancia/pkg/domain-errors"
	"constancia/pkg/platform/sentinel"
)

// Guard answers whether a target slot is free before an insert is attempted.
// It is advisory only: the store's unique indexes remain the authority, and
// the issuer still handles a conflicting concurrent insert.
type Guard struct {
	store Store
}

func NewGuard(store Store) *Guard {
	return &Guard{store: store}
}

// CheckAvailable returns the certificate already occupying the target's
// slot, or nil when the slot is free.
func (g *Guard) CheckAvailable(ctx context.Context, target *ResolvedTarget) (*Certificate, error) {
	existing, err := g.store.FindBySlot(ctx, target)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "check slot availability")
	}
	return existing, nil
}

// AlreadyIssuedError builds the conflict the issuer reports when a slot is
// occupied, naming the existing folio so callers can locate the certificate.
func AlreadyIssuedError(existing *Certificate) error {
	return dErrors.New(dErrors.CodeAlreadyIssued,
		fmt.Sprintf("certificate %s already issued for this target", existing.Folio))
}
