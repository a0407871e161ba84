package domainerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	err := New(CodeAlreadyIssued, "certificate already exists for target")

	assert.True(t, HasCode(err, CodeAlreadyIssued))
	assert.False(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(errors.New("plain"), CodeAlreadyIssued))
	assert.False(t, HasCode(nil, CodeAlreadyIssued))
}

func TestHasCode_WrappedChain(t *testing.T) {
	cause := errors.New("duplicate key value violates unique constraint")
	err := Wrap(cause, CodeAlreadyIssued, "certificate already exists")
	wrapped := fmt.Errorf("issue participant: %w", err)

	assert.True(t, HasCode(wrapped, CodeAlreadyIssued))
	assert.ErrorIs(t, wrapped, err)

	var de *Error
	require.True(t, errors.As(wrapped, &de))
	assert.Equal(t, CodeAlreadyIssued, de.Code)
	assert.ErrorIs(t, de, cause)
}

func TestCodeOf_DefaultsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, CodeOf(errors.New("boom")))
	assert.Equal(t, CodeNoAddress, CodeOf(New(CodeNoAddress, "participant has no institutional email")))
}

func TestToHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeNotFound, http.StatusNotFound},
		{CodeInvalidTarget, http.StatusBadRequest},
		{CodeAlreadyIssued, http.StatusConflict},
		{CodeDocumentNotReady, http.StatusConflict},
		{CodeNoAddress, http.StatusBadRequest},
		{CodeDocumentFailed, http.StatusBadGateway},
		{CodeDeliveryFailed, http.StatusBadGateway},
		{CodeTimeout, http.StatusGatewayTimeout},
		{CodeUnauthorized, http.StatusUnauthorized},
		{Code("mystery"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ToHTTPStatus(tt.code), string(tt.code))
	}
}
