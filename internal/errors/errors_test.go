package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	err := NewNotFoundError("calendar", "cal-1", stderrors.New("sql: no rows in result set"))

	assert.Equal(t, `calendar "cal-1" not found (code: NF_001): sql: no rows in result set`, err.Error())
}

func TestIsMatchesByCode(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		target error
		want   bool
	}{
		{"validation", NewValidationError("window", "both zero"), ErrValidation, true},
		{"not found", NewNotFoundError("rule", "r1", nil), ErrNotFound, true},
		{"wrapped store", fmt.Errorf("persist: %w", NewStoreError("update rule", nil)), ErrStore, true},
		{"different kind", NewProviderError("create", "e1", nil), ErrNetwork, false},
		{"plain error", stderrors.New("boom"), ErrValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stderrors.Is(tt.err, tt.target))
		})
	}
}

func TestUnwrapReachesCause(t *testing.T) {
	cause := stderrors.New("disk full")
	err := NewStoreError("insert event", cause)

	assert.ErrorIs(t, err, cause)
}

func TestGetAppError(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", NewSerializationError("marker", nil))

	appErr := GetAppError(wrapped)
	require.NotNil(t, appErr)
	assert.Equal(t, ErrSerialization.Code, appErr.Code)

	assert.Nil(t, GetAppError(stderrors.New("plain")))
	assert.Nil(t, GetAppError(nil))
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(NewNetworkError("https://example.com", nil)))
	assert.True(t, IsTransient(NewProviderError("update", "e1", nil)))
	assert.False(t, IsTransient(NewValidationError("window", "too large")))
	assert.False(t, IsTransient(nil))
}
