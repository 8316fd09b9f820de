package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOfWrappedError(t *testing.T) {
	base := Conflict("call is %s", "completed").With(DetailCurrentStatus, "completed")
	wrapped := fmt.Errorf("acknowledge call 7: %w", base)

	appErr, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindConflict, appErr.Kind)
	assert.Equal(t, "completed", appErr.Details[DetailCurrentStatus])
	assert.True(t, Is(wrapped, KindConflict))
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
}

func TestWithDoesNotMutateOriginal(t *testing.T) {
	base := RateLimited("table is silenced")
	a := base.With(DetailReason, "manual")
	b := a.With(DetailRemainingSeconds, 60)

	assert.Nil(t, base.Details)
	assert.Len(t, a.Details, 1)
	assert.Len(t, b.Details, 2)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		kind Kind
		want int
	}{
		{KindValidation, http.StatusBadRequest},
		{KindPreconditionFailed, http.StatusPreconditionFailed},
		{KindConflict, http.StatusConflict},
		{KindRateLimited, http.StatusTooManyRequests},
		{KindForbidden, http.StatusForbidden},
		{KindNotFound, http.StatusNotFound},
		{"", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.kind))
		})
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("dial tcp: timeout")
	err := Wrap(KindTransient, cause, "mirror write failed")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "dial tcp")
}
