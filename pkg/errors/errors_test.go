package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		notFound   bool
		transition bool
		status     int
	}{
		{
			name:     "not found with detail",
			err:      ErrNotFound.WithDetail("id", "wf-1"),
			notFound: true,
			status:   http.StatusNotFound,
		},
		{
			name:       "invalid transition wrapped by fmt",
			err:        fmt.Errorf("release: %w", ErrInvalidTransition.WithMessage("workflow is %s", "RELEASED")),
			transition: true,
			status:     http.StatusConflict,
		},
		{
			name:   "plain error",
			err:    stderrors.New("boom"),
			status: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.notFound, IsNotFound(tt.err))
			assert.Equal(t, tt.transition, IsInvalidTransition(tt.err))
			assert.Equal(t, tt.status, ToHTTPStatus(tt.err))
		})
	}
}

func TestWithDetailDoesNotMutateSentinel(t *testing.T) {
	_ = ErrNotFound.WithDetail("id", "x")
	assert.Empty(t, ErrNotFound.Details)
}

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := ErrInvalidTransition.WithMessage("workflow wf-1 is not ACTIVE")
	assert.True(t, stderrors.Is(err, ErrInvalidTransition))
	assert.False(t, stderrors.Is(err, ErrNotFound))
}

func TestToErrorResponse(t *testing.T) {
	resp := ToErrorResponse(ErrInvalidTransition.WithMessage("workflow wf-1 is RELEASED, expected ACTIVE"))
	assert.Equal(t, "INVALID_TRANSITION", resp.ErrorCode)
	assert.Equal(t, "workflow wf-1 is RELEASED, expected ACTIVE", resp.Error)

	resp = ToErrorResponse(stderrors.New("db down"))
	assert.Equal(t, "INTERNAL_ERROR", resp.ErrorCode)
}

func TestWrapKeepsTypedError(t *testing.T) {
	inner := ErrNotFound.WithDetail("id", "wf-9")
	wrapped := Wrap(fmt.Errorf("lookup: %w", inner), ErrInternal)
	assert.Equal(t, "NOT_FOUND", wrapped.Code)

	assert.Nil(t, Wrap(nil, ErrInternal))
	assert.Equal(t, "INTERNAL_ERROR", Wrap(stderrors.New("x"), ErrInternal).Code)
}

func TestRetryability(t *testing.T) {
	assert.False(t, ErrValidation.IsRetryable())
	assert.False(t, ErrInvalidTransition.IsRetryable())
	assert.True(t, ErrServiceUnavailable.IsRetryable())
	assert.True(t, ErrValidation.AsRetryable().IsRetryable())

	err := RecoverPanic("kaboom")
	var appErr *Error
	assert.True(t, stderrors.As(err, &appErr))
	assert.True(t, appErr.IsFatal())
}
