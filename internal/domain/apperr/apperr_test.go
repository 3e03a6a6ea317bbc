package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodePDFParseFailed, http.StatusBadRequest},
		{CodePDFEmpty, http.StatusBadRequest},
		{CodePDFTooLarge, http.StatusBadRequest},
		{CodeLLMAuthError, http.StatusBadRequest},
		{CodeWorkflowNotFound, http.StatusNotFound},
		{CodeContractNotFound, http.StatusNotFound},
		{CodeReviewNotFound, http.StatusNotFound},
		{CodeVerticalNotFound, http.StatusNotFound},
		{CodeInvalidTransition, http.StatusConflict},
		{CodeReviewResolved, http.StatusConflict},
		{CodeValidationError, http.StatusUnprocessableEntity},
		{CodeLLMAPIError, http.StatusServiceUnavailable},
		{CodeLLMRateLimited, http.StatusServiceUnavailable},
		{CodeDBConnectionError, http.StatusServiceUnavailable},
		{CodePromptSourceDown, http.StatusServiceUnavailable},
		{CodeLLMMalformedResponse, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.code), "code %s", tt.code)
	}
}

func TestFromPreservesWrappedError(t *testing.T) {
	original := New(CodePDFEmpty, "no text", false)
	wrapped := fmt.Errorf("ingest: %w", original)

	got := From(wrapped)
	assert.Equal(t, CodePDFEmpty, got.Code)
	assert.False(t, got.Retryable)
}

func TestFromClassifiesUnknownErrors(t *testing.T) {
	got := From(errors.New("disk on fire"))
	assert.Equal(t, CodeDBConnectionError, got.Code)
	assert.True(t, got.Retryable)
	assert.Contains(t, got.Details, "disk on fire")
}

func TestIsMatchesThroughChain(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeLLMRateLimited, "slow down", true))
	assert.True(t, Is(err, CodeLLMRateLimited))
	assert.False(t, Is(err, CodeLLMAPIError))
	assert.False(t, Is(errors.New("plain"), CodeLLMRateLimited))
}

func TestWithDetailsCopies(t *testing.T) {
	base := New(CodeValidationError, "bad input", false)
	detailed := base.WithDetails("field x")

	require.Empty(t, base.Details)
	assert.Equal(t, "field x", detailed.Details)
	assert.Contains(t, detailed.Error(), "field x")
}
