package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError_WrapsSentinel(t *testing.T) {
	err := ExtractionError("parser gave up after 2 attempts", ErrCatalogueExtractionFailed)
	wrapped := fmt.Errorf("extract catalogue: %w", err)

	assert.True(t, errors.Is(wrapped, ErrCatalogueExtractionFailed))
	assert.True(t, IsType(wrapped, ErrorTypeExtraction))
	assert.False(t, IsType(wrapped, ErrorTypeValidation))
	assert.Equal(t, "extraction: parser gave up after 2 attempts: catalogue extraction failed", err.Error())
}

func TestDomainError_NoCause(t *testing.T) {
	err := ValidationError("content page must be >= 1", nil)
	assert.Equal(t, "validation: content page must be >= 1", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}

func TestIsType_PlainError(t *testing.T) {
	assert.False(t, IsType(errors.New("boom"), ErrorTypeIO))
}
