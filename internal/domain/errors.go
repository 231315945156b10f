// Package domain holds the error taxonomy shared by the archive engine.
package domain

import (
	"errors"
	"fmt"
)

// ErrorType classifies a DomainError.
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeRender     ErrorType = "render"
	ErrorTypeOCR        ErrorType = "ocr"
	ErrorTypeExtraction ErrorType = "extraction"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeStorage    ErrorType = "storage"
)

// Sentinel errors matched with errors.Is at the boundaries.
var (
	// ErrCatalogueExtractionFailed means the parser never produced a usable mapping.
	ErrCatalogueExtractionFailed = errors.New("catalogue extraction failed")
	// ErrEmptyCatalogue means the mapping parsed but held no usable entries.
	ErrEmptyCatalogue = errors.New("catalogue is empty")
	// ErrNoText means OCR produced no text for any page of a batch.
	ErrNoText = errors.New("no text recognized")
	// ErrRangeSkipped means a page range could not be turned into a document.
	ErrRangeSkipped = errors.New("page range skipped")
	// ErrTaskNotFound means the task id is unknown or already evicted.
	ErrTaskNotFound = errors.New("task not found")
	// ErrCatalogueNotFound means no catalogue artifact exists for a source.
	ErrCatalogueNotFound = errors.New("catalogue artifact not found")
)

// DomainError carries a classified, human readable failure.
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func newError(t ErrorType, msg string, err error) *DomainError {
	return &DomainError{Type: t, Message: msg, Err: err}
}

func ValidationError(msg string, err error) *DomainError { return newError(ErrorTypeValidation, msg, err) }
func RenderError(msg string, err error) *DomainError     { return newError(ErrorTypeRender, msg, err) }
func OCRError(msg string, err error) *DomainError        { return newError(ErrorTypeOCR, msg, err) }
func ExtractionError(msg string, err error) *DomainError { return newError(ErrorTypeExtraction, msg, err) }
func APIError(msg string, err error) *DomainError        { return newError(ErrorTypeAPI, msg, err) }
func ConfigError(msg string, err error) *DomainError     { return newError(ErrorTypeConfig, msg, err) }
func IOError(msg string, err error) *DomainError         { return newError(ErrorTypeIO, msg, err) }
func StorageError(msg string, err error) *DomainError    { return newError(ErrorTypeStorage, msg, err) }

// IsType reports whether err is (or wraps) a DomainError of type t.
func IsType(err error, t ErrorType) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type == t
	}
	return false
}
