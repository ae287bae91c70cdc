package media

import (
	"errors"
	"fmt"
)

var (
	// ErrNoFileProvided indicates the inbound message carried no file.
	ErrNoFileProvided = errors.New("no file provided")
	// ErrUnsupportedType indicates the file category has no configured policy.
	ErrUnsupportedType = errors.New("unsupported file type")
	// ErrSizeLimitExceeded indicates the payload exceeds the category size limit.
	ErrSizeLimitExceeded = errors.New("file size limit exceeded")
	// ErrDownloadFailed indicates the source file could not be fetched from the transport.
	ErrDownloadFailed = errors.New("download failed")
	// ErrProcessingFailed indicates a stripper could not produce a clean artifact.
	ErrProcessingFailed = errors.New("processing failed")
	// ErrUnsupportedForProcessing indicates no stripper exists for a validated category.
	ErrUnsupportedForProcessing = errors.New("unsupported for processing")
	// ErrPathTraversal indicates a staging name attempted directory traversal.
	ErrPathTraversal = errors.New("path traversal is forbidden")
)

// PolicyError is a user-caused rejection. Reason is one of ErrNoFileProvided,
// ErrUnsupportedType or ErrSizeLimitExceeded.
type PolicyError struct {
	Reason   error
	Category Category
	ActualMB float64
	LimitMB  float64
}

func (e *PolicyError) Error() string {
	switch {
	case errors.Is(e.Reason, ErrSizeLimitExceeded):
		return fmt.Sprintf("%s: %s is %.2f MB, limit %.2f MB", e.Reason, e.Category, e.ActualMB, e.LimitMB)
	case e.Category != "":
		return fmt.Sprintf("%s: %s", e.Reason, e.Category)
	default:
		return e.Reason.Error()
	}
}

func (e *PolicyError) Unwrap() error {
	return e.Reason
}

// ProcessingError wraps a stripper failure. The detail is for operators only.
type ProcessingError struct {
	Category Category
	Op       string
	Err      error
}

func (e *ProcessingError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("process %s: %v", e.Category, e.Err)
	}
	return fmt.Sprintf("process %s: %s: %v", e.Category, e.Op, e.Err)
}

func (e *ProcessingError) Unwrap() []error {
	return []error{ErrProcessingFailed, e.Err}
}

func processingError(category Category, op string, err error) error {
	return &ProcessingError{Category: category, Op: op, Err: err}
}
