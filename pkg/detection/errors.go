package detection

import (
	"errors"
	"fmt"
)

// Sentinel errors
var (
	ErrUnsupportedRequest = errors.New("detection: unsupported request")
	ErrModelNotFound      = errors.New("detection: model file not found")
	ErrClosed             = errors.New("detection: service closed")
)

// DetectionError is a failed detection of one frame.
type DetectionError struct {
	Seq uint64
	Err error
}

func (e *DetectionError) Error() string {
	return fmt.Sprintf("detection failed for frame %d: %v", e.Seq, e.Err)
}

func (e *DetectionError) Unwrap() error {
	return e.Err
}
