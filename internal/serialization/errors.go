package serialization

import (
	"fmt"

	"github.com/pkg/errors"
)

// Common errors.
var (
	ErrShortBuffer   = errors.New("unexpected end of data")
	ErrTrailingBytes = errors.New("trailing bytes after last field")
	ErrInvalidValue  = errors.New("invalid encoded value")
)

// DecodeError provides detailed information about decoding failures.
type DecodeError struct {
	Field   string // Field being decoded
	Offset  int    // Byte offset of the field
	Details string // Additional details
	Err     error  // One of the sentinel errors above
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%v: field %q at offset %d: %s", e.Err, e.Field, e.Offset, e.Details)
	}
	return fmt.Sprintf("%v at offset %d: %s", e.Err, e.Offset, e.Details)
}

// Unwrap returns the sentinel error.
func (e *DecodeError) Unwrap() error { return e.Err }
