package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexUnavailable marks transport failures and non-2xx index responses.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrIndexSchemaMismatch marks index responses that do not decode into the
	// expected shape or lack a required key.
	ErrIndexSchemaMismatch = errors.New("index schema mismatch")
)

// IndexError describes a failed index API call.
type IndexError struct {
	// Op names the index call, e.g. "subGroupsList".
	Op         string
	URL        string
	StatusCode int
	// Kind is ErrIndexUnavailable or ErrIndexSchemaMismatch.
	Kind error
	Err  error
}

func (e *IndexError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Kind)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the classification and the cause to errors.Is/As.
func (e *IndexError) Unwrap() []error {
	out := []error{e.Kind}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// Unavailable builds an IndexError classified as ErrIndexUnavailable.
func Unavailable(op, url string, status int, err error) *IndexError {
	return &IndexError{Op: op, URL: url, StatusCode: status, Kind: ErrIndexUnavailable, Err: err}
}

// SchemaMismatch builds an IndexError classified as ErrIndexSchemaMismatch.
func SchemaMismatch(op, url string, err error) *IndexError {
	return &IndexError{Op: op, URL: url, Kind: ErrIndexSchemaMismatch, Err: err}
}
