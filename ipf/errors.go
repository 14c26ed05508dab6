package ipf

import "github.com/pkg/errors"

// Base errors for the failure classes in this package. Callers classify
// with errors.Is; call-site context is layered on with pkg/errors wrapping.
var (
	// ErrArchiveFormat covers missing/bad signatures and truncated
	// structures. Fatal when it comes from the central directory,
	// per-entry when it comes from a local header or payload.
	ErrArchiveFormat = errors.New("ipf: not a valid archive")

	// ErrUnsupportedEntry covers compression methods other than stored
	// and deflated, and filename length fields out of range.
	ErrUnsupportedEntry = errors.New("ipf: unsupported entry")

	// ErrDecode means inflate failed - a corrupt payload, or an archive
	// encrypted under a different key.
	ErrDecode = errors.New("ipf: corrupt compressed stream")

	// ErrCancelled is returned when the caller's context is done before
	// all entries were processed.
	ErrCancelled = errors.New("ipf: extraction cancelled")
)
