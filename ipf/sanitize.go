package ipf

import (
	"fmt"
	"strings"
)

// SafeName maps a decoded filename onto a filesystem-safe leaf name. The
// extractor flattens the archive's internal paths into one directory, so
// '/' is replaced like any other unsafe character. Returns "" when nothing
// safe remains; the caller then uses SyntheticName.
func SafeName(decoded string) string {
	var b strings.Builder
	b.Grow(len(decoded))

	lastUnderscore := false
	for _, r := range decoded {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			// Runs of unsafe characters (and literal '_') collapse to
			// a single '_'.
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	return strings.Trim(b.String(), "_.")
}

// SyntheticName is the fallback for entries whose filename cannot be
// recovered: file_NNNN.bin, zero-padded with the entry index.
func SyntheticName(index int) string {
	return fmt.Sprintf("file_%04d.bin", index)
}
