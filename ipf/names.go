package ipf

import (
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
)

// DecryptName decrypts local-header filename ciphertext with a fresh
// cipher. Unlike payloads, filenames carry no 12-byte encryption header.
func DecryptName(raw []byte) []byte {
	plain := make([]byte, len(raw))
	copy(plain, raw)
	NewCipher().Decrypt(plain)
	return plain
}

// The archives mix Western-ASCII paths with Japanese asset paths. Decoders
// are tried strictly in order and the first accepted result wins; trying
// UTF-8 first keeps valid UTF-8 from being mistaken for Latin-1 garbage,
// and the printability filter keeps Latin-1 from accepting high-bit noise.
type nameDecoder struct {
	name   string
	decode func([]byte) (string, bool)
	accept func(string) bool
}

var nameDecoders = []nameDecoder{
	{"utf-8", decodeUTF8, printableASCII},
	{"latin-1", decodeWith(charmap.ISO8859_1), printableASCII},
	{"cp1252", decodeWith(charmap.Windows1252), printableASCII},
	{"ascii", decodeASCII, printableASCII},
}

// DecodeName turns decrypted filename bytes into text. It returns false
// when no decoder accepts the bytes, in which case the caller falls back
// to a synthetic name.
func DecodeName(plain []byte) (string, bool) {
	for _, d := range nameDecoders {
		if s, ok := d.decode(plain); ok && d.accept(s) {
			return s, true
		}
	}

	// Shift-JIS fallback for Japanese asset paths. Lossy: invalid
	// sequences decode to U+FFFD and the length heuristic decides.
	if s, ok := decodeWith(japanese.ShiftJIS)(plain); ok && utf8.RuneCountInString(s) > 1 {
		return s, true
	}

	return "", false
}

// printableASCII reports whether every rune is printable ASCII
// (0x20..0x7E; path punctuation like '/', '.', '_' and '-' is inside
// that range).
func printableASCII(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < 0x20 || r > 0x7E {
			return false
		}
	}
	return true
}

func decodeUTF8(b []byte) (string, bool) {
	if !utf8.Valid(b) {
		return "", false
	}
	return string(b), true
}

func decodeASCII(b []byte) (string, bool) {
	for _, c := range b {
		if c >= 0x80 {
			return "", false
		}
	}
	return string(b), true
}

func decodeWith(enc encoding.Encoding) func([]byte) (string, bool) {
	return func(b []byte) (string, bool) {
		out, err := enc.NewDecoder().Bytes(b)
		if err != nil {
			return "", false
		}
		return string(out), true
	}
}
