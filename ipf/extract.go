package ipf

import (
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

const (
	// Every encrypted payload starts with 12 bytes of encryption header
	// that are decrypted and thrown away.
	encryptHeaderLen = 12

	// Large copy buffer to keep syscall counts down on archives with
	// thousands of small textures.
	copyBufferSize = 64 * 1024
)

// decryptReader streams ciphertext through a per-entry cipher.
type decryptReader struct {
	r io.Reader
	c *Cipher
}

func (d *decryptReader) Read(p []byte) (int, error) {
	n, err := d.r.Read(p)
	d.c.Decrypt(p[:n])
	return n, err
}

// ExtractEntry decrypts and decompresses one entry into w, returning the
// number of plaintext bytes written. A CRC-32 mismatch against the central
// directory is passed to onWarn (may be nil) and never fails the entry;
// the original tooling behaves the same way.
func ExtractEntry(r io.ReaderAt, e Entry, w io.Writer, onWarn func(error)) (int64, error) {
	if e.Method != MethodStored && e.Method != MethodDeflated {
		return 0, errors.Wrapf(ErrUnsupportedEntry, "entry %d compression method %d", e.Index, e.Method)
	}
	if e.CompressedSize < encryptHeaderLen {
		return 0, errors.Wrapf(ErrArchiveFormat, "entry %d payload shorter than encryption header", e.Index)
	}

	sec, err := PayloadSection(r, e)
	if err != nil {
		return 0, err
	}

	c := NewCipher()

	var hdr [encryptHeaderLen]byte
	if _, err := io.ReadFull(sec, hdr[:]); err != nil {
		return 0, errors.Wrapf(ErrArchiveFormat, "entry %d truncated encryption header", e.Index)
	}
	c.Decrypt(hdr[:])

	var src io.Reader = &decryptReader{r: sec, c: c}
	if e.Method == MethodDeflated {
		// Raw DEFLATE; the container uses no zlib or gzip framing.
		fr := flate.NewReader(src)
		defer fr.Close()
		src = fr
	}

	sum := crc32.NewIEEE()
	buf := make([]byte, copyBufferSize)
	n, err := io.CopyBuffer(w, io.TeeReader(src, sum), buf)
	if err != nil {
		var corrupt flate.CorruptInputError
		switch {
		case errors.As(err, &corrupt):
			return n, errors.Wrapf(ErrDecode, "entry %d: %v", e.Index, err)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return n, errors.Wrapf(ErrArchiveFormat, "entry %d truncated payload", e.Index)
		default:
			return n, errors.Wrapf(err, "writing entry %d", e.Index)
		}
	}

	// Stored payloads can hit a clean EOF early when the archive is
	// shorter than the directory claims; inflate catches this itself.
	if e.Method == MethodStored && n != int64(e.CompressedSize-encryptHeaderLen) {
		return n, errors.Wrapf(ErrArchiveFormat, "entry %d truncated payload", e.Index)
	}

	if sum.Sum32() != e.CRC32 && onWarn != nil {
		onWarn(errors.Errorf("entry %d crc mismatch: directory %08x, data %08x", e.Index, e.CRC32, sum.Sum32()))
	}

	return n, nil
}
