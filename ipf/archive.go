package ipf

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/pkg/errors"
)

const (
	sigEOCD    = 0x06054B50
	sigCentral = 0x02014B50
	sigLocal   = 0x04034B50

	eocdLen    = 22
	centralLen = 46
	localLen   = 30

	// EOCD may be followed by up to a 65535-byte comment.
	maxEOCDScan = eocdLen + 65535

	// MaxNameLen bounds the local-header filename length field. Entries
	// outside (0, MaxNameLen] degrade to a synthetic name.
	MaxNameLen = 512

	// The only compression methods the container uses.
	MethodStored   = 0
	MethodDeflated = 8
)

// Entry is one central-directory record. Immutable once parsed. The
// central-directory filename is deliberately not retained: it is garbage
// in this format, and usable names come from local headers instead.
type Entry struct {
	Index            int
	Method           uint16
	Flags            uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	HeaderOffset     int64
}

// Archive is a parsed IPF container. The backing file is addressed by
// offset only (ReadAt, never Seek), so the handle may be shared across
// goroutines; workers that want their own descriptor reopen Path.
type Archive struct {
	Path    string
	Size    int64
	Entries []Entry

	f *os.File
}

// Open opens the archive at path and parses its central directory.
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening archive")
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrap(err, "stat archive")
	}

	entries, err := Parse(f, info.Size())
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Archive{
		Path:    path,
		Size:    info.Size(),
		Entries: entries,
		f:       f,
	}, nil
}

func (a *Archive) Close() error {
	return a.f.Close()
}

// ReaderAt exposes the archive's own handle for positional reads.
func (a *Archive) ReaderAt() io.ReaderAt {
	return a.f
}

// Parse reads the central directory and returns the entry table in
// directory order.
func Parse(r io.ReaderAt, size int64) ([]Entry, error) {
	eocdOffset, eocd, err := findEOCD(r, size)
	if err != nil {
		return nil, err
	}

	count := int(binary.LittleEndian.Uint16(eocd[10:]))
	dirSize := int64(binary.LittleEndian.Uint32(eocd[12:]))
	dirOffset := int64(binary.LittleEndian.Uint32(eocd[16:]))

	if dirOffset < 0 || dirOffset > eocdOffset || dirOffset+dirSize > eocdOffset {
		return nil, errors.Wrap(ErrArchiveFormat, "central directory out of bounds")
	}

	// Like the stdlib, don't trust the stated directory size further than
	// the gap between its offset and the EOCD.
	dir := make([]byte, eocdOffset-dirOffset)
	if _, err := r.ReadAt(dir, dirOffset); err != nil {
		return nil, errors.Wrap(ErrArchiveFormat, "reading central directory")
	}

	entries := make([]Entry, 0, count)
	for i := 0; i < count; i++ {
		if len(dir) < centralLen {
			return nil, errors.Wrap(ErrArchiveFormat, "truncated central directory")
		}
		if binary.LittleEndian.Uint32(dir[:4]) != sigCentral {
			return nil, errors.Wrap(ErrArchiveFormat, "bad central directory signature")
		}

		e := Entry{
			Index:            i,
			Flags:            binary.LittleEndian.Uint16(dir[8:]),
			Method:           binary.LittleEndian.Uint16(dir[10:]),
			CRC32:            binary.LittleEndian.Uint32(dir[16:]),
			CompressedSize:   binary.LittleEndian.Uint32(dir[20:]),
			UncompressedSize: binary.LittleEndian.Uint32(dir[24:]),
			HeaderOffset:     int64(binary.LittleEndian.Uint32(dir[42:])),
		}

		nameLen := int(binary.LittleEndian.Uint16(dir[28:]))
		extraLen := int(binary.LittleEndian.Uint16(dir[30:]))
		commentLen := int(binary.LittleEndian.Uint16(dir[32:]))

		if len(dir) < centralLen+nameLen+extraLen+commentLen {
			return nil, errors.Wrap(ErrArchiveFormat, "truncated central directory record")
		}
		dir = dir[centralLen+nameLen+extraLen+commentLen:]

		if e.HeaderOffset+localLen > size {
			return nil, errors.Wrapf(ErrArchiveFormat, "entry %d local header offset beyond archive end", i)
		}

		entries = append(entries, e)
	}

	return entries, nil
}

// findEOCD scans backward from end-of-file for the EOCD signature,
// covering at most the maximum comment length.
func findEOCD(r io.ReaderAt, size int64) (int64, []byte, error) {
	if size < eocdLen {
		return 0, nil, errors.Wrap(ErrArchiveFormat, "archive smaller than end-of-central-directory record")
	}

	scan := int64(maxEOCDScan)
	if scan > size {
		scan = size
	}

	buf := make([]byte, scan)
	if _, err := r.ReadAt(buf, size-scan); err != nil {
		return 0, nil, errors.Wrap(ErrArchiveFormat, "reading archive tail")
	}

	for i := len(buf) - eocdLen; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) == sigEOCD {
			return size - scan + int64(i), buf[i : i+eocdLen], nil
		}
	}

	return 0, nil, errors.Wrap(ErrArchiveFormat, "end of central directory not found")
}

// ReadEncryptedName reads the entry's local header and returns the raw
// filename ciphertext. Filenames carry no 12-byte encryption header.
func ReadEncryptedName(r io.ReaderAt, e Entry) ([]byte, error) {
	nameLen, _, err := readLocalLengths(r, e)
	if err != nil {
		return nil, err
	}

	if nameLen == 0 || nameLen > MaxNameLen {
		return nil, errors.Wrapf(ErrUnsupportedEntry, "entry %d filename length %d out of range", e.Index, nameLen)
	}

	name := make([]byte, nameLen)
	if _, err := r.ReadAt(name, e.HeaderOffset+localLen); err != nil {
		return nil, errors.Wrapf(ErrArchiveFormat, "entry %d truncated filename field", e.Index)
	}

	return name, nil
}

// PayloadSection returns a reader over the entry's raw ciphertext payload,
// which starts after the local header's variable-length fields.
func PayloadSection(r io.ReaderAt, e Entry) (*io.SectionReader, error) {
	nameLen, extraLen, err := readLocalLengths(r, e)
	if err != nil {
		return nil, err
	}

	offset := e.HeaderOffset + localLen + nameLen + extraLen
	return io.NewSectionReader(r, offset, int64(e.CompressedSize)), nil
}

func readLocalLengths(r io.ReaderAt, e Entry) (nameLen, extraLen int64, err error) {
	var hdr [localLen]byte
	if _, err := r.ReadAt(hdr[:], e.HeaderOffset); err != nil {
		return 0, 0, errors.Wrapf(ErrArchiveFormat, "entry %d truncated local header", e.Index)
	}

	if binary.LittleEndian.Uint32(hdr[:4]) != sigLocal {
		return 0, 0, errors.Wrapf(ErrArchiveFormat, "entry %d bad local header signature", e.Index)
	}

	nameLen = int64(binary.LittleEndian.Uint16(hdr[26:]))
	extraLen = int64(binary.LittleEndian.Uint16(hdr[28:]))

	return nameLen, extraLen, nil
}
