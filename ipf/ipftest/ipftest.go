// Package ipftest builds synthetic IPF containers in memory so tests can
// exercise the full decrypt/inflate pipeline without checked-in fixtures.
package ipftest

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/klauspost/compress/flate"

	"github.com/joao-paulo-santos/ipfex/ipf"
)

// Entry describes one member of a synthetic archive.
type Entry struct {
	// Name is the plaintext filename stored encrypted in the local
	// header. An empty name produces a zero filename-length field.
	Name   string
	Data   []byte
	Method uint16 // ipf.MethodStored or ipf.MethodDeflated

	// BadCRC stores a flipped CRC in the headers to exercise the
	// mismatch warning path.
	BadCRC bool
}

type placed struct {
	method   uint16
	offset   uint32
	crc      uint32
	nameEnc  []byte
	packed   uint32
	unpacked uint32
}

// Build assembles an archive: ZIP layout, every name and payload run
// through the traditional cipher, 12-byte encryption header on payloads
// only.
func Build(entries []Entry) []byte {
	var out bytes.Buffer

	placements := make([]placed, 0, len(entries))

	for i, e := range entries {
		crc := crc32.ChecksumIEEE(e.Data)

		compressed := e.Data
		if e.Method == ipf.MethodDeflated {
			var cb bytes.Buffer
			fw, err := flate.NewWriter(&cb, flate.DefaultCompression)
			if err != nil {
				panic(err)
			}
			if _, err := fw.Write(e.Data); err != nil {
				panic(err)
			}
			if err := fw.Close(); err != nil {
				panic(err)
			}
			compressed = cb.Bytes()
		}

		// 11 filler bytes plus the PKWARE check byte (high byte of the
		// CRC), then the compressed data, encrypted as one stream.
		payload := make([]byte, 0, 12+len(compressed))
		for j := 0; j < 11; j++ {
			payload = append(payload, byte(i+j))
		}
		payload = append(payload, byte(crc>>24))
		payload = append(payload, compressed...)
		ipf.NewCipher().Encrypt(payload)

		nameEnc := []byte(e.Name)
		ipf.NewCipher().Encrypt(nameEnc)

		if e.BadCRC {
			crc = ^crc
		}

		p := placed{
			method:   e.Method,
			offset:   uint32(out.Len()),
			crc:      crc,
			nameEnc:  nameEnc,
			packed:   uint32(len(payload)),
			unpacked: uint32(len(e.Data)),
		}
		placements = append(placements, p)

		writeLocalHeader(&out, p)
		out.Write(nameEnc)
		out.Write(payload)
	}

	dirOffset := uint32(out.Len())
	for _, p := range placements {
		writeCentralHeader(&out, p)
	}
	dirSize := uint32(out.Len()) - dirOffset

	writeEOCD(&out, uint16(len(placements)), dirSize, dirOffset)

	return out.Bytes()
}

func writeLocalHeader(out *bytes.Buffer, p placed) {
	le16 := func(v uint16) { binary.Write(out, binary.LittleEndian, v) }
	le32 := func(v uint32) { binary.Write(out, binary.LittleEndian, v) }

	le32(0x04034B50)
	le16(20) // version needed
	le16(1)  // flags: traditional encryption
	le16(p.method)
	le16(0) // mod time
	le16(0) // mod date
	le32(p.crc)
	le32(p.packed)
	le32(p.unpacked)
	le16(uint16(len(p.nameEnc)))
	le16(0) // extra length
}

func writeCentralHeader(out *bytes.Buffer, p placed) {
	le16 := func(v uint16) { binary.Write(out, binary.LittleEndian, v) }
	le32 := func(v uint32) { binary.Write(out, binary.LittleEndian, v) }

	le32(0x02014B50)
	le16(20) // version made by
	le16(20) // version needed
	le16(1)  // flags
	le16(p.method)
	le16(0) // mod time
	le16(0) // mod date
	le32(p.crc)
	le32(p.packed)
	le32(p.unpacked)
	le16(uint16(len(p.nameEnc)))
	le16(0) // extra length
	le16(0) // comment length
	le16(0) // disk number
	le16(0) // internal attrs
	le32(0) // external attrs
	le32(p.offset)

	// Central names are the same ciphertext as the local header's; real
	// archives carry equally unusable bytes here.
	out.Write(p.nameEnc)
}

func writeEOCD(out *bytes.Buffer, count uint16, dirSize, dirOffset uint32) {
	le16 := func(v uint16) { binary.Write(out, binary.LittleEndian, v) }
	le32 := func(v uint32) { binary.Write(out, binary.LittleEndian, v) }

	le32(0x06054B50)
	le16(0) // disk number
	le16(0) // central directory disk
	le16(count)
	le16(count)
	le32(dirSize)
	le32(dirOffset)
	le16(0) // comment length
}
