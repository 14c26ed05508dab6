package ipf_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joao-paulo-santos/ipfex/ipf"
	"github.com/joao-paulo-santos/ipfex/ipf/ipftest"
)

func sampleEntries() []ipftest.Entry {
	return []ipftest.Entry{
		{Name: "ai/monster.lua", Data: []byte("function attack() end"), Method: ipf.MethodDeflated},
		{Name: "readme.txt", Data: []byte("hello"), Method: ipf.MethodStored},
		{Name: "ui/icon.dds", Data: bytes.Repeat([]byte{0xDD, 0x5A}, 1000), Method: ipf.MethodDeflated},
	}
}

func TestParse(t *testing.T) {
	blob := ipftest.Build(sampleEntries())

	entries, err := ipf.Parse(bytes.NewReader(blob), int64(len(blob)))
	require.NoError(t, err)
	require.Len(t, entries, 3)

	for i, e := range entries {
		require.Equal(t, i, e.Index)
		require.GreaterOrEqual(t, e.CompressedSize, uint32(12))
		require.EqualValues(t, 1, e.Flags&1)
	}

	require.Equal(t, uint16(ipf.MethodDeflated), entries[0].Method)
	require.Equal(t, uint16(ipf.MethodStored), entries[1].Method)
	require.EqualValues(t, 5, entries[1].UncompressedSize)

	// Entries follow central-directory order, which the builder lays
	// out in file order.
	require.Less(t, entries[0].HeaderOffset, entries[1].HeaderOffset)
	require.Less(t, entries[1].HeaderOffset, entries[2].HeaderOffset)
}

func TestParseTruncatedEOCD(t *testing.T) {
	blob := ipftest.Build(sampleEntries())
	chopped := blob[:len(blob)-10]

	_, err := ipf.Parse(bytes.NewReader(chopped), int64(len(chopped)))
	require.Error(t, err)
	require.True(t, errors.Is(err, ipf.ErrArchiveFormat))
}

func TestParseEmptyInput(t *testing.T) {
	_, err := ipf.Parse(bytes.NewReader(nil), 0)
	require.Error(t, err)
	require.True(t, errors.Is(err, ipf.ErrArchiveFormat))
}

func TestParseGarbage(t *testing.T) {
	// Deterministic 1 MiB of junk; must error, never panic.
	junk := make([]byte, 1<<20)
	state := uint32(0x2545F491)
	for i := range junk {
		state = state*1664525 + 1013904223
		junk[i] = byte(state >> 24)
	}

	_, err := ipf.Parse(bytes.NewReader(junk), int64(len(junk)))
	require.Error(t, err)
	require.True(t, errors.Is(err, ipf.ErrArchiveFormat))
}

func TestReadEncryptedName(t *testing.T) {
	blob := ipftest.Build(sampleEntries())
	r := bytes.NewReader(blob)

	entries, err := ipf.Parse(r, int64(len(blob)))
	require.NoError(t, err)

	raw, err := ipf.ReadEncryptedName(r, entries[0])
	require.NoError(t, err)

	// The on-disk bytes are ciphertext...
	require.NotEqual(t, "ai/monster.lua", string(raw))

	// ...and decrypt back to the original path.
	require.Equal(t, "ai/monster.lua", string(ipf.DecryptName(raw)))
}

func TestReadEncryptedNameZeroLength(t *testing.T) {
	blob := ipftest.Build([]ipftest.Entry{
		{Name: "", Data: []byte("payload without a name"), Method: ipf.MethodStored},
	})
	r := bytes.NewReader(blob)

	entries, err := ipf.Parse(r, int64(len(blob)))
	require.NoError(t, err)

	_, err = ipf.ReadEncryptedName(r, entries[0])
	require.Error(t, err)
	require.True(t, errors.Is(err, ipf.ErrUnsupportedEntry))
}
