package extractor_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joao-paulo-santos/ipfex/extractor"
	"github.com/joao-paulo-santos/ipfex/ipf"
	"github.com/joao-paulo-santos/ipfex/ipf/ipftest"
)

func writeArchive(t *testing.T, entries []ipftest.Entry) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.ipf")
	require.NoError(t, os.WriteFile(path, ipftest.Build(entries), 0644))

	return path
}

func hashDir(t *testing.T, dir string) map[string]string {
	t.Helper()

	out := make(map[string]string)

	dirents, err := os.ReadDir(dir)
	require.NoError(t, err)

	for _, de := range dirents {
		require.True(t, de.Type().IsRegular())

		data, err := os.ReadFile(filepath.Join(dir, de.Name()))
		require.NoError(t, err)

		sum := sha256.Sum256(data)
		out[de.Name()] = hex.EncodeToString(sum[:])
	}

	return out
}

func mixedEntries() []ipftest.Entry {
	return []ipftest.Entry{
		{Name: "ai/dilos_lion.lua", Data: []byte("function idle() return true end"), Method: ipf.MethodDeflated},
		{Name: "config.xml", Data: []byte("<root/>"), Method: ipf.MethodStored},
		// "素材.dds" in cp932.
		{Name: string([]byte{0x91, 0x66, 0x8D, 0xDE, '.', 'd', 'd', 's'}), Data: []byte{1, 2, 3, 4}, Method: ipf.MethodDeflated},
		{Name: "ui/icon/sword.dds", Data: []byte("DDS |fake texture data"), Method: ipf.MethodDeflated},
	}
}

func TestRunSequential(t *testing.T) {
	archive := writeArchive(t, mixedEntries())
	outDir := filepath.Join(t.TempDir(), "out")

	report, err := extractor.Extract(context.Background(), archive, outDir, extractor.Options{Workers: 1})
	require.NoError(t, err)

	require.Equal(t, 4, report.TotalEntries)
	require.Equal(t, 4, report.ExtractedEntries)
	require.Equal(t, 0, report.FailedEntries)

	data, err := os.ReadFile(filepath.Join(outDir, "ai_dilos_lion.lua"))
	require.NoError(t, err)
	require.Equal(t, "function idle() return true end", string(data))

	data, err = os.ReadFile(filepath.Join(outDir, "config.xml"))
	require.NoError(t, err)
	require.Equal(t, "<root/>", string(data))
}

func TestRunDeterministicAcrossWorkerCounts(t *testing.T) {
	archive := writeArchive(t, mixedEntries())

	dir1 := filepath.Join(t.TempDir(), "w1")
	dir8 := filepath.Join(t.TempDir(), "w8")

	r1, err := extractor.Extract(context.Background(), archive, dir1, extractor.Options{Workers: 1})
	require.NoError(t, err)

	r8, err := extractor.Extract(context.Background(), archive, dir8, extractor.Options{Workers: 8})
	require.NoError(t, err)

	require.Equal(t, r1.ExtractedEntries, r8.ExtractedEntries)
	require.Equal(t, hashDir(t, dir1), hashDir(t, dir8))
}

func TestRunCollisionSuffixes(t *testing.T) {
	entries := []ipftest.Entry{
		{Name: "a/x.dds", Data: []byte("first"), Method: ipf.MethodStored},
		{Name: "a?x.dds", Data: []byte("second"), Method: ipf.MethodStored},
	}
	archive := writeArchive(t, entries)

	for _, workers := range []int{1, 4} {
		outDir := filepath.Join(t.TempDir(), "out")

		report, err := extractor.Extract(context.Background(), archive, outDir, extractor.Options{Workers: workers})
		require.NoError(t, err)
		require.Equal(t, 2, report.ExtractedEntries)

		// Both decode to the safe name a_x.dds; the lower index keeps
		// it and the next gets the _1 suffix, at any worker count.
		first, err := os.ReadFile(filepath.Join(outDir, "a_x.dds"))
		require.NoError(t, err)
		require.Equal(t, "first", string(first))

		second, err := os.ReadFile(filepath.Join(outDir, "a_x_1.dds"))
		require.NoError(t, err)
		require.Equal(t, "second", string(second))
	}
}

func TestRunZeroLengthFilename(t *testing.T) {
	entries := []ipftest.Entry{
		{Name: "", Data: []byte("nameless payload"), Method: ipf.MethodStored},
		{Name: "named.txt", Data: []byte("named payload"), Method: ipf.MethodStored},
	}
	archive := writeArchive(t, entries)
	outDir := filepath.Join(t.TempDir(), "out")

	report, err := extractor.Extract(context.Background(), archive, outDir, extractor.Options{Workers: 2})
	require.NoError(t, err)
	require.Equal(t, 2, report.ExtractedEntries)
	require.Equal(t, 0, report.FailedEntries)

	data, err := os.ReadFile(filepath.Join(outDir, "file_0000.bin"))
	require.NoError(t, err)
	require.Equal(t, "nameless payload", string(data))

	data, err = os.ReadFile(filepath.Join(outDir, "named.txt"))
	require.NoError(t, err)
	require.Equal(t, "named payload", string(data))
}

func TestRunCancelled(t *testing.T) {
	archive := writeArchive(t, mixedEntries())
	outDir := filepath.Join(t.TempDir(), "out")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := extractor.Extract(ctx, archive, outDir, extractor.Options{Workers: 2})
	require.Error(t, err)
	require.True(t, errors.Is(err, ipf.ErrCancelled))
}

type recordingSink struct {
	mu     sync.Mutex
	phases map[string]int // phase -> highest current seen
}

func (r *recordingSink) Report(current, total int, phase string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phases == nil {
		r.phases = make(map[string]int)
	}
	if current > r.phases[phase] {
		r.phases[phase] = current
	}
}

func TestRunReportsProgressToSink(t *testing.T) {
	archive := writeArchive(t, mixedEntries())
	outDir := filepath.Join(t.TempDir(), "out")

	sink := &recordingSink{}

	_, err := extractor.Extract(context.Background(), archive, outDir, extractor.Options{
		Workers:  2,
		Progress: sink,
	})
	require.NoError(t, err)

	require.Equal(t, 4, sink.phases[extractor.PhaseNames])
	require.Equal(t, 4, sink.phases[extractor.PhaseExtract])
}

func TestNewRejectsGarbageArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.ipf")
	require.NoError(t, os.WriteFile(path, []byte("this is not an archive, not even close"), 0644))

	outDir := filepath.Join(t.TempDir(), "never-created")

	_, err := extractor.New(path, outDir, extractor.Options{})
	require.Error(t, err)
	require.True(t, errors.Is(err, ipf.ErrArchiveFormat))

	// Fatal archive errors must not leave an output directory behind.
	_, statErr := os.Stat(outDir)
	require.True(t, os.IsNotExist(statErr))
}

func TestDefaultWorkers(t *testing.T) {
	w := extractor.DefaultWorkers()
	require.GreaterOrEqual(t, w, 1)
	require.LessOrEqual(t, w, 8)
}
