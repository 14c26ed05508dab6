// Package manifest generates and verifies SHA-256 manifests of extraction
// output directories, so a run can be checked against a known-good
// reference without keeping the reference tree around.
package manifest

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/joao-paulo-santos/ipfex/manifest/types"
	"github.com/joao-paulo-santos/ipfex/validate"
)

// Generate hashes every regular file directly under dir (extraction output
// is flat) using a bounded worker pool.
func Generate(dir, archive string, workers int) (*types.Manifest, error) {
	if workers < 1 {
		workers = 1
	}

	dirents, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read output directory")
	}

	names := make([]string, 0, len(dirents))
	for _, de := range dirents {
		if de.Type().IsRegular() {
			names = append(names, de.Name())
		}
	}

	logrus.WithField("pkg", "manifest").Debugf("hashing %d files with %d workers", len(names), workers)

	m := types.New(archive)

	var (
		wg    sync.WaitGroup
		errMu sync.Mutex
	)

	var firstErr error
	taskCh := make(chan string)

	for i := 0; i < workers; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for name := range taskCh {
				rec, err := hashFile(filepath.Join(dir, name))
				if err != nil {
					errMu.Lock()
					if firstErr == nil {
						firstErr = errors.Wrapf(err, "hashing %s", name)
					}
					errMu.Unlock()

					continue
				}

				m.Add(name, rec)
			}
		}()
	}

	for _, name := range names {
		taskCh <- name
	}
	close(taskCh)

	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}

	return m, nil
}

// Load reads and validates a manifest file.
func Load(path string) (*types.Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to read manifest file")
	}

	m := &types.Manifest{
		Mutex: &sync.Mutex{},
	}

	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.Wrap(err, "unable to unmarshal manifest file")
	}

	if err := validate.Manifest(m); err != nil {
		return nil, errors.Wrap(err, "failed manifest validation")
	}

	// Re-create mutex
	m.Mutex = &sync.Mutex{}

	return m, nil
}

// Diff is the result of verifying a directory against a manifest.
type Diff struct {
	Missing    []string // in the manifest, not on disk
	Extra      []string // on disk, not in the manifest
	Mismatched []string // present but wrong size or hash
}

// Empty reports whether the directory matched the manifest exactly.
func (d *Diff) Empty() bool {
	return len(d.Missing) == 0 && len(d.Extra) == 0 && len(d.Mismatched) == 0
}

// Verify hashes dir and compares it against m.
func Verify(m *types.Manifest, dir string, workers int) (*Diff, error) {
	current, err := Generate(dir, m.Archive, workers)
	if err != nil {
		return nil, err
	}

	diff := &Diff{}

	for name, want := range m.Files {
		got, ok := current.Files[name]
		switch {
		case !ok:
			diff.Missing = append(diff.Missing, name)
		case got != want:
			diff.Mismatched = append(diff.Mismatched, name)
		}
	}

	for name := range current.Files {
		if _, ok := m.Files[name]; !ok {
			diff.Extra = append(diff.Extra, name)
		}
	}

	sort.Strings(diff.Missing)
	sort.Strings(diff.Extra)
	sort.Strings(diff.Mismatched)

	return diff, nil
}

func hashFile(path string) (types.FileRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return types.FileRecord{}, err
	}
	defer f.Close()

	h := sha256.New()

	size, err := io.Copy(h, f)
	if err != nil {
		return types.FileRecord{}, err
	}

	return types.FileRecord{
		Size:   size,
		SHA256: hex.EncodeToString(h.Sum(nil)),
	}, nil
}
