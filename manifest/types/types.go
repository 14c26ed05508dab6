package types

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// FileRecord is one output file's identity in a manifest.
type FileRecord struct {
	Size   int64  `json:"size"`
	SHA256 string `json:"sha256"`
}

// Manifest records the expected contents of an extraction output
// directory, used to validate later runs against a known-good one.
type Manifest struct {
	Archive     string                `json:"archive,omitempty"`
	GeneratedAt time.Time             `json:"generated_at"`
	Files       map[string]FileRecord `json:"files"`

	*sync.Mutex
}

// New returns an empty manifest ready for concurrent Add calls.
func New(archive string) *Manifest {
	return &Manifest{
		Archive:     archive,
		GeneratedAt: time.Now(),
		Files:       make(map[string]FileRecord),
		Mutex:       &sync.Mutex{},
	}
}

// Add records one file. Safe for concurrent use.
func (m *Manifest) Add(name string, rec FileRecord) {
	m.Lock()
	defer m.Unlock()

	m.Files[name] = rec
}

// Save writes the manifest as indented JSON.
func (m *Manifest) Save(path string) error {
	m.Lock()
	defer m.Unlock()

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.Wrap(err, "unable to marshal manifest")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return errors.Wrap(err, "unable to write manifest file")
	}

	return nil
}
