package validate

import (
	"github.com/pkg/errors"

	"github.com/joao-paulo-santos/ipfex/manifest/types"
)

func Manifest(m *types.Manifest) error {
	if m == nil {
		return errors.New("manifest is nil")
	}

	if m.Files == nil {
		return errors.New("manifest has no file table")
	}

	for name, rec := range m.Files {
		if name == "" {
			return errors.New("manifest contains an empty file name")
		}

		if rec.Size < 0 {
			return errors.Errorf("manifest entry '%s' has negative size", name)
		}

		if len(rec.SHA256) != 64 {
			return errors.Errorf("manifest entry '%s' has malformed sha256", name)
		}
	}

	return nil
}
