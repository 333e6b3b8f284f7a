package utils

import (
	"github.com/spf13/afero"
)

// Dependency injection for Afero
type Fs afero.Fs

type File afero.File

// Location of an in-memory filesystem for NewFs.
const MemoryFs = "memory"

// NewFs returns a filesystem rooted at path, creating the directory if
// needed. The path MemoryFs selects a filesystem kept in memory.
func NewFs(path string) (Fs, error) {
	if path == MemoryFs {
		return afero.NewMemMapFs(), nil
	}

	os := afero.NewOsFs()
	if err := os.MkdirAll(path, 0777); err != nil {
		return nil, err
	}
	return afero.NewBasePathFs(os, path), nil
}
