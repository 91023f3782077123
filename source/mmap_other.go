//go:build !unix

package source

import (
	"fmt"
	"os"
)

// MappedFile holds a whole file in memory on platforms without mmap.
type MappedFile struct {
	path string
	data []byte
}

// Open reads the file at path.
func Open(path string) (*MappedFile, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is supplied by the caller
	if err != nil {
		return nil, fmt.Errorf("source: read: %w", err)
	}
	if len(data) == 0 {
		data = nil
	}
	return &MappedFile{path: path, data: data}, nil
}

// Data returns the file bytes, or nil after Close.
func (m *MappedFile) Data() []byte { return m.data }

// Size returns the file length.
func (m *MappedFile) Size() int64 { return int64(len(m.data)) }

// Path returns the file's path.
func (m *MappedFile) Path() string { return m.path }

// Close drops the file contents.
func (m *MappedFile) Close() error {
	m.data = nil
	return nil
}
