//go:build unix

package source

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// MappedFile is a read-only, private memory mapping of a whole file.
type MappedFile struct {
	path string
	data []byte
}

// Open maps the file at path. An empty file yields a provider with nil
// Data.
func Open(path string) (*MappedFile, error) {
	f, err := os.Open(path) //nolint:gosec // G304: path is supplied by the caller
	if err != nil {
		return nil, fmt.Errorf("source: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("source: stat %s: %w", path, err)
	}
	size := info.Size()
	if size == 0 {
		return &MappedFile{path: path}, nil
	}
	if int64(int(size)) != size {
		return nil, fmt.Errorf("source: %s is too large to map (%d bytes)", path, size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE) //nolint:gosec // G115: fd fits in int
	if err != nil {
		return nil, fmt.Errorf("source: mmap %s: %w", path, err)
	}
	return &MappedFile{path: path, data: data}, nil
}

// Data returns the mapped bytes, or nil after Close.
func (m *MappedFile) Data() []byte { return m.data }

// Size returns the mapped length.
func (m *MappedFile) Size() int64 { return int64(len(m.data)) }

// Path returns the mapped file's path.
func (m *MappedFile) Path() string { return m.path }

// Close unmaps the file. Close is safe to call multiple times.
func (m *MappedFile) Close() error {
	if m.data == nil {
		return nil
	}
	data := m.data
	m.data = nil
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("source: munmap %s: %w", m.path, err)
	}
	return nil
}
