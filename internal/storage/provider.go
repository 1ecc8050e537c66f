// Package storage defines the talk directory file-system abstraction.
package storage

import (
	"io"
	"io/fs"
)

// Provider is the interface for file operations under the talk root. All
// paths are relative to the root.
type Provider interface {
	// Root returns the absolute root directory.
	Root() string
	// Abs resolves rel to an absolute path that is guaranteed to stay under the root.
	Abs(rel string) (string, error)
	// EnsureDir creates dir and any missing parents. Existing directories are fine.
	EnsureDir(dir string) error
	// ListDirs returns the names of the first-level directories under the root.
	ListDirs() ([]string, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Open opens the file at path for reading.
	Open(path string) (io.ReadSeekCloser, fs.FileInfo, error)
	// Write atomically writes content to path, replacing any existing file.
	Write(path string, content []byte) error
	// WriteNew atomically writes content to path and fails with
	// apperr.ErrAlreadyExists if the file is already there.
	WriteNew(path string, content []byte) error
	// Import moves the file at the absolute path src to path.
	Import(src, path string) error
	// Stat returns file info for path.
	Stat(path string) (fs.FileInfo, error)
}
