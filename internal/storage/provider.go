// Package storage defines the workspace file-system abstraction used for
// funnel imports and exports.
package storage

import "time"

// FileInfo describes one funnel document in the workspace.
type FileInfo struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Provider is the interface for workspace file operations.
type Provider interface {
	// List returns every funnel document directly under dir (relative to the root).
	List(dir string) ([]FileInfo, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically writes content to path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
	// Abs resolves path against the root, rejecting escapes.
	Abs(path string) (string, error)
}
