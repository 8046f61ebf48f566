// Package origin models the pluggable input system releases are imported
// from: a local filesystem tree (canonical) or a remote object bucket,
// behind one narrow interface so the rest of the factory never needs a
// live network connection to run its tests. Real cloud object-storage
// clients are deliberately out of scope here -- only this interface and
// a mock backend live in this package.
package origin

import "context"

// Entry is one file or directory found while walking an origin subtree.
type Entry struct {
	RelPath string
	IsDir   bool
	Size    int64
}

// Backend is the origin contract every Importer, Draft Preflight, Track
// Catalog, and Orchestrator staging call goes through. RelPath arguments
// are always slash-separated and relative to the backend's root.
type Backend interface {
	// ListChannelIncoming lists release folder names directly under
	// channels/<slug>/incoming/.
	ListChannelIncoming(ctx context.Context, channelSlug string) ([]string, error)

	// FindFolder reports whether relPath names an existing directory.
	FindFolder(ctx context.Context, relPath string) (bool, error)

	// FindFile returns the relative paths of every file directly under
	// relPath whose base name matches the glob-style pattern
	// (case-insensitive); subdirectories are not searched.
	// Used by both the importer's audio/image discovery and draft
	// preflight's ambiguity checks, which need to know not just whether
	// a file exists but how many matches there are.
	FindFile(ctx context.Context, relPath, pattern string) ([]string, error)

	// ReadText returns the full contents of the file at relPath.
	ReadText(ctx context.Context, relPath string) (string, error)

	// EnumerateTree recursively lists every entry under relPath.
	EnumerateTree(ctx context.Context, relPath string) ([]Entry, error)

	// Stage copies the origin file at relPath to destPath on the local
	// filesystem, creating parent directories as needed. This is the one
	// place a remote backend would perform a real download.
	Stage(ctx context.Context, relPath, destPath string) error

	// ExternalID returns the origin-specific identifier used as the
	// idempotency key for "already imported": an absolute path on the
	// local backend, a file id on a remote bucket.
	ExternalID(relPath string) string
}
