package origin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Mock is an in-memory origin backend standing in for a remote object
// bucket. Used by tests that exercise the importer, preflight, and track
// catalog without a live network or filesystem.
type Mock struct {
	mu    sync.RWMutex
	files map[string][]byte // relPath -> contents
}

func NewMock() *Mock {
	return &Mock{files: map[string][]byte{}}
}

// PutFile seeds a file into the mock bucket, as a test fixture would.
func (m *Mock) PutFile(relPath string, contents []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[path(relPath)] = contents
}

func path(relPath string) string {
	return strings.TrimPrefix(filepath.ToSlash(relPath), "/")
}

func (m *Mock) ListChannelIncoming(_ context.Context, channelSlug string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := fmt.Sprintf("channels/%s/incoming/", channelSlug)
	seen := map[string]bool{}
	for p := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		parts := strings.SplitN(rest, "/", 2)
		if len(parts) > 0 && parts[0] != "" {
			seen[parts[0]] = true
		}
	}
	var out []string
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Mock) FindFolder(_ context.Context, relPath string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := path(relPath) + "/"
	for p := range m.files {
		if strings.HasPrefix(p, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Mock) FindFile(_ context.Context, relPath, pattern string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := path(relPath) + "/"
	var matches []string
	for p := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := strings.TrimPrefix(p, prefix)
		if strings.Contains(rest, "/") {
			continue
		}
		ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(rest))
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, p)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

func (m *Mock) ReadText(_ context.Context, relPath string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.files[path(relPath)]
	if !ok {
		return "", fmt.Errorf("origin: mock read text: %s not found", relPath)
	}
	return string(b), nil
}

func (m *Mock) EnumerateTree(_ context.Context, relPath string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := path(relPath) + "/"
	var out []Entry
	for p, b := range m.files {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		out = append(out, Entry{RelPath: p, IsDir: false, Size: int64(len(b))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out, nil
}

func (m *Mock) Stage(_ context.Context, relPath, destPath string) error {
	m.mu.RLock()
	b, ok := m.files[path(relPath)]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("origin: mock stage: %s not found", relPath)
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return err
	}
	return os.WriteFile(destPath, b, 0o644)
}

// ExternalID on the mock backend is the relative path prefixed with
// "mock:", standing in for a remote bucket's file id.
func (m *Mock) ExternalID(relPath string) string {
	return "mock:" + path(relPath)
}
