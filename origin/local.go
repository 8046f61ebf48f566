package origin

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local is the canonical origin backend: a filesystem tree rooted at Root,
// laid out channels/<slug>/incoming/<release>/{meta.json,audio/,images/}.
type Local struct {
	Root string
}

func NewLocal(root string) *Local {
	return &Local{Root: root}
}

func (l *Local) abs(relPath string) string {
	return filepath.Join(l.Root, filepath.FromSlash(relPath))
}

func (l *Local) ListChannelIncoming(_ context.Context, channelSlug string) ([]string, error) {
	dir := l.abs(filepath.ToSlash(filepath.Join("channels", channelSlug, "incoming")))
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("origin: list channel incoming: %w", err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			out = append(out, e.Name())
		}
	}
	return out, nil
}

func (l *Local) FindFolder(_ context.Context, relPath string) (bool, error) {
	info, err := os.Stat(l.abs(relPath))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.IsDir(), nil
}

func (l *Local) FindFile(_ context.Context, relPath, pattern string) ([]string, error) {
	dir := l.abs(relPath)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("origin: find file: %w", err)
	}
	var matches []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ok, err := filepath.Match(strings.ToLower(pattern), strings.ToLower(e.Name()))
		if err != nil {
			return nil, err
		}
		if ok {
			matches = append(matches, filepath.ToSlash(filepath.Join(relPath, e.Name())))
		}
	}
	return matches, nil
}

func (l *Local) ReadText(_ context.Context, relPath string) (string, error) {
	b, err := os.ReadFile(l.abs(relPath))
	if err != nil {
		return "", fmt.Errorf("origin: read text %s: %w", relPath, err)
	}
	return string(b), nil
}

func (l *Local) EnumerateTree(_ context.Context, relPath string) ([]Entry, error) {
	root := l.abs(relPath)
	var out []Entry
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if path == root {
			return nil
		}
		rel, err := filepath.Rel(l.Root, path)
		if err != nil {
			return err
		}
		out = append(out, Entry{
			RelPath: filepath.ToSlash(rel),
			IsDir:   info.IsDir(),
			Size:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("origin: enumerate tree: %w", err)
	}
	return out, nil
}

func (l *Local) Stage(_ context.Context, relPath, destPath string) error {
	src, err := os.Open(l.abs(relPath))
	if err != nil {
		return fmt.Errorf("origin: stage open %s: %w", relPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("origin: stage mkdir: %w", err)
	}
	dst, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("origin: stage create %s: %w", destPath, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("origin: stage copy %s: %w", relPath, err)
	}
	return nil
}

// ExternalID on the local backend is the manifest's absolute path: unique
// per file on a single filesystem, stable across rescans.
func (l *Local) ExternalID(relPath string) string {
	return l.abs(relPath)
}
