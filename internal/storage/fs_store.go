package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FSBackend stores objects as files below a root directory.
type FSBackend struct {
	root string
	mu   sync.RWMutex
}

// NewFSBackend creates a backend rooted at path. A leading ~ expands to the
// user's home directory.
func NewFSBackend(path string) (*FSBackend, error) {
	root, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	if root == "" {
		return nil, fmt.Errorf("empty storage path")
	}
	return &FSBackend{root: filepath.Clean(root)}, nil
}

func expandHome(p string) (string, error) {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("expand ~: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~")), nil
}

// Root returns the resolved root directory.
func (fs *FSBackend) Root() string { return fs.root }

func (fs *FSBackend) String() string { return fs.root }

func (fs *FSBackend) BaseURL() string { return "file://" + filepath.ToSlash(fs.root) }

func (fs *FSBackend) path(key string) string {
	return filepath.Join(fs.root, filepath.FromSlash(key))
}

func (fs *FSBackend) Validate(_ context.Context) error {
	if err := os.MkdirAll(fs.root, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", fs.root, err)
	}
	probe, err := os.CreateTemp(fs.root, ".probe-*")
	if err != nil {
		return fmt.Errorf("%s is not writable: %w", fs.root, err)
	}
	name := probe.Name()
	_ = probe.Close()
	return os.Remove(name)
}

func (fs *FSBackend) PutFile(_ context.Context, key, localPath, _ string) (int64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dst := fs.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return 0, fmt.Errorf("create directory: %w", err)
	}
	// #nosec G304 - localPath is a file inside the download temp workspace
	in, err := os.Open(localPath)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp) // #nosec G304 - path derived from storage key
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("copy %s: %w", key, err)
	}
	return n, os.Rename(tmp, dst)
}

func (fs *FSBackend) Put(_ context.Context, key string, data []byte) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dst := fs.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	tmp := dst + ".part"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return os.Rename(tmp, dst)
}

func (fs *FSBackend) Get(_ context.Context, key string) ([]byte, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	data, err := os.ReadFile(fs.path(key))
	if os.IsNotExist(err) {
		return nil, ErrNotFound{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

func (fs *FSBackend) Delete(_ context.Context, key string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := os.Remove(fs.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// CleanBefore removes whole bucket directories below prefix.
func (fs *FSBackend) CleanBefore(_ context.Context, prefix, cutoff string) (int, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	dir := fs.path(prefix)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list %s: %w", dir, err)
	}
	removed := 0
	for _, e := range entries {
		if !e.IsDir() || e.Name() >= cutoff {
			continue
		}
		bucket := filepath.Join(dir, e.Name())
		n := countFiles(bucket)
		if err := os.RemoveAll(bucket); err != nil {
			return removed, fmt.Errorf("remove %s: %w", bucket, err)
		}
		removed += n
	}
	return removed, nil
}

func countFiles(dir string) int {
	n := 0
	_ = filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			n++
		}
		return nil
	})
	return n
}
