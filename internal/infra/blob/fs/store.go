// Package fs implements core.Store on the local filesystem. Blobs are plain
// files under the root, so a store rooted at a project directory writes
// captures exactly where the project layout expects them.
package fs

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"drawerstore/internal/blob/core"
)

// Store implements core.Store using the local filesystem. No metadata files
// are written next to the blobs: the ETag is recomputed from content and the
// content type follows the key extension.
type Store struct {
	root string
}

// New returns a filesystem-backed blob store rooted at root, creating it if
// needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, fmt.Errorf("blob fs store: root required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

// Driver returns core.DriverFilesystem.
func (s *Store) Driver() core.Driver { return core.DriverFilesystem }

// Root returns the directory blobs are stored under.
func (s *Store) Root() string { return s.root }

// sanitizeKey ensures key doesn't escape root and forbids path traversal and
// absolute paths.
func sanitizeKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("%w: empty key", core.ErrInvalidKey)
	}
	if strings.HasPrefix(key, "/") || filepath.IsAbs(key) {
		return "", fmt.Errorf("%w: absolute key %q", core.ErrInvalidKey, key)
	}
	clean := path.Clean(filepath.ToSlash(key))
	for _, part := range strings.Split(clean, "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: traversal in %q", core.ErrInvalidKey, key)
		}
	}
	return clean, nil
}

func (s *Store) pathFor(key string) (string, string, error) {
	k, err := sanitizeKey(key)
	if err != nil {
		return "", "", err
	}
	return k, filepath.Join(s.root, filepath.FromSlash(k)), nil
}

// Put streams r to a temporary file beside the target, hashing as it goes,
// and links it into place. An existing key is never overwritten.
func (s *Store) Put(ctx context.Context, key string, r io.Reader, opts core.PutOptions) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	k, dataPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	if _, err := os.Lstat(dataPath); err == nil {
		return core.Info{}, fmt.Errorf("%w: %s", core.ErrExists, k)
	}
	if err := os.MkdirAll(filepath.Dir(dataPath), 0o755); err != nil {
		return core.Info{}, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dataPath), ".tmp-*")
	if err != nil {
		return core.Info{}, err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	h := blake3.New()
	size, copyErr := io.Copy(io.MultiWriter(tmp, h), r)
	if copyErr != nil {
		_ = tmp.Close()
		return core.Info{}, copyErr
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return core.Info{}, err
	}
	if err := tmp.Close(); err != nil {
		return core.Info{}, err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return core.Info{}, err
	}
	if err := linkNoClobber(tmp.Name(), dataPath); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return core.Info{}, fmt.Errorf("%w: %s", core.ErrExists, k)
		}
		return core.Info{}, err
	}
	fi, err := os.Stat(dataPath)
	if err != nil {
		return core.Info{}, err
	}
	return core.Info{
		Key:          k,
		Size:         size,
		ContentType:  contentType(k, opts.ContentType),
		ETag:         hex.EncodeToString(h.Sum(nil)),
		LastModified: fi.ModTime().UTC(),
	}, nil
}

// Get opens the blob for reading. The caller closes the reader.
func (s *Store) Get(ctx context.Context, key string) (core.Info, io.ReadCloser, error) {
	info, err := s.Head(ctx, key)
	if err != nil {
		return core.Info{}, nil, err
	}
	_, dataPath, _ := s.pathFor(key)
	file, err := os.Open(dataPath) //nolint:gosec // G304: sanitized key under root
	if err != nil {
		return core.Info{}, nil, mapNotExist(err, key)
	}
	return info, file, nil
}

// Head returns the size, type and content hash of a blob.
func (s *Store) Head(ctx context.Context, key string) (core.Info, error) {
	if err := ctx.Err(); err != nil {
		return core.Info{}, err
	}
	k, dataPath, err := s.pathFor(key)
	if err != nil {
		return core.Info{}, err
	}
	return s.stat(k, dataPath)
}

// List walks the root and returns every regular file whose key starts with
// prefix. Temporary files and dot-directories are skipped.
func (s *Store) List(ctx context.Context, prefix string) ([]core.Info, error) {
	var infos []core.Info
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if p != s.root && strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".tmp-") || !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" && !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := s.stat(key, p)
		if err != nil {
			return err
		}
		infos = append(infos, info)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *Store) stat(key, dataPath string) (core.Info, error) {
	f, err := os.Open(dataPath) //nolint:gosec // G304: sanitized key under root
	if err != nil {
		return core.Info{}, mapNotExist(err, key)
	}
	defer func() { _ = f.Close() }()
	fi, err := f.Stat()
	if err != nil {
		return core.Info{}, err
	}
	if fi.IsDir() {
		return core.Info{}, fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return core.Info{}, err
	}
	return core.Info{
		Key:          key,
		Size:         fi.Size(),
		ContentType:  contentType(key, ""),
		ETag:         hex.EncodeToString(h.Sum(nil)),
		LastModified: fi.ModTime().UTC(),
	}, nil
}

// linkNoClobber moves src to dst without replacing an existing dst. Hard
// links give that atomically; filesystems without them fall back to a
// checked rename.
func linkNoClobber(src, dst string) error {
	err := os.Link(src, dst)
	if err == nil || errors.Is(err, fs.ErrExist) {
		return err
	}
	if _, statErr := os.Lstat(dst); statErr == nil {
		return fs.ErrExist
	}
	return os.Rename(src, dst)
}

func mapNotExist(err error, key string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", core.ErrNotFound, key)
	}
	return err
}

func contentType(key, explicit string) string {
	if explicit != "" {
		return explicit
	}
	switch strings.ToLower(path.Ext(key)) {
	case ".yml", ".yaml":
		return "application/yaml"
	case "":
		return "application/octet-stream"
	}
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
