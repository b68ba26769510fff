// Package local implements storage.Storage on a directory. All file access
// goes through an os.Root, so neither ".." segments nor symlinks can reach
// outside the base directory.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"

	apperrors "github.com/kbukum/agentflow/errors"
	"github.com/kbukum/agentflow/logger"
	"github.com/kbukum/agentflow/storage"
	"github.com/kbukum/agentflow/validation"
)

// Config overrides storage.Config for the local backend.
type Config struct {
	BasePath string `mapstructure:"base_path" json:"base_path" validate:"required"`
}

func init() {
	storage.RegisterFactory(storage.ProviderLocal, func(cfg storage.Config, providerCfg any, _ *logger.Logger) (storage.Storage, error) {
		c := &Config{BasePath: cfg.BasePath}
		if providerCfg != nil {
			pc, ok := providerCfg.(*Config)
			if !ok {
				return nil, fmt.Errorf("local: expected *local.Config, got %T", providerCfg)
			}
			c = pc
		}
		if err := validation.Validate(c); err != nil {
			return nil, err
		}
		return NewStorage(c.BasePath)
	})
}

const dirPerm = 0o750

// Storage is a storage.Storage rooted at a directory.
type Storage struct {
	base string
}

// NewStorage creates basePath if needed.
func NewStorage(basePath string) (*Storage, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("local: resolve %s: %w", basePath, err)
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("local: create %s: %w", abs, err)
	}
	return &Storage{base: abs}, nil
}

func (s *Storage) BasePath() string { return s.base }

// clean validates an object path and returns it in os.Root form.
func clean(p string) (string, error) {
	if p == "" || path.IsAbs(p) || filepath.IsAbs(p) {
		return "", apperrors.InvalidInput("path", fmt.Sprintf("%q must be a relative path", p))
	}
	c := path.Clean(filepath.ToSlash(p))
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", apperrors.InvalidInput("path", fmt.Sprintf("%q escapes the storage root", p))
	}
	return filepath.FromSlash(c), nil
}

// withRoot opens the base as an os.Root for the duration of fn.
func (s *Storage) withRoot(fn func(*os.Root) error) error {
	root, err := os.OpenRoot(s.base)
	if err != nil {
		return fmt.Errorf("local: open root: %w", err)
	}
	defer root.Close()
	return fn(root)
}

func (s *Storage) Upload(_ context.Context, p string, r io.Reader) error {
	name, err := clean(p)
	if err != nil {
		return err
	}
	return s.withRoot(func(root *os.Root) error {
		if dir := filepath.Dir(name); dir != "." {
			if err := root.MkdirAll(dir, dirPerm); err != nil {
				return fmt.Errorf("local: mkdir %s: %w", dir, err)
			}
		}
		f, err := root.Create(name)
		if err != nil {
			return fmt.Errorf("local: create %s: %w", p, err)
		}
		if _, err := io.Copy(f, r); err != nil {
			f.Close() //nolint:errcheck // the copy error is the one to report
			return fmt.Errorf("local: write %s: %w", p, err)
		}
		return f.Close()
	})
}

// Download returns NOT_FOUND for missing paths.
func (s *Storage) Download(_ context.Context, p string) (io.ReadCloser, error) {
	name, err := clean(p)
	if err != nil {
		return nil, err
	}
	var f *os.File
	err = s.withRoot(func(root *os.Root) error {
		var openErr error
		f, openErr = root.Open(name)
		return openErr
	})
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, apperrors.NotFound("file", p)
	case err != nil:
		return nil, fmt.Errorf("local: open %s: %w", p, err)
	}
	return f, nil
}

func (s *Storage) Delete(_ context.Context, p string) error {
	name, err := clean(p)
	if err != nil {
		return err
	}
	return s.withRoot(func(root *os.Root) error {
		if err := root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("local: delete %s: %w", p, err)
		}
		return nil
	})
}

func (s *Storage) Exists(_ context.Context, p string) (bool, error) {
	name, err := clean(p)
	if err != nil {
		return false, err
	}
	found := false
	err = s.withRoot(func(root *os.Root) error {
		_, statErr := root.Stat(name)
		switch {
		case statErr == nil:
			found = true
		case !errors.Is(statErr, fs.ErrNotExist):
			return fmt.Errorf("local: stat %s: %w", p, statErr)
		}
		return nil
	})
	return found, err
}

// List walks the whole tree and keeps regular files whose slash path starts
// with prefix.
func (s *Storage) List(_ context.Context, prefix string) ([]storage.Object, error) {
	prefix = filepath.ToSlash(prefix)
	objects := []storage.Object{}
	err := s.withRoot(func(root *os.Root) error {
		return fs.WalkDir(root.FS(), ".", func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.Type().IsRegular() || !strings.HasPrefix(p, prefix) {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return err
			}
			objects = append(objects, storage.Object{
				Path:        p,
				Size:        info.Size(),
				ModTime:     info.ModTime(),
				ContentType: contentType(p),
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("local: list %q: %w", prefix, err)
	}
	slices.SortFunc(objects, func(a, b storage.Object) int { return strings.Compare(a.Path, b.Path) })
	return objects, nil
}

func contentType(p string) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

var _ storage.Storage = (*Storage)(nil)
