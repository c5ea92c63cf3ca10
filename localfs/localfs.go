// Package localfs implements the file:// and hfile:// store schemes on top
// of a local directory tree.
package localfs

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"github.com/janjagusch/minimalkv"
	"github.com/janjagusch/minimalkv/fskv"
)

func init() {
	minimalkv.Register("file", func(ctx context.Context, p *minimalkv.ParsedURL) (minimalkv.KeyValueStore, error) {
		return FromParsedURL(ctx, p, false)
	})
	minimalkv.Register("hfile", func(ctx context.Context, p *minimalkv.ParsedURL) (minimalkv.KeyValueStore, error) {
		return FromParsedURL(ctx, p, true)
	})
}

// New creates a store rooted at dir. The directory is created lazily on
// first use when createIfMissing is true; otherwise a missing root fails
// the first operation with minimalkv.ErrBucketNotFound.
func New(dir string, extended, createIfMissing bool, opts fskv.WriteOptions) *fskv.Store {
	return fskv.New(fskv.Config{
		Target:       "file://" + dir,
		Extended:     extended,
		WriteOptions: opts,
		Connect: func(context.Context) (fskv.Filesystem, error) {
			info, err := os.Stat(dir)
			switch {
			case os.IsNotExist(err):
				if !createIfMissing {
					return nil, fmt.Errorf("%w: %s", minimalkv.ErrBucketNotFound, dir)
				}
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return nil, err
				}
			case err != nil:
				return nil, err
			case !info.IsDir():
				return nil, fmt.Errorf("%s is not a directory", dir)
			}
			return &dirFS{root: dir}, nil
		},
	})
}

// FromParsedURL builds a store from a file:// URL. The URL path is the
// root directory; for file://host/path forms the host is ignored.
func FromParsedURL(_ context.Context, p *minimalkv.ParsedURL, extended bool) (*fskv.Store, error) {
	dir := "/" + p.Bucket
	if dir == "/" {
		return nil, fmt.Errorf("file url has no directory path")
	}
	return New(dir, extended, p.CreateIfMissing(), nil), nil
}

// dirFS is the fskv.Filesystem over one local directory.
type dirFS struct {
	root string
}

func (d *dirFS) abs(path string) string {
	return filepath.Join(d.root, filepath.FromSlash(path))
}

func (d *dirFS) OpenRead(_ context.Context, path string) (io.ReadCloser, error) {
	return os.Open(d.abs(path))
}

func (d *dirFS) OpenWrite(_ context.Context, path string, _ fskv.WriteOptions) (io.WriteCloser, error) {
	abs := d.abs(path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o700); err != nil {
		return nil, err
	}
	// Write to a sibling temp file and rename on Close so readers never
	// observe partial writes. The '#' in the name cannot appear in an
	// encoded key path, so listings can skip in-flight temp files safely.
	tmp, err := os.CreateTemp(filepath.Dir(abs), "#tmp#*")
	if err != nil {
		return nil, err
	}
	return &atomicFile{f: tmp, dest: abs}, nil
}

func (d *dirFS) Delete(_ context.Context, path string) error {
	err := os.Remove(d.abs(path))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (d *dirFS) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(d.abs(path))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (d *dirFS) List(_ context.Context, pathPrefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		walkErr := filepath.WalkDir(d.root, func(abs string, entry fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if entry.IsDir() || strings.Contains(entry.Name(), "#") {
				return nil
			}
			rel, err := filepath.Rel(d.root, abs)
			if err != nil {
				return err
			}
			path := filepath.ToSlash(rel)
			if !strings.HasPrefix(path, pathPrefix) {
				return nil
			}
			if !yield(path, nil) {
				return fs.SkipAll
			}
			return nil
		})
		if walkErr != nil {
			yield("", walkErr)
		}
	}
}

// atomicFile renames the temp file over the destination on Close.
type atomicFile struct {
	f    *os.File
	dest string
}

func (a *atomicFile) Write(p []byte) (int, error) {
	return a.f.Write(p)
}

func (a *atomicFile) Close() error {
	if err := a.f.Close(); err != nil {
		os.Remove(a.f.Name())
		return err
	}
	if err := os.Rename(a.f.Name(), a.dest); err != nil {
		os.Remove(a.f.Name())
		return err
	}
	return nil
}

// Abort implements fskv.WriteAborter: the temp file is discarded and the
// destination keeps its previous content.
func (a *atomicFile) Abort() error {
	err := a.f.Close()
	if rerr := os.Remove(a.f.Name()); err == nil {
		err = rerr
	}
	return err
}
