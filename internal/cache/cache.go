// Package cache manages the local mirror of remote daily flat files. Cached
// files live at the same relative path as their remote key, so a cache root
// can be synced to or from the bucket with ordinary tools.
package cache

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/klauspost/compress/gzip"

	"marketlab/internal/domain"
)

// partialSuffix marks in-progress downloads. Files with this suffix are
// never reported by Exists or FindLatestDay.
const partialSuffix = ".partial"

var dayFilePattern = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})\.csv\.gz$`)

// Cache is a directory of gzip'd daily flat files.
type Cache struct {
	root string
}

// New returns a cache rooted at dir. The directory is created lazily on
// first write.
func New(dir string) *Cache {
	return &Cache{root: dir}
}

// Root returns the cache directory.
func (c *Cache) Root() string { return c.root }

// PathFor returns the local path of the file for day d in symbolSet.
func (c *Cache) PathFor(symbolSet string, d domain.CalendarDay) string {
	return filepath.Join(c.root, filepath.FromSlash(domain.FlatFileKey(symbolSet, d)))
}

// Exists reports whether a complete file for d is cached.
func (c *Cache) Exists(symbolSet string, d domain.CalendarDay) bool {
	info, err := os.Stat(c.PathFor(symbolSet, d))
	return err == nil && info.Mode().IsRegular()
}

// WriteAtomic streams r into the file for d. Data is written to a temporary
// .partial file in the destination directory and renamed into place only
// after it has been fully written and synced, so readers never observe a
// truncated file. The temporary file is removed on any failure.
func (c *Cache) WriteAtomic(symbolSet string, d domain.CalendarDay, r io.Reader) (string, int64, error) {
	dest := c.PathFor(symbolSet, d)
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("creating cache dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(dest)+".*"+partialSuffix)
	if err != nil {
		return "", 0, fmt.Errorf("creating temp file in %s: %w", dir, err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	n, err := io.Copy(tmp, r)
	if err != nil {
		return "", 0, fmt.Errorf("writing %s: %w", tmpName, err)
	}
	if err := tmp.Sync(); err != nil {
		return "", 0, fmt.Errorf("syncing %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return "", 0, fmt.Errorf("closing %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return "", 0, fmt.Errorf("renaming %s: %w", tmpName, err)
	}
	committed = true
	return dest, n, nil
}

// Open returns a decompressing reader over the cached file for d. The
// caller must close it. A missing file surfaces as an fs.ErrNotExist error.
func (c *Cache) Open(symbolSet string, d domain.CalendarDay) (io.ReadCloser, error) {
	return OpenFile(c.PathFor(symbolSet, d))
}

// ErrCorrupt marks a cache file that exists but is not a readable gzip
// stream, such as an empty file.
var ErrCorrupt = errors.New("cache: corrupt file")

// OpenFile opens a gzip'd file for reading.
func OpenFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening gzip %s: %w: %w", path, ErrCorrupt, err)
	}
	return &gzipFile{Reader: zr, f: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	zerr := g.Reader.Close()
	ferr := g.f.Close()
	if zerr != nil {
		return zerr
	}
	return ferr
}

// FindLatestDay scans the cache for symbolSet and returns the most recent
// day that has a complete file. ok is false when nothing is cached,
// including when the cache directory does not exist.
func (c *Cache) FindLatestDay(symbolSet string) (latest domain.CalendarDay, ok bool, err error) {
	base := filepath.Join(c.root, filepath.FromSlash(symbolSet))
	err = filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if path == base && errors.Is(walkErr, fs.ErrNotExist) {
				return fs.SkipDir
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		day, match := parseDayFile(d.Name())
		if !match {
			return nil
		}
		if !ok || day.After(latest) {
			latest, ok = day, true
		}
		return nil
	})
	if err != nil {
		return domain.CalendarDay{}, false, fmt.Errorf("scanning cache %s: %w", base, err)
	}
	return latest, ok, nil
}

// CachedDays returns the cached days within [start, end] in order.
func (c *Cache) CachedDays(symbolSet string, start, end domain.CalendarDay) []domain.CalendarDay {
	var days []domain.CalendarDay
	for _, d := range domain.DaysBetween(start, end) {
		if c.Exists(symbolSet, d) {
			days = append(days, d)
		}
	}
	return days
}

func parseDayFile(name string) (domain.CalendarDay, bool) {
	m := dayFilePattern.FindStringSubmatch(name)
	if m == nil {
		return domain.CalendarDay{}, false
	}
	d, err := domain.ParseDay(m[1] + "-" + m[2] + "-" + m[3])
	if err != nil {
		return domain.CalendarDay{}, false
	}
	return d, true
}
