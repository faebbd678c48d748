package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
)

// Compile-time interface checks.
var _ Library[BarRecord] = (*ParquetLibrary[BarRecord])(nil)
var _ Library[ManifestRecord] = (*ParquetLibrary[ManifestRecord])(nil)

// DefaultCompactAfter is the segment count above which an Append rewrites
// the key into a single segment.
const DefaultCompactAfter = 32

// ParquetLibrary implements Library with one Parquet file per Write or
// Append call and a Catalog that records which files make up each version.
//
// Layout:
//
//	<dataDir>/segments/<uuid>.parquet
//
// A segment is written in full before its version is committed, so a crash
// mid-call leaves at most an unreferenced file and the previous version
// intact. Only the latest version of a key is kept; files it no longer
// references are removed after the commit.
type ParquetLibrary[T any] struct {
	segDir       string
	catalog      *Catalog
	compactAfter int
	log          *slog.Logger
}

// NewParquetLibrary returns a library storing segments under dataDir and
// versions in catalog. Several libraries of different row types may share
// one catalog as long as their keys do not collide.
func NewParquetLibrary[T any](dataDir string, catalog *Catalog) *ParquetLibrary[T] {
	return &ParquetLibrary[T]{
		segDir:       filepath.Join(dataDir, "segments"),
		catalog:      catalog,
		compactAfter: DefaultCompactAfter,
		log:          slog.Default().With("component", "parquet-library"),
	}
}

// Write implements Library.
func (l *ParquetLibrary[T]) Write(ctx context.Context, key string, rows []T) error {
	seg, err := l.writeSegment(rows)
	if err != nil {
		return fmt.Errorf("writing %s: %w", key, err)
	}
	res, err := l.catalog.Commit(ctx, key, seg, false)
	if err != nil {
		l.remove(seg.File)
		return err
	}
	l.remove(res.Obsolete...)
	return nil
}

// Append implements Library.
func (l *ParquetLibrary[T]) Append(ctx context.Context, key string, rows []T) error {
	if len(rows) == 0 {
		_, _, ok, err := l.catalog.Latest(ctx, key)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNoData
		}
		return nil
	}

	seg, err := l.writeSegment(rows)
	if err != nil {
		return fmt.Errorf("appending to %s: %w", key, err)
	}
	res, err := l.catalog.Commit(ctx, key, seg, true)
	if err != nil {
		l.remove(seg.File)
		return err
	}

	if res.Segments > l.compactAfter {
		// The append is already committed; a failed compaction is retried
		// by the next append.
		if err := l.compact(ctx, key); err != nil {
			l.log.Warn("compaction failed", "key", key, "error", err)
		}
	}
	return nil
}

// compact rewrites the latest version of key as a single segment.
func (l *ParquetLibrary[T]) compact(ctx context.Context, key string) error {
	version, segs, ok, err := l.catalog.Latest(ctx, key)
	if err != nil || !ok {
		return err
	}
	rows, err := l.readSegments(ctx, key, segs)
	if err != nil {
		return err
	}
	seg, err := l.writeSegment(rows)
	if err != nil {
		return fmt.Errorf("compacting %s: %w", key, err)
	}
	res, err := l.catalog.Replace(ctx, key, version, seg)
	if err != nil {
		l.remove(seg.File)
		return err
	}
	l.remove(res.Obsolete...)
	l.log.Debug("compacted", "key", key, "segments", len(segs), "rows", len(rows))
	return nil
}

// Read implements Library.
func (l *ParquetLibrary[T]) Read(ctx context.Context, key string) ([]T, error) {
	_, segs, ok, err := l.catalog.Latest(ctx, key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoData
	}
	return l.readSegments(ctx, key, segs)
}

func (l *ParquetLibrary[T]) readSegments(ctx context.Context, key string, segs []Segment) ([]T, error) {
	var rows []T
	for _, s := range segs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		part, err := readParquetFile[T](filepath.Join(l.segDir, s.File))
		if err != nil {
			return nil, fmt.Errorf("reading %s segment %s: %w", key, s.File, err)
		}
		rows = append(rows, part...)
	}
	return rows, nil
}

// ListKeys implements Library.
func (l *ParquetLibrary[T]) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	return l.catalog.Keys(ctx, prefix)
}

// Sweep removes segment files that no committed version references and
// that were last modified before olderThan. Files left behind by a crash
// between segment write and commit are collected this way. The age bound
// keeps in-flight segments of concurrent writers safe.
func (l *ParquetLibrary[T]) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	live, err := l.catalog.Files(ctx)
	if err != nil {
		return 0, err
	}
	entries, err := os.ReadDir(l.segDir)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("listing segments: %w", err)
	}

	removed := 0
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || filepath.Ext(name) != ".parquet" || live[name] {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(olderThan) {
			continue
		}
		if err := os.Remove(filepath.Join(l.segDir, name)); err == nil {
			removed++
		}
	}
	if removed > 0 {
		l.log.Info("swept orphan segments", "count", removed)
	}
	return removed, nil
}

func (l *ParquetLibrary[T]) writeSegment(rows []T) (Segment, error) {
	seg := Segment{File: uuid.NewString() + ".parquet", Rows: len(rows)}
	if err := writeParquetFile(filepath.Join(l.segDir, seg.File), rows); err != nil {
		return Segment{}, err
	}
	return seg, nil
}

// remove deletes segment files that are not, or no longer, committed.
func (l *ParquetLibrary[T]) remove(files ...string) {
	for _, f := range files {
		if err := os.Remove(filepath.Join(l.segDir, f)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			l.log.Warn("removing segment", "file", f, "error", err)
		}
	}
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}
