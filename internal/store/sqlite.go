package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver.
)

// Segment is one immutable data file referenced by a version.
type Segment struct {
	File string // file name relative to the segment directory
	Rows int
}

// Catalog records, per key, the ordered list of versions and the segments
// each version is made of. It is the commit point of the parquet library:
// a segment file only becomes visible once a version referencing it has
// been committed here.
type Catalog struct {
	db *sql.DB
}

// OpenCatalog opens (or creates) the catalog database at dbPath.
func OpenCatalog(dbPath string) (*Catalog, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening catalog %s: %w", dbPath, err)
	}
	// One connection serialises commits.
	db.SetMaxOpenConns(1)

	c := &Catalog{db: db}
	if err := c.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return c, nil
}

// Close closes the underlying database connection.
func (c *Catalog) Close() error {
	return c.db.Close()
}

func (c *Catalog) migrate() error {
	stmts := []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		`CREATE TABLE IF NOT EXISTS versions (
			key        TEXT    NOT NULL,
			version    INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (key, version)
		)`,
		`CREATE TABLE IF NOT EXISTS segments (
			key     TEXT    NOT NULL,
			version INTEGER NOT NULL,
			seq     INTEGER NOT NULL,
			file    TEXT    NOT NULL,
			rows    INTEGER NOT NULL,
			PRIMARY KEY (key, version, seq)
		)`,
	}
	for _, s := range stmts {
		if _, err := c.db.Exec(s); err != nil {
			return fmt.Errorf("migrating catalog: %w", err)
		}
	}
	return nil
}

// Latest returns the newest version of key and its segments in order. ok
// is false if key has no version.
func (c *Catalog) Latest(ctx context.Context, key string) (version int64, segs []Segment, ok bool, err error) {
	version, ok, err = latestVersion(ctx, c.db, key)
	if err != nil || !ok {
		return 0, nil, ok, err
	}
	segs, err = segmentsOf(ctx, c.db, key, version)
	if err != nil {
		return 0, nil, false, err
	}
	return version, segs, true, nil
}

// CommitResult describes a committed version.
type CommitResult struct {
	Version  int64
	Segments int      // segments making up the new version
	Obsolete []string // segment files no longer referenced by any version
}

// ErrStale is returned by Replace when key moved past the expected version.
var ErrStale = errors.New("store: version changed since read")

// Commit creates the next version of key and drops every older version in
// the same transaction. With appendTo set, the new version is the previous
// version's segments followed by seg, and ErrNoData is returned if there is
// no previous version. Otherwise the new version consists of seg alone.
func (c *Catalog) Commit(ctx context.Context, key string, seg Segment, appendTo bool) (CommitResult, error) {
	return c.commit(ctx, key, seg, appendTo, -1)
}

// Replace commits seg as the sole segment of key, but only if the latest
// version of key is still base.
func (c *Catalog) Replace(ctx context.Context, key string, base int64, seg Segment) (CommitResult, error) {
	return c.commit(ctx, key, seg, false, base)
}

func (c *Catalog) commit(ctx context.Context, key string, seg Segment, appendTo bool, base int64) (CommitResult, error) {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return CommitResult{}, fmt.Errorf("beginning commit of %s: %w", key, err)
	}
	defer tx.Rollback()

	prev, ok, err := latestVersion(ctx, tx, key)
	if err != nil {
		return CommitResult{}, err
	}
	if appendTo && !ok {
		return CommitResult{}, ErrNoData
	}
	if base >= 0 && (!ok || prev != base) {
		return CommitResult{}, ErrStale
	}

	var prevSegs []Segment
	if ok {
		prevSegs, err = segmentsOf(ctx, tx, key, prev)
		if err != nil {
			return CommitResult{}, err
		}
	}

	var segs []Segment
	if appendTo {
		segs = append(segs, prevSegs...)
	}
	segs = append(segs, seg)

	next := prev + 1
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO versions (key, version, created_at) VALUES (?, ?, ?)`,
		key, next, time.Now().UnixNano(),
	); err != nil {
		return CommitResult{}, fmt.Errorf("inserting version %d of %s: %w", next, key, err)
	}
	for i, s := range segs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO segments (key, version, seq, file, rows) VALUES (?, ?, ?, ?, ?)`,
			key, next, i, s.File, s.Rows,
		); err != nil {
			return CommitResult{}, fmt.Errorf("inserting segment %d of %s@%d: %w", i, key, next, err)
		}
	}

	// Only the newest version is kept.
	for _, q := range []string{
		`DELETE FROM segments WHERE key = ? AND version < ?`,
		`DELETE FROM versions WHERE key = ? AND version < ?`,
	} {
		if _, err := tx.ExecContext(ctx, q, key, next); err != nil {
			return CommitResult{}, fmt.Errorf("pruning versions of %s: %w", key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return CommitResult{}, fmt.Errorf("committing %s@%d: %w", key, next, err)
	}

	res := CommitResult{Version: next, Segments: len(segs)}
	if !appendTo {
		for _, s := range prevSegs {
			res.Obsolete = append(res.Obsolete, s.File)
		}
	}
	return res, nil
}

// Files returns every segment file referenced by a committed version.
func (c *Catalog) Files(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT file FROM segments`)
	if err != nil {
		return nil, fmt.Errorf("listing segment files: %w", err)
	}
	defer rows.Close()

	files := make(map[string]bool)
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		files[f] = true
	}
	return files, rows.Err()
}

// Keys returns every key with at least one version that starts with prefix.
func (c *Catalog) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT DISTINCT key FROM versions`)
	if err != nil {
		return nil, fmt.Errorf("listing keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func latestVersion(ctx context.Context, q querier, key string) (int64, bool, error) {
	var v sql.NullInt64
	err := q.QueryRowContext(ctx, `SELECT MAX(version) FROM versions WHERE key = ?`, key).Scan(&v)
	if err != nil {
		return 0, false, fmt.Errorf("reading latest version of %s: %w", key, err)
	}
	return v.Int64, v.Valid, nil
}

func segmentsOf(ctx context.Context, q querier, key string, version int64) ([]Segment, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT file, rows FROM segments WHERE key = ? AND version = ? ORDER BY seq`,
		key, version,
	)
	if err != nil {
		return nil, fmt.Errorf("reading segments of %s@%d: %w", key, version, err)
	}
	defer rows.Close()

	var segs []Segment
	for rows.Next() {
		var s Segment
		if err := rows.Scan(&s.File, &s.Rows); err != nil {
			return nil, err
		}
		segs = append(segs, s)
	}
	return segs, rows.Err()
}
