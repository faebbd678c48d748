// Package store provides the versioned, keyed dataframe store that holds
// per-symbol bar series and the ingestion manifest, plus the adapters the
// ingestion pipeline uses on top of it.
//
// A Library maps string keys to ordered row sets. Every Write or Append
// creates a new immutable version of the key; readers always see the latest
// committed version in full or not at all.
package store

import (
	"context"
	"errors"
	"path"
)

// ErrNoData is returned by Read and Append for a key that has never been
// written.
var ErrNoData = errors.New("store: no data for key")

// Library persists typed row sets under string keys.
type Library[T any] interface {
	// Write replaces the rows stored under key with rows, atomically.
	Write(ctx context.Context, key string, rows []T) error

	// Append adds rows after the existing rows of key, atomically. It
	// returns ErrNoData if key has never been written.
	Append(ctx context.Context, key string, rows []T) error

	// Read returns every row of the latest version of key. It returns
	// ErrNoData if key has never been written.
	Read(ctx context.Context, key string) ([]T, error)

	// ListKeys returns the keys with the given prefix, sorted.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// BarsKey returns the library key of a bar series: bars/{timeframe}/{symbol}.
func BarsKey(timeframe, symbol string) string {
	return path.Join("bars", timeframe) + "/" + symbol
}

// ManifestKey returns the library key of a symbol set's ingestion manifest:
// meta/ingested/{symbolSet}.
func ManifestKey(symbolSet string) string {
	return "meta/ingested/" + symbolSet
}

// BarRecord is the on-disk schema of one stored bar.
type BarRecord struct {
	Timestamp int64   `parquet:"timestamp,timestamp(nanosecond)"` // Unix ns, UTC
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

// ManifestRecord is the on-disk schema of one manifest entry.
type ManifestRecord struct {
	Day      int64 `parquet:"day,timestamp(nanosecond)"` // midnight UTC, Unix ns
	Ingested bool  `parquet:"ingested"`
}
