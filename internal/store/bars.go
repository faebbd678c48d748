package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"marketlab/internal/domain"
)

// BarStore keeps per-symbol bar series for one timeframe in a Library.
//
// Every series it writes has strictly increasing, unique timestamps,
// whatever order callers submit rows in. Append drops rows whose timestamp
// is already stored, so re-submitting a day is a no-op.
type BarStore struct {
	lib       Library[BarRecord]
	timeframe string
	log       *slog.Logger
}

// NewBarStore returns a BarStore for timeframe (e.g. "1d") backed by lib.
func NewBarStore(lib Library[BarRecord], timeframe string) *BarStore {
	return &BarStore{
		lib:       lib,
		timeframe: timeframe,
		log:       slog.Default().With("component", "bar-store", "timeframe", timeframe),
	}
}

// Timeframe returns the timeframe of the series this store manages.
func (s *BarStore) Timeframe() string { return s.timeframe }

// Key returns the library key of symbol's series.
func (s *BarStore) Key(symbol string) string { return BarsKey(s.timeframe, symbol) }

// Read returns symbol's stored series. found is false if the series has
// never been written.
func (s *BarStore) Read(ctx context.Context, symbol string) (bars []domain.Bar, found bool, err error) {
	records, err := s.lib.Read(ctx, s.Key(symbol))
	if errors.Is(err, ErrNoData) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading %s: %w", s.Key(symbol), err)
	}
	bars = make([]domain.Bar, len(records))
	for i, r := range records {
		bars[i] = fromRecord(r)
	}
	return bars, true, nil
}

// Write replaces symbol's series with bars. Rows are sorted by timestamp;
// for duplicate timestamps the last row submitted wins.
func (s *BarStore) Write(ctx context.Context, symbol string, bars []domain.Bar) (int, error) {
	records := normalise(bars)
	if err := s.lib.Write(ctx, s.Key(symbol), records); err != nil {
		return 0, fmt.Errorf("writing %s: %w", s.Key(symbol), err)
	}
	return len(records), nil
}

// Append adds bars to symbol's series and returns how many rows were
// actually added. Rows whose timestamp is already stored are dropped. A
// series that does not exist yet is created.
//
// When the new rows all follow the stored tail they are appended as a new
// segment. Otherwise they are merged into the series and the whole series
// is rewritten.
func (s *BarStore) Append(ctx context.Context, symbol string, bars []domain.Bar) (int, error) {
	key := s.Key(symbol)
	incoming := normalise(bars)
	if len(incoming) == 0 {
		return 0, nil
	}

	existing, err := s.lib.Read(ctx, key)
	if errors.Is(err, ErrNoData) {
		if err := s.lib.Write(ctx, key, incoming); err != nil {
			return 0, fmt.Errorf("creating %s: %w", key, err)
		}
		return len(incoming), nil
	}
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", key, err)
	}

	stored := make(map[int64]struct{}, len(existing))
	var tail int64
	for i, r := range existing {
		stored[r.Timestamp] = struct{}{}
		if i == 0 || r.Timestamp > tail {
			tail = r.Timestamp
		}
	}

	fresh := incoming[:0:0]
	for _, r := range incoming {
		if _, dup := stored[r.Timestamp]; !dup {
			fresh = append(fresh, r)
		}
	}
	if len(fresh) == 0 {
		s.log.Debug("append is a no-op", "symbol", symbol, "rows", len(incoming))
		return 0, nil
	}

	if len(existing) == 0 || fresh[0].Timestamp > tail {
		if err := s.lib.Append(ctx, key, fresh); err != nil {
			return 0, fmt.Errorf("appending to %s: %w", key, err)
		}
		return len(fresh), nil
	}

	s.log.Debug("out-of-order append, rewriting series",
		"symbol", symbol, "first", time.Unix(0, fresh[0].Timestamp).UTC(), "tail", time.Unix(0, tail).UTC())
	merged := make([]BarRecord, 0, len(existing)+len(fresh))
	merged = append(merged, existing...)
	merged = append(merged, fresh...)
	sort.SliceStable(merged, func(i, j int) bool { return merged[i].Timestamp < merged[j].Timestamp })
	if err := s.lib.Write(ctx, key, merged); err != nil {
		return 0, fmt.Errorf("rewriting %s: %w", key, err)
	}
	return len(fresh), nil
}

// Symbols returns the symbols that have a stored series.
func (s *BarStore) Symbols(ctx context.Context) ([]string, error) {
	prefix := BarsKey(s.timeframe, "")
	keys, err := s.lib.ListKeys(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", prefix, err)
	}
	symbols := make([]string, 0, len(keys))
	for _, k := range keys {
		symbols = append(symbols, strings.TrimPrefix(k, prefix))
	}
	return symbols, nil
}

// normalise converts bars to records sorted by timestamp with duplicate
// timestamps collapsed, keeping the last occurrence.
func normalise(bars []domain.Bar) []BarRecord {
	records := make([]BarRecord, len(bars))
	for i, b := range bars {
		records[i] = toRecord(b)
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].Timestamp < records[j].Timestamp })

	out := records[:0]
	for i, r := range records {
		if i+1 < len(records) && records[i+1].Timestamp == r.Timestamp {
			continue
		}
		out = append(out, r)
	}
	return out
}

func toRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Timestamp: b.Timestamp.UnixNano(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

func fromRecord(r BarRecord) domain.Bar {
	return domain.Bar{
		Timestamp: time.Unix(0, r.Timestamp).UTC(),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
}
