package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"marketlab/internal/domain"
)

// Manifest is the day-level ingestion ledger. A day is listed for a symbol
// set only after all of its rows have been committed to the bar store, so
// presence in the manifest is the single source of truth for "already
// ingested".
//
// Entries are only ever appended; the ledger lives in the same library as
// the data under ManifestKey(symbolSet).
type Manifest struct {
	lib Library[ManifestRecord]
}

// NewManifest returns a Manifest stored in lib.
func NewManifest(lib Library[ManifestRecord]) *Manifest {
	return &Manifest{lib: lib}
}

// IngestedDays returns the set of days marked for symbolSet. An unwritten
// manifest is an empty set.
func (m *Manifest) IngestedDays(ctx context.Context, symbolSet string) (map[domain.CalendarDay]bool, error) {
	records, err := m.lib.Read(ctx, ManifestKey(symbolSet))
	if errors.Is(err, ErrNoData) {
		return map[domain.CalendarDay]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", symbolSet, err)
	}
	days := make(map[domain.CalendarDay]bool, len(records))
	for _, r := range records {
		if r.Ingested {
			days[domain.DayOf(time.Unix(0, r.Day).UTC())] = true
		}
	}
	return days, nil
}

// IsIngested reports whether day is marked for symbolSet.
func (m *Manifest) IsIngested(ctx context.Context, symbolSet string, day domain.CalendarDay) (bool, error) {
	days, err := m.IngestedDays(ctx, symbolSet)
	if err != nil {
		return false, err
	}
	return days[day], nil
}

// MarkIngested records days as ingested for symbolSet. Days that are
// already marked are not written again. The first mark creates the
// manifest.
func (m *Manifest) MarkIngested(ctx context.Context, symbolSet string, days ...domain.CalendarDay) error {
	marked, err := m.IngestedDays(ctx, symbolSet)
	if err != nil {
		return err
	}

	var records []ManifestRecord
	seen := make(map[domain.CalendarDay]bool, len(days))
	for _, d := range days {
		if marked[d] || seen[d] {
			continue
		}
		seen[d] = true
		records = append(records, ManifestRecord{Day: d.Time().UnixNano(), Ingested: true})
	}
	if len(records) == 0 {
		return nil
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Day < records[j].Day })

	key := ManifestKey(symbolSet)
	err = m.lib.Append(ctx, key, records)
	if errors.Is(err, ErrNoData) {
		err = m.lib.Write(ctx, key, records)
	}
	if err != nil {
		return fmt.Errorf("marking %d day(s) in manifest %s: %w", len(records), symbolSet, err)
	}
	return nil
}
