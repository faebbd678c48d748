package flatfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"marketlab/internal/cache"
	"marketlab/internal/domain"
)

// RequiredColumns are the daily flat-file columns ingestion depends on.
var RequiredColumns = []string{"ticker", "volume", "open", "close", "high", "low", "window_start"}

// SchemaError reports a daily file that cannot be ingested: required
// columns are absent, a row is malformed, or the file is not valid gzip'd
// CSV. It is raised before anything is written.
type SchemaError struct {
	Path    string
	Missing []string // required columns absent from the header
	Reason  string
	Err     error // underlying decode error, if any
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("schema error in %s: missing columns %v", e.Path, e.Missing)
	}
	return fmt.Sprintf("schema error in %s: %s", e.Path, e.Reason)
}

func (e *SchemaError) Unwrap() error { return e.Err }

func malformed(path, reason string, err error) *SchemaError {
	return &SchemaError{Path: path, Reason: fmt.Sprintf("%s: %v", reason, err), Err: err}
}

// dayFile is the parsed content of one daily file.
type dayFile struct {
	rowsRead int                     // data rows in the file, including dropped ones
	bars     map[string][]domain.Bar // ticker → bars
}

// readDayFile parses the gzip'd CSV at path. Rows with an empty ticker are
// dropped. A missing file is returned as an fs.ErrNotExist error; a file
// that is not gzip is a SchemaError.
func readDayFile(path string) (*dayFile, error) {
	rc, err := cache.OpenFile(path)
	if errors.Is(err, cache.ErrCorrupt) {
		return nil, malformed(path, "not a gzip file", err)
	}
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return parseDayFile(path, rc)
}

func parseDayFile(path string, r io.Reader) (*dayFile, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, &SchemaError{Path: path, Missing: append([]string(nil), RequiredColumns...)}
	}
	if err != nil {
		return nil, malformed(path, "header", err)
	}

	// Map column name → index.
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}
	var missing []string
	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, &SchemaError{Path: path, Missing: missing}
	}

	df := &dayFile{bars: make(map[string][]domain.Bar)}
	line := 1
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, malformed(path, fmt.Sprintf("line %d", line), err)
		}
		df.rowsRead++

		raw, err := parseRecord(rec, idx)
		if err != nil {
			return nil, &SchemaError{Path: path, Reason: fmt.Sprintf("line %d: %v", line, err)}
		}
		if raw.Ticker == "" {
			continue
		}
		df.bars[raw.Ticker] = append(df.bars[raw.Ticker], raw.Bar())
	}
	return df, nil
}

func parseRecord(rec []string, idx map[string]int) (domain.RawDayRecord, error) {
	var r domain.RawDayRecord
	r.Ticker = strings.TrimSpace(rec[idx["ticker"]])
	if r.Ticker == "" {
		return r, nil
	}

	fields := []struct {
		name string
		dst  *float64
	}{
		{"open", &r.Open},
		{"high", &r.High},
		{"low", &r.Low},
		{"close", &r.Close},
		{"volume", &r.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[idx[f.name]]), 64)
		if err != nil {
			return r, fmt.Errorf("column %s: %w", f.name, err)
		}
		*f.dst = v
	}

	ws, err := strconv.ParseInt(strings.TrimSpace(rec[idx["window_start"]]), 10, 64)
	if err != nil {
		return r, fmt.Errorf("column window_start: %w", err)
	}
	r.WindowStart = ws
	return r, nil
}

// tickers returns the tickers of df, sorted.
func (df *dayFile) tickers() []string {
	out := make([]string, 0, len(df.bars))
	for t := range df.bars {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
