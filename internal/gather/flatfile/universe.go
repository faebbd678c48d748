package flatfile

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"marketlab/internal/domain"
)

// universeWriter manages daily universe files (universe/YYYY-MM-DD.txt):
// the tickers that traded on each ingested day. Tickers are buffered per
// day and flushed in batches; Finalize sorts and deduplicates every file
// touched during the run.
type universeWriter struct {
	mu      sync.Mutex
	dir     string              // <DataDir>/universe
	buffers map[string][]string // date → tickers (batch buffer)
	touched map[string]bool     // files written this run (for final sort+dedup)
}

// newUniverseWriter creates a universe writer rooted at dir. A nil writer
// is valid and records nothing.
func newUniverseWriter(dir string) *universeWriter {
	if dir == "" {
		return nil
	}
	return &universeWriter{
		dir:     dir,
		buffers: make(map[string][]string),
		touched: make(map[string]bool),
	}
}

// Add buffers the tickers seen on day.
func (u *universeWriter) Add(day domain.CalendarDay, tickers []string) {
	if u == nil {
		return
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	date := day.String()
	u.buffers[date] = append(u.buffers[date], tickers...)
}

// Flush appends buffered tickers to their date files and clears the
// buffer.
func (u *universeWriter) Flush() error {
	if u == nil {
		return nil
	}
	u.mu.Lock()
	defer u.mu.Unlock()

	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return fmt.Errorf("creating universe dir: %w", err)
	}

	for date, tickers := range u.buffers {
		path := filepath.Join(u.dir, date+".txt")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening universe file %s: %w", path, err)
		}

		w := bufio.NewWriter(f)
		for _, sym := range tickers {
			w.WriteString(sym + "\n")
		}
		err = w.Flush()
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return fmt.Errorf("writing universe file %s: %w", path, err)
		}

		u.touched[date] = true
	}

	u.buffers = make(map[string][]string)
	return nil
}

// Finalize flushes, then sorts and deduplicates each universe file that was
// touched during this run.
func (u *universeWriter) Finalize() error {
	if u == nil {
		return nil
	}
	if err := u.Flush(); err != nil {
		return err
	}

	u.mu.Lock()
	dates := make([]string, 0, len(u.touched))
	for date := range u.touched {
		dates = append(dates, date)
	}
	u.touched = make(map[string]bool)
	u.mu.Unlock()

	for _, date := range dates {
		path := filepath.Join(u.dir, date+".txt")
		if err := sortDedup(path); err != nil {
			return fmt.Errorf("finalizing universe file %s: %w", date, err)
		}
	}
	return nil
}

// sortDedup reads lines from the file, sorts them, removes duplicates, and
// writes them back.
func sortDedup(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	sort.Strings(lines)

	deduped := make([]string, 0, len(lines))
	prev := ""
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" && line != prev {
			deduped = append(deduped, line)
			prev = line
		}
	}
	if len(deduped) == 0 {
		return os.WriteFile(path, nil, 0o644)
	}
	return os.WriteFile(path, []byte(strings.Join(deduped, "\n")+"\n"), 0o644)
}
