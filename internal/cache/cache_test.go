package cache

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/klauspost/compress/gzip"

	"marketlab/internal/domain"
)

const testSet = "us_stocks_sip/day_aggs_v1"

func gz(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatal(err)
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestPathFor(t *testing.T) {
	c := New("/tmp/cache")
	got := c.PathFor(testSet, domain.NewCalendarDay(2024, 1, 2))
	want := filepath.Join("/tmp/cache", "us_stocks_sip", "day_aggs_v1", "2024", "01", "2024-01-02.csv.gz")
	if got != want {
		t.Errorf("PathFor = %q, want %q", got, want)
	}
}

func TestWriteAtomicAndOpen(t *testing.T) {
	c := New(t.TempDir())
	day := domain.NewCalendarDay(2024, 1, 2)

	if c.Exists(testSet, day) {
		t.Fatal("Exists before write = true")
	}

	path, n, err := c.WriteAtomic(testSet, day, bytes.NewReader(gz(t, "ticker\nAAA\n")))
	if err != nil {
		t.Fatalf("WriteAtomic: %v", err)
	}
	if n == 0 || path != c.PathFor(testSet, day) {
		t.Errorf("WriteAtomic = %q, %d", path, n)
	}
	if !c.Exists(testSet, day) {
		t.Error("Exists after write = false")
	}

	rc, err := c.Open(testSet, day)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "ticker\nAAA\n" {
		t.Errorf("content = %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), partialSuffix) {
			t.Errorf("leftover temp file %s", e.Name())
		}
	}
}

func TestWriteAtomicFailureLeavesNothing(t *testing.T) {
	c := New(t.TempDir())
	day := domain.NewCalendarDay(2024, 1, 3)

	r := io.MultiReader(strings.NewReader("partial"), iotest.ErrReader(errors.New("connection reset")))
	if _, _, err := c.WriteAtomic(testSet, day, r); err == nil {
		t.Fatal("WriteAtomic should fail when the reader fails")
	}
	if c.Exists(testSet, day) {
		t.Error("failed write left a final file")
	}
	entries, _ := os.ReadDir(filepath.Dir(c.PathFor(testSet, day)))
	if len(entries) != 0 {
		t.Errorf("failed write left %d files behind", len(entries))
	}
}

func TestFindLatestDay(t *testing.T) {
	c := New(t.TempDir())

	if _, ok, err := c.FindLatestDay(testSet); err != nil || ok {
		t.Fatalf("empty cache: ok=%v err=%v, want none", ok, err)
	}

	for _, d := range []domain.CalendarDay{
		domain.NewCalendarDay(2023, 12, 29),
		domain.NewCalendarDay(2024, 1, 3),
		domain.NewCalendarDay(2024, 1, 2),
	} {
		if _, _, err := c.WriteAtomic(testSet, d, bytes.NewReader(gz(t, "x"))); err != nil {
			t.Fatal(err)
		}
	}
	// Partial downloads and stray files are ignored.
	dir := filepath.Dir(c.PathFor(testSet, domain.NewCalendarDay(2024, 1, 9)))
	os.WriteFile(filepath.Join(dir, "2024-01-09.csv.gz.123.partial"), []byte("x"), 0o644)
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)

	latest, ok, err := c.FindLatestDay(testSet)
	if err != nil || !ok {
		t.Fatalf("FindLatestDay: ok=%v err=%v", ok, err)
	}
	if latest != domain.NewCalendarDay(2024, 1, 3) {
		t.Errorf("latest = %v, want 2024-01-03", latest)
	}

	days := c.CachedDays(testSet, domain.NewCalendarDay(2024, 1, 1), domain.NewCalendarDay(2024, 1, 31))
	if len(days) != 2 || days[0] != domain.NewCalendarDay(2024, 1, 2) {
		t.Errorf("CachedDays = %v, want [2024-01-02 2024-01-03]", days)
	}
}

func TestOpenMissing(t *testing.T) {
	c := New(t.TempDir())
	_, err := c.Open(testSet, domain.NewCalendarDay(2024, 1, 2))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open missing: err = %v, want ErrNotExist", err)
	}
}
