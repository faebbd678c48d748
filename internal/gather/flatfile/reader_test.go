package flatfile

import (
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"marketlab/internal/cache"
)

func TestParseDayFile(t *testing.T) {
	in := strings.Join([]string{
		header,
		row("AAA", jan2, 10, 11, 9, 10.5, 1000),
		row("  ", jan2, 1, 1, 1, 1, 1),
		row(" BBB ", jan2, 5, 5.5, 4.8, 5.2, 500),
	}, "\n")

	df, err := parseDayFile("mem.csv", strings.NewReader(in))
	if err != nil {
		t.Fatalf("parseDayFile: %v", err)
	}
	if df.rowsRead != 3 {
		t.Errorf("rowsRead = %d, want 3", df.rowsRead)
	}
	if got := df.tickers(); len(got) != 2 || got[0] != "AAA" || got[1] != "BBB" {
		t.Errorf("tickers = %v, want [AAA BBB]", got)
	}

	aaa := df.bars["AAA"][0]
	want := time.Date(2024, 1, 2, 5, 0, 0, 0, time.UTC)
	if !aaa.Timestamp.Equal(want) || aaa.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp = %v, want %v UTC", aaa.Timestamp, want)
	}
	if aaa.Open != 10 || aaa.High != 11 || aaa.Low != 9 || aaa.Close != 10.5 || aaa.Volume != 1000 {
		t.Errorf("AAA bar = %+v", aaa)
	}
}

func TestParseDayFileColumnOrder(t *testing.T) {
	in := "window_start,low,high,close,open,volume,ticker\n1704171600000000000,9,11,10.5,10,1000,AAA\n"
	df, err := parseDayFile("mem.csv", strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	b := df.bars["AAA"][0]
	if b.Open != 10 || b.Close != 10.5 || b.Low != 9 {
		t.Errorf("bar = %+v, columns mapped by position instead of name", b)
	}
}

func TestParseDayFileMissingColumns(t *testing.T) {
	in := "ticker,volume,open,high,low,window_start\nAAA,1,1,1,1,1\n"
	_, err := parseDayFile("mem.csv", strings.NewReader(in))

	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SchemaError", err)
	}
	if len(se.Missing) != 1 || se.Missing[0] != "close" {
		t.Errorf("Missing = %v, want [close]", se.Missing)
	}
	if !strings.Contains(se.Error(), "close") {
		t.Errorf("Error() = %q should name the column", se.Error())
	}
}

func TestParseDayFileMalformedValue(t *testing.T) {
	in := header + "\nAAA,1000,ten,10.5,11,9,1704171600000000000,10\n"
	_, err := parseDayFile("mem.csv", strings.NewReader(in))

	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SchemaError", err)
	}
	if !strings.Contains(se.Reason, "open") || !strings.Contains(se.Reason, "line 2") {
		t.Errorf("Reason = %q, want line and column", se.Reason)
	}
}

func TestParseDayFileEmpty(t *testing.T) {
	_, err := parseDayFile("mem.csv", strings.NewReader(""))
	var se *SchemaError
	if !errors.As(err, &se) || len(se.Missing) != len(RequiredColumns) {
		t.Errorf("err = %v, want SchemaError naming every column", err)
	}
}

func TestParseDayFileWrongFieldCount(t *testing.T) {
	in := header + "\n" + row("AAA", jan2, 10, 11, 9, 10.5, 1000) + "\nBBB,500,5\n"
	_, err := parseDayFile("mem.csv", strings.NewReader(in))

	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want SchemaError", err)
	}
	if !errors.Is(err, csv.ErrFieldCount) {
		t.Errorf("err = %v, want it to wrap csv.ErrFieldCount", err)
	}
	if !strings.Contains(se.Reason, "line 3") {
		t.Errorf("Reason = %q, want line 3", se.Reason)
	}
}

func TestReadDayFileCorrupt(t *testing.T) {
	dir := t.TempDir()
	for name, data := range map[string]string{
		"empty.csv.gz": "",
		"plain.csv.gz": header + "\n",
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
			t.Fatal(err)
		}

		_, err := readDayFile(path)
		var se *SchemaError
		if !errors.As(err, &se) {
			t.Errorf("%s: err = %v, want SchemaError", name, err)
			continue
		}
		if !errors.Is(err, cache.ErrCorrupt) {
			t.Errorf("%s: err = %v, want it to wrap cache.ErrCorrupt", name, err)
		}
	}

	if _, err := readDayFile(filepath.Join(dir, "absent.csv.gz")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("absent file: err = %v, want ErrNotExist", err)
	}
}
