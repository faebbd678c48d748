package remotetest

import (
	"context"
	"errors"
	"io"
	"testing"

	"marketlab/internal/remote"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	m.Put("b", "a.csv.gz", []byte("payload"))
	m.Deny("b", "denied.csv.gz")
	m.Vanish("b", "gone.csv.gz")
	m.Fail("b", "broken.csv.gz", errors.New("network down"))

	if o, err := m.Exists(ctx, "b", "a.csv.gz"); err != nil || o != remote.Found {
		t.Errorf("Exists(a) = %v, %v; want found", o, err)
	}
	if o, _ := m.Exists(ctx, "b", "missing.csv.gz"); o != remote.NotFound {
		t.Errorf("Exists(missing) = %v, want not-found", o)
	}
	if o, _ := m.Exists(ctx, "b", "denied.csv.gz"); o != remote.AccessDenied {
		t.Errorf("Exists(denied) = %v, want access-denied", o)
	}
	if _, err := m.Exists(ctx, "b", "broken.csv.gz"); err == nil {
		t.Error("Exists(broken) should fail")
	}

	res, err := m.Fetch(ctx, "b", "a.csv.gz")
	if err != nil || res.Outcome != remote.Found {
		t.Fatalf("Fetch(a) = %v, %v", res.Outcome, err)
	}
	data, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if string(data) != "payload" {
		t.Errorf("body = %q, want payload", data)
	}

	if o, _ := m.Exists(ctx, "b", "gone.csv.gz"); o != remote.Found {
		t.Errorf("Exists(gone) = %v, want found", o)
	}
	if res, _ := m.Fetch(ctx, "b", "gone.csv.gz"); res.Outcome != remote.NotFound || res.Body != nil {
		t.Errorf("Fetch(gone) = %v, want not-found with no body", res.Outcome)
	}

	if m.ListCalls != 5 || m.FetchCalls != 2 {
		t.Errorf("calls = %d list, %d fetch; want 5, 2", m.ListCalls, m.FetchCalls)
	}
}
