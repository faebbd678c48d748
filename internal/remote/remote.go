// Package remote talks to the object store that publishes daily flat files.
// Lookups report an explicit Outcome so callers handle "not published" and
// "access denied" without inspecting error values; only transport and
// unknown failures come back as errors.
package remote

import (
	"context"
	"io"
)

// Outcome classifies the result of an existence check or a fetch.
type Outcome int

const (
	// NotFound means the object is absent: a weekend, a holiday, or a day
	// that has not been published yet.
	NotFound Outcome = iota
	// Found means the object exists (and, for a fetch, Body is set).
	Found
	// AccessDenied means the store refused the request, typically because
	// the day falls outside the account's history window.
	AccessDenied
)

func (o Outcome) String() string {
	switch o {
	case Found:
		return "found"
	case NotFound:
		return "not-found"
	case AccessDenied:
		return "access-denied"
	default:
		return "unknown"
	}
}

// Missing reports whether the outcome means "nothing to download".
func (o Outcome) Missing() bool { return o != Found }

// FetchResult is the outcome of a fetch. Body is non-nil only for Found and
// must be closed by the caller.
type FetchResult struct {
	Outcome Outcome
	Body    io.ReadCloser
	Code    string // provider error code behind NotFound/AccessDenied, if any
}

// ObjectStore is the subset of an S3-style API the pipeline needs.
type ObjectStore interface {
	// Exists checks for key with a cheap listing call rather than a full
	// metadata fetch.
	Exists(ctx context.Context, bucket, key string) (Outcome, error)

	// Fetch opens key for streaming.
	Fetch(ctx context.Context, bucket, key string) (FetchResult, error)
}

// missingCodes are provider error codes that mean the object is not
// available rather than that the request failed.
var missingCodes = map[string]Outcome{
	"NoSuchKey":    NotFound,
	"NotFound":     NotFound,
	"404":          NotFound,
	"AccessDenied": AccessDenied,
	"Forbidden":    AccessDenied,
	"403":          AccessDenied,
}

// ClassifyCode maps a provider error code to an Outcome. ok is false for
// codes that denote a real failure.
func ClassifyCode(code string) (o Outcome, ok bool) {
	o, ok = missingCodes[code]
	return o, ok
}
