// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package source fetches pages of raw bibliographic records from paginated
// literature APIs. Each backend (OpenAlex, PubMed) implements the Backend
// interface per the Strategy pattern.
package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/xeradb/evidence-harvester/internal/query"
)

// Backend fetches one page per call from a single literature API. FetchPage
// is gated by the process-wide rate limiter at the call site; backends only
// perform the round trips a single page requires.
type Backend interface {
	Name() string

	// BuildQuery produces the source-specific query expression for a
	// vocabulary, dialect, scope, and year window.
	BuildQuery(v query.Vocabulary, d query.Dialect, scope query.FieldScope, yearFrom, yearTo int) string

	// FetchPage returns the page at cursor. An empty cursor means the
	// first page. The returned page carries the next cursor, or empty when
	// pagination is exhausted. Transient faults are reported as
	// *TransientError so callers can retry instead of treating them as an
	// empty result.
	FetchPage(ctx context.Context, queryStr, cursor string) (Page, error)
}

// Page is one page of raw records plus continuation state.
type Page struct {
	Records []RawRecord

	// NextCursor locates the following page; empty means exhausted.
	NextCursor string

	// Total is the claimed total-match count for the whole query, as
	// reported by the source with this page.
	Total int
}

// RawRecord is one API-native record: an opaque payload in the source's own
// representation. OpenAlex records are JSON work objects; PubMed records are
// MEDLINE-format text. Transformation into canonical records happens
// downstream and discards the raw form.
type RawRecord struct {
	Source string
	Data   []byte
}

// TransientError marks a fetch failure worth retrying: network faults,
// timeouts, and 429/5xx responses that survived in-call backoff.
type TransientError struct {
	Source string
	Err    error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient %s fetch error: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is (or wraps) a TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
