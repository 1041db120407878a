// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package types defines shared data structures for the harvesting pipeline.
package types

import (
	"encoding/json"
	"fmt"
)

// YearUnknown marks a record whose publication year could not be determined.
const YearUnknown = 0

// CanonicalRecord is the normalized, persisted unit of the corpus. Its ID is
// stable across runs: re-fetching the same id is a no-op against the store.
type CanonicalRecord struct {
	// ID is the stable source identifier (OpenAlex work id tail such as
	// "W2741809807", or a PMID).
	ID string `json:"id" yaml:"id"`

	// Source identifies which backend produced this record
	// (e.g. "openalex", "pubmed").
	Source string `json:"source" yaml:"source"`

	// Year is the publication year, or YearUnknown.
	Year int `json:"year,omitempty" yaml:"year,omitempty"`

	// Title is the record title as returned by the source.
	Title string `json:"title" yaml:"title"`

	// Abstract is the abstract text, reconstructed from an inverted index
	// when the source encodes it that way. Empty when absent or when
	// reconstruction failed.
	Abstract string `json:"abstract,omitempty" yaml:"abstract,omitempty"`

	// Authors lists author display names in source order.
	Authors []string `json:"authors,omitempty" yaml:"authors,omitempty"`

	// Venue is the journal or host venue name.
	Venue string `json:"venue,omitempty" yaml:"venue,omitempty"`

	// Identifiers maps identifier schemes to values (doi, pmid, openalex).
	Identifiers map[string]string `json:"identifiers,omitempty" yaml:"identifiers,omitempty"`

	// Tags carries concept and MeSH descriptor names.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`

	// Raw is the source payload, carried through without re-encoding.
	Raw json.RawMessage `json:"raw,omitempty" yaml:"-"`
}

// PartitionStatus tracks a partition through the harvest state machine.
type PartitionStatus string

const (
	PartitionPending  PartitionStatus = "pending"
	PartitionFetching PartitionStatus = "fetching"
	PartitionDone     PartitionStatus = "done"
	PartitionEmpty    PartitionStatus = "empty"
	PartitionFailed   PartitionStatus = "failed"
)

// Terminal reports whether the status is a terminal state. A partition in a
// terminal state is never re-planned unless explicitly reset.
func (s PartitionStatus) Terminal() bool {
	return s == PartitionDone || s == PartitionEmpty || s == PartitionFailed
}

// Partition is the unit of harvesting work: one source and one year window,
// processed independently of every other partition.
type Partition struct {
	// Source names the backend that serves this partition.
	Source string `json:"source" yaml:"source"`

	// YearFrom and YearTo bound the window (inclusive).
	YearFrom int `json:"year_from" yaml:"year_from"`
	YearTo   int `json:"year_to" yaml:"year_to"`

	// Dialect is the query dialect selected for this window
	// ("broad" or "controlled").
	Dialect string `json:"dialect" yaml:"dialect"`

	// Query is the source-specific query expression.
	Query string `json:"query" yaml:"query"`

	Status PartitionStatus `json:"status" yaml:"status"`
}

// Key returns the stable ledger key for the partition.
func (p Partition) Key() string {
	return fmt.Sprintf("%s:%d-%d", p.Source, p.YearFrom, p.YearTo)
}
