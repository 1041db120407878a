// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package transform

import (
	"errors"
	"strings"
	"testing"

	"github.com/xeradb/evidence-harvester/internal/source"
	"github.com/xeradb/evidence-harvester/pkg/types"
)

// --- ReconstructAbstract ---

// invertIndex builds a position index by tokenizing s, the inverse of
// reconstruction.
func invertIndex(s string) map[string][]int {
	index := make(map[string][]int)
	for pos, token := range strings.Fields(s) {
		index[token] = append(index[token], pos)
	}
	return index
}

func TestReconstructAbstractRoundTrip(t *testing.T) {
	tests := []string{
		"hello",
		"We propose a new method",
		"the cat sat on the mat",
		"a a a a",
	}
	for _, original := range tests {
		got, err := ReconstructAbstract(invertIndex(original), 0)
		if err != nil {
			t.Errorf("ReconstructAbstract(%q): %v", original, err)
			continue
		}
		if got != original {
			t.Errorf("ReconstructAbstract() = %q, want %q", got, original)
		}
	}
}

func TestReconstructAbstractEmpty(t *testing.T) {
	for _, index := range []map[string][]int{nil, {}} {
		got, err := ReconstructAbstract(index, 0)
		if err != nil || got != "" {
			t.Errorf("ReconstructAbstract(%v) = %q, %v; want empty, nil", index, got, err)
		}
	}
}

func TestReconstructAbstractDeterministic(t *testing.T) {
	index := invertIndex("dental caries is a common chronic disease of childhood")
	a, err := ReconstructAbstract(index, 0)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		b, err := ReconstructAbstract(index, 0)
		if err != nil {
			t.Fatal(err)
		}
		if a != b {
			t.Fatalf("run %d produced %q, earlier run produced %q", i, b, a)
		}
	}
}

func TestReconstructAbstractGap(t *testing.T) {
	// Position 1 is never filled.
	index := map[string][]int{"first": {0}, "third": {2}}
	_, err := ReconstructAbstract(index, 0)
	if !errors.Is(err, ErrAbstractGap) {
		t.Errorf("err = %v, want ErrAbstractGap", err)
	}
}

func TestReconstructAbstractDeclaredLength(t *testing.T) {
	index := map[string][]int{"a": {0}, "b": {1}}

	if got, err := ReconstructAbstract(index, 2); err != nil || got != "a b" {
		t.Errorf("declared length 2: got %q, %v", got, err)
	}
	// Declared length larger than coverage leaves a gap.
	if _, err := ReconstructAbstract(index, 3); !errors.Is(err, ErrAbstractGap) {
		t.Errorf("declared length 3: err = %v, want ErrAbstractGap", err)
	}
}

func TestReconstructAbstractConflictingPosition(t *testing.T) {
	index := map[string][]int{"a": {0, 1}, "b": {1}}
	_, err := ReconstructAbstract(index, 0)
	if !errors.Is(err, ErrAbstractGap) {
		t.Errorf("err = %v, want ErrAbstractGap", err)
	}
}

// --- OpenAlex transformation ---

const sampleWork = `{
  "id": "https://openalex.org/W2741809807",
  "doi": "https://doi.org/10.1234/oh.5678",
  "title": "Dental caries prevalence in children",
  "publication_year": 2020,
  "authorships": [
    {"author": {"display_name": "Jane Kim"}},
    {"author": {"display_name": "Luis Mora"}}
  ],
  "abstract_inverted_index": {"Caries": [0], "is": [1], "common": [2]},
  "primary_location": {"source": {"display_name": "Journal of Dental Research"}},
  "concepts": [{"display_name": "Dentistry"}],
  "mesh": [{"descriptor_name": "Dental Caries"}],
  "cited_by_count": 41
}`

func TestTransformOpenAlexWork(t *testing.T) {
	res, err := Transform(source.RawRecord{Source: "openalex", Data: []byte(sampleWork)})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	rec := res.Record

	if rec.ID != "W2741809807" {
		t.Errorf("ID = %q, want the URL tail", rec.ID)
	}
	if rec.Source != "openalex" || rec.Year != 2020 {
		t.Errorf("Source/Year = %q/%d", rec.Source, rec.Year)
	}
	if rec.Abstract != "Caries is common" {
		t.Errorf("Abstract = %q", rec.Abstract)
	}
	if res.AbstractAnomaly {
		t.Error("AbstractAnomaly set for a well-formed index")
	}
	if rec.Identifiers["doi"] != "10.1234/oh.5678" {
		t.Errorf("doi = %q, want prefix stripped", rec.Identifiers["doi"])
	}
	if len(rec.Authors) != 2 || rec.Authors[0] != "Jane Kim" {
		t.Errorf("Authors = %v", rec.Authors)
	}
	if rec.Venue != "Journal of Dental Research" {
		t.Errorf("Venue = %q", rec.Venue)
	}
	if len(rec.Tags) != 2 {
		t.Errorf("Tags = %v, want concept + mesh descriptor", rec.Tags)
	}
	// The whole work payload rides along untouched.
	if !strings.Contains(string(rec.Raw), `"cited_by_count": 41`) {
		t.Errorf("Raw payload was re-encoded or truncated: %s", rec.Raw)
	}
}

func TestTransformOpenAlexAnomalyKeepsRecord(t *testing.T) {
	work := `{
	  "id": "https://openalex.org/W9",
	  "title": "Broken index",
	  "publication_year": 2019,
	  "abstract_inverted_index": {"skip": [0], "ped": [2]}
	}`
	res, err := Transform(source.RawRecord{Source: "openalex", Data: []byte(work)})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if !res.AbstractAnomaly {
		t.Error("AbstractAnomaly not set for a gapped index")
	}
	if res.Record.Abstract != "" {
		t.Errorf("Abstract = %q, want empty on anomaly", res.Record.Abstract)
	}
	if res.Record.ID != "W9" {
		t.Errorf("anomalous record must still be kept, got ID %q", res.Record.ID)
	}
}

func TestTransformOpenAlexNoID(t *testing.T) {
	_, err := Transform(source.RawRecord{Source: "openalex", Data: []byte(`{"title": "orphan"}`)})
	if !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("err = %v, want ErrMalformedRecord", err)
	}
}

func TestTransformOpenAlexImplausibleYear(t *testing.T) {
	work := `{"id": "https://openalex.org/W10", "title": "t", "publication_year": 219}`
	res, err := Transform(source.RawRecord{Source: "openalex", Data: []byte(work)})
	if err != nil {
		t.Fatal(err)
	}
	if res.Record.Year != types.YearUnknown {
		t.Errorf("Year = %d, want YearUnknown", res.Record.Year)
	}
}

func TestTransformUnknownSource(t *testing.T) {
	_, err := Transform(source.RawRecord{Source: "scopus", Data: []byte("{}")})
	if !errors.Is(err, ErrMalformedRecord) {
		t.Errorf("err = %v, want ErrMalformedRecord", err)
	}
}
