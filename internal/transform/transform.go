// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package transform converts raw API records into canonical corpus records,
// including abstract reconstruction from the inverted-index representation
// some sources use.
package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/xeradb/evidence-harvester/internal/source"
	"github.com/xeradb/evidence-harvester/pkg/types"
)

// ErrMalformedRecord marks a raw record that cannot be parsed into at least
// an id. Such records are dropped and counted; they never reach the store.
var ErrMalformedRecord = errors.New("malformed record")

// ErrAbstractGap marks an inverted index that left positions unfilled.
// Reconstruction fails softly: the record is kept with an empty abstract.
var ErrAbstractGap = errors.New("abstract index leaves positions unfilled")

// Result is a transformed record plus its anomaly flag.
type Result struct {
	Record *types.CanonicalRecord

	// AbstractAnomaly is set when the source carried an inverted abstract
	// index that could not be reconstructed.
	AbstractAnomaly bool
}

// Transform normalizes one raw record. Two runs over the same raw record
// produce byte-identical canonical records.
func Transform(raw source.RawRecord) (Result, error) {
	switch raw.Source {
	case "openalex":
		return fromOpenAlexWork(raw.Data)
	case "pubmed":
		return fromMedline(raw.Data)
	case "clinicaltrials":
		return fromClinicalTrialsStudy(raw.Data)
	default:
		return Result{}, fmt.Errorf("%w: unknown source %q", ErrMalformedRecord, raw.Source)
	}
}

// ReconstructAbstract rebuilds abstract text from a token→positions index.
// The sequence length is the declared length when positive, otherwise the
// maximum observed position + 1. Every slot must be covered by exactly one
// token or reconstruction fails with ErrAbstractGap. Runs in O(total
// positions); no re-scanning.
func ReconstructAbstract(index map[string][]int, length int) (string, error) {
	if len(index) == 0 {
		return "", nil
	}

	n := length
	if n <= 0 {
		for _, positions := range index {
			for _, pos := range positions {
				if pos+1 > n {
					n = pos + 1
				}
			}
		}
	}

	slots := make([]string, n)
	filled := make([]bool, n)
	placed := 0
	for token, positions := range index {
		for _, pos := range positions {
			if pos < 0 || pos >= n {
				return "", fmt.Errorf("%w: position %d outside [0,%d)", ErrAbstractGap, pos, n)
			}
			if filled[pos] {
				if slots[pos] != token {
					return "", fmt.Errorf("%w: position %d claimed by two tokens", ErrAbstractGap, pos)
				}
				continue
			}
			slots[pos] = token
			filled[pos] = true
			placed++
		}
	}
	if placed != n {
		return "", fmt.Errorf("%w: %d of %d positions filled", ErrAbstractGap, placed, n)
	}

	return strings.Join(slots, " "), nil
}

// fromOpenAlexWork maps an OpenAlex work onto the canonical schema. The full
// work JSON is carried through opaquely in Raw.
func fromOpenAlexWork(data []byte) (Result, error) {
	var work openAlexWork
	if err := json.Unmarshal(data, &work); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}

	// The stable id is the tail of the OpenAlex URL ("W2741809807").
	id := work.ID
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	if id == "" {
		return Result{}, fmt.Errorf("%w: work has no id", ErrMalformedRecord)
	}

	rec := &types.CanonicalRecord{
		ID:          id,
		Source:      "openalex",
		Year:        normalizeYear(work.PublicationYear),
		Title:       work.Title,
		Identifiers: map[string]string{"openalex": work.ID},
		Raw:         json.RawMessage(data),
	}

	if work.DOI != "" {
		rec.Identifiers["doi"] = strings.TrimPrefix(work.DOI, "https://doi.org/")
	}
	for _, authorship := range work.Authorships {
		if authorship.Author.DisplayName != "" {
			rec.Authors = append(rec.Authors, authorship.Author.DisplayName)
		}
	}
	rec.Venue = work.PrimaryLocation.Source.DisplayName
	for _, c := range work.Concepts {
		if c.DisplayName != "" {
			rec.Tags = append(rec.Tags, c.DisplayName)
		}
	}
	for _, m := range work.Mesh {
		if m.DescriptorName != "" {
			rec.Tags = append(rec.Tags, m.DescriptorName)
		}
	}

	res := Result{Record: rec}
	abstract, err := ReconstructAbstract(work.AbstractInvertedIndex, 0)
	if err != nil {
		res.AbstractAnomaly = true
	} else {
		rec.Abstract = abstract
	}
	return res, nil
}

// normalizeYear maps implausible years to YearUnknown. The bounds match the
// earliest indexed literature and a small horizon past the present.
func normalizeYear(year int) int {
	if year < 1800 || year > 2030 {
		return types.YearUnknown
	}
	return year
}

// OpenAlex work JSON structure (envelope fields only; the remainder rides
// along in Raw).
type openAlexWork struct {
	ID                    string               `json:"id"`
	DOI                   string               `json:"doi"`
	Title                 string               `json:"title"`
	PublicationYear       int                  `json:"publication_year"`
	Authorships           []openAlexAuthorship `json:"authorships"`
	AbstractInvertedIndex map[string][]int     `json:"abstract_inverted_index"`
	PrimaryLocation       openAlexLocation     `json:"primary_location"`
	Concepts              []openAlexConcept    `json:"concepts"`
	Mesh                  []openAlexMesh       `json:"mesh"`
}

type openAlexAuthorship struct {
	Author openAlexAuthor `json:"author"`
}

type openAlexAuthor struct {
	DisplayName string `json:"display_name"`
}

type openAlexLocation struct {
	Source openAlexVenue `json:"source"`
}

type openAlexVenue struct {
	DisplayName string `json:"display_name"`
}

type openAlexConcept struct {
	DisplayName string `json:"display_name"`
}

type openAlexMesh struct {
	DescriptorName string `json:"descriptor_name"`
}
