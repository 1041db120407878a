// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package transform

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/xeradb/evidence-harvester/pkg/types"
)

// yearPattern extracts a four-digit year from MEDLINE date fields such as
// "2020 Mar 15" or "1998 Winter".
var yearPattern = regexp.MustCompile(`\b(\d{4})\b`)

// fromMedline parses one MEDLINE-format text record into a canonical
// record. Every tag is carried through in Raw as a tag→values map so no
// field the source returned is lost.
func fromMedline(data []byte) (Result, error) {
	fields, order := parseMedlineFields(string(data))

	pmids := fields["PMID"]
	if len(pmids) == 0 || pmids[0] == "" {
		return Result{}, fmt.Errorf("%w: MEDLINE record has no PMID", ErrMalformedRecord)
	}
	pmid := pmids[0]

	rec := &types.CanonicalRecord{
		ID:          pmid,
		Source:      "pubmed",
		Title:       strings.Join(fields["TI"], " "),
		Abstract:    strings.Join(fields["AB"], " "),
		Identifiers: map[string]string{"pmid": pmid},
	}

	// Publication year from DP, with the Entrez date as fallback.
	rec.Year = medlineYear(first(fields["DP"]))
	if rec.Year == types.YearUnknown {
		rec.Year = medlineYear(first(fields["EDAT"]))
	}

	if venue := first(fields["JT"]); venue != "" {
		rec.Venue = venue
	} else {
		rec.Venue = first(fields["TA"])
	}

	// Prefer full author names, falling back to short forms.
	authors := fields["FAU"]
	if len(authors) == 0 {
		authors = fields["AU"]
	}
	rec.Authors = append(rec.Authors, authors...)

	for _, mh := range fields["MH"] {
		if d := meshDescriptor(mh); d != "" {
			rec.Tags = append(rec.Tags, d)
		}
	}
	rec.Tags = append(rec.Tags, fields["OT"]...)

	for _, aid := range fields["AID"] {
		if strings.HasSuffix(aid, "[doi]") {
			rec.Identifiers["doi"] = strings.TrimSpace(strings.TrimSuffix(aid, "[doi]"))
		}
	}

	raw, err := marshalMedlineFields(fields, order)
	if err != nil {
		return Result{}, fmt.Errorf("encoding MEDLINE fields: %w", err)
	}
	rec.Raw = raw

	return Result{Record: rec}, nil
}

// parseMedlineFields splits a record into tag→values. A field line is
// "TAG - value" with the tag padded to four columns; lines indented with
// spaces continue the previous value. Field order is preserved for the
// opaque passthrough.
func parseMedlineFields(text string) (map[string][]string, []string) {
	fields := make(map[string][]string)
	var order []string
	var tag string

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if len(line) >= 6 && line[4:6] == "- " {
			tag = strings.TrimSpace(line[:4])
			if _, seen := fields[tag]; !seen {
				order = append(order, tag)
			}
			fields[tag] = append(fields[tag], strings.TrimSpace(line[6:]))
			continue
		}
		// Continuation line: extend the last value of the current tag.
		if tag != "" && strings.HasPrefix(line, " ") {
			values := fields[tag]
			if len(values) > 0 {
				values[len(values)-1] += " " + strings.TrimSpace(line)
			}
		}
	}
	return fields, order
}

// medlineYear extracts a plausible publication year from a date field.
func medlineYear(s string) int {
	m := yearPattern.FindStringSubmatch(s)
	if m == nil {
		return types.YearUnknown
	}
	year, err := strconv.Atoi(m[1])
	if err != nil {
		return types.YearUnknown
	}
	return normalizeYear(year)
}

// meshDescriptor strips qualifiers (text after /) and the major-topic
// asterisk from a MeSH heading, keeping the bare descriptor.
func meshDescriptor(mh string) string {
	if i := strings.Index(mh, "/"); i >= 0 {
		mh = mh[:i]
	}
	return strings.TrimSpace(strings.Trim(mh, "*"))
}

// marshalMedlineFields encodes the tag map in original tag order so the raw
// payload is deterministic.
func marshalMedlineFields(fields map[string][]string, order []string) (json.RawMessage, error) {
	var b strings.Builder
	b.WriteByte('{')
	for i, tag := range order {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(tag)
		if err != nil {
			return nil, err
		}
		values, err := json.Marshal(fields[tag])
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		b.Write(values)
	}
	b.WriteByte('}')
	return json.RawMessage(b.String()), nil
}

func first(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
