// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package query builds search expressions for the harvest sources. Builders
// are pure functions: the same vocabulary, scope, and year window always
// produce the same query string.
package query

import (
	"fmt"
	"strings"
)

// Dialect selects a query-construction policy.
type Dialect string

const (
	// DialectBroad is the free-text OR-of-terms form, used for years where
	// controlled-vocabulary coverage is known to be incomplete.
	DialectBroad Dialect = "broad"

	// DialectControlled is the precision-oriented major-topic form.
	DialectControlled Dialect = "controlled"
)

// FieldScope selects which fields broad queries match against.
type FieldScope string

const (
	ScopeTitle    FieldScope = "title"
	ScopeAbstract FieldScope = "abstract"
	ScopeBoth     FieldScope = "both"
)

// DefaultCutoverYear is the first year indexed with the controlled
// vocabulary; MEDLINE MeSH indexing begins in 1966.
const DefaultCutoverYear = 1966

// Vocabulary is the term set a sweep searches for: free-text synonyms for
// the broad dialect and curated major-topic headings for the controlled one.
type Vocabulary struct {
	Terms       []string `yaml:"terms"`
	MajorTopics []string `yaml:"major_topics"`
}

// DefaultVocabulary returns the built-in oral health vocabulary.
func DefaultVocabulary() Vocabulary {
	return Vocabulary{
		Terms: []string{
			"dental", "dentistry", "oral health", "oral medicine", "stomatology",
			"odontology", "maxillofacial", "orofacial", "periodontal", "endodontic",
			"orthodontic", "prosthodontic", "oral surgery", "periodontics",
			"endodontics", "orthodontics", "prosthodontics", "pediatric dentistry",
			"oral pathology", "oral biology", "teeth", "tooth", "gingiva", "gums",
			"oral cavity", "dental caries", "tooth decay", "periodontitis",
			"gingivitis", "oral cancer", "dental implant", "root canal",
			"dental restoration", "dentures", "braces", "oral hygiene",
			"dental materials", "oral microbiology", "dental radiography",
		},
		MajorTopics: []string{
			"Stomatognathic Diseases", "Dentistry", "Oral Health",
		},
	}
}

// SelectDialect picks the dialect for a partition whose window ends at
// yearTo. Windows entirely before the cutover use the broad free-text form;
// later windows use the controlled-vocabulary form. A cutover of zero means
// DefaultCutoverYear.
func SelectDialect(yearTo, cutover int) Dialect {
	if cutover <= 0 {
		cutover = DefaultCutoverYear
	}
	if yearTo < cutover {
		return DialectBroad
	}
	return DialectControlled
}

// OpenAlexFilter builds the filter parameter for the OpenAlex works
// endpoint: an OR over per-field search clauses for every vocabulary term,
// AND-combined with the publication-date window. OpenAlex has no controlled
// vocabulary filter, so both dialects use the term set.
func OpenAlexFilter(v Vocabulary, scope FieldScope, yearFrom, yearTo int) string {
	var clauses []string
	for _, term := range v.Terms {
		if scope == ScopeTitle || scope == ScopeBoth {
			clauses = append(clauses, fmt.Sprintf("title.search:%q", term))
		}
	}
	for _, term := range v.Terms {
		if scope == ScopeAbstract || scope == ScopeBoth {
			clauses = append(clauses, fmt.Sprintf("abstract.search:%q", term))
		}
	}

	filter := strings.Join(clauses, "|")
	if yearFrom > 0 {
		filter += fmt.Sprintf(",from_publication_date:%d-01-01", yearFrom)
	}
	if yearTo > 0 {
		filter += fmt.Sprintf(",to_publication_date:%d-12-31", yearTo)
	}
	return filter
}

// PubMedTerm builds the term parameter for the E-utilities esearch
// endpoint. The broad dialect ORs every free-text term over the scoped
// fields; the controlled dialect ORs the major-topic headings. Both are
// AND-combined with a [dp] date-range clause.
func PubMedTerm(v Vocabulary, d Dialect, scope FieldScope, yearFrom, yearTo int) string {
	var clauses []string
	switch d {
	case DialectControlled:
		for _, topic := range v.MajorTopics {
			clauses = append(clauses, fmt.Sprintf("%q[MeSH Major Topic]", topic))
		}
	default:
		field := pubmedField(scope)
		for _, term := range v.Terms {
			clauses = append(clauses, fmt.Sprintf("%q[%s]", term, field))
		}
	}

	term := "(" + strings.Join(clauses, " OR ") + ")"
	if yearFrom > 0 && yearTo > 0 {
		term += fmt.Sprintf(` AND ("%d"[dp] : "%d"[dp])`, yearFrom, yearTo)
	}
	return term
}

// ClinicalTrialsExpr builds the Essie query.term expression for the
// ClinicalTrials.gov v2 studies endpoint: an OR over the quoted vocabulary
// terms, AND-combined with a start-date window. The registry has no
// controlled vocabulary, so both dialects use the term set.
func ClinicalTrialsExpr(v Vocabulary, yearFrom, yearTo int) string {
	clauses := make([]string, 0, len(v.Terms))
	for _, term := range v.Terms {
		clauses = append(clauses, fmt.Sprintf("%q", term))
	}

	expr := "(" + strings.Join(clauses, " OR ") + ")"
	if yearFrom > 0 && yearTo > 0 {
		expr += fmt.Sprintf(" AND AREA[StartDate]RANGE[%d-01-01,%d-12-31]", yearFrom, yearTo)
	}
	return expr
}

func pubmedField(scope FieldScope) string {
	switch scope {
	case ScopeTitle:
		return "Title"
	case ScopeAbstract:
		return "Abstract"
	default:
		return "Title/Abstract"
	}
}
