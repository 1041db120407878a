// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/xeradb/evidence-harvester/internal/httputil"
	"github.com/xeradb/evidence-harvester/internal/query"
	"github.com/xeradb/evidence-harvester/pkg/types"
)

// openAlexWorksBase is the OpenAlex works endpoint. Declared as a var so
// tests can substitute an httptest server.
var openAlexWorksBase = "https://api.openalex.org/works"

// firstPageCursor starts OpenAlex cursor pagination.
const firstPageCursor = "*"

// defaultOpenAlexSelect trims works to the fields the corpus keeps. The
// full work object is large; selecting fields keeps page payloads small.
const defaultOpenAlexSelect = "id,doi,title,publication_year,publication_date,type," +
	"authorships,concepts,abstract_inverted_index,cited_by_count,primary_location," +
	"mesh,topics,keywords,language,open_access"

// OpenAlexBackend pages through the works endpoint with opaque continuation
// cursors.
type OpenAlexBackend struct {
	Client *http.Client
	HTTP   types.HTTPConfig
	Config types.OpenAlexConfig

	// MaxRetries bounds in-call backoff on 429/5xx (0 = package default).
	MaxRetries int
}

// Name returns the backend identifier.
func (b *OpenAlexBackend) Name() string { return "openalex" }

// BuildQuery returns the filter expression for the window. OpenAlex has no
// controlled-vocabulary filter, so the dialect does not change the form.
func (b *OpenAlexBackend) BuildQuery(v query.Vocabulary, _ query.Dialect, scope query.FieldScope, yearFrom, yearTo int) string {
	return query.OpenAlexFilter(v, scope, yearFrom, yearTo)
}

// FetchPage performs one works request and returns its records, the next
// cursor from meta.next_cursor, and the claimed total-match count.
func (b *OpenAlexBackend) FetchPage(ctx context.Context, queryStr, cursor string) (Page, error) {
	if cursor == "" {
		cursor = firstPageCursor
	}
	pageSize := b.Config.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}
	sel := b.Config.Select
	if sel == "" {
		sel = defaultOpenAlexSelect
	}

	params := url.Values{
		"filter":   {queryStr},
		"cursor":   {cursor},
		"per-page": {strconv.Itoa(pageSize)},
		"select":   {sel},
	}
	if b.Config.Email != "" {
		params.Set("mailto", b.Config.Email)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAlexWorksBase+"?"+params.Encode(), nil)
	if err != nil {
		return Page{}, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", b.HTTP.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, b.MaxRetries)
	if err != nil {
		return Page{}, &TransientError{Source: b.Name(), Err: err}
	}
	defer resp.Body.Close()

	if httputil.Retryable(resp.StatusCode) {
		return Page{}, &TransientError{Source: b.Name(), Err: fmt.Errorf("HTTP %d after retries", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return Page{}, fmt.Errorf("OpenAlex API returned HTTP %d", resp.StatusCode)
	}

	var oar openAlexPage
	if err := json.NewDecoder(resp.Body).Decode(&oar); err != nil {
		return Page{}, fmt.Errorf("parsing OpenAlex response: %w", err)
	}

	page := Page{Total: oar.Meta.Count}
	for _, work := range oar.Results {
		page.Records = append(page.Records, RawRecord{Source: b.Name(), Data: work})
	}
	// An empty result page ends pagination regardless of the cursor the
	// API hands back.
	if oar.Meta.NextCursor != "" && len(oar.Results) > 0 {
		page.NextCursor = oar.Meta.NextCursor
	}
	return page, nil
}

// OpenAlex API JSON envelope. Work payloads stay raw so the transformer
// can carry them through without re-encoding.
type openAlexPage struct {
	Meta    openAlexMeta      `json:"meta"`
	Results []json.RawMessage `json:"results"`
}

type openAlexMeta struct {
	Count      int    `json:"count"`
	PerPage    int    `json:"per_page"`
	NextCursor string `json:"next_cursor"`
}
