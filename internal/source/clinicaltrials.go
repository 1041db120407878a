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

// Overridable in tests.
var clinicalTrialsStudiesBase = "https://clinicaltrials.gov/api/v2/studies"

// clinicalTrialsMaxPageSize is the largest page the v2 API serves.
const clinicalTrialsMaxPageSize = 100

// ClinicalTrialsBackend pages through the ClinicalTrials.gov v2 studies
// endpoint with opaque pageToken continuation.
type ClinicalTrialsBackend struct {
	Client *http.Client
	HTTP   types.HTTPConfig
	Config types.ClinicalTrialsConfig

	// MaxRetries bounds in-call backoff on 429/5xx (0 = package default).
	MaxRetries int
}

// Name returns the backend identifier.
func (b *ClinicalTrialsBackend) Name() string { return "clinicaltrials" }

// BuildQuery returns the Essie expression for the window. The registry has
// no controlled vocabulary, so the dialect does not change the form.
func (b *ClinicalTrialsBackend) BuildQuery(v query.Vocabulary, _ query.Dialect, _ query.FieldScope, yearFrom, yearTo int) string {
	return query.ClinicalTrialsExpr(v, yearFrom, yearTo)
}

// FetchPage performs one studies request and returns its records, the next
// pageToken, and the claimed total-match count. The API only reports the
// total when countTotal is requested, so it is asked for on the first page.
func (b *ClinicalTrialsBackend) FetchPage(ctx context.Context, queryStr, cursor string) (Page, error) {
	pageSize := b.Config.PageSize
	if pageSize <= 0 || pageSize > clinicalTrialsMaxPageSize {
		pageSize = clinicalTrialsMaxPageSize
	}

	params := url.Values{
		"query.term": {queryStr},
		"pageSize":   {strconv.Itoa(pageSize)},
		"format":     {"json"},
	}
	if cursor == "" {
		params.Set("countTotal", "true")
	} else {
		params.Set("pageToken", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, clinicalTrialsStudiesBase+"?"+params.Encode(), nil)
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
		return Page{}, fmt.Errorf("ClinicalTrials.gov API returned HTTP %d", resp.StatusCode)
	}

	var ctr clinicalTrialsPage
	if err := json.NewDecoder(resp.Body).Decode(&ctr); err != nil {
		return Page{}, fmt.Errorf("parsing ClinicalTrials.gov response: %w", err)
	}

	page := Page{Total: ctr.TotalCount}
	for _, study := range ctr.Studies {
		page.Records = append(page.Records, RawRecord{Source: b.Name(), Data: study})
	}
	if ctr.NextPageToken != "" && len(ctr.Studies) > 0 {
		page.NextCursor = ctr.NextPageToken
	}
	return page, nil
}

// ClinicalTrials.gov API JSON envelope. Study payloads stay raw so the
// transformer can carry them through without re-encoding.
type clinicalTrialsPage struct {
	Studies       []json.RawMessage `json:"studies"`
	NextPageToken string            `json:"nextPageToken"`
	TotalCount    int               `json:"totalCount"`
}
