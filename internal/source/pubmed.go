// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/xeradb/evidence-harvester/internal/httputil"
	"github.com/xeradb/evidence-harvester/internal/query"
	"github.com/xeradb/evidence-harvester/pkg/types"
)

// NCBI E-utilities endpoints. Declared as vars so tests can substitute
// httptest servers.
var (
	eutilsSearchBase = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi"
	eutilsFetchBase  = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/efetch.fcgi"
)

// Gate blocks until one more outbound request fits the process-wide rate
// ceiling. Satisfied by ratelimit.Limiter.
type Gate interface {
	Wait(ctx context.Context) error
}

// PubMedBackend pages through PubMed via the E-utilities two-step pattern:
// esearch for an id page at an offset, then efetch for the MEDLINE text of
// those ids. Its cursor is the decimal retstart offset.
type PubMedBackend struct {
	Client *http.Client
	HTTP   types.HTTPConfig
	Config types.PubMedConfig

	// Gate rate-limits the second round trip of each page. The caller
	// gates the first one before FetchPage. Nil means no extra gating.
	Gate Gate

	// MaxRetries bounds in-call backoff on 429/5xx (0 = package default).
	MaxRetries int
}

// Name returns the backend identifier.
func (b *PubMedBackend) Name() string { return "pubmed" }

// BuildQuery returns the esearch term expression for the window.
func (b *PubMedBackend) BuildQuery(v query.Vocabulary, d query.Dialect, scope query.FieldScope, yearFrom, yearTo int) string {
	return query.PubMedTerm(v, d, scope, yearFrom, yearTo)
}

// FetchPage runs one esearch/efetch round. The returned records are
// MEDLINE-format text, one record per blank-line-separated block.
func (b *PubMedBackend) FetchPage(ctx context.Context, queryStr, cursor string) (Page, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return Page{}, fmt.Errorf("invalid pubmed cursor %q: %w", cursor, err)
		}
		offset = n
	}
	pageSize := b.Config.PageSize
	if pageSize <= 0 {
		pageSize = 200
	}

	count, ids, err := b.search(ctx, queryStr, offset, pageSize)
	if err != nil {
		return Page{}, err
	}
	if len(ids) == 0 {
		return Page{Total: count}, nil
	}

	if b.Gate != nil {
		if err := b.Gate.Wait(ctx); err != nil {
			return Page{}, err
		}
	}

	records, err := b.fetchMedline(ctx, ids)
	if err != nil {
		return Page{}, err
	}

	page := Page{Records: records, Total: count}
	if next := offset + len(ids); next < count {
		page.NextCursor = strconv.Itoa(next)
	}
	return page, nil
}

// search runs esearch and returns the claimed total and the id page.
func (b *PubMedBackend) search(ctx context.Context, term string, offset, limit int) (int, []string, error) {
	params := url.Values{
		"db":       {"pubmed"},
		"term":     {term},
		"retmode":  {"json"},
		"retstart": {strconv.Itoa(offset)},
		"retmax":   {strconv.Itoa(limit)},
	}
	b.identify(params)

	body, err := b.get(ctx, eutilsSearchBase, params)
	if err != nil {
		return 0, nil, err
	}

	var es esearchEnvelope
	if err := json.Unmarshal(body, &es); err != nil {
		return 0, nil, fmt.Errorf("parsing esearch response: %w", err)
	}
	// NCBI encodes the count as a JSON string.
	count, err := strconv.Atoi(es.Result.Count)
	if err != nil {
		return 0, nil, fmt.Errorf("esearch count %q: %w", es.Result.Count, err)
	}
	return count, es.Result.IDList, nil
}

// fetchMedline runs efetch for ids and splits the MEDLINE stream into
// per-record raw payloads.
func (b *PubMedBackend) fetchMedline(ctx context.Context, ids []string) ([]RawRecord, error) {
	params := url.Values{
		"db":      {"pubmed"},
		"id":      {strings.Join(ids, ",")},
		"rettype": {"medline"},
		"retmode": {"text"},
	}
	b.identify(params)

	body, err := b.get(ctx, eutilsFetchBase, params)
	if err != nil {
		return nil, err
	}

	var records []RawRecord
	for _, block := range splitMedline(body) {
		records = append(records, RawRecord{Source: b.Name(), Data: block})
	}
	return records, nil
}

func (b *PubMedBackend) identify(params url.Values) {
	if b.Config.APIKey != "" {
		params.Set("api_key", b.Config.APIKey)
	}
	tool := b.Config.Tool
	if tool == "" {
		tool = "evidence-harvester"
	}
	params.Set("tool", tool)
}

func (b *PubMedBackend) get(ctx context.Context, base string, params url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", b.HTTP.UserAgent)

	resp, err := httputil.DoWithRetry(ctx, b.Client, req, b.MaxRetries)
	if err != nil {
		return nil, &TransientError{Source: b.Name(), Err: err}
	}
	defer resp.Body.Close()

	if httputil.Retryable(resp.StatusCode) {
		return nil, &TransientError{Source: b.Name(), Err: fmt.Errorf("HTTP %d after retries", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("E-utilities returned HTTP %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransientError{Source: b.Name(), Err: fmt.Errorf("reading response: %w", err)}
	}
	return body, nil
}

// splitMedline splits an efetch MEDLINE stream into records. Records are
// separated by blank lines; a record's first tag is normally PMID.
func splitMedline(data []byte) [][]byte {
	var records [][]byte
	for _, block := range bytes.Split(bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n")), []byte("\n\n")) {
		block = bytes.TrimSpace(block)
		if len(block) > 0 {
			records = append(records, block)
		}
	}
	return records
}

type esearchEnvelope struct {
	Result esearchResult `json:"esearchresult"`
}

type esearchResult struct {
	Count  string   `json:"count"`
	IDList []string `json:"idlist"`
}
