// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package harvest

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xeradb/evidence-harvester/internal/ledger"
	"github.com/xeradb/evidence-harvester/internal/query"
	"github.com/xeradb/evidence-harvester/internal/ratelimit"
	"github.com/xeradb/evidence-harvester/internal/source"
	"github.com/xeradb/evidence-harvester/internal/stats"
	"github.com/xeradb/evidence-harvester/internal/store"
	"github.com/xeradb/evidence-harvester/pkg/types"
)

func init() {
	RetryBaseDelay = time.Millisecond
}

// fakeBackend serves canned pages keyed by query expression. Queries are
// year-scoped so each partition sees its own page sequence.
type fakeBackend struct {
	name  string
	pages map[string][]source.Page
	errs  map[string]error

	mu    sync.Mutex
	calls map[string]int
}

func (b *fakeBackend) Name() string { return b.name }

func (b *fakeBackend) BuildQuery(_ query.Vocabulary, _ query.Dialect, _ query.FieldScope, yearFrom, _ int) string {
	return fmt.Sprintf("%s-%d", b.name, yearFrom)
}

func (b *fakeBackend) FetchPage(_ context.Context, queryStr, cursor string) (source.Page, error) {
	b.mu.Lock()
	if b.calls == nil {
		b.calls = make(map[string]int)
	}
	b.calls[queryStr]++
	b.mu.Unlock()

	if err, ok := b.errs[queryStr]; ok {
		return source.Page{}, err
	}
	idx := 0
	if cursor != "" {
		var err error
		idx, err = strconv.Atoi(cursor)
		if err != nil {
			return source.Page{}, err
		}
	}
	pages := b.pages[queryStr]
	if idx >= len(pages) {
		return source.Page{}, nil
	}
	return pages[idx], nil
}

func workRecord(id string, year int) source.RawRecord {
	data := fmt.Sprintf(`{"id": "https://openalex.org/%s", "title": "Work %s", "publication_year": %d}`, id, id, year)
	return source.RawRecord{Source: "openalex", Data: []byte(data)}
}

// pageSeq builds a page sequence with incrementing offset cursors so the
// fake backend can replay it page by page.
func pageSeq(total int, recordPages ...[]source.RawRecord) []source.Page {
	pages := make([]source.Page, len(recordPages))
	for i, recs := range recordPages {
		next := ""
		if i < len(recordPages)-1 {
			next = strconv.Itoa(i + 1)
		}
		pages[i] = source.Page{Records: recs, NextCursor: next, Total: total}
	}
	return pages
}

type fixture struct {
	orch *Orchestrator
	out  *bytes.Buffer
	dir  string
}

func newFixture(t *testing.T, settings HarvestSettings, backends ...source.Backend) *fixture {
	t.Helper()
	dir := t.TempDir()
	settings.OutputDir = dir

	st, err := store.NewFileStore(dir)
	require.NoError(t, err)
	led, err := ledger.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	out := &bytes.Buffer{}
	return &fixture{
		orch: &Orchestrator{
			Config:   settings,
			Backends: backends,
			Limiter:  ratelimit.New(types.RateLimitConfig{RequestsPerSecond: 10000, Burst: 100}),
			Store:    st,
			Ledger:   led,
			Stats:    stats.New("test-run"),
			Out:      out,
		},
		out: out,
		dir: dir,
	}
}

func settings(yearFrom, yearTo int) HarvestSettings {
	return HarvestSettings{
		YearFrom:   yearFrom,
		YearTo:     yearTo,
		Scope:      query.ScopeBoth,
		Vocabulary: query.DefaultVocabulary(),
		Workers:    2,
	}
}

func TestPlan(t *testing.T) {
	b := &fakeBackend{name: "openalex"}
	f := newFixture(t, settings(1998, 2000), b)

	partitions := f.orch.Plan()
	require.Len(t, partitions, 3)
	assert.Equal(t, "openalex:1998-1998", partitions[0].Key())
	assert.Equal(t, "openalex:2000-2000", partitions[2].Key())
	for _, p := range partitions {
		assert.Equal(t, types.PartitionPending, p.Status)
		assert.Equal(t, "openalex-"+strconv.Itoa(p.YearFrom), p.Query)
		assert.Equal(t, string(query.DialectControlled), p.Dialect)
	}
}

func TestPlanDialectCutover(t *testing.T) {
	b := &fakeBackend{name: "pubmed"}
	f := newFixture(t, settings(1965, 1966), b)

	partitions := f.orch.Plan()
	require.Len(t, partitions, 2)
	assert.Equal(t, string(query.DialectBroad), partitions[0].Dialect)
	assert.Equal(t, string(query.DialectControlled), partitions[1].Dialect)
}

func TestRunMultiPagePartition(t *testing.T) {
	b := &fakeBackend{
		name: "openalex",
		pages: map[string][]source.Page{
			"openalex-2000": pageSeq(3,
				[]source.RawRecord{workRecord("W1", 2000), workRecord("W2", 2000)},
				[]source.RawRecord{workRecord("W3", 2000)},
			),
		},
	}
	f := newFixture(t, settings(2000, 2000), b)

	summary, err := f.orch.Run(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, int64(3), f.orch.Stats.Total(stats.OutcomeFetched))
	assert.Equal(t, 2, b.calls["openalex-2000"])
	for _, id := range []string{"W1", "W2", "W3"} {
		assert.True(t, f.orch.Store.Exists(id))
	}

	rows, err := f.orch.Ledger.List()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.PartitionDone, rows[0].Status)
	assert.Equal(t, 3, rows[0].Fetched)
	assert.Equal(t, 3, rows[0].TotalMatches)
	assert.Equal(t, "run-1", summary.RunID)
}

func TestRunSecondSweepSkipsEverything(t *testing.T) {
	b := &fakeBackend{
		name: "openalex",
		pages: map[string][]source.Page{
			"openalex-2000": pageSeq(2, []source.RawRecord{workRecord("W1", 2000), workRecord("W2", 2000)}),
		},
	}
	f := newFixture(t, settings(2000, 2000), b)

	_, err := f.orch.Run(context.Background(), "run-1")
	require.NoError(t, err)

	// Terminal partitions are not re-fetched at all.
	_, err = f.orch.Run(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, 1, b.calls["openalex-2000"])
	assert.Contains(t, f.out.String(), "skipped: openalex:2000-2000 (already done)")
}

func TestRunIdempotentAfterReset(t *testing.T) {
	b := &fakeBackend{
		name: "openalex",
		pages: map[string][]source.Page{
			"openalex-2000": pageSeq(2, []source.RawRecord{workRecord("W1", 2000), workRecord("W2", 2000)}),
		},
	}
	f := newFixture(t, settings(2000, 2000), b)

	_, err := f.orch.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.orch.Stats.Total(stats.OutcomeFetched))

	// After a full reset the partition refetches, but every record already
	// exists on disk and is skipped by the store.
	_, err = f.orch.Ledger.ResetAll()
	require.NoError(t, err)
	f.orch.Stats = stats.New("run-2")

	_, err = f.orch.Run(context.Background(), "run-2")
	require.NoError(t, err)
	assert.Equal(t, int64(0), f.orch.Stats.Total(stats.OutcomeFetched))
	assert.Equal(t, int64(2), f.orch.Stats.Total(stats.OutcomeSkippedExisting))
}

func TestRunEmptyPartition(t *testing.T) {
	b := &fakeBackend{
		name:  "openalex",
		pages: map[string][]source.Page{"openalex-2000": {{Total: 0}}},
	}
	f := newFixture(t, settings(2000, 2000), b)

	_, err := f.orch.Run(context.Background(), "run-1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), f.orch.Stats.Total(stats.OutcomeEmptyPartition))
	rows, err := f.orch.Ledger.List()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.PartitionEmpty, rows[0].Status)
}

func TestRunPartitionIsolation(t *testing.T) {
	b := &fakeBackend{
		name: "openalex",
		pages: map[string][]source.Page{
			"openalex-2000": pageSeq(1, []source.RawRecord{workRecord("W1", 2000)}),
			"openalex-2002": pageSeq(1, []source.RawRecord{workRecord("W3", 2002)}),
		},
		errs: map[string]error{
			"openalex-2001": &source.TransientError{Source: "openalex", Err: fmt.Errorf("boom")},
		},
	}
	f := newFixture(t, settings(2000, 2002), b)

	_, err := f.orch.Run(context.Background(), "run-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 3 partitions failed")

	// Healthy partitions complete despite the failing neighbor.
	assert.True(t, f.orch.Store.Exists("W1"))
	assert.True(t, f.orch.Store.Exists("W3"))
	assert.Equal(t, int64(1), f.orch.Stats.Total(stats.OutcomeFetchError))

	rows, err := f.orch.Ledger.List()
	require.NoError(t, err)
	byKey := map[string]types.PartitionStatus{}
	for _, r := range rows {
		byKey[r.Key] = r.Status
	}
	assert.Equal(t, types.PartitionDone, byKey["openalex:2000-2000"])
	assert.Equal(t, types.PartitionFailed, byKey["openalex:2001-2001"])
	assert.Equal(t, types.PartitionDone, byKey["openalex:2002-2002"])
}

func TestRunRetriesTransientThenSucceeds(t *testing.T) {
	flaky := &flakyBackend{
		failures: 2,
		page:     source.Page{Records: []source.RawRecord{workRecord("W1", 2000)}, Total: 1},
	}
	f := newFixture(t, settings(2000, 2000), flaky)
	f.orch.Config.RetryAttempts = 3

	_, err := f.orch.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, f.orch.Store.Exists("W1"))
	assert.Equal(t, 3, flaky.calls)
}

// flakyBackend fails its first N FetchPage calls with a transient error.
type flakyBackend struct {
	failures int
	page     source.Page

	mu    sync.Mutex
	calls int
}

func (b *flakyBackend) Name() string { return "openalex" }

func (b *flakyBackend) BuildQuery(_ query.Vocabulary, _ query.Dialect, _ query.FieldScope, yearFrom, _ int) string {
	return fmt.Sprintf("flaky-%d", yearFrom)
}

func (b *flakyBackend) FetchPage(context.Context, string, string) (source.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.calls <= b.failures {
		return source.Page{}, &source.TransientError{Source: "openalex", Err: fmt.Errorf("flaky")}
	}
	return b.page, nil
}

func TestRunPermanentErrorFailsFast(t *testing.T) {
	b := &fakeBackend{
		name: "openalex",
		errs: map[string]error{"openalex-2000": fmt.Errorf("invalid filter")},
	}
	f := newFixture(t, settings(2000, 2000), b)

	_, err := f.orch.Run(context.Background(), "run-1")
	require.Error(t, err)
	// No retries for permanent failures.
	assert.Equal(t, 1, b.calls["openalex-2000"])
}

func TestRunMalformedRecordCountedNotFatal(t *testing.T) {
	b := &fakeBackend{
		name: "openalex",
		pages: map[string][]source.Page{
			"openalex-2000": pageSeq(2, []source.RawRecord{
				{Source: "openalex", Data: []byte(`{"title": "no id"}`)},
				workRecord("W2", 2000),
			}),
		},
	}
	f := newFixture(t, settings(2000, 2000), b)

	_, err := f.orch.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.orch.Stats.Total(stats.OutcomeTransformFailed))
	assert.Equal(t, int64(1), f.orch.Stats.Total(stats.OutcomeFetched))
	assert.True(t, f.orch.Store.Exists("W2"))

	rows, err := f.orch.Ledger.List()
	require.NoError(t, err)
	assert.Equal(t, types.PartitionDone, rows[0].Status)
}

func TestRunMaxRecordsPausesSweep(t *testing.T) {
	b := &fakeBackend{
		name: "openalex",
		pages: map[string][]source.Page{
			"openalex-2000": pageSeq(4,
				[]source.RawRecord{workRecord("W1", 2000), workRecord("W2", 2000)},
				[]source.RawRecord{workRecord("W3", 2000), workRecord("W4", 2000)},
			),
		},
	}
	cfg := settings(2000, 2000)
	cfg.MaxRecords = 2
	cfg.Workers = 1
	f := newFixture(t, cfg, b)

	_, err := f.orch.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.orch.Stats.Total(stats.OutcomeFetched))

	// The partition reverts to pending so a later sweep resumes it.
	rows, err := f.orch.Ledger.List()
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, types.PartitionPending, rows[0].Status)
}

func TestRunCancelledContext(t *testing.T) {
	b := &fakeBackend{
		name: "openalex",
		pages: map[string][]source.Page{
			"openalex-2000": pageSeq(1, []source.RawRecord{workRecord("W1", 2000)}),
		},
	}
	f := newFixture(t, settings(2000, 2000), b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.orch.Run(ctx, "run-1")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.calls["openalex-2000"])
}

func TestMarkLogsLostStatusUpdate(t *testing.T) {
	b := &fakeBackend{name: "openalex"}
	f := newFixture(t, settings(2000, 2000), b)
	require.NoError(t, f.orch.Ledger.Close())

	s := &sweep{orch: f.orch}
	p := types.Partition{Source: "openalex", YearFrom: 2000, YearTo: 2000, Status: types.PartitionPending}
	s.mark(p, 0, 0)

	assert.Contains(t, f.out.String(), "openalex:2000-2000 status update lost")
}

func TestRunWritesSummaryFile(t *testing.T) {
	b := &fakeBackend{
		name: "openalex",
		pages: map[string][]source.Page{
			"openalex-2000": pageSeq(1, []source.RawRecord{workRecord("W1", 2000)}),
		},
	}
	f := newFixture(t, settings(2000, 2000), b)

	summary, err := f.orch.Run(context.Background(), "run-9")
	require.NoError(t, err)
	assert.Equal(t, int64(1), summary.Partitions["openalex:2000-2000"]["fetched"])
	assert.FileExists(t, f.dir+"/summary-run-9.yaml")
}

func TestRunTwoBackends(t *testing.T) {
	oa := &fakeBackend{
		name: "openalex",
		pages: map[string][]source.Page{
			"openalex-2000": pageSeq(1, []source.RawRecord{workRecord("W1", 2000)}),
		},
	}
	pm := &fakeBackend{
		name: "pubmed",
		pages: map[string][]source.Page{
			"pubmed-2000": pageSeq(1, []source.RawRecord{{Source: "pubmed", Data: []byte(medlineRecord)}}),
		},
	}
	f := newFixture(t, settings(2000, 2000), oa, pm)

	_, err := f.orch.Run(context.Background(), "run-1")
	require.NoError(t, err)
	assert.True(t, f.orch.Store.Exists("W1"))
	assert.True(t, f.orch.Store.Exists("1001"))
	assert.Equal(t, int64(2), f.orch.Stats.Total(stats.OutcomeFetched))
}

const medlineRecord = `PMID- 1001
TI  - Fluoride varnish and early caries.
AB  - A small trial.
DP  - 2000 Mar
JT  - Community dentistry journal
FAU - Okafor, Chidi
`
