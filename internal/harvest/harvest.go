// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package harvest runs the sweep: it plans per-source per-year partitions,
// drives each one through the fetch/transform/store pipeline under a shared
// rate limiter, and records outcomes in the ledger and the stats aggregator.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xeradb/evidence-harvester/internal/ledger"
	"github.com/xeradb/evidence-harvester/internal/query"
	"github.com/xeradb/evidence-harvester/internal/ratelimit"
	"github.com/xeradb/evidence-harvester/internal/source"
	"github.com/xeradb/evidence-harvester/internal/stats"
	"github.com/xeradb/evidence-harvester/internal/store"
	"github.com/xeradb/evidence-harvester/internal/transform"
	"github.com/xeradb/evidence-harvester/pkg/types"
)

// RetryBaseDelay is the base delay for partition-level retries of transient
// fetch failures. Tests override it.
var RetryBaseDelay = 5 * time.Second

const (
	defaultWorkers       = 2
	defaultRetryAttempts = 3
)

// Orchestrator coordinates one harvesting sweep.
type Orchestrator struct {
	Config   HarvestSettings
	Backends []source.Backend
	Limiter  *ratelimit.Limiter
	Store    *store.FileStore
	Ledger   *ledger.Ledger
	Stats    *stats.Aggregator
	Out      io.Writer
}

// HarvestSettings is the subset of configuration the orchestrator consumes.
type HarvestSettings struct {
	OutputDir     string
	YearFrom      int
	YearTo        int
	CutoverYear   int
	Scope         query.FieldScope
	Vocabulary    query.Vocabulary
	Workers       int
	RetryAttempts int
	MaxRecords    int
}

// Plan produces one pending partition per backend per year in the configured
// window, with the dialect and query expression already resolved. Planning
// touches no network and is deterministic for a fixed vocabulary.
func (o *Orchestrator) Plan() []types.Partition {
	var partitions []types.Partition
	for _, b := range o.Backends {
		for year := o.Config.YearFrom; year <= o.Config.YearTo; year++ {
			d := query.SelectDialect(year, o.Config.CutoverYear)
			partitions = append(partitions, types.Partition{
				Source:   b.Name(),
				YearFrom: year,
				YearTo:   year,
				Dialect:  string(d),
				Query:    b.BuildQuery(o.Config.Vocabulary, d, o.Config.Scope, year, year),
				Status:   types.PartitionPending,
			})
		}
	}
	return partitions
}

// Run executes the sweep: plans partitions, skips those already terminal in
// the ledger, and works the rest through a bounded worker pool. The stats
// summary is written to the corpus directory even when partitions fail.
func (o *Orchestrator) Run(ctx context.Context, runID string) (stats.Summary, error) {
	if err := o.Ledger.BeginRun(runID); err != nil {
		return stats.Summary{}, err
	}

	terminal, err := o.Ledger.TerminalKeys()
	if err != nil {
		return stats.Summary{}, err
	}

	planned := o.Plan()
	var pending []types.Partition
	for _, p := range planned {
		if status, ok := terminal[p.Key()]; ok {
			fmt.Fprintf(o.Out, "skipped: %s (already %s)\n", p.Key(), status)
			continue
		}
		pending = append(pending, p)
	}
	fmt.Fprintf(o.Out, "planned %d partitions, %d to harvest\n", len(planned), len(pending))

	workers := o.Config.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	s := &sweep{orch: o}
	jobs := make(chan types.Partition)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				s.processPartition(ctx, p)
			}
		}()
	}

feed:
	for _, p := range pending {
		select {
		case jobs <- p:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	done, empty, failed := int(s.done.Load()), int(s.empty.Load()), int(s.failed.Load())
	if err := o.Ledger.FinishRun(runID, done, empty, failed); err != nil {
		return stats.Summary{}, err
	}

	summary := o.Stats.Snapshot()
	summaryPath := filepath.Join(o.Config.OutputDir, fmt.Sprintf("summary-%s.yaml", runID))
	if err := summary.WriteFile(summaryPath); err != nil {
		return summary, fmt.Errorf("writing run summary: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return summary, err
	}
	if failed > 0 {
		return summary, fmt.Errorf("%d of %d partitions failed", failed, len(pending))
	}
	return summary, nil
}

// sweep carries the mutable state of one Run call.
type sweep struct {
	orch   *Orchestrator
	stored atomic.Int64
	done   atomic.Int64
	empty  atomic.Int64
	failed atomic.Int64
}

// mark records the partition state, logging a failed status update instead
// of dropping it; the partition outcome itself has already been decided.
func (s *sweep) mark(p types.Partition, total, fetched int) {
	if err := s.orch.Ledger.MarkPartition(p, total, fetched); err != nil {
		fmt.Fprintf(s.orch.Out, "ledger:  %s status update lost (%v)\n", p.Key(), err)
	}
}

func (s *sweep) limitReached() bool {
	limit := s.orch.Config.MaxRecords
	return limit > 0 && s.stored.Load() >= int64(limit)
}

// processPartition drives one partition through its state machine. A failure
// is confined to this partition; the ledger ends up with a terminal status
// unless the sweep was cancelled or the record cap was hit, in which case the
// partition reverts to pending so a later run resumes it.
func (s *sweep) processPartition(ctx context.Context, p types.Partition) {
	o := s.orch
	backend := s.backendFor(p.Source)
	if backend == nil {
		return
	}
	key := p.Key()

	p.Status = types.PartitionFetching
	if err := o.Ledger.MarkPartition(p, 0, 0); err != nil {
		fmt.Fprintf(o.Out, "failed:  %s (%v)\n", key, err)
		s.failed.Add(1)
		return
	}

	var (
		cursor    string
		fetched   int
		total     int
		firstPage = true
	)
	for {
		if s.limitReached() || ctx.Err() != nil {
			p.Status = types.PartitionPending
			s.mark(p, total, fetched)
			fmt.Fprintf(o.Out, "paused:  %s (%d records so far)\n", key, fetched)
			return
		}

		page, err := s.fetchWithRetry(ctx, backend, p.Query, cursor)
		if err != nil {
			if ctx.Err() != nil {
				p.Status = types.PartitionPending
				s.mark(p, total, fetched)
				return
			}
			o.Stats.Record(key, stats.OutcomeFetchError)
			p.Status = types.PartitionFailed
			s.mark(p, total, fetched)
			fmt.Fprintf(o.Out, "failed:  %s (%v)\n", key, err)
			s.failed.Add(1)
			return
		}

		// Some sources only report the total on the first page.
		if page.Total > 0 {
			total = page.Total
		}
		if firstPage && page.Total == 0 && len(page.Records) == 0 {
			o.Stats.Record(key, stats.OutcomeEmptyPartition)
			p.Status = types.PartitionEmpty
			s.mark(p, 0, 0)
			fmt.Fprintf(o.Out, "empty:   %s\n", key)
			s.empty.Add(1)
			return
		}
		firstPage = false

		for _, raw := range page.Records {
			if ctx.Err() != nil || s.limitReached() {
				p.Status = types.PartitionPending
				s.mark(p, total, fetched)
				fmt.Fprintf(o.Out, "paused:  %s (%d records so far)\n", key, fetched)
				return
			}
			stored, err := s.handleRecord(key, raw)
			if err != nil {
				p.Status = types.PartitionFailed
				s.mark(p, total, fetched)
				fmt.Fprintf(o.Out, "failed:  %s (%v)\n", key, err)
				s.failed.Add(1)
				return
			}
			fetched++
			if stored {
				s.stored.Add(1)
			}
		}

		cursor = page.NextCursor
		if cursor == "" {
			break
		}
	}

	p.Status = types.PartitionDone
	if err := o.Ledger.MarkPartition(p, total, fetched); err != nil {
		fmt.Fprintf(o.Out, "failed:  %s (%v)\n", key, err)
		s.failed.Add(1)
		return
	}
	fmt.Fprintf(o.Out, "done:    %s (%d records)\n", key, fetched)
	s.done.Add(1)
}

// handleRecord transforms and stores one raw record. Malformed records are
// counted and dropped; abstract anomalies are counted but the record is kept.
// Only store write failures are returned, since they fail the partition.
func (s *sweep) handleRecord(key string, raw source.RawRecord) (stored bool, err error) {
	o := s.orch
	res, err := transform.Transform(raw)
	if err != nil {
		if errors.Is(err, transform.ErrMalformedRecord) {
			o.Stats.Record(key, stats.OutcomeTransformFailed)
			return false, nil
		}
		return false, err
	}
	if res.AbstractAnomaly {
		o.Stats.Record(key, stats.OutcomeAbstractAnomaly)
	}

	skipped, err := o.Store.Put(res.Record)
	if err != nil {
		return false, err
	}
	if skipped {
		o.Stats.Record(key, stats.OutcomeSkippedExisting)
		return false, nil
	}
	o.Stats.Record(key, stats.OutcomeFetched)
	return true, nil
}

// fetchWithRetry waits on the shared rate limiter, fetches one page, and
// retries transient failures with exponential backoff up to the configured
// attempt budget. Permanent failures return immediately.
func (s *sweep) fetchWithRetry(ctx context.Context, b source.Backend, queryStr, cursor string) (source.Page, error) {
	attempts := s.orch.Config.RetryAttempts
	if attempts <= 0 {
		attempts = defaultRetryAttempts
	}

	var lastErr error
	for attempt := 0; attempt <= attempts; attempt++ {
		if attempt > 0 {
			delay := RetryBaseDelay * (1 << (attempt - 1))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return source.Page{}, ctx.Err()
			}
		}
		if err := s.orch.Limiter.Wait(ctx); err != nil {
			return source.Page{}, err
		}
		page, err := b.FetchPage(ctx, queryStr, cursor)
		if err == nil {
			return page, nil
		}
		if !source.IsTransient(err) {
			return source.Page{}, err
		}
		lastErr = err
	}
	return source.Page{}, fmt.Errorf("retries exhausted: %w", lastErr)
}

func (s *sweep) backendFor(name string) source.Backend {
	for _, b := range s.orch.Backends {
		if b.Name() == name {
			return b
		}
	}
	return nil
}
