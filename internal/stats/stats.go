// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package stats accumulates per-partition and per-run harvest counters.
// One aggregator instance is created per run and injected into workers;
// counters only ever increase.
package stats

import (
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"go.yaml.in/yaml/v3"
)

// Outcome classifies what happened to one record or partition.
type Outcome string

const (
	// OutcomeFetched counts records stored for the first time.
	OutcomeFetched Outcome = "fetched"

	// OutcomeSkippedExisting counts records whose id was already materialized.
	OutcomeSkippedExisting Outcome = "skipped_existing"

	// OutcomeTransformFailed counts raw records rejected by the transformer.
	OutcomeTransformFailed Outcome = "transform_failed"

	// OutcomeAbstractAnomaly counts records kept with an empty abstract
	// after reconstruction failed.
	OutcomeAbstractAnomaly Outcome = "abstract_anomaly"

	// OutcomeEmptyPartition counts partitions whose query matched nothing.
	OutcomeEmptyPartition Outcome = "empty_partition"

	// OutcomeFetchError counts partitions that exhausted their retry budget.
	OutcomeFetchError Outcome = "fetch_error"
)

// Aggregator is safe for concurrent use by the partition workers.
type Aggregator struct {
	runID   string
	started time.Time

	mu         sync.Mutex
	partitions map[string]map[Outcome]int64
}

// New creates an empty aggregator for one run.
func New(runID string) *Aggregator {
	return &Aggregator{
		runID:      runID,
		started:    time.Now().UTC(),
		partitions: make(map[string]map[Outcome]int64),
	}
}

// Record increments the counter for (partition, outcome).
func (a *Aggregator) Record(partitionKey string, outcome Outcome) {
	a.Add(partitionKey, outcome, 1)
}

// Add increments the counter for (partition, outcome) by n.
func (a *Aggregator) Add(partitionKey string, outcome Outcome, n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	counts := a.partitions[partitionKey]
	if counts == nil {
		counts = make(map[Outcome]int64)
		a.partitions[partitionKey] = counts
	}
	counts[outcome] += n
}

// Total returns the run-wide count for one outcome.
func (a *Aggregator) Total(outcome Outcome) int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var total int64
	for _, counts := range a.partitions {
		total += counts[outcome]
	}
	return total
}

// Summary is a point-in-time snapshot of the counters, safe to take
// mid-run: a killed process still flushes an accurate partial summary.
type Summary struct {
	RunID      string                       `yaml:"run_id"`
	StartedAt  time.Time                    `yaml:"started_at"`
	SnapshotAt time.Time                    `yaml:"snapshot_at"`
	Partitions map[string]map[Outcome]int64 `yaml:"partitions"`
	Totals     map[Outcome]int64            `yaml:"totals"`
}

// Snapshot deep-copies the current counters.
func (a *Aggregator) Snapshot() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		RunID:      a.runID,
		StartedAt:  a.started,
		SnapshotAt: time.Now().UTC(),
		Partitions: make(map[string]map[Outcome]int64, len(a.partitions)),
		Totals:     make(map[Outcome]int64),
	}
	for key, counts := range a.partitions {
		copied := make(map[Outcome]int64, len(counts))
		for outcome, n := range counts {
			copied[outcome] = n
			s.Totals[outcome] += n
		}
		s.Partitions[key] = copied
	}
	return s
}

// WriteFile persists the summary artifact for downstream import tooling.
func (s Summary) WriteFile(path string) error {
	data, err := yaml.Marshal(&s)
	if err != nil {
		return fmt.Errorf("marshaling run summary: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// String renders a one-line-per-partition digest, partitions sorted by key.
func (s Summary) String() string {
	keys := make([]string, 0, len(s.Partitions))
	for key := range s.Partitions {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := fmt.Sprintf("run %s\n", s.RunID)
	for _, key := range keys {
		counts := s.Partitions[key]
		out += fmt.Sprintf("  %-22s fetched=%d skipped=%d failed_records=%d anomalies=%d\n",
			key, counts[OutcomeFetched], counts[OutcomeSkippedExisting],
			counts[OutcomeTransformFailed], counts[OutcomeAbstractAnomaly])
	}
	out += fmt.Sprintf("totals: fetched=%d skipped=%d empty=%d fetch_errors=%d\n",
		s.Totals[OutcomeFetched], s.Totals[OutcomeSkippedExisting],
		s.Totals[OutcomeEmptyPartition], s.Totals[OutcomeFetchError])
	return out
}
