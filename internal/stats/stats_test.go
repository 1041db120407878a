// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package stats

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"go.yaml.in/yaml/v3"
)

func TestRecordAndSnapshot(t *testing.T) {
	a := New("run-1")
	a.Record("openalex:2020-2020", OutcomeFetched)
	a.Record("openalex:2020-2020", OutcomeFetched)
	a.Record("openalex:2020-2020", OutcomeSkippedExisting)
	a.Record("pubmed:1965-1965", OutcomeEmptyPartition)

	s := a.Snapshot()
	if s.RunID != "run-1" {
		t.Errorf("RunID = %q", s.RunID)
	}
	if got := s.Partitions["openalex:2020-2020"][OutcomeFetched]; got != 2 {
		t.Errorf("fetched = %d, want 2", got)
	}
	if got := s.Totals[OutcomeFetched]; got != 2 {
		t.Errorf("total fetched = %d, want 2", got)
	}
	if got := s.Totals[OutcomeEmptyPartition]; got != 1 {
		t.Errorf("total empty = %d, want 1", got)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	a := New("run-1")
	a.Record("p", OutcomeFetched)

	s := a.Snapshot()
	a.Record("p", OutcomeFetched)

	if got := s.Partitions["p"][OutcomeFetched]; got != 1 {
		t.Errorf("snapshot mutated by later increments: %d", got)
	}
}

func TestConcurrentRecord(t *testing.T) {
	a := New("run-1")

	const workers, perWorker = 8, 500
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				a.Record("p", OutcomeFetched)
			}
		}()
	}
	wg.Wait()

	if got := a.Total(OutcomeFetched); got != workers*perWorker {
		t.Errorf("Total = %d, want %d", got, workers*perWorker)
	}
}

func TestWriteFile(t *testing.T) {
	a := New("run-42")
	a.Record("openalex:2020-2020", OutcomeFetched)
	a.Record("openalex:2020-2020", OutcomeAbstractAnomaly)

	path := filepath.Join(t.TempDir(), "run_summary.yaml")
	if err := a.Snapshot().WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got Summary
	if err := yaml.Unmarshal(data, &got); err != nil {
		t.Fatalf("summary artifact is not valid YAML: %v", err)
	}
	if got.RunID != "run-42" {
		t.Errorf("RunID = %q", got.RunID)
	}
	if got.Totals[OutcomeAbstractAnomaly] != 1 {
		t.Errorf("anomaly total = %d, want 1", got.Totals[OutcomeAbstractAnomaly])
	}
}

func TestSummaryString(t *testing.T) {
	a := New("run-1")
	a.Record("pubmed:1965-1965", OutcomeEmptyPartition)
	a.Add("openalex:2020-2020", OutcomeFetched, 3)

	out := a.Snapshot().String()
	if !strings.Contains(out, "openalex:2020-2020") {
		t.Errorf("digest missing partition: %q", out)
	}
	if !strings.Contains(out, "fetched=3") {
		t.Errorf("digest missing counts: %q", out)
	}
}
