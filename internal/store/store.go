// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package store persists canonical records into the dual-layout corpus
// tree: a flat by-id layout and a by-year layout of the same logical
// records. Writes are idempotent: an id that already exists is skipped.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xeradb/evidence-harvester/pkg/types"
)

const (
	recordsDir     = "records"
	byYearDir      = "by_year"
	unknownYearDir = "unknown"

	// writeAttempts bounds retries of each layout write. A secondary that
	// still fails can be re-derived later; it must never fail silently.
	writeAttempts = 3
)

// WriteError marks a disk failure while persisting a record.
type WriteError struct {
	Path string
	Err  error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// FileStore writes one JSON file per record under baseDir. The pipeline
// never mutates an existing record file in place.
type FileStore struct {
	baseDir string
}

// NewFileStore creates the layout roots under baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	for _, dir := range []string{
		filepath.Join(baseDir, recordsDir),
		filepath.Join(baseDir, byYearDir),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	return &FileStore{baseDir: baseDir}, nil
}

// Exists reports whether the primary artifact for id is already
// materialized. This is the resume guarantee: a re-run over completed
// partitions costs only stat calls.
func (s *FileStore) Exists(id string) bool {
	_, err := os.Stat(s.primaryPath(id))
	return err == nil
}

// Put persists rec under both layouts, primary first so a crash between the
// two writes leaves the id resolvable. When the primary already exists Put
// returns skipped=true, re-deriving the by-year copy first if a crash after
// the primary write left it missing.
func (s *FileStore) Put(rec *types.CanonicalRecord) (skipped bool, err error) {
	if err := validateID(rec.ID); err != nil {
		return false, err
	}
	if s.Exists(rec.ID) {
		if _, statErr := os.Stat(s.secondaryPath(rec.ID, rec.Year)); statErr != nil {
			// The stored year is authoritative, so repair from the primary.
			if err := s.RepairSecondary(rec.ID); err != nil {
				return true, err
			}
		}
		return true, nil
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return false, fmt.Errorf("marshaling record %s: %w", rec.ID, err)
	}

	if err := writeWithRetry(s.primaryPath(rec.ID), data); err != nil {
		return false, err
	}
	if err := s.writeSecondary(rec.ID, rec.Year, data); err != nil {
		return false, err
	}
	return false, nil
}

// RepairSecondary re-derives the by-year copy of id from its primary
// artifact, for recovery after a secondary write failure.
func (s *FileStore) RepairSecondary(id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	data, err := os.ReadFile(s.primaryPath(id))
	if err != nil {
		return fmt.Errorf("reading primary for %s: %w", id, err)
	}
	var rec types.CanonicalRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("parsing primary for %s: %w", id, err)
	}
	return s.writeSecondary(id, rec.Year, data)
}

// Get reads a record back from the primary layout.
func (s *FileStore) Get(id string) (*types.CanonicalRecord, error) {
	if err := validateID(id); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.primaryPath(id))
	if err != nil {
		return nil, err
	}
	var rec types.CanonicalRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parsing record %s: %w", id, err)
	}
	return &rec, nil
}

func (s *FileStore) writeSecondary(id string, year int, data []byte) error {
	path := s.secondaryPath(id, year)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return &WriteError{Path: path, Err: err}
	}

	return writeWithRetry(path, data)
}

func writeWithRetry(path string, data []byte) error {
	var lastErr error
	for attempt := 0; attempt < writeAttempts; attempt++ {
		if lastErr = writeAtomic(path, data); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (s *FileStore) primaryPath(id string) string {
	return filepath.Join(s.baseDir, recordsDir, id+".json")
}

func (s *FileStore) secondaryPath(id string, year int) string {
	yearDir := unknownYearDir
	if year != types.YearUnknown {
		yearDir = strconv.Itoa(year)
	}
	return filepath.Join(s.baseDir, byYearDir, yearDir, id+".json")
}

// writeAtomic writes data to destPath via a temp file and rename, so a
// record file is either absent or complete.
func writeAtomic(destPath string, data []byte) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".record-*.tmp")
	if err != nil {
		return &WriteError{Path: destPath, Err: err}
	}
	tmpPath := tmpFile.Name()

	_, writeErr := tmpFile.Write(data)
	closeErr := tmpFile.Close()
	if writeErr != nil {
		os.Remove(tmpPath)
		return &WriteError{Path: destPath, Err: writeErr}
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return &WriteError{Path: destPath, Err: closeErr}
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		os.Remove(tmpPath)
		return &WriteError{Path: destPath, Err: err}
	}
	return nil
}

// validateID rejects ids that would escape the layout directories.
func validateID(id string) error {
	if id == "" {
		return errors.New("empty record id")
	}
	if strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("record id %q is not a valid file name", id)
	}
	return nil
}
