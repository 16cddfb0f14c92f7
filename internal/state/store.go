package state

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	runFile     = "run.json"
	failureFile = "failure.json"
)

// Store keeps one directory per replay run:
//
//	<baseDir>/.nativereplay/runs/<run-id>/{run.json,failure.json}
//
// Writes go to a temp file that is synced and renamed over the target, then
// the directory is synced.
type Store struct {
	root string
}

func NewStore(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, errors.New("baseDir is required")
	}
	return &Store{root: filepath.Join(baseDir, ".nativereplay", "runs")}, nil
}

// ListRunIDs returns the ids of all recorded runs, sorted.
func (s *Store) ListRunIDs() ([]string, error) {
	if s == nil {
		return nil, errors.New("nil Store")
	}
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() && strings.TrimSpace(e.Name()) != "" {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// LatestRun returns the run of traceHash with the latest start time.
func (s *Store) LatestRun(traceHash string) (Run, bool, error) {
	ids, err := s.ListRunIDs()
	if err != nil {
		return Run{}, false, err
	}
	var (
		latest Run
		found  bool
	)
	for _, id := range ids {
		run, err := s.LoadRun(id)
		if errors.Is(err, fs.ErrNotExist) {
			// A run dir holding only failure.json.
			continue
		}
		if err != nil {
			return Run{}, false, fmt.Errorf("load run %s: %w", id, err)
		}
		if run.TraceHash == traceHash && (!found || run.StartTime.After(latest.StartTime)) {
			latest, found = run, true
		}
	}
	return latest, found, nil
}

func (s *Store) SaveRun(run Run) error {
	if err := run.Validate(); err != nil {
		return fmt.Errorf("invalid run: %w", err)
	}
	return s.save(run.RunID, runFile, run)
}

func (s *Store) LoadRun(runID string) (Run, error) {
	var run Run
	if err := s.load(runID, runFile, &run); err != nil {
		return Run{}, err
	}
	if err := run.Validate(); err != nil {
		return Run{}, fmt.Errorf("invalid run on disk: %w", err)
	}
	return run, nil
}

func (s *Store) SaveFailure(runID string, failure Failure) error {
	if err := failure.Validate(); err != nil {
		return fmt.Errorf("invalid failure: %w", err)
	}
	return s.save(runID, failureFile, failure)
}

func (s *Store) LoadFailure(runID string) (Failure, error) {
	var failure Failure
	if err := s.load(runID, failureFile, &failure); err != nil {
		return Failure{}, err
	}
	if err := failure.Validate(); err != nil {
		return Failure{}, fmt.Errorf("invalid failure on disk: %w", err)
	}
	return failure, nil
}

func (s *Store) save(runID, name string, v any) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	dir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create run dir: %w", err)
	}
	// A new run dir must survive a crash as well as its contents.
	if err := syncDir(filepath.Dir(dir)); err != nil {
		return err
	}
	if err := replaceFile(filepath.Join(dir, name), append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// load decodes a record, rejecting unknown fields and trailing content.
func (s *Store) load(runID, name string, dst any) error {
	if strings.TrimSpace(runID) == "" {
		return errors.New("runID is required")
	}
	data, err := os.ReadFile(filepath.Join(s.root, runID, name))
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("decode %s: trailing content", name)
	}
	return nil
}

func replaceFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.Write(data)
	if err == nil {
		err = tmp.Chmod(0o644)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	return syncDir(dir)
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
