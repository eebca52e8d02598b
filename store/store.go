// Package store persists the job list and the watch list as versioned JSON
// documents. Files are replaced atomically: the new content goes to a temp
// file which is synced before the old file is removed and the temp renamed.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"vod-archiver/jobs"
	"vod-archiver/watch"
)

const (
	JobsFile          = "jobs.json"
	WatchesFile       = "watches.json"
	LegacyWatchesFile = "users.txt"

	jobsVersion    = 2
	watchesVersion = 1

	watchRecordType = "user_watch"
)

// all saves, from every Store, are serialized
var saveMu sync.Mutex

type Store struct {
	Dir string
}

func New(dir string) *Store {
	return &Store{Dir: dir}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.Dir, name)
}

type jobsDocument struct {
	Version int               `json:"version"`
	Count   int               `json:"count"`
	Jobs    []json.RawMessage `json:"jobs"`
}

func (s *Store) SaveJobs(list []*jobs.Job) error {
	doc := jobsDocument{Version: jobsVersion, Jobs: make([]json.RawMessage, 0, len(list))}
	for _, j := range list {
		snap, err := j.Snapshot()
		if err != nil {
			log.Errorf("skipping job in save: %v", err)
			continue
		}
		raw, err := json.Marshal(snap)
		if err != nil {
			log.Errorf("skipping job %s in save: %v", j.Key(), err)
			continue
		}
		doc.Jobs = append(doc.Jobs, raw)
	}
	doc.Count = len(doc.Jobs)
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal jobs: %w", err)
	}
	return s.write(JobsFile, data)
}

// LoadJobs returns the saved jobs. A missing or corrupt file yields no jobs;
// a record that cannot be decoded is skipped.
func (s *Store) LoadJobs(observer jobs.Observer) ([]*jobs.Job, error) {
	data, err := s.read(JobsFile)
	if err != nil || data == nil {
		return nil, err
	}
	var doc jobsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warnf("%s is corrupt, starting with no jobs: %v", s.path(JobsFile), err)
		return nil, nil
	}
	if doc.Version > jobsVersion {
		log.Warnf("%s has version %d, newer than %d", s.path(JobsFile), doc.Version, jobsVersion)
	}
	if doc.Count != len(doc.Jobs) {
		log.Warnf("%s says %d jobs but holds %d", s.path(JobsFile), doc.Count, len(doc.Jobs))
	}
	out := make([]*jobs.Job, 0, len(doc.Jobs))
	for i, raw := range doc.Jobs {
		var snap jobs.Snapshot
		if err := json.Unmarshal(raw, &snap); err != nil {
			log.Warnf("skipping job record %d: %v", i, err)
			continue
		}
		j, err := jobs.FromSnapshot(snap, observer)
		if err != nil {
			log.Warnf("skipping job record %d (%s): %v", i, snap.Video.Key(), err)
			continue
		}
		out = append(out, j)
	}
	return out, nil
}

type watchesDocument struct {
	Version int               `json:"version"`
	Watches []json.RawMessage `json:"watches"`
}

type watchRecord struct {
	Type string `json:"type"`
	watch.UserWatch
}

func (s *Store) SaveWatches(list []watch.UserWatch) error {
	doc := watchesDocument{Version: watchesVersion, Watches: make([]json.RawMessage, 0, len(list))}
	for _, w := range list {
		if !w.Persistable {
			continue
		}
		raw, err := json.Marshal(watchRecord{Type: watchRecordType, UserWatch: w})
		if err != nil {
			return fmt.Errorf("marshal watch %s: %w", w.Key(), err)
		}
		doc.Watches = append(doc.Watches, raw)
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal watches: %w", err)
	}
	return s.write(WatchesFile, data)
}

// LoadWatches returns the saved watches. When only the legacy users.txt
// exists it is converted, saved in the new format and renamed to users.txt.bak.
func (s *Store) LoadWatches() ([]watch.UserWatch, error) {
	data, err := s.read(WatchesFile)
	if err != nil {
		return nil, err
	}
	if data == nil {
		return s.upgradeLegacyWatches()
	}
	var doc watchesDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		log.Warnf("%s is corrupt, starting with no watches: %v", s.path(WatchesFile), err)
		return nil, nil
	}
	out := make([]watch.UserWatch, 0, len(doc.Watches))
	for i, raw := range doc.Watches {
		var rec watchRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			log.Warnf("skipping watch record %d: %v", i, err)
			continue
		}
		if rec.Type != watchRecordType {
			log.Warnf("skipping watch record %d of type %q", i, rec.Type)
			continue
		}
		if _, err := watch.ParseCategory(string(rec.Category)); err != nil || rec.Identifier == "" {
			log.Warnf("skipping invalid watch record %d", i)
			continue
		}
		rec.Persistable = true
		out = append(out, rec.UserWatch)
	}
	return out, nil
}

func (s *Store) upgradeLegacyWatches() ([]watch.UserWatch, error) {
	legacy := s.path(LegacyWatchesFile)
	data, err := os.ReadFile(legacy)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", legacy, err)
	}
	list := ParseLegacyWatches(data)
	if err := s.SaveWatches(list); err != nil {
		return list, fmt.Errorf("save upgraded watches: %w", err)
	}
	if err := os.Rename(legacy, legacy+".bak"); err != nil {
		log.Warnf("couldn't rename %s: %v", legacy, err)
	}
	log.Infof("upgraded %d watches from %s", len(list), legacy)
	return list, nil
}

func (s *Store) write(name string, data []byte) error {
	saveMu.Lock()
	defer saveMu.Unlock()
	if err := os.MkdirAll(s.Dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.Dir, err)
	}
	return writeAtomic(s.path(name), data)
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove old %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmp, path, err)
	}
	if d, err := os.Open(filepath.Dir(path)); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// read returns the content of name, or nil if neither it nor a complete temp
// file exists. A complete temp file without a primary means the last save
// stopped between remove and rename; it is promoted.
func (s *Store) read(name string) ([]byte, error) {
	path := s.path(name)
	data, err := os.ReadFile(path)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	tmp := path + ".tmp"
	data, err = os.ReadFile(tmp)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", tmp, err)
	}
	if !json.Valid(bytes.TrimSpace(data)) {
		log.Warnf("ignoring incomplete %s", tmp)
		return nil, nil
	}
	log.Warnf("recovering %s from %s", path, tmp)
	if err := os.Rename(tmp, path); err != nil {
		log.Warnf("couldn't promote %s: %v", tmp, err)
	}
	return data, nil
}
