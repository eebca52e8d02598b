package jobs

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"vod-archiver/videos"
)

type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusRunning    Status = "running"
	StatusFinished   Status = "finished"
	StatusDead       Status = "dead"
)

func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusDead
}

// Observer is told about every visible change of a job (status, status text).
type Observer interface {
	JobChanged(j *Job)
}

type ObserverFunc func(j *Job)

func (f ObserverFunc) JobChanged(j *Job) { f(j) }

// Job is one schedulable unit of work for a single video. All fields are
// guarded by mu; the task itself is immutable after construction.
type Job struct {
	mu         sync.RWMutex
	status     Status
	video      videos.Descriptor
	notes      string
	validated  bool
	startedAt  time.Time
	finishedAt time.Time
	statusText string
	outputPath string

	task     Task
	observer Observer
}

func NewJob(video videos.Descriptor, task Task, observer Observer) *Job {
	return &Job{
		status:   StatusNotStarted,
		video:    video,
		task:     task,
		observer: observer,
	}
}

// New builds a job with the task variant matching the video's service.
func New(v videos.Descriptor, observer Observer) (*Job, error) {
	task, err := TaskFor(v)
	if err != nil {
		return nil, err
	}
	return NewJob(v, task, observer), nil
}

func (j *Job) Key() videos.Key {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.video.Key()
}

func (j *Job) Task() Task { return j.task }

func (j *Job) Status() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// SetStatus changes status and status text together and notifies the observer.
func (j *Job) SetStatus(status Status, text string) {
	j.mu.Lock()
	j.status = status
	j.statusText = text
	j.mu.Unlock()
	j.notify()
}

func (j *Job) StatusText() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.statusText
}

func (j *Job) SetStatusText(text string) {
	j.mu.Lock()
	j.statusText = text
	j.mu.Unlock()
	j.notify()
}

func (j *Job) Video() videos.Descriptor {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.video
}

// UpdateVideo takes the refreshable fields from v. Identity never changes.
func (j *Job) UpdateVideo(v videos.Descriptor) {
	j.mu.Lock()
	if v.Title != "" {
		j.video.Title = v.Title
	}
	if v.Game != "" {
		j.video.Game = v.Game
	}
	if v.RecordingState != "" {
		j.video.RecordingState = v.RecordingState
	}
	if v.Length > 0 {
		j.video.Length = v.Length
	}
	if v.FileType != "" {
		j.video.FileType = v.FileType
	}
	if j.video.Username == "" {
		j.video.Username = v.Username
	}
	if j.video.Timestamp.IsZero() {
		j.video.Timestamp = v.Timestamp
	}
	j.mu.Unlock()
}

func (j *Job) Notes() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.notes
}

func (j *Job) SetNotes(notes string) {
	j.mu.Lock()
	j.notes = notes
	j.mu.Unlock()
}

func (j *Job) HasBeenValidated() bool {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.validated
}

func (j *Job) SetValidated(v bool) {
	j.mu.Lock()
	j.validated = v
	j.mu.Unlock()
}

func (j *Job) StartTimestamp() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.startedAt
}

func (j *Job) SetStartTimestamp(t time.Time) {
	j.mu.Lock()
	j.startedAt = t
	j.mu.Unlock()
}

func (j *Job) FinishTimestamp() time.Time {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.finishedAt
}

func (j *Job) SetFinishTimestamp(t time.Time) {
	j.mu.Lock()
	j.finishedAt = t
	j.mu.Unlock()
}

func (j *Job) OutputPath() string {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.outputPath
}

func (j *Job) SetOutputPath(p string) {
	j.mu.Lock()
	j.outputPath = p
	j.mu.Unlock()
}

func (j *Job) SetObserver(o Observer) {
	j.mu.Lock()
	j.observer = o
	j.mu.Unlock()
}

func (j *Job) notify() {
	j.mu.RLock()
	o := j.observer
	j.mu.RUnlock()
	if o != nil {
		o.JobChanged(j)
	}
}

// Snapshot is the serializable state of a job, used by the store and the API.
type Snapshot struct {
	Kind             string            `json:"kind"`
	Status           Status            `json:"status"`
	Video            videos.Descriptor `json:"video"`
	Notes            string            `json:"notes,omitempty"`
	HasBeenValidated bool              `json:"has_been_validated"`
	StartTimestamp   time.Time         `json:"start_timestamp"`
	FinishTimestamp  time.Time         `json:"finish_timestamp"`
	StatusText       string            `json:"status_text"`
	OutputPath       string            `json:"output_path,omitempty"`
	Task             json.RawMessage   `json:"task,omitempty"`
}

func (j *Job) Snapshot() (Snapshot, error) {
	raw, err := json.Marshal(j.task)
	if err != nil {
		return Snapshot{}, fmt.Errorf("marshal %s task for %s: %w", j.task.Kind(), j.Key(), err)
	}
	j.mu.RLock()
	defer j.mu.RUnlock()
	return Snapshot{
		Kind:             j.task.Kind(),
		Status:           j.status,
		Video:            j.video,
		Notes:            j.notes,
		HasBeenValidated: j.validated,
		StartTimestamp:   j.startedAt,
		FinishTimestamp:  j.finishedAt,
		StatusText:       j.statusText,
		OutputPath:       j.outputPath,
		Task:             raw,
	}, nil
}

// FromSnapshot rebuilds a job. Unknown kinds become a Generic task that keeps
// the raw payload so it survives the next save.
func FromSnapshot(s Snapshot, observer Observer) (*Job, error) {
	task, err := DecodeTask(s.Kind, s.Task)
	if err != nil {
		return nil, err
	}
	status := s.Status
	switch status {
	case StatusNotStarted, StatusRunning, StatusFinished, StatusDead:
	default:
		status = StatusNotStarted
	}
	return &Job{
		status:     status,
		video:      s.Video,
		notes:      s.Notes,
		validated:  s.HasBeenValidated,
		startedAt:  s.StartTimestamp,
		finishedAt: s.FinishTimestamp,
		statusText: s.StatusText,
		outputPath: s.OutputPath,
		task:       task,
		observer:   observer,
	}, nil
}
