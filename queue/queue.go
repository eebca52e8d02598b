// Package queue owns every job and runs them in lanes. A lane bounds how
// many of its jobs run at once and keeps a waiting list of jobs that may
// not start before a given time.
package queue

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sort"
	"sync"
	"time"

	"vod-archiver/jobs"
	"vod-archiver/videos"
)

type LaneMode string

const (
	// LanesPerService gives every service its own lane.
	LanesPerService LaneMode = "per-service"
	// LaneSingle runs everything in one lane named AnyLane.
	LaneSingle LaneMode = "single"
)

const AnyLane = "any"

// ErrorPolicy decides what happens to a job that failed with an error that
// is neither RetryLater nor Dead.
type ErrorPolicy string

const (
	// ErrorHold leaves the job NotStarted outside the waiting list until
	// someone requeues or force-starts it.
	ErrorHold ErrorPolicy = "hold"
	// ErrorRequeue puts it back on the waiting list after RetryDelay.
	ErrorRequeue ErrorPolicy = "requeue"
)

const (
	RetryDelay = 10 * time.Minute

	RetryLaterPrefix = "Retry Later: "
	ErrorPrefix      = "ERROR: "
)

var (
	ErrNotFound   = errors.New("job not found")
	ErrRunning    = errors.New("job is running")
	ErrNotRunning = errors.New("job is not running or waiting")
	ErrTerminal   = errors.New("job already finished or dead")
	ErrStopped    = errors.New("queue is not running")
)

type Saver interface {
	SaveJobs(list []*jobs.Job) error
}

type Config struct {
	Mode LaneMode
	// Caps overrides the running cap of individual lanes.
	Caps map[string]int
	// DefaultCap applies to lanes without an entry in Caps. 0 means 1 in
	// per-service mode and 3 in single mode.
	DefaultCap  int
	ErrorPolicy ErrorPolicy
	RetryDelay  time.Duration
	Env         *jobs.Env
	Saver       Saver
	Now         func() time.Time
}

type WaitingJob struct {
	Job           *jobs.Job
	EarliestStart time.Time
}

type LaneStat struct {
	Name    string `json:"name"`
	Cap     int    `json:"cap"`
	Running int    `json:"running"`
	Waiting int    `json:"waiting"`
}

type runningJob struct {
	cancel    context.CancelFunc
	cancelled bool
}

type lane struct {
	name string
	cap  int
	kick chan struct{}

	mu      sync.Mutex
	waiting []WaitingJob
	running map[videos.Key]*runningJob
}

func (l *lane) signal() {
	select {
	case l.kick <- struct{}{}:
	default:
	}
}

func (l *lane) waitingIndex(key videos.Key) int {
	for i, w := range l.waiting {
		if w.Job.Key() == key {
			return i
		}
	}
	return -1
}

// Queue is safe for concurrent use. Lock order is Queue.mu before lane.mu.
type Queue struct {
	cfg Config

	mu      sync.Mutex
	jobs    map[videos.Key]*jobs.Job
	order   []videos.Key
	lanes   map[string]*lane
	hooks   []func(*jobs.Job)
	ctx     context.Context
	started bool

	wg sync.WaitGroup
}

func New(cfg Config) *Queue {
	if cfg.Mode == "" {
		cfg.Mode = LanesPerService
	}
	if cfg.DefaultCap <= 0 {
		cfg.DefaultCap = 1
		if cfg.Mode == LaneSingle {
			cfg.DefaultCap = 3
		}
	}
	if cfg.ErrorPolicy == "" {
		cfg.ErrorPolicy = ErrorHold
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = RetryDelay
	}
	if cfg.Env == nil {
		cfg.Env = &jobs.Env{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Queue{
		cfg:   cfg,
		jobs:  map[videos.Key]*jobs.Job{},
		lanes: map[string]*lane{},
	}
}

func (q *Queue) now() time.Time { return q.cfg.Now() }

func (q *Queue) laneName(j *jobs.Job) string {
	if q.cfg.Mode == LaneSingle {
		return AnyLane
	}
	return string(j.Key().Service)
}

// laneLocked returns the lane for j, creating it on first use. q.mu must be held.
func (q *Queue) laneLocked(j *jobs.Job) *lane {
	name := q.laneName(j)
	if l, ok := q.lanes[name]; ok {
		return l
	}
	capacity := q.cfg.DefaultCap
	if c, ok := q.cfg.Caps[name]; ok && c > 0 {
		capacity = c
	}
	l := &lane{
		name:    name,
		cap:     capacity,
		kick:    make(chan struct{}, 1),
		running: map[videos.Key]*runningJob{},
	}
	q.lanes[name] = l
	if q.started {
		q.wg.Add(1)
		go q.loop(q.ctx, l)
	}
	return l
}

// OnFinished registers fn to be called after a job finishes successfully.
func (q *Queue) OnFinished(fn func(*jobs.Job)) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.hooks = append(q.hooks, fn)
}

// Enqueue adds j to the queue and its lane's waiting list. It returns false
// when a job for the same video is already known, whatever its state.
func (q *Queue) Enqueue(j *jobs.Job) bool {
	return q.add(j, true)
}

func (q *Queue) add(j *jobs.Job, wait bool) bool {
	key := j.Key()
	q.mu.Lock()
	if _, ok := q.jobs[key]; ok {
		q.mu.Unlock()
		return false
	}
	l := q.laneLocked(j)
	l.mu.Lock()
	// a removed job keeps its key until its goroutine has returned
	if _, running := l.running[key]; running {
		l.mu.Unlock()
		q.mu.Unlock()
		return false
	}
	q.jobs[key] = j
	q.order = append(q.order, key)
	if wait {
		l.waiting = append(l.waiting, WaitingJob{Job: j, EarliestStart: q.now()})
	}
	l.mu.Unlock()
	q.mu.Unlock()

	if wait {
		log.Infof("queued %s", j.Video())
		l.signal()
	}
	return true
}

// Restore loads jobs from a previous run. Jobs that were running when the
// process stopped go back to NotStarted; every NotStarted job is queued.
func (q *Queue) Restore(list []*jobs.Job) int {
	queued := 0
	for _, j := range list {
		if j.Status() == jobs.StatusRunning {
			j.SetStatus(jobs.StatusNotStarted, "Interrupted")
		}
		wait := j.Status() == jobs.StatusNotStarted
		if q.add(j, wait) && wait {
			queued++
		}
	}
	return queued
}

// Start launches one scheduling goroutine per lane, including lanes created
// later. They stop when ctx ends; running jobs are cancelled with it.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return
	}
	q.ctx = ctx
	q.started = true
	for _, l := range q.lanes {
		q.wg.Add(1)
		go q.loop(ctx, l)
	}
}

// Wait blocks until every lane loop and running job has returned.
func (q *Queue) Wait() {
	q.wg.Wait()
}

// Kick makes every lane re-check its waiting list.
func (q *Queue) Kick() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, l := range q.lanes {
		l.signal()
	}
}

func (q *Queue) loop(ctx context.Context, l *lane) {
	defer q.wg.Done()
	for {
		for q.runNext(ctx, l, nil, false) {
		}

		var timer *time.Timer
		var fire <-chan time.Time
		if d, ok := q.nextWake(l); ok {
			timer = time.NewTimer(d)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-l.kick:
		case <-fire:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// nextWake returns how long until the earliest waiting job becomes eligible.
func (q *Queue) nextWake(l *lane) (time.Duration, bool) {
	now := q.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	// a full lane is woken by the completion of one of its jobs
	if len(l.running) >= l.cap {
		return 0, false
	}
	var earliest time.Time
	for _, w := range l.waiting {
		if earliest.IsZero() || w.EarliestStart.Before(earliest) {
			earliest = w.EarliestStart
		}
	}
	if earliest.IsZero() {
		return 0, false
	}
	d := earliest.Sub(now)
	if d < 0 {
		d = 0
	}
	return d, true
}

// runNext is the scheduling step. Under the lane lock it picks the explicit
// job, or else the first waiting job in list order whose start time has come,
// provided the lane is below its cap or force is set. The chosen job runs in
// its own goroutine. It reports whether a job was started.
func (q *Queue) runNext(ctx context.Context, l *lane, explicit *jobs.Job, force bool) bool {
	if ctx.Err() != nil {
		return false
	}
	now := q.now()

	l.mu.Lock()
	if !force && len(l.running) >= l.cap {
		l.mu.Unlock()
		return false
	}
	var chosen *jobs.Job
	if explicit != nil {
		key := explicit.Key()
		if _, running := l.running[key]; !running {
			chosen = explicit
			if i := l.waitingIndex(key); i >= 0 {
				l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
			}
		}
	} else {
		for i, w := range l.waiting {
			if _, running := l.running[w.Job.Key()]; running {
				continue
			}
			if !w.EarliestStart.After(now) {
				chosen = w.Job
				l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
				break
			}
		}
	}
	if chosen == nil {
		l.mu.Unlock()
		return false
	}
	jobCtx, cancel := context.WithCancel(ctx)
	rj := &runningJob{cancel: cancel}
	l.running[chosen.Key()] = rj
	q.wg.Add(1)
	l.mu.Unlock()

	go q.execute(jobCtx, l, chosen, rj)
	return true
}

func (q *Queue) execute(ctx context.Context, l *lane, j *jobs.Job, rj *runningJob) {
	defer q.wg.Done()
	defer rj.cancel()

	if j.Status().Terminal() {
		q.complete(l, j, rj, time.Time{})
		return
	}

	v := j.Video()
	j.SetStartTimestamp(q.now())
	j.SetStatus(jobs.StatusRunning, "Running")
	log.Infof("starting %s in lane %s", v, l.name)

	err := q.runTask(ctx, j)
	j.SetFinishTimestamp(q.now())

	l.mu.Lock()
	userCancelled := rj.cancelled
	l.mu.Unlock()

	retryAt := q.classify(ctx, j, err, userCancelled)
	q.complete(l, j, rj, retryAt)
}

func (q *Queue) runTask(ctx context.Context, j *jobs.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return j.Task().Run(ctx, q.cfg.Env, j)
}

// classify is the single place where a job's outcome becomes a state
// transition. It returns when the job may run again, zero for never.
func (q *Queue) classify(ctx context.Context, j *jobs.Job, err error, userCancelled bool) time.Time {
	v := j.Video()
	var later *jobs.RetryLaterError
	var dead *jobs.DeadError

	switch {
	case err == nil:
		text := j.StatusText()
		if text == "" || text == "Running" {
			text = "Done"
		}
		j.SetStatus(jobs.StatusFinished, text)
		log.Infof("finished %s", v)
		return time.Time{}

	case ctx.Err() != nil && userCancelled:
		j.SetStatus(jobs.StatusNotStarted, "Cancelled")
		log.Infof("cancelled %s", v)
		return time.Time{}

	case ctx.Err() != nil:
		// shutdown; Restore queues it again on the next start
		j.SetStatus(jobs.StatusNotStarted, "Interrupted")
		return time.Time{}

	case errors.As(err, &later):
		j.SetStatus(jobs.StatusNotStarted, RetryLaterPrefix+later.Reason)
		log.Infof("%s will be retried later: %s", v, later.Reason)
		return q.now().Add(q.cfg.RetryDelay)

	case errors.As(err, &dead):
		j.SetStatus(jobs.StatusDead, dead.Reason)
		log.Warnf("%s is dead: %s", v, dead.Reason)
		return time.Time{}

	}

	j.SetStatus(jobs.StatusNotStarted, ErrorPrefix+err.Error())
	log.Errorf("%s failed: %v", v, err)
	if q.cfg.ErrorPolicy == ErrorRequeue {
		return q.now().Add(q.cfg.RetryDelay)
	}
	return time.Time{}
}

// complete releases the running slot, requeues if asked, saves every job
// and wakes the lane so it can fill the slot.
func (q *Queue) complete(l *lane, j *jobs.Job, rj *runningJob, retryAt time.Time) {
	key := j.Key()
	q.mu.Lock()
	stillQueued := q.jobs[key] == j
	hooks := slices.Clone(q.hooks)
	q.mu.Unlock()

	l.mu.Lock()
	if l.running[key] == rj {
		delete(l.running, key)
	}
	if stillQueued && !retryAt.IsZero() && l.waitingIndex(key) < 0 {
		l.waiting = append(l.waiting, WaitingJob{Job: j, EarliestStart: retryAt})
	}
	l.mu.Unlock()

	q.save()
	if stillQueued && j.Status() == jobs.StatusFinished {
		for _, h := range hooks {
			h(j)
		}
	}
	l.signal()
}

func (q *Queue) save() {
	if q.cfg.Saver == nil {
		return
	}
	if err := q.cfg.Saver.SaveJobs(q.Jobs()); err != nil {
		log.Errorf("couldn't save jobs: %v", err)
	}
}

// Save writes the current job list through the configured saver.
func (q *Queue) Save() error {
	if q.cfg.Saver == nil {
		return nil
	}
	return q.cfg.Saver.SaveJobs(q.Jobs())
}

// Jobs returns every job in the order it was added.
func (q *Queue) Jobs() []*jobs.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*jobs.Job, 0, len(q.order))
	for _, k := range q.order {
		out = append(out, q.jobs[k])
	}
	return out
}

func (q *Queue) Get(key videos.Key) (*jobs.Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[key]
	return j, ok
}

func (q *Queue) lookup(key videos.Key) (*jobs.Job, *lane, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[key]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return j, q.laneLocked(j), nil
}

// ForceStart runs the job now, ignoring its lane's cap and its earliest start time.
func (q *Queue) ForceStart(key videos.Key) error {
	j, l, err := q.lookup(key)
	if err != nil {
		return err
	}
	if j.Status().Terminal() {
		return ErrTerminal
	}
	q.mu.Lock()
	ctx, started := q.ctx, q.started
	q.mu.Unlock()
	if !started {
		return ErrStopped
	}
	if !q.runNext(ctx, l, j, true) {
		return ErrRunning
	}
	return nil
}

// Cancel stops a running job, or takes a waiting job off its waiting list.
// Either way the job ends up NotStarted with status "Cancelled".
func (q *Queue) Cancel(key videos.Key) error {
	j, l, err := q.lookup(key)
	if err != nil {
		return err
	}
	l.mu.Lock()
	if rj, ok := l.running[key]; ok {
		rj.cancelled = true
		l.mu.Unlock()
		rj.cancel()
		return nil
	}
	i := l.waitingIndex(key)
	if i < 0 {
		l.mu.Unlock()
		return ErrNotRunning
	}
	l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
	l.mu.Unlock()
	j.SetStatus(jobs.StatusNotStarted, "Cancelled")
	q.save()
	return nil
}

// Remove forgets the job, cancelling it first if it is running.
func (q *Queue) Remove(key videos.Key) error {
	q.mu.Lock()
	j, ok := q.jobs[key]
	if !ok {
		q.mu.Unlock()
		return ErrNotFound
	}
	l := q.laneLocked(j)
	delete(q.jobs, key)
	for i, k := range q.order {
		if k == key {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	l.mu.Lock()
	if i := l.waitingIndex(key); i >= 0 {
		l.waiting = append(l.waiting[:i], l.waiting[i+1:]...)
	}
	rj := l.running[key]
	if rj != nil {
		rj.cancelled = true
	}
	l.mu.Unlock()
	q.mu.Unlock()

	if rj != nil {
		rj.cancel()
	}
	log.Infof("removed %s", j.Video())
	q.save()
	return nil
}

// Requeue puts a held or cancelled job back on its waiting list, eligible now.
func (q *Queue) Requeue(key videos.Key) error {
	j, l, err := q.lookup(key)
	if err != nil {
		return err
	}
	if j.Status().Terminal() {
		return ErrTerminal
	}
	l.mu.Lock()
	if _, running := l.running[key]; running {
		l.mu.Unlock()
		return ErrRunning
	}
	if i := l.waitingIndex(key); i >= 0 {
		l.waiting[i].EarliestStart = q.now()
	} else {
		l.waiting = append(l.waiting, WaitingJob{Job: j, EarliestStart: q.now()})
	}
	l.mu.Unlock()
	j.SetStatusText("Queued")
	l.signal()
	return nil
}

// LaneStats returns one entry per lane, sorted by name.
func (q *Queue) LaneStats() []LaneStat {
	q.mu.Lock()
	lanes := make([]*lane, 0, len(q.lanes))
	for _, l := range q.lanes {
		lanes = append(lanes, l)
	}
	q.mu.Unlock()

	out := make([]LaneStat, 0, len(lanes))
	for _, l := range lanes {
		l.mu.Lock()
		out = append(out, LaneStat{Name: l.name, Cap: l.cap, Running: len(l.running), Waiting: len(l.waiting)})
		l.mu.Unlock()
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

// WaitingJobs returns a copy of a lane's waiting list.
func (q *Queue) WaitingJobs(laneName string) []WaitingJob {
	q.mu.Lock()
	l, ok := q.lanes[laneName]
	q.mu.Unlock()
	if !ok {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]WaitingJob(nil), l.waiting...)
}

// IsRunning reports whether the job currently occupies a lane slot.
func (q *Queue) IsRunning(key videos.Key) bool {
	_, l, err := q.lookup(key)
	if err != nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.running[key]
	return ok
}
