package watch

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"vod-archiver/jobs"
	"vod-archiver/videos"
)

// FetchResult is one page from a platform listing.
type FetchResult struct {
	Success    bool
	HasMore    bool
	TotalCount int
	BatchCount int
	Videos     []videos.Descriptor
}

// Fetcher lists a watch's videos, offset-paginated. flat asks for cheaper,
// partial metadata where the platform supports it.
type Fetcher interface {
	Fetch(ctx context.Context, w UserWatch, offset int, flat bool) (FetchResult, error)
}

// UserIDResolver turns a username into the platform's numeric id.
type UserIDResolver interface {
	ResolveUserID(ctx context.Context, w UserWatch) (int64, error)
}

const (
	MinPageDelay = 55 * time.Second
	MaxPageDelay = 95 * time.Second
)

// Jitter returns a random duration in [lo, hi).
func Jitter(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

type FetchTaskGroup struct {
	Fetchers map[Category]Fetcher
	Flat     bool
	// PageDelay is waited between pages. nil means Jitter(MinPageDelay, MaxPageDelay).
	PageDelay func() time.Duration
}

// FetchAll pages through every video of w and returns them without duplicates.
func (g *FetchTaskGroup) FetchAll(ctx context.Context, w UserWatch) ([]videos.Descriptor, error) {
	f, ok := g.Fetchers[w.Category]
	if !ok || f == nil {
		return nil, fmt.Errorf("no fetcher for %s", w.Category)
	}
	var all []videos.Descriptor
	offset := 0
	for page := 0; ; page++ {
		if page > 0 {
			if err := sleep(ctx, g.delay()); err != nil {
				return nil, err
			}
		}
		res, err := f.Fetch(ctx, w, offset, g.Flat)
		if err != nil {
			return nil, fmt.Errorf("fetch %s at offset %d: %w", w.Key(), offset, err)
		}
		if !res.Success {
			return nil, fmt.Errorf("fetch %s at offset %d was not successful", w.Key(), offset)
		}
		all = append(all, res.Videos...)
		log.Debugf("fetched %d videos of %s (offset %d, total %d)", res.BatchCount, w.Key(), offset, res.TotalCount)
		if !res.HasMore || res.BatchCount <= 0 {
			break
		}
		offset += res.BatchCount
	}
	return videos.Dedup(all), nil
}

// Supports reports whether a fetcher is configured for w's category.
func (g *FetchTaskGroup) Supports(w UserWatch) bool {
	f, ok := g.Fetchers[w.Category]
	return ok && f != nil
}

func (g *FetchTaskGroup) delay() time.Duration {
	if g.PageDelay != nil {
		return g.PageDelay()
	}
	return Jitter(MinPageDelay, MaxPageDelay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Enqueuer interface {
	Enqueue(j *jobs.Job) bool
}

const (
	DefaultInterval = 7 * time.Hour
	DefaultTick     = 3 * time.Second
	DefaultBackoff  = 10 * time.Minute
)

// Refresher refreshes at most one watch per tick: the auto-download watch
// with the oldest LastRefreshedOn, once Interval has passed since then.
// A watch whose refresh failed sits out for Backoff so the other due
// watches get their turn.
type Refresher struct {
	Registry *Registry
	Group    *FetchTaskGroup
	Queue    Enqueuer
	Observer jobs.Observer
	Resolver UserIDResolver
	Interval time.Duration
	Tick     time.Duration
	Backoff  time.Duration
	Now      func() time.Time

	mu       sync.Mutex
	failedAt map[Key]time.Time
}

func (r *Refresher) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Refresher) backoff() time.Duration {
	if r.Backoff > 0 {
		return r.Backoff
	}
	return DefaultBackoff
}

// eligible reports whether w has a fetcher and isn't backing off.
func (r *Refresher) eligible(w UserWatch) bool {
	if !r.Group.Supports(w) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	at, failed := r.failedAt[w.Key()]
	return !failed || !r.now().Before(at.Add(r.backoff()))
}

func (r *Refresher) setFailed(k Key, failed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !failed {
		delete(r.failedAt, k)
		return
	}
	if r.failedAt == nil {
		r.failedAt = map[Key]time.Time{}
	}
	r.failedAt[k] = r.now()
}

// Run ticks until ctx ends. Failed refreshes are logged and tried again
// once their backoff has passed.
func (r *Refresher) Run(ctx context.Context) {
	tick := r.Tick
	if tick <= 0 {
		tick = DefaultTick
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.RefreshOnce(ctx); err != nil && ctx.Err() == nil {
				log.Warnf("refresh failed: %v", err)
			}
		}
	}
}

// RefreshOnce does one tick's work and reports whether a watch was refreshed.
func (r *Refresher) RefreshOnce(ctx context.Context) (bool, error) {
	w, ok := r.Registry.Stalest(r.eligible)
	if !ok {
		return false, nil
	}
	interval := r.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if w.LastRefreshedOn.Add(interval).After(r.now()) {
		return false, nil
	}

	if r.Resolver != nil && w.RemoteUserID == 0 {
		id, err := r.Resolver.ResolveUserID(ctx, w)
		if err != nil {
			r.setFailed(w.Key(), true)
			return false, fmt.Errorf("resolve user id of %s: %w", w.Key(), err)
		}
		if err := r.Registry.SetRemoteUserID(w.Key(), id); err != nil {
			return false, err
		}
		w.RemoteUserID = id
	}

	log.Infof("refreshing %s", w.Key())
	vids, err := r.Group.FetchAll(ctx, w)
	if err != nil {
		if ctx.Err() == nil {
			r.setFailed(w.Key(), true)
		}
		return false, err
	}
	r.setFailed(w.Key(), false)
	if err := r.Registry.Touch(w.Key(), r.now()); err != nil {
		log.Warnf("couldn't update %s: %v", w.Key(), err)
	}

	added := 0
	for _, v := range vids {
		j, err := jobs.New(v, r.Observer)
		if err != nil {
			log.Warnf("skipping %s: %v", v, err)
			continue
		}
		if r.Queue.Enqueue(j) {
			added++
		}
	}
	log.Infof("refreshed %s: %d videos, %d new", w.Key(), len(vids), added)
	return true, nil
}
