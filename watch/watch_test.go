package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"vod-archiver/jobs"
	"vod-archiver/videos"
)

type memPersister struct {
	mu    sync.Mutex
	saves [][]UserWatch
}

func (p *memPersister) SaveWatches(list []UserWatch) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saves = append(p.saves, list)
	return nil
}

func (p *memPersister) last() []UserWatch {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.saves) == 0 {
		return nil
	}
	return p.saves[len(p.saves)-1]
}

func TestRegistry_PersistsOnlyPersistableWatches(t *testing.T) {
	p := &memPersister{}
	r := NewRegistry(p, nil)

	if ok, err := r.Add(UserWatch{Category: YouTubeChannel, Identifier: "b", Persistable: true}); !ok || err != nil {
		t.Fatalf("add: %v %v", ok, err)
	}
	if ok, _ := r.Add(UserWatch{Category: YouTubeChannel, Identifier: "b"}); ok {
		t.Fatalf("duplicate key accepted")
	}
	r.Add(UserWatch{Category: TwitchRecordings, Identifier: "z", Persistable: true})
	r.Add(UserWatch{Category: TwitchRecordings, Identifier: "tmp"})

	if len(p.saves) != 2 {
		t.Fatalf("expected 2 saves, got %d", len(p.saves))
	}
	last := p.last()
	if len(last) != 2 || last[0].Identifier != "z" || last[1].Identifier != "b" {
		t.Fatalf("unexpected persisted list %+v", last)
	}

	list := r.List()
	if len(list) != 3 || list[0].Identifier != "tmp" || list[1].Identifier != "z" {
		t.Fatalf("list must be sorted by category then identifier: %+v", list)
	}

	if err := r.SetAutoDownload(Key{TwitchRecordings, "tmp"}, true); err != nil {
		t.Fatal(err)
	}
	if len(p.saves) != 2 {
		t.Fatalf("ephemeral watch change must not be persisted")
	}
	if err := r.SetAutoDownload(Key{YouTubeChannel, "b"}, true); err != nil {
		t.Fatal(err)
	}
	if len(p.saves) != 3 || !p.last()[1].AutoDownload {
		t.Fatalf("auto-download change not persisted")
	}
	if err := r.Touch(Key{RSSFeed, "nope"}, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParseCategory(t *testing.T) {
	cases := map[string]Category{
		"youtube_playlist": YouTubePlaylist,
		"Twitch":           TwitchRecordings,
		"TwitchHighlight":  TwitchHighlights,
		"rss":              RSSFeed,
	}
	for in, want := range cases {
		got, err := ParseCategory(in)
		if err != nil || got != want {
			t.Fatalf("ParseCategory(%q) = %s, %v", in, got, err)
		}
	}
	if _, err := ParseCategory("myspace"); !errors.Is(err, ErrUnknownCategory) {
		t.Fatalf("expected unknown category error, got %v", err)
	}
}

type pagedFetcher struct {
	mu      sync.Mutex
	pages   [][]videos.Descriptor
	offsets []int
	calls   map[string]int
	fail    error
}

func (f *pagedFetcher) Fetch(_ context.Context, w UserWatch, offset int, _ bool) (FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = map[string]int{}
	}
	f.calls[w.Identifier]++
	f.offsets = append(f.offsets, offset)
	if f.fail != nil {
		return FetchResult{}, f.fail
	}
	page := 0
	for consumed := 0; page < len(f.pages) && consumed < offset; page++ {
		consumed += len(f.pages[page])
	}
	if page >= len(f.pages) {
		return FetchResult{Success: true}, nil
	}
	return FetchResult{
		Success:    true,
		HasMore:    page < len(f.pages)-1,
		BatchCount: len(f.pages[page]),
		Videos:     f.pages[page],
	}, nil
}

func vid(id string) videos.Descriptor {
	return videos.Descriptor{Service: videos.ServiceYouTube, VideoID: id, Username: "chan", Title: id}
}

func TestFetchAll_PaginatesAndDedups(t *testing.T) {
	f := &pagedFetcher{pages: [][]videos.Descriptor{
		{vid("a"), vid("b")},
		{vid("b"), vid("c")},
		{vid("d")},
	}}
	var delays int
	g := &FetchTaskGroup{
		Fetchers:  map[Category]Fetcher{YouTubeChannel: f},
		PageDelay: func() time.Duration { delays++; return 0 },
	}
	got, err := g.FetchAll(context.Background(), UserWatch{Category: YouTubeChannel, Identifier: "chan"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 unique videos, got %d", len(got))
	}
	if fmt.Sprint(f.offsets) != "[0 2 4]" {
		t.Fatalf("unexpected offsets %v", f.offsets)
	}
	if delays != 2 {
		t.Fatalf("expected a delay between pages only, got %d", delays)
	}
}

func TestJitterRange(t *testing.T) {
	for i := 0; i < 100; i++ {
		d := Jitter(MinPageDelay, MaxPageDelay)
		if d < MinPageDelay || d >= MaxPageDelay {
			t.Fatalf("jitter %s out of range", d)
		}
	}
}

type memQueue struct {
	mu   sync.Mutex
	keys map[videos.Key]bool
}

func (q *memQueue) Enqueue(j *jobs.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.keys == nil {
		q.keys = map[videos.Key]bool{}
	}
	if q.keys[j.Key()] {
		return false
	}
	q.keys[j.Key()] = true
	return true
}

func TestRefresher_OnlyStaleWatchIsRefreshed(t *testing.T) {
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	p := &memPersister{}
	r := NewRegistry(p, []UserWatch{
		{Category: YouTubeChannel, Identifier: "stale", Persistable: true, AutoDownload: true, LastRefreshedOn: now.Add(-10 * time.Hour)},
		{Category: YouTubeChannel, Identifier: "fresh", Persistable: true, AutoDownload: true, LastRefreshedOn: now.Add(-2 * time.Hour)},
		{Category: YouTubeChannel, Identifier: "manual", Persistable: true, LastRefreshedOn: now.Add(-100 * time.Hour)},
	})
	f := &pagedFetcher{pages: [][]videos.Descriptor{{vid("x"), vid("y")}}}
	q := &memQueue{}
	ref := &Refresher{
		Registry: r,
		Group:    &FetchTaskGroup{Fetchers: map[Category]Fetcher{YouTubeChannel: f}, PageDelay: func() time.Duration { return 0 }},
		Queue:    q,
		Interval: 7 * time.Hour,
		Now:      func() time.Time { return now },
	}

	refreshed, err := ref.RefreshOnce(context.Background())
	if err != nil || !refreshed {
		t.Fatalf("expected a refresh, got %v %v", refreshed, err)
	}
	if f.calls["stale"] != 1 || f.calls["fresh"] != 0 || f.calls["manual"] != 0 {
		t.Fatalf("unexpected fetches %v", f.calls)
	}
	if w, _ := r.Get(Key{YouTubeChannel, "stale"}); !w.LastRefreshedOn.Equal(now) {
		t.Fatalf("last refreshed not updated: %s", w.LastRefreshedOn)
	}
	if len(q.keys) != 2 {
		t.Fatalf("expected 2 enqueued videos, got %d", len(q.keys))
	}
	if len(p.saves) == 0 {
		t.Fatalf("refresh must persist the watch")
	}

	refreshed, err = ref.RefreshOnce(context.Background())
	if err != nil || refreshed {
		t.Fatalf("nothing else is due, got %v %v", refreshed, err)
	}
}

func TestRefresher_FailureKeepsWatchDue(t *testing.T) {
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(nil, []UserWatch{
		{Category: TwitchRecordings, Identifier: "s", AutoDownload: true, LastRefreshedOn: now.Add(-8 * time.Hour)},
	})
	f := &pagedFetcher{fail: errors.New("api down")}
	ref := &Refresher{
		Registry: r,
		Group:    &FetchTaskGroup{Fetchers: map[Category]Fetcher{TwitchRecordings: f}},
		Queue:    &memQueue{},
		Backoff:  10 * time.Minute,
		Now:      func() time.Time { return now },
	}
	if _, err := ref.RefreshOnce(context.Background()); err == nil {
		t.Fatalf("expected fetch error")
	}
	f.fail = nil
	f.pages = [][]videos.Descriptor{{}}
	if refreshed, err := ref.RefreshOnce(context.Background()); refreshed || err != nil {
		t.Fatalf("failed watch should back off: %v %v", refreshed, err)
	}
	now = now.Add(10 * time.Minute)
	if refreshed, err := ref.RefreshOnce(context.Background()); !refreshed || err != nil {
		t.Fatalf("watch should be due again after the backoff: %v %v", refreshed, err)
	}
	if w, _ := r.Get(Key{TwitchRecordings, "s"}); !w.LastRefreshedOn.Equal(now) {
		t.Fatalf("last refreshed not updated: %s", w.LastRefreshedOn)
	}
}

func TestRefresher_FailingWatchDoesNotStarveOthers(t *testing.T) {
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(nil, []UserWatch{
		{Category: YouTubeChannel, Identifier: "broken", AutoDownload: true, LastRefreshedOn: now.Add(-20 * time.Hour)},
		{Category: TwitchRecordings, Identifier: "ok", AutoDownload: true, LastRefreshedOn: now.Add(-8 * time.Hour)},
	})
	broken := &pagedFetcher{fail: errors.New("api down")}
	ok := &pagedFetcher{pages: [][]videos.Descriptor{{}}}
	ref := &Refresher{
		Registry: r,
		Group: &FetchTaskGroup{Fetchers: map[Category]Fetcher{
			YouTubeChannel:   broken,
			TwitchRecordings: ok,
		}},
		Queue: &memQueue{},
		Now:   func() time.Time { return now },
	}
	if _, err := ref.RefreshOnce(context.Background()); err == nil {
		t.Fatalf("expected the stalest watch to fail")
	}
	now = now.Add(DefaultTick)
	if refreshed, err := ref.RefreshOnce(context.Background()); !refreshed || err != nil {
		t.Fatalf("expected the next due watch to refresh: %v %v", refreshed, err)
	}
	if broken.calls["broken"] != 1 || ok.calls["ok"] != 1 {
		t.Fatalf("unexpected fetches %v %v", broken.calls, ok.calls)
	}

	now = now.Add(DefaultBackoff)
	if _, err := ref.RefreshOnce(context.Background()); err == nil {
		t.Fatalf("expected the broken watch to be retried after the backoff")
	}
	if broken.calls["broken"] != 2 {
		t.Fatalf("broken watch fetched %d times", broken.calls["broken"])
	}
}

type fixedResolver struct{ id int64 }

func (r fixedResolver) ResolveUserID(context.Context, UserWatch) (int64, error) { return r.id, nil }

func TestRefresher_CachesRemoteUserID(t *testing.T) {
	now := time.Now()
	r := NewRegistry(nil, []UserWatch{{Category: TwitchHighlights, Identifier: "s", AutoDownload: true}})
	f := &pagedFetcher{pages: [][]videos.Descriptor{{}}}
	ref := &Refresher{
		Registry: r,
		Group:    &FetchTaskGroup{Fetchers: map[Category]Fetcher{TwitchHighlights: f}},
		Queue:    &memQueue{},
		Resolver: fixedResolver{id: 4242},
		Now:      func() time.Time { return now },
	}
	if _, err := ref.RefreshOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if w, _ := r.Get(Key{TwitchHighlights, "s"}); w.RemoteUserID != 4242 {
		t.Fatalf("remote id not cached: %d", w.RemoteUserID)
	}
}

func TestRefresher_SkipsCategoriesWithoutFetcher(t *testing.T) {
	now := time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(nil, []UserWatch{
		{Category: TwitchRecordings, Identifier: "no-client", AutoDownload: true},
		{Category: YouTubeChannel, Identifier: "c", AutoDownload: true, LastRefreshedOn: now.Add(-8 * time.Hour)},
	})
	f := &pagedFetcher{pages: [][]videos.Descriptor{{}}}
	ref := &Refresher{
		Registry: r,
		Group:    &FetchTaskGroup{Fetchers: map[Category]Fetcher{YouTubeChannel: f}},
		Queue:    &memQueue{},
		Now:      func() time.Time { return now },
	}
	if refreshed, err := ref.RefreshOnce(context.Background()); !refreshed || err != nil {
		t.Fatalf("expected the youtube watch to refresh: %v %v", refreshed, err)
	}
	if f.calls["c"] != 1 {
		t.Fatalf("unexpected fetches %v", f.calls)
	}
}
