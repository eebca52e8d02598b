// Package watch keeps the list of channels, users and feeds that are checked
// for new videos, and the loop that refreshes them.
package watch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"vod-archiver/videos"
)

type Category string

const (
	TwitchRecordings Category = "twitch_recordings"
	TwitchHighlights Category = "twitch_highlights"
	TwitchUploads    Category = "twitch_uploads"
	HitboxRecordings Category = "hitbox_recordings"
	YouTubeChannel   Category = "youtube_channel"
	YouTubePlaylist  Category = "youtube_playlist"
	YouTubeURL       Category = "youtube_url"
	RSSFeed          Category = "rss_feed"
)

var categories = []Category{
	TwitchRecordings, TwitchHighlights, TwitchUploads, HitboxRecordings,
	YouTubeChannel, YouTubePlaylist, YouTubeURL, RSSFeed,
}

// names written by older versions
var legacyCategories = map[string]Category{
	"twitch":          TwitchRecordings,
	"twitchrecording": TwitchRecordings,
	"twitchhighlight": TwitchHighlights,
	"twitchupload":    TwitchUploads,
	"hitbox":          HitboxRecordings,
	"youtube":         YouTubeChannel,
	"youtubeplaylist": YouTubePlaylist,
	"youtubeurl":      YouTubeURL,
	"rss":             RSSFeed,
}

var ErrUnknownCategory = errors.New("unknown watch category")

func Categories() []Category {
	return append([]Category(nil), categories...)
}

func ParseCategory(s string) (Category, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	for _, c := range categories {
		if string(c) == v {
			return c, nil
		}
	}
	if c, ok := legacyCategories[strings.ReplaceAll(strings.ReplaceAll(v, "_", ""), " ", "")]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Service is where videos found through this category are downloaded from.
func (c Category) Service() videos.Service {
	switch c {
	case TwitchRecordings, TwitchHighlights, TwitchUploads:
		return videos.ServiceTwitch
	case HitboxRecordings:
		return videos.ServiceHitbox
	case YouTubeChannel, YouTubePlaylist, YouTubeURL:
		return videos.ServiceYouTube
	case RSSFeed:
		return videos.ServiceRSS
	}
	return videos.ServiceUnknown
}

type Key struct {
	Category   Category `json:"category"`
	Identifier string   `json:"identifier"`
}

func (k Key) String() string {
	return string(k.Category) + "/" + k.Identifier
}

type UserWatch struct {
	Category        Category  `json:"category"`
	Identifier      string    `json:"identifier"`
	Persistable     bool      `json:"persistable"`
	AutoDownload    bool      `json:"auto_download"`
	LastRefreshedOn time.Time `json:"last_refreshed_on"`
	RemoteUserID    int64     `json:"remote_user_id,omitempty"`
}

func (w UserWatch) Key() Key {
	return Key{Category: w.Category, Identifier: w.Identifier}
}

// Less orders by category, then identifier.
func Less(a, b UserWatch) bool {
	if a.Category != b.Category {
		return a.Category < b.Category
	}
	return a.Identifier < b.Identifier
}

type Persister interface {
	SaveWatches(list []UserWatch) error
}

var ErrNotFound = errors.New("watch not found")

// Registry is the process-wide set of watches, guarded by one mutex.
// Every change to a persistable watch is written through the Persister.
type Registry struct {
	mu        sync.Mutex
	watches   map[Key]*UserWatch
	persister Persister
}

func NewRegistry(p Persister, initial []UserWatch) *Registry {
	r := &Registry{watches: map[Key]*UserWatch{}, persister: p}
	for _, w := range initial {
		w := w
		r.watches[w.Key()] = &w
	}
	return r
}

// Add returns false if a watch with the same key exists.
func (r *Registry) Add(w UserWatch) (bool, error) {
	w.Identifier = strings.TrimSpace(w.Identifier)
	if w.Identifier == "" {
		return false, fmt.Errorf("empty identifier")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.watches[w.Key()]; ok {
		return false, nil
	}
	r.watches[w.Key()] = &w
	if w.Persistable {
		return true, r.persistLocked()
	}
	return true, nil
}

func (r *Registry) Remove(k Key) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[k]
	if !ok {
		return ErrNotFound
	}
	delete(r.watches, k)
	if w.Persistable {
		return r.persistLocked()
	}
	return nil
}

func (r *Registry) Get(k Key) (UserWatch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[k]
	if !ok {
		return UserWatch{}, false
	}
	return *w, true
}

// List returns a sorted copy.
func (r *Registry) List() []UserWatch {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked(false)
}

func (r *Registry) listLocked(persistableOnly bool) []UserWatch {
	out := make([]UserWatch, 0, len(r.watches))
	for _, w := range r.watches {
		if persistableOnly && !w.Persistable {
			continue
		}
		out = append(out, *w)
	}
	sort.Slice(out, func(i, k int) bool { return Less(out[i], out[k]) })
	return out
}

func (r *Registry) SetAutoDownload(k Key, on bool) error {
	return r.update(k, func(w *UserWatch) { w.AutoDownload = on })
}

func (r *Registry) Touch(k Key, t time.Time) error {
	return r.update(k, func(w *UserWatch) { w.LastRefreshedOn = t })
}

func (r *Registry) SetRemoteUserID(k Key, id int64) error {
	return r.update(k, func(w *UserWatch) { w.RemoteUserID = id })
}

func (r *Registry) update(k Key, fn func(w *UserWatch)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.watches[k]
	if !ok {
		return ErrNotFound
	}
	fn(w)
	if w.Persistable {
		return r.persistLocked()
	}
	return nil
}

// Stalest returns the auto-download watch refreshed longest ago among those
// eligible accepts. A nil eligible accepts every watch.
func (r *Registry) Stalest(eligible func(UserWatch) bool) (UserWatch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var best *UserWatch
	for _, w := range r.watches {
		if !w.AutoDownload || (eligible != nil && !eligible(*w)) {
			continue
		}
		if best == nil || w.LastRefreshedOn.Before(best.LastRefreshedOn) ||
			(w.LastRefreshedOn.Equal(best.LastRefreshedOn) && Less(*w, *best)) {
			best = w
		}
	}
	if best == nil {
		return UserWatch{}, false
	}
	return *best, true
}

func (r *Registry) persistLocked() error {
	if r.persister == nil {
		return nil
	}
	if err := r.persister.SaveWatches(r.listLocked(true)); err != nil {
		log.Errorf("couldn't save watches: %v", err)
		return err
	}
	return nil
}
