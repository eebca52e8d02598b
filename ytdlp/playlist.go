package ytdlp

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Entry is one item of a flat playlist listing.
type Entry struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	URL        string  `json:"url"`
	Channel    string  `json:"channel"`
	Uploader   string  `json:"uploader"`
	Duration   float64 `json:"duration"`
	Timestamp  int64   `json:"timestamp"`
	UploadDate string  `json:"upload_date"`
	LiveStatus string  `json:"live_status"`
}

// Time is when the entry was published, or the zero time if yt-dlp didn't say.
func (e Entry) Time() time.Time {
	if e.Timestamp > 0 {
		return time.Unix(e.Timestamp, 0).UTC()
	}
	if t, err := time.Parse("20060102", e.UploadDate); err == nil {
		return t
	}
	return time.Time{}
}

func (e Entry) Owner() string {
	if e.Channel != "" {
		return e.Channel
	}
	return e.Uploader
}

// ListPlaylist returns entries start..end (1-based, inclusive) of a channel or
// playlist without resolving formats. flat skips per-video metadata lookups.
func ListPlaylist(ctx context.Context, url string, start, end int, flat bool) ([]Entry, error) {
	args := []string{
		"--dump-json",
		"--ignore-errors",
		"--playlist-items", strconv.Itoa(start) + ":" + strconv.Itoa(end),
	}
	if flat {
		args = append(args, "--flat-playlist")
	} else {
		args = append(args, "--skip-download")
	}
	var mu sync.Mutex
	var out []Entry
	onLine := func(line string) {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			return
		}
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			log.Warnf("skipping unparseable playlist entry: %v", err)
			return
		}
		if e.ID != "" {
			mu.Lock()
			out = append(out, e)
			mu.Unlock()
		}
	}
	// entries are parsed as they stream; the retained stdout is bounded
	_, _, err := RunWith(ctx, RunOptions{OnLine: onLine}, append(args, url)...)
	if err != nil && len(out) == 0 {
		return nil, err
	}
	return out, nil
}
