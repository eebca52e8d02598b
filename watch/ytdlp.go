package watch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"vod-archiver/videos"
	"vod-archiver/ytdlp"
)

// YtdlpFetcher lists YouTube channels, playlists and single URLs through yt-dlp.
type YtdlpFetcher struct {
	BatchSize int
}

const defaultBatchSize = 50

func (f *YtdlpFetcher) Fetch(ctx context.Context, w UserWatch, offset int, flat bool) (FetchResult, error) {
	u, err := youtubeURL(w)
	if err != nil {
		return FetchResult{}, err
	}
	batch := f.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	if w.Category == YouTubeURL {
		// a single video is one page
		batch = 1
		if offset > 0 {
			return FetchResult{Success: true, TotalCount: 1}, nil
		}
	}
	entries, err := ytdlp.ListPlaylist(ctx, u, offset+1, offset+batch, flat)
	if err != nil {
		return FetchResult{}, err
	}
	res := FetchResult{
		Success:    true,
		HasMore:    len(entries) == batch && w.Category != YouTubeURL,
		TotalCount: -1,
		BatchCount: len(entries),
	}
	for _, e := range entries {
		res.Videos = append(res.Videos, descriptorOf(e, w))
	}
	return res, nil
}

func descriptorOf(e ytdlp.Entry, w UserWatch) videos.Descriptor {
	d := videos.Descriptor{
		Service:        videos.ServiceYouTube,
		VideoID:        e.ID,
		Title:          e.Title,
		Username:       e.Owner(),
		Timestamp:      e.Time(),
		Length:         time.Duration(e.Duration * float64(time.Second)),
		RecordingState: videos.StateRecorded,
	}
	if d.Username == "" {
		d.Username = w.Identifier
	}
	if e.LiveStatus == "is_live" || e.LiveStatus == "is_upcoming" {
		d.RecordingState = videos.StateLive
	}
	return d
}

func youtubeURL(w UserWatch) (string, error) {
	id := strings.TrimSpace(w.Identifier)
	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		return id, nil
	}
	switch w.Category {
	case YouTubeChannel:
		if strings.HasPrefix(id, "@") {
			return "https://www.youtube.com/" + id + "/videos", nil
		}
		return "https://www.youtube.com/channel/" + url.PathEscape(id) + "/videos", nil
	case YouTubePlaylist:
		return "https://www.youtube.com/playlist?list=" + url.QueryEscape(id), nil
	case YouTubeURL:
		return "https://www.youtube.com/watch?v=" + url.QueryEscape(id), nil
	}
	return "", fmt.Errorf("%s is not a youtube category", w.Category)
}
