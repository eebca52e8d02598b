package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"vod-archiver/process"
	"vod-archiver/segments"
	"vod-archiver/videos"
)

const (
	KindTwitchVOD        = "twitch_vod"
	KindTwitchChatReplay = "twitch_chat_replay"
	KindHitboxVOD        = "hitbox_vod"
	KindYouTube          = "youtube"
	KindRawURL           = "raw_url"
	KindFFMpegReencode   = "ffmpeg_reencode"
	KindFFMpegSplit      = "ffmpeg_split"
)

// Task is the per-source behaviour of a job.
type Task interface {
	Kind() string
	// FileURLs lists what Run will fetch, in order.
	FileURLs(ctx context.Context, env *Env, j *Job) ([]string, error)
	// TargetFilename is the final file name without extension.
	TargetFilename(v videos.Descriptor) string
	Run(ctx context.Context, env *Env, j *Job) error
}

// MediaSource is a platform client. Refresh re-queries metadata that may
// have changed since the video was discovered (title, recording state).
type MediaSource interface {
	Refresh(ctx context.Context, v videos.Descriptor) (videos.Descriptor, error)
	FileURLs(ctx context.Context, v videos.Descriptor) ([]string, error)
}

type ChatPage struct {
	Messages []json.RawMessage
	Next     string
	Done     bool
}

type ChatSource interface {
	FetchChat(ctx context.Context, v videos.Descriptor, cursor string) (ChatPage, error)
}

// Env is everything a task needs from the outside world.
type Env struct {
	TargetDir string
	TempDir   string

	Sources  map[videos.Service]MediaSource
	Chat     ChatSource
	Segments *segments.Downloader

	// DiskIO serializes combine, remux and move across all lanes. nil disables it.
	DiskIO       *semaphore.Weighted
	MinFreeBytes uint64
	Stall        *process.StallDetector

	// FreeSpace overrides the statfs lookup, for tests.
	FreeSpace func(path string) (uint64, error)
	Now       func() time.Time
}

func (e *Env) source(s videos.Service) (MediaSource, error) {
	src, ok := e.Sources[s]
	if !ok || src == nil {
		return nil, fmt.Errorf("no media source configured for %s", s)
	}
	return src, nil
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// TaskFor returns the task variant for a discovered video.
func TaskFor(v videos.Descriptor) (Task, error) {
	switch v.Service {
	case videos.ServiceTwitch:
		return &TwitchVOD{}, nil
	case videos.ServiceTwitchChatReplay:
		return &TwitchChatReplay{}, nil
	case videos.ServiceHitbox:
		return &HitboxVOD{}, nil
	case videos.ServiceYouTube:
		return &YouTube{}, nil
	case videos.ServiceRawURL, videos.ServiceRSS:
		return &RawURL{URL: v.VideoID}, nil
	case videos.ServiceFFMpegJob:
		return &FFMpegReencode{Source: v.VideoID}, nil
	case videos.ServiceFFMpegSplit:
		return nil, fmt.Errorf("split jobs need a time range, use NewSplit")
	}
	return nil, fmt.Errorf("no job type for service %q", v.Service)
}

func decodeInto(raw json.RawMessage, t Task) (Task, error) {
	if len(raw) > 0 && string(raw) != "null" {
		if err := json.Unmarshal(raw, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

var decoders = map[string]func(raw json.RawMessage) (Task, error){
	KindTwitchVOD:        func(raw json.RawMessage) (Task, error) { return decodeInto(raw, &TwitchVOD{}) },
	KindTwitchChatReplay: func(raw json.RawMessage) (Task, error) { return decodeInto(raw, &TwitchChatReplay{}) },
	KindHitboxVOD:        func(raw json.RawMessage) (Task, error) { return decodeInto(raw, &HitboxVOD{}) },
	KindYouTube:          func(raw json.RawMessage) (Task, error) { return decodeInto(raw, &YouTube{}) },
	KindRawURL:           func(raw json.RawMessage) (Task, error) { return decodeInto(raw, &RawURL{}) },
	KindFFMpegReencode:   func(raw json.RawMessage) (Task, error) { return decodeInto(raw, &FFMpegReencode{}) },
	KindFFMpegSplit:      func(raw json.RawMessage) (Task, error) { return decodeInto(raw, &FFMpegSplit{}) },
}

// DecodeTask rebuilds a persisted task. Unknown kinds are kept as Generic.
func DecodeTask(kind string, raw json.RawMessage) (Task, error) {
	mk, ok := decoders[kind]
	if !ok {
		return &Generic{RawKind: kind, Payload: append(json.RawMessage(nil), raw...)}, nil
	}
	t, err := mk(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s task: %w", kind, err)
	}
	return t, nil
}
