// Package videos describes remote (or local) media items independent of how
// they are downloaded.
package videos

import (
	"fmt"
	"strings"
	"time"
)

type Service string

const (
	ServiceUnknown          Service = "unknown"
	ServiceTwitch           Service = "twitch"
	ServiceTwitchChatReplay Service = "twitch_chat_replay"
	ServiceHitbox           Service = "hitbox"
	ServiceYouTube          Service = "youtube"
	ServiceRawURL           Service = "raw_url"
	ServiceRSS              Service = "rss"
	ServiceFFMpegJob        Service = "ffmpeg_job"
	ServiceFFMpegSplit      Service = "ffmpeg_split"
)

var knownServices = []Service{
	ServiceTwitch, ServiceTwitchChatReplay, ServiceHitbox, ServiceYouTube,
	ServiceRawURL, ServiceRSS, ServiceFFMpegJob, ServiceFFMpegSplit,
}

func Services() []Service {
	return append([]Service(nil), knownServices...)
}

func ParseService(s string) Service {
	v := Service(strings.ToLower(strings.TrimSpace(s)))
	for _, k := range knownServices {
		if v == k {
			return k
		}
	}
	return ServiceUnknown
}

type RecordingState string

const (
	StateUnknown  RecordingState = "unknown"
	StateLive     RecordingState = "live"
	StateRecorded RecordingState = "recorded"
)

type FileType string

const (
	FileTypeUnknown FileType = "unknown"
	FileTypeFLV     FileType = "flv"
	FileTypeMP4     FileType = "mp4"
	FileTypeTS      FileType = "ts"
	FileTypeM3U8    FileType = "m3u8"
	FileTypeJSON    FileType = "json"
)

// Key identifies a video. Two descriptors are the same video iff their keys match.
type Key struct {
	Service Service `json:"service"`
	VideoID string  `json:"video_id"`
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s", k.Service, k.VideoID)
}

type Descriptor struct {
	Service        Service        `json:"service"`
	Username       string         `json:"username"`
	VideoID        string         `json:"video_id"`
	Title          string         `json:"title"`
	Game           string         `json:"game,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
	Length         time.Duration  `json:"length"`
	RecordingState RecordingState `json:"recording_state,omitempty"`
	FileType       FileType       `json:"file_type,omitempty"`
}

func (d Descriptor) Key() Key {
	return Key{Service: d.Service, VideoID: d.VideoID}
}

// Equal compares identity only; titles and timestamps may drift between fetches.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.Key() == o.Key()
}

func (d Descriptor) String() string {
	if d.Title == "" {
		return d.Key().String()
	}
	return fmt.Sprintf("%s [%s]", d.Title, d.Key())
}

// Dedup returns vs with later duplicates (by Key) removed, keeping order.
func Dedup(vs []Descriptor) []Descriptor {
	seen := make(map[Key]struct{}, len(vs))
	out := make([]Descriptor, 0, len(vs))
	for _, v := range vs {
		if _, ok := seen[v.Key()]; ok {
			continue
		}
		seen[v.Key()] = struct{}{}
		out = append(out, v)
	}
	return out
}
