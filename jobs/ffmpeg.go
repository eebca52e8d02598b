package jobs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"vod-archiver/ffmpeg"
	"vod-archiver/videos"
)

const reencodedSuffix = "_reencoded"

// FFMpegReencode shrinks a local file with x264. The output lands next to the source.
type FFMpegReencode struct {
	Source string `json:"source"`
	Height uint   `json:"height,omitempty"`
	CRF    int    `json:"crf,omitempty"`
}

func (t *FFMpegReencode) Kind() string { return KindFFMpegReencode }

func (t *FFMpegReencode) FileURLs(context.Context, *Env, *Job) ([]string, error) {
	return []string{t.Source}, nil
}

func (t *FFMpegReencode) TargetFilename(videos.Descriptor) string {
	return stem(t.Source) + reencodedSuffix
}

func (t *FFMpegReencode) Run(ctx context.Context, env *Env, j *Job) error {
	if !fileExists(t.Source) {
		return Dead("source file %s is missing", t.Source)
	}
	dir := filepath.Dir(t.Source)
	dst := filepath.Join(dir, t.TargetFilename(j.Video())+".mp4")
	if fileExists(dst) {
		j.SetOutputPath(dst)
		j.SetStatusText("Already encoded")
		return nil
	}
	if err := checkFreeSpace(env, dir); err != nil {
		return err
	}
	j.SetValidated(true)
	j.SetStatusText("Encoding...")
	err := ffmpeg.Reencode(ctx, t.Source, dst, ffmpeg.ReencodeOptions{Height: t.Height, CRF: t.CRF})
	if err != nil {
		return err
	}
	j.SetOutputPath(dst)
	j.SetStatusText("Done")
	return nil
}

// FFMpegSplit cuts [From, To] (seconds) out of a local file without re-encoding.
type FFMpegSplit struct {
	Source string  `json:"source"`
	From   float64 `json:"from_seconds"`
	To     float64 `json:"to_seconds"`
}

// NewSplit creates a split job. Every split gets its own id so the same file
// can be cut several times.
func NewSplit(source string, from, to time.Duration, observer Observer) (*Job, error) {
	if to <= from {
		return nil, fmt.Errorf("split range %s-%s is empty", from, to)
	}
	v := videos.Descriptor{
		Service:        videos.ServiceFFMpegSplit,
		VideoID:        uuid.NewString(),
		Title:          stem(source),
		Timestamp:      time.Now(),
		RecordingState: videos.StateRecorded,
		FileType:       fileTypeOf(source),
	}
	task := &FFMpegSplit{Source: source, From: from.Seconds(), To: to.Seconds()}
	return NewJob(v, task, observer), nil
}

func (t *FFMpegSplit) Kind() string { return KindFFMpegSplit }

func (t *FFMpegSplit) FileURLs(context.Context, *Env, *Job) ([]string, error) {
	return []string{t.Source}, nil
}

func (t *FFMpegSplit) TargetFilename(videos.Descriptor) string {
	return fmt.Sprintf("%s_%s-%s", stem(t.Source), clock(t.From), clock(t.To))
}

func (t *FFMpegSplit) Run(ctx context.Context, env *Env, j *Job) error {
	if !fileExists(t.Source) {
		return Dead("source file %s is missing", t.Source)
	}
	dir := filepath.Dir(t.Source)
	dst := filepath.Join(dir, t.TargetFilename(j.Video())+filepath.Ext(t.Source))
	if fileExists(dst) {
		j.SetOutputPath(dst)
		j.SetStatusText("Already split")
		return nil
	}
	if err := checkFreeSpace(env, dir); err != nil {
		return err
	}
	j.SetValidated(true)
	err := withDiskIO(ctx, env, func() error {
		j.SetStatusText("Splitting...")
		return ffmpeg.Clip(ctx, t.Source, dst, t.From, t.To)
	})
	if err != nil {
		return err
	}
	j.SetOutputPath(dst)
	j.SetStatusText("Done")
	return nil
}

var reencodeExts = map[string]videos.FileType{
	".mp4": videos.FileTypeMP4,
	".flv": videos.FileTypeFLV,
	".ts":  videos.FileTypeTS,
	".mkv": videos.FileTypeUnknown,
}

// ScanReencodeCandidates lists the media files in dir that have not been
// re-encoded yet, as FFMpegJob descriptors keyed by absolute path.
func ScanReencodeCandidates(dir string) ([]videos.Descriptor, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", abs, err)
	}
	names := map[string]bool{}
	for _, e := range entries {
		names[e.Name()] = true
	}
	var out []videos.Descriptor
	for _, e := range entries {
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if e.IsDir() || strings.Contains(name, ".tmp") {
			continue
		}
		if _, ok := reencodeExts[ext]; !ok {
			continue
		}
		s := strings.TrimSuffix(name, filepath.Ext(name))
		if strings.HasSuffix(s, reencodedSuffix) || names[s+reencodedSuffix+".mp4"] {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, videos.Descriptor{
			Service:        videos.ServiceFFMpegJob,
			VideoID:        filepath.Join(abs, name),
			Title:          s,
			Timestamp:      info.ModTime(),
			RecordingState: videos.StateRecorded,
			FileType:       reencodeExts[ext],
		})
	}
	sort.Slice(out, func(i, k int) bool { return out[i].VideoID < out[k].VideoID })
	return out, nil
}

func stem(p string) string {
	base := filepath.Base(p)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func fileTypeOf(p string) videos.FileType {
	if ft, ok := reencodeExts[strings.ToLower(filepath.Ext(p))]; ok {
		return ft
	}
	return videos.FileTypeUnknown
}

// clock formats seconds as hhmmss for file names.
func clock(sec float64) string {
	d := time.Duration(sec * float64(time.Second))
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d%02d%02d", h, m, s)
}
