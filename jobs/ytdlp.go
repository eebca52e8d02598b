package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vod-archiver/process"
	"vod-archiver/videos"
	"vod-archiver/ytdlp"
)

// YouTube downloads a single video through yt-dlp.
type YouTube struct{}

func (t *YouTube) Kind() string { return KindYouTube }

func (t *YouTube) FileURLs(context.Context, *Env, *Job) ([]string, error) {
	return nil, nil
}

func (t *YouTube) TargetFilename(v videos.Descriptor) string { return TargetFilename(v) }

func (t *YouTube) Run(ctx context.Context, env *Env, j *Job) error {
	return runYtdlp(ctx, env, j, t, "https://www.youtube.com/watch?v="+j.Video().VideoID)
}

// RawURL hands any URL yt-dlp understands to yt-dlp. RSS entries end up here too.
type RawURL struct {
	URL string `json:"url"`
}

func (t *RawURL) Kind() string { return KindRawURL }

func (t *RawURL) FileURLs(context.Context, *Env, *Job) ([]string, error) {
	return []string{t.URL}, nil
}

func (t *RawURL) TargetFilename(v videos.Descriptor) string { return TargetFilename(v) }

func (t *RawURL) Run(ctx context.Context, env *Env, j *Job) error {
	if t.URL == "" {
		return Dead("no URL")
	}
	return runYtdlp(ctx, env, j, t, t.URL)
}

func runYtdlp(ctx context.Context, env *Env, j *Job, t Task, url string) error {
	if !j.HasBeenValidated() {
		if err := validateWithYtdlp(ctx, env, j, url); err != nil {
			return err
		}
	}
	v := j.Video()
	if v.RecordingState == videos.StateLive {
		return RetryLater("video is still live")
	}
	stem := t.TargetFilename(v)
	if existing, ok := findWithStem(env.TargetDir, stem); ok {
		j.SetOutputPath(existing)
		j.SetStatusText("Already downloaded")
		return nil
	}
	if err := checkFreeSpace(env, env.TempDir); err != nil {
		return err
	}

	work := workDir(env, v)
	if err := os.MkdirAll(work, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", work, err)
	}
	if _, ok := findWithStem(work, "video"); !ok {
		j.SetStatusText("Downloading...")
		err := ytdlp.Download(ctx, ytdlp.DownloadOptions{
			URL:            url,
			Dir:            work,
			OutputTemplate: "video.%(ext)s",
			Stall:          env.Stall,
			OnLine: func(line string) {
				if strings.HasPrefix(line, "[download]") && strings.Contains(line, "%") {
					j.SetStatusText("Downloading... " + strings.TrimSpace(strings.TrimPrefix(line, "[download]")))
				}
			},
		})
		if err != nil {
			return classifyYtdlp(err)
		}
	}
	downloaded, ok := findWithStem(work, "video")
	if !ok {
		return fmt.Errorf("yt-dlp finished but no output file in %s", work)
	}

	final := filepath.Join(env.TargetDir, stem+filepath.Ext(downloaded))
	err := withDiskIO(ctx, env, func() error {
		j.SetStatusText("Moving to target...")
		return moveFile(downloaded, final)
	})
	if err != nil {
		return err
	}
	j.SetOutputPath(final)
	if err := os.RemoveAll(work); err != nil {
		log.Warnf("couldn't clean up %s: %v", work, err)
	}
	j.SetStatusText("Done")
	return nil
}

// validateWithYtdlp fills in the title from yt-dlp when the source gave none.
func validateWithYtdlp(ctx context.Context, env *Env, j *Job, url string) error {
	v := j.Video()
	if src, ok := env.Sources[v.Service]; ok && src != nil {
		return refresh(ctx, env, j)
	}
	if v.Title == "" {
		j.SetStatusText("Retrieving video info...")
		meta, err := ytdlp.GetMeta(ctx, url)
		if err != nil {
			return classifyYtdlp(err)
		}
		j.UpdateVideo(videos.Descriptor{Title: meta.Title})
	}
	if v.Timestamp.IsZero() {
		j.UpdateVideo(videos.Descriptor{Timestamp: env.now()})
	}
	j.SetValidated(true)
	return nil
}

var (
	deadMarkers = []string{
		"Video unavailable",
		"This video has been removed",
		"Private video",
		"This video is no longer available",
		"HTTP Error 404",
		"HTTP Error 410",
	}
	laterMarkers = []string{
		"HTTP Error 429",
		"Too Many Requests",
		"This live event will begin",
		"Premieres in",
	}
)

// classifyYtdlp maps yt-dlp failures onto the job error kinds.
func classifyYtdlp(err error) error {
	if errors.Is(err, process.ErrStalled) {
		return RetryLater("download stalled")
	}
	var ee *process.ExitError
	if !errors.As(err, &ee) {
		return err
	}
	for _, m := range deadMarkers {
		if strings.Contains(ee.Stderr, m) {
			return Dead("%s", firstLineWith(ee.Stderr, m))
		}
	}
	for _, m := range laterMarkers {
		if strings.Contains(ee.Stderr, m) {
			return RetryLater("%s", firstLineWith(ee.Stderr, m))
		}
	}
	return err
}

func firstLineWith(s, substr string) string {
	for _, line := range strings.Split(s, "\n") {
		if strings.Contains(line, substr) {
			return strings.TrimSpace(line)
		}
	}
	return substr
}
