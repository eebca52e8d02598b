package jobs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"vod-archiver/segments"
	"vod-archiver/videos"
)

// TwitchVOD downloads a recorded Twitch broadcast from its segment list.
type TwitchVOD struct{}

func (t *TwitchVOD) Kind() string { return KindTwitchVOD }

func (t *TwitchVOD) FileURLs(ctx context.Context, env *Env, j *Job) ([]string, error) {
	return segmentURLs(ctx, env, j)
}

func (t *TwitchVOD) TargetFilename(v videos.Descriptor) string { return TargetFilename(v) }

func (t *TwitchVOD) Run(ctx context.Context, env *Env, j *Job) error {
	return runSegmented(ctx, env, j, t)
}

// HitboxVOD downloads a Hitbox recording; same pipeline as Twitch.
type HitboxVOD struct{}

func (t *HitboxVOD) Kind() string { return KindHitboxVOD }

func (t *HitboxVOD) FileURLs(ctx context.Context, env *Env, j *Job) ([]string, error) {
	return segmentURLs(ctx, env, j)
}

func (t *HitboxVOD) TargetFilename(v videos.Descriptor) string { return TargetFilename(v) }

func (t *HitboxVOD) Run(ctx context.Context, env *Env, j *Job) error {
	return runSegmented(ctx, env, j, t)
}

// segmentURLs asks the platform for the file list. A single playlist URL is
// expanded into its segments.
func segmentURLs(ctx context.Context, env *Env, j *Job) ([]string, error) {
	v := j.Video()
	src, err := env.source(v.Service)
	if err != nil {
		return nil, err
	}
	urls, err := src.FileURLs(ctx, v)
	if err != nil {
		return nil, sourceError("list files", err)
	}
	if len(urls) == 1 && isPlaylist(urls[0]) {
		body, err := env.Segments.FetchPlaylist(ctx, urls[0])
		if err != nil {
			return nil, segmentError(err)
		}
		urls = segments.ExtractSegments(urls[0], body)
	}
	if len(urls) == 0 {
		return nil, RetryLater("no files listed for %s", v.Key())
	}
	return urls, nil
}

func isPlaylist(u string) bool {
	u, _, _ = strings.Cut(u, "?")
	return strings.HasSuffix(strings.ToLower(u), ".m3u8")
}

// refresh re-queries the video's metadata and marks it validated.
func refresh(ctx context.Context, env *Env, j *Job) error {
	v := j.Video()
	src, err := env.source(v.Service)
	if err != nil {
		return err
	}
	j.SetStatusText("Retrieving video info...")
	fresh, err := src.Refresh(ctx, v)
	if err != nil {
		return sourceError("refresh video info", err)
	}
	if fresh.Key() == v.Key() {
		j.UpdateVideo(fresh)
	}
	j.SetValidated(true)
	return nil
}

// sourceError keeps Dead and RetryLater from a platform client and turns
// anything else into RetryLater; remote APIs fail transiently.
func sourceError(what string, err error) error {
	var dead *DeadError
	var later *RetryLaterError
	if errors.As(err, &dead) || errors.As(err, &later) || errors.Is(err, context.Canceled) {
		return err
	}
	return RetryLater("%s: %v", what, err)
}

func segmentError(err error) error {
	var perm *segments.PermanentError
	if errors.As(err, &perm) && (perm.StatusCode == http.StatusNotFound || perm.StatusCode == http.StatusGone) {
		return Dead("video files are gone (HTTP %d)", perm.StatusCode)
	}
	return err
}

// runSegmented is download parts -> combined.ts -> remuxed.mp4 -> final.
// Each step is skipped when its output is already on disk.
func runSegmented(ctx context.Context, env *Env, j *Job, t Task) error {
	if err := refresh(ctx, env, j); err != nil {
		return err
	}
	v := j.Video()
	if v.RecordingState == videos.StateLive {
		return RetryLater("video is still live")
	}

	final := filepath.Join(env.TargetDir, t.TargetFilename(v)+".mp4")
	if fileExists(final) {
		j.SetOutputPath(final)
		j.SetStatusText("Already downloaded")
		return nil
	}
	if err := checkFreeSpace(env, env.TempDir); err != nil {
		return err
	}

	work := workDir(env, v)
	combined := filepath.Join(work, "combined.ts")
	remuxed := filepath.Join(work, "remuxed.mp4")

	if !fileExists(remuxed) && !fileExists(combined) {
		j.SetStatusText("Retrieving file list...")
		urls, err := t.FileURLs(ctx, env, j)
		if err != nil {
			return err
		}
		parts, err := env.Segments.Download(ctx, filepath.Join(work, "parts"), urls, func(done, total int) {
			j.SetStatusText(fmt.Sprintf("Downloading... (%d/%d)", done, total))
		})
		if err != nil {
			return segmentError(err)
		}
		err = withDiskIO(ctx, env, func() error {
			j.SetStatusText("Combining...")
			return segments.Combine(ctx, parts, combined)
		})
		if err != nil {
			return err
		}
	}

	if !fileExists(remuxed) {
		err := withDiskIO(ctx, env, func() error {
			j.SetStatusText("Remuxing...")
			return segments.Remux(ctx, combined, remuxed)
		})
		if err != nil {
			return err
		}
	}

	err := withDiskIO(ctx, env, func() error {
		j.SetStatusText("Moving to target...")
		return moveFile(remuxed, final)
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
