package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"vod-archiver/process"
)

// Binary is the ffmpeg executable looked up on PATH.
var Binary = "ffmpeg"

// runs ffmpeg with the provided args and returns (stdout, stderr, error)
func Ffmpeg(ctx context.Context, args ...string) ([]byte, []byte, error) {
	res, err := process.Run(ctx, process.Options{
		Program: Binary,
		Args:    args,
	})
	if err != nil {
		log.Errorf("ffmpeg error: %v", err)
	}
	return res.Stdout, res.Stderr, err
}

// Remux copies all streams of src into the container implied by dst's extension.
// The output is written next to dst and renamed into place on success.
func Remux(ctx context.Context, src, dst string) error {
	tmp := tempPath(dst)
	args := []string{"-y", "-i", src, "-c", "copy"}
	if strings.EqualFold(filepath.Ext(dst), ".mp4") {
		args = append(args, "-bsf:a", "aac_adtstoasc", "-movflags", "+faststart")
	}
	args = append(args, tmp)
	if _, _, err := Ffmpeg(ctx, args...); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return replace(tmp, dst)
}

// Clip copies the [from, to] second range of src into dst without re-encoding.
func Clip(ctx context.Context, src, dst string, from, to float64) error {
	tmp := tempPath(dst)
	_, _, err := Ffmpeg(ctx, "-y", "-i", src,
		"-ss", fmt.Sprintf("%f", from),
		"-to", fmt.Sprintf("%f", to),
		"-c", "copy",
		tmp)
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return replace(tmp, dst)
}

type ReencodeOptions struct {
	Height       uint // 0 keeps the source height
	CRF          int
	Preset       string
	AudioBitrate uint // kbps, 0 copies the audio stream
}

func Reencode(ctx context.Context, src, dst string, opts ReencodeOptions) error {
	crf := opts.CRF
	if crf <= 0 {
		crf = 23
	}
	preset := opts.Preset
	if preset == "" {
		preset = "veryfast"
	}

	args := []string{"-y", "-i", src}
	if opts.Height > 0 {
		args = append(args, "-vf", fmt.Sprintf("scale=-2:%d", opts.Height))
	}
	args = append(args, "-c:v", "libx264", "-crf", fmt.Sprintf("%d", crf), "-preset", preset)
	if opts.AudioBitrate > 0 {
		args = append(args, "-c:a", "aac", "-b:a", fmt.Sprintf("%dk", opts.AudioBitrate))
	} else {
		args = append(args, "-c:a", "copy")
	}
	tmp := tempPath(dst)
	args = append(args, tmp)
	if _, _, err := Ffmpeg(ctx, args...); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return replace(tmp, dst)
}

func Version(ctx context.Context) (string, error) {
	stdout, _, err := Ffmpeg(ctx, "-version")
	if err != nil {
		return "", err
	}
	first, _, _ := strings.Cut(string(stdout), "\n")
	return strings.TrimSpace(first), nil
}

// keeps the extension last so ffmpeg can infer the muxer
func tempPath(dst string) string {
	ext := filepath.Ext(dst)
	return strings.TrimSuffix(dst, ext) + ".tmp" + ext
}

func replace(tmp, dst string) error {
	if err := os.Remove(dst); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove old %s: %w", dst, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmp, dst, err)
	}
	return nil
}
