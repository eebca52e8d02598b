package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"vod-archiver/process"
)

var ProbeBinary = "ffprobe"

type ProbeOutput struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     uint   `json:"width"`
		Height    uint   `json:"height"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
		BitRate    string `json:"bit_rate"`
	} `json:"format"`
}

// runs ffprobe with the provided args and returns (stdout, stderr, error)
func Ffprobe(ctx context.Context, args ...string) ([]byte, []byte, error) {
	res, err := process.Run(ctx, process.Options{
		Program: ProbeBinary,
		Args:    args,
	})
	if err != nil {
		log.Errorf("ffprobe error: %v", err)
	}
	return res.Stdout, res.Stderr, err
}

func Probe(ctx context.Context, path string) (ProbeOutput, error) {
	output, _, err := Ffprobe(ctx, "-v", "quiet", "-print_format", "json", "-show_streams", "-show_format", path)
	if err != nil {
		return ProbeOutput{}, err
	}
	var out ProbeOutput
	if err := json.Unmarshal(output, &out); err != nil {
		return ProbeOutput{}, fmt.Errorf("parse ffprobe output: %w", err)
	}
	return out, nil
}

// return the length in seconds of a media file at `path`
func Duration(ctx context.Context, path string) (float64, error) {
	stdout, _, err := Ffprobe(ctx, "-v", "error", "-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1", path)
	if err != nil {
		return -1, err
	}
	result, err := strconv.ParseFloat(strings.TrimSpace(string(stdout)), 64)
	if err != nil {
		return -1, fmt.Errorf("parse duration %q: %w", strings.TrimSpace(string(stdout)), err)
	}
	return result, nil
}
