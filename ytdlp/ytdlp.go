package ytdlp

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"vod-archiver/process"
)

// Binary is the yt-dlp executable looked up on PATH.
var Binary = "yt-dlp"

type RunOptions struct {
	Dir    string
	Stall  *process.StallDetector
	OnLine func(line string)
}

// runs yt-dlp with the provided args and returns (stdout, stderr, error)
func Run(ctx context.Context, args ...string) ([]byte, []byte, error) {
	return RunWith(ctx, RunOptions{}, args...)
}

func RunWith(ctx context.Context, opts RunOptions, args ...string) ([]byte, []byte, error) {
	res, err := process.Run(ctx, process.Options{
		Program:  Binary,
		Args:     args,
		Dir:      opts.Dir,
		OnStdout: opts.OnLine,
		OnStderr: opts.OnLine,
		Stall:    opts.Stall,
	})
	if err != nil {
		log.Errorf("yt-dlp error: %v", err)
	}
	return res.Stdout, res.Stderr, err
}

type Meta struct {
	ID    string
	Title string
	Ext   string
}

func GetMeta(ctx context.Context, url string) (Meta, error) {
	stdout, _, err := Run(ctx, "--simulate", "--no-playlist", "--print", "%(id)s\t%(title)s\t%(ext)s", url)
	if err != nil {
		return Meta{}, err
	}
	line, _, _ := strings.Cut(strings.TrimSpace(string(stdout)), "\n")
	fields := strings.Split(line, "\t")
	if len(fields) != 3 {
		return Meta{}, fmt.Errorf("couldn't parse yt-dlp output %q", line)
	}
	return Meta{ID: fields[0], Title: fields[1], Ext: fields[2]}, nil
}

type DownloadOptions struct {
	URL string
	// Dir is the working directory; OutputTemplate is relative to it.
	Dir            string
	OutputTemplate string
	Stall          *process.StallDetector
	OnLine         func(line string)
}

func Download(ctx context.Context, opts DownloadOptions) error {
	if strings.TrimSpace(opts.URL) == "" {
		return fmt.Errorf("video URL is required")
	}
	tmpl := opts.OutputTemplate
	if tmpl == "" {
		tmpl = "%(title)s.%(ext)s"
	}
	_, _, err := RunWith(ctx, RunOptions{Dir: opts.Dir, Stall: opts.Stall, OnLine: opts.OnLine},
		"--no-playlist",
		"--newline",
		"--continue",
		"-f", "bestvideo+bestaudio/best",
		"-o", tmpl,
		opts.URL)
	return err
}

func Version(ctx context.Context) (string, error) {
	stdout, _, err := Run(ctx, "--version")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(stdout)), nil
}

var (
	reSpeed = regexp.MustCompile(`\bat\s+(?:~?\s*)([0-9.]+)\s*([KMGT]?i?B)/s`)
	reETA   = regexp.MustCompile(`\bETA\s+([0-9:]+)`)
)

// Progress is one parsed "[download]" progress line.
type Progress struct {
	BytesPerSec float64
	ETA         time.Duration
	KnownSpeed  bool
	KnownETA    bool
}

func ParseProgress(line string) (Progress, bool) {
	l := strings.TrimSpace(line)
	if !strings.HasPrefix(l, "[download]") || !strings.Contains(l, "%") {
		return Progress{}, false
	}
	var p Progress
	if m := reSpeed.FindStringSubmatch(l); m != nil {
		v, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			p.BytesPerSec = v * unitMultiplier(m[2])
			p.KnownSpeed = true
		}
	}
	if m := reETA.FindStringSubmatch(l); m != nil {
		if d, ok := parseClock(m[1]); ok {
			p.ETA = d
			p.KnownETA = true
		}
	}
	return p, true
}

// SlowProgress reports true for progress lines whose speed is below
// minBytesPerSec while the remaining time is above minETA. Unknown speed
// counts as zero, unknown ETA counts as unbounded.
func SlowProgress(minBytesPerSec float64, minETA time.Duration) func(line string) bool {
	return func(line string) bool {
		p, ok := ParseProgress(line)
		if !ok {
			return false
		}
		slow := !p.KnownSpeed || p.BytesPerSec < minBytesPerSec
		long := !p.KnownETA || p.ETA > minETA
		return slow && long
	}
}

// DefaultStall kills downloads that report under 20 KiB/s with more than
// 30 minutes left for over 100 consecutive progress lines.
func DefaultStall() *process.StallDetector {
	return &process.StallDetector{
		Match: SlowProgress(20*1024, 30*time.Minute),
		Limit: 100,
	}
}

func unitMultiplier(unit string) float64 {
	switch strings.ToUpper(unit) {
	case "KIB":
		return 1024
	case "MIB":
		return 1024 * 1024
	case "GIB":
		return 1024 * 1024 * 1024
	case "TIB":
		return 1024 * 1024 * 1024 * 1024
	case "KB":
		return 1000
	case "MB":
		return 1000 * 1000
	case "GB":
		return 1000 * 1000 * 1000
	case "TB":
		return 1000 * 1000 * 1000 * 1000
	default:
		return 1
	}
}

func parseClock(s string) (time.Duration, bool) {
	parts := strings.Split(s, ":")
	if len(parts) == 0 || len(parts) > 3 {
		return 0, false
	}
	var total time.Duration
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, false
		}
		total = total*60 + time.Duration(n)
	}
	return total * time.Second, true
}
