// Package segments downloads a video that is served as an ordered list of
// parts, joins the parts and remuxes the result. Every step is resumable:
// it does nothing when its output already exists.
package segments

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"golang.org/x/time/rate"

	"vod-archiver/ffmpeg"
)

// TransientError marks a failure worth retrying straight away: connection
// problems, 5xx and 429 responses, truncated bodies.
type TransientError struct {
	URL string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure fetching %s: %v", e.URL, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// PermanentError is a response that will not change on retry.
type PermanentError struct {
	URL        string
	StatusCode int
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("fetching %s: HTTP %d", e.URL, e.StatusCode)
}

type Downloader struct {
	Client *http.Client
	// Limiter caps throughput in bytes per second. nil means unlimited.
	Limiter *rate.Limiter
}

// New returns a Downloader; bytesPerSec <= 0 disables the bandwidth cap.
func New(client *http.Client, bytesPerSec int) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}
	d := &Downloader{Client: client}
	if bytesPerSec > 0 {
		burst := bytesPerSec
		if burst < 4096 {
			burst = 4096
		}
		d.Limiter = rate.NewLimiter(rate.Limit(bytesPerSec), burst)
	}
	return d
}

func PartName(index int, ext string) string {
	return fmt.Sprintf("part%08d%s", index, ext)
}

// Download fetches every url into dir as a numbered part and returns the part
// paths in order. Parts already on disk are not fetched again. progress, if
// set, is called after each part with the number of parts on disk.
func (d *Downloader) Download(ctx context.Context, dir string, urls []string, progress func(done, total int)) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create segment dir %s: %w", dir, err)
	}
	paths := make([]string, len(urls))
	for i, u := range urls {
		final := filepath.Join(dir, PartName(i, partExt(u)))
		paths[i] = final
		if !fileExists(final) {
			if err := d.fetchToFile(ctx, u, final); err != nil {
				return nil, err
			}
		}
		if progress != nil {
			progress(i+1, len(urls))
		}
	}
	return paths, nil
}

// FetchPlaylist returns the body at url using the same retry policy as parts.
func (d *Downloader) FetchPlaylist(ctx context.Context, playlistURL string) (string, error) {
	var sb strings.Builder
	err := d.retry(ctx, playlistURL, func() error {
		sb.Reset()
		return d.fetchOnce(ctx, playlistURL, &sb)
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Combine concatenates parts in order into target. It is a no-op if target exists.
func Combine(ctx context.Context, parts []string, target string) error {
	if fileExists(target) {
		return nil
	}
	tmp := target + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	fail := func(err error) error {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		in, err := os.Open(p)
		if err != nil {
			return fail(fmt.Errorf("open part %s: %w", p, err))
		}
		_, err = io.Copy(out, in)
		_ = in.Close()
		if err != nil {
			return fail(fmt.Errorf("append part %s: %w", p, err))
		}
	}
	if err := out.Sync(); err != nil {
		return fail(fmt.Errorf("sync %s: %w", tmp, err))
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, target, err)
	}
	return nil
}

// Remux converts src into target's container. It is a no-op if target exists.
func Remux(ctx context.Context, src, target string) error {
	if fileExists(target) {
		return nil
	}
	return ffmpeg.Remux(ctx, src, target)
}

// ExtractSegments returns the media lines of an m3u8 playlist resolved
// against the playlist URL. Tags and comments are ignored.
func ExtractSegments(playlistURL, body string) []string {
	base, baseErr := url.Parse(playlistURL)
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(body, "\r\n", "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if baseErr == nil {
			if ref, err := url.Parse(line); err == nil {
				line = base.ResolveReference(ref).String()
			}
		}
		out = append(out, line)
	}
	return out
}

func (d *Downloader) fetchToFile(ctx context.Context, u, final string) error {
	tmp := final + ".tmp"
	err := d.retry(ctx, u, func() error {
		f, err := os.Create(tmp)
		if err != nil {
			return fmt.Errorf("create %s: %w", tmp, err)
		}
		if err := d.fetchOnce(ctx, u, f); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", tmp, err)
		}
		return nil
	})
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("rename %s -> %s: %w", tmp, final, err)
	}
	return nil
}

// retry runs fn until it succeeds, fails non-transiently, or ctx ends.
func (d *Downloader) retry(ctx context.Context, u string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		var te *TransientError
		if !errors.As(err, &te) {
			return err
		}
		log.Debugf("attempt %d for %s failed, retrying: %v", attempt, u, err)
	}
}

func (d *Downloader) fetchOnce(ctx context.Context, u string, w io.Writer) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", u, err)
	}
	resp, err := d.client().Do(req)
	if err != nil {
		return &TransientError{URL: u, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return &TransientError{URL: u, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	default:
		return &PermanentError{URL: u, StatusCode: resp.StatusCode}
	}

	var r io.Reader = resp.Body
	if d.Limiter != nil {
		r = &limitedReader{ctx: ctx, r: r, lim: d.Limiter}
	}
	n, err := io.Copy(w, r)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return &TransientError{URL: u, Err: err}
	}
	if resp.ContentLength > 0 && n != resp.ContentLength {
		return &TransientError{URL: u, Err: fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)}
	}
	return nil
}

func (d *Downloader) client() *http.Client {
	if d.Client != nil {
		return d.Client
	}
	return http.DefaultClient
}

type limitedReader struct {
	ctx context.Context
	r   io.Reader
	lim *rate.Limiter
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if burst := l.lim.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.lim.WaitN(l.ctx, n); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func partExt(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return ".ts"
	}
	ext := path.Ext(parsed.Path)
	if ext == "" || len(ext) > 6 {
		return ".ts"
	}
	return ext
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}
