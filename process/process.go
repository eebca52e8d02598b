// Package process runs external tools (ffmpeg, ffprobe, yt-dlp) without a shell,
// streaming their output line by line and optionally killing them when their
// progress output shows they have stalled.
package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"golang.org/x/sys/unix"
)

// DefaultNice is the scheduling priority applied to spawned tools.
const DefaultNice = 10

const maxKeep = 1024 * 1024

var ErrStalled = errors.New("process stalled")

type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// StallDetector kills a process once Match has reported true for more than
// Limit consecutive output lines. Any non-matching line resets the count.
type StallDetector struct {
	Match func(line string) bool
	Limit int
}

type Options struct {
	Program  string
	Args     []string
	Dir      string
	OnStdout func(line string)
	OnStderr func(line string)
	Stall    *StallDetector
	// Nice is the priority increment for the child. 0 selects DefaultNice,
	// a negative value leaves the priority untouched.
	Nice int
}

type Result struct {
	Stdout []byte
	Stderr []byte
}

// ExitError is returned when the program ran but exited non-zero.
type ExitError struct {
	Program string
	Code    int
	Stdout  string
	Stderr  string
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d\nstdout:\n%s\nstderr:\n%s",
		e.Program, e.Code, strings.TrimSpace(e.Stdout), strings.TrimSpace(e.Stderr))
}

func Run(ctx context.Context, opts Options) (Result, error) {
	if strings.TrimSpace(opts.Program) == "" {
		return Result{}, fmt.Errorf("program is required")
	}
	log.Infoln(opts.Program, Quote(opts.Args))

	cmd := exec.Command(opts.Program, opts.Args...)
	cmd.Dir = opts.Dir

	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return Result{}, fmt.Errorf("setup stdout pipe: %w", err)
	}
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return Result{}, fmt.Errorf("setup stderr pipe: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("start %s: %w", opts.Program, err)
	}

	nice := opts.Nice
	if nice == 0 {
		nice = DefaultNice
	}
	if nice > 0 {
		if err := unix.Setpriority(unix.PRIO_PROCESS, cmd.Process.Pid, nice); err != nil {
			log.Debugf("setpriority %d for %s: %v", nice, opts.Program, err)
		}
	}

	var outBuf, errBuf strings.Builder
	var mu sync.Mutex
	var wg sync.WaitGroup
	var killOnce sync.Once
	stalled := false
	stallCount := 0

	kill := func() {
		killOnce.Do(func() {
			_ = cmd.Process.Kill()
		})
	}

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			kill()
		case <-done:
		}
	}()

	read := func(stream Stream, r io.Reader, cb func(string)) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		buf := make([]byte, 0, 64*1024)
		scanner.Buffer(buf, 1024*1024)
		scanner.Split(splitByNewlineOrCR)
		for scanner.Scan() {
			line := scanner.Text()

			mu.Lock()
			b := &outBuf
			if stream == StreamStderr {
				b = &errBuf
			}
			appendLimited(b, line)
			if opts.Stall != nil && opts.Stall.Match != nil && !stalled {
				if opts.Stall.Match(line) {
					stallCount++
				} else {
					stallCount = 0
				}
				if stallCount > opts.Stall.Limit {
					stalled = true
					log.Warnf("%s stalled after %d slow progress lines, killing", opts.Program, stallCount)
					kill()
				}
			}
			mu.Unlock()

			if cb != nil {
				cb(line)
			}
		}
		// drain so the child never blocks on a full pipe after a scanner error
		_, _ = io.Copy(io.Discard, r)
	}

	wg.Add(2)
	go read(StreamStdout, stdoutPipe, opts.OnStdout)
	go read(StreamStderr, stderrPipe, opts.OnStderr)
	wg.Wait()
	waitErr := cmd.Wait()
	close(done)

	mu.Lock()
	res := Result{Stdout: []byte(outBuf.String()), Stderr: []byte(errBuf.String())}
	wasStalled := stalled
	mu.Unlock()

	if wasStalled {
		return res, ErrStalled
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return res, &ExitError{
				Program: opts.Program,
				Code:    exitErr.ExitCode(),
				Stdout:  string(res.Stdout),
				Stderr:  string(res.Stderr),
			}
		}
		return res, fmt.Errorf("wait for %s: %w", opts.Program, waitErr)
	}
	return res, nil
}

// Quote renders args as a single command line, quoting arguments that contain
// whitespace, quotes or backslashes so the rendering round-trips through a
// conventional argv parser.
func Quote(args []string) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, quoteArg(a))
	}
	return strings.Join(parts, " ")
}

func quoteArg(a string) string {
	if a == "" {
		return `""`
	}
	if !strings.ContainsAny(a, " \t\n\"\\'") {
		return a
	}
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range a {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	b.WriteByte('"')
	return b.String()
}

func splitByNewlineOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	for i := 0; i < len(data); i++ {
		if data[i] == '\n' || data[i] == '\r' {
			if i == 0 {
				return 1, nil, nil
			}
			return i + 1, data[:i], nil
		}
	}
	if atEOF && len(data) > 0 {
		return len(data), data, nil
	}
	return 0, nil, nil
}

func appendLimited(b *strings.Builder, line string) {
	if b.Len() >= maxKeep {
		return
	}
	toWrite := line + "\n"
	remain := maxKeep - b.Len()
	if len(toWrite) > remain {
		toWrite = toWrite[:remain]
	}
	b.WriteString(toWrite)
}
