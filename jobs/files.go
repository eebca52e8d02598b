package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/sys/unix"

	"vod-archiver/videos"
)

const maxFilenameBytes = 200

// TargetFilename is <username>_<service>_<videoId>_<yyyy-mm-dd>_<title>,
// with characters that are unsafe in file names replaced.
func TargetFilename(v videos.Descriptor) string {
	date := "unknown-date"
	if !v.Timestamp.IsZero() {
		date = v.Timestamp.UTC().Format("2006-01-02")
	}
	name := strings.Join([]string{v.Username, string(v.Service), v.VideoID, date, v.Title}, "_")
	return SanitizeFilename(name)
}

func SanitizeFilename(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|[]`, r), unicode.IsControl(r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	out := strings.TrimSpace(b.String())
	out = strings.Trim(out, ".")
	for len(out) > maxFilenameBytes {
		_, size := utf8.DecodeLastRuneInString(out)
		out = out[:len(out)-size]
	}
	if out == "" {
		return "_"
	}
	return out
}

func workDir(env *Env, v videos.Descriptor) string {
	return filepath.Join(env.TempDir, SanitizeFilename(string(v.Service)+"_"+v.VideoID))
}

func freeBytes(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	return st.Bavail * uint64(st.Bsize), nil
}

// checkFreeSpace returns RetryLater when dir's filesystem is below the
// configured minimum.
func checkFreeSpace(env *Env, dir string) error {
	if env.MinFreeBytes == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	lookup := env.FreeSpace
	if lookup == nil {
		lookup = freeBytes
	}
	free, err := lookup(dir)
	if err != nil {
		log.Warnf("couldn't read free space of %s: %v", dir, err)
		return nil
	}
	if free < env.MinFreeBytes {
		return RetryLater("not enough disk space (%d MiB free in %s)", free/(1024*1024), dir)
	}
	return nil
}

// withDiskIO runs fn while holding the expensive disk I/O semaphore.
func withDiskIO(ctx context.Context, env *Env, fn func() error) error {
	if env.DiskIO == nil {
		return fn()
	}
	if err := env.DiskIO.Acquire(ctx, 1); err != nil {
		return err
	}
	defer env.DiskIO.Release(1)
	return fn()
}

// moveFile renames src to dst, copying when they are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EXDEV) {
		return fmt.Errorf("move %s -> %s: %w", src, dst, err)
	}
	tmp := dst + ".tmp"
	if err := copyFile(src, tmp); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename %s -> %s: %w", tmp, dst, err)
	}
	return os.Remove(src)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return fmt.Errorf("copy %s -> %s: %w", src, dst, err)
	}
	if err := out.Sync(); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

// findWithStem returns the first regular file in dir named stem.<ext>,
// ignoring partial downloads.
func findWithStem(dir, stem string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, stem+".") {
			continue
		}
		ext := filepath.Ext(name)
		if ext == ".part" || ext == ".ytdl" || ext == ".tmp" || strings.Contains(name, ".tmp.") {
			continue
		}
		// stem.f137.mp4 style intermediate streams
		if strings.Count(strings.TrimPrefix(name, stem), ".") > 1 {
			continue
		}
		return filepath.Join(dir, name), true
	}
	return "", false
}
