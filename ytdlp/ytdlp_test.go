package ytdlp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vod-archiver/process"
)

func installFakeYtdlp(t *testing.T, script string) {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "bin")
	if err := os.MkdirAll(bin, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(bin, "yt-dlp"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin+":"+os.Getenv("PATH"))
}

func TestParseProgress(t *testing.T) {
	p, ok := ParseProgress("[download]  12.3% of ~ 1.23GiB at  12.00KiB/s ETA 01:02:03")
	if !ok {
		t.Fatalf("expected progress line")
	}
	if !p.KnownSpeed || p.BytesPerSec != 12*1024 {
		t.Fatalf("unexpected speed %+v", p)
	}
	if !p.KnownETA || p.ETA != time.Hour+2*time.Minute+3*time.Second {
		t.Fatalf("unexpected eta %+v", p)
	}

	if _, ok := ParseProgress("[youtube] abc: Downloading webpage"); ok {
		t.Fatalf("non-progress line parsed as progress")
	}
}

func TestSlowProgress(t *testing.T) {
	slow := SlowProgress(20*1024, 30*time.Minute)
	cases := []struct {
		line string
		want bool
	}{
		{"[download]   1.0% of 2.00GiB at  5.00KiB/s ETA 10:00:00", true},
		{"[download]   1.0% of 2.00GiB at  5.00MiB/s ETA 06:00", false},
		{"[download]  99.0% of 2.00GiB at  5.00KiB/s ETA 00:10", false},
		{"[download]   1.0% of 2.00GiB at Unknown B/s ETA Unknown", true},
		{"[info] writing metadata", false},
	}
	for _, tc := range cases {
		if got := slow(tc.line); got != tc.want {
			t.Fatalf("slow(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestDownload_StalledDownloadIsKilled(t *testing.T) {
	installFakeYtdlp(t, `#!/bin/sh
while true; do
  echo "[download]   1.0% of 2.00GiB at  1.00KiB/s ETA 20:00:00"
done
`)
	err := Download(context.Background(), DownloadOptions{
		URL:   "https://example.com/v",
		Dir:   t.TempDir(),
		Stall: DefaultStall(),
	})
	if !errors.Is(err, process.ErrStalled) {
		t.Fatalf("expected stall, got %v", err)
	}
}

func TestGetMeta(t *testing.T) {
	installFakeYtdlp(t, "#!/bin/sh\nprintf 'abc123\\tA Title\\tmp4\\n'\n")
	meta, err := GetMeta(context.Background(), "https://example.com/v")
	if err != nil {
		t.Fatalf("meta: %v", err)
	}
	if meta.ID != "abc123" || meta.Title != "A Title" || meta.Ext != "mp4" {
		t.Fatalf("unexpected meta %+v", meta)
	}
}
