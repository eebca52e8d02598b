package media

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"vod-archiver/database"
	"vod-archiver/videos"
)

func TestRecordUpsertsByVideo(t *testing.T) {
	// no ffprobe: probing fails and only size and type are recorded
	t.Setenv("PATH", t.TempDir())
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), &Entry{})
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "a.mp4")
	if err := os.WriteFile(path, []byte("12345"), 0o644); err != nil {
		t.Fatal(err)
	}
	v := videos.Descriptor{Service: videos.ServiceTwitch, VideoID: "v1", Username: "u", Title: "first", Timestamp: time.Now()}

	if _, err := Record(context.Background(), db, v, path); err != nil {
		t.Fatal(err)
	}
	v.Title = "renamed"
	if err := os.WriteFile(path, []byte("1234567"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Record(context.Background(), db, v, path); err != nil {
		t.Fatal(err)
	}

	list, err := List(db, "", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("expected one entry per video, got %d", len(list))
	}
	if list[0].Title != "renamed" || list[0].Size != 7 || list[0].Type != "mp4" {
		t.Fatalf("unexpected entry %+v", list[0])
	}
	if other, _ := List(db, string(videos.ServiceYouTube), 10); len(other) != 0 {
		t.Fatalf("service filter ignored")
	}
}

const fakeProbe = `#!/bin/sh
case "$*" in
  *-show_streams*) echo '{"streams":[{"codec_type":"audio","codec_name":"aac"},{"codec_type":"video","codec_name":"h264"}],"format":{"duration":"12.5"}}' ;;
  *) echo 12.5 ;;
esac
`

func TestDescribeProbesMedia(t *testing.T) {
	bin := t.TempDir()
	if err := os.WriteFile(filepath.Join(bin, "ffprobe"), []byte(fakeProbe), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin)

	path := filepath.Join(t.TempDir(), "b.MKV")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	mf, err := Describe(context.Background(), path)
	if err != nil {
		t.Fatal(err)
	}
	if mf.Codec != "h264" || mf.Length != 12.5 || mf.Type != "mkv" || mf.Filename != "b.MKV" {
		t.Fatalf("unexpected description %+v", mf)
	}

	if _, err := Describe(context.Background(), filepath.Join(t.TempDir(), "missing.mp4")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}
