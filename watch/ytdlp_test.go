package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"vod-archiver/videos"
)

// prints two entries for items 1:2, one for 3:4 and nothing after that
const fakeListScript = `#!/bin/sh
items=""
while [ $# -gt 0 ]; do
  case "$1" in
    --playlist-items) items="$2"; shift 2 ;;
    *) shift ;;
  esac
done
case "$items" in
  1:2)
    echo '{"id":"a","title":"first","channel":"chan","duration":61.5,"timestamp":1600000000}'
    echo 'not json'
    echo '{"id":"b","title":"second","uploader":"up","upload_date":"20200102","live_status":"is_live"}'
    ;;
  3:4)
    echo '{"id":"c","title":"third"}'
    ;;
esac
`

func installFakeYtdlp(t *testing.T, script string) {
	t.Helper()
	bin := t.TempDir()
	if err := os.WriteFile(filepath.Join(bin, "yt-dlp"), []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", bin+":"+os.Getenv("PATH"))
}

func TestYtdlpFetcher_Pages(t *testing.T) {
	installFakeYtdlp(t, fakeListScript)
	f := &YtdlpFetcher{BatchSize: 2}
	w := UserWatch{Category: YouTubeChannel, Identifier: "@chan"}

	first, err := f.Fetch(context.Background(), w, 0, true)
	if err != nil {
		t.Fatal(err)
	}
	if !first.HasMore || first.BatchCount != 2 || first.TotalCount != -1 {
		t.Fatalf("unexpected first page %+v", first)
	}
	a, b := first.Videos[0], first.Videos[1]
	if a.Key() != (videos.Key{Service: videos.ServiceYouTube, VideoID: "a"}) || a.Username != "chan" || a.Length.Seconds() != 61.5 {
		t.Fatalf("unexpected entry %+v", a)
	}
	if b.Username != "up" || b.RecordingState != videos.StateLive || b.Timestamp.Format("2006-01-02") != "2020-01-02" {
		t.Fatalf("unexpected entry %+v", b)
	}

	second, err := f.Fetch(context.Background(), w, 2, true)
	if err != nil {
		t.Fatal(err)
	}
	if second.HasMore || second.BatchCount != 1 || second.Videos[0].Username != "@chan" {
		t.Fatalf("unexpected last page %+v", second)
	}
}

func TestYoutubeURL(t *testing.T) {
	cases := []struct {
		w    UserWatch
		want string
	}{
		{UserWatch{Category: YouTubeChannel, Identifier: "@someone"}, "https://www.youtube.com/@someone/videos"},
		{UserWatch{Category: YouTubeChannel, Identifier: "UC123"}, "https://www.youtube.com/channel/UC123/videos"},
		{UserWatch{Category: YouTubePlaylist, Identifier: "PL1"}, "https://www.youtube.com/playlist?list=PL1"},
		{UserWatch{Category: YouTubeURL, Identifier: "https://youtu.be/x"}, "https://youtu.be/x"},
	}
	for _, c := range cases {
		got, err := youtubeURL(c.w)
		if err != nil || got != c.want {
			t.Fatalf("youtubeURL(%+v) = %q, %v", c.w, got, err)
		}
	}
	if _, err := youtubeURL(UserWatch{Category: TwitchRecordings, Identifier: "x"}); err == nil {
		t.Fatalf("expected an error for a twitch watch")
	}
}
