package videos

import (
	"testing"
	"time"
)

func TestEqualUsesKeyOnly(t *testing.T) {
	a := Descriptor{Service: ServiceTwitch, VideoID: "v1", Title: "first", Timestamp: time.Now()}
	b := Descriptor{Service: ServiceTwitch, VideoID: "v1", Title: "renamed"}
	c := Descriptor{Service: ServiceHitbox, VideoID: "v1", Title: "first"}

	if !a.Equal(b) {
		t.Fatalf("expected same service/id to be equal")
	}
	if a.Equal(c) {
		t.Fatalf("expected different service to differ")
	}

	m := map[Key]int{a.Key(): 1}
	if _, ok := m[b.Key()]; !ok {
		t.Fatalf("expected keys to hash equal")
	}
}

func TestDedupKeepsFirst(t *testing.T) {
	in := []Descriptor{
		{Service: ServiceYouTube, VideoID: "a", Title: "1"},
		{Service: ServiceYouTube, VideoID: "b", Title: "2"},
		{Service: ServiceYouTube, VideoID: "a", Title: "3"},
	}
	out := Dedup(in)
	if len(out) != 2 || out[0].Title != "1" || out[1].Title != "2" {
		t.Fatalf("unexpected dedup result %+v", out)
	}
}

func TestParseService(t *testing.T) {
	if got := ParseService(" Twitch "); got != ServiceTwitch {
		t.Fatalf("unexpected service %s", got)
	}
	if got := ParseService("nope"); got != ServiceUnknown {
		t.Fatalf("expected unknown, got %s", got)
	}
}
