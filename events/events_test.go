package events

import (
	"testing"

	"vod-archiver/jobs"
	"vod-archiver/videos"
)

func TestHub_JobChangesReachSubscribers(t *testing.T) {
	h := NewHub()
	a := h.Subscribe()
	b := h.Subscribe()

	j := jobs.NewJob(videos.Descriptor{Service: videos.ServiceTwitch, VideoID: "v1", Title: "t"}, nil, h)
	j.SetStatusText("Downloading... (1/4)")

	for _, q := range []*Queue{a, b} {
		select {
		case e := <-q.Ch:
			if e.Key.VideoID != "v1" || e.StatusText != "Downloading... (1/4)" || e.Status != jobs.StatusNotStarted {
				t.Fatalf("unexpected event %+v", e)
			}
		default:
			t.Fatalf("listener got no event")
		}
	}

	h.Unsubscribe(b)
	j.SetStatus(jobs.StatusFinished, "Done")
	if len(b.Ch) != 0 {
		t.Fatalf("unsubscribed listener still receives events")
	}
	if e := <-a.Ch; e.Status != jobs.StatusFinished {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestHub_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	h := NewHub()
	q := h.Subscribe()
	for i := 0; i < queueSize+5; i++ {
		h.Publish(Event{StatusText: "x"})
	}
	if len(q.Ch) != queueSize || h.Dropped() != 5 {
		t.Fatalf("queued %d, dropped %d", len(q.Ch), h.Dropped())
	}
}
