// Package events fans job changes out to any number of listeners, such as
// the server-sent event stream of the control API.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"vod-archiver/jobs"
	"vod-archiver/videos"
)

type Event struct {
	Key        videos.Key  `json:"key"`
	Title      string      `json:"title"`
	Status     jobs.Status `json:"status"`
	StatusText string      `json:"status_text"`
	Time       time.Time   `json:"time"`
}

// Queue is one listener. Events are dropped, not blocked on, when Ch is full.
type Queue struct {
	id uuid.UUID
	Ch chan Event
}

const queueSize = 64

func newQueue() *Queue {
	return &Queue{
		id: uuid.Must(uuid.NewV7()),
		Ch: make(chan Event, queueSize),
	}
}

type Hub struct {
	mu        sync.Mutex
	listeners map[uuid.UUID]*Queue
	dropped   uint64
}

func NewHub() *Hub {
	return &Hub{listeners: map[uuid.UUID]*Queue{}}
}

func (h *Hub) Subscribe() *Queue {
	q := newQueue()
	h.mu.Lock()
	h.listeners[q.id] = q
	h.mu.Unlock()
	log.Debugf("listener %s subscribed", q.id)
	return q
}

func (h *Hub) Unsubscribe(q *Queue) {
	h.mu.Lock()
	delete(h.listeners, q.id)
	h.mu.Unlock()
	log.Debugf("listener %s unsubscribed", q.id)
}

func (h *Hub) Publish(e Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, q := range h.listeners {
		select {
		case q.Ch <- e:
		default:
			h.dropped++
		}
	}
}

// Dropped counts events that found a listener's queue full.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// JobChanged makes the hub a jobs.Observer.
func (h *Hub) JobChanged(j *jobs.Job) {
	v := j.Video()
	h.Publish(Event{
		Key:        v.Key(),
		Title:      v.Title,
		Status:     j.Status(),
		StatusText: j.StatusText(),
		Time:       time.Now(),
	})
}
