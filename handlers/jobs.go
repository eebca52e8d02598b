package handlers

import (
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"vod-archiver/jobs"
	"vod-archiver/queue"
	"vod-archiver/videos"
)

type jobView struct {
	jobs.Snapshot
	Running bool `json:"running"`
}

func (a *API) JobsGet(c echo.Context) error {
	list := a.App.Queue.Jobs()
	out := make([]jobView, 0, len(list))
	for _, j := range list {
		snap, err := j.Snapshot()
		if err != nil {
			log.Warnf("couldn't snapshot %s: %v", j.Key(), err)
			continue
		}
		out = append(out, jobView{Snapshot: snap, Running: a.App.Queue.IsRunning(j.Key())})
	}
	return c.JSON(http.StatusOK, out)
}

type enqueueRequest struct {
	// URL enqueues a raw download; otherwise Service and VideoID are used.
	URL       string    `json:"url"`
	Service   string    `json:"service"`
	VideoID   string    `json:"video_id"`
	Username  string    `json:"username"`
	Title     string    `json:"title"`
	Timestamp time.Time `json:"timestamp"`
	Notes     string    `json:"notes"`
}

func (r enqueueRequest) descriptor() (videos.Descriptor, error) {
	if u := strings.TrimSpace(r.URL); u != "" {
		return videos.Descriptor{Service: videos.ServiceRawURL, VideoID: u, Title: r.Title, Timestamp: r.Timestamp}, nil
	}
	service := videos.ParseService(r.Service)
	if service == videos.ServiceUnknown {
		return videos.Descriptor{}, echo.NewHTTPError(http.StatusBadRequest, "unknown service "+r.Service)
	}
	if strings.TrimSpace(r.VideoID) == "" {
		return videos.Descriptor{}, echo.NewHTTPError(http.StatusBadRequest, "video_id is required")
	}
	return videos.Descriptor{
		Service:   service,
		VideoID:   strings.TrimSpace(r.VideoID),
		Username:  r.Username,
		Title:     r.Title,
		Timestamp: r.Timestamp,
	}, nil
}

func (a *API) JobsPost(c echo.Context) error {
	var req enqueueRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	v, err := req.descriptor()
	if err != nil {
		return err
	}
	j, err := a.App.NewJob(v)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	j.SetNotes(req.Notes)
	return a.enqueue(c, j)
}

type splitRequest struct {
	Source string  `json:"source"`
	From   float64 `json:"from_seconds"`
	To     float64 `json:"to_seconds"`
}

func (a *API) SplitPost(c echo.Context) error {
	var req splitRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	src := a.localPath(req.Source)
	if src == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source is required")
	}
	j, err := jobs.NewSplit(src, seconds(req.From), seconds(req.To), a.App.Events)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return a.enqueue(c, j)
}

func (a *API) enqueue(c echo.Context, j *jobs.Job) error {
	if !a.App.Queue.Enqueue(j) {
		return echo.NewHTTPError(http.StatusConflict, "already queued: "+j.Key().String())
	}
	if err := a.App.Queue.Save(); err != nil {
		log.Errorf("couldn't save jobs: %v", err)
	}
	snap, err := j.Snapshot()
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, jobView{Snapshot: snap})
}

// localPath resolves relative paths against the data dir.
func (a *API) localPath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(a.App.Env.TargetDir, p)
	}
	return filepath.Clean(p)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// jobKey reads the job key from the service and id query parameters. Ids
// can be URLs, so they are never part of the path.
func jobKey(c echo.Context) (videos.Key, error) {
	service := videos.ParseService(c.QueryParam("service"))
	id := c.QueryParam("id")
	if service == videos.ServiceUnknown || id == "" {
		return videos.Key{}, echo.NewHTTPError(http.StatusBadRequest, "service and id are required")
	}
	return videos.Key{Service: service, VideoID: id}, nil
}

func (a *API) jobAction(c echo.Context, action func(videos.Key) error) error {
	key, err := jobKey(c)
	if err != nil {
		return err
	}
	if err := action(key); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) JobForce(c echo.Context) error {
	return a.jobAction(c, a.App.Queue.ForceStart)
}

func (a *API) JobCancel(c echo.Context) error {
	return a.jobAction(c, a.App.Queue.Cancel)
}

func (a *API) JobRequeue(c echo.Context) error {
	return a.jobAction(c, a.App.Queue.Requeue)
}

func (a *API) JobDelete(c echo.Context) error {
	return a.jobAction(c, a.App.Queue.Remove)
}

type laneView struct {
	queue.LaneStat
	Next []waitingView `json:"next"`
}

type waitingView struct {
	Key           videos.Key `json:"key"`
	Title         string     `json:"title"`
	EarliestStart time.Time  `json:"earliest_start"`
}

func (a *API) LanesGet(c echo.Context) error {
	stats := a.App.Queue.LaneStats()
	out := make([]laneView, 0, len(stats))
	for _, s := range stats {
		lv := laneView{LaneStat: s, Next: []waitingView{}}
		for _, w := range a.App.Queue.WaitingJobs(s.Name) {
			v := w.Job.Video()
			lv.Next = append(lv.Next, waitingView{Key: v.Key(), Title: v.Title, EarliestStart: w.EarliestStart})
		}
		out = append(out, lv)
	}
	return c.JSON(http.StatusOK, out)
}

func (a *API) ReencodeCandidatesGet(c echo.Context) error {
	list, err := jobs.ScanReencodeCandidates(a.App.Env.TargetDir)
	if err != nil {
		return err
	}
	if list == nil {
		list = []videos.Descriptor{}
	}
	return c.JSON(http.StatusOK, list)
}

// ReencodePost queues a re-encode job for every candidate not already known.
func (a *API) ReencodePost(c echo.Context) error {
	list, err := jobs.ScanReencodeCandidates(a.App.Env.TargetDir)
	if err != nil {
		return err
	}
	added := 0
	for _, v := range list {
		j, err := a.App.NewJob(v)
		if err != nil {
			log.Warnf("skipping %s: %v", v, err)
			continue
		}
		if a.App.Queue.Enqueue(j) {
			added++
		}
	}
	if added > 0 {
		if err := a.App.Queue.Save(); err != nil {
			log.Errorf("couldn't save jobs: %v", err)
		}
	}
	return c.JSON(http.StatusOK, map[string]int{"candidates": len(list), "queued": added})
}
