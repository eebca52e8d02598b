// Package app wires the long-lived parts of the archiver together.
package app

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"golang.org/x/sync/semaphore"
	"gorm.io/gorm"

	"vod-archiver/config"
	"vod-archiver/events"
	"vod-archiver/jobs"
	"vod-archiver/media"
	"vod-archiver/queue"
	"vod-archiver/segments"
	"vod-archiver/store"
	"vod-archiver/videos"
	"vod-archiver/watch"
	"vod-archiver/ytdlp"
)

type Options struct {
	DataDir   string
	ConfigDir string
	TempDir   string

	LaneMode      queue.LaneMode
	LaneCap       int
	ErrorPolicy   queue.ErrorPolicy
	MinFreeBytes  uint64
	BandwidthKBps int

	Sources  map[videos.Service]jobs.MediaSource
	Chat     jobs.ChatSource
	Fetchers map[watch.Category]watch.Fetcher
	Resolver watch.UserIDResolver

	// DB receives an index entry for every finished download. nil disables it.
	DB *gorm.DB
}

// OptionsFromConfig reads everything but the collaborators from the environment.
func OptionsFromConfig() (Options, error) {
	mode := queue.LaneMode(config.GetLaneMode())
	if mode != queue.LanesPerService && mode != queue.LaneSingle {
		return Options{}, fmt.Errorf("unknown lane mode %q", mode)
	}
	policy := queue.ErrorPolicy(config.GetErrorPolicy())
	if policy != queue.ErrorHold && policy != queue.ErrorRequeue {
		return Options{}, fmt.Errorf("unknown error policy %q", policy)
	}
	return Options{
		DataDir:       config.GetDataDir(),
		ConfigDir:     config.GetConfigDir(),
		TempDir:       config.GetTempDir(),
		LaneMode:      mode,
		LaneCap:       config.GetLaneCap(),
		ErrorPolicy:   policy,
		MinFreeBytes:  config.GetMinFreeBytes(),
		BandwidthKBps: config.GetBandwidthKBps(),
	}, nil
}

// Context is built once at start-up and handed to the HTTP handlers.
type Context struct {
	Registry  *watch.Registry
	DiskIO    *semaphore.Weighted
	Queue     *queue.Queue
	Store     *store.Store
	Refresher *watch.Refresher
	Events    *events.Hub
	Env       *jobs.Env
	DB        *gorm.DB
}

// New loads the saved watches and jobs and builds a queue holding them. Jobs
// that were running when the last process stopped are queued again.
func New(opts Options) (*Context, error) {
	st := store.New(opts.ConfigDir)
	hub := events.NewHub()

	saved, err := st.LoadWatches()
	if err != nil {
		return nil, fmt.Errorf("load watches: %w", err)
	}
	registry := watch.NewRegistry(st, saved)

	diskIO := semaphore.NewWeighted(1)
	env := &jobs.Env{
		TargetDir:    opts.DataDir,
		TempDir:      opts.TempDir,
		Sources:      opts.Sources,
		Chat:         opts.Chat,
		Segments:     segments.New(&http.Client{Timeout: 5 * time.Minute}, opts.BandwidthKBps*1024),
		DiskIO:       diskIO,
		MinFreeBytes: opts.MinFreeBytes,
		Stall:        ytdlp.DefaultStall(),
	}
	if env.TempDir == "" {
		env.TempDir = filepath.Join(opts.DataDir, "temp")
	}

	q := queue.New(queue.Config{
		Mode:        opts.LaneMode,
		DefaultCap:  opts.LaneCap,
		ErrorPolicy: opts.ErrorPolicy,
		Env:         env,
		Saver:       st,
	})

	list, err := st.LoadJobs(hub)
	if err != nil {
		return nil, fmt.Errorf("load jobs: %w", err)
	}
	queued := q.Restore(list)
	log.Infof("loaded %d watches and %d jobs, %d queued", len(saved), len(list), queued)

	fetchers := opts.Fetchers
	if fetchers == nil {
		yt := &watch.YtdlpFetcher{}
		fetchers = map[watch.Category]watch.Fetcher{
			watch.YouTubeChannel:  yt,
			watch.YouTubePlaylist: yt,
			watch.YouTubeURL:      yt,
		}
	}

	c := &Context{
		Registry: registry,
		DiskIO:   diskIO,
		Queue:    q,
		Store:    st,
		Refresher: &watch.Refresher{
			Registry: registry,
			Group:    &watch.FetchTaskGroup{Fetchers: fetchers},
			Queue:    q,
			Observer: hub,
			Resolver: opts.Resolver,
		},
		Events: hub,
		Env:    env,
		DB:     opts.DB,
	}
	if c.DB != nil {
		q.OnFinished(c.record)
	}
	return c, nil
}

func (c *Context) record(j *jobs.Job) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if _, err := media.Record(ctx, c.DB, j.Video(), j.OutputPath()); err != nil {
		log.Warnf("couldn't index %s: %v", j.Video(), err)
	}
}

// NewJob builds a job for v that reports its changes to the event hub.
func (c *Context) NewJob(v videos.Descriptor) (*jobs.Job, error) {
	return jobs.New(v, c.Events)
}

// Start runs the queue and the watch refresher until ctx ends.
func (c *Context) Start(ctx context.Context) {
	c.Queue.Start(ctx)
	go c.Refresher.Run(ctx)
}

// Shutdown waits for the queue to stop and writes the final job list.
func (c *Context) Shutdown() error {
	c.Queue.Wait()
	return c.Queue.Save()
}
