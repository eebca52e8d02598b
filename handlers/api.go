package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"vod-archiver/app"
	"vod-archiver/queue"
	"vod-archiver/watch"
)

// API serves the control endpoints for one application context.
type API struct {
	App *app.Context
	// DB holds the users and the finished-download index.
	DB *gorm.DB
}

// Register mounts every route under /api behind basic auth.
func Register(e *echo.Echo, a *API) {
	g := e.Group("/api", AuthMiddleware(a.DB))

	g.GET("/jobs", a.JobsGet)
	g.POST("/jobs", a.JobsPost)
	g.POST("/jobs/split", a.SplitPost)
	g.POST("/jobs/force", a.JobForce)
	g.POST("/jobs/cancel", a.JobCancel)
	g.POST("/jobs/requeue", a.JobRequeue)
	g.DELETE("/jobs", a.JobDelete)
	g.GET("/lanes", a.LanesGet)

	g.GET("/watches", a.WatchesGet)
	g.POST("/watches", a.WatchesPost)
	g.DELETE("/watches", a.WatchDelete)
	g.POST("/watches/auto_download", a.WatchAutoDownload)

	g.GET("/reencode/candidates", a.ReencodeCandidatesGet)
	g.POST("/reencode", a.ReencodePost)

	g.GET("/archive", a.ArchiveGet)
	g.DELETE("/archive/:id", a.ArchiveDelete)
	g.GET("/status", a.StatusGet)
	g.GET("/events", a.EventsGet)
}

// httpError maps queue and registry errors onto status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, queue.ErrNotFound), errors.Is(err, watch.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, queue.ErrRunning), errors.Is(err, queue.ErrNotRunning), errors.Is(err, queue.ErrTerminal):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, queue.ErrStopped):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	}
	return err
}
