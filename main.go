package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"vod-archiver/app"
	"vod-archiver/config"
	"vod-archiver/database"
	"vod-archiver/events"
	"vod-archiver/ffmpeg"
	"vod-archiver/handlers"
	"vod-archiver/jobs"
	"vod-archiver/media"
	"vod-archiver/process"
	"vod-archiver/queue"
	"vod-archiver/segments"
	"vod-archiver/store"
	"vod-archiver/users"
	"vod-archiver/watch"
	"vod-archiver/ytdlp"
)

func main() {

	initLogger()

	log.Infof("GitSHA: %s", config.GetGitSHA())
	log.Infof("BuildDate: %s", config.GetBuildDate())

	app.Init(log)
	events.Init(log)
	ffmpeg.Init(log)
	handlers.Init(log)
	jobs.Init(log)
	media.Init(log)
	process.Init(log)
	queue.Init(log)
	segments.Init(log)
	store.Init(log)
	users.Init(log)
	watch.Init(log)
	ytdlp.Init(log)

	for _, dir := range []string{config.GetDataDir(), config.GetConfigDir(), config.GetTempDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			log.Panicf("failed to create %s: %v", dir, err)
		}
	}

	// Initialize database
	dbPath := filepath.Join(config.GetConfigDir(), "archive.db")
	db, err := database.Open(dbPath, &users.User{}, &media.Entry{})
	if err != nil {
		log.Panicf("failed to open database %s: %v", dbPath, err)
	}
	database.Init(db, log)
	defer database.Fini()

	// create a user
	if err := users.EnsureAdmin(db, config.GetAdminInitialPassword); err != nil {
		log.Panicf("failed to create admin user: %v", err)
	}

	opts, err := app.OptionsFromConfig()
	if err != nil {
		log.Panicln(err)
	}
	opts.DB = db
	actx, err := app.New(opts)
	if err != nil {
		log.Panicf("failed to load state: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	actx.Start(ctx)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())

	handlers.Register(e, &handlers.API{App: actx, DB: db})

	go func() {
		if err := e.Start(config.GetListenAddr()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("server stopped: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	log.Infoln("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Errorf("server shutdown: %v", err)
	}
	if err := actx.Shutdown(); err != nil {
		log.Errorf("couldn't save jobs: %v", err)
	}
}
