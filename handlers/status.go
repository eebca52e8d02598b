package handlers

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/sys/unix"

	"vod-archiver/ffmpeg"
	"vod-archiver/queue"
	"vod-archiver/ytdlp"
)

// GetFreeSpace returns the free space in bytes for the filesystem containing the given directory
func getFreeSpace(dir string) (uint64, error) {
	var stat unix.Statfs_t
	err := unix.Statfs(dir, &stat)
	if err != nil {
		return 0, fmt.Errorf("error getting filesystem stats: %v", err)
	}

	// Calculate free space
	freeSpace := stat.Bavail * uint64(stat.Bsize)
	return freeSpace, nil
}

// GetDirectorySize calculates the total size of a directory in bytes
func getDirectorySize(dir string) (int64, error) {
	var size int64
	err := filepath.Walk(dir, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("error walking directory: %v", err)
	}
	return size, nil
}

type Status struct {
	Ytdlp         string           `json:"ytdlp"`
	Ffmpeg        string           `json:"ffmpeg"`
	FreeMiB       float64          `json:"free_mib"`
	UsedMiB       float64          `json:"used_mib"`
	MinFreeMiB    float64          `json:"min_free_mib"`
	Lanes         []queue.LaneStat `json:"lanes"`
	Jobs          int              `json:"jobs"`
	Watches       int              `json:"watches"`
	DroppedEvents uint64           `json:"dropped_events"`
	Build         BuildInfo        `json:"build"`
}

func (a *API) StatusGet(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	ytdlpVersion, err := ytdlp.Version(ctx)
	if err != nil {
		log.Errorln(err)
	}
	ffmpegVersion, err := ffmpeg.Version(ctx)
	if err != nil {
		log.Errorln(err)
	}

	dataDir := a.App.Env.TargetDir
	free, err := getFreeSpace(dataDir)
	if err != nil {
		log.Errorln(err)
	}
	used, err := getDirectorySize(dataDir)
	if err != nil {
		log.Errorln(err)
	}

	return c.JSON(http.StatusOK, Status{
		Ytdlp:         ytdlpVersion,
		Ffmpeg:        ffmpegVersion,
		FreeMiB:       float64(free) / 1024 / 1024,
		UsedMiB:       float64(used) / 1024 / 1024,
		MinFreeMiB:    float64(a.App.Env.MinFreeBytes) / 1024 / 1024,
		Lanes:         a.App.Queue.LaneStats(),
		Jobs:          len(a.App.Queue.Jobs()),
		Watches:       len(a.App.Registry.List()),
		DroppedEvents: a.App.Events.Dropped(),
		Build:         MakeBuildInfo(),
	})
}
