// Package media indexes finished downloads in the database.
package media

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vod-archiver/ffmpeg"
	"vod-archiver/videos"
)

type MediaFile struct {
	Size     int64
	Length   float64
	Type     string
	Codec    string
	Filename string
}

// Entry is one archived file. (Service, VideoID) is unique; recording the
// same video again updates the row.
type Entry struct {
	gorm.Model
	MediaFile
	Service    string `gorm:"uniqueIndex:idx_media_video"`
	VideoID    string `gorm:"uniqueIndex:idx_media_video"`
	Username   string
	Title      string
	RecordedAt time.Time
	ArchivedAt time.Time
}

// Describe stats and probes path. Probe failures leave Length and Codec empty.
func Describe(ctx context.Context, path string) (MediaFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return MediaFile{}, err
	}
	mf := MediaFile{
		Size:     fi.Size(),
		Type:     strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		Filename: filepath.Base(path),
	}
	if mf.Type == "json" {
		return mf, nil
	}
	probe, err := ffmpeg.Probe(ctx, path)
	if err != nil {
		log.Warnf("couldn't probe %s: %v", path, err)
		return mf, nil
	}
	for _, s := range probe.Streams {
		if s.CodecType == "video" {
			mf.Codec = s.CodecName
			break
		}
	}
	if d, err := ffmpeg.Duration(ctx, path); err == nil {
		mf.Length = d
	}
	return mf, nil
}

func Record(ctx context.Context, db *gorm.DB, v videos.Descriptor, path string) (Entry, error) {
	if path == "" {
		return Entry{}, errors.New("no output path")
	}
	mf, err := Describe(ctx, path)
	if err != nil {
		return Entry{}, err
	}
	e := Entry{
		MediaFile:  mf,
		Service:    string(v.Service),
		VideoID:    v.VideoID,
		Username:   v.Username,
		Title:      v.Title,
		RecordedAt: v.Timestamp,
		ArchivedAt: time.Now(),
	}
	err = db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "service"}, {Name: "video_id"}},
		UpdateAll: true,
	}).Create(&e).Error
	if err != nil {
		return Entry{}, err
	}
	log.Infof("indexed %s (%d bytes, %.0fs)", e.Filename, e.Size, e.Length)
	return e, nil
}

// List returns entries newest first, optionally filtered by service.
func List(db *gorm.DB, service string, limit int) ([]Entry, error) {
	q := db.Order("archived_at desc")
	if service != "" {
		q = q.Where("service = ?", service)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []Entry
	err := q.Find(&out).Error
	return out, err
}

func Delete(db *gorm.DB, id uint) error {
	res := db.Delete(&Entry{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
