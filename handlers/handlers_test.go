package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"vod-archiver/app"
	"vod-archiver/database"
	"vod-archiver/media"
	"vod-archiver/queue"
	"vod-archiver/users"
	"vod-archiver/watch"
)

const testPassword = "secret"

func newTestAPI(t *testing.T) (*echo.Echo, *API) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), &users.User{}, &media.Entry{})
	if err != nil {
		t.Fatal(err)
	}
	if err := users.Create(db, "admin", testPassword); err != nil {
		t.Fatal(err)
	}
	ctx, err := app.New(app.Options{
		DataDir:   t.TempDir(),
		ConfigDir: t.TempDir(),
		LaneMode:  queue.LanesPerService,
		DB:        db,
	})
	if err != nil {
		t.Fatal(err)
	}
	a := &API{App: ctx, DB: db}
	e := echo.New()
	Register(e, a)
	return e, a
}

func do(t *testing.T, e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req.SetBasicAuth("admin", testPassword)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestAuthRequired(t *testing.T) {
	e, _ := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/jobs", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	req.SetBasicAuth("admin", "wrong")
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a bad password, got %d", rec.Code)
	}
}

func TestJobLifecycle(t *testing.T) {
	e, a := newTestAPI(t)
	body := `{"url": "https://example.com/v.mp4", "title": "clip"}`
	if rec := do(t, e, http.MethodPost, "/api/jobs", body); rec.Code != http.StatusCreated {
		t.Fatalf("enqueue: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, e, http.MethodPost, "/api/jobs", body); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate enqueue: %d", rec.Code)
	}

	rec := do(t, e, http.MethodGet, "/api/jobs", "")
	var list []jobView
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Kind != "raw_url" || list[0].Video.Title != "clip" {
		t.Fatalf("unexpected jobs %s", rec.Body)
	}

	key := "service=raw_url&id=" + "https%3A%2F%2Fexample.com%2Fv.mp4"
	if rec := do(t, e, http.MethodPost, "/api/jobs/cancel?"+key, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("cancel: %d %s", rec.Code, rec.Body)
	}
	j := a.App.Queue.Jobs()[0]
	if j.StatusText() != "Cancelled" {
		t.Fatalf("status text %q", j.StatusText())
	}
	if rec := do(t, e, http.MethodPost, "/api/jobs/requeue?"+key, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("requeue: %d", rec.Code)
	}
	if rec := do(t, e, http.MethodPost, "/api/jobs/force?"+key, ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("force on a stopped queue: %d", rec.Code)
	}

	rec = do(t, e, http.MethodGet, "/api/lanes", "")
	var lanes []laneView
	if err := json.Unmarshal(rec.Body.Bytes(), &lanes); err != nil {
		t.Fatal(err)
	}
	if len(lanes) != 1 || lanes[0].Name != "raw_url" || len(lanes[0].Next) != 1 {
		t.Fatalf("unexpected lanes %s", rec.Body)
	}

	if rec := do(t, e, http.MethodDelete, "/api/jobs?"+key, ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(t, e, http.MethodDelete, "/api/jobs?"+key, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rec.Code)
	}
	if rec := do(t, e, http.MethodPost, "/api/jobs/cancel", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing key: %d", rec.Code)
	}
}

func TestEnqueueValidation(t *testing.T) {
	e, _ := newTestAPI(t)
	if rec := do(t, e, http.MethodPost, "/api/jobs", `{"service": "myspace", "video_id": "1"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown service: %d", rec.Code)
	}
	if rec := do(t, e, http.MethodPost, "/api/jobs", `{"service": "twitch"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing id: %d", rec.Code)
	}
	if rec := do(t, e, http.MethodPost, "/api/jobs", `{"service": "twitch", "video_id": "v1", "username": "u"}`); rec.Code != http.StatusCreated {
		t.Fatalf("twitch vod: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, e, http.MethodPost, "/api/jobs/split", `{"source": "a.mp4", "from_seconds": 10, "to_seconds": 5}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty split range: %d", rec.Code)
	}
	if rec := do(t, e, http.MethodPost, "/api/jobs/split", `{"source": "a.mp4", "from_seconds": 5, "to_seconds": 10}`); rec.Code != http.StatusCreated {
		t.Fatalf("split: %d %s", rec.Code, rec.Body)
	}
}

func TestWatches(t *testing.T) {
	e, a := newTestAPI(t)
	if rec := do(t, e, http.MethodPost, "/api/watches", `{"category": "youtube_channel", "identifier": "@c"}`); rec.Code != http.StatusCreated {
		t.Fatalf("add: %d %s", rec.Code, rec.Body)
	}
	if rec := do(t, e, http.MethodPost, "/api/watches", `{"category": "youtube_channel", "identifier": "@c"}`); rec.Code != http.StatusConflict {
		t.Fatalf("duplicate add: %d", rec.Code)
	}
	if rec := do(t, e, http.MethodPost, "/api/watches", `{"category": "friendster", "identifier": "x"}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad category: %d", rec.Code)
	}

	rec := do(t, e, http.MethodPost, "/api/watches/auto_download", `{"category": "youtube_channel", "identifier": "@c", "auto_download": true}`)
	var w watch.UserWatch
	if err := json.Unmarshal(rec.Body.Bytes(), &w); err != nil || !w.AutoDownload || !w.Persistable {
		t.Fatalf("auto download: %s %v", rec.Body, err)
	}
	saved, err := a.App.Store.LoadWatches()
	if err != nil || len(saved) != 1 || !saved[0].AutoDownload {
		t.Fatalf("watch not persisted: %+v %v", saved, err)
	}

	if rec := do(t, e, http.MethodDelete, "/api/watches?category=youtube_channel&identifier=%40c", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec := do(t, e, http.MethodDelete, "/api/watches?category=youtube_channel&identifier=%40c", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second delete: %d", rec.Code)
	}
}

func TestArchive(t *testing.T) {
	e, a := newTestAPI(t)
	if err := a.DB.Create(&media.Entry{Service: "twitch", VideoID: "v1", Title: "t"}).Error; err != nil {
		t.Fatal(err)
	}
	rec := do(t, e, http.MethodGet, "/api/archive?service=twitch", "")
	var list []media.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil || len(list) != 1 {
		t.Fatalf("archive list: %s %v", rec.Body, err)
	}
	if rec := do(t, e, http.MethodDelete, "/api/archive/999", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing entry: %d", rec.Code)
	}
}

func TestEventsStream(t *testing.T) {
	e, a := newTestAPI(t)
	srv := httptest.NewServer(e)
	defer srv.Close()

	if rec := do(t, e, http.MethodPost, "/api/jobs", `{"url": "https://example.com/x"}`); rec.Code != http.StatusCreated {
		t.Fatalf("enqueue: %d", rec.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	req.SetBasicAuth("admin", testPassword)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}

	a.App.Queue.Jobs()[0].SetStatusText("Downloading")

	r := bufio.NewReader(resp.Body)
	for {
		line, err := r.ReadString('\n')
		if err != nil && err != io.EOF {
			t.Fatal(err)
		}
		if data, ok := strings.CutPrefix(line, "data: "); ok {
			if !strings.Contains(data, `"status_text":"Downloading"`) {
				t.Fatalf("unexpected event %s", data)
			}
			return
		}
		if err == io.EOF {
			t.Fatalf("stream ended without an event")
		}
	}
}
