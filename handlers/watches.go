package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"vod-archiver/watch"
)

func (a *API) WatchesGet(c echo.Context) error {
	return c.JSON(http.StatusOK, a.App.Registry.List())
}

type watchRequest struct {
	Category     string `json:"category"`
	Identifier   string `json:"identifier"`
	AutoDownload bool   `json:"auto_download"`
	// Persistable defaults to true.
	Persistable *bool `json:"persistable"`
}

func (r watchRequest) key() (watch.Key, error) {
	cat, err := watch.ParseCategory(r.Category)
	if err != nil {
		return watch.Key{}, echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if r.Identifier == "" {
		return watch.Key{}, echo.NewHTTPError(http.StatusBadRequest, "identifier is required")
	}
	return watch.Key{Category: cat, Identifier: r.Identifier}, nil
}

func (a *API) WatchesPost(c echo.Context) error {
	var req watchRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	key, err := req.key()
	if err != nil {
		return err
	}
	w := watch.UserWatch{
		Category:     key.Category,
		Identifier:   key.Identifier,
		AutoDownload: req.AutoDownload,
		Persistable:  req.Persistable == nil || *req.Persistable,
	}
	added, err := a.App.Registry.Add(w)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !added {
		return echo.NewHTTPError(http.StatusConflict, "already watching "+key.String())
	}
	saved, _ := a.App.Registry.Get(w.Key())
	return c.JSON(http.StatusCreated, saved)
}

func (a *API) WatchDelete(c echo.Context) error {
	req := watchRequest{Category: c.QueryParam("category"), Identifier: c.QueryParam("identifier")}
	key, err := req.key()
	if err != nil {
		return err
	}
	if err := a.App.Registry.Remove(key); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *API) WatchAutoDownload(c echo.Context) error {
	var req watchRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	key, err := req.key()
	if err != nil {
		return err
	}
	if err := a.App.Registry.SetAutoDownload(key, req.AutoDownload); err != nil {
		return httpError(err)
	}
	w, _ := a.App.Registry.Get(key)
	return c.JSON(http.StatusOK, w)
}
