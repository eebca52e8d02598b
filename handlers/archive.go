package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	"vod-archiver/media"
)

func (a *API) ArchiveGet(c echo.Context) error {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	list, err := media.List(a.DB, c.QueryParam("service"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, list)
}

// ArchiveDelete drops an index entry. The file itself is left alone.
func (a *API) ArchiveDelete(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "bad id")
	}
	if err := media.Delete(a.DB, uint(id)); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
