package handlers

import (
	"errors"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"gorm.io/gorm"

	"vod-archiver/users"
)

// AuthMiddleware checks HTTP basic credentials against the users table and
// stores the user id under "user_id".
func AuthMiddleware(db *gorm.DB) echo.MiddlewareFunc {
	return middleware.BasicAuth(func(username, password string, c echo.Context) (bool, error) {
		user, err := users.Authenticate(db, username, password)
		if errors.Is(err, users.ErrBadCredentials) {
			log.Warnf("failed login for %q from %s", username, c.RealIP())
			return false, nil
		}
		if err != nil {
			return false, err
		}
		c.Set("user_id", user.ID)
		return true, nil
	})
}
