package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// EventsGet streams job changes as server-sent events until the client leaves.
func (a *API) EventsGet(c echo.Context) error {
	req := c.Request()
	res := c.Response()

	// subscribed before the headers are sent
	q := a.App.Events.Subscribe()
	defer a.App.Events.Unsubscribe(q)

	// Set headers for SSE
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	done := req.Context().Done()
	for {
		select {
		case <-done:
			return nil
		case event := <-q.Ch:
			jsonData, err := json.Marshal(event)
			if err != nil {
				return err
			}
			if _, err := fmt.Fprintf(res, "data: %s\n\n", jsonData); err != nil {
				return err
			}
			res.Flush()
		}
	}
}
