package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"dubhub/internal/notify"
)

// notificationsHandler returns the caller's notifications after ?since=N.
// Clients poll with the returned lastSeq.
func (s *Server) notificationsHandler(c *fiber.Ctx) error {
	userID, ok, err := requireUser(c)
	if !ok {
		return err
	}

	var since int64
	if v := c.Query("since"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return badRequest(c, "invalid since value")
		}
		since = n
	}

	out := NotificationsResponse{Success: true, Notifications: []notify.Notification{}}
	if s.deps.Notifications != nil {
		if ns := s.deps.Notifications.Since(userID, since); ns != nil {
			out.Notifications = ns
		}
		out.LastSeq = s.deps.Notifications.LastSeq()
	}
	return c.JSON(out)
}
