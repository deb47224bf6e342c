package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"

	"doccontrol/internal/http/middleware"
	"doccontrol/internal/service"
)

// streamHeartbeat keeps idle event streams open through proxies.
const streamHeartbeat = 25 * time.Second

// ListNotifications returns a user's inbox, newest first.
//
// @Summary List notifications
// @Tags notifications
// @Produce json
// @Param userId path string true "User ID"
// @Param unread query bool false "Only unread"
// @Success 200 {object} map[string]any
// @Router /users/{userId}/notifications [get]
func ListNotifications(inbox service.InboxService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := param(c, "userId")
		items, err := inbox.List(c.UserContext(), userID, c.QueryBool("unread", false))
		if err != nil {
			return writeServiceError(c, err)
		}
		unread, err := inbox.UnreadCount(c.UserContext(), userID)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"data": items, "unread": unread})
	}
}

// MarkNotificationRead flips a notification's read flag.
//
// @Summary Mark a notification read
// @Tags notifications
// @Produce json
// @Param userId path string true "User ID"
// @Param id path string true "Notification ID"
// @Success 200 {object} model.Notification
// @Router /users/{userId}/notifications/{id}/read [patch]
func MarkNotificationRead(inbox service.InboxService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		n, err := inbox.MarkRead(c.UserContext(), param(c, "userId"), param(c, "id"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(n)
	}
}

// StreamNotifications pushes new notifications as server-sent events.
//
// @Summary Notification stream
// @Tags notifications
// @Produce text/event-stream
// @Param userId path string true "User ID"
// @Success 200 {string} string
// @Failure 501 {object} errorPayload
// @Router /users/{userId}/notifications/stream [get]
func StreamNotifications(inbox service.InboxService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := param(c, "userId")

		// The stream outlives the handler; the writer cancels it when the client goes away.
		ctx, cancel := context.WithCancel(context.WithoutCancel(c.UserContext()))
		events, err := inbox.Subscribe(ctx, userID)
		if err != nil {
			cancel()
			return writeServiceError(c, err)
		}

		logger := middleware.LoggerFrom(c).With("subscriber", userID)
		c.Set(fiber.HeaderContentType, "text/event-stream")
		c.Set(fiber.HeaderCacheControl, "no-cache")
		c.Set(fiber.HeaderConnection, "keep-alive")

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			defer cancel()
			ticker := time.NewTicker(streamHeartbeat)
			defer ticker.Stop()

			fmt.Fprint(w, ": connected\n\n")
			if w.Flush() != nil {
				return
			}
			for {
				select {
				case n, ok := <-events:
					if !ok {
						return
					}
					data, err := json.Marshal(n)
					if err != nil {
						logger.Error("encode notification", "id", n.ID, "error", err)
						continue
					}
					fmt.Fprintf(w, "id: %s\nevent: notification\ndata: %s\n\n", n.ID, data)
				case <-ticker.C:
					fmt.Fprint(w, ": ping\n\n")
				}
				if w.Flush() != nil {
					return
				}
			}
		})
		return nil
	}
}
