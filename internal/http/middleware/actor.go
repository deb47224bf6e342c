package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"doccontrol/internal/model"
)

const (
	// UserIDHeader carries the acting user's id. Authentication happens upstream.
	UserIDHeader = "X-User-ID"
	// UserNameHeader carries the acting user's display name.
	UserNameHeader = "X-User-Name"
	// ActorLocalKey stores the acting user's id in Fiber's context locals.
	ActorLocalKey = "actor_id"

	actorNameLocalKey = "actor_name"
)

// Actor reads the acting user from the identity headers. Requests without
// one pass through; handlers that need an actor reject them.
func Actor() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if id := strings.TrimSpace(c.Get(UserIDHeader)); id != "" {
			c.Locals(ActorLocalKey, id)
			c.Locals(actorNameLocalKey, strings.TrimSpace(c.Get(UserNameHeader)))
		}
		return c.Next()
	}
}

// ActorFrom returns the actor stored by Actor and whether there was one.
func ActorFrom(c *fiber.Ctx) (model.Actor, bool) {
	id, _ := c.Locals(ActorLocalKey).(string)
	if id == "" {
		return model.Actor{}, false
	}
	name, _ := c.Locals(actorNameLocalKey).(string)
	return model.Actor{UserID: id, DisplayName: name}, true
}
