package handler

import (
	"errors"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"doccontrol/internal/apperr"
	"doccontrol/internal/http/middleware"
	"doccontrol/internal/lifecycle"
	"doccontrol/internal/model"
)

var errActorRequired = errors.New("actor required")

// param returns the unescaped route parameter; file names may contain spaces.
func param(c *fiber.Ctx, name string) string {
	raw := c.Params(name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}

func docRef(c *fiber.Ctx) model.DocumentRef {
	return model.DocumentRef{OrganizationID: param(c, "orgId"), FileName: param(c, "fileName")}
}

// actor returns the acting user or writes a 401 and errActorRequired.
func actor(c *fiber.Ctx) (model.Actor, error) {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		if err := writeError(c, fiber.StatusUnauthorized, "ACTOR_REQUIRED", "X-User-ID header is required"); err != nil {
			return a, err
		}
		return a, errActorRequired
	}
	return a, nil
}

// done turns the errActorRequired sentinel back into a handled response.
func done(err error) error {
	if errors.Is(err, errActorRequired) {
		return nil
	}
	return err
}

// parseBody decodes an optional JSON body into out.
func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return apperr.Validation("malformed request body", err)
	}
	return nil
}

func pagination(c *fiber.Ctx) (limit, offset int, ok bool, err error) {
	limit, convErr := strconv.Atoi(c.Query("limit", "10"))
	if convErr != nil {
		return 0, 0, false, writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
	}
	offset, convErr = strconv.Atoi(c.Query("offset", "0"))
	if convErr != nil {
		return 0, 0, false, writeError(c, fiber.StatusBadRequest, "INVALID_OFFSET", "invalid offset")
	}
	return limit, offset, true, nil
}

// transitionResponse is the body of a transition. Warnings list the side
// effects that stayed incomplete; the transition itself is committed.
type transitionResponse struct {
	*lifecycle.Outcome
	Warnings []string `json:"warnings,omitempty"`
}

// writeOutcome answers a transition. A partial success is still a success for
// the caller: the document changed, and the warnings say what to reconcile.
func writeOutcome(c *fiber.Ctx, status int, out *lifecycle.Outcome, err error) error {
	var partial *apperr.PartialSuccessError
	if err != nil && !(errors.As(err, &partial) && out != nil) {
		return writeServiceError(c, err)
	}
	res := transitionResponse{Outcome: out}
	if partial != nil {
		logFailure(c, err)
		for _, f := range partial.Incomplete {
			res.Warnings = append(res.Warnings, f.String())
		}
		status = fiber.StatusOK
	}
	return c.Status(status).JSON(res)
}
