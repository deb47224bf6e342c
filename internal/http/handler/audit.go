package handler

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"doccontrol/internal/service"
)

// ListAudit returns the newest audit entries.
//
// @Summary Audit log
// @Tags audit
// @Produce json
// @Param limit query int false "Maximum entries" default(50)
// @Success 200 {object} map[string][]model.AuditEntry
// @Router /audit [get]
func ListAudit(svc service.AuditService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, err := strconv.Atoi(c.Query("limit", "50"))
		if err != nil || limit < 0 {
			return writeError(c, fiber.StatusBadRequest, "INVALID_LIMIT", "invalid limit")
		}
		entries, err := svc.List(c.UserContext(), limit)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"data": entries})
	}
}
