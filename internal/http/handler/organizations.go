package handler

import (
	"github.com/gofiber/fiber/v2"

	"doccontrol/internal/organization"
	"doccontrol/internal/service"
)

type addMemberBody struct {
	UserID string `json:"user_id"`
}

type moveMemberBody struct {
	ToOrganization string `json:"to_organization"`
}

// CreateOrganization creates an organization with the actor as first member.
//
// @Summary Create an organization
// @Tags organizations
// @Accept json
// @Produce json
// @Param body body organization.CreateRequest true "Organization"
// @Success 201 {object} model.Organization
// @Failure 409 {object} errorPayload
// @Router /orgs [post]
func CreateOrganization(svc service.OrganizationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, err := actor(c)
		if err != nil {
			return done(err)
		}
		var req organization.CreateRequest
		if err := parseBody(c, &req); err != nil {
			return writeServiceError(c, err)
		}
		org, err := svc.Create(c.UserContext(), a, req)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.Status(fiber.StatusCreated).JSON(org)
	}
}

// GetOrganization returns an organization with its roster and document index.
//
// @Summary Get an organization
// @Tags organizations
// @Produce json
// @Param orgId path string true "Organization ID"
// @Success 200 {object} model.Organization
// @Router /orgs/{orgId} [get]
func GetOrganization(svc service.OrganizationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		org, err := svc.Get(c.UserContext(), param(c, "orgId"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(org)
	}
}

// AddMember adds a user who belongs to no organization yet.
//
// @Summary Add a member
// @Tags organizations
// @Accept json
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param body body addMemberBody true "Member"
// @Success 200 {object} model.Organization
// @Router /orgs/{orgId}/members [post]
func AddMember(svc service.OrganizationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, err := actor(c)
		if err != nil {
			return done(err)
		}
		var body addMemberBody
		if err := parseBody(c, &body); err != nil {
			return writeServiceError(c, err)
		}
		org, err := svc.AddMember(c.UserContext(), a, param(c, "orgId"), body.UserID)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(org)
	}
}

// MoveMember moves a member to another organization.
//
// @Summary Move a member
// @Tags organizations
// @Accept json
// @Produce json
// @Param orgId path string true "Current organization ID"
// @Param userId path string true "User ID"
// @Param body body moveMemberBody true "Target organization"
// @Success 200 {object} model.Organization
// @Router /orgs/{orgId}/members/{userId}/move [post]
func MoveMember(svc service.OrganizationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, err := actor(c)
		if err != nil {
			return done(err)
		}
		var body moveMemberBody
		if err := parseBody(c, &body); err != nil {
			return writeServiceError(c, err)
		}
		org, err := svc.MoveMember(c.UserContext(), a, param(c, "orgId"), param(c, "userId"), body.ToOrganization)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(org)
	}
}

// VerifyOrganization reports dangling references of an organization.
//
// @Summary Dangling-reference report
// @Tags organizations
// @Produce json
// @Param orgId path string true "Organization ID"
// @Success 200 {object} map[string]any
// @Router /orgs/{orgId}/verify [get]
func VerifyOrganization(svc service.OrganizationService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		faults, err := svc.Verify(c.UserContext(), param(c, "orgId"))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"consistent": len(faults) == 0, "dangling": faults})
	}
}
