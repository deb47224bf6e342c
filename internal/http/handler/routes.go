package handler

import (
	"github.com/gofiber/fiber/v2"

	"doccontrol/internal/service"
)

// Dependencies are the services the routes are served by.
type Dependencies struct {
	Documents     service.DocumentService
	Organizations service.OrganizationService
	Inbox         service.InboxService
	Audit         service.AuditService
	// Health lists the dependencies probed by /health, by name.
	Health map[string]Pinger
}

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
func RegisterRoutes(app *fiber.App, deps Dependencies) {
	app.Get("/health", HealthCheck(deps.Health))
	app.Get("/healthz", LivenessProbe())

	orgs := app.Group("/orgs")
	orgs.Post("/", CreateOrganization(deps.Organizations))
	orgs.Get("/:orgId", GetOrganization(deps.Organizations))
	orgs.Post("/:orgId/members", AddMember(deps.Organizations))
	orgs.Post("/:orgId/members/:userId/move", MoveMember(deps.Organizations))
	orgs.Get("/:orgId/verify", VerifyOrganization(deps.Organizations))

	orgs.Post("/:orgId/requests", SubmitRequest(deps.Documents))
	orgs.Get("/:orgId/requests", ListRequests(deps.Documents))
	orgs.Post("/:orgId/requests/:fileName/accept", AcceptRequest(deps.Documents))
	orgs.Post("/:orgId/requests/:fileName/return", ReturnRequest(deps.Documents))

	orgs.Get("/:orgId/docs", ListDocuments(deps.Documents))
	orgs.Get("/:orgId/docs/:fileName", GetDocument(deps.Documents))
	orgs.Put("/:orgId/docs/:fileName", ModifyDocument(deps.Documents))
	orgs.Delete("/:orgId/docs/:fileName", DeleteDocument(deps.Documents))
	orgs.Get("/:orgId/docs/:fileName/history", DocumentHistory(deps.Documents))
	orgs.Get("/:orgId/docs/:fileName/download", DownloadDocument(deps.Documents))
	orgs.Post("/:orgId/docs/:fileName/favorite", FavoriteDocument(deps.Documents))
	orgs.Delete("/:orgId/docs/:fileName/favorite", UnfavoriteDocument(deps.Documents))

	users := app.Group("/users/:userId/notifications")
	users.Get("/", ListNotifications(deps.Inbox))
	users.Get("/stream", StreamNotifications(deps.Inbox))
	users.Patch("/:id/read", MarkNotificationRead(deps.Inbox))

	app.Get("/audit", ListAudit(deps.Audit))
}
