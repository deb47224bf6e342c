package handler

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"doccontrol/internal/lifecycle"
	"doccontrol/internal/model"
	"doccontrol/internal/service"
)

// SubmitRequest files a document request. Multipart bodies carry the file in
// the "file" field next to the request fields; JSON bodies carry no file.
//
// @Summary Submit a document request
// @Tags requests
// @Accept multipart/form-data
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param file formData file false "Document file"
// @Param file_name formData string false "File name, defaults to the uploaded file's name"
// @Param title formData string true "Title"
// @Param label formData string true "Label"
// @Param summary formData string false "Summary"
// @Success 201 {object} transitionResponse
// @Failure 400 {object} errorPayload
// @Failure 409 {object} errorPayload
// @Router /orgs/{orgId}/requests [post]
func SubmitRequest(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, err := actor(c)
		if err != nil {
			return done(err)
		}

		var in service.SubmitInput
		if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
			in.SubmitRequest = lifecycle.SubmitRequest{
				FileName: c.FormValue("file_name"),
				Title:    c.FormValue("title"),
				Label:    model.Label(c.FormValue("label")),
				Summary:  c.FormValue("summary"),
				FileType: c.FormValue("file_type"),
			}
			if fh, ferr := c.FormFile("file"); ferr == nil {
				f, err := fh.Open()
				if err != nil {
					return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
				}
				defer f.Close()

				ct := fh.Header.Get(fiber.HeaderContentType)
				if ct == "" {
					ct = fiber.MIMEOctetStream
				}
				if in.FileName == "" {
					in.FileName = fh.Filename
				}
				if in.FileType == "" {
					in.FileType = ct
				}
				in.File = &service.Upload{Reader: f, OriginalFilename: fh.Filename, ContentType: ct, Size: fh.Size}
			}
		} else if err := parseBody(c, &in.SubmitRequest); err != nil {
			return writeServiceError(c, err)
		}
		in.OrganizationID = param(c, "orgId")

		out, err := svc.Submit(c.UserContext(), a, in)
		return writeOutcome(c, fiber.StatusCreated, out, err)
	}
}

// ListRequests lists the organization's pending and returned requests.
//
// @Summary List document requests
// @Tags requests
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param status query string false "pending or returned"
// @Param limit query int false "Page size" default(10)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} service.DocumentListResult
// @Router /orgs/{orgId}/requests [get]
func ListRequests(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, offset, ok, err := pagination(c)
		if !ok {
			return err
		}
		res, err := svc.ListRequests(c.UserContext(), param(c, "orgId"), model.Status(c.Query("status")), limit, offset)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// AcceptRequest moves a pending request into the organization's documents.
//
// @Summary Accept a request
// @Tags requests
// @Accept json
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param fileName path string true "File name"
// @Param body body lifecycle.AcceptRequest false "Reviewer note and idempotency timestamp"
// @Success 200 {object} transitionResponse
// @Failure 404 {object} errorPayload
// @Failure 409 {object} errorPayload
// @Failure 503 {object} errorPayload
// @Router /orgs/{orgId}/requests/{fileName}/accept [post]
func AcceptRequest(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, err := actor(c)
		if err != nil {
			return done(err)
		}
		var req lifecycle.AcceptRequest
		if err := parseBody(c, &req); err != nil {
			return writeServiceError(c, err)
		}
		ref := docRef(c)
		req.OrganizationID, req.FileName = ref.OrganizationID, ref.FileName

		out, err := svc.Accept(c.UserContext(), a, req)
		return writeOutcome(c, fiber.StatusOK, out, err)
	}
}

// ReturnRequest sends a pending request back to its requester.
//
// @Summary Return a request
// @Tags requests
// @Accept json
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param fileName path string true "File name"
// @Param body body lifecycle.ReturnRequest true "Note for the requester"
// @Success 200 {object} transitionResponse
// @Router /orgs/{orgId}/requests/{fileName}/return [post]
func ReturnRequest(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, err := actor(c)
		if err != nil {
			return done(err)
		}
		var req lifecycle.ReturnRequest
		if err := parseBody(c, &req); err != nil {
			return writeServiceError(c, err)
		}
		ref := docRef(c)
		req.OrganizationID, req.FileName = ref.OrganizationID, ref.FileName

		out, err := svc.Return(c.UserContext(), a, req)
		return writeOutcome(c, fiber.StatusOK, out, err)
	}
}

// ListDocuments lists the organization's active documents.
//
// @Summary List active documents
// @Tags documents
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param limit query int false "Page size" default(10)
// @Param offset query int false "Offset" default(0)
// @Success 200 {object} service.DocumentListResult
// @Router /orgs/{orgId}/docs [get]
func ListDocuments(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		limit, offset, ok, err := pagination(c)
		if !ok {
			return err
		}
		res, err := svc.ListDocuments(c.UserContext(), param(c, "orgId"), limit, offset)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(res)
	}
}

// GetDocument returns one document.
//
// @Summary Get a document
// @Tags documents
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param fileName path string true "File name"
// @Success 200 {object} model.Document
// @Failure 404 {object} errorPayload
// @Router /orgs/{orgId}/docs/{fileName} [get]
func GetDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		doc, err := svc.Get(c.UserContext(), docRef(c))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(doc)
	}
}

// ModifyDocument replaces the editable fields of an active document.
//
// @Summary Modify a document
// @Tags documents
// @Accept json
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param fileName path string true "File name"
// @Param body body lifecycle.ModifyRequest true "New version"
// @Success 200 {object} transitionResponse
// @Router /orgs/{orgId}/docs/{fileName} [put]
func ModifyDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, err := actor(c)
		if err != nil {
			return done(err)
		}
		var req lifecycle.ModifyRequest
		if err := parseBody(c, &req); err != nil {
			return writeServiceError(c, err)
		}
		ref := docRef(c)
		req.OrganizationID, req.FileName = ref.OrganizationID, ref.FileName

		out, err := svc.Modify(c.UserContext(), a, req)
		return writeOutcome(c, fiber.StatusOK, out, err)
	}
}

// DeleteDocument marks an active document deleted.
//
// @Summary Delete a document
// @Tags documents
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param fileName path string true "File name"
// @Success 200 {object} transitionResponse
// @Failure 404 {object} errorPayload
// @Router /orgs/{orgId}/docs/{fileName} [delete]
func DeleteDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, err := actor(c)
		if err != nil {
			return done(err)
		}
		var req lifecycle.DeleteRequest
		if err := parseBody(c, &req); err != nil {
			return writeServiceError(c, err)
		}
		ref := docRef(c)
		req.OrganizationID, req.FileName = ref.OrganizationID, ref.FileName

		out, err := svc.Delete(c.UserContext(), a, req)
		return writeOutcome(c, fiber.StatusOK, out, err)
	}
}

// DocumentHistory returns the version history of a document.
//
// @Summary Document history
// @Tags documents
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param fileName path string true "File name"
// @Success 200 {object} map[string][]model.HistoryEntry
// @Router /orgs/{orgId}/docs/{fileName}/history [get]
func DocumentHistory(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		entries, err := svc.History(c.UserContext(), docRef(c))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"data": entries})
	}
}

// DownloadDocument returns a presigned link to the document's file.
//
// @Summary Download link
// @Tags documents
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param fileName path string true "File name"
// @Success 200 {object} map[string]any
// @Router /orgs/{orgId}/docs/{fileName}/download [get]
func DownloadDocument(svc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		u, err := svc.DownloadURL(c.UserContext(), docRef(c))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{
			"url":        u,
			"expires_at": time.Now().Add(service.DownloadExpiry).UTC(),
		})
	}
}

// FavoriteDocument adds the actor to the document's favorites.
//
// @Summary Favorite a document
// @Tags documents
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param fileName path string true "File name"
// @Success 200 {object} model.Document
// @Router /orgs/{orgId}/docs/{fileName}/favorite [post]
func FavoriteDocument(svc service.DocumentService) fiber.Handler {
	return toggleFavorite(svc.Favorite)
}

// UnfavoriteDocument removes the actor from the document's favorites.
//
// @Summary Unfavorite a document
// @Tags documents
// @Produce json
// @Param orgId path string true "Organization ID"
// @Param fileName path string true "File name"
// @Success 200 {object} model.Document
// @Router /orgs/{orgId}/docs/{fileName}/favorite [delete]
func UnfavoriteDocument(svc service.DocumentService) fiber.Handler {
	return toggleFavorite(svc.Unfavorite)
}

func toggleFavorite(op func(ctx context.Context, a model.Actor, ref model.DocumentRef) (*model.Document, error)) fiber.Handler {
	return func(c *fiber.Ctx) error {
		a, err := actor(c)
		if err != nil {
			return done(err)
		}
		doc, err := op(c.UserContext(), a, docRef(c))
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(doc)
	}
}
