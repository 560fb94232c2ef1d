package server

import (
	"github.com/Grisenxx/divisionwebsite/internal/catalog"
	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/models"
	"github.com/Grisenxx/divisionwebsite/internal/service"

	"github.com/gofiber/fiber/v2"
)

func (s *Server) request(c *fiber.Ctx) service.Request {
	return service.Request{IP: c.IP(), SessionToken: middleware.SessionToken(c)}
}

// GetApplicationTypes handles GET /api/application-types
// @Summary List application types
// @Tags applications
// @Produce json
// @Success 200 {array} catalog.Type
// @Router /application-types [get]
func (s *Server) GetApplicationTypes(c *fiber.Ctx) error {
	types := s.catalog.Types
	if types == nil {
		types = []catalog.Type{}
	}
	return c.JSON(types)
}

// SubmitApplication handles POST /api/applications
// @Summary Submit an application
// @Tags applications
// @Accept json
// @Produce json
// @Param request body service.SubmitInput true "Application"
// @Success 201 {object} object{success=bool,id=string}
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 429 {object} models.ErrorResponse
// @Router /applications [post]
func (s *Server) SubmitApplication(c *fiber.Ctx) error {
	app, err := s.applications.Submit(c.UserContext(), s.request(c), c.Body())
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"id":      app.ID,
	})
}

// CheckCooldown handles GET /api/applications/check
// @Summary Check whether the caller may apply
// @Tags applications
// @Produce json
// @Param type query string true "Application type"
// @Success 200 {object} service.CooldownStatus
// @Failure 401 {object} models.ErrorResponse
// @Router /applications/check [get]
func (s *Server) CheckCooldown(c *fiber.Ctx) error {
	status, err := s.applications.Cooldown(c.UserContext(), s.request(c), c.Query("type"))
	if err != nil {
		return err
	}
	return c.JSON(status)
}

// ListApplications handles GET /api/applications
// @Summary List applications for review
// @Tags applications
// @Produce json
// @Param type query string false "Restrict to one type"
// @Success 200 {array} models.Application
// @Failure 403 {object} models.ErrorResponse
// @Router /applications [get]
func (s *Server) ListApplications(c *fiber.Ctx) error {
	apps, err := s.applications.List(c.UserContext(), s.request(c), c.Query("type"))
	if err != nil {
		return err
	}
	if apps == nil {
		apps = []models.Application{}
	}
	return c.JSON(apps)
}

// SearchApplications handles GET /api/applications/search
// @Summary Search applications by applicant
// @Tags applications
// @Produce json
// @Param q query string true "Discord id or name"
// @Success 200 {array} models.Application
// @Failure 400 {object} models.ErrorResponse
// @Router /applications/search [get]
func (s *Server) SearchApplications(c *fiber.Ctx) error {
	apps, err := s.applications.Search(c.UserContext(), s.request(c), c.Query("q"))
	if err != nil {
		return err
	}
	if apps == nil {
		apps = []models.Application{}
	}
	return c.JSON(apps)
}

// DecideApplication handles PATCH /api/applications/:id
// @Summary Approve or reject an application
// @Tags applications
// @Accept json
// @Produce json
// @Param id path string true "Application id"
// @Param request body object{status=string,rejectionReason=string} true "Decision"
// @Success 200 {object} service.DecideResult
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /applications/{id} [patch]
func (s *Server) DecideApplication(c *fiber.Ctx) error {
	res, err := s.applications.Decide(c.UserContext(), s.request(c), c.Params("id"), c.Body())
	if err != nil {
		return err
	}
	return c.JSON(res)
}
