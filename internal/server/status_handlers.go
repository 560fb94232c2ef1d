package server

import (
	"github.com/gofiber/fiber/v2"
)

// GetServerStatus handles GET /api/server-status
// @Summary FiveM server status
// @Tags status
// @Produce json
// @Success 200 {object} gamestatus.Status
// @Router /server-status [get]
func (s *Server) GetServerStatus(c *fiber.Ctx) error {
	return c.JSON(s.status.Status(c.UserContext()))
}
