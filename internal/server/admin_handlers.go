package server

import (
	"encoding/json"
	"log/slog"
	"net"
	"strings"

	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/models"

	"github.com/gofiber/fiber/v2"
)

type ipRequest struct {
	IP              string `json:"ip"`
	ClearViolations bool   `json:"clearViolations"`
}

func parseIPRequest(c *fiber.Ctx, required bool) (ipRequest, error) {
	var req ipRequest
	if len(c.Body()) > 0 {
		if err := json.Unmarshal(c.Body(), &req); err != nil {
			return req, models.NewValidationError("Ugyldig JSON")
		}
	}
	req.IP = strings.TrimSpace(req.IP)
	if req.IP == "" {
		if required {
			return req, models.NewValidationError("IP adresse påkrævet")
		}
		return req, nil
	}
	if net.ParseIP(req.IP) == nil {
		return req, models.NewValidationError("Ugyldig IP adresse")
	}
	return req, nil
}

func logAdminAction(c *fiber.Ctx, action, ip string) {
	middleware.Logger.InfoContext(c.UserContext(), "admin security action",
		slog.String("action", action),
		slog.String("ip", middleware.MaskIP(ip)),
	)
}

// GetSecurity handles GET /api/admin/security
// @Summary Security violations or blocked IPs
// @Tags admin
// @Produce json
// @Param type query string false "violations (default) or blocked"
// @Success 200 {object} abuse.ViolationReport
// @Failure 403 {object} models.ErrorResponse
// @Router /admin/security [get]
func (s *Server) GetSecurity(c *fiber.Ctx) error {
	ctx := c.UserContext()
	switch c.Query("type", "violations") {
	case "violations":
		report, err := s.detector.Violations(ctx)
		if err != nil {
			return err
		}
		return c.JSON(report)
	case "blocked":
		report, err := s.detector.Blocks(ctx)
		if err != nil {
			return err
		}
		return c.JSON(report)
	default:
		return models.NewValidationError("Ugyldig type. Brug 'violations' eller 'blocked'")
	}
}

// DeleteSecurity handles DELETE /api/admin/security
// @Summary Unblock an IP
// @Tags admin
// @Accept json
// @Produce json
// @Param request body object{ip=string,clearViolations=bool} true "Target"
// @Success 200 {object} abuse.UnblockResult
// @Router /admin/security [delete]
func (s *Server) DeleteSecurity(c *fiber.Ctx) error {
	req, err := parseIPRequest(c, true)
	if err != nil {
		return err
	}
	res, err := s.detector.Unblock(c.UserContext(), req.IP, req.ClearViolations)
	if err != nil {
		return err
	}
	logAdminAction(c, "unblock", req.IP)
	return c.JSON(fiber.Map{"success": true, "result": res})
}

// UnblockIP handles POST /api/admin/unblock-ip
// @Summary Unblock an IP and clear its violations
// @Tags admin
// @Accept json
// @Produce json
// @Param request body object{ip=string} true "Target"
// @Success 200 {object} abuse.UnblockResult
// @Router /admin/unblock-ip [post]
func (s *Server) UnblockIP(c *fiber.Ctx) error {
	req, err := parseIPRequest(c, true)
	if err != nil {
		return err
	}
	res, err := s.detector.Unblock(c.UserContext(), req.IP, true)
	if err != nil {
		return err
	}
	logAdminAction(c, "unblock_and_clear", req.IP)
	return c.JSON(fiber.Map{"success": true, "result": res})
}

// ClearRateLimits handles POST /api/admin/clear-rate-limits
// @Summary Clear rate-limit windows
// @Tags admin
// @Accept json
// @Produce json
// @Param request body object{ip=string} false "Limit to one IP"
// @Success 200 {object} object{success=bool,cleared=int}
// @Router /admin/clear-rate-limits [post]
func (s *Server) ClearRateLimits(c *fiber.Ctx) error {
	req, err := parseIPRequest(c, false)
	if err != nil {
		return err
	}

	var n int
	if req.IP != "" {
		n, err = s.limiter.Reset(c.UserContext(), req.IP)
	} else {
		n, err = s.limiter.Clear(c.UserContext())
	}
	if err != nil {
		return err
	}
	logAdminAction(c, "clear_rate_limits", req.IP)
	return c.JSON(fiber.Map{"success": true, "cleared": n})
}
