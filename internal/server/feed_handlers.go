package server

import (
	"log/slog"

	"github.com/Grisenxx/divisionwebsite/internal/middleware"
	"github.com/Grisenxx/divisionwebsite/internal/models"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

const (
	feedReviewerLocal = "feedReviewer"
	feedTypesLocal    = "feedTypes"
)

// AdminFeed returns the live feed websocket handler. The principal and the
// types it may review are resolved before the upgrade; the socket only
// receives events for those types.
// @Summary Live application feed (websocket)
// @Tags admin
// @Success 101
// @Failure 426 {object} models.ErrorResponse
// @Router /admin/feed [get]
func (s *Server) AdminFeed() fiber.Handler {
	upgrade := websocket.New(func(conn *websocket.Conn) {
		reviewerID, _ := conn.Locals(feedReviewerLocal).(string)
		types, _ := conn.Locals(feedTypesLocal).([]string)

		client, err := s.hub.Register(reviewerID, types, conn)
		if err != nil {
			middleware.Logger.Warn("feed registration refused",
				slog.String("reviewer_id", reviewerID),
				slog.String("error", err.Error()),
			)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
			_ = conn.Close()
			return
		}

		go client.WritePump()
		client.ReadPump()
	})

	return func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.NewError(fiber.StatusUpgradeRequired, "websocket upgrade required")
		}
		p := middleware.CurrentPrincipal(c)
		if p == nil {
			return models.NewUnauthenticatedError("Ikke logget ind")
		}
		c.Locals(feedReviewerLocal, p.ID)
		c.Locals(feedTypesLocal, s.applications.ReviewableTypes(p))
		return upgrade(c)
	}
}
