package wechat

import (
	"github.com/labstack/echo/v4"

	"github.com/Jalalidin/knowledgevault-sub001/pkg/auth"
)

// RegisterRoutes registers the webhook (signature-authenticated) and the
// account-linking routes (bearer-authenticated).
func RegisterRoutes(e *echo.Echo, h *Handler, authMiddleware *auth.Middleware) {
	e.GET("/api/wechat/webhook", h.Verify)
	e.POST("/api/wechat/webhook", h.Receive)

	g := e.Group("/api/wechat")
	g.Use(authMiddleware.RequireAuth())
	g.GET("/link/qr", h.LinkQRCode)
	g.GET("/integrations", h.List)
	g.DELETE("/integrations/:id", h.Delete)
	g.PUT("/integrations/:id/settings", h.UpdateSettings)
}
