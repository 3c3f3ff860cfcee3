package wechat

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/skip2/go-qrcode"

	"github.com/Jalalidin/knowledgevault-sub001/internal/config"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/apperror"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/auth"
	"github.com/Jalalidin/knowledgevault-sub001/pkg/logger"
	wx "github.com/Jalalidin/knowledgevault-sub001/pkg/wechat"
)

// MaxBodyBytes caps webhook request bodies.
const MaxBodyBytes = 1 << 20

// Handler serves the webhook and the account-linking REST endpoints.
type Handler struct {
	cfg    config.WeChatConfig
	router *Router
	linker *Linker
	store  Store
	log    *slog.Logger
}

func NewHandler(cfg config.WeChatConfig, router *Router, linker *Linker, store Store, log *slog.Logger) *Handler {
	return &Handler{
		cfg:    cfg,
		router: router,
		linker: linker,
		store:  store,
		log:    log.With(logger.Scope("wechat")),
	}
}

func (h *Handler) verified(c echo.Context) bool {
	q := c.QueryParams()
	return wx.VerifySignature(h.cfg.Token, q.Get("timestamp"), q.Get("nonce"), q.Get("signature"))
}

// Verify answers the platform's server-verification handshake.
// @Router /api/wechat/webhook [get]
func (h *Handler) Verify(c echo.Context) error {
	if !h.verified(c) {
		webhookRequests.WithLabelValues(http.MethodGet, "forbidden").Inc()
		return apperror.ErrInvalidSignature
	}
	webhookRequests.WithLabelValues(http.MethodGet, "ok").Inc()
	return c.String(http.StatusOK, c.QueryParam("echostr"))
}

// Receive handles an inbound message delivery. Once the signature checks
// out the response is always 200: a passive reply or the plain ack.
// @Router /api/wechat/webhook [post]
func (h *Handler) Receive(c echo.Context) error {
	start := time.Now()
	defer func() { webhookDuration.Observe(time.Since(start).Seconds()) }()

	if !h.verified(c) {
		webhookRequests.WithLabelValues(http.MethodPost, "forbidden").Inc()
		return apperror.ErrInvalidSignature
	}

	ctx := c.Request().Context()
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, MaxBodyBytes+1))
	if err != nil {
		h.log.Warn("failed to read webhook body", logger.Error(err))
		return h.ack(c, "read_error")
	}
	if len(body) > MaxBodyBytes {
		h.log.Warn("webhook body too large", slog.Int("limit", MaxBodyBytes))
		return h.ack(c, "too_large")
	}

	var reply []byte
	msg, err := wx.ParseMessage(body)
	var perr *wx.ParseError
	switch {
	case errors.As(err, &perr):
		reply, err = h.router.HandleParseError(ctx, perr)
	case err != nil:
		h.log.Warn("failed to parse webhook body", logger.Error(err))
		return h.ack(c, "parse_error")
	default:
		reply, err = h.router.Handle(ctx, msg)
	}
	if err != nil {
		h.log.Error("failed to compose reply", logger.Error(err))
		return h.ack(c, "compose_error")
	}
	if string(reply) == wx.Ack {
		return h.ack(c, "ack")
	}

	webhookRequests.WithLabelValues(http.MethodPost, "replied").Inc()
	return c.Blob(http.StatusOK, echo.MIMEApplicationXMLCharsetUTF8, reply)
}

func (h *Handler) ack(c echo.Context, result string) error {
	webhookRequests.WithLabelValues(http.MethodPost, result).Inc()
	return c.String(http.StatusOK, wx.Ack)
}

// LinkQRCode issues a link token for the caller and returns it as a QR code.
// @Router /api/wechat/link/qr [get]
// @Security bearerAuth
func (h *Handler) LinkQRCode(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	token, expiresAt, err := h.linker.IssueLinkToken(c.Request().Context(), user.ID)
	if err != nil {
		return apperror.NewInternal("failed to issue link token", err)
	}

	png, err := qrcode.Encode(h.cfg.QRPayload(token), qrcode.Medium, h.qrSize())
	if err != nil {
		return apperror.NewInternal("failed to render QR code", err)
	}

	return c.JSON(http.StatusOK, QRCodeResponse{
		QRCode:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
		ExpiresAt: expiresAt,
	})
}

func (h *Handler) qrSize() int {
	if h.cfg.QRSize <= 0 {
		return 256
	}
	return h.cfg.QRSize
}

// List returns the caller's linked integrations.
// @Router /api/wechat/integrations [get]
// @Security bearerAuth
func (h *Handler) List(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	integrations, err := h.store.ListByUser(c.Request().Context(), user.ID)
	if err != nil {
		return apperror.NewInternal("failed to list integrations", err)
	}

	out := make([]IntegrationSummary, len(integrations))
	for i, integration := range integrations {
		out[i] = toSummary(integration)
	}
	return c.JSON(http.StatusOK, out)
}

// Delete unlinks one of the caller's integrations.
// @Router /api/wechat/integrations/{id} [delete]
// @Security bearerAuth
func (h *Handler) Delete(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return apperror.NewNotFound("integration", id)
	}

	err := h.store.Delete(c.Request().Context(), id, user.ID)
	if errors.Is(err, ErrIntegrationNotFound) {
		return apperror.NewNotFound("integration", id)
	}
	if err != nil {
		return apperror.NewInternal("failed to delete integration", err)
	}

	h.log.Info("wechat integration removed",
		slog.String("integration_id", id),
		slog.String("user_id", user.ID))
	return c.JSON(http.StatusOK, DeleteResponse{Success: true})
}

// UpdateSettings replaces the auto-save settings of an integration.
// @Router /api/wechat/integrations/{id}/settings [put]
// @Security bearerAuth
func (h *Handler) UpdateSettings(c echo.Context) error {
	user := auth.GetUser(c)
	if user == nil {
		return apperror.ErrUnauthorized
	}

	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		return apperror.NewNotFound("integration", id)
	}

	var req UpdateSettingsRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	integration, err := h.store.UpdateSettings(c.Request().Context(), id, user.ID, Settings{AutoSave: req.AutoSave})
	if errors.Is(err, ErrIntegrationNotFound) {
		return apperror.NewNotFound("integration", id)
	}
	if err != nil {
		return apperror.NewInternal("failed to update settings", err)
	}
	return c.JSON(http.StatusOK, toSummary(integration))
}
