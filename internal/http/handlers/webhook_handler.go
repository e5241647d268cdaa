package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/http/middleware"
)

// HeaderWebhookSecret carries the shared secret configured on the provider.
const HeaderWebhookSecret = "X-Webhook-Secret"

// WebhookAck is the immediate answer to a webhook delivery.
type WebhookAck struct {
	Status string `json:"status" example:"received"`
}

// Webhook godoc
// @ID          webhook
// @Summary     Receive provider events
// @Description Acknowledges immediately; each event (single or batched under "events") is
// @Description ingested on the background executor. Redeliveries are harmless.
// @Tags        Webhook
// @Accept      json
// @Produce     json
//
// @Param       X-Webhook-Secret  header  string  false "Shared secret (required when configured)"
// @Param       body              body    domain.WebhookPayload  true  "Provider event or batch"
//
// @Success     200  {object} handlers.WebhookAck
// @Failure     400  {object} handlers.ErrorResponse "Invalid JSON"
// @Failure     401  {object} handlers.ErrorResponse "Bad secret"
// @Failure     503  {object} handlers.ErrorResponse "Shutting down"
// @Router      /webhook [post]
func (h *Handlers) Webhook(c *gin.Context) {
	if h.secret != "" {
		got := c.GetHeader(HeaderWebhookSecret)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid webhook secret")
			return
		}
	}

	var payload domain.WebhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	events := payload.All()
	lg := middleware.LoggerFrom(c)
	ctx := context.WithoutCancel(c.Request.Context())
	for _, ev := range events {
		name := "ingest:" + ev.Event + ":" + ev.Data.ID
		if !h.exec.Submit(ctx, name, func(ctx context.Context) error {
			return h.ingest.Ingest(ctx, ev)
		}) {
			fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, "shutting down")
			return
		}
	}
	lg.Debug().Int("events", len(events)).Msg("webhook accepted")

	ok(c, http.StatusOK, WebhookAck{Status: "received"})
}
