// Message HTTP handlers.
//
// This file exposes REST endpoints for chat messages:
//   - GET  /chats/{chatId}/messages                        (paginated history)
//   - POST /chats/{chatId}/messages                        (send through the provider)
//   - POST /chats/{chatId}/messages/fetch                  (import provider history)
//   - POST /chats/{chatId}/messages/{messageId}/reactions  (react or clear a reaction)
//
// Handlers are transport-thin:
//   - validate & normalize inputs (including newline constraints)
//   - delegate to application services (MessageService)
//   - implement idempotency semantics for sends
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// send exists for (chat, key), the handler returns the recorded message with
// `Idempotency-Replayed: true` instead of sending again.
package handlers

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/http/middleware"
	"github.com/tbourn/go-wa-ocr-backend/internal/services"
	"github.com/tbourn/go-wa-ocr-backend/internal/utils"
)

//
// DTOs
//

// SendMessageRequest is the JSON payload for sending a message. Either Text
// or MediaURL must be set; Caption defaults to Text for media messages.
type SendMessageRequest struct {
	Text      string `json:"text"       example:"Thanks, we received your invoice."`
	MediaURL  string `json:"media_url"  example:"https://files.example.com/receipt.pdf"`
	MediaType string `json:"media_type" example:"document" enums:"image,video,audio,document"`
	Caption   string `json:"caption"    example:"Signed receipt"`
	QuotedID  string `json:"quoted_id"  example:"false_15551234567@c.us_3EB0C767D26A"`
}

// ReactRequest is the JSON payload for reacting to a message. An empty emoji
// removes the caller's reaction.
type ReactRequest struct {
	Emoji string `json:"emoji" example:"👍"`
}

// MessageResponse wraps a single message.
type MessageResponse struct {
	Message *domain.Message `json:"message"`
}

// ListMessagesResponse contains a page of chat messages and pagination metadata.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeText normalizes outbound text: CRLF/CR become LF, runs of 3+ LFs
// collapse to a paragraph break, surrounding whitespace is trimmed.
func sanitizeText(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// parseBefore reads an RFC3339 or unix-seconds "before" cursor.
func parseBefore(v string) (*time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		t = t.UTC()
		return &t, true
	}
	if n := utils.AtoiDefault(v, -1); n > 0 {
		t := time.Unix(int64(n), 0).UTC()
		return &t, true
	}
	return nil, false
}

//
// Handlers
//

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message to a chat
// @Description Sends text or media through the provider, stores the message once and broadcasts new_message.
// @Description Supports idempotency via the Idempotency-Key header (same key → same message, no second send).
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       chatId           path    string  true  "Provider chat id or internal id"                      example(15551234567@s.whatsapp.net)
// @Param       body             body    handlers.SendMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.MessageResponse  "Message sent"
// @Success     200  {object}  handlers.MessageResponse  "Replayed send"
// @Header      200  {string}  Idempotency-Replayed      "true when the response is a replay"
// @Failure     400  {object}  handlers.ErrorResponse    "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse    "Chat not found"
// @Failure     502  {object}  handlers.ErrorResponse    "Provider error"
// @Failure     500  {object}  handlers.ErrorResponse    "Internal error"
// @Router      /chats/{chatId}/messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	in := services.SendInput{
		Text:      sanitizeText(req.Text),
		MediaURL:  req.MediaURL,
		MediaType: req.MediaType,
		Caption:   sanitizeText(req.Caption),
		QuotedID:  req.QuotedID,
	}
	idemKey, _ := middleware.GetIdempotencyKey(c)

	m, replayed, err := h.msgSvc.Send(c.Request.Context(), c.Param("chatId"), in, idemKey)
	if err != nil {
		failService(c, err, ErrCodeSendFailed)
		return
	}
	if middleware.IsReplay(c) && !replayed {
		middleware.LoggerFrom(c).Debug().Str("idempotency_key", idemKey).Msg("replay lapsed before send")
	}
	if replayed {
		c.Header("Idempotency-Replayed", "true")
		ok(c, http.StatusOK, MessageResponse{Message: m})
		return
	}
	ok(c, http.StatusCreated, MessageResponse{Message: m})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages in a chat
// @Description Returns a paginated list of stored messages for the chat, newest first.
// @Tags        Messages
// @Produce     json
//
// @Param       chatId     path   string  true  "Provider chat id or internal id"
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{chatId}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	page, pageSize := clampPagination(c)

	items, total, err := h.msgSvc.ListPage(c.Request.Context(), c.Param("chatId"), page, pageSize)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: paginate(page, pageSize, total),
	})
}

// FetchMessages godoc
// @ID          fetchMessages
// @Summary     Import message history from the provider
// @Description Pulls up to limit messages older than before and stores each one at most once.
// @Tags        Messages
// @Produce     json
//
// @Param       chatId  path   string  true  "Provider chat id or internal id"
// @Param       limit   query  int     false "Maximum messages to fetch"        minimum(1) maximum(500) default(50)
// @Param       before  query  string  false "Only messages before this time (RFC3339 or unix seconds)"
//
// @Success     200  {object} services.FetchResult
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     502  {object} handlers.ErrorResponse "Provider error"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{chatId}/messages/fetch [post]
func (h *Handlers) FetchMessages(c *gin.Context) {
	limit := utils.AtoiDefault(c.Query("limit"), 50)
	if limit < 1 || limit > 500 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "limit must be between 1 and 500")
		return
	}
	before, valid := parseBefore(c.Query("before"))
	if !valid {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "before must be RFC3339 or unix seconds")
		return
	}

	res, err := h.msgSvc.FetchHistory(c.Request.Context(), c.Param("chatId"), limit, before)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, res)
}

// ReactToMessage godoc
// @ID          reactToMessage
// @Summary     React to a message
// @Description Sends a reaction through the provider and records it on the message. An empty emoji removes it.
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       chatId     path  string  true  "Provider chat id or internal id"
// @Param       messageId  path  string  true  "Internal or provider message id"
// @Param       body       body  handlers.ReactRequest  true  "Reaction"
//
// @Success     200  {object} handlers.MessageResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat or message not found"
// @Failure     502  {object} handlers.ErrorResponse "Provider error"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{chatId}/messages/{messageId}/reactions [post]
func (h *Handlers) ReactToMessage(c *gin.Context) {
	var req ReactRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	m, err := h.msgSvc.React(c.Request.Context(), c.Param("chatId"), c.Param("messageId"), strings.TrimSpace(req.Emoji))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, MessageResponse{Message: m})
}
