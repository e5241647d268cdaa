// Chat HTTP handlers.
//
// This file declares the service contracts the handlers depend on, the
// Handlers wiring, and the REST endpoints for chat resources:
//   - GET  /chats                          (list, paginated, ETag support)
//   - GET  /chats/{chatId}                 (lazy lookup through the provider)
//   - PUT  /chats/{chatId}/organization    (assign or clear the organization)
//   - POST /chats/sync                     (pull chats and groups from the provider)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/http/middleware"
	"github.com/tbourn/go-wa-ocr-backend/internal/notify"
	"github.com/tbourn/go-wa-ocr-backend/internal/repo"
	"github.com/tbourn/go-wa-ocr-backend/internal/services"
	"github.com/tbourn/go-wa-ocr-backend/internal/utils"
	"github.com/tbourn/go-wa-ocr-backend/internal/worker"
)

//
// Service contracts (context-aware)
//

// ChatService defines chat read and maintenance operations consumed by HTTP
// handlers. Chat references accept the provider id or the internal id.
type ChatService interface {
	// ListPage returns a page of chats matching f and the total count.
	ListPage(ctx context.Context, f repo.ChatFilter, page, pageSize int) ([]domain.Chat, int64, error)
	// Stats returns the count and latest update time used for ETags.
	Stats(ctx context.Context, f repo.ChatFilter) (int64, *time.Time, error)
	// Lookup resolves a chat, creating it from the provider on first use.
	// placeholder is true when the provider failed and an unsaved stand-in
	// was returned.
	Lookup(ctx context.Context, ref string) (chat *domain.Chat, placeholder bool, err error)
	// AssignOrganization sets (or clears, with nil or "") the chat's organization.
	AssignOrganization(ctx context.Context, ref string, orgID *string) (*domain.Chat, error)
	// Sync upserts every chat and group known to the provider.
	Sync(ctx context.Context) (services.SyncResult, error)
}

// MessageService defines message history and outbound operations.
type MessageService interface {
	ListPage(ctx context.Context, chatRef string, page, pageSize int) ([]domain.Message, int64, error)
	Send(ctx context.Context, chatRef string, in services.SendInput, idemKey string) (*domain.Message, bool, error)
	React(ctx context.Context, chatRef, messageID, emoji string) (*domain.Message, error)
	FetchHistory(ctx context.Context, chatRef string, limit int, before *time.Time) (services.FetchResult, error)
}

// DocumentService defines document reads, search and the manual trigger.
type DocumentService interface {
	ListPage(ctx context.Context, chatRef string, page, pageSize int) ([]domain.Document, int64, error)
	Search(ctx context.Context, q string, k int) ([]services.SearchHit, error)
	Get(ctx context.Context, id string) (*domain.Document, error)
	GetByMessage(ctx context.Context, messageID string) (*domain.Document, error)
	// Trigger queues processing, or runs it inline when wait is true and
	// returns the stored document.
	Trigger(ctx context.Context, messageID string, wait bool) (*domain.Document, error)
}

// OrganizationService defines organization CRUD.
type OrganizationService interface {
	Create(ctx context.Context, name, description string) (*domain.Organization, error)
	List(ctx context.Context) ([]services.OrganizationView, error)
	Get(ctx context.Context, id string) (*services.OrganizationView, error)
	Update(ctx context.Context, id, name, description string) (*domain.Organization, error)
	// Delete removes the organization and returns how many chats were detached.
	Delete(ctx context.Context, id string) (int64, error)
}

// SystemService reports runtime information.
type SystemService interface {
	Info(ctx context.Context) (*services.SystemInfo, error)
}

// Ingestor consumes inbound webhook events.
type Ingestor interface {
	Ingest(ctx context.Context, ev domain.InboundEvent) error
}

// Realtime is the subscriber registry behind the websocket endpoint.
type Realtime interface {
	Subscribe() *notify.Subscriber
	Join(s *notify.Subscriber, topic string)
	Leave(s *notify.Subscriber, topic string)
	Drop(s *notify.Subscriber)
}

//
// Handler wiring
//

// Deps lists the collaborators of the HTTP handlers. A nil Executor runs
// webhook ingestion inline.
type Deps struct {
	Chats         ChatService
	Messages      MessageService
	Documents     DocumentService
	Organizations OrganizationService
	System        SystemService
	Ingest        Ingestor
	Executor      worker.Executor
	Realtime      Realtime
	WebhookSecret string
}

// Handlers groups HTTP endpoints for chats, messages, documents,
// organizations, the provider webhook and the realtime socket. It depends on
// abstract service interfaces to keep transport concerns separate from
// business logic.
type Handlers struct {
	chatSvc ChatService
	msgSvc  MessageService
	docSvc  DocumentService
	orgSvc  OrganizationService
	sysSvc  SystemService
	ingest  Ingestor
	exec    worker.Executor
	rt      Realtime
	secret  string
}

// New constructs and returns a Handlers instance bound to the given services.
func New(d Deps) *Handlers {
	exec := d.Executor
	if exec == nil {
		exec = worker.Inline{}
	}
	return &Handlers{
		chatSvc: d.Chats,
		msgSvc:  d.Messages,
		docSvc:  d.Documents,
		orgSvc:  d.Organizations,
		sysSvc:  d.System,
		ingest:  d.Ingest,
		exec:    exec,
		rt:      d.Realtime,
		secret:  d.WebhookSecret,
	}
}

//
// DTOs
//

// AssignOrganizationRequest is the JSON payload for PUT /chats/{chatId}/organization.
// A null or empty organization_id removes the chat from its organization.
type AssignOrganizationRequest struct {
	OrganizationID *string `json:"organization_id" example:"5d0c3a3e-6d7b-4d2a-9a55-0f2f8c1b2a10"`
}

// ChatResponse wraps a single chat. Placeholder is true when the provider
// could not be reached and the chat was synthesized without being stored.
type ChatResponse struct {
	Chat        *domain.Chat `json:"chat"`
	Placeholder bool         `json:"placeholder"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListChatsResponse wraps a page of chats and pagination information.
type ListChatsResponse struct {
	Chats      []domain.Chat `json:"chats"`
	Pagination Pagination    `json:"pagination"`
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params to sane
// defaults and limits, returning (page, pageSize).
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = max(utils.AtoiDefault(c.Query("page"), defaultPage), 1)
	pageSize = utils.Clamp(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1, maxPageSize)
	return
}

// paginate builds the pagination block for a page of total items.
func paginate(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// chatFilter reads organization_id / unassigned query params.
func chatFilter(c *gin.Context) (repo.ChatFilter, error) {
	f := repo.ChatFilter{OrganizationID: strings.TrimSpace(c.Query("organization_id"))}
	if v := c.Query("unassigned"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, errors.New("unassigned must be a boolean")
		}
		f.Unassigned = b
	}
	if f.OrganizationID != "" && f.Unassigned {
		return f, errors.New("organization_id and unassigned are mutually exclusive")
	}
	return f, nil
}

//
// Handlers
//

// ListChats godoc
// @ID          listChats
// @Summary     List chats (paginated)
// @Description Returns a page of chats, most recently active first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Chats
// @Produce     json
//
// @Param       If-None-Match    header  string  false "Return 304 if ETag matches"        example(W/\"abc123\")
// @Param       page             query   int     false "Page number"                       minimum(1) default(1)
// @Param       page_size        query   int     false "Items per page"                    minimum(1) maximum(100) default(20)
// @Param       organization_id  query   string  false "Only chats in this organization"   format(uuid)
// @Param       unassigned       query   bool    false "Only chats without an organization"
//
// @Success     200  {object} handlers.ListChatsResponse
// @Header      200  {string} ETag           "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats [get]
func (h *Handlers) ListChats(c *gin.Context) {
	ctx := c.Request.Context()
	f, err := chatFilter(c)
	if err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if count, maxTS, err := h.chatSvc.Stats(ctx, f); err == nil {
		var ts int64
		if maxTS != nil {
			ts = maxTS.Unix()
		}
		scope := "all"
		switch {
		case f.OrganizationID != "":
			scope = "org-" + f.OrganizationID
		case f.Unassigned:
			scope = "unassigned"
		}
		if notModified(c, fmt.Sprintf(`W/"chats:%s:%d:%d:%d:%d"`, scope, page, pageSize, count, ts)) {
			return
		}
	}

	items, total, err := h.chatSvc.ListPage(ctx, f, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	ok(c, http.StatusOK, ListChatsResponse{
		Chats:      items,
		Pagination: paginate(page, pageSize, total),
	})
}

// GetChat godoc
// @ID          getChat
// @Summary     Look up a chat
// @Description Returns a stored chat, creating it from the provider on first reference.
// @Description When the provider is unreachable a placeholder chat is returned and not stored.
// @Tags        Chats
// @Produce     json
//
// @Param       chatId  path  string  true  "Provider chat id or internal id"  example(15551234567@s.whatsapp.net)
//
// @Success     200  {object} handlers.ChatResponse
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{chatId} [get]
func (h *Handlers) GetChat(c *gin.Context) {
	chat, placeholder, err := h.chatSvc.Lookup(c.Request.Context(), c.Param("chatId"))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	if placeholder {
		middleware.LoggerFrom(c).Warn().Str("chat", chat.ExternalID).Msg("provider unavailable; serving placeholder chat")
	}
	ok(c, http.StatusOK, ChatResponse{Chat: chat, Placeholder: placeholder})
}

// AssignOrganization godoc
// @ID          assignChatOrganization
// @Summary     Assign a chat to an organization
// @Description Sets the chat's organization. A null or empty organization_id removes it.
// @Tags        Chats
// @Accept      json
// @Produce     json
//
// @Param       chatId  path  string  true  "Provider chat id or internal id"
// @Param       body    body  handlers.AssignOrganizationRequest  true  "Target organization"
//
// @Success     200  {object} domain.Chat
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Chat or organization not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/{chatId}/organization [put]
func (h *Handlers) AssignOrganization(c *gin.Context) {
	var req AssignOrganizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	chat, err := h.chatSvc.AssignOrganization(c.Request.Context(), c.Param("chatId"), req.OrganizationID)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, chat)
}

// SyncChats godoc
// @ID          syncChats
// @Summary     Sync chats from the provider
// @Description Pulls every chat and group known to the provider and upserts them.
// @Tags        Chats
// @Produce     json
//
// @Success     200  {object} services.SyncResult
// @Failure     502  {object} handlers.ErrorResponse "Provider error"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /chats/sync [post]
func (h *Handlers) SyncChats(c *gin.Context) {
	res, err := h.chatSvc.Sync(c.Request.Context())
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, res)
}
