// Document HTTP handlers.
//
//   - GET  /documents                          (paginated, optional chat_id filter)
//   - GET  /documents/search                   (ranked full-text search)
//   - GET  /documents/{id}
//   - GET  /messages/{messageId}/document
//   - POST /messages/{messageId}/process       (manual OCR trigger)
package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/services"
	"github.com/tbourn/go-wa-ocr-backend/internal/utils"
)

// ListDocumentsResponse contains a page of documents and pagination metadata.
type ListDocumentsResponse struct {
	Documents  []domain.Document `json:"documents"`
	Pagination Pagination        `json:"pagination"`
}

// SearchDocumentsResponse lists search hits, best first.
type SearchDocumentsResponse struct {
	Query string               `json:"query"`
	Hits  []services.SearchHit `json:"hits"`
}

// ProcessAcceptedResponse is returned when processing was queued.
type ProcessAcceptedResponse struct {
	Status    string `json:"status"     example:"queued"`
	MessageID string `json:"message_id" example:"0b8a4f7e-3c0d-4a43-a9d4-8d7e1f0c5a11"`
}

// ListDocuments godoc
// @ID          listDocuments
// @Summary     List OCR documents
// @Description Returns documents newest first, optionally scoped to one chat.
// @Tags        Documents
// @Produce     json
//
// @Param       chat_id    query  string  false "Provider chat id or internal id"
// @Param       page       query  int     false "Page number"     minimum(1) default(1)
// @Param       page_size  query  int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListDocumentsResponse
// @Failure     404  {object} handlers.ErrorResponse "Chat not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents [get]
func (h *Handlers) ListDocuments(c *gin.Context) {
	page, pageSize := clampPagination(c)
	items, total, err := h.docSvc.ListPage(c.Request.Context(), strings.TrimSpace(c.Query("chat_id")), page, pageSize)
	if err != nil {
		failService(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListDocumentsResponse{
		Documents:  items,
		Pagination: paginate(page, pageSize, total),
	})
}

// SearchDocuments godoc
// @ID          searchDocuments
// @Summary     Search OCR text
// @Description Ranks documents by overlap between the query and their extracted text.
// @Tags        Documents
// @Produce     json
//
// @Param       q  query  string  true  "Search text"          example(invoice total)
// @Param       k  query  int     false "Maximum hits"         minimum(1) maximum(50) default(5)
//
// @Success     200  {object} handlers.SearchDocumentsResponse
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents/search [get]
func (h *Handlers) SearchDocuments(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "q required")
		return
	}
	k := utils.Clamp(utils.AtoiDefault(c.Query("k"), 5), 1, 50)
	hits, err := h.docSvc.Search(c.Request.Context(), q, k)
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, SearchDocumentsResponse{Query: q, Hits: hits})
}

// GetDocument godoc
// @ID          getDocument
// @Summary     Get a document
// @Tags        Documents
// @Produce     json
//
// @Param       id  path  string  true  "Document ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Document
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /documents/{id} [get]
func (h *Handlers) GetDocument(c *gin.Context) {
	d, err := h.docSvc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, d)
}

// GetMessageDocument godoc
// @ID          getMessageDocument
// @Summary     Get the document derived from a message
// @Tags        Documents
// @Produce     json
//
// @Param       messageId  path  string  true  "Message ID (UUID)"  format(uuid)
//
// @Success     200  {object} domain.Document
// @Failure     404  {object} handlers.ErrorResponse "Document not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /messages/{messageId}/document [get]
func (h *Handlers) GetMessageDocument(c *gin.Context) {
	d, err := h.docSvc.GetByMessage(c.Request.Context(), c.Param("messageId"))
	if err != nil {
		failService(c, err, ErrCodeInternal)
		return
	}
	ok(c, http.StatusOK, d)
}

// ProcessMessage godoc
// @ID          processMessage
// @Summary     Run OCR for a message
// @Description Queues the document task for a stored message (202). With wait=true the task runs
// @Description inline and the stored document is returned (201).
// @Tags        Documents
// @Produce     json
//
// @Param       messageId  path   string  true  "Message ID (UUID)"  format(uuid)
// @Param       wait       query  bool    false "Run synchronously"
//
// @Success     202  {object} handlers.ProcessAcceptedResponse
// @Success     201  {object} domain.Document
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Message not found"
// @Failure     409  {object} handlers.ErrorResponse "Already processed"
// @Failure     422  {object} handlers.ErrorResponse "No processable media"
// @Failure     502  {object} handlers.ErrorResponse "Provider or OCR error"
// @Failure     503  {object} handlers.ErrorResponse "Executor shutting down"
// @Router      /messages/{messageId}/process [post]
func (h *Handlers) ProcessMessage(c *gin.Context) {
	wait := false
	if v := c.Query("wait"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "wait must be a boolean")
			return
		}
		wait = b
	}

	messageID := c.Param("messageId")
	d, err := h.docSvc.Trigger(c.Request.Context(), messageID, wait)
	if err != nil {
		if failUpstream(c, err) {
			return
		}
		failService(c, err, ErrCodeInternal)
		return
	}
	if d == nil {
		ok(c, http.StatusAccepted, ProcessAcceptedResponse{Status: "queued", MessageID: messageID})
		return
	}
	ok(c, http.StatusCreated, d)
}
