// Package handlers holds the gin handlers of the public API and the webhook.
//
// Every failure is answered with an ErrorResponse whose code is one of the
// ErrCode constants below, so clients can branch on it without parsing the
// message:
//
//	{"request_id":"e1b9be03-...","code":"already_processed","message":"message already processed"}
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-ocr-backend/internal/ocr"
	"github.com/tbourn/go-wa-ocr-backend/internal/provider"
	"github.com/tbourn/go-wa-ocr-backend/internal/services"
)

const (
	ErrCodeBadRequest    = "bad_request"
	ErrCodeUnauthorized  = "unauthorized"
	ErrCodeNotFound      = "not_found"
	ErrCodeConflict      = "conflict"
	ErrCodeUnprocessable = "unprocessable"
	ErrCodeInternal      = "internal_error"
	ErrCodeUnavailable   = "unavailable"

	// Domain-specific:
	ErrCodeAlreadyProcessed = "already_processed"
	ErrCodeUpstreamFailed   = "upstream_failed"
	ErrCodeListFailed       = "list_failed"
	ErrCodeCreateFailed     = "create_failed"
	ErrCodeSendFailed       = "send_failed"
	ErrCodeMethodNotAllowed = "method_not_allowed"
)

// failUpstream answers 502 for document pipeline failures before any other
// mapping applies, so a provider 404 on a media URL is not reported as a
// missing message. It reports whether it wrote a response.
func failUpstream(c *gin.Context, err error) bool {
	if errors.Is(err, services.ErrUpstream) || errors.Is(err, provider.ErrProvider) || errors.Is(err, ocr.ErrOCR) {
		fail(c, http.StatusBadGateway, ErrCodeUpstreamFailed, err.Error())
		return true
	}
	return false
}

// failService translates a service error into the matching status and code.
// fallback is the code used for unexpected (500) errors.
func failService(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, services.ErrChatNotFound),
		errors.Is(err, services.ErrMessageNotFound),
		errors.Is(err, services.ErrDocumentNotFound),
		errors.Is(err, services.ErrOrganizationNotFound),
		errors.Is(err, provider.ErrNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, services.ErrAlreadyProcessed):
		fail(c, http.StatusConflict, ErrCodeAlreadyProcessed, err.Error())
	case errors.Is(err, services.ErrDuplicateOrganization):
		fail(c, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, services.ErrNotProcessable):
		fail(c, http.StatusUnprocessableEntity, ErrCodeUnprocessable, err.Error())
	case errors.Is(err, services.ErrEmptyMessage),
		errors.Is(err, services.ErrMessageTooLong),
		errors.Is(err, services.ErrInvalidMediaType),
		errors.Is(err, services.ErrInvalidOrganization):
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
	case errors.Is(err, provider.ErrProvider), errors.Is(err, ocr.ErrOCR):
		fail(c, http.StatusBadGateway, ErrCodeUpstreamFailed, err.Error())
	case errors.Is(err, services.ErrExecutorClosed):
		fail(c, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	default:
		fail(c, http.StatusInternalServerError, fallback, err.Error())
	}
}
