// Package services holds the business logic of the WhatsApp OCR backend:
// ingestion of webhook events, document processing, and the chat, message,
// organization and system operations exposed over HTTP.
//
// This file centralizes the service-level error values. Translation into
// HTTP status codes happens in the handler layer.
package services

import "errors"

var (
	// ErrChatNotFound indicates that the requested chat does not exist.
	ErrChatNotFound = errors.New("chat not found")

	// ErrMessageNotFound indicates that the requested message does not exist
	// (or does not belong to the chat named in the request).
	ErrMessageNotFound = errors.New("message not found")

	// ErrDocumentNotFound indicates that no document matches the lookup.
	ErrDocumentNotFound = errors.New("document not found")

	// ErrOrganizationNotFound indicates that the requested organization does not exist.
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrDuplicateOrganization is returned when an organization name is taken.
	ErrDuplicateOrganization = errors.New("organization name already exists")

	// ErrInvalidOrganization is returned when an organization has no name.
	ErrInvalidOrganization = errors.New("organization name is required")

	// ErrAlreadyProcessed is returned when a message already has a document.
	ErrAlreadyProcessed = errors.New("message already processed")

	// ErrNotProcessable is returned when a message carries no media the
	// document pipeline accepts.
	ErrNotProcessable = errors.New("message has no processable media")

	// ErrEmptyMessage is returned when an outbound message has neither text nor media.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrMessageTooLong is returned when outbound text exceeds the configured limit.
	ErrMessageTooLong = errors.New("message too long")

	// ErrInvalidMediaType is returned for an outbound media kind the gateway cannot send.
	ErrInvalidMediaType = errors.New("invalid media type")

	// ErrExecutorClosed is returned when a task cannot be queued because the
	// executor is shutting down.
	ErrExecutorClosed = errors.New("task executor is shutting down")

	// ErrUpstream marks a media download or OCR failure while processing a
	// document, whatever status the upstream answered with.
	ErrUpstream = errors.New("upstream failure")

	// ErrInvalidEvent is returned for inbound events missing their identifiers.
	ErrInvalidEvent = errors.New("invalid inbound event")
)
