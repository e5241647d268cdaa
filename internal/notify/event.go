// Package notify fans domain events out to realtime subscribers.
//
// A Hub groups subscribers by topic (the chat's provider id). Broadcasts are
// best-effort: each subscriber owns a bounded buffer and an event that does
// not fit is dropped and counted rather than blocking the producer. Optional
// mirrors (an AMQP exchange, for instance) receive every broadcast as well.
package notify

import "time"

// Event types pushed to subscribers.
const (
	EventNewChat                 = "new_chat"
	EventNewMessage              = "new_message"
	EventMessageReaction         = "message_reaction"
	EventDocumentProcessing      = "document_processing"
	EventDocumentProcessed       = "document_processed"
	EventDocumentProcessingError = "document_processing_error"
)

// Event is one realtime notification. Its JSON form is the server frame sent
// over the websocket.
type Event struct {
	Type  string    `json:"event"`
	Topic string    `json:"chat_id"`
	Data  any       `json:"data"`
	Time  time.Time `json:"time"`
}
