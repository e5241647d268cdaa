// Package services – IngestService
//
// IngestService is the incoming-message pipeline. For each webhook event it
// resolves (and lazily creates) the chat, stores the message exactly once,
// moves the chat's last-message pointer, notifies realtime subscribers and,
// for images and documents, hands the message to the document processing
// task on the background executor.
//
// Redelivered events are harmless: the unique index on messages.external_id
// turns a second delivery into a silent no-op.
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/notify"
	"github.com/tbourn/go-wa-ocr-backend/internal/repo"
	"github.com/tbourn/go-wa-ocr-backend/internal/worker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// IngestService processes inbound webhook events.
type IngestService struct {
	DB        *gorm.DB
	Chats     *ChatResolver
	Notifier  notify.Broadcaster
	Executor  worker.Executor
	Documents DocumentProcessor
}

// Ingest applies one inbound event. Duplicates and unknown event kinds return
// nil; only storage or gateway failures are reported.
func (s *IngestService) Ingest(ctx context.Context, ev domain.InboundEvent) error {
	tr := otel.Tracer("services/IngestService")
	ctx, span := tr.Start(ctx, "Ingest",
		trace.WithAttributes(
			attribute.String("event.kind", ev.Event),
			attribute.String("message.external_id", ev.Data.ID),
			attribute.String("chat.external_id", ev.Data.ChatID),
		),
	)
	defer span.End()

	var (
		result string
		err    error
	)
	switch ev.Event {
	case domain.EventMessage:
		result, err = s.ingestMessage(ctx, ev.Data)
	case domain.EventReaction:
		result, err = s.applyReaction(ctx, ev.Data)
	default:
		log.Debug().Str("component", "ingest").Str("event", ev.Event).Msg("ignoring unsupported event kind")
		result = "ignored"
	}

	kind := ev.Event
	if kind != domain.EventMessage && kind != domain.EventReaction {
		kind = "other"
	}
	if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Error().Err(err).
			Str("component", "ingest").
			Str("event", ev.Event).
			Str("message_id", ev.Data.ID).
			Str("chat_id", ev.Data.ChatID).
			Msg("ingest failed")
	}
	ingestEvents.WithLabelValues(kind, result).Inc()
	return err
}

func (s *IngestService) ingestMessage(ctx context.Context, d domain.InboundData) (string, error) {
	if strings.TrimSpace(d.ID) == "" || strings.TrimSpace(d.ChatID) == "" {
		return "", fmt.Errorf("%w: message event needs id and chatId", ErrInvalidEvent)
	}

	if d.Timestamp.Invalid != "" {
		log.Warn().Str("component", "ingest").Str("message_id", d.ID).Str("timestamp", d.Timestamp.Invalid).
			Msg("unparseable timestamp; using receive time")
	}

	chat, err := s.Chats.Resolve(ctx, d.ChatID)
	if err != nil {
		return "", err
	}

	// fast path for redeliveries
	if _, err := repo.GetMessageByExternalID(ctx, s.DB, d.ID); err == nil {
		return "duplicate", nil
	} else if !errors.Is(err, repo.ErrNotFound) {
		return "", err
	}

	m := &domain.Message{
		ExternalID: d.ID,
		ChatID:     chat.ID,
		Sender:     strings.TrimSpace(d.From),
		Text:       d.Text,
		MediaType:  domain.NormalizeMediaType(d.MediaType),
		MediaURL:   strings.TrimSpace(d.MediaURL),
		FromMe:     d.FromMe,
		Timestamp:  d.Timestamp.Time,
	}
	if q := strings.TrimSpace(d.QuotedMessageID); q != "" {
		m.QuotedID = &q
	}
	if len(d.Mentions) > 0 {
		m.Mentions = append(m.Mentions, d.Mentions...)
	}

	msg, created, err := repo.CreateMessageOnce(ctx, s.DB, m)
	if err != nil {
		return "", err
	}
	if !created {
		return "duplicate", nil
	}

	if err := repo.SetLastMessage(ctx, s.DB, chat.ID, msg.ID); err != nil {
		log.Warn().Err(err).Str("component", "ingest").Str("chat_id", chat.ExternalID).Msg("last message pointer not updated")
	} else {
		chat.LastMessageID = &msg.ID
	}

	s.broadcast(ctx, chat.ExternalID, notify.EventNewMessage, msg)

	if msg.HasProcessableMedia() && s.Documents != nil && s.Executor != nil {
		docs := s.Documents
		task := func(ctx context.Context) error {
			_, err := docs.Process(ctx, msg, chat)
			if errors.Is(err, ErrAlreadyProcessed) {
				return nil
			}
			return err
		}
		if !s.Executor.Submit(ctx, "document:"+msg.ID, task) {
			log.Error().Str("component", "ingest").Str("message_id", msg.ID).Msg("document task rejected by executor")
		}
	}
	return "ok", nil
}

func (s *IngestService) applyReaction(ctx context.Context, d domain.InboundData) (string, error) {
	target := strings.TrimSpace(d.MessageID)
	if target == "" {
		return "", fmt.Errorf("%w: reaction event needs messageId", ErrInvalidEvent)
	}
	msg, err := repo.GetMessageByExternalID(ctx, s.DB, target)
	if errors.Is(err, repo.ErrNotFound) {
		log.Debug().Str("component", "ingest").Str("message_id", target).Msg("reaction for unknown message")
		return "ignored", nil
	}
	if err != nil {
		return "", err
	}

	actor := strings.TrimSpace(d.From)
	if actor == "" {
		actor = domain.UnknownSender
	}
	updated, err := repo.SetReaction(ctx, s.DB, msg.ID, actor, d.Emoji)
	if err != nil {
		return "", err
	}
	chat, err := repo.GetChat(ctx, s.DB, updated.ChatID)
	if err != nil {
		return "", err
	}
	s.broadcast(ctx, chat.ExternalID, notify.EventMessageReaction, reactionPayload(updated, actor, d.Emoji))
	return "ok", nil
}

func (s *IngestService) broadcast(ctx context.Context, topic, kind string, data any) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Broadcast(ctx, topic, notify.Event{Type: kind, Topic: topic, Data: data})
}

// ReactionEvent is the payload of message_reaction.
type ReactionEvent struct {
	MessageID string            `json:"message_id"`
	Actor     string            `json:"actor"`
	Emoji     string            `json:"emoji"`
	Reactions []domain.Reaction `json:"reactions"`
}

func reactionPayload(m *domain.Message, actor, emoji string) ReactionEvent {
	return ReactionEvent{
		MessageID: m.ID,
		Actor:     actor,
		Emoji:     emoji,
		Reactions: append([]domain.Reaction{}, m.Reactions...),
	}
}
