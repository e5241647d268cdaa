// Package services – MessageService
//
// This file implements MessageService, which serves stored messages and the
// outbound side of a chat: sending text or media through the gateway,
// reacting to a message and backfilling history. Outbound messages are stored
// with the same once-only insert used for inbound ones, so a gateway echo of
// our own message never produces a second row.
//
// Sends honour an Idempotency-Key: a retried request with a key seen for the
// same chat within the TTL replays the stored message instead of sending again.
//
// Observability: all public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/notify"
	"github.com/tbourn/go-wa-ocr-backend/internal/provider"
	"github.com/tbourn/go-wa-ocr-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// SelfSender is stored as the sender of messages sent by this backend.
const SelfSender = "me"

// MessageService coordinates outbound messages and message reads.
type MessageService struct {
	DB       *gorm.DB
	Chats    *ChatResolver
	Gateway  MessageGateway
	Notifier notify.Broadcaster

	// IdempotencyTTL bounds how long an Idempotency-Key replays. Zero means 24h.
	IdempotencyTTL time.Duration
	// MaxTextRunes caps outbound text length. Zero disables the check.
	MaxTextRunes int
}

// SendInput is an outbound message. Either Text or MediaURL must be set.
type SendInput struct {
	Text      string
	MediaURL  string
	MediaType string
	Caption   string
	QuotedID  string
}

// ListPage returns paginated messages for a chat, newest first.
func (s *MessageService) ListPage(ctx context.Context, chatRef string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("chat.ref", chatRef),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	chat, err := findChat(ctx, s.DB, chatRef)
	if err != nil {
		return nil, 0, err
	}

	_, pageSize, offset := paging(page, pageSize)
	total, err := repo.CountMessages(ctx, s.DB, chat.ID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, chat.ID, offset, pageSize)
	return items, total, err
}

// HasReplay reports whether key already produced a message in the chat.
// It backs the idempotency middleware and never creates chats.
func (s *MessageService) HasReplay(ctx context.Context, chatRef, key string, now time.Time) (bool, error) {
	chat, err := findChat(ctx, s.DB, chatRef)
	if err != nil {
		if errors.Is(err, ErrChatNotFound) {
			return false, nil
		}
		return false, err
	}
	_, err = repo.LookupSendKey(ctx, s.DB, chat.ID, key, now)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Send delivers a message through the gateway, stores it and broadcasts
// new_message. replayed is true when idemKey matched an earlier send and the
// stored message was returned without contacting the gateway.
func (s *MessageService) Send(ctx context.Context, chatRef string, in SendInput, idemKey string) (msg *domain.Message, replayed bool, err error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "Send",
		trace.WithAttributes(
			attribute.String("chat.ref", chatRef),
			attribute.Bool("idempotent", idemKey != ""),
		),
	)
	defer span.End()

	in.Text = strings.TrimSpace(in.Text)
	in.MediaURL = strings.TrimSpace(in.MediaURL)
	in.QuotedID = strings.TrimSpace(in.QuotedID)
	mediaType := domain.MediaNone
	if in.MediaURL != "" {
		mediaType = strings.ToLower(strings.TrimSpace(in.MediaType))
		switch mediaType {
		case domain.MediaImage, domain.MediaVideo, domain.MediaAudio, domain.MediaDocument:
		default:
			return nil, false, ErrInvalidMediaType
		}
		if in.Caption == "" {
			in.Caption = in.Text
		}
	} else if in.Text == "" {
		return nil, false, ErrEmptyMessage
	}
	if s.MaxTextRunes > 0 && len([]rune(in.Text)) > s.MaxTextRunes {
		return nil, false, ErrMessageTooLong
	}

	chat, err := s.Chats.Resolve(ctx, chatRef)
	if err != nil {
		return nil, false, err
	}

	if idemKey != "" {
		rec, err := repo.LookupSendKey(ctx, s.DB, chat.ID, idemKey, time.Now().UTC())
		switch {
		case err == nil:
			prev, gerr := repo.GetMessage(ctx, s.DB, rec.MessageID)
			if gerr == nil {
				return prev, true, nil
			}
			if !errors.Is(gerr, repo.ErrNotFound) {
				return nil, false, gerr
			}
		case !errors.Is(err, repo.ErrNotFound):
			return nil, false, err
		}
	}

	res, err := s.deliver(ctx, chat.ExternalID, in, mediaType)
	if err != nil {
		return nil, false, err
	}

	m := &domain.Message{
		ExternalID: res.MessageID,
		ChatID:     chat.ID,
		Sender:     SelfSender,
		Text:       in.Text,
		MediaType:  mediaType,
		MediaURL:   in.MediaURL,
		FromMe:     true,
		Timestamp:  res.Timestamp,
	}
	if m.ExternalID == "" {
		m.ExternalID = "local-" + uuid.NewString()
	}
	if mediaType != domain.MediaNone {
		m.Text = in.Caption
	}
	if in.QuotedID != "" {
		q := in.QuotedID
		m.QuotedID = &q
	}
	stored, created, err := repo.CreateMessageOnce(ctx, s.DB, m)
	if err != nil {
		return nil, false, err
	}
	if created {
		if err := repo.SetLastMessage(ctx, s.DB, chat.ID, stored.ID); err != nil {
			log.Warn().Err(err).Str("component", "messages").Str("chat_id", chat.ExternalID).Msg("last message pointer not updated")
		}
		s.broadcast(ctx, chat.ExternalID, notify.EventNewMessage, stored)
	}

	if idemKey != "" {
		if _, err := repo.RememberSendKey(ctx, s.DB, chat.ID, idemKey, stored.ID, 201, s.ttl()); err != nil && !errors.Is(err, repo.ErrDuplicate) {
			log.Warn().Err(err).Str("component", "messages").Str("key", idemKey).Msg("idempotency record not stored")
		}
	}
	return stored, false, nil
}

func (s *MessageService) deliver(ctx context.Context, chatID string, in SendInput, mediaType string) (*provider.SendResult, error) {
	if mediaType == domain.MediaNone {
		return s.Gateway.SendText(ctx, chatID, in.Text, in.QuotedID)
	}
	return s.Gateway.SendMedia(ctx, chatID, in.MediaURL, in.Caption, mediaType, in.QuotedID)
}

// React sets (or clears, with an empty emoji) this backend's reaction on a
// message of the chat and broadcasts message_reaction.
func (s *MessageService) React(ctx context.Context, chatRef, messageID, emoji string) (*domain.Message, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "React",
		trace.WithAttributes(
			attribute.String("chat.ref", chatRef),
			attribute.String("message.id", messageID),
		),
	)
	defer span.End()

	chat, err := findChat(ctx, s.DB, chatRef)
	if err != nil {
		return nil, err
	}
	msg, err := repo.GetMessage(ctx, s.DB, messageID)
	if errors.Is(err, repo.ErrNotFound) {
		msg, err = repo.GetMessageByExternalID(ctx, s.DB, messageID)
	}
	if errors.Is(err, repo.ErrNotFound) || (err == nil && msg.ChatID != chat.ID) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}

	emoji = strings.TrimSpace(emoji)
	if err := s.Gateway.React(ctx, chat.ExternalID, msg.ExternalID, emoji); err != nil {
		return nil, err
	}
	updated, err := repo.SetReaction(ctx, s.DB, msg.ID, SelfSender, emoji)
	if err != nil {
		return nil, err
	}
	s.broadcast(ctx, chat.ExternalID, notify.EventMessageReaction, reactionPayload(updated, SelfSender, emoji))
	return updated, nil
}

// FetchResult summarizes a history backfill.
type FetchResult struct {
	Fetched int `json:"fetched"`
	Stored  int `json:"stored"`
}

// FetchHistory pulls up to limit messages older than before (all recent ones
// when nil) from the gateway and stores each message once.
func (s *MessageService) FetchHistory(ctx context.Context, chatRef string, limit int, before *time.Time) (FetchResult, error) {
	tr := otel.Tracer("services/MessageService")
	ctx, span := tr.Start(ctx, "FetchHistory",
		trace.WithAttributes(
			attribute.String("chat.ref", chatRef),
			attribute.Int("limit", limit),
		),
	)
	defer span.End()

	var res FetchResult
	if limit <= 0 {
		limit = 50
	}
	chat, err := s.Chats.Resolve(ctx, chatRef)
	if err != nil {
		return res, err
	}
	list, err := s.Gateway.GetMessages(ctx, chat.ExternalID, limit, before)
	if err != nil {
		return res, err
	}
	res.Fetched = len(list)

	var newest *domain.Message
	for _, pm := range list {
		if pm.ID == "" {
			continue
		}
		m := &domain.Message{
			ExternalID: pm.ID,
			ChatID:     chat.ID,
			Sender:     pm.From,
			Text:       pm.Text,
			MediaType:  domain.NormalizeMediaType(pm.MediaType),
			MediaURL:   pm.MediaURL,
			FromMe:     pm.FromMe,
			Timestamp:  pm.Timestamp,
		}
		if pm.QuotedID != "" {
			q := pm.QuotedID
			m.QuotedID = &q
		}
		if len(pm.Mentions) > 0 {
			m.Mentions = append(m.Mentions, pm.Mentions...)
		}
		stored, created, err := repo.CreateMessageOnce(ctx, s.DB, m)
		if err != nil {
			return res, err
		}
		if created {
			res.Stored++
			if newest == nil || stored.Timestamp.After(newest.Timestamp) {
				newest = stored
			}
		}
	}
	if newest != nil && chat.LastMessageID == nil {
		if err := repo.SetLastMessage(ctx, s.DB, chat.ID, newest.ID); err != nil {
			log.Warn().Err(err).Str("component", "messages").Str("chat_id", chat.ExternalID).Msg("last message pointer not updated")
		}
	}
	return res, nil
}

func (s *MessageService) ttl() time.Duration {
	if s.IdempotencyTTL <= 0 {
		return 24 * time.Hour
	}
	return s.IdempotencyTTL
}

func (s *MessageService) broadcast(ctx context.Context, topic, kind string, data any) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Broadcast(ctx, topic, notify.Event{Type: kind, Topic: topic, Data: data})
}
