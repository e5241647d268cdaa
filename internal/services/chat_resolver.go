package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/notify"
	"github.com/tbourn/go-wa-ocr-backend/internal/provider"
	"github.com/tbourn/go-wa-ocr-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ChatResolver turns a provider chat id into a stored chat, creating the row
// the first time the conversation is referenced. Concurrent resolutions of
// the same id share one provider lookup, and new_chat is broadcast only by
// the caller whose insert actually created the row.
type ChatResolver struct {
	DB       *gorm.DB
	Source   ChatSource
	Notifier notify.Broadcaster

	group singleflight.Group
}

// NewChatResolver wires a resolver.
func NewChatResolver(db *gorm.DB, src ChatSource, n notify.Broadcaster) *ChatResolver {
	return &ChatResolver{DB: db, Source: src, Notifier: n}
}

// Resolve returns the stored chat for externalID, fetching metadata from the
// gateway and inserting it when it is not stored yet. Gateway failures are
// returned wrapped; nothing is persisted in that case.
func (r *ChatResolver) Resolve(ctx context.Context, externalID string) (*domain.Chat, error) {
	tr := otel.Tracer("services/ChatResolver")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(attribute.String("chat.external_id", externalID)),
	)
	defer span.End()

	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return nil, ErrChatNotFound
	}

	c, err := repo.GetChatByExternalID(ctx, r.DB, externalID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	v, err, _ := r.group.Do(externalID, func() (any, error) {
		// another flight may have inserted it meanwhile
		if c, err := repo.GetChatByExternalID(ctx, r.DB, externalID); err == nil {
			return c, nil
		}
		pc, err := r.Source.GetChat(ctx, externalID)
		if err != nil {
			return nil, fmt.Errorf("resolve chat %s: %w", externalID, err)
		}
		if pc.ID == "" {
			pc.ID = externalID
		}
		c, _, err := r.Upsert(ctx, *pc)
		return c, err
	})
	if err != nil {
		return nil, err
	}
	// each caller gets its own copy
	out := *(v.(*domain.Chat))
	return &out, nil
}

// Upsert stores a gateway chat. A new row is broadcast as new_chat; an
// existing row gets its descriptive fields refreshed.
func (r *ChatResolver) Upsert(ctx context.Context, pc provider.Chat) (*domain.Chat, bool, error) {
	c, created, err := repo.CreateChatOnce(ctx, r.DB, chatFromProvider(pc))
	if err != nil {
		return nil, false, err
	}
	if created {
		r.broadcast(ctx, c.ExternalID, notify.EventNewChat, c)
		return c, true, nil
	}
	if err := repo.UpdateChatMeta(ctx, r.DB, c.ID, pc.Name, pc.IsGroup, pc.Participants, pc.PictureURL); err != nil {
		return nil, false, err
	}
	fresh, err := repo.GetChat(ctx, r.DB, c.ID)
	return fresh, false, err
}

// Find returns a stored chat by provider id or, failing that, by internal id.
// It never creates rows.
func (r *ChatResolver) Find(ctx context.Context, ref string) (*domain.Chat, error) {
	return findChat(ctx, r.DB, ref)
}

func (r *ChatResolver) broadcast(ctx context.Context, topic, kind string, data any) {
	if r.Notifier == nil {
		return
	}
	r.Notifier.Broadcast(ctx, topic, notify.Event{Type: kind, Topic: topic, Data: data})
}

func findChat(ctx context.Context, db *gorm.DB, ref string) (*domain.Chat, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, ErrChatNotFound
	}
	c, err := repo.GetChatByExternalID(ctx, db, ref)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	c, err = repo.GetChat(ctx, db, ref)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrChatNotFound
	}
	return c, err
}

func chatFromProvider(pc provider.Chat) *domain.Chat {
	c := &domain.Chat{
		ExternalID: pc.ID,
		Name:       pc.Name,
		IsGroup:    pc.IsGroup,
		PictureURL: pc.PictureURL,
	}
	if pc.Participants != nil {
		c.Participants = append(c.Participants, pc.Participants...)
	}
	return c
}
