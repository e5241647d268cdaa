// Package services – ChatService
//
// This file implements ChatService, which serves chat listings, single-chat
// lookups, organization assignment and the gateway sync. Chats are addressed
// by their provider id (internal ids are accepted as well) and are created
// lazily the first time they are referenced.
//
// Service-level errors (e.g., ErrChatNotFound) are returned for predictable
// cases so handlers can map them to HTTP results consistently.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/provider"
	"github.com/tbourn/go-wa-ocr-backend/internal/repo"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ChatService provides chat-level operations.
type ChatService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Resolver creates chats on first reference.
	Resolver *ChatResolver
	// Directory enumerates gateway chats for Sync.
	Directory ChatDirectory
}

// NewChatService constructs a ChatService.
func NewChatService(db *gorm.DB, r *ChatResolver, dir ChatDirectory) *ChatService {
	return &ChatService{DB: db, Resolver: r, Directory: dir}
}

// ListPage returns a page of chats matching f plus the total count.
// It applies defaults for invalid page/pageSize.
func (s *ChatService) ListPage(ctx context.Context, f repo.ChatFilter, page, pageSize int) ([]domain.Chat, int64, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("organization.id", f.OrganizationID),
			attribute.Bool("unassigned", f.Unassigned),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	_, pageSize, offset := paging(page, pageSize)

	total, err := repo.CountChats(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Chat{}, 0, nil
	}

	items, err := repo.ListChatsPage(ctx, s.DB, f, offset, pageSize)
	return items, total, err
}

// Stats returns the count and latest update time of the chats matching f,
// used to derive list ETags.
func (s *ChatService) Stats(ctx context.Context, f repo.ChatFilter) (int64, *time.Time, error) {
	return repo.ChatsStats(ctx, s.DB, f)
}

// Lookup returns the chat for ref, creating it from gateway metadata on first
// reference. When the gateway cannot describe an unknown chat, a placeholder
// (not persisted) is returned with placeholder=true.
func (s *ChatService) Lookup(ctx context.Context, ref string) (chat *domain.Chat, placeholder bool, err error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Lookup",
		trace.WithAttributes(attribute.String("chat.ref", ref)),
	)
	defer span.End()

	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, false, ErrChatNotFound
	}
	if c, err := findChat(ctx, s.DB, ref); err == nil {
		return c, false, nil
	} else if !errors.Is(err, ErrChatNotFound) {
		return nil, false, err
	}

	c, err := s.Resolver.Resolve(ctx, ref)
	if err == nil {
		return c, false, nil
	}
	if errors.Is(err, provider.ErrProvider) {
		log.Warn().Err(err).Str("component", "chats").Str("chat_id", ref).Msg("gateway lookup failed; serving placeholder")
		return placeholderChat(ref), true, nil
	}
	return nil, false, err
}

// AssignOrganization sets (or clears, when orgID is nil or empty) the
// organization of a stored chat and returns the updated chat.
func (s *ChatService) AssignOrganization(ctx context.Context, ref string, orgID *string) (*domain.Chat, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "AssignOrganization",
		trace.WithAttributes(attribute.String("chat.ref", ref)),
	)
	defer span.End()

	c, err := findChat(ctx, s.DB, ref)
	if err != nil {
		return nil, err
	}
	if orgID != nil && strings.TrimSpace(*orgID) == "" {
		orgID = nil
	}
	if orgID != nil {
		if _, err := repo.GetOrganization(ctx, s.DB, *orgID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrOrganizationNotFound
			}
			return nil, err
		}
	}
	if err := repo.AssignOrganization(ctx, s.DB, c.ID, orgID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrChatNotFound
		}
		return nil, err
	}
	return repo.GetChat(ctx, s.DB, c.ID)
}

// SyncResult summarizes a gateway sync.
type SyncResult struct {
	Fetched int `json:"fetched"`
	Created int `json:"created"`
	Updated int `json:"updated"`
}

// Sync pulls every chat and group from the gateway and upserts them. Groups
// take precedence over a chat entry with the same id because they carry the
// participant list.
func (s *ChatService) Sync(ctx context.Context) (SyncResult, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Sync")
	defer span.End()

	var res SyncResult
	chats, err := s.Directory.ListChats(ctx)
	if err != nil {
		return res, err
	}
	groups, err := s.Directory.ListGroups(ctx)
	if err != nil {
		return res, err
	}

	order := make([]string, 0, len(chats)+len(groups))
	byID := make(map[string]provider.Chat, len(chats)+len(groups))
	for _, list := range [][]provider.Chat{chats, groups} {
		for _, pc := range list {
			if pc.ID == "" {
				continue
			}
			if _, seen := byID[pc.ID]; !seen {
				order = append(order, pc.ID)
			}
			byID[pc.ID] = pc
		}
	}

	res.Fetched = len(order)
	for _, id := range order {
		_, created, err := s.Resolver.Upsert(ctx, byID[id])
		if err != nil {
			return res, err
		}
		if created {
			res.Created++
		} else {
			res.Updated++
		}
	}
	log.Info().Str("component", "chats").
		Int("fetched", res.Fetched).
		Int("created", res.Created).
		Int("updated", res.Updated).
		Msg("chat sync finished")
	return res, nil
}

func placeholderChat(externalID string) *domain.Chat {
	now := time.Now().UTC()
	return &domain.Chat{
		ExternalID: externalID,
		Name:       externalID,
		IsGroup:    strings.HasSuffix(externalID, "@g.us"),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}
