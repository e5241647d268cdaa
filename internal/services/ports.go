package services

import (
	"context"
	"time"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/provider"
	"github.com/tbourn/go-wa-ocr-backend/internal/search"
	"github.com/tbourn/go-wa-ocr-backend/internal/worker"
)

// ChatSource looks up a single conversation on the messaging gateway.
type ChatSource interface {
	GetChat(ctx context.Context, chatID string) (*provider.Chat, error)
}

// ChatDirectory enumerates the conversations known to the gateway.
type ChatDirectory interface {
	ListChats(ctx context.Context) ([]provider.Chat, error)
	ListGroups(ctx context.Context) ([]provider.Chat, error)
}

// MediaDownloader fetches media binaries referenced by messages.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, mediaURL string) ([]byte, string, error)
}

// MessageGateway sends messages and reads history through the gateway.
type MessageGateway interface {
	GetMessages(ctx context.Context, chatID string, limit int, before *time.Time) ([]provider.Message, error)
	SendText(ctx context.Context, chatID, text, quotedID string) (*provider.SendResult, error)
	SendMedia(ctx context.Context, chatID, mediaURL, caption, mediaType, quotedID string) (*provider.SendResult, error)
	React(ctx context.Context, chatID, messageID, emoji string) error
}

// Provider is the full gateway surface used by the services. *provider.Client
// satisfies it.
type Provider interface {
	ChatSource
	ChatDirectory
	MediaDownloader
	MessageGateway
}

// DocumentIndex is the search index documents are added to.
type DocumentIndex interface {
	Add(id, text string)
	TopK(q string, k int) []search.Result
}

// DocumentProcessor runs the document processing task for one message.
type DocumentProcessor interface {
	Process(ctx context.Context, msg *domain.Message, chat *domain.Chat) (*domain.Document, error)
}

// ExecutorStats reports background executor counters.
type ExecutorStats interface {
	Stats() worker.Stats
}

// SubscriberCounter reports the number of realtime subscribers.
type SubscriberCounter interface {
	SubscriberCount() int
}

var _ Provider = (*provider.Client)(nil)
