package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/notify"
	"github.com/tbourn/go-wa-ocr-backend/internal/provider"
	"github.com/tbourn/go-wa-ocr-backend/internal/repo"
	"github.com/tbourn/go-wa-ocr-backend/internal/search"
)

// ---------- test helpers ----------

func newSvcDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:svc_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// one connection keeps the shared-cache database alive and serializes writers
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedChat(t *testing.T, db *gorm.DB, externalID string) *domain.Chat {
	t.Helper()
	c, _, err := repo.CreateChatOnce(context.Background(), db, &domain.Chat{ExternalID: externalID, Name: externalID})
	if err != nil {
		t.Fatalf("seed chat: %v", err)
	}
	return c
}

func seedMessage(t *testing.T, db *gorm.DB, chat *domain.Chat, externalID, mediaType, mediaURL string) *domain.Message {
	t.Helper()
	m, _, err := repo.CreateMessageOnce(context.Background(), db, &domain.Message{
		ExternalID: externalID,
		ChatID:     chat.ID,
		Sender:     "alice",
		MediaType:  mediaType,
		MediaURL:   mediaURL,
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}
	return m
}

// ---------- fakes ----------

type sentCall struct {
	ChatID, Text, MediaURL, MediaType, Caption, QuotedID string
}

type fakeProvider struct {
	mu sync.Mutex

	chats        map[string]provider.Chat
	chatErr      error
	getChatCalls int

	list     []provider.Chat
	groups   []provider.Chat
	listErr  error
	history  []provider.Message
	fetchErr error

	media     []byte
	mediaErr  error
	downloads int

	sent     []sentCall
	sendErr  error
	reacted  []string
	reactErr error
}

func newFakeProvider(chats ...provider.Chat) *fakeProvider {
	f := &fakeProvider{chats: map[string]provider.Chat{}, media: []byte("%PDF-1.4 fake")}
	for _, c := range chats {
		f.chats[c.ID] = c
	}
	return f
}

func (f *fakeProvider) GetChat(_ context.Context, id string) (*provider.Chat, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getChatCalls++
	if f.chatErr != nil {
		return nil, f.chatErr
	}
	c, ok := f.chats[id]
	if !ok {
		return nil, &provider.Error{Op: "get chat", Status: 404}
	}
	return &c, nil
}

func (f *fakeProvider) ListChats(context.Context) ([]provider.Chat, error) {
	return f.list, f.listErr
}

func (f *fakeProvider) ListGroups(context.Context) ([]provider.Chat, error) {
	return f.groups, f.listErr
}

func (f *fakeProvider) GetMessages(_ context.Context, _ string, limit int, _ *time.Time) ([]provider.Message, error) {
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	if limit < len(f.history) {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func (f *fakeProvider) SendText(_ context.Context, chatID, text, quotedID string) (*provider.SendResult, error) {
	return f.record(sentCall{ChatID: chatID, Text: text, QuotedID: quotedID})
}

func (f *fakeProvider) SendMedia(_ context.Context, chatID, mediaURL, caption, mediaType, quotedID string) (*provider.SendResult, error) {
	return f.record(sentCall{ChatID: chatID, MediaURL: mediaURL, Caption: caption, MediaType: mediaType, QuotedID: quotedID})
}

func (f *fakeProvider) record(c sentCall) (*provider.SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, c)
	return &provider.SendResult{
		MessageID: fmt.Sprintf("out-%d", len(f.sent)),
		Timestamp: time.Now().UTC(),
	}, nil
}

func (f *fakeProvider) React(_ context.Context, chatID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reactErr != nil {
		return f.reactErr
	}
	f.reacted = append(f.reacted, chatID+"/"+messageID+"/"+emoji)
	return nil
}

func (f *fakeProvider) DownloadMedia(context.Context, string) ([]byte, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.downloads++
	if f.mediaErr != nil {
		return nil, "", f.mediaErr
	}
	return f.media, "application/octet-stream", nil
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Broadcast(_ context.Context, topic string, ev notify.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.Topic = topic
	r.events = append(r.events, ev)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func (r *recorder) last() notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return notify.Event{}
	}
	return r.events[len(r.events)-1]
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

type fakeOCR struct {
	result   *domain.Transcription
	err      error
	calls    int
	lastMIME string
	before   func()
}

func (f *fakeOCR) Process(_ context.Context, _ []byte, mime string) (*domain.Transcription, error) {
	f.calls++
	f.lastMIME = mime
	if f.before != nil {
		f.before()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

type fakeIndex struct {
	added map[string]string
	inner *search.DocumentIndex
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{added: map[string]string{}, inner: search.New()}
}

func (f *fakeIndex) Add(id, text string) {
	f.added[id] = text
	f.inner.Add(id, text)
}

func (f *fakeIndex) TopK(q string, k int) []search.Result { return f.inner.TopK(q, k) }

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
