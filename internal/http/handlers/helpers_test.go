package handlers

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/provider"
	"github.com/tbourn/go-wa-ocr-backend/internal/repo"
	"github.com/tbourn/go-wa-ocr-backend/internal/services"
)

// ---------- test DB ----------

func newHandlerDB(t *testing.T) *gorm.DB {
	t.Helper()

	// Unique DSN per call to avoid cross-test contamination
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("db.DB(): %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys=ON;")
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// do performs a request against r and returns the recorder.
func do(r http.Handler, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ---------- provider stand-in for real services ----------

type stubGateway struct {
	chats map[string]provider.Chat
	err   error
}

func (g stubGateway) GetChat(_ context.Context, id string) (*provider.Chat, error) {
	if g.err != nil {
		return nil, g.err
	}
	c, ok := g.chats[id]
	if !ok {
		return nil, &provider.Error{Op: "get chat", Status: http.StatusNotFound}
	}
	return &c, nil
}

func (g stubGateway) ListChats(context.Context) ([]provider.Chat, error) {
	if g.err != nil {
		return nil, g.err
	}
	out := make([]provider.Chat, 0, len(g.chats))
	for _, c := range g.chats {
		out = append(out, c)
	}
	return out, nil
}

func (g stubGateway) ListGroups(context.Context) ([]provider.Chat, error) { return nil, g.err }

// ---------- func-field service stubs ----------

type stubChatSvc struct {
	listPage func(context.Context, repo.ChatFilter, int, int) ([]domain.Chat, int64, error)
	stats    func(context.Context, repo.ChatFilter) (int64, *time.Time, error)
	lookup   func(context.Context, string) (*domain.Chat, bool, error)
	assign   func(context.Context, string, *string) (*domain.Chat, error)
	sync     func(context.Context) (services.SyncResult, error)
}

func (s stubChatSvc) ListPage(ctx context.Context, f repo.ChatFilter, p, ps int) ([]domain.Chat, int64, error) {
	if s.listPage != nil {
		return s.listPage(ctx, f, p, ps)
	}
	return []domain.Chat{}, 0, nil
}

func (s stubChatSvc) Stats(ctx context.Context, f repo.ChatFilter) (int64, *time.Time, error) {
	if s.stats != nil {
		return s.stats(ctx, f)
	}
	return 0, nil, nil
}

func (s stubChatSvc) Lookup(ctx context.Context, ref string) (*domain.Chat, bool, error) {
	if s.lookup != nil {
		return s.lookup(ctx, ref)
	}
	return &domain.Chat{ExternalID: ref}, false, nil
}

func (s stubChatSvc) AssignOrganization(ctx context.Context, ref string, orgID *string) (*domain.Chat, error) {
	if s.assign != nil {
		return s.assign(ctx, ref, orgID)
	}
	return &domain.Chat{ExternalID: ref, OrganizationID: orgID}, nil
}

func (s stubChatSvc) Sync(ctx context.Context) (services.SyncResult, error) {
	if s.sync != nil {
		return s.sync(ctx)
	}
	return services.SyncResult{}, nil
}

type stubMsgSvc struct {
	listPage func(context.Context, string, int, int) ([]domain.Message, int64, error)
	send     func(context.Context, string, services.SendInput, string) (*domain.Message, bool, error)
	react    func(context.Context, string, string, string) (*domain.Message, error)
	fetch    func(context.Context, string, int, *time.Time) (services.FetchResult, error)
}

func (s stubMsgSvc) ListPage(ctx context.Context, ref string, p, ps int) ([]domain.Message, int64, error) {
	if s.listPage != nil {
		return s.listPage(ctx, ref, p, ps)
	}
	return []domain.Message{}, 0, nil
}

func (s stubMsgSvc) Send(ctx context.Context, ref string, in services.SendInput, key string) (*domain.Message, bool, error) {
	if s.send != nil {
		return s.send(ctx, ref, in, key)
	}
	return &domain.Message{ID: "m1", Text: in.Text}, false, nil
}

func (s stubMsgSvc) React(ctx context.Context, ref, msgID, emoji string) (*domain.Message, error) {
	if s.react != nil {
		return s.react(ctx, ref, msgID, emoji)
	}
	return &domain.Message{ID: msgID}, nil
}

func (s stubMsgSvc) FetchHistory(ctx context.Context, ref string, limit int, before *time.Time) (services.FetchResult, error) {
	if s.fetch != nil {
		return s.fetch(ctx, ref, limit, before)
	}
	return services.FetchResult{}, nil
}

type stubDocSvc struct {
	listPage func(context.Context, string, int, int) ([]domain.Document, int64, error)
	search   func(context.Context, string, int) ([]services.SearchHit, error)
	get      func(context.Context, string) (*domain.Document, error)
	trigger  func(context.Context, string, bool) (*domain.Document, error)
}

func (s stubDocSvc) ListPage(ctx context.Context, ref string, p, ps int) ([]domain.Document, int64, error) {
	if s.listPage != nil {
		return s.listPage(ctx, ref, p, ps)
	}
	return []domain.Document{}, 0, nil
}

func (s stubDocSvc) Search(ctx context.Context, q string, k int) ([]services.SearchHit, error) {
	if s.search != nil {
		return s.search(ctx, q, k)
	}
	return []services.SearchHit{}, nil
}

func (s stubDocSvc) Get(ctx context.Context, id string) (*domain.Document, error) {
	if s.get != nil {
		return s.get(ctx, id)
	}
	return nil, services.ErrDocumentNotFound
}

func (s stubDocSvc) GetByMessage(ctx context.Context, messageID string) (*domain.Document, error) {
	if s.get != nil {
		return s.get(ctx, messageID)
	}
	return nil, services.ErrDocumentNotFound
}

func (s stubDocSvc) Trigger(ctx context.Context, messageID string, wait bool) (*domain.Document, error) {
	if s.trigger != nil {
		return s.trigger(ctx, messageID, wait)
	}
	return nil, nil
}

type stubSysSvc struct {
	info *services.SystemInfo
	err  error
}

func (s stubSysSvc) Info(context.Context) (*services.SystemInfo, error) { return s.info, s.err }
