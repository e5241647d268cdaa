package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/http/middleware"
	"github.com/tbourn/go-wa-ocr-backend/internal/provider"
	"github.com/tbourn/go-wa-ocr-backend/internal/services"
)

func Test_sanitizeText_and_parseBefore(t *testing.T) {
	if got := sanitizeText("  a\r\nb\r\n\r\n\r\n\r\nc  "); got != "a\nb\n\nc" {
		t.Fatalf("sanitizeText = %q", got)
	}
	if got := sanitizeText(" \r\n "); got != "" {
		t.Fatalf("blank sanitize = %q", got)
	}

	if ts, ok := parseBefore(""); !ok || ts != nil {
		t.Fatalf("empty before: %v %v", ts, ok)
	}
	ts, ok := parseBefore("2024-05-01T10:00:00+02:00")
	if !ok || ts == nil || !ts.Equal(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)) {
		t.Fatalf("rfc3339 before: %v %v", ts, ok)
	}
	ts, ok = parseBefore("1714550400")
	if !ok || ts == nil || ts.Unix() != 1714550400 {
		t.Fatalf("unix before: %v %v", ts, ok)
	}
	if _, ok := parseBefore("yesterday"); ok {
		t.Fatalf("garbage before accepted")
	}
}

// ---------- SendMessage ----------

func sendRouter(svc MessageService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{}, nil))
	r.POST("/chats/:chatId/messages", New(Deps{Messages: svc}).SendMessage)
	return r
}

func TestSendMessage_Created_Replayed_And_Input(t *testing.T) {
	var gotRef, gotKey string
	var gotIn services.SendInput
	svc := stubMsgSvc{
		send: func(_ context.Context, ref string, in services.SendInput, key string) (*domain.Message, bool, error) {
			gotRef, gotIn, gotKey = ref, in, key
			return &domain.Message{ID: "m1", Text: in.Text, FromMe: true}, key == "replay-key", nil
		},
	}
	r := sendRouter(svc)

	w := do(r, http.MethodPost, "/chats/c1@s.whatsapp.net/messages", `{"text":"  hi\r\n\r\n\r\nthere  ","quoted_id":"q1"}`,
		middleware.HeaderIdempotencyKey, "first-key")
	if w.Code != http.StatusCreated {
		t.Fatalf("send -> %d body=%s", w.Code, w.Body.String())
	}
	if gotRef != "c1@s.whatsapp.net" || gotKey != "first-key" {
		t.Fatalf("ref=%q key=%q", gotRef, gotKey)
	}
	if gotIn.Text != "hi\n\nthere" || gotIn.QuotedID != "q1" {
		t.Fatalf("input not normalized: %#v", gotIn)
	}
	if w.Header().Get("Idempotency-Replayed") != "" {
		t.Fatalf("fresh send must not be marked replayed")
	}
	var out MessageResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil || out.Message == nil || out.Message.ID != "m1" {
		t.Fatalf("body: %s err=%v", w.Body.String(), err)
	}

	w = do(r, http.MethodPost, "/chats/c1@s.whatsapp.net/messages", `{"text":"hi"}`,
		middleware.HeaderIdempotencyKey, "replay-key")
	if w.Code != http.StatusOK {
		t.Fatalf("replay -> %d", w.Code)
	}
	if w.Header().Get("Idempotency-Replayed") != "true" {
		t.Fatalf("missing replay header")
	}

	// no key -> service sees ""
	w = do(r, http.MethodPost, "/chats/c1@s.whatsapp.net/messages", `{"media_url":"https://x/y.pdf","media_type":"document"}`)
	if w.Code != http.StatusCreated || gotKey != "" || gotIn.MediaURL != "https://x/y.pdf" {
		t.Fatalf("media send -> %d key=%q in=%#v", w.Code, gotKey, gotIn)
	}

	// malformed key rejected by middleware
	w = do(r, http.MethodPost, "/chats/c1@s.whatsapp.net/messages", `{"text":"hi"}`,
		middleware.HeaderIdempotencyKey, "bad key!")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad key -> %d", w.Code)
	}
}

func TestSendMessage_ErrorMappings(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		ec   string
	}{
		{"empty", services.ErrEmptyMessage, http.StatusBadRequest, ErrCodeBadRequest},
		{"too long", services.ErrMessageTooLong, http.StatusBadRequest, ErrCodeBadRequest},
		{"media type", services.ErrInvalidMediaType, http.StatusBadRequest, ErrCodeBadRequest},
		{"chat", services.ErrChatNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"provider", &provider.Error{Op: "send text", Status: 500}, http.StatusBadGateway, ErrCodeUpstreamFailed},
		{"other", errors.New("db down"), http.StatusInternalServerError, ErrCodeSendFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := sendRouter(stubMsgSvc{
				send: func(context.Context, string, services.SendInput, string) (*domain.Message, bool, error) {
					return nil, false, tc.err
				},
			})
			w := do(r, http.MethodPost, "/chats/c1/messages", `{"text":"x"}`)
			if w.Code != tc.code {
				t.Fatalf("status = %d want %d", w.Code, tc.code)
			}
			var er ErrorResponse
			_ = json.Unmarshal(w.Body.Bytes(), &er)
			if er.Code != tc.ec {
				t.Fatalf("code = %q want %q", er.Code, tc.ec)
			}
		})
	}

	// bad JSON never reaches the service
	called := false
	r := sendRouter(stubMsgSvc{
		send: func(context.Context, string, services.SendInput, string) (*domain.Message, bool, error) {
			called = true
			return nil, false, nil
		},
	})
	if w := do(r, http.MethodPost, "/chats/c1/messages", "{bad"); w.Code != http.StatusBadRequest || called {
		t.Fatalf("bad json -> %d called=%v", w.Code, called)
	}
}

// ---------- ListMessages ----------

func TestListMessages_Success_And_NotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := stubMsgSvc{
		listPage: func(_ context.Context, ref string, p, ps int) ([]domain.Message, int64, error) {
			if ref != "c1" {
				return nil, 0, services.ErrChatNotFound
			}
			return []domain.Message{{ID: "m1"}, {ID: "m2"}}, 5, nil
		},
	}
	r := gin.New()
	r.GET("/chats/:chatId/messages", New(Deps{Messages: svc}).ListMessages)

	w := do(r, http.MethodGet, "/chats/c1/messages?page=2&page_size=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list -> %d", w.Code)
	}
	var out ListMessagesResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("json: %v", err)
	}
	if len(out.Messages) != 2 || out.Pagination.Page != 2 || out.Pagination.TotalPages != 3 || !out.Pagination.HasNext {
		t.Fatalf("unexpected: %#v", out)
	}

	if w := do(r, http.MethodGet, "/chats/nope/messages", ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown chat -> %d", w.Code)
	}
}

// ---------- FetchMessages ----------

func TestFetchMessages_Validation_And_Success(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var gotLimit int
	var gotBefore *time.Time
	svc := stubMsgSvc{
		fetch: func(_ context.Context, _ string, limit int, before *time.Time) (services.FetchResult, error) {
			gotLimit, gotBefore = limit, before
			return services.FetchResult{Fetched: 4, Stored: 3}, nil
		},
	}
	r := gin.New()
	r.POST("/chats/:chatId/messages/fetch", New(Deps{Messages: svc}).FetchMessages)

	for _, q := range []string{"limit=0", "limit=501", "before=soon"} {
		if w := do(r, http.MethodPost, "/chats/c1/messages/fetch?"+q, ""); w.Code != http.StatusBadRequest {
			t.Fatalf("%s -> %d", q, w.Code)
		}
	}

	w := do(r, http.MethodPost, "/chats/c1/messages/fetch", "")
	if w.Code != http.StatusOK || gotLimit != 50 || gotBefore != nil {
		t.Fatalf("defaults -> %d limit=%d before=%v", w.Code, gotLimit, gotBefore)
	}
	var res services.FetchResult
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Fetched != 4 || res.Stored != 3 {
		t.Fatalf("result: %#v", res)
	}

	w = do(r, http.MethodPost, "/chats/c1/messages/fetch?limit=10&before=1714550400", "")
	if w.Code != http.StatusOK || gotLimit != 10 || gotBefore == nil || gotBefore.Unix() != 1714550400 {
		t.Fatalf("explicit -> %d limit=%d before=%v", w.Code, gotLimit, gotBefore)
	}
}

// ---------- ReactToMessage ----------

func TestReactToMessage_Success_And_Errors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var gotEmoji string
	svc := stubMsgSvc{
		react: func(_ context.Context, _ string, msgID, emoji string) (*domain.Message, error) {
			if msgID == "missing" {
				return nil, services.ErrMessageNotFound
			}
			gotEmoji = emoji
			return &domain.Message{ID: msgID, Reactions: []domain.Reaction{{Actor: "me", Emoji: emoji}}}, nil
		},
	}
	r := gin.New()
	r.POST("/chats/:chatId/messages/:messageId/reactions", New(Deps{Messages: svc}).ReactToMessage)

	w := do(r, http.MethodPost, "/chats/c1/messages/m1/reactions", `{"emoji":" 👍 "}`)
	if w.Code != http.StatusOK || gotEmoji != "👍" {
		t.Fatalf("react -> %d emoji=%q", w.Code, gotEmoji)
	}
	if w := do(r, http.MethodPost, "/chats/c1/messages/missing/reactions", `{"emoji":"x"}`); w.Code != http.StatusNotFound {
		t.Fatalf("missing -> %d", w.Code)
	}
	if w := do(r, http.MethodPost, "/chats/c1/messages/m1/reactions", "{bad"); w.Code != http.StatusBadRequest {
		t.Fatalf("bad json -> %d", w.Code)
	}
}
