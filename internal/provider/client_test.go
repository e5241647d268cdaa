package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tbourn/go-wa-ocr-backend/internal/config"
)

func newTestClient(t *testing.T, h http.Handler, mutate ...func(*config.ProviderConfig)) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.ProviderConfig{
		BaseURL:       srv.URL + "/",
		Token:         "secret",
		Timeout:       5 * time.Second,
		RPS:           0,
		Burst:         1,
		MediaMaxBytes: 1 << 20,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return New(cfg, WithHTTPClient(srv.Client())), srv
}

func TestGetChat_DecodesAndAuthorizes(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/chats/120363@g.us" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprint(w, `{"id":"120363@g.us","name":"Ops","type":"group","chat_pic":"https://pic",
			"participants":[{"id":"111","rank":"admin"},{"id":"222","rank":"member"}]}`)
	}))

	chat, err := c.GetChat(context.Background(), "120363@g.us")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if !chat.IsGroup || chat.Name != "Ops" || chat.PictureURL != "https://pic" || len(chat.Participants) != 2 {
		t.Fatalf("unexpected chat %+v", chat)
	}
}

func TestGetChat_NotFoundMapsToSentinel(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"chat not found"}`, http.StatusNotFound)
	}))

	_, err := c.GetChat(context.Background(), "x")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, ErrProvider) {
		t.Fatalf("want ErrNotFound and ErrProvider, got %v", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Status != http.StatusNotFound || pe.Op != "GetChat" || !strings.Contains(pe.Body, "chat not found") {
		t.Fatalf("unexpected error detail %#v", pe)
	}
}

func TestServerErrorIsProviderNotNotFound(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	_, err := c.ListGroups(context.Background())
	if !errors.Is(err, ErrProvider) || errors.Is(err, ErrNotFound) {
		t.Fatalf("unexpected error classification: %v", err)
	}
}

func TestListChats_FollowsPagination(t *testing.T) {
	var calls int
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		offset := r.URL.Query().Get("offset")
		var chats []map[string]any
		switch offset {
		case "0":
			for i := 0; i < pageSize; i++ {
				chats = append(chats, map[string]any{"id": fmt.Sprintf("%d@s.whatsapp.net", i), "type": "contact"})
			}
		case fmt.Sprint(pageSize):
			chats = append(chats, map[string]any{"id": "last@g.us"})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"chats": chats})
	}))

	chats, err := c.ListChats(context.Background())
	if err != nil {
		t.Fatalf("ListChats: %v", err)
	}
	if len(chats) != pageSize+1 || calls != 2 {
		t.Fatalf("got %d chats in %d calls", len(chats), calls)
	}
	if !chats[pageSize].IsGroup {
		t.Fatalf("@g.us chat should be classified as group")
	}
}

func TestGetMessages_FlattensMedia(t *testing.T) {
	before := time.Unix(1700000000, 0)
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("time_to") != "1700000000" || r.URL.Query().Get("count") != "2" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		fmt.Fprint(w, `{"messages":[
			{"id":"m1","type":"text","chat_id":"c1","from":"111","timestamp":1699999990,"text":{"body":"hi"},
			 "context":{"quoted_id":"m0","mentions":["222"]}},
			{"id":"m2","type":"document","from":"111","from_me":true,"timestamp":"1699999999",
			 "document":{"link":"https://media/doc.pdf","mime_type":"application/pdf","caption":"invoice"}}
		]}`)
	}))

	msgs, err := c.GetMessages(context.Background(), "c1", 2, &before)
	if err != nil {
		t.Fatalf("GetMessages: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages", len(msgs))
	}
	if msgs[0].Text != "hi" || msgs[0].QuotedID != "m0" || len(msgs[0].Mentions) != 1 || msgs[0].Timestamp.Unix() != 1699999990 {
		t.Fatalf("text message = %+v", msgs[0])
	}
	d := msgs[1]
	if d.ChatID != "c1" || d.MediaType != "document" || d.MediaURL != "https://media/doc.pdf" || d.Text != "invoice" || !d.FromMe {
		t.Fatalf("document message = %+v", d)
	}
}

func TestSendText_AndMedia(t *testing.T) {
	var bodies []map[string]any
	var paths []string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var b map[string]any
		_ = json.NewDecoder(r.Body).Decode(&b)
		bodies = append(bodies, b)
		paths = append(paths, r.URL.Path)
		fmt.Fprint(w, `{"sent":true,"message":{"id":"out-1","timestamp":1700000000}}`)
	}))

	res, err := c.SendText(context.Background(), "c1", "hello", "q1")
	if err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if res.MessageID != "out-1" || res.Timestamp.Unix() != 1700000000 {
		t.Fatalf("result = %+v", res)
	}
	if _, err := c.SendMedia(context.Background(), "c1", "https://x/img.jpg", "cap", "image", ""); err != nil {
		t.Fatalf("SendMedia: %v", err)
	}
	if paths[0] != "/messages/text" || paths[1] != "/messages/image" {
		t.Fatalf("paths = %v", paths)
	}
	if bodies[0]["quoted"] != "q1" || bodies[1]["media"] != "https://x/img.jpg" || bodies[1]["caption"] != "cap" {
		t.Fatalf("bodies = %v", bodies)
	}

	if _, err := c.SendMedia(context.Background(), "c1", "u", "", "sticker", ""); !errors.Is(err, ErrProvider) {
		t.Fatalf("unsupported media type: want ErrProvider, got %v", err)
	}
}

func TestReact(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut || r.URL.Path != "/messages/m1/reaction" {
			t.Errorf("%s %s", r.Method, r.URL.Path)
		}
		b, _ := io.ReadAll(r.Body)
		if !strings.Contains(string(b), `"emoji":"👍"`) {
			t.Errorf("body = %s", b)
		}
		fmt.Fprint(w, `{"success":true}`)
	}))
	if err := c.React(context.Background(), "c1", "m1", "👍"); err != nil {
		t.Fatalf("React: %v", err)
	}
}

func TestDownloadMedia(t *testing.T) {
	payload := []byte("%PDF-1.4 tiny")
	c, srv := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media/ok":
			if r.Header.Get("Authorization") == "" {
				t.Errorf("same-host download should be authorized")
			}
			w.Header().Set("Content-Type", "application/pdf")
			_, _ = w.Write(payload)
		case "/media/big":
			_, _ = w.Write(make([]byte, 2048))
		default:
			http.NotFound(w, r)
		}
	}), func(cfg *config.ProviderConfig) { cfg.MediaMaxBytes = 1024 })

	data, ct, err := c.DownloadMedia(context.Background(), srv.URL+"/media/ok")
	if err != nil || string(data) != string(payload) || ct != "application/pdf" {
		t.Fatalf("download = %q, %q, %v", data, ct, err)
	}

	if _, _, err := c.DownloadMedia(context.Background(), "/media/ok"); err != nil {
		t.Fatalf("relative url: %v", err)
	}

	_, _, err = c.DownloadMedia(context.Background(), srv.URL+"/media/big")
	if !errors.Is(err, ErrMediaTooLarge) || !errors.Is(err, ErrProvider) {
		t.Fatalf("oversized: want ErrMediaTooLarge, got %v", err)
	}

	_, _, err = c.DownloadMedia(context.Background(), srv.URL+"/media/missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing: want ErrNotFound, got %v", err)
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"c"}`)
	}), func(cfg *config.ProviderConfig) { cfg.RPS = 0.001; cfg.Burst = 1 })

	if _, err := c.GetChat(context.Background(), "c"); err != nil {
		t.Fatalf("first call uses the burst token: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.GetChat(ctx, "c"); !errors.Is(err, ErrProvider) {
		t.Fatalf("throttled call should fail with a provider error, got %v", err)
	}
}
