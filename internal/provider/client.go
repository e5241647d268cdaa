// Package provider is a REST client for the WhatsApp business messaging
// gateway. It lists chats and groups, reads message history, sends text,
// media and reactions, and downloads media binaries.
//
// Every call is traced through an otelhttp transport and throttled by a
// token bucket so bursts of webhook traffic cannot exceed the gateway quota.
// Failures are returned as *Error, which matches ErrProvider (and ErrNotFound
// for 404s) under errors.Is.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-wa-ocr-backend/internal/config"
)

const (
	maxErrorBody = 512
	pageSize     = 100
)

// Client talks to the messaging gateway.
type Client struct {
	baseURL  string
	token    string
	hc       *http.Client
	limiter  *rate.Limiter
	maxMedia int64
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Its transport is used
// as-is (no tracing wrapper is added).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// New builds a client from configuration.
func New(cfg config.ProviderConfig, opts ...Option) *Client {
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		hc: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		limiter:  rate.NewLimiter(limit, burst),
		maxMedia: cfg.MediaMaxBytes,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ListChats returns every chat known to the gateway, following pagination.
func (c *Client) ListChats(ctx context.Context) ([]Chat, error) {
	var out []Chat
	for offset := 0; ; offset += pageSize {
		q := url.Values{"count": {strconv.Itoa(pageSize)}, "offset": {strconv.Itoa(offset)}}
		var page wireChatList
		if err := c.doJSON(ctx, "ListChats", http.MethodGet, "/chats?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for _, w := range page.Chats {
			out = append(out, w.toChat())
		}
		if len(page.Chats) < pageSize || (page.Total > 0 && len(out) >= page.Total) {
			return out, nil
		}
	}
}

// ListGroups returns every group the account belongs to, with participants.
func (c *Client) ListGroups(ctx context.Context) ([]Chat, error) {
	var out []Chat
	for offset := 0; ; offset += pageSize {
		q := url.Values{"count": {strconv.Itoa(pageSize)}, "offset": {strconv.Itoa(offset)}}
		var page wireChatList
		if err := c.doJSON(ctx, "ListGroups", http.MethodGet, "/groups?"+q.Encode(), nil, &page); err != nil {
			return nil, err
		}
		for _, w := range page.Groups {
			w.Type = "group"
			out = append(out, w.toChat())
		}
		if len(page.Groups) < pageSize || (page.Total > 0 && len(out) >= page.Total) {
			return out, nil
		}
	}
}

// GetChat fetches one chat's metadata.
func (c *Client) GetChat(ctx context.Context, chatID string) (*Chat, error) {
	var w wireChat
	if err := c.doJSON(ctx, "GetChat", http.MethodGet, "/chats/"+url.PathEscape(chatID), nil, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		w.ID = chatID
	}
	ch := w.toChat()
	return &ch, nil
}

// GetMessages returns up to limit messages of a chat, newest first. When
// before is set only messages older than it are returned.
func (c *Client) GetMessages(ctx context.Context, chatID string, limit int, before *time.Time) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	q := url.Values{"count": {strconv.Itoa(limit)}}
	if before != nil && !before.IsZero() {
		q.Set("time_to", strconv.FormatInt(before.Unix(), 10))
	}
	var page wireMessageList
	path := "/messages/list/" + url.PathEscape(chatID) + "?" + q.Encode()
	if err := c.doJSON(ctx, "GetMessages", http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	out := make([]Message, 0, len(page.Messages))
	for _, w := range page.Messages {
		m := w.toMessage()
		if m.ChatID == "" {
			m.ChatID = chatID
		}
		out = append(out, m)
	}
	return out, nil
}

// SendText sends a text message, optionally quoting quotedID.
func (c *Client) SendText(ctx context.Context, chatID, text, quotedID string) (*SendResult, error) {
	body := map[string]any{"to": chatID, "body": text}
	if quotedID != "" {
		body["quoted"] = quotedID
	}
	return c.send(ctx, "SendText", "/messages/text", body)
}

// SendMedia sends media by URL. mediaType is one of image, video, audio or
// document.
func (c *Client) SendMedia(ctx context.Context, chatID, mediaURL, caption, mediaType, quotedID string) (*SendResult, error) {
	switch mediaType {
	case "image", "video", "audio", "document":
	default:
		return nil, &Error{Op: "SendMedia", Status: http.StatusBadRequest, Body: "unsupported media type " + strconv.Quote(mediaType)}
	}
	body := map[string]any{"to": chatID, "media": mediaURL}
	if caption != "" {
		body["caption"] = caption
	}
	if quotedID != "" {
		body["quoted"] = quotedID
	}
	return c.send(ctx, "SendMedia", "/messages/"+mediaType, body)
}

// React sets (or with an empty emoji, removes) a reaction on a message.
func (c *Client) React(ctx context.Context, chatID, messageID, emoji string) error {
	body := map[string]any{"emoji": emoji}
	path := "/messages/" + url.PathEscape(messageID) + "/reaction"
	if chatID != "" {
		path += "?" + url.Values{"chat_id": {chatID}}.Encode()
	}
	return c.doJSON(ctx, "React", http.MethodPut, path, body, nil)
}

// DownloadMedia fetches a media binary. Relative URLs are resolved against
// the gateway base URL. Bodies larger than the configured limit fail with
// ErrMediaTooLarge. The returned content type is the server's, if any.
func (c *Client) DownloadMedia(ctx context.Context, mediaURL string) ([]byte, string, error) {
	const op = "DownloadMedia"
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, "", &Error{Op: op, Err: err}
	}
	target := mediaURL
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(target, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", &Error{Op: op, Err: err}
	}
	if c.sameHost(target) {
		c.authorize(req)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, "", &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", errorFrom(op, resp)
	}
	if c.maxMedia > 0 && resp.ContentLength > c.maxMedia {
		return nil, "", &Error{Op: op, Status: resp.StatusCode, Err: ErrMediaTooLarge}
	}

	limit := c.maxMedia
	if limit <= 0 {
		limit = 1 << 62
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, "", &Error{Op: op, Status: resp.StatusCode, Err: err}
	}
	if int64(len(data)) > limit {
		return nil, "", &Error{Op: op, Status: resp.StatusCode, Err: ErrMediaTooLarge}
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (c *Client) send(ctx context.Context, op, path string, body any) (*SendResult, error) {
	var out wireSent
	if err := c.doJSON(ctx, op, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	if out.Message.ID == "" {
		return nil, &Error{Op: op, Status: http.StatusOK, Body: "response carried no message id"}
	}
	res := &SendResult{MessageID: out.Message.ID, Timestamp: parseTimestamp(out.Message.Timestamp)}
	if res.Timestamp.IsZero() {
		res.Timestamp = time.Now().UTC()
	}
	return res, nil
}

func (c *Client) doJSON(ctx context.Context, op, method, path string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &Error{Op: op, Err: err}
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("marshal request: %w", err)}
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.hc.Do(req)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errorFrom(op, resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) sameHost(target string) bool {
	base, err := url.Parse(c.baseURL)
	if err != nil {
		return false
	}
	u, err := url.Parse(target)
	if err != nil {
		return false
	}
	return strings.EqualFold(base.Host, u.Host)
}

func errorFrom(op string, resp *http.Response) *Error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &Error{Op: op, Status: resp.StatusCode, Body: strings.TrimSpace(string(b))}
}
