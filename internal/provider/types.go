package provider

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Chat is the provider's view of a conversation.
type Chat struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	IsGroup      bool     `json:"is_group"`
	Participants []string `json:"participants"`
	PictureURL   string   `json:"picture_url"`
}

// Message is a provider message, already flattened to the fields the
// backend stores.
type Message struct {
	ID        string
	ChatID    string
	From      string
	Text      string
	MediaType string // image, video, audio, document, voice, ... as reported
	MediaURL  string
	MimeType  string
	QuotedID  string
	Mentions  []string
	Timestamp time.Time
	FromMe    bool
}

// SendResult is returned by the send operations.
type SendResult struct {
	MessageID string
	Timestamp time.Time
}

// wire formats

type wireChat struct {
	ID           string            `json:"id"`
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	ChatPic      string            `json:"chat_pic"`
	Participants []wireParticipant `json:"participants"`
}

type wireParticipant struct {
	ID   string `json:"id"`
	Rank string `json:"rank"`
}

func (w wireChat) toChat() Chat {
	c := Chat{
		ID:         w.ID,
		Name:       w.Name,
		IsGroup:    w.Type == "group" || strings.HasSuffix(w.ID, "@g.us"),
		PictureURL: w.ChatPic,
	}
	for _, p := range w.Participants {
		if p.ID != "" {
			c.Participants = append(c.Participants, p.ID)
		}
	}
	return c
}

type wireChatList struct {
	Chats  []wireChat `json:"chats"`
	Groups []wireChat `json:"groups"`
	Count  int        `json:"count"`
	Total  int        `json:"total"`
}

type wireMedia struct {
	ID       string `json:"id"`
	Link     string `json:"link"`
	MimeType string `json:"mime_type"`
	Caption  string `json:"caption"`
	Filename string `json:"filename"`
}

type wireMessage struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	ChatID    string          `json:"chat_id"`
	From      string          `json:"from"`
	FromMe    bool            `json:"from_me"`
	Timestamp json.RawMessage `json:"timestamp"`
	Text      *struct {
		Body string `json:"body"`
	} `json:"text"`
	Image    *wireMedia `json:"image"`
	Video    *wireMedia `json:"video"`
	Audio    *wireMedia `json:"audio"`
	Voice    *wireMedia `json:"voice"`
	Document *wireMedia `json:"document"`
	Gif      *wireMedia `json:"gif"`
	Context  *struct {
		QuotedID string   `json:"quoted_id"`
		Mentions []string `json:"mentions"`
	} `json:"context"`
}

func (w wireMessage) toMessage() Message {
	m := Message{
		ID:        w.ID,
		ChatID:    w.ChatID,
		From:      w.From,
		FromMe:    w.FromMe,
		MediaType: w.Type,
		Timestamp: parseTimestamp(w.Timestamp),
	}
	if w.Text != nil {
		m.Text = w.Text.Body
	}
	for _, media := range []*wireMedia{w.Image, w.Video, w.Audio, w.Voice, w.Document, w.Gif} {
		if media == nil {
			continue
		}
		m.MediaURL = media.Link
		m.MimeType = media.MimeType
		if m.Text == "" {
			m.Text = media.Caption
		}
		break
	}
	if w.Context != nil {
		m.QuotedID = w.Context.QuotedID
		m.Mentions = w.Context.Mentions
	}
	return m
}

type wireMessageList struct {
	Messages []wireMessage `json:"messages"`
	Count    int           `json:"count"`
	Total    int           `json:"total"`
}

type wireSent struct {
	Sent    bool        `json:"sent"`
	Message wireMessage `json:"message"`
}

// parseTimestamp accepts unix seconds (number or string) or RFC3339.
func parseTimestamp(raw json.RawMessage) time.Time {
	s := strings.Trim(strings.TrimSpace(string(raw)), `"`)
	if s == "" || s == "null" {
		return time.Time{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC()
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}
