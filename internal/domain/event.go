package domain

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Inbound event kinds delivered by the provider webhook.
const (
	EventMessage  = "message"
	EventReaction = "reaction"
)

// InboundEvent is one event delivered by the provider webhook.
type InboundEvent struct {
	Event string      `json:"event"`
	Data  InboundData `json:"data"`
}

// InboundData carries the fields of a message or reaction event. Only the
// fields relevant to Event are populated by the provider.
type InboundData struct {
	ID              string   `json:"id"`
	ChatID          string   `json:"chatId"`
	From            string   `json:"from"`
	Text            string   `json:"text"`
	MediaType       string   `json:"mediaType"`
	MediaURL        string   `json:"mediaUrl"`
	QuotedMessageID string   `json:"quotedMessageId"`
	Mentions        []string `json:"mentions"`
	Timestamp       FlexTime `json:"timestamp"`
	FromMe          bool     `json:"fromMe"`

	// reaction events
	MessageID string `json:"messageId"`
	Emoji     string `json:"emoji"`
}

// WebhookPayload accepts either a single event or a batch under "events".
type WebhookPayload struct {
	InboundEvent
	Events []InboundEvent `json:"events"`
}

// All returns the events contained in the payload.
func (p WebhookPayload) All() []InboundEvent {
	if len(p.Events) > 0 {
		return p.Events
	}
	if p.Event == "" {
		return nil
	}
	return []InboundEvent{p.InboundEvent}
}

// FlexTime decodes unix seconds, unix milliseconds, numeric strings, or
// RFC3339 strings. A missing or null value leaves it zero. A value in any
// other shape also leaves it zero and is kept in Invalid, so one bad
// timestamp never rejects the rest of a webhook batch.
type FlexTime struct {
	time.Time
	Invalid string
}

// UnmarshalJSON implements json.Unmarshaler. It never fails.
func (f *FlexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	f.Time, f.Invalid = time.Time{}, ""
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	t, ok := parseFlexTime(b)
	if !ok {
		f.Invalid = string(b)
		return nil
	}
	f.Time = t
	return nil
}

func parseFlexTime(b []byte) (time.Time, bool) {
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return time.Time{}, false
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return time.Time{}, true
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return fromUnix(n), true
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return time.Time{}, false
	}
	if i, err := n.Int64(); err == nil {
		return fromUnix(i), true
	}
	fl, err := n.Float64()
	if err != nil {
		return time.Time{}, false
	}
	return fromUnix(int64(fl)), true
}

// MarshalJSON writes unix seconds, or null when unset.
func (f FlexTime) MarshalJSON() ([]byte, error) {
	if f.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(f.Unix(), 10)), nil
}

func fromUnix(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n).UTC()
	}
	return time.Unix(n, 0).UTC()
}

// NormalizeMediaType maps provider media kinds onto the stored set.
// Unknown or empty kinds become MediaNone.
func NormalizeMediaType(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case MediaImage:
		return MediaImage
	case MediaVideo, "gif":
		return MediaVideo
	case MediaAudio, "voice", "ptt":
		return MediaAudio
	case MediaDocument:
		return MediaDocument
	default:
		return MediaNone
	}
}
