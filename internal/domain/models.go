// Package domain defines the persistence models for WhatsApp chats, their
// messages, OCR documents derived from message media, and the organizations
// chats are grouped into. These types are mapped with GORM and shared by the
// repository, service and HTTP layers.
package domain

import (
	"time"

	"gorm.io/datatypes"
)

// Media classifications carried by a Message.
const (
	MediaNone     = "none"
	MediaImage    = "image"
	MediaVideo    = "video"
	MediaAudio    = "audio"
	MediaDocument = "document"
)

// File classifications carried by a Document.
const (
	FileImage = "image"
	FilePDF   = "pdf"
	FileDoc   = "doc"
	FileOther = "other"
)

// UnknownSender is stored when an inbound event does not name its author.
const UnknownSender = "unknown"

// Organization is a user-defined grouping of chats.
type Organization struct {
	ID          string    `json:"id"          gorm:"type:char(36);primaryKey"`
	Name        string    `json:"name"        gorm:"type:varchar(255);not null;uniqueIndex:ux_org_name"`
	Description string    `json:"description" gorm:"type:text"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// TableName returns the database table name for Organization.
func (Organization) TableName() string { return "organizations" }

// Chat represents one WhatsApp conversation, either with a single contact or
// a group. Rows are keyed by the provider-assigned ExternalID and are created
// lazily the first time the conversation is referenced.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - ExternalID: provider chat id (e.g. "c1@s.whatsapp.net"); unique.
//   - Participants: ordered member ids (groups only).
//   - OrganizationID: optional grouping; cleared when the organization is deleted.
//   - LastMessageID: internal id of the most recently ingested message.
type Chat struct {
	ID             string                      `json:"id"               gorm:"type:char(36);primaryKey"`
	ExternalID     string                      `json:"external_id"      gorm:"type:varchar(128);not null;uniqueIndex:ux_chat_external"`
	Name           string                      `json:"name"             gorm:"type:varchar(255)"`
	IsGroup        bool                        `json:"is_group"         gorm:"not null;default:false"`
	Participants   datatypes.JSONSlice[string] `json:"participants"`
	PictureURL     string                      `json:"picture_url"      gorm:"type:text"`
	OrganizationID *string                     `json:"organization_id"  gorm:"type:char(36);index"`
	LastMessageID  *string                     `json:"last_message_id"  gorm:"type:char(36)"`
	CreatedAt      time.Time                   `json:"created_at"`
	UpdatedAt      time.Time                   `json:"updated_at"`

	// Organization is cleared (set NULL) when the organization row goes away.
	Organization *Organization `json:"-" gorm:"foreignKey:OrganizationID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for Chat.
func (Chat) TableName() string { return "chats" }

// Reaction is a single (actor, emoji) pair on a message.
type Reaction struct {
	Actor string `json:"actor"`
	Emoji string `json:"emoji"`
}

// Message is one inbound or outbound chat message. ExternalID is unique, so a
// provider message is stored at most once regardless of redeliveries.
type Message struct {
	ID         string                        `json:"id"          gorm:"type:char(36);primaryKey"`
	ExternalID string                        `json:"external_id" gorm:"type:varchar(128);not null;uniqueIndex:ux_message_external"`
	ChatID     string                        `json:"chat_id"     gorm:"type:char(36);not null;index:idx_chat_msgs,priority:1"`
	Sender     string                        `json:"sender"      gorm:"type:varchar(128);not null;default:'unknown'"`
	Text       string                        `json:"text"        gorm:"type:text"`
	MediaType  string                        `json:"media_type"  gorm:"type:varchar(16);not null;default:'none';check:media_type IN ('none','image','video','audio','document')"`
	MediaURL   string                        `json:"media_url"   gorm:"type:text"`
	QuotedID   *string                       `json:"quoted_id"   gorm:"type:varchar(128)"`
	Mentions   datatypes.JSONSlice[string]   `json:"mentions"`
	Reactions  datatypes.JSONSlice[Reaction] `json:"reactions"`
	FromMe     bool                          `json:"from_me"     gorm:"not null;default:false"`
	Timestamp  time.Time                     `json:"timestamp"   gorm:"not null;index:idx_chat_msgs,priority:2"`
	CreatedAt  time.Time                     `json:"created_at"`
	UpdatedAt  time.Time                     `json:"updated_at"`

	// Chat is the owning conversation.
	Chat Chat `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// HasProcessableMedia reports whether the message carries media that the
// document pipeline accepts (images and documents).
func (m *Message) HasProcessableMedia() bool {
	return m != nil && (m.MediaType == MediaImage || m.MediaType == MediaDocument) && m.MediaURL != ""
}

// Document is the OCR result for exactly one message's media. MessageID is
// unique: the store refuses a second document for the same message.
type Document struct {
	ID            string                            `json:"id"             gorm:"type:char(36);primaryKey"`
	MessageID     string                            `json:"message_id"     gorm:"type:char(36);not null;uniqueIndex:ux_document_message"`
	ChatID        string                            `json:"chat_id"        gorm:"type:char(36);not null;index"`
	SourceURL     string                            `json:"source_url"     gorm:"type:text;not null"`
	FileType      string                            `json:"file_type"      gorm:"type:varchar(16);not null;check:file_type IN ('image','pdf','doc','other')"`
	MimeType      string                            `json:"mime_type"      gorm:"type:varchar(128);not null"`
	FileName      string                            `json:"file_name"      gorm:"type:varchar(255);not null"`
	Transcription datatypes.JSONType[Transcription] `json:"transcription"`
	ExtractedText string                            `json:"extracted_text" gorm:"type:text"`
	ProcessedAt   time.Time                         `json:"processed_at"`
	CreatedAt     time.Time                         `json:"created_at"`

	Message Message `json:"-" gorm:"foreignKey:MessageID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Chat    Chat    `json:"-" gorm:"foreignKey:ChatID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Document.
func (Document) TableName() string { return "documents" }
