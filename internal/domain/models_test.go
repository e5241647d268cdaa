package domain

import (
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newDomainDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	// One connection so the PRAGMA below applies to every statement.
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(1)
	}
	db.Exec("PRAGMA foreign_keys=ON;")
	return db
}

func TestTableNames(t *testing.T) {
	cases := map[string]string{
		(Chat{}).TableName():         "chats",
		(Message{}).TableName():      "messages",
		(Document{}).TableName():     "documents",
		(Organization{}).TableName(): "organizations",
		(Idempotency{}).TableName():  "send_idempotency_keys",
	}
	for got, want := range cases {
		if got != want {
			t.Fatalf("TableName() = %q; want %q", got, want)
		}
	}
}

func TestMigrations_UniqueKeys_AndOrganizationSetNull(t *testing.T) {
	db := newDomainDB(t)

	if err := db.AutoMigrate(&Organization{}, &Chat{}, &Message{}, &Document{}, &Idempotency{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	m := db.Migrator()
	for _, idx := range []struct {
		model any
		name  string
	}{
		{&Chat{}, "ux_chat_external"},
		{&Message{}, "ux_message_external"},
		{&Message{}, "idx_chat_msgs"},
		{&Document{}, "ux_document_message"},
		{&Organization{}, "ux_org_name"},
		{&Idempotency{}, "ux_chat_key"},
	} {
		if !m.HasIndex(idx.model, idx.name) {
			t.Fatalf("expected index %s on %T", idx.name, idx.model)
		}
	}

	now := time.Now().UTC()
	org := &Organization{ID: "o1", Name: "Acme", CreatedAt: now, UpdatedAt: now}
	if err := db.Create(org).Error; err != nil {
		t.Fatalf("insert org: %v", err)
	}
	orgID := org.ID
	ch := &Chat{
		ID: "c1", ExternalID: "c1@s.whatsapp.net", Name: "Alice",
		Participants:   datatypes.JSONSlice[string]{"a", "b"},
		OrganizationID: &orgID, CreatedAt: now, UpdatedAt: now,
	}
	if err := db.Create(ch).Error; err != nil {
		t.Fatalf("insert chat: %v", err)
	}

	dup := &Chat{ID: "c2", ExternalID: "c1@s.whatsapp.net", CreatedAt: now, UpdatedAt: now}
	if err := db.Create(dup).Error; err == nil {
		t.Fatalf("expected unique violation on chats.external_id")
	}

	msg := &Message{ID: "m1", ExternalID: "wamid.1", ChatID: "c1", Sender: "a", MediaType: MediaImage, Timestamp: now}
	if err := db.Create(msg).Error; err != nil {
		t.Fatalf("insert message: %v", err)
	}
	bad := &Message{ID: "m2", ExternalID: "wamid.2", ChatID: "c1", Sender: "a", MediaType: "sticker", Timestamp: now}
	if err := db.Create(bad).Error; err == nil {
		t.Fatalf("expected media_type check constraint to reject %q", bad.MediaType)
	}

	doc := &Document{
		ID: "d1", MessageID: "m1", ChatID: "c1", SourceURL: "https://x/y.jpg",
		FileType: FileImage, MimeType: "image/jpeg", FileName: "image_wamid.1.jpg",
		Transcription: datatypes.NewJSONType(Transcription{Text: "hello"}),
		ProcessedAt:   now,
	}
	if err := db.Create(doc).Error; err != nil {
		t.Fatalf("insert document: %v", err)
	}
	again := *doc
	again.ID = "d2"
	if err := db.Create(&again).Error; err == nil {
		t.Fatalf("expected unique violation on documents.message_id")
	}

	var got Document
	if err := db.First(&got, "id = ?", "d1").Error; err != nil {
		t.Fatalf("load document: %v", err)
	}
	if got.Transcription.Data().Text != "hello" {
		t.Fatalf("transcription roundtrip lost text: %+v", got.Transcription.Data())
	}

	// SET NULL: deleting the organization detaches the chat.
	if err := db.Delete(&Organization{}, "id = ?", "o1").Error; err != nil {
		t.Fatalf("delete org: %v", err)
	}
	var reloaded Chat
	if err := db.First(&reloaded, "id = ?", "c1").Error; err != nil {
		t.Fatalf("reload chat: %v", err)
	}
	if reloaded.OrganizationID != nil {
		t.Fatalf("expected organization_id cleared, got %v", *reloaded.OrganizationID)
	}
	if len(reloaded.Participants) != 2 || reloaded.Participants[0] != "a" {
		t.Fatalf("participants order not preserved: %v", reloaded.Participants)
	}
}

func TestMessage_HasProcessableMedia(t *testing.T) {
	cases := []struct {
		name string
		m    *Message
		want bool
	}{
		{"nil", nil, false},
		{"none", &Message{MediaType: MediaNone, MediaURL: "https://x"}, false},
		{"image", &Message{MediaType: MediaImage, MediaURL: "https://x/y.jpg"}, true},
		{"document", &Message{MediaType: MediaDocument, MediaURL: "https://x/y.pdf"}, true},
		{"document without url", &Message{MediaType: MediaDocument}, false},
		{"video", &Message{MediaType: MediaVideo, MediaURL: "https://x/y.mp4"}, false},
	}
	for _, tc := range cases {
		if got := tc.m.HasProcessableMedia(); got != tc.want {
			t.Fatalf("%s: HasProcessableMedia() = %v; want %v", tc.name, got, tc.want)
		}
	}
}

func TestIdempotency_Live(t *testing.T) {
	exp := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	rec := Idempotency{ExpiresAt: exp}
	if !rec.Live(exp.Add(-time.Second)) {
		t.Fatalf("key must replay before expiry")
	}
	if rec.Live(exp) || rec.Live(exp.Add(time.Minute)) {
		t.Fatalf("key must not replay at or after expiry")
	}
}
