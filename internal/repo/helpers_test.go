package repo

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
)

// newRepoDB opens a migrated, per-test in-memory database. A single
// connection keeps the shared-cache database alive and the FK pragma applied.
func newRepoDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
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
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func seedChat(t *testing.T, db *gorm.DB, externalID string) *domain.Chat {
	t.Helper()
	c, _, err := CreateChatOnce(context.Background(), db, &domain.Chat{ExternalID: externalID, Name: externalID})
	if err != nil {
		t.Fatalf("seed chat %s: %v", externalID, err)
	}
	return c
}

func seedMessage(t *testing.T, db *gorm.DB, chatID, externalID string, ts time.Time) *domain.Message {
	t.Helper()
	m, _, err := CreateMessageOnce(context.Background(), db, &domain.Message{
		ExternalID: externalID, ChatID: chatID, Sender: "alice", Text: "hi " + externalID, Timestamp: ts,
	})
	if err != nil {
		t.Fatalf("seed message %s: %v", externalID, err)
	}
	return m
}
