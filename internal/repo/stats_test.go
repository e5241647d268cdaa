package repo

import (
	"context"
	"testing"
	"time"
)

func TestChatsStats(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	n, latest, err := ChatsStats(ctx, db, ChatFilter{})
	if err != nil || n != 0 || latest != nil {
		t.Fatalf("empty stats = %d, %v, %v", n, latest, err)
	}

	seedChat(t, db, "a@s.whatsapp.net")
	c := seedChat(t, db, "b@s.whatsapp.net")

	n, latest, err = ChatsStats(ctx, db, ChatFilter{})
	if err != nil || n != 2 || latest == nil {
		t.Fatalf("stats = %d, %v, %v", n, latest, err)
	}
	if latest.Before(c.UpdatedAt.Add(-time.Second)) {
		t.Fatalf("latest updated_at %v older than latest chat %v", latest, c.UpdatedAt)
	}

	n, _, err = ChatsStats(ctx, db, ChatFilter{OrganizationID: "none"})
	if err != nil || n != 0 {
		t.Fatalf("filtered stats = %d, %v", n, err)
	}
}

func TestTableCounts(t *testing.T) {
	db := newRepoDB(t)
	ctx := context.Background()

	c := seedChat(t, db, "a@s.whatsapp.net")
	m := seedMessage(t, db, c.ID, "m1", time.Now())
	seedMessage(t, db, c.ID, "m2", time.Now())
	if _, _, err := CreateDocumentOnce(ctx, db, newDoc(c.ID, m.ID, "x")); err != nil {
		t.Fatalf("doc: %v", err)
	}
	if _, err := CreateOrganization(ctx, db, "Acme", ""); err != nil {
		t.Fatalf("org: %v", err)
	}

	got, err := TableCounts(ctx, db)
	if err != nil {
		t.Fatalf("TableCounts: %v", err)
	}
	want := Counts{Organizations: 1, Chats: 1, Messages: 2, Documents: 1}
	if got != want {
		t.Fatalf("counts = %+v; want %+v", got, want)
	}
}
