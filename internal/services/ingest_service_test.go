package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/notify"
	"github.com/tbourn/go-wa-ocr-backend/internal/provider"
	"github.com/tbourn/go-wa-ocr-backend/internal/repo"
	"github.com/tbourn/go-wa-ocr-backend/internal/worker"
)

type ingestRig struct {
	db     *gorm.DB
	prov   *fakeProvider
	events *recorder
	ocr    *fakeOCR
	index  *fakeIndex
	svc    *IngestService
}

func newIngestRig(t *testing.T) *ingestRig {
	t.Helper()
	db := newSvcDB(t)
	prov := newFakeProvider(provider.Chat{ID: "c1@s.whatsapp.net", Name: "Alice"})
	events := &recorder{}
	engine := &fakeOCR{result: &domain.Transcription{Text: "Invoice 42\n\nTotal due 99"}}
	idx := newFakeIndex()
	docs := &DocumentService{DB: db, Media: prov, OCR: engine, Engine: "fake", Notifier: events, Index: idx}
	return &ingestRig{
		db:     db,
		prov:   prov,
		events: events,
		ocr:    engine,
		index:  idx,
		svc: &IngestService{
			DB:        db,
			Chats:     NewChatResolver(db, prov, events),
			Notifier:  events,
			Executor:  worker.Inline{},
			Documents: docs,
		},
	}
}

func messageEvent(id, chatID string, mutate ...func(*domain.InboundData)) domain.InboundEvent {
	ev := domain.InboundEvent{
		Event: domain.EventMessage,
		Data:  domain.InboundData{ID: id, ChatID: chatID, From: "alice", Text: "hello", MediaType: "none"},
	}
	for _, m := range mutate {
		m(&ev.Data)
	}
	return ev
}

func TestIngest_CreatesChatOnceAndNotifies(t *testing.T) {
	rig := newIngestRig(t)
	ctx := context.Background()

	if err := rig.svc.Ingest(ctx, messageEvent("m1", "c1@s.whatsapp.net")); err != nil {
		t.Fatalf("ingest m1: %v", err)
	}
	if got := rig.events.types(); !equalStrings(got, []string{notify.EventNewChat, notify.EventNewMessage}) {
		t.Fatalf("events = %v", got)
	}
	chat, err := repo.GetChatByExternalID(ctx, rig.db, "c1@s.whatsapp.net")
	if err != nil {
		t.Fatalf("chat not stored: %v", err)
	}
	if chat.Name != "Alice" {
		t.Fatalf("chat name = %q; want gateway name", chat.Name)
	}
	m1, err := repo.GetMessageByExternalID(ctx, rig.db, "m1")
	if err != nil {
		t.Fatalf("message not stored: %v", err)
	}
	if chat.LastMessageID == nil || *chat.LastMessageID != m1.ID {
		t.Fatalf("last_message_id = %v; want %s", chat.LastMessageID, m1.ID)
	}
	if last := rig.events.last(); last.Topic != "c1@s.whatsapp.net" {
		t.Fatalf("topic = %q; want chat external id", last.Topic)
	}

	// second message in the same chat: no new_chat
	rig.events.reset()
	if err := rig.svc.Ingest(ctx, messageEvent("m2", "c1@s.whatsapp.net")); err != nil {
		t.Fatalf("ingest m2: %v", err)
	}
	if got := rig.events.types(); !equalStrings(got, []string{notify.EventNewMessage}) {
		t.Fatalf("events = %v", got)
	}
	if rig.prov.getChatCalls != 1 {
		t.Fatalf("gateway lookups = %d; want 1", rig.prov.getChatCalls)
	}
}

func TestIngest_RedeliveryIsNoop(t *testing.T) {
	rig := newIngestRig(t)
	ctx := context.Background()
	before := testutil.ToFloat64(ingestEvents.WithLabelValues(domain.EventMessage, "duplicate"))

	ev := messageEvent("dup-1", "c1@s.whatsapp.net")
	if err := rig.svc.Ingest(ctx, ev); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	rig.events.reset()
	if err := rig.svc.Ingest(ctx, ev); err != nil {
		t.Fatalf("second ingest: %v", err)
	}
	if got := rig.events.types(); len(got) != 0 {
		t.Fatalf("redelivery broadcast %v", got)
	}
	chat, _ := repo.GetChatByExternalID(ctx, rig.db, "c1@s.whatsapp.net")
	if n, _ := repo.CountMessages(ctx, rig.db, chat.ID); n != 1 {
		t.Fatalf("messages = %d; want 1", n)
	}
	if d := testutil.ToFloat64(ingestEvents.WithLabelValues(domain.EventMessage, "duplicate")) - before; d != 1 {
		t.Fatalf("duplicate counter delta = %v; want 1", d)
	}
}

func TestIngest_AppliesDefaults(t *testing.T) {
	rig := newIngestRig(t)
	ctx := context.Background()

	ev := messageEvent("m-defaults", "c1@s.whatsapp.net", func(d *domain.InboundData) {
		d.From = ""
		d.MediaType = "sticker"
		d.QuotedMessageID = "m0"
		d.Mentions = []string{"bob", "carol"}
	})
	if err := rig.svc.Ingest(ctx, ev); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	m, err := repo.GetMessageByExternalID(ctx, rig.db, "m-defaults")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Sender != domain.UnknownSender || m.MediaType != domain.MediaNone {
		t.Fatalf("defaults not applied: sender=%q media=%q", m.Sender, m.MediaType)
	}
	if m.QuotedID == nil || *m.QuotedID != "m0" {
		t.Fatalf("quoted id = %v", m.QuotedID)
	}
	if len(m.Mentions) != 2 || m.Mentions[1] != "carol" {
		t.Fatalf("mentions = %v", m.Mentions)
	}
	if m.Timestamp.IsZero() {
		t.Fatalf("timestamp should default to now")
	}
}

func TestIngest_UnparseableTimestampDefaultsToNow(t *testing.T) {
	rig := newIngestRig(t)
	ctx := context.Background()

	var ts domain.FlexTime
	if err := json.Unmarshal([]byte(`"last tuesday"`), &ts); err != nil {
		t.Fatalf("decode timestamp: %v", err)
	}
	before := time.Now().UTC().Add(-time.Second)
	ev := messageEvent("m-badts", "c1@s.whatsapp.net", func(d *domain.InboundData) { d.Timestamp = ts })
	if err := rig.svc.Ingest(ctx, ev); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	m, err := repo.GetMessageByExternalID(ctx, rig.db, "m-badts")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if m.Timestamp.Before(before) {
		t.Fatalf("timestamp = %v; want receive time", m.Timestamp)
	}
}

func TestIngest_ImageRunsDocumentTask(t *testing.T) {
	rig := newIngestRig(t)
	ctx := context.Background()

	ev := messageEvent("img-1", "c1@s.whatsapp.net", func(d *domain.InboundData) {
		d.MediaType = "image"
		d.MediaURL = "https://media.example/abc"
	})
	if err := rig.svc.Ingest(ctx, ev); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	want := []string{
		notify.EventNewChat,
		notify.EventNewMessage,
		notify.EventDocumentProcessing,
		notify.EventDocumentProcessed,
	}
	if got := rig.events.types(); !equalStrings(got, want) {
		t.Fatalf("events = %v; want %v", got, want)
	}

	m, _ := repo.GetMessageByExternalID(ctx, rig.db, "img-1")
	doc, err := repo.GetDocumentByMessageID(ctx, rig.db, m.ID)
	if err != nil {
		t.Fatalf("document not stored: %v", err)
	}
	if doc.FileType != domain.FileImage || doc.MimeType != MIMEJPEG || doc.FileName != "image_img-1.jpg" {
		t.Fatalf("unexpected document: type=%q mime=%q name=%q", doc.FileType, doc.MimeType, doc.FileName)
	}
	if rig.ocr.lastMIME != MIMEJPEG {
		t.Fatalf("ocr mime = %q", rig.ocr.lastMIME)
	}
	if _, ok := rig.index.added[doc.ID]; !ok {
		t.Fatalf("document was not indexed")
	}
	processed := rig.events.last().Data.(DocumentEvent)
	if processed.DocumentID != doc.ID || processed.MessageID != m.ID {
		t.Fatalf("processed payload = %+v", processed)
	}
}

func TestIngest_MediaFailureStillAcksMessage(t *testing.T) {
	rig := newIngestRig(t)
	rig.prov.mediaErr = &provider.Error{Op: "download media", Status: 500}
	ctx := context.Background()

	ev := messageEvent("doc-1", "c1@s.whatsapp.net", func(d *domain.InboundData) {
		d.MediaType = "document"
		d.MediaURL = "https://media.example/report.pdf"
	})
	if err := rig.svc.Ingest(ctx, ev); err != nil {
		t.Fatalf("task errors must not reach the pipeline: %v", err)
	}
	want := []string{
		notify.EventNewChat,
		notify.EventNewMessage,
		notify.EventDocumentProcessing,
		notify.EventDocumentProcessingError,
	}
	if got := rig.events.types(); !equalStrings(got, want) {
		t.Fatalf("events = %v; want %v", got, want)
	}
	if rig.ocr.calls != 0 {
		t.Fatalf("ocr should not run after a failed download")
	}
}

func TestIngest_GatewayFailureFailsEvent(t *testing.T) {
	rig := newIngestRig(t)
	rig.prov.chatErr = &provider.Error{Op: "get chat", Status: 503}
	ctx := context.Background()
	before := testutil.ToFloat64(ingestEvents.WithLabelValues(domain.EventMessage, "error"))

	err := rig.svc.Ingest(ctx, messageEvent("m1", "c9@s.whatsapp.net"))
	if !errors.Is(err, provider.ErrProvider) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if n, _ := repo.CountChats(ctx, rig.db, repo.ChatFilter{}); n != 0 {
		t.Fatalf("no chat should be stored, got %d", n)
	}
	if got := rig.events.types(); len(got) != 0 {
		t.Fatalf("unexpected events %v", got)
	}
	if d := testutil.ToFloat64(ingestEvents.WithLabelValues(domain.EventMessage, "error")) - before; d != 1 {
		t.Fatalf("error counter delta = %v; want 1", d)
	}
}

func TestIngest_InvalidAndUnknownEvents(t *testing.T) {
	rig := newIngestRig(t)
	ctx := context.Background()

	if err := rig.svc.Ingest(ctx, messageEvent("", "c1@s.whatsapp.net")); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if err := rig.svc.Ingest(ctx, domain.InboundEvent{Event: "presence"}); err != nil {
		t.Fatalf("unknown kinds are ignored, got %v", err)
	}
	if got := rig.events.types(); len(got) != 0 {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestIngest_Reaction(t *testing.T) {
	rig := newIngestRig(t)
	ctx := context.Background()

	if err := rig.svc.Ingest(ctx, messageEvent("m1", "c1@s.whatsapp.net")); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	rig.events.reset()

	react := domain.InboundEvent{
		Event: domain.EventReaction,
		Data:  domain.InboundData{MessageID: "m1", From: "bob", Emoji: "👍"},
	}
	if err := rig.svc.Ingest(ctx, react); err != nil {
		t.Fatalf("reaction: %v", err)
	}
	if got := rig.events.types(); !equalStrings(got, []string{notify.EventMessageReaction}) {
		t.Fatalf("events = %v", got)
	}
	m, _ := repo.GetMessageByExternalID(ctx, rig.db, "m1")
	if len(m.Reactions) != 1 || m.Reactions[0].Actor != "bob" || m.Reactions[0].Emoji != "👍" {
		t.Fatalf("reactions = %+v", m.Reactions)
	}

	// unknown target is a no-op
	rig.events.reset()
	react.Data.MessageID = "missing"
	if err := rig.svc.Ingest(ctx, react); err != nil {
		t.Fatalf("unknown target: %v", err)
	}
	if got := rig.events.types(); len(got) != 0 {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestIngest_ConcurrentRedeliveryStoresAndNotifiesOnce(t *testing.T) {
	rig := newIngestRig(t)
	ctx := context.Background()

	const ids, deliveries = 40, 10
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for i := 0; i < ids; i++ {
		ev := messageEvent(fmt.Sprintf("wamid.%d", i), "c1@s.whatsapp.net")
		for j := 0; j < deliveries; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := rig.svc.Ingest(ctx, ev); err != nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	if len(errs) > 0 {
		t.Fatalf("%d deliveries failed, first: %v", len(errs), errs[0])
	}

	chat, err := repo.GetChatByExternalID(ctx, rig.db, "c1@s.whatsapp.net")
	if err != nil {
		t.Fatalf("chat not stored: %v", err)
	}
	if n, err := repo.CountMessages(ctx, rig.db, chat.ID); err != nil || n != ids {
		t.Fatalf("CountMessages = %d, %v; want %d", n, err, ids)
	}

	perMessage := map[string]int{}
	newChats := 0
	rig.events.mu.Lock()
	for _, ev := range rig.events.events {
		switch ev.Type {
		case notify.EventNewMessage:
			m, ok := ev.Data.(*domain.Message)
			if !ok {
				t.Fatalf("new_message payload %T", ev.Data)
			}
			perMessage[m.ExternalID]++
		case notify.EventNewChat:
			newChats++
		}
	}
	rig.events.mu.Unlock()

	if newChats != 1 {
		t.Fatalf("new_chat broadcast %d times", newChats)
	}
	if len(perMessage) != ids {
		t.Fatalf("new_message for %d ids, want %d", len(perMessage), ids)
	}
	for ext, n := range perMessage {
		if n != 1 {
			t.Fatalf("new_message for %s sent %d times", ext, n)
		}
	}
}
