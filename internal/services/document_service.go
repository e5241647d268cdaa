// Package services – DocumentService
//
// DocumentService owns the document processing task: it downloads a
// message's media, runs OCR, stores the resulting Document exactly once and
// announces the outcome on the chat's realtime topic. A task that announced
// document_processing always ends with exactly one of document_processed or
// document_processing_error. There are no retries.
//
// It also serves document reads, full-text search over extracted text and
// the manual processing trigger.
package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
	"github.com/tbourn/go-wa-ocr-backend/internal/notify"
	"github.com/tbourn/go-wa-ocr-backend/internal/ocr"
	"github.com/tbourn/go-wa-ocr-backend/internal/repo"
	"github.com/tbourn/go-wa-ocr-backend/internal/search"
	"github.com/tbourn/go-wa-ocr-backend/internal/worker"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// MIME types assigned by ClassifyMIME.
const (
	MIMEJPEG   = "image/jpeg"
	MIMEPDF    = "application/pdf"
	MIMEWord   = "application/msword"
	MIMEBinary = "application/octet-stream"
)

// DocumentService runs and serves OCR documents.
type DocumentService struct {
	DB       *gorm.DB
	Media    MediaDownloader
	OCR      ocr.Processor
	Engine   string // metric label, e.g. "documentai"
	Notifier notify.Broadcaster
	Index    DocumentIndex
	Executor worker.Executor
}

// DocumentEvent is the payload of the document_* realtime events.
type DocumentEvent struct {
	MessageID  string `json:"message_id"`
	ChatID     string `json:"chat_id"`
	DocumentID string `json:"document_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// ClassifyMIME maps a message media kind and URL onto the MIME type sent to
// OCR and the stored file type. Images are assumed to be JPEG. Documents are
// classified by the extension of the URL path, ignoring any query string.
func ClassifyMIME(mediaType, mediaURL string) (mime, fileType string, err error) {
	switch strings.ToLower(strings.TrimSpace(mediaType)) {
	case domain.MediaImage:
		return MIMEJPEG, domain.FileImage, nil
	case domain.MediaDocument:
		switch urlExt(mediaURL) {
		case ".pdf":
			return MIMEPDF, domain.FilePDF, nil
		case ".doc", ".docx":
			return MIMEWord, domain.FileDoc, nil
		default:
			return MIMEBinary, domain.FileOther, nil
		}
	default:
		return "", "", ErrNotProcessable
	}
}

func urlExt(raw string) string {
	raw = strings.ToLower(strings.TrimSpace(raw))
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	} else if i := strings.IndexAny(raw, "?#"); i >= 0 {
		p = raw[:i]
	}
	return path.Ext(p)
}

var unsafeNameRE = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// FileName builds the stored name of a document: <fileType>_<external id>.<ext>.
func FileName(fileType, externalID string) string {
	id := strings.Trim(unsafeNameRE.ReplaceAllString(externalID, "_"), "_.")
	if id == "" {
		id = "message"
	}
	ext := "bin"
	switch fileType {
	case domain.FileImage:
		ext = "jpg"
	case domain.FilePDF:
		ext = "pdf"
	case domain.FileDoc:
		ext = "doc"
	}
	return fmt.Sprintf("%s_%s.%s", fileType, id, ext)
}

// Process runs the document processing task for msg. It returns
// ErrAlreadyProcessed (with no events) when msg already has a document and
// ErrNotProcessable when msg carries no image or document.
func (s *DocumentService) Process(ctx context.Context, msg *domain.Message, chat *domain.Chat) (*domain.Document, error) {
	tr := otel.Tracer("services/DocumentService")
	ctx, span := tr.Start(ctx, "Process",
		trace.WithAttributes(
			attribute.String("message.id", msg.ID),
			attribute.String("chat.external_id", chat.ExternalID),
			attribute.String("media.type", msg.MediaType),
		),
	)
	defer span.End()

	if _, err := repo.GetDocumentByMessageID(ctx, s.DB, msg.ID); err == nil {
		return nil, ErrAlreadyProcessed
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}

	mime, fileType, err := ClassifyMIME(msg.MediaType, msg.MediaURL)
	if err != nil {
		return nil, err
	}

	base := DocumentEvent{MessageID: msg.ID, ChatID: chat.ExternalID}
	s.broadcast(ctx, chat.ExternalID, notify.EventDocumentProcessing, base)

	lg := log.With().
		Str("component", "documents").
		Str("message_id", msg.ID).
		Str("chat_id", chat.ExternalID).
		Logger()

	failed := func(stage string, err error) (*domain.Document, error) {
		err = fmt.Errorf("%s: %w", stage, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		lg.Error().Err(err).Msg("document processing failed")
		documentsTotal.WithLabelValues("error").Inc()

		ev := base
		ev.Error = err.Error()
		s.broadcast(ctx, chat.ExternalID, notify.EventDocumentProcessingError, ev)
		return nil, err
	}

	data, _, err := s.Media.DownloadMedia(ctx, msg.MediaURL)
	if err != nil {
		return failed("download media", fmt.Errorf("%w: %w", ErrUpstream, err))
	}

	start := time.Now()
	tx, err := s.OCR.Process(ctx, data, mime)
	result := "ok"
	if err != nil {
		result = "error"
	}
	ocrDuration.WithLabelValues(s.engine(), result).Observe(time.Since(start).Seconds())
	if err != nil {
		return failed("ocr", fmt.Errorf("%w: %w", ErrUpstream, err))
	}
	if tx == nil {
		tx = &domain.Transcription{}
	}

	doc := &domain.Document{
		MessageID:     msg.ID,
		ChatID:        msg.ChatID,
		SourceURL:     msg.MediaURL,
		FileType:      fileType,
		MimeType:      mime,
		FileName:      FileName(fileType, msg.ExternalID),
		Transcription: datatypes.NewJSONType(*tx),
		ExtractedText: search.ExtractText(*tx),
	}
	stored, created, err := repo.CreateDocumentOnce(ctx, s.DB, doc)
	if err != nil {
		return failed("store document", err)
	}
	if created {
		if s.Index != nil {
			s.Index.Add(stored.ID, stored.ExtractedText)
		}
	} else {
		lg.Info().Str("document_id", stored.ID).Msg("document stored by a concurrent task")
	}

	documentsTotal.WithLabelValues("processed").Inc()
	done := base
	done.DocumentID = stored.ID
	s.broadcast(ctx, chat.ExternalID, notify.EventDocumentProcessed, done)
	lg.Info().Str("document_id", stored.ID).Str("file_type", fileType).Msg("document processed")
	return stored, nil
}

// Trigger starts processing for a stored message by internal id. With wait
// the task runs inline and the document is returned; otherwise the task is
// queued on the executor and (nil, nil) is returned.
func (s *DocumentService) Trigger(ctx context.Context, messageID string, wait bool) (*domain.Document, error) {
	tr := otel.Tracer("services/DocumentService")
	ctx, span := tr.Start(ctx, "Trigger",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.Bool("wait", wait),
		),
	)
	defer span.End()

	msg, err := repo.GetMessage(ctx, s.DB, messageID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrMessageNotFound
	}
	if err != nil {
		return nil, err
	}
	if _, err := repo.GetDocumentByMessageID(ctx, s.DB, msg.ID); err == nil {
		return nil, ErrAlreadyProcessed
	} else if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	if !msg.HasProcessableMedia() {
		return nil, ErrNotProcessable
	}
	chat, err := repo.GetChat(ctx, s.DB, msg.ChatID)
	if err != nil {
		return nil, err
	}

	if wait || s.Executor == nil {
		return s.Process(ctx, msg, chat)
	}
	ok := s.Executor.Submit(ctx, "document:"+msg.ID, func(ctx context.Context) error {
		_, err := s.Process(ctx, msg, chat)
		if errors.Is(err, ErrAlreadyProcessed) {
			return nil
		}
		return err
	})
	if !ok {
		return nil, ErrExecutorClosed
	}
	return nil, nil
}

// Get returns a document by id.
func (s *DocumentService) Get(ctx context.Context, id string) (*domain.Document, error) {
	d, err := repo.GetDocument(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	return d, err
}

// GetByMessage returns the document derived from a message.
func (s *DocumentService) GetByMessage(ctx context.Context, messageID string) (*domain.Document, error) {
	d, err := repo.GetDocumentByMessageID(ctx, s.DB, messageID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrDocumentNotFound
	}
	return d, err
}

// ListPage returns documents newest first, optionally scoped to a chat given
// by provider or internal id.
func (s *DocumentService) ListPage(ctx context.Context, chatRef string, page, pageSize int) ([]domain.Document, int64, error) {
	tr := otel.Tracer("services/DocumentService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("chat.ref", chatRef),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	chatID := ""
	if strings.TrimSpace(chatRef) != "" {
		c, err := findChat(ctx, s.DB, chatRef)
		if err != nil {
			return nil, 0, err
		}
		chatID = c.ID
	}

	_, pageSize, offset := paging(page, pageSize)
	total, err := repo.CountDocuments(ctx, s.DB, chatID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Document{}, 0, nil
	}
	items, err := repo.ListDocumentsPage(ctx, s.DB, chatID, offset, pageSize)
	return items, total, err
}

// SearchHit is one search result with its document.
type SearchHit struct {
	Document *domain.Document `json:"document"`
	Snippet  string           `json:"snippet"`
	Score    float64          `json:"score"`
}

// Search ranks documents by overlap between q and their extracted text.
func (s *DocumentService) Search(ctx context.Context, q string, k int) ([]SearchHit, error) {
	tr := otel.Tracer("services/DocumentService")
	ctx, span := tr.Start(ctx, "Search",
		trace.WithAttributes(attribute.Int("k", k)),
	)
	defer span.End()

	if k <= 0 {
		k = 5
	}
	out := []SearchHit{}
	if s.Index == nil || strings.TrimSpace(q) == "" {
		return out, nil
	}
	for _, r := range s.Index.TopK(q, k) {
		d, err := repo.GetDocument(ctx, s.DB, r.DocumentID)
		if errors.Is(err, repo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, SearchHit{Document: d, Snippet: r.Snippet, Score: r.Score})
	}
	return out, nil
}

// RebuildIndex loads every stored document into the search index and
// returns how many were added.
func (s *DocumentService) RebuildIndex(ctx context.Context) (int, error) {
	if s.Index == nil {
		return 0, nil
	}
	n := 0
	err := repo.EachDocument(ctx, s.DB, 200, func(id, text string) {
		s.Index.Add(id, text)
		n++
	})
	return n, err
}

func (s *DocumentService) engine() string {
	if s.Engine == "" {
		return "unknown"
	}
	return s.Engine
}

func (s *DocumentService) broadcast(ctx context.Context, topic, kind string, data any) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.Broadcast(ctx, topic, notify.Event{Type: kind, Topic: topic, Data: data})
}

// paging applies the list defaults: page >= 1, pageSize 20 when unset.
func paging(page, pageSize int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	return page, pageSize, (page - 1) * pageSize
}
