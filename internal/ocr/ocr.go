// Package ocr turns media binaries into structured transcriptions.
//
// Three engines implement Processor:
//
//   - documentai: Google Document AI processor client (text, layout, entities, tables)
//   - gemini:     a Gemini model prompted for the same structure as JSON
//   - local:      in-process PDF text extraction (no images, no network)
//
// Every engine failure matches ErrOCR under errors.Is.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tbourn/go-wa-ocr-backend/internal/config"
	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
)

// Engine names accepted by OCR_ENGINE.
const (
	EngineDocumentAI = "documentai"
	EngineGemini     = "gemini"
	EngineLocal      = "local"
)

var (
	// ErrOCR is the kind of every extraction failure.
	ErrOCR = errors.New("ocr error")
	// ErrUnsupportedMIME is returned by engines that cannot read a MIME type.
	ErrUnsupportedMIME = errors.New("ocr: unsupported mime type")
	// ErrEmptyInput is returned for a zero-length buffer.
	ErrEmptyInput = errors.New("ocr: empty input")
)

// Processor extracts a transcription from a binary.
type Processor interface {
	Process(ctx context.Context, data []byte, mimeType string) (*domain.Transcription, error)
}

// Error wraps an engine failure so it matches both ErrOCR and its cause.
type Error struct {
	Engine string
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("ocr %s: %v", e.Engine, e.Err) }

func (e *Error) Is(target error) bool { return target == ErrOCR }

func (e *Error) Unwrap() error { return e.Err }

func fail(engine string, err error) error {
	if err == nil {
		return nil
	}
	var oe *Error
	if errors.As(err, &oe) {
		return err
	}
	return &Error{Engine: engine, Err: err}
}

// New builds the engine named by cfg.Engine.
func New(ctx context.Context, cfg config.OCRConfig) (Processor, error) {
	switch strings.ToLower(cfg.Engine) {
	case EngineDocumentAI:
		return NewDocumentAI(ctx, cfg)
	case EngineGemini:
		return NewGemini(ctx, cfg)
	case EngineLocal, "":
		return NewLocal(), nil
	default:
		return nil, fmt.Errorf("ocr: unknown engine %q", cfg.Engine)
	}
}

// ReadsImages reports whether the named engine can transcribe images. The
// local engine only reads PDFs with embedded text.
func ReadsImages(engine string) bool {
	switch strings.ToLower(strings.TrimSpace(engine)) {
	case EngineDocumentAI, EngineGemini:
		return true
	default:
		return false
	}
}

// joinPages concatenates page texts separated by blank lines.
func joinPages(pages []domain.Page) string {
	parts := make([]string, 0, len(pages))
	for _, p := range pages {
		var b strings.Builder
		for _, blk := range p.Blocks {
			if t := strings.TrimSpace(blk.Text); t != "" {
				if b.Len() > 0 {
					b.WriteByte('\n')
				}
				b.WriteString(t)
			}
		}
		if b.Len() > 0 {
			parts = append(parts, b.String())
		}
	}
	return strings.Join(parts, "\n\n")
}
