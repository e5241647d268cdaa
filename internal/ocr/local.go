package ocr

import (
	"bytes"
	"context"
	"strings"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
)

// Local extracts embedded text from PDFs without any network call. It cannot
// read images or scanned pages.
type Local struct{}

// NewLocal returns the local engine.
func NewLocal() *Local { return &Local{} }

// Process parses a PDF into one page per PDF page.
func (l *Local) Process(ctx context.Context, data []byte, mimeType string) (*domain.Transcription, error) {
	if len(data) == 0 {
		return nil, fail(EngineLocal, ErrEmptyInput)
	}
	if !strings.EqualFold(strings.TrimSpace(strings.Split(mimeType, ";")[0]), "application/pdf") {
		return nil, fail(EngineLocal, ErrUnsupportedMIME)
	}

	parser, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: true})
	if err != nil {
		return nil, fail(EngineLocal, err)
	}
	docs, err := parser.Parse(ctx, bytes.NewReader(data), einoParser.WithURI("document.pdf"))
	if err != nil {
		return nil, fail(EngineLocal, err)
	}

	t := &domain.Transcription{
		Pages:    make([]domain.Page, 0, len(docs)),
		Entities: []domain.Entity{},
		Tables:   []domain.Table{},
	}
	for i, d := range docs {
		page := domain.Page{Number: i + 1, Blocks: []domain.Block{}}
		for _, para := range strings.Split(d.Content, "\n\n") {
			if text := strings.TrimSpace(para); text != "" {
				page.Blocks = append(page.Blocks, domain.Block{Type: "paragraph", Text: text, Confidence: 1})
			}
		}
		t.Pages = append(t.Pages, page)
	}
	t.Text = joinPages(t.Pages)
	return t, nil
}
