package ocr

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/oauth2"
	"google.golang.org/api/option"

	"github.com/tbourn/go-wa-ocr-backend/internal/config"
	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
)

// processorClient is the part of documentai.DocumentProcessorClient used here.
type processorClient interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// DocumentAI runs documents through a Document AI processor.
type DocumentAI struct {
	client  processorClient
	name    string // projects/{p}/locations/{l}/processors/{id}
	timeout time.Duration
}

// NewDocumentAI dials the regional endpoint. It authenticates with
// cfg.AccessToken when set, otherwise with Application Default Credentials.
func NewDocumentAI(ctx context.Context, cfg config.OCRConfig) (*DocumentAI, error) {
	opts := []option.ClientOption{option.WithEndpoint(grpcEndpoint(cfg.Endpoint, cfg.Location))}
	if cfg.AccessToken != "" {
		opts = append(opts, option.WithTokenSource(
			oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken, TokenType: "Bearer"}),
		))
	}
	c, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fail(EngineDocumentAI, fmt.Errorf("client: %w", err))
	}
	return newDocumentAI(cfg, c), nil
}

func newDocumentAI(cfg config.OCRConfig, c processorClient) *DocumentAI {
	return &DocumentAI{
		client:  c,
		name:    fmt.Sprintf("projects/%s/locations/%s/processors/%s", cfg.ProjectID, cfg.Location, cfg.ProcessorID),
		timeout: cfg.Timeout,
	}
}

// grpcEndpoint turns OCR_ENDPOINT ("https://eu-documentai.googleapis.com")
// into host:port. An empty endpoint falls back to the location's host.
func grpcEndpoint(endpoint, location string) string {
	host := strings.TrimSpace(endpoint)
	if u, err := url.Parse(host); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.TrimRight(host, "/")
	if host == "" {
		loc := strings.TrimSpace(location)
		if loc == "" {
			loc = "us"
		}
		host = loc + "-documentai.googleapis.com"
	}
	if !strings.Contains(host, ":") {
		host += ":443"
	}
	return host
}

// Close releases the underlying connection.
func (d *DocumentAI) Close() error { return d.client.Close() }

// Process submits data inline and converts the returned document.
func (d *DocumentAI) Process(ctx context.Context, data []byte, mimeType string) (*domain.Transcription, error) {
	if len(data) == 0 {
		return nil, fail(EngineDocumentAI, ErrEmptyInput)
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	resp, err := d.client.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name:            d.name,
		SkipHumanReview: true,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{Content: data, MimeType: mimeType},
		},
	})
	if err != nil {
		return nil, fail(EngineDocumentAI, err)
	}
	return toTranscription(resp.GetDocument()), nil
}

// anchorText resolves a text anchor against the document text. Offsets are
// in runes of the full text; out-of-range segments are clamped.
func anchorText(full []rune, a *documentaipb.Document_TextAnchor) string {
	segs := a.GetTextSegments()
	if len(segs) == 0 {
		return a.GetContent()
	}
	var b strings.Builder
	for _, seg := range segs {
		start, end := seg.GetStartIndex(), seg.GetEndIndex()
		if start < 0 {
			start = 0
		}
		if end > int64(len(full)) {
			end = int64(len(full))
		}
		if start >= end {
			continue
		}
		b.WriteString(string(full[start:end]))
	}
	return b.String()
}

func toTranscription(doc *documentaipb.Document) *domain.Transcription {
	full := []rune(doc.GetText())
	t := &domain.Transcription{
		Text:     doc.GetText(),
		Pages:    make([]domain.Page, 0, len(doc.GetPages())),
		Entities: make([]domain.Entity, 0, len(doc.GetEntities())),
		Tables:   []domain.Table{},
	}

	for i, p := range doc.GetPages() {
		num := int(p.GetPageNumber())
		if num == 0 {
			num = i + 1
		}
		dim := p.GetDimension()
		page := domain.Page{
			Number: num,
			Width:  float64(dim.GetWidth()),
			Height: float64(dim.GetHeight()),
			Unit:   dim.GetUnit(),
			Blocks: make([]domain.Block, 0, len(p.GetBlocks())+len(p.GetParagraphs())),
		}
		for _, el := range p.GetBlocks() {
			page.Blocks = append(page.Blocks, toBlock("block", full, el.GetLayout()))
		}
		for _, el := range p.GetParagraphs() {
			page.Blocks = append(page.Blocks, toBlock("paragraph", full, el.GetLayout()))
		}
		t.Pages = append(t.Pages, page)

		for _, tbl := range p.GetTables() {
			t.Tables = append(t.Tables, domain.NewTable(num, toCells(full, tbl.GetHeaderRows()), toCells(full, tbl.GetBodyRows())))
		}
	}

	for _, e := range doc.GetEntities() {
		t.Entities = append(t.Entities, domain.Entity{
			Type:       e.GetType(),
			Text:       strings.TrimSpace(e.GetMentionText()),
			Confidence: float64(e.GetConfidence()),
		})
	}
	return t
}

func toBlock(kind string, full []rune, l *documentaipb.Document_Page_Layout) domain.Block {
	verts := l.GetBoundingPoly().GetNormalizedVertices()
	box := make([]domain.Vertex, 0, len(verts))
	for _, v := range verts {
		box = append(box, domain.Vertex{X: float64(v.GetX()), Y: float64(v.GetY())})
	}
	return domain.Block{
		Type:        kind,
		Text:        strings.TrimSpace(anchorText(full, l.GetTextAnchor())),
		Confidence:  float64(l.GetConfidence()),
		BoundingBox: box,
	}
}

func toCells(full []rune, rows []*documentaipb.Document_Page_Table_TableRow) [][]domain.Cell {
	out := make([][]domain.Cell, 0, len(rows))
	for _, r := range rows {
		cells := make([]domain.Cell, 0, len(r.GetCells()))
		for _, c := range r.GetCells() {
			cells = append(cells, domain.Cell{
				Text:    anchorText(full, c.GetLayout().GetTextAnchor()),
				RowSpan: int(c.GetRowSpan()),
				ColSpan: int(c.GetColSpan()),
			})
		}
		out = append(out, cells)
	}
	return out
}
