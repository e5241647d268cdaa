package ocr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/tbourn/go-wa-ocr-backend/internal/config"
	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
)

const geminiInstruction = `You are an OCR engine. Transcribe the attached file exactly.
Return JSON only, matching the schema: the full text, one entry per page with
its text blocks in reading order, any named entities (dates, amounts, names,
identifiers) and every table with header rows before body rows.`

// generator is the part of the genai client the engine uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini asks a multimodal model for a structured transcription.
type Gemini struct {
	models generator
	model  string
}

// NewGemini creates a Gemini API client.
func NewGemini(ctx context.Context, cfg config.OCRConfig) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fail(EngineGemini, fmt.Errorf("create client: %w", err))
	}
	return &Gemini{models: client.Models, model: cfg.GeminiModel}, nil
}

var cellSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"text":     {Type: genai.TypeString},
		"row_span": {Type: genai.TypeInteger},
		"col_span": {Type: genai.TypeInteger},
	},
	Required: []string{"text"},
}

var transcriptionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"text": {Type: genai.TypeString, Description: "Full text of the file in reading order."},
		"pages": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"number": {Type: genai.TypeInteger},
					"blocks": {
						Type:  genai.TypeArray,
						Items: &genai.Schema{Type: genai.TypeString},
					},
				},
				Required: []string{"number", "blocks"},
			},
		},
		"entities": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"type": {Type: genai.TypeString},
					"text": {Type: genai.TypeString},
				},
				Required: []string{"type", "text"},
			},
		},
		"tables": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"page":   {Type: genai.TypeInteger},
					"header": {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeArray, Items: cellSchema}},
					"body":   {Type: genai.TypeArray, Items: &genai.Schema{Type: genai.TypeArray, Items: cellSchema}},
				},
			},
		},
	},
	Required: []string{"text"},
}

type geminiResult struct {
	Text  string `json:"text"`
	Pages []struct {
		Number int      `json:"number"`
		Blocks []string `json:"blocks"`
	} `json:"pages"`
	Entities []domain.Entity `json:"entities"`
	Tables   []struct {
		Page   int             `json:"page"`
		Header [][]domain.Cell `json:"header"`
		Body   [][]domain.Cell `json:"body"`
	} `json:"tables"`
}

// Process sends data inline with the extraction prompt.
func (g *Gemini) Process(ctx context.Context, data []byte, mimeType string) (*domain.Transcription, error) {
	if len(data) == 0 {
		return nil, fail(EngineGemini, ErrEmptyInput)
	}
	contents := []*genai.Content{{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: mimeType, Data: data}},
			{Text: "Transcribe this file."},
		},
	}}
	resp, err := g.models.GenerateContent(ctx, g.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: geminiInstruction}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    transcriptionSchema,
	})
	if err != nil {
		return nil, fail(EngineGemini, err)
	}
	raw, err := responseText(resp)
	if err != nil {
		return nil, fail(EngineGemini, err)
	}
	t, err := decodeGemini(raw)
	if err != nil {
		return nil, fail(EngineGemini, err)
	}
	return t, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReasonMessage != "" {
			return "", fmt.Errorf("blocked: %s", resp.PromptFeedback.BlockReasonMessage)
		}
		return "", errors.New("empty response")
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part == nil || part.Text == "" {
			continue
		}
		b.WriteString(part.Text)
	}
	if b.Len() == 0 {
		return "", errors.New("response carried no text")
	}
	return b.String(), nil
}

// decodeGemini parses the model's JSON, tolerating a fenced code block.
func decodeGemini(raw string) (*domain.Transcription, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var r geminiResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &r); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}

	t := &domain.Transcription{
		Text:     r.Text,
		Pages:    make([]domain.Page, 0, len(r.Pages)),
		Entities: r.Entities,
		Tables:   make([]domain.Table, 0, len(r.Tables)),
	}
	if t.Entities == nil {
		t.Entities = []domain.Entity{}
	}
	for i, p := range r.Pages {
		num := p.Number
		if num == 0 {
			num = i + 1
		}
		page := domain.Page{Number: num, Blocks: make([]domain.Block, 0, len(p.Blocks))}
		for _, b := range p.Blocks {
			page.Blocks = append(page.Blocks, domain.Block{Type: "block", Text: strings.TrimSpace(b)})
		}
		t.Pages = append(t.Pages, page)
	}
	for _, tbl := range r.Tables {
		t.Tables = append(t.Tables, domain.NewTable(tbl.Page, tbl.Header, tbl.Body))
	}
	if t.Text == "" {
		t.Text = joinPages(t.Pages)
	}
	return t, nil
}
