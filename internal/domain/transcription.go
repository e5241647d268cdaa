package domain

import "strings"

// Transcription is the structured result of an OCR call. It is stored
// verbatim on the Document as a JSON column.
type Transcription struct {
	Text     string   `json:"text"`
	Pages    []Page   `json:"pages"`
	Entities []Entity `json:"entities"`
	Tables   []Table  `json:"tables"`
}

// Page is one rendered page with its layout blocks.
type Page struct {
	Number int     `json:"number"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Unit   string  `json:"unit,omitempty"`
	Blocks []Block `json:"blocks"`
}

// Block is a typed layout element (block, paragraph, line, token).
type Block struct {
	Type        string   `json:"type"`
	Text        string   `json:"text"`
	Confidence  float64  `json:"confidence"`
	BoundingBox []Vertex `json:"bounding_box"`
}

// Vertex is a point of a bounding polygon in normalized [0,1] page units.
type Vertex struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Entity is a typed value recognized in the document.
type Entity struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Table is a detected table. Header rows always precede body rows.
type Table struct {
	Page int   `json:"page"`
	Rows []Row `json:"rows"`
}

// Row is one table row.
type Row struct {
	Header bool   `json:"header"`
	Cells  []Cell `json:"cells"`
}

// Cell is one table cell; Text is trimmed.
type Cell struct {
	Text    string `json:"text"`
	RowSpan int    `json:"row_span"`
	ColSpan int    `json:"col_span"`
}

// NewTable builds a table from header and body rows, trimming cell text and
// defaulting spans to 1 so every table keeps the header-first ordering.
func NewTable(page int, header, body [][]Cell) Table {
	t := Table{Page: page, Rows: make([]Row, 0, len(header)+len(body))}
	for _, cells := range header {
		t.Rows = append(t.Rows, Row{Header: true, Cells: normalizeCells(cells)})
	}
	for _, cells := range body {
		t.Rows = append(t.Rows, Row{Header: false, Cells: normalizeCells(cells)})
	}
	return t
}

func normalizeCells(in []Cell) []Cell {
	out := make([]Cell, len(in))
	for i, c := range in {
		c.Text = strings.TrimSpace(c.Text)
		if c.RowSpan < 1 {
			c.RowSpan = 1
		}
		if c.ColSpan < 1 {
			c.ColSpan = 1
		}
		out[i] = c
	}
	return out
}
