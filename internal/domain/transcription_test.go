package domain

import "testing"

func TestNewTable_HeaderFirstTrimmedSpans(t *testing.T) {
	header := [][]Cell{{{Text: "  Item "}, {Text: "Qty", ColSpan: 2}}}
	body := [][]Cell{
		{{Text: " apples\n"}, {Text: "3", RowSpan: 2}},
		{{Text: "pears"}},
	}
	tbl := NewTable(1, header, body)

	if len(tbl.Rows) != 3 {
		t.Fatalf("rows = %d; want 3", len(tbl.Rows))
	}
	if !tbl.Rows[0].Header || tbl.Rows[1].Header || tbl.Rows[2].Header {
		t.Fatalf("header rows must precede body rows: %+v", tbl.Rows)
	}
	if got := tbl.Rows[0].Cells[0]; got.Text != "Item" || got.RowSpan != 1 || got.ColSpan != 1 {
		t.Fatalf("header cell not normalized: %+v", got)
	}
	if got := tbl.Rows[0].Cells[1]; got.ColSpan != 2 {
		t.Fatalf("explicit col span lost: %+v", got)
	}
	if got := tbl.Rows[1].Cells[0].Text; got != "apples" {
		t.Fatalf("body cell not trimmed: %q", got)
	}
	if got := tbl.Rows[1].Cells[1].RowSpan; got != 2 {
		t.Fatalf("explicit row span lost: %d", got)
	}
}
