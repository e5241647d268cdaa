package search

import (
	"bufio"
	"strings"

	"github.com/tbourn/go-wa-ocr-backend/internal/domain"
)

// ExtractText builds the searchable text of a transcription: the OCR text
// with any markdown-style table rows flattened, followed by one fact per
// table body row ("Header: value; Header: value").
func ExtractText(t domain.Transcription) string {
	var b strings.Builder
	if body := FlattenTables(t.Text); body != "" {
		b.WriteString(body)
	}
	for _, tbl := range t.Tables {
		for _, fact := range TableFacts(tbl) {
			if b.Len() > 0 {
				b.WriteString("\n\n")
			}
			b.WriteString(fact)
		}
	}
	return b.String()
}

// TableFacts turns each body row into a standalone sentence keyed by the
// last header row. Rows without a header are joined with spaces.
func TableFacts(tbl domain.Table) []string {
	var header []string
	var out []string
	for _, row := range tbl.Rows {
		cells := make([]string, 0, len(row.Cells))
		for _, c := range row.Cells {
			cells = append(cells, strings.TrimSpace(c.Text))
		}
		if row.Header {
			header = cells
			continue
		}
		parts := make([]string, 0, len(cells))
		for j, v := range cells {
			if v == "" {
				continue
			}
			if j < len(header) && header[j] != "" {
				parts = append(parts, header[j]+": "+v)
			} else {
				parts = append(parts, v)
			}
		}
		if len(parts) == 0 {
			continue
		}
		sep := " "
		if len(header) > 0 {
			sep = "; "
		}
		out = append(out, strings.Join(parts, sep))
	}
	return out
}

// FlattenTables rewrites markdown-style table rows ("| a | b |") found in
// text into standalone facts separated by blank lines and drops separator
// rows. Text without tables is returned unchanged.
//
// Notes:
//   - Avoids emitting a leading blank line.
//   - Normalizes the tail to end with exactly one newline when a table was seen.
func FlattenTables(text string) string {
	var b strings.Builder
	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	wroteBlank := true // start true to avoid a leading blank
	sawTable := false

	writeFact := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		b.WriteString(s)
		b.WriteString("\n\n")
		wroteBlank = true
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			if !wroteBlank {
				b.WriteByte('\n')
				wroteBlank = true
			}
			continue
		}

		// table row: "| ... |"
		if strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") && len(line) > 1 {
			sawTable = true
			cols := strings.Split(strings.Trim(line, "|"), "|")

			allSep := true
			cleaned := make([]string, 0, len(cols))
			for _, c := range cols {
				cell := strings.TrimSpace(c)
				if cell != "" {
					cleaned = append(cleaned, cell)
				}
				tmp := strings.ReplaceAll(cell, ":", "")
				tmp = strings.ReplaceAll(tmp, "-", "")
				if strings.TrimSpace(tmp) != "" {
					allSep = false
				}
			}
			if allSep || len(cleaned) == 0 {
				continue
			}
			writeFact(strings.Join(cleaned, " "))
			continue
		}

		// plain line: keep as-is, paragraphs stay together
		b.WriteString(line)
		b.WriteByte('\n')
		wroteBlank = false
	}
	if sc.Err() != nil || !sawTable {
		return text
	}
	return strings.TrimRight(b.String(), "\n") + "\n"
}
