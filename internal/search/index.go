// Package search provides a concurrency-safe in-memory full-text index over
// OCR'd documents.
//
// Each document's extracted text is split into paragraphs; a query is scored
// against every paragraph with Jaccard similarity between token sets,
// score = |Q ∩ P| / |Q ∪ P|, and the best paragraph per document is
// returned. The index is rebuilt from the store at startup and updated as
// documents are processed.
//
//   - No logging in the library (callers decide how/what to log)
//   - Unicode-aware tokenization with optional stop-word removal
//   - Deterministic scoring and sorting (stable order for ties)
package search

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"
)

// Result is a ranked snippet of one document.
type Result struct {
	DocumentID string  `json:"document_id"`
	Snippet    string  `json:"snippet"`
	Score      float64 `json:"score"`
}

// Index is the read side used by handlers.
type Index interface {
	TopK(query string, k int) []Result
}

// ----------------------------------------------------------------------------
// Options

type Option func(*config)

type config struct {
	minParagraphRunes int
	stopwords         map[string]struct{}
	maxParagraphs     int
}

func defaultConfig() config {
	return config{
		minParagraphRunes: 3,
		stopwords:         nil,
		maxParagraphs:     0,
	}
}

// WithMinParagraphRunes drops paragraphs shorter than n runes.
func WithMinParagraphRunes(n int) Option {
	return func(c *config) {
		if n >= 0 {
			c.minParagraphRunes = n
		}
	}
}

// WithStopwords excludes words from tokenization.
func WithStopwords(words []string) Option {
	return func(c *config) {
		m := make(map[string]struct{}, len(words))
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" {
				m[w] = struct{}{}
			}
		}
		if len(m) > 0 {
			c.stopwords = m
		}
	}
}

// WithMaxParagraphs caps the paragraphs kept per document.
func WithMaxParagraphs(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.maxParagraphs = n
		}
	}
}

// ----------------------------------------------------------------------------
// Implementation

type para struct {
	text   string
	tokens map[string]struct{}
}

// DocumentIndex is a mutable index keyed by document id.
type DocumentIndex struct {
	cfg config

	mu   sync.RWMutex
	docs map[string][]para
}

// New returns an empty index.
func New(opts ...Option) *DocumentIndex {
	cfg := defaultConfig()
	for _, o := range opts {
		o(&cfg)
	}
	return &DocumentIndex{cfg: cfg, docs: make(map[string][]para)}
}

// Add indexes (or re-indexes) a document's text.
func (i *DocumentIndex) Add(id, text string) {
	if id == "" {
		return
	}
	paras := i.split(text)
	i.mu.Lock()
	defer i.mu.Unlock()
	if len(paras) == 0 {
		delete(i.docs, id)
		return
	}
	i.docs[id] = paras
}

// Remove drops a document.
func (i *DocumentIndex) Remove(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.docs, id)
}

// Len returns the number of indexed documents.
func (i *DocumentIndex) Len() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.docs)
}

func (i *DocumentIndex) split(text string) []para {
	chunks := splitParas(text)
	out := make([]para, 0, len(chunks))
	for _, raw := range chunks {
		t := strings.TrimSpace(normalizeWhitespace(raw))
		if t == "" {
			continue
		}
		if i.cfg.minParagraphRunes > 0 && utf8.RuneCountInString(t) < i.cfg.minParagraphRunes {
			continue
		}
		toks := tokenize(t, i.cfg.stopwords)
		if len(toks) == 0 {
			continue
		}
		out = append(out, para{text: t, tokens: toks})
		if i.cfg.maxParagraphs > 0 && len(out) >= i.cfg.maxParagraphs {
			break
		}
	}
	return out
}

// TopK returns up to k documents ranked by their best paragraph.
func (i *DocumentIndex) TopK(q string, k int) []Result {
	if strings.TrimSpace(q) == "" {
		return nil
	}
	if k <= 0 {
		k = 3
	}
	qTokens := tokenize(q, i.cfg.stopwords)
	if len(qTokens) == 0 {
		return nil
	}
	qLen := len(qTokens)

	type scored struct {
		Result
		lenRunes int
	}

	i.mu.RLock()
	buf := make([]scored, 0, len(i.docs))
	for id, paras := range i.docs {
		var best scored
		for _, p := range paras {
			over := overlap(qTokens, p.tokens)
			if over == 0 {
				continue
			}
			union := float64(qLen + len(p.tokens) - over)
			if union <= 0 {
				continue
			}
			score := float64(over) / union
			n := utf8.RuneCountInString(p.text)
			if score > best.Score || (score == best.Score && n < best.lenRunes) {
				best = scored{Result: Result{DocumentID: id, Snippet: p.text, Score: score}, lenRunes: n}
			}
		}
		if best.Score > 0 {
			buf = append(buf, best)
		}
	}
	i.mu.RUnlock()

	if len(buf) == 0 {
		return nil
	}

	sort.SliceStable(buf, func(a, b int) bool {
		if buf[a].Score != buf[b].Score {
			return buf[a].Score > buf[b].Score
		}
		if buf[a].lenRunes != buf[b].lenRunes {
			return buf[a].lenRunes < buf[b].lenRunes
		}
		return buf[a].DocumentID < buf[b].DocumentID
	})

	if k > len(buf) {
		k = len(buf)
	}
	out := make([]Result, k)
	for j := 0; j < k; j++ {
		out[j] = buf[j].Result
	}
	return out
}

// ----------------------------------------------------------------------------
// Helpers

var wordRE = regexp.MustCompile(`[\p{L}\p{N}]+`)

func tokenize(s string, stop map[string]struct{}) map[string]struct{} {
	s = strings.ToLower(s)
	words := wordRE.FindAllString(s, -1)
	if len(words) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(words))
	for _, w := range words {
		if stop != nil {
			if _, skip := stop[w]; skip {
				continue
			}
		}
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	n := 0
	if len(a) > len(b) {
		a, b = b, a
	}
	for k := range a {
		if _, ok := b[k]; ok {
			n++
		}
	}
	return n
}

func normalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\r' || r == '\n' {
			if !prevSpace {
				b.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		prevSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

var paraSplitRE = regexp.MustCompile(`\n\s*\n`)

func splitParas(raw string) []string {
	chunks := paraSplitRE.Split(raw, -1)
	out := make([]string, 0, len(chunks))
	for _, c := range chunks {
		if t := strings.TrimSpace(c); t != "" {
			out = append(out, t)
		}
	}
	return out
}
