// Package indexer splits documents into chunks, embeds them in batches and commits
// the result as an index generation.
package indexer

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/hyperjump/kotae/internal/fileid"
	"github.com/hyperjump/kotae/internal/models"
)

// ErrInvalidChunkConfig is returned when chunk length and overlap cannot produce chunks.
var ErrInvalidChunkConfig = errors.New("invalid chunk configuration")

// Policy selects which boundaries the chunker prefers when a window must be cut.
type Policy string

const (
	// PolicyParagraph prefers paragraph breaks, then sentence ends, then whitespace.
	PolicyParagraph Policy = "paragraph"
	// PolicySentence prefers sentence ends, then whitespace.
	PolicySentence Policy = "sentence"
	// PolicyHard always cuts at exactly max length.
	PolicyHard Policy = "hard"
)

// ParsePolicy converts a configuration string to a Policy. Empty means PolicyParagraph.
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyParagraph, nil
	case PolicyParagraph, PolicySentence, PolicyHard:
		return p, nil
	default:
		return "", fmt.Errorf("%w: unknown policy %q", ErrInvalidChunkConfig, s)
	}
}

// Chunker splits text into overlapping passages of at most MaxLength runes.
// Output depends only on the input text and the configuration.
type Chunker struct {
	MaxLength int
	Overlap   int
	Policy    Policy
}

// NewChunker validates the configuration and returns a Chunker.
func NewChunker(maxLength, overlap int, policy Policy) (*Chunker, error) {
	if maxLength <= 0 {
		return nil, fmt.Errorf("%w: max length %d must be positive", ErrInvalidChunkConfig, maxLength)
	}
	if overlap < 0 || overlap >= maxLength {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidChunkConfig, overlap, maxLength)
	}
	if policy == "" {
		policy = PolicyParagraph
	}
	if _, err := ParsePolicy(string(policy)); err != nil {
		return nil, err
	}
	return &Chunker{MaxLength: maxLength, Overlap: overlap, Policy: policy}, nil
}

// Chunk splits doc.RawText. Start and End are byte offsets, so
// doc.RawText[c.Start:c.End] == c.Text, and every chunk after the first starts
// at or before the previous chunk's end. Whitespace-only text yields no chunks.
func (c *Chunker) Chunk(doc *models.Document) []*models.Chunk {
	text := doc.RawText
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var chunks []*models.Chunk
	start := 0
	for ordinal := 0; ; ordinal++ {
		limit := advanceRunes(text, start, c.MaxLength)
		end := limit
		if limit < len(text) {
			end = c.boundary(text, start, limit)
		}
		chunks = append(chunks, &models.Chunk{
			ID:         fileid.ChunkID(doc.ID, ordinal),
			DocumentID: doc.ID,
			SourcePath: doc.SourcePath,
			Text:       text[start:end],
			Ordinal:    ordinal,
			Start:      start,
			End:        end,
		})
		if end >= len(text) {
			break
		}
		next := retreatRunes(text, end, c.Overlap)
		if next <= start {
			_, size := utf8.DecodeRuneInString(text[start:])
			next = start + size
		}
		start = next
	}
	return chunks
}

// boundary returns the cut position for the window text[start:limit]. Natural breaks in
// the first half of the window are ignored so chunks stay close to MaxLength.
func (c *Chunker) boundary(text string, start, limit int) int {
	window := text[start:limit]
	minCut := len(window) / 2
	var finders []func(string) int
	switch c.Policy {
	case PolicyHard:
		return limit
	case PolicySentence:
		finders = []func(string) int{lastSentenceEnd, lastSpace}
	default:
		finders = []func(string) int{lastParagraphBreak, lastSentenceEnd, lastSpace}
	}
	for _, find := range finders {
		if cut := find(window); cut > minCut {
			return start + cut
		}
	}
	return limit
}

// lastParagraphBreak returns the offset just past the last blank line in s, or -1.
func lastParagraphBreak(s string) int {
	i := strings.LastIndex(s, "\n\n")
	if i < 0 {
		return -1
	}
	return i + 2
}

// lastSentenceEnd returns the offset just past the last sentence terminator that is
// followed by whitespace, or a single line break, whichever comes later; -1 if none.
func lastSentenceEnd(s string) int {
	for i := len(s) - 1; i > 0; i-- {
		if s[i] == '\n' {
			return i + 1
		}
		if s[i] == ' ' || s[i] == '\t' {
			switch s[i-1] {
			case '.', '!', '?', ';':
				return i + 1
			}
		}
	}
	return -1
}

// lastSpace returns the offset just past the last whitespace rune in s, or -1.
func lastSpace(s string) int {
	i := strings.LastIndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return -1
	}
	_, size := utf8.DecodeRuneInString(s[i:])
	return i + size
}

func advanceRunes(s string, from, n int) int {
	i := from
	for k := 0; k < n && i < len(s); k++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

func retreatRunes(s string, from, n int) int {
	i := from
	for k := 0; k < n && i > 0; k++ {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return i
}
