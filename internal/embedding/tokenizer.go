package embedding

import (
	"hash/fnv"
	"strings"
	"unicode"
)

// BERT special token IDs and the default vocabulary size.
const (
	clsToken  = 101
	sepToken  = 102
	vocabSize = 30522
	// firstWordToken keeps hashed word IDs clear of the special token range.
	firstWordToken = 1000
)

// Tokenizer produces the three BERT model inputs, padded to maxTokens.
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer maps each word to a hashed vocabulary slot. It needs no vocabulary file;
// models exported with a real WordPiece vocabulary should supply their own Tokenizer.
type HashTokenizer struct {
	// VocabSize bounds word IDs. Zero means the BERT base vocabulary size.
	VocabSize int
}

// Tokenize wraps the words of text in [CLS] ... [SEP]. Words past maxTokens-2 are dropped.
func (t HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens < 2 {
		maxTokens = 256
	}
	vocab := t.VocabSize
	if vocab <= firstWordToken {
		vocab = vocabSize
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	words := SplitWords(text)
	if len(words) > maxTokens-2 {
		words = words[:maxTokens-2]
	}
	inputIDs[0] = clsToken
	for i, w := range words {
		inputIDs[i+1] = firstWordToken + int64(termHash(w)%uint64(vocab-firstWordToken))
	}
	inputIDs[len(words)+1] = sepToken
	for i := 0; i < len(words)+2; i++ {
		attentionMask[i] = 1
	}
	return inputIDs, attentionMask, tokenTypeIDs
}

// SplitWords lower-cases text and splits it into runs of letters and digits.
func SplitWords(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// termHash is the 64-bit FNV-1a hash of term.
func termHash(term string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	return h.Sum64()
}
