package embedding

import (
	"reflect"
	"testing"
)

func TestHashTokenizer_Tokenize(t *testing.T) {
	ids, attn, types := HashTokenizer{}.Tokenize("hello world", 10)
	if len(ids) != 10 || len(attn) != 10 || len(types) != 10 {
		t.Fatalf("lengths: ids=%d attn=%d types=%d", len(ids), len(attn), len(types))
	}
	if ids[0] != clsToken || ids[3] != sepToken {
		t.Errorf("ids = %v, want [CLS] w w [SEP] ...", ids)
	}
	for i, id := range ids[1:3] {
		if id < firstWordToken || id >= vocabSize {
			t.Errorf("word %d id %d outside vocabulary", i, id)
		}
	}
	want := []int64{1, 1, 1, 1, 0, 0, 0, 0, 0, 0}
	if !reflect.DeepEqual(attn, want) {
		t.Errorf("attention mask = %v, want %v", attn, want)
	}
}

func TestHashTokenizer_Truncates(t *testing.T) {
	ids, attn, _ := HashTokenizer{}.Tokenize("a b c d e f g h", 4)
	if len(ids) != 4 || ids[3] != sepToken {
		t.Fatalf("ids = %v", ids)
	}
	for i, a := range attn {
		if a != 1 {
			t.Errorf("attention[%d] = %d, want 1", i, a)
		}
	}
}

func TestHashTokenizer_Deterministic(t *testing.T) {
	tok := HashTokenizer{VocabSize: 5000}
	a, _, _ := tok.Tokenize("leave policy", 8)
	b, _, _ := tok.Tokenize("Leave, policy!", 8)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("same words should give same ids: %v vs %v", a, b)
	}
	for _, id := range a[1:3] {
		if id >= 5000 {
			t.Errorf("id %d exceeds custom vocabulary", id)
		}
	}
}

func TestSplitWords(t *testing.T) {
	got := SplitWords("  Leave-days: 12,  per YEAR ")
	want := []string{"leave", "days", "12", "per", "year"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitWords = %v, want %v", got, want)
	}
	if len(SplitWords("")) != 0 {
		t.Error("empty string should return no words")
	}
}
