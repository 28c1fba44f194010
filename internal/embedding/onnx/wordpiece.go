package onnx

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxWordRunes = 100

// WordPiece is an uncased BERT tokenizer backed by a vocab.txt file.
type WordPiece struct {
	vocab map[string]int64
	cls   int64
	sep   int64
	pad   int64
	unk   int64
}

// LoadVocab reads one token per line; the line number is the token id.
func LoadVocab(path string) (*WordPiece, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocab: %w", err)
	}
	defer f.Close()

	vocab := make(map[string]int64)
	sc := bufio.NewScanner(f)
	var id int64
	for sc.Scan() {
		vocab[strings.TrimRight(sc.Text(), "\r")] = id
		id++
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read vocab: %w", err)
	}
	return NewWordPiece(vocab)
}

func NewWordPiece(vocab map[string]int64) (*WordPiece, error) {
	w := &WordPiece{vocab: vocab}
	for _, special := range []struct {
		token string
		dst   *int64
	}{
		{"[CLS]", &w.cls}, {"[SEP]", &w.sep}, {"[PAD]", &w.pad}, {"[UNK]", &w.unk},
	} {
		id, ok := vocab[special.token]
		if !ok {
			return nil, fmt.Errorf("vocab is missing %s", special.token)
		}
		*special.dst = id
	}
	return w, nil
}

// Encode returns input ids, attention mask and token type ids padded to maxTokens.
func (w *WordPiece) Encode(text string, maxTokens int) (ids, mask, types []int64) {
	ids = make([]int64, maxTokens)
	mask = make([]int64, maxTokens)
	types = make([]int64, maxTokens)
	for i := range ids {
		ids[i] = w.pad
	}

	pieces := w.Tokenize(text)
	if len(pieces) > maxTokens-2 {
		pieces = pieces[:maxTokens-2]
	}
	ids[0], mask[0] = w.cls, 1
	for i, p := range pieces {
		ids[i+1], mask[i+1] = p, 1
	}
	end := len(pieces) + 1
	ids[end], mask[end] = w.sep, 1
	return ids, mask, types
}

// Tokenize splits text into word-piece ids without special tokens.
func (w *WordPiece) Tokenize(text string) []int64 {
	var out []int64
	for _, word := range basicTokens(text) {
		out = append(out, w.wordPieces(word)...)
	}
	return out
}

func (w *WordPiece) wordPieces(word string) []int64 {
	rs := []rune(word)
	if len(rs) > maxWordRunes {
		return []int64{w.unk}
	}
	var out []int64
	for start := 0; start < len(rs); {
		end := len(rs)
		var id int64
		found := false
		for ; end > start; end-- {
			sub := string(rs[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if v, ok := w.vocab[sub]; ok {
				id, found = v, true
				break
			}
		}
		if !found {
			return []int64{w.unk}
		}
		out = append(out, id)
		start = end
	}
	return out
}

// basicTokens lower-cases, strips accents and splits on whitespace and punctuation.
func basicTokens(text string) []string {
	// transformers are stateful, build one per call
	stripAccents := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(stripAccents, strings.ToLower(text))
	if err != nil {
		folded = strings.ToLower(text)
	}
	var tokens []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			tokens = append(tokens, cur.String())
			cur.Reset()
		}
	}
	for _, r := range folded {
		switch {
		case r == 0 || r == unicode.ReplacementChar || (unicode.IsControl(r) && !unicode.IsSpace(r)):
			continue
		case unicode.IsSpace(r):
			flush()
		case isPunct(r) || unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return tokens
}

func isPunct(r rune) bool {
	if (r >= 33 && r <= 47) || (r >= 58 && r <= 64) || (r >= 91 && r <= 96) || (r >= 123 && r <= 126) {
		return true
	}
	return unicode.IsPunct(r)
}
