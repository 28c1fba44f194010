package onnx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testVocab = []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "hello", "world", "!", "un", "##aff", "##able", "cafe", ","}

func writeVocab(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(testVocab, "\n")+"\n"), 0o600))
	return path
}

func TestTokenize(t *testing.T) {
	w, err := LoadVocab(writeVocab(t))
	require.NoError(t, err)

	assert.Equal(t, []int64{4, 11, 5, 6}, w.Tokenize("Hello, WORLD!"))
	assert.Equal(t, []int64{7, 8, 9}, w.Tokenize("unaffable"))
	assert.Equal(t, []int64{10}, w.Tokenize("Café"))
	assert.Equal(t, []int64{1}, w.Tokenize("zebra"))
}

func TestEncode_PadsAndTruncates(t *testing.T) {
	w, err := LoadVocab(writeVocab(t))
	require.NoError(t, err)

	ids, mask, types := w.Encode("hello world", 6)
	assert.Equal(t, []int64{2, 4, 5, 3, 0, 0}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1, 0, 0}, mask)
	assert.Equal(t, make([]int64, 6), types)

	ids, mask, _ = w.Encode("hello world hello world", 4)
	assert.Equal(t, []int64{2, 4, 5, 3}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1}, mask)
}

func TestNewWordPiece_MissingSpecialTokens(t *testing.T) {
	_, err := NewWordPiece(map[string]int64{"hello": 0})
	assert.Error(t, err)
}
