package vectorsync

import (
	"reflect"
	"testing"

	"LegisGraph/backend/go/internal/config"
)

func TestChunkerWindowsWithOverlap(t *testing.T) {
	c := NewChunker(WordTokenizer{}, config.VectorConfig{ChunkTokens: 4, ChunkOverlap: 1})
	got := c.Split("a  b\tc\n d e f g")
	want := []string{"a b c d", "d e f g"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split = %q, want %q", got, want)
	}
}

func TestChunkerTruncatesWords(t *testing.T) {
	c := NewChunker(WordTokenizer{}, config.VectorConfig{ChunkTokens: 4, MaxWords: 3})
	got := c.Split("a b c d e f g h")
	want := []string{"a b c", "e f g"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Split = %q, want %q", got, want)
	}
}

func TestChunkerSkipsBlankText(t *testing.T) {
	c := NewChunker(WordTokenizer{}, config.VectorConfig{})
	if got := c.Split(" \n\t "); got != nil {
		t.Errorf("expected no chunks, got %q", got)
	}
}
