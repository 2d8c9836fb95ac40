package vectorsync

import (
	"fmt"
	"strings"

	"LegisGraph/backend/go/internal/config"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer splits text into tokens and joins a run of tokens back into text.
type Tokenizer interface {
	Split(text string) []string
	Join(tokens []string) string
}

type tiktokenTokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTiktokenTokenizer loads a BPE encoding such as "cl100k_base", the
// tokenizer of text-embedding-3 and ada-002.
func NewTiktokenTokenizer(encoding string) (Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding %s: %w", encoding, err)
	}
	return tiktokenTokenizer{enc: enc}, nil
}

func (t tiktokenTokenizer) Split(text string) []string {
	ids := t.enc.Encode(text, nil, nil)
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = t.enc.Decode([]int{id})
	}
	return out
}

func (t tiktokenTokenizer) Join(tokens []string) string {
	return strings.ToValidUTF8(strings.Join(tokens, ""), "")
}

// WordTokenizer treats whitespace-separated words as tokens. It is used when
// no BPE encoding can be loaded.
type WordTokenizer struct{}

func (WordTokenizer) Split(text string) []string { return strings.Fields(text) }
func (WordTokenizer) Join(tokens []string) string { return strings.Join(tokens, " ") }

// Chunker cuts free text into overlapping token windows.
type Chunker struct {
	tok      Tokenizer
	size     int
	overlap  int
	maxWords int
}

func NewChunker(tok Tokenizer, cfg config.VectorConfig) *Chunker {
	size := cfg.ChunkTokens
	if size <= 0 {
		size = 512
	}
	overlap := cfg.ChunkOverlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	return &Chunker{tok: tok, size: size, overlap: overlap, maxWords: cfg.MaxWords}
}

// Split collapses whitespace, windows the tokens and truncates each chunk to
// maxWords words. Empty text has no chunks.
func (c *Chunker) Split(text string) []string {
	text = strings.Join(strings.Fields(text), " ")
	if text == "" {
		return nil
	}
	tokens := c.tok.Split(text)
	step := c.size - c.overlap
	var chunks []string
	for start := 0; start < len(tokens); start += step {
		end := start + c.size
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := truncateWords(strings.TrimSpace(c.tok.Join(tokens[start:end])), c.maxWords)
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(tokens) {
			break
		}
	}
	return chunks
}

func truncateWords(s string, max int) string {
	if max <= 0 {
		return s
	}
	words := strings.Fields(s)
	if len(words) <= max {
		return s
	}
	return strings.Join(words[:max], " ")
}
