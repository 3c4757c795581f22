// Package reasoning implements Reasoning-Aware Memory Retrieval: turns are
// chunked and embedded into a vector index scoped session-then-global, and
// each chunk is annotated with a claim node in a small reasoning graph so
// retrieval can surface supporting/contradicting evidence alongside the
// plain similarity hits.
package reasoning

import (
	"strings"
	"unicode/utf8"
)

// ChunkerConfig configures the text chunker.
type ChunkerConfig struct {
	ChunkSize    int    // target chunk size in characters (default 512)
	ChunkOverlap int    // overlap between chunks (default 50)
	Separator    string // separator to split on (default "\n\n")
	Passthrough  bool   // if true, return the entire text as one chunk
}

// DefaultChunkerConfig returns sensible defaults for recursive text splitting.
func DefaultChunkerConfig() ChunkerConfig {
	return ChunkerConfig{
		ChunkSize:    512,
		ChunkOverlap: 50,
		Separator:    "\n\n",
	}
}

// Chunk holds a single chunk of text with its position.
type Chunk struct {
	Text  string
	Index int
}

// ChunkText splits text into overlapping chunks using recursive splitting,
// falling back to passthrough when the text already fits in one chunk —
// the common case for a single conversation turn.
func ChunkText(text string, cfg ChunkerConfig) []Chunk {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 512
	}
	if cfg.ChunkOverlap < 0 {
		cfg.ChunkOverlap = 0
	}

	if cfg.Passthrough || utf8.RuneCountInString(text) <= cfg.ChunkSize {
		return []Chunk{{Text: text, Index: 0}}
	}

	separators := []string{"\n\n", "\n", ". ", " ", ""}
	if cfg.Separator != "" {
		separators = append([]string{cfg.Separator}, separators...)
	}

	return recursiveSplit(text, separators, cfg.ChunkSize, cfg.ChunkOverlap)
}

func recursiveSplit(text string, separators []string, chunkSize, overlap int) []Chunk {
	if utf8.RuneCountInString(text) <= chunkSize {
		return []Chunk{{Text: text}}
	}

	var segments []string
	var usedSep string
	for _, sep := range separators {
		if sep == "" {
			segments = splitByRunes(text, chunkSize)
			usedSep = ""
			break
		}
		parts := strings.Split(text, sep)
		if len(parts) > 1 {
			segments = parts
			usedSep = sep
			break
		}
	}

	if len(segments) == 0 {
		return []Chunk{{Text: text}}
	}

	var chunks []Chunk
	var current strings.Builder
	for _, seg := range segments {
		candidate := current.String()
		if candidate != "" {
			candidate += usedSep
		}
		candidate += seg

		if utf8.RuneCountInString(candidate) > chunkSize && current.Len() > 0 {
			chunks = append(chunks, Chunk{Text: current.String()})

			tail := overlapTail(current.String(), overlap)
			current.Reset()
			if tail != "" {
				current.WriteString(tail)
				current.WriteString(usedSep)
			}
			current.WriteString(seg)
		} else {
			if current.Len() > 0 {
				current.WriteString(usedSep)
			}
			current.WriteString(seg)
		}
	}
	if current.Len() > 0 {
		chunks = append(chunks, Chunk{Text: current.String()})
	}

	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks
}

func overlapTail(s string, n int) string {
	runes := []rune(s)
	if n >= len(runes) {
		return s
	}
	return string(runes[len(runes)-n:])
}

func splitByRunes(text string, n int) []string {
	runes := []rune(text)
	var segments []string
	for i := 0; i < len(runes); i += n {
		end := i + n
		if end > len(runes) {
			end = len(runes)
		}
		segments = append(segments, string(runes[i:end]))
	}
	return segments
}
