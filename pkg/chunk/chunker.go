package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"

	"tokenizerd/pkg/utils"
)

// Chunk represents a single piece of a split document.
type Chunk struct {
	Content    string   `json:"content"`            // The chunk text (includes heading context when hierarchy tracking fires)
	Headings   []string `json:"headings,omitempty"` // Heading trail extracted from the chunk, in document order
	TokenCount int      `json:"token_count"`        // Length of Content measured by the lenFunc used for the split
}

// Config holds token budgets for the splitter.
type Config struct {
	MaxChunkSize int // Maximum chunk size in tokens (triggers recursive split if exceeded)
	ChunkOverlap int // Overlap between chunks in tokens (for recursive fallback)
}

// DefaultConfig returns the budgets applied when callers pass zero values.
func DefaultConfig() Config {
	return Config{
		MaxChunkSize: 512,
		ChunkOverlap: 50,
	}
}

// normalize fills in defaults and keeps the overlap strictly below the budget
// so the splitter always makes forward progress. A fully unset config gets
// the standard budgets; an explicit budget with zero overlap is honored as
// written.
func (c Config) normalize() Config {
	defaults := DefaultConfig()
	if c.MaxChunkSize <= 0 {
		c.MaxChunkSize = defaults.MaxChunkSize
		if c.ChunkOverlap == 0 {
			c.ChunkOverlap = defaults.ChunkOverlap
		}
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = defaults.ChunkOverlap
	}
	if c.ChunkOverlap >= c.MaxChunkSize {
		c.ChunkOverlap = c.MaxChunkSize / 4
	}
	return c
}

// Split breaks markdown into chunks whose lenFunc measure fits within
// cfg.MaxChunkSize, using a hybrid strategy:
// 1. Primary: split by markdown headers, preserving heading hierarchy
// 2. Fallback: recursive character splitting for sections still over budget
//
// lenFunc is the length measure, normally a token counter bound to the active
// tokenizer. A nil lenFunc falls back to counting runes.
func Split(markdown string, cfg Config, lenFunc func(string) int) ([]Chunk, error) {
	if markdown == "" {
		return nil, nil
	}

	cfg = cfg.normalize()
	if lenFunc == nil {
		lenFunc = utf8.RuneCountInString
	}

	recursiveSplitter := textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithLenFunc(lenFunc),
	)

	// Primary splitter: markdown headers with hierarchy tracking.
	// Sections that still exceed the budget go through the recursive splitter.
	splitter := textsplitter.NewMarkdownTextSplitter(
		textsplitter.WithHeadingHierarchy(true),
		textsplitter.WithChunkSize(cfg.MaxChunkSize),
		textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		textsplitter.WithSecondSplitter(recursiveSplitter),
		textsplitter.WithLenFunc(lenFunc),
	)

	parts, err := splitter.SplitText(markdown)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to split markdown: %w", utils.ErrChunking, err)
	}

	chunks := make([]Chunk, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			continue
		}

		chunks = append(chunks, Chunk{
			Content:    part,
			Headings:   ExtractHeadings(part),
			TokenCount: lenFunc(part),
		})
	}

	return chunks, nil
}
