// Package prompt assembles retrieved passages into a grounded prompt.
//
// Composition is pure data work: it selects passages under a character
// budget, tags each with a citation marker, and returns the structured
// prompt. Calling a generative model with it is the caller's business.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/passagedev/passage/internal/retrieve"
)

// DefaultMinContextChars is the smallest context budget a Composer accepts.
// Anything lower cannot hold a useful passage.
const DefaultMinContextChars = 64

var (
	// ErrBudgetTooSmall indicates a context budget below the configured
	// minimum. This is a configuration error, not a runtime condition.
	ErrBudgetTooSmall = errors.New("context budget below minimum")
)

// Citation maps one marker in the context block back to its source chunk.
// Markers are 1-based and appear in inclusion order.
type Citation struct {
	Marker   int
	ChunkID  string
	Score    float32
	Metadata map[string]string
}

// Composed is the assembled prompt. It references a model call but never
// makes one.
type Composed struct {
	System    string
	Query     string
	Context   string
	Citations []Citation
}

// Text renders the full prompt as sent to a generative model: system
// instructions, the cited context block, then the user's question. An
// empty context yields an explicit "no context" section so the model is
// told, not left to guess.
func (c Composed) Text() string {
	var b strings.Builder
	if c.System != "" {
		b.WriteString(c.System)
		b.WriteString("\n\n")
	}
	if c.Context != "" {
		b.WriteString("Context:\n")
		b.WriteString(c.Context)
		b.WriteString("\n")
	} else {
		b.WriteString("Context: (no relevant passages found)\n\n")
	}
	b.WriteString("Question: ")
	b.WriteString(c.Query)
	return b.String()
}

// Option configures a Composer.
type Option func(*Composer)

// WithMinContextChars overrides the minimum accepted budget.
func WithMinContextChars(n int) Option {
	return func(c *Composer) {
		if n > 0 {
			c.minContextChars = n
		}
	}
}

// Composer builds prompts under a fixed context budget. The budget counts
// runes of included passage text, the same unit the chunker cuts by, so a
// budget of N holds roughly N/chunk_size passages.
type Composer struct {
	maxContextChars int
	minContextChars int
}

// New returns a Composer with the given context budget in runes. Budgets
// below the minimum are rejected with ErrBudgetTooSmall.
func New(maxContextChars int, opts ...Option) (*Composer, error) {
	c := &Composer{
		maxContextChars: maxContextChars,
		minContextChars: DefaultMinContextChars,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.maxContextChars < c.minContextChars {
		return nil, fmt.Errorf("%w: budget %d, minimum %d",
			ErrBudgetTooSmall, c.maxContextChars, c.minContextChars)
	}
	return c, nil
}

// Compose greedily includes results in rank order until the next passage
// would overflow the budget. Every included passage is wrapped with a
// [n] marker matching its citation. Two special cases:
//
//   - no results: empty context, empty citations, never an error;
//   - the rank-0 passage alone exceeds the budget: it is included
//     truncated to the budget rather than producing an empty context.
func (c *Composer) Compose(systemText, queryText string, results []retrieve.Result) Composed {
	composed := Composed{System: systemText, Query: queryText}

	var (
		block strings.Builder
		used  int
	)
	for _, res := range results {
		text := res.Text
		runes := []rune(text)

		if used+len(runes) > c.maxContextChars {
			if len(composed.Citations) > 0 {
				break
			}
			// First passage alone overflows: truncate instead of
			// returning nothing.
			runes = runes[:c.maxContextChars]
			text = string(runes)
		}

		marker := len(composed.Citations) + 1
		fmt.Fprintf(&block, "[%d] %s\n\n", marker, text)
		used += len(runes)

		composed.Citations = append(composed.Citations, Citation{
			Marker:   marker,
			ChunkID:  res.ChunkID,
			Score:    res.Score,
			Metadata: res.Metadata,
		})

		if used >= c.maxContextChars {
			break
		}
	}

	composed.Context = strings.TrimSuffix(block.String(), "\n")
	return composed
}
