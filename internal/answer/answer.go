// Package answer serves grounded question answering: retrieve passages,
// compose a cited prompt, call a generative model, and return the answer
// with its sources.
package answer

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/passagedev/passage/internal/prompt"
	"github.com/passagedev/passage/internal/retrieve"
)

// DefaultTopK is used when a request does not specify how many passages
// to retrieve.
const DefaultTopK = 5

// DefaultSystemText instructs the model to stay inside the retrieved
// context and cite what it uses.
const DefaultSystemText = "You are a helpful assistant. Answer using only the provided context. " +
	"Cite passages by their [n] markers. If the context does not contain " +
	"the answer, say so instead of guessing."

// snippetRunes bounds how much chunk text a Source carries.
const snippetRunes = 160

// Source is one cited passage of an answer, in citation order.
type Source struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float32 `json:"score"`
}

// Response is the full answer to one question.
type Response struct {
	Answer  string   `json:"answer"`
	Sources []Source `json:"sources"`
	Prompt  string   `json:"prompt"`
}

// Retriever is the slice of the retrieval contract the service needs.
type Retriever interface {
	Retrieve(ctx context.Context, query string, topK int, opts ...retrieve.QueryOption) ([]retrieve.Result, error)
}

// Generator produces free text from a fully rendered prompt. The genkit
// implementation lives in this package; tests substitute their own.
type Generator interface {
	Generate(ctx context.Context, promptText string) (string, error)
}

// Option configures a Service.
type Option func(*Service)

// WithSystemText overrides the system instructions.
func WithSystemText(text string) Option {
	return func(s *Service) {
		if text != "" {
			s.systemText = text
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service answers questions against the indexed corpus.
type Service struct {
	retriever  Retriever
	composer   *prompt.Composer
	generator  Generator
	systemText string
	logger     *slog.Logger
}

// New returns a Service over the given stages.
func New(retriever Retriever, composer *prompt.Composer, generator Generator, opts ...Option) *Service {
	s := &Service{
		retriever:  retriever,
		composer:   composer,
		generator:  generator,
		systemText: DefaultSystemText,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Answer retrieves context for the question, composes the prompt, and
// calls the generator. topK values below 1 fall back to DefaultTopK. A
// failure in any stage aborts the whole query; an empty index does not —
// the model is asked with an explicitly empty context instead.
func (s *Service) Answer(ctx context.Context, question string, topK int, opts ...retrieve.QueryOption) (Response, error) {
	if topK < 1 {
		topK = DefaultTopK
	}

	ctx, span := otel.Tracer("passage/answer").Start(ctx, "answer.query",
		trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()

	results, err := s.retriever.Retrieve(ctx, question, topK, opts...)
	if err != nil {
		span.RecordError(err)
		return Response{}, fmt.Errorf("retrieving context: %w", err)
	}
	span.SetAttributes(attribute.Int("retrieved", len(results)))

	composed := s.composer.Compose(s.systemText, question, results)
	promptText := composed.Text()

	text, err := s.generator.Generate(ctx, promptText)
	if err != nil {
		span.RecordError(err)
		return Response{}, fmt.Errorf("generating answer: %w", err)
	}

	s.logger.Debug("question answered",
		"question_length", len(question),
		"retrieved", len(results),
		"cited", len(composed.Citations))

	return Response{
		Answer:  text,
		Sources: sources(composed.Citations, results),
		Prompt:  promptText,
	}, nil
}

// sources maps citations back to their retrieval results in inclusion
// order. Citations are a prefix of results by construction, but matching
// by chunk id keeps this robust if composition ever reorders.
func sources(citations []prompt.Citation, results []retrieve.Result) []Source {
	byID := make(map[string]retrieve.Result, len(results))
	for _, r := range results {
		byID[r.ChunkID] = r
	}

	out := make([]Source, 0, len(citations))
	for _, cit := range citations {
		src := Source{ID: cit.ChunkID, Score: cit.Score, Title: title(cit.Metadata)}
		if res, ok := byID[cit.ChunkID]; ok {
			src.Snippet = snippet(res.Text)
		}
		out = append(out, src)
	}
	return out
}

func title(metadata map[string]string) string {
	if t := metadata["title"]; t != "" {
		return t
	}
	if u := metadata["source_uri"]; u != "" {
		return u
	}
	return metadata["document_id"]
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= snippetRunes {
		return text
	}
	return string(runes[:snippetRunes]) + "…"
}
