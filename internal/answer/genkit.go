package answer

import (
	"context"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
)

// GenkitGenerator calls a generative model through genkit.
type GenkitGenerator struct {
	g     *genkit.Genkit
	model string // fully qualified, e.g. "googleai/gemini-2.0-flash"
}

// NewGenkitGenerator returns a Generator bound to the given model.
func NewGenkitGenerator(g *genkit.Genkit, model string) *GenkitGenerator {
	return &GenkitGenerator{g: g, model: model}
}

// Generate implements Generator.
func (gg *GenkitGenerator) Generate(ctx context.Context, promptText string) (string, error) {
	response, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.model),
		ai.WithPrompt(promptText),
	)
	if err != nil {
		return "", fmt.Errorf("model %s: %w", gg.model, err)
	}
	return response.Text(), nil
}
