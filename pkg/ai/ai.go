package ai

import (
	"context"

	"github.com/decksense/presentation-backend/pkg/datamodel"
)

// Analyzer produces the semantic layers of a transcription: the
// presentation-wide analysis, the per-slide analysis and the executive
// summary.
type Analyzer interface {
	// AnalyzeGlobal examines the whole deck and returns the presentation-wide
	// insights. When the model reply cannot be parsed as JSON the result is a
	// fallback carrying the raw reply text.
	AnalyzeGlobal(ctx context.Context, slides []datamodel.ExtractedSlide, metadata datamodel.PresentationMetadata) (*datamodel.GlobalAnalysis, error)

	// AnalyzeSlide examines one slide, optionally with its rendered image and
	// the summaries of recently analyzed slides as context.
	AnalyzeSlide(ctx context.Context, slide datamodel.ExtractedSlide, global *datamodel.GlobalAnalysis, priorSummaries []string) (*datamodel.SlideData, error)

	// Summarize produces the executive summary from the analyzed slides and
	// the global insights.
	Summarize(ctx context.Context, slides []datamodel.SlideData, global *datamodel.GlobalAnalysis) (string, error)

	// Name identifies the provider.
	Name() string
}

// Embedder turns texts into vectors for similarity search.
type Embedder interface {
	// EmbedTexts generates one vector per input text, preserving order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensionality returns the vector size the embedder produces.
	Dimensionality() uint32
}
