package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/decksense/presentation-backend/pkg/datamodel"
	errorsx "github.com/decksense/presentation-backend/pkg/errors"
)

// slideFallbackSummaryLength bounds the summary taken from an unparseable
// model reply.
const slideFallbackSummaryLength = 200

// Client implements the ai.Analyzer interface for Gemini.
type Client struct {
	client *genai.Client
	model  string
}

// NewClient creates a new Gemini analyzer.
func NewClient(ctx context.Context, apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing Gemini API key: %w", errorsx.ErrInvalidArgument)
	}
	if model == "" {
		model = DefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating Gemini client: %w", err)
	}

	return &Client{
		client: client,
		model:  model,
	}, nil
}

// Name returns the client name.
func (c *Client) Name() string {
	return "gemini"
}

// AnalyzeGlobal examines the whole deck in a single call. A reply that cannot
// be parsed as JSON is not an error: the raw text is kept as a fallback
// summary so processing can continue.
func (c *Client) AnalyzeGlobal(ctx context.Context, slides []datamodel.ExtractedSlide, metadata datamodel.PresentationMetadata) (*datamodel.GlobalAnalysis, error) {
	prompt := globalAnalysisPrompt + "\n\nPRESENTATION TO ANALYZE:\n" + buildGlobalContext(slides, metadata)

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(analysisTemperature),
		TopP:        genai.Ptr(analysisTopP),
	})
	if err != nil {
		return nil, fmt.Errorf("generating global analysis: %w", err)
	}

	raw := responseText(resp)
	var insights datamodel.GlobalInsights
	if err := json.Unmarshal([]byte(ExtractJSONText(raw)), &insights); err != nil {
		return &datamodel.GlobalAnalysis{Fallback: raw}, nil
	}
	return &datamodel.GlobalAnalysis{Structured: &insights}, nil
}

// AnalyzeSlide examines one slide, attaching its rendered image when
// available. Parse failures degrade to a summary-only result built from the
// raw reply.
func (c *Client) AnalyzeSlide(ctx context.Context, slide datamodel.ExtractedSlide, global *datamodel.GlobalAnalysis, priorSummaries []string) (*datamodel.SlideData, error) {
	var parts []*genai.Part

	if slide.ImageBase64 != "" {
		imageData, err := base64.StdEncoding.DecodeString(slide.ImageBase64)
		if err != nil {
			return nil, fmt.Errorf("decoding slide %d image: %w", slide.SlideNumber, err)
		}
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: "image/jpeg",
				Data:     imageData,
			},
		})
	}

	parts = append(parts, &genai.Part{Text: buildSlidePrompt(slide, global, priorSummaries)})

	contents := []*genai.Content{
		{
			Role:  genai.RoleUser,
			Parts: parts,
		},
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(analysisTemperature),
		TopP:        genai.Ptr(analysisTopP),
		TopK:        genai.Ptr(analysisTopK),
	})
	if err != nil {
		return nil, fmt.Errorf("generating slide %d analysis: %w", slide.SlideNumber, err)
	}

	raw := responseText(resp)
	var analysis slideAnalysis
	if err := json.Unmarshal([]byte(ExtractJSONText(raw)), &analysis); err != nil {
		return &datamodel.SlideData{
			SlideNumber:  slide.SlideNumber,
			SlideTitle:   slide.SlideTitle,
			SlideSummary: truncateRunes(raw, slideFallbackSummaryLength),
			Elements:     []datamodel.SlideElement{},
		}, nil
	}
	return analysis.toSlideData(slide), nil
}

// Summarize produces the executive summary. The caller is expected to build a
// local summary when this returns an error.
func (c *Client) Summarize(ctx context.Context, slides []datamodel.SlideData, global *datamodel.GlobalAnalysis) (string, error) {
	summaryContext := buildSummaryContext(slides, global)
	// Bound the context so long decks don't overflow the call
	summaryContext = truncateRunes(summaryContext, 2000)

	prompt := fmt.Sprintf(`Based on the analysis of this presentation, generate a concise executive summary.

CONTEXT (SUMMARIZED):
%s

GENERATE AN EXECUTIVE SUMMARY INCLUDING:
1. **Objective**: Central purpose of the presentation
2. **Key Concepts**: The 3-4 most important concepts
3. **Conclusions**: Main insights or recommendations
4. **Applicability**: How it can be applied

Keep the summary concise (300 words maximum).`, summaryContext)

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr(summaryTemperature),
	})
	if err != nil {
		return "", fmt.Errorf("generating executive summary: %w", err)
	}
	return strings.TrimSpace(responseText(resp)), nil
}

func buildGlobalContext(slides []datamodel.ExtractedSlide, metadata datamodel.PresentationMetadata) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PRESENTATION METADATA:\n")
	fmt.Fprintf(&sb, "- Title: %s\n", defaultString(metadata.Title, "Not provided"))
	fmt.Fprintf(&sb, "- Author: %s\n", defaultString(metadata.Author, "Not provided"))
	fmt.Fprintf(&sb, "- Total slides: %d\n", metadata.TotalSlides)
	fmt.Fprintf(&sb, "- Source file: %s\n\n", defaultString(metadata.SourceFilename, "Not provided"))
	sb.WriteString("SLIDE CONTENT:\n")

	for _, slide := range slides {
		fmt.Fprintf(&sb, "\n--- SLIDE %d ---\n", slide.SlideNumber)
		fmt.Fprintf(&sb, "Title: %s\n", defaultString(slide.SlideTitle, "Untitled"))
		fmt.Fprintf(&sb, "Layout: %s\n", defaultString(slide.LayoutName, "Unknown"))
		if slide.ExtractedText != "" {
			fmt.Fprintf(&sb, "Text content:\n%s\n", slide.ExtractedText)
		}
	}
	return sb.String()
}

func buildSlidePrompt(slide datamodel.ExtractedSlide, global *datamodel.GlobalAnalysis, priorSummaries []string) string {
	var sb strings.Builder
	sb.WriteString("You are an expert presentation analyst. Analyze this slide in detail and provide a structured JSON analysis.\n\n")
	sb.WriteString("SLIDE DATA:\n")
	fmt.Fprintf(&sb, "- Number: %d\n", slide.SlideNumber)
	fmt.Fprintf(&sb, "- Title: %s\n", defaultString(slide.SlideTitle, "Untitled"))
	fmt.Fprintf(&sb, "- Layout: %s\n", defaultString(slide.LayoutName, "Unknown"))
	if slide.ExtractedText != "" {
		fmt.Fprintf(&sb, "- Extracted text:\n%s\n", slide.ExtractedText)
	}
	sb.WriteString("\n")
	sb.WriteString(slideAnalysisPrompt)

	if global != nil {
		sb.WriteString("\n\nPRESENTATION CONTEXT:\n")
		fmt.Fprintf(&sb, "Overall summary: %s\n", global.OverallSummary())
		if concepts := global.KeyConcepts(); len(concepts) > 0 {
			fmt.Fprintf(&sb, "Key concepts: %s\n", strings.Join(concepts, ", "))
		}
	}
	if len(priorSummaries) > 0 {
		sb.WriteString("\nPRECEDING SLIDES:\n")
		for _, s := range priorSummaries {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}
	return sb.String()
}

func buildSummaryContext(slides []datamodel.SlideData, global *datamodel.GlobalAnalysis) string {
	var sb strings.Builder
	sb.WriteString("GLOBAL ANALYSIS:\n")
	if global != nil {
		if payload, err := json.MarshalIndent(global, "", "  "); err == nil {
			sb.Write(payload)
		}
	}
	sb.WriteString("\n\nSLIDE SUMMARIES:\n")

	for _, slide := range slides {
		fmt.Fprintf(&sb, "\n--- SLIDE %d ---\n", slide.SlideNumber)
		fmt.Fprintf(&sb, "Title: %s\n", defaultString(slide.SlideTitle, "Untitled"))
		fmt.Fprintf(&sb, "Summary: %s\n", slide.SlideSummary)
	}
	return sb.String()
}
