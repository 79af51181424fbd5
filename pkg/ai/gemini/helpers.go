package gemini

import (
	"regexp"
	"strings"

	"github.com/gofrs/uuid"
	"google.golang.org/genai"

	"github.com/decksense/presentation-backend/pkg/datamodel"
)

var (
	fencedBlockRE   = regexp.MustCompile("(?is)```(?:json)?\n(.*?)```")
	trailingCommaRE = regexp.MustCompile(`,(\s*[}\]])`)
)

// Conversational prefixes the model sometimes emits despite the format
// instructions.
var chattyPrefixes = []string{"Here is", "Here's", "JSON:", "Result:"}

// ExtractJSONText isolates a JSON object from a possibly contaminated model
// reply.
//
// Strategy:
//  1. If the text already starts with '{' and ends with '}', return it as is.
//  2. Extract the first fenced block (```json ... ``` or ``` ... ```).
//  3. Strip conversational prefixes.
//  4. Slice from the first '{' to the last '}' and repair trailing commas.
//
// When none of the heuristics apply the raw text is returned unchanged, which
// lets the caller fall back on an unstructured result.
func ExtractJSONText(raw string) string {
	text := strings.TrimSpace(raw)

	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		return text
	}

	if m := fencedBlockRE.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if strings.HasPrefix(candidate, "{") {
			return candidate
		}
	}

	for _, p := range chattyPrefixes {
		if len(text) >= len(p) && strings.EqualFold(text[:len(p)], p) {
			text = strings.Trim(text[len(p):], ": \n")
		}
	}

	first := strings.Index(text, "{")
	last := strings.LastIndex(text, "}")
	if first != -1 && last > first {
		candidate := text[first : last+1]
		candidate = trailingCommaRE.ReplaceAllString(candidate, "$1")
		return strings.TrimSpace(candidate)
	}

	return raw
}

// responseText concatenates the text parts of all candidates.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}

	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				sb.WriteString(part.Text)
			}
		}
	}
	return sb.String()
}

// slideAnalysis mirrors the JSON object the slide analysis prompt requests.
type slideAnalysis struct {
	SlideTitle   string         `json:"slide_title"`
	LayoutType   string         `json:"layout_type"`
	SlideSummary string         `json:"slide_summary"`
	Elements     []slideElement `json:"elements"`
}

type slideElement struct {
	ElementID        string                          `json:"element_id"`
	ElementType      string                          `json:"element_type"`
	RawContent       string                          `json:"raw_content"`
	SemanticAnalysis map[string]any                  `json:"semantic_analysis"`
	Relationships    []datamodel.ElementRelationship `json:"relationships_to_other_elements"`
}

// toSlideData merges the analysis with the extracted slide, filling gaps with
// the extraction results.
func (a *slideAnalysis) toSlideData(slide datamodel.ExtractedSlide) *datamodel.SlideData {
	elements := make([]datamodel.SlideElement, 0, len(a.Elements))
	for _, e := range a.Elements {
		elementID := e.ElementID
		if elementID == "" {
			elementID = "elem_" + uuid.Must(uuid.NewV4()).String()[:8]
		}
		semantic := e.SemanticAnalysis
		if semantic == nil {
			semantic = map[string]any{}
		}
		elements = append(elements, datamodel.SlideElement{
			ElementID:        elementID,
			ElementType:      defaultString(e.ElementType, "unknown"),
			RawContent:       e.RawContent,
			SemanticAnalysis: semantic,
			Relationships:    e.Relationships,
		})
	}

	return &datamodel.SlideData{
		SlideNumber:  slide.SlideNumber,
		SlideTitle:   defaultString(a.SlideTitle, slide.SlideTitle),
		SlideSummary: a.SlideSummary,
		Elements:     elements,
	}
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// truncateRunes bounds a string without splitting multibyte characters.
func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
