package gemini

// DefaultModel is the Gemini model used when the configuration doesn't
// specify one.
const DefaultModel = "gemini-2.5-flash"

// Generation parameters for the per-slide and global analysis calls. Low
// temperature keeps the structured JSON replies stable.
const (
	analysisTemperature float32 = 0.1
	analysisTopP        float32 = 0.8
	analysisTopK        float32 = 40

	summaryTemperature float32 = 0.2
)

const globalAnalysisPrompt = `You are a senior business analyst specialized in presentation analysis.
Analyze this complete presentation and provide a structured analysis.

FORMAT INSTRUCTIONS (IMPORTANT):
1. Reply ONLY with valid JSON (RFC 8259).
2. Do NOT include explanations, markdown, comments, or text before or after.
3. Do NOT use trailing commas or // and /* */ comments.
4. All keys and strings MUST use double quotes.

Expected structure:
{
    "overall_summary": "Concise executive summary of the presentation (2-3 sentences)",
    "key_concepts": ["concept1", "concept2", "concept3"],
    "narrative_flow_analysis": "Description of how the ideas flow from start to end",
    "presentation_type": "business|academic|marketing|training|other",
    "target_audience": "Who this presentation was created for",
    "main_objective": "Main objective of the presentation"
}

Output only the JSON object.`

const slideAnalysisPrompt = `Provide a detailed analysis of this slide in JSON format.

FORMAT INSTRUCTIONS (IMPORTANT):
1. Reply ONLY with valid JSON (no markdown, no explanations, no extra text).
2. Use double quotes only. Do not use comments or dangling commas.
3. If a field cannot be determined, use an empty string, array or object as appropriate.

Expected object structure:
{
    "slide_title": "Identified slide title",
    "layout_type": "Visual layout classification (e.g. 'Title and Content', 'Comparison', 'Flowchart', 'Chart')",
    "slide_summary": "Summary of the main point or message of this slide (1-2 sentences)",
    "elements": [
        {
            "element_id": "Unique element ID",
            "element_type": "diagram|chart|text_block|image|table|flowchart",
            "raw_content": "Raw extracted content (block text, or a brief description for images/diagrams)",
            "semantic_analysis": {
                "description": "Visual description of the element",
                "purpose_and_meaning": "Why this element is here and what information it conveys",
                "key_data_points": ["point1", "point2"]
            },
            "relationships_to_other_elements": [
                {
                    "related_element_id": "ID of the related element",
                    "relationship_type": "describes|supports|connects_to",
                    "details": "Description of the relationship"
                }
            ]
        }
    ]
}

Output only the JSON object.`
