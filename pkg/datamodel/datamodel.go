package datamodel

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// TaskState is the lifecycle state of a submitted job, tracked in the task
// store. Transitions: queued -> processing -> completed | failed.
type TaskState string

const (
	TaskStateQueued     TaskState = "queued"
	TaskStateProcessing TaskState = "processing"
	TaskStateCompleted  TaskState = "completed"
	TaskStateFailed     TaskState = "failed"
)

// RecordStatus is the coarse status persisted on the processing record.
type RecordStatus string

const (
	RecordStatusPending    RecordStatus = "pending"
	RecordStatusProcessing RecordStatus = "processing"
	RecordStatusCompleted  RecordStatus = "completed"
	RecordStatusFailed     RecordStatus = "failed"
)

// ProcessingStatus is the fine-grained stage marker persisted at each stage
// boundary of the pipeline.
type ProcessingStatus string

const (
	ProcessingStatusPending           ProcessingStatus = "pending"
	ProcessingStatusExtractingSlides  ProcessingStatus = "extracting_slides"
	ProcessingStatusProcessingSlides  ProcessingStatus = "processing_slides"
	ProcessingStatusGeneratingSummary ProcessingStatus = "generating_summary"
	ProcessingStatusCompleted         ProcessingStatus = "completed"
	ProcessingStatusFailed            ProcessingStatus = "failed"
)

// TranscriptionRequest carries the analysis options for a submission. It is
// immutable once submitted.
type TranscriptionRequest struct {
	FileName          string     `json:"file_name"`
	PresentationTitle string     `json:"presentation_title,omitempty"`
	PresentationDate  *time.Time `json:"presentation_date,omitempty"`
	Author            string     `json:"author,omitempty"`
	PresentationType  string     `json:"presentation_type,omitempty"`
	LanguageCode      string     `json:"language_code"`
	DetailedAnalysis  bool       `json:"detailed_analysis"`
	Workstream        string     `json:"workstream,omitempty"`
	BPMLL1            string     `json:"bpml_l1,omitempty"`
	BPMLL2            string     `json:"bpml_l2,omitempty"`
}

// Job is the unit of work pushed through the job queue. FilePath locates the
// staged source artifact; ownership of that file passes to whichever path
// executes the job, which deletes it on all exit paths.
type Job struct {
	JobID       string               `json:"task_id"`
	FilePath    string               `json:"file_path"`
	ObjectPath  string               `json:"object_path,omitempty"`
	Request     TranscriptionRequest `json:"request"`
	DatasetName string               `json:"dataset_name,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// TaskStatus is the expiring status record kept in the task store, keyed by
// job ID. Exactly one of CompletedAt/FailedAt is set once terminal; Error is
// set only when failed.
type TaskStatus struct {
	Status      TaskState  `json:"status"`
	FileName    string     `json:"file_name,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	FailedAt    *time.Time `json:"failed_at,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// SlideElement is one element of a slide: a chart, diagram, text block...
// identified by the analysis model.
type SlideElement struct {
	ElementID        string                `json:"element_id"`
	ElementType      string                `json:"element_type"`
	RawContent       string                `json:"raw_content,omitempty"`
	SemanticAnalysis map[string]any        `json:"semantic_analysis"`
	Relationships    []ElementRelationship `json:"relationships_to_other_elements,omitempty"`
}

// ElementRelationship links an element to another element in the same slide.
type ElementRelationship struct {
	RelatedElementID string `json:"related_element_id"`
	RelationshipType string `json:"relationship_type"`
	Details          string `json:"details,omitempty"`
}

// SlideData is the structured analysis of a single slide. It is immutable
// once attached to a transcription.
type SlideData struct {
	SlideNumber  int            `json:"slide_number"`
	SlideTitle   string         `json:"slide_title,omitempty"`
	SlideSummary string         `json:"slide_summary"`
	Elements     []SlideElement `json:"elements"`
}

// PresentationMetadata describes the presentation as a whole.
type PresentationMetadata struct {
	Title            string     `json:"title,omitempty"`
	Author           string     `json:"author,omitempty"`
	Date             *time.Time `json:"date,omitempty"`
	SourceFilename   string     `json:"source_filename"`
	TotalSlides      int        `json:"total_slides"`
	PresentationType string     `json:"presentation_type,omitempty"`
	Language         string     `json:"language"`
}

// PresentationTranscription is the full structured result of a pipeline run.
type PresentationTranscription struct {
	Metadata              PresentationMetadata `json:"presentation_metadata"`
	OverallSummary        string               `json:"overall_summary"`
	KeyConcepts           []string             `json:"key_concepts"`
	NarrativeFlowAnalysis string               `json:"narrative_flow_analysis"`
	Slides                []SlideData          `json:"slides"`
}

// GlobalInsights is the structured shape the analysis model is prompted to
// return for the whole presentation.
type GlobalInsights struct {
	OverallSummary        string   `json:"overall_summary"`
	KeyConcepts           []string `json:"key_concepts"`
	NarrativeFlowAnalysis string   `json:"narrative_flow_analysis"`
	PresentationType      string   `json:"presentation_type"`
	TargetAudience        string   `json:"target_audience,omitempty"`
	MainObjective         string   `json:"main_objective,omitempty"`
}

// GlobalAnalysis is the outcome of the global analysis stage. The model
// doesn't always return well-formed JSON, so the result is a tagged variant:
// either Structured is set, or Fallback holds the raw model output. Either
// way downstream stages get a structurally valid value.
type GlobalAnalysis struct {
	Structured *GlobalInsights `json:"structured,omitempty"`
	Fallback   string          `json:"fallback,omitempty"`
}

// IsFallback reports whether the analysis degraded to raw text.
func (g GlobalAnalysis) IsFallback() bool {
	return g.Structured == nil
}

// OverallSummary returns the presentation summary, falling back to the raw
// model output when the response couldn't be parsed.
func (g GlobalAnalysis) OverallSummary() string {
	if g.Structured != nil {
		return g.Structured.OverallSummary
	}
	return g.Fallback
}

// KeyConcepts returns the key concepts. Empty in fallback mode.
func (g GlobalAnalysis) KeyConcepts() []string {
	if g.Structured != nil && g.Structured.KeyConcepts != nil {
		return g.Structured.KeyConcepts
	}
	return []string{}
}

// NarrativeFlowAnalysis returns the narrative flow. Empty in fallback mode.
func (g GlobalAnalysis) NarrativeFlowAnalysis() string {
	if g.Structured != nil {
		return g.Structured.NarrativeFlowAnalysis
	}
	return ""
}

// PresentationType returns the detected presentation type, or the provided
// default in fallback mode.
func (g GlobalAnalysis) PresentationType(fallback string) string {
	if g.Structured != nil && g.Structured.PresentationType != "" {
		return g.Structured.PresentationType
	}
	return fallback
}

// ExtractedSlide is one content unit produced by the extractor: a rendered
// page image plus whatever structure the source format exposed.
type ExtractedSlide struct {
	SlideNumber   int    `json:"slide_number"`
	ImagePath     string `json:"image_path,omitempty"`
	ImageBase64   string `json:"image_base64,omitempty"`
	LayoutName    string `json:"layout_name,omitempty"`
	ExtractedText string `json:"extracted_text,omitempty"`
	SlideTitle    string `json:"slide_title,omitempty"`
}

// ExtractionMetadata is the presentation-level metadata the extractor reads
// from the source file.
type ExtractionMetadata struct {
	TotalSlides    int    `json:"total_slides"`
	Title          string `json:"title,omitempty"`
	Author         string `json:"author,omitempty"`
	SourceFilename string `json:"source_filename"`
}

// ProcessingRecord is the durable record of a job's pipeline execution,
// created at job start and finalized at completion or failure. Never deleted
// implicitly.
type ProcessingRecord struct {
	TranscriptionID       string           `gorm:"primaryKey;column:transcription_id" json:"transcription_id"`
	FileName              string           `json:"file_name"`
	PresentationTitle     string           `json:"presentation_title,omitempty"`
	Author                string           `json:"author,omitempty"`
	PresentationType      string           `json:"presentation_type,omitempty"`
	LanguageCode          string           `json:"language_code"`
	Workstream            string           `json:"workstream,omitempty"`
	BPMLL1                string           `gorm:"column:bpml_l1" json:"bpml_l1,omitempty"`
	BPMLL2                string           `gorm:"column:bpml_l2" json:"bpml_l2,omitempty"`
	Status                RecordStatus     `json:"status"`
	ProcessingStatus      ProcessingStatus `json:"processing_status"`
	SlidesCount           *int             `json:"slides_count,omitempty"`
	ProcessingTimeSeconds *float64         `json:"processing_time_seconds,omitempty"`
	Transcription         datatypes.JSON   `json:"transcription,omitempty"`
	ErrorMessage          *string          `json:"error_message,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
	CompletedAt           *time.Time       `json:"completed_at,omitempty"`
}

// TableName overrides the gorm table name.
func (ProcessingRecord) TableName() string {
	return "processing_record"
}

// DecodeTranscription unmarshals the persisted transcription payload.
// Returns nil when the record hasn't been finalized yet.
func (r *ProcessingRecord) DecodeTranscription() (*PresentationTranscription, error) {
	if len(r.Transcription) == 0 {
		return nil, nil
	}
	var t PresentationTranscription
	if err := json.Unmarshal(r.Transcription, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// SearchQuery is a semantic search request over the vector index.
type SearchQuery struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

// SearchResult is one semantic search hit.
type SearchResult struct {
	DocumentID      string  `json:"id"`
	Text            string  `json:"text"`
	Score           float32 `json:"score"`
	TranscriptionID string  `json:"transcription_id"`
	ContentType     string  `json:"content_type"`
	SlideNumber     int     `json:"slide_number,omitempty"`
}

// SearchResponse wraps search hits with timing information.
type SearchResponse struct {
	Results         []SearchResult `json:"results"`
	TotalFound      int            `json:"total_found"`
	Query           string         `json:"query"`
	ExecutionTimeMS float64        `json:"execution_time_ms"`
}

// SystemStatistics summarizes the document store contents.
type SystemStatistics struct {
	TotalPresentations           int64            `json:"total_presentations"`
	StatusBreakdown              map[string]int64 `json:"status_breakdown"`
	AverageProcessingTimeSeconds float64          `json:"average_processing_time_seconds"`
	LastUpdated                  time.Time        `json:"last_updated"`
}
