package service

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/decksense/presentation-backend/pkg/ai"
	"github.com/decksense/presentation-backend/pkg/datamodel"
	"github.com/decksense/presentation-backend/pkg/extractor"
	"github.com/decksense/presentation-backend/pkg/knowledgebase"
	logx "github.com/decksense/presentation-backend/pkg/logger"
	"github.com/decksense/presentation-backend/pkg/repository"
)

// Processor runs the fixed pipeline for one job: extract slides, analyze the
// deck globally, analyze slides in bounded batches, build the executive
// summary, then persist and publish. Stage boundaries are recorded in the
// document store; partial failures inside a stage degrade instead of aborting
// the job.
type Processor struct {
	extractor extractor.Extractor
	analyzer  ai.Analyzer
	embedder  ai.Embedder
	records   repository.RecordStore
	tasks     repository.TaskStore
	vectors   repository.VectorDatabase
	storage   repository.ObjectStorage // nil when not configured
	publisher knowledgebase.Publisher  // nil when not configured

	collectionName string
	slidesPerBatch int
	overlapSlides  int
}

// ProcessorConfig wires the pipeline collaborators.
type ProcessorConfig struct {
	Extractor extractor.Extractor
	Analyzer  ai.Analyzer
	Embedder  ai.Embedder
	Records   repository.RecordStore
	Tasks     repository.TaskStore
	Vectors   repository.VectorDatabase
	Storage   repository.ObjectStorage
	Publisher knowledgebase.Publisher

	CollectionName string
	SlidesPerBatch int
	OverlapSlides  int
}

// NewProcessor builds the stage executor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.SlidesPerBatch <= 0 {
		cfg.SlidesPerBatch = 5
	}
	if cfg.OverlapSlides < 0 {
		cfg.OverlapSlides = 0
	}
	return &Processor{
		extractor:      cfg.Extractor,
		analyzer:       cfg.Analyzer,
		embedder:       cfg.Embedder,
		records:        cfg.Records,
		tasks:          cfg.Tasks,
		vectors:        cfg.Vectors,
		storage:        cfg.Storage,
		publisher:      cfg.Publisher,
		collectionName: cfg.CollectionName,
		slidesPerBatch: cfg.SlidesPerBatch,
		overlapSlides:  cfg.OverlapSlides,
	}
}

// Run executes the full pipeline for a job, recording lifecycle transitions
// in the task store. It owns the job's source file and deletes it on every
// outcome. Panics inside the pipeline are converted into a failed job so the
// caller's loop survives.
func (p *Processor) Run(ctx context.Context, job *datamodel.Job) (err error) {
	logger, _ := logx.GetZapLogger(ctx)
	logger = logger.With(zap.String("job_id", job.JobID), zap.String("file_name", job.Request.FileName))

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
		if err != nil {
			logger.Error("Job failed", zap.Error(err))
			p.markFailed(ctx, job.JobID, err)
		}
		// The source file belongs to the job; remove it on every exit path
		if removeErr := os.Remove(job.FilePath); removeErr != nil && !os.IsNotExist(removeErr) {
			logger.Warn("Failed to remove source file", zap.String("path", job.FilePath), zap.Error(removeErr))
		}
		if p.storage != nil && job.ObjectPath != "" {
			if removeErr := p.storage.DeleteFile(ctx, job.ObjectPath); removeErr != nil {
				logger.Warn("Failed to remove staged object", zap.String("object", job.ObjectPath), zap.Error(removeErr))
			}
		}
	}()

	if err := p.tasks.MarkProcessing(ctx, job.JobID); err != nil {
		logger.Warn("Failed to mark task processing", zap.Error(err))
	}

	if err = p.fetchSource(ctx, job); err != nil {
		return err
	}

	if err = p.process(ctx, job); err != nil {
		return err
	}

	if err := p.tasks.MarkCompleted(ctx, job.JobID); err != nil {
		logger.Warn("Failed to mark task completed", zap.Error(err))
	}
	logger.Info("Job completed")
	return nil
}

// fetchSource materializes the staged object locally when the job was
// enqueued by another process and the upload path doesn't exist here.
func (p *Processor) fetchSource(ctx context.Context, job *datamodel.Job) error {
	if _, err := os.Stat(job.FilePath); err == nil {
		return nil
	}
	if p.storage == nil || job.ObjectPath == "" {
		return fmt.Errorf("source file %s not found and no staged object available", job.FilePath)
	}

	content, err := p.storage.GetFile(ctx, job.ObjectPath)
	if err != nil {
		return fmt.Errorf("fetching staged object %s: %w", job.ObjectPath, err)
	}

	local, err := os.CreateTemp("", "presentation-*"+filepath.Ext(job.FilePath))
	if err != nil {
		return fmt.Errorf("creating local copy: %w", err)
	}
	if _, err := local.Write(content); err != nil {
		local.Close()
		_ = os.Remove(local.Name())
		return fmt.Errorf("writing local copy: %w", err)
	}
	if err := local.Close(); err != nil {
		_ = os.Remove(local.Name())
		return fmt.Errorf("closing local copy: %w", err)
	}

	job.FilePath = local.Name()
	return nil
}

func (p *Processor) markFailed(ctx context.Context, jobID string, cause error) {
	logger, _ := logx.GetZapLogger(ctx)
	if err := p.tasks.MarkFailed(ctx, jobID, cause.Error()); err != nil {
		logger.Warn("Failed to mark task failed", zap.Error(err))
	}
	if err := p.records.UpdateStatus(ctx, jobID, datamodel.RecordStatusFailed, cause.Error()); err != nil {
		logger.Warn("Failed to mark record failed", zap.Error(err))
	}
}

func (p *Processor) process(ctx context.Context, job *datamodel.Job) error {
	logger, _ := logx.GetZapLogger(ctx)
	logger = logger.With(zap.String("job_id", job.JobID))
	startTime := time.Now()

	record := &datamodel.ProcessingRecord{
		TranscriptionID:   job.JobID,
		FileName:          job.Request.FileName,
		PresentationTitle: job.Request.FileName,
		Author:            job.Request.Author,
		PresentationType:  job.Request.PresentationType,
		LanguageCode:      job.Request.LanguageCode,
		Workstream:        job.Request.Workstream,
		BPMLL1:            job.Request.BPMLL1,
		BPMLL2:            job.Request.BPMLL2,
		Status:            datamodel.RecordStatusProcessing,
		ProcessingStatus:  datamodel.ProcessingStatusPending,
	}
	if err := p.records.Create(ctx, record); err != nil {
		return fmt.Errorf("creating processing record: %w", err)
	}

	// Stage 1: extraction. A failure here is fatal to the job.
	if err := p.records.UpdateProcessingStatus(ctx, job.JobID, datamodel.ProcessingStatusExtractingSlides); err != nil {
		return err
	}
	extraction, cleanup, err := p.extractor.Extract(ctx, job.FilePath)
	if err != nil {
		return fmt.Errorf("extracting slides: %w", err)
	}
	defer cleanup()
	logger.Info("Slides extracted", zap.Int("count", len(extraction.Slides)))

	// Stage 2: global analysis. Outages degrade to an empty fallback so the
	// per-slide stage still gets a structurally valid context.
	global, err := p.analyzer.AnalyzeGlobal(ctx, extraction.Slides, p.presentationMetadata(job, extraction))
	if err != nil {
		logger.Warn("Global analysis failed, continuing with fallback", zap.Error(err))
		global = &datamodel.GlobalAnalysis{Fallback: ""}
	}

	// Stage 3: per-slide analysis in bounded batches.
	if err := p.records.UpdateProcessingStatus(ctx, job.JobID, datamodel.ProcessingStatusProcessingSlides); err != nil {
		return err
	}
	slides := p.analyzeSlides(ctx, extraction.Slides, global)
	logger.Info("Slides analyzed", zap.Int("count", len(slides)))

	// Stage 4: executive summary, with a local fallback built from titles.
	if err := p.records.UpdateProcessingStatus(ctx, job.JobID, datamodel.ProcessingStatusGeneratingSummary); err != nil {
		return err
	}
	executiveSummary, err := p.analyzer.Summarize(ctx, slides, global)
	if err != nil {
		logger.Warn("Summary generation failed, building local summary", zap.Error(err))
		executiveSummary = localSummary(slides, global)
	}

	transcription := p.buildTranscription(job, extraction, global, slides)

	// Stage 5: persist the computed truth first, then fan out best-effort.
	processingTime := time.Since(startTime).Seconds()
	if err := p.records.Finalize(ctx, job.JobID, transcription, processingTime); err != nil {
		return fmt.Errorf("finalizing record: %w", err)
	}

	p.indexTranscription(ctx, job.JobID, transcription, executiveSummary)
	p.publishTranscription(ctx, job, transcription, executiveSummary)

	logger.Info("Processing finished", zap.Float64("processing_time_seconds", processingTime))
	return nil
}

func (p *Processor) presentationMetadata(job *datamodel.Job, extraction *extractor.Result) datamodel.PresentationMetadata {
	author := extraction.Metadata.Author
	if author == "" {
		author = job.Request.Author
	}
	date := job.Request.PresentationDate
	if date == nil {
		now := time.Now().UTC()
		date = &now
	}
	return datamodel.PresentationMetadata{
		Title:            job.Request.FileName,
		Author:           author,
		Date:             date,
		SourceFilename:   job.Request.FileName,
		TotalSlides:      len(extraction.Slides),
		PresentationType: job.Request.PresentationType,
		Language:         job.Request.LanguageCode,
	}
}

func (p *Processor) buildTranscription(job *datamodel.Job, extraction *extractor.Result, global *datamodel.GlobalAnalysis, slides []datamodel.SlideData) *datamodel.PresentationTranscription {
	metadata := p.presentationMetadata(job, extraction)
	metadata.TotalSlides = len(slides)
	metadata.PresentationType = global.PresentationType(job.Request.PresentationType)

	return &datamodel.PresentationTranscription{
		Metadata:              metadata,
		OverallSummary:        global.OverallSummary(),
		KeyConcepts:           global.KeyConcepts(),
		NarrativeFlowAnalysis: global.NarrativeFlowAnalysis(),
		Slides:                slides,
	}
}

// analyzeSlides partitions the slides into fixed-size batches and processes
// each batch concurrently. The overlap window carries the tail summaries of
// already-processed slides into the next batch as narrative context; units
// are never re-processed. The output always has one entry per input slide,
// in input order.
func (p *Processor) analyzeSlides(ctx context.Context, extracted []datamodel.ExtractedSlide, global *datamodel.GlobalAnalysis) []datamodel.SlideData {
	results := make([]datamodel.SlideData, 0, len(extracted))

	for start := 0; start < len(extracted); start += p.slidesPerBatch {
		end := start + p.slidesPerBatch
		if end > len(extracted) {
			end = len(extracted)
		}

		priorSummaries := tailSummaries(results, p.overlapSlides)
		batch := p.processBatch(ctx, extracted[start:end], global, priorSummaries)
		results = append(results, batch...)
	}
	return results
}

// processBatch fans out one analysis call per slide and joins on all of them.
// A slide whose call fails (or panics) is substituted with a degraded
// placeholder carrying its ordinal and any known title; one bad slide never
// aborts the batch.
func (p *Processor) processBatch(ctx context.Context, batch []datamodel.ExtractedSlide, global *datamodel.GlobalAnalysis, priorSummaries []string) []datamodel.SlideData {
	logger, _ := logx.GetZapLogger(ctx)

	results := make([]datamodel.SlideData, len(batch))
	done := make(chan struct{})
	pending := len(batch)

	for i, slide := range batch {
		go func(idx int, slide datamodel.ExtractedSlide) {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("Slide analysis panicked",
						zap.Int("slide_number", slide.SlideNumber), zap.Any("panic", r))
					results[idx] = fallbackSlide(slide)
				}
				done <- struct{}{}
			}()

			analyzed, err := p.analyzer.AnalyzeSlide(ctx, slide, global, priorSummaries)
			if err != nil {
				logger.Error("Slide analysis failed",
					zap.Int("slide_number", slide.SlideNumber), zap.Error(err))
				results[idx] = fallbackSlide(slide)
				return
			}
			results[idx] = *analyzed
		}(i, slide)
	}
	for ; pending > 0; pending-- {
		<-done
	}
	return results
}

// fallbackSlide is the degraded per-slide result substituted when the
// analysis call fails.
func fallbackSlide(slide datamodel.ExtractedSlide) datamodel.SlideData {
	title := slide.SlideTitle
	if title == "" {
		title = fmt.Sprintf("Slide %d", slide.SlideNumber)
	}
	summary := slide.ExtractedText
	if summary == "" {
		summary = "Content not available for analysis"
	}
	return datamodel.SlideData{
		SlideNumber:  slide.SlideNumber,
		SlideTitle:   title,
		SlideSummary: summary,
		Elements:     []datamodel.SlideElement{},
	}
}

// tailSummaries returns the summaries of the last n analyzed slides.
func tailSummaries(slides []datamodel.SlideData, n int) []string {
	if n <= 0 || len(slides) == 0 {
		return nil
	}
	if n > len(slides) {
		n = len(slides)
	}
	summaries := make([]string, 0, n)
	for _, slide := range slides[len(slides)-n:] {
		summaries = append(summaries, fmt.Sprintf("Slide %d (%s): %s", slide.SlideNumber, slide.SlideTitle, slide.SlideSummary))
	}
	return summaries
}

// localSummary builds an executive summary from the data at hand when the
// model call fails.
func localSummary(slides []datamodel.SlideData, global *datamodel.GlobalAnalysis) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Presentation with %d slides.\n", len(slides))

	var titles []string
	for _, slide := range slides {
		if slide.SlideTitle != "" {
			titles = append(titles, slide.SlideTitle)
		}
	}
	if len(titles) > 0 {
		sb.WriteString("\nMain topics covered:\n")
		shown := titles
		if len(shown) > 5 {
			shown = shown[:5]
		}
		for i, title := range shown {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, title)
		}
		if len(titles) > 5 {
			fmt.Fprintf(&sb, "... and %d more topics.\n", len(titles)-5)
		}
	}
	if summary := global.OverallSummary(); summary != "" {
		fmt.Fprintf(&sb, "\nContext: %s", summary)
	}
	return sb.String()
}

// indexTranscription embeds the executive summary and each slide and upserts
// them into the vector collection. Indexing is best-effort: failures are
// logged and the job still completes.
func (p *Processor) indexTranscription(ctx context.Context, transcriptionID string, transcription *datamodel.PresentationTranscription, executiveSummary string) {
	if p.vectors == nil || p.embedder == nil {
		return
	}
	logger, _ := logx.GetZapLogger(ctx)
	logger = logger.With(zap.String("job_id", transcriptionID))

	docs := make([]repository.VectorDocument, 0, len(transcription.Slides)+1)
	texts := make([]string, 0, len(transcription.Slides)+1)

	summaryText := strings.TrimSpace(transcription.OverallSummary + "\n\n" + executiveSummary)
	if summaryText != "" {
		docs = append(docs, repository.VectorDocument{
			DocumentID:      transcriptionID + "_summary",
			TranscriptionID: transcriptionID,
			ContentType:     "summary",
			Text:            summaryText,
		})
		texts = append(texts, summaryText)
	}

	for _, slide := range transcription.Slides {
		slideText := strings.TrimSpace(slide.SlideTitle + "\n\n" + slide.SlideSummary)
		if slideText == "" {
			continue
		}
		docs = append(docs, repository.VectorDocument{
			DocumentID:      fmt.Sprintf("%s_slide_%d", transcriptionID, slide.SlideNumber),
			TranscriptionID: transcriptionID,
			ContentType:     "slide",
			SlideNumber:     int64(slide.SlideNumber),
			Text:            slideText,
		})
		texts = append(texts, slideText)
	}
	if len(docs) == 0 {
		return
	}

	vectors, err := p.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		logger.Warn("Failed to embed transcription, skipping vector indexing", zap.Error(err))
		return
	}
	for i := range docs {
		docs[i].Vector = vectors[i]
	}

	if err := p.vectors.InsertDocuments(ctx, p.collectionName, docs); err != nil {
		logger.Warn("Failed to index transcription vectors", zap.Error(err))
		return
	}
	// Flush so the documents are searchable as soon as the job completes.
	if err := p.vectors.FlushCollection(ctx, p.collectionName); err != nil {
		logger.Warn("Failed to flush vector collection", zap.Error(err))
	}
	logger.Info("Transcription indexed", zap.Int("documents", len(docs)))
}

// publishTranscription sends one document per slide plus the executive
// summary rollup to the knowledge base. Publishing is best-effort and never
// fails the job.
func (p *Processor) publishTranscription(ctx context.Context, job *datamodel.Job, transcription *datamodel.PresentationTranscription, executiveSummary string) {
	if p.publisher == nil {
		return
	}
	logger, _ := logx.GetZapLogger(ctx)
	logger = logger.With(zap.String("job_id", job.JobID))

	header := presentationHeader(transcription)
	published := 0

	for _, slide := range transcription.Slides {
		content := header + slideDocument(slide)
		name := fmt.Sprintf("%s_Slide_%02d", transcription.Metadata.Title, slide.SlideNumber)
		metadata := p.documentMetadata(job, transcription, "slide")
		metadata["slide_number"] = slide.SlideNumber
		metadata["slide_title"] = defaultTitle(slide)

		if _, err := p.publisher.UploadDocument(ctx, knowledgebase.UploadParams{
			DocumentName: name,
			Content:      content,
			Metadata:     metadata,
			DatasetName:  job.DatasetName,
		}); err != nil {
			logger.Warn("Failed to publish slide document",
				zap.Int("slide_number", slide.SlideNumber), zap.Error(err))
			continue
		}
		published++
	}

	summaryContent := header + fmt.Sprintf(`
COMPLETE EXECUTIVE SUMMARY DOCUMENT

%s

ADDITIONAL DETAIL:
- Processing date: %s
- Presentation type: %s
- Language: %s
`,
		executiveSummary,
		time.Now().UTC().Format(time.RFC3339),
		defaultString(transcription.Metadata.PresentationType, "Not specified"),
		transcription.Metadata.Language,
	)
	if _, err := p.publisher.UploadDocument(ctx, knowledgebase.UploadParams{
		DocumentName: transcription.Metadata.Title + "_Executive_Summary",
		Content:      summaryContent,
		Metadata:     p.documentMetadata(job, transcription, "summary"),
		DatasetName:  job.DatasetName,
	}); err != nil {
		logger.Warn("Failed to publish executive summary document", zap.Error(err))
	} else {
		published++
	}

	logger.Info("Knowledge base publishing finished",
		zap.Int("published", published), zap.Int("slides", len(transcription.Slides)))
}

func (p *Processor) documentMetadata(job *datamodel.Job, transcription *datamodel.PresentationTranscription, contentType string) map[string]any {
	return map[string]any{
		"transcription_id":   job.JobID,
		"presentation_title": transcription.Metadata.Title,
		"author":             transcription.Metadata.Author,
		"total_slides":       transcription.Metadata.TotalSlides,
		"presentation_type":  transcription.Metadata.PresentationType,
		"processing_date":    time.Now().UTC().Format(time.RFC3339),
		"content_type":       contentType,
		"language":           transcription.Metadata.Language,
		"workstream":         job.Request.Workstream,
		"bpml_l1":            job.Request.BPMLL1,
		"bpml_l2":            job.Request.BPMLL2,
	}
}

func presentationHeader(t *datamodel.PresentationTranscription) string {
	return fmt.Sprintf(`PRESENTATION: %s
AUTHOR: %s
TOTAL SLIDES: %d

EXECUTIVE SUMMARY:
%s

KEY CONCEPTS:
%s

NARRATIVE FLOW ANALYSIS:
%s

`,
		t.Metadata.Title,
		t.Metadata.Author,
		t.Metadata.TotalSlides,
		t.OverallSummary,
		strings.Join(t.KeyConcepts, ", "),
		t.NarrativeFlowAnalysis,
	)
}

func slideDocument(slide datamodel.SlideData) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "\n--- SLIDE %d ---\n", slide.SlideNumber)
	fmt.Fprintf(&sb, "Title: %s\n", slide.SlideTitle)
	fmt.Fprintf(&sb, "Summary: %s\n", slide.SlideSummary)

	if len(slide.Elements) > 0 {
		sb.WriteString("\nElements:\n")
		for _, element := range slide.Elements {
			semanticJSON, err := json.Marshal(element.SemanticAnalysis)
			if err != nil {
				semanticJSON = []byte(fmt.Sprintf("%v", element.SemanticAnalysis))
			}
			rawContent := element.RawContent
			if rawContent == "" {
				rawContent = "N/A"
			} else if len(rawContent) > 500 {
				rawContent = rawContent[:500] + "..."
			}
			fmt.Fprintf(&sb, "  - ID: %s\n", element.ElementID)
			fmt.Fprintf(&sb, "    Type: %s\n", element.ElementType)
			fmt.Fprintf(&sb, "    Raw content: %s\n", rawContent)
			fmt.Fprintf(&sb, "    Semantic analysis: %s\n", semanticJSON)
			if len(element.Relationships) > 0 {
				relJSON, err := json.Marshal(element.Relationships)
				if err == nil {
					fmt.Fprintf(&sb, "    Relationships: %s\n", relJSON)
				}
			}
		}
	}
	return sb.String()
}

func defaultTitle(slide datamodel.SlideData) string {
	if slide.SlideTitle != "" {
		return slide.SlideTitle
	}
	return fmt.Sprintf("Slide %d", slide.SlideNumber)
}

func defaultString(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
