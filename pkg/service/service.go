package service

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"github.com/decksense/presentation-backend/pkg/ai"
	"github.com/decksense/presentation-backend/pkg/datamodel"
	errorsx "github.com/decksense/presentation-backend/pkg/errors"
	logx "github.com/decksense/presentation-backend/pkg/logger"
	"github.com/decksense/presentation-backend/pkg/repository"
	"github.com/decksense/presentation-backend/pkg/utils"
)

// Service is the submission gateway and query surface of the pipeline. It
// enqueues jobs when the queue backend is reachable and degrades to direct
// in-process execution when it isn't; the caller sees identical semantics on
// both paths.
type Service struct {
	queue     repository.JobQueue
	tasks     repository.TaskStore
	records   repository.RecordStore
	vectors   repository.VectorDatabase
	embedder  ai.Embedder
	storage   repository.ObjectStorage // nil when not configured
	processor *Processor

	collectionName string

	// fallbackJobs tracks detached in-process executions so shutdown can
	// await them instead of dropping them silently.
	fallbackJobs sync.WaitGroup
}

// NewService builds the submission gateway.
func NewService(
	queue repository.JobQueue,
	tasks repository.TaskStore,
	records repository.RecordStore,
	vectors repository.VectorDatabase,
	embedder ai.Embedder,
	storage repository.ObjectStorage,
	processor *Processor,
	collectionName string,
) *Service {
	return &Service{
		queue:          queue,
		tasks:          tasks,
		records:        records,
		vectors:        vectors,
		embedder:       embedder,
		storage:        storage,
		processor:      processor,
		collectionName: collectionName,
	}
}

// Submit accepts a job for processing and returns its ID immediately. When
// the queue backend is unreachable the job runs as a detached background
// unit in this process instead; the returned ID and subsequent status
// semantics are identical in shape on both paths.
func (s *Service) Submit(ctx context.Context, filePath string, request datamodel.TranscriptionRequest, datasetName, jobID string) (string, error) {
	logger, _ := logx.GetZapLogger(ctx)

	if request.FileName == "" {
		return "", fmt.Errorf("file name is required: %w", errorsx.ErrInvalidArgument)
	}
	if jobID == "" {
		jobID = s.generateJobID(request)
	}

	job := &datamodel.Job{
		JobID:       jobID,
		FilePath:    filePath,
		Request:     request,
		DatasetName: datasetName,
		CreatedAt:   time.Now().UTC(),
	}
	s.stageObject(ctx, job)

	if err := s.queue.Ping(ctx); err != nil {
		logger.Warn("Queue unreachable, processing job in-process", zap.String("job_id", jobID), zap.Error(err))
		s.runDetached(ctx, job)
		return jobID, nil
	}

	if err := s.queue.Push(ctx, job); err != nil {
		logger.Warn("Queue push failed, processing job in-process", zap.String("job_id", jobID), zap.Error(err))
		s.runDetached(ctx, job)
		return jobID, nil
	}

	if err := s.tasks.Create(ctx, jobID, request.FileName); err != nil {
		logger.Warn("Failed to create task entry", zap.String("job_id", jobID), zap.Error(err))
	}

	logger.Info("Job enqueued", zap.String("job_id", jobID))
	return jobID, nil
}

// stageObject copies the source file into object storage so a worker in
// another process can fetch it. Staging is best-effort: when it fails the job
// still carries the local path and can be consumed on the same host.
func (s *Service) stageObject(ctx context.Context, job *datamodel.Job) {
	if s.storage == nil {
		return
	}
	logger, _ := logx.GetZapLogger(ctx)

	content, err := os.ReadFile(job.FilePath)
	if err != nil {
		logger.Warn("Failed to read source file for staging", zap.String("path", job.FilePath), zap.Error(err))
		return
	}

	objectPath := "uploads/" + job.JobID + "/" + filepath.Base(job.FilePath)
	mimeType := mime.TypeByExtension(filepath.Ext(job.FilePath))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if err := s.storage.UploadFile(ctx, objectPath, content, mimeType); err != nil {
		logger.Warn("Failed to stage source file in object storage", zap.String("object", objectPath), zap.Error(err))
		return
	}
	job.ObjectPath = objectPath
}

// generateJobID builds a readable transcription ID when the request carries
// workstream routing, and a UUID otherwise.
func (s *Service) generateJobID(request datamodel.TranscriptionRequest) string {
	if request.Workstream != "" {
		meetingID := strings.TrimSuffix(request.FileName, filepath.Ext(request.FileName))
		return utils.GenerateTranscriptionID(request.Workstream, request.PresentationDate, meetingID)
	}
	return uuid.Must(uuid.NewV4()).String()
}

// runDetached executes the job in the background, registered so Shutdown can
// await it. The task entry is best-effort: when the queue backend is down the
// task store usually is too.
func (s *Service) runDetached(ctx context.Context, job *datamodel.Job) {
	if err := s.tasks.Create(ctx, job.JobID, job.Request.FileName); err != nil {
		logger, _ := logx.GetZapLogger(ctx)
		logger.Warn("Failed to create task entry for fallback job", zap.Error(err))
	}

	// Detach from the request context so the job survives the HTTP response
	jobCtx := context.WithoutCancel(ctx)

	s.fallbackJobs.Add(1)
	go func() {
		defer s.fallbackJobs.Done()
		_ = s.processor.Run(jobCtx, job)
	}()
}

// Shutdown waits for outstanding fallback jobs, up to the context deadline.
func (s *Service) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.fallbackJobs.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for fallback jobs: %w", ctx.Err())
	}
}

// GetTaskStatus returns the lifecycle status of a job, or ErrNotFound once
// the entry has expired.
func (s *Service) GetTaskStatus(ctx context.Context, jobID string) (*datamodel.TaskStatus, error) {
	return s.tasks.Get(ctx, jobID)
}

// GetTranscription returns the durable processing record.
func (s *Service) GetTranscription(ctx context.Context, transcriptionID string) (*datamodel.ProcessingRecord, error) {
	return s.records.Get(ctx, transcriptionID)
}

// ListTranscriptions returns recent records, optionally filtered by status.
func (s *Service) ListTranscriptions(ctx context.Context, limit int, status *datamodel.RecordStatus) ([]datamodel.ProcessingRecord, error) {
	return s.records.List(ctx, limit, status)
}

// DeleteTranscription removes the record and its vector documents, reporting
// whether the record existed.
func (s *Service) DeleteTranscription(ctx context.Context, transcriptionID string) (bool, error) {
	logger, _ := logx.GetZapLogger(ctx)

	existed, err := s.records.Delete(ctx, transcriptionID)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}

	if s.vectors != nil {
		if err := s.vectors.DeleteByTranscriptionID(ctx, s.collectionName, transcriptionID); err != nil {
			logger.Warn("Failed to delete transcription vectors",
				zap.String("transcription_id", transcriptionID), zap.Error(err))
		}
	}
	return true, nil
}

// GetSlideDetails returns one slide of a finalized transcription.
func (s *Service) GetSlideDetails(ctx context.Context, transcriptionID string, slideNumber int) (*datamodel.SlideData, error) {
	record, err := s.records.Get(ctx, transcriptionID)
	if err != nil {
		return nil, err
	}

	transcription, err := record.DecodeTranscription()
	if err != nil {
		return nil, fmt.Errorf("decoding transcription: %w", err)
	}
	if transcription == nil {
		return nil, fmt.Errorf("transcription %s has no finalized result: %w", transcriptionID, errorsx.ErrNotFound)
	}

	for _, slide := range transcription.Slides {
		if slide.SlideNumber == slideNumber {
			return &slide, nil
		}
	}
	return nil, fmt.Errorf("slide %d of transcription %s: %w", slideNumber, transcriptionID, errorsx.ErrNotFound)
}

// Search runs a semantic search over the indexed transcriptions.
func (s *Service) Search(ctx context.Context, query datamodel.SearchQuery) (*datamodel.SearchResponse, error) {
	if query.Query == "" {
		return nil, fmt.Errorf("query is required: %w", errorsx.ErrInvalidArgument)
	}
	if query.Limit <= 0 {
		query.Limit = 10
	}

	start := time.Now()
	vectors, err := s.embedder.EmbedTexts(ctx, []string{query.Query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	hits, err := s.vectors.Search(ctx, s.collectionName, vectors[0], query.Limit)
	if err != nil {
		return nil, fmt.Errorf("searching vectors: %w", err)
	}

	results := make([]datamodel.SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, datamodel.SearchResult{
			DocumentID:      hit.DocumentID,
			Text:            hit.Text,
			Score:           hit.Score,
			TranscriptionID: hit.TranscriptionID,
			ContentType:     hit.ContentType,
			SlideNumber:     int(hit.SlideNumber),
		})
	}

	return &datamodel.SearchResponse{
		Results:         results,
		TotalFound:      len(results),
		Query:           query.Query,
		ExecutionTimeMS: float64(time.Since(start).Microseconds()) / 1000,
	}, nil
}

// Statistics summarizes the stored records.
func (s *Service) Statistics(ctx context.Context) (*datamodel.SystemStatistics, error) {
	return s.records.Statistics(ctx)
}
