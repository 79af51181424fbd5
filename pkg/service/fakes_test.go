package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/decksense/presentation-backend/pkg/datamodel"
	errorsx "github.com/decksense/presentation-backend/pkg/errors"
	"github.com/decksense/presentation-backend/pkg/extractor"
	"github.com/decksense/presentation-backend/pkg/knowledgebase"
	"github.com/decksense/presentation-backend/pkg/repository"
)

// fakeQueue is an in-memory JobQueue with scriptable failures.
type fakeQueue struct {
	mu      sync.Mutex
	jobs    []*datamodel.Job
	pingErr error
	pushErr error
	popErrs []error // consumed one per Pop call, before the queue is checked
}

func (q *fakeQueue) Push(_ context.Context, job *datamodel.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pushErr != nil {
		return q.pushErr
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Pop(ctx context.Context, timeout time.Duration) (*datamodel.Job, error) {
	q.mu.Lock()
	if len(q.popErrs) > 0 {
		err := q.popErrs[0]
		q.popErrs = q.popErrs[1:]
		q.mu.Unlock()
		return nil, err
	}
	if len(q.jobs) > 0 {
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()
		return job, nil
	}
	q.mu.Unlock()

	// Emulate the blocking pop without spinning the worker loop hot.
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Millisecond):
	}
	return nil, errorsx.ErrNoJob
}

func (q *fakeQueue) Ping(context.Context) error { return q.pingErr }

func (q *fakeQueue) pushed() []*datamodel.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*datamodel.Job(nil), q.jobs...)
}

// fakeTaskStore records lifecycle transitions in memory.
type fakeTaskStore struct {
	mu     sync.Mutex
	states map[string]*datamodel.TaskStatus
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{states: map[string]*datamodel.TaskStatus{}}
}

func (s *fakeTaskStore) Create(_ context.Context, jobID, fileName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	s.states[jobID] = &datamodel.TaskStatus{
		Status:    datamodel.TaskStateQueued,
		FileName:  fileName,
		CreatedAt: &now,
	}
	return nil
}

func (s *fakeTaskStore) MarkProcessing(_ context.Context, jobID string) error {
	return s.transition(jobID, datamodel.TaskStateProcessing, "")
}

func (s *fakeTaskStore) MarkCompleted(_ context.Context, jobID string) error {
	return s.transition(jobID, datamodel.TaskStateCompleted, "")
}

func (s *fakeTaskStore) MarkFailed(_ context.Context, jobID string, errMsg string) error {
	return s.transition(jobID, datamodel.TaskStateFailed, errMsg)
}

func (s *fakeTaskStore) transition(jobID string, state datamodel.TaskState, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.states[jobID]
	if !ok {
		entry = &datamodel.TaskStatus{}
		s.states[jobID] = entry
	}
	entry.Status = state
	entry.Error = errMsg
	now := time.Now().UTC()
	switch state {
	case datamodel.TaskStateProcessing:
		entry.StartedAt = &now
	case datamodel.TaskStateCompleted:
		entry.CompletedAt = &now
	case datamodel.TaskStateFailed:
		entry.FailedAt = &now
	}
	return nil
}

func (s *fakeTaskStore) Get(_ context.Context, jobID string) (*datamodel.TaskStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.states[jobID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", jobID, errorsx.ErrNotFound)
	}
	snapshot := *entry
	return &snapshot, nil
}

func (s *fakeTaskStore) state(jobID string) datamodel.TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.states[jobID]; ok {
		return entry.Status
	}
	return ""
}

// fakeRecordStore keeps records and the observed stage transitions in memory.
type fakeRecordStore struct {
	mu      sync.Mutex
	records map[string]*datamodel.ProcessingRecord
	stages  map[string][]datamodel.ProcessingStatus
}

func newFakeRecordStore() *fakeRecordStore {
	return &fakeRecordStore{
		records: map[string]*datamodel.ProcessingRecord{},
		stages:  map[string][]datamodel.ProcessingStatus{},
	}
}

func (s *fakeRecordStore) Create(_ context.Context, record *datamodel.ProcessingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Deterministic IDs make Create an overwrite on re-submission.
	clone := *record
	s.records[record.TranscriptionID] = &clone
	s.stages[record.TranscriptionID] = nil
	return nil
}

func (s *fakeRecordStore) UpdateStatus(_ context.Context, id string, status datamodel.RecordStatus, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil
	}
	record.Status = status
	if errMsg != "" {
		record.ErrorMessage = &errMsg
	}
	if status == datamodel.RecordStatusFailed {
		record.ProcessingStatus = datamodel.ProcessingStatusFailed
	}
	return nil
}

func (s *fakeRecordStore) UpdateProcessingStatus(_ context.Context, id string, status datamodel.ProcessingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stages[id] = append(s.stages[id], status)
	if record, ok := s.records[id]; ok {
		record.ProcessingStatus = status
	}
	return nil
}

func (s *fakeRecordStore) Finalize(_ context.Context, id string, transcription *datamodel.PresentationTranscription, processingTime float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return fmt.Errorf("record %s: %w", id, errorsx.ErrNotFound)
	}
	payload, err := json.Marshal(transcription)
	if err != nil {
		return err
	}
	record.Transcription = payload
	record.Status = datamodel.RecordStatusCompleted
	record.ProcessingStatus = datamodel.ProcessingStatusCompleted
	count := len(transcription.Slides)
	record.SlidesCount = &count
	record.ProcessingTimeSeconds = &processingTime
	now := time.Now().UTC()
	record.CompletedAt = &now
	return nil
}

func (s *fakeRecordStore) Get(_ context.Context, id string) (*datamodel.ProcessingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, errorsx.ErrNotFound)
	}
	clone := *record
	return &clone, nil
}

func (s *fakeRecordStore) List(_ context.Context, limit int, status *datamodel.RecordStatus) ([]datamodel.ProcessingRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []datamodel.ProcessingRecord
	for _, record := range s.records {
		if status != nil && record.Status != *status {
			continue
		}
		out = append(out, *record)
	}
	return out, nil
}

func (s *fakeRecordStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *fakeRecordStore) Statistics(context.Context) (*datamodel.SystemStatistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := &datamodel.SystemStatistics{
		TotalPresentations: int64(len(s.records)),
		StatusBreakdown:    map[string]int64{},
		LastUpdated:        time.Now().UTC(),
	}
	for _, record := range s.records {
		stats.StatusBreakdown[string(record.Status)]++
	}
	return stats, nil
}

func (s *fakeRecordStore) stageHistory(id string) []datamodel.ProcessingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]datamodel.ProcessingStatus(nil), s.stages[id]...)
}

// fakeVectorDB records inserted documents and serves canned search hits.
type fakeVectorDB struct {
	mu        sync.Mutex
	inserted  []repository.VectorDocument
	deletedID string
	flushes   []string
	hits      []repository.SimilarDocument
	searchErr error
}

func (v *fakeVectorDB) EnsureCollection(context.Context, string, uint32) error { return nil }

func (v *fakeVectorDB) InsertDocuments(_ context.Context, _ string, docs []repository.VectorDocument) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.inserted = append(v.inserted, docs...)
	return nil
}

func (v *fakeVectorDB) Search(_ context.Context, _ string, _ []float32, _ int) ([]repository.SimilarDocument, error) {
	if v.searchErr != nil {
		return nil, v.searchErr
	}
	return v.hits, nil
}

func (v *fakeVectorDB) DeleteByTranscriptionID(_ context.Context, _ string, transcriptionID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deletedID = transcriptionID
	return nil
}

func (v *fakeVectorDB) FlushCollection(_ context.Context, collection string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.flushes = append(v.flushes, collection)
	return nil
}

func (v *fakeVectorDB) flushed() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.flushes...)
}

func (v *fakeVectorDB) insertedDocs() []repository.VectorDocument {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]repository.VectorDocument(nil), v.inserted...)
}

// fakeEmbedder produces deterministic small vectors.
type fakeEmbedder struct {
	err   error
	calls int
}

func (e *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i])), 1, 0, 0}
	}
	return vectors, nil
}

func (e *fakeEmbedder) Dimensionality() uint32 { return 4 }

// fakeAnalyzer is a scriptable Analyzer: individual slides can be made to
// fail or panic, and every call is recorded.
type fakeAnalyzer struct {
	mu sync.Mutex

	globalResult *datamodel.GlobalAnalysis
	globalErr    error

	failSlides  map[int]bool
	panicSlides map[int]bool

	summary    string
	summaryErr error

	// started/release gate slide analysis so tests can hold a job in flight.
	started chan struct{}
	release chan struct{}

	priorSummariesSeen [][]string
	slideCalls         []int
}

func (a *fakeAnalyzer) AnalyzeGlobal(_ context.Context, _ []datamodel.ExtractedSlide, _ datamodel.PresentationMetadata) (*datamodel.GlobalAnalysis, error) {
	if a.globalErr != nil {
		return nil, a.globalErr
	}
	if a.globalResult != nil {
		return a.globalResult, nil
	}
	return &datamodel.GlobalAnalysis{
		Structured: &datamodel.GlobalInsights{
			OverallSummary: "A deck about testing.",
			KeyConcepts:    []string{"testing"},
		},
	}, nil
}

func (a *fakeAnalyzer) AnalyzeSlide(_ context.Context, slide datamodel.ExtractedSlide, _ *datamodel.GlobalAnalysis, priorSummaries []string) (*datamodel.SlideData, error) {
	a.mu.Lock()
	a.slideCalls = append(a.slideCalls, slide.SlideNumber)
	a.priorSummariesSeen = append(a.priorSummariesSeen, append([]string(nil), priorSummaries...))
	a.mu.Unlock()

	if a.started != nil {
		a.started <- struct{}{}
	}
	if a.release != nil {
		<-a.release
	}
	if a.panicSlides[slide.SlideNumber] {
		panic(fmt.Sprintf("synthetic panic on slide %d", slide.SlideNumber))
	}
	if a.failSlides[slide.SlideNumber] {
		return nil, fmt.Errorf("synthetic failure on slide %d", slide.SlideNumber)
	}
	return &datamodel.SlideData{
		SlideNumber:  slide.SlideNumber,
		SlideTitle:   fmt.Sprintf("Title %d", slide.SlideNumber),
		SlideSummary: fmt.Sprintf("Summary %d", slide.SlideNumber),
		Elements:     []datamodel.SlideElement{},
	}, nil
}

func (a *fakeAnalyzer) Summarize(_ context.Context, _ []datamodel.SlideData, _ *datamodel.GlobalAnalysis) (string, error) {
	if a.summaryErr != nil {
		return "", a.summaryErr
	}
	if a.summary != "" {
		return a.summary, nil
	}
	return "Executive summary.", nil
}

func (a *fakeAnalyzer) Name() string { return "fake" }

func (a *fakeAnalyzer) priorSummaries() [][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([][]string(nil), a.priorSummariesSeen...)
}

// fakeExtractor returns n synthetic slides.
type fakeExtractor struct {
	slides     int
	err        error
	panics     bool
	cleanupRun int
	mu         sync.Mutex
}

func (e *fakeExtractor) Extract(_ context.Context, filePath string) (*extractor.Result, func(), error) {
	if e.panics {
		panic("synthetic extraction panic")
	}
	if e.err != nil {
		return nil, nil, e.err
	}
	slides := make([]datamodel.ExtractedSlide, e.slides)
	for i := range slides {
		slides[i] = datamodel.ExtractedSlide{
			SlideNumber: i + 1,
			ImageBase64: "aGVsbG8=",
		}
	}
	cleanup := func() {
		e.mu.Lock()
		e.cleanupRun++
		e.mu.Unlock()
	}
	return &extractor.Result{
		Slides: slides,
		Metadata: datamodel.ExtractionMetadata{
			TotalSlides:    e.slides,
			SourceFilename: filePath,
		},
	}, cleanup, nil
}

func (e *fakeExtractor) cleanups() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cleanupRun
}

// fakePublisher records uploaded documents.
type fakePublisher struct {
	mu      sync.Mutex
	uploads []knowledgebase.UploadParams
	err     error
}

func (p *fakePublisher) UploadDocument(_ context.Context, params knowledgebase.UploadParams) (*knowledgebase.UploadResult, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.uploads = append(p.uploads, params)
	return &knowledgebase.UploadResult{DocumentID: fmt.Sprintf("doc-%d", len(p.uploads))}, nil
}

func (p *fakePublisher) SearchDocuments(context.Context, knowledgebase.SearchParams) ([]knowledgebase.RetrievedDocument, error) {
	return nil, nil
}

func (p *fakePublisher) DeleteDocument(context.Context, string, string) error { return nil }

func (p *fakePublisher) uploaded() []knowledgebase.UploadParams {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]knowledgebase.UploadParams(nil), p.uploads...)
}

// fakeObjectStorage is an in-memory ObjectStorage.
type fakeObjectStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{objects: map[string][]byte{}}
}

func (s *fakeObjectStorage) UploadFile(_ context.Context, objectPath string, content []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[objectPath] = append([]byte(nil), content...)
	return nil
}

func (s *fakeObjectStorage) GetFile(_ context.Context, objectPath string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.objects[objectPath]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", objectPath, errorsx.ErrNotFound)
	}
	return append([]byte(nil), content...), nil
}

func (s *fakeObjectStorage) DeleteFile(_ context.Context, objectPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, objectPath)
	return nil
}

func (s *fakeObjectStorage) has(objectPath string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[objectPath]
	return ok
}
