package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/decksense/presentation-backend/pkg/datamodel"
	errorsx "github.com/decksense/presentation-backend/pkg/errors"
)

// RecordStore persists the durable processing records, keyed by
// transcription ID with no automatic expiry.
type RecordStore interface {
	// Create inserts the initial record for a job entering the pipeline.
	// Transcription IDs are deterministic, so re-submitting the same deck
	// replaces the existing record and the run starts fresh.
	Create(ctx context.Context, record *datamodel.ProcessingRecord) error

	// UpdateStatus sets the coarse status and, optionally, an error message.
	UpdateStatus(ctx context.Context, transcriptionID string, status datamodel.RecordStatus, errMsg string) error

	// UpdateProcessingStatus records a stage boundary.
	UpdateProcessingStatus(ctx context.Context, transcriptionID string, status datamodel.ProcessingStatus) error

	// Finalize attaches the full transcription to a completed record.
	Finalize(ctx context.Context, transcriptionID string, transcription *datamodel.PresentationTranscription, processingTime float64) error

	// Get returns a record or ErrNotFound.
	Get(ctx context.Context, transcriptionID string) (*datamodel.ProcessingRecord, error)

	// List returns up to limit records, newest first, optionally filtered by
	// status. The transcription payload is omitted from listings.
	List(ctx context.Context, limit int, status *datamodel.RecordStatus) ([]datamodel.ProcessingRecord, error)

	// Delete removes a record, reporting whether it existed.
	Delete(ctx context.Context, transcriptionID string) (bool, error)

	// Statistics summarizes the stored records.
	Statistics(ctx context.Context) (*datamodel.SystemStatistics, error)
}

// DefaultListLimit is the listing page size when none is assigned.
const DefaultListLimit = 10

// MaxListLimit is the maximum listing page size if the assigned value is over
// this number.
const MaxListLimit = 100

type recordStore struct {
	db *gorm.DB
}

// NewRecordStore implements RecordStore on a gorm database.
func NewRecordStore(db *gorm.DB) RecordStore {
	return &recordStore{db: db}
}

func (r *recordStore) Create(ctx context.Context, record *datamodel.ProcessingRecord) error {
	if record.TranscriptionID == "" {
		return fmt.Errorf("transcription ID is empty: %w", errorsx.ErrInvalidArgument)
	}
	// Re-submission is the retry path for failed jobs: the same deck yields
	// the same ID, so an existing row is overwritten instead of rejected,
	// resetting status, error and transcription for the new run.
	if err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "transcription_id"}},
			UpdateAll: true,
		}).
		Create(record).Error; err != nil {
		return fmt.Errorf("creating processing record: %w", err)
	}
	return nil
}

func (r *recordStore) UpdateStatus(ctx context.Context, transcriptionID string, status datamodel.RecordStatus, errMsg string) error {
	updates := map[string]any{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if errMsg != "" {
		updates["error_message"] = errMsg
	}
	if status == datamodel.RecordStatusFailed {
		updates["processing_status"] = datamodel.ProcessingStatusFailed
	}

	result := r.db.WithContext(ctx).
		Model(&datamodel.ProcessingRecord{}).
		Where("transcription_id = ?", transcriptionID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("updating record status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("record %s: %w", transcriptionID, errorsx.ErrNotFound)
	}
	return nil
}

func (r *recordStore) UpdateProcessingStatus(ctx context.Context, transcriptionID string, status datamodel.ProcessingStatus) error {
	result := r.db.WithContext(ctx).
		Model(&datamodel.ProcessingRecord{}).
		Where("transcription_id = ?", transcriptionID).
		Updates(map[string]any{
			"processing_status": status,
			"updated_at":        time.Now().UTC(),
		})
	if result.Error != nil {
		return fmt.Errorf("updating processing status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("record %s: %w", transcriptionID, errorsx.ErrNotFound)
	}
	return nil
}

func (r *recordStore) Finalize(ctx context.Context, transcriptionID string, transcription *datamodel.PresentationTranscription, processingTime float64) error {
	payload, err := json.Marshal(transcription)
	if err != nil {
		return fmt.Errorf("marshaling transcription: %w", err)
	}

	now := time.Now().UTC()
	slidesCount := len(transcription.Slides)
	result := r.db.WithContext(ctx).
		Model(&datamodel.ProcessingRecord{}).
		Where("transcription_id = ?", transcriptionID).
		Updates(map[string]any{
			"status":                  datamodel.RecordStatusCompleted,
			"processing_status":       datamodel.ProcessingStatusCompleted,
			"slides_count":            slidesCount,
			"processing_time_seconds": processingTime,
			"transcription":           datatypes.JSON(payload),
			"completed_at":            now,
			"updated_at":              now,
		})
	if result.Error != nil {
		return fmt.Errorf("finalizing record: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("record %s: %w", transcriptionID, errorsx.ErrNotFound)
	}
	return nil
}

func (r *recordStore) Get(ctx context.Context, transcriptionID string) (*datamodel.ProcessingRecord, error) {
	var record datamodel.ProcessingRecord
	err := r.db.WithContext(ctx).
		Where("transcription_id = ?", transcriptionID).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("record %s: %w", transcriptionID, errorsx.ErrNotFound)
		}
		return nil, fmt.Errorf("getting processing record: %w", err)
	}
	return &record, nil
}

func (r *recordStore) List(ctx context.Context, limit int, status *datamodel.RecordStatus) ([]datamodel.ProcessingRecord, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	query := r.db.WithContext(ctx).
		Model(&datamodel.ProcessingRecord{}).
		// Listings omit the heavy transcription payload.
		Omit("transcription").
		Order("created_at DESC").
		Limit(limit)
	if status != nil {
		query = query.Where("status = ?", *status)
	}

	var records []datamodel.ProcessingRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("listing processing records: %w", err)
	}
	return records, nil
}

func (r *recordStore) Delete(ctx context.Context, transcriptionID string) (bool, error) {
	result := r.db.WithContext(ctx).
		Where("transcription_id = ?", transcriptionID).
		Delete(&datamodel.ProcessingRecord{})
	if result.Error != nil {
		return false, fmt.Errorf("deleting processing record: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (r *recordStore) Statistics(ctx context.Context) (*datamodel.SystemStatistics, error) {
	stats := &datamodel.SystemStatistics{
		StatusBreakdown: map[string]int64{},
		LastUpdated:     time.Now().UTC(),
	}

	if err := r.db.WithContext(ctx).
		Model(&datamodel.ProcessingRecord{}).
		Count(&stats.TotalPresentations).Error; err != nil {
		return nil, fmt.Errorf("counting records: %w", err)
	}

	type statusCount struct {
		Status string
		Count  int64
	}
	var counts []statusCount
	if err := r.db.WithContext(ctx).
		Model(&datamodel.ProcessingRecord{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&counts).Error; err != nil {
		return nil, fmt.Errorf("counting records by status: %w", err)
	}
	for _, c := range counts {
		stats.StatusBreakdown[c.Status] = c.Count
	}

	var avg *float64
	if err := r.db.WithContext(ctx).
		Model(&datamodel.ProcessingRecord{}).
		Select("avg(processing_time_seconds)").
		Where("processing_time_seconds IS NOT NULL").
		Scan(&avg).Error; err != nil {
		return nil, fmt.Errorf("averaging processing time: %w", err)
	}
	if avg != nil {
		stats.AverageProcessingTimeSeconds = *avg
	}

	return stats, nil
}
