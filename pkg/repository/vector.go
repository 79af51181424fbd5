package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	errorsx "github.com/decksense/presentation-backend/pkg/errors"
	logx "github.com/decksense/presentation-backend/pkg/logger"
)

// VectorDocument is one indexed text (a slide or the presentation rollup)
// together with its embedding.
type VectorDocument struct {
	DocumentID      string
	TranscriptionID string
	ContentType     string // "slide" or "summary"
	SlideNumber     int64  // 0 for summary documents
	Text            string
	Vector          []float32
}

// SimilarDocument extends VectorDocument with a similarity search score.
type SimilarDocument struct {
	VectorDocument
	Score float32
}

// VectorDatabase implements the necessary use cases to interact with a vector
// database (e.g., Milvus).
type VectorDatabase interface {
	EnsureCollection(_ context.Context, name string, dimensionality uint32) error
	InsertDocuments(_ context.Context, collection string, docs []VectorDocument) error
	Search(_ context.Context, collection string, vector []float32, topK int) ([]SimilarDocument, error)
	DeleteByTranscriptionID(_ context.Context, collection string, transcriptionID string) error
	FlushCollection(_ context.Context, collection string) error
}

// Milvus implementation constants
const (
	scanNList  = 1024
	metricType = entity.COSINE
	withRaw    = true

	nProbe   = 250
	reorderK = 250

	collectionFieldDocumentID      = "document_id"
	collectionFieldTranscriptionID = "transcription_id"
	collectionFieldContentType     = "content_type"
	collectionFieldSlideNumber     = "slide_number"
	collectionFieldText            = "text"
	collectionFieldEmbedding       = "embedding"
)

type milvusClient struct {
	c client.Client
}

// NewVectorDatabase returns a VectorDatabase implementation (milvus).
func NewVectorDatabase(ctx context.Context, host, port string) (db VectorDatabase, closeFn func() error, _ error) {
	c, err := client.NewGrpcClient(ctx, host+":"+port)
	if err != nil {
		return nil, nil, err
	}

	return &milvusClient{c: c}, c.Close, nil
}

func (m *milvusClient) EnsureCollection(ctx context.Context, collectionName string, dimensionality uint32) error {
	logger, _ := logx.GetZapLogger(ctx)
	logger = logger.With(zap.String("collection_name", collectionName), zap.Uint32("dimensionality", dimensionality))

	has, err := m.c.HasCollection(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("checking collection existence: %w", err)
	}
	if has {
		logger.Info("Skipping collection creation: already exists.")
		return nil
	}

	vectorDimStr := fmt.Sprintf("%d", dimensionality)
	schema := &entity.Schema{
		CollectionName: collectionName,
		Fields: []*entity.Field{
			{Name: collectionFieldDocumentID, DataType: entity.FieldTypeVarChar, PrimaryKey: true, TypeParams: map[string]string{"max_length": "255"}},
			{Name: collectionFieldTranscriptionID, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "255"}},
			{Name: collectionFieldContentType, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "64"}},
			{Name: collectionFieldSlideNumber, DataType: entity.FieldTypeInt64},
			{Name: collectionFieldText, DataType: entity.FieldTypeVarChar, TypeParams: map[string]string{"max_length": "65535"}},
			{Name: collectionFieldEmbedding, DataType: entity.FieldTypeFloatVector, TypeParams: map[string]string{"dim": vectorDimStr}},
		},
	}

	if err := m.c.CreateCollection(ctx, schema, 1); err != nil {
		return fmt.Errorf("creating collection: %w", err)
	}

	vectorIdx, err := entity.NewIndexSCANN(metricType, scanNList, withRaw)
	if err != nil {
		return fmt.Errorf("building index: %w", err)
	}

	for field, idx := range map[string]entity.Index{
		collectionFieldEmbedding:       vectorIdx,
		collectionFieldTranscriptionID: entity.NewScalarIndexWithType(entity.Inverted),
	} {
		if err := m.c.CreateIndex(ctx, collectionName, field, idx, false); err != nil {
			return fmt.Errorf("creating index for field %s: %w", field, err)
		}
	}

	logger.Info("Collection created successfully.")
	return nil
}

func (m *milvusClient) InsertDocuments(ctx context.Context, collectionName string, docs []VectorDocument) error {
	logger, _ := logx.GetZapLogger(ctx)
	logger = logger.With(zap.String("collection_name", collectionName))

	has, err := m.c.HasCollection(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("checking collection existence: %w", err)
	}
	if !has {
		return fmt.Errorf("collection does not exist: %w", errorsx.ErrNotFound)
	}

	if len(docs) == 0 {
		return nil
	}
	vectorDim := len(docs[0].Vector)

	count := len(docs)
	documentIDs := make([]string, count)
	transcriptionIDs := make([]string, count)
	contentTypes := make([]string, count)
	slideNumbers := make([]int64, count)
	texts := make([]string, count)
	vectors := make([][]float32, count)

	for i, doc := range docs {
		documentIDs[i] = doc.DocumentID
		transcriptionIDs[i] = doc.TranscriptionID
		contentTypes[i] = doc.ContentType
		slideNumbers[i] = doc.SlideNumber
		texts[i] = doc.Text
		vectors[i] = doc.Vector
	}

	columns := []entity.Column{
		entity.NewColumnVarChar(collectionFieldDocumentID, documentIDs),
		entity.NewColumnVarChar(collectionFieldTranscriptionID, transcriptionIDs),
		entity.NewColumnVarChar(collectionFieldContentType, contentTypes),
		entity.NewColumnInt64(collectionFieldSlideNumber, slideNumbers),
		entity.NewColumnVarChar(collectionFieldText, texts),
		entity.NewColumnFloatVector(collectionFieldEmbedding, vectorDim, vectors),
	}

	// Insert the data with retry
	maxRetries := 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		_, err = m.c.Upsert(ctx, collectionName, "", columns...)
		if err == nil {
			break
		}
		logger.Warn("Failed to insert vectors, retrying", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Second * time.Duration(attempt))
	}
	if err != nil {
		return fmt.Errorf("inserting vectors: %w", err)
	}

	logger.Info("Successfully inserted vectors", zap.Int("count", count))
	return nil
}

func (m *milvusClient) Search(ctx context.Context, collectionName string, vector []float32, topK int) ([]SimilarDocument, error) {
	logger, _ := logx.GetZapLogger(ctx)
	logger = logger.With(zap.String("collection_name", collectionName))

	has, err := m.c.HasCollection(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("checking collection existence: %w", err)
	}
	if !has {
		return nil, fmt.Errorf("checking collection existence: %w", errorsx.ErrNotFound)
	}

	if err := m.c.LoadCollection(ctx, collectionName, false); err != nil {
		return nil, fmt.Errorf("loading collection: %w", err)
	}

	outputFields := []string{
		collectionFieldDocumentID,
		collectionFieldTranscriptionID,
		collectionFieldContentType,
		collectionFieldSlideNumber,
		collectionFieldText,
	}

	sp, err := entity.NewIndexSCANNSearchParam(nProbe, reorderK)
	if err != nil {
		return nil, fmt.Errorf("creating search param: %w", err)
	}

	t := time.Now()
	results, err := m.c.Search(
		ctx,
		collectionName,
		nil,
		"",
		outputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		collectionFieldEmbedding,
		metricType,
		topK,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("searching embeddings: %w", err)
	}
	logger.Info("Embeddings search.", zap.Duration("duration", time.Since(t)))

	var docs []SimilarDocument
	for _, result := range results {
		if result.ResultCount == 0 {
			continue
		}
		documentIDs, err := getStringData(result.Fields.GetColumn(collectionFieldDocumentID))
		if err != nil {
			return nil, fmt.Errorf("getting document ID column value: %w", err)
		}
		transcriptionIDs, err := getStringData(result.Fields.GetColumn(collectionFieldTranscriptionID))
		if err != nil {
			return nil, fmt.Errorf("getting transcription ID column value: %w", err)
		}
		contentTypes, err := getStringData(result.Fields.GetColumn(collectionFieldContentType))
		if err != nil {
			return nil, fmt.Errorf("getting content type column value: %w", err)
		}
		texts, err := getStringData(result.Fields.GetColumn(collectionFieldText))
		if err != nil {
			return nil, fmt.Errorf("getting text column value: %w", err)
		}
		slideNumbers, err := getInt64Data(result.Fields.GetColumn(collectionFieldSlideNumber))
		if err != nil {
			return nil, fmt.Errorf("getting slide number column value: %w", err)
		}

		for i := range documentIDs {
			docs = append(docs, SimilarDocument{
				VectorDocument: VectorDocument{
					DocumentID:      documentIDs[i],
					TranscriptionID: transcriptionIDs[i],
					ContentType:     contentTypes[i],
					SlideNumber:     slideNumbers[i],
					Text:            texts[i],
				},
				Score: result.Scores[i],
			})
		}
	}
	return docs, nil
}

func (m *milvusClient) DeleteByTranscriptionID(ctx context.Context, collectionName string, transcriptionID string) error {
	logger, _ := logx.GetZapLogger(ctx)
	logger = logger.With(zap.String("collection_name", collectionName), zap.String("transcription_id", transcriptionID))

	has, err := m.c.HasCollection(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("checking collection existence: %w", err)
	}
	// Nothing to delete
	if !has {
		logger.Info("Collection does not exist, skipping delete")
		return nil
	}

	if err := m.c.LoadCollection(ctx, collectionName, false); err != nil {
		return fmt.Errorf("loading collection for delete: %w", err)
	}

	expr := fmt.Sprintf("%s == '%s'", collectionFieldTranscriptionID, transcriptionID)
	if err := m.c.Delete(ctx, collectionName, "", expr); err != nil {
		return fmt.Errorf("deleting embeddings: %w", err)
	}

	logger.Info("Successfully deleted embeddings")
	return nil
}

func (m *milvusClient) FlushCollection(ctx context.Context, collectionName string) error {
	logger, _ := logx.GetZapLogger(ctx)
	logger = logger.With(zap.String("collection_name", collectionName))

	var err error
	maxRetries := 3
	for attempt := 1; attempt <= maxRetries; attempt++ {
		err = m.c.Flush(ctx, collectionName, false)
		if err == nil {
			break
		}
		logger.Warn("Failed to flush collection, retrying", zap.Int("attempt", attempt), zap.Error(err))
		time.Sleep(time.Second * time.Duration(attempt))
	}
	if err != nil {
		return fmt.Errorf("flushing collection: %w", err)
	}
	return nil
}

func getStringData(col entity.Column) ([]string, error) {
	stringCol, ok := col.(*entity.ColumnVarChar)
	if !ok {
		return nil, fmt.Errorf("unexpected column type %T for field %s", col, col.Name())
	}
	return stringCol.Data(), nil
}

func getInt64Data(col entity.Column) ([]int64, error) {
	intCol, ok := col.(*entity.ColumnInt64)
	if !ok {
		return nil, fmt.Errorf("unexpected column type %T for field %s", col, col.Name())
	}
	return intCol.Data(), nil
}
