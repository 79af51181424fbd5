// Package knowledgebase publishes transcription documents to a Dify knowledge
// base so they become retrievable by downstream assistants. Publishing is
// best-effort: the pipeline completes even when the knowledge base rejects a
// document.
package knowledgebase

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	logx "github.com/decksense/presentation-backend/pkg/logger"
)

const (
	reqTimeout    = time.Minute * 5
	maxRetryCount = 3
	retryDelay    = 100 * time.Millisecond

	datasetPageLimit = 100
)

// Publisher is the knowledge-base surface the pipeline depends on.
type Publisher interface {
	// UploadDocument creates a document from text and attaches the given
	// metadata. A non-empty datasetName overrides datasetID and is resolved
	// (or created) by name.
	UploadDocument(ctx context.Context, params UploadParams) (*UploadResult, error)

	// SearchDocuments retrieves documents semantically related to the query.
	SearchDocuments(ctx context.Context, params SearchParams) ([]RetrievedDocument, error)

	// DeleteDocument removes a document.
	DeleteDocument(ctx context.Context, datasetID, documentID string) error
}

// UploadParams identifies and describes the document to publish.
type UploadParams struct {
	DocumentName string
	Content      string
	Metadata     map[string]any
	DatasetName  string
	DatasetID    string
}

// UploadResult reports where the document landed.
type UploadResult struct {
	DocumentID string
	DatasetID  string
}

// SearchParams scopes a semantic retrieval call.
type SearchParams struct {
	Query               string
	DatasetID           string
	Limit               int
	SimilarityThreshold float64
}

// RetrievedDocument is one retrieval hit.
type RetrievedDocument struct {
	DocumentID   string
	DocumentName string
	Content      string
	Score        float64
}

// Client interacts with the Dify dataset HTTP API.
type Client struct {
	*resty.Client

	defaultDatasetID string
}

// NewClient returns an initialized knowledge-base HTTP client.
func NewClient(ctx context.Context, baseURL, apiKey, defaultDatasetID string) *Client {
	l, _ := logx.GetZapLogger(ctx)

	r := resty.New().
		SetLogger(l.Sugar()).
		SetBaseURL(baseURL).
		SetAuthToken(apiKey).
		SetTimeout(reqTimeout).
		SetRetryCount(maxRetryCount).
		SetRetryWaitTime(retryDelay)

	return &Client{
		Client:           r,
		defaultDatasetID: defaultDatasetID,
	}
}

type documentCreateRequest struct {
	Name              string      `json:"name"`
	Text              string      `json:"text"`
	IndexingTechnique string      `json:"indexing_technique"`
	ProcessRule       processRule `json:"process_rule"`
}

type processRule struct {
	Mode  string           `json:"mode"`
	Rules processRuleRules `json:"rules"`
}

type processRuleRules struct {
	PreProcessingRules []preProcessingRule `json:"pre_processing_rules"`
	Segmentation       segmentation        `json:"segmentation"`
}

type preProcessingRule struct {
	ID      string `json:"id"`
	Enabled bool   `json:"enabled"`
}

type segmentation struct {
	Separator string `json:"separator"`
	MaxTokens int    `json:"max_tokens"`
}

type documentCreateResponse struct {
	Document struct {
		ID string `json:"id"`
	} `json:"document"`
}

func defaultProcessRule() processRule {
	return processRule{
		Mode: "automatic",
		Rules: processRuleRules{
			PreProcessingRules: []preProcessingRule{
				{ID: "remove_extra_spaces", Enabled: true},
				{ID: "remove_urls_emails", Enabled: false},
			},
			Segmentation: segmentation{
				Separator: `\n\n`,
				MaxTokens: 1000,
			},
		},
	}
}

// UploadDocument creates the document, makes sure the metadata fields exist
// in the dataset and assigns the metadata values. Metadata assignment
// failures are logged but don't fail the upload.
func (c *Client) UploadDocument(ctx context.Context, params UploadParams) (*UploadResult, error) {
	logger, _ := logx.GetZapLogger(ctx)

	datasetID := params.DatasetID
	if datasetID == "" {
		datasetID = c.defaultDatasetID
	}
	if params.DatasetName != "" {
		datasetID = c.getOrCreateDatasetByName(ctx, params.DatasetName)
	}

	var resp documentCreateResponse
	r := c.R().SetContext(ctx).
		SetBody(documentCreateRequest{
			Name:              params.DocumentName,
			Text:              params.Content,
			IndexingTechnique: "high_quality",
			ProcessRule:       defaultProcessRule(),
		}).
		SetResult(&resp)
	httpResp, err := r.Post(fmt.Sprintf("/datasets/%s/document/create_by_text", datasetID))
	if err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}
	if httpResp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("creating document: unexpected status %d: %s", httpResp.StatusCode(), httpResp.String())
	}
	if resp.Document.ID == "" {
		return nil, fmt.Errorf("creating document: no document ID in response")
	}

	if len(params.Metadata) > 0 {
		c.ensureMetadataFields(ctx, datasetID, params.Metadata)
		if err := c.assignMetadata(ctx, datasetID, resp.Document.ID, params.Metadata); err != nil {
			logger.Warn("Failed to assign document metadata",
				zap.String("document_id", resp.Document.ID), zap.Error(err))
		}
	}

	return &UploadResult{
		DocumentID: resp.Document.ID,
		DatasetID:  datasetID,
	}, nil
}

type datasetListResponse struct {
	Data []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"data"`
}

type datasetCreateRequest struct {
	Name              string `json:"name"`
	Description       string `json:"description"`
	Permission        string `json:"permission"`
	Provider          string `json:"provider"`
	IndexingTechnique string `json:"indexing_technique"`
}

type datasetCreateResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// getOrCreateDatasetByName resolves a dataset ID by name, creating the
// dataset when it doesn't exist. On failure the default dataset is used so
// publishing can still proceed.
func (c *Client) getOrCreateDatasetByName(ctx context.Context, name string) string {
	logger, _ := logx.GetZapLogger(ctx)

	var list datasetListResponse
	r := c.R().SetContext(ctx).
		SetQueryParams(map[string]string{
			"page":  "1",
			"limit": fmt.Sprintf("%d", datasetPageLimit),
		}).
		SetResult(&list)
	if _, err := r.Get("/datasets"); err != nil {
		logger.Warn("Failed to list datasets, using default", zap.Error(err))
		return c.defaultDatasetID
	}
	for _, dataset := range list.Data {
		if dataset.Name == name {
			return dataset.ID
		}
	}

	logger.Info("Dataset not found, creating it", zap.String("dataset_name", name))
	var created datasetCreateResponse
	r = c.R().SetContext(ctx).
		SetBody(datasetCreateRequest{
			Name:              name,
			Description:       "Auto-created dataset for presentations - " + name,
			Permission:        "only_me",
			Provider:          "vendor",
			IndexingTechnique: "high_quality",
		}).
		SetResult(&created)
	httpResp, err := r.Post("/datasets")
	if err != nil || httpResp.StatusCode() != http.StatusOK || created.ID == "" {
		logger.Warn("Failed to create dataset, using default",
			zap.String("dataset_name", name), zap.Error(err))
		return c.defaultDatasetID
	}
	return created.ID
}

type metadataField struct {
	ID   string `json:"id,omitempty"`
	Type string `json:"type"`
	Name string `json:"name"`
}

type metadataFieldsResponse struct {
	DocMetadata []metadataField `json:"doc_metadata"`
}

func (c *Client) existingMetadataFields(ctx context.Context, datasetID string) []metadataField {
	var resp metadataFieldsResponse
	r := c.R().SetContext(ctx).SetResult(&resp)
	if _, err := r.Get(fmt.Sprintf("/datasets/%s/metadata", datasetID)); err != nil {
		return nil
	}
	return resp.DocMetadata
}

// ensureMetadataFields creates any metadata fields the dataset is missing.
func (c *Client) ensureMetadataFields(ctx context.Context, datasetID string, metadata map[string]any) {
	logger, _ := logx.GetZapLogger(ctx)

	existing := map[string]bool{}
	for _, field := range c.existingMetadataFields(ctx, datasetID) {
		existing[field.Name] = true
	}

	for name, value := range metadata {
		if existing[name] {
			continue
		}
		r := c.R().SetContext(ctx).SetBody(metadataField{
			Type: fieldType(value),
			Name: name,
		})
		httpResp, err := r.Post(fmt.Sprintf("/datasets/%s/metadata", datasetID))
		if err != nil || (httpResp.StatusCode() != http.StatusOK && httpResp.StatusCode() != http.StatusCreated) {
			logger.Warn("Failed to create metadata field", zap.String("field", name), zap.Error(err))
		}
	}
}

func fieldType(value any) string {
	switch value.(type) {
	case bool:
		return "boolean"
	case int, int32, int64, float32, float64:
		return "number"
	default:
		return "string"
	}
}

type metadataAssignment struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

type metadataOperation struct {
	DocumentID   string               `json:"document_id"`
	MetadataList []metadataAssignment `json:"metadata_list"`
}

type metadataOperationRequest struct {
	OperationData []metadataOperation `json:"operation_data"`
}

func (c *Client) assignMetadata(ctx context.Context, datasetID, documentID string, metadata map[string]any) error {
	fieldIDs := map[string]string{}
	for _, field := range c.existingMetadataFields(ctx, datasetID) {
		fieldIDs[field.Name] = field.ID
	}

	assignments := make([]metadataAssignment, 0, len(metadata))
	for name, value := range metadata {
		fieldID, ok := fieldIDs[name]
		if !ok {
			continue
		}
		assignments = append(assignments, metadataAssignment{
			ID:    fieldID,
			Name:  name,
			Value: fmt.Sprintf("%v", value),
		})
	}
	if len(assignments) == 0 {
		return fmt.Errorf("no resolvable metadata fields for document %s", documentID)
	}

	r := c.R().SetContext(ctx).SetBody(metadataOperationRequest{
		OperationData: []metadataOperation{
			{
				DocumentID:   documentID,
				MetadataList: assignments,
			},
		},
	})
	httpResp, err := r.Post(fmt.Sprintf("/datasets/%s/documents/metadata", datasetID))
	if err != nil {
		return fmt.Errorf("assigning metadata: %w", err)
	}
	if httpResp.StatusCode() != http.StatusOK {
		return fmt.Errorf("assigning metadata: unexpected status %d", httpResp.StatusCode())
	}
	return nil
}

type retrievalRequest struct {
	Query          string         `json:"query"`
	RetrievalModel retrievalModel `json:"retrieval_model"`
}

type retrievalModel struct {
	SearchMethod          string  `json:"search_method"`
	RerankingEnable       bool    `json:"reranking_enable"`
	TopK                  int     `json:"top_k"`
	ScoreThresholdEnabled bool    `json:"score_threshold_enabled"`
	ScoreThreshold        float64 `json:"score_threshold"`
}

type retrievalResponse struct {
	Records []struct {
		Segment struct {
			Content  string `json:"content"`
			Document struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"document"`
		} `json:"segment"`
		Score float64 `json:"score"`
	} `json:"records"`
}

// SearchDocuments retrieves semantically related documents.
func (c *Client) SearchDocuments(ctx context.Context, params SearchParams) ([]RetrievedDocument, error) {
	datasetID := params.DatasetID
	if datasetID == "" {
		datasetID = c.defaultDatasetID
	}

	var resp retrievalResponse
	r := c.R().SetContext(ctx).
		SetBody(retrievalRequest{
			Query: params.Query,
			RetrievalModel: retrievalModel{
				SearchMethod:          "semantic_search",
				RerankingEnable:       false,
				TopK:                  params.Limit,
				ScoreThresholdEnabled: true,
				ScoreThreshold:        params.SimilarityThreshold,
			},
		}).
		SetResult(&resp)
	httpResp, err := r.Post(fmt.Sprintf("/datasets/%s/retrieve", datasetID))
	if err != nil {
		return nil, fmt.Errorf("retrieving documents: %w", err)
	}
	if httpResp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("retrieving documents: unexpected status %d: %s", httpResp.StatusCode(), httpResp.String())
	}

	docs := make([]RetrievedDocument, 0, len(resp.Records))
	for _, record := range resp.Records {
		docs = append(docs, RetrievedDocument{
			DocumentID:   record.Segment.Document.ID,
			DocumentName: record.Segment.Document.Name,
			Content:      record.Segment.Content,
			Score:        record.Score,
		})
	}
	return docs, nil
}

// DeleteDocument removes a document from a dataset.
func (c *Client) DeleteDocument(ctx context.Context, datasetID, documentID string) error {
	httpResp, err := c.R().SetContext(ctx).
		Delete(fmt.Sprintf("/datasets/%s/documents/%s", datasetID, documentID))
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if httpResp.StatusCode() != http.StatusNoContent && httpResp.StatusCode() != http.StatusOK {
		return fmt.Errorf("deleting document: unexpected status %d", httpResp.StatusCode())
	}
	return nil
}
