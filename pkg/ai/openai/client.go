package openai

import (
	"context"
	"fmt"
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	errorsx "github.com/decksense/presentation-backend/pkg/errors"
)

// DefaultEmbeddingModel is the embedding model used when the configuration
// doesn't specify one.
const DefaultEmbeddingModel = "text-embedding-3-small"

// DefaultEmbeddingDimension is the vector size of the default model.
const DefaultEmbeddingDimension = 1536

// Client implements the ai.Embedder interface for OpenAI. It only supports
// embedding generation; slide analysis goes through Gemini.
type Client struct {
	client         *openai.Client
	embeddingModel string
}

// NewClient creates a new OpenAI embedding client.
func NewClient(apiKey, embeddingModel string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("missing OpenAI API key: %w", errorsx.ErrInvalidArgument)
	}
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
	)

	return &Client{
		client:         &client,
		embeddingModel: embeddingModel,
	}, nil
}

// Dimensionality returns the embedding vector size (1536).
func (c *Client) Dimensionality() uint32 {
	return DefaultEmbeddingDimension
}

// EmbedTexts generates embeddings for a batch of texts, preserving input
// order.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("text at index %d is empty: %w", i, errorsx.ErrInvalidArgument)
		}
	}

	// Process texts concurrently for better performance
	vectors := make([][]float32, len(texts))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var embeddingErr error

	const maxRetries = 3

	for i, text := range texts {
		wg.Add(1)
		go func(idx int, txt string) {
			defer wg.Done()

			var embedding []float32
			var err error

			for attempt := 0; attempt < maxRetries; attempt++ {
				response, apiErr := c.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
					Input: openai.EmbeddingNewParamsInputUnion{
						OfArrayOfStrings: []string{txt},
					},
					Model: c.embeddingModel,
				})

				if apiErr != nil {
					err = fmt.Errorf("embedding call failed for text %d: %w", idx, apiErr)
					continue
				}
				if len(response.Data) == 0 || len(response.Data[0].Embedding) == 0 {
					err = fmt.Errorf("empty embedding returned for text %d", idx)
					continue
				}

				emb := response.Data[0].Embedding
				embedding = make([]float32, len(emb))
				for j, val := range emb {
					embedding[j] = float32(val)
				}
				err = nil
				break
			}

			if err != nil {
				mu.Lock()
				if embeddingErr == nil {
					embeddingErr = fmt.Errorf("embedding failed after %d attempts: %w", maxRetries, err)
				}
				mu.Unlock()
				return
			}

			// Store result at correct index to preserve order
			mu.Lock()
			vectors[idx] = embedding
			mu.Unlock()
		}(i, text)
	}

	wg.Wait()

	if embeddingErr != nil {
		return nil, embeddingErr
	}
	return vectors, nil
}
