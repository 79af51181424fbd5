package knowledgebase

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	qt "github.com/frankban/quicktest"
)

// difyStub emulates the dataset API endpoints the client touches.
type difyStub struct {
	mu sync.Mutex

	datasets       map[string]string // id -> name
	fields         map[string][]metadataField
	createdDocs    []documentCreateRequest
	assignedOps    []metadataOperationRequest
	deletedDocs    []string
	failDocCreate  bool
	failDatasetOps bool
}

func newDifyStub() *difyStub {
	return &difyStub{
		datasets: map[string]string{"default-id": "default"},
		fields:   map[string][]metadataField{},
	}
}

func (d *difyStub) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /datasets/{id}/document/create_by_text", func(w http.ResponseWriter, r *http.Request) {
		if d.failDocCreate {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req documentCreateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		d.mu.Lock()
		d.createdDocs = append(d.createdDocs, req)
		d.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"document": map[string]any{"id": "doc-123"},
		})
	})

	mux.HandleFunc("GET /datasets", func(w http.ResponseWriter, r *http.Request) {
		if d.failDatasetOps {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		var data []map[string]string
		for id, name := range d.datasets {
			data = append(data, map[string]string{"id": id, "name": name})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	})

	mux.HandleFunc("POST /datasets", func(w http.ResponseWriter, r *http.Request) {
		if d.failDatasetOps {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var req datasetCreateRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		d.mu.Lock()
		d.datasets["created-id"] = req.Name
		d.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "created-id", "name": req.Name})
	})

	mux.HandleFunc("GET /datasets/{id}/metadata", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		defer d.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]any{
			"doc_metadata": d.fields[r.PathValue("id")],
		})
	})

	mux.HandleFunc("POST /datasets/{id}/metadata", func(w http.ResponseWriter, r *http.Request) {
		var field metadataField
		_ = json.NewDecoder(r.Body).Decode(&field)
		d.mu.Lock()
		field.ID = "field-" + field.Name
		d.fields[r.PathValue("id")] = append(d.fields[r.PathValue("id")], field)
		d.mu.Unlock()
		_ = json.NewEncoder(w).Encode(field)
	})

	mux.HandleFunc("POST /datasets/{id}/documents/metadata", func(w http.ResponseWriter, r *http.Request) {
		var req metadataOperationRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		d.mu.Lock()
		d.assignedOps = append(d.assignedOps, req)
		d.mu.Unlock()
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "success"})
	})

	mux.HandleFunc("POST /datasets/{id}/retrieve", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"records": []map[string]any{
				{
					"segment": map[string]any{
						"content": "quarterly revenue grew",
						"document": map[string]string{
							"id":   "doc-123",
							"name": "Deck_Slide_01",
						},
					},
					"score": 0.91,
				},
			},
		})
	})

	mux.HandleFunc("DELETE /datasets/{id}/documents/{docid}", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.deletedDocs = append(d.deletedDocs, r.PathValue("docid"))
		d.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		mux.ServeHTTP(w, r)
	})
}

func newStubbedClient(t *testing.T, stub *difyStub) *Client {
	t.Helper()
	server := httptest.NewServer(stub.handler())
	t.Cleanup(server.Close)

	client := NewClient(context.Background(), server.URL, "test-key", "default-id")
	client.SetRetryCount(0)
	return client
}

func TestUploadDocument(t *testing.T) {
	c := qt.New(t)
	ctx := context.Background()

	t.Run("creates the document and assigns metadata", func(t *testing.T) {
		stub := newDifyStub()
		client := newStubbedClient(t, stub)

		result, err := client.UploadDocument(ctx, UploadParams{
			DocumentName: "Deck_Slide_01",
			Content:      "--- SLIDE 1 ---",
			Metadata: map[string]any{
				"transcription_id": "FIN_20250101_DECK",
				"slide_number":     1,
			},
		})
		c.Assert(err, qt.IsNil)
		c.Assert(result.DocumentID, qt.Equals, "doc-123")
		c.Assert(result.DatasetID, qt.Equals, "default-id")

		c.Assert(stub.createdDocs, qt.HasLen, 1)
		c.Assert(stub.createdDocs[0].Name, qt.Equals, "Deck_Slide_01")
		c.Assert(stub.createdDocs[0].IndexingTechnique, qt.Equals, "high_quality")
		c.Assert(stub.createdDocs[0].ProcessRule.Mode, qt.Equals, "automatic")

		// Both metadata fields were created, then assigned in one operation
		c.Assert(stub.fields["default-id"], qt.HasLen, 2)
		c.Assert(stub.assignedOps, qt.HasLen, 1)
		c.Assert(stub.assignedOps[0].OperationData[0].DocumentID, qt.Equals, "doc-123")
		c.Assert(stub.assignedOps[0].OperationData[0].MetadataList, qt.HasLen, 2)
	})

	t.Run("dataset name is resolved to an existing dataset", func(t *testing.T) {
		stub := newDifyStub()
		stub.datasets["finance-id"] = "finance"
		client := newStubbedClient(t, stub)

		result, err := client.UploadDocument(ctx, UploadParams{
			DocumentName: "Doc",
			Content:      "text",
			DatasetName:  "finance",
		})
		c.Assert(err, qt.IsNil)
		c.Assert(result.DatasetID, qt.Equals, "finance-id")
	})

	t.Run("unknown dataset name is created", func(t *testing.T) {
		stub := newDifyStub()
		client := newStubbedClient(t, stub)

		result, err := client.UploadDocument(ctx, UploadParams{
			DocumentName: "Doc",
			Content:      "text",
			DatasetName:  "brand-new",
		})
		c.Assert(err, qt.IsNil)
		c.Assert(result.DatasetID, qt.Equals, "created-id")
		c.Assert(stub.datasets["created-id"], qt.Equals, "brand-new")
	})

	t.Run("dataset resolution failure falls back to the default", func(t *testing.T) {
		stub := newDifyStub()
		stub.failDatasetOps = true
		client := newStubbedClient(t, stub)

		result, err := client.UploadDocument(ctx, UploadParams{
			DocumentName: "Doc",
			Content:      "text",
			DatasetName:  "whatever",
		})
		c.Assert(err, qt.IsNil)
		c.Assert(result.DatasetID, qt.Equals, "default-id")
	})

	t.Run("document creation failure surfaces", func(t *testing.T) {
		stub := newDifyStub()
		stub.failDocCreate = true
		client := newStubbedClient(t, stub)

		_, err := client.UploadDocument(ctx, UploadParams{DocumentName: "Doc", Content: "text"})
		c.Assert(err, qt.ErrorMatches, "creating document: unexpected status 500.*")
	})
}

func TestSearchDocuments(t *testing.T) {
	c := qt.New(t)

	stub := newDifyStub()
	client := newStubbedClient(t, stub)

	docs, err := client.SearchDocuments(context.Background(), SearchParams{
		Query: "revenue",
		Limit: 5,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(docs, qt.HasLen, 1)
	c.Assert(docs[0].DocumentID, qt.Equals, "doc-123")
	c.Assert(docs[0].DocumentName, qt.Equals, "Deck_Slide_01")
	c.Assert(docs[0].Score, qt.Equals, 0.91)
}

func TestDeleteDocument(t *testing.T) {
	c := qt.New(t)

	stub := newDifyStub()
	client := newStubbedClient(t, stub)

	err := client.DeleteDocument(context.Background(), "default-id", "doc-123")
	c.Assert(err, qt.IsNil)
	c.Assert(stub.deletedDocs, qt.DeepEquals, []string{"doc-123"})
}

func TestFieldType(t *testing.T) {
	c := qt.New(t)

	c.Assert(fieldType(true), qt.Equals, "boolean")
	c.Assert(fieldType(3), qt.Equals, "number")
	c.Assert(fieldType(3.14), qt.Equals, "number")
	c.Assert(fieldType("x"), qt.Equals, "string")
	c.Assert(fieldType(nil), qt.Equals, "string")
}
