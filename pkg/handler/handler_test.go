package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/decksense/presentation-backend/config"
	"github.com/decksense/presentation-backend/pkg/datamodel"
	errorsx "github.com/decksense/presentation-backend/pkg/errors"
	"github.com/decksense/presentation-backend/pkg/service"
)

// stubQueue accepts every push so uploads take the enqueue path.
type stubQueue struct {
	pushed []*datamodel.Job
}

func (q *stubQueue) Push(_ context.Context, job *datamodel.Job) error {
	q.pushed = append(q.pushed, job)
	return nil
}

func (q *stubQueue) Pop(context.Context, time.Duration) (*datamodel.Job, error) {
	return nil, errorsx.ErrNoJob
}

func (q *stubQueue) Ping(context.Context) error { return nil }

// stubTasks holds task entries in memory.
type stubTasks struct {
	entries map[string]*datamodel.TaskStatus
}

func (s *stubTasks) Create(_ context.Context, jobID, fileName string) error {
	if s.entries == nil {
		s.entries = map[string]*datamodel.TaskStatus{}
	}
	s.entries[jobID] = &datamodel.TaskStatus{Status: datamodel.TaskStateQueued, FileName: fileName}
	return nil
}

func (s *stubTasks) MarkProcessing(context.Context, string) error     { return nil }
func (s *stubTasks) MarkCompleted(context.Context, string) error      { return nil }
func (s *stubTasks) MarkFailed(context.Context, string, string) error { return nil }

func (s *stubTasks) Get(_ context.Context, jobID string) (*datamodel.TaskStatus, error) {
	if entry, ok := s.entries[jobID]; ok {
		return entry, nil
	}
	return nil, fmt.Errorf("task %s: %w", jobID, errorsx.ErrNotFound)
}

func newTestServer(t *testing.T) (*Server, *stubQueue, *stubTasks) {
	t.Helper()
	queue := &stubQueue{}
	tasks := &stubTasks{}
	svc := service.NewService(queue, tasks, nil, nil, nil, nil, nil, "test_collection")
	upload := config.UploadConfig{
		MaxFileSizeMB:  1,
		AllowedFormats: "pptx,ppt,pdf",
		UploadDir:      t.TempDir(),
		TempDir:        t.TempDir(),
	}
	return NewServer(svc, upload), queue, tasks
}

func multipartBody(t *testing.T, fileName string, content []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if fileName != "" {
		part, err := writer.CreateFormFile("file", fileName)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatal(err)
		}
	}
	if err := writer.Close(); err != nil {
		t.Fatal(err)
	}
	return body, writer.FormDataContentType()
}

func TestHandleUpload(t *testing.T) {
	c := qt.New(t)

	t.Run("accepted upload returns 202 with a task ID", func(t *testing.T) {
		server, queue, _ := newTestServer(t)
		body, contentType := multipartBody(t, "deck.pdf", []byte("%PDF-1.4"), map[string]string{
			"workstream": "finance",
			"author":     "A. Author",
		})

		req := httptest.NewRequest(http.MethodPost, "/v1/presentations", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(w, req)

		c.Assert(w.Code, qt.Equals, http.StatusAccepted)
		var resp struct {
			TaskID       string `json:"task_id"`
			FileName     string `json:"file_name"`
			UploadStatus string `json:"upload_status"`
		}
		c.Assert(json.NewDecoder(w.Body).Decode(&resp), qt.IsNil)
		c.Assert(resp.TaskID, qt.Not(qt.Equals), "")
		c.Assert(resp.FileName, qt.Equals, "deck.pdf")
		c.Assert(resp.UploadStatus, qt.Equals, "uploaded")

		c.Assert(queue.pushed, qt.HasLen, 1)
		c.Assert(queue.pushed[0].Request.Workstream, qt.Equals, "finance")
		c.Assert(queue.pushed[0].Request.LanguageCode, qt.Equals, "pt-BR")
	})

	t.Run("missing file field is a 400", func(t *testing.T) {
		server, _, _ := newTestServer(t)
		body, contentType := multipartBody(t, "", nil, map[string]string{"author": "x"})

		req := httptest.NewRequest(http.MethodPost, "/v1/presentations", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(w, req)

		c.Assert(w.Code, qt.Equals, http.StatusBadRequest)
	})

	t.Run("unsupported extension is a 400", func(t *testing.T) {
		server, _, _ := newTestServer(t)
		body, contentType := multipartBody(t, "notes.docx", []byte("x"), nil)

		req := httptest.NewRequest(http.MethodPost, "/v1/presentations", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(w, req)

		c.Assert(w.Code, qt.Equals, http.StatusBadRequest)
		c.Assert(strings.Contains(w.Body.String(), "unsupported format"), qt.IsTrue)
	})

	t.Run("oversized file is a 413", func(t *testing.T) {
		server, _, _ := newTestServer(t)
		oversized := bytes.Repeat([]byte("a"), 1<<20+1) // limit is 1MB
		body, contentType := multipartBody(t, "big.pdf", oversized, nil)

		req := httptest.NewRequest(http.MethodPost, "/v1/presentations", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(w, req)

		c.Assert(w.Code, qt.Equals, http.StatusRequestEntityTooLarge)
		c.Assert(strings.Contains(w.Body.String(), "file size exceeded"), qt.IsTrue)
	})

	t.Run("presentation date is parsed from the form", func(t *testing.T) {
		server, queue, _ := newTestServer(t)
		body, contentType := multipartBody(t, "deck.pdf", []byte("%PDF-1.4"), map[string]string{
			"presentation_date": "2025-03-14",
		})

		req := httptest.NewRequest(http.MethodPost, "/v1/presentations", body)
		req.Header.Set("Content-Type", contentType)
		w := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(w, req)

		c.Assert(w.Code, qt.Equals, http.StatusAccepted)
		c.Assert(queue.pushed, qt.HasLen, 1)
		c.Assert(queue.pushed[0].Request.PresentationDate.Format("2006-01-02"), qt.Equals, "2025-03-14")
	})
}

func TestHandleTaskStatus(t *testing.T) {
	c := qt.New(t)

	t.Run("known task", func(t *testing.T) {
		server, _, tasks := newTestServer(t)
		c.Assert(tasks.Create(context.Background(), "job-1", "deck.pdf"), qt.IsNil)

		req := httptest.NewRequest(http.MethodGet, "/v1/tasks/job-1", nil)
		w := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(w, req)

		c.Assert(w.Code, qt.Equals, http.StatusOK)
		var resp map[string]any
		c.Assert(json.NewDecoder(w.Body).Decode(&resp), qt.IsNil)
		c.Assert(resp["task_id"], qt.Equals, "job-1")
		c.Assert(resp["status"], qt.Equals, "queued")
	})

	t.Run("unknown task is a 404", func(t *testing.T) {
		server, _, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodGet, "/v1/tasks/missing", nil)
		w := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(w, req)

		c.Assert(w.Code, qt.Equals, http.StatusNotFound)
	})
}

func TestRequestValidation(t *testing.T) {
	c := qt.New(t)

	t.Run("search rejects invalid JSON", func(t *testing.T) {
		server, _, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodPost, "/v1/search", strings.NewReader("{not json"))
		w := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(w, req)

		c.Assert(w.Code, qt.Equals, http.StatusBadRequest)
	})

	t.Run("slide number must be an integer", func(t *testing.T) {
		server, _, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodGet, "/v1/transcriptions/id/slides/abc", nil)
		w := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(w, req)

		c.Assert(w.Code, qt.Equals, http.StatusBadRequest)
	})

	t.Run("list limit must be an integer", func(t *testing.T) {
		server, _, _ := newTestServer(t)

		req := httptest.NewRequest(http.MethodGet, "/v1/transcriptions?limit=abc", nil)
		w := httptest.NewRecorder()
		server.server.Handler.ServeHTTP(w, req)

		c.Assert(w.Code, qt.Equals, http.StatusBadRequest)
	})
}

func TestHandleHealth(t *testing.T) {
	c := qt.New(t)
	server, _, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	w := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(w, req)

	c.Assert(w.Code, qt.Equals, http.StatusOK)
	c.Assert(strings.Contains(w.Body.String(), "healthy"), qt.IsTrue)
}
