package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grapelm/config"
	"grapelm/task"
)

const seeds = "ACGUACGUACGUACGUACGU\nUUUUCCCCAAAAGGGGACGU"

// fakeTasks is a TaskManager for testing.
type fakeTasks struct {
	submitted []*task.Submission
	submitErr error
	views     map[string]*task.View
	results   map[string]string
}

func (f *fakeTasks) Submit(_ context.Context, s *task.Submission) (*task.Record, error) {
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if err := task.Validate(s); err != nil {
		return nil, err
	}
	f.submitted = append(f.submitted, s)
	return &task.Record{ID: s.ID, Name: s.Name, Status: task.StatusPending, UploadTime: time.Now().UTC()}, nil
}

func (f *fakeTasks) Status(_ context.Context, id string) (*task.View, error) {
	if v, ok := f.views[id]; ok {
		return v, nil
	}
	return nil, task.ErrNotFound
}

func (f *fakeTasks) ResultFile(_ context.Context, id string) (string, error) {
	if p, ok := f.results[id]; ok {
		return p, nil
	}
	return "", task.ErrNotFound
}

func (f *fakeTasks) QueueLen() int { return len(f.submitted) }

func (f *fakeTasks) Workers() int { return 2 }

func setupTestRouter(t *testing.T) (*gin.Engine, *config.Config, *fakeTasks) {
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		WorkDir:       t.TempDir(),
		Workers:       2,
		MaxUploadSize: 1 << 20,
		AuthEnable:    false,
	}
	tm := &fakeTasks{views: map[string]*task.View{}, results: map[string]string{}}
	router := SetupRouter(tm, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return router, cfg, tm
}

// multipartRequest builds a POST /api/tasks request from fields and files.
func multipartRequest(t *testing.T, fields map[string]string, files map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, content := range files {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = fw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, "/api/tasks", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func validFields(id string) map[string]string {
	return map[string]string{
		"task_id":   id,
		"task_name": "run " + id,
		"seed_seqs": seeds,
		"gen_num":   "10",
	}
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

func TestHandleCreateTask(t *testing.T) {
	router, _, tm := setupTestRouter(t)

	w := httptest.NewRecorder()
	req := multipartRequest(t, validFields("t1"), map[string]string{"target.fa": ">t\nACGU\n"})
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp TaskCreateResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "t1", resp.TaskID)
	assert.Equal(t, "Task created successfully and added to the queue.", resp.Message)

	require.Len(t, tm.submitted, 1)
	sub := tm.submitted[0]
	assert.Equal(t, 10, sub.GenNum)
	assert.Equal(t, "run t1", sub.Name)
	require.Len(t, sub.Attachments, 1)
	assert.Equal(t, "target.fa", sub.Attachments[0].Filename)
}

func TestHandleCreateTaskEmptySeeds(t *testing.T) {
	router, _, tm := setupTestRouter(t)

	fields := validFields("t1")
	fields["seed_seqs"] = ""
	w := httptest.NewRecorder()
	router.ServeHTTP(w, multipartRequest(t, fields, nil))

	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Len(t, tm.submitted, 1)
	assert.Empty(t, tm.submitted[0].SeedSeqs)
}

func TestHandleCreateTaskRejects(t *testing.T) {
	router, _, tm := setupTestRouter(t)

	tests := []struct {
		name    string
		mutate  func(map[string]string)
		message string
	}{
		{
			name:    "Missing task_id",
			mutate:  func(f map[string]string) { delete(f, "task_id") },
			message: "task_id is required",
		},
		{
			name:    "Non-numeric gen_num",
			mutate:  func(f map[string]string) { f["gen_num"] = "ten" },
			message: "gen_num must be a valid number",
		},
		{
			name:    "gen_num out of range",
			mutate:  func(f map[string]string) { f["gen_num"] = "10001" },
			message: "Generated sequences count must be between 1 and 10000",
		},
		{
			name:    "Short sequence",
			mutate:  func(f map[string]string) { f["seed_seqs"] = "ACGUACGUACGUACGUACGU\nACGU" },
			message: "Line 2: Sequence must be 20 characters long. Got: 4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields := validFields("t1")
			tt.mutate(fields)

			w := httptest.NewRecorder()
			router.ServeHTTP(w, multipartRequest(t, fields, nil))

			assert.Equal(t, http.StatusBadRequest, w.Code)
			resp := decodeError(t, w)
			assert.Equal(t, KindBadRequest, resp.Error)
			assert.Equal(t, tt.message, resp.Message)
		})
	}
	assert.Empty(t, tm.submitted)
}

func TestHandleCreateTaskErrors(t *testing.T) {
	router, _, tm := setupTestRouter(t)

	t.Run("Duplicate id", func(t *testing.T) {
		tm.submitErr = task.ErrDuplicateTask
		w := httptest.NewRecorder()
		router.ServeHTTP(w, multipartRequest(t, validFields("t1"), nil))

		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, KindConflict, decodeError(t, w).Error)
	})

	t.Run("Storage failure", func(t *testing.T) {
		tm.submitErr = &task.StorageError{Op: "create task record", Err: os.ErrPermission}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, multipartRequest(t, validFields("t1"), nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, KindInternal, resp.Error)
		assert.Contains(t, resp.Message, "create task record")
	})
}

func TestHandleGetTaskStatus(t *testing.T) {
	router, _, tm := setupTestRouter(t)

	uploaded := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	started := uploaded.Add(time.Minute)
	ended := started.Add(time.Minute)
	pos := 3
	msg := "Generation failed: exit status 1"
	tm.views["pending"] = &task.View{Record: &task.Record{ID: "pending", Status: task.StatusPending, UploadTime: uploaded}, Position: &pos}
	tm.views["unqueued"] = &task.View{Record: &task.Record{ID: "unqueued", Status: task.StatusPending, UploadTime: uploaded}}
	tm.views["processing"] = &task.View{Record: &task.Record{ID: "processing", Status: task.StatusProcessing, UploadTime: uploaded, StartTime: &started}}
	tm.views["done"] = &task.View{Record: &task.Record{ID: "done", Status: task.StatusCompleted, UploadTime: uploaded, StartTime: &started, EndTime: &ended}}
	tm.views["failed"] = &task.View{Record: &task.Record{ID: "failed", Status: task.StatusFailed, UploadTime: uploaded, StartTime: &started, EndTime: &ended, ErrorMessage: &msg}}

	tests := map[string]string{
		"pending":    `{"type":"Pending","data":{"upload_time":"2024-05-01T12:00:00Z","position":3}}`,
		"unqueued":   `{"type":"Pending","data":{"upload_time":"2024-05-01T12:00:00Z","position":null}}`,
		"processing": `{"type":"Processing","data":{"upload_time":"2024-05-01T12:00:00Z","start_time":"2024-05-01T12:01:00Z"}}`,
		"done":       `{"type":"Completed","data":{"upload_time":"2024-05-01T12:00:00Z","start_time":"2024-05-01T12:01:00Z","end_time":"2024-05-01T12:02:00Z"}}`,
		"failed":     `{"type":"Failed","data":{"upload_time":"2024-05-01T12:00:00Z","start_time":"2024-05-01T12:01:00Z","end_time":"2024-05-01T12:02:00Z","error":"Generation failed: exit status 1"}}`,
	}
	for id, want := range tests {
		t.Run(id, func(t *testing.T) {
			w := httptest.NewRecorder()
			req, _ := http.NewRequest(http.MethodGet, "/api/tasks/"+id, nil)
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.JSONEq(t, want, w.Body.String())
		})
	}

	t.Run("Not found", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/tasks/nonexistent", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, KindNotFound, decodeError(t, w).Error)
	})
}

func TestHandleDownloadResult(t *testing.T) {
	router, cfg, tm := setupTestRouter(t)

	path := filepath.Join(cfg.WorkDir, "generation_done.txt")
	require.NoError(t, os.WriteFile(path, []byte("ACGUACGUACGUACGUACGU\n"), 0o644))
	tm.results["done"] = path

	t.Run("Completed task", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/tasks/done/download", nil)
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ACGUACGUACGUACGUACGU\n", w.Body.String())
		assert.Contains(t, w.Header().Get("Content-Disposition"), "done_generation.txt")
		assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	})

	t.Run("Not available", func(t *testing.T) {
		w := httptest.NewRecorder()
		req, _ := http.NewRequest(http.MethodGet, "/api/tasks/pending/download", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})
}

func TestHandleHealth(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/health", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Workers)
}

func TestRequestID(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/api", nil)
	router.ServeHTTP(w, req)
	assert.NotEmpty(t, w.Header().Get(requestIDHeader))

	w = httptest.NewRecorder()
	req, _ = http.NewRequest(http.MethodGet, "/api", nil)
	req.Header.Set(requestIDHeader, "abc123")
	router.ServeHTTP(w, req)
	assert.Equal(t, "abc123", w.Header().Get(requestIDHeader))
}

func TestAuthMiddleware(t *testing.T) {
	router, cfg, _ := setupTestRouter(t)

	t.Run("Auth disabled", func(t *testing.T) {
		cfg.AuthEnable = false
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Auth enabled, no token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Equal(t, KindAuth, decodeError(t, w).Error)
	})

	t.Run("Auth enabled, wrong token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api", nil)
		req.Header.Set("Authorization", "Bearer wrong-key")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("Auth enabled, correct token", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/api", nil)
		req.Header.Set("Authorization", "Bearer secret")
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("Health stays open", func(t *testing.T) {
		cfg.AuthEnable = true
		cfg.AuthKey = "secret"
		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/health", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	})
}
