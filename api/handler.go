package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"grapelm/config"
	"grapelm/task"
	"grapelm/version"
)

// TaskManager is the part of task.Manager the handlers use.
type TaskManager interface {
	Submit(ctx context.Context, s *task.Submission) (*task.Record, error)
	Status(ctx context.Context, id string) (*task.View, error)
	ResultFile(ctx context.Context, id string) (string, error)
	QueueLen() int
	Workers() int
}

type Handler struct {
	tasks  TaskManager
	cfg    *config.Config
	logger *slog.Logger
}

func NewHandler(tm TaskManager, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		tasks:  tm,
		cfg:    cfg,
		logger: logger,
	}
}

// TaskForm is the multipart body of POST /api/tasks.
type TaskForm struct {
	TaskID   string `form:"task_id" binding:"required"`
	TaskName string `form:"task_name" binding:"required"`
	SeedSeqs string `form:"seed_seqs"`
	GenNum   string `form:"gen_num" binding:"required"`
	Target   string `form:"target"`
	Model    string `form:"model"`
}

type TaskCreateResponse struct {
	TaskID  string `json:"task_id"`
	Message string `json:"message"`
}

func (h *Handler) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "GRAPE-LM API Server",
		"version": version.Version,
	})
}

// handleCreateTask accepts a task submission.
func (h *Handler) handleCreateTask(c *gin.Context) {
	if h.cfg.MaxUploadSize > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxUploadSize)
	}

	var form TaskForm
	if err := c.ShouldBind(&form); err != nil {
		writeError(c, http.StatusBadRequest, KindBadRequest, bindingMessage(err))
		return
	}

	genNum, err := strconv.Atoi(strings.TrimSpace(form.GenNum))
	if err != nil {
		writeError(c, http.StatusBadRequest, KindBadRequest, "gen_num must be a valid number")
		return
	}

	sub := &task.Submission{
		ID:       form.TaskID,
		Name:     form.TaskName,
		SeedSeqs: form.SeedSeqs,
		GenNum:   genNum,
		Target:   form.Target,
		Model:    form.Model,
	}
	if mf, err := c.MultipartForm(); err == nil {
		for _, files := range mf.File {
			for _, fh := range files {
				sub.Attachments = append(sub.Attachments, attachment(fh))
			}
		}
	}

	rec, err := h.tasks.Submit(c.Request.Context(), sub)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}

	c.JSON(http.StatusOK, TaskCreateResponse{
		TaskID:  rec.ID,
		Message: "Task created successfully and added to the queue.",
	})
}

// handleGetTaskStatus reports the status of a single task.
func (h *Handler) handleGetTaskStatus(c *gin.Context) {
	v, err := h.tasks.Status(c.Request.Context(), c.Param("task_id"))
	if err != nil {
		h.writeTaskError(c, err)
		return
	}
	c.JSON(http.StatusOK, NewStatusResponse(v))
}

// handleDownloadResult serves the artifact of a completed task.
func (h *Handler) handleDownloadResult(c *gin.Context) {
	taskID := c.Param("task_id")
	path, err := h.tasks.ResultFile(c.Request.Context(), taskID)
	if err != nil {
		h.writeTaskError(c, err)
		return
	}
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.FileAttachment(path, fmt.Sprintf("%s_generation.txt", taskID))
}

func (h *Handler) writeTaskError(c *gin.Context, err error) {
	var verr *task.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(c, http.StatusBadRequest, KindBadRequest, verr.Error())
	case errors.Is(err, task.ErrDuplicateTask):
		writeError(c, http.StatusConflict, KindConflict, "Task already exists")
	case errors.Is(err, task.ErrNotFound):
		writeError(c, http.StatusNotFound, KindNotFound, "Task not found")
	default:
		h.logger.Error("request failed",
			"path", c.Request.URL.Path,
			"request_id", c.GetString(requestIDKey),
			"error", err)
		writeError(c, http.StatusInternalServerError, KindInternal, err.Error())
	}
}

// bindingMessage turns a binding error into a client-facing reason.
func bindingMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		name := formFieldName(fe.Field())
		if fe.Tag() == "required" {
			return name + " is required"
		}
		return fmt.Sprintf("%s failed %s validation", name, fe.Tag())
	}
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)
	}
	return err.Error()
}

var formFieldNames = map[string]string{
	"TaskID":   "task_id",
	"TaskName": "task_name",
	"SeedSeqs": "seed_seqs",
	"GenNum":   "gen_num",
}

func formFieldName(field string) string {
	if name, ok := formFieldNames[field]; ok {
		return name
	}
	return field
}

func attachment(fh *multipart.FileHeader) task.Attachment {
	return task.Attachment{
		Filename: fh.Filename,
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// StatusResponse is the tagged status variant returned by
// GET /api/tasks/:task_id.
type StatusResponse struct {
	Type task.Status `json:"type"`
	Data any         `json:"data"`
}

type PendingData struct {
	UploadTime time.Time `json:"upload_time"`
	Position   *int      `json:"position"`
}

type ProcessingData struct {
	UploadTime time.Time `json:"upload_time"`
	StartTime  time.Time `json:"start_time"`
}

type CompletedData struct {
	UploadTime time.Time `json:"upload_time"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

type FailedData struct {
	UploadTime time.Time  `json:"upload_time"`
	StartTime  *time.Time `json:"start_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Error      string     `json:"error"`
}

func NewStatusResponse(v *task.View) StatusResponse {
	resp := StatusResponse{Type: v.Status}
	switch v.Status {
	case task.StatusPending:
		resp.Data = PendingData{UploadTime: v.UploadTime, Position: v.Position}
	case task.StatusProcessing:
		resp.Data = ProcessingData{UploadTime: v.UploadTime, StartTime: deref(v.StartTime)}
	case task.StatusCompleted:
		resp.Data = CompletedData{UploadTime: v.UploadTime, StartTime: deref(v.StartTime), EndTime: deref(v.EndTime)}
	case task.StatusFailed:
		msg := "Unknown error"
		if v.ErrorMessage != nil {
			msg = *v.ErrorMessage
		}
		resp.Data = FailedData{UploadTime: v.UploadTime, StartTime: v.StartTime, EndTime: v.EndTime, Error: msg}
	}
	return resp
}

func deref(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
