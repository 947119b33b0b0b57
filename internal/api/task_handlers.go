package api

import (
	"mime"
	"net/http"
	"os"
	"strings"

	"github.com/aethra/taskportal/internal/engine"
	"github.com/aethra/taskportal/internal/errors"
	"github.com/aethra/taskportal/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// =============================================================================
// TASKS
// =============================================================================

// ListTasks returns the visible tasks, filtered and paginated
// GET /tasks
func (h *Handler) ListTasks(c *gin.Context) {
	assignedTo, ok := queryUUID(c, "assigned_to")
	if !ok {
		return
	}
	list, err := h.svc.Tasks.List(requestContext(c), currentUser(c), engine.TaskFilter{
		Status:     models.TaskStatus(c.Query("status")),
		Priority:   models.Priority(c.Query("priority")),
		AssignedTo: assignedTo,
		Project:    c.Query("project"),
		DateFrom:   c.Query("date_from"),
		DateTo:     c.Query("date_to"),
		Search:     c.Query("search"),
		Page:       pageParam(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// CreateTask creates a task
// POST /tasks
func (h *Handler) CreateTask(c *gin.Context) {
	var in engine.TaskInput
	if !bindJSON(c, &in) {
		return
	}
	task, err := h.svc.Tasks.Create(requestContext(c), currentUser(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// CreateProjectTask creates a task inside the project from the path
// POST /projects/:id/tasks
func (h *Handler) CreateProjectTask(c *gin.Context) {
	projectID, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in engine.TaskInput
	if !bindJSON(c, &in) {
		return
	}
	in.ProjectID = &projectID
	task, err := h.svc.Tasks.Create(requestContext(c), currentUser(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

// AssignableUsers lists the candidate assignees, optionally for a project
// GET /tasks/assignable-users?project=
func (h *Handler) AssignableUsers(c *gin.Context) {
	projectID, ok := queryUUID(c, "project")
	if !ok {
		return
	}
	users, err := h.svc.Tasks.AssignableUsers(requestContext(c), currentUser(c), projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// GetTask returns a task with its comments and the caller's permissions
// GET /tasks/:id
func (h *Handler) GetTask(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	detail, err := h.svc.Tasks.Get(requestContext(c), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// UpdateTask applies a full edit
// PUT /tasks/:id
func (h *Handler) UpdateTask(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in engine.TaskInput
	if !bindJSON(c, &in) {
		return
	}
	task, err := h.svc.Tasks.Update(requestContext(c), currentUser(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// UpdateTaskStatus changes only the status and actual hours
// POST /tasks/:id/update-status
func (h *Handler) UpdateTaskStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in engine.StatusInput
	if !bindJSON(c, &in) {
		return
	}
	task, err := h.svc.Tasks.UpdateStatus(requestContext(c), currentUser(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task": task})
}

// DeleteTask removes a task and everything attached to it
// DELETE /tasks/:id
func (h *Handler) DeleteTask(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Tasks.Delete(requestContext(c), currentUser(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "task deleted"})
}

// AddComment posts a comment or a reply
// POST /tasks/:id/comments
func (h *Handler) AddComment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in engine.CommentInput
	if !bindJSON(c, &in) {
		return
	}
	comment, err := h.svc.Tasks.AddComment(requestContext(c), currentUser(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}

// TaskHistory returns the audit trail of a task
// GET /tasks/:id/history
func (h *Handler) TaskHistory(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	history, err := h.svc.Tasks.History(requestContext(c), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history})
}

// AddDependency makes the task depend on another task
// POST /tasks/:id/dependencies
func (h *Handler) AddDependency(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req struct {
		DependsOnID uuid.UUID `json:"depends_on_id"`
	}
	if !bindJSON(c, &req) {
		return
	}
	task, err := h.svc.Tasks.AddDependency(requestContext(c), currentUser(c), id, req.DependsOnID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// RemoveDependency drops a dependency edge
// DELETE /tasks/:id/dependencies/:depId
func (h *Handler) RemoveDependency(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	depID, ok := paramID(c, "depId")
	if !ok {
		return
	}
	task, err := h.svc.Tasks.RemoveDependency(requestContext(c), currentUser(c), id, depID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// LogTime records hours worked on a task
// POST /tasks/:id/time-entries
func (h *Handler) LogTime(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in engine.TimeEntryInput
	if !bindJSON(c, &in) {
		return
	}
	entry, err := h.svc.Tasks.LogTime(requestContext(c), currentUser(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, entry)
}

// TimeEntries lists the time logged on a task
// GET /tasks/:id/time-entries
func (h *Handler) TimeEntries(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	entries, err := h.svc.Tasks.TimeEntries(requestContext(c), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// =============================================================================
// FILES
// =============================================================================

// readUpload extracts the "file" part of a multipart request
func (h *Handler) readUpload(c *gin.Context) (*engine.Upload, func(), bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.Storage.MaxUploadBytes()+1<<20)
	header, err := c.FormFile("file")
	if err != nil {
		respondError(c, errors.NewValidationError("file", "a file is required"))
		return nil, nil, false
	}
	f, err := header.Open()
	if err != nil {
		respondError(c, errors.NewInternalError(err))
		return nil, nil, false
	}
	up := &engine.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Body:        f,
	}
	return up, func() { f.Close() }, true
}

// serveFile streams an opened file. inline asks the browser to display it.
func serveFile(c *gin.Context, meta *models.FileMeta, f *os.File, inline bool) {
	defer f.Close()
	disposition := "attachment"
	if inline {
		disposition = "inline"
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(http.StatusOK, meta.Size, contentType, f, map[string]string{
		"Content-Disposition": mime.FormatMediaType(disposition, map[string]string{"filename": meta.Filename}),
	})
}

// UploadAttachment stores a file on a task
// POST /tasks/:id/attachments
func (h *Handler) UploadAttachment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	up, closeFn, ok := h.readUpload(c)
	if !ok {
		return
	}
	defer closeFn()
	a, err := h.svc.Tasks.AddAttachment(requestContext(c), currentUser(c), id, *up)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, a)
}

// DownloadAttachment streams a task attachment
// GET /attachments/:id/download
func (h *Handler) DownloadAttachment(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	a, f, err := h.svc.Tasks.OpenAttachment(requestContext(c), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	serveFile(c, &a.FileMeta, f, false)
}

// UploadProjectFile stores a document on a project
// POST /projects/:id/files
func (h *Handler) UploadProjectFile(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	up, closeFn, ok := h.readUpload(c)
	if !ok {
		return
	}
	defer closeFn()
	pf, err := h.svc.Projects.UploadFile(requestContext(c), currentUser(c), id, *up, strings.TrimSpace(c.PostForm("description")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, pf)
}

func (h *Handler) openProjectFile(c *gin.Context, inline bool) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	pf, f, err := h.svc.Projects.OpenFile(requestContext(c), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	serveFile(c, &pf.FileMeta, f, inline)
}

// DownloadProjectFile streams a project file as an attachment
// GET /project-files/:id/download
func (h *Handler) DownloadProjectFile(c *gin.Context) {
	h.openProjectFile(c, false)
}

// ViewProjectFile streams a project file for display in the browser
// GET /project-files/:id/view
func (h *Handler) ViewProjectFile(c *gin.Context) {
	h.openProjectFile(c, true)
}

// DeleteProjectFile removes a project file
// DELETE /project-files/:id
func (h *Handler) DeleteProjectFile(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Projects.DeleteFile(requestContext(c), currentUser(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "file deleted"})
}
