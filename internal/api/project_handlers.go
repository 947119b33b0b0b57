package api

import (
	"net/http"

	"github.com/aethra/taskportal/internal/engine"
	"github.com/aethra/taskportal/internal/models"
	"github.com/gin-gonic/gin"
)

// ListProjects returns the visible projects with progress
// GET /projects
func (h *Handler) ListProjects(c *gin.Context) {
	divisionID, ok := queryUUID(c, "division")
	if !ok {
		return
	}
	list, err := h.svc.Projects.List(requestContext(c), currentUser(c), engine.ProjectFilter{
		Status:     models.ProjectStatus(c.Query("status")),
		DivisionID: divisionID,
		Search:     c.Query("search"),
		Page:       pageParam(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// MyProjects returns the projects the caller works on, with personal stats
// GET /my-projects
func (h *Handler) MyProjects(c *gin.Context) {
	projects, err := h.svc.Projects.MyProjects(requestContext(c), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects})
}

// CreateProject creates a project
// POST /projects
func (h *Handler) CreateProject(c *gin.Context) {
	var in engine.ProjectInput
	if !bindJSON(c, &in) {
		return
	}
	p, err := h.svc.Projects.Create(requestContext(c), currentUser(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// GetProject returns a project with its tasks and statistics
// GET /projects/:id
func (h *Handler) GetProject(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	detail, err := h.svc.Projects.Get(requestContext(c), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// UpdateProject edits a project
// PUT /projects/:id
func (h *Handler) UpdateProject(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in engine.ProjectInput
	if !bindJSON(c, &in) {
		return
	}
	p, err := h.svc.Projects.Update(requestContext(c), currentUser(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeleteProject removes a project. Its tasks become individual tasks.
// DELETE /projects/:id
func (h *Handler) DeleteProject(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.svc.Projects.Delete(requestContext(c), currentUser(c), id); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "project deleted"})
}
