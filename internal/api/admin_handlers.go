package api

import (
	"net/http"

	"github.com/aethra/taskportal/internal/engine"
	"github.com/aethra/taskportal/internal/models"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// USERS
// =============================================================================

// ListUsers returns the accounts the caller manages, with statistics
// GET /users
func (h *Handler) ListUsers(c *gin.Context) {
	divisionID, ok := queryUUID(c, "division")
	if !ok {
		return
	}
	list, err := h.svc.Users.List(requestContext(c), currentUser(c), engine.UserFilter{
		Search:     c.Query("search"),
		Role:       models.Role(c.Query("role")),
		DivisionID: divisionID,
		Status:     c.Query("status"),
		Page:       pageParam(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// UpdateUser edits an account
// PUT /users/:id
func (h *Handler) UpdateUser(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in engine.UserUpdate
	if !bindJSON(c, &in) {
		return
	}
	u, err := h.svc.Users.Update(requestContext(c), currentUser(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// ToggleUserStatus activates or deactivates an account
// POST /users/:id/toggle-status
func (h *Handler) ToggleUserStatus(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	u, err := h.svc.Users.ToggleStatus(requestContext(c), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	state := "deactivated"
	if u.IsActive {
		state = "activated"
	}
	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"is_active": u.IsActive,
		"message":   "User " + u.Username + " has been " + state,
	})
}

// DeleteUser removes an account and its work
// DELETE /users/:id
func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	result, err := h.svc.Users.Delete(requestContext(c), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": result.Message(), "result": result})
}

// =============================================================================
// DIVISIONS
// =============================================================================

// ListDivisions returns every division with usage counts
// GET /divisions
func (h *Handler) ListDivisions(c *gin.Context) {
	divisions, err := h.svc.Divisions.List(requestContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"divisions": divisions})
}

// CreateDivision creates a division
// POST /divisions
func (h *Handler) CreateDivision(c *gin.Context) {
	var in engine.DivisionInput
	if !bindJSON(c, &in) {
		return
	}
	d, err := h.svc.Divisions.Create(requestContext(c), currentUser(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

// UpdateDivision renames or (de)activates a division
// PUT /divisions/:id
func (h *Handler) UpdateDivision(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in engine.DivisionInput
	if !bindJSON(c, &in) {
		return
	}
	d, err := h.svc.Divisions.Update(requestContext(c), currentUser(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// DeleteDivision removes a division and its tasks
// DELETE /divisions/:id
func (h *Handler) DeleteDivision(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	deleted, err := h.svc.Divisions.Delete(requestContext(c), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "division deleted", "tasks_deleted": deleted})
}

// DivisionAdmins lists the admins of a division for project assignment
// GET /divisions/:id/admins
func (h *Handler) DivisionAdmins(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	admins, err := h.svc.Divisions.Admins(requestContext(c), currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"admins": admins})
}

// =============================================================================
// ACTIVITY
// =============================================================================

// ListActivity returns the activity log visible to an admin
// GET /activity
func (h *Handler) ListActivity(c *gin.Context) {
	userID, ok := queryUUID(c, "user")
	if !ok {
		return
	}
	list, err := h.svc.Activity.List(requestContext(c), currentUser(c), engine.ActivityFilter{
		Action:     c.Query("action"),
		ObjectType: c.Query("object_type"),
		UserID:     userID,
		Page:       pageParam(c),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}
