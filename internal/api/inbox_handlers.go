package api

import (
	"net/http"

	"github.com/aethra/taskportal/internal/engine"
	"github.com/gin-gonic/gin"
)

// =============================================================================
// NOTIFICATIONS
// =============================================================================

// ListNotifications returns the caller's inbox
// GET /notifications?unread=true
func (h *Handler) ListNotifications(c *gin.Context) {
	list, err := h.svc.Notifications.List(requestContext(c), currentUser(c), c.Query("unread") == "true", pageParam(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// MarkNotificationRead marks one notification read and returns the object it
// points at, so the client can navigate there
// POST /notifications/:id/read
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := requestContext(c)
	n, err := h.svc.Notifications.MarkRead(ctx, currentUser(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	// a deleted target leaves related empty
	related, _ := h.svc.Notifications.Related(ctx, n)
	c.JSON(http.StatusOK, gin.H{"success": true, "notification": n, "related": related})
}

// MarkAllNotificationsRead clears the caller's unread notifications
// POST /notifications/read-all
func (h *Handler) MarkAllNotificationsRead(c *gin.Context) {
	count, err := h.svc.Notifications.MarkAllRead(requestContext(c), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "marked": count})
}

// =============================================================================
// TEMPLATES
// =============================================================================

// ListTemplates returns the templates the caller may use
// GET /templates
func (h *Handler) ListTemplates(c *gin.Context) {
	templates, err := h.svc.Templates.List(requestContext(c), currentUser(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": templates})
}

// CreateTemplate stores a task template
// POST /templates
func (h *Handler) CreateTemplate(c *gin.Context) {
	var in engine.TemplateInput
	if !bindJSON(c, &in) {
		return
	}
	tpl, err := h.svc.Templates.Create(requestContext(c), currentUser(c), in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, tpl)
}

// InstantiateTemplate creates a task from a template
// POST /templates/:id/instantiate
func (h *Handler) InstantiateTemplate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var in engine.InstantiateInput
	if !bindJSON(c, &in) {
		return
	}
	task, err := h.svc.Templates.Instantiate(requestContext(c), currentUser(c), id, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}
