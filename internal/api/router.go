package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// SetupRouter creates and configures the Gin router
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(h.RequestLogger())
	r.MaxMultipartMemory = 8 << 20

	r.Use(cors.New(corsConfig(h)))

	// Health check (no auth required)
	r.GET("/api/health", h.Health)
	r.GET("/login", h.LoginPage)

	// ==========================================================================
	// AUTH - no session required
	// ==========================================================================
	authRoutes := r.Group("/auth")
	{
		authRoutes.POST("/login", h.Login)
		authRoutes.POST("/register", h.Register)
		authRoutes.POST("/refresh", h.RefreshToken)
		authRoutes.POST("/logout", h.Logout)
	}

	// ==========================================================================
	// PORTAL - every route below needs an active session
	// ==========================================================================
	p := r.Group("/")
	p.Use(h.RequireAuthMiddleware())
	{
		p.GET("/auth/me", h.GetMe)
		p.GET("/dashboard", h.Dashboard)

		// Tasks
		p.GET("/tasks", h.ListTasks)
		p.POST("/tasks", h.CreateTask)
		p.GET("/tasks/assignable-users", h.AssignableUsers)
		p.GET("/tasks/:id", h.GetTask)
		p.PUT("/tasks/:id", h.UpdateTask)
		p.DELETE("/tasks/:id", h.DeleteTask)
		p.POST("/tasks/:id/update-status", h.UpdateTaskStatus)
		p.POST("/tasks/:id/comments", h.AddComment)
		p.GET("/tasks/:id/history", h.TaskHistory)
		p.POST("/tasks/:id/dependencies", h.AddDependency)
		p.DELETE("/tasks/:id/dependencies/:depId", h.RemoveDependency)
		p.POST("/tasks/:id/attachments", h.UploadAttachment)
		p.POST("/tasks/:id/time-entries", h.LogTime)
		p.GET("/tasks/:id/time-entries", h.TimeEntries)
		p.GET("/attachments/:id/download", h.DownloadAttachment)

		// Projects
		p.GET("/projects", h.ListProjects)
		p.POST("/projects", h.CreateProject)
		p.GET("/my-projects", h.MyProjects)
		p.GET("/projects/:id", h.GetProject)
		p.PUT("/projects/:id", h.UpdateProject)
		p.DELETE("/projects/:id", h.DeleteProject)
		p.POST("/projects/:id/tasks", h.CreateProjectTask)
		p.POST("/projects/:id/files", h.UploadProjectFile)
		p.GET("/project-files/:id/download", h.DownloadProjectFile)
		p.GET("/project-files/:id/view", h.ViewProjectFile)
		p.DELETE("/project-files/:id", h.DeleteProjectFile)

		// Users
		p.GET("/users", h.ListUsers)
		p.PUT("/users/:id", h.UpdateUser)
		p.POST("/users/:id/toggle-status", h.ToggleUserStatus)
		p.DELETE("/users/:id", h.DeleteUser)

		// Divisions
		p.GET("/divisions", h.ListDivisions)
		p.POST("/divisions", h.CreateDivision)
		p.PUT("/divisions/:id", h.UpdateDivision)
		p.DELETE("/divisions/:id", h.DeleteDivision)
		p.GET("/divisions/:id/admins", h.DivisionAdmins)

		// Reports
		p.GET("/reports", h.Reports)
		p.GET("/reports/export/excel", h.ExportExcel)
		p.GET("/reports/export/pdf", h.ExportPDF)

		// Notifications
		p.GET("/notifications", h.ListNotifications)
		p.POST("/notifications/read-all", h.MarkAllNotificationsRead)
		p.POST("/notifications/:id/read", h.MarkNotificationRead)

		// Templates
		p.GET("/templates", h.ListTemplates)
		p.POST("/templates", h.CreateTemplate)
		p.POST("/templates/:id/instantiate", h.InstantiateTemplate)

		// Activity
		p.GET("/activity", h.ListActivity)
	}

	return r
}

// corsConfig allows the configured origins. When credentials are used,
// specific origins must be provided (not *).
func corsConfig(h *Handler) cors.Config {
	cfg := cors.Config{
		AllowOrigins:     h.cfg.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS", "PATCH"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept"},
		ExposeHeaders:    []string{"Content-Length", "Content-Type", "Content-Disposition"},
		AllowCredentials: h.cfg.CORS.AllowCredentials,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.AllowOrigins) == 0 {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	}
	return cfg
}
