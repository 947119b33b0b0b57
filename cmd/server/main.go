// Task Portal - divisions, projects and tasks for small organisations
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aethra/taskportal/internal/api"
	"github.com/aethra/taskportal/internal/auth"
	"github.com/aethra/taskportal/internal/config"
	"github.com/aethra/taskportal/internal/database"
	"github.com/aethra/taskportal/internal/engine"
	"github.com/aethra/taskportal/internal/logger"
	"github.com/aethra/taskportal/internal/models"
	"github.com/aethra/taskportal/internal/scheduler"
	"github.com/aethra/taskportal/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func main() {
	cfg := loadConfig()
	if args := positionalArgs(); len(args) > 0 {
		runCLI(cfg, args)
		return
	}
	startServer(cfg)
}

// positionalArgs drops --flag=value arguments
func positionalArgs() []string {
	var out []string
	for _, arg := range os.Args[1:] {
		if !strings.HasPrefix(arg, "--") {
			out = append(out, arg)
		}
	}
	return out
}

func loadConfig() *config.Config {
	cfg, err := config.Load(getFlag("--config"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Init(logger.Options{Level: cfg.Log.Level, Output: cfg.Log.Output, File: cfg.Log.File}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func connectDB(cfg *config.Config) *gorm.DB {
	db, err := database.Open(cfg.Database, cfg.Server.Mode == "debug")
	if err != nil {
		logger.Fatal("Database connection failed: %v", err)
	}
	return db
}

func startServer(cfg *config.Config) {
	defer logger.Sync()
	logger.Info("Task Portal %s - Starting...", api.Version)

	db := connectDB(cfg)
	if err := database.RunMigrations(db); err != nil {
		logger.Fatal("Migration failed: %v", err)
	}
	logger.Info("Migrations complete")

	files, err := storage.NewLocalStore(cfg.Storage.Root, cfg.Storage.MaxUploadBytes())
	if err != nil {
		logger.Fatal("Storage setup failed: %v", err)
	}
	svc := engine.NewServices(db, files)

	if cfg.Scheduler.Enabled {
		jobs, err := scheduler.NewManager(cfg.Scheduler, svc)
		if err != nil {
			logger.Fatal("Scheduler setup failed: %v", err)
		}
		if err := jobs.Start(); err != nil {
			logger.Fatal("Scheduler start failed: %v", err)
		}
		defer jobs.Stop()
	}

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	handler := api.NewHandler(cfg, svc)
	defer handler.Close()

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      api.SetupRouter(handler),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		logger.Info("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.L().Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}

// CLI
func runCLI(cfg *config.Config, args []string) {
	switch args[0] {
	case "serve":
		startServer(cfg)
	case "migrate":
		db := connectDB(cfg)
		if err := database.RunMigrations(db); err != nil {
			logger.Fatal("Migration failed: %v", err)
		}
		fmt.Println("Migrations complete")
	case "division":
		runDivisionCmd(cfg, args)
	case "user":
		runUserCmd(cfg, args)
	case "seed":
		runSeed(cfg)
	default:
		printUsage()
	}
}

func printUsage() {
	fmt.Println(`Usage: taskportal [--config=path] <command>
Commands:
  serve                                     Start server
  migrate                                   Run migrations
  division list                             List divisions
  division create --name= [--description=]  Create division
  user list [--division=CODE]               List users
  user create --username= --password= [--role=user|admin|super_admin] [--division=CODE] [--email=]
                                            Create an active user
  user approve --username=                  Activate a registered user
  seed [--password=]                        Create sample divisions, users, a project and tasks`)
}

func runDivisionCmd(cfg *config.Config, args []string) {
	if len(args) < 2 {
		printUsage()
		return
	}
	db := connectDB(cfg)
	switch args[1] {
	case "list":
		var divisions []models.Division
		if err := db.Order("name").Find(&divisions).Error; err != nil {
			logger.Fatal("Failed: %v", err)
		}
		for _, d := range divisions {
			state := "active"
			if !d.IsActive {
				state = "inactive"
			}
			fmt.Printf("%-10s %s (%s)\n", d.Code, d.Name, state)
		}
	case "create":
		name := getFlag("--name")
		if name == "" {
			printUsage()
			return
		}
		d, err := createDivision(db, name, getFlag("--description"))
		if err != nil {
			logger.Fatal("Failed: %v", err)
		}
		fmt.Printf("Division created: %s (%s)\n", d.Name, d.Code)
	default:
		printUsage()
	}
}

func createDivision(db *gorm.DB, name, description string) (*models.Division, error) {
	code, err := engine.NextDivisionCode(context.Background(), db, name, nil)
	if err != nil {
		return nil, err
	}
	d := &models.Division{Name: strings.TrimSpace(name), Code: code, Description: description, IsActive: true}
	if err := db.Create(d).Error; err != nil {
		return nil, err
	}
	return d, nil
}

func findDivision(db *gorm.DB, code string) *models.Division {
	if code == "" {
		return nil
	}
	var d models.Division
	if err := db.Where("code = ?", strings.ToUpper(code)).First(&d).Error; err != nil {
		logger.Fatal("Division not found: %s", code)
	}
	return &d
}

func runUserCmd(cfg *config.Config, args []string) {
	if len(args) < 2 {
		printUsage()
		return
	}
	db := connectDB(cfg)
	switch args[1] {
	case "list":
		q := db.Preload("Division").Order("username")
		if d := findDivision(db, getFlag("--division")); d != nil {
			q = q.Where("division_id = ?", d.ID)
		}
		var users []models.User
		if err := q.Find(&users).Error; err != nil {
			logger.Fatal("Failed: %v", err)
		}
		for _, u := range users {
			division := "-"
			if u.Division != nil {
				division = u.Division.Code
			}
			fmt.Printf("%-20s %-12s %-10s active=%v <%s>\n", u.Username, u.Role, division, u.IsActive, u.Email)
		}
	case "create":
		username, password := getFlag("--username"), getFlag("--password")
		if username == "" || password == "" {
			printUsage()
			return
		}
		role := models.RoleUser
		if raw := getFlag("--role"); raw != "" {
			parsed, ok := models.ParseRole(raw)
			if !ok {
				logger.Fatal("Unknown role: %s", raw)
			}
			role = parsed
		}
		u, err := createUser(db, username, password, role, findDivision(db, getFlag("--division")))
		if err != nil {
			logger.Fatal("Failed: %v", err)
		}
		if email := getFlag("--email"); email != "" {
			db.Model(u).Update("email", email)
		}
		fmt.Printf("User created: %s (%s)\n", u.Username, u.Role)
	case "approve":
		username := getFlag("--username")
		if username == "" {
			printUsage()
			return
		}
		res := db.Model(&models.User{}).Where("LOWER(username) = ?", strings.ToLower(username)).Update("is_active", true)
		if res.Error != nil {
			logger.Fatal("Failed: %v", res.Error)
		}
		if res.RowsAffected == 0 {
			logger.Fatal("User not found: %s", username)
		}
		fmt.Printf("User approved: %s\n", username)
	default:
		printUsage()
	}
}

func createUser(db *gorm.DB, username, password string, role models.Role, division *models.Division) (*models.User, error) {
	if len(password) < engine.MinPasswordLength {
		return nil, fmt.Errorf("password must be at least %d characters", engine.MinPasswordLength)
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, err
	}
	u := &models.User{Username: username, PasswordHash: hash, Role: role, IsActive: true}
	if division != nil {
		u.DivisionID = &division.ID
	}
	if err := db.Create(u).Error; err != nil {
		return nil, err
	}
	return u, nil
}

// runSeed creates a small demo organisation through the engines so that
// history and notifications look like real usage
func runSeed(cfg *config.Config) {
	db := connectDB(cfg)
	if err := database.RunMigrations(db); err != nil {
		logger.Fatal("Migration failed: %v", err)
	}
	password := getFlag("--password")
	if password == "" {
		password = "changeme123"
	}
	ctx := context.Background()

	var existing int64
	db.Model(&models.User{}).Where("username = ?", "admin").Count(&existing)
	if existing > 0 {
		fmt.Println("Seed data already present")
		return
	}

	eng, err := createDivision(db, "Engineering", "Product development")
	if err != nil {
		logger.Fatal("Failed: %v", err)
	}
	ops, err := createDivision(db, "Operations", "Day to day running")
	if err != nil {
		logger.Fatal("Failed: %v", err)
	}
	root, err := createUser(db, "admin", password, models.RoleSuperAdmin, nil)
	if err != nil {
		logger.Fatal("Failed: %v", err)
	}
	lead, _ := createUser(db, "eng.lead", password, models.RoleAdmin, eng)
	dev, _ := createUser(db, "eng.dev", password, models.RoleUser, eng)
	createUser(db, "ops.dev", password, models.RoleUser, ops)
	if lead == nil || dev == nil {
		logger.Fatal("Failed to create sample users")
	}

	svc := engine.NewServices(db, nil)
	project, err := svc.Projects.Create(ctx, root, engine.ProjectInput{
		Title:           "Website relaunch",
		DivisionID:      &eng.ID,
		AssignedAdminID: &lead.ID,
		Status:          models.ProjectStatusActive,
	})
	if err != nil {
		logger.Fatal("Failed: %v", err)
	}
	due := time.Now().UTC().AddDate(0, 0, 7).Format("2006-01-02")
	for _, in := range []engine.TaskInput{
		{Title: "Draft the sitemap", ProjectID: &project.ID, AssigneeIDs: []uuid.UUID{dev.ID}, DueDate: due},
		{Title: "Review hosting costs", AssigneeIDs: []uuid.UUID{lead.ID, dev.ID}, Status: models.TaskStatusInProgress},
	} {
		if _, err := svc.Tasks.Create(ctx, lead, in); err != nil {
			logger.Fatal("Failed: %v", err)
		}
	}
	fmt.Printf("Seed complete. Log in as admin / %s\n", password)
}

func getFlag(name string) string {
	prefix := name + "="
	for _, arg := range os.Args {
		if strings.HasPrefix(arg, prefix) && len(arg) > len(prefix) {
			return arg[len(prefix):]
		}
	}
	return ""
}
