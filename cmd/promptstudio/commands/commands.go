package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ndyanx/prompt-studio/internal/adapters/remote"
	"github.com/ndyanx/prompt-studio/internal/adapters/repository"
	"github.com/ndyanx/prompt-studio/internal/application/services"
	"github.com/ndyanx/prompt-studio/internal/domain/entities"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/config"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/database"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/logger"
	"github.com/ndyanx/prompt-studio/internal/infrastructure/server"
)

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the companion API server",
		Long:  "Start the companion API server exposing the workspace, sync, and session operations",
		Run: func(cmd *cobra.Command, args []string) {
			runServer()
		},
	}
}

// NewMigrateCommand creates the migrate command with subcommands
func NewMigrateCommand() *cobra.Command {
	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Local store migration commands",
		Long:  "Manage local store migrations (up, down, version)",
	}

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Run all up migrations",
		Run: func(cmd *cobra.Command, args []string) {
			runMigration("up")
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Run all down migrations",
		Run: func(cmd *cobra.Command, args []string) {
			runMigration("down")
		},
	})

	migrateCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print current migration version",
		Run: func(cmd *cobra.Command, args []string) {
			showMigrationVersion()
		},
	})

	return migrateCmd
}

// NewSyncCommand creates the sync command with subcommands
func NewSyncCommand() *cobra.Command {
	syncCmd := &cobra.Command{
		Use:   "sync",
		Short: "Remote snapshot sync commands",
		Long:  "Push and pull the session partition against the remote snapshot store",
	}

	pushCmd := &cobra.Command{
		Use:   "push",
		Short: "Upload a snapshot of the session partition",
		Run: func(cmd *cobra.Command, args []string) {
			token, _ := cmd.Flags().GetString("token")
			runSync("push", token)
		},
	}
	pushCmd.Flags().String("token", "", "Access token (falls back to ACCESS_TOKEN env)")

	pullCmd := &cobra.Command{
		Use:   "pull",
		Short: "Restore the latest snapshot into the session partition",
		Run: func(cmd *cobra.Command, args []string) {
			token, _ := cmd.Flags().GetString("token")
			runSync("pull", token)
		},
	}
	pullCmd.Flags().String("token", "", "Access token (falls back to ACCESS_TOKEN env)")

	syncCmd.AddCommand(pushCmd)
	syncCmd.AddCommand(pullCmd)

	syncCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show sync configuration and local store state",
		Run: func(cmd *cobra.Command, args []string) {
			showSyncStatus()
		},
	})

	return syncCmd
}

// NewTasksCommand creates the tasks import/export command
func NewTasksCommand() *cobra.Command {
	tasksCmd := &cobra.Command{
		Use:   "tasks",
		Short: "Task import and export commands",
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the active partition to a JSON document",
		Run: func(cmd *cobra.Command, args []string) {
			out, _ := cmd.Flags().GetString("out")
			exportTasks(out)
		},
	}
	exportCmd.Flags().String("out", "", "Output file (default: generated filename)")

	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import tasks from an exported JSON document",
		Run: func(cmd *cobra.Command, args []string) {
			file, _ := cmd.Flags().GetString("file")
			if file == "" {
				log.Fatal("A file is required")
			}
			importTasks(file)
		},
	}
	importCmd.Flags().String("file", "", "Input file (required)")

	tasksCmd.AddCommand(exportCmd)
	tasksCmd.AddCommand(importCmd)

	return tasksCmd
}

// NewVersionCommand creates the version command
func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print Prompt Studio version",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Load()
			if err != nil {
				log.Fatalf("Failed to load configuration: %v", err)
			}
			fmt.Printf("%s %s\n", cfg.App.Name, cfg.App.Version)
		},
	}
}

func runServer() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Close()

	db, err := database.Open(cfg.Database)
	if err != nil {
		appLogger.Fatalw("Failed to open local store", "error", err)
	}
	defer db.Close()

	srv, err := server.New(cfg, db, appLogger)
	if err != nil {
		appLogger.Fatalw("Failed to initialize server", "error", err)
	}

	if err := srv.Startup(context.Background()); err != nil {
		appLogger.Fatalw("Failed to resolve startup state", "error", err)
	}

	appLogger.Infow("Starting companion API server",
		"port", cfg.Server.Port,
		"environment", cfg.App.Environment,
	)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			appLogger.Errorw("Server shutdown failed", "error", err)
		}
	}()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	if err := srv.Start(addr); err != nil {
		appLogger.Infow("Server stopped", "reason", err.Error())
	}
}

func runMigration(direction string) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer db.Close()

	switch direction {
	case "up":
		err = db.MigrateUp()
	case "down":
		err = db.MigrateDown()
	}
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	fmt.Printf("Migration %s completed successfully\n", direction)
}

func showMigrationVersion() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer db.Close()

	version, dirty, err := db.MigrationVersion()
	if err != nil {
		log.Fatalf("Failed to get migration version: %v", err)
	}

	fmt.Printf("Current migration version: %d\n", version)
	fmt.Printf("Dirty: %t\n", dirty)
}

func runSync(direction, token string) {
	if token == "" {
		token = os.Getenv("ACCESS_TOKEN")
	}
	if token == "" {
		log.Fatal("An access token is required (--token or ACCESS_TOKEN)")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Close()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer db.Close()

	taskRepo := repository.NewTaskRepository(db.DB)
	settingsRepo := repository.NewSettingsRepository(db.DB)
	sessionStore := remote.NewSessionStore(appLogger)
	snapshotClient := remote.NewSnapshotClient(cfg.Supabase, appLogger)
	syncService := services.NewSyncService(taskRepo, settingsRepo, snapshotClient, sessionStore, cfg.Sync, nil, appLogger)

	if _, err := sessionStore.SetToken(token); err != nil {
		log.Fatalf("Invalid access token: %v", err)
	}

	ctx := context.Background()
	switch direction {
	case "push":
		result, err := syncService.Push(ctx)
		if err != nil {
			log.Fatalf("Push failed: %v", err)
		}
		fmt.Printf("Pushed %d tasks\n", result.Tasks)
	case "pull":
		result, err := syncService.Pull(ctx)
		if err != nil {
			log.Fatalf("Pull failed: %v", err)
		}
		if result.NothingToRestore {
			fmt.Println("No snapshot stored yet")
			return
		}
		fmt.Printf("Restored %d tasks\n", result.Tasks)
	}
}

func showSyncStatus() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer db.Close()

	taskRepo := repository.NewTaskRepository(db.DB)
	ctx := context.Background()

	offline, err := taskRepo.Count(ctx, entities.PartitionOffline)
	if err != nil {
		log.Fatalf("Failed to read local store: %v", err)
	}
	session, err := taskRepo.Count(ctx, entities.PartitionSession)
	if err != nil {
		log.Fatalf("Failed to read local store: %v", err)
	}

	fmt.Printf("Remote sync configured: %t\n", cfg.Supabase.Enabled())
	if cfg.Supabase.Enabled() {
		fmt.Printf("Snapshot table: %s\n", cfg.Supabase.SnapshotTable)
	}
	fmt.Printf("Offline tasks: %d\n", offline)
	fmt.Printf("Session tasks: %d\n", session)
}

func exportTasks(out string) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Close()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer db.Close()

	workspace := newWorkspace(cfg, db, appLogger)

	doc, filename, err := workspace.ExportAll(context.Background())
	if err != nil {
		log.Fatalf("Export failed: %v", err)
	}

	if out == "" {
		out = filename
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		log.Fatalf("Export failed: %v", err)
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		log.Fatalf("Export failed: %v", err)
	}

	fmt.Printf("Exported %d tasks to %s\n", len(doc.Tasks), out)
}

func importTasks(file string) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	appLogger, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Close()

	db, err := database.Open(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to open local store: %v", err)
	}
	defer db.Close()

	workspace := newWorkspace(cfg, db, appLogger)

	data, err := os.ReadFile(file)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	count, err := workspace.ImportMany(context.Background(), data)
	if err != nil {
		log.Fatalf("Import failed: %v", err)
	}

	fmt.Printf("Imported %d tasks\n", count)
}

func newWorkspace(cfg *config.Config, db *database.DB, appLogger *logger.Logger) *services.WorkspaceService {
	taskRepo := repository.NewTaskRepository(db.DB)
	sessionStore := remote.NewSessionStore(appLogger)
	router := services.NewPartitionRouter(sessionStore, taskRepo, appLogger)
	return services.NewWorkspaceService(taskRepo, router, cfg.Sync.DebounceInterval, appLogger)
}
