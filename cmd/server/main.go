package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appforge/internal/api"
	"appforge/internal/collab"
	"appforge/internal/config"
	"appforge/internal/db"
	"appforge/internal/openai"
	"appforge/internal/repository"
	"appforge/internal/services"
	"appforge/internal/telemetry"
)

func main() {
	log.Println("🚀 Starting AppForge sync server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Tracing first so everything after it is traced
	jaegerShutdown, err := telemetry.InitJaeger("appforge", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	database, err := db.NewGorm(cfg)
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	defer database.Close()

	projectRepo := repository.NewProjectRepository(database.DB)

	exportService := services.NewExportService(cfg.ExportWorkers, cfg.ExportQueueSize)
	exportService.Start()

	// The AI surface is optional; without a key the server still syncs, saves
	// and exports, and ai-request answers with an error.
	var suggestService *services.SuggestServiceImpl
	if cfg.OpenAIAPIKey != "" {
		componentIndex := repository.NewComponentIndex(database.DB)
		suggestService = services.NewSuggestService(
			openai.NewClient(cfg.OpenAIAPIKey),
			componentIndex,
			cfg.SuggestWorkers,
			cfg.SuggestQueueSize,
		)
		suggestService.Start()
		log.Println("✓ AI suggestion service initialized")
	} else {
		log.Println("⚠️  OPENAI_API_KEY not set, AI suggestions disabled")
	}

	var suggester collab.Suggester
	if suggestService != nil {
		suggester = suggestService
	}

	roomManager := collab.NewRoomManager(projectRepo, exportService, suggester)
	roomManager.Start()

	wsHandler := collab.NewWebSocketHandler(roomManager)

	handler := api.NewHandler(projectRepo, wsHandler, exportService, roomManager)
	router := api.SetupRoutes(handler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("📚 Endpoints:")
		log.Printf("   POST   /api/projects      - Create project")
		log.Printf("   GET    /api/projects      - List projects")
		log.Printf("   GET    /api/projects/:id  - Get project snapshot")
		log.Printf("   DELETE /api/projects/:id  - Delete project (soft)")
		log.Printf("   WS     /ws/project/:id    - Live editing session")
		log.Println()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	// Rooms first: closing them persists final snapshots while the export and
	// suggestion pools are still alive.
	roomManager.Shutdown()
	exportService.Shutdown()
	if suggestService != nil {
		suggestService.Shutdown()
	}

	log.Println("✓ Server shutdown complete")
}
