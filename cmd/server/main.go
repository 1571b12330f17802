package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"gopkg.in/yaml.v3"

	"github.com/meetscribe/meetscribe/internal/adapters/meet"
	"github.com/meetscribe/meetscribe/internal/capture"
	"github.com/meetscribe/meetscribe/internal/cleanup"
	"github.com/meetscribe/meetscribe/internal/coordinator"
	"github.com/meetscribe/meetscribe/internal/delivery"
	"github.com/meetscribe/meetscribe/internal/handlers"
	"github.com/meetscribe/meetscribe/internal/store"
	"github.com/meetscribe/meetscribe/internal/stream"
	"github.com/meetscribe/meetscribe/internal/types"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Storage struct {
		ExportsDir string `yaml:"exports_dir"`
		Database   string `yaml:"database"`
	} `yaml:"storage"`

	Capture struct {
		Enabled    bool   `yaml:"enabled"`
		MeetingURL string `yaml:"meeting_url"`
	} `yaml:"capture"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeDays      int `yaml:"max_age_days"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`
}

func main() {
	// Load configuration
	config, err := loadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := cleanup.EnsureExportsDirExists(config.Storage.ExportsDir); err != nil {
		log.Fatalf("Failed to create exports directory: %v", err)
	}

	// Custom logger setup
	logBuffer := &LogBuffer{
		lines: make([]string, 0, 1000),
	}
	multiWriter := io.MultiWriter(os.Stdout, logBuffer)
	log.SetOutput(multiWriter)

	// Initialize components
	log.Println("Initializing components...")

	st, err := store.Open(config.Storage.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer st.Close()

	exporter := delivery.NewExporter(config.Storage.ExportsDir)
	webhookClient := delivery.NewWebhookClient()

	// Google Drive uploader (optional - may fail if credentials not set up)
	var driveUploader *delivery.DriveUploader
	if _, err := os.Stat(config.GoogleDrive.CredentialsFile); err == nil {
		driveUploader, err = delivery.NewDriveUploader(
			config.GoogleDrive.CredentialsFile,
			config.GoogleDrive.TokenFile,
			config.GoogleDrive.FolderName,
		)
		if err != nil {
			log.Printf("WARNING: Google Drive not available: %v", err)
			log.Println("Transcripts will only be saved locally")
			driveUploader = nil
		} else {
			log.Println("Google Drive integration enabled")
		}
	} else {
		log.Println("Google Drive credentials not found - saving locally only")
	}

	deliverer := delivery.NewDeliverer(st, exporter, webhookClient, driveUploader)
	coord := coordinator.New(st, deliverer, nil)
	hub := stream.NewHub()

	// Finalize any meeting a previous process died in the middle of.
	if msg, err := coord.RecoverLastMeeting(context.Background()); err != nil {
		if types.IsBenignRecovery(err) {
			log.Println("No meeting to recover")
		} else {
			log.Printf("Recovery failed: %v", err)
		}
	} else {
		log.Println(msg)
	}

	// Cleanup scheduler
	cleanupScheduler := cleanup.NewScheduler(
		config.Storage.ExportsDir,
		config.Cleanup.IntervalMinutes,
		config.Cleanup.MaxAgeDays,
	)
	cleanupScheduler.Start()
	defer cleanupScheduler.Stop()

	captureCtx, captureCancel := context.WithCancel(context.Background())
	defer captureCancel()

	// Headless capture agent (optional)
	if config.Capture.Enabled && config.Capture.MeetingURL != "" {
		go runCaptureAgent(captureCtx, config.Capture.MeetingURL, st, hub, coord)
	}

	// Create Fiber app
	app := fiber.New(fiber.Config{})

	// Middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	// Initialize handlers
	messageHandler := handlers.NewMessageHandler(coord)
	meetingsHandler := handlers.NewMeetingsHandler(st)
	streamHandler := handlers.NewStreamHandler(hub, coord)

	// Routes
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	app.Post("/api/message", messageHandler.Handle)
	app.Get("/api/meetings", meetingsHandler.List)
	app.Get("/api/settings", meetingsHandler.GetSettings)
	app.Post("/api/settings", meetingsHandler.UpdateSettings)

	// WebSocket route
	app.Get("/ws/stream", websocket.New(streamHandler.Handle))

	// Get server logs
	app.Get("/logs", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"logs": logBuffer.GetLogs(),
		})
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	log.Printf("Server starting on %s", addr)
	log.Println("Endpoints:")
	log.Println("   POST /api/message  - Meeting lifecycle / transcript operations")
	log.Println("   GET  /api/meetings - List archived meetings")
	log.Println("   GET  /api/settings - View settings")
	log.Println("   POST /api/settings - Update settings")
	log.Println("   GET  /ws/stream    - WebSocket live transcript streaming")
	log.Println("   GET  /logs         - View server logs")
	log.Println("   GET  /health       - Health check")

	// SIGHUP requests a restart for a pending update; the coordinator defers
	// it while a meeting is bound or finalizing.
	go func() {
		sighup := make(chan os.Signal, 1)
		signal.Notify(sighup, syscall.SIGHUP)
		for range sighup {
			log.Println("Update requested")
			coord.RequestUpdate()
		}
	}()

	// Graceful shutdown
	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		log.Println("Shutting down gracefully...")
		captureCancel()
		app.Shutdown()
	}()

	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

// runCaptureAgent joins the configured meeting with a headless tab and feeds
// the capture session until the meeting or the process ends.
func runCaptureAgent(ctx context.Context, url string, st *store.Store, hub *stream.Hub, coord *coordinator.Coordinator) {
	settings, err := st.Settings()
	if err != nil {
		log.Printf("Capture agent failed to load settings: %v", err)
		return
	}

	session := capture.NewSession(capture.Config{
		Software: types.SoftwareGoogleMeet,
		Policy:   capture.PolicyCumulative,
	}, st, hub, coord)
	go session.Run(ctx)

	agent := meet.NewAgent(url, settings.OperationMode, session, st)
	if err := agent.Run(ctx); err != nil && ctx.Err() == nil {
		log.Printf("Capture agent stopped: %v", err)
	}
}

// LogBuffer captures logs in memory
type LogBuffer struct {
	lines []string
	mu    sync.Mutex
}

func (lb *LogBuffer) Write(p []byte) (n int, err error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	// Append new line
	lb.lines = append(lb.lines, string(p))

	// Keep last 1000 lines
	if len(lb.lines) > 1000 {
		lb.lines = lb.lines[len(lb.lines)-1000:]
	}

	return len(p), nil
}

func (lb *LogBuffer) GetLogs() []string {
	lb.mu.Lock()
	defer lb.mu.Unlock()

	// Return copy of slice
	logs := make([]string, len(lb.lines))
	copy(logs, lb.lines)
	return logs
}

// loadConfig loads configuration from YAML file
func loadConfig(path string) (*Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
