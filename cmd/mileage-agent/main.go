package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"shiftpilot/mileage-agent/internal/checkpoint"
	"shiftpilot/mileage-agent/internal/client"
	"shiftpilot/mileage-agent/internal/config"
	"shiftpilot/mileage-agent/internal/database"
	"shiftpilot/mileage-agent/internal/deduction"
	"shiftpilot/mileage-agent/internal/detect"
	"shiftpilot/mileage-agent/internal/device"
	"shiftpilot/mileage-agent/internal/location"
	"shiftpilot/mileage-agent/internal/logger"
	"shiftpilot/mileage-agent/internal/notify"
	"shiftpilot/mileage-agent/internal/queue"
	"shiftpilot/mileage-agent/internal/server"
	"shiftpilot/mileage-agent/internal/service"
	"shiftpilot/mileage-agent/internal/session"
	"shiftpilot/mileage-agent/internal/validity"

	"go.uber.org/zap"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config/local.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting mileage agent",
		zap.String("env", cfg.Env),
		zap.String("config_path", *configPath),
	)

	// Initialize database
	db, err := database.New(cfg.StoragePath, log.Logger)
	if err != nil {
		log.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Failed to close database", zap.Error(err))
		}
	}()

	// Get or derive device ID
	deviceManager := device.NewManager(db.DB)
	deviceID, err := deviceManager.DeviceID(cfg.Device.ID)
	if err != nil {
		log.Fatal("Failed to get device ID", zap.Error(err))
	}
	log.Info("Using device ID", zap.String("device_id", deviceID))

	// Initialize API client
	apiClient := client.NewAPIClient(
		cfg.Backend.BaseURL,
		cfg.Backend.APIKey,
		time.Duration(cfg.Backend.Timeout)*time.Second,
		log.Logger,
	)

	// Location source: a recorded sample log replayed at configurable speed.
	if cfg.Replay.Path == "" {
		log.Fatal("No location source configured; set replay.path to a sample log")
	}
	source := location.NewReplaySource(cfg.Replay.Path, cfg.Replay.Speedup, log.Logger)

	// Trip-detection state machine
	gate := validity.Gate{
		MinDuration: time.Duration(cfg.Validity.MinDuration) * time.Second,
		MinDistance: cfg.Validity.MinDistance,
		MinSamples:  cfg.Validity.MinSamples,
	}
	detector := detect.New(detect.Config{
		MovementSpeedThreshold:   cfg.Detection.MovementSpeedThreshold,
		StationarySpeedThreshold: cfg.Detection.StationarySpeedThreshold,
		MovementConfirmation:     time.Duration(cfg.Detection.MovementConfirmation) * time.Second,
		StationaryTimeout:        time.Duration(cfg.Detection.StationaryTimeout) * time.Second,
		Gate:                     gate,
	}, log.Logger)

	// Session manager with durable checkpoints
	checkpointStore := checkpoint.NewSQLiteStore(db.DB, log.Logger)
	sessions := session.NewManager(
		source,
		checkpointStore,
		gate,
		time.Duration(cfg.Tracking.SaveThrottle)*time.Second,
		log.Logger,
	)

	// Upload queue and deduction rates
	tripQueue := queue.NewTripQueue(db.DB, log.Logger)
	deductions := deduction.NewService(apiClient, 24*time.Hour, log.Logger)

	// Trip service
	tripService := service.NewTripService(
		source,
		detector,
		sessions,
		tripQueue,
		apiClient,
		notify.NewLogNotifier(log.Logger),
		deductions,
		deviceID,
		time.Duration(cfg.Tracking.UploadInterval)*time.Second,
		cfg.Tracking.UploadBatch,
		cfg.AutoDetectEnabled(),
		log.Logger,
	)

	// Local status server
	var statusHTTPServer *http.Server
	if cfg.ServerEnabled() {
		addr := fmt.Sprintf("localhost:%d", cfg.Server.Port)
		statusHTTPServer = &http.Server{
			Addr:         addr,
			Handler:      server.NewStatusServer(tripService, log.Logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info("Starting status server", zap.String("address", addr))
			if err := statusHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("Status server error", zap.Error(err))
			}
		}()
	} else {
		log.Info("Status server disabled in configuration")
	}

	// Start the trip service, then the sample stream
	if err := tripService.Start(); err != nil {
		log.Fatal("Failed to start trip service", zap.Error(err))
	}
	if err := source.Start(); err != nil {
		log.Fatal("Failed to start location source", zap.Error(err))
	}

	log.Info("Mileage agent started",
		zap.String("device_id", deviceID),
		zap.String("backend_url", cfg.Backend.BaseURL),
	)

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	if statusHTTPServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := statusHTTPServer.Shutdown(ctx); err != nil {
			log.Warn("Status server shutdown error", zap.Error(err))
		}
	}

	source.Stop()
	tripService.Stop()

	// Drop trips that exhausted their retries long ago
	if err := tripQueue.CleanupOldTrips(7 * 24 * time.Hour); err != nil {
		log.Error("Failed to cleanup old queued trips", zap.Error(err))
	}

	log.Info("Mileage agent stopped")
}
