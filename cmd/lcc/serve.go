package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/launch-control/lcc/internal/adapter/simvehicle"
	"github.com/launch-control/lcc/internal/api"
	"github.com/launch-control/lcc/internal/audit"
	"github.com/launch-control/lcc/internal/auth"
	"github.com/launch-control/lcc/internal/config"
	"github.com/launch-control/lcc/internal/eventlog"
	"github.com/launch-control/lcc/internal/supervisor"
	"github.com/launch-control/lcc/internal/telemetry"
	"github.com/launch-control/lcc/internal/vehicle"
)

func newServeCmd() *cobra.Command {
	var (
		configPath  string
		simVehicles []string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the launch control container",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, simVehicles)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "lcc.yaml", "config file path")
	cmd.Flags().StringSliceVar(&simVehicles, "sim-vehicle", []string{"sim-1"},
		"IDs of simulated vehicles to register (empty for none)")
	return cmd
}

func runServe(configPath string, simVehicles []string) error {
	log.Printf("Starting Launch Control Container v%s", Version)

	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	log.Println("Configuration loaded successfully")

	store, err := eventlog.Open(cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer store.Close()
	log.Printf("Event store open at %s", cfg.Storage.Path)

	hub := telemetry.NewHub(&cfg.Timing)
	log.Println("Telemetry hub initialized")

	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	log.Println("Audit logger initialized")

	registry := vehicle.NewRegistry()
	for _, id := range simVehicles {
		sim := simvehicle.New(id, simvehicle.DefaultProfile())
		if err := registry.Register(id, "SIM-2", sim, cfg.Timing.CommandTimeoutQuery); err != nil {
			return fmt.Errorf("failed to register vehicle %s: %w", id, err)
		}
		log.Printf("Registered simulated vehicle %s", id)
	}

	sup := supervisor.New(cfg, store, registry, hub)

	var authMW *auth.Middleware
	if cfg.Auth.Enabled {
		verifier, err := auth.NewVerifier(cfg.Auth)
		if err != nil {
			return fmt.Errorf("failed to initialize auth: %w", err)
		}
		authMW = auth.NewMiddleware(verifier)
		log.Printf("Authentication enabled (%s)", cfg.Auth.Algorithm)
	} else {
		log.Println("Authentication disabled; API runs open")
	}

	server := api.NewServer(sup, hub, registry, auditLogger, authMW, cfg.Server)

	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErr <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()
	log.Printf("HTTP server listening on %s", cfg.Server.Addr)
	log.Printf("Health endpoint: http://localhost%s/api/v1/health", cfg.Server.Addr)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		log.Printf("Received signal %v, initiating graceful shutdown...", sig)
	case err := <-serverErr:
		log.Printf("Server error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sup.Stop()
	log.Println("Mission supervisor stopped")

	hub.Stop()
	log.Println("Telemetry hub stopped")

	if err := auditLogger.Close(); err != nil {
		log.Printf("Error closing audit logger: %v", err)
	}

	if err := server.Stop(ctx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	} else {
		log.Println("HTTP server stopped gracefully")
	}

	log.Println("Launch Control Container shutdown complete")
	return nil
}
