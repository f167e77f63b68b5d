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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/zsiec/slate/internal/capture"
	"github.com/zsiec/slate/internal/capture/hal/sim"
	"github.com/zsiec/slate/internal/config"
	"github.com/zsiec/slate/internal/health"
	"github.com/zsiec/slate/internal/logger"
	"github.com/zsiec/slate/internal/registry"
	"github.com/zsiec/slate/internal/server"
	"github.com/zsiec/slate/pkg/version"
)

func main() {
	var (
		configPath  string
		showVersion bool
		simDevices  int
		simInterval time.Duration
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.IntVar(&simDevices, "simulate", 0, "Number of simulated capture devices to attach")
	flag.DurationVar(&simInterval, "simulate-interval", 0, "Free-running frame interval for simulated devices (0 disables)")
	flag.Parse()

	// Show version and exit if requested
	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	// Log startup information
	log.WithField("version", version.GetInfo().Short()).Info("Starting Slate capture server")
	log.WithField("config_path", configPath).Debug("Configuration loaded")

	// Connect to Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addresses[0],
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxRetries:   cfg.Redis.MaxRetries,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Fatal("Failed to connect to Redis")
	}
	log.Info("Connected to Redis successfully")

	nodeID, err := os.Hostname()
	if err != nil {
		nodeID = "slate-node"
	}

	// Device registry and capture manager
	reg := registry.NewRedisRegistry(redisClient, log, cfg.Registry.TTL)
	mgrLog := logger.NewLogrusAdapter(logrus.NewEntry(log))
	manager := capture.NewManager(cfg, nodeID, reg, mgrLog)

	// Attach simulated devices when requested
	for i := 0; i < simDevices; i++ {
		opts := []sim.Option{
			sim.WithModelName(fmt.Sprintf("Slate Simulator %d", i+1)),
			sim.WithPayloadBytes(cfg.Capture.Pool.PayloadSize),
		}
		if simInterval > 0 {
			opts = append(opts, sim.WithFrameInterval(simInterval))
		}
		hw := sim.New(opts...)
		if err := manager.Browser().Attach(hw); err != nil {
			log.WithError(err).Fatal("Failed to attach simulated device")
		}
		log.WithField("device_id", hw.Info().ID).Info("Attached simulated device")
	}

	if err := manager.Start(); err != nil {
		log.WithError(err).Fatal("Failed to start capture manager")
	}

	// Start metrics server if enabled
	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics, log)
	}

	// Create server and wire the capture API
	srv := server.New(&cfg.Server, log, redisClient)
	srv.RegisterHealthChecker(health.NewBrowserChecker(manager.Browser()))
	srv.RegisterRoutes(capture.NewHandlers(manager, mgrLog).RegisterRoutes)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	// Start server
	if err := srv.Start(ctx); err != nil {
		log.WithError(err).Fatal("Server error")
	}

	// Cleanup
	if err := manager.Stop(); err != nil {
		log.WithError(err).Error("Failed to stop capture manager")
	}
	if err := redisClient.Close(); err != nil {
		log.WithError(err).Error("Failed to close Redis connection")
	}

	log.Info("Server shutdown complete")
}

// startMetricsServer starts the Prometheus metrics server
func startMetricsServer(cfg config.MetricsConfig, log *logrus.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("Starting metrics server")

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("Metrics server error")
	}
}
