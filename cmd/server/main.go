package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"energyguard/internal/api"
	"energyguard/internal/config"
	"energyguard/internal/observability"
	"energyguard/internal/replication"
	"energyguard/internal/storage"
)

func main() {
	log := logrus.StandardLogger()
	log.Info("starting EnergyGuard")

	cfg, err := config.LoadOrCreate("config/config.json")
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	log.Info("configuration loaded")

	metrics := observability.NewMetrics()

	var limiter *rate.Limiter
	if cfg.RateLimitPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitBurst)
	}

	managerOpts := []replication.Option{
		replication.WithLogger(log),
		replication.WithMetricsHooks(
			metrics.WritesTotal.Inc,
			metrics.ReadsTotal.Inc,
			metrics.NodeFailTotal.Inc,
			metrics.AlertsTotal.Inc,
		),
	}

	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		mirror := storage.NewRedisHintMirror(client, "energyguard:hints")
		managerOpts = append(managerOpts, replication.WithHintMirror(mirror))
		log.WithField("addr", cfg.Redis.Addr).Info("redis hint mirror configured")
	}

	manager, err := replication.NewManager(
		cfg.DataDir, cfg.NodesDB, cfg.Port+1, replication.StrategyFull, cfg.ReplicationFactor,
		managerOpts...,
	)
	if err != nil {
		log.Fatalf("failed to initialize storage nodes: %v", err)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			log.Warnf("error closing storage nodes: %v", err)
		}
	}()

	metrics.SetNodesAlive(cfg.NodesDB)

	apiServer := api.NewServer(manager, metrics, cfg.APIToken, limiter, log)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      apiServer,
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		IdleTimeout:  cfg.IdleTimeout.Duration,
	}

	go func() {
		log.Infof("HTTP server listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	printStartupInfo(cfg)

	<-quit
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf("server forced to shutdown: %v", err)
	}

	log.Info("server gracefully stopped")
}

func printStartupInfo(cfg *config.Config) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	fmt.Println("EnergyGuard replicated measurement store")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Printf("HTTP API: http://%s:%d\n", cfg.Host, cfg.Port)
	fmt.Printf("Storage nodes: %d (data dir: %s)\n", cfg.NodesDB, cfg.DataDir)
	fmt.Println("\nAvailable endpoints:")
	fmt.Println("  POST   /ingest                    - ingest a measurement")
	fmt.Println("  GET    /measurement/{key}          - read a measurement")
	fmt.Println("  DELETE /delete/{key}               - delete a measurement")
	fmt.Println("  POST   /fail_node/{id}             - simulate a node failure")
	fmt.Println("  POST   /recover_node/{id}          - recover a failed node")
	fmt.Println("  GET    /nodes_status                - node liveness table")
	fmt.Println("  POST   /configure_replication       - switch placement strategy")
	fmt.Println("  GET    /replica_nodes/{key}         - ring placement for a key")
	fmt.Println("  POST   /set_threshold               - set a sensor alert threshold")
	fmt.Println("  GET    /alerts                      - list raised alerts")
	fmt.Println("  GET    /metrics                     - Prometheus metrics")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println("Press Ctrl+C to shut down")
	fmt.Println(strings.Repeat("=", 60) + "\n")
}
