package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/technosupport/ts-vms/internal/api"
	"github.com/technosupport/ts-vms/internal/data"
	"github.com/technosupport/ts-vms/internal/flood"
	"github.com/technosupport/ts-vms/internal/inference"
)

type config struct {
	Flood struct {
		VideoRoot      string   `yaml:"video_root"`
		RecordRoot     string   `yaml:"record_root"`
		ModelSharedLib string   `yaml:"onnxruntime_lib"`
		WaterWeights   string   `yaml:"water_weights"`
		RiskWeights    string   `yaml:"risk_weights"`
		RiskHead       string   `yaml:"risk_head"`
		RiskClasses    []string `yaml:"risk_classes"`
	} `yaml:"flood"`
}

func loadConfig(path string) config {
	var cfg config
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Printf("config: %s not found, using defaults: %v", path, err)
		return cfg
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		log.Printf("config: failed to parse %s: %v", path, err)
	}
	return cfg
}

func main() {
	cfg := loadConfig("config/default.yaml")
	if cfg.Flood.VideoRoot == "" {
		cfg.Flood.VideoRoot = "data/videos"
	}
	if cfg.Flood.RecordRoot == "" {
		cfg.Flood.RecordRoot = "data/recordings"
	}

	dbHost := os.Getenv("DB_HOST")
	dbPort := os.Getenv("DB_PORT")
	dbUser := os.Getenv("DB_USER")
	dbPass := os.Getenv("DB_PASSWORD")
	dbName := os.Getenv("DB_NAME")
	if dbPort == "" {
		dbPort = "5432"
	}

	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", dbUser, dbPass, dbHost, dbPort, dbName)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	if err := db.Ping(); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}
	defer db.Close()

	runMigrations(db)

	if err := inference.InitRegistry(inference.RegistryConfig{
		SharedLibraryPath: cfg.Flood.ModelSharedLib,
		WaterWeightsPath:  cfg.Flood.WaterWeights,
		RiskWeightsPath:   cfg.Flood.RiskWeights,
		RiskHead:          inference.RiskHead(cfg.Flood.RiskHead),
		RiskClassNames:    cfg.Flood.RiskClasses,
	}); err != nil {
		log.Printf("Warning: flood inference registry init failed: %v. Every flood tick will fail inference and be skipped.", err)
	}
	defer inference.Close()

	floodRepo := data.FloodModel{DB: db}
	floodStage := inference.NewStage(len(cfg.Flood.RiskClasses))
	floodSupervisor := flood.NewSupervisor(
		flood.Config{VideoRoot: cfg.Flood.VideoRoot, RecordRoot: cfg.Flood.RecordRoot},
		flood.Deps{Persist: floodRepo, Infer: floodStage},
	)
	floodHandler := api.NewFloodWsHandler(floodSupervisor)

	mux := http.NewServeMux()
	mux.Handle("GET /api/v1/flood/stream", http.HandlerFunc(floodHandler.ServeWS))
	mux.Handle("GET /metrics", promhttp.Handler())

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	server := &http.Server{
		Addr:    ":" + port,
		Handler: mux,
	}

	go func() {
		log.Printf("Starting server on :%s", port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("shutdown requested")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
	log.Println("server stopped")
}

// runMigrations applies db/migrations on boot. A missing migrations
// directory or an already-current schema is not fatal.
func runMigrations(db *sql.DB) {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		log.Printf("migrate: driver init failed: %v", err)
		return
	}
	m, err := migrate.NewWithDatabaseInstance("file://db/migrations", "postgres", driver)
	if err != nil {
		log.Printf("migrate: init failed: %v", err)
		return
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		log.Printf("migrate: up failed: %v", err)
	}
}
