// aefd is the long-running ingestion daemon: it wires a configured backend
// (Null/File/HTTP/SQL) to the ingestion HTTP endpoint (C10) and serves it
// until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/agentic-observability/aef/pkg/backend"
	"github.com/agentic-observability/aef/pkg/config"
	"github.com/agentic-observability/aef/pkg/httpbackend"
	"github.com/agentic-observability/aef/pkg/ingest"
	"github.com/agentic-observability/aef/pkg/sqlbackend"
	"github.com/agentic-observability/aef/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configPath := flag.String("config", getEnv("AEF_CONFIG", "./aef.yaml"), "path to the AEF configuration file")
	addr := flag.String("addr", getEnv("AEF_ADDR", ":8089"), "address the ingestion server listens on")
	envFile := flag.String("env-file", getEnv("AEF_ENV_FILE", filepath.Join(filepath.Dir(*configPath), ".env")), "path to a .env file to load before reading config")
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("warning: could not load %s: %v", *envFile, err)
		log.Printf("continuing with existing environment variables")
	} else {
		log.Printf("loaded environment from %s", *envFile)
	}

	log.Printf("starting aefd %s", version.Full())

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	b, err := newBackend(cfg)
	if err != nil {
		log.Fatalf("failed to construct backend: %v", err)
	}

	if c, ok := b.(*sqlbackend.Backend); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := c.Connect(ctx); err != nil {
			cancel()
			log.Fatalf("failed to connect sql backend: %v", err)
		}
		cancel()
	}
	defer func() {
		if err := b.Close(); err != nil {
			log.Printf("error closing backend: %v", err)
		}
	}()

	server, err := ingest.NewServer(b)
	if err != nil {
		log.Fatalf("failed to construct ingestion server: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("ingestion server listening on %s", *addr)
		if err := server.Start(*addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		log.Println("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Fatalf("ingestion server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during graceful shutdown: %v", err)
	}
}

// newBackend constructs the Backend named by cfg.Backend. SQL backends are
// returned unconnected; the caller connects them explicitly so construction
// errors (bad config) and connection errors (bad network/DB) are reported
// distinctly.
func newBackend(cfg *config.Config) (backend.Backend, error) {
	switch cfg.Backend {
	case config.BackendNull:
		return backend.NewNullBackend()
	case config.BackendFile:
		return backend.NewFileBackend(cfg.File.OutputPath)
	case config.BackendHTTP:
		hc := httpbackend.DefaultConfig()
		hc.BaseURL = cfg.HTTP.BaseURL
		hc.Timeout = time.Duration(cfg.HTTP.TimeoutSeconds * float64(time.Second))
		hc.MaxRetries = cfg.HTTP.MaxRetries
		hc.BackoffBase = time.Duration(cfg.HTTP.RetryBackoffFactor * float64(time.Second))
		hc.BackoffMax = time.Duration(cfg.HTTP.RetryMaxDelay * float64(time.Second))
		hc.Jitter = cfg.HTTP.RetryJitter
		return httpbackend.New(hc)
	case config.BackendSQL:
		sc := sqlbackend.DefaultConfig()
		sc.DatabaseURL = cfg.SQL.DatabaseURL
		sc.PoolMinSize = cfg.SQL.PoolMinSize
		sc.PoolMaxSize = cfg.SQL.PoolMaxSize
		sc.UseCopyThreshold = cfg.SQL.UseCopyThreshold
		return sqlbackend.New(sc)
	default:
		return nil, errors.New("unknown backend kind: " + string(cfg.Backend))
	}
}
