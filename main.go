/*
File: main.go
Version: 1.0.0
Description: urlguard entrypoint. Loads configuration, builds the classification engine and either
             classifies URLs given on the command line or serves the HTTP API until signalled.
*/

package main

import (
	"context"
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	configPath := flag.String("config", "urlguard.yaml", "Path to YAML configuration")
	modelPath := flag.String("model", "", "Model artifact path (overrides engine.model_file)")
	classifyOnly := flag.Bool("classify", false, "Classify URL arguments (or stdin) and exit")
	flag.Parse()

	if v := os.Getenv("URLGUARD_CONFIG"); v != "" {
		*configPath = v
	}

	cfg, err := loadStartupConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "urlguard: %v\n", err)
		os.Exit(1)
	}
	if *modelPath != "" {
		cfg.Engine.ModelFile = *modelPath
	}

	if err := InitLogger(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "urlguard: %v\n", err)
		os.Exit(1)
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		LogFatal("[SYSTEM] %v", err)
	}

	if *classifyOnly || flag.NArg() > 0 {
		flagged, err := runBatch(engine, flag.Args(), os.Stdin, os.Stdout)
		ShutdownLogger()
		if err != nil {
			fmt.Fprintf(os.Stderr, "urlguard: %v\n", err)
			os.Exit(1)
		}
		if flagged > 0 {
			os.Exit(2)
		}
		return
	}

	serve(cfg, engine)
}

// loadStartupConfig reads path, falling back to built-in defaults when the file does not exist.
func loadStartupConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}
	return LoadConfig(path)
}

func buildEngine(cfg *Config) (*Engine, error) {
	opts, err := cfg.OverrideOptions()
	if err != nil {
		return nil, err
	}
	rules, err := NewOverrideEngine(opts)
	if err != nil {
		return nil, err
	}

	engine := NewEngine(cfg.Engine, rules)
	if cfg.Engine.ModelFile != "" {
		// A missing or broken artifact leaves the engine serving override verdicts only.
		_ = engine.LoadModelFile(cfg.Engine.ModelFile)
	} else {
		LogWarn("[MODEL] No model file configured, running heuristics only")
	}
	return engine, nil
}

func serve(cfg *Config, engine *Engine) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := NewResultStore(cfg.Store)
	if err != nil {
		LogFatal("[STORE] %v", err)
	}
	if ms, ok := store.(*MemoryStore); ok {
		go ms.StartPersister(ctx)
	}

	limiter := NewLimiter(cfg.RateLimit)
	go limiter.StartCleanupRoutine(ctx)

	go engine.StartModelWatcher(ctx, cfg.Engine.ModelFile, cfg.Engine.parsedRefresh)

	var tlsConfig *tls.Config
	if cfg.Server.TLS.CertFile != "" && cfg.Server.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
		if err != nil {
			LogFatal("[SYSTEM] Failed to load TLS certificate: %v", err)
		}
		tlsConfig = &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
	}

	api := NewAPIServer(engine, store, limiter, cfg)

	var wg sync.WaitGroup
	servers := startServers(&wg, cfg, api.Handler(), tlsConfig)
	LogInfo("[SYSTEM] urlguard ready (%d listeners, Model: %s)", len(servers), engine.State().Phase)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	LogInfo("[SYSTEM] Received %v, shutting down (timeout: %v)", sig, shutdownTimeout)
	cancel()
	shutdownServers(servers, shutdownTimeout)
	wg.Wait()

	if err := store.Close(); err != nil {
		LogWarn("[STORE] Close: %v", err)
	}
	LogInfo("[SYSTEM] Shutdown complete")
	ShutdownLogger()
}
