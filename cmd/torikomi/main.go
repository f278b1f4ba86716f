// Package main is the torikomi CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/okigami/torikomi/internal/cli"
	"github.com/okigami/torikomi/internal/config"
	"github.com/okigami/torikomi/internal/embedding"
	"github.com/okigami/torikomi/internal/models"
	"github.com/okigami/torikomi/internal/pipeline"
	"github.com/okigami/torikomi/internal/server"
	"github.com/okigami/torikomi/internal/storage"
	"github.com/okigami/torikomi/internal/vector"
	"github.com/okigami/torikomi/internal/watcher"
	"github.com/okigami/torikomi/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/torikomi/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "upload":
		runUpload()
	case "jobs":
		runJobs()
	case "search":
		runSearch()
	case "delete":
		runDelete()
	case "stats":
		runStats()
	case "version", "--version", "-v":
		fmt.Printf("torikomi version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	pipe := components.Pipeline
	watchOpts := []watcher.Option{}
	if debugMode {
		watchOpts = append(watchOpts, watcher.WithLogger(logger))
	}
	watchSvc := watcher.NewWatcher(
		cfg.Watch.Directories,
		cfg.Watch.Extensions,
		func(path string) {
			data, err := os.ReadFile(path)
			if err != nil {
				logger.Warn("watch read file failed", zap.String("path", path), zap.Error(err))
				return
			}
			if _, _, err := pipe.Submit(context.Background(), filepath.Base(path), data); err != nil {
				logger.Warn("watch submit failed", zap.String("path", path), zap.Error(err))
			}
		},
		watchOpts...,
	)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if len(cfg.Watch.Directories) > 0 {
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		watchSvc.SyncExistingFiles()
	}

	srv := server.NewServer(
		components.Pipeline,
		components.Storage,
		components.Embedder,
		components.Index,
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	watchSvc.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	components.Pipeline.Close()
}

func runUpload() {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: torikomi upload [flags] <file>")
		os.Exit(1)
	}
	path := fs.Arg(0)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read file: %v\n", err)
		os.Exit(1)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}
	if _, err := fw.Write(data); err != nil {
		fmt.Fprintf(os.Stderr, "Upload failed: %v\n", err)
		os.Exit(1)
	}
	_ = mw.Close()

	resp, err := http.Post(*serverURL+"/api/v1/imports", mw.FormDataContentType(), &buf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Upload failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		Job       *models.Job `json:"job"`
		Duplicate bool        `json:"duplicate"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	if out.Duplicate {
		fmt.Printf("Already imported as job %s (status: %s)\n", out.Job.ID, out.Job.Status)
		return
	}
	fmt.Printf("Accepted as job %s\n", out.Job.ID)
}

func runJobs() {
	fs := flag.NewFlagSet("jobs", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/imports")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "List failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		Jobs []*models.JobSummary `json:"jobs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cli.WriteJobs(os.Stdout, out.Jobs, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runSearch() {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	limit := fs.Int("limit", 10, "number of results")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: torikomi search [flags] <query>")
		os.Exit(1)
	}
	query := fs.Arg(0)

	body, _ := json.Marshal(map[string]interface{}{"query": query, "limit": *limit})
	resp, err := http.Post(*serverURL+"/api/v1/records/search", "application/json", bytes.NewReader(body))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Search failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		Results []cli.SearchHit `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteSearchHits(os.Stdout, out.Results, cli.OutputText); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: torikomi delete [flags] <job-id>")
		os.Exit(1)
	}
	jobID := fs.Arg(0)

	req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/imports/"+jobID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Delete failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	fmt.Printf("Deleted job %s\n", jobID)
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/stats")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Stats failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var view cli.StatsView
	if err := json.NewDecoder(resp.Body).Decode(&view); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}

	format, err := cli.ParseFormat(*outputFormat)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cli.WriteStats(os.Stdout, &view, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Storage  storage.Storage
	Embedder *embedding.BestEffort
	Index    vector.Index
	Pipeline *pipeline.Pipeline
	raw      embedding.Embedder
}

func (c *Components) Close() {
	if c.raw != nil {
		_ = c.raw.Close()
	}
	if c.Storage != nil {
		_ = c.Storage.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := storage.NewSQLiteStorage(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var raw embedding.Embedder
	var bestEffort *embedding.BestEffort
	var index vector.Index
	if cfg.Embedding.Enabled {
		switch cfg.Embedding.Provider {
		case "onnx":
			onnxEmbedder, onnxErr := embedding.NewONNXEmbedder(
				cfg.Embedding.ModelPath,
				cfg.Embedding.Dimensions,
				cfg.Embedding.MaxTokens,
			)
			if onnxErr != nil {
				logger.Warn("ONNX embedder unavailable, falling back to mock", zap.Error(onnxErr))
				raw = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
			} else {
				raw = onnxEmbedder
			}
		default:
			raw = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
		}
		cache := embedding.NewCache(cfg.Embedding.CacheSize)
		bestEffort = embedding.NewBestEffort(raw, cache, cfg.Embedding.Timeout(), logger)

		memIndex, idxErr := vector.NewMemoryIndex(raw.Dimensions())
		if idxErr != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize vector index: %w", idxErr)
		}
		if err := rebuildIndex(store, memIndex, logger); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to rebuild vector index: %w", err)
		}
		index = memIndex
	}

	pipe, err := pipeline.NewPipeline(store, bestEffort, index, cfg.Pipeline, logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	return &Components{
		Storage:  store,
		Embedder: bestEffort,
		Index:    index,
		Pipeline: pipe,
		raw:      raw,
	}, nil
}

// rebuildIndex reloads stored embeddings into the in-memory index at startup.
// Vectors whose dimensions no longer match the configured model are skipped.
func rebuildIndex(store storage.Storage, index vector.Index, logger *zap.Logger) error {
	ctx := context.Background()
	loaded, skipped := 0, 0
	err := store.WalkEmbeddings(ctx, func(recordID string, vec []float32) error {
		if addErr := index.Add(ctx, []string{recordID}, [][]float32{vec}); addErr != nil {
			skipped++
			return nil
		}
		loaded++
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info("vector index rebuilt", zap.Int("loaded", loaded), zap.Int("skipped", skipped))
	return nil
}

func printUsage() {
	fmt.Println(`torikomi - Bulk record import service

Usage:
  torikomi server [flags]           Start the HTTP server
  torikomi upload [flags] <file>    Upload a CSV/JSON/XLSX file for import
  torikomi jobs [flags]             List import jobs
  torikomi search [flags] <query>   Semantic search over imported records
  torikomi delete [flags] <job-id>  Delete an import job and its records
  torikomi stats [flags]            Show aggregate import statistics
  torikomi version                  Show version
  torikomi help                     Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/torikomi/config.yaml)
  --debug            Enable debug logging

Client Flags (upload, jobs, search, delete, stats):
  --server string    Server URL (default: http://localhost:8080)
  --output string    Output format for jobs/stats: text or json (default: text)
  --limit int        Number of search results (default: 10)

Examples:
  torikomi server
  torikomi upload users.csv
  torikomi jobs
  torikomi search "alice"
  torikomi delete 7f6c1b9e-...
  torikomi stats --output json`)
}
