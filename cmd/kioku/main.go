// Package main is the Kioku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/diagnostics"
	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/memory"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/vector"
	"github.com/hyperjump/kioku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/kioku/config.yaml"

// loadConfig loads config from path. When path is the default, it first
// looks for config.yaml in the current directory (for development) and uses
// that if it exists. Returns the config and the path actually loaded.
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
	case "store":
		runStore()
	case "recall":
		runRecall()
	case "list":
		runList()
	case "delete":
		runDelete()
	case "stats":
		runStats()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
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

	srv := server.NewServer(components.Service, components.Tracker, &cfg.Server, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
	// Shutdown ordering: HTTP first, then detached tasks and the embed
	// queue, and only then the store handle.
	components.Close()
}

// Components holds initialized services.
type Components struct {
	Store   vector.Store
	Service *memory.Service
	Tracker *diagnostics.Tracker
}

// Close releases components in dependency order.
func (c *Components) Close() {
	if c.Service != nil {
		c.Service.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*Components, error) {
	store, err := vector.NewSQLiteStore(cfg.Storage.DatabasePath, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	var direct embedding.DirectEmbedder
	client, err := embedding.NewClient(
		cfg.Embedding.BaseURL,
		cfg.Embedding.Model,
		cfg.Embedding.Dimensions,
		cfg.Embedding.Timeout(),
		logger,
	)
	if err != nil {
		logger.Warn("embedding client unavailable, falling back to mock", zap.Error(err))
		direct = embedding.NewMockEmbedder(cfg.Embedding.Dimensions)
	} else {
		direct = client
	}
	queue := embedding.NewQueue(direct, cfg.Embedding.Cooldown(), cfg.Embedding.CacheSize, logger)

	service := memory.NewService(store, queue, &cfg.Memory, logger)
	tracker := diagnostics.NewTracker(cfg.Diagnostics.ReportInterval, store, logger)

	return &Components{
		Store:   store,
		Service: service,
		Tracker: tracker,
	}, nil
}

func runStore() {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	memType := fs.String("type", models.TypePattern, "memory type")
	memContext := fs.String("context", "", "optional context text")
	project := fs.String("project", "", "project path")
	confidence := fs.Float64("confidence", models.DefaultConfidence, "confidence in [0,1]")
	tags := fs.String("tags", "", "comma-separated tags")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku store [flags] <content>")
		os.Exit(1)
	}
	content := strings.TrimSpace(strings.Join(fs.Args(), " "))

	req := models.StoreRequest{
		Type:        *memType,
		Content:     content,
		Context:     *memContext,
		ProjectPath: *project,
		Confidence:  confidence,
	}
	if *tags != "" {
		req.Tags = strings.Split(*tags, ",")
	}

	var resp models.StoreResponse
	if err := postJSON(*serverURL+"/api/v1/memories", req, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Store failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(resp)
}

func runRecall() {
	fs := flag.NewFlagSet("recall", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	limit := fs.Int("limit", 0, "maximum results (0 = server default)")
	minSim := fs.Float64("min-similarity", -1, "minimum similarity (negative = server default)")
	project := fs.String("project", "", "project path filter")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku recall [flags] <query>")
		os.Exit(1)
	}
	query := strings.TrimSpace(strings.Join(fs.Args(), " "))

	req := models.RecallRequest{
		Query:       query,
		MaxResults:  *limit,
		ProjectPath: *project,
	}
	if *minSim >= 0 {
		req.MinSimilarity = minSim
	}

	var resp models.RecallResponse
	if err := postJSON(*serverURL+"/api/v1/recall", req, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Recall failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(resp)
}

func runList() {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	memType := fs.String("type", "", "filter by memory type")
	limit := fs.Int("limit", 20, "page size")
	offset := fs.Int("offset", 0, "page offset")
	_ = fs.Parse(os.Args[2:])

	u := fmt.Sprintf("%s/api/v1/memories?limit=%d&offset=%d", *serverURL, *limit, *offset)
	if *memType != "" {
		u += "&type=" + url.QueryEscape(*memType)
	}
	var resp models.ListResponse
	if err := getJSON(u, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "List failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(resp)
}

func runDelete() {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: kioku delete [flags] <memory-id>")
		os.Exit(1)
	}
	id := fs.Arg(0)

	req, _ := http.NewRequest(http.MethodDelete, *serverURL+"/api/v1/memories/"+url.PathEscape(id), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Delete failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Delete failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out models.DeleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(out)
}

func runStats() {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	var resp models.StatsResponse
	if err := getJSON(*serverURL+"/api/v1/stats", &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Stats failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(resp)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	var resp models.HealthResponse
	if err := getJSON(*serverURL+"/health", &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(resp)
}

func postJSON(u string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := http.Post(u, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func getJSON(u string, out interface{}) error {
	resp, err := http.Get(u)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

func printUsage() {
	fmt.Println(`kioku - Local semantic memory store

Usage:
  kioku server [flags]              Start the HTTP server
  kioku store [flags] <content>     Store a memory
  kioku recall [flags] <query>      Recall similar memories
  kioku list [flags]                List memories (newest first)
  kioku delete [flags] <id>         Delete a memory
  kioku stats [flags]               Show corpus statistics
  kioku status [flags]              Show service health
  kioku version                     Show version
  kioku help                        Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/kioku/config.yaml)
  --debug            Enable debug logging

Common Flags:
  --server string    Server URL (default: http://localhost:8080)

Examples:
  kioku server
  kioku store --type GOTCHA "sqlite VACUUM cannot run inside a transaction"
  kioku recall "sqlite locking"
  kioku list --type GOTCHA --limit 10
  kioku delete 6f1c9b4e-...
  kioku stats`)
}
