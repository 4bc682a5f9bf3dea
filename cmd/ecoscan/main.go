package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/pilah-ai/ecoscan/internal/classify"
	"github.com/pilah-ai/ecoscan/internal/ecoscan"
	"github.com/pilah-ai/ecoscan/internal/ledger"
	"github.com/pilah-ai/ecoscan/internal/metrics"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("ecoscan")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		dbPath         = fs.StringLong("db", "ecoscan.db", "Database file path")
		inMemory       = fs.BoolLong("memory", "Keep the ledger in memory only (nothing survives a restart)")
		imagesPath     = fs.StringLong("images", "", "Directory to archive scanned photos in (disabled if empty)")
		classifierType = fs.StringLong("classifier", "remote", "Classifier: 'remote', 'gemini', 'ollama' or 'demo'")
		predictURL     = fs.StringLong("predict-url", "http://localhost:5000", "Base URL of the remote /predict API")
		predictScale   = fs.StringLong("predict-scale", "percent", "Confidence scale of the remote API: 'percent' or 'fraction'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		rewardsPath    = fs.StringLong("rewards", "", "YAML reward catalog (optional)")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		enableMetrics  = fs.BoolLong("metrics", "Serve Prometheus metrics on /metrics")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("ECOSCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize ledger storage
	var store ledger.Store
	if *inMemory {
		slog.Warn("Using in-memory ledger; data will be lost on exit")
		store = ledger.NewMemoryStore()
	} else {
		slog.Info("Initializing database...", "path", *dbPath)
		db, err := ledger.NewBoltStore(*dbPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		store = db
	}
	defer store.Close()

	l, err := ledger.New(store)
	if err != nil {
		slog.Error("Failed to initialize ledger", "error", err)
		os.Exit(1)
	}

	// Initialize classifier based on type
	var classifier classify.Classifier
	switch *classifierType {
	case "remote":
		scale, err := classify.ParseScale(*predictScale)
		if err != nil {
			slog.Error("Invalid predict scale", "scale", *predictScale, "error", err)
			os.Exit(1)
		}
		slog.Info("Initializing remote classifier...", "url", *predictURL, "scale", scale)
		classifier, err = classify.NewRemote(*predictURL, scale)
		if err != nil {
			slog.Error("Failed to initialize remote classifier", "error", err)
			os.Exit(1)
		}
	case "gemini":
		// Get Gemini API key from flag or environment
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini classifier...", "model", *geminiModel)
		classifier, err = classify.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama classifier...", "url", *ollamaURL, "model", *ollamaModel)
		classifier, err = classify.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	case "demo":
		slog.Warn("Using demo classifier; every photo is reported as plastic")
		classifier = classify.NewDemo()
	default:
		slog.Error("Invalid classifier type", "type", *classifierType, "valid", "remote, gemini, ollama or demo")
		os.Exit(1)
	}
	defer classifier.Close()

	deps := ecoscan.Deps{
		Ledger:     l,
		Classifier: classifier,
	}

	// Initialize image archive
	if *imagesPath != "" {
		slog.Info("Initializing image archive...", "path", *imagesPath)
		images, err := ecoscan.NewLocalStorage(*imagesPath)
		if err != nil {
			slog.Error("Failed to initialize image archive", "error", err)
			os.Exit(1)
		}
		deps.Images = images
	}

	if *rewardsPath != "" {
		rewards, err := ecoscan.LoadRewards(*rewardsPath)
		if err != nil {
			slog.Error("Failed to load rewards", "path", *rewardsPath, "error", err)
			os.Exit(1)
		}
		slog.Info("Loaded reward catalog", "rewards", len(rewards.List()))
		deps.Rewards = rewards
	}

	var opts []ecoscan.Option
	if *enableMetrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		deps.Metrics = metrics.NewLedger(reg)
		opts = append(opts, ecoscan.WithMetrics(deps.Metrics.Handler()))
	}

	service, err := ecoscan.NewService(deps)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}

	basicAuth := ecoscan.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := ecoscan.NewServer(service, basicAuth, opts...)

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", *port)
	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if err := server.Run(ctx, addr); err != nil {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutting down...")
}
