package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/spend-tracker/internal/category"
	"github.com/zombor/spend-tracker/internal/expense"
	"github.com/zombor/spend-tracker/internal/intake"
	"github.com/zombor/spend-tracker/internal/pipeline"
	"github.com/zombor/spend-tracker/internal/receipt"
	"github.com/zombor/spend-tracker/internal/scanning"
	"github.com/zombor/spend-tracker/internal/scratch"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

// expenseStore is a Store that can also keep raw scanner responses
type expenseStore interface {
	expense.Store
	expense.RawCache
}

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env file is fine; flags and the environment still apply
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to load .env file", "error", err)
	}

	fs := ff.NewFlagSet("spend-tracker")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		storeType      = fs.StringLong("store", "bolt", "Expense store: 'bolt' or 'mongo'")
		dbPath         = fs.StringLong("db", "spend-tracker.db", "Database file path (bolt store)")
		mongoURI       = fs.StringLong("mongo-uri", "mongodb://localhost:27017", "MongoDB connection URI (mongo store)")
		mongoDB        = fs.StringLong("mongo-db", "spend_tracker", "MongoDB database name (mongo store)")
		storagePath    = fs.StringLong("storage", "./receipts", "Receipt image storage directory")
		scannerType    = fs.StringLong("scanner", "gemini", "Primary scanner: 'gemini' or 'ollama'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		textReaders    = fs.StringLong("text-reader", "tesseract", "Comma-separated local text readers in order: tesseract, ollama, none")
		tesseractBin   = fs.StringLong("tesseract-bin", "tesseract", "Tesseract executable")
		tesseractLang  = fs.StringLong("tesseract-lang", "eng", "Tesseract language")
		categoriesPath = fs.StringLong("categories", "", "YAML file with extra category keywords and aliases (optional)")
		primaryTimeout = fs.DurationLong("primary-timeout", scanning.DefaultRemoteTimeout, "Deadline for the primary scanner")
		scanTimeout    = fs.DurationLong("scan-timeout", pipeline.DefaultScanTimeout, "Deadline for one scan attempt")
		retryBackoff   = fs.DurationLong("retry-backoff", pipeline.DefaultRetryBackoff, "Wait between scan attempts")
		maxAttempts    = fs.IntLong("max-attempts", pipeline.DefaultMaxAttempts, "Scan attempts before recording basic information only")
		scratchDir     = fs.StringLong("scratch-dir", "", "Directory for temporary OCR files (default: system temp)")
		sweepInterval  = fs.DurationLong("sweep-interval", 5*time.Minute, "How often leftover temporary files are swept")
		sweepMaxAge    = fs.DurationLong("sweep-max-age", 15*time.Minute, "Age at which leftover temporary files are removed")
		defaultOwner   = fs.StringLong("default-owner", "", "Owner for expenses when basic auth is disabled")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel       = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SPEND_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	logger := slog.Default()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize taxonomy
	taxonomy := category.Default()
	if *categoriesPath != "" {
		var err error
		taxonomy, err = category.LoadTaxonomy(*categoriesPath)
		if err != nil {
			slog.Error("Failed to load categories", "path", *categoriesPath, "error", err)
			os.Exit(1)
		}
		slog.Info("Loaded category overlay", "path", *categoriesPath, "keywords", len(taxonomy.Keywords()))
	}

	// Initialize database
	slog.Info("Initializing database...", "store", *storeType)
	var db expenseStore
	switch *storeType {
	case "bolt":
		bolt, err := expense.NewBoltDB(*dbPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		db = bolt
	case "mongo":
		mongo, err := expense.NewMongoStore(ctx, *mongoURI, *mongoDB)
		if err != nil {
			slog.Error("Failed to connect to MongoDB", "error", err)
			os.Exit(1)
		}
		db = mongo
	default:
		slog.Error("Invalid store type", "type", *storeType, "valid", "bolt or mongo")
		os.Exit(1)
	}
	defer db.Close()

	// Scratch files for the local OCR pass
	tracker, err := scratch.NewTracker(*scratchDir, logger)
	if err != nil {
		slog.Error("Failed to initialize scratch directory", "error", err)
		os.Exit(1)
	}

	// Initialize scanner based on type
	var scanner scanning.Scanner
	var ollama *scanning.Ollama
	newOllama := func() (*scanning.Ollama, error) {
		if ollama != nil {
			return ollama, nil
		}
		slog.Info("Initializing Ollama...", "url", *ollamaURL, "model", *ollamaModel)
		o, err := scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			return nil, err
		}
		ollama = o
		return o, nil
	}

	switch *scannerType {
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini scanner...", "model", *geminiModel)
		scanner, err = scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		scanner, err = newOllama()
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	default:
		slog.Error("Invalid scanner type", "type", *scannerType, "valid", "gemini or ollama")
		os.Exit(1)
	}
	defer scanner.Close()

	// Local text readers for the heuristic fallback, in order
	var readers []scanning.TextReader
	for _, name := range strings.Split(*textReaders, ",") {
		switch strings.TrimSpace(name) {
		case "tesseract":
			readers = append(readers, scanning.NewTesseract(*tesseractBin, *tesseractLang, tracker, logger))
		case "ollama":
			o, err := newOllama()
			if err != nil {
				slog.Error("Failed to initialize Ollama", "error", err)
				os.Exit(1)
			}
			readers = append(readers, o)
		case "none", "":
		default:
			slog.Error("Invalid text reader", "reader", name, "valid", "tesseract, ollama or none")
			os.Exit(1)
		}
	}
	if len(readers) == 0 {
		slog.Warn("No local text reader configured; receipts the primary scanner cannot read will get basic information only")
	}

	coordinator := scanning.NewCoordinator(logger,
		scanning.NewRemoteStrategy(scanner, *primaryTimeout, db, logger),
		scanning.NewHeuristicStrategy(scanning.NewParser(taxonomy, nil), readers, logger),
	)
	slog.Info("Extraction strategies", "order", coordinator.Strategies())

	controller := pipeline.NewController(
		coordinator,
		expense.NewNormalizer(taxonomy, nil),
		db,
		intake.NewRegistry(),
		pipeline.Config{
			MaxAttempts:  *maxAttempts,
			RetryBackoff: *retryBackoff,
			ScanTimeout:  *scanTimeout,
		},
		logger,
	)

	// Initialize storage
	slog.Info("Initializing storage...")
	storage, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	receiptService := receipt.NewService(db, controller, storage)

	basicAuth := receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := receipt.NewServer(receiptService, basicAuth, *defaultOwner)

	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	} else if *defaultOwner == "" {
		slog.Warn("Basic auth disabled and no --default-owner set; automatic saving will be refused")
	}

	addr := fmt.Sprintf(":%d", *port)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gCtx, addr)
	})
	if *sweepInterval > 0 {
		g.Go(func() error {
			return tracker.Run(gCtx, *sweepInterval, *sweepMaxAge)
		})
	} else {
		slog.Warn("Scratch sweeping disabled", "interval", *sweepInterval)
	}

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutting down...")
}
