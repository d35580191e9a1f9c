package main

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/cufe-tracker/internal/scanning"
	"github.com/zombor/cufe-tracker/internal/session"
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

	fs := ff.NewFlagSet("cufe-tracker")
	var (
		port         = fs.IntLong("port", 8080, "HTTP server port")
		dbPath       = fs.StringLong("db", "cufe-tracker.db", "Database file path")
		storagePath  = fs.StringLong("storage", "./documents", "Storage directory path")
		decoderType  = fs.StringLong("decoder", "local", "QR decoder: 'local' or 'remote'")
		decoderURL   = fs.StringLong("decoder-url", "", "Base URL of the remote processing service")
		ocrType      = fs.StringLong("ocr", "tesseract", "OCR engine: 'tesseract', 'gemini', 'ollama' or 'remote'")
		ocrLang      = fs.StringLong("ocr-lang", scanning.DefaultLanguage, "Default OCR language, e.g. spa or spa+eng")
		geminiKey    = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel  = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL    = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel  = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, qwen2-vl)")
		maxFiles     = fs.IntLong("max-files", session.DefaultMaxFiles, "Maximum files per upload batch")
		batchTimeout = fs.DurationLong("batch-timeout", session.DefaultBatchTimeout, "Deadline for a decode or OCR batch")
		authUser     = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass     = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion  = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("CUFE_TRACKER"),
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

	// Initialize database
	slog.Info("Initializing database...")
	db, err := session.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// The remote client serves as decoder and OCR engine when either asks for it
	var remote *scanning.Remote
	remoteClient := func() *scanning.Remote {
		if remote == nil {
			slog.Info("Initializing remote processing client...", "url", *decoderURL)
			remote, err = scanning.NewRemote(*decoderURL, *batchTimeout)
			if err != nil {
				slog.Error("Failed to initialize remote client", "error", err)
				os.Exit(1)
			}
		}
		return remote
	}

	var decoder scanning.Decoder
	switch *decoderType {
	case "local":
		slog.Info("Initializing local QR decoder...")
		decoder = scanning.NewQRDecoder()
	case "remote":
		decoder = remoteClient()
	default:
		slog.Error("Invalid decoder type", "type", *decoderType, "valid", "local or remote")
		os.Exit(1)
	}
	defer decoder.Close()

	var transcriber scanning.Transcriber
	switch *ocrType {
	case "tesseract":
		slog.Info("Initializing Tesseract OCR...", "lang", *ocrLang)
		transcriber = scanning.NewTesseract()
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
		slog.Info("Initializing Gemini OCR...", "model", *geminiModel)
		transcriber, err = scanning.NewGemini(apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
	case "ollama":
		slog.Info("Initializing Ollama OCR...", "url", *ollamaURL, "model", *ollamaModel)
		transcriber, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
	case "remote":
		transcriber = remoteClient()
	default:
		slog.Error("Invalid OCR type", "type", *ocrType, "valid", "tesseract, gemini, ollama or remote")
		os.Exit(1)
	}
	defer transcriber.Close()

	// Initialize storage
	slog.Info("Initializing storage...")
	store, err := session.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	// Initialize service
	sessionService := session.NewService(db, store, decoder, transcriber, session.Config{
		MaxFiles:     *maxFiles,
		BatchTimeout: *batchTimeout,
		Language:     *ocrLang,
	})

	// Initialize server
	basicAuth := session.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := session.NewServer(sessionService, basicAuth)

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr))
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
}
