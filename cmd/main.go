package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"document-qa/internal/app"
	"document-qa/internal/config"
	"document-qa/internal/helper"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"
	"document-qa/internal/session"
	"document-qa/internal/web"
)

const configFilePath = "./configs/config.yaml"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "document-qa",
		Short:         "Ask questions about a document and get answers with cited sources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", configFilePath, "Config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web application",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}

	var (
		filePath      string
		query         string
		apiKey        string
		provider      string
		showAllChunks bool
		jsonOutput    bool
	)
	askCmd := &cobra.Command{
		Use:   "ask",
		Short: "Answer one question about a local document",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ask(cmd.Context(), configPath, provider, apiKey, filePath, query, showAllChunks, jsonOutput)
		},
	}
	askCmd.Flags().StringVar(&filePath, "file", "", "Path to a pdf, docx or txt file")
	askCmd.Flags().StringVar(&query, "query", "", "Question to be answered")
	askCmd.Flags().StringVar(&apiKey, "api-key", os.Getenv("OPENAI_API_KEY"), "OpenAI API key (defaults to $OPENAI_API_KEY)")
	askCmd.Flags().StringVar(&provider, "provider", "", "Override the configured provider (openai or mock)")
	askCmd.Flags().BoolVar(&showAllChunks, "show-all-chunks", false, "Print every retrieved chunk instead of only the cited ones")
	askCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
	_ = askCmd.MarkFlagRequired("file")
	_ = askCmd.MarkFlagRequired("query")

	rootCmd.AddCommand(serveCmd, askCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func setupLogger(cfg *config.AppConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.PrettyLog {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	setupLogger(&cfg.App)
	return cfg, nil
}

func serve(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx := context.Background()
	store, err := session.NewStore(ctx, &cfg.Session)
	if err != nil {
		return fmt.Errorf("init session store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn().Err(err).Msg("Failed to close session store")
		}
	}()

	factory, err := llmservice.NewFactory(&cfg.LLM)
	if err != nil {
		return err
	}

	svc := app.NewQAService(cfg, store, factory)
	server := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           web.NewRouter(cfg, svc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("provider", cfg.LLM.Provider).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

type askResult struct {
	Question string         `json:"question"`
	Answer   string         `json:"answer"`
	Sources  []models.Chunk `json:"sources"`
}

func ask(ctx context.Context, configPath, provider, apiKey, filePath, query string, showAllChunks, jsonOutput bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if provider != "" {
		cfg.LLM.Provider = provider
	}
	if ctx == nil {
		ctx = context.Background()
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return err
	}

	factory, err := llmservice.NewFactory(&cfg.LLM)
	if err != nil {
		return err
	}
	store := session.NewMemoryStore(time.Duration(cfg.Session.TTLMinutes) * time.Minute)
	svc := app.NewQAService(cfg, store, factory)
	sid := session.NewID()

	if _, err := svc.SetAPIKey(ctx, sid, apiKey); err != nil {
		return err
	}
	if _, err := svc.Upload(ctx, sid, filepath.Base(filePath), data); err != nil {
		return err
	}
	snap, err := svc.Ask(ctx, sid, query, app.AskOptions{ShowAllChunks: showAllChunks})
	if err != nil {
		return err
	}

	result := askResult{
		Question: snap.Answer.Query,
		Answer:   snap.Answer.Text,
		Sources:  snap.DisplayedSources(),
	}
	if jsonOutput {
		helper.PrettyPrint(os.Stdout, result)
		return nil
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", result.Question)

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", result.Answer)

	log.Info().Msg("Sources: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	if len(result.Sources) == 0 {
		fmt.Println("No sources cited.")
	}
	for _, src := range result.Sources {
		fmt.Printf("[%s]\n%s\n\n", src.Source, src.Content)
	}
	return nil
}
