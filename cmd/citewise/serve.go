package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"citewise/internal/api"
	"citewise/internal/db"
	"citewise/internal/decks"
	"citewise/internal/extraction"
	"citewise/internal/services"
)

const (
	jobRetention  = time.Hour
	pruneInterval = 10 * time.Minute
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	RunE:  runServe,
}

var servePort string

func init() {
	serveCmd.Flags().StringVarP(&servePort, "port", "p", "", "Port to listen on (overrides PORT)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.cfg.EnsureDirs(); err != nil {
		return err
	}
	conn, err := db.Open(a.cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobs := extraction.NewJobManager(jobRetention)
	go jobs.RunPruner(ctx, pruneInterval, func(removed int) {
		a.log.Debug("pruned extraction jobs", zap.Int("removed", removed))
	})

	server := api.NewServer(api.Deps{
		Quiz:       services.NewQuizService(a.llm, a.flight, a.log),
		Flashcards: services.NewFlashcardService(a.llm, a.flight, a.log),
		MindMaps:   services.NewMindMapService(a.llm, a.flight, a.log),
		Summaries:  services.NewSummaryService(a.llm, a.flight, a.log),
		Resume:     services.NewResumeService(a.llm, a.flight, a.log),
		Tests:      services.NewTestSessionStore(),
		Streams:    services.NewStreamRegistry(),
		Extraction: extraction.NewService(jobs, a.cfg.UploadDir, a.log, extractionOptions(a)...),
		Decks:      decks.NewStore(conn, a.log),
	}, a.log)

	port := a.cfg.Port
	if servePort != "" {
		port = servePort
	}
	// Generation and streamed summaries can run for minutes.
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      server.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: a.cfg.LLMTimeout + time.Minute,
	}

	errc := make(chan error, 1)
	go func() {
		a.log.Info("listening", zap.String("addr", srv.Addr), zap.Strings("models", a.llm.Models()))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func extractionOptions(a *app) []extraction.ServiceOption {
	if a.ocr == nil {
		return nil
	}
	a.log.Info("scanned PDF OCR enabled", zap.Strings("models", a.cfg.OCRModels))
	return []extraction.ServiceOption{extraction.WithOCR(a.ocr)}
}
