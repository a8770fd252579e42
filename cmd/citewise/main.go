// Package main is the citewise command: the HTTP API server plus one-shot
// generation commands for the terminal.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"citewise/internal/config"
	"citewise/internal/extraction"
	"citewise/internal/gateway"
	"citewise/internal/logger"
	"citewise/internal/ocr"
	"citewise/internal/services"
)

var rootCmd = &cobra.Command{
	Use:           "citewise",
	Short:         "AI study tools: quizzes, flashcards, mind maps, summaries and career reports",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds the configuration and services shared by every command.
type app struct {
	cfg    config.Config
	log    *zap.Logger
	llm    *gateway.Client
	flight *services.Flight
	// ocr is nil unless OCR models are configured.
	ocr extraction.PageReader
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.Initialize(cfg.LogLevel, cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	llm := gateway.New(gateway.Config{
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		Models:        cfg.Models,
		MaxRetries:    cfg.MaxRetries,
		BackoffBase:   cfg.BackoffBase,
		BackoffFactor: cfg.BackoffScale,
		Timeout:       cfg.LLMTimeout,
		Referer:       cfg.Referer,
		Title:         cfg.AppTitle,
	}, log)

	a := &app{cfg: cfg, log: log, llm: llm, flight: &services.Flight{}}
	if len(cfg.OCRModels) > 0 {
		vision := gateway.New(gateway.Config{
			APIKey:        cfg.APIKey,
			BaseURL:       cfg.BaseURL,
			Models:        cfg.OCRModels,
			MaxRetries:    cfg.MaxRetries,
			BackoffBase:   cfg.BackoffBase,
			BackoffFactor: cfg.BackoffScale,
			Timeout:       cfg.LLMTimeout,
			Referer:       cfg.Referer,
			Title:         cfg.AppTitle,
		}, log.Named("vision"))
		a.ocr = ocr.NewReader(ocr.Ghostscript{Binary: cfg.Ghostscript}, vision, cfg.OCRMaxPages, log)
	}
	return a, nil
}

func (a *app) close() {
	_ = logger.Sync()
}

// readSource returns the text of a PDF or plain-text file. An empty path
// yields no text.
func (a *app) readSource(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	text, err := extraction.Extractor{OCR: a.ocr}.ExtractFileContext(ctx, path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return text, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

// writeOutput creates path and hands it to render.
func writeOutput(path string, render func(w io.Writer) error) error {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := render(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

func extOf(path string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
}
