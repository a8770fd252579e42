package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"citewise/internal/extraction"
)

var extractCmd = &cobra.Command{
	Use:   "extract <file>",
	Short: "Extract text from a PDF or text file",
	Long: "Prints the text of a document. With --server the file is uploaded to a running citewise " +
		"server and the job is polled until it finishes.",
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

var extractServer string

func init() {
	extractCmd.Flags().StringVar(&extractServer, "server", "", "Base URL of a citewise server, e.g. http://localhost:8080")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	path := args[0]
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	if extractServer == "" {
		text, err := a.readSource(cmd.Context(), path)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), text)
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	client := extraction.NewClient(extractServer, a.cfg.PollInterval, a.cfg.PollMaxAttempts, a.log)
	text, err := client.Extract(cmd.Context(), filepath.Base(path), f)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), text)
	return nil
}
