package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"citewise/internal/export"
	"citewise/internal/models"
	"citewise/internal/services"
)

var summarizeCmd = &cobra.Command{
	Use:   "summarize",
	Short: "Summarize a document or lecture transcript",
	Long:  "Summarizes a PDF or text file. --stream prints the summary as it is generated; --out writes a PDF.",
	RunE:  runSummarize,
}

var (
	summarizeFile   string
	summarizeTitle  string
	summarizeKind   string
	summarizeLength string
	summarizeStream bool
	summarizeOut    string
	summarizeTheme  string
)

func init() {
	summarizeCmd.Flags().StringVarP(&summarizeFile, "file", "f", "", "PDF or text file to summarize (required)")
	summarizeCmd.Flags().StringVar(&summarizeTitle, "title", "", "Document or lecture title")
	summarizeCmd.Flags().StringVar(&summarizeKind, "kind", "document", "document or lecture")
	summarizeCmd.Flags().StringVar(&summarizeLength, "length", "medium", "short, medium or detailed")
	summarizeCmd.Flags().BoolVar(&summarizeStream, "stream", false, "Print the summary while it is generated")
	summarizeCmd.Flags().StringVarP(&summarizeOut, "out", "o", "", "Write a PDF instead of printing")
	summarizeCmd.Flags().StringVar(&summarizeTheme, "theme", "classic", "PDF theme: classic, ocean or forest")
	if err := summarizeCmd.MarkFlagRequired("file"); err != nil {
		panic(fmt.Sprintf("failed to mark file flag as required: %v", err))
	}
	rootCmd.AddCommand(summarizeCmd)
}

func runSummarize(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	text, err := a.readSource(cmd.Context(), summarizeFile)
	if err != nil {
		return err
	}
	req := models.SummaryRequest{
		Title:  summarizeTitle,
		Text:   text,
		Kind:   models.SummaryKind(summarizeKind),
		Length: summarizeLength,
	}
	svc := services.NewSummaryService(a.llm, a.flight, a.log)

	var summary string
	if summarizeStream {
		stdout := cmd.OutOrStdout()
		printed := 0
		summary, err = svc.SummarizeStream(cmd.Context(), req, func(accumulated string) {
			fmt.Fprint(stdout, accumulated[printed:])
			printed = len(accumulated)
		})
		fmt.Fprintln(stdout)
		if err != nil {
			if summary == "" {
				return err
			}
			fmt.Fprintf(os.Stderr, "summary interrupted: %v\n", err)
		}
	} else {
		result, err := svc.Summarize(cmd.Context(), req)
		if err != nil {
			return err
		}
		summary = result.Summary
		if summarizeOut == "" {
			fmt.Fprintln(cmd.OutOrStdout(), summary)
		}
	}

	if summarizeOut == "" {
		return nil
	}
	title := strings.TrimSpace(summarizeTitle)
	if title == "" {
		title = "Summary"
	}
	return writeOutput(summarizeOut, func(w io.Writer) error {
		return export.WriteSummaryPDF(w, title, summary, export.ThemeByName(summarizeTheme))
	})
}
