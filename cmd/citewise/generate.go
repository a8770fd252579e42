package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"citewise/internal/export"
	"citewise/internal/models"
	"citewise/internal/services"
)

// genFlags are shared by quiz, flashcards and mindmap.
type genFlags struct {
	topic      string
	file       string
	difficulty string
	count      int
	out        string
	theme      string
}

func (f *genFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.topic, "topic", "t", "", "Topic to generate from (required)")
	cmd.Flags().StringVarP(&f.file, "file", "f", "", "PDF or text file to use as source material")
	cmd.Flags().StringVarP(&f.difficulty, "difficulty", "d", "", "easy, medium or hard")
	cmd.Flags().IntVarP(&f.count, "count", "n", 0, "Number of items to generate")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "Write an export file instead of JSON to stdout")
	cmd.Flags().StringVar(&f.theme, "theme", "classic", "PDF theme: classic, ocean or forest")
	if err := cmd.MarkFlagRequired("topic"); err != nil {
		panic(fmt.Sprintf("failed to mark topic flag as required: %v", err))
	}
}

func (f *genFlags) request(cmd *cobra.Command, a *app) (models.GenerationRequest, error) {
	source, err := a.readSource(cmd.Context(), f.file)
	if err != nil {
		return models.GenerationRequest{}, err
	}
	return models.GenerationRequest{
		Topic:      f.topic,
		SourceText: source,
		Difficulty: models.Difficulty(f.difficulty),
		Count:      f.count,
	}, nil
}

var (
	quizFlags       genFlags
	quizFormat      string
	quizWithAnswers bool
	flashcardFlags  genFlags
	mindMapFlags    genFlags
)

var quizCmd = &cobra.Command{
	Use:   "quiz",
	Short: "Generate a multiple-choice quiz",
	Long:  "Generates multiple-choice questions. --out writes a PDF (with --answers for the key).",
	RunE:  runQuiz,
}

var flashcardsCmd = &cobra.Command{
	Use:   "flashcards",
	Short: "Generate flashcards",
	Long:  "Generates flashcards. --out writes CSV or PDF depending on the file extension.",
	RunE:  runFlashcards,
}

var mindMapCmd = &cobra.Command{
	Use:   "mindmap",
	Short: "Generate a mind map",
	Long:  "Generates a mind map. --out writes a PNG image.",
	RunE:  runMindMap,
}

func init() {
	quizFlags.register(quizCmd)
	quizCmd.Flags().StringVar(&quizFormat, "format", "lines", "Reply format to request: lines or json")
	quizCmd.Flags().BoolVar(&quizWithAnswers, "answers", false, "Include the answer key in PDF output")
	flashcardFlags.register(flashcardsCmd)
	mindMapFlags.register(mindMapCmd)

	rootCmd.AddCommand(quizCmd, flashcardsCmd, mindMapCmd)
}

func runQuiz(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	req, err := quizFlags.request(cmd, a)
	if err != nil {
		return err
	}
	result, err := services.NewQuizService(a.llm, a.flight, a.log).Generate(cmd.Context(), services.QuizRequest{
		GenerationRequest: req,
		Format:            services.QuizFormat(quizFormat),
	})
	if err != nil {
		return err
	}
	if result.Obtained < result.Requested {
		fmt.Fprintf(os.Stderr, "generated %d of %d requested questions\n", result.Obtained, result.Requested)
	}

	if quizFlags.out == "" {
		return printJSON(cmd.OutOrStdout(), result)
	}
	return writeOutput(quizFlags.out, func(w io.Writer) error {
		return export.WriteQuizPDF(w, quizFlags.topic, result.Questions, export.ThemeByName(quizFlags.theme), quizWithAnswers)
	})
}

func runFlashcards(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	req, err := flashcardFlags.request(cmd, a)
	if err != nil {
		return err
	}
	result, err := services.NewFlashcardService(a.llm, a.flight, a.log).Generate(cmd.Context(), req)
	if err != nil {
		return err
	}

	out := flashcardFlags.out
	switch {
	case out == "":
		return printJSON(cmd.OutOrStdout(), result)
	case extOf(out) == "pdf":
		return writeOutput(out, func(w io.Writer) error {
			return export.WriteFlashcardsPDF(w, flashcardFlags.topic, result.Flashcards, export.ThemeByName(flashcardFlags.theme))
		})
	default:
		return writeOutput(out, func(w io.Writer) error {
			return export.WriteFlashcardsCSV(w, result.Flashcards)
		})
	}
}

func runMindMap(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	req, err := mindMapFlags.request(cmd, a)
	if err != nil {
		return err
	}
	mm, err := services.NewMindMapService(a.llm, a.flight, a.log).Generate(cmd.Context(), req)
	if err != nil {
		return err
	}

	if mindMapFlags.out == "" {
		return printJSON(cmd.OutOrStdout(), mm)
	}
	return writeOutput(mindMapFlags.out, func(w io.Writer) error {
		return export.WriteMindMapPNG(w, mm)
	})
}
