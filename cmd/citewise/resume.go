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

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Analyze a resume and build a career report",
	Long: "Runs the career pipeline: analysis, tailored resume, project suggestions and interview questions. " +
		"--out writes the report as .txt or .pdf.",
	RunE: runResume,
}

var (
	resumeFile    string
	resumeRole    string
	resumeJobFile string
	resumeOut     string
	resumeTheme   string
)

func init() {
	resumeCmd.Flags().StringVarP(&resumeFile, "file", "f", "", "Resume as PDF or text (required)")
	resumeCmd.Flags().StringVarP(&resumeRole, "role", "r", "", "Target role")
	resumeCmd.Flags().StringVarP(&resumeJobFile, "job", "j", "", "Job description file")
	resumeCmd.Flags().StringVarP(&resumeOut, "out", "o", "", "Write the report to a .txt or .pdf file")
	resumeCmd.Flags().StringVar(&resumeTheme, "theme", "classic", "PDF theme: classic, ocean or forest")
	if err := resumeCmd.MarkFlagRequired("file"); err != nil {
		panic(fmt.Sprintf("failed to mark file flag as required: %v", err))
	}
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, _ []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.close()

	resumeText, err := a.readSource(cmd.Context(), resumeFile)
	if err != nil {
		return err
	}
	jobText, err := a.readSource(cmd.Context(), resumeJobFile)
	if err != nil {
		return err
	}

	report, err := services.NewResumeService(a.llm, a.flight, a.log).Analyze(cmd.Context(), models.ResumeRequest{
		ResumeText:     resumeText,
		TargetRole:     resumeRole,
		JobDescription: jobText,
	}, func(stage string, current, total int) {
		fmt.Fprintf(os.Stderr, "[%d/%d] %s\n", current, total, stage)
	})
	if err != nil {
		return err
	}

	switch {
	case resumeOut == "":
		return printJSON(cmd.OutOrStdout(), report)
	case extOf(resumeOut) == "pdf":
		return writeOutput(resumeOut, func(w io.Writer) error {
			return export.WriteCareerReportPDF(w, report, export.ThemeByName(resumeTheme))
		})
	default:
		return writeOutput(resumeOut, func(w io.Writer) error {
			return export.WriteCareerReport(w, report)
		})
	}
}
