package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"citewise/internal/apperr"
	"citewise/internal/export"
	"citewise/internal/models"
)

func (s *Server) handleResumeAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var req models.ResumeRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, err)
		return
	}

	log := s.log.With(zap.String("target_role", req.TargetRole))
	report, err := s.Resume.Analyze(r.Context(), req, func(stage string, current, total int) {
		log.Info("resume pipeline", zap.String("stage", stage), zap.Int("current", current), zap.Int("total", total))
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleResumeExport renders a career report posted back by the client.
// ?format=txt|pdf, ?theme= applies to pdf.
func (s *Server) handleResumeExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}
	var report models.CareerReport
	if err := decodeJSON(r, &report); err != nil {
		s.fail(w, err)
		return
	}
	if strings.TrimSpace(report.Analysis.Summary) == "" && report.TailoredResume == "" {
		s.fail(w, apperr.UserInput("report is empty"))
		return
	}

	var err error
	switch format := strings.ToLower(r.URL.Query().Get("format")); format {
	case "", "txt":
		attachment(w, "text/plain; charset=utf-8", "career-report.txt")
		err = export.WriteCareerReport(w, &report)
	case "pdf":
		attachment(w, "application/pdf", "career-report.pdf")
		err = export.WriteCareerReportPDF(w, &report, export.ThemeByName(r.URL.Query().Get("theme")))
	default:
		s.fail(w, apperr.UserInput("format must be txt or pdf"))
		return
	}
	if err != nil {
		s.log.Error("write career report", zap.Error(err))
	}
}
