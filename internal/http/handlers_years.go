package http

import (
	"fmt"
	"net/http"

	"fieldservice/internal/export"
	applog "fieldservice/internal/log"
)

func (s *Server) handleYearReport(w http.ResponseWriter, r *http.Request) {
	year, err := pathInt(r, "year")
	if err != nil {
		s.writeError(w, r, "year_report", err)
		return
	}
	report, err := s.ledger.YearReport(r.Context(), year)
	if err != nil {
		s.writeError(w, r, "year_report", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleYearExport renders the same figures as handleYearReport as a workbook.
func (s *Server) handleYearExport(w http.ResponseWriter, r *http.Request) {
	year, err := pathInt(r, "year")
	if err != nil {
		s.writeError(w, r, applog.OpExport, err)
		return
	}
	report, err := s.ledger.YearReport(r.Context(), year)
	if err != nil {
		s.writeError(w, r, applog.OpExport, err)
		return
	}
	buf, err := export.YearWorkbook(report)
	if err != nil {
		s.writeError(w, r, applog.OpExport, err)
		return
	}
	writeWorkbook(w, fmt.Sprintf("service-year-%d.xlsx", year), buf.Bytes())
}

func (s *Server) handleAddYearEvent(w http.ResponseWriter, r *http.Request) {
	year, err := pathInt(r, "year")
	if err != nil {
		s.writeError(w, r, "year_event", err)
		return
	}
	var req yearEventRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, "year_event", err)
		return
	}
	event, err := req.toCore()
	if err != nil {
		s.writeError(w, r, "year_event", err)
		return
	}
	y, err := s.ledger.AddYearEvent(r.Context(), year, event)
	if err != nil {
		s.writeError(w, r, "year_event", err)
		return
	}
	s.logger.InfoContext(r.Context(), "Year event recorded",
		"service_year", year,
		"event", event.Type)
	writeJSON(w, http.StatusCreated, y)
}
