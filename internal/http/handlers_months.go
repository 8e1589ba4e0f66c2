package http

import (
	"fmt"
	"net/http"

	"fieldservice/internal/core"
	"fieldservice/internal/export"
	applog "fieldservice/internal/log"
	"fieldservice/internal/ports"
)

func (s *Server) handleOpenMonth(w http.ResponseWriter, r *http.Request) {
	var req openMonthRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, applog.OpOpen, err)
		return
	}
	year, sortOrder, err := req.period()
	if err != nil {
		s.writeError(w, r, applog.OpOpen, err)
		return
	}
	m, err := s.ledger.OpenMonth(r.Context(), year, sortOrder)
	if err != nil {
		s.writeError(w, r, applog.OpOpen, err)
		return
	}
	w.Header().Set("Location", "/api/months/"+m.ID)
	writeJSON(w, http.StatusCreated, m)
}

func (s *Server) handleActiveMonth(w http.ResponseWriter, r *http.Request) {
	m, ok, err := s.ledger.ActiveMonth(r.Context())
	if err != nil {
		s.writeError(w, r, "active_month", err)
		return
	}
	if !ok {
		s.writeError(w, r, "active_month", fmt.Errorf("active service month: %w", ports.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleGetMonth(w http.ResponseWriter, r *http.Request) {
	m, err := s.ledger.GetMonth(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, "get_month", err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *Server) handleOverview(w http.ResponseWriter, r *http.Request) {
	o, err := s.ledger.Overview(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, "overview", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// handlePreview recomputes the overview from the ledger as it is now, even
// for a closed month.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	o, err := s.ledger.Preview(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, "preview", err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleUpsertReport(w http.ResponseWriter, r *http.Request) {
	var req reportRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, applog.OpUpsert, err)
		return
	}
	monthID := r.PathValue("id")
	report, err := s.ledger.UpsertReport(r.Context(), monthID, req.toCore(r.PathValue("publisherID")))
	if err != nil {
		s.writeError(w, r, applog.OpUpsert, err)
		return
	}
	s.events.LogReportUpserted(r.Context(), monthID, report.Identifier, report.PublisherID)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSetMeetingSeries(w http.ResponseWriter, r *http.Request) {
	var req meetingSeriesRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, "set_meetings", err)
		return
	}
	series := core.MeetingSeries{Group: pathGroup(r), Midweek: req.Midweek, Weekend: req.Weekend}
	if series.Midweek == nil {
		series.Midweek = []int{}
	}
	if series.Weekend == nil {
		series.Weekend = []int{}
	}
	if err := s.ledger.SetMeetingSeries(r.Context(), r.PathValue("id"), series); err != nil {
		s.writeError(w, r, "set_meetings", err)
		return
	}
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleSetMeetingCell(w http.ResponseWriter, r *http.Request) {
	index, err := pathInt(r, "index")
	if err != nil {
		s.writeError(w, r, "set_meeting_cell", err)
		return
	}
	var req meetingCellRequest
	if err := s.decode(w, r, &req); err != nil {
		s.writeError(w, r, "set_meeting_cell", err)
		return
	}
	monthID, group := r.PathValue("id"), pathGroup(r)
	kind := core.MeetingKind(r.PathValue("kind"))
	if err := s.ledger.SetMeetingCell(r.Context(), monthID, group, kind, index, *req.Value); err != nil {
		s.writeError(w, r, "set_meeting_cell", err)
		return
	}
	m, err := s.ledger.GetMonth(r.Context(), monthID)
	if err != nil {
		s.writeError(w, r, "set_meeting_cell", err)
		return
	}
	series, _ := m.MeetingSeries(group)
	writeJSON(w, http.StatusOK, series)
}

func (s *Server) handleCloseMonth(w http.ResponseWriter, r *http.Request) {
	o, err := s.ledger.CloseMonth(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, applog.OpClose, err)
		return
	}
	s.events.LogMonthClosed(r.Context(), o.MonthID, o.ServiceYear, o.SortOrder, o.Stats.MissingReports)
	writeJSON(w, http.StatusOK, o)
}

func (s *Server) handleMonthExport(w http.ResponseWriter, r *http.Request) {
	m, err := s.ledger.GetMonth(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, applog.OpExport, err)
		return
	}
	buf, err := export.MonthWorkbook(m)
	if err != nil {
		s.writeError(w, r, applog.OpExport, err)
		return
	}
	writeWorkbook(w, export.Filename(m), buf.Bytes())
}
