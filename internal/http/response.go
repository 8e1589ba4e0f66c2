package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/go-playground/validator/v10"

	"fieldservice/internal/core"
	"fieldservice/internal/export"
	applog "fieldservice/internal/log"
	"fieldservice/internal/middleware/trace"
	"fieldservice/internal/ports"
	"fieldservice/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type errorBody struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

var (
	notFoundErrors = []error{
		ports.ErrNotFound,
		services.ErrUnknownPublisher,
	}
	conflictErrors = []error{
		core.ErrAlreadyClosed,
		core.ErrLedgerClosed,
		core.ErrDuplicatePublisher,
		core.ErrIdentifierTaken,
		core.ErrMonthOutOfOrder,
		core.ErrServiceYearFull,
		services.ErrActiveLedgerExists,
		ports.ErrMonthExists,
		export.ErrNotClosed,
	}
	// Ledger contents that cannot be combined at preview or close time.
	unprocessableErrors = []error{
		core.ErrInconsistentSeriesLength,
	}
	badRequestErrors = []error{
		errBadRequest,
		core.ErrInvalidReportState,
		core.ErrInvalidStatus,
		core.ErrInvalidReportType,
		core.ErrInvalidSortOrder,
		core.ErrMonthTokenMismatch,
		core.ErrEmptyIdentifier,
		core.ErrEmptyPublisher,
		core.ErrEmptyName,
		core.ErrNegativeCount,
		core.ErrMissingHours,
		core.ErrPeriodMismatch,
		core.ErrNegativeAttendance,
		core.ErrInvalidMeetingKind,
		core.ErrMeetingIndex,
		core.ErrInvalidHistoryType,
		core.ErrEventOutsideYear,
	}
)

func matchesAny(err error, targets []error) bool {
	return slices.ContainsFunc(targets, func(target error) bool {
		return errors.Is(err, target)
	})
}

// statusFor maps a service error to its HTTP status.
func statusFor(err error) int {
	var ve validator.ValidationErrors
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case matchesAny(err, notFoundErrors):
		return http.StatusNotFound
	case matchesAny(err, conflictErrors):
		return http.StatusConflict
	case matchesAny(err, unprocessableErrors):
		return http.StatusUnprocessableEntity
	case matchesAny(err, badRequestErrors):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func codeFor(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusRequestEntityTooLarge:
		return "too_large"
	case http.StatusUnprocessableEntity:
		return "unprocessable"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	return "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError answers with the status mapped from err. Server errors are
// logged and their detail is kept out of the response.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	status := statusFor(err)
	body := errorBody{Error: err.Error(), Code: codeFor(status)}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		body.Error = "validation failed"
		body.Fields = make(map[string]string, len(ve))
		for _, fe := range ve {
			body.Fields[fe.Field()] = fe.Tag()
		}
	}
	if status >= http.StatusInternalServerError {
		s.events.LogError(r.Context(), "Request failed", err, applog.ComponentHTTP, op,
			applog.NewFields().WithRequestID(trace.GetRequestID(r.Context())))
		body.Error = "internal error"
	}
	writeJSON(w, status, body)
}

func (s *Server) writeRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.clientIP.ClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error: "rate limit exceeded, retry later",
		Code:  codeFor(http.StatusTooManyRequests),
	})
}

func writeWorkbook(w http.ResponseWriter, filename string, data []byte) {
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
