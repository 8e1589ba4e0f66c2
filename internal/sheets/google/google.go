package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"fieldservice/internal/core"
	"fieldservice/internal/ports"
)

const readTimeout = 30 * time.Second

// Client reads legacy service-year workbooks. Each service month lives in a
// tab named "<serviceYear> <month>" (e.g. "2023 september"); meeting
// attendance for the whole year lives in one "<serviceYear> Attendance" tab.
type Client struct {
	svc             *gsheet.Service
	spreadsheetID   string
	attendanceSheet string

	flight     singleflight.Group
	mu         sync.Mutex
	attendance map[int][][]any
}

var _ ports.ReportSource = (*Client)(nil)

// Options configures New. CredentialsJSON wins over CredentialsFile.
type Options struct {
	SpreadsheetID   string
	CredentialsJSON string
	CredentialsFile string
	AttendanceSheet string
}

// New creates a read-only Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	spreadsheetID := strings.TrimSpace(opts.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	svc, err := newSheetsService(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return newClient(svc, spreadsheetID, opts.AttendanceSheet), nil
}

func newClient(svc *gsheet.Service, spreadsheetID, attendanceSheet string) *Client {
	if strings.TrimSpace(attendanceSheet) == "" {
		attendanceSheet = "Attendance"
	}
	return &Client{
		svc:             svc,
		spreadsheetID:   spreadsheetID,
		attendanceSheet: attendanceSheet,
		attendance:      make(map[int][][]any),
	}
}

// newSheetsService initializes a Sheets Service using Service Account credentials.
func newSheetsService(ctx context.Context, opts Options) (*gsheet.Service, error) {
	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		slog.InfoContext(ctx, "Using inline JSON credentials")
		credentialsJSON = []byte(opts.CredentialsJSON)
	case strings.TrimSpace(opts.CredentialsFile) != "":
		slog.InfoContext(ctx, "Reading credentials from file", "path", opts.CredentialsFile)
		b, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsReadonlyScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

// ReadMonth reads the reports and attendance of one legacy service month.
// A month whose tab does not exist yields empty MonthData.
func (c *Client) ReadMonth(ctx context.Context, serviceYear, sortOrder int) (ports.MonthData, error) {
	token := core.MonthToken(sortOrder)
	if token == "" {
		return ports.MonthData{}, fmt.Errorf("%w: %d", core.ErrInvalidSortOrder, sortOrder)
	}

	sheetName := yearPrefixedName(token, serviceYear)
	rows, err := c.readRange(ctx, sheetName, "A1:H400")
	if err != nil {
		return ports.MonthData{}, err
	}
	reports, err := parseReports(rows, serviceYear, sortOrder)
	if err != nil {
		return ports.MonthData{}, fmt.Errorf("%s: %w", sheetName, err)
	}

	attendance, err := c.attendanceRows(ctx, serviceYear)
	if err != nil {
		return ports.MonthData{}, err
	}
	meetings, err := parseAttendance(attendance, sortOrder)
	if err != nil {
		return ports.MonthData{}, fmt.Errorf("%s: %w", yearPrefixedName(c.attendanceSheet, serviceYear), err)
	}

	slog.DebugContext(ctx, "Legacy month read",
		"sheet", sheetName,
		"reports", len(reports),
		"groups", len(meetings))
	return ports.MonthData{Reports: reports, Meetings: meetings}, nil
}

// attendanceRows fetches the attendance tab once per service year, however
// many months ask for it concurrently.
func (c *Client) attendanceRows(ctx context.Context, serviceYear int) ([][]any, error) {
	c.mu.Lock()
	rows, ok := c.attendance[serviceYear]
	c.mu.Unlock()
	if ok {
		return rows, nil
	}

	v, err, _ := c.flight.Do(strconv.Itoa(serviceYear), func() (any, error) {
		rows, err := c.readRange(ctx, yearPrefixedName(c.attendanceSheet, serviceYear), "A1:J200")
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.attendance[serviceYear] = rows
		c.mu.Unlock()
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([][]any), nil
}

func (c *Client) readRange(ctx context.Context, sheetName, cells string) ([][]any, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	ctx, cancel := context.WithTimeout(ctx, readTimeout)
	defer cancel()

	rng := fmt.Sprintf("'%s'!%s", sheetName, cells)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		if isMissingSheet(err) {
			slog.DebugContext(ctx, "Sheet not found, treating as empty", "sheet", sheetName)
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	return resp.Values, nil
}

// isMissingSheet reports whether the API rejected the range because the tab
// does not exist.
func isMissingSheet(err error) bool {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return false
	}
	return gerr.Code == http.StatusBadRequest && strings.Contains(gerr.Message, "Unable to parse range")
}

func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		out[i] = strings.TrimSpace(fmt.Sprint(v))
	}
	return out
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return i
		}
	}
	return -1
}

func safeGet(arr []string, idx int) string {
	if idx < 0 || idx >= len(arr) {
		return ""
	}
	return arr[idx]
}
