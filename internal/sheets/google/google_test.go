package google

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"fieldservice/internal/core"
)

// fakeSheets serves Values.Get for the tabs it knows and the API's
// "Unable to parse range" error for the others.
func fakeSheets(t *testing.T, tabs map[string][][]any, hits *atomic.Int32) *Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, rng, ok := strings.Cut(r.URL.Path, "/values/")
		if !ok {
			http.NotFound(w, r)
			return
		}
		tab, _, _ := strings.Cut(rng, "!")
		tab = strings.Trim(tab, "'")
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		values, ok := tabs[tab]
		if !ok {
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"code": 400, "message": "Unable to parse range: " + rng, "status": "INVALID_ARGUMENT"},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"range": rng, "majorDimension": "ROWS", "values": values})
	}))
	t.Cleanup(srv.Close)

	svc, err := gsheet.NewService(context.Background(),
		goption.WithEndpoint(srv.URL+"/"),
		goption.WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	return newClient(svc, "sheet-id", "")
}

func TestReadMonth(t *testing.T) {
	var hits atomic.Int32
	c := fakeSheets(t, map[string][][]any{
		"2023 september": {
			{"Name", "Type", "In service", "Studies", "Hours"},
			{"Anna Rossi", "", "yes", "1", ""},
			{"Bruno Verdi", "pioneer", "yes", "", "50"},
		},
		"2023 Attendance": {
			{"Month", "Group", "Kind", "W1", "W2"},
			{"september", "", "midweek", "40", "42"},
			{"september", "", "weekend", "60", "62"},
		},
	}, &hits)

	md, err := c.ReadMonth(context.Background(), 2023, 0)
	require.NoError(t, err)
	require.Len(t, md.Reports, 2)
	assert.Equal(t, "Bruno Verdi", md.Reports[1].PublisherName)
	assert.Equal(t, []core.MeetingSeries{{Group: "", Midweek: []int{40, 42}, Weekend: []int{60, 62}}}, md.Meetings)

	// The attendance tab is fetched once per service year.
	october, err := c.ReadMonth(context.Background(), 2023, 1)
	require.NoError(t, err)
	assert.Empty(t, october.Reports)
	assert.Empty(t, october.Meetings)
	assert.Equal(t, int32(3), hits.Load())
}

func TestReadMonthMissingTabs(t *testing.T) {
	c := fakeSheets(t, map[string][][]any{}, nil)

	md, err := c.ReadMonth(context.Background(), 2019, 4)
	require.NoError(t, err)
	assert.Empty(t, md.Reports)
	assert.Empty(t, md.Meetings)
}

func TestReadMonthBadRow(t *testing.T) {
	c := fakeSheets(t, map[string][][]any{
		"2023 september": {
			{"Name", "In service", "Hours"},
			{"Anna Rossi", "perhaps", ""},
		},
	}, nil)

	_, err := c.ReadMonth(context.Background(), 2023, 0)
	require.ErrorIs(t, err, ErrInvalidFlag)
	assert.ErrorContains(t, err, "2023 september")
}

func TestReadMonthInvalidSortOrder(t *testing.T) {
	c := newClient(nil, "sheet-id", "")
	_, err := c.ReadMonth(context.Background(), 2023, 12)
	assert.ErrorIs(t, err, core.ErrInvalidSortOrder)
}
