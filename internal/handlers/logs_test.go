package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gridmeter"
	"gridmeter/internal/service"
)

func TestGetLogs_FiltersAndNormalization(t *testing.T) {
	cases := []struct {
		name     string
		query    string
		wantCode int
		wantFrom time.Time
		wantTo   time.Time
		wantType string
	}{
		{
			name:     "no filters",
			query:    "",
			wantCode: http.StatusOK,
		},
		{
			name:     "rfc3339 range",
			query:    "?from=2025-08-01T00:00:00Z&to=2025-08-02T12:30:00Z",
			wantCode: http.StatusOK,
			wantFrom: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
			wantTo:   time.Date(2025, 8, 2, 12, 30, 0, 0, time.UTC),
		},
		{
			name:     "date-only to becomes end of day",
			query:    "?to=2025-08-02",
			wantCode: http.StatusOK,
			wantTo:   time.Date(2025, 8, 2, 23, 59, 59, 999999999, time.UTC),
		},
		{
			name:     "type lowercased in query",
			query:    "?type=safety_alert",
			wantCode: http.StatusOK,
			wantType: "SAFETY_ALERT",
		},
		{
			name:     "invalid from",
			query:    "?from=yesterday",
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "from after to",
			query:    "?from=2025-08-03&to=2025-08-01",
			wantCode: http.StatusBadRequest,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			auth := &mockAuth{parseID: 7}
			logs := &mockEventLog{resp: []gridmeter.MeterEvent{{Type: gridmeter.EventSafetyAlert}}}
			s := &service.Service{Authorization: auth, EventLog: logs}
			r := newTestRouter(s)

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/api/v1/logs/"+tc.query, nil)
			req.Header = authHeader("tok")
			r.ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Fatalf("status: got %d, want %d (body=%s)", w.Code, tc.wantCode, w.Body.String())
			}
			if tc.wantCode != http.StatusOK {
				return
			}

			if !tc.wantFrom.IsZero() && !logs.lastFrom.Equal(tc.wantFrom) {
				t.Fatalf("from: got %v, want %v", logs.lastFrom, tc.wantFrom)
			}
			if !tc.wantTo.IsZero() && !logs.lastTo.Equal(tc.wantTo) {
				t.Fatalf("to: got %v, want %v", logs.lastTo, tc.wantTo)
			}
			if tc.wantType != "" && logs.lastType != tc.wantType {
				t.Fatalf("type: got %q, want %q", logs.lastType, tc.wantType)
			}

			var out struct {
				Count int `json:"count"`
			}
			if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if out.Count != 1 {
				t.Fatalf("count: got %d, want 1", out.Count)
			}
		})
	}
}
