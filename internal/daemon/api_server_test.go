package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meetsync/internal/api"
	"meetsync/internal/config"
	"meetsync/internal/ledger"
	"meetsync/internal/services"
	"meetsync/internal/testsupport"
)

func newTestAPI(t *testing.T, token string) (*testsupport.Stack, http.Handler) {
	t.Helper()
	stack := testsupport.NewStack(t)
	stack.Config.Paths.APIToken = token
	d, err := New(stack.Config, stack.Store, stack.Scheduler, stack.Control, stack.Metrics, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return stack, d.api.server.Handler
}

func doRequest(t *testing.T, h http.Handler, method, path, body, token string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAPIRequiresBearerToken(t *testing.T) {
	_, h := newTestAPI(t, "s3cret")

	if w := doRequest(t, h, http.MethodGet, "/api/status", "", ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := doRequest(t, h, http.MethodGet, "/api/status", "", "wrong"); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	w := doRequest(t, h, http.MethodGet, "/api/status", "", "s3cret")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var status api.DaemonStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(status.Sources) != 2 || status.Sources[0].Source != config.SourceCache {
		t.Fatalf("unexpected sources %+v", status.Sources)
	}
	if status.LedgerBackend != config.LedgerSQLite {
		t.Fatalf("ledgerBackend = %q", status.LedgerBackend)
	}
}

func TestAPISourceActions(t *testing.T) {
	_, h := newTestAPI(t, "")

	w := doRequest(t, h, http.MethodPost, "/api/sources/bridge/interval", `{"minutes":45}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("interval: %d %s", w.Code, w.Body.String())
	}
	var status api.SourceStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status.PollIntervalMinutes != 45 {
		t.Fatalf("pollIntervalMinutes = %d", status.PollIntervalMinutes)
	}

	if w := doRequest(t, h, http.MethodPost, "/api/sources/bridge/interval", `{"minutes":0}`, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for zero interval, got %d", w.Code)
	}
	if w := doRequest(t, h, http.MethodPost, "/api/sources/bridge/interval", "", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing body, got %d", w.Code)
	}
	if w := doRequest(t, h, http.MethodPost, "/api/sources/zoom/enable", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown source, got %d", w.Code)
	}

	w = doRequest(t, h, http.MethodPost, "/api/sources/cache/enable", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("enable: %d %s", w.Code, w.Body.String())
	}
	var enabled api.EnableResult
	if err := json.Unmarshal(w.Body.Bytes(), &enabled); err != nil {
		t.Fatal(err)
	}
	if !enabled.Status.Enabled || enabled.Backfill == nil {
		t.Fatalf("expected enabled source with first-enable backfill, got %+v", enabled)
	}

	w = doRequest(t, h, http.MethodPost, "/api/sources/cache/backfill", `{"days":3}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("backfill: %d %s", w.Code, w.Body.String())
	}
	w = doRequest(t, h, http.MethodPost, "/api/sources/cache/test", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("test: %d %s", w.Code, w.Body.String())
	}
	var result api.ConnectionTest
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatal(err)
	}
	if !result.OK {
		t.Fatalf("expected fake adapter check to pass, got %+v", result)
	}
}

func TestAPIRecordRoutes(t *testing.T) {
	stack, h := newTestAPI(t, "")
	rec := testsupport.NewRecord(t, stack.Store, "m1", config.SourceCache, time.Now())
	rec.State = ledger.StatePolling
	rec.ExternalRecordingID = "rec-1"
	if err := stack.Store.Transition(context.Background(), rec, ledger.StatePending); err != nil {
		t.Fatal(err)
	}
	rec.State = ledger.StateAbandoned
	if err := stack.Store.Transition(context.Background(), rec, ledger.StatePolling); err != nil {
		t.Fatal(err)
	}

	w := doRequest(t, h, http.MethodGet, "/api/records?source=cache&state=abandoned", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("records: %d %s", w.Code, w.Body.String())
	}
	var list api.RecordListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Items) != 1 || list.Items[0].ID != rec.ID {
		t.Fatalf("unexpected items %+v", list.Items)
	}

	if w := doRequest(t, h, http.MethodGet, "/api/records?state=ripping", "", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad state, got %d", w.Code)
	}
	if w := doRequest(t, h, http.MethodGet, "/api/records/nope", "", ""); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	w = doRequest(t, h, http.MethodPost, "/api/records/"+rec.ID+"/retry", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("retry: %d %s", w.Code, w.Body.String())
	}
	var retried api.RecordResponse
	if err := json.Unmarshal(w.Body.Bytes(), &retried); err != nil {
		t.Fatal(err)
	}
	if retried.Item.State != string(ledger.StatePending) {
		t.Fatalf("state = %q", retried.Item.State)
	}

	w = doRequest(t, h, http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{ledger.ErrUnknownSource, http.StatusNotFound},
		{ledger.ErrNotFound, http.StatusNotFound},
		{services.Wrap(services.ErrValidation, "control", "x", "bad", nil), http.StatusBadRequest},
		{ledger.ErrInvalidTransition, http.StatusConflict},
		{services.Wrap(services.ErrConfiguration, "control", "x", "missing", nil), http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Fatalf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
