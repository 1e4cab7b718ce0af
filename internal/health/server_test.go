package health

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/john/chatguard/internal/bootstrap"
	_ "github.com/john/chatguard/internal/metrics"
)

type fixedStatus bootstrap.Status

func (f fixedStatus) Status() bootstrap.Status { return bootstrap.Status(f) }

type readiness bool

func (r readiness) Ready(context.Context) bool { return bool(r) }

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealth(t *testing.T) {
	rec := get(t, Router(nil, nil), "/health")
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("GET /health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	pages := []Reporter{
		fixedStatus{Page: "relay", State: "activated", Attempts: 3, Active: []string{"hangman"}},
		fixedStatus{Page: "browser", State: "gave_up", Attempts: 20},
	}
	rec := get(t, Router(pages, readiness(true)), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d", rec.Code)
	}

	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.ClassifierReady {
		t.Error("classifier should be ready")
	}
	if len(resp.Pages) != 2 || resp.Pages[0].Page != "relay" || resp.Pages[1].Attempts != 20 {
		t.Errorf("pages = %+v", resp.Pages)
	}
	if len(resp.Pages[0].Active) != 1 || resp.Pages[0].Active[0] != "hangman" {
		t.Errorf("active = %v", resp.Pages[0].Active)
	}
}

func TestStatusClassifierDown(t *testing.T) {
	rec := get(t, Router(nil, readiness(false)), "/status")
	var resp StatusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.ClassifierReady || resp.Pages == nil {
		t.Errorf("resp = %+v", resp)
	}
}

func TestMetrics(t *testing.T) {
	srv := httptest.NewServer(Router(nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "chatguard_classify_duration_seconds") {
		t.Errorf("metrics missing pipeline histogram")
	}
}
