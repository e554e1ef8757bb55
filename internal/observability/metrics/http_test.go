package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestInstrumentRecordsRequests(t *testing.T) {
	handler := Instrument("probe", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, "/probe", nil))
	if recorder.Code != http.StatusCreated {
		t.Fatalf("unexpected status: %d", recorder.Code)
	}

	exposition := httptest.NewRecorder()
	Handler().ServeHTTP(exposition, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := exposition.Body.String()
	if !strings.Contains(body, `agentmesh_http_requests_total{handler="probe",method="POST",code="201"} 1`) {
		t.Fatalf("request counter missing from exposition:\n%s", body)
	}
	if !strings.Contains(body, `agentmesh_http_request_duration_seconds_count{handler="probe",method="POST"} 1`) {
		t.Fatalf("latency histogram missing from exposition:\n%s", body)
	}
}

func TestServerErrorsAreCounted(t *testing.T) {
	ObserveHTTPRequest("broken", http.MethodGet, http.StatusInternalServerError, 10*time.Millisecond)

	exposition := httptest.NewRecorder()
	Handler().ServeHTTP(exposition, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := exposition.Body.String()
	if !strings.Contains(body, `agentmesh_http_request_errors_total{handler="broken",method="GET"} 1`) {
		t.Fatalf("error counter missing from exposition:\n%s", body)
	}
}
