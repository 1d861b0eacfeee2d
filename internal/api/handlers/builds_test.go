package handlers

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	apierrors "github.com/narvanalabs/conflux-builder/internal/api/errors"
	"github.com/narvanalabs/conflux-builder/internal/events"
	"github.com/narvanalabs/conflux-builder/internal/integrations/github"
	"github.com/narvanalabs/conflux-builder/internal/models"
	"github.com/narvanalabs/conflux-builder/internal/orchestrator"
	"github.com/narvanalabs/conflux-builder/internal/validation"
)

func buildRouter(h *BuildHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/builds", h.Submit)
	r.Get("/v1/builds/{buildID}", h.Get)
	r.Get("/v1/builds/{buildID}/status", h.Status)
	r.Post("/v1/builds/{buildID}/retry", h.Retry)
	r.Get("/v1/builds/{buildID}/events", h.Events)
	r.Get("/v1/builds/{buildID}/watch", h.Watch)
	return r
}

func decodeAPIError(t *testing.T, rr *httptest.ResponseRecorder) apierrors.APIError {
	t.Helper()
	var body apierrors.APIError
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	return body
}

func TestSubmitStatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		outcome orchestrator.Outcome
		status  models.BuildStatus
		want    int
	}{
		{"created", orchestrator.OutcomeCreated, models.BuildStatusPending, http.StatusAccepted},
		{"retried", orchestrator.OutcomeRetried, models.BuildStatusPending, http.StatusAccepted},
		{"available", orchestrator.OutcomeAvailable, models.BuildStatusCompleted, http.StatusOK},
		{"in progress", orchestrator.OutcomeAlreadyInProgress, models.BuildStatusInProgress, http.StatusOK},
		{"completed", orchestrator.OutcomeAlreadyCompleted, models.BuildStatusCompleted, http.StatusOK},
		{"dispatch failed", orchestrator.OutcomeDispatchFailed, models.BuildStatusFailed, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builds := newFakeBuilds()
			builds.submitRes = &orchestrator.Result{
				Build:   testRecord("b1", tt.status),
				Outcome: tt.outcome,
				Message: "msg",
			}
			h := NewBuildHandler(builds, nil, discardLogger())

			body := `{"version_tag":"v2.4.0","os":"linux","arch":"x86_64","static_openssl":false}`
			rr := httptest.NewRecorder()
			buildRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/builds", strings.NewReader(body)))

			if rr.Code != tt.want {
				t.Fatalf("status = %d, want %d", rr.Code, tt.want)
			}
			var resp SubmitResponse
			if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
				t.Fatal(err)
			}
			if resp.BuildID != "b1" || resp.Outcome != tt.outcome || resp.Status != tt.status {
				t.Errorf("response = %+v", resp)
			}

			if len(builds.submitted) != 1 {
				t.Fatalf("submitted %d requests", len(builds.submitted))
			}
			got := builds.submitted[0]
			if got.VersionTag != "v2.4.0" || got.StaticOpenssl == nil || *got.StaticOpenssl {
				t.Errorf("request = %+v", got)
			}
			if got.CompatibilityMode != nil {
				t.Error("omitted flag should stay nil")
			}
		})
	}
}

func TestSubmitRejectsMalformedBodies(t *testing.T) {
	bodies := map[string]string{
		"not json":      `{`,
		"unknown field": `{"version_tag":"v1","os":"linux","arch":"x86_64","color":"red"}`,
		"wrong type":    `{"version_tag":"v1","os":"linux","arch":"x86_64","static_openssl":"yes"}`,
	}
	for name, body := range bodies {
		t.Run(name, func(t *testing.T) {
			builds := newFakeBuilds()
			h := NewBuildHandler(builds, nil, discardLogger())

			rr := httptest.NewRecorder()
			buildRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/builds", strings.NewReader(body)))

			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rr.Code)
			}
			if len(builds.submitted) != 0 {
				t.Error("malformed body reached the service")
			}
		})
	}
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantAPI  string
	}{
		{
			name:     "validation",
			err:      validation.ValidationErrors{{Field: "os", Message: "os must be one of linux, windows, macos"}},
			wantCode: http.StatusBadRequest,
			wantAPI:  apierrors.CodeValidationError,
		},
		{"unknown tag", fmt.Errorf("tag v9: %w", orchestrator.ErrNotFound), http.StatusNotFound, apierrors.CodeNotFound},
		{"github failure", &github.APIError{StatusCode: 500, Message: "boom"}, http.StatusBadGateway, apierrors.CodeUpstreamError},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, apierrors.CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			builds := newFakeBuilds()
			builds.submitErr = tt.err
			h := NewBuildHandler(builds, nil, discardLogger())

			body := `{"version_tag":"v2.4.0","os":"linux","arch":"x86_64"}`
			rr := httptest.NewRecorder()
			buildRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/builds", strings.NewReader(body)))

			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rr.Code, tt.wantCode)
			}
			apiErr := decodeAPIError(t, rr)
			if apiErr.Code != tt.wantAPI {
				t.Errorf("code = %s, want %s", apiErr.Code, tt.wantAPI)
			}
			if tt.wantCode == http.StatusInternalServerError && strings.Contains(apiErr.Message, "disk on fire") {
				t.Error("internal error leaked to the client")
			}
		})
	}
}

func TestGetAndStatus(t *testing.T) {
	builds := newFakeBuilds()
	rec := testRecord("b1", models.BuildStatusInProgress)
	rec.ExternalJobID = "4242"
	builds.put(rec)
	router := buildRouter(NewBuildHandler(builds, nil, discardLogger()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/builds/b1", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}
	var got models.BuildRecord
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.ID != "b1" || got.VersionTag != "v2.4.0" || got.ExternalJobID != "4242" {
		t.Errorf("record = %+v", got)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/builds/b1/status", nil))
	var status StatusResponse
	if err := json.NewDecoder(rr.Body).Decode(&status); err != nil {
		t.Fatal(err)
	}
	if status.Status != models.BuildStatusInProgress || status.ExternalJobID != "4242" {
		t.Errorf("status = %+v", status)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/builds/missing", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("missing build status = %d", rr.Code)
	}
}

func TestRetryConflict(t *testing.T) {
	builds := newFakeBuilds()
	builds.retryErr = orchestrator.ErrNotRetryable
	router := buildRouter(NewBuildHandler(builds, nil, discardLogger()))

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/builds/b1/retry", nil))
	if rr.Code != http.StatusConflict {
		t.Fatalf("status = %d", rr.Code)
	}
	if code := decodeAPIError(t, rr).Code; code != apierrors.CodeConflict {
		t.Errorf("code = %s", code)
	}
}

func TestEventsStreamsUntilFinal(t *testing.T) {
	builds := newFakeBuilds()
	builds.put(testRecord("b1", models.BuildStatusPending))
	broker := events.NewBroker(discardLogger())
	srv := httptest.NewServer(buildRouter(NewBuildHandler(builds, broker, discardLogger())))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/v1/builds/b1/events")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	first := readSSE(t, reader)
	if first.Status != models.BuildStatusPending {
		t.Fatalf("first event = %+v", first)
	}

	done := testRecord("b1", models.BuildStatusCompleted)
	done.DownloadURL = "https://example.com/conflux.tar.gz"
	broker.Publish(events.FromRecord(done, "release published"))

	second := readSSE(t, reader)
	if second.Status != models.BuildStatusCompleted || second.DownloadURL != done.DownloadURL {
		t.Fatalf("second event = %+v", second)
	}

	// The server ends the stream after a final state.
	if _, err := reader.ReadString('\n'); err == nil {
		t.Error("stream still open after final event")
	}
}

func TestEventsForFinishedBuild(t *testing.T) {
	builds := newFakeBuilds()
	builds.put(testRecord("b1", models.BuildStatusFailed))
	h := NewBuildHandler(builds, nil, discardLogger())

	rr := httptest.NewRecorder()
	buildRouter(h).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/builds/b1/events", nil))

	if !strings.Contains(rr.Body.String(), `"status":"failed"`) {
		t.Errorf("body = %q", rr.Body.String())
	}
	if h.broker.SubscriberCount() != 0 {
		t.Error("subscription leaked")
	}
}

func readSSE(t *testing.T, r *bufio.Reader) events.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev events.Event
		if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &ev); err != nil {
			t.Fatalf("decoding event: %v", err)
		}
		if ev.BuildID == "" {
			continue
		}
		return ev
	}
	t.Fatal("no event received")
	return events.Event{}
}

func TestWatchClosesAfterFinal(t *testing.T) {
	builds := newFakeBuilds()
	builds.put(testRecord("b1", models.BuildStatusInProgress))
	broker := events.NewBroker(discardLogger())
	srv := httptest.NewServer(buildRouter(NewBuildHandler(builds, broker, discardLogger())))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/builds/b1/watch"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var ev events.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Status != models.BuildStatusInProgress {
		t.Fatalf("first event = %+v", ev)
	}

	broker.Publish(events.FromRecord(testRecord("b1", models.BuildStatusFailed), "run failed"))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev.Status != models.BuildStatusFailed || ev.Reason != "run failed" {
		t.Fatalf("second event = %+v", ev)
	}

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
}
