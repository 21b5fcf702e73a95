package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"hushd/internal/bundle"
	"hushd/internal/dispatch"
	"hushd/internal/dnd"
	"hushd/internal/filter"
	"hushd/internal/notification"
	"hushd/internal/pipeline"
	"hushd/internal/queue"
	"hushd/pkg/logx"
)

type dropSink struct{}

func (dropSink) Name() string { return "drop" }

func (dropSink) Deliver(context.Context, dispatch.Delivery) error { return nil }

func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	disp := dispatch.New(dispatch.Config{Enabled: true, Workers: 1, RatePerSec: 1000}, dropSink{}, logx.Nop(), nil, nil)
	disp.Start(context.Background())
	t.Cleanup(func() { disp.Stop(context.Background()) })

	q := queue.New(queue.Config{}, logx.Nop())
	b := bundle.New(bundle.Config{}, logx.Nop())
	d := dnd.New(dnd.Config{}, logx.Nop())
	pipe := pipeline.New(pipeline.Config{}, filter.New(filter.Config{}, logx.Nop()), d, q, b, disp, logx.Nop(), nil, nil)
	return New(cfg, pipe, d, q, b, logx.Nop())
}

func do(t *testing.T, h http.Handler, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestIngestEndpoint(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Enabled: true})
	h := s.buildRouter(s.cfg)

	rec := do(t, h, http.MethodPost, "/v1/notifications",
		`{"user_id":"u1","app_name":"slack","sender":"ops","text":"URGENT: db down","timestamp":"2025-03-11T10:00:00Z"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ingest = %d: %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		NotificationID string `json:"notification_id"`
		Action         string `json:"action"`
		Priority       string `json:"priority"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.NotificationID == "" || resp.Priority != "critical" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestIngestRejectsBadTimestamp(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Enabled: true})
	h := s.buildRouter(s.cfg)

	rec := do(t, h, http.MethodPost, "/v1/notifications",
		`{"user_id":"u1","app_name":"slack","timestamp":"yesterday"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad timestamp = %d, want 400", rec.Code)
	}
}

func TestIngestRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Enabled: true})
	h := s.buildRouter(s.cfg)

	rec := do(t, h, http.MethodPost, "/v1/notifications", `{"user_id":"u1","app":"slack"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field = %d, want 400", rec.Code)
	}
}

func TestScheduleCRUD(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Enabled: true})
	h := s.buildRouter(s.cfg)

	rec := do(t, h, http.MethodPost, "/v1/users/u1/dnd/schedules",
		`{"type":"daily","start":"22:00","end":"07:00","exceptions":["critical","alarm"]}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create = %d: %s", rec.Code, rec.Body.String())
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	if created.ID == "" {
		t.Fatal("empty schedule id")
	}

	rec = do(t, h, http.MethodGet, "/v1/users/u1/dnd/schedules", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list = %d", rec.Code)
	}
	var list struct {
		Schedules []struct {
			ID    string `json:"id"`
			Type  string `json:"type"`
			Start string `json:"start"`
		} `json:"schedules"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	if len(list.Schedules) != 1 || list.Schedules[0].ID != created.ID || list.Schedules[0].Start != "22:00" {
		t.Fatalf("list = %+v", list)
	}

	rec = do(t, h, http.MethodPatch, "/v1/users/u1/dnd/schedules/"+created.ID, `{"enabled":false}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("patch = %d", rec.Code)
	}

	rec = do(t, h, http.MethodDelete, "/v1/users/u1/dnd/schedules/"+created.ID, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/v1/users/u1/dnd/schedules/"+created.ID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second delete = %d, want 404", rec.Code)
	}
}

func TestManualSessionAndStatus(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Enabled: true})
	h := s.buildRouter(s.cfg)

	rec := do(t, h, http.MethodPost, "/v1/users/u1/dnd/manual", `{"minutes":60}`, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start manual = %d: %s", rec.Code, rec.Body.String())
	}

	rec = do(t, h, http.MethodGet, "/v1/users/u1/dnd/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st struct {
		Active bool   `json:"active"`
		Source string `json:"source"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if !st.Active || st.Source != "manual" {
		t.Fatalf("status = %+v", st)
	}

	rec = do(t, h, http.MethodDelete, "/v1/users/u1/dnd/manual", "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("stop manual = %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/v1/users/u1/dnd/manual", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second stop = %d, want 404", rec.Code)
	}
}

func TestQueueEndpoints(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Enabled: true})
	h := s.buildRouter(s.cfg)

	// Enqueue directly through the service; the API surfaces it.
	n := notification.Notification{ID: "n1", UserID: "u1", AppName: "slack", ReceivedAt: time.Now()}
	rcpt, err := s.queue.EnqueueAt("u1", n, notification.PriorityMedium, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	rec := do(t, h, http.MethodGet, "/v1/users/u1/queue/", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stats = %d", rec.Code)
	}
	var stats struct {
		Depth int `json:"depth"`
		Items []struct {
			QueueID  string `json:"queue_id"`
			Priority string `json:"priority"`
		} `json:"items"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Depth != 1 || len(stats.Items) != 1 || stats.Items[0].QueueID != rcpt.QueueID {
		t.Fatalf("stats = %+v", stats)
	}

	rec = do(t, h, http.MethodPatch, "/v1/users/u1/queue/"+rcpt.QueueID, `{"priority":"high"}`, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("reprioritize = %d: %s", rec.Code, rec.Body.String())
	}
	rec = do(t, h, http.MethodPatch, "/v1/users/u1/queue/"+rcpt.QueueID, `{"priority":"asap"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad priority = %d, want 400", rec.Code)
	}

	rec = do(t, h, http.MethodDelete, "/v1/users/u1/queue/"+rcpt.QueueID, "", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("cancel = %d", rec.Code)
	}
	rec = do(t, h, http.MethodDelete, "/v1/users/u1/queue/"+rcpt.QueueID, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("second cancel = %d, want 404", rec.Code)
	}
}

func TestBearerAuth(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, Config{Enabled: true, Token: "s3cret"})
	h := s.buildRouter(s.cfg)

	rec := do(t, h, http.MethodGet, "/v1/users/u1/bundles", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d, want 401", rec.Code)
	}

	rec = do(t, h, http.MethodGet, "/v1/users/u1/bundles", "", map[string]string{"Authorization": "Bearer s3cret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("bearer = %d, want 200", rec.Code)
	}

	// Health stays open.
	rec = do(t, h, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d, want 200", rec.Code)
	}
}
