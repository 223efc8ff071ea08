package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/broker"
	cfgpkg "github.com/PhoenixWild29/APFA-Prod-sub001/internal/config"
	"github.com/PhoenixWild29/APFA-Prod-sub001/internal/runtime"
	pebblestore "github.com/PhoenixWild29/APFA-Prod-sub001/internal/storage/pebble"
)

func openTestServer(t *testing.T) (*Server, *runtime.Runtime) {
	t.Helper()
	rt, err := runtime.Open(runtime.Options{DataDir: t.TempDir(), Fsync: pebblestore.FsyncModeAlways, Config: cfgpkg.Default()})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt), rt
}

func TestHealthHandler(t *testing.T) {
	s, _ := openTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestSubmitHandler(t *testing.T) {
	s, rt := openTestServer(t)
	body := `{"routing_key":"ingestion","payload":{"doc":1},"priority":"high"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks/submit", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	id, err := uuid.Parse(resp.ID)
	if err != nil {
		t.Fatalf("id %q: %v", resp.ID, err)
	}
	task, err := rt.Service().Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if task.Queue != "high" {
		t.Fatalf("queue: %q", task.Queue)
	}
}

func TestSubmitHandlerRejectsUnknownKey(t *testing.T) {
	s, _ := openTestServer(t)
	body := `{"routing_key":"nope","payload":{}}`
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks/submit", strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestGetHandler(t *testing.T) {
	s, rt := openTestServer(t)
	id, err := rt.Broker().Submit(context.Background(), &broker.Task{RoutingKey: "ingestion", Payload: []byte(`{}`), Queue: "default"}, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/get?id="+id.String(), nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	var task broker.Task
	if err := json.Unmarshal(w.Body.Bytes(), &task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.ID != id || task.Status != broker.StatusQueued {
		t.Fatalf("task: %+v", task)
	}
}

func TestGetHandlerNotFound(t *testing.T) {
	s, _ := openTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/tasks/get?id="+uuid.NewString(), nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestCancelHandler(t *testing.T) {
	s, rt := openTestServer(t)
	id, err := rt.Broker().Submit(context.Background(), &broker.Task{RoutingKey: "ingestion", Payload: []byte(`{}`), Queue: "default"}, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/v1/tasks/cancel?id="+id.String(), nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status: %d body: %s", w.Code, w.Body.String())
	}
	task, _ := rt.Service().Get(context.Background(), id)
	if task.Status != broker.StatusCancelled {
		t.Fatalf("status: %s", task.Status)
	}
}

func TestDLQAndRequeueHandlers(t *testing.T) {
	s, rt := openTestServer(t)
	ctx := context.Background()

	id, err := rt.Broker().Submit(ctx, &broker.Task{RoutingKey: "ingestion", Payload: []byte(`{}`), Queue: "default"}, 0)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := rt.Broker().Claim(ctx, "default", "w1", 0); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := rt.Broker().Fail(ctx, id, "boom", true, 0); err != nil {
		t.Fatalf("fail: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/admin/dlq?queue=default", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("dlq status: %d", w.Code)
	}
	var list struct {
		Tasks []broker.Task `json:"tasks"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Tasks) != 1 || list.Tasks[0].ID != id {
		t.Fatalf("dlq list: %+v", list.Tasks)
	}

	req = httptest.NewRequest(http.MethodPost, "/v1/admin/dlq/requeue?id="+id.String(), nil)
	w = httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("requeue status: %d body: %s", w.Code, w.Body.String())
	}
	task, _ := rt.Service().Get(ctx, id)
	if task.Status != broker.StatusQueued {
		t.Fatalf("status after requeue: %s", task.Status)
	}
}

func TestMetricsHandler(t *testing.T) {
	s, rt := openTestServer(t)
	if _, err := rt.Broker().Submit(context.Background(), &broker.Task{RoutingKey: "ingestion", Payload: []byte(`{}`), Queue: "high"}, 0); err != nil {
		t.Fatalf("submit: %v", err)
	}
	req := httptest.NewRequest(http.MethodGet, "/v1/admin/metrics", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != 200 {
		t.Fatalf("status: %d", w.Code)
	}
	var snap struct {
		QueueDepth map[string]int `json:"queue_depth"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.QueueDepth["high"] != 1 {
		t.Fatalf("queue depth: %+v", snap.QueueDepth)
	}
}
