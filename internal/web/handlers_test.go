package web

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/capsule"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/config"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/db"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/mail"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/ops"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/scheduler"
)

// stubDeliverer accepts every capsule without touching the network.
type stubDeliverer struct{}

func (stubDeliverer) Deliver(ctx context.Context, c *capsule.Capsule) (*mail.Result, error) {
	return &mail.Result{ProviderMessageID: "msg-" + c.ID, Attempts: 1}, nil
}

func setupTest(t *testing.T) (http.Handler, *sql.DB) {
	t.Helper()
	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("db.Init: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	cfg := config.DefaultConfig()
	cfg.Timezone = "UTC"
	cfg.ChunkDelayMS = 1
	cfg.RetryDelayMS = 1

	sched, err := scheduler.New(database, stubDeliverer{}, cfg)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}

	srv := NewServer(database, cfg, sched)
	return srv.Handler, database
}

// seedCapsule stores a capsule via the ops layer and returns its ID.
func seedCapsule(t *testing.T, database *sql.DB, deliverAt int64) string {
	t.Helper()
	out, err := ops.Create(database, config.DefaultConfig(), ops.CreateInput{
		Name:      "Ana",
		Contact:   "ana@example.com",
		Message:   "olá futuro",
		DeliverAt: deliverAt,
	})
	if err != nil {
		t.Fatalf("seed capsule: %v", err)
	}
	return out.ID
}

func doJSON(t *testing.T, handler http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

// --- capsules ---

func TestHandleCreate_Created(t *testing.T) {
	handler, _ := setupTest(t)

	deliverAt := time.Now().Add(time.Hour).Unix()
	body := `{"name":"Ana","contact":"ana@example.com","message":"olá","deliver_at":` +
		strconv.FormatInt(deliverAt, 10) + `}`

	rec := doJSON(t, handler, "POST", "/capsules", body)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}

	var got capsule.Capsule
	decodeBody(t, rec, &got)
	if got.ID == "" {
		t.Error("response should carry the new capsule ID")
	}
	if got.Status != capsule.StatusPending {
		t.Errorf("status = %q, want pending", got.Status)
	}
}

func TestHandleCreate_InvalidJSON(t *testing.T) {
	handler, _ := setupTest(t)

	rec := doJSON(t, handler, "POST", "/capsules", `{"name":`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var body errorBody
	decodeBody(t, rec, &body)
	if body.Code != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", body.Code)
	}
}

func TestHandleCreate_PastDeliverAt(t *testing.T) {
	handler, _ := setupTest(t)

	rec := doJSON(t, handler, "POST", "/capsules",
		`{"name":"Ana","contact":"ana@example.com","message":"olá","deliver_at":1}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGet_Found(t *testing.T) {
	handler, database := setupTest(t)
	id := seedCapsule(t, database, time.Now().Add(time.Hour).Unix())

	rec := doJSON(t, handler, "GET", "/capsules/"+id, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var got capsule.Capsule
	decodeBody(t, rec, &got)
	if got.ID != id {
		t.Errorf("ID = %q, want %q", got.ID, id)
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	handler, _ := setupTest(t)

	rec := doJSON(t, handler, "GET", "/capsules/no-such-id", "")

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var body errorBody
	decodeBody(t, rec, &body)
	if body.Code != "NOT_FOUND" {
		t.Errorf("code = %q, want NOT_FOUND", body.Code)
	}
}

func TestHandleList_StatusFilter(t *testing.T) {
	handler, database := setupTest(t)
	seedCapsule(t, database, time.Now().Add(time.Hour).Unix())

	rec := doJSON(t, handler, "GET", "/capsules?status=pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out ops.ListOutput
	decodeBody(t, rec, &out)
	if len(out.Items) != 1 {
		t.Errorf("got %d items, want 1", len(out.Items))
	}

	rec = doJSON(t, handler, "GET", "/capsules?status=sent", "")
	decodeBody(t, rec, &out)
	if len(out.Items) != 0 {
		t.Errorf("got %d sent items, want 0", len(out.Items))
	}
}

func TestHandleList_InvalidStatus(t *testing.T) {
	handler, _ := setupTest(t)

	rec := doJSON(t, handler, "GET", "/capsules?status=bogus", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleList_InvalidLimitFallsBack(t *testing.T) {
	handler, _ := setupTest(t)

	rec := doJSON(t, handler, "GET", "/capsules?limit=notanumber&offset=bad", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleStats(t *testing.T) {
	handler, database := setupTest(t)
	seedCapsule(t, database, time.Now().Add(time.Hour).Unix())

	rec := doJSON(t, handler, "GET", "/capsules/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var out db.Stats
	decodeBody(t, rec, &out)
	if out.Total != 1 || out.Pending != 1 {
		t.Errorf("stats = %+v, want 1 pending of 1", out)
	}
}

func TestHandleAbandon(t *testing.T) {
	handler, database := setupTest(t)
	id := seedCapsule(t, database, time.Now().Add(time.Hour).Unix())

	rec := doJSON(t, handler, "POST", "/capsules/"+id+"/abandon", `{"reason":"sender request"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var got capsule.Capsule
	decodeBody(t, rec, &got)
	if got.Status != capsule.StatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}

	// Terminal: a second abandon conflicts
	rec = doJSON(t, handler, "POST", "/capsules/"+id+"/abandon", `{"reason":"again"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second abandon status = %d, want 409", rec.Code)
	}
}

func TestHandleHealth(t *testing.T) {
	handler, _ := setupTest(t)

	rec := doJSON(t, handler, "GET", "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

// --- scheduler control ---

func TestHandleSchedulerStatus(t *testing.T) {
	handler, _ := setupTest(t)

	rec := doJSON(t, handler, "GET", "/scheduler/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var state scheduler.RunState
	decodeBody(t, rec, &state)
	if state.Running {
		t.Error("scheduler should be idle")
	}
	if state.Scheduled {
		t.Error("scheduler should not be started")
	}
	if state.Schedule == "" {
		t.Error("status should carry the configured schedule")
	}
}

func TestHandleSchedulerRun_DeliversDue(t *testing.T) {
	handler, database := setupTest(t)

	// Seeded directly: ops.Create refuses past dates
	c := &capsule.Capsule{
		ID:        "id-due",
		Name:      "Ana",
		Contact:   "ana@example.com",
		Message:   "olá",
		DeliverAt: time.Now().Add(-time.Minute).Unix(),
		CreatedAt: time.Now().Add(-time.Hour).Unix(),
		Status:    capsule.StatusPending,
	}
	if err := db.Insert(database, c); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rec := doJSON(t, handler, "POST", "/scheduler/run", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var result scheduler.CycleResult
	decodeBody(t, rec, &result)
	if !result.Success || result.Processed != 1 {
		t.Errorf("result = %+v, want success with 1 processed", result)
	}

	got, err := db.GetByID(database, "id-due")
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Status != capsule.StatusSent {
		t.Errorf("status = %q, want sent", got.Status)
	}
}

func TestHandleSchedulerStartStop(t *testing.T) {
	handler, _ := setupTest(t)

	rec := doJSON(t, handler, "POST", "/scheduler/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("start status = %d, want 200", rec.Code)
	}
	var resp controlResponse
	decodeBody(t, rec, &resp)
	if !resp.Success {
		t.Error("first start should succeed")
	}

	rec = doJSON(t, handler, "POST", "/scheduler/start", "")
	decodeBody(t, rec, &resp)
	if resp.Success {
		t.Error("second start should report already started")
	}

	rec = doJSON(t, handler, "POST", "/scheduler/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop status = %d, want 200", rec.Code)
	}
	decodeBody(t, rec, &resp)
	if !resp.Success {
		t.Error("stop should succeed")
	}

	rec = doJSON(t, handler, "POST", "/scheduler/stop", "")
	decodeBody(t, rec, &resp)
	if resp.Success {
		t.Error("second stop should report not started")
	}
}

func TestHandleSchedulerResetStats(t *testing.T) {
	handler, _ := setupTest(t)

	// One manual cycle so the counters move
	doJSON(t, handler, "POST", "/scheduler/run", "")

	rec := doJSON(t, handler, "POST", "/scheduler/stats/reset", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	rec = doJSON(t, handler, "GET", "/scheduler/status", "")
	var state scheduler.RunState
	decodeBody(t, rec, &state)
	if state.TotalCycles != 0 {
		t.Errorf("TotalCycles = %d after reset, want 0", state.TotalCycles)
	}
}

func TestSecurityHeaders(t *testing.T) {
	handler, _ := setupTest(t)

	rec := doJSON(t, handler, "GET", "/healthz", "")
	if got := rec.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := rec.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
}
