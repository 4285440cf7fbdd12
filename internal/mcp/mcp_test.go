package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/capsule"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/config"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/db"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/errors"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/mail"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/ops"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/scheduler"
)

// stubDeliverer accepts every capsule without touching the network.
type stubDeliverer struct{}

func (stubDeliverer) Deliver(ctx context.Context, c *capsule.Capsule) (*mail.Result, error) {
	return &mail.Result{ProviderMessageID: "msg-" + c.ID, Attempts: 1}, nil
}

// testSetup creates a temporary database, config, and handlers for testing.
func testSetup(t *testing.T) (*sql.DB, *config.Config, *Handlers) {
	t.Helper()

	database, err := db.Init(t.TempDir())
	if err != nil {
		t.Fatalf("failed to init db: %v", err)
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

	return database, cfg, NewHandlers(database, cfg, sched)
}

// makeRequest creates a CallToolRequest with the given arguments.
func makeRequest(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Arguments: args,
		},
	}
}

// resultJSON unmarshals the first text content of a tool result.
func resultJSON(t *testing.T, result *mcp.CallToolResult, v any) {
	t.Helper()
	text, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatal("content is not TextContent")
	}
	if err := json.Unmarshal([]byte(text.Text), v); err != nil {
		t.Fatalf("unmarshal result %q: %v", text.Text, err)
	}
}

func TestHandleCreate(t *testing.T) {
	_, _, h := testSetup(t)

	result, err := h.HandleCreate(context.Background(), makeRequest(map[string]any{
		"name":       "Ana",
		"contact":    "ana@example.com",
		"message":    "olá, futuro eu",
		"deliver_at": float64(time.Now().Add(time.Hour).Unix()),
	}))
	if err != nil {
		t.Fatalf("HandleCreate failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %v", result.Content)
	}

	var output ops.CreateOutput
	resultJSON(t, result, &output)
	if len(output.ID) != 26 {
		t.Errorf("ID length = %d, want 26 (ULID)", len(output.ID))
	}
	if output.Status != capsule.StatusPending {
		t.Errorf("Status = %q, want pending", output.Status)
	}
}

func TestHandleCreate_PastDeliverAt(t *testing.T) {
	_, _, h := testSetup(t)

	result, err := h.HandleCreate(context.Background(), makeRequest(map[string]any{
		"name":       "Ana",
		"contact":    "ana@example.com",
		"message":    "olá",
		"deliver_at": float64(1),
	}))
	if err != nil {
		t.Fatalf("HandleCreate failed: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError=true for past deliver_at")
	}

	var payload map[string]map[string]any
	resultJSON(t, result, &payload)
	if payload["error"]["code"] != "INVALID_REQUEST" {
		t.Errorf("code = %v, want INVALID_REQUEST", payload["error"]["code"])
	}
}

func TestHandleGetAndList(t *testing.T) {
	database, cfg, h := testSetup(t)

	created, err := ops.Create(database, cfg, ops.CreateInput{
		Name:      "Ana",
		Contact:   "ana@example.com",
		Message:   "olá",
		DeliverAt: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("seed capsule: %v", err)
	}

	result, err := h.HandleGet(context.Background(), makeRequest(map[string]any{"id": created.ID}))
	if err != nil {
		t.Fatalf("HandleGet failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %v", result.Content)
	}
	var getOut ops.GetOutput
	resultJSON(t, result, &getOut)
	if getOut.ID != created.ID {
		t.Errorf("ID = %q, want %q", getOut.ID, created.ID)
	}

	result, err = h.HandleList(context.Background(), makeRequest(map[string]any{"status": "pending"}))
	if err != nil {
		t.Fatalf("HandleList failed: %v", err)
	}
	var listOut ops.ListOutput
	resultJSON(t, result, &listOut)
	if len(listOut.Items) != 1 {
		t.Errorf("got %d items, want 1", len(listOut.Items))
	}
}

func TestHandleGet_NotFound(t *testing.T) {
	_, _, h := testSetup(t)

	result, err := h.HandleGet(context.Background(), makeRequest(map[string]any{"id": "no-such-id"}))
	if err != nil {
		t.Fatalf("HandleGet failed: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected IsError=true for unknown id")
	}

	var payload map[string]map[string]any
	resultJSON(t, result, &payload)
	if payload["error"]["code"] != "NOT_FOUND" {
		t.Errorf("code = %v, want NOT_FOUND", payload["error"]["code"])
	}
}

func TestHandleAbandon(t *testing.T) {
	database, cfg, h := testSetup(t)

	created, err := ops.Create(database, cfg, ops.CreateInput{
		Name:      "Ana",
		Contact:   "ana@example.com",
		Message:   "olá",
		DeliverAt: time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("seed capsule: %v", err)
	}

	result, err := h.HandleAbandon(context.Background(), makeRequest(map[string]any{
		"id":     created.ID,
		"reason": "sender request",
	}))
	if err != nil {
		t.Fatalf("HandleAbandon failed: %v", err)
	}
	if result.IsError {
		t.Fatalf("expected success, got error result: %v", result.Content)
	}

	var output ops.AbandonOutput
	resultJSON(t, result, &output)
	if output.Status != capsule.StatusFailed {
		t.Errorf("Status = %q, want failed", output.Status)
	}
}

func TestHandleStats(t *testing.T) {
	_, _, h := testSetup(t)

	result, err := h.HandleStats(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("HandleStats failed: %v", err)
	}
	var output ops.StatsOutput
	resultJSON(t, result, &output)
	if output.Total != 0 {
		t.Errorf("Total = %d, want 0 on an empty store", output.Total)
	}
}

func TestHandleSchedulerTools(t *testing.T) {
	database, _, h := testSetup(t)

	// One due capsule for the manual cycle
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

	result, err := h.HandleSchedulerRun(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("HandleSchedulerRun failed: %v", err)
	}
	var cycle scheduler.CycleResult
	resultJSON(t, result, &cycle)
	if !cycle.Success || cycle.Processed != 1 {
		t.Errorf("cycle = %+v, want success with 1 processed", cycle)
	}

	result, err = h.HandleSchedulerStatus(context.Background(), makeRequest(nil))
	if err != nil {
		t.Fatalf("HandleSchedulerStatus failed: %v", err)
	}
	var state scheduler.RunState
	resultJSON(t, result, &state)
	if state.TotalCycles != 1 || state.TotalProcessed != 1 {
		t.Errorf("state = %+v, want 1 cycle with 1 processed", state)
	}

	if _, err := h.HandleSchedulerResetStats(context.Background(), makeRequest(nil)); err != nil {
		t.Fatalf("HandleSchedulerResetStats failed: %v", err)
	}
	result, _ = h.HandleSchedulerStatus(context.Background(), makeRequest(nil))
	resultJSON(t, result, &state)
	if state.TotalCycles != 0 {
		t.Errorf("TotalCycles = %d after reset, want 0", state.TotalCycles)
	}
}

func newTestServerScheduler(t *testing.T, database *sql.DB, cfg *config.Config) *scheduler.Scheduler {
	t.Helper()
	sched, err := scheduler.New(database, stubDeliverer{}, cfg)
	if err != nil {
		t.Fatalf("scheduler.New: %v", err)
	}
	return sched
}

func TestServerRegistration(t *testing.T) {
	database, cfg, _ := testSetup(t)
	sched := newTestServerScheduler(t, database, cfg)

	s := NewServer(database, cfg, sched, "test")
	tools := s.ListTools()
	if tools == nil {
		t.Fatal("expected tools to be registered, got nil")
	}

	expectedTools := []string{
		"capsule_create",
		"capsule_get",
		"capsule_list",
		"capsule_stats",
		"capsule_abandon",
		"scheduler_status",
		"scheduler_run",
		"scheduler_reset_stats",
	}

	if len(tools) != len(expectedTools) {
		t.Errorf("registered tool count = %d, want %d", len(tools), len(expectedTools))
	}

	for _, name := range expectedTools {
		if _, ok := tools[name]; !ok {
			t.Errorf("missing registered tool: %s", name)
		}
	}
}

func TestServerRegistration_WithDisabledTools(t *testing.T) {
	database, cfg, _ := testSetup(t)
	sched := newTestServerScheduler(t, database, cfg)

	cfg.DisabledTools = []string{"capsule_abandon", "scheduler_reset_stats"}
	s := NewServer(database, cfg, sched, "test")
	tools := s.ListTools()

	if len(tools) != 6 {
		t.Errorf("registered tool count = %d, want 6", len(tools))
	}

	for _, name := range cfg.DisabledTools {
		if _, ok := tools[name]; ok {
			t.Errorf("disabled tool %q should not be registered", name)
		}
	}

	for _, name := range []string{"capsule_create", "capsule_get", "scheduler_run"} {
		if _, ok := tools[name]; !ok {
			t.Errorf("core tool %q should be registered", name)
		}
	}
}

func TestValidateDisabledTools(t *testing.T) {
	tests := []struct {
		name    string
		input   []string
		wantLen int
	}{
		{
			name:    "all valid",
			input:   []string{"capsule_abandon", "scheduler_run"},
			wantLen: 0,
		},
		{
			name:    "one unknown",
			input:   []string{"capsule_get", "fake_tool"},
			wantLen: 1,
		},
		{
			name:    "all unknown",
			input:   []string{"foo", "bar", "baz"},
			wantLen: 3,
		},
		{
			name:    "empty list",
			input:   []string{},
			wantLen: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			unknown := ValidateDisabledTools(tt.input)
			if len(unknown) != tt.wantLen {
				t.Errorf("ValidateDisabledTools() returned %d unknown, want %d", len(unknown), tt.wantLen)
			}
		})
	}
}

func TestAllToolNames(t *testing.T) {
	names := AllToolNames()

	if len(names) != 8 {
		t.Errorf("AllToolNames() returned %d names, want 8", len(names))
	}

	unknown := ValidateDisabledTools(names)
	if len(unknown) != 0 {
		t.Errorf("AllToolNames() returned invalid names: %v", unknown)
	}
}

func TestErrorResult_InternalDoesNotExposeDetails(t *testing.T) {
	r := errorResult(errors.NewInternal(fmt.Errorf("sql error: open /tmp/secret.db: permission denied")))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	var payload map[string]map[string]any
	resultJSON(t, r, &payload)
	if payload["error"]["code"] != "INTERNAL" {
		t.Errorf("code = %v, want INTERNAL", payload["error"]["code"])
	}
	if _, ok := payload["error"]["details"]; ok {
		t.Error("internal errors must not expose details")
	}
}

func TestErrorResult_NonInternalIncludesDetails(t *testing.T) {
	r := errorResult(errors.NewNotFound("id-123"))
	if !r.IsError {
		t.Fatal("expected IsError=true")
	}

	var payload map[string]map[string]any
	resultJSON(t, r, &payload)
	details, ok := payload["error"]["details"].(map[string]any)
	if !ok {
		t.Fatal("expected details on a not-found error")
	}
	if details["id"] != "id-123" {
		t.Errorf("details.id = %v, want id-123", details["id"])
	}
}
