package mcp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/config"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/errors"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/ops"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/scheduler"
)

// Handlers holds dependencies for MCP tool handlers. The scheduler is the
// single injected instance; handlers never reach for ambient global state.
type Handlers struct {
	db    *sql.DB
	cfg   *config.Config
	sched *scheduler.Scheduler
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(db *sql.DB, cfg *config.Config, sched *scheduler.Scheduler) *Handlers {
	return &Handlers{db: db, cfg: cfg, sched: sched}
}

// Request types for each tool

// CreateRequest represents the arguments for capsule_create.
type CreateRequest struct {
	Name          string  `json:"name"`
	Contact       string  `json:"contact"`
	Message       string  `json:"message"`
	AttachmentRef *string `json:"attachment_ref,omitempty"`
	DeliverAt     int64   `json:"deliver_at"`
}

// GetRequest represents the arguments for capsule_get.
type GetRequest struct {
	ID string `json:"id"`
}

// ListRequest represents the arguments for capsule_list.
type ListRequest struct {
	Status  string `json:"status,omitempty"`
	Contact string `json:"contact,omitempty"`
	Limit   int    `json:"limit,omitempty"`
	Offset  int    `json:"offset,omitempty"`
}

// AbandonRequest represents the arguments for capsule_abandon.
type AbandonRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

// Tool definitions

var createToolDef = mcp.NewTool("capsule_create",
	mcp.WithDescription("Store a new time capsule for future email delivery"),
	mcp.WithString("name", mcp.Required(), mcp.Description("Submitter display name")),
	mcp.WithString("contact", mcp.Required(), mcp.Description("Email address the capsule is delivered to")),
	mcp.WithString("message", mcp.Required(), mcp.Description("Message text (markdown)")),
	mcp.WithString("attachment_ref", mcp.Description("Filename of a stored attachment under the uploads directory")),
	mcp.WithNumber("deliver_at", mcp.Required(), mcp.Description("Delivery time as Unix seconds, strictly in the future")),
)

var getToolDef = mcp.NewTool("capsule_get",
	mcp.WithDescription("Fetch one capsule by ID"),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capsule ULID")),
)

var listToolDef = mcp.NewTool("capsule_list",
	mcp.WithDescription("List capsules, newest first"),
	mcp.WithString("status", mcp.Description("Filter by status: pending, sent or failed")),
	mcp.WithString("contact", mcp.Description("Filter by recipient email")),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100)")),
	mcp.WithNumber("offset", mcp.Description("Page offset")),
)

var statsToolDef = mcp.NewTool("capsule_stats",
	mcp.WithDescription("Capsule counts per status plus how many are due right now"),
)

var abandonToolDef = mcp.NewTool("capsule_abandon",
	mcp.WithDescription("Terminally mark a pending capsule as failed (operator decision)"),
	mcp.WithString("id", mcp.Required(), mcp.Description("Capsule ULID")),
	mcp.WithString("reason", mcp.Required(), mcp.Description("Why delivery is being given up")),
)

var schedulerStatusToolDef = mcp.NewTool("scheduler_status",
	mcp.WithDescription("Snapshot of the delivery scheduler run state"),
)

var schedulerRunToolDef = mcp.NewTool("scheduler_run",
	mcp.WithDescription("Trigger one delivery cycle immediately; skipped if a cycle is already running"),
)

var schedulerResetStatsToolDef = mcp.NewTool("scheduler_reset_stats",
	mcp.WithDescription("Zero the scheduler's cumulative counters"),
)

// Handlers

// HandleCreate handles the capsule_create tool call.
func (h *Handlers) HandleCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[CreateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Create(h.db, h.cfg, ops.CreateInput{
		Name:          input.Name,
		Contact:       input.Contact,
		Message:       input.Message,
		AttachmentRef: input.AttachmentRef,
		DeliverAt:     input.DeliverAt,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleGet handles the capsule_get tool call.
func (h *Handlers) HandleGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[GetRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Get(h.db, ops.GetInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleList handles the capsule_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.List(h.db, ops.ListInput{
		Status:  input.Status,
		Contact: input.Contact,
		Limit:   input.Limit,
		Offset:  input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleStats handles the capsule_stats tool call.
func (h *Handlers) HandleStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := ops.Stats(h.db)
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleAbandon handles the capsule_abandon tool call.
func (h *Handlers) HandleAbandon(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[AbandonRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.Abandon(h.db, ops.AbandonInput{ID: input.ID, Reason: input.Reason})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSchedulerStatus handles the scheduler_status tool call.
func (h *Handlers) HandleSchedulerStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.sched.Status())
}

// HandleSchedulerRun handles the scheduler_run tool call.
func (h *Handlers) HandleSchedulerRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return successResult(h.sched.RunCycle(ctx))
}

// HandleSchedulerResetStats handles the scheduler_reset_stats tool call.
func (h *Handlers) HandleSchedulerResetStats(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	h.sched.ResetStats()
	return successResult(map[string]bool{"success": true})
}

// decode unmarshals MCP request arguments into a typed struct, avoiding
// unsafe type assertions on the raw argument map.
func decode[T any](req mcp.CallToolRequest) (T, error) {
	var result T
	args := req.GetArguments()
	b, err := json.Marshal(args)
	if err != nil {
		return result, fmt.Errorf("marshal args: %w", err)
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("unmarshal args: %w", err)
	}
	return result, nil
}

// errorResult renders a domain error as a tool error payload.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if cErr, ok := err.(*errors.CapsulaError); ok {
		errorObj := map[string]any{
			"code":    cErr.Code,
			"message": cErr.Message,
			"status":  cErr.Status,
		}
		// Only include details for non-internal errors to avoid leaking
		// sensitive info like file paths or SQL errors
		if cErr.Code != errors.ErrInternal && cErr.Details != nil {
			errorObj["details"] = cErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return mcp.NewToolResultError(string(content))
}

// successResult renders data as a JSON tool result.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
