package mcp

import (
	"database/sql"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/config"
	"github.com/johnnysoutodev/desafio-capsula-do-tempo-com-ia/internal/scheduler"
)

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"capsule_create": {
		def:     createToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCreate },
	},
	"capsule_get": {
		def:     getToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleGet },
	},
	"capsule_list": {
		def:     listToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleList },
	},
	"capsule_stats": {
		def:     statsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleStats },
	},
	"capsule_abandon": {
		def:     abandonToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleAbandon },
	},
	"scheduler_status": {
		def:     schedulerStatusToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSchedulerStatus },
	},
	"scheduler_run": {
		def:     schedulerRunToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSchedulerRun },
	},
	"scheduler_reset_stats": {
		def:     schedulerResetStatsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSchedulerResetStats },
	},
}

// AllToolNames returns a list of all valid tool names.
func AllToolNames() []string {
	names := make([]string, 0, len(toolRegistry))
	for name := range toolRegistry {
		names = append(names, name)
	}
	return names
}

// ValidateDisabledTools returns a list of unknown tool names from the given list.
func ValidateDisabledTools(names []string) []string {
	unknown := make([]string, 0)
	for _, name := range names {
		if _, ok := toolRegistry[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// NewServer creates a new MCP server with capsula tools registered.
// Tools listed in cfg.DisabledTools are excluded from registration.
func NewServer(db *sql.DB, cfg *config.Config, sched *scheduler.Scheduler, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"capsula",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, sched)

	disabled := make(map[string]bool)
	for _, name := range cfg.DisabledTools {
		disabled[name] = true
	}

	// Register tools (skip disabled)
	for name, entry := range toolRegistry {
		if disabled[name] {
			continue
		}
		s.AddTool(entry.def, entry.handler(h))
	}

	return s
}

// Run starts the MCP server using stdio transport.
func Run(db *sql.DB, cfg *config.Config, sched *scheduler.Scheduler, version string) error {
	s := NewServer(db, cfg, sched, version)
	return server.ServeStdio(s)
}
