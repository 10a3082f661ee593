package mcp

import (
	"database/sql"
	"log/slog"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vxco/phase/internal/config"
)

// KnownTypes lists all valid type names.
var KnownTypes = []string{"workspace", "calibration", "particle", "label", "layout", "validation"}

// toolEntry pairs a tool definition with a handler factory.
type toolEntry struct {
	def     mcp.Tool
	handler func(*Handlers) server.ToolHandlerFunc
}

// toolRegistry maps tool names to their definitions and handler factories.
var toolRegistry = map[string]toolEntry{
	"workspace_open": {
		def:     workspaceOpenToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleOpen },
	},
	"workspace_save": {
		def:     workspaceSaveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSave },
	},
	"workspace_snapshot": {
		def:     workspaceSnapshotToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleSnapshot },
	},
	"workspace_export_csv": {
		def:     workspaceExportCSVToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleExportCSV },
	},
	"calibration_update": {
		def:     calibrationUpdateToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleCalibrationUpdate },
	},
	"particle_add": {
		def:     particleAddToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleParticleAdd },
	},
	"particle_remove": {
		def:     particleRemoveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleParticleRemove },
	},
	"particle_rename": {
		def:     particleRenameToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleParticleRename },
	},
	"particle_notes": {
		def:     particleNotesToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleParticleNotes },
	},
	"particle_move": {
		def:     particleMoveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleParticleMove },
	},
	"label_move": {
		def:     labelMoveToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleLabelMove },
	},
	"layout_arrange": {
		def:     layoutArrangeToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleArrange },
	},
	"validation_findings": {
		def:     validationFindingsToolDef,
		handler: func(h *Handlers) server.ToolHandlerFunc { return h.HandleFindings },
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

// ValidateDisabledTypes returns a list of unknown type names from the given list.
func ValidateDisabledTypes(names []string) []string {
	known := make(map[string]bool, len(KnownTypes))
	for _, t := range KnownTypes {
		known[t] = true
	}

	unknown := make([]string, 0)
	for _, name := range names {
		if !known[name] {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

// GetTypeForTool extracts the type name from a tool name.
// Tool names follow the pattern "type_action" (e.g., "particle_add" → "particle").
func GetTypeForTool(toolName string) string {
	if idx := strings.Index(toolName, "_"); idx > 0 {
		return toolName[:idx]
	}
	return ""
}

// ExpandTypesToTools returns all tool names belonging to the given types.
func ExpandTypesToTools(types []string) []string {
	if len(types) == 0 {
		return nil
	}

	// Build set of types for O(1) lookup
	typeSet := make(map[string]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	// Collect tools belonging to disabled types
	tools := make([]string, 0)
	for name := range toolRegistry {
		typ := GetTypeForTool(name)
		if typeSet[typ] {
			tools = append(tools, name)
		}
	}
	return tools
}

// NewServer creates a new MCP server with PHASe tools registered.
// Tools listed in cfg.DisabledTools or belonging to cfg.DisabledTypes
// are excluded from registration.
func NewServer(db *sql.DB, cfg *config.Config, logger *slog.Logger, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"phase",
		version,
		server.WithToolCapabilities(true),
	)

	h := NewHandlers(db, cfg, logger)

	// Build set of disabled tools: first expand types, then add individual tools
	disabled := make(map[string]bool)
	for _, tool := range ExpandTypesToTools(cfg.DisabledTypes) {
		disabled[tool] = true
	}
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
func Run(db *sql.DB, cfg *config.Config, logger *slog.Logger, version string) error {
	s := NewServer(db, cfg, logger, version)
	return server.ServeStdio(s)
}
