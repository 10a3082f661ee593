package mcp

import "github.com/mark3labs/mcp-go/mcp"

var workspaceOpenToolDef = mcp.NewTool("workspace_open",
	mcp.WithDescription("Open a .phw workspace file, or create it when create is true. Replaces the currently open workspace; unsaved changes are lost."),
	mcp.WithString("path", mcp.Required(), mcp.Description("Path to the .phw file")),
	mcp.WithBoolean("create", mcp.Description("Create a new empty workspace at path")),
	mcp.WithString("name", mcp.Description("Workspace name when creating")),
	mcp.WithString("image", mcp.Description("Capillary image whose size becomes the label bounds; also stored as the image reference when creating")),
	mcp.WithNumber("canvas_width", mcp.Description("Canvas width in pixels (ignored when image is given)")),
	mcp.WithNumber("canvas_height", mcp.Description("Canvas height in pixels (ignored when image is given)")),
)

var workspaceSaveToolDef = mcp.NewTool("workspace_save",
	mcp.WithDescription("Save the open workspace atomically and record a recovery slot."),
	mcp.WithString("path", mcp.Description("Destination .phw (default: the path it was opened from)")),
)

var workspaceSnapshotToolDef = mcp.NewTool("workspace_snapshot",
	mcp.WithDescription("Return calibration, particles with heights and label boxes, findings and summary statistics."),
)

var workspaceExportCSVToolDef = mcp.NewTool("workspace_export_csv",
	mcp.WithDescription("Export Name, Height, Unit, RelativePosition and Notes for every particle to CSV."),
	mcp.WithString("path", mcp.Description("Destination .csv (default: ~/.phase/exports/<workspace>-<timestamp>.csv)")),
)

var calibrationUpdateToolDef = mcp.NewTool("calibration_update",
	mcp.WithDescription("Change calibration values. All given fields are applied together or not at all; heights and labels are recomputed."),
	mcp.WithNumber("ceiling_y", mcp.Description("Ceiling line, image y in pixels")),
	mcp.WithNumber("floor_y", mcp.Description("Floor line, image y in pixels (must be greater than ceiling_y)")),
	mcp.WithString("nudge_edge", mcp.Description("Move one boundary edge by nudge_delta pixels"), mcp.Enum("ceiling", "floor")),
	mcp.WithNumber("nudge_delta", mcp.Description("Pixels to move nudge_edge (positive is down)")),
	mcp.WithString("capillary_height", mcp.Description("Physical capillary height, e.g. \"50um\", \"0.05 mm\"")),
	mcp.WithString("wall_thickness", mcp.Description("Wall thickness, e.g. \"2um\"")),
	mcp.WithBoolean("wall_thickness_enabled", mcp.Description("Toggle wall-thickness compensation")),
	mcp.WithNumber("tilt_angle_degrees", mcp.Description("Capillary tilt, strictly between -90 and 90")),
	mcp.WithBoolean("angle_correction_enabled", mcp.Description("Toggle tilt correction")),
	mcp.WithBoolean("reset_angle", mcp.Description("Set the tilt back to 0")),
)

var particleAddToolDef = mcp.NewTool("particle_add",
	mcp.WithDescription("Mark a particle at an image position. Requires a complete calibration."),
	mcp.WithNumber("x", mcp.Required(), mcp.Description("Image x in pixels")),
	mcp.WithNumber("y", mcp.Required(), mcp.Description("Image y in pixels")),
)

var particleRemoveToolDef = mcp.NewTool("particle_remove",
	mcp.WithDescription("Remove a particle and its label. Other labels stay where they are."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Particle id")),
)

var particleRenameToolDef = mcp.NewTool("particle_rename",
	mcp.WithDescription("Set a particle's custom name. An empty name restores the default P<n>."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Particle id")),
	mcp.WithString("name", mcp.Description("New name")),
)

var particleNotesToolDef = mcp.NewTool("particle_notes",
	mcp.WithDescription("Replace a particle's notes (Markdown)."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Particle id")),
	mcp.WithString("notes", mcp.Description("Notes text")),
)

var particleMoveToolDef = mcp.NewTool("particle_move",
	mcp.WithDescription("Move a particle. Its height is recomputed and its label is placed automatically again."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Particle id")),
	mcp.WithNumber("x", mcp.Required(), mcp.Description("Image x in pixels")),
	mcp.WithNumber("y", mcp.Required(), mcp.Description("Image y in pixels")),
)

var labelMoveToolDef = mcp.NewTool("label_move",
	mcp.WithDescription("Pin a label at an offset from its particle. Pinned labels are never moved by layout passes except layout_arrange mode auto."),
	mcp.WithString("id", mcp.Required(), mcp.Description("Particle id")),
	mcp.WithNumber("dx", mcp.Required(), mcp.Description("Label centre x offset from the particle")),
	mcp.WithNumber("dy", mcp.Required(), mcp.Description("Label centre y offset from the particle")),
)

var layoutArrangeToolDef = mcp.NewTool("layout_arrange",
	mcp.WithDescription("Run a full label layout pass. auto releases pinned labels first; relayout keeps them."),
	mcp.WithString("mode", mcp.Description("auto (default) or relayout"), mcp.Enum("auto", "relayout")),
)

var validationFindingsToolDef = mcp.NewTool("validation_findings",
	mcp.WithDescription("List measurement findings (outliers, near-wall, out-of-bounds) and summary statistics."),
)
