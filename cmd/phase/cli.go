package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/vxco/phase/internal/calibration"
	"github.com/vxco/phase/internal/config"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/layout"
	"github.com/vxco/phase/internal/mcp"
	"github.com/vxco/phase/internal/ops"
	"github.com/vxco/phase/internal/session"
	"github.com/vxco/phase/internal/units"
	"github.com/vxco/phase/internal/web"
)

// cliEnv carries what every command needs. logger is replaced in Before
// once --verbose is known.
type cliEnv struct {
	db     *sql.DB
	cfg    *config.Config
	logger *slog.Logger
}

// MutationOutput is printed by every command that saves the workspace.
type MutationOutput struct {
	Path         string `json:"path"`
	Generation   uint64 `json:"generation"`
	RecoverySlot string `json:"recovery_slot,omitempty"`
	Result       any    `json:"result"`
}

// newCLIApp creates the CLI application with all commands.
func newCLIApp(db *sql.DB, cfg *config.Config) *cli.App {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	rt := &cliEnv{db: db, cfg: cfg, logger: newLogger(io.Discard, false)}

	app := &cli.App{
		Name:    "phase",
		Usage:   "Capillary particle height measurement and label layout",
		Version: Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "verbose", Usage: "Log debug output to stderr"},
		},
		Before: func(c *cli.Context) error {
			rt.logger = newLogger(c.App.ErrWriter, c.Bool("verbose"))
			return nil
		},
		Commands: []*cli.Command{
			newCmd(rt),
			showCmd(rt),
			calibrateCmd(rt),
			addCmd(rt),
			removeCmd(rt),
			renameCmd(rt),
			notesCmd(rt),
			moveCmd(rt),
			moveLabelCmd(rt),
			arrangeCmd(rt),
			validateCmd(rt),
			exportCmd(rt),
			overlayCmd(rt),
			referenceCmd(rt),
			recoverCmd(rt),
			serveCmd(rt),
			uiCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// newLogger builds a text logger; verbose switches the level to Debug.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	if w == nil {
		w = os.Stderr
	}
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func fileFlag() cli.Flag {
	return &cli.StringFlag{Name: "file", Aliases: []string{"f"}, Required: true, EnvVars: []string{"PHASE_FILE"}, Usage: "Workspace .phw file"}
}

// workspaceFlags are shared by every command that reads a .phw file.
func workspaceFlags(extra ...cli.Flag) []cli.Flag {
	flags := []cli.Flag{
		fileFlag(),
		&cli.StringFlag{Name: "image", Usage: "Capillary image whose size bounds the labels (default: the workspace image)"},
		&cli.StringFlag{Name: "canvas", Usage: "Label bounds as WIDTHxHEIGHT pixels"},
	}
	return append(flags, extra...)
}

// newCmd creates the new command.
func newCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "new",
		Usage: "Create an empty workspace",
		Flags: []cli.Flag{
			fileFlag(),
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Workspace name"},
			&cli.StringFlag{Name: "image", Usage: "Capillary image reference"},
			&cli.BoolFlag{Name: "force", Usage: "Overwrite an existing file"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("file")
			s, saved, err := ops.CreateWorkspace(rt.cfg, ops.CreateInput{
				Path:           path,
				Name:           c.String("name"),
				ImageReference: c.String("image"),
				Force:          c.Bool("force"),
			}, session.WithLogger(rt.logger))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, MutationOutput{
				Path:         saved.Path,
				Generation:   saved.Generation,
				RecoverySlot: rt.record(c, path, s),
				Result:       s.Snapshot(),
			})
		},
	}
}

// showCmd creates the show command.
func showCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "Print the workspace snapshot",
		Flags: workspaceFlags(),
		Action: func(c *cli.Context) error {
			s, _, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, s.Snapshot())
		},
	}
}

// calibrateCmd creates the calibrate command.
func calibrateCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "calibrate",
		Usage: "Change calibration values (all given values apply together or not at all)",
		Flags: workspaceFlags(
			&cli.Float64Flag{Name: "ceiling", Usage: "Ceiling line, image y in pixels"},
			&cli.Float64Flag{Name: "floor", Usage: "Floor line, image y in pixels"},
			&cli.StringFlag{Name: "nudge-edge", Usage: "Boundary edge to nudge: ceiling|floor"},
			&cli.Float64Flag{Name: "nudge-delta", Usage: "Pixels to move the nudged edge (positive is down)"},
			&cli.StringFlag{Name: "height", Usage: "Capillary height, e.g. 50um"},
			&cli.StringFlag{Name: "wall", Usage: "Wall thickness, e.g. 2um"},
			&cli.BoolFlag{Name: "wall-enabled", Usage: "Enable wall-thickness compensation (--wall-enabled=false disables)"},
			&cli.Float64Flag{Name: "tilt", Usage: "Tilt angle in degrees, strictly between -90 and 90"},
			&cli.BoolFlag{Name: "angle-correction", Usage: "Enable tilt correction (--angle-correction=false disables)"},
			&cli.BoolFlag{Name: "reset-angle", Usage: "Set the tilt back to 0"},
		),
		Action: func(c *cli.Context) error {
			u, err := calibrationUpdate(c)
			if err != nil {
				return outputError(err)
			}
			if u.IsEmpty() {
				return outputError(errors.NewInvalidRequest("no calibration changes given"))
			}

			s, path, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			if err := s.UpdateCalibration(u); err != nil {
				return outputError(err)
			}
			snap := s.Snapshot()
			return rt.commit(c, s, path, map[string]any{
				"calibration":          snap.Calibration,
				"calibration_complete": snap.CalibrationComplete,
				"missing":              snap.Missing,
				"particles":            snap.Particles,
			})
		},
	}
}

// calibrationUpdate collects the calibrate flags that were given.
func calibrationUpdate(c *cli.Context) (session.CalibrationUpdate, error) {
	var u session.CalibrationUpdate
	if c.IsSet("ceiling") {
		v := c.Float64("ceiling")
		u.CeilingY = &v
	}
	if c.IsSet("floor") {
		v := c.Float64("floor")
		u.FloorY = &v
	}
	if edge := c.String("nudge-edge"); edge != "" {
		u.Nudge = &session.Nudge{Edge: calibration.Edge(edge), Delta: c.Float64("nudge-delta")}
	}
	if s := c.String("height"); s != "" {
		q, err := units.Parse(s)
		if err != nil {
			return u, errors.NewInvalidCalibration("capillary_height", err.Error())
		}
		u.CapillaryHeight = &q
	}
	if s := c.String("wall"); s != "" {
		q, err := units.Parse(s)
		if err != nil {
			return u, errors.NewInvalidCalibration("wall_thickness", err.Error())
		}
		u.WallThickness = &q
	}
	if c.IsSet("wall-enabled") {
		v := c.Bool("wall-enabled")
		u.WallThicknessEnabled = &v
	}
	if c.IsSet("tilt") {
		v := c.Float64("tilt")
		u.TiltAngleDegrees = &v
	}
	if c.IsSet("angle-correction") {
		v := c.Bool("angle-correction")
		u.AngleCorrectionEnabled = &v
	}
	u.ResetAngle = c.Bool("reset-angle")
	return u, nil
}

// addCmd creates the add command.
func addCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "add",
		Usage: "Mark a particle at an image position",
		Flags: workspaceFlags(
			&cli.Float64Flag{Name: "x", Required: true, Usage: "Image x in pixels"},
			&cli.Float64Flag{Name: "y", Required: true, Usage: "Image y in pixels"},
		),
		Action: func(c *cli.Context) error {
			s, path, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			id, err := s.AddParticle(layout.Point{X: c.Float64("x"), Y: c.Float64("y")})
			if err != nil {
				return outputError(err)
			}
			return rt.commitParticle(c, s, path, id)
		},
	}
}

// removeCmd creates the remove command.
func removeCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "remove",
		Usage:     "Remove a particle and its label",
		ArgsUsage: "<id|name>",
		Flags:     workspaceFlags(),
		Action: func(c *cli.Context) error {
			s, path, id, err := rt.openParticle(c)
			if err != nil {
				return outputError(err)
			}
			if err := s.RemoveParticle(id); err != nil {
				return outputError(err)
			}
			return rt.commit(c, s, path, map[string]any{"id": id, "removed": true})
		},
	}
}

// renameCmd creates the rename command.
func renameCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "rename",
		Usage:     "Set a particle's name (omit the name to restore P<n>)",
		ArgsUsage: "<id|name> [new-name]",
		Flags:     workspaceFlags(),
		Action: func(c *cli.Context) error {
			s, path, id, err := rt.openParticle(c)
			if err != nil {
				return outputError(err)
			}
			if err := s.RenameParticle(id, c.Args().Get(1)); err != nil {
				return outputError(err)
			}
			return rt.commitParticle(c, s, path, id)
		},
	}
}

// notesCmd creates the notes command.
func notesCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "notes",
		Usage:     "Replace a particle's notes (--text, or piped via stdin)",
		ArgsUsage: "<id|name>",
		Flags: workspaceFlags(
			&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "Notes text (Markdown); empty clears"},
		),
		Action: func(c *cli.Context) error {
			var text string
			switch {
			case c.IsSet("text"):
				text = c.String("text")
			case stdinHasData():
				var err error
				text, err = readStdin()
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
			default:
				return outputError(errors.NewInvalidRequest("notes must be given with --text or piped via stdin"))
			}

			s, path, id, err := rt.openParticle(c)
			if err != nil {
				return outputError(err)
			}
			if err := s.SetNotes(id, text); err != nil {
				return outputError(err)
			}
			return rt.commitParticle(c, s, path, id)
		},
	}
}

// moveCmd creates the move command.
func moveCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "move",
		Usage:     "Move a particle; its height is recomputed and its label placed again",
		ArgsUsage: "<id|name>",
		Flags: workspaceFlags(
			&cli.Float64Flag{Name: "x", Required: true, Usage: "Image x in pixels"},
			&cli.Float64Flag{Name: "y", Required: true, Usage: "Image y in pixels"},
		),
		Action: func(c *cli.Context) error {
			s, path, id, err := rt.openParticle(c)
			if err != nil {
				return outputError(err)
			}
			if err := s.MoveParticle(id, layout.Point{X: c.Float64("x"), Y: c.Float64("y")}); err != nil {
				return outputError(err)
			}
			return rt.commitParticle(c, s, path, id)
		},
	}
}

// moveLabelCmd creates the move-label command.
func moveLabelCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:      "move-label",
		Usage:     "Pin a label at an offset from its particle",
		ArgsUsage: "<id|name>",
		Flags: workspaceFlags(
			&cli.Float64Flag{Name: "dx", Required: true, Usage: "Label centre x offset from the particle"},
			&cli.Float64Flag{Name: "dy", Required: true, Usage: "Label centre y offset from the particle"},
		),
		Action: func(c *cli.Context) error {
			s, path, id, err := rt.openParticle(c)
			if err != nil {
				return outputError(err)
			}
			if err := s.MoveLabel(id, layout.Point{X: c.Float64("dx"), Y: c.Float64("dy")}); err != nil {
				return outputError(err)
			}
			return rt.commitParticle(c, s, path, id)
		},
	}
}

// arrangeCmd creates the arrange command.
func arrangeCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "arrange",
		Usage: "Run a full label layout pass",
		Flags: workspaceFlags(
			&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Value: "auto", Usage: "auto releases pinned labels, relayout keeps them: auto|relayout"},
		),
		Action: func(c *cli.Context) error {
			mode := c.String("mode")
			if mode != "auto" && mode != "relayout" {
				return outputError(errors.NewInvalidRequest(fmt.Sprintf("mode must be auto or relayout, got %q", mode)))
			}

			s, path, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}

			var report session.LayoutReport
			applied := true
			if mode == "auto" {
				report = s.AutoArrange(c.Context)
			} else {
				report, applied = s.Relayout(c.Context)
			}
			return rt.commit(c, s, path, map[string]any{
				"mode":    mode,
				"applied": applied,
				"report":  report,
			})
		},
	}
}

// validateCmd creates the validate command.
func validateCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "List measurement findings and summary statistics",
		Flags: workspaceFlags(),
		Action: func(c *cli.Context) error {
			s, _, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			snap := s.Snapshot()
			return outputJSON(c, map[string]any{
				"findings": snap.Findings,
				"summary":  snap.Summary,
			})
		},
	}
}

// exportCmd creates the export command.
func exportCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export particle heights to CSV",
		Flags: workspaceFlags(
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output .csv (default: ~/.phase/exports/<name>-<timestamp>.csv)"},
		),
		Action: func(c *cli.Context) error {
			s, _, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			out, err := ops.ExportCSV(s, rt.cfg, ops.ExportInput{Path: c.String("out")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// overlayCmd creates the overlay command.
func overlayCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "overlay",
		Usage: "Draw boundaries, particles and labels to a PDF",
		Flags: workspaceFlags(
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Output .pdf (default: ~/.phase/exports/<name>-<timestamp>.pdf)"},
		),
		Action: func(c *cli.Context) error {
			s, _, err := rt.open(c)
			if err != nil {
				return outputError(err)
			}
			out, err := ops.WriteOverlay(s.Snapshot(), rt.cfg, ops.OverlayInput{Path: c.String("out")})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(c, out)
		},
	}
}

// referenceCmd creates the reference command group.
func referenceCmd(rt *cliEnv) *cli.Command {
	catalogueFlag := func() cli.Flag {
		return &cli.StringFlag{Name: "catalogue", Aliases: []string{"c"}, Required: true, Usage: "Reference catalogue (.json or .yaml)"}
	}
	return &cli.Command{
		Name:  "reference",
		Usage: "Device reference presets",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List presets in a catalogue",
				Flags: []cli.Flag{catalogueFlag()},
				Action: func(c *cli.Context) error {
					cat, err := ops.LoadReferenceFile(c.String("catalogue"), rt.cfg)
					if err != nil {
						return outputError(err)
					}
					entries := ops.ListReferences(cat)
					if entries == nil {
						entries = []ops.ReferenceEntry{}
					}
					return outputJSON(c, entries)
				},
			},
			{
				Name:  "apply",
				Usage: "Apply a preset's wall thickness (and optionally its inner height) to the calibration",
				Flags: workspaceFlags(
					catalogueFlag(),
					&cli.StringFlag{Name: "device", Required: true, Usage: "Device type"},
					&cli.StringFlag{Name: "device-version", Required: true, Usage: "Device version"},
					&cli.BoolFlag{Name: "use-inner-height", Usage: "Also set the capillary height from the magnet distance"},
				),
				Action: func(c *cli.Context) error {
					cat, err := ops.LoadReferenceFile(c.String("catalogue"), rt.cfg)
					if err != nil {
						return outputError(err)
					}
					ref, err := ops.LookupReference(cat, c.String("device"), c.String("device-version"))
					if err != nil {
						return outputError(err)
					}
					u, err := referenceUpdate(ref, c.Bool("use-inner-height"))
					if err != nil {
						return outputError(err)
					}

					s, path, err := rt.open(c)
					if err != nil {
						return outputError(err)
					}
					if err := s.UpdateCalibration(u); err != nil {
						return outputError(err)
					}
					return rt.commit(c, s, path, s.Snapshot().Calibration)
				},
			},
		},
	}
}

// referenceUpdate turns a preset into a calibration update.
func referenceUpdate(ref calibration.Reference, innerHeight bool) (session.CalibrationUpdate, error) {
	var u session.CalibrationUpdate
	if q, ok := ref.WallThicknessQuantity(); ok {
		enabled := true
		u.WallThickness = &q
		u.WallThicknessEnabled = &enabled
	}
	if innerHeight {
		q, ok := ref.InnerHeight()
		if !ok {
			return u, errors.NewInvalidRequest("reference has no magnet distance")
		}
		u.CapillaryHeight = &q
	}
	if u.IsEmpty() {
		return u, errors.NewInvalidRequest("reference has no wall thickness")
	}
	return u, nil
}

// recoverCmd creates the recover command group.
func recoverCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "recover",
		Usage: "Recovery slots recorded on every save",
		Subcommands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List recovery slots, newest first",
				Flags: []cli.Flag{fileFlag()},
				Action: func(c *cli.Context) error {
					if rt.db == nil {
						return outputError(errors.NewInternal(fmt.Errorf("recovery store is not available")))
					}
					key, err := ops.WorkspaceKey(c.String("file"))
					if err != nil {
						return outputError(err)
					}
					slots, err := ops.ListRecovery(c.Context, rt.db, key)
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, slots)
				},
			},
			{
				Name:  "restore",
				Usage: "Write a recovery slot back to disk",
				Flags: []cli.Flag{
					fileFlag(),
					&cli.StringFlag{Name: "slot", Usage: "Slot id (default: latest)"},
					&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "Destination .phw (default: --file)"},
				},
				Action: func(c *cli.Context) error {
					if rt.db == nil {
						return outputError(errors.NewInternal(fmt.Errorf("recovery store is not available")))
					}
					key, err := ops.WorkspaceKey(c.String("file"))
					if err != nil {
						return outputError(err)
					}
					dest := c.String("out")
					if dest == "" {
						dest = c.String("file")
					}
					out, err := ops.Recover(c.Context, rt.db, rt.cfg, ops.RecoverInput{
						Key:    key,
						SlotID: c.String("slot"),
						Path:   dest,
					})
					if err != nil {
						return outputError(err)
					}
					return outputJSON(c, out)
				},
			},
		},
	}
}

// serveCmd creates the serve command.
func serveCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the MCP server on stdio",
		Action: func(c *cli.Context) error {
			warnUnknownDisabled(c.App.ErrWriter, rt.cfg)
			if err := mcp.Run(rt.db, rt.cfg, rt.logger, Version); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}

// uiCmd creates the ui command.
func uiCmd(rt *cliEnv) *cli.Command {
	return &cli.Command{
		Name:  "ui",
		Usage: "Serve a read-only viewer for a workspace",
		Flags: []cli.Flag{
			fileFlag(),
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "Address to bind to"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8765, Usage: "Port to listen on"},
		},
		Action: func(c *cli.Context) error {
			path := c.String("file")
			key, err := ops.WorkspaceKey(path)
			if err != nil {
				return outputError(err)
			}
			// Fail fast on a bad path instead of on the first request.
			if _, err := ops.OpenWorkspace(path, rt.cfg); err != nil {
				return outputError(err)
			}

			srv := web.NewServer(web.Options{
				Source: web.FileSource(path, viewerCacheTTL, func(path string) (*session.Session, error) {
					s, err := ops.OpenWorkspace(path, rt.cfg, session.WithLogger(rt.logger))
					if err != nil {
						return nil, err
					}
					rt.boundsFromImageReference(s)
					return s, nil
				}),
				DB:      rt.db,
				Key:     key,
				Config:  rt.cfg,
				Version: Version,
				Bind:    c.String("bind"),
				Port:    c.Int("port"),
			})
			if err := web.Run(srv); err != nil {
				return cli.Exit(err.Error(), 1)
			}
			return nil
		},
	}
}

// viewerCacheTTL is how long the viewer keeps an unchanged decoded workspace.
const viewerCacheTTL = 30 * time.Second

// open loads the --file workspace and applies label bounds.
func (rt *cliEnv) open(c *cli.Context) (*session.Session, string, error) {
	path := c.String("file")
	s, err := ops.OpenWorkspace(path, rt.cfg, session.WithLogger(rt.logger))
	if err != nil {
		return nil, "", err
	}
	if err := rt.applyBounds(c, s); err != nil {
		return nil, "", err
	}
	return s, path, nil
}

// openParticle opens the workspace and resolves the first argument to a
// particle id.
func (rt *cliEnv) openParticle(c *cli.Context) (*session.Session, string, string, error) {
	ref := strings.TrimSpace(c.Args().First())
	if ref == "" {
		return nil, "", "", errors.NewInvalidRequest("particle id or name is required")
	}
	s, path, err := rt.open(c)
	if err != nil {
		return nil, "", "", err
	}
	return s, path, resolveParticle(s, ref), nil
}

// resolveParticle accepts an id or a unique display name. Anything else is
// returned unchanged so the session reports NOT_FOUND.
func resolveParticle(s *session.Session, ref string) string {
	var byName []string
	for _, p := range s.Snapshot().Particles {
		if p.ID == ref {
			return ref
		}
		if p.Name == ref {
			byName = append(byName, p.ID)
		}
	}
	if len(byName) == 1 {
		return byName[0]
	}
	return ref
}

func (rt *cliEnv) applyBounds(c *cli.Context, s *session.Session) error {
	if image := c.String("image"); image != "" {
		info, err := ops.ProbeImage(image, rt.cfg)
		if err != nil {
			return err
		}
		return s.SetCanvasBounds(float64(info.Width), float64(info.Height))
	}
	if canvas := c.String("canvas"); canvas != "" {
		w, h, err := parseCanvas(canvas)
		if err != nil {
			return err
		}
		return s.SetCanvasBounds(w, h)
	}
	rt.boundsFromImageReference(s)
	return nil
}

// boundsFromImageReference sizes the canvas from the stored image when it
// can be read. Labels are left unbounded otherwise.
func (rt *cliEnv) boundsFromImageReference(s *session.Session) {
	ref := s.Snapshot().ImageReference
	if ref == "" {
		return
	}
	info, err := ops.ProbeImage(ref, rt.cfg)
	if err != nil {
		rt.logger.Debug("image reference not readable, labels unbounded", "image", ref, "error", err)
		return
	}
	if err := s.SetCanvasBounds(float64(info.Width), float64(info.Height)); err != nil {
		rt.logger.Debug("image reference has no usable size", "image", ref, "error", err)
	}
}

// commit saves the workspace, records a recovery slot and prints result.
func (rt *cliEnv) commit(c *cli.Context, s *session.Session, path string, result any) error {
	saved, err := ops.SaveWorkspace(s, path, rt.cfg)
	if err != nil {
		return outputError(err)
	}
	return outputJSON(c, MutationOutput{
		Path:         saved.Path,
		Generation:   saved.Generation,
		RecoverySlot: rt.record(c, path, s),
		Result:       result,
	})
}

func (rt *cliEnv) commitParticle(c *cli.Context, s *session.Session, path, id string) error {
	p, ok := s.Particle(id)
	if !ok {
		return outputError(errors.NewNotFound(id))
	}
	return rt.commit(c, s, path, p)
}

// record stores a recovery slot. Failures are logged, never returned: the
// workspace itself is already on disk.
func (rt *cliEnv) record(c *cli.Context, path string, s *session.Session) string {
	if rt.db == nil {
		return ""
	}
	key, err := ops.WorkspaceKey(path)
	if err != nil {
		rt.logger.Warn("recovery slot not recorded", "path", path, "error", err)
		return ""
	}
	out, err := ops.RecordRecovery(c.Context, rt.db, rt.cfg, key, s)
	if err != nil {
		rt.logger.Warn("recovery slot not recorded", "path", path, "error", err)
		return ""
	}
	return out.SlotID
}

// Helper functions

// outputJSON marshals result to the app writer as JSON.
func outputJSON(c *cli.Context, v any) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	if pErr, ok := errors.As(err); ok {
		return cli.Exit(fmt.Sprintf("[%s] %s", pErr.Code, pErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// warnUnknownDisabled reports disabled_tools and disabled_types entries that
// match nothing.
func warnUnknownDisabled(w io.Writer, cfg *config.Config) {
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		fmt.Fprintf(w, "warning: unknown disabled_tools: %s\n", strings.Join(unknown, ", "))
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		fmt.Fprintf(w, "warning: unknown disabled_types: %s\n", strings.Join(unknown, ", "))
	}
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// parseCanvas parses "800x600" into width and height.
func parseCanvas(s string) (float64, float64, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, errors.NewInvalidRequest(fmt.Sprintf("canvas must be WIDTHxHEIGHT, got %q", s))
	}
	w, err := strconv.ParseFloat(ws, 64)
	if err != nil {
		return 0, 0, errors.NewInvalidRequest(fmt.Sprintf("invalid canvas width %q", ws))
	}
	h, err := strconv.ParseFloat(hs, 64)
	if err != nil {
		return 0, 0, errors.NewInvalidRequest(fmt.Sprintf("invalid canvas height %q", hs))
	}
	if w <= 0 || h <= 0 {
		return 0, 0, errors.NewInvalidRequest("canvas width and height must be positive")
	}
	return w, h, nil
}
