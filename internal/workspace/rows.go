package workspace

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/vxco/phase/internal/units"
)

// Row is one export line.
type Row struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Height           float64    `json:"height"`
	Unit             units.Unit `json:"unit"`
	RelativePosition float64    `json:"relative_position"`
	Notes            string     `json:"notes"`
}

// CSVHeader is always written, even for an empty workspace.
var CSVHeader = []string{"Name", "Height", "Unit", "RelativePosition", "Notes"}

// Rows returns one row per particle in creation order.
func (w *Workspace) Rows() []Row {
	rows := make([]Row, 0, len(w.particles))
	for _, p := range w.particles {
		rows = append(rows, Row{
			ID:               p.ID,
			Name:             p.Name(),
			Height:           p.result.Height,
			Unit:             p.result.Unit,
			RelativePosition: p.result.RelativePosition,
			Notes:            p.Notes,
		})
	}
	return rows
}

// WriteCSV writes the header and rows. Heights use precision decimals,
// relative positions four.
func WriteCSV(out io.Writer, rows []Row, precision int) error {
	cw := csv.NewWriter(out)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, r := range rows {
		record := []string{
			r.Name,
			strconv.FormatFloat(r.Height, 'f', precision, 64),
			r.Unit.Symbol(),
			strconv.FormatFloat(r.RelativePosition, 'f', 4, 64),
			r.Notes,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
