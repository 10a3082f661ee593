package ops

import (
	"context"
	"database/sql"
	"io"

	"github.com/vxco/phase/internal/config"
	"github.com/vxco/phase/internal/db"
	"github.com/vxco/phase/internal/errors"
	"github.com/vxco/phase/internal/session"
)

// RecordOutput contains the result of RecordRecovery.
type RecordOutput struct {
	SlotID     string `json:"slot_id"`
	Generation uint64 `json:"generation"`
	Pruned     int64  `json:"pruned"`
}

// RecordRecovery stores the session's current document as a recovery slot
// and prunes the workspace to recovery_max_slots.
func RecordRecovery(ctx context.Context, database *sql.DB, cfg *config.Config, key string, s *session.Session) (*RecordOutput, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	data, gen, err := s.Checkpoint()
	if err != nil {
		return nil, err
	}

	slot := &db.Slot{
		WorkspaceKey:  key,
		Name:          s.Name(),
		Generation:    gen,
		ParticleCount: s.Len(),
		Document:      data,
	}
	if err := db.InsertSlot(ctx, database, slot); err != nil {
		return nil, err
	}

	keep := cfg.RecoveryMaxSlots
	if keep <= 0 {
		keep = config.DefaultConfig().RecoveryMaxSlots
	}
	pruned, err := db.PruneSlots(ctx, database, key, keep)
	if err != nil {
		return nil, err
	}

	return &RecordOutput{SlotID: slot.ID, Generation: gen, Pruned: pruned}, nil
}

// ListRecovery returns a workspace's slots, newest first.
func ListRecovery(ctx context.Context, database *sql.DB, key string) ([]db.Slot, error) {
	slots, err := db.ListSlots(ctx, database, key)
	if err != nil {
		return nil, err
	}
	if slots == nil {
		slots = []db.Slot{}
	}
	return slots, nil
}

// RecoverInput contains parameters for Recover.
type RecoverInput struct {
	Key    string // workspace key the slot belongs to
	SlotID string // optional, default: newest slot for Key
	Path   string // destination .phw
}

// RecoverOutput contains the result of Recover.
type RecoverOutput struct {
	Path          string `json:"path"`
	SlotID        string `json:"slot_id"`
	Generation    uint64 `json:"generation"`
	ParticleCount int    `json:"particle_count"`
	CreatedAt     int64  `json:"created_at"`
}

// Recover writes a stored slot back to disk. The document is decoded first
// so a damaged slot never replaces a file.
func Recover(ctx context.Context, database *sql.DB, cfg *config.Config, input RecoverInput) (*RecoverOutput, error) {
	if err := ValidatePath(input.Path, PathCheckWrite, KindWorkspace, cfg); err != nil {
		return nil, err
	}

	var (
		slot *db.Slot
		err  error
	)
	if input.SlotID != "" {
		slot, err = db.GetSlot(ctx, database, input.SlotID)
		if err == nil && input.Key != "" && slot.WorkspaceKey != input.Key {
			err = errors.NewRecoveryNotFound(input.SlotID)
		}
	} else {
		slot, err = db.LatestSlot(ctx, database, input.Key)
	}
	if err != nil {
		return nil, err
	}

	if _, err := session.Open(slot.Document, cfg); err != nil {
		return nil, err
	}
	err = writeFileAtomic(input.Path, func(w io.Writer) error {
		_, err := w.Write(slot.Document)
		return err
	})
	if err != nil {
		return nil, err
	}

	return &RecoverOutput{
		Path:          input.Path,
		SlotID:        slot.ID,
		Generation:    slot.Generation,
		ParticleCount: slot.ParticleCount,
		CreatedAt:     slot.CreatedAt,
	}, nil
}
