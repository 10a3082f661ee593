package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vxco/phase/internal/errors"
)

// Slot is one recovery snapshot of a workspace document.
type Slot struct {
	ID            string `json:"id"`
	WorkspaceKey  string `json:"workspace_key"`
	Name          string `json:"name"`
	Generation    uint64 `json:"generation"`
	ParticleCount int    `json:"particle_count"`
	Document      []byte `json:"-"`
	CreatedAt     int64  `json:"created_at"`
}

var (
	entropyMu sync.Mutex
	entropy   io.Reader = ulid.Monotonic(rand.Reader, 0)
)

// newSlotID returns a ULID that sorts after every id issued before it by
// this process, so id order is insertion order.
func newSlotID(now time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), entropy).String()
}

// InsertSlot stores a new slot. ID and CreatedAt are assigned here.
func InsertSlot(ctx context.Context, db *sql.DB, s *Slot) error {
	if s.WorkspaceKey == "" {
		return errors.NewInvalidRequest("workspace key is required")
	}
	now := time.Now()
	s.ID = newSlotID(now)
	s.CreatedAt = now.Unix()

	query := `
		INSERT INTO recovery_slots (
			id, workspace_key, name, generation, particle_count, document, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.ExecContext(ctx, query,
		s.ID, s.WorkspaceKey, s.Name, int64(s.Generation), s.ParticleCount, s.Document, s.CreatedAt,
	)
	if err != nil {
		return errors.NewInternal(err)
	}
	return nil
}

// LatestSlot returns the newest slot for a workspace, document included.
func LatestSlot(ctx context.Context, db *sql.DB, key string) (*Slot, error) {
	query := `
		SELECT id, workspace_key, name, generation, particle_count, document, created_at
		FROM recovery_slots
		WHERE workspace_key = ?
		ORDER BY id DESC
		LIMIT 1
	`
	s, err := scanSlot(db.QueryRowContext(ctx, query, key))
	if err == sql.ErrNoRows {
		return nil, errors.NewRecoveryNotFound(key)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// GetSlot returns one slot by id, document included.
func GetSlot(ctx context.Context, db *sql.DB, id string) (*Slot, error) {
	query := `
		SELECT id, workspace_key, name, generation, particle_count, document, created_at
		FROM recovery_slots
		WHERE id = ?
	`
	s, err := scanSlot(db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, errors.NewRecoveryNotFound(id)
	}
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	return s, nil
}

// ListSlots returns a workspace's slots, newest first, without documents.
func ListSlots(ctx context.Context, db *sql.DB, key string) ([]Slot, error) {
	query := `
		SELECT id, workspace_key, name, generation, particle_count, created_at
		FROM recovery_slots
		WHERE workspace_key = ?
		ORDER BY id DESC
	`
	rows, err := db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, errors.NewInternal(err)
	}
	defer rows.Close()

	var out []Slot
	for rows.Next() {
		var (
			s   Slot
			gen int64
		)
		if err := rows.Scan(&s.ID, &s.WorkspaceKey, &s.Name, &gen, &s.ParticleCount, &s.CreatedAt); err != nil {
			return nil, errors.NewInternal(err)
		}
		s.Generation = uint64(gen)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewInternal(err)
	}
	return out, nil
}

// PruneSlots keeps the newest keep slots of a workspace and deletes the
// rest. It returns how many were deleted.
func PruneSlots(ctx context.Context, db *sql.DB, key string, keep int) (int64, error) {
	if keep < 0 {
		keep = 0
	}
	query := `
		DELETE FROM recovery_slots
		WHERE workspace_key = ? AND id NOT IN (
			SELECT id FROM recovery_slots
			WHERE workspace_key = ?
			ORDER BY id DESC
			LIMIT ?
		)
	`
	result, err := db.ExecContext(ctx, query, key, key, keep)
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.NewInternal(err)
	}
	return n, nil
}

func scanSlot(row *sql.Row) (*Slot, error) {
	var (
		s   Slot
		gen int64
	)
	if err := row.Scan(&s.ID, &s.WorkspaceKey, &s.Name, &gen, &s.ParticleCount, &s.Document, &s.CreatedAt); err != nil {
		return nil, err
	}
	s.Generation = uint64(gen)
	return &s, nil
}
