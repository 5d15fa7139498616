package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/example/activities-management/internal/allocation"
	"github.com/example/activities-management/internal/persistence"
)

// CreateAllocation inserts a new allocation.
func (s *Store) CreateAllocation(ctx context.Context, a allocation.Allocation) error {
	document, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("sqlstore: encode allocation %s: %w", a.ID, err)
	}

	_, err = s.db.ExecContext(ctx, s.q(`
		INSERT INTO allocations (id, prison_code, person_id, status, has_planned_change, document)
		VALUES (?, ?, ?, ?, ?, ?)`),
		a.ID, a.PrisonCode, a.PersonID, string(a.Status), a.HasPlannedChange(), string(document),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert allocation %s: %w", a.ID, mapError(err))
	}
	return nil
}

// GetAllocation retrieves an allocation by id.
func (s *Store) GetAllocation(ctx context.Context, id string) (allocation.Allocation, error) {
	return s.loadAllocation(ctx, s.db, id, "")
}

// ListPersonAllocations returns every allocation a person holds at a prison, ordered by id.
func (s *Store) ListPersonAllocations(ctx context.Context, prisonCode, personID string) ([]allocation.Allocation, error) {
	return s.queryAllocations(ctx, `
		SELECT document FROM allocations
		WHERE prison_code = ? AND person_id = ?
		ORDER BY id`,
		prisonCode, personID,
	)
}

// ListAllocationsWithPlannedChanges returns allocations with a pending planned change.
func (s *Store) ListAllocationsWithPlannedChanges(ctx context.Context) ([]allocation.Allocation, error) {
	return s.queryAllocations(ctx, `
		SELECT document FROM allocations
		WHERE has_planned_change = ?
		ORDER BY id`,
		true,
	)
}

// UpdateAllocation loads the allocation inside a write transaction, runs
// mutate on a copy and writes the copy back when mutate reports a change.
func (s *Store) UpdateAllocation(ctx context.Context, id string, mutate func(a *allocation.Allocation) (bool, error)) (allocation.Allocation, bool, error) {
	var (
		result  allocation.Allocation
		changed bool
	)
	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		current, err := s.loadAllocation(ctx, tx, id, s.forUpdate())
		if err != nil {
			return err
		}
		result = current

		working := current.Clone()
		ok, err := mutate(&working)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		document, err := json.Marshal(working)
		if err != nil {
			return fmt.Errorf("sqlstore: encode allocation %s: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, s.q(`
			UPDATE allocations SET status = ?, has_planned_change = ?, document = ?
			WHERE id = ?`),
			string(working.Status), working.HasPlannedChange(), string(document), id,
		)
		if err != nil {
			return fmt.Errorf("sqlstore: update allocation %s: %w", id, mapError(err))
		}
		if rows, err := res.RowsAffected(); err == nil && rows == 0 {
			return fmt.Errorf("sqlstore: update allocation %s: %w", id, persistence.ErrNotFound)
		}

		result, changed = working, true
		return nil
	})
	if err != nil {
		return allocation.Allocation{}, false, err
	}
	return result, changed, nil
}

func (s *Store) loadAllocation(ctx context.Context, db rowQueryer, id, suffix string) (allocation.Allocation, error) {
	var document []byte
	err := db.QueryRowContext(ctx, s.q(`SELECT document FROM allocations WHERE id = ?`+suffix), id).Scan(&document)
	if err != nil {
		return allocation.Allocation{}, fmt.Errorf("sqlstore: get allocation %s: %w", id, mapError(err))
	}
	return decodeAllocation(document)
}

func (s *Store) queryAllocations(ctx context.Context, query string, args ...any) ([]allocation.Allocation, error) {
	documents, err := scanDocuments(ctx, s.db, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list allocations: %w", err)
	}

	allocations := make([]allocation.Allocation, 0, len(documents))
	for _, document := range documents {
		a, err := decodeAllocation(document)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, nil
}

func decodeAllocation(document []byte) (allocation.Allocation, error) {
	var a allocation.Allocation
	if err := json.Unmarshal(document, &a); err != nil {
		return allocation.Allocation{}, fmt.Errorf("sqlstore: decode allocation: %w", err)
	}
	return a, nil
}
