package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/activities-management/internal/appointment"
	"github.com/example/activities-management/internal/persistence"
	"github.com/example/activities-management/internal/scheduler"
)

// CreateSeries inserts a series and its occurrences in one transaction.
func (s *Store) CreateSeries(ctx context.Context, series appointment.Series, occurrences []appointment.Occurrence) error {
	document, err := json.Marshal(series)
	if err != nil {
		return fmt.Errorf("sqlstore: encode series %s: %w", series.ID, err)
	}

	return s.withTransaction(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, s.q(`
			INSERT INTO appointment_series (id, prison_code, created_at, document)
			VALUES (?, ?, ?, ?)`),
			series.ID, series.PrisonCode, series.CreatedAt.UTC().Format(time.RFC3339Nano), string(document),
		)
		if err != nil {
			return fmt.Errorf("sqlstore: insert series %s: %w", series.ID, mapError(err))
		}

		for _, o := range occurrences {
			if err := s.insertOccurrence(ctx, tx, o); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetSeries retrieves a series by id.
func (s *Store) GetSeries(ctx context.Context, id string) (appointment.Series, error) {
	var document []byte
	err := s.db.QueryRowContext(ctx, s.q(`SELECT document FROM appointment_series WHERE id = ?`), id).Scan(&document)
	if err != nil {
		return appointment.Series{}, fmt.Errorf("sqlstore: get series %s: %w", id, mapError(err))
	}

	var series appointment.Series
	if err := json.Unmarshal(document, &series); err != nil {
		return appointment.Series{}, fmt.Errorf("sqlstore: decode series %s: %w", id, err)
	}
	return series, nil
}

// GetOccurrence retrieves an occurrence by id.
func (s *Store) GetOccurrence(ctx context.Context, id string) (appointment.Occurrence, error) {
	return s.loadOccurrence(ctx, s.db, id, "")
}

// ListSeriesOccurrences returns every occurrence of a series in chronological order.
func (s *Store) ListSeriesOccurrences(ctx context.Context, seriesID string) ([]appointment.Occurrence, error) {
	return s.queryOccurrences(ctx, `SELECT document FROM appointment_occurrences WHERE series_id = ?`, seriesID)
}

// OccurrencesFrom returns occurrences of a series dated on or after from.
func (s *Store) OccurrencesFrom(ctx context.Context, seriesID string, from scheduler.Date) ([]appointment.Occurrence, error) {
	return s.queryOccurrences(ctx, `
		SELECT document FROM appointment_occurrences
		WHERE series_id = ? AND occurrence_date >= ?`,
		seriesID, from.String(),
	)
}

// ListPersonOccurrences returns occurrences at a prison dated on or after
// from where the person is an active attendee.
func (s *Store) ListPersonOccurrences(ctx context.Context, prisonCode, personID string, from scheduler.Date) ([]appointment.Occurrence, error) {
	return s.queryOccurrences(ctx, `
		SELECT o.document FROM appointment_occurrences o
		JOIN occurrence_attendees a ON a.occurrence_id = o.id
		WHERE o.prison_code = ? AND a.person_id = ? AND o.occurrence_date >= ?`,
		prisonCode, personID, from.String(),
	)
}

// UpdateOccurrence loads the occurrence inside a write transaction, runs
// mutate on a copy and writes the copy back when mutate reports a change.
func (s *Store) UpdateOccurrence(ctx context.Context, id string, mutate func(o *appointment.Occurrence) (bool, error)) (appointment.Occurrence, bool, error) {
	var (
		result  appointment.Occurrence
		changed bool
	)
	err := s.withTransaction(ctx, func(tx *sql.Tx) error {
		current, err := s.loadOccurrence(ctx, tx, id, s.forUpdate())
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

		if err := s.writeOccurrence(ctx, tx, working); err != nil {
			return err
		}
		result, changed = working, true
		return nil
	})
	if err != nil {
		return appointment.Occurrence{}, false, err
	}
	return result, changed, nil
}

type rowQueryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) loadOccurrence(ctx context.Context, db rowQueryer, id, suffix string) (appointment.Occurrence, error) {
	var document []byte
	err := db.QueryRowContext(ctx, s.q(`SELECT document FROM appointment_occurrences WHERE id = ?`+suffix), id).Scan(&document)
	if err != nil {
		return appointment.Occurrence{}, fmt.Errorf("sqlstore: get occurrence %s: %w", id, mapError(err))
	}
	return decodeOccurrence(document)
}

func (s *Store) queryOccurrences(ctx context.Context, query string, args ...any) ([]appointment.Occurrence, error) {
	documents, err := scanDocuments(ctx, s.db, s.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list occurrences: %w", err)
	}

	occurrences := make([]appointment.Occurrence, 0, len(documents))
	for _, document := range documents {
		o, err := decodeOccurrence(document)
		if err != nil {
			return nil, err
		}
		occurrences = append(occurrences, o)
	}
	appointment.SortChronologically(occurrences)
	return occurrences, nil
}

func (s *Store) insertOccurrence(ctx context.Context, tx *sql.Tx, o appointment.Occurrence) error {
	document, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("sqlstore: encode occurrence %s: %w", o.ID, err)
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO appointment_occurrences
			(id, series_id, prison_code, sequence_number, occurrence_date, start_time, status, document)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		o.ID, o.SeriesID, o.PrisonCode, o.Sequence, o.Date.String(), o.StartTime.String(), string(o.Status), string(document),
	)
	if err != nil {
		return fmt.Errorf("sqlstore: insert occurrence %s: %w", o.ID, mapError(err))
	}
	return s.replaceAttendees(ctx, tx, o)
}

func (s *Store) writeOccurrence(ctx context.Context, tx *sql.Tx, o appointment.Occurrence) error {
	document, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("sqlstore: encode occurrence %s: %w", o.ID, err)
	}

	result, err := tx.ExecContext(ctx, s.q(`
		UPDATE appointment_occurrences
		SET occurrence_date = ?, start_time = ?, status = ?, document = ?
		WHERE id = ?`),
		o.Date.String(), o.StartTime.String(), string(o.Status), string(document), o.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: update occurrence %s: %w", o.ID, mapError(err))
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("sqlstore: update occurrence %s: %w", o.ID, persistence.ErrNotFound)
	}
	return s.replaceAttendees(ctx, tx, o)
}

// replaceAttendees rewrites the attendee index with the active attendees.
func (s *Store) replaceAttendees(ctx context.Context, tx *sql.Tx, o appointment.Occurrence) error {
	if _, err := tx.ExecContext(ctx, s.q(`DELETE FROM occurrence_attendees WHERE occurrence_id = ?`), o.ID); err != nil {
		return fmt.Errorf("sqlstore: clear attendees of %s: %w", o.ID, mapError(err))
	}
	for _, attendee := range o.ActiveAttendees() {
		_, err := tx.ExecContext(ctx, s.q(`INSERT INTO occurrence_attendees (occurrence_id, person_id) VALUES (?, ?)`), o.ID, attendee.PersonID)
		if err != nil && !errors.Is(mapError(err), persistence.ErrDuplicate) {
			return fmt.Errorf("sqlstore: index attendee %s on %s: %w", attendee.PersonID, o.ID, mapError(err))
		}
	}
	return nil
}

func decodeOccurrence(document []byte) (appointment.Occurrence, error) {
	var o appointment.Occurrence
	if err := json.Unmarshal(document, &o); err != nil {
		return appointment.Occurrence{}, fmt.Errorf("sqlstore: decode occurrence: %w", err)
	}
	return o, nil
}
