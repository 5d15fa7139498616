// Package memory provides an in-process store for appointment series,
// occurrences and allocations. Records are kept by id in flat maps and every
// read returns a copy.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/moby/locker"

	"github.com/example/activities-management/internal/allocation"
	"github.com/example/activities-management/internal/appointment"
	"github.com/example/activities-management/internal/persistence"
	"github.com/example/activities-management/internal/scheduler"
)

// Store implements the series, occurrence and allocation repositories.
type Store struct {
	mu          sync.RWMutex
	series      map[string]appointment.Series
	occurrences map[string]appointment.Occurrence
	allocations map[string]allocation.Allocation

	// Per-record locks serialise read-modify-write updates of one record.
	occurrenceLocks *locker.Locker
	allocationLocks *locker.Locker
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		series:          make(map[string]appointment.Series),
		occurrences:     make(map[string]appointment.Occurrence),
		allocations:     make(map[string]allocation.Allocation),
		occurrenceLocks: locker.New(),
		allocationLocks: locker.New(),
	}
}

// Close releases resources held by the store. No-op for the in-memory implementation.
func (s *Store) Close() error {
	return nil
}

// Ping reports the store as healthy.
func (s *Store) Ping(context.Context) error {
	return nil
}

// --- SeriesRepository implementation ---

// CreateSeries stores a series and its occurrences in one step.
func (s *Store) CreateSeries(ctx context.Context, series appointment.Series, occurrences []appointment.Occurrence) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.series[series.ID]; ok {
		return fmt.Errorf("memory: series %s: %w", series.ID, persistence.ErrDuplicate)
	}
	for _, o := range occurrences {
		if _, ok := s.occurrences[o.ID]; ok {
			return fmt.Errorf("memory: occurrence %s: %w", o.ID, persistence.ErrDuplicate)
		}
	}

	s.series[series.ID] = cloneSeries(series)
	for _, o := range occurrences {
		s.occurrences[o.ID] = o.Clone()
	}
	return nil
}

// GetSeries retrieves a series by id.
func (s *Store) GetSeries(ctx context.Context, id string) (appointment.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series, ok := s.series[id]
	if !ok {
		return appointment.Series{}, persistence.ErrNotFound
	}
	return cloneSeries(series), nil
}

// --- OccurrenceRepository implementation ---

// GetOccurrence retrieves an occurrence by id.
func (s *Store) GetOccurrence(ctx context.Context, id string) (appointment.Occurrence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.occurrences[id]
	if !ok {
		return appointment.Occurrence{}, persistence.ErrNotFound
	}
	return o.Clone(), nil
}

// ListSeriesOccurrences returns every occurrence of a series in chronological order.
func (s *Store) ListSeriesOccurrences(ctx context.Context, seriesID string) ([]appointment.Occurrence, error) {
	return s.filterOccurrences(func(o appointment.Occurrence) bool {
		return o.SeriesID == seriesID
	}), nil
}

// OccurrencesFrom returns occurrences of a series dated on or after from.
func (s *Store) OccurrencesFrom(ctx context.Context, seriesID string, from scheduler.Date) ([]appointment.Occurrence, error) {
	return s.filterOccurrences(func(o appointment.Occurrence) bool {
		return o.SeriesID == seriesID && !o.Date.Before(from)
	}), nil
}

// ListPersonOccurrences returns occurrences at a prison dated on or after
// from where the person is an active attendee.
func (s *Store) ListPersonOccurrences(ctx context.Context, prisonCode, personID string, from scheduler.Date) ([]appointment.Occurrence, error) {
	return s.filterOccurrences(func(o appointment.Occurrence) bool {
		return o.PrisonCode == prisonCode && !o.Date.Before(from) && o.HasAttendee(personID)
	}), nil
}

// UpdateOccurrence runs mutate while holding the occurrence lock and stores
// the result when mutate reports a change.
func (s *Store) UpdateOccurrence(ctx context.Context, id string, mutate func(o *appointment.Occurrence) (bool, error)) (appointment.Occurrence, bool, error) {
	s.occurrenceLocks.Lock(id)
	defer func() { _ = s.occurrenceLocks.Unlock(id) }()

	if err := ctx.Err(); err != nil {
		return appointment.Occurrence{}, false, err
	}
	current, err := s.GetOccurrence(ctx, id)
	if err != nil {
		return appointment.Occurrence{}, false, err
	}

	working := current.Clone()
	changed, err := mutate(&working)
	if err != nil || !changed {
		return current, false, err
	}

	s.mu.Lock()
	s.occurrences[id] = working.Clone()
	s.mu.Unlock()
	return working, true, nil
}

func (s *Store) filterOccurrences(keep func(appointment.Occurrence) bool) []appointment.Occurrence {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]appointment.Occurrence, 0)
	for _, o := range s.occurrences {
		if keep(o) {
			result = append(result, o.Clone())
		}
	}
	appointment.SortChronologically(result)
	return result
}

// --- AllocationRepository implementation ---

// CreateAllocation stores a new allocation.
func (s *Store) CreateAllocation(ctx context.Context, a allocation.Allocation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.allocations[a.ID]; ok {
		return fmt.Errorf("memory: allocation %s: %w", a.ID, persistence.ErrDuplicate)
	}
	s.allocations[a.ID] = a.Clone()
	return nil
}

// GetAllocation retrieves an allocation by id.
func (s *Store) GetAllocation(ctx context.Context, id string) (allocation.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.allocations[id]
	if !ok {
		return allocation.Allocation{}, persistence.ErrNotFound
	}
	return a.Clone(), nil
}

// ListPersonAllocations returns every allocation a person holds at a prison, ordered by id.
func (s *Store) ListPersonAllocations(ctx context.Context, prisonCode, personID string) ([]allocation.Allocation, error) {
	return s.filterAllocations(func(a allocation.Allocation) bool {
		return a.PrisonCode == prisonCode && a.PersonID == personID
	}), nil
}

// ListAllocationsWithPlannedChanges returns allocations with a pending planned change.
func (s *Store) ListAllocationsWithPlannedChanges(ctx context.Context) ([]allocation.Allocation, error) {
	return s.filterAllocations(allocation.Allocation.HasPlannedChange), nil
}

// UpdateAllocation runs mutate while holding the allocation lock and stores
// the result when mutate reports a change.
func (s *Store) UpdateAllocation(ctx context.Context, id string, mutate func(a *allocation.Allocation) (bool, error)) (allocation.Allocation, bool, error) {
	s.allocationLocks.Lock(id)
	defer func() { _ = s.allocationLocks.Unlock(id) }()

	if err := ctx.Err(); err != nil {
		return allocation.Allocation{}, false, err
	}
	current, err := s.GetAllocation(ctx, id)
	if err != nil {
		return allocation.Allocation{}, false, err
	}

	working := current.Clone()
	changed, err := mutate(&working)
	if err != nil || !changed {
		return current, false, err
	}

	s.mu.Lock()
	s.allocations[id] = working.Clone()
	s.mu.Unlock()
	return working, true, nil
}

func (s *Store) filterAllocations(keep func(allocation.Allocation) bool) []allocation.Allocation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]allocation.Allocation, 0)
	for _, a := range s.allocations {
		if keep(a) {
			result = append(result, a.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func cloneSeries(series appointment.Series) appointment.Series {
	clone := series
	if series.Schedule != nil {
		schedule := *series.Schedule
		clone.Schedule = &schedule
	}
	clone.OccurrenceIDs = append([]string(nil), series.OccurrenceIDs...)
	return clone
}
