package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/example/activities-management/internal/allocation"
	"github.com/example/activities-management/internal/appointment"
	"github.com/example/activities-management/internal/persistence"
	"github.com/example/activities-management/internal/persistence/migration"
	"github.com/example/activities-management/internal/recurrence"
	"github.com/example/activities-management/internal/scheduler"
)

var referenceTime = time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()

	store, err := Open(ctx, migration.DialectSQLite, filepath.Join(t.TempDir(), "activities.db"), quietLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if _, err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}
	return store
}

// seedSeries stores a weekly series of count occurrences from 2024-01-01,
// each attended by the given people.
func seedSeries(t *testing.T, store *Store, id string, count int, personIDs ...string) []appointment.Occurrence {
	t.Helper()

	series := appointment.Series{
		ID:           id,
		PrisonCode:   "MDI",
		CategoryCode: "CHAP",
		LocationID:   "loc-chapel",
		Schedule:     &appointment.Schedule{Frequency: recurrence.FrequencyWeekly, Count: count},
		StartDate:    scheduler.NewDate(2024, time.January, 1),
		StartTime:    scheduler.NewTimeOfDay(9, 0),
		EndTime:      scheduler.NewTimeOfDay(10, 30),
		CreatedAt:    referenceTime,
		CreatedBy:    "activities-ui",
	}

	occurrences := make([]appointment.Occurrence, 0, count)
	for i := 0; i < count; i++ {
		o := appointment.Occurrence{
			ID:           fmt.Sprintf("%s-occ-%d", id, i+1),
			SeriesID:     id,
			PrisonCode:   "MDI",
			Sequence:     i + 1,
			Date:         series.StartDate.AddDays(7 * i),
			StartTime:    series.StartTime,
			EndTime:      series.EndTime,
			CategoryCode: series.CategoryCode,
			LocationID:   series.LocationID,
			Status:       appointment.StatusScheduled,
			Attendees:    []appointment.Attendee{},
		}
		for j, personID := range personIDs {
			o.Attendees = append(o.Attendees, appointment.Attendee{
				ID:         fmt.Sprintf("%s-att-%d", o.ID, j+1),
				PersonID:   personID,
				Attendance: appointment.AttendanceUnmarked,
			})
		}
		series.OccurrenceIDs = append(series.OccurrenceIDs, o.ID)
		occurrences = append(occurrences, o)
	}

	if err := store.CreateSeries(context.Background(), series, occurrences); err != nil {
		t.Fatalf("CreateSeries failed: %v", err)
	}
	return occurrences
}

func newAllocation(id, personID string) allocation.Allocation {
	return allocation.Allocation{
		ID:         id,
		PersonID:   personID,
		PrisonCode: "MDI",
		ScheduleID: "schedule-woodwork",
		StartDate:  scheduler.NewDate(2024, time.February, 1),
		Status:     allocation.StatusActive,
		History:    []allocation.StatusChange{},
		CreatedAt:  referenceTime,
		CreatedBy:  "activities-ui",
	}
}

func TestSQLiteDSN(t *testing.T) {
	t.Parallel()

	got := sqliteDSN("/var/lib/activities.db")
	want := "file:/var/lib/activities.db?_txlock=immediate&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	if got != want {
		t.Fatalf("unexpected dsn %q", got)
	}
	if got := sqliteDSN("file:test.db?mode=rwc"); !strings.HasPrefix(got, "file:test.db?mode=rwc&_txlock=immediate") {
		t.Fatalf("expected existing query to be extended, got %q", got)
	}
}

func TestSeriesRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	occurrences := seedSeries(t, store, "series-1", 3, "A1234BC")

	series, err := store.GetSeries(ctx, "series-1")
	if err != nil {
		t.Fatalf("GetSeries failed: %v", err)
	}
	if series.Schedule == nil || series.Schedule.Count != 3 || len(series.OccurrenceIDs) != 3 || !series.CreatedAt.Equal(referenceTime) {
		t.Fatalf("unexpected series %#v", series)
	}

	listed, err := store.ListSeriesOccurrences(ctx, "series-1")
	if err != nil {
		t.Fatalf("ListSeriesOccurrences failed: %v", err)
	}
	if len(listed) != 3 {
		t.Fatalf("expected 3 occurrences, got %d", len(listed))
	}
	for i, o := range listed {
		if o.ID != occurrences[i].ID || o.Date != occurrences[i].Date || !o.HasAttendee("A1234BC") {
			t.Fatalf("occurrence %d: unexpected %#v", i, o)
		}
	}

	if _, err := store.GetSeries(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetOccurrence(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateSeriesRejectsDuplicatesAtomically(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	existing := seedSeries(t, store, "series-1", 1)

	clash := appointment.Series{ID: "series-2", PrisonCode: "MDI", CreatedAt: referenceTime}
	err := store.CreateSeries(ctx, clash, []appointment.Occurrence{{
		ID:       existing[0].ID,
		SeriesID: "series-2",
		Sequence: 1,
		Date:     existing[0].Date,
		Status:   appointment.StatusScheduled,
	}})
	if !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if _, err := store.GetSeries(ctx, "series-2"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected series insert to be rolled back, got %v", err)
	}
}

func TestOccurrenceQueries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	seedSeries(t, store, "series-1", 4, "A1234BC", "B2345CD")
	seedSeries(t, store, "series-2", 2, "B2345CD")

	from, err := store.OccurrencesFrom(ctx, "series-1", scheduler.NewDate(2024, time.January, 8))
	if err != nil {
		t.Fatalf("OccurrencesFrom failed: %v", err)
	}
	if len(from) != 3 || from[0].Sequence != 2 || from[2].Sequence != 4 {
		t.Fatalf("unexpected occurrences %v", from)
	}

	personal, err := store.ListPersonOccurrences(ctx, "MDI", "B2345CD", scheduler.NewDate(2024, time.January, 8))
	if err != nil {
		t.Fatalf("ListPersonOccurrences failed: %v", err)
	}
	if len(personal) != 4 {
		t.Fatalf("expected 4 occurrences across both series, got %d", len(personal))
	}
	for i := 1; i < len(personal); i++ {
		if personal[i].Date.Before(personal[i-1].Date) {
			t.Fatalf("expected chronological order, got %v", personal)
		}
	}

	other, err := store.ListPersonOccurrences(ctx, "LEI", "B2345CD", scheduler.NewDate(2024, time.January, 1))
	if err != nil || len(other) != 0 {
		t.Fatalf("expected no occurrences at another prison, got %v (%v)", other, err)
	}
}

func TestUpdateOccurrence(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	occurrences := seedSeries(t, store, "series-1", 2, "A1234BC")
	id := occurrences[1].ID

	t.Run("unchanged mutation writes nothing", func(t *testing.T) {
		_, changed, err := store.UpdateOccurrence(ctx, id, func(o *appointment.Occurrence) (bool, error) {
			o.Note = "discarded"
			return false, nil
		})
		if err != nil || changed {
			t.Fatalf("expected no change, got changed=%v err=%v", changed, err)
		}
		stored, _ := store.GetOccurrence(ctx, id)
		if stored.Note != "" {
			t.Fatalf("expected note untouched, got %q", stored.Note)
		}
	})

	t.Run("mutation error is returned unchanged", func(t *testing.T) {
		sentinel := errors.New("rejected")
		_, _, err := store.UpdateOccurrence(ctx, id, func(o *appointment.Occurrence) (bool, error) {
			o.Note = "discarded"
			return true, sentinel
		})
		if !errors.Is(err, sentinel) {
			t.Fatalf("expected sentinel, got %v", err)
		}
	})

	t.Run("change is persisted and indexed", func(t *testing.T) {
		removedAt := referenceTime.Add(time.Hour)
		updated, changed, err := store.UpdateOccurrence(ctx, id, func(o *appointment.Occurrence) (bool, error) {
			o.Date = o.Date.AddDays(2)
			o.Attendees[0].Removal = &appointment.Removal{At: removedAt, By: "activities-ui", Reason: "EDITED"}
			o.Attendees = append(o.Attendees, appointment.Attendee{ID: "att-new", PersonID: "C3456DE", Attendance: appointment.AttendanceUnmarked})
			return true, nil
		})
		if err != nil || !changed {
			t.Fatalf("UpdateOccurrence failed: changed=%v err=%v", changed, err)
		}
		if updated.Date != scheduler.NewDate(2024, time.January, 10) {
			t.Fatalf("unexpected returned date %s", updated.Date)
		}

		stored, err := store.GetOccurrence(ctx, id)
		if err != nil {
			t.Fatalf("GetOccurrence failed: %v", err)
		}
		if stored.HasAttendee("A1234BC") || !stored.HasAttendee("C3456DE") || len(stored.Attendees) != 2 {
			t.Fatalf("unexpected attendees %#v", stored.Attendees)
		}

		removed, _ := store.ListPersonOccurrences(ctx, "MDI", "A1234BC", scheduler.NewDate(2024, time.January, 1))
		if len(removed) != 1 || removed[0].ID != occurrences[0].ID {
			t.Fatalf("expected removed attendee to drop out of the index, got %v", removed)
		}
		added, _ := store.ListPersonOccurrences(ctx, "MDI", "C3456DE", scheduler.NewDate(2024, time.January, 9))
		if len(added) != 1 || added[0].ID != id {
			t.Fatalf("expected new attendee and new date to be indexed, got %v", added)
		}
	})

	t.Run("missing occurrence", func(t *testing.T) {
		_, _, err := store.UpdateOccurrence(ctx, "missing", func(*appointment.Occurrence) (bool, error) { return true, nil })
		if !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestAllocationRepository(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	for _, a := range []allocation.Allocation{
		newAllocation("alloc-2", "A1234BC"),
		newAllocation("alloc-1", "A1234BC"),
		newAllocation("alloc-3", "B2345CD"),
	} {
		if err := store.CreateAllocation(ctx, a); err != nil {
			t.Fatalf("CreateAllocation failed: %v", err)
		}
	}
	if err := store.CreateAllocation(ctx, newAllocation("alloc-1", "A1234BC")); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	listed, err := store.ListPersonAllocations(ctx, "MDI", "A1234BC")
	if err != nil {
		t.Fatalf("ListPersonAllocations failed: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "alloc-1" || listed[1].ID != "alloc-2" {
		t.Fatalf("unexpected allocations %v", listed)
	}

	from := scheduler.NewDate(2024, time.March, 5)
	_, changed, err := store.UpdateAllocation(ctx, "alloc-3", func(a *allocation.Allocation) (bool, error) {
		a.PlannedSuspension = &allocation.PlannedSuspension{From: from, Reason: "Injured", PlannedBy: "activities-ui", PlannedAt: referenceTime}
		return true, nil
	})
	if err != nil || !changed {
		t.Fatalf("UpdateAllocation failed: changed=%v err=%v", changed, err)
	}

	planned, err := store.ListAllocationsWithPlannedChanges(ctx)
	if err != nil {
		t.Fatalf("ListAllocationsWithPlannedChanges failed: %v", err)
	}
	if len(planned) != 1 || planned[0].ID != "alloc-3" || planned[0].PlannedSuspension.From != from {
		t.Fatalf("unexpected planned allocations %v", planned)
	}

	if _, _, err := store.UpdateAllocation(ctx, "alloc-3", func(a *allocation.Allocation) (bool, error) {
		a.PlannedSuspension = nil
		return true, nil
	}); err != nil {
		t.Fatalf("UpdateAllocation failed: %v", err)
	}
	if planned, _ := store.ListAllocationsWithPlannedChanges(ctx); len(planned) != 0 {
		t.Fatalf("expected planned index cleared, got %v", planned)
	}

	if _, err := store.GetAllocation(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateAllocationSerialisesWriters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	if err := store.CreateAllocation(ctx, newAllocation("alloc-1", "A1234BC")); err != nil {
		t.Fatalf("CreateAllocation failed: %v", err)
	}

	const writers = 8
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := store.UpdateAllocation(ctx, "alloc-1", func(a *allocation.Allocation) (bool, error) {
				a.History = append(a.History, allocation.StatusChange{
					At:      referenceTime.Add(time.Duration(i) * time.Minute),
					From:    allocation.StatusActive,
					To:      allocation.StatusActive,
					Trigger: allocation.TriggerAdminSuspend,
					Actor:   fmt.Sprintf("writer-%d", i),
				})
				return true, nil
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("UpdateAllocation failed: %v", err)
		}
	}

	stored, err := store.GetAllocation(ctx, "alloc-1")
	if err != nil {
		t.Fatalf("GetAllocation failed: %v", err)
	}
	if len(stored.History) != writers {
		t.Fatalf("expected %d history entries, got %d", writers, len(stored.History))
	}
}

func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("ACTIVITIES_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("ACTIVITIES_TEST_POSTGRES_DSN not set")
	}

	ctx := context.Background()
	store, err := Open(ctx, migration.DialectPostgres, dsn, quietLogger())
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	if _, err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	id := fmt.Sprintf("pg-%d", time.Now().UnixNano())
	if err := store.CreateAllocation(ctx, newAllocation(id, "A1234BC")); err != nil {
		t.Fatalf("CreateAllocation failed: %v", err)
	}
	updated, changed, err := store.UpdateAllocation(ctx, id, func(a *allocation.Allocation) (bool, error) {
		a.Status = allocation.StatusSuspended
		return true, nil
	})
	if err != nil || !changed || updated.Status != allocation.StatusSuspended {
		t.Fatalf("UpdateAllocation failed: %#v changed=%v err=%v", updated, changed, err)
	}
	if err := store.CreateAllocation(ctx, newAllocation(id, "A1234BC")); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}
