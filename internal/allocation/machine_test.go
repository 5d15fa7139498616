package allocation

import (
	"errors"
	"testing"
	"time"

	"github.com/example/activities-management/internal/scheduler"
)

var at = time.Date(2024, time.March, 5, 14, 30, 0, 0, time.UTC)

func allocationIn(status Status) Allocation {
	return Allocation{
		ID:         "alloc-1",
		PersonID:   "A1234BC",
		PrisonCode: "MDI",
		ScheduleID: "schedule-1",
		StartDate:  scheduler.NewDate(2024, time.January, 1),
		Status:     status,
	}
}

func TestAutoSuspendIsIdempotent(t *testing.T) {
	t.Parallel()

	first, changed, err := Apply(allocationIn(StatusActive), AutoSuspend("TEMPORARY_ABSENCE_RELEASE", at), time.UTC)
	if err != nil || !changed {
		t.Fatalf("expected first suspend to apply, got changed=%v err=%v", changed, err)
	}
	if first.Status != StatusAutoSuspended || len(first.History) != 1 {
		t.Fatalf("expected AUTO_SUSPENDED with one audit entry, got %s with %d", first.Status, len(first.History))
	}

	second, changed, err := Apply(first, AutoSuspend("TEMPORARY_ABSENCE_RELEASE", at.Add(time.Minute)), time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatalf("expected duplicate suspend to be a no-op")
	}
	if second.Status != StatusAutoSuspended || len(second.History) != 1 {
		t.Fatalf("expected no new audit entry, got %d", len(second.History))
	}
}

func TestAutoReactivateOnlyResumesAutoSuspended(t *testing.T) {
	t.Parallel()

	for _, status := range []Status{StatusActive, StatusSuspended, StatusSuspendedWithPay, StatusEnded} {
		a := allocationIn(status)
		next, changed, err := Apply(a, AutoReactivate(at), time.UTC)
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", status, err)
		}
		if changed || next.Status != status || len(next.History) != 0 {
			t.Fatalf("%s: expected no-op, got %s (changed=%v)", status, next.Status, changed)
		}
	}

	next, changed, err := Apply(allocationIn(StatusAutoSuspended), AutoReactivate(at), time.UTC)
	if err != nil || !changed || next.Status != StatusActive {
		t.Fatalf("expected AUTO_SUSPENDED to resume, got %s (changed=%v, err=%v)", next.Status, changed, err)
	}
	if next.Suspension != nil {
		t.Fatalf("expected suspension cleared on reactivation")
	}
}

func TestStaleMovementsAreIgnored(t *testing.T) {
	t.Parallel()

	released := at
	returned := at.Add(18 * time.Hour)

	// Return first: no transition, but the movement time is kept.
	afterReturn, changed, err := Apply(allocationIn(StatusActive), AutoReactivate(returned), time.UTC)
	if err != nil || changed {
		t.Fatalf("expected return of an active allocation to be a no-op, got changed=%v err=%v", changed, err)
	}
	if !afterReturn.LastMovementAt.Equal(returned) {
		t.Fatalf("expected last movement %v, got %v", returned, afterReturn.LastMovementAt)
	}

	late, changed, err := Apply(afterReturn, AutoSuspend("TEMPORARY_ABSENCE_RELEASE", released), time.UTC)
	if err != nil || changed {
		t.Fatalf("expected delayed release to be ignored, got changed=%v err=%v", changed, err)
	}
	if late.Status != StatusActive || len(late.History) != 0 {
		t.Fatalf("expected ACTIVE without history, got %s with %d entries", late.Status, len(late.History))
	}

	// A late permanent release still ends the allocation.
	ended, changed, err := Apply(late, AutoDeallocate("RELEASED", released), time.UTC)
	if err != nil || !changed || ended.Status != StatusEnded {
		t.Fatalf("expected permanent release to end the allocation, got %s (changed=%v, err=%v)", ended.Status, changed, err)
	}
	if !ended.LastMovementAt.Equal(returned) {
		t.Fatalf("older movement must not move LastMovementAt back, got %v", ended.LastMovementAt)
	}
}

func TestAutoDeallocateEndsEveryLiveStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []Status{StatusActive, StatusAutoSuspended, StatusSuspended, StatusSuspendedWithPay} {
		next, changed, err := Apply(allocationIn(status), AutoDeallocate("RELEASED", at), time.UTC)
		if err != nil || !changed {
			t.Fatalf("%s: expected transition, got changed=%v err=%v", status, changed, err)
		}
		if next.Status != StatusEnded {
			t.Fatalf("%s: expected ENDED, got %s", status, next.Status)
		}
		if next.EndDate == nil || *next.EndDate != scheduler.NewDate(2024, time.March, 5) {
			t.Fatalf("%s: expected end date set to event date, got %v", status, next.EndDate)
		}
		if next.Deallocation == nil || next.Deallocation.Reason != "RELEASED" || next.Deallocation.By != SystemActor {
			t.Fatalf("%s: unexpected deallocation %+v", status, next.Deallocation)
		}

		again, changed, err := Apply(next, AutoDeallocate("RELEASED", at.Add(time.Hour)), time.UTC)
		if err != nil || changed || len(again.History) != 1 {
			t.Fatalf("%s: expected re-application to be a no-op, got changed=%v err=%v history=%d", status, changed, err, len(again.History))
		}
	}
}

func TestAdminTransitions(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		from    Status
		trigger Trigger
		want    Status
		wantErr error
	}{
		{name: "suspend active", from: StatusActive, trigger: AdminSuspend("unwell", false, "USER1", at), want: StatusSuspended},
		{name: "suspend active with pay", from: StatusActive, trigger: AdminSuspend("unwell", true, "USER1", at), want: StatusSuspendedWithPay},
		{name: "suspend suspended", from: StatusSuspended, trigger: AdminSuspend("unwell", false, "USER1", at), want: StatusSuspended, wantErr: ErrInvalidTransition},
		{name: "suspend auto suspended", from: StatusAutoSuspended, trigger: AdminSuspend("unwell", false, "USER1", at), want: StatusAutoSuspended, wantErr: ErrInvalidTransition},
		{name: "reactivate suspended", from: StatusSuspended, trigger: AdminReactivate("USER1", at), want: StatusActive},
		{name: "reactivate suspended with pay", from: StatusSuspendedWithPay, trigger: AdminReactivate("USER1", at), want: StatusActive},
		{name: "reactivate auto suspended", from: StatusAutoSuspended, trigger: AdminReactivate("USER1", at), want: StatusActive},
		{name: "reactivate active", from: StatusActive, trigger: AdminReactivate("USER1", at), want: StatusActive, wantErr: ErrInvalidTransition},
		{name: "deallocate suspended", from: StatusSuspended, trigger: AdminDeallocate("OTHER", "USER1", at, nil), want: StatusEnded},
		{name: "deallocate ended", from: StatusEnded, trigger: AdminDeallocate("OTHER", "USER1", at, nil), want: StatusEnded, wantErr: ErrInvalidTransition},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			next, changed, err := Apply(allocationIn(tc.from), tc.trigger, time.UTC)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				if changed {
					t.Fatalf("expected no change on error")
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if next.Status != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, next.Status)
			}
		})
	}
}

func TestAdminDeallocateKeepsEarlierEndDate(t *testing.T) {
	t.Parallel()

	a := allocationIn(StatusActive)
	planned := scheduler.NewDate(2024, time.June, 30)
	a.EndDate = &planned

	early := scheduler.NewDate(2024, time.March, 1)
	next, _, err := Apply(a, AdminDeallocate("OTHER", "USER1", at, &early), time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *next.EndDate != early {
		t.Fatalf("expected end date brought forward to %s, got %s", early, next.EndDate)
	}

	existing := scheduler.NewDate(2024, time.February, 1)
	a.EndDate = &existing
	next, _, err = Apply(a, AdminDeallocate("OTHER", "USER1", at, nil), time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *next.EndDate != existing {
		t.Fatalf("expected existing end date kept, got %s", next.EndDate)
	}
}

func TestApplyRecordsHistory(t *testing.T) {
	t.Parallel()

	next, _, err := Apply(allocationIn(StatusActive), AdminSuspend("unwell", true, "USER1", at), time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry := next.History[0]
	if entry.From != StatusActive || entry.To != StatusSuspendedWithPay || entry.Trigger != TriggerAdminSuspend || entry.Actor != "USER1" || entry.Reason != "unwell" || !entry.At.Equal(at) {
		t.Fatalf("unexpected history entry %+v", entry)
	}
	if next.Suspension == nil || !next.Suspension.WithPay {
		t.Fatalf("expected paid suspension details, got %+v", next.Suspension)
	}
}

func TestApplyDoesNotMutateInput(t *testing.T) {
	t.Parallel()

	original := allocationIn(StatusActive)
	original.History = []StatusChange{{At: at, From: StatusActive, To: StatusActive}}
	_, _, _ = Apply(original, AutoDeallocate("RELEASED", at), time.UTC)
	if original.Status != StatusActive || len(original.History) != 1 || original.EndDate != nil {
		t.Fatalf("input allocation mutated: %+v", original)
	}
}

func TestPlanning(t *testing.T) {
	t.Parallel()

	plan := PlannedSuspension{From: scheduler.NewDate(2024, time.April, 1), Reason: "holiday", PlannedBy: "USER1", PlannedAt: at}
	next, err := PlanSuspension(allocationIn(StatusActive), plan)
	if err != nil || next.PlannedSuspension == nil || !next.HasPlannedChange() {
		t.Fatalf("expected planned suspension, got %+v (%v)", next.PlannedSuspension, err)
	}
	if _, err := PlanSuspension(allocationIn(StatusSuspended), plan); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if _, err := PlanDeallocation(allocationIn(StatusEnded), PlannedDeallocation{Date: plan.From}); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	suspended, _, err := Apply(next, AdminSuspend("holiday", false, "USER1", at), time.UTC)
	if err != nil || suspended.PlannedSuspension != nil {
		t.Fatalf("expected plan cleared once applied, got %+v (%v)", suspended.PlannedSuspension, err)
	}
}

func TestUnknownTrigger(t *testing.T) {
	t.Parallel()

	if _, _, err := Apply(allocationIn(StatusActive), Trigger{Kind: "PROMOTE"}, time.UTC); !errors.Is(err, ErrUnknownTrigger) {
		t.Fatalf("expected ErrUnknownTrigger, got %v", err)
	}
	if Allows(StatusActive, "PROMOTE") {
		t.Fatalf("expected unknown trigger to be disallowed")
	}
	if !Allows(StatusAutoSuspended, TriggerAutoReactivate) || Allows(StatusSuspended, TriggerAutoReactivate) {
		t.Fatalf("unexpected Allows result for auto reactivation")
	}
}
