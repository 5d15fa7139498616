package recurrence

import (
	"testing"
	"time"

	"github.com/example/activities-management/internal/scheduler"
)

func BenchmarkPlannerPlan(b *testing.B) {
	planner := NewPlanner(0)
	rule := Rule{
		StartDate: scheduler.NewDate(2024, time.May, 6),
		StartTime: scheduler.NewTimeOfDay(9, 0),
		EndTime:   scheduler.NewTimeOfDay(10, 30),
		Frequency: FrequencyWeekday,
		Count:     260,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dates, err := planner.Plan(rule)
		if err != nil {
			b.Fatalf("unexpected error: %v", err)
		}
		if len(dates) != rule.Count {
			b.Fatalf("expected %d dates, got %d", rule.Count, len(dates))
		}
	}
}
