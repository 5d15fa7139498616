package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/example/activities-management/internal/events"
)

func scrape(t *testing.T, r *Recorder) string {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	return rec.Body.String()
}

func TestInboundEventsCollapseUnknownTypes(t *testing.T) {
	t.Parallel()

	r := New()
	r.ObserveInboundEvent(string(events.TypePersonReturned), "handled")
	r.ObserveInboundEvent("person-attribute-changed", "unrecognized")
	r.ObserveInboundEvent("something-else", "unrecognized")

	body := scrape(t, r)
	for _, want := range []string{
		`activities_inbound_events_total{disposition="handled",type="person-returned"} 1`,
		`activities_inbound_events_total{disposition="unrecognized",type="other"} 2`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition", want)
		}
	}
	if strings.Contains(body, "person-attribute-changed") {
		t.Fatalf("expected unknown type to be collapsed")
	}
}

func TestCountersAreExposed(t *testing.T) {
	t.Parallel()

	r := New()
	r.ObserveAllocationTransition("AUTO_SUSPEND", "applied")
	r.ObserveAllocationTransition("AUTO_SUSPEND", "noop")
	r.ObserveAllocationTransition("AUTO_SUSPEND", "noop")
	r.ObserveOccurrenceMutation("cancel", "applied")
	r.ObserveNotification("activities.allocation-amended", "published")

	body := scrape(t, r)
	for _, want := range []string{
		`activities_allocation_transitions_total{outcome="applied",trigger="AUTO_SUSPEND"} 1`,
		`activities_allocation_transitions_total{outcome="noop",trigger="AUTO_SUSPEND"} 2`,
		`activities_occurrence_mutations_total{operation="cancel",outcome="applied"} 1`,
		`activities_notifications_total{event_type="activities.allocation-amended",result="published"} 1`,
		"go_goroutines",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %q in exposition", want)
		}
	}
}
