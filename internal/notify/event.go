// Package notify announces committed state changes to downstream consumers.
// Publishing is best effort: a failed publish is retried and logged but never
// reported back to the code that made the change.
package notify

import "time"

// EventType is the outbound domain event name.
type EventType string

const (
	OccurrenceCreated     EventType = "activities.occurrence-created"
	OccurrenceUpdated     EventType = "activities.occurrence-updated"
	OccurrenceCancelled   EventType = "activities.occurrence-cancelled"
	OccurrenceUncancelled EventType = "activities.occurrence-uncancelled"
	AllocationCreated     EventType = "activities.allocation-created"
	AllocationAmended     EventType = "activities.allocation-amended"
)

var descriptions = map[EventType]string{
	OccurrenceCreated:     "An appointment occurrence has been created",
	OccurrenceUpdated:     "An appointment occurrence has been updated",
	OccurrenceCancelled:   "An appointment occurrence has been cancelled",
	OccurrenceUncancelled: "An appointment occurrence has been uncancelled",
	AllocationCreated:     "A person has been allocated to an activity schedule",
	AllocationAmended:     "An allocation has been amended",
}

// Event identifies one changed entity. Consumers re-fetch current state.
type Event struct {
	Type       EventType
	EntityID   string
	OccurredAt time.Time
}

// Message is the published JSON document.
type Message struct {
	EventType             string                `json:"eventType"`
	AdditionalInformation AdditionalInformation `json:"additionalInformation"`
	OccurredAt            time.Time             `json:"occurredAt"`
	Version               int                   `json:"version"`
	Description           string                `json:"description"`
}

// AdditionalInformation carries the entity id.
type AdditionalInformation struct {
	ID string `json:"id"`
}

// Message renders the event for publishing.
func (e Event) Message() Message {
	return Message{
		EventType:             string(e.Type),
		AdditionalInformation: AdditionalInformation{ID: e.EntityID},
		OccurredAt:            e.OccurredAt,
		Version:               1,
		Description:           descriptions[e.Type],
	}
}
