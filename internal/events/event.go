// Package events classifies inbound facility-movement notifications and
// routes them to the handlers that reconcile state against them.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type is the wire value of an inbound event type.
type Type string

const (
	TypePersonReturned          Type = "person-returned"
	TypePersonReleasedTemporary Type = "person-released-temporary"
	TypePersonReleasedPermanent Type = "person-released-permanent"
)

// KnownTypes lists every type this service can handle.
var KnownTypes = []Type{TypePersonReturned, TypePersonReleasedTemporary, TypePersonReleasedPermanent}

var (
	// ErrMalformed indicates a message body that cannot be decoded into an envelope.
	ErrMalformed = errors.New("events: malformed message")
	// ErrUnrecognizedType indicates an envelope whose type this service does not handle.
	ErrUnrecognizedType = errors.New("events: unrecognized event type")
)

// Envelope is the decoded wire form of an inbound notification.
type Envelope struct {
	Type         string    `json:"type"`
	PersonID     string    `json:"personId"`
	FacilityCode string    `json:"facilityCode"`
	OccurredAt   time.Time `json:"occurredAt"`
	Reason       string    `json:"reason,omitempty"`
}

// snsNotification is the document SNS wraps around a message delivered to SQS.
type snsNotification struct {
	Type    string `json:"Type"`
	Message string `json:"Message"`
}

// Payload is the type-specific part of an Event. The concrete types are
// Returned, TemporaryRelease and PermanentRelease.
type Payload interface {
	eventType() Type
}

// Returned is raised when a person arrives back at a facility.
type Returned struct{}

// TemporaryRelease is raised when a person leaves a facility temporarily.
type TemporaryRelease struct {
	Reason string
}

// PermanentRelease is raised when a person leaves a facility for good.
type PermanentRelease struct {
	Reason string
}

func (Returned) eventType() Type         { return TypePersonReturned }
func (TemporaryRelease) eventType() Type { return TypePersonReleasedTemporary }
func (PermanentRelease) eventType() Type { return TypePersonReleasedPermanent }

// Event is a classified inbound notification.
type Event struct {
	PersonID     string
	FacilityCode string
	OccurredAt   time.Time
	Payload      Payload
}

// Type returns the wire type of the event payload.
func (e Event) Type() Type {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.eventType()
}

// Decode parses a raw message body, unwrapping an SNS notification if present.
func Decode(body []byte) (Envelope, error) {
	var wrapper snsNotification
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if wrapper.Type == "Notification" && wrapper.Message != "" {
		body = []byte(wrapper.Message)
	}

	var envelope Envelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	envelope.Type = strings.TrimSpace(envelope.Type)
	envelope.PersonID = strings.TrimSpace(envelope.PersonID)
	envelope.FacilityCode = strings.TrimSpace(envelope.FacilityCode)
	if envelope.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return envelope, nil
}

// Classify converts an envelope into a typed Event.
func Classify(envelope Envelope) (Event, error) {
	event := Event{
		PersonID:     envelope.PersonID,
		FacilityCode: envelope.FacilityCode,
		OccurredAt:   envelope.OccurredAt,
	}
	switch Type(envelope.Type) {
	case TypePersonReturned:
		event.Payload = Returned{}
	case TypePersonReleasedTemporary:
		event.Payload = TemporaryRelease{Reason: envelope.Reason}
	case TypePersonReleasedPermanent:
		event.Payload = PermanentRelease{Reason: envelope.Reason}
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnrecognizedType, envelope.Type)
	}
	if event.PersonID == "" || event.FacilityCode == "" {
		return Event{}, fmt.Errorf("%w: %s requires personId and facilityCode", ErrMalformed, envelope.Type)
	}
	return event, nil
}

// ParseTypes converts configured type names, rejecting unknown ones.
func ParseTypes(values []string) ([]Type, error) {
	types := make([]Type, 0, len(values))
	for _, value := range values {
		t := Type(strings.TrimSpace(value))
		known := false
		for _, k := range KnownTypes {
			if t == k {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%w: %q", ErrUnrecognizedType, value)
		}
		types = append(types, t)
	}
	return types, nil
}
