package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/jwalitptl/recordflow/internal/model"
	"github.com/jwalitptl/recordflow/pkg/errors"
)

// Event payloads form a tagged union keyed by event_type. Each variant
// is a fixed shape, validated at dispatch time; payloads are
// self-sufficient so handlers never re-query the record that emitted
// them.

type RecordCreatedPayload struct {
	RecordID string `json:"record_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Domain   string `json:"domain" validate:"required"`
}

type RecordValidatedPayload struct {
	RecordID string `json:"record_id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Domain   string `json:"domain" validate:"required"`
}

type RecordPromotedPayload struct {
	RecordID string `json:"record_id" validate:"required"`
	Domain   string `json:"domain" validate:"required"`
}

type SlotCreatedPayload struct {
	SlotID   string `json:"slot_id" validate:"required"`
	RecordID string `json:"record_id" validate:"required"`
	Role     string `json:"role" validate:"required"`
	Domain   string `json:"domain" validate:"required"`
}

type ContactEnrichedPayload struct {
	SlotID   string `json:"slot_id" validate:"required"`
	RecordID string `json:"record_id" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
}

type EmailVerifiedPayload struct {
	SlotID   string `json:"slot_id" validate:"required"`
	RecordID string `json:"record_id" validate:"required"`
}

// DecodePayload decodes raw into the variant for eventType. Unknown
// event types and shapes that do not match the variant are fatal
// configuration errors, rejected here rather than downstream.
func DecodePayload(eventType string, raw json.RawMessage) (interface{}, error) {
	var payload interface{}
	switch eventType {
	case model.EventRecordCreated:
		payload = &RecordCreatedPayload{}
	case model.EventRecordValidated:
		payload = &RecordValidatedPayload{}
	case model.EventRecordPromoted:
		payload = &RecordPromotedPayload{}
	case model.EventSlotCreated:
		payload = &SlotCreatedPayload{}
	case model.EventContactEnriched:
		payload = &ContactEnrichedPayload{}
	case model.EventEmailVerified:
		payload = &EmailVerifiedPayload{}
	default:
		return nil, errors.Fatal(fmt.Sprintf("unknown event type %q", eventType), nil)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(payload); err != nil {
		return nil, errors.Fatal(fmt.Sprintf("malformed payload for %q", eventType), err)
	}
	return payload, nil
}

// NewEvent builds an outbox row for eventType with the given payload.
func NewEvent(eventType, entityType, entityID string, payload interface{}) (*model.Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload for %q: %w", eventType, err)
	}
	return &model.Event{
		EventType:  eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    raw,
	}, nil
}

// StageFor maps an event type to the handler stage that consumes it.
func StageFor(eventType string) string {
	switch eventType {
	case model.EventRecordCreated:
		return "validate"
	case model.EventRecordValidated:
		return "promote"
	case model.EventRecordPromoted:
		return "create_slots"
	case model.EventSlotCreated:
		return "enrich"
	case model.EventContactEnriched:
		return "verify"
	case model.EventEmailVerified:
		return "finalize"
	default:
		return "unknown"
	}
}
