package alarm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Payload travels opaquely through the scheduling service and comes back on fire.
type Payload struct {
	Kind    Kind
	Message string
}

// wirePayload is the boundary form: two string fields, "type" and "message".
type wirePayload struct {
	Type    string  `json:"type"`
	Message *string `json:"message,omitempty"`
}

func (p Payload) Encode() ([]byte, error) {
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("encode payload: %w", ErrUnknownKind)
	}
	msg := p.Message
	return json.Marshal(wirePayload{Type: p.Kind.String(), Message: &msg})
}

// DecodePayload reads a payload produced by Encode. The type is matched
// case-insensitively; anything that is not a one-time alarm is treated as
// repeating. A payload without a message yields ErrNoMessage.
func DecodePayload(b []byte) (Payload, error) {
	var w wirePayload
	if err := json.Unmarshal(b, &w); err != nil {
		return Payload{}, fmt.Errorf("decode payload: %w", err)
	}
	kind := Repeating
	if strings.EqualFold(w.Type, typeOneTime) {
		kind = OneTime
	}
	if w.Message == nil {
		return Payload{Kind: kind}, ErrNoMessage
	}
	return Payload{Kind: kind, Message: *w.Message}, nil
}

// Notification is rendered once when an alarm fires; it is never stored by alarm.
type Notification struct {
	Title   string
	Message string
	SlotID  int
}

// NotificationFor derives the notification of a delivered payload.
func NotificationFor(p Payload) Notification {
	return Notification{Title: p.Kind.Title(), Message: p.Message, SlotID: p.Kind.SlotID()}
}
