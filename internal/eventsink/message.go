// Package eventsink turns emitted manager events into JSON messages that can
// be delivered outside the process. The redis and stream subpackages attach
// to an events.Bus and forward every message they accept.
package eventsink

import (
	"encoding/json"
	"time"

	"github.com/conduit-lang/resourcekit/internal/web/format"
	"github.com/conduit-lang/resourcekit/pkg/events"
	"github.com/conduit-lang/resourcekit/pkg/query"
	"github.com/conduit-lang/resourcekit/pkg/resource"
)

// Message is the wire form of one event
type Message struct {
	Event        events.Name `json:"event"`
	Type         string      `json:"type,omitempty"`
	ID           string      `json:"id,omitempty"`
	Relationship string      `json:"relationship,omitempty"`
	Data         any         `json:"data,omitempty"`
	Time         time.Time   `json:"time"`
}

// ChangeData is the data of change, update and remove messages
type ChangeData struct {
	Old *format.Resource `json:"old"`
	New *format.Resource `json:"new"`
}

// RelationshipData is the data of relationship mutation messages
type RelationshipData struct {
	Input any `json:"input"`
	Value any `json:"value"`
}

// OperationsData is the data of operations messages
type OperationsData struct {
	Results int `json:"results"`
}

// Encoder converts events to messages
type Encoder struct {
	formatter *format.Formatter
	now       func() time.Time
}

// NewEncoder creates an encoder rendering resources with f
func NewEncoder(f *format.Formatter) *Encoder {
	return &Encoder{formatter: f, now: time.Now}
}

// Encode builds the message for e. Read events only carry the reference
// they were made for.
func (enc *Encoder) Encode(e events.Event) Message {
	msg := Message{Event: e.Name, Time: enc.now().UTC()}

	switch p := e.Payload.(type) {
	case events.GetPayload:
		msg.setRef(p.Query)
	case events.ListPayload:
		msg.setRef(p.Query)
	case events.RelationshipPayload:
		msg.setRef(p.Query)
	case events.AddPayload:
		msg.Type = p.Ref.Type
		if p.Resource != nil {
			msg.ID = p.Resource.ID
			r := enc.formatter.Resource(p.Resource)
			msg.Data = &r
		}
	case events.UpdatePayload:
		msg.Type, msg.ID = p.Ref.Type, p.Ref.ID
		msg.Data = ChangeData{Old: enc.resource(p.Old), New: enc.resource(p.New)}
	case events.RemovePayload:
		msg.Type, msg.ID = p.Ref.Type, p.Ref.ID
		msg.Data = ChangeData{Old: enc.resource(p.Old)}
	case events.ChangePayload:
		msg.Type, msg.ID = p.Type, p.ID
		msg.Data = ChangeData{Old: enc.resource(p.Old), New: enc.resource(p.New)}
	case events.RelationshipChangePayload:
		msg.Type, msg.ID, msg.Relationship = p.Ref.Type, p.Ref.ID, p.Ref.Relationship
		msg.Data = RelationshipData{Input: format.Linkage(p.Input), Value: format.Linkage(p.Value)}
	case events.OperationsPayload:
		msg.Data = OperationsData{Results: len(p.Results)}
	case events.ErrorPayload:
		msg.Type, msg.ID, msg.Relationship = p.Ref.Type, p.Ref.ID, p.Ref.Relationship
		if p.Errors != nil {
			msg.Data = format.Errors(p.Errors).Errors
		}
	}
	return msg
}

// Marshal encodes e and serializes the message
func (enc *Encoder) Marshal(e events.Event) ([]byte, error) {
	return json.Marshal(enc.Encode(e))
}

func (enc *Encoder) resource(r *resource.Resource) *format.Resource {
	if r == nil {
		return nil
	}
	out := enc.formatter.Resource(r)
	return &out
}

func (m *Message) setRef(q *query.Query) {
	if q == nil {
		return
	}
	m.Type, m.ID, m.Relationship = q.Ref.Type, q.Ref.ID, q.Ref.Relationship
}
