package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Batch is the unit of ingestion: the events of one block height, in chain order.
type Batch struct {
	BlockHeight uint64  `json:"block_height"`
	Timestamp   uint64  `json:"timestamp"`
	Events      []Event `json:"-"`
}

type envelope struct {
	Event EventKind       `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type batchWire struct {
	BlockHeight *uint64    `json:"block_height"`
	Timestamp   *uint64    `json:"timestamp"`
	Events      []envelope `json:"events"`
}

// DecodeBatch parses and validates a batch. Event envelopes and payloads are strict:
// unknown kinds or fields are rejected before anything is applied.
func DecodeBatch(raw []byte) (*Batch, error) {
	var b Batch
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, asInvalid(err)
	}
	return &b, nil
}

func (b *Batch) UnmarshalJSON(raw []byte) error {
	var w batchWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return fmt.Errorf("%w: batch: %v", ErrInvalidEvent, err)
	}
	if w.BlockHeight == nil {
		return fmt.Errorf("%w: batch without block_height", ErrInvalidEvent)
	}
	if w.Timestamp == nil {
		return fmt.Errorf("%w: batch without timestamp", ErrInvalidEvent)
	}
	events := make([]Event, 0, len(w.Events))
	for i, env := range w.Events {
		ev, err := decodeEvent(env)
		if err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		events = append(events, ev)
	}
	*b = Batch{BlockHeight: *w.BlockHeight, Timestamp: *w.Timestamp, Events: events}
	return nil
}

func (b Batch) MarshalJSON() ([]byte, error) {
	type eventOut struct {
		Event EventKind `json:"event"`
		Data  Event     `json:"data"`
	}
	out := struct {
		BlockHeight uint64     `json:"block_height"`
		Timestamp   uint64     `json:"timestamp"`
		Events      []eventOut `json:"events"`
	}{BlockHeight: b.BlockHeight, Timestamp: b.Timestamp, Events: make([]eventOut, 0, len(b.Events))}
	for _, ev := range b.Events {
		out.Events = append(out.Events, eventOut{Event: ev.Kind(), Data: ev})
	}
	return json.Marshal(out)
}

func decodeEvent(env envelope) (Event, error) {
	if len(env.Data) == 0 {
		return nil, fmt.Errorf("%w: %q without data", ErrInvalidEvent, env.Event)
	}
	var ev Event
	var err error
	switch env.Event {
	case KindCreateGame:
		var e CreateGameEvent
		err = strictUnmarshal(env.Data, &e)
		ev = e
	case KindPlayMove:
		var e PlayMoveEvent
		err = strictUnmarshal(env.Data, &e)
		ev = e
	case KindResignGame:
		var e ResignGameEvent
		err = strictUnmarshal(env.Data, &e)
		ev = e
	case KindCancelGame:
		var e CancelGameEvent
		err = strictUnmarshal(env.Data, &e)
		ev = e
	default:
		return nil, fmt.Errorf("%w: unknown event kind %q", ErrInvalidEvent, env.Event)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", env.Event, err)
	}
	if err := ev.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", env.Event, err)
	}
	return ev, nil
}

func strictUnmarshal(raw []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

func asInvalid(err error) error {
	if errors.Is(err, ErrInvalidEvent) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
}
