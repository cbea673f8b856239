// Package events encodes settlement events and fans them out to the signal
// bus, the websocket hub, the message queue and operator notifications.
package events

import (
	"encoding/binary"
	"errors"
	"fmt"
	"reflect"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/condvault/internal/domain"
)

// Type codes prefixed to binary envelopes. Values are stable on the wire.
var typeCodes = map[domain.EventType]uint32{
	domain.EventVaultInitialized:  1,
	domain.EventVaultFinalized:    2,
	domain.EventExecution:         3,
	domain.EventProposalCreated:   4,
	domain.EventProposalFinalized: 5,
}

// TypeCode returns the wire code of t.
func TypeCode(t domain.EventType) (uint32, bool) {
	c, ok := typeCodes[t]
	return c, ok
}

func typeFromCode(c uint32) (domain.EventType, bool) {
	for t, code := range typeCodes {
		if code == c {
			return t, true
		}
	}
	return "", false
}

// ToStruct converts ev to a protobuf Struct.
func ToStruct(ev domain.Event) (*structpb.Struct, error) {
	attrs := make(map[string]any, len(ev.Attributes))
	for k, v := range ev.Attributes {
		attrs[k] = normalize(v)
	}
	return structpb.NewStruct(map[string]any{
		"id":          ev.ID,
		"type":        string(ev.Type),
		"proposal_id": ev.ProposalID,
		"vault_id":    ev.VaultID,
		"created_at":  ev.CreatedAt.UTC().Format(time.RFC3339Nano),
		"attributes":  attrs,
	})
}

// FromStruct is the inverse of ToStruct. Numeric attributes come back as
// float64.
func FromStruct(s *structpb.Struct) (domain.Event, error) {
	m := s.AsMap()
	str := func(k string) string {
		v, _ := m[k].(string)
		return v
	}
	ev := domain.Event{
		ID:         str("id"),
		Type:       domain.EventType(str("type")),
		ProposalID: str("proposal_id"),
		VaultID:    str("vault_id"),
	}
	if attrs, ok := m["attributes"].(map[string]any); ok {
		ev.Attributes = attrs
	}
	if ts := str("created_at"); ts != "" {
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return domain.Event{}, fmt.Errorf("events: created_at: %w", err)
		}
		ev.CreatedAt = t
	}
	return ev, nil
}

// Encode writes a little-endian uint32 type code followed by the
// deterministic protobuf encoding of the event.
func Encode(ev domain.Event) ([]byte, error) {
	code, ok := TypeCode(ev.Type)
	if !ok {
		return nil, fmt.Errorf("events: unknown type %q", ev.Type)
	}
	s, err := ToStruct(ev)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", ev.Type, err)
	}
	buf := make([]byte, 4, 4+proto.Size(s))
	binary.LittleEndian.PutUint32(buf, code)
	out, err := proto.MarshalOptions{Deterministic: true}.MarshalAppend(buf, s)
	if err != nil {
		return nil, fmt.Errorf("events: encode %s: %w", ev.Type, err)
	}
	return out, nil
}

// Decode parses an envelope produced by Encode.
func Decode(b []byte) (domain.Event, error) {
	if len(b) < 4 {
		return domain.Event{}, errors.New("events: short envelope")
	}
	typ, ok := typeFromCode(binary.LittleEndian.Uint32(b[:4]))
	if !ok {
		return domain.Event{}, fmt.Errorf("events: unknown type code %d", binary.LittleEndian.Uint32(b[:4]))
	}
	var s structpb.Struct
	if err := proto.Unmarshal(b[4:], &s); err != nil {
		return domain.Event{}, fmt.Errorf("events: decode: %w", err)
	}
	ev, err := FromStruct(&s)
	if err != nil {
		return domain.Event{}, err
	}
	if ev.Type != typ {
		return domain.Event{}, fmt.Errorf("events: type code %s does not match body %s", typ, ev.Type)
	}
	return ev, nil
}

// MarshalJSON renders ev for browsers and the redis bus.
func MarshalJSON(ev domain.Event) ([]byte, error) {
	s, err := ToStruct(ev)
	if err != nil {
		return nil, fmt.Errorf("events: json %s: %w", ev.Type, err)
	}
	return protojson.Marshal(s)
}

// UnmarshalJSON parses the output of MarshalJSON.
func UnmarshalJSON(b []byte) (domain.Event, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(b, &s); err != nil {
		return domain.Event{}, fmt.Errorf("events: json: %w", err)
	}
	return FromStruct(&s)
}

// normalize maps values structpb cannot take (named string and integer
// types, stringers, structs) onto ones it can.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, int, int32, int64, uint, uint32, uint64, float32, float64, []byte:
		return v
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = normalize(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case []string:
		out := make([]any, len(x))
		for i := range x {
			out[i] = x[i]
		}
		return out
	case fmt.Stringer:
		return x.String()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return rv.Uint()
	case reflect.Bool:
		return rv.Bool()
	default:
		return fmt.Sprint(v)
	}
}
