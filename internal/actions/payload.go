package actions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Mode tells whether a payload carries one object or a list of them.
type Mode int

const (
	Single Mode = iota
	Batch
)

func (m Mode) String() string {
	if m == Batch {
		return "batch"
	}
	return "single"
}

// Args is one payload object. Numbers are json.Number.
type Args map[string]any

// Payload is decided once at the dispatcher boundary. A Single payload holds
// exactly one Args; a Batch holds one or more.
type Payload struct {
	mode  Mode
	items []Args
}

func SinglePayload(a Args) Payload {
	if a == nil {
		a = Args{}
	}
	return Payload{mode: Single, items: []Args{a}}
}

func BatchPayload(items ...Args) Payload {
	return Payload{mode: Batch, items: items}
}

func (p Payload) Mode() Mode { return p.mode }

// Args returns the single object. For a batch it returns the first item.
func (p Payload) Args() Args {
	if len(p.items) == 0 {
		return Args{}
	}
	return p.items[0]
}

// Items returns every object in the payload.
func (p Payload) Items() []Args {
	if p.mode == Single && len(p.items) == 0 {
		return []Args{{}}
	}
	return p.items
}

// Len is the number of objects carried.
func (p Payload) Len() int { return len(p.Items()) }

// DecodePayload parses raw JSON into a Payload. Absent, empty and null
// payloads decode to an empty Single.
func DecodePayload(raw []byte) (Payload, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return SinglePayload(nil), nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return Payload{}, fmt.Errorf("payload is not valid JSON: %w", err)
	}
	return PayloadFrom(v)
}

// PayloadFrom classifies an already decoded JSON value.
func PayloadFrom(v any) (Payload, error) {
	switch t := v.(type) {
	case nil:
		return SinglePayload(nil), nil
	case map[string]any:
		return SinglePayload(Args(t)), nil
	case Args:
		return SinglePayload(t), nil
	case []any:
		items := make([]Args, 0, len(t))
		for i, el := range t {
			m, ok := el.(map[string]any)
			if !ok {
				return Payload{}, fmt.Errorf("payload item %d is not an object", i)
			}
			items = append(items, Args(m))
		}
		return BatchPayload(items...), nil
	default:
		return Payload{}, fmt.Errorf("payload must be an object or a list of objects, got %T", v)
	}
}

// Text returns the first key holding a non-empty value, trimmed.
// Numbers are rendered in their JSON form.
func (a Args) Text(keys ...string) string {
	for _, k := range keys {
		switch v := a[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case int:
			return strconv.Itoa(v)
		}
	}
	return ""
}

// Has reports whether key is present with a non-null value.
func (a Args) Has(key string) bool {
	v, ok := a[key]
	return ok && v != nil
}

// Float returns a numeric value, accepting numbers and numeric strings.
func (a Args) Float(key string) (float64, bool) {
	switch v := a[key].(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(strings.ReplaceAll(v, ",", ".")), 64)
		return f, err == nil
	}
	return 0, false
}

// Int returns a whole number or def when key is absent or not numeric.
func (a Args) Int(key string, def int) int {
	f, ok := a.Float(key)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return def
	}
	return int(f)
}

// ID returns the first positive integer id among keys, or 0.
func (a Args) ID(keys ...string) int64 {
	for _, k := range keys {
		if f, ok := a.Float(k); ok && f > 0 && f == math.Trunc(f) {
			return int64(f)
		}
	}
	return 0
}

// Bool accepts JSON booleans and the strings "true", "1", "da".
func (a Args) Bool(key string) bool {
	switch v := a[key].(type) {
	case bool:
		return v
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "true", "1", "da", "yes":
			return true
		}
	case json.Number:
		return v.String() != "0"
	}
	return false
}
