package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number is a loosely-typed JSON numeric field. Devices send numbers either
// as JSON numbers or as numeric strings; null, absent and "" are unset.
type Number struct {
	Set   bool
	Valid bool
	Value float64
}

// NewNumber returns a set, valid Number.
func NewNumber(v float64) Number {
	return Number{Set: true, Valid: true, Value: v}
}

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	n.Set = true

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	switch v := raw.(type) {
	case float64:
		n.Value, n.Valid = v, true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			n.Set = false
			return nil
		}
		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err == nil && !math.IsInf(parsed, 0) && !math.IsNaN(parsed) {
			n.Value, n.Valid = parsed, true
		}
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set || !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

func (n Number) integral() bool {
	return n.Valid && n.Value == math.Trunc(n.Value) && math.Abs(n.Value) < 1e9
}

// Ptr returns the value as a nullable float.
func (n Number) Ptr() *float64 {
	if !n.Set || !n.Valid {
		return nil
	}
	v := n.Value
	return &v
}

// Text is a loosely-typed JSON string field; numbers are accepted and
// rendered in their shortest form.
type Text struct {
	Set   bool
	Value string
}

// NewText returns a set Text.
func NewText(v string) Text {
	return Text{Set: v != "", Value: v}
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Text) UnmarshalJSON(data []byte) error {
	*t = Text{}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case string:
		t.Value = v
	case float64:
		t.Value = strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		t.Value = strconv.FormatBool(v)
	default:
		return nil
	}
	t.Set = t.Value != ""
	return nil
}

// MarshalJSON implements json.Marshaler.
func (t Text) MarshalJSON() ([]byte, error) {
	if !t.Set {
		return []byte("null"), nil
	}
	return json.Marshal(t.Value)
}
