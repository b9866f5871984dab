package design

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number is a loosely typed numeric field. Editors emit numbers, numeric
// strings, CSS pixel strings ("120px"), empty strings and null for the same
// property; all of them decode without failing the document. Values that do
// not parse are treated as absent.
type Number struct {
	Value float64
	Valid bool
}

// N returns a present Number.
func N(v float64) Number {
	return Number{Value: v, Valid: true}
}

// Or returns the value when present and def otherwise.
func (n Number) Or(def float64) float64 {
	if !n.Valid {
		return def
	}
	return n.Value
}

// Positive reports whether the number is present and greater than zero.
func (n Number) Positive() bool {
	return n.Valid && n.Value > 0
}

func (n *Number) UnmarshalJSON(data []byte) error {
	*n = Number{}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		*n = ParseNumber(s)
		return nil
	}

	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return nil
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	*n = N(f)
	return nil
}

func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Value)
}

// ParseNumber parses a user supplied numeric string.
func ParseNumber(s string) Number {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "px")
	s = strings.TrimSpace(s)
	if s == "" {
		return Number{}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return Number{}
	}
	return N(f)
}

// Flag is a loosely typed boolean accepting true/false, "true"/"false" and 0/1.
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	*f = false
	switch strings.Trim(strings.TrimSpace(string(data)), `"`) {
	case "true", "1":
		*f = true
	}
	return nil
}
