package design

import (
	"fmt"
	"math"
	"sort"
)

const (
	// MaxDurationMs bounds every time value in a design (six hours).
	MaxDurationMs = 6 * 60 * 60 * 1000

	// MaxFPS bounds requested and declared frame rates.
	MaxFPS = 120
)

// LimitError reports a time or rate value outside the supported range.
type LimitError struct {
	Field string
	Value float64
	Limit float64
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%s = %g exceeds limit %g", e.Field, e.Value, e.Limit)
}

// CheckLimits rejects designs whose duration, frame rate or item intervals
// fall outside the renderable range. Items are checked in id order.
func CheckLimits(d *Design, items Items) error {
	if d == nil {
		return nil
	}
	if err := checkValue("duration", d.Duration, MaxDurationMs); err != nil {
		return err
	}
	if err := checkValue("fps", d.FPS, MaxFPS); err != nil {
		return err
	}

	ids := make([]string, 0, len(items))
	for id := range items {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		item := items[id]
		if item == nil {
			continue
		}
		prefix := "trackItemsMap." + id
		if err := checkInterval(prefix+".display", item.Display); err != nil {
			return err
		}
		if item.Trim != nil {
			if err := checkInterval(prefix+".trim", *item.Trim); err != nil {
				return err
			}
		}
	}
	return nil
}

// CheckFPS rejects a frame rate above MaxFPS.
func CheckFPS(field string, n Number) error {
	return checkValue(field, n, MaxFPS)
}

func checkInterval(field string, i Interval) error {
	if err := checkValue(field+".from", i.From, MaxDurationMs); err != nil {
		return err
	}
	return checkValue(field+".to", i.To, MaxDurationMs)
}

func checkValue(field string, n Number, limit float64) error {
	if n.Valid && math.Abs(n.Value) > limit {
		return &LimitError{Field: field, Value: n.Value, Limit: limit}
	}
	return nil
}
