package design

import (
	"encoding/json"
	"fmt"
)

// Items is the merged items-and-details map keyed by item id.
type Items map[string]*Item

// Merge deep merges each track item with its detail record, detail values
// overriding item values and nested objects merging recursively. Items whose
// detail record is missing keep their base properties. Records that cannot be
// decoded into an Item degrade to their id, type and display window; the
// returned issues describe what was dropped.
func Merge(d *Design) (Items, []error) {
	if d == nil {
		return Items{}, nil
	}

	items := make(Items, len(d.TrackItemsMap))
	var issues []error
	for id, raw := range d.TrackItemsMap {
		base := decodeObject(raw)
		if detail, ok := d.TrackItemDetailsMap[id]; ok {
			deepMerge(base, decodeObject(detail))
		}
		if _, ok := base["id"]; !ok {
			base["id"] = id
		}

		item, err := decodeItem(id, base)
		if err != nil {
			issues = append(issues, err)
		}
		items[id] = item
	}
	return items, issues
}

// Get returns the item for id or nil.
func (it Items) Get(id string) *Item {
	if it == nil {
		return nil
	}
	return it[id]
}

func decodeObject(raw json.RawMessage) map[string]any {
	out := map[string]any{}
	if len(raw) == 0 {
		return out
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil || m == nil {
		return out
	}
	return m
}

func deepMerge(dst, src map[string]any) {
	for k, sv := range src {
		if sm, ok := sv.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				deepMerge(dm, sm)
				continue
			}
			cp := map[string]any{}
			deepMerge(cp, sm)
			dst[k] = cp
			continue
		}
		dst[k] = sv
	}
}

func decodeItem(id string, m map[string]any) (*Item, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return &Item{ID: id}, fmt.Errorf("item %s: %w", id, err)
	}

	var item Item
	decodeErr := json.Unmarshal(data, &item)
	if decodeErr == nil {
		item.ID = id
		return &item, nil
	}

	fallback := &Item{ID: id}
	if t, ok := m["type"].(string); ok {
		fallback.Type = t
	}
	if disp, ok := m["display"]; ok {
		if b, err := json.Marshal(disp); err == nil {
			_ = json.Unmarshal(b, &fallback.Display)
		}
	}
	return fallback, fmt.Errorf("item %s: %w", id, decodeErr)
}
