package transform

import "encoding/json"

// UnknownFields returns the top-level members of a JSON object that are not
// in the known set. The result feeds the vendor-escape map so that fields
// with no canonical counterpart survive a same-vendor round trip.
func UnknownFields(data []byte, known ...string) (map[string]any, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	knownSet := make(map[string]struct{}, len(known))
	for _, k := range known {
		knownSet[k] = struct{}{}
	}

	var out map[string]any

	for key, value := range raw {
		if _, ok := knownSet[key]; ok {
			continue
		}

		var decoded any
		if err := json.Unmarshal(value, &decoded); err != nil {
			continue
		}

		if out == nil {
			out = make(map[string]any)
		}

		out[key] = decoded
	}

	return out, nil
}

// MergeExtra re-attaches escaped vendor fields to a serialized payload.
// Fields already present in the payload win over escaped ones.
func MergeExtra(payload []byte, extra map[string]any) ([]byte, error) {
	if len(extra) == 0 {
		return payload, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, err
	}

	for key, value := range extra {
		if _, exists := obj[key]; !exists {
			obj[key] = value
		}
	}

	return json.Marshal(obj)
}
