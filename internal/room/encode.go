package room

import "encoding/json"

// encodeLeaf marshals a single persist-cache value, including the
// delete sentinel (which marshals to the "$delete" marker via
// signal.Delete's MarshalJSON).
func encodeLeaf(v any) ([]byte, error) {
	return json.Marshal(v)
}
