package audit

import "encoding/json"

// jsonOrNil marshals v for storage in a JSONB column, returning nil (and
// thus SQL NULL) on a marshal failure rather than propagating the error —
// the record's record_hash already binds the value that mattered.
func jsonOrNil(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

// unmarshalStrings decodes a JSON-as-text array column (e.g.
// actor_permissions, entity_ids) back into a string slice, tolerating a
// NULL/empty column by returning nil rather than an error.
func unmarshalStrings(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var out []string
	_ = json.Unmarshal(raw, &out)
	return out
}

// unmarshalJSONMap decodes a JSON-as-text object column (context,
// decision, outcome) back into a map, tolerating a NULL/empty column.
func unmarshalJSONMap(raw []byte) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	m := map[string]interface{}{}
	_ = json.Unmarshal(raw, &m)
	return m
}
