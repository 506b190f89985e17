package upstream

import "encoding/json"

// Redecode converts a cached JSON value into a typed struct. Cached
// documents are stored decoded (map[string]any), so adapters round-trip
// through encoding to get their dialect types back.
func Redecode(doc any, out any) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}
