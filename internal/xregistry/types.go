// Package xregistry defines the registry document model shared by the
// bridge and every facade.
package xregistry

import "time"

const (
	// SpecVersion is the registry spec revision this server implements.
	SpecVersion = "1.0-rc2"

	// ContentType is declared on every JSON response.
	ContentType = "application/json; schema=https://xregistry.io/schemas/xregistry-v1.0-rc2.json"

	// VersionHeader is added to every response.
	VersionHeader = "xRegistry-Version"
)

// Document is one registry entity rendered as a JSON object. Attribute names
// are dynamic ("<group>id", "<resourcePlural>url"), so entities are maps
// rather than structs; facades enumerate the keys they copy.
type Document map[string]any

// Clone returns a shallow copy of the document.
func (d Document) Clone() Document {
	out := make(Document, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// FormatTime renders a timestamp the way registry documents carry them:
// ISO-8601 in UTC.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
