package facade

import (
	_ "embed"
	"encoding/json"
	"net/http"

	"github.com/xregistry/xrbridge/internal/api/common"
	"github.com/xregistry/xrbridge/internal/xregistry"
)

//go:embed capabilities.json
var capabilitiesJSON []byte

// getModel handles GET /model — the group/resource model for this facade.
func (f *Facade) getModel(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, f.modelDocument(), http.StatusOK)
}

// getCapabilities handles GET /capabilities.
func (f *Facade) getCapabilities(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, f.capabilitiesDocument(), http.StatusOK)
}

// modelDocument describes the group and resource types this facade serves.
// The document is derived from configuration so renamed collections stay
// consistent with the routes.
func (f *Facade) modelDocument() xregistry.Document {
	return xregistry.Document{
		"groups": xregistry.Document{
			f.cfg.GroupPlural: xregistry.Document{
				"plural":   f.cfg.GroupPlural,
				"singular": f.cfg.GroupSingular,
				"resources": xregistry.Document{
					f.cfg.ResourcePlural: xregistry.Document{
						"plural":                  f.cfg.ResourcePlural,
						"singular":                f.cfg.ResourceSingular,
						"maxversions":             0,
						"setversionid":            false,
						"setdefaultversionsticky": false,
						"hasdocument":             false,
					},
				},
			},
		},
	}
}

// capabilitiesDocument returns the static capabilities advertised by every
// facade.
func (f *Facade) capabilitiesDocument() xregistry.Document {
	var doc xregistry.Document
	// The embedded document is a static file; a decode error is ignored and
	// leaves the returned document nil.
	_ = json.Unmarshal(capabilitiesJSON, &doc)
	return doc
}
