package npm

import "encoding/json"

// Contact is an npm person field; packuments carry it as either an object
// or a bare string.
type Contact struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	URL   string `json:"url,omitempty"`
}

func (c *Contact) UnmarshalJSON(data []byte) error {
	var obj struct {
		Name  string `json:"name"`
		Email string `json:"email,omitempty"`
		URL   string `json:"url,omitempty"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		*c = Contact{Name: obj.Name, Email: obj.Email, URL: obj.URL}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = Contact{Name: s}
	return nil
}

// Repository handles both the object and legacy string forms.
type Repository struct {
	Type      string `json:"type,omitempty"`
	URL       string `json:"url"`
	Directory string `json:"directory,omitempty"`
}

func (r *Repository) UnmarshalJSON(data []byte) error {
	var obj struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		*r = Repository{Type: obj.Type, URL: obj.URL}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = Repository{URL: s}
	return nil
}

// Dist carries the artifact pointers of one release.
type Dist struct {
	Tarball   string `json:"tarball"`
	Shasum    string `json:"shasum,omitempty"`
	Integrity string `json:"integrity,omitempty"`
}

// Release is one version entry of a packument.
type Release struct {
	Name       string      `json:"name"`
	Version    string      `json:"version"`
	Dist       Dist        `json:"dist"`
	License    string      `json:"license,omitempty"`
	Deprecated string      `json:"deprecated,omitempty"`
	Homepage   string      `json:"homepage,omitempty"`
	Repository *Repository `json:"repository,omitempty"`
	Author     *Contact    `json:"author,omitempty"`
}

// Packument is the full package document served by the npm registry.
type Packument struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	DistTags    map[string]string  `json:"dist-tags,omitempty"`
	Versions    map[string]Release `json:"versions"`
	Time        map[string]string  `json:"time"`
	Keywords    []string           `json:"keywords,omitempty"`
	License     string             `json:"license,omitempty"`
	Homepage    string             `json:"homepage,omitempty"`
	Repository  *Repository        `json:"repository,omitempty"`
	Author      *Contact           `json:"author,omitempty"`
	Maintainers []Contact          `json:"maintainers,omitempty"`
}

// searchResponse is the shape of /-/v1/search.
type searchResponse struct {
	Objects []struct {
		Package struct {
			Name string `json:"name"`
		} `json:"package"`
	} `json:"objects"`
}

// allDocsResponse is the shape of the replicate _all_docs listing used to
// seed the name corpus.
type allDocsResponse struct {
	Rows []struct {
		ID string `json:"id"`
	} `json:"rows"`
}
