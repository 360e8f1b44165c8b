package binding

import (
	"bytes"
	"cmp"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"gopkg.in/yaml.v3"
)

// Catalog describes where provider builds can run and which host-to-host
// delegation routes exist.
type Catalog struct {
	Providers []CatalogProvider `json:"providers" yaml:"providers"`
	Routes    []Route           `json:"routes" yaml:"routes"`
}

// CatalogProvider lists the hosts a provider build supports.
type CatalogProvider struct {
	ProviderID      string   `json:"providerId" yaml:"providerId"`
	ProviderVersion string   `json:"providerVersion" yaml:"providerVersion"`
	Hosts           []string `json:"hosts" yaml:"hosts"`
}

// Route is a delegation path from one host to another.
type Route struct {
	ID   string `json:"id" yaml:"id"`
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Provider returns the catalog entry for a provider build.
func (c *Catalog) Provider(id, version string) (CatalogProvider, bool) {
	for _, p := range c.Providers {
		if p.ProviderID == id && p.ProviderVersion == version {
			return p, true
		}
	}
	return CatalogProvider{}, false
}

// Route returns the lexically first route id from -> to.
func (c *Catalog) Route(from, to string) (Route, bool) {
	var found []Route
	for _, r := range c.Routes {
		if r.From == from && r.To == to {
			found = append(found, r)
		}
	}
	if len(found) == 0 {
		return Route{}, false
	}
	slices.SortFunc(found, func(a, b Route) int { return cmp.Compare(a.ID, b.ID) })
	return found[0], true
}

// Validate checks host names and route uniqueness.
func (c *Catalog) Validate() error {
	for i, p := range c.Providers {
		if p.ProviderID == "" {
			return fmt.Errorf("providers[%d]: providerId is required", i)
		}
		if len(p.Hosts) == 0 {
			return fmt.Errorf("providers[%d]: hosts list is required and must be non-empty", i)
		}
		for _, h := range p.Hosts {
			if !ValidHosts[h] {
				return fmt.Errorf("providers[%d]: unknown host %q", i, h)
			}
		}
	}
	ids := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if r.ID == "" {
			return fmt.Errorf("routes[%d]: id is required", i)
		}
		if ids[r.ID] {
			return fmt.Errorf("routes[%d]: duplicate route id %q", i, r.ID)
		}
		ids[r.ID] = true
		if !ValidHosts[r.From] || !ValidHosts[r.To] {
			return fmt.Errorf("routes[%d]: unknown host in %q -> %q", i, r.From, r.To)
		}
	}
	return nil
}

// LoadCatalog reads a catalog from a YAML or JSON file. Unknown fields are
// rejected.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	var c Catalog
	if err := decodeStrict(path, data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}
	return &c, nil
}

func isYAML(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}

func decodeStrict(path string, data []byte, v any) error {
	if isYAML(path) {
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		return decoder.Decode(v)
	}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}
